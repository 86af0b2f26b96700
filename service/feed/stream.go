// Package feed watches the master wallet and delivers its transactions as
// raw records: a websocket subscription first, polling as the fallback.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/solana"
	"github.com/gorilla/websocket"
)

// Frame types sent by the feed server.
const (
	FrameTransaction = "transaction"
	FrameAccount     = "account"
	FrameSlot        = "slot"
	FramePing        = "ping"
	FramePong        = "pong"
)

// StreamConfig configures the streaming subscription.
type StreamConfig struct {
	// Endpoint is the websocket URL; empty disables streaming.
	Endpoint string
	// Token is sent in the x-token header.
	Token string
	// Commitment requested in the subscribe message.
	Commitment string
	// PingInterval is the keepalive cadence.
	PingInterval time.Duration
	// ReadTimeout bounds the silence tolerated between frames.
	ReadTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
}

// DefaultStreamConfig returns the default timings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Commitment:       "confirmed",
		PingInterval:     30 * time.Second,
		ReadTimeout:      90 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	Accounts   []string `json:"accounts"`
	Commitment string   `json:"commitment"`
}

type controlFrame struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

type streamFrame struct {
	Type        string                    `json:"type"`
	ID          uint64                    `json:"id,omitempty"`
	Slot        uint64                    `json:"slot,omitempty"`
	Transaction *solana.StreamTransaction `json:"transaction,omitempty"`
}

// Stream is one subscription session on the feed.
type Stream struct {
	conn    *websocket.Conn
	cfg     StreamConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	writeMu sync.Mutex
	pingID  atomic.Uint64
	closed  atomic.Bool
}

// DialStream connects to the feed and subscribes to transactions touching
// account.
func DialStream(ctx context.Context, cfg StreamConfig, account string, logger *slog.Logger, m *metrics.Metrics) (*Stream, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("x-token", cfg.Token)
	}

	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	s := &Stream{
		conn:    conn,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}

	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	if err := s.write(subscribeRequest{
		Type:       "subscribe",
		Accounts:   []string{account},
		Commitment: commitment,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	logger.InfoContext(ctx, "subscribed to feed",
		"endpoint", cfg.Endpoint,
		"account", account,
	)
	return s, nil
}

// Run reads frames until the connection fails or ctx is cancelled, handing
// every transaction frame to emit. It always returns a non-nil error.
func (s *Stream) Run(ctx context.Context, emit func(context.Context, *solana.Record) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-runCtx.Done()
		s.Close()
	}()
	go s.pingLoop(runCtx)

	for {
		if s.cfg.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read: %w", err)
		}

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.WarnContext(ctx, "ignoring malformed frame", "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordStreamFrame(frame.Type)
		}

		switch frame.Type {
		case FrameTransaction:
			if frame.Transaction == nil {
				continue
			}
			rec := &solana.Record{
				Signature:  frame.Transaction.Signature,
				Slot:       frame.Slot,
				Source:     solana.SourceStream,
				ReceivedAt: time.Now(),
				Stream:     frame.Transaction,
				Raw:        message,
			}
			if err := emit(ctx, rec); err != nil {
				return err
			}
		case FramePing:
			if err := s.write(controlFrame{Type: FramePong, ID: frame.ID}); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}
		case FramePong, FrameSlot, FrameAccount:
		default:
			s.logger.DebugContext(ctx, "ignoring unknown frame", "type", frame.Type)
		}
	}
}

// Close closes the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Stream) pingLoop(ctx context.Context) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(controlFrame{Type: FramePing, ID: s.pingID.Add(1)}); err != nil {
				// the read loop sees the broken connection
				s.logger.DebugContext(ctx, "ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteJSON(v)
}
