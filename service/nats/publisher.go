package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/mirror"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes mirror events to NATS.
type Publisher interface {
	// PublishTrade publishes to "mirror.trades.{master_wallet}".
	PublishTrade(ctx context.Context, event *TradeEvent) error

	// PublishStatsEvent publishes to "mirror.stats".
	PublishStatsEvent(ctx context.Context, event *StatsEvent) error

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the JetStream stream holding every mirror event.
	StreamName = "MIRROR"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "mirror.>"

	// TradeSubjectPrefix prefixes per-master trade subjects.
	TradeSubjectPrefix = "mirror.trades"

	// StatsSubject carries statistics snapshots.
	StatsSubject = "mirror.stats"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// TradeSubject is the subject for a master's trade events. An empty master
// yields the wildcard over all masters.
func TradeSubject(master string) string {
	if master == "" {
		return TradeSubjectPrefix + ".*"
	}
	return TradeSubjectPrefix + "." + master
}

// Connect dials NATS with unlimited reconnects.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes mirror events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "solmirror-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the JetStream stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Mirrored trade outcomes and engine statistics",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishTrade publishes one trade event.
func (p *JetStreamPublisher) PublishTrade(ctx context.Context, event *TradeEvent) error {
	subject := TradeSubject(event.MasterWallet)
	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish trade event: %w", err)
	}

	p.logger.DebugContext(ctx, "published trade event",
		"subject", subject,
		"master_signature", event.MasterSignature,
		"state", event.State,
	)
	return nil
}

// PublishStatsEvent publishes one statistics snapshot.
func (p *JetStreamPublisher) PublishStatsEvent(ctx context.Context, event *StatsEvent) error {
	if err := p.publish(ctx, StatsSubject, event); err != nil {
		return fmt.Errorf("failed to publish stats event: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// Sink adapts a Publisher to the engine's outcome and stats sinks.
type Sink struct {
	pub    Publisher
	master string
}

// NewSink returns a sink that tags events with master.
func NewSink(pub Publisher, master string) *Sink {
	return &Sink{pub: pub, master: master}
}

// PublishOutcome publishes the outcome as a TradeEvent.
func (s *Sink) PublishOutcome(ctx context.Context, o mirror.Outcome) error {
	return s.pub.PublishTrade(ctx, FromOutcome(s.master, o))
}

// PublishStats publishes the snapshot as a StatsEvent.
func (s *Sink) PublishStats(ctx context.Context, st mirror.Stats) error {
	return s.pub.PublishStatsEvent(ctx, FromStats(s.master, st))
}
