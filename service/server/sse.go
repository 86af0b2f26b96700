package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	natspkg "github.com/brojonat/solmirror/service/nats"
)

// TradeStream delivers published trade events. *nats.Subscriber implements it.
type TradeStream interface {
	Subscribe(ctx context.Context, subject string, fn func(data []byte)) (func(), error)
}

// handleStreamTrades streams trade events as Server-Sent Events.
// If the master path parameter is empty, events of every master are sent.
func handleStreamTrades(stream TradeStream, keepaliveEvery time.Duration, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		master := r.PathValue("master")
		subject := natspkg.TradeSubject(master)
		masterDesc := master
		if master == "" {
			masterDesc = "all masters"
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}

		// Buffered so a slow client drops nothing until the buffer fills.
		msgChan := make(chan []byte, 10)
		stop, err := stream.Subscribe(r.Context(), subject, func(data []byte) {
			select {
			case msgChan <- data:
			case <-r.Context().Done():
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to subscribe",
				"master", masterDesc,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			flush()
			return
		}
		defer stop()

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"master", masterDesc,
			"remote_addr", r.RemoteAddr,
		)

		connected, _ := json.Marshal(map[string]string{"master": masterDesc})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flush()

		keepalive := time.NewTicker(keepaliveEvery)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case data := <-msgChan:
				var event natspkg.TradeEvent
				if err := json.Unmarshal(data, &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event", "error", err)
					continue
				}

				fmt.Fprintf(w, "event: trade\ndata: %s\n\n", data)
				flush()
				if m != nil {
					m.RecordSSEEventSent("trade")
				}

				logger.DebugContext(r.Context(), "sent trade event",
					"master", event.MasterWallet,
					"master_signature", event.MasterSignature,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"master", masterDesc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
