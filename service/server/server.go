package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the read-only query API over the ledger and engine statistics.
type Server struct {
	addr    string
	ledger  LedgerReader
	stats   StatsSource
	stream  TradeStream
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server

	// KeepaliveInterval spaces SSE keepalive comments.
	KeepaliveInterval time.Duration
}

// New creates the query server. stream is optional; without it the SSE
// endpoints are not registered. m is optional; without it /metrics is not
// served and requests are not recorded.
func New(addr string, l LedgerReader, stats StatsSource, stream TradeStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:              addr,
		ledger:            l,
		stats:             stats,
		stream:            stream,
		metrics:           m,
		logger:            logger,
		KeepaliveInterval: 10 * time.Second,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/stats", "/api/v1/stats", handleStats(s.stats))
	route("GET /api/v1/pnl", "/api/v1/pnl", handlePnL(s.ledger, s.logger))
	route("GET /api/v1/latency", "/api/v1/latency", handleLatency(s.ledger))
	route("GET /api/v1/durations", "/api/v1/durations", handleDurations(s.ledger))
	route("GET /api/v1/trades", "/api/v1/trades", handleListTrades(s.ledger, s.logger))
	route("GET /api/v1/failed", "/api/v1/failed", handleListFailed(s.ledger))
	route("GET /api/v1/errors", "/api/v1/errors", handleListErrors(s.ledger))

	// SSE streaming endpoints (if a trade stream is configured)
	if s.stream != nil {
		sse := handleStreamTrades(s.stream, s.KeepaliveInterval, s.logger, s.metrics)
		route("GET /api/v1/stream/trades/{master}", "/api/v1/stream/trades", sse)
		route("GET /api/v1/stream/trades", "/api/v1/stream/trades", sse)
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("trade stream not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: SSE responses are long-lived
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
