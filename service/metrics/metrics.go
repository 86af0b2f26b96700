package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the mirror.
// The struct is passed explicitly to every component that records metrics;
// a nil *Metrics is valid at call sites that guard with `if m != nil`.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Feed Metrics
	feedRecordsTotal *prometheus.CounterVec
	feedDroppedTotal *prometheus.CounterVec
	feedModeSwitches *prometheus.CounterVec
	feedStreamFrames *prometheus.CounterVec

	// Decoder Metrics
	decodeResultsTotal *prometheus.CounterVec

	// Aggregator Metrics
	quoteCallsTotal   *prometheus.CounterVec
	quoteCallDuration *prometheus.HistogramVec
	quoteRetries      *prometheus.CounterVec

	// Pipeline Metrics
	pipelineOutcomesTotal *prometheus.CounterVec
	pipelineLatency       *prometheus.HistogramVec

	// Ledger Metrics
	ledgerWritesTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		feedRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_records_total",
				Help: "Raw transaction records emitted by the feed watcher",
			},
			[]string{"source"},
		),
		feedDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_records_dropped_total",
				Help: "Records dropped before emission",
			},
			[]string{"reason"},
		),
		feedModeSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_mode_switches_total",
				Help: "Transitions between stream and poll modes",
			},
			[]string{"mode"},
		),
		feedStreamFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_stream_frames_total",
				Help: "Frames received on the streaming subscription by type",
			},
			[]string{"type"},
		),

		decodeResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_results_total",
				Help: "Decoder outcomes by winning strategy (or miss)",
			},
			[]string{"strategy"},
		),

		quoteCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_calls_total",
				Help: "Aggregator API calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		quoteCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aggregator_call_duration_seconds",
				Help:    "Duration of aggregator API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		quoteRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_retries_total",
				Help: "Aggregator retry attempts by operation and error kind",
			},
			[]string{"operation", "kind"},
		),

		pipelineOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_outcomes_total",
				Help: "Terminal pipeline states per record",
			},
			[]string{"state"},
		),
		pipelineLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_latency_milliseconds",
				Help:    "Receipt-to-terminal latency of mirrored trades",
				Buckets: []float64{50, 100, 150, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"state"},
		),

		ledgerWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_writes_total",
				Help: "Ledger mutations by record kind and status",
			},
			[]string{"kind", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of open SSE trade streams",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC Metrics Helpers

// RecordRPCCall records a Solana RPC call with its duration and status.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a 429 from an RPC endpoint.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Feed Metrics Helpers

// RecordFeedRecord counts a record emitted from "stream" or "poll".
func (m *Metrics) RecordFeedRecord(source string) {
	m.feedRecordsTotal.WithLabelValues(source).Inc()
}

// RecordFeedDropped counts a record dropped before emission.
func (m *Metrics) RecordFeedDropped(reason string) {
	m.feedDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordFeedMode counts a switch into the given mode.
func (m *Metrics) RecordFeedMode(mode string) {
	m.feedModeSwitches.WithLabelValues(mode).Inc()
}

// RecordStreamFrame counts a received frame by its type.
func (m *Metrics) RecordStreamFrame(frameType string) {
	m.feedStreamFrames.WithLabelValues(frameType).Inc()
}

// RecordDecode records which strategy decoded a record ("none" for a miss).
func (m *Metrics) RecordDecode(strategy string) {
	m.decodeResultsTotal.WithLabelValues(strategy).Inc()
}

// Aggregator Metrics Helpers

// RecordQuoteCall records one aggregator HTTP call.
func (m *Metrics) RecordQuoteCall(operation, status string, duration float64) {
	m.quoteCallsTotal.WithLabelValues(operation, status).Inc()
	m.quoteCallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordQuoteRetry records a retried aggregator call.
func (m *Metrics) RecordQuoteRetry(operation, kind string) {
	m.quoteRetries.WithLabelValues(operation, kind).Inc()
}

// Pipeline Metrics Helpers

// RecordOutcome records a terminal state and, for non-skipped records, its latency.
func (m *Metrics) RecordOutcome(state string, latencyMs float64) {
	m.pipelineOutcomesTotal.WithLabelValues(state).Inc()
	if latencyMs > 0 {
		m.pipelineLatency.WithLabelValues(state).Observe(latencyMs)
	}
}

// RecordLedgerWrite records a ledger mutation.
func (m *Metrics) RecordLedgerWrite(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ledgerWritesTotal.WithLabelValues(kind, status).Inc()
}

// HTTP Metrics Helpers

// RecordHTTPRequest records an HTTP request with its duration and status.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// RecordSSEConnectionChange records SSE connection opens (+1) and closes (-1).
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS Metrics Helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
