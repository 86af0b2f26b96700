package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/solmirror/service/ledger"
	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/mirror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubLedger struct {
	lastLimit int
	lastPer   ledger.Period
}

func (s *stubLedger) PnL(period ledger.Period) map[string]ledger.PnLGroup {
	s.lastPer = period
	return map[string]ledger.PnLGroup{
		"2025-06-10": {Trades: 3, Profit: 2, Loss: 1, NetPnL: 1},
	}
}

func (s *stubLedger) TotalPnL() ledger.TotalPnL {
	return ledger.TotalPnL{TotalTrades: 6, TotalProfit: 11, TotalLoss: 7, NetPnL: 4, ROI: 40}
}

func (s *stubLedger) LatencyAverages() ledger.LatencyAverages {
	return ledger.LatencyAverages{OneMinute: 100, AllTime: 600}
}

func (s *stubLedger) DurationStats() ledger.DurationStats {
	return ledger.DurationStats{Average: 108, Shortest: 60, Longest: 240, Recent: []float64{60, 240}}
}

func (s *stubLedger) Trades(limit int) []ledger.Trade {
	s.lastLimit = limit
	return []ledger.Trade{{ID: "t1", Signature: "sig-1", Timestamp: testNow, IsBuy: true}}
}

func (s *stubLedger) FailedTrades(limit int) []ledger.FailedTrade {
	s.lastLimit = limit
	return []ledger.FailedTrade{{Reason: "insufficient balance", MasterSignature: "m1"}}
}

func (s *stubLedger) Errors(limit int) []ledger.ErrorRecord {
	s.lastLimit = limit
	return []ledger.ErrorRecord{{Message: "boom", Type: "dns"}}
}

type stubStats mirror.Stats

func (s stubStats) Stats() mirror.Stats { return mirror.Stats(s) }

// fakeStream hands the subscriber callback to the test.
type fakeStream struct {
	mu       sync.Mutex
	subject  string
	fn       func([]byte)
	stopped  bool
	err      error
	ready    chan struct{}
	readyOne sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{ready: make(chan struct{})}
}

func (f *fakeStream) Subscribe(ctx context.Context, subject string, fn func(data []byte)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.subject = subject
	f.fn = fn
	f.mu.Unlock()
	f.readyOne.Do(func() { close(f.ready) })
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stopped = true
	}, nil
}

func (f *fakeStream) deliver(data string) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn([]byte(data))
}

func newTestServer(l LedgerReader, stream TradeStream, m *metrics.Metrics) *Server {
	stats := stubStats{TotalCopies: 4, SuccessfulCopies: 3, FailedCopies: 1, AvgLatencyMs: 250}
	return New(":0", l, stats, stream, m, testLogger())
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(&stubLedger{}, nil, nil).Handler()
	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStats(t *testing.T) {
	h := newTestServer(&stubLedger{}, nil, nil).Handler()
	rec := get(t, h, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got mirror.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.TotalCopies)
	assert.Equal(t, 250.0, got.AvgLatencyMs)
}

func TestPnL(t *testing.T) {
	l := &stubLedger{}
	h := newTestServer(l, nil, nil).Handler()

	t.Run("grouped", func(t *testing.T) {
		rec := get(t, h, "/api/v1/pnl?period=week")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ledger.PeriodWeek, l.lastPer)

		var body struct {
			Period string                     `json:"period"`
			Groups map[string]ledger.PnLGroup `json:"groups"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "week", body.Period)
		assert.Equal(t, 1.0, body.Groups["2025-06-10"].NetPnL)
	})

	t.Run("defaults to day", func(t *testing.T) {
		rec := get(t, h, "/api/v1/pnl")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ledger.PeriodDay, l.lastPer)
	})

	t.Run("total", func(t *testing.T) {
		rec := get(t, h, "/api/v1/pnl?period=total")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"roi":40`)
		assert.Contains(t, rec.Body.String(), `"total_trades":6`)
	})

	t.Run("invalid", func(t *testing.T) {
		rec := get(t, h, "/api/v1/pnl?period=month")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid period")
	})
}

func TestLatencyAndDurations(t *testing.T) {
	h := newTestServer(&stubLedger{}, nil, nil).Handler()

	rec := get(t, h, "/api/v1/latency")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"1min":100`)
	assert.Contains(t, rec.Body.String(), `"all_time":600`)

	rec = get(t, h, "/api/v1/durations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"average_duration":108`)
}

func TestListEndpoints(t *testing.T) {
	l := &stubLedger{}
	h := newTestServer(l, nil, nil).Handler()

	tests := []struct {
		target    string
		key       string
		wantLimit int
	}{
		{"/api/v1/trades", "trades", defaultListLimit},
		{"/api/v1/trades?limit=5", "trades", 5},
		{"/api/v1/failed?limit=10", "failed_trades", 10},
		{"/api/v1/errors", "errors", defaultListLimit},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, h, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body, tt.key)
			assert.JSONEq(t, "1", string(body["count"]))
			assert.Equal(t, tt.wantLimit, l.lastLimit)
		})
	}
}

func TestListEndpoints_InvalidLimit(t *testing.T) {
	h := newTestServer(&stubLedger{}, nil, nil).Handler()

	for _, target := range []string{
		"/api/v1/trades?limit=abc",
		"/api/v1/failed?limit=0",
		"/api/v1/errors?limit=5000",
	} {
		rec := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "limit", target)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&stubLedger{}, nil, nil).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamRoutesDisabledWithoutStream(t *testing.T) {
	h := newTestServer(&stubLedger{}, nil, nil).Handler()
	rec := get(t, h, "/api/v1/stream/trades")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := newTestServer(&stubLedger{}, nil, m).Handler()

	get(t, h, "/api/v1/stats")
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// readEvent reads one SSE event, skipping keepalive comments.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamTrades(t *testing.T) {
	stream := newFakeStream()
	srv := newTestServer(&stubLedger{}, stream, nil)
	srv.KeepaliveInterval = 20 * time.Millisecond
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream/trades/master-wallet", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)

	event, data := readEvent(t, r)
	assert.Equal(t, "connected", event)
	assert.JSONEq(t, `{"master":"master-wallet"}`, data)

	<-stream.ready
	assert.Equal(t, "mirror.trades.master-wallet", stream.subject)

	stream.deliver(`not json`)
	stream.deliver(`{"master_wallet":"master-wallet","master_signature":"sig-1","state":"confirmed"}`)

	event, data = readEvent(t, r)
	assert.Equal(t, "trade", event)
	assert.Contains(t, data, `"master_signature":"sig-1"`)
}

func TestStreamTrades_AllMasters(t *testing.T) {
	stream := newFakeStream()
	ts := httptest.NewServer(newTestServer(&stubLedger{}, stream, nil).Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream/trades", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	event, _ := readEvent(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "connected", event)
	<-stream.ready
	assert.Equal(t, "mirror.trades.*", stream.subject)
}

func TestStreamTrades_SubscribeFailure(t *testing.T) {
	stream := newFakeStream()
	stream.err = errors.New("nats down")
	h := newTestServer(&stubLedger{}, stream, nil).Handler()

	rec := get(t, h, "/api/v1/stream/trades")
	assert.Contains(t, rec.Body.String(), "event: error")
}
