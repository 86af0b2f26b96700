package quote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleQuote = `{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","inAmount":"100000000","outAmount":"15000000","otherAmountThreshold":"14925000","slippageBps":100,"priceImpactPct":"0","routePlan":[{"percent":100}]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQuote_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "So11111111111111111111111111111111111111112", q.Get("inputMint"))
		assert.Equal(t, "100000000", q.Get("amount"))
		assert.Equal(t, "100", q.Get("slippageBps"))
		assert.Equal(t, "false", q.Get("onlyDirectRoutes"))
		assert.Equal(t, "false", q.Get("asLegacyTransaction"))
		w.Write([]byte(sampleQuote))
	}))
	defer server.Close()

	c := NewClient([]string{server.URL + "/"}, fastPolicy(3), nil, testLogger(), nil)
	q, err := c.Quote(context.Background(), QuoteRequest{
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:      100_000_000,
		SlippageBps: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), q.InAmountUnits())
	assert.Equal(t, uint64(15_000_000), q.OutAmountUnits())
	assert.InDelta(t, 100.0/15.0, q.EntryPrice(), 1e-9)
	assert.JSONEq(t, sampleQuote, string(q.Raw))
}

func TestQuote_RateLimitedTwiceThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		w.Write([]byte(sampleQuote))
	}))
	defer server.Close()

	c := NewClient([]string{server.URL}, fastPolicy(3), nil, testLogger(), nil)
	q, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: 1})

	require.NoError(t, err)
	assert.Equal(t, "15000000", q.OutAmount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQuote_TerminalErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route"}`))
	}))
	defer server.Close()

	c := NewClient([]string{server.URL}, fastPolicy(3), nil, testLogger(), nil)
	_, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: 1})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "Could not find any route")
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuote_DNSFailureSwitchesEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleQuote))
	}))
	defer server.Close()

	// no proxy, so the lookup of the first host fails locally
	direct := &http.Client{Transport: &http.Transport{}}
	c := NewClient([]string{"http://quote-api.solmirror-test.invalid", server.URL}, fastPolicy(3), direct, testLogger(), nil)
	q, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: 1})

	require.NoError(t, err)
	assert.NotNil(t, q)
	assert.Equal(t, server.URL, c.BaseURL())
}

func TestQuote_MissingOutAmountIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inAmount":"1"}`))
	}))
	defer server.Close()

	c := NewClient([]string{server.URL}, fastPolicy(3), nil, testLogger(), nil)
	_, err := c.Quote(context.Background(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: 1})
	assert.Equal(t, KindTerminal, Classify(err))
}

func TestSwapTransaction_RequestBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/swap", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "FoLLowER", body["userPublicKey"])
		assert.Equal(t, true, body["wrapAndUnwrapSol"])
		assert.Equal(t, true, body["dynamicComputeUnitLimit"])
		assert.Equal(t, float64(100000), body["prioritizationFeeLamports"])

		quote, ok := body["quoteResponse"].(map[string]any)
		require.True(t, ok)
		// the route plan is echoed back untouched
		assert.NotNil(t, quote["routePlan"])

		w.Write([]byte(`{"swapTransaction":"AQID"}`))
	}))
	defer server.Close()

	c := NewClient([]string{server.URL}, fastPolicy(3), nil, testLogger(), nil)
	q := &Quote{OutAmount: "1", Raw: []byte(sampleQuote)}

	tx, err := c.SwapTransaction(context.Background(), q, "FoLLowER", 100000)
	require.NoError(t, err)
	assert.Equal(t, "AQID", tx)
}

func TestQuotePrices(t *testing.T) {
	q := &Quote{InAmount: "200", OutAmount: "50"}
	assert.Equal(t, 4.0, q.EntryPrice())
	assert.Equal(t, 0.25, q.ExitPrice())

	empty := &Quote{InAmount: "10", OutAmount: "0"}
	assert.Zero(t, empty.EntryPrice())
}
