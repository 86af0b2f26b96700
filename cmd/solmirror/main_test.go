package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/solmirror/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMaster = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testBonk   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	testJup    = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// runApp runs the CLI with args and returns what it wrote.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"solmirror"}, args...))
	return out.String(), err
}

// seedEntry is within the PnL windows of the real clock; both trades fall
// in its hour.
var seedEntry = time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Hour)

// seedLedgerFile writes a ledger with one closed buy, one open buy, a
// rejected trade and an error.
func seedLedgerFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.json")
	ctx := context.Background()

	book, err := ledger.Open(ctx, ledger.NewFileStore(path, 0), 0, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, err)

	entry := seedEntry
	closed, err := book.AddSuccess(ctx, ledger.NewTrade{
		Timestamp:  entry,
		Signature:  "sig-closed",
		TokenIn:    "So11111111111111111111111111111111111111112",
		TokenOut:   testBonk,
		AmountIn:   1,
		EntryPrice: 20,
		IsBuy:      true,
		LatencyMs:  400,
	})
	require.NoError(t, err)
	_, err = book.CloseTrade(ctx, closed.ID, 22, entry.Add(2*time.Minute))
	require.NoError(t, err)

	_, err = book.AddSuccess(ctx, ledger.NewTrade{
		Timestamp: entry.Add(30 * time.Minute),
		Signature: "sig-open",
		TokenIn:   "So11111111111111111111111111111111111111112",
		TokenOut:  testBonk,
		AmountIn:  0.5,
		IsBuy:     true,
		LatencyMs: 200,
	})
	require.NoError(t, err)

	_, err = book.AddFailed(ctx, ledger.FailedTrade{
		Reason:          "insufficient balance",
		MasterSignature: "master-sig",
		MasterAmount:    3,
	})
	require.NoError(t, err)

	_, err = book.AddError(ctx, "lookup quote-api.jup.ag: no such host", "dns", "DNS resolution failed for the upstream host", nil)
	require.NoError(t, err)
	_, err = book.AddError(ctx, "status 500", "api", "aggregator rejected the quote request", nil)
	require.NoError(t, err)

	require.NoError(t, book.Close())
	return path
}

func TestWriteOutput(t *testing.T) {
	v := map[string]interface{}{"trades": []int{1, 2, 3}, "count": 3}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "", v))
	assert.JSONEq(t, `{"trades":[1,2,3],"count":3}`, buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, ".trades[]", v))
	assert.Equal(t, "1\n2\n3\n", buf.String())

	buf.Reset()
	err := writeOutput(&buf, ".trades[", v)
	assert.Error(t, err)

	buf.Reset()
	err = writeOutput(&buf, `error("boom")`, v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPassesFilters(t *testing.T) {
	filters, err := compileFilters([]string{`.state == "failed"`, `.latency_ms > 100`})
	require.NoError(t, err)

	assert.True(t, passesFilters(filters, []byte(`{"state":"failed","latency_ms":250}`)))
	assert.False(t, passesFilters(filters, []byte(`{"state":"confirmed","latency_ms":250}`)))
	assert.False(t, passesFilters(filters, []byte(`{"state":"failed","latency_ms":50}`)))
	assert.False(t, passesFilters(filters, []byte(`not json`)))
	assert.True(t, passesFilters(nil, []byte(`not json`)))
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]interface{}{}))
}

func TestLedgerTrades(t *testing.T) {
	path := seedLedgerFile(t)

	out, err := runApp(t, "--ledger-path", path, "ledger", "trades")
	require.NoError(t, err)
	assert.Contains(t, out, "TOKEN IN")
	assert.Contains(t, out, "2.000000") // realized pnl of the closed buy
	assert.Equal(t, 3, strings.Count(out, "\n"))

	out, err = runApp(t, "--ledger-path", path, "--jq", "[.[] | .signature]", "ledger", "trades", "--open")
	require.NoError(t, err)
	assert.JSONEq(t, `["sig-open"]`, out)

	out, err = runApp(t, "--ledger-path", path, "--jq", "length", "ledger", "trades", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestLedgerPnL(t *testing.T) {
	path := seedLedgerFile(t)

	out, err := runApp(t, "--ledger-path", path, "--json", "ledger", "pnl", "--period", "total")
	require.NoError(t, err)
	var total ledger.TotalPnL
	require.NoError(t, json.Unmarshal([]byte(out), &total))
	assert.Equal(t, 2, total.TotalTrades)
	assert.Equal(t, 2.0, total.NetPnL)

	day := seedEntry.Format("2006-01-02")
	out, err = runApp(t, "--ledger-path", path, "--jq", `.["`+day+`"].trades`, "ledger", "pnl", "--period", "day")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = runApp(t, "--ledger-path", path, "ledger", "pnl", "--period", "hour")
	require.NoError(t, err)
	assert.Contains(t, out, seedEntry.Format("2006-01-02 15:00"))

	_, err = runApp(t, "--ledger-path", path, "ledger", "pnl", "--period", "month")
	assert.Error(t, err)
}

func TestLedgerDurationsAndLatency(t *testing.T) {
	path := seedLedgerFile(t)

	out, err := runApp(t, "--ledger-path", path, "--jq", ".average_duration", "ledger", "durations")
	require.NoError(t, err)
	assert.Equal(t, "120\n", out)

	out, err = runApp(t, "--ledger-path", path, "--jq", ".all_time", "ledger", "latency")
	require.NoError(t, err)
	assert.Equal(t, "300\n", out)

	out, err = runApp(t, "--ledger-path", path, "ledger", "durations")
	require.NoError(t, err)
	assert.Contains(t, out, "2m0s")
}

func TestLedgerFailedAndErrors(t *testing.T) {
	path := seedLedgerFile(t)

	out, err := runApp(t, "--ledger-path", path, "ledger", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "insufficient balance")

	out, err = runApp(t, "--ledger-path", path, "--jq", "[.[] | .errorType]", "ledger", "errors", "--type", "dns")
	require.NoError(t, err)
	assert.JSONEq(t, `["dns"]`, out)
}

func TestLedger_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.json")
	out, err := runApp(t, "--ledger-path", path, "--jq", "length", "ledger", "trades")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestLedger_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := runApp(t, "--ledger-path", path, "ledger", "trades")
	assert.Error(t, err)
}

func TestLedger_UnknownBackend(t *testing.T) {
	_, err := runApp(t, "--ledger-backend", "sqlite", "ledger", "trades")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ledger backend")
}

func TestDecodeFromFile(t *testing.T) {
	frame := `{"signature":"s1","accountKeys":["` + testMaster + `","ata","` + testJup + `"],
		"instructions":[{"programIdIndex":2,"accounts":[0,1]}],
		"meta":{"err":null,"preBalances":[2000000000,0,1],"postBalances":[1000000000,0,1],
		"preTokenBalances":[],
		"postTokenBalances":[{"accountIndex":1,"mint":"` + testBonk + `","uiTokenAmount":{"uiAmount":50,"amount":"50000","decimals":3}}]}}`
	path := filepath.Join(t.TempDir(), "frame.json")
	require.NoError(t, os.WriteFile(path, []byte(frame), 0o644))

	out, err := runApp(t, "--json", "decode", "--file", path)
	require.NoError(t, err)

	var result decodeResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Decoded)
	require.NotNil(t, result.Intent)
	assert.True(t, result.Intent.IsBuy)
	assert.Equal(t, testBonk, result.Intent.TokenOut)
	assert.Equal(t, 1.0, result.Intent.AmountIn)

	out, err = runApp(t, "decode", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Side:       BUY")
}

func TestDecode_RequiresInput(t *testing.T) {
	_, err := runApp(t, "decode")
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "100000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "50", r.URL.Query().Get("slippageBps"))
		fmt.Fprint(w, `{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"`+testBonk+`","inAmount":"100000000","outAmount":"5000000","otherAmountThreshold":"4975000","slippageBps":50,"priceImpactPct":"0.01"}`)
	}))
	defer server.Close()

	out, err := runApp(t, "--quote-url", server.URL, "--jq", ".outAmount", "quote", "--out", testBonk, "--amount", "0.1", "--slippage-bps", "50")
	require.NoError(t, err)
	assert.Equal(t, "\"5000000\"\n", out)
}

func TestQuote_RejectsBadAmount(t *testing.T) {
	_, err := runApp(t, "quote", "--out", testBonk, "--amount", "0")
	assert.Error(t, err)
}

func TestFees(t *testing.T) {
	out, err := runApp(t, "--json", "fees", "--slippage", "1", "--tips", "0.001", "--fee-buffer", "0", "--amount", "1")
	require.NoError(t, err)

	var result struct {
		Model struct {
			SlippageBps         int    `json:"slippage_bps"`
			PriorityFeeLamports uint64 `json:"priority_fee_lamports"`
		} `json:"model"`
		Breakdown *struct {
			Amount float64 `json:"amount"`
		} `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 100, result.Model.SlippageBps)
	assert.Equal(t, uint64(1_000_000), result.Model.PriorityFeeLamports)
	require.NotNil(t, result.Breakdown)
	assert.Equal(t, 1.0, result.Breakdown.Amount)
}

func TestClientStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stats", r.URL.Path)
		fmt.Fprint(w, `{"total_copies":4,"successful_copies":3,"failed_copies":1,"skipped_records":7,"avg_latency_ms":250}`)
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "client", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Successful:      3 (75.0%)")
	assert.Contains(t, out, "Last trade:      never")

	out, err = runApp(t, "--server-url", server.URL, "--jq", ".skipped_records", "client", "stats")
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestClientAwait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/trades", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
		fmt.Fprint(w, "event: trade\ndata: {\"master_signature\":\"other\",\"state\":\"confirmed\"}\n\n")
		fmt.Fprint(w, "event: trade\ndata: {\"master_signature\":\"want\",\"state\":\"failed\",\"reason\":\"insufficient balance\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--jq", ".reason", "client", "await", "--timeout", "5s", "want")
	require.NoError(t, err)
	assert.Equal(t, "\"insufficient balance\"\n", out)
}

func TestServerHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")

	server.Close()
	_, err = runApp(t, "--server-url", server.URL, "server", "health")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
}
