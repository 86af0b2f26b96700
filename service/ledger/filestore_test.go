package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_ReloadReproducesAggregates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	ctx := context.Background()

	before := openTestLedger(t, path)
	seedLedger(t, before)
	_, err := before.AddFailed(ctx, FailedTrade{Reason: "insufficient balance", MasterAmount: 3})
	require.NoError(t, err)
	_, err = before.AddError(ctx, "boom", "rpc", "node unavailable", nil)
	require.NoError(t, err)

	after := openTestLedger(t, path)

	for _, p := range []Period{PeriodHour, PeriodDay, PeriodWeek, PeriodTotal} {
		assert.Equal(t, before.PnL(p), after.PnL(p), "period %s", p)
	}
	assert.Equal(t, before.TotalPnL(), after.TotalPnL())
	assert.Equal(t, before.LatencyAverages(), after.LatencyAverages())
	assert.Equal(t, before.DurationStats(), after.DurationStats())
	assert.Equal(t, before.Trades(0), after.Trades(0))
	assert.Len(t, after.FailedTrades(0), 1)
	assert.Len(t, after.Errors(0), 1)
}

func TestFileStore_Layout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	l := openTestLedger(t, path)

	_, err := l.AddSuccess(context.Background(), buy(testNow, 1, 1))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"trades", "failedTrades", "errors", "latencyHistory"} {
		assert.Contains(t, doc, key)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed into place")
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), 10)
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Trades)
	assert.Empty(t, snap.LatencyHistory)
}

func TestFileStore_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path, 10).Load(context.Background())
	assert.Error(t, err)
}

func TestFileStore_LatencyHistoryIsCapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	ctx := context.Background()

	store := NewFileStore(path, 3)
	_, err := store.Load(ctx)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, store.AppendLatency(ctx, LatencySample{Timestamp: testNow.Add(time.Duration(i) * time.Second), LatencyMs: float64(i)}))
	}

	snap, err := NewFileStore(path, 3).Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.LatencyHistory, 3)
	assert.Equal(t, 2.0, snap.LatencyHistory[0].LatencyMs)
	assert.Equal(t, 4.0, snap.LatencyHistory[2].LatencyMs)
}

func TestFileStore_UpdateUnknownTrade(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "trades.json"), 10)
	err := store.UpdateTrade(context.Background(), Trade{ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}
