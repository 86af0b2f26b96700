package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestLedger(t *testing.T, path string) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), NewFileStore(path, 100), 100, testLogger(), nil)
	require.NoError(t, err)
	l.SetClock(func() time.Time { return testNow })
	return l
}

func buy(ts time.Time, amount, entry float64) NewTrade {
	return NewTrade{
		Timestamp:  ts,
		TokenIn:    "So11111111111111111111111111111111111111112",
		TokenOut:   "MintA",
		AmountIn:   amount,
		AmountOut:  amount * 100,
		EntryPrice: entry,
		IsBuy:      true,
		LatencyMs:  250,
	}
}

func TestAddSuccess(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))

	first, err := l.AddSuccess(ctx, buy(time.Time{}, 1, 0.01))
	require.NoError(t, err)
	second, err := l.AddSuccess(ctx, buy(testNow, 2, 0.01))
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, testNow, first.Timestamp, "zero timestamp takes the ledger clock")
	assert.Equal(t, StatusConfirmed, first.Status)
	assert.False(t, first.Closed())

	assert.Len(t, l.Trades(0), 2)
	assert.Len(t, l.Trades(1), 1)
	assert.Equal(t, second.ID, l.Trades(1)[0].ID)
	assert.Len(t, l.LatencyHistory(), 2)
}

func TestCloseTrade(t *testing.T) {
	ctx := context.Background()

	t.Run("buy profits when exit is above entry", func(t *testing.T) {
		l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
		tr, err := l.AddSuccess(ctx, buy(testNow.Add(-90*time.Second), 2, 10))
		require.NoError(t, err)

		closed, err := l.CloseTrade(ctx, tr.ID, 12, testNow)
		require.NoError(t, err)

		require.NotNil(t, closed.PnL)
		assert.InDelta(t, 4.0, *closed.PnL, 1e-9)
		require.NotNil(t, closed.PnLPercent)
		assert.InDelta(t, 20.0, *closed.PnLPercent, 1e-9)
		require.NotNil(t, closed.DurationSeconds)
		assert.InDelta(t, 90.0, *closed.DurationSeconds, 1e-9)
		assert.True(t, closed.Closed())
	})

	t.Run("sell profits when exit is below entry", func(t *testing.T) {
		l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
		nt := buy(testNow, 2, 10)
		nt.IsBuy = false
		tr, err := l.AddSuccess(ctx, nt)
		require.NoError(t, err)

		closed, err := l.CloseTrade(ctx, tr.ID, 8, testNow)
		require.NoError(t, err)
		assert.InDelta(t, 4.0, *closed.PnL, 1e-9)
	})

	t.Run("unknown entry price leaves pnl unset", func(t *testing.T) {
		l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
		tr, err := l.AddSuccess(ctx, buy(testNow, 1, 0))
		require.NoError(t, err)

		closed, err := l.CloseTrade(ctx, tr.ID, 5, testNow)
		require.NoError(t, err)
		assert.Nil(t, closed.PnL)
		assert.NotNil(t, closed.DurationSeconds)
	})

	t.Run("second close is rejected", func(t *testing.T) {
		l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
		tr, err := l.AddSuccess(ctx, buy(testNow, 1, 1))
		require.NoError(t, err)

		_, err = l.CloseTrade(ctx, tr.ID, 2, testNow)
		require.NoError(t, err)
		_, err = l.CloseTrade(ctx, tr.ID, 3, testNow)
		assert.ErrorIs(t, err, ErrTradeClosed)

		got, err := l.Trade(tr.ID)
		require.NoError(t, err)
		assert.Equal(t, 2.0, *got.ExitPrice)
	})

	t.Run("unknown id", func(t *testing.T) {
		l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
		_, err := l.CloseTrade(ctx, "missing", 1, testNow)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLatestOpenBuy(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))

	older, err := l.AddSuccess(ctx, buy(testNow.Add(-time.Hour), 1, 1))
	require.NoError(t, err)
	newer, err := l.AddSuccess(ctx, buy(testNow, 1, 1))
	require.NoError(t, err)

	got, ok := l.LatestOpenBuy("MintA")
	require.True(t, ok)
	assert.Equal(t, newer.ID, got.ID)

	_, err = l.CloseTrade(ctx, newer.ID, 1, testNow)
	require.NoError(t, err)
	got, ok = l.LatestOpenBuy("MintA")
	require.True(t, ok)
	assert.Equal(t, older.ID, got.ID)

	_, ok = l.LatestOpenBuy("MintB")
	assert.False(t, ok)
}

func TestAddFailedAndError(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))

	f, err := l.AddFailed(ctx, FailedTrade{Reason: "insufficient balance", MasterAmount: 1.5})
	require.NoError(t, err)
	assert.Equal(t, "failed", f.Status)
	assert.Equal(t, testNow, f.Timestamp)

	e, err := l.AddError(ctx, "quote failed", "terminal", "aggregator rejected the route", map[string]any{"signature": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "terminal", e.Type)

	assert.Len(t, l.FailedTrades(10), 1)
	require.Len(t, l.Errors(10), 1)
	assert.Equal(t, "abc", l.Errors(10)[0].Context["signature"])
}

type failingStore struct {
	*FileStore
	err error
}

func (s *failingStore) Load(ctx context.Context) (*Snapshot, error) { return &Snapshot{}, nil }
func (s *failingStore) AppendTrade(ctx context.Context, t Trade) error { return s.err }

func TestAddSuccess_PersistFailureKeepsRecord(t *testing.T) {
	store := &failingStore{
		FileStore: NewFileStore(filepath.Join(t.TempDir(), "trades.json"), 10),
		err:       errors.New("disk full"),
	}
	l, err := Open(context.Background(), store, 10, testLogger(), nil)
	require.NoError(t, err)

	_, err = l.AddSuccess(context.Background(), buy(testNow, 1, 1))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, l.Trades(0), 1)
}

func TestLatencyRingEvictsOldest(t *testing.T) {
	r := newLatencyRing(3)
	for i := range 5 {
		r.push(LatencySample{LatencyMs: float64(i)})
	}
	items := r.items()
	require.Len(t, items, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{items[0].LatencyMs, items[1].LatencyMs, items[2].LatencyMs})
}
