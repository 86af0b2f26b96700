package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	SkipIfNoTestDB(t)

	ctx := context.Background()
	store := NewTestPostgresStore(t)

	before, err := Open(ctx, store, 100, testLogger(), nil)
	require.NoError(t, err)
	before.SetClock(func() time.Time { return testNow })
	seedLedger(t, before)

	_, err = before.AddFailed(ctx, FailedTrade{
		Reason:       "insufficient balance",
		MasterAmount: 2,
		TradeInfo:    map[string]any{"token_in": "So11111111111111111111111111111111111111112"},
	})
	require.NoError(t, err)
	_, err = before.AddError(ctx, "boom", "rpc", "node unavailable", map[string]any{"attempt": float64(3)})
	require.NoError(t, err)

	after, err := Open(ctx, store, 100, testLogger(), nil)
	require.NoError(t, err)
	after.SetClock(func() time.Time { return testNow })

	assert.Equal(t, before.PnL(PeriodDay), after.PnL(PeriodDay))
	assert.Equal(t, before.TotalPnL(), after.TotalPnL())
	assert.Equal(t, before.LatencyAverages(), after.LatencyAverages())
	assert.Equal(t, before.DurationStats(), after.DurationStats())

	require.Len(t, after.FailedTrades(0), 1)
	assert.Equal(t, "So11111111111111111111111111111111111111112", after.FailedTrades(0)[0].TradeInfo["token_in"])
	require.Len(t, after.Errors(0), 1)
	assert.Equal(t, float64(3), after.Errors(0)[0].Context["attempt"])
}

func TestPostgresStore_DuplicateTrade(t *testing.T) {
	SkipIfNoTestDB(t)

	ctx := context.Background()
	store := NewTestPostgresStore(t)

	tr := Trade{ID: "dup", Timestamp: testNow, TokenIn: "a", TokenOut: "b", Status: StatusConfirmed}
	require.NoError(t, store.AppendTrade(ctx, tr))
	assert.ErrorIs(t, store.AppendTrade(ctx, tr), ErrDuplicateTrade)
}

func TestPostgresStore_UpdateUnknownTrade(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestPostgresStore(t)
	err := store.UpdateTrade(context.Background(), Trade{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}
