package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLedger writes a mix of open, winning and losing trades plus latency
// samples spread over several weeks.
func seedLedger(t *testing.T, l *Ledger) {
	t.Helper()
	ctx := context.Background()

	add := func(ts time.Time, amount, entry, exit float64, latency float64) {
		nt := buy(ts, amount, entry)
		nt.LatencyMs = latency
		tr, err := l.AddSuccess(ctx, nt)
		require.NoError(t, err)
		if exit > 0 {
			_, err = l.CloseTrade(ctx, tr.ID, exit, ts.Add(time.Duration(amount*60)*time.Second))
			require.NoError(t, err)
		}
	}

	add(testNow.Add(-30*time.Second), 1, 10, 12, 100)     // +2, this hour
	add(testNow.Add(-10*time.Minute), 2, 10, 9, 300)      // -2, this hour
	add(testNow.Add(-3*time.Hour), 1, 10, 0, 500)         // open
	add(testNow.Add(-3*24*time.Hour), 1, 10, 15, 700)     // +5, three days ago
	add(testNow.Add(-20*24*time.Hour), 4, 10, 11, 900)    // +4, three weeks ago
	add(testNow.Add(-60*24*time.Hour), 1, 10, 5, 1100)    // -5, outside every window
}

func TestPnL(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
	seedLedger(t, l)

	t.Run("hour buckets cover the last day", func(t *testing.T) {
		groups := l.PnL(PeriodHour)
		assert.Len(t, groups, 2)

		noon := groups["2025-06-10 11:00"]
		assert.Equal(t, 2, noon.Trades)
		assert.InDelta(t, 2.0, noon.Profit, 1e-9)
		assert.InDelta(t, 2.0, noon.Loss, 1e-9)
		assert.InDelta(t, 0.0, noon.NetPnL, 1e-9)

		open := groups["2025-06-10 09:00"]
		assert.Equal(t, 1, open.Trades)
		assert.Zero(t, open.NetPnL)
	})

	t.Run("day buckets cover the last week", func(t *testing.T) {
		groups := l.PnL(PeriodDay)
		assert.Len(t, groups, 2)
		assert.Equal(t, 3, groups["2025-06-10"].Trades)
		assert.InDelta(t, 5.0, groups["2025-06-07"].NetPnL, 1e-9)
	})

	t.Run("week buckets cover the last four weeks", func(t *testing.T) {
		groups := l.PnL(PeriodWeek)
		var trades int
		var net float64
		for _, g := range groups {
			trades += g.Trades
			net += g.NetPnL
		}
		assert.Equal(t, 5, trades)
		assert.InDelta(t, 9.0, net, 1e-9)
		assert.Contains(t, groups, "2025-W23")
	})

	t.Run("total has a single bucket", func(t *testing.T) {
		groups := l.PnL(PeriodTotal)
		require.Len(t, groups, 1)
		assert.Equal(t, 6, groups["total"].Trades)
		assert.InDelta(t, 4.0, groups["total"].NetPnL, 1e-9)
	})
}

func TestTotalPnL(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
	seedLedger(t, l)

	total := l.TotalPnL()
	assert.Equal(t, 6, total.TotalTrades)
	assert.InDelta(t, 11.0, total.TotalProfit, 1e-9)
	assert.InDelta(t, 7.0, total.TotalLoss, 1e-9)
	assert.InDelta(t, 4.0, total.NetPnL, 1e-9)
	assert.InDelta(t, 4.0/10.0*100, total.ROI, 1e-9)
}

func TestTotalPnL_Empty(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
	assert.Equal(t, TotalPnL{}, l.TotalPnL())
}

func TestWeekKey(t *testing.T) {
	tests := []struct {
		day  time.Time
		want string
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "2024-W01"},  // Monday
		{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), "2023-W00"},  // Sunday before first Monday
		{time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), "2023-W01"},  // first Monday
		{time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), "2025-W23"}, // Tuesday
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, weekKey(tt.day))
		})
	}
}

func TestLatencyAverages(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
	seedLedger(t, l)

	avg := l.LatencyAverages()
	assert.InDelta(t, 100.0, avg.OneMinute, 1e-9)
	assert.InDelta(t, 200.0, avg.FifteenMinutes, 1e-9)
	assert.InDelta(t, 200.0, avg.OneHour, 1e-9)
	assert.InDelta(t, 300.0, avg.FourHours, 1e-9)
	assert.InDelta(t, 300.0, avg.OneDay, 1e-9)
	assert.InDelta(t, 600.0, avg.AllTime, 1e-9)
}

func TestLatencyAverages_Empty(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))
	assert.Equal(t, LatencyAverages{}, l.LatencyAverages())
}

func TestDurationStats(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "trades.json"))

	empty := l.DurationStats()
	assert.Zero(t, empty.Average)
	assert.Empty(t, empty.Recent)

	seedLedger(t, l)
	stats := l.DurationStats()
	// closed trades were held amount*60 seconds: 60, 120, 60, 240, 60
	assert.InDelta(t, 108.0, stats.Average, 1e-9)
	assert.Equal(t, 60.0, stats.Shortest)
	assert.Equal(t, 240.0, stats.Longest)
	assert.Len(t, stats.Recent, 5)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("week")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)

	_, err = ParsePeriod("month")
	assert.Error(t, err)
}
