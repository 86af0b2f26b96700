package ledger

import (
	"fmt"
	"math"
	"time"
)

// Period selects the PnL grouping.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodTotal Period = "total"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodTotal:
		return p, nil
	}
	return "", fmt.Errorf("invalid period %q: must be hour, day, week or total", s)
}

// PnLGroup sums the realized PnL of the trades in one bucket. Open trades
// count toward Trades but contribute no profit or loss.
type PnLGroup struct {
	Trades int     `json:"trades"`
	Profit float64 `json:"profit"`
	Loss   float64 `json:"loss"`
	NetPnL float64 `json:"net_pnl"`
}

// TotalPnL summarizes every trade in the ledger.
type TotalPnL struct {
	TotalTrades int     `json:"total_trades"`
	TotalProfit float64 `json:"total_profit"`
	TotalLoss   float64 `json:"total_loss"`
	NetPnL      float64 `json:"net_pnl"`
	ROI         float64 `json:"roi"`
}

// LatencyAverages are mean latencies over rolling windows ending now.
type LatencyAverages struct {
	OneMinute      float64 `json:"1min"`
	FifteenMinutes float64 `json:"15min"`
	OneHour        float64 `json:"1hour"`
	FourHours      float64 `json:"4hours"`
	OneDay         float64 `json:"24hours"`
	AllTime        float64 `json:"all_time"`
}

// DurationStats describes how long closed trades stayed open.
type DurationStats struct {
	Average  float64   `json:"average_duration"`
	Shortest float64   `json:"shortest_duration"`
	Longest  float64   `json:"longest_duration"`
	Recent   []float64 `json:"durations"`
}

// PnL groups trades by period: hourly buckets over the last 24 hours,
// daily over the last 7 days, weekly over the last 4 weeks, or a single
// "total" bucket.
func (l *Ledger) PnL(period Period) map[string]PnLGroup {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now().UTC()
	var cutoff time.Time
	var key func(time.Time) string

	switch period {
	case PeriodHour:
		cutoff = now.Add(-24 * time.Hour)
		key = func(t time.Time) string { return t.Format("2006-01-02 15:00") }
	case PeriodDay:
		cutoff = now.AddDate(0, 0, -7)
		key = func(t time.Time) string { return t.Format("2006-01-02") }
	case PeriodWeek:
		cutoff = now.AddDate(0, 0, -28)
		key = weekKey
	default:
		key = func(time.Time) string { return string(PeriodTotal) }
	}

	groups := make(map[string]PnLGroup)
	for _, t := range l.trades {
		ts := t.Timestamp.UTC()
		if ts.Before(cutoff) {
			continue
		}
		k := key(ts)
		g := groups[k]
		g.Trades++
		if t.PnL != nil && *t.PnL != 0 {
			if *t.PnL > 0 {
				g.Profit += *t.PnL
			} else {
				g.Loss += math.Abs(*t.PnL)
			}
			g.NetPnL += *t.PnL
		}
		groups[k] = g
	}
	return groups
}

// weekKey labels t with its Monday-based week of the year; days before the
// first Monday fall in week 00.
func weekKey(t time.Time) string {
	yday := t.YearDay() - 1
	monday0 := (int(t.Weekday()) + 6) % 7
	week := (yday + 7 - monday0) / 7
	return fmt.Sprintf("%d-W%02d", t.Year(), week)
}

// TotalPnL summarizes realized PnL over every trade. ROI is net PnL as a
// percentage of the summed trade amounts.
func (l *Ledger) TotalPnL() TotalPnL {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out TotalPnL
	var invested float64
	for _, t := range l.trades {
		invested += t.AmountIn
		if t.PnL == nil {
			continue
		}
		if *t.PnL > 0 {
			out.TotalProfit += *t.PnL
		} else {
			out.TotalLoss += math.Abs(*t.PnL)
		}
	}
	out.TotalTrades = len(l.trades)
	out.NetPnL = out.TotalProfit - out.TotalLoss
	if invested > 0 {
		out.ROI = out.NetPnL / invested * 100
	}
	return out
}

// LatencyAverages computes mean latency over the retained samples.
func (l *Ledger) LatencyAverages() LatencyAverages {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	windows := []time.Duration{time.Minute, 15 * time.Minute, time.Hour, 4 * time.Hour, 24 * time.Hour}
	sums := make([]float64, len(windows)+1)
	counts := make([]int, len(windows)+1)

	for _, s := range l.latency.items() {
		age := now.Sub(s.Timestamp)
		for i, w := range windows {
			if age <= w {
				sums[i] += s.LatencyMs
				counts[i]++
			}
		}
		sums[len(windows)] += s.LatencyMs
		counts[len(windows)]++
	}

	avg := func(i int) float64 {
		if counts[i] == 0 {
			return 0
		}
		return sums[i] / float64(counts[i])
	}
	return LatencyAverages{
		OneMinute:      avg(0),
		FifteenMinutes: avg(1),
		OneHour:        avg(2),
		FourHours:      avg(3),
		OneDay:         avg(4),
		AllTime:        avg(5),
	}
}

// DurationStats summarizes the durations of closed trades. Recent holds the
// last ten.
func (l *Ledger) DurationStats() DurationStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var durations []float64
	for _, t := range l.trades {
		if t.DurationSeconds != nil {
			durations = append(durations, *t.DurationSeconds)
		}
	}

	out := DurationStats{Recent: []float64{}}
	if len(durations) == 0 {
		return out
	}

	out.Shortest = durations[0]
	out.Longest = durations[0]
	var sum float64
	for _, d := range durations {
		sum += d
		out.Shortest = min(out.Shortest, d)
		out.Longest = max(out.Longest, d)
	}
	out.Average = sum / float64(len(durations))
	out.Recent = tail(durations, 10)
	return out
}
