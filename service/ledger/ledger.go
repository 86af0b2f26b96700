package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/google/uuid"
)

// DefaultLatencyCapacity is the default number of latency samples kept.
const DefaultLatencyCapacity = 10000

var (
	// ErrNotFound is returned when a trade id is unknown.
	ErrNotFound = errors.New("trade not found")
	// ErrTradeClosed is returned when closing a trade that already has an exit.
	ErrTradeClosed = errors.New("trade already closed")
)

// Store persists ledger mutations. The ledger calls it after every change;
// implementations must make each call durable before returning.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	AppendTrade(ctx context.Context, t Trade) error
	UpdateTrade(ctx context.Context, t Trade) error
	AppendFailed(ctx context.Context, f FailedTrade) error
	AppendError(ctx context.Context, e ErrorRecord) error
	AppendLatency(ctx context.Context, s LatencySample) error
	Close() error
}

// Ledger is the in-memory view of the trade history backed by a Store.
// Writes are serialized; reads may run concurrently with them.
type Ledger struct {
	mu      sync.RWMutex
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	trades  []Trade
	failed  []FailedTrade
	errs    []ErrorRecord
	latency *latencyRing

	now func() time.Time
}

// Open loads the store's snapshot and rebuilds the in-memory state from it.
// latencyCapacity bounds the latency ring; <= 0 uses DefaultLatencyCapacity.
func Open(ctx context.Context, store Store, latencyCapacity int, logger *slog.Logger, m *metrics.Metrics) (*Ledger, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	l := &Ledger{
		store:   store,
		logger:  logger,
		metrics: m,
		trades:  snap.Trades,
		failed:  snap.FailedTrades,
		errs:    snap.Errors,
		latency: newLatencyRing(latencyCapacity),
		now:     time.Now,
	}
	for _, s := range snap.LatencyHistory {
		l.latency.push(s)
	}

	logger.InfoContext(ctx, "ledger loaded",
		"trades", len(l.trades),
		"failed_trades", len(l.failed),
		"errors", len(l.errs),
		"latency_samples", l.latency.len(),
	)
	return l, nil
}

// SetClock replaces the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Close closes the backing store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// AddSuccess records a mirrored trade and its latency sample. The record is
// kept in memory even if persisting it fails; the persistence error is
// returned.
func (l *Ledger) AddSuccess(ctx context.Context, nt NewTrade) (Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := nt.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	status := nt.Status
	if status == "" {
		status = StatusConfirmed
	}

	t := Trade{
		ID:              uuid.NewString(),
		Timestamp:       ts.UTC(),
		Signature:       nt.Signature,
		MasterSignature: nt.MasterSignature,
		TokenIn:         nt.TokenIn,
		TokenOut:        nt.TokenOut,
		AmountIn:        nt.AmountIn,
		AmountOut:       nt.AmountOut,
		EntryPrice:      nt.EntryPrice,
		IsBuy:           nt.IsBuy,
		DEX:             nt.DEX,
		Strategy:        nt.Strategy,
		LatencyMs:       nt.LatencyMs,
		MasterAmount:    nt.MasterAmount,
		YourAmount:      nt.YourAmount,
		Status:          status,
	}
	sample := LatencySample{Timestamp: t.Timestamp, LatencyMs: t.LatencyMs}

	l.trades = append(l.trades, t)
	l.latency.push(sample)

	err := l.store.AppendTrade(ctx, t)
	l.recordWrite("trade", err)
	if err != nil {
		return t, fmt.Errorf("failed to persist trade %s: %w", t.ID, err)
	}
	err = l.store.AppendLatency(ctx, sample)
	l.recordWrite("latency", err)
	if err != nil {
		return t, fmt.Errorf("failed to persist latency sample: %w", err)
	}
	return t, nil
}

// AddFailed records a master trade that was not mirrored.
func (l *Ledger) AddFailed(ctx context.Context, f FailedTrade) (FailedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f.Timestamp.IsZero() {
		f.Timestamp = l.now()
	}
	f.Timestamp = f.Timestamp.UTC()
	f.Status = "failed"

	l.failed = append(l.failed, f)

	err := l.store.AppendFailed(ctx, f)
	l.recordWrite("failed", err)
	if err != nil {
		return f, fmt.Errorf("failed to persist failed trade: %w", err)
	}
	return f, nil
}

// AddError records an unexpected failure with its probable cause.
func (l *Ledger) AddError(ctx context.Context, message, errType, potentialCause string, errContext map[string]any) (ErrorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := ErrorRecord{
		Timestamp:      l.now().UTC(),
		Message:        message,
		Type:           errType,
		PotentialCause: potentialCause,
		Context:        errContext,
	}
	l.errs = append(l.errs, e)

	err := l.store.AppendError(ctx, e)
	l.recordWrite("error", err)
	if err != nil {
		return e, fmt.Errorf("failed to persist error record: %w", err)
	}
	return e, nil
}

// CloseTrade sets the exit of an open trade and computes its PnL:
// (exit-entry)*amountIn for buys, (entry-exit)*amountIn for sells.
func (l *Ledger) CloseTrade(ctx context.Context, id string, exitPrice float64, exitTime time.Time) (Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.trades {
		if l.trades[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Trade{}, ErrNotFound
	}

	t := l.trades[idx]
	if t.Closed() {
		return t, ErrTradeClosed
	}

	exitTime = exitTime.UTC()
	duration := exitTime.Sub(t.Timestamp).Seconds()
	t.ExitPrice = &exitPrice
	t.ExitTime = &exitTime
	t.DurationSeconds = &duration

	if t.EntryPrice != 0 && exitPrice != 0 {
		var pnl float64
		if t.IsBuy {
			pnl = (exitPrice - t.EntryPrice) * t.AmountIn
		} else {
			pnl = (t.EntryPrice - exitPrice) * t.AmountIn
		}
		t.PnL = &pnl
		if basis := t.EntryPrice * t.AmountIn; basis != 0 {
			pct := pnl / basis * 100
			t.PnLPercent = &pct
		}
	}

	l.trades[idx] = t

	err := l.store.UpdateTrade(ctx, t)
	l.recordWrite("close", err)
	if err != nil {
		return t, fmt.Errorf("failed to persist exit of trade %s: %w", id, err)
	}
	return t, nil
}

// Trade returns the trade with the given id.
func (l *Ledger) Trade(id string) (Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.trades {
		if t.ID == id {
			return t, nil
		}
	}
	return Trade{}, ErrNotFound
}

// LatestOpenBuy returns the most recent open buy of mint.
func (l *Ledger) LatestOpenBuy(mint string) (Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.trades) - 1; i >= 0; i-- {
		t := l.trades[i]
		if t.IsBuy && t.TokenOut == mint && !t.Closed() {
			return t, true
		}
	}
	return Trade{}, false
}

// Trades returns up to limit of the most recent trades, oldest first.
// limit <= 0 returns all of them.
func (l *Ledger) Trades(limit int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.trades, limit)
}

// FailedTrades returns up to limit of the most recent failed trades.
func (l *Ledger) FailedTrades(limit int) []FailedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.failed, limit)
}

// Errors returns up to limit of the most recent error records.
func (l *Ledger) Errors(limit int) []ErrorRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tail(l.errs, limit)
}

// LatencyHistory returns the retained latency samples, oldest first.
func (l *Ledger) LatencyHistory() []LatencySample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latency.items()
}

func (l *Ledger) recordWrite(kind string, err error) {
	if err != nil {
		l.logger.Error("ledger write failed", "kind", kind, "error", err)
	}
	if l.metrics != nil {
		l.metrics.RecordLedgerWrite(kind, err)
	}
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
