package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brojonat/solmirror/service/decoder"
	"github.com/brojonat/solmirror/service/fees"
	"github.com/brojonat/solmirror/service/ledger"
	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/quote"
	"github.com/brojonat/solmirror/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Config holds the sizing and execution parameters.
type Config struct {
	LotSizeMode    fees.LotSizeMode
	LotSizeValue   float64
	Fees           fees.Model
	ConfirmTimeout time.Duration
}

// Engine consumes feed records one at a time. A record's pass finishes,
// including its ledger write, before the next record is read.
type Engine struct {
	cfg      Config
	decoder  Decoder
	balances Balances
	exec     Executor
	ledger   Ledger
	sink     OutcomeSink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	stats Stats

	now func() time.Time
}

// NewEngine wires an engine. m may be nil.
func NewEngine(cfg Config, d Decoder, b Balances, e Executor, l Ledger, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		decoder:  d,
		balances: b,
		exec:     e,
		ledger:   l,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// SetSink registers a sink for outcomes.
func (e *Engine) SetSink(s OutcomeSink) {
	e.sink = s
}

// Stats returns a copy of the running statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run processes records until the channel is closed or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, records <-chan *solana.Record) error {
	e.logger.InfoContext(ctx, "mirror engine started",
		"follower", e.exec.PublicKey().String(),
		"lot_size_mode", e.cfg.LotSizeMode,
		"lot_size_value", e.cfg.LotSizeValue,
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				e.logger.InfoContext(ctx, "feed closed, mirror engine stopping")
				return nil
			}
			e.Process(ctx, rec)
		}
	}
}

// Process runs one record through the pipeline and returns its outcome.
// Every failure, including a panic, ends in a terminal state; Process
// never returns an error.
func (e *Engine) Process(ctx context.Context, rec *solana.Record) (out Outcome) {
	start := rec.ReceivedAt
	if start.IsZero() {
		start = e.now()
	}
	out = Outcome{
		MasterSignature: rec.Signature,
		State:           StateReceived,
		LastStage:       StateReceived,
	}

	defer func() {
		if r := recover(); r != nil {
			out = e.fail(ctx, out, start, fmt.Errorf("panic: %v", r))
		}
	}()

	intent, ok := e.decoder.Decode(rec)
	if !ok {
		return e.skip(ctx, out)
	}
	out.Intent = intent
	out.LastStage = StateDecoded

	if !intent.Resolved() {
		return e.reject(ctx, out, start, "unresolved counter-asset")
	}

	return e.execute(ctx, out, start)
}

func (e *Engine) execute(ctx context.Context, out Outcome, start time.Time) Outcome {
	intent := out.Intent
	follower := e.exec.PublicKey()

	out.YourAmount = fees.SizeOrder(intent.MasterAmount, e.cfg.LotSizeMode, e.cfg.LotSizeValue)
	out.LastStage = StateSized
	if out.YourAmount <= 0 {
		return e.reject(ctx, out, start, "sized order amount is zero")
	}

	available, decimals, err := e.availableBalance(ctx, follower, intent)
	if err != nil {
		return e.fail(ctx, out, start, err)
	}

	breakdown, err := e.cfg.Fees.Validate(out.YourAmount, available, intent.IsBuy)
	out.Breakdown = &breakdown
	if err != nil {
		var insufficient *fees.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			return e.reject(ctx, out, start, err.Error())
		}
		return e.fail(ctx, out, start, err)
	}
	out.LastStage = StateValidated

	units := toUnits(out.YourAmount, decimals)
	if units == 0 {
		return e.reject(ctx, out, start, "order is below the smallest unit")
	}

	q, err := e.exec.Quote(ctx, intent.TokenIn, intent.TokenOut, units, e.cfg.Fees.SlippageBps())
	if err != nil {
		return e.fail(ctx, out, start, err)
	}
	out.EntryPrice = q.EntryPrice()
	out.LastStage = StateQuoted

	tx, err := e.exec.BuildSignedSwap(ctx, q, e.cfg.Fees.PriorityFeeLamports())
	if err != nil {
		return e.fail(ctx, out, start, err)
	}
	sig, err := e.exec.Submit(ctx, tx)
	if err != nil {
		return e.fail(ctx, out, start, err)
	}
	out.Signature = sig.String()
	out.LastStage = StateSubmitted

	status, err := e.exec.Confirm(ctx, sig, e.cfg.ConfirmTimeout)
	if status == quote.ConfirmFailed {
		return e.fail(ctx, out, start, err)
	}
	if err != nil {
		// cancelled while waiting: the swap is out, record it as unknown
		e.logger.WarnContext(ctx, "confirmation interrupted",
			"signature", out.Signature,
			"error", err,
		)
		status = quote.ConfirmUnknown
	}
	out.ConfirmStatus = status

	return e.succeed(ctx, out, start, q)
}

// availableBalance returns what the follower can spend on this intent and
// the decimals of the asset being spent: SOL for buys, the sold token for
// sells.
func (e *Engine) availableBalance(ctx context.Context, follower solanago.PublicKey, intent *decoder.Intent) (float64, uint8, error) {
	if intent.IsBuy || intent.TokenIn == solana.NativeMint {
		bal, err := e.balances.NativeBalance(ctx, follower)
		if err != nil {
			return 0, 0, fmt.Errorf("balance check: %w", err)
		}
		return bal, 9, nil
	}

	mint, err := solanago.PublicKeyFromBase58(intent.TokenIn)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid token mint %q: %w", intent.TokenIn, err)
	}
	bal, decimals, err := e.balances.TokenBalance(ctx, follower, mint)
	if err != nil {
		return 0, 0, fmt.Errorf("balance check: %w", err)
	}
	return bal, decimals, nil
}

func (e *Engine) succeed(ctx context.Context, out Outcome, start time.Time, q *quote.Quote) Outcome {
	intent := out.Intent
	now := e.now()
	out.State = StateConfirmed
	out.LastStage = StateConfirmed
	out.LatencyMs = latencyMs(start, now)
	out.Timestamp = now

	// ledger writes outlive a shutdown signal
	writeCtx := context.WithoutCancel(ctx)

	status := ledger.StatusConfirmed
	if out.ConfirmStatus == quote.ConfirmUnknown {
		status = ledger.StatusUnknown
	}
	trade, err := e.ledger.AddSuccess(writeCtx, ledger.NewTrade{
		Timestamp:       now,
		Signature:       out.Signature,
		MasterSignature: out.MasterSignature,
		TokenIn:         intent.TokenIn,
		TokenOut:        intent.TokenOut,
		AmountIn:        out.YourAmount,
		AmountOut:       float64(q.OutAmountUnits()),
		EntryPrice:      out.EntryPrice,
		IsBuy:           intent.IsBuy,
		DEX:             intent.DEX,
		Strategy:        string(intent.Strategy),
		LatencyMs:       out.LatencyMs,
		MasterAmount:    intent.MasterAmount,
		YourAmount:      out.YourAmount,
		Status:          status,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record trade", "signature", out.Signature, "error", err)
	}
	out.TradeID = trade.ID

	if !intent.IsBuy {
		if open, ok := e.ledger.LatestOpenBuy(intent.TokenIn); ok {
			closed, err := e.ledger.CloseTrade(writeCtx, open.ID, q.ExitPrice(), now)
			if err != nil {
				e.logger.ErrorContext(ctx, "failed to close position", "trade_id", open.ID, "error", err)
			} else {
				out.ClosedTradeID = closed.ID
			}
		}
	}

	e.logger.InfoContext(ctx, "copy trade executed",
		"master_signature", out.MasterSignature,
		"signature", out.Signature,
		"status", out.ConfirmStatus,
		"is_buy", intent.IsBuy,
		"token_in", intent.TokenIn,
		"token_out", intent.TokenOut,
		"master_amount", intent.MasterAmount,
		"your_amount", out.YourAmount,
		"strategy", intent.Strategy,
		"latency_ms", out.LatencyMs,
	)
	return e.finish(ctx, out, true)
}

// reject records a validation rejection as a failed trade.
func (e *Engine) reject(ctx context.Context, out Outcome, start time.Time, reason string) Outcome {
	now := e.now()
	out.State = StateFailed
	out.Reason = reason
	out.LatencyMs = latencyMs(start, now)
	out.Timestamp = now

	_, err := e.ledger.AddFailed(context.WithoutCancel(ctx), ledger.FailedTrade{
		Timestamp:       now,
		Reason:          reason,
		MasterSignature: out.MasterSignature,
		MasterAmount:    masterAmount(out.Intent),
		TradeInfo:       tradeInfo(out),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record rejected trade", "error", err)
	}

	e.logger.WarnContext(ctx, "copy trade rejected",
		"master_signature", out.MasterSignature,
		"stage", out.LastStage,
		"reason", reason,
	)
	return e.finish(ctx, out, false)
}

// fail records an unexpected failure in the error ledger.
func (e *Engine) fail(ctx context.Context, out Outcome, start time.Time, err error) Outcome {
	if err == nil {
		err = errors.New("unknown failure")
	}
	now := e.now()
	out.State = StateFailed
	out.Reason = err.Error()
	out.LatencyMs = latencyMs(start, now)
	out.Timestamp = now

	errType, cause := classify(out.LastStage, err)
	errCtx := tradeInfo(out)
	errCtx["stage"] = string(out.LastStage)
	if out.Signature != "" {
		errCtx["signature"] = out.Signature
	}

	if _, lerr := e.ledger.AddError(context.WithoutCancel(ctx), err.Error(), errType, cause, errCtx); lerr != nil {
		e.logger.ErrorContext(ctx, "failed to record pipeline error", "error", lerr)
	}

	e.logger.ErrorContext(ctx, "copy trade failed",
		"master_signature", out.MasterSignature,
		"stage", out.LastStage,
		"error_type", errType,
		"potential_cause", cause,
		"error", err,
	)
	return e.finish(ctx, out, false)
}

func (e *Engine) skip(ctx context.Context, out Outcome) Outcome {
	out.State = StateSkipped
	out.Timestamp = e.now()

	e.mu.Lock()
	e.stats.SkippedRecords++
	e.mu.Unlock()

	e.logger.DebugContext(ctx, "no trade intent in transaction", "signature", out.MasterSignature)
	if e.metrics != nil {
		e.metrics.RecordOutcome(string(StateSkipped), 0)
	}
	return out
}

// finish updates the statistics for a terminal, non-skipped pass.
func (e *Engine) finish(ctx context.Context, out Outcome, success bool) Outcome {
	e.mu.Lock()
	e.stats.TotalCopies++
	if success {
		e.stats.SuccessfulCopies++
	} else {
		e.stats.FailedCopies++
	}
	e.stats.AvgLatencyMs += (out.LatencyMs - e.stats.AvgLatencyMs) / float64(e.stats.TotalCopies)
	e.stats.LastTradeTime = out.Timestamp
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordOutcome(string(out.State), out.LatencyMs)
	}
	if e.sink != nil {
		if err := e.sink.PublishOutcome(context.WithoutCancel(ctx), out); err != nil {
			e.logger.WarnContext(ctx, "failed to publish outcome", "error", err)
		}
	}
	return out
}

// classify names the error type and its probable cause for the error ledger.
func classify(stage State, err error) (string, string) {
	if errors.Is(err, quote.ErrTransactionFailed) {
		return "chain", "transaction reverted on chain, likely slippage or liquidity"
	}

	var apiErr *quote.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 429 {
		return "api", fmt.Sprintf("aggregator rejected the %s request", apiErr.Op)
	}

	switch quote.Classify(err) {
	case quote.KindDNS:
		return "dns", "DNS resolution failed for the upstream host"
	case quote.KindRateLimited:
		return "rate_limit", "rate limited by upstream API after retries"
	case quote.KindTransientNetwork:
		return "network", "network connectivity problem"
	}

	switch stage {
	case StateSized:
		return "rpc", "RPC node unavailable during balance check"
	case StateValidated, StateQuoted:
		return "execution", "failed to build or submit the swap transaction"
	case StateReceived, StateDecoded:
		return "decoding", "transaction processing error"
	}
	return "internal", "transaction processing error"
}

func tradeInfo(out Outcome) map[string]any {
	info := map[string]any{"master_signature": out.MasterSignature}
	if i := out.Intent; i != nil {
		info["token_in"] = i.TokenIn
		info["token_out"] = i.TokenOut
		info["is_buy"] = i.IsBuy
		info["dex"] = i.DEX
		info["strategy"] = string(i.Strategy)
		info["confidence"] = string(i.Confidence)
	}
	if out.YourAmount > 0 {
		info["your_amount"] = out.YourAmount
	}
	return info
}

func masterAmount(i *decoder.Intent) float64 {
	if i == nil {
		return 0
	}
	return i.MasterAmount
}

func latencyMs(start, end time.Time) float64 {
	return float64(end.Sub(start)) / float64(time.Millisecond)
}

// toUnits converts a UI amount to the asset's smallest unit.
func toUnits(amount float64, decimals uint8) uint64 {
	return uint64(math.Round(amount * math.Pow10(int(decimals))))
}
