// Package mirror runs the trade-mirroring pipeline: every record from the
// feed is decoded, sized, validated, quoted, submitted and confirmed, and
// its terminal state is written to the ledger.
package mirror

import (
	"context"
	"time"

	"github.com/brojonat/solmirror/service/decoder"
	"github.com/brojonat/solmirror/service/fees"
	"github.com/brojonat/solmirror/service/ledger"
	"github.com/brojonat/solmirror/service/quote"
	"github.com/brojonat/solmirror/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// State is a pipeline stage. Confirmed, Failed and Skipped are terminal.
type State string

const (
	StateReceived  State = "received"
	StateDecoded   State = "decoded"
	StateSized     State = "sized"
	StateValidated State = "validated"
	StateQuoted    State = "quoted"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Outcome is the result of one pipeline pass.
type Outcome struct {
	MasterSignature string              `json:"master_signature"`
	State           State               `json:"state"`
	LastStage       State               `json:"last_stage"`
	Intent          *decoder.Intent     `json:"intent,omitempty"`
	YourAmount      float64             `json:"your_amount"`
	Breakdown       *fees.Breakdown     `json:"breakdown,omitempty"`
	Signature       string              `json:"signature,omitempty"`
	ConfirmStatus   quote.ConfirmStatus `json:"confirm_status,omitempty"`
	EntryPrice      float64             `json:"entry_price"`
	LatencyMs       float64             `json:"latency_ms"`
	TradeID         string              `json:"trade_id,omitempty"`
	ClosedTradeID   string              `json:"closed_trade_id,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// Stats are the engine's running counters. avgLatencyMs is an online mean
// over every terminal pass except skipped ones.
type Stats struct {
	TotalCopies      int       `json:"total_copies"`
	SuccessfulCopies int       `json:"successful_copies"`
	FailedCopies     int       `json:"failed_copies"`
	SkippedRecords   int       `json:"skipped_records"`
	AvgLatencyMs     float64   `json:"avg_latency_ms"`
	LastTradeTime    time.Time `json:"last_trade_time"`
}

// Decoder turns records into intents.
type Decoder interface {
	Decode(rec *solana.Record) (*decoder.Intent, bool)
}

// Balances reads the follower's holdings. *solana.Client implements it.
type Balances interface {
	NativeBalance(ctx context.Context, owner solanago.PublicKey) (float64, error)
	TokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (float64, uint8, error)
}

// Executor quotes, builds, submits and confirms swaps. *quote.Executor
// implements it.
type Executor interface {
	PublicKey() solanago.PublicKey
	Quote(ctx context.Context, tokenIn, tokenOut string, amount uint64, slippageBps int) (*quote.Quote, error)
	BuildSignedSwap(ctx context.Context, q *quote.Quote, priorityFeeLamports uint64) (*solanago.Transaction, error)
	Submit(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	Confirm(ctx context.Context, sig solanago.Signature, timeout time.Duration) (quote.ConfirmStatus, error)
}

// Ledger is the write side of the trade ledger. *ledger.Ledger implements it.
type Ledger interface {
	AddSuccess(ctx context.Context, nt ledger.NewTrade) (ledger.Trade, error)
	AddFailed(ctx context.Context, f ledger.FailedTrade) (ledger.FailedTrade, error)
	AddError(ctx context.Context, message, errType, potentialCause string, errContext map[string]any) (ledger.ErrorRecord, error)
	CloseTrade(ctx context.Context, id string, exitPrice float64, exitTime time.Time) (ledger.Trade, error)
	LatestOpenBuy(mint string) (ledger.Trade, bool)
}

// OutcomeSink receives every non-skipped outcome, e.g. to publish it.
type OutcomeSink interface {
	PublishOutcome(ctx context.Context, o Outcome) error
}
