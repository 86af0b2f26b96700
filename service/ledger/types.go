// Package ledger records every mirrored trade, rejected trade and pipeline
// error, and answers PnL, latency and duration queries over them.
package ledger

import (
	"time"
)

// Trade statuses.
const (
	StatusConfirmed = "confirmed"
	// StatusUnknown marks a trade that was submitted but whose confirmation
	// timed out.
	StatusUnknown = "unknown"
)

// Trade is a successfully mirrored trade. It is written once and may later
// be closed exactly once with an exit price.
type Trade struct {
	ID              string    `json:"tradeId"`
	Timestamp       time.Time `json:"timestamp"`
	Signature       string    `json:"signature,omitempty"`
	MasterSignature string    `json:"masterSignature,omitempty"`
	TokenIn         string    `json:"tokenIn"`
	TokenOut        string    `json:"tokenOut"`
	AmountIn        float64   `json:"amountIn"`
	AmountOut       float64   `json:"amountOut"`
	EntryPrice      float64   `json:"entryPrice"`
	IsBuy           bool      `json:"isBuy"`
	DEX             string    `json:"dex,omitempty"`
	Strategy        string    `json:"strategy,omitempty"`
	LatencyMs       float64   `json:"latencyMs"`
	MasterAmount    float64   `json:"masterAmount"`
	YourAmount      float64   `json:"yourAmount"`
	Status          string    `json:"status"`

	ExitPrice       *float64   `json:"exitPrice,omitempty"`
	ExitTime        *time.Time `json:"exitTimestamp,omitempty"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	PnL             *float64   `json:"pnl,omitempty"`
	PnLPercent      *float64   `json:"pnlPercentage,omitempty"`
}

// Closed reports whether the trade has an exit.
func (t *Trade) Closed() bool {
	return t.ExitTime != nil
}

// NewTrade holds the fields the caller supplies for AddSuccess. The ledger
// assigns the id and, when Timestamp is zero, the time.
type NewTrade struct {
	Timestamp       time.Time
	Signature       string
	MasterSignature string
	TokenIn         string
	TokenOut        string
	AmountIn        float64
	AmountOut       float64
	EntryPrice      float64
	IsBuy           bool
	DEX             string
	Strategy        string
	LatencyMs       float64
	MasterAmount    float64
	YourAmount      float64
	Status          string
}

// FailedTrade is a master trade that was not mirrored, e.g. because the
// follower could not afford it.
type FailedTrade struct {
	Timestamp       time.Time      `json:"timestamp"`
	Reason          string         `json:"reason"`
	MasterSignature string         `json:"masterSignature,omitempty"`
	MasterAmount    float64        `json:"masterAmount"`
	TradeInfo       map[string]any `json:"tradeInfo,omitempty"`
	Status          string         `json:"status"`
}

// ErrorRecord is an unexpected pipeline failure.
type ErrorRecord struct {
	Timestamp      time.Time      `json:"timestamp"`
	Message        string         `json:"errorMessage"`
	Type           string         `json:"errorType"`
	PotentialCause string         `json:"potentialCause"`
	Context        map[string]any `json:"context,omitempty"`
}

// LatencySample is one end-to-end latency measurement.
type LatencySample struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latencyMs"`
}

// Snapshot is the full persisted state of a ledger.
type Snapshot struct {
	Trades         []Trade         `json:"trades"`
	FailedTrades   []FailedTrade   `json:"failedTrades"`
	Errors         []ErrorRecord   `json:"errors"`
	LatencyHistory []LatencySample `json:"latencyHistory"`
}
