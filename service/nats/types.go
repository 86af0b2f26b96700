package nats

import (
	"time"

	"github.com/brojonat/solmirror/service/mirror"
)

// TradeEvent is one pipeline outcome, published to "mirror.trades.{master}".
type TradeEvent struct {
	MasterWallet    string `json:"master_wallet"`
	MasterSignature string `json:"master_signature"`
	State           string `json:"state"`
	LastStage       string `json:"last_stage"`

	// Set once the swap was submitted.
	Signature     string `json:"signature,omitempty"`
	ConfirmStatus string `json:"confirm_status,omitempty"`

	TokenIn      string  `json:"token_in,omitempty"`
	TokenOut     string  `json:"token_out,omitempty"`
	IsBuy        bool    `json:"is_buy"`
	DEX          string  `json:"dex,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
	Confidence   string  `json:"confidence,omitempty"`
	MasterAmount float64 `json:"master_amount"`
	YourAmount   float64 `json:"your_amount"`
	EntryPrice   float64 `json:"entry_price,omitempty"`
	LatencyMs    float64 `json:"latency_ms"`

	TradeID       string `json:"trade_id,omitempty"`
	ClosedTradeID string `json:"closed_trade_id,omitempty"`
	Reason        string `json:"reason,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// FromOutcome converts an engine outcome into a TradeEvent.
func FromOutcome(master string, o mirror.Outcome) *TradeEvent {
	event := &TradeEvent{
		MasterWallet:    master,
		MasterSignature: o.MasterSignature,
		State:           string(o.State),
		LastStage:       string(o.LastStage),
		Signature:       o.Signature,
		ConfirmStatus:   string(o.ConfirmStatus),
		YourAmount:      o.YourAmount,
		EntryPrice:      o.EntryPrice,
		LatencyMs:       o.LatencyMs,
		TradeID:         o.TradeID,
		ClosedTradeID:   o.ClosedTradeID,
		Reason:          o.Reason,
		Timestamp:       o.Timestamp.UTC(),
		PublishedAt:     time.Now().UTC(),
	}

	if i := o.Intent; i != nil {
		event.TokenIn = i.TokenIn
		event.TokenOut = i.TokenOut
		event.IsBuy = i.IsBuy
		event.DEX = i.DEX
		event.Strategy = string(i.Strategy)
		event.Confidence = string(i.Confidence)
		event.MasterAmount = i.MasterAmount
	}

	return event
}

// StatsEvent is a statistics snapshot, published to "mirror.stats".
type StatsEvent struct {
	MasterWallet     string    `json:"master_wallet"`
	TotalCopies      int       `json:"total_copies"`
	SuccessfulCopies int       `json:"successful_copies"`
	FailedCopies     int       `json:"failed_copies"`
	SkippedRecords   int       `json:"skipped_records"`
	AvgLatencyMs     float64   `json:"avg_latency_ms"`
	LastTradeTime    time.Time `json:"last_trade_time"`
	PublishedAt      time.Time `json:"published_at"`
}

// FromStats converts an engine snapshot into a StatsEvent.
func FromStats(master string, s mirror.Stats) *StatsEvent {
	return &StatsEvent{
		MasterWallet:     master,
		TotalCopies:      s.TotalCopies,
		SuccessfulCopies: s.SuccessfulCopies,
		FailedCopies:     s.FailedCopies,
		SkippedRecords:   s.SkippedRecords,
		AvgLatencyMs:     s.AvgLatencyMs,
		LastTradeTime:    s.LastTradeTime.UTC(),
		PublishedAt:      time.Now().UTC(),
	}
}

// Stats converts the event back into an engine snapshot.
func (e *StatsEvent) Stats() mirror.Stats {
	return mirror.Stats{
		TotalCopies:      e.TotalCopies,
		SuccessfulCopies: e.SuccessfulCopies,
		FailedCopies:     e.FailedCopies,
		SkippedRecords:   e.SkippedRecords,
		AvgLatencyMs:     e.AvgLatencyMs,
		LastTradeTime:    e.LastTradeTime,
	}
}
