// Package decoder turns raw feed records into normalized trade intents.
//
// Decoding runs an ordered chain of pure strategies over the record's
// normalized view; the first strategy that produces an intent wins. A record
// no strategy understands is a miss, not an error.
package decoder

import (
	"log/slog"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/solana"
)

// Strategy names the heuristic that produced an intent.
type Strategy string

const (
	StrategyTokenDelta      Strategy = "token_delta"
	StrategyNativeDelta     Strategy = "native_delta"
	StrategyAccountPosition Strategy = "account_position"
	StrategyPattern         Strategy = "pattern"
)

// Confidence grades how much an intent can be trusted.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceLow       Confidence = "low"
	ConfidenceSynthetic Confidence = "synthetic"
)

// Intent is a normalized master trade. AmountIn is in the units of TokenIn
// (SOL for buys).
type Intent struct {
	Signature    string     `json:"signature"`
	TokenIn      string     `json:"token_in"`
	TokenOut     string     `json:"token_out"`
	AmountIn     float64    `json:"amount_in"`
	AmountOut    float64    `json:"amount_out,omitempty"`
	IsBuy        bool       `json:"is_buy"`
	DEX          string     `json:"dex"`
	MasterAmount float64    `json:"master_amount"`
	Strategy     Strategy   `json:"strategy"`
	Confidence   Confidence `json:"confidence"`
}

// LowConfidence is true for intents from the positional or pattern strategies.
func (i *Intent) LowConfidence() bool {
	return i.Confidence == ConfidenceLow || i.Confidence == ConfidenceSynthetic
}

// Resolved reports whether the intent names two distinct assets.
func (i *Intent) Resolved() bool {
	return i.TokenIn != "" && i.TokenOut != "" && i.TokenIn != i.TokenOut
}

// StrategyFunc inspects a view and returns an intent when it applies.
// Implementations must not mutate the view.
type StrategyFunc func(v *solana.TxView) (*Intent, bool)

// DefaultChain is the strategy order used by New.
func DefaultChain() []StrategyFunc {
	return []StrategyFunc{
		tokenDeltaStrategy,
		nativeDeltaStrategy,
		accountPositionStrategy,
		patternStrategy,
	}
}

// Decoder applies a strategy chain to records.
type Decoder struct {
	chain   []StrategyFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a decoder using DefaultChain. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Decoder {
	return NewWithChain(DefaultChain(), logger, m)
}

// NewWithChain returns a decoder over a custom chain.
func NewWithChain(chain []StrategyFunc, logger *slog.Logger, m *metrics.Metrics) *Decoder {
	return &Decoder{chain: chain, logger: logger, metrics: m}
}

// Decode returns the intent for rec, or false when no strategy matched or
// the record could not be normalized.
func (d *Decoder) Decode(rec *solana.Record) (*Intent, bool) {
	view, err := rec.View()
	if err != nil {
		d.logger.Debug("record could not be normalized",
			"signature", rec.Signature,
			"error", err,
		)
		d.record("invalid")
		return nil, false
	}
	return d.DecodeView(view)
}

// DecodeView runs the chain on an already normalized view.
func (d *Decoder) DecodeView(view *solana.TxView) (*Intent, bool) {
	if view.Failed {
		d.record("failed")
		return nil, false
	}

	for _, strategy := range d.chain {
		intent, ok := strategy(view)
		if !ok {
			continue
		}
		intent.Signature = view.Signature
		intent.MasterAmount = intent.AmountIn

		d.logger.Debug("decoded trade intent",
			"signature", view.Signature,
			"strategy", intent.Strategy,
			"confidence", intent.Confidence,
			"is_buy", intent.IsBuy,
			"token_in", intent.TokenIn,
			"token_out", intent.TokenOut,
			"amount_in", intent.AmountIn,
		)
		d.record(string(intent.Strategy))
		return intent, true
	}

	d.record("none")
	return nil, false
}

func (d *Decoder) record(outcome string) {
	if d.metrics != nil {
		d.metrics.RecordDecode(outcome)
	}
}
