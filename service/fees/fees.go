// Package fees implements lot sizing and the slippage, fee and tip
// arithmetic applied to every mirrored order. Nothing here does I/O.
package fees

import (
	"fmt"
	"math"
	"strings"
)

const (
	// BaseFee is the fixed per-signature network fee in SOL.
	BaseFee = 0.000005

	// DefaultTxSize is the byte size used for the size-proportional fee.
	DefaultTxSize = 1232

	// SizeFeePerKB is charged per 1000 bytes of transaction size, in SOL.
	SizeFeePerKB = 0.000001

	// LamportsPerSOL converts native units to lamports.
	LamportsPerSOL = 1_000_000_000
)

// LotSizeMode selects how a master trade amount maps to the follower amount.
type LotSizeMode string

const (
	ModeFixed      LotSizeMode = "fixed"
	ModePercentage LotSizeMode = "percentage"
	ModeMultiplier LotSizeMode = "multiplier"
)

// ParseLotSizeMode normalizes a configured mode. Unknown values are
// returned unchanged and SizeOrder treats them as 1:1 mirroring.
func ParseLotSizeMode(s string) LotSizeMode {
	return LotSizeMode(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether m is one of the recognised modes.
func (m LotSizeMode) Valid() bool {
	switch m {
	case ModeFixed, ModePercentage, ModeMultiplier:
		return true
	}
	return false
}

// SizeOrder maps the master's trade amount to the follower's amount.
func SizeOrder(masterAmount float64, mode LotSizeMode, value float64) float64 {
	var out float64
	switch mode {
	case ModeFixed:
		out = value
	case ModePercentage:
		out = masterAmount * value / 100
	case ModeMultiplier:
		out = masterAmount * value
	default:
		out = masterAmount
	}
	return math.Max(0, out)
}

// SlippageAdjust inflates amount by the tolerated slippage.
func SlippageAdjust(amount, slippagePercent float64) float64 {
	return amount * (1 + slippagePercent/100)
}

// Model carries the configured fee parameters.
type Model struct {
	SlippagePercent float64
	TipsAmount      float64
	FeeBuffer       float64
	TxSize          int
}

// NewModel returns a Model using the default transaction size.
func NewModel(slippagePercent, tipsAmount, feeBuffer float64) Model {
	return Model{
		SlippagePercent: slippagePercent,
		TipsAmount:      tipsAmount,
		FeeBuffer:       feeBuffer,
		TxSize:          DefaultTxSize,
	}
}

// SizeFee is the size-proportional part of the network fee.
func (m Model) SizeFee() float64 {
	size := m.TxSize
	if size <= 0 {
		size = DefaultTxSize
	}
	return float64(size) / 1000 * SizeFeePerKB
}

// TotalFees is base fee + size fee + tip + buffer, in SOL.
func (m Model) TotalFees() float64 {
	return BaseFee + m.SizeFee() + m.TipsAmount + m.FeeBuffer
}

// SlippageBps converts the configured slippage percent to basis points.
func (m Model) SlippageBps() int {
	return int(math.Round(m.SlippagePercent * 100))
}

// PriorityFeeLamports is the tip expressed in lamports, as sent to the aggregator.
func (m Model) PriorityFeeLamports() uint64 {
	return uint64(math.Round(m.TipsAmount * LamportsPerSOL))
}

// Breakdown is the cost of executing one sized order.
type Breakdown struct {
	Amount           float64 `json:"amount"`
	SlippageAdjusted float64 `json:"slippage_adjusted"`
	Fees             float64 `json:"fees"`
	Tips             float64 `json:"tips"`
	TotalCost        float64 `json:"total_cost"`
	FinalAmount      float64 `json:"final_amount"`
}

// CostBreakdown computes what a buy costs, or what a sell returns.
func (m Model) CostBreakdown(amount float64, isBuy bool) Breakdown {
	adjusted := SlippageAdjust(amount, m.SlippagePercent)
	fees := m.TotalFees()

	b := Breakdown{
		Amount:           amount,
		SlippageAdjusted: adjusted,
		Fees:             fees,
		Tips:             m.TipsAmount,
	}
	if isBuy {
		b.TotalCost = adjusted + fees
		b.FinalAmount = amount
	} else {
		b.TotalCost = fees
		b.FinalAmount = math.Max(0, adjusted-fees)
	}
	return b
}

// InsufficientBalanceError is returned by Validate when the follower
// cannot cover the order.
type InsufficientBalanceError struct {
	Required  float64
	Available float64
}

// Shortfall is how much is missing.
func (e *InsufficientBalanceError) Shortfall() float64 {
	return e.Required - e.Available
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %.6f, have %.6f (short %.6f)",
		e.Required, e.Available, e.Shortfall())
}

// Validate checks that availableBalance covers the order. A buy must
// cover its total cost; a sell must cover the amount being sold.
func (m Model) Validate(amount, availableBalance float64, isBuy bool) (Breakdown, error) {
	b := m.CostBreakdown(amount, isBuy)

	required := amount
	if isBuy {
		required = b.TotalCost
	}
	if availableBalance < required {
		return b, &InsufficientBalanceError{Required: required, Available: availableBalance}
	}
	return b, nil
}

// Summary describes the fee configuration for display.
type Summary struct {
	SlippagePercent     float64 `json:"slippage_percent"`
	SlippageBps         int     `json:"slippage_bps"`
	BaseFee             float64 `json:"base_fee"`
	SizeFee             float64 `json:"size_fee"`
	Tips                float64 `json:"tips"`
	PriorityFeeLamports uint64  `json:"priority_fee_lamports"`
	FeeBuffer           float64 `json:"fee_buffer"`
	TotalFees           float64 `json:"total_fees"`
}

// Describe returns the fee parameters in their derived forms.
func (m Model) Describe() Summary {
	return Summary{
		SlippagePercent:     m.SlippagePercent,
		SlippageBps:         m.SlippageBps(),
		BaseFee:             BaseFee,
		SizeFee:             m.SizeFee(),
		Tips:                m.TipsAmount,
		PriorityFeeLamports: m.PriorityFeeLamports(),
		FeeBuffer:           m.FeeBuffer,
		TotalFees:           m.TotalFees(),
	}
}
