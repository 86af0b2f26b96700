package decoder

import (
	"math"

	"github.com/brojonat/solmirror/service/solana"
)

const (
	// TokenEpsilon is the smallest token balance change treated as movement.
	TokenEpsilon = 0.0001

	// NativeThresholdLamports is the smallest native change (0.001 SOL) the
	// native-only strategy accepts.
	NativeThresholdLamports = 1_000_000

	// NominalAmount is used when a strategy cannot recover the amount.
	NominalAmount = 0.1
)

type tokenChange struct {
	mint   string
	amount float64
}

// tokenChanges returns the first decreased ("spent") and the first
// increased ("received") token account, in post-balance order.
func tokenChanges(v *solana.TxView) (spent, received *tokenChange) {
	pre := make(map[int]solana.TokenBalance, len(v.PreTokenBalances))
	for _, b := range v.PreTokenBalances {
		pre[b.AccountIndex] = b
	}

	for _, post := range v.PostTokenBalances {
		change := post.Amount - pre[post.AccountIndex].Amount
		if math.Abs(change) <= TokenEpsilon {
			continue
		}
		if change < 0 && spent == nil {
			spent = &tokenChange{mint: post.Mint, amount: -change}
		}
		if change > 0 && received == nil {
			received = &tokenChange{mint: post.Mint, amount: change}
		}
	}
	return spent, received
}

// largestNativeDelta picks the account whose lamport balance moved the
// most and returns its signed change.
func largestNativeDelta(v *solana.TxView) (index int, delta int64, ok bool) {
	n := min(len(v.PreBalances), len(v.PostBalances))
	for i := range n {
		d := int64(v.PostBalances[i]) - int64(v.PreBalances[i])
		if d == 0 {
			continue
		}
		if !ok || abs64(d) > abs64(delta) {
			index, delta, ok = i, d, true
		}
	}
	return index, delta, ok
}

// swapInstruction returns the first top-level instruction that invokes a
// known DEX or aggregator program.
func swapInstruction(v *solana.TxView) *solana.Instruction {
	for i := range v.Instructions {
		if DEXName(v.Instructions[i].ProgramID) != "" {
			return &v.Instructions[i]
		}
	}
	return nil
}

func dexOf(v *solana.TxView) string {
	if ix := swapInstruction(v); ix != nil {
		return DEXName(ix.ProgramID)
	}
	return "unknown"
}

func lamportsToSOL(l int64) float64 {
	return float64(l) / solana.LamportsPerSOL
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
