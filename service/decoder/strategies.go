package decoder

import (
	"strings"

	"github.com/brojonat/solmirror/service/solana"
)

// tokenDeltaStrategy reads direction from the native balance and the traded
// token from token balance changes.
func tokenDeltaStrategy(v *solana.TxView) (*Intent, bool) {
	if len(v.PostTokenBalances) == 0 {
		return nil, false
	}

	spent, received := tokenChanges(v)
	_, native, hasNative := largestNativeDelta(v)
	// fee-only movement says nothing about direction
	if hasNative && abs64(native) <= NativeThresholdLamports {
		hasNative = false
	}

	intent := &Intent{
		DEX:        dexOf(v),
		Strategy:   StrategyTokenDelta,
		Confidence: ConfidenceHigh,
	}

	switch {
	case hasNative && native < 0:
		if received == nil || received.mint == solana.NativeMint {
			return nil, false
		}
		if spent != nil && spent.mint == received.mint {
			return nil, false
		}
		intent.IsBuy = true
		intent.TokenIn = solana.NativeMint
		intent.TokenOut = received.mint
		intent.AmountIn = lamportsToSOL(-native)
		intent.AmountOut = received.amount

	case hasNative && native > 0:
		if spent == nil || spent.mint == solana.NativeMint {
			return nil, false
		}
		if received != nil && received.mint == spent.mint {
			return nil, false
		}
		intent.TokenIn = spent.mint
		intent.TokenOut = solana.NativeMint
		intent.AmountIn = spent.amount
		intent.AmountOut = lamportsToSOL(native)

	default:
		// Token to token, native leg routed through wrapped SOL or absent.
		if spent == nil || received == nil || spent.mint == received.mint {
			return nil, false
		}
		intent.IsBuy = spent.mint == solana.NativeMint
		intent.TokenIn = spent.mint
		intent.TokenOut = received.mint
		intent.AmountIn = spent.amount
		intent.AmountOut = received.amount
	}

	return intent, true
}

// nativeDeltaStrategy uses only the native balance change and looks for the
// counter asset among the swap instruction's leading accounts.
func nativeDeltaStrategy(v *solana.TxView) (*Intent, bool) {
	_, native, ok := largestNativeDelta(v)
	if !ok || abs64(native) <= NativeThresholdLamports {
		return nil, false
	}

	ix := swapInstruction(v)
	if ix == nil || len(ix.Accounts) < 3 {
		return nil, false
	}

	var counter string
	for _, addr := range ix.Accounts[1:min(5, len(ix.Accounts))] {
		if addr != solana.NativeMint && !isInfrastructure(addr) {
			counter = addr
			break
		}
	}
	if counter == "" {
		return nil, false
	}

	intent := &Intent{
		DEX:        DEXName(ix.ProgramID),
		Strategy:   StrategyNativeDelta,
		Confidence: ConfidenceMedium,
	}
	if native < 0 {
		intent.IsBuy = true
		intent.TokenIn = solana.NativeMint
		intent.TokenOut = counter
		intent.AmountIn = lamportsToSOL(-native)
	} else {
		intent.TokenIn = counter
		intent.TokenOut = solana.NativeMint
		intent.AmountIn = NominalAmount
		intent.AmountOut = lamportsToSOL(native)
	}
	return intent, true
}

// accountPositionStrategy assumes the aggregator convention that the
// second and third accounts of the swap instruction are the input and
// output mints.
func accountPositionStrategy(v *solana.TxView) (*Intent, bool) {
	ix := swapInstruction(v)
	if ix == nil || len(ix.Accounts) < 3 {
		return nil, false
	}

	in, out := ix.Accounts[1], ix.Accounts[2]
	if in == out {
		return nil, false
	}

	intent := &Intent{
		TokenIn:    in,
		TokenOut:   out,
		IsBuy:      in == solana.NativeMint,
		AmountIn:   NominalAmount,
		DEX:        DEXName(ix.ProgramID),
		Strategy:   StrategyAccountPosition,
		Confidence: ConfidenceLow,
	}
	if _, native, ok := largestNativeDelta(v); ok && intent.IsBuy && abs64(native) > NativeThresholdLamports {
		intent.AmountIn = lamportsToSOL(abs64(native))
	}
	return intent, true
}

// patternStrategy emits a synthetic intent when the payload merely looks
// like a swap. Its counter asset is unknown, so TokenIn equals TokenOut.
func patternStrategy(v *solana.TxView) (*Intent, bool) {
	var sb strings.Builder
	sb.Write(v.Raw)
	for _, line := range v.LogMessages {
		sb.WriteByte('\n')
		sb.WriteString(line)
	}
	text := strings.ToLower(sb.String())

	dex := ""
	for _, k := range v.AccountKeys {
		if name := DEXName(k); name != "" {
			dex = name
			break
		}
	}

	matched := dex != ""
	for _, kw := range swapKeywords {
		if strings.Contains(text, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, false
	}
	if dex == "" {
		dex = "unknown"
	}

	return &Intent{
		TokenIn:    solana.NativeMint,
		TokenOut:   solana.NativeMint,
		AmountIn:   NominalAmount,
		IsBuy:      true,
		DEX:        dex,
		Strategy:   StrategyPattern,
		Confidence: ConfidenceSynthetic,
	}, true
}
