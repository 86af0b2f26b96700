package decoder

// Programs whose instructions are treated as the swap instruction of a
// transaction, mapped to the venue name reported on intents.
var dexPrograms = map[string]string{
	"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4":  "jupiter",
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": "raydium",
	"CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C": "raydium_cpmm",
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  "orca",
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo":  "meteora",
	"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P":  "pumpfun",
}

// Infrastructure programs that never stand for a traded asset.
var systemPrograms = map[string]struct{}{
	"11111111111111111111111111111111":             {},
	"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA":  {},
	"TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb":  {},
	"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL": {},
	"ComputeBudget111111111111111111111111111111":  {},
	"SysvarRent111111111111111111111111111111111":  {},
}

// swapKeywords trigger the pattern fallback.
var swapKeywords = []string{"swap", "trade", "jupiter", "raydium", "orca", "meteora", "pump"}

// DEXName returns the venue name for a program id, or "" if unknown.
func DEXName(programID string) string {
	return dexPrograms[programID]
}

func isInfrastructure(address string) bool {
	if _, ok := systemPrograms[address]; ok {
		return true
	}
	_, ok := dexPrograms[address]
	return ok
}
