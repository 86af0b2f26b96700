package solana

import (
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

const (
	// NativeMint is the wrapped SOL mint, used as the native asset's mint.
	NativeMint = "So11111111111111111111111111111111111111112"

	// LamportsPerSOL converts lamports to SOL.
	LamportsPerSOL = 1_000_000_000
)

// Source identifies which transport produced a Record.
type Source string

const (
	SourceStream Source = "stream"
	SourcePoll   Source = "poll"
)

// Record is one raw transaction delivered by the feed watcher.
// It is a tagged variant: Stream is set when Source is SourceStream,
// Poll is set when Source is SourcePoll. Records are never mutated
// after they leave the watcher.
type Record struct {
	Signature  string
	Slot       uint64
	Source     Source
	ReceivedAt time.Time

	Stream *StreamTransaction
	Poll   *rpc.GetTransactionResult

	// Raw is the payload as received (the stream frame, or the JSON
	// encoded RPC result). Only the pattern fallback reads it.
	Raw []byte
}

// StreamTransaction is the transaction body of a stream "transaction" frame.
type StreamTransaction struct {
	Signature    string              `json:"signature"`
	AccountKeys  []string            `json:"accountKeys"`
	Instructions []StreamInstruction `json:"instructions"`
	Meta         *StreamMeta         `json:"meta"`
}

// StreamInstruction is a compiled instruction with indexes into AccountKeys.
type StreamInstruction struct {
	ProgramIDIndex uint16   `json:"programIdIndex"`
	Accounts       []uint16 `json:"accounts"`
	Data           string   `json:"data,omitempty"`
}

// StreamMeta mirrors the execution metadata carried by stream frames.
type StreamMeta struct {
	Err               json.RawMessage      `json:"err,omitempty"`
	Fee               uint64               `json:"fee"`
	PreBalances       []uint64             `json:"preBalances"`
	PostBalances      []uint64             `json:"postBalances"`
	PreTokenBalances  []StreamTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []StreamTokenBalance `json:"postTokenBalances"`
	LogMessages       []string             `json:"logMessages"`
}

// StreamTokenBalance is a token balance entry of a stream frame.
type StreamTokenBalance struct {
	AccountIndex  uint16            `json:"accountIndex"`
	Mint          string            `json:"mint"`
	Owner         string            `json:"owner,omitempty"`
	UITokenAmount StreamTokenAmount `json:"uiTokenAmount"`
}

// StreamTokenAmount is the UI-scaled token amount.
type StreamTokenAmount struct {
	UIAmount *float64 `json:"uiAmount"`
	Amount   string   `json:"amount"`
	Decimals uint8    `json:"decimals"`
}

// TxView is the normalized, source-independent shape the decoder works on.
type TxView struct {
	Signature         string
	AccountKeys       []string
	Instructions      []Instruction
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LogMessages       []string
	Failed            bool
	Raw               []byte
}

// Instruction is a compiled instruction with its program and account
// indexes already resolved to addresses.
type Instruction struct {
	ProgramID string
	Accounts  []string
}

// TokenBalance is a token account balance at one side of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       float64
}
