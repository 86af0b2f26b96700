package solana

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc"
)

// ErrEmptyRecord is returned when a record carries no transaction body.
var ErrEmptyRecord = errors.New("record has no transaction body")

// View normalizes the record into a TxView regardless of which transport
// produced it.
func (r *Record) View() (*TxView, error) {
	switch r.Source {
	case SourceStream:
		if r.Stream == nil {
			return nil, ErrEmptyRecord
		}
		return viewFromStream(r.Signature, r.Stream, r.Raw), nil
	case SourcePoll:
		if r.Poll == nil || r.Poll.Transaction == nil {
			return nil, ErrEmptyRecord
		}
		return viewFromPoll(r.Signature, r.Poll, r.Raw)
	default:
		return nil, fmt.Errorf("unknown record source %q", r.Source)
	}
}

// Failed reports whether the transaction carries an on-chain error.
func (r *Record) Failed() bool {
	switch r.Source {
	case SourceStream:
		return r.Stream != nil && r.Stream.Meta != nil && metaErrSet(r.Stream.Meta.Err)
	case SourcePoll:
		return r.Poll != nil && r.Poll.Meta != nil && r.Poll.Meta.Err != nil
	}
	return false
}

func metaErrSet(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func viewFromStream(signature string, tx *StreamTransaction, raw []byte) *TxView {
	if signature == "" {
		signature = tx.Signature
	}

	view := &TxView{
		Signature:   signature,
		AccountKeys: tx.AccountKeys,
		Raw:         raw,
	}

	for _, ix := range tx.Instructions {
		view.Instructions = append(view.Instructions, resolveInstruction(tx.AccountKeys, ix.ProgramIDIndex, ix.Accounts))
	}

	if meta := tx.Meta; meta != nil {
		view.PreBalances = meta.PreBalances
		view.PostBalances = meta.PostBalances
		view.LogMessages = meta.LogMessages
		view.Failed = metaErrSet(meta.Err)
		view.PreTokenBalances = streamTokenBalances(meta.PreTokenBalances)
		view.PostTokenBalances = streamTokenBalances(meta.PostTokenBalances)
	}

	return view
}

func streamTokenBalances(in []StreamTokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		out = append(out, TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       uiAmount(b.UITokenAmount.UIAmount, b.UITokenAmount.Amount, b.UITokenAmount.Decimals),
		})
	}
	return out
}

func viewFromPoll(signature string, result *rpc.GetTransactionResult, raw []byte) (*TxView, error) {
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	keys := make([]string, 0, len(tx.Message.AccountKeys))
	for _, k := range tx.Message.AccountKeys {
		keys = append(keys, k.String())
	}

	view := &TxView{
		Signature: signature,
		Raw:       raw,
	}
	if view.Signature == "" && len(tx.Signatures) > 0 {
		view.Signature = tx.Signatures[0].String()
	}

	if meta := result.Meta; meta != nil {
		// Address lookup table entries follow the static keys, writable first.
		for _, k := range meta.LoadedAddresses.Writable {
			keys = append(keys, k.String())
		}
		for _, k := range meta.LoadedAddresses.ReadOnly {
			keys = append(keys, k.String())
		}

		view.PreBalances = meta.PreBalances
		view.PostBalances = meta.PostBalances
		view.LogMessages = meta.LogMessages
		view.Failed = meta.Err != nil
		view.PreTokenBalances = rpcTokenBalances(meta.PreTokenBalances)
		view.PostTokenBalances = rpcTokenBalances(meta.PostTokenBalances)
	}
	view.AccountKeys = keys

	for _, ix := range tx.Message.Instructions {
		view.Instructions = append(view.Instructions, resolveInstruction(keys, ix.ProgramIDIndex, ix.Accounts))
	}

	return view, nil
}

func rpcTokenBalances(in []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		tb := TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Amount = uiAmount(b.UiTokenAmount.UiAmount, b.UiTokenAmount.Amount, b.UiTokenAmount.Decimals)
		}
		out = append(out, tb)
	}
	return out
}

// uiAmount prefers the node-provided UI amount and falls back to scaling
// the raw integer amount by decimals.
func uiAmount(ui *float64, raw string, decimals uint8) float64 {
	if ui != nil {
		return *ui
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	for range decimals {
		n /= 10
	}
	return n
}

func resolveInstruction(keys []string, programIndex uint16, accounts []uint16) Instruction {
	ix := Instruction{ProgramID: keyAt(keys, int(programIndex))}
	for _, idx := range accounts {
		if k := keyAt(keys, int(idx)); k != "" {
			ix.Accounts = append(ix.Accounts, k)
		}
	}
	return ix
}

func keyAt(keys []string, idx int) string {
	if idx < 0 || idx >= len(keys) {
		return ""
	}
	return keys[idx]
}
