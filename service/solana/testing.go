package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// NewPollResult builds an RPC transaction result the way a node returns it
// for base64 encoding. It is used by tests across packages.
func NewPollResult(tx *solana.Transaction, meta *rpc.TransactionMeta, slot uint64) (*rpc.GetTransactionResult, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"slot":        slot,
		"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
	})
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to build envelope: %w", err)
	}
	result.Meta = meta
	return &result, nil
}

// TestSignature returns a deterministic signature whose first byte is b.
func TestSignature(b byte) solana.Signature {
	var sig solana.Signature
	sig[0] = b
	sig[63] = b
	return sig
}
