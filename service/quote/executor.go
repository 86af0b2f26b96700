package quote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Signer is the key custody collaborator: it can sign a transaction for the
// follower wallet and name that wallet's address.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// Chain is the on-chain side of execution.
type Chain interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
}

// ConfirmStatus is the outcome of waiting for a submitted transaction.
type ConfirmStatus string

const (
	ConfirmConfirmed ConfirmStatus = "confirmed"
	// ConfirmUnknown means the wait timed out; the transaction may still land.
	ConfirmUnknown ConfirmStatus = "unknown"
	ConfirmFailed  ConfirmStatus = "failed"
)

// ErrTransactionFailed is returned by Confirm when the chain reports an
// execution error for the signature.
var ErrTransactionFailed = errors.New("transaction failed on chain")

// Executor obtains quotes and swap transactions from the aggregator, signs
// them, submits them, and waits for confirmation.
type Executor struct {
	quotes  *Client
	chain   Chain
	signer  Signer
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics

	// PollInterval is how often Confirm checks signature status.
	PollInterval time.Duration
}

// NewExecutor wires an executor. The policy also governs submission retries.
func NewExecutor(quotes *Client, chain Chain, signer Signer, policy Policy, logger *slog.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		quotes:       quotes,
		chain:        chain,
		signer:       signer,
		policy:       policy,
		logger:       logger,
		metrics:      m,
		PollInterval: 500 * time.Millisecond,
	}
}

// PublicKey is the follower wallet address.
func (e *Executor) PublicKey() solana.PublicKey {
	return e.signer.PublicKey()
}

// Quote requests a route for amount (smallest units of tokenIn).
func (e *Executor) Quote(ctx context.Context, tokenIn, tokenOut string, amount uint64, slippageBps int) (*Quote, error) {
	q, err := e.quotes.Quote(ctx, QuoteRequest{
		InputMint:   tokenIn,
		OutputMint:  tokenOut,
		Amount:      amount,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return q, nil
}

// BuildSignedSwap fetches the swap transaction for q and signs it with the
// follower key.
func (e *Executor) BuildSignedSwap(ctx context.Context, q *Quote, priorityFeeLamports uint64) (*solana.Transaction, error) {
	encoded, err := e.quotes.SwapTransaction(ctx, q, e.signer.PublicKey().String(), priorityFeeLamports)
	if err != nil {
		return nil, fmt.Errorf("failed to get swap transaction: %w", err)
	}

	tx, err := DecodeTransaction(encoded)
	if err != nil {
		return nil, err
	}

	if err := e.signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign swap transaction: %w", err)
	}
	return tx, nil
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse swap transaction: %w", err)
	}
	return tx, nil
}

// Submit sends a signed transaction, retrying transport failures under the
// executor's policy.
func (e *Executor) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		s, err := e.chain.SendTransaction(ctx, tx)
		if err != nil {
			return err
		}
		sig = s
		return nil
	}, func(err error, wait time.Duration) {
		e.logger.WarnContext(ctx, "submit failed, retrying",
			"kind", Classify(err),
			"backoff_seconds", wait.Seconds(),
			"error", err,
		)
		if e.metrics != nil {
			e.metrics.RecordRPCRetry("SendTransaction", string(Classify(err)))
		}
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to submit transaction: %w", err)
	}
	return sig, nil
}

// Confirm waits up to timeout for sig to reach confirmed commitment.
// A timeout is not an error: it returns ConfirmUnknown so the caller can
// record the trade as submitted with unknown status. An on-chain execution
// error returns ConfirmFailed and ErrTransactionFailed.
func (e *Executor) Confirm(ctx context.Context, sig solana.Signature, timeout time.Duration) (ConfirmStatus, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.chain.SignatureStatus(waitCtx, sig)
		if err != nil {
			e.logger.DebugContext(ctx, "signature status lookup failed",
				"signature", sig.String(),
				"error", err,
			)
		} else if status != nil {
			if status.Err != nil {
				return ConfirmFailed, fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return ConfirmConfirmed, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ConfirmUnknown, ctx.Err()
			}
			e.logger.WarnContext(ctx, "confirmation timed out, treating as submitted",
				"signature", sig.String(),
				"timeout", timeout,
			)
			return ConfirmUnknown, nil
		case <-ticker.C:
		}
	}
}
