package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/quote"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrTransactionNotFound is returned when the node has no record of a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// Client wraps RPCClient with the operations the feed and executor use,
// recording metrics and retrying rate-limited fetches.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // metrics label, e.g. "mainnet" or the RPC host

	// Policy governs GetTransaction retries; only rate limits are retried.
	Policy quote.Policy

	onRetry func(wait time.Duration)
}

// RateLimitPolicy retries rate-limited calls three times in total, waiting
// 2s then 4s.
func RateLimitPolicy() quote.Policy {
	return quote.Policy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		Multiplier:      2,
		Retryable:       isRateLimited,
	}
}

// NewClient creates a new Solana client. If m is nil no metrics are recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		Policy:   RateLimitPolicy(),
	}
}

// RPC exposes the underlying RPC client.
func (c *Client) RPC() RPCClient {
	return c.rpc
}

// RecentSignatures returns up to limit signatures for wallet, newest first.
func (c *Client) RecentSignatures(ctx context.Context, wallet solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, wallet, opts)
	c.recordCall("GetSignaturesForAddress", err, start)
	if err != nil {
		if isRateLimited(err) && c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"wallet", wallet.String(),
		"count", len(signatures),
	)
	return signatures, nil
}

// FetchTransaction retrieves one confirmed transaction. Rate-limited calls
// are retried under Policy; any other error is returned immediately.
func (c *Client) FetchTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	var result *rpc.GetTransactionResult
	attempts := 0
	err := c.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt + 1
		start := time.Now()
		out, err := c.rpc.GetTransaction(ctx, signature, opts)
		c.recordCall("GetTransaction", err, start)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if out == nil {
			return ErrTransactionNotFound
		}
		result = out
		return nil
	}, func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"signature", signature.String(),
			"attempt", attempts,
			"backoff_seconds", wait.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
			c.metrics.RecordRPCRetry("GetTransaction", "rate_limit")
		}
		if c.onRetry != nil {
			c.onRetry(wait)
		}
	})

	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, ErrTransactionNotFound):
		return nil, ErrTransactionNotFound
	case isRateLimited(err):
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		return nil, fmt.Errorf("giving up on transaction %s after %d attempts: %w", signature, attempts, err)
	default:
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
}

// NativeBalance returns the SOL balance of owner.
func (c *Client) NativeBalance(ctx context.Context, owner solana.PublicKey) (float64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	c.recordCall("GetBalance", err, start)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return float64(out.Value) / LamportsPerSOL, nil
}

// TokenBalance returns owner's UI balance of mint and the mint's decimals,
// read from the owner's associated token account. A missing account is a
// zero balance.
func (c *Client) TokenBalance(ctx context.Context, owner solana.PublicKey, mint solana.PublicKey) (float64, uint8, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	c.recordCall("GetTokenAccountBalance", err, start)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, 0, nil
	}
	return uiAmount(out.Value.UiAmount, out.Value.Amount, out.Value.Decimals), out.Value.Decimals, nil
}

// LatestBlockhash returns a recent blockhash for re-signing.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.recordCall("GetLatestBlockhash", err, start)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction without preflight.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	maxRetries := uint(2)
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &maxRetries,
	})
	c.recordCall("SendTransaction", err, start)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus returns the status of one signature, or nil if the node
// has not seen it yet.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.recordCall("GetSignatureStatuses", err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

func (c *Client) recordCall(method string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// isRateLimited reports whether err is a 429 from the node.
func isRateLimited(err error) bool {
	return err != nil && quote.IsRateLimitText(err.Error())
}
