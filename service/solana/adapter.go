package solana

import (
	"context"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the subset of Solana RPC the mirror needs.
// Tests substitute a mock; production wraps solana-go's rpc.Client.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// realRPCClient adapts the solana-go RPC client to RPCClient.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps a single RPC endpoint. Provider API keys go in the URL.
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.client.GetTransaction(ctx, signature, opts)
}

func (r *realRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return r.client.GetBalance(ctx, account, commitment)
}

func (r *realRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	return r.client.GetTokenAccountBalance(ctx, account, commitment)
}

func (r *realRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return r.client.GetLatestBlockhash(ctx, commitment)
}

func (r *realRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return r.client.SendTransactionWithOpts(ctx, tx, opts)
}

func (r *realRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return r.client.GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
}

// multiRPCClient spreads calls across several endpoints, picking one at
// random per call so a single rate-limited provider does not stall the feed.
type multiRPCClient struct {
	clients []RPCClient
}

// NewMultiRPCClient returns an RPCClient over every URL. With one URL it is
// equivalent to NewRPCClient.
func NewMultiRPCClient(rpcURLs []string) RPCClient {
	if len(rpcURLs) == 1 {
		return NewRPCClient(rpcURLs[0])
	}
	m := &multiRPCClient{}
	for _, u := range rpcURLs {
		m.clients = append(m.clients, NewRPCClient(u))
	}
	return m
}

func (m *multiRPCClient) pick() RPCClient {
	return m.clients[rand.IntN(len(m.clients))]
}

func (m *multiRPCClient) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return m.pick().GetSignaturesForAddress(ctx, address, opts)
}

func (m *multiRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return m.pick().GetTransaction(ctx, signature, opts)
}

func (m *multiRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return m.pick().GetBalance(ctx, account, commitment)
}

func (m *multiRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	return m.pick().GetTokenAccountBalance(ctx, account, commitment)
}

func (m *multiRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return m.pick().GetLatestBlockhash(ctx, commitment)
}

// SendTransactionWithOpts always uses the first endpoint so submissions go
// to a stable, usually premium, provider.
func (m *multiRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return m.clients[0].SendTransactionWithOpts(ctx, tx, opts)
}

func (m *multiRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return m.pick().GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
}
