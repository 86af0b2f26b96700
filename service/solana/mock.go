package solana

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPCClient is an in-memory RPCClient for tests.
// Configure the exported fields before use; all methods are safe for
// concurrent use.
type MockRPCClient struct {
	mu sync.Mutex

	// SignatureBatches are returned by successive GetSignaturesForAddress
	// calls; once exhausted the last batch repeats.
	SignatureBatches [][]*rpc.TransactionSignature
	SignaturesErr    error

	Transactions map[string]*rpc.GetTransactionResult
	// TransactionErrs are consumed one per GetTransaction call for the
	// signature before the transaction itself is returned.
	TransactionErrs map[string][]error

	Lamports      uint64
	TokenAccounts map[string]*rpc.UiTokenAmount // keyed by token account address
	Blockhash     solana.Hash

	SendErr       error
	SendSignature solana.Signature
	Sent          []*solana.Transaction

	Statuses map[string]*rpc.SignatureStatusesResult

	calls map[string]int
}

// NewMockRPCClient returns an empty mock.
func NewMockRPCClient() *MockRPCClient {
	return &MockRPCClient{
		Transactions:    make(map[string]*rpc.GetTransactionResult),
		TransactionErrs: make(map[string][]error),
		TokenAccounts:   make(map[string]*rpc.UiTokenAmount),
		Statuses:        make(map[string]*rpc.SignatureStatusesResult),
		calls:           make(map[string]int),
	}
}

// Calls returns how many times method was invoked.
func (m *MockRPCClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// AddSignatureBatch appends the response for the next signatures call.
func (m *MockRPCClient) AddSignatureBatch(sigs ...*rpc.TransactionSignature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignatureBatches = append(m.SignatureBatches, sigs)
}

func (m *MockRPCClient) count(method string) int {
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
	return m.calls[method]
}

func (m *MockRPCClient) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.count("GetSignaturesForAddress")
	if m.SignaturesErr != nil {
		return nil, m.SignaturesErr
	}
	if len(m.SignatureBatches) == 0 {
		return nil, nil
	}
	idx := min(n-1, len(m.SignatureBatches)-1)
	return m.SignatureBatches[idx], nil
}

func (m *MockRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetTransaction")
	key := signature.String()
	if errs := m.TransactionErrs[key]; len(errs) > 0 {
		m.TransactionErrs[key] = errs[1:]
		return nil, errs[0]
	}
	result, ok := m.Transactions[key]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return result, nil
}

func (m *MockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetBalance")
	return &rpc.GetBalanceResult{Value: m.Lamports}, nil
}

func (m *MockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetTokenAccountBalance")
	amount, ok := m.TokenAccounts[account.String()]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetTokenAccountBalanceResult{Value: amount}, nil
}

func (m *MockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetLatestBlockhash")
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.Blockhash},
	}, nil
}

func (m *MockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SendTransaction")
	if m.SendErr != nil {
		return solana.Signature{}, m.SendErr
	}
	m.Sent = append(m.Sent, tx)
	if m.SendSignature != (solana.Signature{}) {
		return m.SendSignature, nil
	}
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{}, nil
}

func (m *MockRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetSignatureStatuses")
	out := &rpc.GetSignatureStatusesResult{}
	for _, sig := range signatures {
		out.Value = append(out.Value, m.Statuses[sig.String()])
	}
	return out, nil
}
