// Package keystore provides the follower wallet's signing key.
//
// Key material arrives either as a base58 private key or as a solana-keygen
// JSON file; storage and encryption of that material happen elsewhere.
package keystore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrNoKey is returned when neither a key nor a keypair file is configured.
var ErrNoKey = errors.New("no follower key configured")

// Keypair signs transactions with an in-memory private key.
type Keypair struct {
	private solana.PrivateKey
	public  solana.PublicKey
}

// FromBase58 parses a base58 encoded 64-byte private key.
func FromBase58(encoded string) (*Keypair, error) {
	pk, err := solana.PrivateKeyFromBase58(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newKeypair(pk)
}

// FromFile reads a solana-keygen JSON keypair file.
func FromFile(path string) (*Keypair, error) {
	pk, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file %s: %w", path, err)
	}
	return newKeypair(pk)
}

// Load prefers an inline key and falls back to a keypair file.
func Load(encoded, path string) (*Keypair, error) {
	switch {
	case encoded != "":
		return FromBase58(encoded)
	case path != "":
		return FromFile(path)
	default:
		return nil, ErrNoKey
	}
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	pk, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newKeypair(pk)
}

func newKeypair(pk solana.PrivateKey) (*Keypair, error) {
	if len(pk) != 64 {
		return nil, fmt.Errorf("invalid private key length %d", len(pk))
	}
	return &Keypair{private: pk, public: pk.PublicKey()}, nil
}

// PublicKey returns the wallet address.
func (k *Keypair) PublicKey() solana.PublicKey {
	return k.public
}

// PublicAddress returns the wallet address in base58.
func (k *Keypair) PublicAddress() string {
	return k.public.String()
}

// SignTransaction replaces any placeholder signatures on tx with a
// signature from this key. It fails if the message requires other signers.
func (k *Keypair) SignTransaction(tx *solana.Transaction) error {
	tx.Signatures = nil
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(k.public) {
			return &k.private
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
