package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	t.Run("base58", func(t *testing.T) {
		loaded, err := Load(kp.private.String(), "")
		require.NoError(t, err)
		assert.Equal(t, kp.PublicAddress(), loaded.PublicAddress())
	})

	t.Run("keygen file", func(t *testing.T) {
		ints := make([]int, len(kp.private))
		for i, b := range kp.private {
			ints[i] = int(b)
		}
		data, err := json.Marshal(ints)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "id.json")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		loaded, err := Load("", path)
		require.NoError(t, err)
		assert.True(t, kp.PublicKey().Equals(loaded.PublicKey()))
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := Load("", "")
		assert.ErrorIs(t, err, ErrNoKey)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Load("not-a-key", "")
		assert.Error(t, err)
	})
}

func TestSignTransaction(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1000, kp.PublicKey(), solana.SystemProgramID).Build(),
		},
		solana.Hash{1},
		solana.TransactionPayer(kp.PublicKey()),
	)
	require.NoError(t, err)

	// Placeholder signatures as returned by the aggregator are replaced.
	tx.Signatures = []solana.Signature{{}}
	require.NoError(t, kp.SignTransaction(tx))
	require.Len(t, tx.Signatures, 1)
	assert.NotEqual(t, solana.Signature{}, tx.Signatures[0])
	assert.NoError(t, tx.VerifySignatures())

	other, err := Generate()
	require.NoError(t, err)
	assert.Error(t, other.SignTransaction(tx))
}
