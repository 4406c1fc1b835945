package shachain

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProducerVectors checks the generation vectors from BOLT-03.
func TestProducerVectors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		seed   chainhash.Hash
		height uint64
		want   string
	}{
		{
			name:   "zero seed, first secret",
			height: 0,
			want: "02a40c85b6f28da08dfdbe0926c53fab2de6d28c" +
				"10301f8f7c4073d5e42e3148",
		},
		{
			name: "ff seed, first secret",
			seed: func() chainhash.Hash {
				var h chainhash.Hash
				for i := range h {
					h[i] = 0xff
				}

				return h
			}(),
			height: 0,
			want: "7cc854b54e3e0dcdb010d7a3fee464a9687be6e8" +
				"db3be6854c475621e007a5dc",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewRevocationProducer(tc.seed)
			secret, err := p.AtIndex(tc.height)
			require.NoError(t, err)
			require.Equal(t, tc.want, hex.EncodeToString(secret[:]))
		})
	}
}

// TestStoreRejectsInconsistentSecret makes sure a secret that does not derive
// the earlier ones is refused and leaves the store unchanged.
func TestStoreRejectsInconsistentSecret(t *testing.T) {
	t.Parallel()

	producer := NewRevocationProducer(chainhash.Hash{1})
	store := NewRevocationStore()

	secret, err := producer.AtIndex(0)
	require.NoError(t, err)
	require.NoError(t, store.AddNextEntry(secret))

	// Height 1 lands in bucket 1, which must derive height 0.
	bogus := chainhash.Hash{2}
	require.ErrorIs(t, store.AddNextEntry(&bogus), ErrInconsistentSecret)
	require.EqualValues(t, 1, store.NumSecrets())

	_, err = store.LookUp(1)
	require.ErrorIs(t, err, ErrUnknownSecret)
}

// TestStoreProperty feeds a random number of produced secrets into a store,
// round trips it through its encoding and checks every secret can be looked
// up again.
func TestStoreProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var root chainhash.Hash
		copy(root[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "root"))
		n := rapid.Uint64Range(1, 300).Draw(t, "n")

		producer := NewRevocationProducer(root)
		store := NewRevocationStore()
		for i := uint64(0); i < n; i++ {
			secret, err := producer.AtIndex(i)
			require.NoError(t, err)
			require.NoError(t, store.AddNextEntry(secret))
		}

		var b bytes.Buffer
		require.NoError(t, store.Encode(&b))
		decoded, err := NewRevocationStoreFromBytes(&b)
		require.NoError(t, err)
		require.Equal(t, store, decoded)

		height := rapid.Uint64Range(0, n-1).Draw(t, "height")
		want, err := producer.AtIndex(height)
		require.NoError(t, err)

		got, err := decoded.LookUp(height)
		require.NoError(t, err)
		require.Equal(t, want, got)
	})
}
