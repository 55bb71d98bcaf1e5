package types

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTxHashes(n int) []TxHash {
	hashes := make([]TxHash, n)
	for i := range hashes {
		hashes[i] = TxHash(sha256.Sum256([]byte{byte(i)}))
	}
	return hashes
}

func TestBlockSerializeRoundTrip(t *testing.T) {
	prev := BlockHash(sha256.Sum256([]byte("prev")))
	block := NewBlock(42, prev, 1700000000000, 0xdeadbeef, testTxHashes(3))

	decoded, err := DeserializeBlock(block.Serialize())
	require.NoError(t, err)

	assert.Equal(t, block.Index, decoded.Index)
	assert.Equal(t, block.PrevHash, decoded.PrevHash)
	assert.Equal(t, block.Timestamp, decoded.Timestamp)
	assert.Equal(t, block.Nonce, decoded.Nonce)
	assert.Equal(t, block.TxHashes, decoded.TxHashes)
	assert.Equal(t, block.Hash(), decoded.Hash())
}

func TestBlockHashStability(t *testing.T) {
	block := NewBlock(1, BlockHash{}, 1000, 7, testTxHashes(2))
	first := block.Hash()
	assert.Equal(t, first, block.Hash(), "hash must be deterministic")

	// Any header change produces a different hash.
	block.Nonce++
	assert.NotEqual(t, first, block.Hash())
}

func TestDeserializeBlockTruncated(t *testing.T) {
	block := NewBlock(1, BlockHash{}, 1000, 7, testTxHashes(2))
	data := block.Serialize()

	for _, cut := range []int{0, 10, 31, 40, 52, len(data) - 1} {
		_, err := DeserializeBlock(data[:cut])
		assert.Error(t, err, "truncated at %d bytes", cut)
	}
}

func TestCommitteeValidation(t *testing.T) {
	makeKeys := func(n int) []PublicKey {
		keys := make([]PublicKey, n)
		for i := range keys {
			key := sha256.Sum256([]byte{byte(i)})
			keys[i] = PublicKey(key[:])
		}
		return keys
	}

	_, err := NewCommittee(makeKeys(3))
	assert.Error(t, err, "committee below 4 validators must be rejected")

	_, err = NewCommittee(makeKeys(6))
	assert.Error(t, err, "committee size must satisfy n = 3f+1")

	committee, err := NewCommittee(makeKeys(7))
	require.NoError(t, err)
	assert.Equal(t, 7, committee.ValidatorCount())
	assert.Equal(t, 2, committee.ByzantineThreshold())
	assert.Equal(t, 5, committee.RequiredSignatures())
}

func TestCommitteePrimaryRotation(t *testing.T) {
	keys := make([]PublicKey, 7)
	for i := range keys {
		key := sha256.Sum256([]byte{byte(i)})
		keys[i] = PublicKey(key[:])
	}
	committee, err := NewCommittee(keys)
	require.NoError(t, err)

	assert.Equal(t, ValidatorIndex(0), committee.PrimaryIndex(0))
	assert.Equal(t, ValidatorIndex(1), committee.PrimaryIndex(1))
	assert.Equal(t, ValidatorIndex(6), committee.PrimaryIndex(6))

	// Rotation wraps around the committee.
	assert.Equal(t, ValidatorIndex(0), committee.PrimaryIndex(7))
	assert.Equal(t, ValidatorIndex(3), committee.PrimaryIndex(10))

	// The view byte wraps at 256; 255 mod 7 = 3.
	assert.Equal(t, ValidatorIndex(3), committee.PrimaryIndex(255))

	assert.True(t, committee.IsPrimary(1, 1))
	assert.False(t, committee.IsPrimary(0, 1))
}

func TestCommitteePublicKeyLookup(t *testing.T) {
	keys := make([]PublicKey, 4)
	for i := range keys {
		key := sha256.Sum256([]byte{byte(i)})
		keys[i] = PublicKey(key[:])
	}
	committee, err := NewCommittee(keys)
	require.NoError(t, err)

	got, err := committee.PublicKey(2)
	require.NoError(t, err)
	assert.Equal(t, keys[2], got)

	_, err = committee.PublicKey(4)
	require.Error(t, err)
	assert.True(t, IsConsensusError(err, ErrorTypeInvalidValidator))
}
