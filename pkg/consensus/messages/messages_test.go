package messages

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbft-federation/pkg/consensus/types"
)

func testBlock(index types.BlockIndex, txCount int) *types.Block {
	hashes := make([]types.TxHash, txCount)
	for i := range hashes {
		hashes[i] = types.TxHash(sha256.Sum256([]byte{byte(index), byte(i)}))
	}
	prev := types.BlockHash(sha256.Sum256([]byte{byte(index - 1)}))
	return types.NewBlock(index, prev, uint64(1700000000000+int64(index)), 99, hashes)
}

func TestMessageTypeValues(t *testing.T) {
	assert.Equal(t, MessageType(0x00), MsgTypePrepareRequest)
	assert.Equal(t, MessageType(0x01), MsgTypePrepareResponse)
	assert.Equal(t, MessageType(0x02), MsgTypeCommit)
	assert.Equal(t, MessageType(0x03), MsgTypeChangeView)
	assert.Equal(t, MessageType(0x04), MsgTypeRecoveryRequest)
	assert.Equal(t, MessageType(0x05), MsgTypeRecoveryResponse)

	assert.True(t, MsgTypeRecoveryResponse.IsValid())
	assert.False(t, MessageType(0x06).IsValid())
	assert.False(t, MessageType(0xFF).IsValid())
}

func TestDeserializeMessageUnknownType(t *testing.T) {
	_, err := DeserializeMessage(MessageType(0xFF), []byte{0x00})
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidMessage))
}

func TestPrepareRequestRoundTrip(t *testing.T) {
	block := testBlock(10, 4)
	req := NewPrepareRequest(block)

	decoded, err := DeserializePrepareRequest(req.Serialize())
	require.NoError(t, err)

	assert.Equal(t, req.BlockHash, decoded.BlockHash)
	assert.Equal(t, req.Timestamp, decoded.Timestamp)
	assert.Equal(t, req.Nonce, decoded.Nonce)
	assert.Equal(t, req.TxHashes, decoded.TxHashes)
	assert.Equal(t, req.BlockData, decoded.BlockData)

	// The carried block data must decode back to the same block.
	carried, err := types.DeserializeBlock(decoded.BlockData)
	require.NoError(t, err)
	assert.Equal(t, block.Hash(), carried.Hash())
}

func TestPrepareRequestValidate(t *testing.T) {
	cfg := types.DefaultConsensusConfig()

	t.Run("valid", func(t *testing.T) {
		req := NewPrepareRequest(testBlock(1, 3))
		assert.NoError(t, req.Validate(cfg))
	})

	t.Run("no transactions", func(t *testing.T) {
		req := NewPrepareRequest(testBlock(1, 3))
		req.TxHashes = nil
		err := req.Validate(cfg)
		require.Error(t, err)
		assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidProposal))
	})

	t.Run("too many transactions", func(t *testing.T) {
		req := NewPrepareRequest(testBlock(1, cfg.MaxTransactionsPerBlock+1))
		err := req.Validate(cfg)
		require.Error(t, err)
		assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidProposal))
	})

	t.Run("empty block data", func(t *testing.T) {
		req := NewPrepareRequest(testBlock(1, 3))
		req.BlockData = nil
		assert.Error(t, req.Validate(cfg))
	})

	t.Run("oversized block data", func(t *testing.T) {
		req := NewPrepareRequest(testBlock(1, 3))
		req.BlockData = make([]byte, cfg.MaxBlockSize+1)
		assert.Error(t, req.Validate(cfg))
	})
}

func TestPrepareResponseRoundTrip(t *testing.T) {
	hash := types.BlockHash(sha256.Sum256([]byte("block")))

	t.Run("accepted", func(t *testing.T) {
		resp := NewPrepareResponseAccepted(hash)
		decoded, err := DeserializePrepareResponse(resp.Serialize())
		require.NoError(t, err)
		assert.Equal(t, hash, decoded.BlockHash)
		assert.True(t, decoded.Accepted)
		assert.Empty(t, decoded.RejectReason)
	})

	t.Run("rejected with reason", func(t *testing.T) {
		resp := NewPrepareResponseRejected(hash, "timestamp not newer than previous block")
		decoded, err := DeserializePrepareResponse(resp.Serialize())
		require.NoError(t, err)
		assert.Equal(t, hash, decoded.BlockHash)
		assert.False(t, decoded.Accepted)
		assert.Equal(t, "timestamp not newer than previous block", decoded.RejectReason)
	})
}

func TestCommitRoundTripAndValidate(t *testing.T) {
	cfg := types.DefaultConsensusConfig()

	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = byte(i)
	}
	commit := NewCommit(sig)
	decoded, err := DeserializeCommit(commit.Serialize())
	require.NoError(t, err)
	assert.Equal(t, sig, decoded.Signature)
	assert.NoError(t, decoded.Validate(cfg))

	empty := NewCommit(nil)
	assert.Error(t, empty.Validate(cfg))

	oversized := NewCommit(make([]byte, MaxCommitSignatureSize+1))
	assert.Error(t, oversized.Validate(cfg))
}

func TestChangeViewRoundTrip(t *testing.T) {
	cv := NewChangeView(3, 1700000000123, ReasonCommitTimeout)
	data := cv.Serialize()
	assert.Len(t, data, 10, "change view body is fixed at 10 bytes")

	decoded, err := DeserializeChangeView(data)
	require.NoError(t, err)
	assert.Equal(t, types.ViewNumber(3), decoded.NewViewNumber)
	assert.Equal(t, uint64(1700000000123), decoded.Timestamp)
	assert.Equal(t, ReasonCommitTimeout, decoded.Reason)
}

func TestChangeViewReasonValidation(t *testing.T) {
	cfg := types.DefaultConsensusConfig()

	cv := NewChangeView(1, 1000, ReasonManual)
	assert.NoError(t, cv.Validate(cfg))

	cv.Reason = ChangeViewReason(0x07)
	assert.Error(t, cv.Validate(cfg))
}

func TestRecoveryRequestRoundTrip(t *testing.T) {
	req := NewRecoveryRequest(1700000000555)
	decoded, err := DeserializeRecoveryRequest(req.Serialize())
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000555), decoded.Timestamp)
}

func TestRecoveryResponseRoundTrip(t *testing.T) {
	block := testBlock(5, 2)
	prepareRequest := NewPrepareRequest(block)

	resp := &RecoveryResponse{
		ChangeViews: []IndexedChangeView{
			{ValidatorIndex: 1, ChangeView: *NewChangeView(1, 100, ReasonPrepareRequestTimeout)},
			{ValidatorIndex: 4, ChangeView: *NewChangeView(2, 200, ReasonPrimaryFailure)},
		},
		PrepareRequest: prepareRequest,
		PrepareResponses: []IndexedPrepareResponse{
			{ValidatorIndex: 0, Response: *NewPrepareResponseAccepted(block.Hash())},
			{ValidatorIndex: 2, Response: *NewPrepareResponseRejected(block.Hash(), "no")},
		},
		Commits: []IndexedCommit{
			{ValidatorIndex: 0, Commit: *NewCommit([]byte{1, 2, 3})},
		},
	}

	decoded, err := DeserializeRecoveryResponse(resp.Serialize())
	require.NoError(t, err)

	require.Len(t, decoded.ChangeViews, 2)
	assert.Equal(t, types.ValidatorIndex(4), decoded.ChangeViews[1].ValidatorIndex)
	assert.Equal(t, types.ViewNumber(2), decoded.ChangeViews[1].ChangeView.NewViewNumber)

	require.NotNil(t, decoded.PrepareRequest)
	assert.Equal(t, prepareRequest.BlockHash, decoded.PrepareRequest.BlockHash)
	assert.Equal(t, prepareRequest.BlockData, decoded.PrepareRequest.BlockData)

	require.Len(t, decoded.PrepareResponses, 2)
	assert.True(t, decoded.PrepareResponses[0].Response.Accepted)
	assert.False(t, decoded.PrepareResponses[1].Response.Accepted)
	assert.Equal(t, "no", decoded.PrepareResponses[1].Response.RejectReason)

	require.Len(t, decoded.Commits, 1)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Commits[0].Commit.Signature)
}

func TestRecoveryResponseWithoutProposal(t *testing.T) {
	resp := &RecoveryResponse{
		ChangeViews: []IndexedChangeView{
			{ValidatorIndex: 2, ChangeView: *NewChangeView(1, 300, ReasonNetworkPartition)},
		},
	}

	decoded, err := DeserializeRecoveryResponse(resp.Serialize())
	require.NoError(t, err)
	assert.Nil(t, decoded.PrepareRequest)
	assert.Empty(t, decoded.PrepareResponses)
	assert.Empty(t, decoded.Commits)
	require.Len(t, decoded.ChangeViews, 1)
}

func TestPayloadSignedRoundTrip(t *testing.T) {
	block := testBlock(7, 2)
	payload := NewPayload(3, 7, 1, 1700000000999, NewPrepareRequest(block))
	payload.Signature = []byte{0xAA, 0xBB, 0xCC}

	decoded, err := DeserializeSignedPayload(payload.SerializeSigned())
	require.NoError(t, err)

	assert.Equal(t, types.ValidatorIndex(3), decoded.ValidatorIndex)
	assert.Equal(t, types.BlockIndex(7), decoded.BlockIndex)
	assert.Equal(t, types.ViewNumber(1), decoded.ViewNumber)
	assert.Equal(t, uint64(1700000000999), decoded.Timestamp)
	assert.Equal(t, payload.Signature, decoded.Signature)
	assert.Equal(t, MsgTypePrepareRequest, decoded.Type())

	// The envelope hash covers everything except the signature.
	assert.Equal(t, payload.Hash(), decoded.Hash())
}

func TestPayloadHashExcludesSignature(t *testing.T) {
	payload := NewPayload(0, 1, 0, 42, NewRecoveryRequest(42))
	before := payload.Hash()
	payload.Signature = []byte{1, 2, 3}
	assert.Equal(t, before, payload.Hash())
}

func TestPayloadTruncated(t *testing.T) {
	payload := NewPayload(0, 1, 0, 42, NewCommit([]byte{9, 9}))
	payload.Signature = []byte{1}
	data := payload.SerializeSigned()

	for cut := 0; cut < len(data); cut++ {
		_, err := DeserializeSignedPayload(data[:cut])
		assert.Error(t, err, "truncated at %d bytes", cut)
	}
}
