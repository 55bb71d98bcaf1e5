package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/round"
	"dbft-federation/pkg/consensus/types"
)

// stubVerifier accepts every signature except those listed in reject.
type stubVerifier struct {
	reject map[types.ValidatorIndex]bool
}

func (s *stubVerifier) Verify(data []byte, signature []byte, index types.ValidatorIndex) error {
	if s.reject[index] {
		return types.NewConsensusError(types.ErrorTypeSignatureVerification, "rejected by stub")
	}
	return nil
}

func reconcilerFixture(t *testing.T) (*RecoveryReconciler, *stubVerifier, *types.ConsensusConfig) {
	t.Helper()
	cfg := types.DefaultConsensusConfig()
	cfg.ValidatorCount = 4
	keys := make([]types.PublicKey, 4)
	for i := range keys {
		keys[i] = types.PublicKey{byte(i + 1)}
	}
	committee, err := types.NewCommittee(keys)
	require.NoError(t, err)
	verifier := &stubVerifier{reject: map[types.ValidatorIndex]bool{}}
	return NewRecoveryReconciler(cfg, committee, verifier), verifier, cfg
}

func populatedRound(t *testing.T) (*round.Round, *messages.PrepareRequest) {
	t.Helper()
	rnd := round.NewRound(3)
	block := types.NewBlock(3, types.BlockHash{0x11}, 2000, 42,
		[]types.TxHash{{0x01}, {0x02}})
	req := messages.NewPrepareRequest(block)
	require.True(t, rnd.SetPrepareRequest(req))
	rnd.AddPrepareResponse(0, messages.NewPrepareResponseAccepted(req.BlockHash))
	rnd.AddPrepareResponse(2, messages.NewPrepareResponseAccepted(req.BlockHash))
	rnd.AddCommit(0, messages.NewCommit(bytes.Repeat([]byte{0xC0}, 64)))
	rnd.AddChangeView(1, messages.NewChangeView(1, 2100, messages.ReasonPrepareRequestTimeout))
	return rnd, req
}

func TestBuildResponseSnapshotsRound(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	rnd, req := populatedRound(t)

	resp := rr.BuildResponse(rnd)
	require.NotNil(t, resp)
	assert.Equal(t, req, resp.PrepareRequest)
	require.Len(t, resp.PrepareResponses, 2)
	require.Len(t, resp.Commits, 1)
	require.Len(t, resp.ChangeViews, 1)

	// Entries are ordered by validator index.
	assert.Equal(t, types.ValidatorIndex(0), resp.PrepareResponses[0].ValidatorIndex)
	assert.Equal(t, types.ValidatorIndex(2), resp.PrepareResponses[1].ValidatorIndex)
	assert.Equal(t, types.ValidatorIndex(0), resp.Commits[0].ValidatorIndex)
	assert.Equal(t, types.ValidatorIndex(1), resp.ChangeViews[0].ValidatorIndex)
}

func TestMergeAdoptsProposalAndEntries(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	source, req := populatedRound(t)
	resp := rr.BuildResponse(source)

	local := round.NewRound(3)
	result, err := rr.Merge(local, resp)
	require.NoError(t, err)
	assert.True(t, result.AdoptedPrepareRequest)
	assert.Equal(t, 2, result.AddedResponses)
	assert.Equal(t, 1, result.AddedCommits)
	assert.Equal(t, 1, result.AddedChangeViews)
	assert.True(t, result.Changed())

	require.NotNil(t, local.PrepareRequest())
	assert.Equal(t, req.BlockHash, local.PrepareRequest().BlockHash)
}

func TestMergeIsIdempotent(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	source, _ := populatedRound(t)
	resp := rr.BuildResponse(source)

	local := round.NewRound(3)
	_, err := rr.Merge(local, resp)
	require.NoError(t, err)

	again, err := rr.Merge(local, resp)
	require.NoError(t, err)
	assert.False(t, again.Changed())
	assert.Equal(t, 2, local.AcceptedResponseCount())
	assert.Equal(t, 1, local.CommitCount())
}

func TestMergeIsCommutative(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	source, _ := populatedRound(t)
	full := rr.BuildResponse(source)

	// Split the bundle into two partial views of the same round. Honest
	// bundles always pair commits with the proposal they sign.
	partialA := &messages.RecoveryResponse{
		PrepareRequest:   full.PrepareRequest,
		PrepareResponses: full.PrepareResponses[:1],
		Commits:          full.Commits,
	}
	partialB := &messages.RecoveryResponse{
		PrepareRequest:   full.PrepareRequest,
		PrepareResponses: full.PrepareResponses[1:],
		ChangeViews:      full.ChangeViews,
	}

	ab := round.NewRound(3)
	_, err := rr.Merge(ab, partialA)
	require.NoError(t, err)
	_, err = rr.Merge(ab, partialB)
	require.NoError(t, err)

	ba := round.NewRound(3)
	_, err = rr.Merge(ba, partialB)
	require.NoError(t, err)
	_, err = rr.Merge(ba, partialA)
	require.NoError(t, err)

	assert.Equal(t, ab.AcceptedResponseCount(), ba.AcceptedResponseCount())
	assert.Equal(t, ab.CommitCount(), ba.CommitCount())
	assert.Equal(t, ab.ChangeViewCount(), ba.ChangeViewCount())
	assert.Equal(t, ab.PrepareRequest().BlockHash, ba.PrepareRequest().BlockHash)
}

func TestMergeSkipsInvalidEntries(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	source, req := populatedRound(t)
	resp := rr.BuildResponse(source)

	// Out of range validator index and an empty commit signature.
	resp.Commits = append(resp.Commits, messages.IndexedCommit{
		ValidatorIndex: 9,
		Commit:         *messages.NewCommit(bytes.Repeat([]byte{0xC9}, 64)),
	})
	resp.Commits = append(resp.Commits, messages.IndexedCommit{
		ValidatorIndex: 3,
		Commit:         messages.Commit{},
	})
	resp.PrepareResponses = append(resp.PrepareResponses, messages.IndexedPrepareResponse{
		ValidatorIndex: 200,
		Response:       *messages.NewPrepareResponseAccepted(req.BlockHash),
	})

	local := round.NewRound(3)
	result, err := rr.Merge(local, resp)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AddedCommits)
	assert.Equal(t, 2, result.AddedResponses)
	assert.False(t, local.HasCommit(3))
}

func TestMergeVerifiesCommitSignatures(t *testing.T) {
	rr, verifier, _ := reconcilerFixture(t)
	source, _ := populatedRound(t)
	source.AddCommit(1, messages.NewCommit(bytes.Repeat([]byte{0xC1}, 64)))
	resp := rr.BuildResponse(source)

	// With the proposal known, commits from rejected signers are dropped.
	verifier.reject[1] = true
	local := round.NewRound(3)
	result, err := rr.Merge(local, resp)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AddedCommits)
	assert.True(t, local.HasCommit(0))
	assert.False(t, local.HasCommit(1))
}

func TestMergeDropsCommitsWithoutProposal(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)

	// No proposal means no agreed hash to check the signatures against;
	// such commits never enter the round, regardless of how many arrive.
	resp := &messages.RecoveryResponse{
		Commits: []messages.IndexedCommit{
			{ValidatorIndex: 0, Commit: *messages.NewCommit(bytes.Repeat([]byte{0xC0}, 64))},
			{ValidatorIndex: 1, Commit: *messages.NewCommit(bytes.Repeat([]byte{0xC1}, 64))},
			{ValidatorIndex: 3, Commit: *messages.NewCommit(bytes.Repeat([]byte{0xC3}, 64))},
		},
	}
	local := round.NewRound(3)
	result, err := rr.Merge(local, resp)
	require.NoError(t, err)
	assert.Equal(t, 0, result.AddedCommits)
	assert.False(t, result.Changed())
	assert.Equal(t, 0, local.CommitCount())
}

func TestMergeSkipsStaleChangeViews(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	local := round.NewRound(3)
	local.ResetForView(2)

	resp := &messages.RecoveryResponse{ChangeViews: []messages.IndexedChangeView{
		{ValidatorIndex: 0, ChangeView: *messages.NewChangeView(1, 100, messages.ReasonManual)},
		{ValidatorIndex: 1, ChangeView: *messages.NewChangeView(2, 100, messages.ReasonManual)},
		{ValidatorIndex: 2, ChangeView: *messages.NewChangeView(3, 100, messages.ReasonManual)},
	}}
	result, err := rr.Merge(local, resp)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AddedChangeViews, "only votes past the current view enter the tally")
	assert.Equal(t, 1, local.ChangeViewCount())
}

func TestBuildResponseCarriesViewJustification(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	rnd := round.NewRound(3)
	for i := 0; i < 3; i++ {
		rnd.AddChangeView(types.ValidatorIndex(i),
			messages.NewChangeView(1, 100, messages.ReasonPrepareRequestTimeout))
	}
	rnd.ResetForView(1)

	// After the view change the live tally is empty, but the votes that
	// moved the round to view 1 still travel with the bundle.
	resp := rr.BuildResponse(rnd)
	require.Len(t, resp.ChangeViews, 3)
	for _, entry := range resp.ChangeViews {
		assert.Equal(t, types.ViewNumber(1), entry.ChangeView.NewViewNumber)
	}
}

func TestMergeNilResponse(t *testing.T) {
	rr, _, _ := reconcilerFixture(t)
	_, err := rr.Merge(round.NewRound(3), nil)
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeRecovery))
}
