package engine_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbft-federation/pkg/consensus/engine"
	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/mocks"
	"dbft-federation/pkg/consensus/types"
)

func smallConfig() *types.ConsensusConfig {
	cfg := types.DefaultConsensusConfig()
	cfg.ValidatorCount = 4
	cfg.BlockTime = 10 * time.Millisecond
	cfg.ViewTimeout = 20 * time.Millisecond
	return cfg
}

func newEnv(t *testing.T, cfg *types.ConsensusConfig) *mocks.TestEnvironment {
	t.Helper()
	env, err := mocks.NewTestEnvironment(cfg)
	require.NoError(t, err)
	return env
}

func TestHappyPathFinalizesOnAllNodes(t *testing.T) {
	env := newEnv(t, smallConfig())
	require.NoError(t, env.StartAll())
	require.True(t, env.RunUntilQuiet(50), "message flow should settle")

	for _, node := range env.Nodes {
		assert.Equal(t, engine.StateFinalized, node.Engine.State(), "validator %d", node.Index)
		require.Len(t, node.Finalized, 1, "validator %d", node.Index)

		committed := node.Finalized[0]
		assert.Equal(t, types.BlockIndex(1), committed.Block.Index)
		assert.Equal(t, env.Genesis.Hash(), committed.Block.PrevHash)
		assert.GreaterOrEqual(t, len(committed.Signatures), env.Config.RequiredSignatures())
	}

	// Every validator finalized the same block.
	first := env.Node(0).Finalized[0].Block.Hash()
	for _, node := range env.Nodes[1:] {
		assert.Equal(t, first, node.Finalized[0].Block.Hash())
	}
}

func TestPrimaryBuildsProposalAndSelfResponds(t *testing.T) {
	env := newEnv(t, smallConfig())
	primary := env.Node(0)

	require.NoError(t, primary.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	assert.Equal(t, engine.StateAwaitingQuorumOfResponses, primary.Engine.State())
	rnd := primary.Engine.Round()
	require.NotNil(t, rnd.PrepareRequest())
	assert.Equal(t, 1, rnd.AcceptedResponseCount(), "primary implicitly accepts its own proposal")
}

func TestBackupWaitsForProposal(t *testing.T) {
	env := newEnv(t, smallConfig())
	backup := env.Node(1)

	require.NoError(t, backup.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))
	assert.Equal(t, engine.StateAwaitingProposal, backup.Engine.State())
	assert.Nil(t, backup.Engine.Round().PrepareRequest())
}

func TestViewChangeElectsNextPrimary(t *testing.T) {
	env := newEnv(t, smallConfig())

	// Only the backups start: the view 0 primary stays silent.
	for _, node := range env.Nodes[1:] {
		require.NoError(t, node.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))
	}

	env.FireTimeoutExcept(0)
	require.True(t, env.RunUntilQuiet(50))

	// The three backups form a quorum for view 1 and node 1 proposes.
	for _, node := range env.Nodes[1:] {
		assert.Equal(t, engine.StateFinalized, node.Engine.State(), "validator %d", node.Index)
		assert.Equal(t, types.ViewNumber(1), node.Engine.Round().ViewNumber(), "validator %d", node.Index)
		require.Len(t, node.Finalized, 1, "validator %d", node.Index)
	}
}

func TestStalledAfterMaxViewChanges(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxViewChanges = 2
	env := newEnv(t, cfg)

	node := env.Node(1)
	require.NoError(t, node.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	// With no peers responding, every timeout escalates until the budget
	// runs out.
	for i := 0; i < cfg.MaxViewChanges; i++ {
		rnd := node.Engine.Round()
		require.NoError(t, node.Engine.OnTimeout(rnd.BlockIndex(), rnd.ViewNumber()))
		assert.False(t, node.Engine.IsStalled())
	}

	rnd := node.Engine.Round()
	err := node.Engine.OnTimeout(rnd.BlockIndex(), rnd.ViewNumber())
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeTimeout))
	assert.True(t, node.Engine.IsStalled())
	assert.Equal(t, []types.BlockIndex{1}, node.StalledAt)

	// The stalled condition is surfaced once, not on every expiry.
	require.Error(t, node.Engine.OnTimeout(rnd.BlockIndex(), rnd.ViewNumber()))
	assert.Len(t, node.StalledAt, 1)
}

func TestLaggingValidatorRecovers(t *testing.T) {
	env := newEnv(t, smallConfig())
	require.NoError(t, env.StartAll())

	// Validator 3 misses the proposal.
	lagging := env.Node(3)
	drain := func() {
		for len(lagging.Network.Receive()) > 0 {
			<-lagging.Network.Receive()
		}
	}
	drain()
	require.True(t, env.RunUntilQuiet(50))
	drain()

	// The other three finalized without it.
	for _, node := range env.Nodes[:3] {
		require.Equal(t, engine.StateFinalized, node.Engine.State(), "validator %d", node.Index)
	}
	assert.NotEqual(t, engine.StateFinalized, lagging.Engine.State())

	// Recovery replays the round: the snapshot carries the proposal and
	// the commit quorum.
	lagging.Engine.RequestRecovery()
	require.True(t, env.RunUntilQuiet(50))

	assert.Equal(t, engine.StateFinalized, lagging.Engine.State())
	require.Len(t, lagging.Finalized, 1)
	assert.Equal(t, env.Node(0).Finalized[0].Block.Hash(), lagging.Finalized[0].Block.Hash())
}

func TestRejectsTamperedSignature(t *testing.T) {
	env := newEnv(t, smallConfig())
	receiver := env.Node(1)
	require.NoError(t, receiver.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	payload := messages.NewPayload(2, 1, 0, 1000, messages.NewRecoveryRequest(1000))
	payload.Signature = []byte("not a real signature")

	err := receiver.Engine.HandlePayload(payload)
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeSignatureVerification))
}

func TestRejectsOutOfRangeValidator(t *testing.T) {
	env := newEnv(t, smallConfig())
	receiver := env.Node(1)
	require.NoError(t, receiver.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	payload := messages.NewPayload(9, 1, 0, 1000, messages.NewRecoveryRequest(1000))

	err := receiver.Engine.HandlePayload(payload)
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidValidator))
}

func TestStaleHeightDiscarded(t *testing.T) {
	env := newEnv(t, smallConfig())
	receiver := env.Node(1)
	require.NoError(t, receiver.Engine.StartHeight(5, env.Genesis.Hash(), env.Genesis.Timestamp))

	payload := signedPayload(t, env, 2, 3, 0, messages.NewRecoveryRequest(1000))
	err := receiver.Engine.HandlePayload(payload)
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidMessage))
}

func TestBehindDetectionTriggersRecovery(t *testing.T) {
	env := newEnv(t, smallConfig())
	receiver := env.Node(3)
	require.NoError(t, receiver.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	// One future-height sender is not proof; f+1 distinct senders are.
	p1 := signedPayload(t, env, 1, 9, 0, messages.NewRecoveryRequest(1000))
	require.Error(t, receiver.Engine.HandlePayload(p1))
	assert.NotEqual(t, engine.StateRecoveryPending, receiver.Engine.State())

	p2 := signedPayload(t, env, 2, 9, 0, messages.NewRecoveryRequest(1000))
	require.Error(t, receiver.Engine.HandlePayload(p2))
	assert.Equal(t, engine.StateRecoveryPending, receiver.Engine.State())
}

func TestRecoveryBundleCannotForgeFinalization(t *testing.T) {
	env := newEnv(t, smallConfig())
	victim := env.Node(1)
	require.NoError(t, victim.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	forgedCommits := []messages.IndexedCommit{
		{ValidatorIndex: 0, Commit: *messages.NewCommit(bytes.Repeat([]byte{0xE0}, 64))},
		{ValidatorIndex: 2, Commit: *messages.NewCommit(bytes.Repeat([]byte{0xE2}, 64))},
		{ValidatorIndex: 3, Commit: *messages.NewCommit(bytes.Repeat([]byte{0xE3}, 64))},
	}

	// Commits shipped without a proposal are unverifiable and stay out.
	bundle := &messages.RecoveryResponse{Commits: forgedCommits}
	require.NoError(t, victim.Engine.HandlePayload(signedPayload(t, env, 2, 1, 0, bundle)))
	assert.Equal(t, 0, victim.Engine.Round().CommitCount())

	// A fabricated block that does not extend the local tip is refused the
	// same anchoring a live proposal gets, so the commits stay out too.
	alien := types.NewBlock(1, types.BlockHash{0xEE}, env.Genesis.Timestamp+5, 9,
		[]types.TxHash{{0xAB}})
	bundle = &messages.RecoveryResponse{
		PrepareRequest: messages.NewPrepareRequest(alien),
		Commits:        forgedCommits,
	}
	require.NoError(t, victim.Engine.HandlePayload(signedPayload(t, env, 2, 1, 0, bundle)))

	assert.Nil(t, victim.Engine.Round().PrepareRequest())
	assert.Equal(t, 0, victim.Engine.Round().CommitCount())
	assert.NotEqual(t, engine.StateFinalized, victim.Engine.State())
	assert.Empty(t, victim.Finalized)
}

func TestRecoveryViewJumpRequiresChangeViewQuorum(t *testing.T) {
	env := newEnv(t, smallConfig())
	victim := env.Node(3)
	require.NoError(t, victim.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	// An empty bundle whose envelope claims a later view moves nothing.
	err := victim.Engine.HandlePayload(signedPayload(t, env, 2, 1, 200, &messages.RecoveryResponse{}))
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeRecovery))
	assert.Equal(t, types.ViewNumber(0), victim.Engine.Round().ViewNumber())

	// Two votes are one short of the quorum of three.
	short := &messages.RecoveryResponse{ChangeViews: []messages.IndexedChangeView{
		{ValidatorIndex: 0, ChangeView: *messages.NewChangeView(1, 100, messages.ReasonPrepareRequestTimeout)},
		{ValidatorIndex: 2, ChangeView: *messages.NewChangeView(1, 100, messages.ReasonPrepareRequestTimeout)},
	}}
	err = victim.Engine.HandlePayload(signedPayload(t, env, 2, 1, 1, short))
	require.Error(t, err)
	assert.Equal(t, types.ViewNumber(0), victim.Engine.Round().ViewNumber())

	// A full quorum of votes naming the view justifies the jump.
	full := &messages.RecoveryResponse{ChangeViews: []messages.IndexedChangeView{
		{ValidatorIndex: 0, ChangeView: *messages.NewChangeView(1, 100, messages.ReasonPrepareRequestTimeout)},
		{ValidatorIndex: 1, ChangeView: *messages.NewChangeView(1, 100, messages.ReasonPrepareRequestTimeout)},
		{ValidatorIndex: 2, ChangeView: *messages.NewChangeView(1, 100, messages.ReasonPrepareRequestTimeout)},
	}}
	require.NoError(t, victim.Engine.HandlePayload(signedPayload(t, env, 2, 1, 1, full)))
	assert.Equal(t, types.ViewNumber(1), victim.Engine.Round().ViewNumber())
	assert.Len(t, victim.Engine.Round().ViewJustification(), 3,
		"the jump evidence is kept so this node can serve recovery in turn")
}

func TestCommitBeforeProposalRefused(t *testing.T) {
	env := newEnv(t, smallConfig())
	receiver := env.Node(1)
	require.NoError(t, receiver.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	commit := messages.NewCommit(bytes.Repeat([]byte{0xC2}, 64))
	err := receiver.Engine.HandlePayload(signedPayload(t, env, 2, 1, 0, commit))
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidMessage))
	assert.Equal(t, 0, receiver.Engine.Round().CommitCount())
}

func TestSecondProposalAfterRejectIsDiscarded(t *testing.T) {
	env := newEnv(t, smallConfig())
	backup := env.Node(1)
	require.NoError(t, backup.Engine.StartHeight(1, env.Genesis.Hash(), env.Genesis.Timestamp))

	// The primary's first proposal does not extend the tip; the backup
	// records its reject and stays in the round.
	bad := types.NewBlock(1, types.BlockHash{0xEE}, env.Genesis.Timestamp+1, 1,
		[]types.TxHash{{0x01}})
	err := backup.Engine.HandlePayload(signedPayload(t, env, 0, 1, 0, messages.NewPrepareRequest(bad)))
	require.Error(t, err)
	rnd := backup.Engine.Round()
	require.True(t, rnd.HasResponse(1))
	assert.False(t, rnd.PrepareResponses()[1].Accepted)

	// A corrected retry in the same view is refused outright: the vote
	// already on the wire must match the recorded one.
	good := types.NewBlock(1, env.Genesis.Hash(), env.Genesis.Timestamp+1, 2,
		[]types.TxHash{{0x02}})
	err = backup.Engine.HandlePayload(signedPayload(t, env, 0, 1, 0, messages.NewPrepareRequest(good)))
	require.Error(t, err)
	assert.True(t, types.IsConsensusError(err, types.ErrorTypeInvalidProposal))
	assert.Nil(t, rnd.PrepareRequest())
	assert.Equal(t, 0, rnd.AcceptedResponseCount())
}

func signedPayload(t *testing.T, env *mocks.TestEnvironment, sender types.ValidatorIndex,
	height types.BlockIndex, view types.ViewNumber, msg messages.ConsensusMessage) *messages.Payload {
	t.Helper()
	payload := messages.NewPayload(sender, height, view, 1000, msg)
	sig, err := env.Node(sender).Crypto.Sign(payload.Serialize())
	require.NoError(t, err)
	payload.Signature = sig
	return payload
}
