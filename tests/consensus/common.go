package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dbft-federation/pkg/consensus/mocks"
	"dbft-federation/pkg/consensus/types"
)

// newTestCommittee builds a pumped in-memory committee of nodeCount
// validators with short timeouts and starts consensus above genesis.
func newTestCommittee(t *testing.T, nodeCount int) *mocks.TestEnvironment {
	t.Helper()

	config := types.DefaultConsensusConfig()
	config.ValidatorCount = nodeCount
	config.BlockTime = 10 * time.Millisecond
	config.ViewTimeout = 20 * time.Millisecond
	require.NoError(t, config.Validate(), "test config should be valid")

	env, err := mocks.NewTestEnvironment(config)
	require.NoError(t, err, "should build test environment")
	require.NoError(t, env.StartAll(), "should start all validators")
	return env
}

// mustEnvironment builds and starts an environment from an explicit config.
func mustEnvironment(t *testing.T, config *types.ConsensusConfig) *mocks.TestEnvironment {
	t.Helper()
	config.BlockTime = 10 * time.Millisecond
	config.ViewTimeout = 20 * time.Millisecond
	require.NoError(t, config.Validate(), "test config should be valid")

	env, err := mocks.NewTestEnvironment(config)
	require.NoError(t, err, "should build test environment")
	require.NoError(t, env.StartAll(), "should start all validators")
	return env
}

// requireAllFinalized asserts every validator finalized the same block at
// the given height with a full signature quorum.
func requireAllFinalized(t *testing.T, env *mocks.TestEnvironment, height types.BlockIndex) {
	t.Helper()

	reference := env.Node(0).Finalized
	require.NotEmpty(t, reference, "node 0 should have finalized a block")
	expected := reference[len(reference)-1]
	require.Equal(t, height, expected.Block.Index, "node 0 should be at the expected height")

	quorum := env.Committee.RequiredSignatures()
	for _, node := range env.Nodes {
		require.NotEmpty(t, node.Finalized, "node %d should have finalized a block", node.Index)
		got := node.Finalized[len(node.Finalized)-1]
		require.Equal(t, height, got.Block.Index, "node %d height mismatch", node.Index)
		require.Equal(t, expected.Block.Hash(), got.Block.Hash(),
			"node %d finalized a different block", node.Index)
		require.GreaterOrEqual(t, len(got.Signatures), quorum,
			"node %d block should carry a signature quorum", node.Index)
	}
}

// advanceAll moves every validator to the height above its latest
// finalized block.
func advanceAll(t *testing.T, env *mocks.TestEnvironment) {
	t.Helper()
	for _, node := range env.Nodes {
		require.NotEmpty(t, node.Finalized, "node %d has nothing to advance from", node.Index)
		latest := node.Finalized[len(node.Finalized)-1]
		require.NoError(t, node.Engine.AdvanceHeight(latest.Block),
			"node %d should advance", node.Index)
	}
}
