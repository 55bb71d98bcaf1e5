package mocks

import (
	"github.com/rs/zerolog"

	"dbft-federation/pkg/consensus/engine"
	"dbft-federation/pkg/consensus/ledger"
	"dbft-federation/pkg/consensus/network"
	"dbft-federation/pkg/consensus/types"
)

// ValidatorNode bundles one validator's engine with its mock collaborators.
type ValidatorNode struct {
	Index   types.ValidatorIndex
	Engine  *engine.Engine
	Network *MockNetwork
	Ledger  *MockLedger
	Mempool *MockMempool
	Crypto  *MockCrypto

	// Finalized captures blocks the engine finalized, in order.
	Finalized []*ledger.CommittedBlock
	// StalledAt records heights surfaced as stalled.
	StalledAt []types.BlockIndex
}

// TestEnvironment orchestrates a full validator committee against in-memory
// collaborators. Message delivery is pumped deterministically: tests call
// Step or RunUntilQuiet instead of relying on goroutines and real timers.
type TestEnvironment struct {
	Config    *types.ConsensusConfig
	Committee *types.Committee
	Nodes     []*ValidatorNode
	Tracer    *ConsensusEventTracer
	Genesis   *types.Block
}

// NewTestEnvironment builds a committee of config.ValidatorCount validators
// sharing one genesis block. Every node's engine starts at height
// genesis.Index+1, view 0.
func NewTestEnvironment(config *types.ConsensusConfig) (*TestEnvironment, error) {
	tracer := NewConsensusEventTracer()

	keys := make([]types.PublicKey, config.ValidatorCount)
	cryptos := make([]*MockCrypto, config.ValidatorCount)
	for i := range keys {
		cryptos[i] = NewMockCrypto(types.ValidatorIndex(i))
		keys[i] = cryptos[i].PublicKey()
	}
	committee, err := types.NewCommittee(keys)
	if err != nil {
		return nil, err
	}

	genesis := types.NewBlock(0, types.BlockHash{}, 1, 0, []types.TxHash{syntheticTxHash(0)})

	env := &TestEnvironment{
		Config:    config,
		Committee: committee,
		Tracer:    tracer,
		Genesis:   genesis,
	}

	endpoints := make([]*MockNetwork, config.ValidatorCount)
	for i := 0; i < config.ValidatorCount; i++ {
		index := types.ValidatorIndex(i)
		endpoints[i] = NewMockNetwork(index, DefaultNetworkConfig(), DefaultNetworkFailureConfig())
		pool := NewMockMempool(config.MaxTransactionsPerBlock)

		eng, err := engine.NewEngine(engine.Config{
			MyIndex:   index,
			Consensus: config,
			Committee: committee,
			Crypto:    cryptos[i],
			Network:   endpoints[i],
			Mempool:   pool,
			Tracer:    tracer,
			Logger:    zerolog.Nop(),
		})
		if err != nil {
			return nil, err
		}

		node := &ValidatorNode{
			Index:   index,
			Engine:  eng,
			Network: endpoints[i],
			Ledger:  NewMockLedger(genesis),
			Mempool: pool,
			Crypto:  cryptos[i],
		}
		eng.SetFinalizedHandler(func(b *ledger.CommittedBlock) {
			node.Finalized = append(node.Finalized, b)
		})
		eng.SetStalledHandler(func(height types.BlockIndex, _ types.ViewNumber) {
			node.StalledAt = append(node.StalledAt, height)
		})
		env.Nodes = append(env.Nodes, node)
	}
	ConnectCommittee(endpoints)
	return env, nil
}

// StartAll begins consensus on every node at the height above genesis.
func (env *TestEnvironment) StartAll() error {
	for _, node := range env.Nodes {
		if err := node.Engine.StartHeight(env.Genesis.Index+1, env.Genesis.Hash(),
			env.Genesis.Timestamp); err != nil && !types.IsConsensusError(err, types.ErrorTypeNotReady) {
			return err
		}
	}
	return nil
}

// Step drains every node's inbound queue once and feeds the payloads to
// the engines. It reports how many payloads were delivered.
func (env *TestEnvironment) Step() int {
	delivered := 0
	for _, node := range env.Nodes {
		for {
			var received network.ReceivedPayload
			select {
			case received = <-node.Network.Receive():
			default:
				received.Payload = nil
			}
			if received.Payload == nil {
				break
			}
			delivered++
			// Rejections are part of normal fault handling.
			_ = node.Engine.HandlePayload(received.Payload)
		}
	}
	return delivered
}

// RunUntilQuiet pumps message delivery until no payloads remain in flight
// or maxSteps rounds have run. It reports whether the network went quiet.
func (env *TestEnvironment) RunUntilQuiet(maxSteps int) bool {
	for i := 0; i < maxSteps; i++ {
		if env.Step() == 0 {
			return true
		}
	}
	return env.Step() == 0
}

// FireTimeout expires the view timer on every node for its current round.
func (env *TestEnvironment) FireTimeout() {
	for _, node := range env.Nodes {
		rnd := node.Engine.Round()
		if rnd == nil {
			continue
		}
		_ = node.Engine.OnTimeout(rnd.BlockIndex(), rnd.ViewNumber())
	}
}

// FireTimeoutExcept expires the view timer on every node but the given one.
func (env *TestEnvironment) FireTimeoutExcept(skip types.ValidatorIndex) {
	for _, node := range env.Nodes {
		if node.Index == skip {
			continue
		}
		rnd := node.Engine.Round()
		if rnd == nil {
			continue
		}
		_ = node.Engine.OnTimeout(rnd.BlockIndex(), rnd.ViewNumber())
	}
}

// Node returns the validator at the given index.
func (env *TestEnvironment) Node(index types.ValidatorIndex) *ValidatorNode {
	return env.Nodes[int(index)]
}
