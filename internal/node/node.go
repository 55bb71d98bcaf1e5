// Package node assembles a full validator from its configuration: keys,
// committee, ledger, transport and the consensus service.
package node

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"dbft-federation/internal/keys"
	"dbft-federation/internal/mempool"
	"dbft-federation/internal/network"
	"dbft-federation/internal/storage"
	internaltypes "dbft-federation/internal/types"
	"dbft-federation/pkg/consensus/crypto"
	"dbft-federation/pkg/consensus/engine"
	"dbft-federation/pkg/consensus/events"
	"dbft-federation/pkg/consensus/ledger"
	"dbft-federation/pkg/consensus/service"
	"dbft-federation/pkg/consensus/types"
)

// Node is a running dBFT validator.
type Node struct {
	config *internaltypes.Config
	logger zerolog.Logger

	hostWrapper *network.HostWrapper
	gossip      *network.Gossip
	fileLedger  *storage.FileLedger
	pool        *mempool.Pool
	service     *service.Service
}

// New builds a validator node from its configuration.
func New(cfg *internaltypes.Config, logger zerolog.Logger) (*Node, error) {
	committee, err := buildCommittee(cfg.Consensus.ValidatorKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to build committee: %w", err)
	}

	consensusCfg := &types.ConsensusConfig{
		ValidatorCount:          committee.ValidatorCount(),
		BlockTime:               cfg.Consensus.BlockTime,
		ViewTimeout:             cfg.Consensus.ViewTimeout,
		MaxViewChanges:          cfg.Consensus.MaxViewChanges,
		MaxBlockSize:            cfg.Consensus.MaxBlockSize,
		MaxTransactionsPerBlock: cfg.Consensus.MaxTransactionsPerBlock,
	}
	if err := consensusCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consensus parameters: %w", err)
	}

	keyManager := keys.NewKeyManager()
	consensusKey, err := keyManager.ParseConsensusKey(cfg.Node.ConsensusPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse consensus key: %w", err)
	}
	signer, err := crypto.NewSchnorrProvider(consensusKey.Serialize(), committee)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	// The genesis block is derived from the committee so every validator
	// bootstraps the same chain.
	genesis := genesisBlock(cfg.Consensus.ValidatorKeys)
	fileLedger, err := storage.NewFileLedger(cfg.Storage.Path, cfg.Storage.BackupOnSave, genesis)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	transportKey, err := network.ConvertPrivateKeyFromBase64(cfg.Node.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert transport key: %w", err)
	}
	hostWrapper, err := network.NewHostWrapper(&cfg.Network, transportKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	gossip, err := network.NewGossip(hostWrapper, &cfg.Network, logger)
	if err != nil {
		hostWrapper.Close()
		return nil, fmt.Errorf("failed to create gossip layer: %w", err)
	}

	pool := mempool.NewPool(cfg.Consensus.MaxTransactionsPerBlock * 8)

	eng, err := engine.NewEngine(engine.Config{
		MyIndex:   types.ValidatorIndex(cfg.Node.ValidatorIndex),
		Consensus: consensusCfg,
		Committee: committee,
		Crypto:    signer,
		Network:   gossip,
		Mempool:   pool,
		Tracer:    &events.NoOpEventTracer{},
		Logger:    logger,
	})
	if err != nil {
		hostWrapper.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	svc, err := service.NewService(eng, gossip, fileLedger, logger)
	if err != nil {
		hostWrapper.Close()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	node := &Node{
		config:      cfg,
		logger:      logger.With().Str("component", "node").Logger(),
		hostWrapper: hostWrapper,
		gossip:      gossip,
		fileLedger:  fileLedger,
		pool:        pool,
		service:     svc,
	}

	// Finalized transactions leave the pool once the block is durable.
	svc.SetCommittedHandler(func(committed *ledger.CommittedBlock) {
		pool.RemoveCommitted(committed.Block.TxHashes)
	})
	eng.SetStalledHandler(func(height types.BlockIndex, view types.ViewNumber) {
		node.logger.Error().
			Uint32("height", uint32(height)).
			Uint8("view", uint8(view)).
			Msg("consensus stalled, operator intervention may be required")
	})

	return node, nil
}

// Start brings up the transport and the consensus loop.
func (n *Node) Start(ctx context.Context) error {
	if err := n.gossip.Start(); err != nil {
		return fmt.Errorf("failed to start gossip: %w", err)
	}
	if err := n.service.Start(ctx); err != nil {
		n.gossip.Stop()
		return fmt.Errorf("failed to start consensus service: %w", err)
	}
	height, _ := n.fileLedger.CurrentHeight()
	n.logger.Info().
		Uint32("chain_height", uint32(height)).
		Uint8("validator_index", n.config.Node.ValidatorIndex).
		Msg("validator node started")
	return nil
}

// Stop shuts the node down in reverse start order.
func (n *Node) Stop() {
	n.service.Stop()
	if err := n.gossip.Stop(); err != nil {
		n.logger.Warn().Err(err).Msg("gossip shutdown reported an error")
	}
	if err := n.hostWrapper.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("host shutdown reported an error")
	}
	if err := n.fileLedger.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("ledger shutdown reported an error")
	}
	n.logger.Info().Msg("validator node stopped")
}

// Mempool exposes the transaction pool for ingestion layers.
func (n *Node) Mempool() *mempool.Pool {
	return n.pool
}

// Ledger exposes the persisted chain.
func (n *Node) Ledger() *storage.FileLedger {
	return n.fileLedger
}

// buildCommittee decodes the configured hex public keys in committee order.
func buildCommittee(validatorKeys []string) (*types.Committee, error) {
	publicKeys := make([]types.PublicKey, 0, len(validatorKeys))
	for i, keyHex := range validatorKeys {
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("validator key %d is not valid hex: %w", i, err)
		}
		publicKeys = append(publicKeys, types.PublicKey(keyBytes))
	}
	return types.NewCommittee(publicKeys)
}

// genesisBlock derives the deterministic height-zero block shared by the
// committee. Its single entry commits to the validator set.
func genesisBlock(validatorKeys []string) *types.Block {
	h := sha256.New()
	for _, key := range validatorKeys {
		h.Write([]byte(key))
	}
	var commitment types.TxHash
	copy(commitment[:], h.Sum(nil))

	return types.NewBlock(0, types.BlockHash{}, 1, 0, []types.TxHash{commitment})
}
