package types

import (
	"time"

	"dbft-federation/internal/logger"
)

// Config represents the complete validator node configuration
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Network   NetworkConfig   `yaml:"network"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   logger.Config   `yaml:"logging"`
}

// NodeConfig contains node identity configuration. The transport key is an
// Ed25519 key for the libp2p host identity; the consensus key is a
// secp256k1 key used for BIP-340 message signatures.
type NodeConfig struct {
	PrivateKey          string `yaml:"private_key"`
	ConsensusPrivateKey string `yaml:"consensus_private_key"`
	ValidatorIndex      uint8  `yaml:"validator_index"`
}

// NetworkConfig contains transport configuration
type NetworkConfig struct {
	Addresses         []string      `yaml:"addresses"`
	Peers             []string      `yaml:"peers"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// ConsensusConfig contains the committee and protocol parameters
type ConsensusConfig struct {
	// ValidatorKeys holds the committee's BIP-340 public keys as hex, in
	// committee order. The list length fixes the committee size.
	ValidatorKeys []string `yaml:"validator_keys"`

	BlockTime               time.Duration `yaml:"block_time"`
	ViewTimeout             time.Duration `yaml:"view_timeout"`
	MaxViewChanges          int           `yaml:"max_view_changes"`
	MaxBlockSize            int           `yaml:"max_block_size"`
	MaxTransactionsPerBlock int           `yaml:"max_transactions_per_block"`
}

// StorageConfig contains ledger persistence configuration
type StorageConfig struct {
	Path         string `yaml:"path"`
	BackupOnSave bool   `yaml:"backup_on_save"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			PrivateKey:          "", // Will be generated if empty
			ConsensusPrivateKey: "", // Will be generated if empty
		},
		Network: NetworkConfig{
			Addresses: []string{
				"/ip4/0.0.0.0/tcp/9000",
			},
			ConnectionTimeout: 10 * time.Second,
		},
		Consensus: ConsensusConfig{
			BlockTime:               15 * time.Second,
			ViewTimeout:             20 * time.Second,
			MaxViewChanges:          6,
			MaxBlockSize:            1 << 20,
			MaxTransactionsPerBlock: 512,
		},
		Storage: StorageConfig{
			Path:         "ledger.yaml",
			BackupOnSave: true,
		},
		Logging: logger.Config{
			ConsoleOutput: true,
			Level:         "info",
		},
	}
}
