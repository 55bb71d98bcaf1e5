package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dbft-federation/internal/keys"
	"dbft-federation/internal/logger"
	"dbft-federation/internal/types"
)

// Manager handles configuration loading, validation, and management
type Manager struct {
	keyManager *keys.KeyManager
}

// NewManager creates a new configuration manager with dependencies
func NewManager(keyManager *keys.KeyManager) *Manager {
	return &Manager{
		keyManager: keyManager,
	}
}

// LoadConfig loads configuration from the specified file path. A missing
// file is created with defaults; missing node keys are generated and
// written back.
func (m *Manager) LoadConfig(filePath string) (*types.Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		cfg := types.DefaultConfig()
		if err := m.CreateConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	changed := false
	if cfg.Node.PrivateKey == "" {
		privateKey, err := m.keyManager.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		cfg.Node.PrivateKey = privateKey
		changed = true
	}
	if cfg.Node.ConsensusPrivateKey == "" {
		consensusKey, err := m.keyManager.GenerateConsensusKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate consensus key: %w", err)
		}
		cfg.Node.ConsensusPrivateKey = consensusKey
		changed = true
	}
	if changed {
		if err := m.SaveConfig(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to save config with generated keys: %w", err)
		}
	}

	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// CreateConfigFile creates a new configuration file with the given config
func (m *Manager) CreateConfigFile(filePath string, cfg *types.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig saves the configuration to the specified file
func (m *Manager) SaveConfig(filePath string, cfg *types.Config) error {
	return m.CreateConfigFile(filePath, cfg)
}

// ValidateConfig validates the configuration structure and values
func (m *Manager) ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := m.validateNodeConfig(cfg); err != nil {
		return fmt.Errorf("node config validation failed: %w", err)
	}

	if err := validateNetworkConfig(&cfg.Network); err != nil {
		return fmt.Errorf("network config validation failed: %w", err)
	}

	if err := validateConsensusConfig(&cfg.Consensus); err != nil {
		return fmt.Errorf("consensus config validation failed: %w", err)
	}

	if err := validateStorageConfig(&cfg.Storage); err != nil {
		return fmt.Errorf("storage config validation failed: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	return nil
}

func (m *Manager) validateNodeConfig(cfg *types.Config) error {
	if err := m.keyManager.ValidatePrivateKey(cfg.Node.PrivateKey); err != nil {
		return err
	}
	if err := m.keyManager.ValidateConsensusKey(cfg.Node.ConsensusPrivateKey); err != nil {
		return err
	}
	if n := len(cfg.Consensus.ValidatorKeys); n > 0 && int(cfg.Node.ValidatorIndex) >= n {
		return fmt.Errorf("node.validator_index %d out of range for %d validators",
			cfg.Node.ValidatorIndex, n)
	}
	return nil
}

func validateNetworkConfig(cfg *types.NetworkConfig) error {
	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("network.addresses cannot be empty")
	}

	for i, addr := range cfg.Addresses {
		if err := validateMultiaddr(addr); err != nil {
			return fmt.Errorf("invalid address at index %d: %w", i, err)
		}
	}

	if cfg.ConnectionTimeout < time.Second {
		return fmt.Errorf("network.connection_timeout must be at least 1 second")
	}

	return nil
}

func validateConsensusConfig(cfg *types.ConsensusConfig) error {
	n := len(cfg.ValidatorKeys)
	if n < 4 {
		return fmt.Errorf("consensus.validator_keys needs at least 4 entries, got %d", n)
	}
	if n%3 != 1 {
		return fmt.Errorf("committee size must satisfy n = 3f+1, got %d", n)
	}
	for i, keyHex := range cfg.ValidatorKeys {
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return fmt.Errorf("validator key %d is not valid hex: %w", i, err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("validator key %d must be 32 bytes, got %d", i, len(keyBytes))
		}
	}
	if cfg.BlockTime <= 0 {
		return fmt.Errorf("consensus.block_time must be positive")
	}
	if cfg.ViewTimeout < cfg.BlockTime {
		return fmt.Errorf("consensus.view_timeout must be at least block_time")
	}
	if cfg.MaxViewChanges <= 0 {
		return fmt.Errorf("consensus.max_view_changes must be positive")
	}
	if cfg.MaxBlockSize <= 0 {
		return fmt.Errorf("consensus.max_block_size must be positive")
	}
	if cfg.MaxTransactionsPerBlock <= 0 {
		return fmt.Errorf("consensus.max_transactions_per_block must be positive")
	}
	return nil
}

func validateStorageConfig(cfg *types.StorageConfig) error {
	if cfg.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	return nil
}

func validateLoggingConfig(cfg *logger.Config) error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

// validateMultiaddr validates a multiaddr string format
func validateMultiaddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !strings.HasPrefix(addr, "/") {
		return fmt.Errorf("multiaddr must start with '/'")
	}

	// Basic validation for common patterns
	// This is a simplified validation - in production you'd use libp2p's multiaddr parser
	patterns := []string{
		// TCP patterns
		`^/ip4/[0-9.]+/tcp/[0-9]+$`,
		`^/ip6/.*/tcp/[0-9]+$`,
		`^/dns4/.+/tcp/[0-9]+$`,
		`^/dns6/.+/tcp/[0-9]+$`,
		// QUIC patterns (for future use)
		`^/ip4/[0-9.]+/udp/[0-9]+/quic$`,
		`^/ip6/.*/udp/[0-9]+/quic$`,
		`^/dns4/.+/udp/[0-9]+/quic$`,
		`^/dns6/.+/udp/[0-9]+/quic$`,
	}

	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, addr); matched {
			return nil
		}
	}

	return fmt.Errorf("unsupported multiaddr format: %s", addr)
}

// LoadConfig is a convenience function that creates a manager and loads config
func LoadConfig(filePath string) (*types.Config, error) {
	keyManager := keys.NewKeyManager()
	configManager := NewManager(keyManager)
	return configManager.LoadConfig(filePath)
}
