package types

import (
	"time"
)

// Default consensus parameters for a seven-validator committee (f=2, quorum 5).
const (
	// DefaultValidatorCount is the default committee size.
	DefaultValidatorCount = 7
	// DefaultBlockTime is the target interval between blocks.
	DefaultBlockTime = 15 * time.Second
	// DefaultViewTimeout is the base timeout before a view change is requested.
	DefaultViewTimeout = 20 * time.Second
	// DefaultMaxViewChanges bounds view escalations per height before the
	// engine reports the height as stalled.
	DefaultMaxViewChanges = 6
	// DefaultMaxBlockSize is the maximum raw block size in bytes (1 MiB).
	DefaultMaxBlockSize = 1 << 20
	// DefaultMaxTransactionsPerBlock caps the transaction list of a proposal.
	DefaultMaxTransactionsPerBlock = 512

	// maxTimeoutShift caps the exponential timeout backoff at 2^6 = 64x base.
	maxTimeoutShift = 6
)

// ConsensusConfig defines the static configuration for one validator's
// consensus participation. It is immutable after validation.
type ConsensusConfig struct {
	// ValidatorCount is the committee size n; must satisfy n >= 4 and n % 3 == 1.
	ValidatorCount int
	// BlockTime is the target interval between blocks.
	BlockTime time.Duration
	// ViewTimeout is the base timeout for a view; must be >= BlockTime.
	ViewTimeout time.Duration
	// MaxViewChanges bounds how many view escalations are attempted per
	// height before the engine surfaces a stalled condition.
	MaxViewChanges int
	// MaxBlockSize is the maximum raw block size in bytes.
	MaxBlockSize int
	// MaxTransactionsPerBlock caps the transaction list of a proposal.
	MaxTransactionsPerBlock int
}

// DefaultConsensusConfig returns the default configuration:
// 7 validators, 15s block time, 20s view timeout, 6 view changes,
// 1 MiB blocks, 512 transactions per block.
func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		ValidatorCount:          DefaultValidatorCount,
		BlockTime:               DefaultBlockTime,
		ViewTimeout:             DefaultViewTimeout,
		MaxViewChanges:          DefaultMaxViewChanges,
		MaxBlockSize:            DefaultMaxBlockSize,
		MaxTransactionsPerBlock: DefaultMaxTransactionsPerBlock,
	}
}

// NewConsensusConfig creates a validated configuration for the given
// committee size, using defaults for all remaining parameters.
func NewConsensusConfig(validatorCount int) (*ConsensusConfig, error) {
	cfg := DefaultConsensusConfig()
	cfg.ValidatorCount = validatorCount
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and returns a Configuration error if it
// cannot support Byzantine fault tolerance.
func (c *ConsensusConfig) Validate() error {
	if c.ValidatorCount < 4 {
		return NewConsensusErrorf(ErrorTypeConfiguration,
			"dBFT requires at least 4 validators, got %d", c.ValidatorCount)
	}
	if c.ValidatorCount%3 != 1 {
		return NewConsensusErrorf(ErrorTypeConfiguration,
			"validator count must satisfy n = 3f+1, got %d", c.ValidatorCount)
	}
	if c.BlockTime <= 0 {
		return NewConsensusError(ErrorTypeConfiguration, "block time must be positive")
	}
	if c.ViewTimeout < c.BlockTime {
		return NewConsensusErrorf(ErrorTypeConfiguration,
			"view timeout %v must not be shorter than block time %v", c.ViewTimeout, c.BlockTime)
	}
	if c.MaxViewChanges <= 0 {
		return NewConsensusError(ErrorTypeConfiguration, "max view changes must be positive")
	}
	if c.MaxBlockSize <= 0 {
		return NewConsensusError(ErrorTypeConfiguration, "max block size must be positive")
	}
	if c.MaxTransactionsPerBlock <= 0 {
		return NewConsensusError(ErrorTypeConfiguration, "max transactions per block must be positive")
	}
	return nil
}

// ByzantineThreshold returns f = (n-1)/3, the number of simultaneously
// faulty validators the committee tolerates.
func (c *ConsensusConfig) ByzantineThreshold() int {
	return (c.ValidatorCount - 1) / 3
}

// RequiredSignatures returns n - f, the quorum needed to advance a phase.
func (c *ConsensusConfig) RequiredSignatures() int {
	return c.ValidatorCount - c.ByzantineThreshold()
}

// TimeoutForView returns the timeout for the given view using exponential
// backoff: base doubles per view, capped at 64x base from view 6 onward.
func (c *ConsensusConfig) TimeoutForView(view ViewNumber) time.Duration {
	shift := uint(view)
	if shift > maxTimeoutShift {
		shift = maxTimeoutShift
	}
	return c.ViewTimeout << shift
}
