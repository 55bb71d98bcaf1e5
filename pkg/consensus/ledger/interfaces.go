// Package ledger defines the block persistence abstraction consumed by the
// dBFT engine. Durability guarantees belong to the implementation.
package ledger

import (
	"dbft-federation/pkg/consensus/types"
)

// CommittedBlock is a finalized block together with the commit signatures
// that finalized it.
type CommittedBlock struct {
	Block      *types.Block
	Signatures map[types.ValidatorIndex][]byte
}

// LedgerInterface provides chain state to the engine and persists
// finalized blocks.
type LedgerInterface interface {
	// CurrentHeight returns the height of the latest persisted block.
	CurrentHeight() (types.BlockIndex, error)
	// Tip returns the latest persisted block.
	Tip() (*types.Block, error)
	// CommitBlock persists a finalized block with its commit signatures.
	CommitBlock(block *CommittedBlock) error
}
