package mocks

import (
	"sync"

	"dbft-federation/pkg/consensus/ledger"
	"dbft-federation/pkg/consensus/types"
)

// MockLedger implements LedgerInterface with an in-memory chain. It starts
// from a genesis block so Tip is always defined.
type MockLedger struct {
	mu     sync.RWMutex
	blocks []*ledger.CommittedBlock

	// CommitErr, when set, is returned by the next CommitBlock call and
	// then cleared. Used to exercise retry paths.
	CommitErr error
}

// NewMockLedger creates a ledger holding only the given genesis block.
func NewMockLedger(genesis *types.Block) *MockLedger {
	return &MockLedger{
		blocks: []*ledger.CommittedBlock{{Block: genesis}},
	}
}

// CurrentHeight returns the height of the latest block.
func (ml *MockLedger) CurrentHeight() (types.BlockIndex, error) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.blocks[len(ml.blocks)-1].Block.Index, nil
}

// Tip returns the latest block.
func (ml *MockLedger) Tip() (*types.Block, error) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.blocks[len(ml.blocks)-1].Block, nil
}

// CommitBlock appends the block if it extends the current tip.
func (ml *MockLedger) CommitBlock(committed *ledger.CommittedBlock) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.CommitErr != nil {
		err := ml.CommitErr
		ml.CommitErr = nil
		return err
	}

	tip := ml.blocks[len(ml.blocks)-1].Block
	if committed.Block.Index <= tip.Index {
		return ledger.NewLedgerError(ledger.ErrorTypeConflict, "block height already persisted")
	}
	if committed.Block.Index != tip.Index+1 {
		return ledger.NewLedgerError(ledger.ErrorTypeConflict, "block does not extend the tip")
	}
	if committed.Block.PrevHash != tip.Hash() {
		return ledger.NewLedgerError(ledger.ErrorTypeConflict, "previous hash mismatch")
	}
	ml.blocks = append(ml.blocks, committed)
	return nil
}

// BlockAt returns the committed block at the given height, or nil.
func (ml *MockLedger) BlockAt(height types.BlockIndex) *ledger.CommittedBlock {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	for _, b := range ml.blocks {
		if b.Block.Index == height {
			return b
		}
	}
	return nil
}

// Length returns the number of persisted blocks including genesis.
func (ml *MockLedger) Length() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.blocks)
}
