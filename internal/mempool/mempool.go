// Package mempool provides the in-memory transaction pool backing block
// proposals. Ordering is FIFO; the consensus layer only consumes hashes.
package mempool

import (
	"sync"

	"dbft-federation/pkg/consensus/types"
)

// Pool is a FIFO transaction hash pool. It implements the consensus
// MempoolInterface.
type Pool struct {
	mu     sync.RWMutex
	order  []types.TxHash
	known  map[types.TxHash]struct{}
	maxLen int
}

// NewPool creates a pool capped at maxLen entries. Submissions past the
// cap are rejected until space frees up.
func NewPool(maxLen int) *Pool {
	if maxLen <= 0 {
		maxLen = 4096
	}
	return &Pool{
		known:  make(map[types.TxHash]struct{}),
		maxLen: maxLen,
	}
}

// Add queues a transaction hash. Duplicates and overflow are reported as
// false without error.
func (p *Pool) Add(hash types.TxHash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.known[hash]; exists {
		return false
	}
	if len(p.order) >= p.maxLen {
		return false
	}
	p.known[hash] = struct{}{}
	p.order = append(p.order, hash)
	return true
}

// CandidateTransactions returns up to limit hashes in arrival order.
func (p *Pool) CandidateTransactions(limit int) []types.TxHash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit > len(p.order) {
		limit = len(p.order)
	}
	out := make([]types.TxHash, limit)
	copy(out, p.order[:limit])
	return out
}

// RemoveCommitted drops hashes that were included in a finalized block.
func (p *Pool) RemoveCommitted(hashes []types.TxHash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	committed := make(map[types.TxHash]struct{}, len(hashes))
	for _, h := range hashes {
		committed[h] = struct{}{}
	}

	kept := p.order[:0]
	for _, h := range p.order {
		if _, gone := committed[h]; gone {
			delete(p.known, h)
			continue
		}
		kept = append(kept, h)
	}
	p.order = kept
}

// Size returns the number of queued hashes.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}
