package mocks

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"dbft-federation/pkg/consensus/types"
)

// MockMempool implements MempoolInterface with a fixed set of transaction
// hashes. An empty pool models a node with nothing to propose.
type MockMempool struct {
	mu     sync.RWMutex
	hashes []types.TxHash
}

// NewMockMempool creates a mempool pre-filled with count synthetic hashes.
func NewMockMempool(count int) *MockMempool {
	mp := &MockMempool{}
	for i := 0; i < count; i++ {
		mp.hashes = append(mp.hashes, syntheticTxHash(uint64(i)))
	}
	return mp
}

// CandidateTransactions returns up to limit hashes, best first.
func (mp *MockMempool) CandidateTransactions(limit int) []types.TxHash {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	if limit > len(mp.hashes) {
		limit = len(mp.hashes)
	}
	out := make([]types.TxHash, limit)
	copy(out, mp.hashes[:limit])
	return out
}

// SetTransactions replaces the pool contents.
func (mp *MockMempool) SetTransactions(hashes []types.TxHash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.hashes = append([]types.TxHash(nil), hashes...)
}

func syntheticTxHash(seed uint64) types.TxHash {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	return types.TxHash(sha256.Sum256(b[:]))
}
