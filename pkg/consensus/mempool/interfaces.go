// Package mempool defines the transaction supply abstraction consumed by
// the block proposal builder. Fee policy and transaction management belong
// to the implementation.
package mempool

import (
	"dbft-federation/pkg/consensus/types"
)

// MempoolInterface supplies candidate transaction hashes to the primary
// when it builds a proposal.
type MempoolInterface interface {
	// CandidateTransactions returns up to limit transaction hashes, best first.
	CandidateTransactions(limit int) []types.TxHash
}
