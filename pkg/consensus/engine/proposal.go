package engine

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"dbft-federation/pkg/consensus/mempool"
	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/types"
)

// ProposalBuilder constructs candidate blocks for the primary from the
// previous block reference and the mempool's candidate transactions. The
// primary self-validates the result with the same checks a backup applies.
type ProposalBuilder struct {
	config  *types.ConsensusConfig
	mempool mempool.MempoolInterface
	nowFn   func() time.Time
}

// NewProposalBuilder creates a proposal builder.
func NewProposalBuilder(config *types.ConsensusConfig, pool mempool.MempoolInterface) *ProposalBuilder {
	return &ProposalBuilder{
		config:  config,
		mempool: pool,
		nowFn:   time.Now,
	}
}

// Build produces a prepare request for the given height. The proposal
// timestamp is strictly greater than the previous block's timestamp, and
// the result passes the same Validate a backup would apply.
func (pb *ProposalBuilder) Build(height types.BlockIndex, prevHash types.BlockHash,
	prevTimestamp uint64) (*types.Block, *messages.PrepareRequest, error) {
	txHashes := pb.mempool.CandidateTransactions(pb.config.MaxTransactionsPerBlock)
	if len(txHashes) == 0 {
		return nil, nil, types.NewConsensusError(types.ErrorTypeNotReady,
			"mempool offered no candidate transactions")
	}

	timestamp := uint64(pb.nowFn().UnixMilli())
	if timestamp <= prevTimestamp {
		timestamp = prevTimestamp + 1
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, nil, err
	}

	block := types.NewBlock(height, prevHash, timestamp, nonce, txHashes)
	request := messages.NewPrepareRequest(block)
	if err := request.Validate(pb.config); err != nil {
		return nil, nil, err
	}
	return block, request, nil
}

func randomNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, types.NewConsensusErrorWithCause(types.ErrorTypeNotReady,
			"nonce generation failed", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
