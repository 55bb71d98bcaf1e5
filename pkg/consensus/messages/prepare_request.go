package messages

import (
	"bytes"
	"io"

	"dbft-federation/pkg/consensus/types"
)

// PrepareRequest is the primary's block proposal for the current view.
type PrepareRequest struct {
	// BlockHash is the hash of the proposed block.
	BlockHash types.BlockHash
	// Timestamp is the proposal time in milliseconds since the Unix epoch.
	Timestamp uint64
	// Nonce is the proposer-chosen random value for the block.
	Nonce uint64
	// TxHashes is the ordered transaction hash list of the proposal.
	TxHashes []types.TxHash
	// BlockData is the raw serialized block.
	BlockData []byte
}

// NewPrepareRequest creates a prepare request for the given block.
func NewPrepareRequest(block *types.Block) *PrepareRequest {
	return &PrepareRequest{
		BlockHash: block.Hash(),
		Timestamp: block.Timestamp,
		Nonce:     block.Nonce,
		TxHashes:  block.TxHashes,
		BlockData: block.Serialize(),
	}
}

// Type returns the message type.
func (pr *PrepareRequest) Type() MessageType {
	return MsgTypePrepareRequest
}

// Serialize encodes the request: block_hash(32) || timestamp(u64) ||
// nonce(u64) || varint tx_count || tx_hash(32) x count || raw block data.
func (pr *PrepareRequest) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 64+len(pr.TxHashes)*32+len(pr.BlockData)))
	buf.Write(pr.BlockHash[:])
	putU64(buf, pr.Timestamp)
	putU64(buf, pr.Nonce)
	putUvarint(buf, uint64(len(pr.TxHashes)))
	for _, h := range pr.TxHashes {
		buf.Write(h[:])
	}
	buf.Write(pr.BlockData)
	return buf.Bytes()
}

// DeserializePrepareRequest decodes a prepare request body.
func DeserializePrepareRequest(data []byte) (*PrepareRequest, error) {
	r := bytes.NewReader(data)
	pr := &PrepareRequest{}
	var err error
	if pr.BlockHash, err = readHash32(r, "prepare request block hash"); err != nil {
		return nil, err
	}
	if pr.Timestamp, err = readU64(r, "prepare request timestamp"); err != nil {
		return nil, err
	}
	if pr.Nonce, err = readU64(r, "prepare request nonce"); err != nil {
		return nil, err
	}
	count, err := readUvarint(r, "prepare request tx count")
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Len())/32 {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"prepare request tx count %d exceeds remaining data", count)
	}
	pr.TxHashes = make([]types.TxHash, count)
	for i := range pr.TxHashes {
		if pr.TxHashes[i], err = readHash32(r, "prepare request tx hash"); err != nil {
			return nil, err
		}
	}
	// The remainder of the body is the raw block data.
	pr.BlockData = make([]byte, r.Len())
	if len(pr.BlockData) > 0 {
		if _, err := io.ReadFull(r, pr.BlockData); err != nil {
			return nil, truncated("prepare request block data", err)
		}
	}
	return pr, nil
}

// Validate checks the structural limits of the proposal: non-empty block
// data within MaxBlockSize and a 1..MaxTransactionsPerBlock hash list.
func (pr *PrepareRequest) Validate(cfg *types.ConsensusConfig) error {
	if len(pr.BlockData) == 0 {
		return types.NewConsensusError(types.ErrorTypeInvalidProposal, "block data is empty")
	}
	if len(pr.BlockData) > cfg.MaxBlockSize {
		return types.NewConsensusErrorf(types.ErrorTypeInvalidProposal,
			"block data %d bytes exceeds limit %d", len(pr.BlockData), cfg.MaxBlockSize)
	}
	if len(pr.TxHashes) == 0 {
		return types.NewConsensusError(types.ErrorTypeInvalidProposal, "proposal carries no transactions")
	}
	if len(pr.TxHashes) > cfg.MaxTransactionsPerBlock {
		return types.NewConsensusErrorf(types.ErrorTypeInvalidProposal,
			"proposal carries %d transactions, limit is %d", len(pr.TxHashes), cfg.MaxTransactionsPerBlock)
	}
	return nil
}
