package messages

import (
	"bytes"

	"dbft-federation/pkg/consensus/types"
)

// PrepareResponse is a backup's vote on the current proposal. It references
// the prepare request's block hash and carries an explicit accept/reject
// outcome; rejected votes name a reason for fail-fast diagnostics.
type PrepareResponse struct {
	// BlockHash references the prepare request being answered.
	BlockHash types.BlockHash
	// Accepted reports whether the backup accepted the proposal.
	Accepted bool
	// RejectReason names why the proposal was rejected; empty when accepted.
	RejectReason string
}

// NewPrepareResponseAccepted creates an accepting response for the block.
func NewPrepareResponseAccepted(blockHash types.BlockHash) *PrepareResponse {
	return &PrepareResponse{BlockHash: blockHash, Accepted: true}
}

// NewPrepareResponseRejected creates a rejecting response with a reason.
func NewPrepareResponseRejected(blockHash types.BlockHash, reason string) *PrepareResponse {
	return &PrepareResponse{BlockHash: blockHash, Accepted: false, RejectReason: reason}
}

// Type returns the message type.
func (pr *PrepareResponse) Type() MessageType {
	return MsgTypePrepareResponse
}

// Serialize encodes the response: block_hash(32) || accepted(u8) ||
// [reason_len(varint) || reason_utf8] when rejected.
func (pr *PrepareResponse) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 33+len(pr.RejectReason)+2))
	buf.Write(pr.BlockHash[:])
	if pr.Accepted {
		putU8(buf, 1)
	} else {
		putU8(buf, 0)
		putUvarint(buf, uint64(len(pr.RejectReason)))
		buf.WriteString(pr.RejectReason)
	}
	return buf.Bytes()
}

// DeserializePrepareResponse decodes a prepare response body.
func DeserializePrepareResponse(data []byte) (*PrepareResponse, error) {
	return readPrepareResponse(bytes.NewReader(data))
}

// readPrepareResponse decodes a prepare response from the reader. The
// layout is self-delimiting, so it is also used for responses embedded in
// recovery bundles.
func readPrepareResponse(r *bytes.Reader) (*PrepareResponse, error) {
	pr := &PrepareResponse{}
	var err error
	if pr.BlockHash, err = readHash32(r, "prepare response block hash"); err != nil {
		return nil, err
	}
	outcome, err := readU8(r, "prepare response outcome")
	if err != nil {
		return nil, err
	}
	switch outcome {
	case 1:
		pr.Accepted = true
	case 0:
		reason, err := readVarBytes(r, "prepare response reason")
		if err != nil {
			return nil, err
		}
		pr.RejectReason = string(reason)
	default:
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"invalid prepare response outcome 0x%02x", outcome)
	}
	return pr, nil
}

// Validate performs local structural validation.
func (pr *PrepareResponse) Validate(cfg *types.ConsensusConfig) error {
	if !pr.Accepted && pr.RejectReason == "" {
		return types.NewConsensusError(types.ErrorTypeInvalidMessage,
			"rejected prepare response must carry a reason")
	}
	return nil
}
