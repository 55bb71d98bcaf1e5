package messages

import (
	"bytes"

	"dbft-federation/pkg/consensus/types"
)

// MaxCommitSignatureSize is the practical upper bound for a commit
// signature under the supported signature schemes.
const MaxCommitSignatureSize = 520

// Commit carries a validator's signature over the agreed block.
type Commit struct {
	// Signature is the validator's signature over the block hash.
	Signature []byte
}

// NewCommit creates a commit message with the given block signature.
func NewCommit(signature []byte) *Commit {
	return &Commit{Signature: signature}
}

// Type returns the message type.
func (c *Commit) Type() MessageType {
	return MsgTypeCommit
}

// Serialize encodes the commit: signature_len(varint) || signature_bytes.
func (c *Commit) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(c.Signature)+2))
	putUvarint(buf, uint64(len(c.Signature)))
	buf.Write(c.Signature)
	return buf.Bytes()
}

// DeserializeCommit decodes a commit body.
func DeserializeCommit(data []byte) (*Commit, error) {
	r := bytes.NewReader(data)
	sig, err := readVarBytes(r, "commit signature")
	if err != nil {
		return nil, err
	}
	return &Commit{Signature: sig}, nil
}

// Validate checks that the signature is present and within bounds.
func (c *Commit) Validate(cfg *types.ConsensusConfig) error {
	if len(c.Signature) == 0 {
		return types.NewConsensusError(types.ErrorTypeInvalidMessage, "commit signature is empty")
	}
	if len(c.Signature) > MaxCommitSignatureSize {
		return types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"commit signature %d bytes exceeds limit %d", len(c.Signature), MaxCommitSignatureSize)
	}
	return nil
}
