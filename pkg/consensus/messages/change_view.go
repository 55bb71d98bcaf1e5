package messages

import (
	"bytes"

	"dbft-federation/pkg/consensus/types"
)

// ChangeViewReason names why a validator votes to replace the primary.
type ChangeViewReason uint8

const (
	// ReasonPrepareRequestTimeout: no proposal arrived within the view timeout.
	ReasonPrepareRequestTimeout ChangeViewReason = 0x00
	// ReasonPrepareResponseTimeout: no response quorum within the view timeout.
	ReasonPrepareResponseTimeout ChangeViewReason = 0x01
	// ReasonCommitTimeout: no commit quorum within the view timeout.
	ReasonCommitTimeout ChangeViewReason = 0x02
	// ReasonInvalidPrepareRequest: the primary's proposal failed validation.
	ReasonInvalidPrepareRequest ChangeViewReason = 0x03
	// ReasonPrimaryFailure: the primary is known to have failed.
	ReasonPrimaryFailure ChangeViewReason = 0x04
	// ReasonNetworkPartition: the validator suspects a partition.
	ReasonNetworkPartition ChangeViewReason = 0x05
	// ReasonManual: an operator requested the view change.
	ReasonManual ChangeViewReason = 0x06
)

// IsValid reports whether the reason byte belongs to the closed reason set.
func (r ChangeViewReason) IsValid() bool {
	return r <= ReasonManual
}

// String returns a human-readable representation of the reason.
func (r ChangeViewReason) String() string {
	switch r {
	case ReasonPrepareRequestTimeout:
		return "PrepareRequestTimeout"
	case ReasonPrepareResponseTimeout:
		return "PrepareResponseTimeout"
	case ReasonCommitTimeout:
		return "CommitTimeout"
	case ReasonInvalidPrepareRequest:
		return "InvalidPrepareRequest"
	case ReasonPrimaryFailure:
		return "PrimaryFailure"
	case ReasonNetworkPartition:
		return "NetworkPartition"
	case ReasonManual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// ChangeView is a vote to move the round to a new view with a new primary.
type ChangeView struct {
	// NewViewNumber is the view the sender wants to move to.
	NewViewNumber types.ViewNumber
	// Timestamp is the vote time in milliseconds since the Unix epoch.
	Timestamp uint64
	// Reason names why the sender wants the view changed.
	Reason ChangeViewReason
}

// NewChangeView creates a change view vote.
func NewChangeView(newView types.ViewNumber, timestamp uint64, reason ChangeViewReason) *ChangeView {
	return &ChangeView{NewViewNumber: newView, Timestamp: timestamp, Reason: reason}
}

// Type returns the message type.
func (cv *ChangeView) Type() MessageType {
	return MsgTypeChangeView
}

// Serialize encodes the vote: new_view(u8) || timestamp(u64) || reason(u8).
func (cv *ChangeView) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 10))
	putU8(buf, uint8(cv.NewViewNumber))
	putU64(buf, cv.Timestamp)
	putU8(buf, uint8(cv.Reason))
	return buf.Bytes()
}

// DeserializeChangeView decodes a change view body.
func DeserializeChangeView(data []byte) (*ChangeView, error) {
	r := bytes.NewReader(data)
	cv := &ChangeView{}
	newView, err := readU8(r, "change view target")
	if err != nil {
		return nil, err
	}
	cv.NewViewNumber = types.ViewNumber(newView)
	if cv.Timestamp, err = readU64(r, "change view timestamp"); err != nil {
		return nil, err
	}
	reason, err := readU8(r, "change view reason")
	if err != nil {
		return nil, err
	}
	cv.Reason = ChangeViewReason(reason)
	if !cv.Reason.IsValid() {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"invalid change view reason 0x%02x", reason)
	}
	return cv, nil
}

// Validate performs local structural validation.
func (cv *ChangeView) Validate(cfg *types.ConsensusConfig) error {
	if !cv.Reason.IsValid() {
		return types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"invalid change view reason 0x%02x", uint8(cv.Reason))
	}
	return nil
}
