// Package messages defines the six dBFT protocol messages, their binary
// wire layouts and the signed payload envelope that carries them.
package messages

import (
	"dbft-federation/pkg/consensus/types"
)

// MessageType is the wire discriminant of a consensus message. The byte
// values are normative and must round-trip unchanged.
type MessageType uint8

const (
	// MsgTypePrepareRequest is the primary's block proposal.
	MsgTypePrepareRequest MessageType = 0x00
	// MsgTypePrepareResponse is a backup's accept/reject vote on a proposal.
	MsgTypePrepareResponse MessageType = 0x01
	// MsgTypeCommit carries a validator's signature over the agreed block.
	MsgTypeCommit MessageType = 0x02
	// MsgTypeChangeView is a vote to replace a failed or silent primary.
	MsgTypeChangeView MessageType = 0x03
	// MsgTypeRecoveryRequest asks peers for their current round knowledge.
	MsgTypeRecoveryRequest MessageType = 0x04
	// MsgTypeRecoveryResponse is a bundle of round knowledge for a late peer.
	MsgTypeRecoveryResponse MessageType = 0x05
)

// IsValid reports whether the byte is a known message discriminant.
func (mt MessageType) IsValid() bool {
	return mt <= MsgTypeRecoveryResponse
}

// String returns a human-readable representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MsgTypePrepareRequest:
		return "PrepareRequest"
	case MsgTypePrepareResponse:
		return "PrepareResponse"
	case MsgTypeCommit:
		return "Commit"
	case MsgTypeChangeView:
		return "ChangeView"
	case MsgTypeRecoveryRequest:
		return "RecoveryRequest"
	case MsgTypeRecoveryResponse:
		return "RecoveryResponse"
	default:
		return "Unknown"
	}
}

// ConsensusMessage is the common contract of all six protocol messages.
// Validation is purely local and structural; semantic acceptance is
// arbitrated by the round and engine.
type ConsensusMessage interface {
	// Type returns the wire discriminant of this message.
	Type() MessageType
	// Serialize encodes the message body into its fixed binary layout.
	Serialize() []byte
	// Validate performs local structural validation against the config limits.
	Validate(cfg *types.ConsensusConfig) error
}

// DeserializeMessage decodes a message body of the given type. Unknown
// discriminants and truncated input yield an InvalidMessage error.
func DeserializeMessage(mt MessageType, body []byte) (ConsensusMessage, error) {
	switch mt {
	case MsgTypePrepareRequest:
		return DeserializePrepareRequest(body)
	case MsgTypePrepareResponse:
		return DeserializePrepareResponse(body)
	case MsgTypeCommit:
		return DeserializeCommit(body)
	case MsgTypeChangeView:
		return DeserializeChangeView(body)
	case MsgTypeRecoveryRequest:
		return DeserializeRecoveryRequest(body)
	case MsgTypeRecoveryResponse:
		return DeserializeRecoveryResponse(body)
	default:
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"unknown message type 0x%02x", uint8(mt))
	}
}
