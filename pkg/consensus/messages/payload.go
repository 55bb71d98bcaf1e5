package messages

import (
	"bytes"
	"crypto/sha256"

	"dbft-federation/pkg/consensus/types"
)

// Payload is the signed envelope carrying a consensus message between
// validators: validator_index(u8) || block_index(u32) || view_number(u8) ||
// timestamp(u64) || message_type(u8) || body. The envelope signature covers
// the payload hash; on the wire it is prepended to the envelope so message
// bodies may run to the end of the frame.
type Payload struct {
	// ValidatorIndex is the committee index of the sender.
	ValidatorIndex types.ValidatorIndex
	// BlockIndex is the height this message belongs to.
	BlockIndex types.BlockIndex
	// ViewNumber is the view this message was originated in.
	ViewNumber types.ViewNumber
	// Timestamp is the send time in milliseconds since the Unix epoch.
	Timestamp uint64
	// Message is the typed consensus message body.
	Message ConsensusMessage
	// Signature is the sender's signature over Hash(); checked before the
	// message is admitted into the round.
	Signature []byte
}

// NewPayload creates an unsigned envelope for the given message.
func NewPayload(index types.ValidatorIndex, height types.BlockIndex, view types.ViewNumber,
	timestamp uint64, msg ConsensusMessage) *Payload {
	return &Payload{
		ValidatorIndex: index,
		BlockIndex:     height,
		ViewNumber:     view,
		Timestamp:      timestamp,
		Message:        msg,
	}
}

// Type returns the discriminant of the carried message.
func (p *Payload) Type() MessageType {
	return p.Message.Type()
}

// Serialize encodes the envelope and message body, excluding the signature.
func (p *Payload) Serialize() []byte {
	body := p.Message.Serialize()
	buf := bytes.NewBuffer(make([]byte, 0, 15+len(body)))
	putU8(buf, uint8(p.ValidatorIndex))
	putU32(buf, uint32(p.BlockIndex))
	putU8(buf, uint8(p.ViewNumber))
	putU64(buf, p.Timestamp)
	putU8(buf, uint8(p.Message.Type()))
	buf.Write(body)
	return buf.Bytes()
}

// Hash returns the SHA-256 content hash of the serialized envelope. Equal
// payloads hash identically, including across a serialize/deserialize
// round trip.
func (p *Payload) Hash() types.BlockHash {
	return types.BlockHash(sha256.Sum256(p.Serialize()))
}

// SerializeSigned encodes the transport frame:
// signature_len(varint) || signature || envelope.
func (p *Payload) SerializeSigned() []byte {
	envelope := p.Serialize()
	buf := bytes.NewBuffer(make([]byte, 0, len(envelope)+len(p.Signature)+2))
	putUvarint(buf, uint64(len(p.Signature)))
	buf.Write(p.Signature)
	buf.Write(envelope)
	return buf.Bytes()
}

// DeserializePayload decodes an unsigned envelope.
func DeserializePayload(data []byte) (*Payload, error) {
	return readPayload(bytes.NewReader(data))
}

// DeserializeSignedPayload decodes a transport frame produced by
// SerializeSigned.
func DeserializeSignedPayload(data []byte) (*Payload, error) {
	r := bytes.NewReader(data)
	sig, err := readVarBytes(r, "payload signature")
	if err != nil {
		return nil, err
	}
	p, err := readPayload(r)
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}

func readPayload(r *bytes.Reader) (*Payload, error) {
	p := &Payload{}

	idx, err := readU8(r, "payload validator index")
	if err != nil {
		return nil, err
	}
	p.ValidatorIndex = types.ValidatorIndex(idx)
	height, err := readU32(r, "payload block index")
	if err != nil {
		return nil, err
	}
	p.BlockIndex = types.BlockIndex(height)
	view, err := readU8(r, "payload view number")
	if err != nil {
		return nil, err
	}
	p.ViewNumber = types.ViewNumber(view)
	if p.Timestamp, err = readU64(r, "payload timestamp"); err != nil {
		return nil, err
	}
	mt, err := readU8(r, "payload message type")
	if err != nil {
		return nil, err
	}

	// The body is everything that remains in the envelope.
	body := make([]byte, r.Len())
	if len(body) > 0 {
		if _, err := r.Read(body); err != nil {
			return nil, truncated("payload body", err)
		}
	}
	msg, err := DeserializeMessage(MessageType(mt), body)
	if err != nil {
		return nil, err
	}
	p.Message = msg
	return p, nil
}
