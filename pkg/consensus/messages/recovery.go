package messages

import (
	"bytes"
	"io"

	"dbft-federation/pkg/consensus/types"
)

// RecoveryRequest asks peers to share their current round knowledge with a
// validator that restarted or fell behind.
type RecoveryRequest struct {
	// Timestamp is the request time in milliseconds since the Unix epoch.
	Timestamp uint64
}

// NewRecoveryRequest creates a recovery request.
func NewRecoveryRequest(timestamp uint64) *RecoveryRequest {
	return &RecoveryRequest{Timestamp: timestamp}
}

// Type returns the message type.
func (rr *RecoveryRequest) Type() MessageType {
	return MsgTypeRecoveryRequest
}

// Serialize encodes the request: timestamp(u64).
func (rr *RecoveryRequest) Serialize() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	putU64(buf, rr.Timestamp)
	return buf.Bytes()
}

// DeserializeRecoveryRequest decodes a recovery request body.
func DeserializeRecoveryRequest(data []byte) (*RecoveryRequest, error) {
	r := bytes.NewReader(data)
	ts, err := readU64(r, "recovery request timestamp")
	if err != nil {
		return nil, err
	}
	return &RecoveryRequest{Timestamp: ts}, nil
}

// Validate performs local structural validation.
func (rr *RecoveryRequest) Validate(cfg *types.ConsensusConfig) error {
	return nil
}

// IndexedChangeView is a change view vote attributed to its sender.
type IndexedChangeView struct {
	ValidatorIndex types.ValidatorIndex
	ChangeView     ChangeView
}

// IndexedPrepareResponse is a prepare response attributed to its sender.
type IndexedPrepareResponse struct {
	ValidatorIndex types.ValidatorIndex
	Response       PrepareResponse
}

// IndexedCommit is a commit attributed to its sender.
type IndexedCommit struct {
	ValidatorIndex types.ValidatorIndex
	Commit         Commit
}

// RecoveryResponse is a snapshot of a node's round knowledge: collected
// change view votes, the active proposal if any, and all recorded prepare
// responses and commits.
type RecoveryResponse struct {
	ChangeViews      []IndexedChangeView
	PrepareRequest   *PrepareRequest
	PrepareResponses []IndexedPrepareResponse
	Commits          []IndexedCommit
}

// Type returns the message type.
func (rr *RecoveryResponse) Type() MessageType {
	return MsgTypeRecoveryResponse
}

// Serialize encodes the bundle: change_view_count(varint) ||
// (validator_index(u8) || ChangeView) x count || has_prepare_request(u8) ||
// [PrepareRequest] || prepare_response_count(varint) ||
// (validator_index(u8) || PrepareResponse) x count || commit_count(varint) ||
// (validator_index(u8) || Commit) x count.
// The embedded prepare request is varint-length-prefixed: its trailing raw
// block data would otherwise be undelimited inside the bundle.
func (rr *RecoveryResponse) Serialize() []byte {
	buf := bytes.NewBuffer(nil)
	putUvarint(buf, uint64(len(rr.ChangeViews)))
	for _, icv := range rr.ChangeViews {
		putU8(buf, uint8(icv.ValidatorIndex))
		buf.Write(icv.ChangeView.Serialize())
	}
	if rr.PrepareRequest != nil {
		putU8(buf, 1)
		body := rr.PrepareRequest.Serialize()
		putUvarint(buf, uint64(len(body)))
		buf.Write(body)
	} else {
		putU8(buf, 0)
	}
	putUvarint(buf, uint64(len(rr.PrepareResponses)))
	for _, ipr := range rr.PrepareResponses {
		putU8(buf, uint8(ipr.ValidatorIndex))
		buf.Write(ipr.Response.Serialize())
	}
	putUvarint(buf, uint64(len(rr.Commits)))
	for _, ic := range rr.Commits {
		putU8(buf, uint8(ic.ValidatorIndex))
		buf.Write(ic.Commit.Serialize())
	}
	return buf.Bytes()
}

// DeserializeRecoveryResponse decodes a recovery response body.
func DeserializeRecoveryResponse(data []byte) (*RecoveryResponse, error) {
	r := bytes.NewReader(data)
	rr := &RecoveryResponse{}

	cvCount, err := readUvarint(r, "recovery change view count")
	if err != nil {
		return nil, err
	}
	// ChangeView bodies are 10 bytes plus the index byte.
	if cvCount > uint64(r.Len())/11 {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"recovery change view count %d exceeds remaining data", cvCount)
	}
	rr.ChangeViews = make([]IndexedChangeView, 0, cvCount)
	for i := uint64(0); i < cvCount; i++ {
		idx, err := readU8(r, "recovery change view index")
		if err != nil {
			return nil, err
		}
		var body [10]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, truncated("recovery change view body", err)
		}
		cv, err := DeserializeChangeView(body[:])
		if err != nil {
			return nil, err
		}
		rr.ChangeViews = append(rr.ChangeViews, IndexedChangeView{
			ValidatorIndex: types.ValidatorIndex(idx),
			ChangeView:     *cv,
		})
	}

	hasRequest, err := readU8(r, "recovery prepare request flag")
	if err != nil {
		return nil, err
	}
	switch hasRequest {
	case 1:
		body, err := readVarBytes(r, "recovery prepare request")
		if err != nil {
			return nil, err
		}
		if rr.PrepareRequest, err = DeserializePrepareRequest(body); err != nil {
			return nil, err
		}
	case 0:
	default:
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"invalid recovery prepare request flag 0x%02x", hasRequest)
	}

	prCount, err := readUvarint(r, "recovery prepare response count")
	if err != nil {
		return nil, err
	}
	if prCount > uint64(r.Len())/34 {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"recovery prepare response count %d exceeds remaining data", prCount)
	}
	rr.PrepareResponses = make([]IndexedPrepareResponse, 0, prCount)
	for i := uint64(0); i < prCount; i++ {
		idx, err := readU8(r, "recovery prepare response index")
		if err != nil {
			return nil, err
		}
		resp, err := readPrepareResponse(r)
		if err != nil {
			return nil, err
		}
		rr.PrepareResponses = append(rr.PrepareResponses, IndexedPrepareResponse{
			ValidatorIndex: types.ValidatorIndex(idx),
			Response:       *resp,
		})
	}

	cCount, err := readUvarint(r, "recovery commit count")
	if err != nil {
		return nil, err
	}
	if cCount > uint64(r.Len())/2 {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"recovery commit count %d exceeds remaining data", cCount)
	}
	rr.Commits = make([]IndexedCommit, 0, cCount)
	for i := uint64(0); i < cCount; i++ {
		idx, err := readU8(r, "recovery commit index")
		if err != nil {
			return nil, err
		}
		sig, err := readVarBytes(r, "recovery commit signature")
		if err != nil {
			return nil, err
		}
		rr.Commits = append(rr.Commits, IndexedCommit{
			ValidatorIndex: types.ValidatorIndex(idx),
			Commit:         Commit{Signature: sig},
		})
	}
	return rr, nil
}

// Validate performs structural validation of every embedded sub-message.
func (rr *RecoveryResponse) Validate(cfg *types.ConsensusConfig) error {
	for i := range rr.ChangeViews {
		if err := rr.ChangeViews[i].ChangeView.Validate(cfg); err != nil {
			return err
		}
	}
	if rr.PrepareRequest != nil {
		if err := rr.PrepareRequest.Validate(cfg); err != nil {
			return err
		}
	}
	for i := range rr.PrepareResponses {
		if err := rr.PrepareResponses[i].Response.Validate(cfg); err != nil {
			return err
		}
	}
	for i := range rr.Commits {
		if err := rr.Commits[i].Commit.Validate(cfg); err != nil {
			return err
		}
	}
	return nil
}
