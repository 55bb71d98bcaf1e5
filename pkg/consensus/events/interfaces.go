// Package events defines the event tracing abstraction for consensus
// testing and monitoring. The engine records events through this contract;
// production nodes use the no-op tracer.
package events

import (
	"time"
)

// EventTracer provides production-safe event tracing for the consensus
// protocol. Production implementations should use NoOpEventTracer to avoid
// any overhead; testing implementations can collect events for validation.
type EventTracer interface {
	// RecordEvent records a consensus event with associated payload
	RecordEvent(validatorIndex uint8, eventType EventType, payload EventPayload)

	// RecordTransition records a state transition of the engine
	RecordTransition(validatorIndex uint8, from, to State, trigger string)

	// RecordMessage records message sending/receiving for network analysis
	RecordMessage(validatorIndex uint8, direction MessageDirection, msgType string, payload EventPayload)
}

// EventType represents the type of consensus event that occurred
type EventType string

const (
	// Proposal events
	EventProposalBuilt       EventType = "proposal_built"
	EventProposalBroadcasted EventType = "proposal_broadcasted"
	EventProposalReceived    EventType = "proposal_received"
	EventProposalAccepted    EventType = "proposal_accepted"
	EventProposalRejected    EventType = "proposal_rejected"

	// Prepare phase events
	EventResponseSent     EventType = "prepare_response_sent"
	EventResponseReceived EventType = "prepare_response_received"
	EventResponseQuorum   EventType = "prepare_response_quorum"

	// Commit phase events
	EventCommitSent     EventType = "commit_sent"
	EventCommitReceived EventType = "commit_received"
	EventCommitQuorum   EventType = "commit_quorum"
	EventBlockFinalized EventType = "block_finalized"
	EventBlockCommitted EventType = "block_committed"
	EventHeightAdvanced EventType = "height_advanced"

	// View change events
	EventViewTimeout       EventType = "view_timeout"
	EventChangeViewSent    EventType = "change_view_sent"
	EventChangeViewReceived EventType = "change_view_received"
	EventViewChanged       EventType = "view_changed"
	EventHeightStalled     EventType = "height_stalled"

	// Recovery events
	EventRecoveryRequested EventType = "recovery_requested"
	EventRecoveryServed    EventType = "recovery_served"
	EventRecoveryMerged    EventType = "recovery_merged"

	// Fault events
	EventMessageDiscarded EventType = "message_discarded"
	EventSignatureInvalid EventType = "signature_invalid"

	// EventStateTransition marks an engine state change.
	EventStateTransition EventType = "state_transition"
)

// EventPayload contains event-specific data as key-value pairs
type EventPayload map[string]interface{}

// State represents the engine's state machine states
type State string

const (
	StateAwaitingProposal          State = "awaiting_proposal"
	StateProposalPending           State = "proposal_pending"
	StateAwaitingQuorumOfResponses State = "awaiting_quorum_of_responses"
	StateAwaitingQuorumOfCommits   State = "awaiting_quorum_of_commits"
	StateFinalized                 State = "finalized"
	StateViewChanging              State = "view_changing"
	StateRecoveryPending           State = "recovery_pending"
)

// MessageDirection indicates whether a message is being sent or received
type MessageDirection string

const (
	MessageInbound  MessageDirection = "inbound"
	MessageOutbound MessageDirection = "outbound"
)

// ConsensusEvent represents a single recorded event in the consensus protocol
type ConsensusEvent struct {
	ValidatorIndex uint8        `json:"validator_index"`
	EventType      EventType    `json:"event_type"`
	Payload        EventPayload `json:"payload"`
	Timestamp      time.Time    `json:"timestamp"`

	// State transition specific fields
	FromState State  `json:"from_state,omitempty"`
	ToState   State  `json:"to_state,omitempty"`
	Trigger   string `json:"trigger,omitempty"`

	// Message specific fields
	Direction   MessageDirection `json:"direction,omitempty"`
	MessageType string           `json:"message_type,omitempty"`
}

// NoOpEventTracer provides a zero-overhead implementation for production use.
type NoOpEventTracer struct{}

// RecordEvent does nothing in production builds
func (t *NoOpEventTracer) RecordEvent(validatorIndex uint8, eventType EventType, payload EventPayload) {
}

// RecordTransition does nothing in production builds
func (t *NoOpEventTracer) RecordTransition(validatorIndex uint8, from, to State, trigger string) {}

// RecordMessage does nothing in production builds
func (t *NoOpEventTracer) RecordMessage(validatorIndex uint8, direction MessageDirection, msgType string, payload EventPayload) {
}
