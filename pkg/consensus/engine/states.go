// Package engine implements the dBFT consensus state machine: proposal
// building, vote tallying, view changes and recovery for one validator.
package engine

import "dbft-federation/pkg/consensus/events"

// State is the engine's position in the consensus round lifecycle.
type State uint8

const (
	// StateAwaitingProposal: backup waiting for the primary's prepare request.
	StateAwaitingProposal State = iota
	// StateProposalPending: primary building its proposal before broadcast.
	StateProposalPending
	// StateAwaitingQuorumOfResponses: proposal accepted, collecting responses.
	StateAwaitingQuorumOfResponses
	// StateAwaitingQuorumOfCommits: response quorum reached, collecting commits.
	StateAwaitingQuorumOfCommits
	// StateFinalized: commit quorum reached; terminal for the height.
	StateFinalized
	// StateViewChanging: view change requested, waiting for committee quorum.
	StateViewChanging
	// StateRecoveryPending: round knowledge requested from peers.
	StateRecoveryPending
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingProposal:
		return "AwaitingProposal"
	case StateProposalPending:
		return "ProposalPending"
	case StateAwaitingQuorumOfResponses:
		return "AwaitingQuorumOfResponses"
	case StateAwaitingQuorumOfCommits:
		return "AwaitingQuorumOfCommits"
	case StateFinalized:
		return "Finalized"
	case StateViewChanging:
		return "ViewChanging"
	case StateRecoveryPending:
		return "RecoveryPending"
	default:
		return "Unknown"
	}
}

// traceState maps the engine state to the events vocabulary.
func (s State) traceState() events.State {
	switch s {
	case StateAwaitingProposal:
		return events.StateAwaitingProposal
	case StateProposalPending:
		return events.StateProposalPending
	case StateAwaitingQuorumOfResponses:
		return events.StateAwaitingQuorumOfResponses
	case StateAwaitingQuorumOfCommits:
		return events.StateAwaitingQuorumOfCommits
	case StateFinalized:
		return events.StateFinalized
	case StateViewChanging:
		return events.StateViewChanging
	case StateRecoveryPending:
		return events.StateRecoveryPending
	default:
		return events.State("unknown")
	}
}

// IsTerminal reports whether the state ends the current height.
func (s State) IsTerminal() bool {
	return s == StateFinalized
}
