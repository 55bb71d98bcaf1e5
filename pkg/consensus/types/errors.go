// Package types defines error categories for consensus operations.
package types

import "fmt"

// ConsensusErrorType represents the category of consensus error.
type ConsensusErrorType int

const (
	// ErrorTypeInvalidMessage covers malformed, truncated or oversized messages.
	ErrorTypeInvalidMessage ConsensusErrorType = iota
	// ErrorTypeInvalidValidator covers out-of-range or unexpected validator indices.
	ErrorTypeInvalidValidator
	// ErrorTypeInvalidProposal covers proposals that fail local validation.
	ErrorTypeInvalidProposal
	// ErrorTypeSignatureVerification covers envelope or sub-message signature failures.
	ErrorTypeSignatureVerification
	// ErrorTypeTimeout covers view timeouts that trigger change-view escalation.
	ErrorTypeTimeout
	// ErrorTypeRecovery covers malformed or untrusted recovery material.
	ErrorTypeRecovery
	// ErrorTypeConfiguration covers invalid consensus configuration; fatal at construction.
	ErrorTypeConfiguration
	// ErrorTypeNotReady covers engine use before committee and config are loaded.
	ErrorTypeNotReady
)

// ConsensusError is a typed error carrying its taxonomy category so callers
// can decide between discard-and-continue and fatal handling.
type ConsensusError struct {
	Type    ConsensusErrorType
	Message string
	Cause   error
}

// NewConsensusError creates a new consensus error with the specified type and message.
func NewConsensusError(errorType ConsensusErrorType, message string) *ConsensusError {
	return &ConsensusError{Type: errorType, Message: message}
}

// NewConsensusErrorf creates a new consensus error with a formatted message.
func NewConsensusErrorf(errorType ConsensusErrorType, format string, args ...interface{}) *ConsensusError {
	return &ConsensusError{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// NewConsensusErrorWithCause creates a new consensus error wrapping an underlying cause.
func NewConsensusErrorWithCause(errorType ConsensusErrorType, message string, cause error) *ConsensusError {
	return &ConsensusError{Type: errorType, Message: message, Cause: cause}
}

// Error returns the string representation of the consensus error.
func (e *ConsensusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("consensus error (%s): %s - caused by: %v", e.typeString(), e.Message, e.Cause)
	}
	return fmt.Sprintf("consensus error (%s): %s", e.typeString(), e.Message)
}

// Unwrap returns the underlying cause of the error for error unwrapping.
func (e *ConsensusError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the error must stop the engine rather than be
// discarded. Only configuration errors are fatal; all network-facing
// failures are recoverable.
func (e *ConsensusError) IsFatal() bool {
	return e.Type == ErrorTypeConfiguration
}

func (e *ConsensusError) typeString() string {
	switch e.Type {
	case ErrorTypeInvalidMessage:
		return "invalid_message"
	case ErrorTypeInvalidValidator:
		return "invalid_validator"
	case ErrorTypeInvalidProposal:
		return "invalid_proposal"
	case ErrorTypeSignatureVerification:
		return "signature_verification"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeRecovery:
		return "recovery"
	case ErrorTypeConfiguration:
		return "configuration"
	case ErrorTypeNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// IsConsensusError checks if an error is a ConsensusError of a specific type.
func IsConsensusError(err error, errorType ConsensusErrorType) bool {
	if cerr, ok := err.(*ConsensusError); ok {
		return cerr.Type == errorType
	}
	return false
}
