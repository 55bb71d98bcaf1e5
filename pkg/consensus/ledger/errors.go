// Package ledger defines error types for ledger interface operations.
package ledger

import "fmt"

// LedgerErrorType represents the category of ledger error.
type LedgerErrorType int

const (
	ErrorTypeNotFound LedgerErrorType = iota
	ErrorTypeConflict
	ErrorTypeStorage
)

// LedgerError represents an error that occurred during ledger operations.
type LedgerError struct {
	Type    LedgerErrorType
	Message string
	Cause   error
}

// NewLedgerError creates a new ledger error with the specified type and message.
func NewLedgerError(errorType LedgerErrorType, message string) *LedgerError {
	return &LedgerError{Type: errorType, Message: message}
}

// NewLedgerErrorWithCause creates a new ledger error with an underlying cause.
func NewLedgerErrorWithCause(errorType LedgerErrorType, message string, cause error) *LedgerError {
	return &LedgerError{Type: errorType, Message: message, Cause: cause}
}

// Error returns the string representation of the ledger error.
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ledger error (%s): %s - caused by: %v", e.typeString(), e.Message, e.Cause)
	}
	return fmt.Sprintf("ledger error (%s): %s", e.typeString(), e.Message)
}

// Unwrap returns the underlying cause of the error for error unwrapping.
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

func (e *LedgerError) typeString() string {
	switch e.Type {
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "conflict"
	case ErrorTypeStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// IsLedgerError checks if an error is a LedgerError of a specific type.
func IsLedgerError(err error, errorType LedgerErrorType) bool {
	if lerr, ok := err.(*LedgerError); ok {
		return lerr.Type == errorType
	}
	return false
}
