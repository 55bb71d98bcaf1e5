// Package types defines the fundamental data types used throughout the dBFT consensus protocol.
package types

import (
	"encoding/hex"
	"fmt"
)

// ViewNumber identifies one primary's attempt to get a block agreed upon.
// It is a single byte for wire compatibility and wraps modulo 256 on increment.
type ViewNumber uint8

// Next returns the view that follows this one without mutating the receiver.
func (v ViewNumber) Next() ViewNumber {
	return v + 1
}

// Increment advances the view in place, wrapping 255 -> 0.
func (v *ViewNumber) Increment() {
	*v++
}

// String returns a string representation of the view number.
func (v ViewNumber) String() string {
	return fmt.Sprintf("%d", v)
}

// ValidatorIndex identifies a committee member by its position in the
// ordered validator list.
type ValidatorIndex uint8

// String returns a string representation of the validator index.
func (i ValidatorIndex) String() string {
	return fmt.Sprintf("%d", i)
}

// BlockIndex is the height of a block in the chain.
type BlockIndex uint32

// BlockHash is the SHA-256 hash of a block.
type BlockHash [32]byte

// String returns the hex representation of the block hash.
func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zeroes.
func (h BlockHash) IsZero() bool {
	return h == BlockHash{}
}

// TxHash is the SHA-256 hash of a transaction.
type TxHash [32]byte

// String returns the hex representation of the transaction hash.
func (h TxHash) String() string {
	return hex.EncodeToString(h[:])
}

// PublicKey represents a validator's public key as raw bytes.
// The concrete scheme is owned by the crypto collaborator.
type PublicKey []byte
