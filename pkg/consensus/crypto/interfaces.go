// Package crypto defines the cryptographic abstraction interfaces for the
// dBFT consensus protocol. The engine only invokes signing, verification
// and hashing through these narrow contracts.
package crypto

import (
	"dbft-federation/pkg/consensus/types"
)

// Signer produces signatures with this validator's consensus key.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	PublicKey() types.PublicKey
}

// Verifier checks signatures against a claimed validator index.
type Verifier interface {
	Verify(data []byte, signature []byte, index types.ValidatorIndex) error
}

// CryptoInterface combines the signing and verification contracts consumed
// by the engine.
type CryptoInterface interface {
	Signer
	Verifier
}
