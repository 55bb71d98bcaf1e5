package mocks

import (
	"bytes"
	"crypto/sha256"

	"dbft-federation/pkg/consensus/crypto"
	"dbft-federation/pkg/consensus/types"
)

// MockCrypto implements CryptoInterface with deterministic digests instead
// of real signatures. Every instance sharing a committee view verifies
// every other instance's output, which keeps multi-validator tests fast
// and reproducible.
type MockCrypto struct {
	index types.ValidatorIndex

	// FailSign, when true, makes Sign return an error.
	FailSign bool
	// RejectAll, when true, makes Verify reject every signature.
	RejectAll bool
}

// NewMockCrypto creates a deterministic crypto provider for one validator.
func NewMockCrypto(index types.ValidatorIndex) *MockCrypto {
	return &MockCrypto{index: index}
}

// Sign produces the deterministic digest for this validator.
func (mc *MockCrypto) Sign(data []byte) ([]byte, error) {
	if mc.FailSign {
		return nil, crypto.NewCryptoError(crypto.ErrorTypeSignature, "simulated signing failure")
	}
	return mockSignature(mc.index, data), nil
}

// PublicKey returns a synthetic 32-byte key derived from the index.
func (mc *MockCrypto) PublicKey() types.PublicKey {
	key := sha256.Sum256([]byte{byte(mc.index)})
	return types.PublicKey(key[:])
}

// Verify recomputes the digest for the claimed signer and compares.
func (mc *MockCrypto) Verify(data, signature []byte, index types.ValidatorIndex) error {
	if mc.RejectAll {
		return crypto.NewCryptoError(crypto.ErrorTypeVerification, "simulated verification failure")
	}
	if !bytes.Equal(signature, mockSignature(index, data)) {
		return crypto.NewCryptoError(crypto.ErrorTypeVerification, "signature digest mismatch")
	}
	return nil
}

func mockSignature(index types.ValidatorIndex, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{byte(index)})
	h.Write(data)
	return h.Sum(nil)
}
