package crypto

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"dbft-federation/pkg/consensus/types"
)

// SchnorrProvider implements CryptoInterface with BIP-340 Schnorr
// signatures over secp256k1. Committee public keys are the 32-byte x-only
// form produced by schnorr.SerializePubKey.
type SchnorrProvider struct {
	privateKey *btcec.PrivateKey
	committee  *types.Committee
}

// NewSchnorrProvider creates a provider signing with the given private key
// and verifying against the committee's public keys.
func NewSchnorrProvider(privateKeyBytes []byte, committee *types.Committee) (*SchnorrProvider, error) {
	if len(privateKeyBytes) != 32 {
		return nil, NewCryptoError(ErrorTypeInvalidKey, "private key must be 32 bytes")
	}
	priv, _ := btcec.PrivKeyFromBytes(privateKeyBytes)
	return &SchnorrProvider{privateKey: priv, committee: committee}, nil
}

// GenerateKey creates a fresh secp256k1 key pair and returns the 32-byte
// private key and the x-only public key.
func GenerateKey() (privateKey []byte, publicKey types.PublicKey, err error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, NewCryptoErrorWithCause(ErrorTypeInvalidKey, "key generation failed", err)
	}
	return priv.Serialize(), schnorr.SerializePubKey(priv.PubKey()), nil
}

// Sign hashes the data with SHA-256 and signs the digest.
func (sp *SchnorrProvider) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := schnorr.Sign(sp.privateKey, digest[:])
	if err != nil {
		return nil, NewCryptoErrorWithCause(ErrorTypeSignature, "schnorr signing failed", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns this signer's x-only public key.
func (sp *SchnorrProvider) PublicKey() types.PublicKey {
	return schnorr.SerializePubKey(sp.privateKey.PubKey())
}

// Verify checks the signature over the data against the committee key at
// the claimed validator index.
func (sp *SchnorrProvider) Verify(data []byte, signature []byte, index types.ValidatorIndex) error {
	keyBytes, err := sp.committee.PublicKey(index)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeInvalidKey, "unknown validator", err)
	}
	pub, err := schnorr.ParsePubKey(keyBytes)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeInvalidKey, "malformed committee public key", err)
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return NewCryptoErrorWithCause(ErrorTypeVerification, "malformed signature", err)
	}
	digest := sha256.Sum256(data)
	if !sig.Verify(digest[:], pub) {
		return NewCryptoError(ErrorTypeVerification, "signature does not verify")
	}
	return nil
}
