package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KeyManager handles cryptographic key operations for both key families a
// validator carries: the Ed25519 transport identity and the secp256k1
// consensus signing key.
type KeyManager struct{}

// NewKeyManager creates a new KeyManager instance
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// GeneratePrivateKey generates a new Ed25519 private key and returns it as base64
func (km *KeyManager) GeneratePrivateKey() (string, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate Ed25519 key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(privateKey), nil
}

// ValidatePrivateKey validates that a private key string is valid base64 and correct length
func (km *KeyManager) ValidatePrivateKey(privateKeyBase64 string) error {
	if privateKeyBase64 == "" {
		return nil // Empty is valid - will be generated
	}

	keyBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return fmt.Errorf("private key must be valid base64: %w", err)
	}

	if len(keyBytes) != ed25519.PrivateKeySize {
		return fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}

	return nil
}

// GetPublicKey derives the public key from a private key
func (km *KeyManager) GetPublicKey(privateKeyBase64 string) (string, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return "", fmt.Errorf("invalid private key base64: %w", err)
	}

	if len(keyBytes) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key length")
	}

	privateKey := ed25519.PrivateKey(keyBytes)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return base64.StdEncoding.EncodeToString(publicKey), nil
}

// GenerateConsensusKey generates a new secp256k1 private key and returns
// it as hex.
func (km *KeyManager) GenerateConsensusKey() (string, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return hex.EncodeToString(privateKey.Serialize()), nil
}

// ParseConsensusKey decodes a hex-encoded secp256k1 private key.
func (km *KeyManager) ParseConsensusKey(privateKeyHex string) (*btcec.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("consensus key must be valid hex: %w", err)
	}
	if len(keyBytes) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("consensus key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(keyBytes))
	}
	privateKey, _ := btcec.PrivKeyFromBytes(keyBytes)
	return privateKey, nil
}

// ValidateConsensusKey validates a hex-encoded secp256k1 private key.
// Empty is valid and means the key will be generated.
func (km *KeyManager) ValidateConsensusKey(privateKeyHex string) error {
	if privateKeyHex == "" {
		return nil
	}
	_, err := km.ParseConsensusKey(privateKeyHex)
	return err
}

// GetConsensusPublicKey derives the x-only BIP-340 public key from a
// hex-encoded private key and returns it as hex.
func (km *KeyManager) GetConsensusPublicKey(privateKeyHex string) (string, error) {
	privateKey, err := km.ParseConsensusKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())), nil
}
