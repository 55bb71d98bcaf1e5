package keys

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestKeyManager_GeneratePrivateKey(t *testing.T) {
	km := NewKeyManager()

	privateKey, err := km.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	if privateKey == "" {
		t.Fatal("Expected non-empty private key")
	}

	// Verify it's valid base64
	_, err = base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		t.Fatalf("Generated key is not valid base64: %v", err)
	}

	// Generate another key and verify they're different
	privateKey2, err := km.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate second private key: %v", err)
	}

	if privateKey == privateKey2 {
		t.Fatal("Generated keys should be different")
	}
}

func TestKeyManager_ValidatePrivateKey(t *testing.T) {
	km := NewKeyManager()

	t.Run("accepts empty key", func(t *testing.T) {
		if err := km.ValidatePrivateKey(""); err != nil {
			t.Fatalf("Expected empty key to be valid, got %v", err)
		}
	})

	t.Run("accepts valid key", func(t *testing.T) {
		validKey, err := km.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("Failed to generate test key: %v", err)
		}

		if err := km.ValidatePrivateKey(validKey); err != nil {
			t.Fatalf("Expected valid key to pass validation, got %v", err)
		}
	})

	t.Run("rejects invalid base64", func(t *testing.T) {
		if err := km.ValidatePrivateKey("not-valid-base64!!!"); err == nil {
			t.Fatal("Expected invalid base64 to fail validation")
		}
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString([]byte("too short"))
		if err := km.ValidatePrivateKey(short); err == nil {
			t.Fatal("Expected wrong-length key to fail validation")
		}
	})
}

func TestKeyManager_GetPublicKey(t *testing.T) {
	km := NewKeyManager()

	privateKey, err := km.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	publicKey, err := km.GetPublicKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to derive public key: %v", err)
	}

	if publicKey == "" {
		t.Fatal("Expected non-empty public key")
	}

	// Deriving again must be deterministic
	publicKey2, err := km.GetPublicKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to derive public key again: %v", err)
	}

	if publicKey != publicKey2 {
		t.Fatal("Public key derivation should be deterministic")
	}
}

func TestKeyManager_GenerateConsensusKey(t *testing.T) {
	km := NewKeyManager()

	privateKey, err := km.GenerateConsensusKey()
	if err != nil {
		t.Fatalf("Failed to generate consensus key: %v", err)
	}

	raw, err := hex.DecodeString(privateKey)
	if err != nil {
		t.Fatalf("Generated consensus key is not valid hex: %v", err)
	}

	if len(raw) != 32 {
		t.Fatalf("Expected 32-byte key, got %d bytes", len(raw))
	}

	privateKey2, err := km.GenerateConsensusKey()
	if err != nil {
		t.Fatalf("Failed to generate second consensus key: %v", err)
	}

	if privateKey == privateKey2 {
		t.Fatal("Generated consensus keys should be different")
	}
}

func TestKeyManager_ParseConsensusKey(t *testing.T) {
	km := NewKeyManager()

	t.Run("parses generated key", func(t *testing.T) {
		privateKey, err := km.GenerateConsensusKey()
		if err != nil {
			t.Fatalf("Failed to generate consensus key: %v", err)
		}

		parsed, err := km.ParseConsensusKey(privateKey)
		if err != nil {
			t.Fatalf("Failed to parse consensus key: %v", err)
		}
		if parsed == nil {
			t.Fatal("Expected non-nil parsed key")
		}
	})

	t.Run("rejects invalid hex", func(t *testing.T) {
		if _, err := km.ParseConsensusKey("zzzz"); err == nil {
			t.Fatal("Expected invalid hex to fail parsing")
		}
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		if _, err := km.ParseConsensusKey("abcd"); err == nil {
			t.Fatal("Expected short key to fail parsing")
		}
	})
}

func TestKeyManager_ValidateConsensusKey(t *testing.T) {
	km := NewKeyManager()

	if err := km.ValidateConsensusKey(""); err != nil {
		t.Fatalf("Expected empty consensus key to be valid, got %v", err)
	}

	privateKey, err := km.GenerateConsensusKey()
	if err != nil {
		t.Fatalf("Failed to generate consensus key: %v", err)
	}

	if err := km.ValidateConsensusKey(privateKey); err != nil {
		t.Fatalf("Expected generated key to pass validation, got %v", err)
	}

	if err := km.ValidateConsensusKey("not hex"); err == nil {
		t.Fatal("Expected invalid key to fail validation")
	}
}

func TestKeyManager_GetConsensusPublicKey(t *testing.T) {
	km := NewKeyManager()

	privateKey, err := km.GenerateConsensusKey()
	if err != nil {
		t.Fatalf("Failed to generate consensus key: %v", err)
	}

	publicKey, err := km.GetConsensusPublicKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to derive consensus public key: %v", err)
	}

	raw, err := hex.DecodeString(publicKey)
	if err != nil {
		t.Fatalf("Derived public key is not valid hex: %v", err)
	}

	// Schnorr x-only public keys are 32 bytes
	if len(raw) != 32 {
		t.Fatalf("Expected 32-byte public key, got %d bytes", len(raw))
	}

	publicKey2, err := km.GetConsensusPublicKey(privateKey)
	if err != nil {
		t.Fatalf("Failed to derive consensus public key again: %v", err)
	}

	if publicKey != publicKey2 {
		t.Fatal("Public key derivation should be deterministic")
	}
}
