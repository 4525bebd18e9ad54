package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keystoreService = "casegen-service"
	keystoreUser    = "encryption-key"
)

// GenerateOrLoadKey retrieves the encryption key from the system keychain,
// or generates a new one if it doesn't exist
func GenerateOrLoadKey() ([]byte, error) {
	// Try to load existing key
	keyB64, err := keyring.Get(keystoreService, keystoreUser)
	if err == nil {
		// Key exists, decode it
		key, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("stored key has invalid length: %d", len(key))
		}
		return key, nil
	}

	// Key doesn't exist, generate a new one
	key := make([]byte, 32) // AES-256
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	// Store in keychain
	keyB64 = base64.StdEncoding.EncodeToString(key)
	if err := keyring.Set(keystoreService, keystoreUser, keyB64); err != nil {
		return nil, fmt.Errorf("failed to store key in keychain: %w", err)
	}

	return key, nil
}

// DeleteKey removes the encryption key from the system keychain
func DeleteKey() error {
	err := keyring.Delete(keystoreService, keystoreUser)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete key from keychain: %w", err)
	}
	return nil
}

// IsKeyStored checks if an encryption key exists in the keychain
func IsKeyStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
