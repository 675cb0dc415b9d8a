package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// SecretsManager encrypts and decrypts tool config values marked Secret
// before they are persisted.
type SecretsManager struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewSecretsManager creates a new secrets manager with the given encryption key.
// The key should be 32 bytes for AES-256-GCM.
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &SecretsManager{
		encryptionKey: key,
	}, nil
}

// NewSecretsManagerFromPassword creates a secrets manager using a password.
// The password is hashed with SHA-256 to derive the encryption key.
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewSecretsManager(hash[:])
}

// EncryptSecret encrypts plaintext data using AES-256-GCM.
// Returns encrypted data with nonce prepended.
func (sm *SecretsManager) EncryptSecret(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot encrypt empty data")
	}

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// DecryptSecret decrypts data encrypted with EncryptSecret.
// Expects nonce to be prepended to ciphertext.
func (sm *SecretsManager) DecryptSecret(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// SealToolConfig encrypts the value of every config key that secretKeys
// marks true, replacing it with the raw (not base64-encoded) ciphertext
// bytes. Other entries pass through unchanged as their plain bytes.
func (sm *SecretsManager) SealToolConfig(cfg map[string]string, secretKeys map[string]bool) (map[string][]byte, error) {
	sealed := make(map[string][]byte, len(cfg))
	for k, v := range cfg {
		if !secretKeys[k] {
			sealed[k] = []byte(v)
			continue
		}
		ciphertext, err := sm.EncryptSecret([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("seal config key %q: %w", k, err)
		}
		sealed[k] = ciphertext
	}
	return sealed, nil
}

// OpenToolConfigValue decrypts a single sealed config value.
func (sm *SecretsManager) OpenToolConfigValue(sealed []byte) (string, error) {
	plaintext, err := sm.DecryptSecret(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DeriveKeyFromNodeID derives an encryption key from the node's identity.
// Used during node initialization to create a consistent encryption key
// without requiring separate key storage: the key is the SHA-256 digest
// of the nodeID string itself, not of any Ed25519 key material.
func DeriveKeyFromNodeID(nodeID string) []byte {
	hash := sha256.Sum256([]byte(nodeID))
	return hash[:]
}
