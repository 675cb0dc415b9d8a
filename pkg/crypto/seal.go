package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"
)

const (
	nonceSize   = 12
	aeadKeySize = 32
	hkdfInfo    = "agentnode-x25519-chacha20poly1305"
)

// DeriveSharedSecret runs X25519 ECDH between skBytes and peer pkBytes,
// then expands the raw shared point through HKDF-SHA256 into a 32-byte
// AEAD key. The raw ECDH output is never used directly as a key.
func DeriveSharedSecret(skBytes, peerPKBytes []byte) ([]byte, error) {
	curve := ecdh.X25519()

	sk, err := curve.NewPrivateKey(skBytes)
	if err != nil {
		return nil, newError("DeriveSharedSecret", ErrBadKey, err)
	}
	peerPK, err := curve.NewPublicKey(peerPKBytes)
	if err != nil {
		return nil, newError("DeriveSharedSecret", ErrBadKey, err)
	}

	shared, err := sk.ECDH(peerPK)
	if err != nil {
		return nil, newError("DeriveSharedSecret", ErrBadKey, err)
	}

	key := make([]byte, aeadKeySize)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, newError("DeriveSharedSecret", ErrBadKey, err)
	}
	return key, nil
}

// Seal derives the shared key between senderSK and recipientPK and
// returns nonce‖ciphertext‖tag for plaintext.
func Seal(senderSK, recipientPK, plaintext []byte) ([]byte, error) {
	key, err := DeriveSharedSecret(senderSK, recipientPK)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, newError("Seal", ErrBadKey, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newError("Seal", ErrBadKey, err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// Open derives the shared key between recipientSK and senderPK and
// decrypts a nonce‖ciphertext‖tag blob produced by Seal.
func Open(recipientSK, senderPK, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, newError("Open", ErrNonceTooShort, nil)
	}

	key, err := DeriveSharedSecret(recipientSK, senderPK)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, newError("Open", ErrBadKey, err)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, newError("Open", ErrDecryptFail, err)
	}
	return plaintext, nil
}

// Hash returns the BLAKE3-256 digest of data.
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}
