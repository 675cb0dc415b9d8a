package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/cuemby/agentnode/pkg/types"
)

// GenerateIdentityKeys produces both the Ed25519 signing pair and the
// X25519 agreement pair an identity needs.
func GenerateIdentityKeys() (types.KeyMaterial, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return types.KeyMaterial{}, newError("GenerateIdentityKeys", ErrBadKey, err)
	}

	encPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return types.KeyMaterial{}, newError("GenerateIdentityKeys", ErrBadKey, err)
	}

	return types.KeyMaterial{
		SigningPublicKey:     signPub,
		SigningPrivateKey:    signPriv,
		EncryptionPublicKey:  encPriv.PublicKey().Bytes(),
		EncryptionPrivateKey: encPriv.Bytes(),
	}, nil
}

// Sign produces an Ed25519 signature over msg.
func Sign(sk ed25519.PrivateKey, msg []byte) ([]byte, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, newError("Sign", ErrBadKey, nil)
	}
	return ed25519.Sign(sk, msg), nil
}

// Verify reports whether sig is a valid Ed25519 signature over msg by pk.
func Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}
