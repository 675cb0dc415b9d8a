package codec

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/types"
)

// CurrentVersion is the only envelope wire version this codec emits
// or accepts.
const CurrentVersion = "1.0"

// SealInput carries everything Seal needs to build a signed, optionally
// encrypted envelope.
type SealInput struct {
	SenderSigningKey    ed25519.PrivateKey
	SenderEncryptionKey []byte
	RecipientPublicKey  []byte // recipient's X25519 encryption public key
	External            types.ExternalMetadata
	Body                types.UnencryptedBody
	Encrypt             bool
}

// Seal signs the unencrypted envelope (with signature blanked), then
// optionally encrypts the body. The external metadata and internal
// metadata share one signature.
func Seal(in SealInput) (*types.Envelope, error) {
	ext := in.External
	ext.Signature = ""
	body := in.Body
	body.InternalMetadata.Signature = ""

	canonical, err := CanonicalBytes(paginationView{External: ext, Body: body})
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(in.SenderSigningKey, canonical)
	if err != nil {
		return nil, newError("Seal", ErrBadSignature, err)
	}
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	ext.Signature = sigB64
	body.InternalMetadata.Signature = sigB64

	env := &types.Envelope{
		ExternalMetadata: ext,
		Version:          CurrentVersion,
	}

	if !in.Encrypt {
		env.EncryptionMethod = types.EncryptionMethodNone
		env.Body = types.MessageBody{Unencrypted: &body}
		return env, nil
	}

	plaintext, err := json.Marshal(body)
	if err != nil {
		return nil, newError("Seal", ErrMalformedCanonical, err)
	}

	sealed, err := crypto.Seal(in.SenderEncryptionKey, in.RecipientPublicKey, plaintext)
	if err != nil {
		return nil, newError("Seal", ErrDecryptFail, err)
	}

	env.EncryptionMethod = types.EncryptionMethodX25519CC
	env.Body = types.MessageBody{Encrypted: &types.EncryptedContent{
		Content: base64.StdEncoding.EncodeToString(sealed),
	}}
	return env, nil
}

// Open decrypts (if necessary) and verifies env, returning its
// unencrypted body.
func Open(recipientEncryptionKey, senderPublicKey []byte, senderSigningKey ed25519.PublicKey, env *types.Envelope) (*types.UnencryptedBody, error) {
	if env.Version != CurrentVersion {
		return nil, newError("Open", ErrUnknownVersion, nil)
	}

	var body types.UnencryptedBody
	switch env.EncryptionMethod {
	case types.EncryptionMethodNone:
		if env.Body.Unencrypted == nil {
			return nil, newError("Open", ErrSchemaViolation, nil)
		}
		body = *env.Body.Unencrypted
	case types.EncryptionMethodX25519CC:
		if env.Body.Encrypted == nil {
			return nil, newError("Open", ErrSchemaViolation, nil)
		}
		sealed, err := base64.StdEncoding.DecodeString(env.Body.Encrypted.Content)
		if err != nil {
			return nil, newError("Open", ErrMalformedCanonical, err)
		}
		plaintext, err := crypto.Open(recipientEncryptionKey, senderPublicKey, sealed)
		if err != nil {
			return nil, newError("Open", ErrDecryptFail, err)
		}
		if err := json.Unmarshal(plaintext, &body); err != nil {
			return nil, newError("Open", ErrMalformedCanonical, err)
		}
	default:
		return nil, newError("Open", ErrSchemaViolation, nil)
	}

	sigB64 := env.ExternalMetadata.Signature
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, newError("Open", ErrMalformedCanonical, err)
	}

	blankedExt := env.ExternalMetadata
	blankedExt.Signature = ""
	blankedBody := body
	blankedBody.InternalMetadata.Signature = ""

	canonical, err := CanonicalBytes(paginationView{External: blankedExt, Body: blankedBody})
	if err != nil {
		return nil, err
	}

	if !crypto.Verify(senderSigningKey, canonical, sig) {
		return nil, newError("Open", ErrBadSignature, nil)
	}

	return &body, nil
}
