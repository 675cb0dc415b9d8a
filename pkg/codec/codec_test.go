package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExternal(sender, recipient string) types.ExternalMetadata {
	return types.ExternalMetadata{
		Sender:        sender,
		Recipient:     recipient,
		ScheduledTime: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestSealOpenUnencryptedRoundtrip(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)
	_, err = crypto.GenerateIdentityKeys()
	require.NoError(t, err)

	body := types.UnencryptedBody{
		MessageData: types.MessageDataBody{
			Unencrypted: &types.UnencryptedMessageData{MessageRawContent: "ping"},
		},
		InternalMetadata: types.InternalMetadata{Inbox: "job-1"},
	}

	env, err := Seal(SealInput{
		SenderSigningKey: alice.SigningPrivateKey,
		External:         testExternal("@@node.alice", "@@node.bob"),
		Body:             body,
		Encrypt:          false,
	})
	require.NoError(t, err)
	assert.Equal(t, types.EncryptionMethodNone, env.EncryptionMethod)
	require.NotNil(t, env.Body.Unencrypted)

	opened, err := Open(nil, nil, alice.SigningPublicKey, env)
	require.NoError(t, err)
	assert.Equal(t, "ping", opened.MessageData.Unencrypted.MessageRawContent)
}

func TestSealOpenEncryptedRoundtrip(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)

	body := types.UnencryptedBody{
		MessageData: types.MessageDataBody{
			Unencrypted: &types.UnencryptedMessageData{MessageRawContent: "ping"},
		},
		InternalMetadata: types.InternalMetadata{Inbox: "job-1"},
	}

	env, err := Seal(SealInput{
		SenderSigningKey:    alice.SigningPrivateKey,
		SenderEncryptionKey: alice.EncryptionPrivateKey,
		RecipientPublicKey:  bob.EncryptionPublicKey,
		External:            testExternal("@@node.alice", "@@node.bob"),
		Body:                body,
		Encrypt:             true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.EncryptionMethodX25519CC, env.EncryptionMethod)
	require.NotNil(t, env.Body.Encrypted)
	assert.Nil(t, env.Body.Unencrypted)

	opened, err := Open(bob.EncryptionPrivateKey, alice.EncryptionPublicKey, alice.SigningPublicKey, env)
	require.NoError(t, err)
	assert.Equal(t, "ping", opened.MessageData.Unencrypted.MessageRawContent)
}

func TestOpenRejectsTamperedSignature(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)

	env, err := Seal(SealInput{
		SenderSigningKey: alice.SigningPrivateKey,
		External:         testExternal("@@node.alice", "@@node.bob"),
		Body: types.UnencryptedBody{
			MessageData: types.MessageDataBody{Unencrypted: &types.UnencryptedMessageData{MessageRawContent: "ping"}},
		},
	})
	require.NoError(t, err)

	env.ExternalMetadata.Recipient = "@@node.mallory"

	_, err = Open(nil, nil, alice.SigningPublicKey, env)
	require.Error(t, err)
	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, ErrBadSignature, codecErr.Kind)
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)

	env, err := Seal(SealInput{
		SenderSigningKey: alice.SigningPrivateKey,
		External:         testExternal("@@node.alice", "@@node.bob"),
		Body: types.UnencryptedBody{
			MessageData: types.MessageDataBody{Unencrypted: &types.UnencryptedMessageData{MessageRawContent: "ping"}},
		},
	})
	require.NoError(t, err)
	env.Version = "99.0"

	_, err = Open(nil, nil, alice.SigningPublicKey, env)
	require.Error(t, err)
	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, ErrUnknownVersion, codecErr.Kind)
}

func TestHashForPaginationMatchesAcrossEncryptedAndPlaintext(t *testing.T) {
	ext := testExternal("@@node.alice", "@@node.bob")
	body := types.UnencryptedBody{
		MessageData: types.MessageDataBody{Unencrypted: &types.UnencryptedMessageData{MessageRawContent: "ping"}},
	}

	idA, err := HashForPagination(ext, body)
	require.NoError(t, err)

	// Signing and encrypting must not change the pagination hash, since
	// it is computed before the signature/padding are filled in.
	signedExt := ext
	signedExt.Signature = "some-signature"
	signedExt.Other = "random-padding"

	idB, err := HashForPagination(signedExt, body)
	require.NoError(t, err)

	assert.Equal(t, idA, idB)
}

func TestFrameRoundtrip(t *testing.T) {
	alice, err := crypto.GenerateIdentityKeys()
	require.NoError(t, err)

	env, err := Seal(SealInput{
		SenderSigningKey: alice.SigningPrivateKey,
		External:         testExternal("@@node.alice", "@@node.bob"),
		Body: types.UnencryptedBody{
			MessageData: types.MessageDataBody{Unencrypted: &types.UnencryptedMessageData{MessageRawContent: "ping"}},
		},
	})
	require.NoError(t, err)

	frame, err := EncodeFrame(env)
	require.NoError(t, err)

	decoded, err := DecodeFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, env.ExternalMetadata.Sender, decoded.ExternalMetadata.Sender)
}

func TestDecodeFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := []byte{0x7F, 0xFF, 0xFF, 0xFF} // ~2GB, over the cap
	buf.Write(lenBuf)

	_, err := DecodeFrame(&buf)
	require.Error(t, err)
}
