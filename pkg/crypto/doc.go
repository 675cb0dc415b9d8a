/*
Package crypto implements the node's identity-keyed cryptographic
primitives: Ed25519 signing, X25519 key agreement with ChaCha20-Poly1305
sealing, and BLAKE3 hashing.

	keys, _ := crypto.GenerateIdentityKeys()
	sig, _ := crypto.Sign(keys.SigningPrivateKey, msg)
	ok := crypto.Verify(keys.SigningPublicKey, msg, sig)

	sealed, _ := crypto.Seal(senderSK, recipientPK, plaintext)
	plaintext, _ := crypto.Open(recipientSK, senderPK, sealed)

Seal/Open never use the raw ECDH output as an AEAD key — DeriveSharedSecret
always expands it through HKDF-SHA256 first. pkg/codec builds the signed,
optionally-encrypted message envelope on top of these primitives.
*/
package crypto
