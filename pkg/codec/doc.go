/*
Package codec builds and opens the node's wire message envelope on top
of pkg/crypto: canonical encoding, sign-then-encrypt sealing, signature
verification, and the length-prefixed frame pkg/transport puts on the
wire.

	env, _ := codec.Seal(codec.SealInput{
		SenderSigningKey:    sender.SigningPrivateKey,
		SenderEncryptionKey: sender.EncryptionPrivateKey,
		RecipientPublicKey:  recipient.EncryptionPublicKey,
		External:            ext,
		Body:                unBody,
		Encrypt:             true,
	})
	opened, _ := codec.Open(recipientSK, senderEncPK, senderSigPK, env)

HashForPagination gives an encrypted envelope and its plaintext
counterpart the same id by hashing the canonical form before the
signature and the padding field are filled in.
*/
package codec
