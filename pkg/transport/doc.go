/*
Package transport carries envelopes between peers over a reliable,
length-prefixed stream, authenticating both sides by an Ed25519
challenge-response handshake.

	t := transport.New(cfg, resolver, store, inbox)
	err := t.Listen(":9550")
	err = t.Send(ctx, recipient, envelope)

A per-peer outbound queue (bounded at 256) gives FIFO delivery order to
one peer; overflow and dial/write failures fall back to a persisted
retry queue with exponential backoff. When a peer has no routable
address, Send dials a relay instead, which stores the envelope and
forwards it once the target peer connects.
*/
package transport
