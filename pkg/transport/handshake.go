package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

const maxHandshakeBytes = 4096

type handshakeMsg struct {
	Identity  string `json:"identity"`
	Nonce     []byte `json:"nonce,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

func writeHandshake(conn net.Conn, msg handshakeMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := conn.Write(append(header, body...)); err != nil {
		return err
	}
	return nil
}

func readHandshake(conn net.Conn) (handshakeMsg, error) {
	var msg handshakeMsg
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return msg, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxHandshakeBytes {
		return msg, fmt.Errorf("handshake message too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return msg, err
	}
	return msg, json.Unmarshal(body, &msg)
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, 32)
	_, err := rand.Read(nonce)
	return nonce, err
}

// dialerHandshake authenticates an outbound connection: the dialer
// proves its identity over the listener's nonce, then verifies the
// listener's signature over its own nonce.
func dialerHandshake(conn net.Conn, localName string, localKey ed25519.PrivateKey, remoteKey ed25519.PublicKey) error {
	challenge, err := readHandshake(conn)
	if err != nil {
		return err
	}

	ourNonce, err := newNonce()
	if err != nil {
		return err
	}
	if err := writeHandshake(conn, handshakeMsg{
		Identity:  localName,
		Nonce:     ourNonce,
		Signature: ed25519.Sign(localKey, challenge.Nonce),
	}); err != nil {
		return err
	}

	resp, err := readHandshake(conn)
	if err != nil {
		return err
	}
	if !ed25519.Verify(remoteKey, ourNonce, resp.Signature) {
		return fmt.Errorf("peer failed nonce signature verification")
	}
	return nil
}

// listenerHandshake is the accept-side counterpart of dialerHandshake.
// claimedIdentity is read from the first message; the caller resolves
// it to a public key before this returns, via verify.
func listenerHandshake(conn net.Conn, localKey ed25519.PrivateKey, verify func(identity string, nonce, sig []byte) error) (string, error) {
	ourNonce, err := newNonce()
	if err != nil {
		return "", err
	}
	if err := writeHandshake(conn, handshakeMsg{Nonce: ourNonce}); err != nil {
		return "", err
	}

	resp, err := readHandshake(conn)
	if err != nil {
		return "", err
	}
	if err := verify(resp.Identity, ourNonce, resp.Signature); err != nil {
		return "", err
	}

	if err := writeHandshake(conn, handshakeMsg{Signature: ed25519.Sign(localKey, resp.Nonce)}); err != nil {
		return "", err
	}
	return resp.Identity, nil
}
