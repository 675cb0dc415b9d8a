package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/agentnode/pkg/types"
)

// maxFrameBytes bounds a single envelope frame to guard against a
// malicious or corrupt length prefix forcing an unbounded allocation.
const maxFrameBytes = 16 * 1024 * 1024

// EncodeFrame renders env as a length-prefixed frame: a 4-byte
// big-endian length followed by the JSON-encoded envelope.
func EncodeFrame(env *types.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, newError("EncodeFrame", ErrMalformedCanonical, err)
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	return frame, nil
}

// DecodeFrame reads one length-prefixed frame from r and unmarshals it
// into an envelope.
func DecodeFrame(r io.Reader) (*types.Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, newError("DecodeFrame", ErrMalformedCanonical, err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, newError("DecodeFrame", ErrMalformedCanonical, fmt.Errorf("frame of %d bytes exceeds %d byte cap", n, maxFrameBytes))
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, newError("DecodeFrame", ErrMalformedCanonical, err)
	}

	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newError("DecodeFrame", ErrMalformedCanonical, err)
	}
	return &env, nil
}
