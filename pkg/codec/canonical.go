package codec

import (
	"encoding/hex"
	"encoding/json"

	"github.com/cuemby/agentnode/pkg/crypto"
	"github.com/cuemby/agentnode/pkg/types"
)

// CanonicalBytes renders v as byte-stable JSON. encoding/json already
// sorts map keys and emits scalars unambiguously, which is all the
// stability this format needs; struct field order is fixed by the Go
// type definition, which every implementation of this wire format
// shares.
func CanonicalBytes(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, newError("CanonicalBytes", ErrMalformedCanonical, err)
	}
	return data, nil
}

type paginationView struct {
	External any `json:"external_metadata"`
	Body     any `json:"message_data"`
}

// HashForPagination hashes the canonical form of ext and body with the
// signature and the receiver's random padding (external.Other) blanked,
// so an encrypted envelope and its plaintext counterpart resolve to the
// same id.
func HashForPagination(ext types.ExternalMetadata, body types.UnencryptedBody) (string, error) {
	blanked := ext
	blanked.Signature = ""
	blanked.Other = ""

	canonical, err := CanonicalBytes(paginationView{External: blanked, Body: body})
	if err != nil {
		return "", err
	}

	digest := crypto.Hash(canonical)
	return hex.EncodeToString(digest[:]), nil
}
