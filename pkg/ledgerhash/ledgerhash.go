// Package ledgerhash names capsules: SHA3-256 over canonical bytes, rendered
// as "ttd_ledger_v1_" + lowercase hex. The prefix is the hashing-scheme tag;
// a future algorithm change must ship under a different prefix.
package ledgerhash

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	lerrors "github.com/helixprojectai-code/helix-and-triad-schema-v3/internal/errors"
	"github.com/helixprojectai-code/helix-and-triad-schema-v3/pkg/canonjson"
)

const (
	// Prefix tags identifiers produced by this hashing scheme.
	Prefix = "ttd_ledger_v1_"
	// HexLen is the digest length in hex characters (SHA3-256).
	HexLen = 64
)

// Sum hashes canonical bytes into a versioned ledger identifier.
func Sum(canonical []byte) string {
	digest := sha3.Sum256(canonical)
	return Prefix + hex.EncodeToString(digest[:])
}

// SumObject canonicalizes v and hashes it, returning both the identifier and
// the canonical bytes the identifier commits to.
func SumObject(v any) (string, []byte, error) {
	b, err := canonjson.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return Sum(b), b, nil
}

// Validate rejects anything that is not exactly Prefix followed by 64
// lowercase hex characters. This runs before any storage access: an
// identifier-shaped parameter must never be able to escape the storage
// root, so path separators, dot segments, and alternate casing all fail.
func Validate(raw string) error {
	if len(raw) != len(Prefix)+HexLen {
		return lerrors.NewInvalidIdentifier()
	}
	if raw[:len(Prefix)] != Prefix {
		return lerrors.NewInvalidIdentifier()
	}
	for i := len(Prefix); i < len(raw); i++ {
		c := raw[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return lerrors.NewInvalidIdentifier()
		}
	}
	return nil
}
