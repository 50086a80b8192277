// Package merkle builds the daily commitment tree over capsule identifiers.
//
// Protocol (ttd_rollup_v1, pinned because the padding rule changes the
// root): leaf hash = SHA3-256 of the identifier's UTF-8 bytes; parent =
// SHA3-256(left || right); a level with an odd node count duplicates its
// last node; the empty leaf set commits to SHA3-256 of the empty string.
// Roots render as 64-character lowercase hex.
package merkle

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Version tags the tree construction rules above.
const Version = "ttd_rollup_v1"

// EmptyRoot is the sentinel root for a day with zero capsules.
func EmptyRoot() string {
	digest := sha3.Sum256(nil)
	return hex.EncodeToString(digest[:])
}

// Root computes the Merkle root over leaves in the given order.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot()
	}
	layer := leafLayer(leaves)
	for len(layer) > 1 {
		layer = parentLayer(layer)
	}
	return hex.EncodeToString(layer[0])
}

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
	// Left reports whether the sibling sits to the left of the running hash.
	Left bool `json:"left"`
}

// Proof returns the inclusion proof for leaves[index]. The proof plus the
// leaf value lets an external verifier recompute the root offline.
func Proof(leaves []string, index int) ([]ProofStep, bool) {
	if index < 0 || index >= len(leaves) {
		return nil, false
	}
	var steps []ProofStep
	layer := leafLayer(leaves)
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		sibling := index ^ 1
		steps = append(steps, ProofStep{
			Hash: hex.EncodeToString(layer[sibling]),
			Left: sibling < index,
		})
		next := make([][]byte, 0, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			next = append(next, combine(layer[i], layer[i+1]))
		}
		layer = next
		index /= 2
	}
	return steps, true
}

// VerifyProof recomputes the root from a leaf and its proof and compares it
// to the expected root.
func VerifyProof(leaf string, steps []ProofStep, root string) bool {
	digest := sha3.Sum256([]byte(leaf))
	running := digest[:]
	for _, s := range steps {
		sib, err := hex.DecodeString(s.Hash)
		if err != nil {
			return false
		}
		if s.Left {
			running = combine(sib, running)
		} else {
			running = combine(running, sib)
		}
	}
	return hex.EncodeToString(running) == root
}

func leafLayer(leaves []string) [][]byte {
	layer := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		digest := sha3.Sum256([]byte(leaf))
		layer[i] = digest[:]
	}
	return layer
}

func parentLayer(layer [][]byte) [][]byte {
	if len(layer)%2 == 1 {
		layer = append(layer, layer[len(layer)-1])
	}
	next := make([][]byte, 0, len(layer)/2)
	for i := 0; i < len(layer); i += 2 {
		next = append(next, combine(layer[i], layer[i+1]))
	}
	return next
}

func combine(left, right []byte) []byte {
	h := sha3.New256()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
