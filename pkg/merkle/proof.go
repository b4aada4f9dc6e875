package merkle

import (
	"bytes"
	"strings"
)

// InclusionProof shows that one audit event is covered by a checkpoint's
// Merkle root without revealing any other event.
type InclusionProof struct {
	Sequence uint64      `json:"sequence"`
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Path     []ProofStep `json:"path"`
}

// ProofStep is one sibling on the way to the root. Side says where the
// sibling sits: "L" left of the running hash, "R" right of it.
type ProofStep struct {
	Side        string `json:"side"`
	SiblingHash string `json:"sibling_hash"`
}

// VerifyInclusion folds the proof path and checks the result against
// expectedRoot. An empty expectedRoot accepts the proof's own root claim.
func VerifyInclusion(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && !strings.EqualFold(proof.Root, expectedRoot) {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.Path {
		var buf bytes.Buffer
		buf.WriteString(nodePrefix)
		buf.WriteByte(0)
		if step.Side == "L" {
			buf.Write(hexToBytes(step.SiblingHash))
			buf.Write(hexToBytes(current))
		} else {
			buf.Write(hexToBytes(current))
			buf.Write(hexToBytes(step.SiblingHash))
		}
		current = sha256Hex(buf.Bytes())
	}
	return strings.EqualFold(current, proof.Root)
}
