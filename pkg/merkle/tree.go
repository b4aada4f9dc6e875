// Package merkle builds Merkle roots over ranges of audit-event hashes, so a
// signed checkpoint can cover many events with one digest and single events
// can later be proven included without replaying the range.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Domain-separation prefixes keep leaf and interior hashes from colliding.
const (
	leafPrefix = "attestry:audit:leaf:v1"
	nodePrefix = "attestry:audit:node:v1"
)

// Leaf is one covered audit event.
type Leaf struct {
	Sequence  uint64
	EventHash string
}

// Tree is a Merkle tree over an ordered run of leaves. Odd levels duplicate
// their last node.
type Tree struct {
	Leaves []Leaf
	Root   string

	levels [][]string // levels[0] = leaf hashes, last = [root]
}

// Build constructs the tree. Leaves must already be in sequence order.
// An empty input yields an empty root.
func Build(leaves []Leaf) *Tree {
	if len(leaves) == 0 {
		return &Tree{Root: ""}
	}

	t := &Tree{Leaves: leaves}
	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = LeafHash(l)
	}

	for len(level) > 1 {
		t.levels = append(t.levels, level)
		level = nextLevel(level)
	}
	t.levels = append(t.levels, level)
	t.Root = level[0]
	return t
}

// LeafHash hashes a single leaf with the leaf domain prefix. The sequence
// number and event hash are NUL-separated so neither can bleed into the other.
func LeafHash(l Leaf) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(strconv.FormatUint(l.Sequence, 10))
	buf.WriteByte(0)
	buf.WriteString(l.EventHash)
	return sha256Hex(buf.Bytes())
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}
	next := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

// Prove produces an inclusion proof for the leaf with the given sequence.
func (t *Tree) Prove(seq uint64) (InclusionProof, error) {
	idx := -1
	for i, l := range t.Leaves {
		if l.Sequence == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return InclusionProof{}, fmt.Errorf("sequence %d not covered by this tree", seq)
	}

	proof := InclusionProof{
		Sequence: seq,
		LeafHash: t.levels[0][idx],
		Root:     t.Root,
	}

	// Walk each level below the root, collecting the sibling at each step.
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			// Odd level: the last node was duplicated.
			sibling = idx
		}
		side := "R"
		if sibling < idx {
			side = "L"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, SiblingHash: level[sibling]})
		idx /= 2
	}
	return proof, nil
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
