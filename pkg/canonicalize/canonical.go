// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the deterministic hash forms used across the engine:
// transcript canonicalization and capsule-core identity hashing.
//
// Determinism contract: identical input values always produce byte-identical
// canonical output and therefore identical hashes, independent of map
// iteration order, struct field order, or submitter-supplied extras.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/attestry/attestry/pkg/contracts"
)

// VersionCTV1 canonicalizes a transcript as the JCS form of the JSON array
// [{"content":...,"role":...}, ...] with roles lower-cased and content verbatim.
const VersionCTV1 = "ctv1"

// ErrUnknownVersion is returned before any hashing when a capsule declares a
// canonicalization version this engine does not implement. Fail closed: no
// best-effort hash is ever computed for an unknown version.
var ErrUnknownVersion = errors.New("unsupported canonicalization version")

// canonFields is fixed for ctv1. Any other message field is dropped.
var canonFields = []string{"role", "content"}

// Supported reports whether the engine implements the given version tag.
func Supported(version string) bool {
	return version == VersionCTV1
}

// CanonicalTranscript is the deterministic serialization of a transcript
// plus the metadata a verifier needs to reproduce it.
type CanonicalTranscript struct {
	Version      string   `json:"version"`
	Fields       []string `json:"fields"`
	MessageCount int      `json:"message_count"`
	ByteLength   int      `json:"byte_length"`
	Canonical    string   `json:"canonical"`
	Hash         string   `json:"hash"` // hex SHA-256 over the canonical UTF-8 bytes
}

// Transcript canonicalizes messages under the given version tag.
// Roles are lower-cased; content bytes pass through verbatim; every other
// message field is discarded before serialization.
func Transcript(version string, msgs []contracts.TranscriptMessage) (*CanonicalTranscript, error) {
	if !Supported(version) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}

	reduced := make([]contracts.TranscriptMessage, len(msgs))
	for i, m := range msgs {
		reduced[i] = contracts.TranscriptMessage{
			Role:    strings.ToLower(m.Role),
			Content: m.Content,
		}
	}

	canonical, err := JCS(reduced)
	if err != nil {
		return nil, fmt.Errorf("transcript canonicalization failed: %w", err)
	}

	return &CanonicalTranscript{
		Version:      version,
		Fields:       canonFields,
		MessageCount: len(reduced),
		ByteLength:   len(canonical),
		Canonical:    string(canonical),
		Hash:         HashBytes(canonical),
	}, nil
}

// CoreHash computes the chain-link identity hash of a capsule core.
// Absent optional fields are omitted by serialization, so adding an unused
// optional never perturbs the hash of unrelated capsules.
func CoreHash(core contracts.CapsuleCore) (string, error) {
	canonical, err := JCS(core)
	if err != nil {
		return "", fmt.Errorf("core canonicalization failed: %w", err)
	}
	return HashBytes(canonical), nil
}

// JCS returns the RFC 8785 canonical JSON form of v: lexicographically
// sorted keys, no HTML escaping, minimal number formatting.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the hex SHA-256 digest of the JCS form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns it hex-encoded.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString computes the SHA-256 hash of a string's UTF-8 bytes.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// NormalizeHash lower-cases a hex digest and strips an optional "sha256:"
// prefix so declared and computed hashes compare in one form.
func NormalizeHash(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.TrimPrefix(s, "sha256:")
}

// HashEqual compares two digests after normalization.
func HashEqual(a, b string) bool {
	return NormalizeHash(a) == NormalizeHash(b) && NormalizeHash(a) != ""
}
