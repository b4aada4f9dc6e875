package canonicalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/contracts"
)

func TestTranscript_Deterministic(t *testing.T) {
	msgs := []contracts.TranscriptMessage{
		{Role: "User", Content: "hello  there"},
		{Role: "ASSISTANT", Content: "hi\nback"},
	}

	a, err := Transcript(VersionCTV1, msgs)
	require.NoError(t, err)
	b, err := Transcript(VersionCTV1, msgs)
	require.NoError(t, err)

	assert.Equal(t, a.Canonical, b.Canonical)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, 2, a.MessageCount)
	assert.Equal(t, len(a.Canonical), a.ByteLength)
	assert.Equal(t, []string{"role", "content"}, a.Fields)
}

func TestTranscript_RoleLowercasedContentVerbatim(t *testing.T) {
	upper, err := Transcript(VersionCTV1, []contracts.TranscriptMessage{{Role: "USER", Content: "  spaced  "}})
	require.NoError(t, err)
	lower, err := Transcript(VersionCTV1, []contracts.TranscriptMessage{{Role: "user", Content: "  spaced  "}})
	require.NoError(t, err)

	assert.Equal(t, lower.Hash, upper.Hash, "role case must not affect the hash")
	assert.Contains(t, upper.Canonical, "  spaced  ", "content bytes must survive untouched")

	trimmed, err := Transcript(VersionCTV1, []contracts.TranscriptMessage{{Role: "user", Content: "spaced"}})
	require.NoError(t, err)
	assert.NotEqual(t, lower.Hash, trimmed.Hash, "whitespace is significant in content")
}

func TestTranscript_ExtraMessageFieldsDropped(t *testing.T) {
	// Submitters may attach arbitrary metadata; only role and content may
	// reach the hash.
	raw := `[{"role":"user","content":"hi","timestamp":"2026-01-01T00:00:00Z","model":"x"}]`
	var msgs []contracts.TranscriptMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msgs))

	withExtras, err := Transcript(VersionCTV1, msgs)
	require.NoError(t, err)
	plain, err := Transcript(VersionCTV1, []contracts.TranscriptMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, plain.Hash, withExtras.Hash)
	assert.NotContains(t, withExtras.Canonical, "timestamp")
}

func TestTranscript_UnknownVersionFailsClosed(t *testing.T) {
	out, err := Transcript("ctv99", []contracts.TranscriptMessage{{Role: "user", Content: "hi"}})
	require.ErrorIs(t, err, ErrUnknownVersion)
	assert.Nil(t, out, "no partial canonical form may escape on version rejection")
}

func TestTranscript_HashSensitivity(t *testing.T) {
	base, err := Transcript(VersionCTV1, []contracts.TranscriptMessage{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	flipped, err := Transcript(VersionCTV1, []contracts.TranscriptMessage{{Role: "user", Content: "hellp"}})
	require.NoError(t, err)

	assert.NotEqual(t, base.Hash, flipped.Hash)
}

func TestTranscript_EmptyTranscript(t *testing.T) {
	out, err := Transcript(VersionCTV1, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.MessageCount)
	assert.Equal(t, "[]", out.Canonical)
	assert.NotEmpty(t, out.Hash)
}

func TestCoreHash_AbsentOptionalsOmitted(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	core := contracts.CapsuleCore{
		SchemaVersion:  contracts.SchemaVersionV1,
		ReceiptID:      "r-1",
		Platform:       "openai",
		CapturedAt:     captured,
		TranscriptHash: "abc",
		CanonVersion:   VersionCTV1,
	}

	bare, err := CoreHash(core)
	require.NoError(t, err)

	canonical, err := JCS(core)
	require.NoError(t, err)
	assert.NotContains(t, string(canonical), "prev_receipt_hash")
	assert.NotContains(t, string(canonical), "public_key_id")

	core.PrevReceiptHash = "def"
	chained, err := CoreHash(core)
	require.NoError(t, err)
	assert.NotEqual(t, bare, chained, "prev hash participates in the core identity")

	again, err := CoreHash(core)
	require.NoError(t, err)
	assert.Equal(t, chained, again)
}

func TestCoreHash_TranscriptContentNeverIncluded(t *testing.T) {
	capsule := contracts.Capsule{
		SchemaVersion:  contracts.SchemaVersionV1,
		ReceiptID:      "r-2",
		Platform:       "anthropic",
		CapturedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Transcript:     []contracts.TranscriptMessage{{Role: "user", Content: "super secret content"}},
		TranscriptHash: "sha256:00ff",
		CanonVersion:   VersionCTV1,
	}

	canonical, err := JCS(capsule.Core())
	require.NoError(t, err)
	assert.NotContains(t, string(canonical), "super secret content")
}

func TestJCS_SortsKeysWithoutHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]any{"b": "<tag>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<tag>"}`, string(out))
}

func TestNormalizeHash(t *testing.T) {
	assert.Equal(t, "abcd", NormalizeHash("sha256:ABCD"))
	assert.Equal(t, "abcd", NormalizeHash("abcd"))
	assert.True(t, HashEqual("sha256:AA11", "aa11"))
	assert.False(t, HashEqual("", ""))
	assert.False(t, HashEqual("sha256:", ""))
}
