package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/contracts"
)

func newSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "attestry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sqliteReceipt(id, coreHash string) contracts.StoredReceipt {
	return contracts.StoredReceipt{
		Capsule: contracts.Capsule{
			SchemaVersion:  contracts.SchemaVersionV1,
			ReceiptID:      id,
			Platform:       "chat.example",
			CapturedAt:     time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC),
			TranscriptHash: "sha256:abc",
			CanonVersion:   "ctv1",
		},
		CoreHash: coreHash,
		StoredAt: time.Date(2026, 2, 1, 8, 30, 1, 0, time.UTC),
	}
}

func TestSQLiteReceiptRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	rec := sqliteReceipt("r-1", "hash-1")
	require.NoError(t, s.AppendReceipt(ctx, rec))
	assert.ErrorIs(t, s.AppendReceipt(ctx, rec), ErrDuplicate)

	got, err := s.GetReceipt(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Capsule, got.Capsule)
	assert.Equal(t, "hash-1", got.CoreHash)
	assert.True(t, rec.StoredAt.Equal(got.StoredAt))

	_, err = s.GetReceipt(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.CountReceipts(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSQLiteFindByCoreHashInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.AppendReceipt(ctx, sqliteReceipt("r-1", "dup")))
	require.NoError(t, s.AppendReceipt(ctx, sqliteReceipt("r-2", "other")))
	require.NoError(t, s.AppendReceipt(ctx, sqliteReceipt("r-3", "dup")))

	matches, err := s.FindByCoreHash(ctx, "dup")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "r-1", matches[0].Capsule.ReceiptID)
	assert.Equal(t, "r-3", matches[1].Capsule.ReceiptID)

	all, err := s.ListReceipts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r-2", all[1].Capsule.ReceiptID)
}

func sqliteEvent(seq uint64, prevHash string) contracts.AuditEvent {
	return contracts.AuditEvent{
		EventID:     "ev-" + string(rune('0'+seq)),
		Sequence:    seq,
		Action:      "receipt.verified",
		ActorHash:   "actorhash",
		ContextHash: "ctxhash",
		PayloadHash: "payloadhash",
		PrevHash:    prevHash,
		EventHash:   "hash-" + string(rune('0'+seq)),
		Timestamp:   time.Date(2026, 2, 1, 9, 0, int(seq), 123456789, time.UTC),
	}
}

func TestSQLiteEventCompareAndAppend(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	require.NoError(t, s.AppendEvent(ctx, sqliteEvent(1, contracts.GenesisHash)))
	require.NoError(t, s.AppendEvent(ctx, sqliteEvent(2, "hash-1")))

	// stale prev hash loses the compare-and-append
	assert.ErrorIs(t, s.AppendEvent(ctx, sqliteEvent(3, "hash-1")), ErrHeadConflict)
	// sequence gap
	assert.ErrorIs(t, s.AppendEvent(ctx, sqliteEvent(4, "hash-2")), ErrHeadConflict)

	require.NoError(t, s.AppendEvent(ctx, sqliteEvent(3, "hash-2")))

	last, err := s.LastEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last.Sequence)

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	tail, err := s.RangeEvents(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(2), tail[0].Sequence)
}

func TestSQLiteGenesisRequiredOnEmpty(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	assert.ErrorIs(t, s.AppendEvent(ctx, sqliteEvent(1, "not-genesis")), ErrHeadConflict)

	_, err := s.LastEvent(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Event hashes are recomputed from stored rows, so timestamps must survive
// the round trip to the nanosecond.
func TestSQLiteTimestampPrecision(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	ev := sqliteEvent(1, contracts.GenesisHash)
	ev.Timestamp = time.Date(2026, 2, 1, 9, 0, 0, 987654321, time.UTC)
	require.NoError(t, s.AppendEvent(ctx, ev))

	got, err := s.GetEvent(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp), "want %v got %v", ev.Timestamp, got.Timestamp)
	assert.Equal(t, 987654321, got.Timestamp.Nanosecond())
}

func TestSQLiteCheckpointOrder(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	_, err := s.LastCheckpoint(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cp1 := contracts.Checkpoint{
		CheckpointID: "cp-1", Counter: 1, Sequence: 100, EventHash: "eh100",
		EventCount: 100, PrevHash: contracts.GenesisHash, SignerKeyID: "chk-1",
		Environment: "dev", CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 500, time.UTC),
		PayloadHash: "ph1", Signature: "sig1",
	}
	cp2 := cp1
	cp2.CheckpointID, cp2.Counter, cp2.Sequence = "cp-2", 2, 200
	cp2.PrevID, cp2.PrevHash = "cp-1", "ph1"

	require.NoError(t, s.AppendCheckpoint(ctx, cp1))
	require.NoError(t, s.AppendCheckpoint(ctx, cp2))
	assert.ErrorIs(t, s.AppendCheckpoint(ctx, cp1), ErrDuplicate)

	last, err := s.LastCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cp-2", last.CheckpointID)

	list, err := s.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cp-1", list[0].CheckpointID)
	assert.True(t, cp1.CreatedAt.Equal(list[0].CreatedAt))

	got, err := s.GetCheckpoint(ctx, "cp-2")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", got.PrevID)
	assert.Equal(t, uint64(200), got.Sequence)
}

func TestSQLiteKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	validTo := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := contracts.KeyEntry{
		KeyID:        "key-1",
		PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\nAA==\n-----END PUBLIC KEY-----\n",
		IssuerID:     "issuer-1",
		IssuerLabel:  "Example Lab",
		Status:       contracts.KeyStatusActive,
		ValidFrom:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:      &validTo,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.PutKey(ctx, entry))
	assert.ErrorIs(t, s.PutKey(ctx, entry), ErrDuplicate)

	got, ok, err := s.GetKey(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.PublicKeyPEM, got.PublicKeyPEM)
	require.NotNil(t, got.ValidTo)
	assert.True(t, validTo.Equal(*got.ValidTo))

	_, ok, err = s.GetKey(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetKeyStatus(ctx, "key-1", contracts.KeyStatusRevoked, "compromised"))
	got, ok, err = s.GetKey(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contracts.KeyStatusRevoked, got.Status)
	assert.Equal(t, "compromised", got.RevocationReason)

	assert.ErrorIs(t, s.SetKeyStatus(ctx, "missing", contracts.KeyStatusExpired, ""), ErrNotFound)

	// open-ended key stores a NULL valid_to
	open := entry
	open.KeyID = "key-2"
	open.ValidTo = nil
	require.NoError(t, s.PutKey(ctx, open))
	got, ok, err = s.GetKey(ctx, "key-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.ValidTo)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "key-1", keys[0].KeyID)
}

func TestSQLiteTrustedIssuers(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	trusted, err := s.IsIssuerTrusted(ctx, "issuer-1")
	require.NoError(t, err)
	assert.False(t, trusted)

	require.NoError(t, s.TrustIssuer(ctx, "issuer-1"))
	require.NoError(t, s.TrustIssuer(ctx, "issuer-1")) // idempotent
	require.NoError(t, s.TrustIssuer(ctx, "issuer-2"))

	trusted, err = s.IsIssuerTrusted(ctx, "issuer-1")
	require.NoError(t, err)
	assert.True(t, trusted)

	list, err := s.TrustedIssuers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"issuer-1", "issuer-2"}, list)
}

func TestSQLiteFlagsSetOnce(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	fresh, err := s.SetOnce(ctx, "kill_switch", "r-1", "first")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.SetOnce(ctx, "kill_switch", "r-1", "second")
	require.NoError(t, err)
	assert.False(t, fresh)

	v, ok, err := s.GetFlag(ctx, "kill_switch", "r-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", v)

	// same receipt, different flag name is independent
	fresh, err = s.SetOnce(ctx, "downstream_unlock", "r-1", "VERIFIED")
	require.NoError(t, err)
	assert.True(t, fresh)

	_, ok, err = s.GetFlag(ctx, "kill_switch", "r-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
