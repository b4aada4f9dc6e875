package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/contracts"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS receipts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	p, err := NewPostgres(db)
	require.NoError(t, err)
	return p, mock
}

func TestPostgresAppendEventHoldsAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(ledgerLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sequence, event_hash FROM audit_events ORDER BY sequence DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "event_hash"}).AddRow(1, "hash-1"))
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(2, "ev-2", "receipt.verified", "actorhash", "ctxhash", "payloadhash", "hash-1", "hash-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev := contracts.AuditEvent{
		EventID: "ev-2", Sequence: 2, Action: "receipt.verified",
		ActorHash: "actorhash", ContextHash: "ctxhash", PayloadHash: "payloadhash",
		PrevHash: "hash-1", EventHash: "hash-2",
		Timestamp: time.Date(2026, 2, 1, 9, 0, 0, 123456789, time.UTC),
	}
	require.NoError(t, p.AppendEvent(ctx, ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendEventHeadConflict(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(ledgerLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sequence, event_hash FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "event_hash"}).AddRow(5, "hash-5"))
	mock.ExpectRollback()

	ev := contracts.AuditEvent{Sequence: 6, PrevHash: "stale", EventHash: "hash-6"}
	assert.ErrorIs(t, p.AppendEvent(ctx, ev), ErrHeadConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendEventGenesis(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(ledgerLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sequence, event_hash FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "event_hash"}))
	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(1, "ev-1", "genesis.test", "a", "c", "p", contracts.GenesisHash, "hash-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev := contracts.AuditEvent{
		EventID: "ev-1", Sequence: 1, Action: "genesis.test",
		ActorHash: "a", ContextHash: "c", PayloadHash: "p",
		PrevHash: contracts.GenesisHash, EventHash: "hash-1",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, p.AppendEvent(ctx, ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetReceipt(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	capsule := contracts.Capsule{
		SchemaVersion:  contracts.SchemaVersionV1,
		ReceiptID:      "r-1",
		Platform:       "chat.example",
		CapturedAt:     time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC),
		TranscriptHash: "sha256:abc",
		CanonVersion:   "ctv1",
	}
	capsuleJSON, err := json.Marshal(capsule)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + receiptColumns + ` FROM receipts WHERE receipt_id = $1`)).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"receipt_id", "core_hash", "stored_at", "archive_id", "capsule"}).
			AddRow("r-1", "hash-1", "2026-02-01T08:30:01.000000001Z", "", string(capsuleJSON)))

	got, err := p.GetReceipt(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, capsule, got.Capsule)
	assert.Equal(t, "hash-1", got.CoreHash)
	assert.Equal(t, 1, got.StoredAt.Nanosecond())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendReceiptDuplicate(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO receipts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := contracts.StoredReceipt{
		Capsule:  contracts.Capsule{ReceiptID: "r-1"},
		CoreHash: "hash-1",
		StoredAt: time.Now().UTC(),
	}
	assert.ErrorIs(t, p.AppendReceipt(ctx, rec), ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetOnceReplay(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectExec("INSERT INTO flags").
		WithArgs("kill_switch", "r-1", "reason", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO flags").
		WithArgs("kill_switch", "r-1", "other", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	fresh, err := p.SetOnce(ctx, "kill_switch", "r-1", "reason")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = p.SetOnce(ctx, "kill_switch", "r-1", "other")
	require.NoError(t, err)
	assert.False(t, fresh)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetKeyStatusNotFound(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE keys SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, p.SetKeyStatus(ctx, "missing", contracts.KeyStatusExpired, ""), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetFlagMissing(t *testing.T) {
	ctx := context.Background()
	p, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT value FROM flags").
		WithArgs("kill_switch", "r-9").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := p.GetFlag(ctx, "kill_switch", "r-9")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
