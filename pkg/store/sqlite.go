package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attestry/attestry/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLite is a single-file backend for lite deployments. Timestamps are
// stored as RFC3339Nano text: event hashes are recomputed from stored rows,
// so nanosecond precision must survive the round trip.
type SQLite struct {
	db *sql.DB
}

var _ Backend = (*SQLite)(nil)

// NewSQLite wraps an open database handle and applies migrations.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent appends
	db.SetMaxOpenConns(1)
	return NewSQLite(db)
}

// Close closes the underlying handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		position   INTEGER PRIMARY KEY AUTOINCREMENT,
		receipt_id TEXT NOT NULL UNIQUE,
		core_hash  TEXT NOT NULL,
		stored_at  TEXT NOT NULL,
		archive_id TEXT NOT NULL DEFAULT '',
		capsule    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_core_hash ON receipts(core_hash);

	CREATE TABLE IF NOT EXISTS audit_events (
		sequence     INTEGER PRIMARY KEY,
		event_id     TEXT NOT NULL,
		action       TEXT NOT NULL,
		actor_hash   TEXT NOT NULL,
		context_hash TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		prev_hash    TEXT NOT NULL,
		event_hash   TEXT NOT NULL,
		timestamp    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		position      INTEGER PRIMARY KEY AUTOINCREMENT,
		checkpoint_id TEXT NOT NULL UNIQUE,
		counter       INTEGER NOT NULL,
		sequence      INTEGER NOT NULL,
		event_hash    TEXT NOT NULL,
		event_count   INTEGER NOT NULL,
		merkle_root   TEXT NOT NULL DEFAULT '',
		prev_id       TEXT NOT NULL DEFAULT '',
		prev_hash     TEXT NOT NULL,
		signer_key_id TEXT NOT NULL,
		environment   TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		payload_hash  TEXT NOT NULL,
		signature     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS keys (
		position          INTEGER PRIMARY KEY AUTOINCREMENT,
		key_id            TEXT NOT NULL UNIQUE,
		public_key_pem    TEXT NOT NULL,
		issuer_id         TEXT NOT NULL,
		issuer_label      TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		valid_from        TEXT NOT NULL,
		valid_to          TEXT,
		revocation_reason TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trusted_issuers (
		position  INTEGER PRIMARY KEY AUTOINCREMENT,
		issuer_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS flags (
		name       TEXT NOT NULL,
		receipt_id TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (name, receipt_id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// --- ReceiptStore ---

func (s *SQLite) AppendReceipt(ctx context.Context, rec contracts.StoredReceipt) error {
	capsuleJSON, err := json.Marshal(rec.Capsule)
	if err != nil {
		return fmt.Errorf("encode capsule %s: %w", rec.Capsule.ReceiptID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO receipts (receipt_id, core_hash, stored_at, archive_id, capsule)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Capsule.ReceiptID, rec.CoreHash, fmtTime(rec.StoredAt), rec.ArchiveID, string(capsuleJSON),
	)
	if err != nil {
		return fmt.Errorf("insert receipt %s: %w", rec.Capsule.ReceiptID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

const receiptColumns = `receipt_id, core_hash, stored_at, archive_id, capsule`

func (s *SQLite) GetReceipt(ctx context.Context, receiptID string) (contracts.StoredReceipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE receipt_id = ?`, receiptID)
	return scanReceipt(row)
}

func (s *SQLite) ListReceipts(ctx context.Context) ([]contracts.StoredReceipt, error) {
	return s.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM receipts ORDER BY position`)
}

func (s *SQLite) FindByCoreHash(ctx context.Context, coreHash string) ([]contracts.StoredReceipt, error) {
	return s.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE core_hash = ? ORDER BY position`, coreHash)
}

func (s *SQLite) queryReceipts(ctx context.Context, query string, args ...any) ([]contracts.StoredReceipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.StoredReceipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) CountReceipts(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&n)
	return n, err
}

// --- AuditEventStore ---

func (s *SQLite) AppendEvent(ctx context.Context, ev contracts.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tailSeq uint64
	var tailHash string
	err = tx.QueryRowContext(ctx,
		`SELECT sequence, event_hash FROM audit_events ORDER BY sequence DESC LIMIT 1`,
	).Scan(&tailSeq, &tailHash)
	switch {
	case err == sql.ErrNoRows:
		tailSeq, tailHash = 0, contracts.GenesisHash
	case err != nil:
		return fmt.Errorf("read ledger tail: %w", err)
	}

	if ev.PrevHash != tailHash || ev.Sequence != tailSeq+1 {
		return ErrHeadConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_events (sequence, event_id, action, actor_hash, context_hash, payload_hash, prev_hash, event_hash, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Sequence, ev.EventID, ev.Action, ev.ActorHash, ev.ContextHash,
		ev.PayloadHash, ev.PrevHash, ev.EventHash, fmtTime(ev.Timestamp),
	); err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Sequence, err)
	}
	return tx.Commit()
}

const eventColumns = `sequence, event_id, action, actor_hash, context_hash, payload_hash, prev_hash, event_hash, timestamp`

func (s *SQLite) GetEvent(ctx context.Context, seq uint64) (contracts.AuditEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE sequence = ?`, seq)
	return scanEvent(row)
}

func (s *SQLite) RangeEvents(ctx context.Context, from, to uint64) ([]contracts.AuditEvent, error) {
	from, to = normalizeRange(from, to)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE sequence >= ? AND sequence <= ? ORDER BY sequence`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLite) LastEvent(ctx context.Context) (contracts.AuditEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events ORDER BY sequence DESC LIMIT 1`)
	return scanEvent(row)
}

func (s *SQLite) CountEvents(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

// --- CheckpointStore ---

func (s *SQLite) AppendCheckpoint(ctx context.Context, cp contracts.Checkpoint) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO checkpoints (checkpoint_id, counter, sequence, event_hash, event_count, merkle_root, prev_id, prev_hash, signer_key_id, environment, created_at, payload_hash, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.Counter, cp.Sequence, cp.EventHash, cp.EventCount,
		cp.MerkleRoot, cp.PrevID, cp.PrevHash, cp.SignerKeyID, cp.Environment,
		fmtTime(cp.CreatedAt), cp.PayloadHash, cp.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint %s: %w", cp.CheckpointID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

const checkpointColumns = `checkpoint_id, counter, sequence, event_hash, event_count, merkle_root, prev_id, prev_hash, signer_key_id, environment, created_at, payload_hash, signature`

func (s *SQLite) GetCheckpoint(ctx context.Context, checkpointID string) (contracts.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	return scanCheckpoint(row)
}

func (s *SQLite) ListCheckpoints(ctx context.Context) ([]contracts.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLite) LastCheckpoint(ctx context.Context) (contracts.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints ORDER BY position DESC LIMIT 1`)
	return scanCheckpoint(row)
}

// --- KeyStore ---

func (s *SQLite) PutKey(ctx context.Context, entry contracts.KeyEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO keys (key_id, public_key_pem, issuer_id, issuer_label, status, valid_from, valid_to, revocation_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.KeyID, entry.PublicKeyPEM, entry.IssuerID, entry.IssuerLabel,
		string(entry.Status), fmtTime(entry.ValidFrom), fmtTimePtr(entry.ValidTo),
		entry.RevocationReason, fmtTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert key %s: %w", entry.KeyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

const keyColumns = `key_id, public_key_pem, issuer_id, issuer_label, status, valid_from, valid_to, revocation_reason, created_at`

func (s *SQLite) GetKey(ctx context.Context, keyID string) (contracts.KeyEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE key_id = ?`, keyID)
	entry, err := scanKey(row)
	if err == ErrNotFound {
		return contracts.KeyEntry{}, false, nil
	}
	if err != nil {
		return contracts.KeyEntry{}, false, err
	}
	return entry, true, nil
}

func (s *SQLite) ListKeys(ctx context.Context) ([]contracts.KeyEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM keys ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.KeyEntry
	for rows.Next() {
		entry, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *SQLite) SetKeyStatus(ctx context.Context, keyID string, status contracts.KeyStatus, reason string) error {
	var res sql.Result
	var err error
	if status == contracts.KeyStatusRevoked {
		res, err = s.db.ExecContext(ctx,
			`UPDATE keys SET status = ?, revocation_reason = ? WHERE key_id = ?`,
			string(status), reason, keyID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE keys SET status = ? WHERE key_id = ?`, string(status), keyID)
	}
	if err != nil {
		return fmt.Errorf("update key %s: %w", keyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) TrustIssuer(ctx context.Context, issuerID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trusted_issuers (issuer_id) VALUES (?)`, issuerID)
	return err
}

func (s *SQLite) IsIssuerTrusted(ctx context.Context, issuerID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trusted_issuers WHERE issuer_id = ?`, issuerID).Scan(&n)
	return n > 0, err
}

func (s *SQLite) TrustedIssuers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT issuer_id FROM trusted_issuers ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- FlagStore ---

func (s *SQLite) SetOnce(ctx context.Context, name, receiptID, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO flags (name, receipt_id, value, created_at) VALUES (?, ?, ?, ?)`,
		name, receiptID, value, fmtTime(time.Now().UTC()),
	)
	if err != nil {
		return false, fmt.Errorf("set flag %s/%s: %w", name, receiptID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) GetFlag(ctx context.Context, name, receiptID string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM flags WHERE name = ? AND receipt_id = ?`, name, receiptID).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
