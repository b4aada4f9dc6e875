package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attestry/attestry/pkg/contracts"

	_ "github.com/lib/pq"
)

// ledgerLockKey serializes concurrent ledger appends across every process
// sharing the database. The value is arbitrary but must never change.
const ledgerLockKey = int64(7_318_550_221)

// Postgres is the shared-database backend. Timestamps are stored as
// RFC3339Nano text rather than timestamptz: event hashes are recomputed
// from stored rows, and Postgres timestamps truncate to microseconds.
type Postgres struct {
	db *sql.DB
}

var _ Backend = (*Postgres)(nil)

// NewPostgres wraps an open database handle and applies migrations.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("migrate postgres store: %w", err)
	}
	return p, nil
}

// OpenPostgres connects with the given DSN.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db)
}

// Close closes the underlying handle.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS receipts (
		position   BIGSERIAL PRIMARY KEY,
		receipt_id TEXT NOT NULL UNIQUE,
		core_hash  TEXT NOT NULL,
		stored_at  TEXT NOT NULL,
		archive_id TEXT NOT NULL DEFAULT '',
		capsule    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_receipts_core_hash ON receipts(core_hash);

	CREATE TABLE IF NOT EXISTS audit_events (
		sequence     BIGINT PRIMARY KEY,
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
		position      BIGSERIAL PRIMARY KEY,
		checkpoint_id TEXT NOT NULL UNIQUE,
		counter       BIGINT NOT NULL,
		sequence      BIGINT NOT NULL,
		event_hash    TEXT NOT NULL,
		event_count   BIGINT NOT NULL,
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
		position          BIGSERIAL PRIMARY KEY,
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
		position  BIGSERIAL PRIMARY KEY,
		issuer_id TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS flags (
		name       TEXT NOT NULL,
		receipt_id TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (name, receipt_id)
	);`
	_, err := p.db.ExecContext(context.Background(), query)
	return err
}

// --- ReceiptStore ---

func (p *Postgres) AppendReceipt(ctx context.Context, rec contracts.StoredReceipt) error {
	capsuleJSON, err := json.Marshal(rec.Capsule)
	if err != nil {
		return fmt.Errorf("encode capsule %s: %w", rec.Capsule.ReceiptID, err)
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO receipts (receipt_id, core_hash, stored_at, archive_id, capsule)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (receipt_id) DO NOTHING`,
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

func (p *Postgres) GetReceipt(ctx context.Context, receiptID string) (contracts.StoredReceipt, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE receipt_id = $1`, receiptID)
	return scanReceipt(row)
}

func (p *Postgres) ListReceipts(ctx context.Context) ([]contracts.StoredReceipt, error) {
	return p.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM receipts ORDER BY position`)
}

func (p *Postgres) FindByCoreHash(ctx context.Context, coreHash string) ([]contracts.StoredReceipt, error) {
	return p.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE core_hash = $1 ORDER BY position`, coreHash)
}

func (p *Postgres) queryReceipts(ctx context.Context, query string, args ...any) ([]contracts.StoredReceipt, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *Postgres) CountReceipts(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&n)
	return n, err
}

// --- AuditEventStore ---

// AppendEvent serializes appends across all processes with a
// transaction-scoped advisory lock, then enforces compare-and-append
// against the tail read inside the same transaction.
func (p *Postgres) AppendEvent(ctx context.Context, ev contracts.AuditEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}

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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.Sequence, ev.EventID, ev.Action, ev.ActorHash, ev.ContextHash,
		ev.PayloadHash, ev.PrevHash, ev.EventHash, fmtTime(ev.Timestamp),
	); err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Sequence, err)
	}
	return tx.Commit()
}

func (p *Postgres) GetEvent(ctx context.Context, seq uint64) (contracts.AuditEvent, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE sequence = $1`, seq)
	return scanEvent(row)
}

func (p *Postgres) RangeEvents(ctx context.Context, from, to uint64) ([]contracts.AuditEvent, error) {
	from, to = normalizeRange(from, to)
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE sequence >= $1 AND sequence <= $2 ORDER BY sequence`,
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

func (p *Postgres) LastEvent(ctx context.Context) (contracts.AuditEvent, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events ORDER BY sequence DESC LIMIT 1`)
	return scanEvent(row)
}

func (p *Postgres) CountEvents(ctx context.Context) (uint64, error) {
	var n uint64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

// --- CheckpointStore ---

func (p *Postgres) AppendCheckpoint(ctx context.Context, cp contracts.Checkpoint) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, counter, sequence, event_hash, event_count, merkle_root, prev_id, prev_hash, signer_key_id, environment, created_at, payload_hash, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (checkpoint_id) DO NOTHING`,
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

func (p *Postgres) GetCheckpoint(ctx context.Context, checkpointID string) (contracts.Checkpoint, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE checkpoint_id = $1`, checkpointID)
	return scanCheckpoint(row)
}

func (p *Postgres) ListCheckpoints(ctx context.Context) ([]contracts.Checkpoint, error) {
	rows, err := p.db.QueryContext(ctx,
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

func (p *Postgres) LastCheckpoint(ctx context.Context) (contracts.Checkpoint, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints ORDER BY position DESC LIMIT 1`)
	return scanCheckpoint(row)
}

// --- KeyStore ---

func (p *Postgres) PutKey(ctx context.Context, entry contracts.KeyEntry) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO keys (key_id, public_key_pem, issuer_id, issuer_label, status, valid_from, valid_to, revocation_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (key_id) DO NOTHING`,
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

func (p *Postgres) GetKey(ctx context.Context, keyID string) (contracts.KeyEntry, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM keys WHERE key_id = $1`, keyID)
	entry, err := scanKey(row)
	if err == ErrNotFound {
		return contracts.KeyEntry{}, false, nil
	}
	if err != nil {
		return contracts.KeyEntry{}, false, err
	}
	return entry, true, nil
}

func (p *Postgres) ListKeys(ctx context.Context) ([]contracts.KeyEntry, error) {
	rows, err := p.db.QueryContext(ctx,
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

func (p *Postgres) SetKeyStatus(ctx context.Context, keyID string, status contracts.KeyStatus, reason string) error {
	var res sql.Result
	var err error
	if status == contracts.KeyStatusRevoked {
		res, err = p.db.ExecContext(ctx,
			`UPDATE keys SET status = $1, revocation_reason = $2 WHERE key_id = $3`,
			string(status), reason, keyID)
	} else {
		res, err = p.db.ExecContext(ctx,
			`UPDATE keys SET status = $1 WHERE key_id = $2`, string(status), keyID)
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

func (p *Postgres) TrustIssuer(ctx context.Context, issuerID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO trusted_issuers (issuer_id) VALUES ($1) ON CONFLICT (issuer_id) DO NOTHING`,
		issuerID)
	return err
}

func (p *Postgres) IsIssuerTrusted(ctx context.Context, issuerID string) (bool, error) {
	var trusted bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM trusted_issuers WHERE issuer_id = $1)`, issuerID).Scan(&trusted)
	return trusted, err
}

func (p *Postgres) TrustedIssuers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
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

func (p *Postgres) SetOnce(ctx context.Context, name, receiptID, value string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO flags (name, receipt_id, value, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name, receipt_id) DO NOTHING`,
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

func (p *Postgres) GetFlag(ctx context.Context, name, receiptID string) (string, bool, error) {
	var v string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM flags WHERE name = $1 AND receipt_id = $2`, name, receiptID).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
