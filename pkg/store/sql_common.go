package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
)

// rowScanner covers both sql.Row and sql.Rows so one scan helper serves
// single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (contracts.StoredReceipt, error) {
	var (
		receiptID   string
		coreHash    string
		storedAt    string
		archiveID   string
		capsuleJSON string
	)
	if err := row.Scan(&receiptID, &coreHash, &storedAt, &archiveID, &capsuleJSON); err != nil {
		if err == sql.ErrNoRows {
			return contracts.StoredReceipt{}, ErrNotFound
		}
		return contracts.StoredReceipt{}, err
	}

	var capsule contracts.Capsule
	if err := json.Unmarshal([]byte(capsuleJSON), &capsule); err != nil {
		return contracts.StoredReceipt{}, fmt.Errorf("decode capsule %s: %w", receiptID, err)
	}
	return contracts.StoredReceipt{
		Capsule:   capsule,
		CoreHash:  coreHash,
		StoredAt:  parseTime(storedAt),
		ArchiveID: archiveID,
	}, nil
}

func scanEvent(row rowScanner) (contracts.AuditEvent, error) {
	var (
		ev contracts.AuditEvent
		ts string
	)
	if err := row.Scan(&ev.Sequence, &ev.EventID, &ev.Action, &ev.ActorHash,
		&ev.ContextHash, &ev.PayloadHash, &ev.PrevHash, &ev.EventHash, &ts); err != nil {
		if err == sql.ErrNoRows {
			return contracts.AuditEvent{}, ErrNotFound
		}
		return contracts.AuditEvent{}, err
	}
	ev.Timestamp = parseTime(ts)
	return ev, nil
}

func scanCheckpoint(row rowScanner) (contracts.Checkpoint, error) {
	var (
		cp contracts.Checkpoint
		ts string
	)
	if err := row.Scan(&cp.CheckpointID, &cp.Counter, &cp.Sequence, &cp.EventHash,
		&cp.EventCount, &cp.MerkleRoot, &cp.PrevID, &cp.PrevHash, &cp.SignerKeyID,
		&cp.Environment, &ts, &cp.PayloadHash, &cp.Signature); err != nil {
		if err == sql.ErrNoRows {
			return contracts.Checkpoint{}, ErrNotFound
		}
		return contracts.Checkpoint{}, err
	}
	cp.CreatedAt = parseTime(ts)
	return cp, nil
}

func scanKey(row rowScanner) (contracts.KeyEntry, error) {
	var (
		entry     contracts.KeyEntry
		status    string
		validFrom string
		validTo   sql.NullString
		createdAt string
	)
	if err := row.Scan(&entry.KeyID, &entry.PublicKeyPEM, &entry.IssuerID,
		&entry.IssuerLabel, &status, &validFrom, &validTo,
		&entry.RevocationReason, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return contracts.KeyEntry{}, ErrNotFound
		}
		return contracts.KeyEntry{}, err
	}
	entry.Status = contracts.KeyStatus(status)
	entry.ValidFrom = parseTime(validFrom)
	entry.CreatedAt = parseTime(createdAt)
	if validTo.Valid && validTo.String != "" {
		t := parseTime(validTo.String)
		entry.ValidTo = &t
	}
	return entry, nil
}

// normalizeRange maps the open-ended range convention (0 = unbounded) onto
// concrete sequence bounds usable in a WHERE clause.
func normalizeRange(from, to uint64) (uint64, uint64) {
	if from == 0 {
		from = 1
	}
	if to == 0 {
		to = 1 << 62
	}
	return from, to
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
