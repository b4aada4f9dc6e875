// Package store defines the persistence contracts consumed by the engine and
// ships reference backends: in-memory, SQLite, and Postgres. Verification
// logic never touches a concrete backend directly.
package store

import (
	"context"
	"errors"

	"github.com/attestry/attestry/pkg/contracts"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	// ErrHeadConflict reports a lost compare-and-append race: the ledger tail
	// moved between reading the head and appending. Callers must surface it,
	// never retry silently against the same head.
	ErrHeadConflict = errors.New("ledger head conflict")
)

// ReceiptStore persists submitted capsules with their computed core hashes.
// ListReceipts and FindByCoreHash return receipts in stable insertion order.
type ReceiptStore interface {
	AppendReceipt(ctx context.Context, rec contracts.StoredReceipt) error
	GetReceipt(ctx context.Context, receiptID string) (contracts.StoredReceipt, error)
	ListReceipts(ctx context.Context) ([]contracts.StoredReceipt, error)
	FindByCoreHash(ctx context.Context, coreHash string) ([]contracts.StoredReceipt, error)
	CountReceipts(ctx context.Context) (uint64, error)
}

// AuditEventStore persists the hash-chained audit ledger.
//
// AppendEvent has compare-and-append semantics: the event must carry the hash
// of the current tail as PrevHash (or the genesis sentinel on an empty
// ledger) and the next gap-free sequence number; otherwise it fails with
// ErrHeadConflict and stores nothing.
type AuditEventStore interface {
	AppendEvent(ctx context.Context, ev contracts.AuditEvent) error
	GetEvent(ctx context.Context, seq uint64) (contracts.AuditEvent, error)
	RangeEvents(ctx context.Context, from, to uint64) ([]contracts.AuditEvent, error)
	LastEvent(ctx context.Context) (contracts.AuditEvent, error)
	CountEvents(ctx context.Context) (uint64, error)
}

// CheckpointStore persists signed ledger anchors in ascending counter order.
type CheckpointStore interface {
	AppendCheckpoint(ctx context.Context, cp contracts.Checkpoint) error
	GetCheckpoint(ctx context.Context, checkpointID string) (contracts.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]contracts.Checkpoint, error)
	LastCheckpoint(ctx context.Context) (contracts.Checkpoint, error)
}

// KeyStore persists governed keys and the trusted issuer set.
// Implementations must apply mutations atomically with respect to reads: a
// concurrent GetKey observes the entry either before or after a
// SetKeyStatus, never half-updated.
type KeyStore interface {
	PutKey(ctx context.Context, entry contracts.KeyEntry) error
	GetKey(ctx context.Context, keyID string) (contracts.KeyEntry, bool, error)
	ListKeys(ctx context.Context) ([]contracts.KeyEntry, error)
	SetKeyStatus(ctx context.Context, keyID string, status contracts.KeyStatus, reason string) error
	TrustIssuer(ctx context.Context, issuerID string) error
	IsIssuerTrusted(ctx context.Context, issuerID string) (bool, error)
	TrustedIssuers(ctx context.Context) ([]string, error)
}

// FlagStore persists set-once flags scoped to a receipt (downstream unlock,
// kill switch). SetOnce returns false without error when the flag was
// already set; the stored value never changes afterwards.
type FlagStore interface {
	SetOnce(ctx context.Context, name, receiptID, value string) (bool, error)
	GetFlag(ctx context.Context, name, receiptID string) (string, bool, error)
}

// Backend aggregates every contract a single database backend implements.
type Backend interface {
	ReceiptStore
	AuditEventStore
	CheckpointStore
	KeyStore
	FlagStore
}
