// Package contracts defines the shared data model for receipt verification:
// capsules, key entries, audit events, checkpoints, and verification results.
// All multi-writer surfaces treat these as immutable once created.
package contracts

import "time"

// SchemaVersionV1 is the capsule schema tag accepted by the engine.
const SchemaVersionV1 = "capsule.v1"

// TranscriptMessage is a single conversation turn. Only Role and Content
// participate in canonicalization; any other field a submitter includes is
// dropped before hashing.
type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CapsuleSignature carries the submitter's signature over the capsule core.
type CapsuleSignature struct {
	Algorithm   string `json:"algorithm"`
	PublicKeyID string `json:"public_key_id"`
	Value       string `json:"value"` // hex-encoded Ed25519 signature
}

// Capsule is a submitted conversation receipt. Immutable once submitted.
type Capsule struct {
	SchemaVersion   string              `json:"schema_version"`
	ReceiptID       string              `json:"receipt_id"`
	Platform        string              `json:"platform"`
	CapturedAt      time.Time           `json:"captured_at"`
	Transcript      []TranscriptMessage `json:"transcript,omitempty"`
	TranscriptRef   string              `json:"transcript_ref,omitempty"`
	TranscriptHash  string              `json:"transcript_hash"` // declared, "sha256:<hex>"
	CanonVersion    string              `json:"canon_version"`
	Signature       *CapsuleSignature   `json:"signature,omitempty"`
	PrevReceiptHash string              `json:"prev_receipt_hash,omitempty"`
}

// CapsuleCore is the immutable identity subset of a Capsule. It references the
// transcript only by hash; raw content never enters the chain-link hash.
// Absent optionals are omitted from the serialized form, never null-padded.
type CapsuleCore struct {
	SchemaVersion   string    `json:"schema_version"`
	ReceiptID       string    `json:"receipt_id"`
	Platform        string    `json:"platform"`
	CapturedAt      time.Time `json:"captured_at"`
	TranscriptHash  string    `json:"transcript_hash"`
	CanonVersion    string    `json:"canon_version"`
	PrevReceiptHash string    `json:"prev_receipt_hash,omitempty"`
	PublicKeyID     string    `json:"public_key_id,omitempty"`
}

// Core extracts the CapsuleCore identity fields from a capsule.
func (c *Capsule) Core() CapsuleCore {
	core := CapsuleCore{
		SchemaVersion:   c.SchemaVersion,
		ReceiptID:       c.ReceiptID,
		Platform:        c.Platform,
		CapturedAt:      c.CapturedAt,
		TranscriptHash:  c.TranscriptHash,
		CanonVersion:    c.CanonVersion,
		PrevReceiptHash: c.PrevReceiptHash,
	}
	if c.Signature != nil {
		core.PublicKeyID = c.Signature.PublicKeyID
	}
	return core
}

// StoredReceipt is a capsule at rest together with its computed core hash.
type StoredReceipt struct {
	Capsule   Capsule   `json:"capsule"`
	CoreHash  string    `json:"core_hash"`
	StoredAt  time.Time `json:"stored_at"`
	ArchiveID string    `json:"archive_id,omitempty"` // content-addressed blob, if archived
}
