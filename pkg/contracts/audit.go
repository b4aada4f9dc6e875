package contracts

import "time"

// GenesisHash is the previous-hash sentinel for the first element of any
// chain in the system: audit events, checkpoints, and receipt chains.
const GenesisHash = "GENESIS"

// AuditEvent is one immutable entry in the append-only audit ledger.
// Actor and context are stored only as hashes; the raw strings never persist.
type AuditEvent struct {
	EventID     string    `json:"event_id"`
	Sequence    uint64    `json:"sequence"`
	Action      string    `json:"action"`
	ActorHash   string    `json:"actor_hash"`
	ContextHash string    `json:"context_hash"`
	PayloadHash string    `json:"payload_hash"`
	PrevHash    string    `json:"prev_hash"`
	EventHash   string    `json:"event_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// Checkpoint is a signed anchor over a ledger prefix. Immutable once created.
type Checkpoint struct {
	CheckpointID string    `json:"checkpoint_id"`
	Counter      uint64    `json:"counter"`
	Sequence     uint64    `json:"sequence"` // most recent covered event
	EventHash    string    `json:"event_hash"`
	EventCount   uint64    `json:"event_count"`
	MerkleRoot   string    `json:"merkle_root,omitempty"` // root over the covered event range
	PrevID       string    `json:"prev_id,omitempty"`
	PrevHash     string    `json:"prev_hash"`
	SignerKeyID  string    `json:"signer_key_id"`
	Environment  string    `json:"environment"`
	CreatedAt    time.Time `json:"created_at"`
	PayloadHash  string    `json:"payload_hash"`
	Signature    string    `json:"signature"` // hex-encoded Ed25519
}

// LedgerHead identifies the current tip of the audit ledger.
type LedgerHead struct {
	Sequence  uint64 `json:"sequence"`
	EventHash string `json:"event_hash"`
}

// LedgerVerifyReport is the outcome of replaying a ledger range.
type LedgerVerifyReport struct {
	OK          bool     `json:"ok"`
	Strict      bool     `json:"strict"`
	Checked     uint64   `json:"checked"`
	TotalEvents uint64   `json:"total_events"`
	FirstBadSeq uint64   `json:"first_bad_seq,omitempty"`
	BadSeqs     []uint64 `json:"bad_seqs,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// CheckpointVerifyReport is the outcome of verifying a checkpoint chain.
type CheckpointVerifyReport struct {
	OK              bool   `json:"ok"`
	Checked         int    `json:"checked"`
	FirstBadCounter uint64 `json:"first_bad_counter,omitempty"`
	FirstBadSeq     uint64 `json:"first_bad_seq,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
