package artifacts

import (
	"encoding/json"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
)

// BundleSchemaVersion tags the envelope format.
const BundleSchemaVersion = "bundle.v1"

// Bundle kinds accepted by the archive.
const (
	KindProofPack   = "export/proof-pack"
	KindLedgerRange = "export/ledger-range"
)

// BundleEnvelope wraps an exported payload with provenance and a signature.
// The signature covers the raw payload bytes; everything else is bound by the
// envelope's content address.
type BundleEnvelope struct {
	Kind           string          `json:"kind"`
	SchemaVersion  string          `json:"schema_version"`
	Environment    string          `json:"environment"`
	CreatedAt      time.Time       `json:"created_at"`
	Payload        json.RawMessage `json:"payload"`
	Signature      string          `json:"signature"` // hex-encoded Ed25519 over payload
	SignatureKeyID string          `json:"signature_key_id"`
}

// ProofPackExport is the payload of a proof-pack bundle. Token carries the
// signed disclosure token when one was minted alongside the pack.
type ProofPackExport struct {
	Pack  contracts.ProofPack `json:"pack"`
	Token string              `json:"token,omitempty"`
}

// LedgerExport is the payload of a ledger-range bundle: a contiguous run of
// audit events plus the checkpoints anchoring any part of that run.
type LedgerExport struct {
	FromSequence uint64                 `json:"from_sequence"`
	ToSequence   uint64                 `json:"to_sequence"`
	Head         contracts.LedgerHead   `json:"head"`
	Events       []contracts.AuditEvent `json:"events"`
	Checkpoints  []contracts.Checkpoint `json:"checkpoints,omitempty"`
}
