package contracts

import "time"

// TranscriptMode is the configured disclosure level for transcript content.
type TranscriptMode string

const (
	ModeFull     TranscriptMode = "full"
	ModeRedacted TranscriptMode = "redacted"
	ModeHidden   TranscriptMode = "hidden"
)

// TranscriptView is the mode-gated rendering of a transcript.
// In hidden mode Messages is empty; Roles and MessageCount survive all modes.
type TranscriptView struct {
	Mode         TranscriptMode      `json:"mode"`
	MessageCount int                 `json:"message_count"`
	Roles        []string            `json:"roles"`
	Messages     []TranscriptMessage `json:"messages,omitempty"`
}

// ProofPack is the minimal, content-free disclosure of a verification result.
// It never carries transcript text regardless of the configured mode.
type ProofPack struct {
	ReceiptID          string             `json:"receipt_id"`
	GeneratedAt        time.Time          `json:"generated_at"`
	Overall            VerificationStatus `json:"overall"`
	FailureModes       []FailureMode      `json:"failure_modes"`
	Integrity          IntegrityReport    `json:"integrity"`
	Signature          SignatureReport    `json:"signature"`
	Chain              ChainReport        `json:"chain"`
	AuditHead          LedgerHead         `json:"audit_head"`
	LatestCheckpoint   *CheckpointRef     `json:"latest_checkpoint,omitempty"`
	ProofScope         []string           `json:"proof_scope"`
	ProofScopeExcludes []string           `json:"proof_scope_excludes"`
}

// CheckpointRef is the summary of a checkpoint carried inside a proof pack.
type CheckpointRef struct {
	CheckpointID string    `json:"checkpoint_id"`
	Counter      uint64    `json:"counter"`
	Sequence     uint64    `json:"sequence"`
	MerkleRoot   string    `json:"merkle_root,omitempty"`
	SignerKeyID  string    `json:"signer_key_id"`
	CreatedAt    time.Time `json:"created_at"`
}
