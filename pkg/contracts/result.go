package contracts

import "time"

// VerificationStatus is the overall verdict for a verification request.
type VerificationStatus string

const (
	StatusVerified          VerificationStatus = "VERIFIED"
	StatusPartiallyVerified VerificationStatus = "PARTIALLY_VERIFIED"
	StatusUnverified        VerificationStatus = "UNVERIFIED"
)

// SignatureStatus is the signature-layer verdict.
type SignatureStatus string

const (
	SigValid           SignatureStatus = "VALID"
	SigInvalid         SignatureStatus = "INVALID"
	SigUntrustedIssuer SignatureStatus = "UNTRUSTED_ISSUER"
	SigMissing         SignatureStatus = "NO_SIGNATURE"
)

// ChainStatus is the chain-link verdict.
type ChainStatus string

const (
	ChainLinked     ChainStatus = "LINKED"
	ChainBroken     ChainStatus = "BROKEN"
	ChainGenesis    ChainStatus = "GENESIS"
	ChainNotChecked ChainStatus = "NOT_CHECKED"
)

// FailureMode codes a reason the overall status is not VERIFIED.
type FailureMode string

const (
	FailBadSchema         FailureMode = "BAD_SCHEMA"
	FailUnknownCanon      FailureMode = "UNKNOWN_CANONICALIZATION"
	FailHashMismatch      FailureMode = "HASH_MISMATCH"
	FailBadSignature      FailureMode = "BAD_SIGNATURE"
	FailChainBroken       FailureMode = "CHAIN_BROKEN"
	FailSigNotVerified    FailureMode = "SIGNATURE_NOT_VERIFIED"
	FailDuplicateCoreHash FailureMode = "DUPLICATE_CORE_HASH"
)

// IntegrityReport describes the transcript hash check.
type IntegrityReport struct {
	HashMatch      bool   `json:"hash_match"`
	ComputedHash   string `json:"computed_hash,omitempty"`
	DeclaredHash   string `json:"declared_hash,omitempty"`
	CanonVersion   string `json:"canon_version"`
	MessageCount   int    `json:"message_count"`
	CanonicalBytes int    `json:"canonical_bytes"`
	Reason         string `json:"reason,omitempty"`
}

// SignatureReport describes the signature check against the key registry.
// Status is empty when the layer was never evaluated (schema failure,
// unsupported canonicalization, caller bypass).
type SignatureReport struct {
	Status      SignatureStatus `json:"status,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	KeyID       string          `json:"key_id,omitempty"`
	IssuerID    string          `json:"issuer_id,omitempty"`
	IssuerLabel string          `json:"issuer_label,omitempty"`
	KeyStatus   KeyStatus       `json:"key_status,omitempty"`
	Trusted     bool            `json:"trusted"`
}

// ChainReport describes the previous-receipt link check.
type ChainReport struct {
	Checked          bool        `json:"checked"`
	Status           ChainStatus `json:"status,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	PrevReceiptID    string      `json:"prev_receipt_id,omitempty"`
	ExpectedPrevHash string      `json:"expected_prev_hash,omitempty"`
	ObservedPrevHash string      `json:"observed_prev_hash,omitempty"`
	LinkMatch        *bool       `json:"link_match,omitempty"`
	DuplicateCount   int         `json:"duplicate_count,omitempty"`
}

// VerificationResult is the immutable per-request output of the engine.
// The engine always returns a result; domain failures are data, not errors.
type VerificationResult struct {
	RequestID    string             `json:"request_id"`
	ReceiptID    string             `json:"receipt_id"`
	Integrity    IntegrityReport    `json:"integrity"`
	Signature    SignatureReport    `json:"signature"`
	Chain        ChainReport        `json:"chain"`
	Overall      VerificationStatus `json:"overall"`
	FailureModes []FailureMode      `json:"failure_modes"`
	VerifiedAt   time.Time          `json:"verified_at"`
}
