package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/attestry/attestry/pkg/artifacts"
	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/chain"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/observability"
	"github.com/attestry/attestry/pkg/verifier"
)

// verdictRecord is the audit payload for a verification. It carries the
// verdict, never transcript content.
type verdictRecord struct {
	RequestID    string                       `json:"request_id"`
	ReceiptID    string                       `json:"receipt_id,omitempty"`
	Overall      contracts.VerificationStatus `json:"overall"`
	FailureModes []contracts.FailureMode      `json:"failure_modes"`
}

// Verify runs the full verification pipeline and always returns a result:
// schema failures, hash mismatches, bad signatures and broken chains are
// data in the result, never errors. The error return is reserved for
// infrastructure faults, including a failed audit append, which is fatal to
// the request.
//
// A caller-supplied RequestID makes the call idempotent: a replay within the
// cache TTL returns the recorded result without re-verifying.
func (s *Service) Verify(ctx context.Context, req VerificationRequest) (result contracts.VerificationResult, err error) {
	ctx, finish := s.track(ctx, "verify",
		observability.ReceiptAttrs(req.Capsule.ReceiptID, req.Capsule.Platform)...)
	defer func() { finish(err) }()

	if req.RequestID != "" {
		cached, ok, lookErr := s.cache.Lookup(ctx, req.RequestID)
		if lookErr != nil {
			// A cache fault degrades to re-verification; every attempt is
			// auditable, so doing the work twice is safe.
			s.logger.WarnContext(ctx, "idempotency lookup failed", "request_id", req.RequestID, "error", lookErr)
		} else if ok {
			return cached, nil
		}
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if msg := s.validateRequest(req); msg != "" {
		result = s.badSchemaResult(requestID, req.Capsule.ReceiptID, msg)
	} else {
		result, err = s.computeResult(ctx, req.Capsule, req.Options, requestID)
		if err != nil {
			return contracts.VerificationResult{}, err
		}
	}
	return s.finalize(ctx, req.RequestID, result)
}

// VerifyJSON verifies a raw request document. Malformed JSON and schema
// violations degrade to an UNVERIFIED result with BAD_SCHEMA, keeping the
// always-returns-a-result contract for callers that submit bytes.
func (s *Service) VerifyJSON(ctx context.Context, raw []byte) (contracts.VerificationResult, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		result := s.badSchemaResult(uuid.NewString(), "", "request is not valid JSON: "+err.Error())
		return s.finalize(ctx, "", result)
	}
	requestID, receiptID := requestIdentity(decoded)
	if msg := s.validateDecoded(decoded); msg != "" {
		if requestID == "" {
			requestID = uuid.NewString()
		}
		return s.finalize(ctx, "", s.badSchemaResult(requestID, receiptID, msg))
	}
	var req VerificationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		if requestID == "" {
			requestID = uuid.NewString()
		}
		result := s.badSchemaResult(requestID, receiptID, "request does not match the expected shape: "+err.Error())
		return s.finalize(ctx, "", result)
	}
	return s.Verify(ctx, req)
}

// requestIdentity pulls the caller-visible ids out of a decoded request so
// that even a rejected document produces an attributable result.
func requestIdentity(decoded any) (requestID, receiptID string) {
	m, ok := decoded.(map[string]any)
	if !ok {
		return "", ""
	}
	requestID, _ = m["request_id"].(string)
	if capsule, ok := m["capsule"].(map[string]any); ok {
		receiptID, _ = capsule["receipt_id"].(string)
	}
	return requestID, receiptID
}

// badSchemaResult builds the UNVERIFIED result for a request that never
// reached the pipeline. No layer ran, so the signature and chain reports
// stay empty.
func (s *Service) badSchemaResult(requestID, receiptID, reason string) contracts.VerificationResult {
	return contracts.VerificationResult{
		RequestID:    requestID,
		ReceiptID:    receiptID,
		Integrity:    contracts.IntegrityReport{Reason: reason},
		Overall:      contracts.StatusUnverified,
		FailureModes: []contracts.FailureMode{contracts.FailBadSchema},
		VerifiedAt:   s.now().UTC(),
	}
}

// finalize makes a computed result durable: the verdict is appended to the
// audit ledger, fed to the downstream gate, and recorded for idempotent
// replay. The ledger append is the one step that can fail the request.
func (s *Service) finalize(ctx context.Context, callerRequestID string, result contracts.VerificationResult) (contracts.VerificationResult, error) {
	_, err := s.audit(ctx, "receipt.verified", result.RequestID, verdictRecord{
		RequestID:    result.RequestID,
		ReceiptID:    result.ReceiptID,
		Overall:      result.Overall,
		FailureModes: result.FailureModes,
	})
	if err != nil {
		return contracts.VerificationResult{}, fmt.Errorf("record verification: %w", err)
	}

	if result.ReceiptID != "" {
		decision, err := s.gate.RecordVerdict(ctx, result)
		if err != nil {
			return contracts.VerificationResult{}, fmt.Errorf("record verdict for gate: %w", err)
		}
		if decision.Unlocked {
			s.logger.InfoContext(ctx, "downstream use unlocked", "receipt_id", result.ReceiptID)
		}
	}

	if callerRequestID != "" {
		if err := s.cache.Record(ctx, callerRequestID, result); err != nil {
			s.logger.WarnContext(ctx, "idempotency record failed", "request_id", callerRequestID, "error", err)
		}
	}
	return result, nil
}

// computeResult evaluates the three verification layers and the decision
// table. It is pure with respect to engine state: nothing is audited,
// gated, or cached here.
func (s *Service) computeResult(ctx context.Context, capsule contracts.Capsule, opts VerifyOptions, requestID string) (contracts.VerificationResult, error) {
	var in verifier.Input
	integrity := contracts.IntegrityReport{
		CanonVersion: capsule.CanonVersion,
		DeclaredHash: capsule.TranscriptHash,
	}

	if !canonicalize.Supported(capsule.CanonVersion) {
		// Fail closed before touching content. The signature covers the
		// declared hash, so a hash this engine cannot recompute makes the
		// other layers meaningless.
		in.UnknownCanon = true
		integrity.Reason = fmt.Sprintf("unsupported canonicalization version %q", capsule.CanonVersion)
		in.Integrity = integrity
		overall, modes := verifier.Decide(in)
		return s.assembleResult(requestID, capsule.ReceiptID, in, overall, modes), nil
	}

	msgs, failReason, err := s.transcriptFor(ctx, capsule)
	if err != nil {
		return contracts.VerificationResult{}, err
	}
	if failReason != "" {
		integrity.Reason = failReason
	} else {
		ct, err := canonicalize.Transcript(capsule.CanonVersion, msgs)
		if err != nil {
			return contracts.VerificationResult{}, fmt.Errorf("canonicalize transcript: %w", err)
		}
		integrity.ComputedHash = "sha256:" + ct.Hash
		integrity.MessageCount = ct.MessageCount
		integrity.CanonicalBytes = ct.ByteLength
		integrity.HashMatch = canonicalize.HashEqual(capsule.TranscriptHash, ct.Hash)
		if !integrity.HashMatch {
			integrity.Reason = "computed transcript hash does not match the declared hash"
		}
	}
	in.Integrity = integrity

	sig, err := s.signatureReport(ctx, capsule, opts, &in)
	if err != nil {
		return contracts.VerificationResult{}, err
	}
	in.Signature = sig

	if opts.skipChain() {
		in.Chain = chain.Skipped()
	} else {
		in.Chain, err = s.linker.Link(ctx, capsule.PrevReceiptHash)
		if err != nil {
			return contracts.VerificationResult{}, fmt.Errorf("check receipt chain: %w", err)
		}
	}

	overall, modes := verifier.Decide(in)
	return s.assembleResult(requestID, capsule.ReceiptID, in, overall, modes), nil
}

// signatureReport evaluates the signature layer. Malformed algorithms and
// keys become INVALID locally; only key-store faults escape as errors.
func (s *Service) signatureReport(ctx context.Context, capsule contracts.Capsule, opts VerifyOptions, in *verifier.Input) (contracts.SignatureReport, error) {
	switch {
	case opts.bypassSignature():
		in.SignatureBypassed = true
		return contracts.SignatureReport{Reason: "signature verification bypassed by caller"}, nil
	case capsule.Signature == nil:
		return contracts.SignatureReport{
			Status: contracts.SigMissing,
			Reason: "capsule carries no signature",
		}, nil
	case !strings.EqualFold(capsule.Signature.Algorithm, "ed25519"):
		return contracts.SignatureReport{
			Status: contracts.SigInvalid,
			KeyID:  capsule.Signature.PublicKeyID,
			Reason: fmt.Sprintf("unsupported signature algorithm %q", capsule.Signature.Algorithm),
		}, nil
	}

	// The signature covers the canonical bytes of the capsule core, the
	// same bytes whose digest is the core hash.
	message, err := canonicalize.JCS(capsule.Core())
	if err != nil {
		return contracts.SignatureReport{}, fmt.Errorf("canonicalize capsule core: %w", err)
	}
	at := capsule.CapturedAt
	if at.IsZero() {
		at = s.now()
	}
	report, err := s.registry.Verify(ctx, message, capsule.Signature.Value, capsule.Signature.PublicKeyID, at)
	if err != nil {
		return contracts.SignatureReport{}, fmt.Errorf("verify signature: %w", err)
	}
	return report, nil
}

// transcriptFor returns the messages to canonicalize. An embedded transcript
// wins over a reference. The string return is a verification failure (the
// integrity layer fails but the request still yields a result); the error
// return is an infrastructure fault.
func (s *Service) transcriptFor(ctx context.Context, capsule contracts.Capsule) ([]contracts.TranscriptMessage, string, error) {
	if capsule.Transcript != nil {
		return capsule.Transcript, "", nil
	}
	if capsule.TranscriptRef == "" {
		return nil, "capsule carries neither a transcript nor a transcript reference", nil
	}
	if s.blobs == nil {
		return nil, "transcript reference cannot be resolved: no artifact store configured", nil
	}
	raw, err := s.blobs.Get(ctx, capsule.TranscriptRef)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, fmt.Sprintf("transcript reference %s not found in artifact store", capsule.TranscriptRef), nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("resolve transcript reference: %w", err)
	}
	var msgs []contracts.TranscriptMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Sprintf("transcript reference %s does not hold a message array", capsule.TranscriptRef), nil
	}
	return msgs, "", nil
}

func (s *Service) assembleResult(requestID, receiptID string, in verifier.Input, overall contracts.VerificationStatus, modes []contracts.FailureMode) contracts.VerificationResult {
	if modes == nil {
		modes = []contracts.FailureMode{}
	}
	return contracts.VerificationResult{
		RequestID:    requestID,
		ReceiptID:    receiptID,
		Integrity:    in.Integrity,
		Signature:    in.Signature,
		Chain:        in.Chain,
		Overall:      overall,
		FailureModes: modes,
		VerifiedAt:   s.now().UTC(),
	}
}
