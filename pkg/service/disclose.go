package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/disclosure"
	"github.com/attestry/attestry/pkg/observability"
	"github.com/attestry/attestry/pkg/store"
)

// disclosureRecord is the audit payload for disclosure operations.
type disclosureRecord struct {
	ReceiptID string                       `json:"receipt_id"`
	Mode      contracts.TranscriptMode     `json:"mode"`
	Overall   contracts.VerificationStatus `json:"overall,omitempty"`
}

// ProofPack re-verifies the stored receipt and renders the content-free
// public summary. Passing an empty mode selects the platform's trust
// profile mode, falling back to the service default.
func (s *Service) ProofPack(ctx context.Context, receiptID string, mode contracts.TranscriptMode) (pack contracts.ProofPack, err error) {
	ctx, finish := s.track(ctx, "proof",
		observability.DisclosureAttrs(receiptID, string(mode))...)
	defer func() { finish(err) }()

	pack, resolved, err := s.buildProofPack(ctx, receiptID, mode)
	if err != nil {
		return contracts.ProofPack{}, err
	}
	if _, err := s.audit(ctx, "proof.generated", receiptID, disclosureRecord{
		ReceiptID: receiptID,
		Mode:      resolved,
		Overall:   pack.Overall,
	}); err != nil {
		return contracts.ProofPack{}, err
	}
	return pack, nil
}

// ProofToken renders the proof pack and seals it into a signed JWT that a
// third party can verify offline against the checkpoint public key.
func (s *Service) ProofToken(ctx context.Context, receiptID string) (pack contracts.ProofPack, token string, err error) {
	ctx, finish := s.track(ctx, "proof",
		observability.DisclosureAttrs(receiptID, "")...)
	defer func() { finish(err) }()

	pack, resolved, err := s.buildProofPack(ctx, receiptID, "")
	if err != nil {
		return contracts.ProofPack{}, "", err
	}
	token, err = s.tokens.Issue(pack)
	if err != nil {
		return contracts.ProofPack{}, "", fmt.Errorf("issue proof token: %w", err)
	}
	if _, err := s.audit(ctx, "proof.token_issued", receiptID, disclosureRecord{
		ReceiptID: receiptID,
		Mode:      resolved,
		Overall:   pack.Overall,
	}); err != nil {
		return contracts.ProofPack{}, "", err
	}
	return pack, token, nil
}

// VerifyProofToken checks a proof token against this engine's checkpoint
// public key and returns the embedded pack claims. Parser options are
// passed through, so callers can add leeway or pin the validation time.
func (s *Service) VerifyProofToken(token string, opts ...jwt.ParserOption) (*disclosure.ProofClaims, error) {
	return disclosure.VerifyToken(token, s.signer.PublicKey(), opts...)
}

// Transcript renders the stored transcript under the resolved disclosure
// mode. Message count and role order survive every mode; content survives
// only full and redacted.
func (s *Service) Transcript(ctx context.Context, receiptID string, mode contracts.TranscriptMode) (view contracts.TranscriptView, err error) {
	ctx, finish := s.track(ctx, "transcript",
		observability.DisclosureAttrs(receiptID, string(mode))...)
	defer func() { finish(err) }()

	rec, err := s.backend.GetReceipt(ctx, receiptID)
	if err != nil {
		return contracts.TranscriptView{}, fmt.Errorf("receipt %s: %w", receiptID, err)
	}
	msgs, failReason, err := s.transcriptFor(ctx, rec.Capsule)
	if err != nil {
		return contracts.TranscriptView{}, err
	}
	if failReason != "" {
		return contracts.TranscriptView{}, fmt.Errorf("receipt %s: %s", receiptID, failReason)
	}

	pol, resolved, err := s.policyFor(mode, rec.Capsule.Platform)
	if err != nil {
		return contracts.TranscriptView{}, err
	}
	view = pol.Transcript(msgs)

	if _, err := s.audit(ctx, "transcript.viewed", receiptID, disclosureRecord{
		ReceiptID: receiptID,
		Mode:      resolved,
	}); err != nil {
		return contracts.TranscriptView{}, err
	}
	return view, nil
}

// buildProofPack is the shared pack construction: load the receipt, run the
// pure verification pipeline, and render under the resolved mode. Nothing
// here writes engine state.
func (s *Service) buildProofPack(ctx context.Context, receiptID string, mode contracts.TranscriptMode) (contracts.ProofPack, contracts.TranscriptMode, error) {
	rec, err := s.backend.GetReceipt(ctx, receiptID)
	if err != nil {
		return contracts.ProofPack{}, "", fmt.Errorf("receipt %s: %w", receiptID, err)
	}

	result, err := s.computeResult(ctx, rec.Capsule, VerifyOptions{}, uuid.NewString())
	if err != nil {
		return contracts.ProofPack{}, "", err
	}

	pol, resolved, err := s.policyFor(mode, rec.Capsule.Platform)
	if err != nil {
		return contracts.ProofPack{}, "", err
	}

	head, err := s.ledger.Head(ctx)
	if err != nil {
		return contracts.ProofPack{}, "", fmt.Errorf("read ledger head: %w", err)
	}
	var latest *contracts.Checkpoint
	last, err := s.backend.LastCheckpoint(ctx)
	switch {
	case err == nil:
		latest = &last
	case errors.Is(err, store.ErrNotFound):
	default:
		return contracts.ProofPack{}, "", fmt.Errorf("read last checkpoint: %w", err)
	}

	return pol.ProofPack(result, head, latest), resolved, nil
}

// policyFor resolves the effective disclosure mode and returns a policy for
// it, reusing the service policy when the mode is the configured default.
func (s *Service) policyFor(mode contracts.TranscriptMode, platform string) (*disclosure.Policy, contracts.TranscriptMode, error) {
	resolved := s.modeFor(mode, platform)
	if resolved == s.policy.Mode() {
		return s.policy, resolved, nil
	}
	pol, err := disclosure.NewPolicy(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("disclosure mode %q: %w", resolved, err)
	}
	return pol.WithClock(s.now), resolved, nil
}
