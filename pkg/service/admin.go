package service

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/attestry/attestry/pkg/checkpoint"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/gate"
	"github.com/attestry/attestry/pkg/merkle"
	"github.com/attestry/attestry/pkg/trust"
)

// keyRecord is the audit payload for key registry mutations.
type keyRecord struct {
	KeyID    string `json:"key_id,omitempty"`
	IssuerID string `json:"issuer_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// AddKey registers a verification key. The registration is audited; a key
// the ledger never saw arrive cannot silently influence verdicts.
func (s *Service) AddKey(ctx context.Context, entry contracts.KeyEntry) error {
	if err := s.registry.AddKey(ctx, entry); err != nil {
		return err
	}
	_, err := s.audit(ctx, "key.added", entry.KeyID, keyRecord{
		KeyID:    entry.KeyID,
		IssuerID: entry.IssuerID,
	})
	return err
}

// RevokeKey marks a key REVOKED. Revocation is immediate and audited;
// verifications after this call report the key's status, not VALID.
func (s *Service) RevokeKey(ctx context.Context, keyID, reason string) error {
	if err := s.registry.RevokeKey(ctx, keyID, reason); err != nil {
		return err
	}
	_, err := s.audit(ctx, "key.revoked", keyID, keyRecord{KeyID: keyID, Reason: reason})
	return err
}

// ExpireKey marks a key EXPIRED, audited.
func (s *Service) ExpireKey(ctx context.Context, keyID string) error {
	if err := s.registry.ExpireKey(ctx, keyID); err != nil {
		return err
	}
	_, err := s.audit(ctx, "key.expired", keyID, keyRecord{KeyID: keyID})
	return err
}

// TrustIssuer adds an issuer to the trusted set, audited.
func (s *Service) TrustIssuer(ctx context.Context, issuerID string) error {
	if err := s.registry.TrustIssuer(ctx, issuerID); err != nil {
		return err
	}
	_, err := s.audit(ctx, "issuer.trusted", issuerID, keyRecord{IssuerID: issuerID})
	return err
}

// ResolveKey returns a registered key entry.
func (s *Service) ResolveKey(ctx context.Context, keyID string) (contracts.KeyEntry, bool, error) {
	return s.registry.Resolve(ctx, keyID)
}

// Keys lists all registered keys.
func (s *Service) Keys(ctx context.Context) ([]contracts.KeyEntry, error) {
	return s.registry.ListKeys(ctx)
}

// TrustedIssuers lists the trusted issuer ids.
func (s *Service) TrustedIssuers(ctx context.Context) ([]string, error) {
	return s.registry.TrustedIssuers(ctx)
}

// gateRecord is the audit payload for downstream gate mutations.
type gateRecord struct {
	ReceiptID string `json:"receipt_id"`
	Reason    string `json:"reason,omitempty"`
}

// SetKillSwitch permanently blocks downstream use of a receipt. Set-once:
// the first call wins and is audited, repeats return false untouched.
func (s *Service) SetKillSwitch(ctx context.Context, receiptID, reason string) (bool, error) {
	fresh, err := s.gate.SetKillSwitch(ctx, receiptID, reason)
	if err != nil || !fresh {
		return fresh, err
	}
	if _, err := s.audit(ctx, "gate.kill_switch", receiptID, gateRecord{
		ReceiptID: receiptID,
		Reason:    reason,
	}); err != nil {
		return true, err
	}
	return true, nil
}

// Eligible reports whether downstream use of a receipt is allowed.
func (s *Service) Eligible(ctx context.Context, receiptID string) (gate.Eligibility, error) {
	return s.gate.Eligible(ctx, receiptID)
}

// Receipt returns a stored receipt by id.
func (s *Service) Receipt(ctx context.Context, receiptID string) (contracts.StoredReceipt, error) {
	return s.backend.GetReceipt(ctx, receiptID)
}

// Receipts lists all stored receipts in submission order.
func (s *Service) Receipts(ctx context.Context) ([]contracts.StoredReceipt, error) {
	return s.backend.ListReceipts(ctx)
}

// AuditHead returns the current tip of the audit ledger.
func (s *Service) AuditHead(ctx context.Context) (contracts.LedgerHead, error) {
	return s.ledger.Head(ctx)
}

// AuditEvents returns ledger events with sequence in [from, to]; zero means
// an open end.
func (s *Service) AuditEvents(ctx context.Context, from, to uint64) ([]contracts.AuditEvent, error) {
	return s.ledger.Events(ctx, from, to)
}

// VerifyAuditChain re-derives the hash chain over the requested range and
// reports every break. Read-only.
func (s *Service) VerifyAuditChain(ctx context.Context, from, to uint64, strict bool) (contracts.LedgerVerifyReport, error) {
	return s.ledger.Verify(ctx, from, to, strict)
}

// Checkpoints lists all stored checkpoints in counter order.
func (s *Service) Checkpoints(ctx context.Context) ([]contracts.Checkpoint, error) {
	return s.backend.ListCheckpoints(ctx)
}

// VerifyCheckpoints validates the stored checkpoint chain: counters,
// linkage, and signatures against known signer keys.
func (s *Service) VerifyCheckpoints(ctx context.Context) (contracts.CheckpointVerifyReport, error) {
	cps, err := s.backend.ListCheckpoints(ctx)
	if err != nil {
		return contracts.CheckpointVerifyReport{}, fmt.Errorf("list checkpoints: %w", err)
	}
	return checkpoint.VerifyChain(ctx, cps, serviceResolver{signer: s.signer, registry: s.registry}), nil
}

// CreateCheckpoint forces a checkpoint at the current ledger head,
// independent of the interval. Fails when the ledger is empty or the head
// is already covered.
func (s *Service) CreateCheckpoint(ctx context.Context) (cp contracts.Checkpoint, err error) {
	ctx, finish := s.track(ctx, "checkpoint")
	defer func() { finish(err) }()
	return s.createCheckpoint(ctx)
}

// EventProof ties an audit event's Merkle inclusion proof to the signed
// checkpoint whose root covers it. A recipient verifies the checkpoint
// signature against the published signer key, then folds the proof path
// into the checkpoint's root.
type EventProof struct {
	Proof      merkle.InclusionProof `json:"proof"`
	Checkpoint contracts.Checkpoint  `json:"checkpoint"`
}

// ProveEvent builds an inclusion proof for one audit event against the
// checkpoint covering it. The covered range is rebuilt from the ledger; a
// root mismatch means the stored events and the checkpoint disagree, and no
// proof is issued for a range in that state.
func (s *Service) ProveEvent(ctx context.Context, seq uint64) (EventProof, error) {
	if seq == 0 {
		return EventProof{}, fmt.Errorf("sequence must be positive")
	}
	cps, err := s.backend.ListCheckpoints(ctx)
	if err != nil {
		return EventProof{}, fmt.Errorf("list checkpoints: %w", err)
	}

	// Checkpoints are stored in creation order; each covers the events from
	// one past the previous checkpoint through its own sequence.
	from := uint64(1)
	var covering *contracts.Checkpoint
	for i := range cps {
		if seq >= from && seq <= cps[i].Sequence {
			covering = &cps[i]
			break
		}
		from = cps[i].Sequence + 1
	}
	if covering == nil {
		return EventProof{}, fmt.Errorf("sequence %d is not covered by any checkpoint", seq)
	}
	if covering.MerkleRoot == "" {
		return EventProof{}, fmt.Errorf("checkpoint %s carries no merkle root", covering.CheckpointID)
	}

	events, err := s.ledger.Events(ctx, from, covering.Sequence)
	if err != nil {
		return EventProof{}, fmt.Errorf("load covered events: %w", err)
	}
	leaves := make([]merkle.Leaf, len(events))
	for i, ev := range events {
		leaves[i] = merkle.Leaf{Sequence: ev.Sequence, EventHash: ev.EventHash}
	}
	tree := merkle.Build(leaves)
	if tree.Root != covering.MerkleRoot {
		return EventProof{}, fmt.Errorf("rebuilt root does not match checkpoint %s", covering.CheckpointID)
	}

	proof, err := tree.Prove(seq)
	if err != nil {
		return EventProof{}, err
	}
	return EventProof{Proof: proof, Checkpoint: *covering}, nil
}

// serviceResolver resolves checkpoint signer keys: the engine's own active
// key directly, anything else through the trust registry. Rotated-out keys
// stay verifiable as long as they remain registered.
type serviceResolver struct {
	signer   *checkpoint.Signer
	registry *trust.Registry
}

func (r serviceResolver) SignerPublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	if pub, err := r.signer.SignerPublicKey(ctx, keyID); err == nil {
		return pub, nil
	}
	return checkpoint.RegistryResolver{Registry: r.registry}.SignerPublicKey(ctx, keyID)
}
