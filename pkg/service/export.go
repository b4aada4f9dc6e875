package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/attestry/attestry/pkg/artifacts"
	"github.com/attestry/attestry/pkg/contracts"
)

// ErrNoArchive is returned by the export operations when the service runs
// without an archive.
var ErrNoArchive = fmt.Errorf("no export archive configured")

// exportRecord is the audit payload for sealed export bundles.
type exportRecord struct {
	Kind      string `json:"kind"`
	Address   string `json:"address"`
	ReceiptID string `json:"receipt_id,omitempty"`
	FromSeq   uint64 `json:"from_sequence,omitempty"`
	ToSeq     uint64 `json:"to_sequence,omitempty"`
}

// ExportProofPack seals the receipt's proof pack plus a fresh proof token
// into a signed bundle and stores it content-addressed. The returned
// address is all a recipient needs to fetch and verify the bundle.
func (s *Service) ExportProofPack(ctx context.Context, receiptID string) (string, error) {
	if s.archive == nil {
		return "", ErrNoArchive
	}
	pack, token, err := s.ProofToken(ctx, receiptID)
	if err != nil {
		return "", err
	}
	addr, err := s.archive.ArchiveProofPack(ctx, artifacts.ProofPackExport{Pack: pack, Token: token})
	if err != nil {
		return "", fmt.Errorf("seal proof pack bundle: %w", err)
	}
	if _, err := s.audit(ctx, "export.sealed", receiptID, exportRecord{
		Kind:      artifacts.KindProofPack,
		Address:   addr,
		ReceiptID: receiptID,
	}); err != nil {
		return "", err
	}
	return addr, nil
}

// ExportLedger seals a contiguous run of audit events, the current head,
// and every stored checkpoint into a signed bundle. Zero bounds mean open
// ends. The export itself is audited, so it lands one sequence past the
// range it covers.
func (s *Service) ExportLedger(ctx context.Context, from, to uint64) (string, error) {
	if s.archive == nil {
		return "", ErrNoArchive
	}
	events, err := s.ledger.Events(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("load export range: %w", err)
	}
	if len(events) == 0 {
		return "", fmt.Errorf("export range [%d, %d] holds no events", from, to)
	}
	head, err := s.ledger.Head(ctx)
	if err != nil {
		return "", fmt.Errorf("read ledger head: %w", err)
	}
	cps, err := s.backend.ListCheckpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("list checkpoints: %w", err)
	}

	export := artifacts.LedgerExport{
		FromSequence: events[0].Sequence,
		ToSequence:   events[len(events)-1].Sequence,
		Head:         head,
		Events:       events,
		Checkpoints:  cps,
	}
	addr, err := s.archive.ArchiveLedger(ctx, export)
	if err != nil {
		return "", fmt.Errorf("seal ledger bundle: %w", err)
	}
	if _, err := s.audit(ctx, "export.sealed", addr, exportRecord{
		Kind:    artifacts.KindLedgerRange,
		Address: addr,
		FromSeq: export.FromSequence,
		ToSeq:   export.ToSequence,
	}); err != nil {
		return "", err
	}
	return addr, nil
}

// OpenLedgerExport fetches and validates a sealed ledger bundle.
func (s *Service) OpenLedgerExport(ctx context.Context, addr string) (*artifacts.LedgerExport, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive.OpenLedger(ctx, addr)
}

// OpenProofPackExport fetches and validates a sealed proof-pack bundle.
func (s *Service) OpenProofPackExport(ctx context.Context, addr string) (*artifacts.ProofPackExport, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive.OpenProofPack(ctx, addr)
}

// VerifyExport checks a stored bundle without decoding its payload:
// content address, envelope hash, and envelope signature.
func (s *Service) VerifyExport(ctx context.Context, addr string) (bool, []string, error) {
	if s.archive == nil {
		return false, nil, ErrNoArchive
	}
	return s.archive.VerifyBundle(ctx, addr)
}

// ArchivedCapsule fetches the archived submission blob for a receipt and
// decodes it back into a capsule.
func (s *Service) ArchivedCapsule(ctx context.Context, receiptID string) (contracts.Capsule, error) {
	rec, err := s.backend.GetReceipt(ctx, receiptID)
	if err != nil {
		return contracts.Capsule{}, fmt.Errorf("receipt %s: %w", receiptID, err)
	}
	if rec.ArchiveID == "" {
		return contracts.Capsule{}, fmt.Errorf("receipt %s was not archived", receiptID)
	}
	if s.blobs == nil {
		return contracts.Capsule{}, fmt.Errorf("no artifact store configured")
	}
	raw, err := s.blobs.Get(ctx, rec.ArchiveID)
	if err != nil {
		return contracts.Capsule{}, fmt.Errorf("fetch archived capsule: %w", err)
	}
	var capsule contracts.Capsule
	if err := json.Unmarshal(raw, &capsule); err != nil {
		return contracts.Capsule{}, fmt.Errorf("decode archived capsule: %w", err)
	}
	return capsule, nil
}
