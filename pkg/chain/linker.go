// Package chain resolves a capsule's claimed previous-receipt hash against
// the set of known receipt core hashes. Chain links are content-addressed:
// the link carries hashes only, never transcript content.
package chain

import (
	"context"
	"fmt"

	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/contracts"
)

// CoreHashIndex is the receipt lookup the linker scans. A match list must be
// exact-equality and in stable insertion order so duplicate resolution is
// deterministic. store.ReceiptStore satisfies it.
type CoreHashIndex interface {
	FindByCoreHash(ctx context.Context, coreHash string) ([]contracts.StoredReceipt, error)
}

// Linker checks previous-receipt links.
type Linker struct {
	index CoreHashIndex
}

// NewLinker creates a linker over the given receipt index.
func NewLinker(index CoreHashIndex) *Linker {
	return &Linker{index: index}
}

// Skipped is the report for a chain check the caller declined. It is distinct
// from GENESIS: Checked stays false and must never pass as a positive result.
func Skipped() contracts.ChainReport {
	return contracts.ChainReport{
		Checked: false,
		Status:  contracts.ChainNotChecked,
		Reason:  "chain verification skipped by caller",
	}
}

// Link resolves claimedPrevHash. An empty claim is a genesis receipt and no
// lookup is performed. Otherwise the known set is scanned for core hashes
// equal to the claim: no match is a broken chain, a match links to the first
// matching receipt. DuplicateCount reports how many receipts share the
// matched hash; more than one is a data-integrity alarm, since the core hash
// is supposed to be capsule identity.
func (l *Linker) Link(ctx context.Context, claimedPrevHash string) (contracts.ChainReport, error) {
	if claimedPrevHash == "" {
		return contracts.ChainReport{
			Checked: true,
			Status:  contracts.ChainGenesis,
			Reason:  "no previous receipt claimed",
		}, nil
	}

	claim := canonicalize.NormalizeHash(claimedPrevHash)
	matches, err := l.index.FindByCoreHash(ctx, claim)
	if err != nil {
		return contracts.ChainReport{}, fmt.Errorf("scan receipts for %s: %w", claim, err)
	}

	if len(matches) == 0 {
		linkMatch := false
		return contracts.ChainReport{
			Checked:          true,
			Status:           contracts.ChainBroken,
			Reason:           "no stored receipt matches the claimed previous hash",
			ExpectedPrevHash: claim,
			LinkMatch:        &linkMatch,
		}, nil
	}

	first := matches[0]
	linkMatch := true
	report := contracts.ChainReport{
		Checked:          true,
		Status:           contracts.ChainLinked,
		PrevReceiptID:    first.Capsule.ReceiptID,
		ExpectedPrevHash: claim,
		ObservedPrevHash: first.CoreHash,
		LinkMatch:        &linkMatch,
		DuplicateCount:   len(matches),
	}
	if len(matches) > 1 {
		report.Reason = fmt.Sprintf("%d stored receipts share the matched core hash", len(matches))
	}
	return report, nil
}
