// Package disclosure renders verification outcomes for third parties without
// leaking transcript content. Transcript views are mode-gated; proof packs
// are content-free in every mode.
package disclosure

import (
	"fmt"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
)

// Policy applies a configured transcript mode and builds proof packs.
type Policy struct {
	mode     contracts.TranscriptMode
	scrubber *Scrubber
	now      func() time.Time
}

// NewPolicy returns a Policy for the given transcript mode.
func NewPolicy(mode contracts.TranscriptMode) (*Policy, error) {
	switch mode {
	case contracts.ModeFull, contracts.ModeRedacted, contracts.ModeHidden:
	default:
		return nil, fmt.Errorf("unknown transcript mode %q", mode)
	}
	return &Policy{
		mode:     mode,
		scrubber: NewScrubber(),
		now:      time.Now,
	}, nil
}

// WithClock overrides the clock for testing.
func (p *Policy) WithClock(clock func() time.Time) *Policy {
	p.now = clock
	return p
}

// Mode returns the configured transcript mode.
func (p *Policy) Mode() contracts.TranscriptMode { return p.mode }

// Transcript renders the messages under the configured mode. Role order and
// message count survive every mode; content survives only full and redacted.
func (p *Policy) Transcript(messages []contracts.TranscriptMessage) contracts.TranscriptView {
	view := contracts.TranscriptView{
		Mode:         p.mode,
		MessageCount: len(messages),
		Roles:        roleSequence(messages),
	}
	switch p.mode {
	case contracts.ModeFull:
		view.Messages = append([]contracts.TranscriptMessage(nil), messages...)
	case contracts.ModeRedacted:
		view.Messages = p.scrubber.ScrubMessages(messages)
	case contracts.ModeHidden:
		// content omitted entirely
	}
	return view
}

// ProofPack summarizes a verification result for external consumption.
// It carries check outcomes and ledger anchors only, regardless of the
// configured transcript mode: content never enters a pack.
func (p *Policy) ProofPack(result contracts.VerificationResult, head contracts.LedgerHead, latest *contracts.Checkpoint) contracts.ProofPack {
	pack := contracts.ProofPack{
		ReceiptID:          result.ReceiptID,
		GeneratedAt:        p.now().UTC(),
		Overall:            result.Overall,
		FailureModes:       append([]contracts.FailureMode{}, result.FailureModes...),
		Integrity:          result.Integrity,
		Signature:          result.Signature,
		Chain:              result.Chain,
		AuditHead:          head,
		ProofScope:         ProofScope(),
		ProofScopeExcludes: ProofScopeExcludes(),
	}
	if latest != nil {
		pack.LatestCheckpoint = &contracts.CheckpointRef{
			CheckpointID: latest.CheckpointID,
			Counter:      latest.Counter,
			Sequence:     latest.Sequence,
			MerkleRoot:   latest.MerkleRoot,
			SignerKeyID:  latest.SignerKeyID,
			CreatedAt:    latest.CreatedAt,
		}
	}
	return pack
}

// ProofScope lists what a proof pack attests to.
func ProofScope() []string {
	return []string{"integrity", "signature", "chain"}
}

// ProofScopeExcludes lists what a proof pack explicitly does not attest to.
// Verification proves the bytes and the key, never that the conversation
// happened as described.
func ProofScopeExcludes() []string {
	return []string{"truth", "completeness", "authorship_intent"}
}

func roleSequence(messages []contracts.TranscriptMessage) []string {
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.Role
	}
	return roles
}
