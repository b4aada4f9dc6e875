// Package gate controls downstream use of a receipt. A receipt unlocks on
// its first non-UNVERIFIED verdict and stays unlocked; a set-once kill
// switch permanently blocks it regardless of any verdict.
package gate

import (
	"context"
	"fmt"

	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/store"
)

// Flag names under which gate state is persisted.
const (
	FlagUnlock     = "downstream_unlock"
	FlagKillSwitch = "kill_switch"
)

// Gate records unlocks and answers eligibility questions.
type Gate struct {
	flags store.FlagStore
	rules *RuleSet
}

// New returns a Gate over the given flag store.
func New(flags store.FlagStore) *Gate {
	return &Gate{flags: flags}
}

// WithRules installs tighten-only unlock rules.
func (g *Gate) WithRules(rs *RuleSet) *Gate {
	g.rules = rs
	return g
}

// Decision is the outcome of recording a verdict.
type Decision struct {
	Unlocked        bool   `json:"unlocked"`
	AlreadyUnlocked bool   `json:"already_unlocked,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// RecordVerdict applies a verification result to the unlock state.
// UNVERIFIED never unlocks. Configured rules may block an otherwise
// qualifying verdict; a rule evaluation error blocks it too, reported in
// the decision rather than as an error so verification itself never fails
// on a broken rule. Only store failures are errors.
func (g *Gate) RecordVerdict(ctx context.Context, result contracts.VerificationResult) (Decision, error) {
	if result.ReceiptID == "" {
		return Decision{}, fmt.Errorf("receipt id is required")
	}
	if result.Overall == contracts.StatusUnverified {
		return Decision{Reason: "UNVERIFIED never unlocks"}, nil
	}

	if g.rules != nil {
		allowed, expr, err := g.rules.Allow(result)
		if err != nil {
			return Decision{Reason: fmt.Sprintf("unlock rule evaluation failed: %v", err)}, nil
		}
		if !allowed {
			return Decision{Reason: fmt.Sprintf("blocked by unlock rule %q", expr)}, nil
		}
	}

	fresh, err := g.flags.SetOnce(ctx, FlagUnlock, result.ReceiptID, string(result.Overall))
	if err != nil {
		return Decision{}, fmt.Errorf("record unlock for %s: %w", result.ReceiptID, err)
	}
	return Decision{Unlocked: true, AlreadyUnlocked: !fresh}, nil
}

// Eligibility is the answer to "may downstream features use this receipt".
type Eligibility struct {
	Eligible   bool   `json:"eligible"`
	KillSwitch bool   `json:"kill_switch,omitempty"`
	UnlockedBy string `json:"unlocked_by,omitempty"`
	Reason     string `json:"reason"`
}

// Eligible reports whether the receipt is unlocked. The kill switch is
// checked first and wins over any recorded unlock.
func (g *Gate) Eligible(ctx context.Context, receiptID string) (Eligibility, error) {
	reason, killed, err := g.flags.GetFlag(ctx, FlagKillSwitch, receiptID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("read kill switch for %s: %w", receiptID, err)
	}
	if killed {
		if reason == "" {
			reason = "kill switch engaged"
		}
		return Eligibility{KillSwitch: true, Reason: reason}, nil
	}

	verdict, unlocked, err := g.flags.GetFlag(ctx, FlagUnlock, receiptID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("read unlock for %s: %w", receiptID, err)
	}
	if !unlocked {
		return Eligibility{Reason: "no qualifying verification recorded"}, nil
	}
	return Eligibility{Eligible: true, UnlockedBy: verdict, Reason: "unlocked"}, nil
}

// SetKillSwitch permanently blocks the receipt. Returns false when the
// switch was already set; the original reason is never overwritten.
func (g *Gate) SetKillSwitch(ctx context.Context, receiptID, reason string) (bool, error) {
	if receiptID == "" {
		return false, fmt.Errorf("receipt id is required")
	}
	if reason == "" {
		reason = "kill switch engaged"
	}
	fresh, err := g.flags.SetOnce(ctx, FlagKillSwitch, receiptID, reason)
	if err != nil {
		return false, fmt.Errorf("set kill switch for %s: %w", receiptID, err)
	}
	return fresh, nil
}
