// Package ledger is the append-only, hash-chained audit log. Every
// governance-relevant action lands here as an AuditEvent whose PrevHash
// points at the previous event, so any historical mutation that does not
// recompute every later hash is detectable by replay.
//
// Actor and request context are stored as SHA-256 digests only; the ledger
// never records their raw content.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/store"
)

// Ledger appends and verifies hash-chained audit events over a store.
// Append is single-writer: an in-process mutex serializes local appends and
// the store's compare-and-append rejects anything that lost a cross-process
// race. A store failure is fatal to the calling request; retrying here could
// fork the chain head.
type Ledger struct {
	mu     sync.Mutex
	events store.AuditEventStore
	now    func() time.Time
}

// New creates a ledger over the given event store.
func New(events store.AuditEventStore) *Ledger {
	return &Ledger{events: events, now: time.Now}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.now = clock
	return l
}

// Append records one audit event. The payload is canonicalized and hashed;
// actor and context strings are hashed raw. The event is durably stored
// before Append returns.
func (l *Ledger) Append(ctx context.Context, action, actor, reqContext string, payload any) (contracts.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := contracts.GenesisHash
	var seq uint64 = 1
	last, err := l.events.LastEvent(ctx)
	switch {
	case err == nil:
		prevHash = last.EventHash
		seq = last.Sequence + 1
	case errors.Is(err, store.ErrNotFound):
	default:
		return contracts.AuditEvent{}, fmt.Errorf("read chain head: %w", err)
	}

	payloadHash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return contracts.AuditEvent{}, fmt.Errorf("hash payload: %w", err)
	}

	ev := contracts.AuditEvent{
		EventID:     uuid.NewString(),
		Sequence:    seq,
		Action:      action,
		ActorHash:   canonicalize.HashString(actor),
		ContextHash: canonicalize.HashString(reqContext),
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
		Timestamp:   l.now().UTC(),
	}
	ev.EventHash, err = HashEvent(ev)
	if err != nil {
		return contracts.AuditEvent{}, fmt.Errorf("hash event: %w", err)
	}

	if err := l.events.AppendEvent(ctx, ev); err != nil {
		return contracts.AuditEvent{}, fmt.Errorf("append event %d: %w", seq, err)
	}
	return ev, nil
}

// Head returns the current chain head. An empty ledger reports sequence 0
// with the genesis sentinel.
func (l *Ledger) Head(ctx context.Context) (contracts.LedgerHead, error) {
	last, err := l.events.LastEvent(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return contracts.LedgerHead{Sequence: 0, EventHash: contracts.GenesisHash}, nil
	}
	if err != nil {
		return contracts.LedgerHead{}, err
	}
	return contracts.LedgerHead{Sequence: last.Sequence, EventHash: last.EventHash}, nil
}

// Events returns the stored events with sequence in [from, to], in order.
// from==0 means from the start, to==0 means through the head.
func (l *Ledger) Events(ctx context.Context, from, to uint64) ([]contracts.AuditEvent, error) {
	return l.events.RangeEvents(ctx, from, to)
}

// Count returns the total number of stored events.
func (l *Ledger) Count(ctx context.Context) (uint64, error) {
	return l.events.CountEvents(ctx)
}

// Verify replays the range [fromSeq, toSeq] (0 = open end), recomputing
// every event hash and checking the PrevHash linkage and gap-free numbering.
// Strict mode stops at the first bad sequence; otherwise all bad sequences
// are collected and the report stays partial rather than failing fast.
func (l *Ledger) Verify(ctx context.Context, fromSeq, toSeq uint64, strict bool) (contracts.LedgerVerifyReport, error) {
	report := contracts.LedgerVerifyReport{OK: true, Strict: strict}

	total, err := l.events.CountEvents(ctx)
	if err != nil {
		return report, fmt.Errorf("count events: %w", err)
	}
	report.TotalEvents = total
	if total == 0 {
		report.Reason = "ledger is empty"
		return report, nil
	}

	if fromSeq == 0 {
		fromSeq = 1
	}
	events, err := l.events.RangeEvents(ctx, fromSeq, toSeq)
	if err != nil {
		return report, fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		report.Reason = fmt.Sprintf("no events in range [%d, %d]", fromSeq, toSeq)
		return report, nil
	}

	// Anchor the first PrevHash check: genesis for sequence 1, otherwise the
	// declared hash of the event just before the range.
	expectedPrev := contracts.GenesisHash
	if fromSeq > 1 {
		anchor, err := l.events.GetEvent(ctx, fromSeq-1)
		if err != nil {
			return report, fmt.Errorf("load anchor event %d: %w", fromSeq-1, err)
		}
		expectedPrev = anchor.EventHash
	}

	expectedSeq := fromSeq
	for _, ev := range events {
		report.Checked++
		bad := ""
		switch {
		case ev.Sequence != expectedSeq:
			bad = fmt.Sprintf("sequence gap: expected %d, got %d", expectedSeq, ev.Sequence)
		case ev.PrevHash != expectedPrev:
			bad = fmt.Sprintf("event %d: prev hash %s does not match chain head %s", ev.Sequence, ev.PrevHash, expectedPrev)
		default:
			computed, err := HashEvent(ev)
			if err != nil {
				return report, fmt.Errorf("recompute event %d: %w", ev.Sequence, err)
			}
			if computed != ev.EventHash {
				bad = fmt.Sprintf("event %d: declared hash does not match recomputed hash", ev.Sequence)
			}
		}

		if bad != "" {
			report.OK = false
			if report.FirstBadSeq == 0 {
				report.FirstBadSeq = ev.Sequence
				report.Reason = bad
			}
			report.BadSeqs = append(report.BadSeqs, ev.Sequence)
			if strict {
				return report, nil
			}
		}

		// Chain forward on the declared hash so one bad event does not
		// cascade over the rest of a non-strict replay.
		expectedPrev = ev.EventHash
		expectedSeq = ev.Sequence + 1
	}
	return report, nil
}

// HashEvent recomputes an event's hash over its canonical hashable subset.
// Any auditor can re-derive this from the stored fields.
func HashEvent(ev contracts.AuditEvent) (string, error) {
	subset := struct {
		Action      string `json:"action"`
		ActorHash   string `json:"actor_hash"`
		ContextHash string `json:"context_hash"`
		EventID     string `json:"event_id"`
		PayloadHash string `json:"payload_hash"`
		PrevHash    string `json:"prev_hash"`
		Sequence    uint64 `json:"sequence"`
		Timestamp   string `json:"timestamp"`
	}{
		Action:      ev.Action,
		ActorHash:   ev.ActorHash,
		ContextHash: ev.ContextHash,
		EventID:     ev.EventID,
		PayloadHash: ev.PayloadHash,
		PrevHash:    ev.PrevHash,
		Sequence:    ev.Sequence,
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return canonicalize.CanonicalHash(subset)
}
