package artifacts

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attestry/attestry/pkg/trust"
)

// maxBundleBytes caps a single archived payload. Oversized ledger exports
// must be split into smaller ranges before archival.
const maxBundleBytes = 10 << 20

// ErrSignerNotConfigured reports a write attempted on a read-only archive.
var ErrSignerNotConfigured = errors.New("artifacts: archive has no signing key")

// Archive stores signed bundles in content-addressed storage and verifies
// them on the way back out. The signing key is normally the checkpoint key,
// so archived exports share provenance with ledger anchors.
type Archive struct {
	store       Store
	key         ed25519.PrivateKey
	pub         ed25519.PublicKey
	keyID       string
	environment string
	now         func() time.Time
}

// NewArchive wires an archive over store. key may be nil for a read-only
// archive; archival calls then fail, and VerifyBundle reports the missing
// key instead of passing unverifiable bundles.
func NewArchive(store Store, key ed25519.PrivateKey, keyID, environment string) *Archive {
	a := &Archive{
		store:       store,
		key:         key,
		keyID:       keyID,
		environment: environment,
		now:         time.Now,
	}
	if key != nil {
		a.pub = key.Public().(ed25519.PublicKey)
	}
	return a
}

// WithClock overrides the clock for testing.
func (a *Archive) WithClock(clock func() time.Time) *Archive {
	a.now = clock
	return a
}

// ArchiveProofPack seals and stores a proof-pack export, returning its
// address.
func (a *Archive) ArchiveProofPack(ctx context.Context, export ProofPackExport) (string, error) {
	if export.Pack.ReceiptID == "" {
		return "", errors.New("proof pack export missing receipt id")
	}
	return a.seal(ctx, KindProofPack, export)
}

// ArchiveLedger seals and stores a ledger-range export, returning its
// address.
func (a *Archive) ArchiveLedger(ctx context.Context, export LedgerExport) (string, error) {
	if len(export.Events) == 0 {
		return "", errors.New("ledger export has no events")
	}
	if export.FromSequence > export.ToSequence {
		return "", fmt.Errorf("ledger export range inverted: %d > %d", export.FromSequence, export.ToSequence)
	}
	return a.seal(ctx, KindLedgerRange, export)
}

func (a *Archive) seal(ctx context.Context, kind string, payload any) (string, error) {
	if a.key == nil {
		return "", ErrSignerNotConfigured
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	if len(raw) > maxBundleBytes {
		return "", fmt.Errorf("%s payload exceeds %d bytes", kind, maxBundleBytes)
	}

	env := BundleEnvelope{
		Kind:           kind,
		SchemaVersion:  BundleSchemaVersion,
		Environment:    a.environment,
		CreatedAt:      a.now().UTC(),
		Payload:        raw,
		Signature:      trust.SignHex(a.key, raw),
		SignatureKeyID: a.keyID,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal %s envelope: %w", kind, err)
	}
	return a.store.Put(ctx, data)
}

// Open fetches a bundle by address, checking the content against the address
// before decoding.
func (a *Archive) Open(ctx context.Context, addr string) (*BundleEnvelope, error) {
	data, err := a.store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if got := Address(data); got != addr {
		return nil, fmt.Errorf("blob %s content hashes to %s", addr, got)
	}

	var env BundleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt bundle %s: %w", addr, err)
	}
	return &env, nil
}

// OpenProofPack opens a bundle and decodes it as a proof-pack export.
func (a *Archive) OpenProofPack(ctx context.Context, addr string) (*ProofPackExport, error) {
	env, err := a.Open(ctx, addr)
	if err != nil {
		return nil, err
	}
	if env.Kind != KindProofPack {
		return nil, fmt.Errorf("bundle %s is %q, not %q", addr, env.Kind, KindProofPack)
	}

	var export ProofPackExport
	if err := json.Unmarshal(env.Payload, &export); err != nil {
		return nil, fmt.Errorf("corrupt proof pack payload: %w", err)
	}
	return &export, nil
}

// OpenLedger opens a bundle and decodes it as a ledger-range export.
func (a *Archive) OpenLedger(ctx context.Context, addr string) (*LedgerExport, error) {
	env, err := a.Open(ctx, addr)
	if err != nil {
		return nil, err
	}
	if env.Kind != KindLedgerRange {
		return nil, fmt.Errorf("bundle %s is %q, not %q", addr, env.Kind, KindLedgerRange)
	}

	var export LedgerExport
	if err := json.Unmarshal(env.Payload, &export); err != nil {
		return nil, fmt.Errorf("corrupt ledger export payload: %w", err)
	}
	return &export, nil
}

// VerifyBundle checks a stored bundle end to end: the content address, the
// envelope shape, and the payload signature. Reasons list every failed
// check; the error return is reserved for storage faults.
func (a *Archive) VerifyBundle(ctx context.Context, addr string) (bool, []string, error) {
	data, err := a.store.Get(ctx, addr)
	if err != nil {
		return false, nil, err
	}

	var reasons []string
	if got := Address(data); got != addr {
		reasons = append(reasons, "content does not match address")
	}

	var env BundleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, append(reasons, "envelope decode failed"), nil
	}
	if env.Kind != KindProofPack && env.Kind != KindLedgerRange {
		reasons = append(reasons, fmt.Sprintf("unknown bundle kind %q", env.Kind))
	}
	if env.Signature == "" || env.SignatureKeyID == "" {
		return false, append(reasons, "missing signature or key id"), nil
	}
	if a.pub == nil {
		return false, append(reasons, "no verification key configured"), nil
	}

	ok, err := trust.VerifyHex(a.pub, env.Payload, env.Signature)
	if err != nil {
		return false, append(reasons, "signature decode failed"), nil
	}
	if !ok {
		reasons = append(reasons, "signature invalid")
	}
	return len(reasons) == 0, reasons, nil
}
