// Package trust implements the governed key registry: public keys with
// lifecycle status and validity windows, a trusted-issuer set, and the
// Ed25519 signature check that feeds the verification decision engine.
package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/store"
)

// Registry resolves keys and verifies detached signatures against them.
// All mutations go through the backing KeyStore, whose locking makes them
// atomic with respect to concurrent Verify calls.
type Registry struct {
	keys store.KeyStore
	now  func() time.Time
}

// NewRegistry creates a registry over the given key store.
func NewRegistry(keys store.KeyStore) *Registry {
	return &Registry{keys: keys, now: time.Now}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.now = clock
	return r
}

// Resolve looks up a key entry by id. Absence is not an error.
func (r *Registry) Resolve(ctx context.Context, keyID string) (contracts.KeyEntry, bool, error) {
	return r.keys.GetKey(ctx, keyID)
}

// AddKey registers a public key. The PEM material must parse as an Ed25519
// public key before the entry is accepted. Zero-valued lifecycle fields are
// defaulted: Status to ACTIVE, CreatedAt and ValidFrom to now.
func (r *Registry) AddKey(ctx context.Context, entry contracts.KeyEntry) error {
	if entry.KeyID == "" {
		return fmt.Errorf("key id is required")
	}
	if entry.IssuerID == "" {
		return fmt.Errorf("issuer id is required")
	}
	if _, err := ParsePublicKeyPEM(entry.PublicKeyPEM); err != nil {
		return fmt.Errorf("key %s: %w", entry.KeyID, err)
	}
	if entry.Status == "" {
		entry.Status = contracts.KeyStatusActive
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if entry.ValidFrom.IsZero() {
		entry.ValidFrom = entry.CreatedAt
	}
	return r.keys.PutKey(ctx, entry)
}

// RevokeKey marks a key REVOKED with the given reason. Revocation is
// permanent: a revoked key never verifies again, regardless of window.
func (r *Registry) RevokeKey(ctx context.Context, keyID, reason string) error {
	return r.keys.SetKeyStatus(ctx, keyID, contracts.KeyStatusRevoked, reason)
}

// ExpireKey marks a key EXPIRED.
func (r *Registry) ExpireKey(ctx context.Context, keyID string) error {
	return r.keys.SetKeyStatus(ctx, keyID, contracts.KeyStatusExpired, "")
}

// TrustIssuer adds an issuer id to the trusted set. Idempotent.
func (r *Registry) TrustIssuer(ctx context.Context, issuerID string) error {
	if issuerID == "" {
		return fmt.Errorf("issuer id is required")
	}
	return r.keys.TrustIssuer(ctx, issuerID)
}

// TrustedIssuers returns the trusted issuer ids in insertion order.
func (r *Registry) TrustedIssuers(ctx context.Context) ([]string, error) {
	return r.keys.TrustedIssuers(ctx)
}

// ListKeys returns all registered keys in insertion order.
func (r *Registry) ListKeys(ctx context.Context) ([]contracts.KeyEntry, error) {
	return r.keys.ListKeys(ctx)
}

// Verify checks a hex-encoded Ed25519 signature over message against the
// registered key. The returned error reports store failures only; every
// verification outcome, including malformed key or signature material, is
// encoded in the report. Decision order:
//
//	missing key            -> UNTRUSTED_ISSUER ("key not found")
//	key not valid at `at`  -> UNTRUSTED_ISSUER (revoked/expired/window)
//	issuer not trusted     -> UNTRUSTED_ISSUER (crypto check skipped)
//	crypto check passes    -> VALID
//	crypto check fails     -> INVALID
func (r *Registry) Verify(ctx context.Context, message []byte, sigHex, keyID string, at time.Time) (contracts.SignatureReport, error) {
	report := contracts.SignatureReport{
		Status: contracts.SigUntrustedIssuer,
		KeyID:  keyID,
	}

	entry, ok, err := r.keys.GetKey(ctx, keyID)
	if err != nil {
		return contracts.SignatureReport{}, fmt.Errorf("resolve key %s: %w", keyID, err)
	}
	if !ok {
		report.Reason = "key not found"
		return report, nil
	}

	report.IssuerID = entry.IssuerID
	report.IssuerLabel = entry.IssuerLabel
	report.KeyStatus = entry.Status

	if valid, reason := entry.ValidAt(at); !valid {
		report.Reason = reason
		return report, nil
	}

	trusted, err := r.keys.IsIssuerTrusted(ctx, entry.IssuerID)
	if err != nil {
		return contracts.SignatureReport{}, fmt.Errorf("check issuer %s: %w", entry.IssuerID, err)
	}
	report.Trusted = trusted
	if !trusted {
		// A correct signature from an untrusted issuer is still untrusted,
		// so the crypto check is skipped entirely.
		report.Reason = "issuer not trusted"
		return report, nil
	}

	pub, err := ParsePublicKeyPEM(entry.PublicKeyPEM)
	if err != nil {
		report.Status = contracts.SigInvalid
		report.Reason = fmt.Sprintf("key material unusable: %v", err)
		return report, nil
	}
	ok, err = VerifyHex(pub, message, sigHex)
	if err != nil {
		report.Status = contracts.SigInvalid
		report.Reason = err.Error()
		return report, nil
	}
	if !ok {
		report.Status = contracts.SigInvalid
		report.Reason = "signature does not verify"
		return report, nil
	}

	report.Status = contracts.SigValid
	return report, nil
}
