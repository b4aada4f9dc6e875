package checkpoint

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/trust"
)

// KeyResolver turns a signer key id into a public key. The trust registry
// satisfies this through an adapter; a local Signer satisfies it directly.
type KeyResolver interface {
	SignerPublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
}

// SignerPublicKey lets a Signer verify its own checkpoints offline.
func (s *Signer) SignerPublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	if keyID != s.keyID {
		return nil, fmt.Errorf("unknown signer key %s", keyID)
	}
	return s.pub, nil
}

// RegistryResolver resolves signer keys from the trust registry, so
// checkpoint verification obeys the same key governance as receipts.
type RegistryResolver struct {
	Registry *trust.Registry
}

func (r RegistryResolver) SignerPublicKey(ctx context.Context, keyID string) (ed25519.PublicKey, error) {
	entry, ok, err := r.Registry.Resolve(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("signer key %s not registered", keyID)
	}
	return trust.ParsePublicKeyPEM(entry.PublicKeyPEM)
}

// VerifyChain checks a run of checkpoints in ascending counter order: each
// payload is recomputed and its signature verified against the resolved
// signer key, the prev id/hash must point at the previous checkpoint, and
// counters must be strictly monotonic. The first failure stops verification
// and is reported with its counter and covered sequence.
func VerifyChain(ctx context.Context, checkpoints []contracts.Checkpoint, resolve KeyResolver) contracts.CheckpointVerifyReport {
	report := contracts.CheckpointVerifyReport{OK: true}
	if len(checkpoints) == 0 {
		report.Reason = "no checkpoints to verify"
		return report
	}

	var prev *contracts.Checkpoint
	for i := range checkpoints {
		cp := checkpoints[i]
		if reason := verifyOne(ctx, cp, prev, resolve); reason != "" {
			report.OK = false
			report.FirstBadCounter = cp.Counter
			report.FirstBadSeq = cp.Sequence
			report.Reason = reason
			return report
		}
		report.Checked++
		prev = &checkpoints[i]
	}
	return report
}

func verifyOne(ctx context.Context, cp contracts.Checkpoint, prev *contracts.Checkpoint, resolve KeyResolver) string {
	if prev != nil {
		if cp.Counter <= prev.Counter {
			return fmt.Sprintf("counter %d is not above previous counter %d", cp.Counter, prev.Counter)
		}
		if cp.PrevID != prev.CheckpointID {
			return fmt.Sprintf("prev id %s does not reference checkpoint %s", cp.PrevID, prev.CheckpointID)
		}
		if cp.PrevHash != prev.PayloadHash {
			return "prev hash does not match the previous checkpoint payload"
		}
	}

	payload, err := PayloadBytes(cp)
	if err != nil {
		return fmt.Sprintf("canonicalize payload: %v", err)
	}
	if cp.PayloadHash != "" && cp.PayloadHash != canonicalize.HashBytes(payload) {
		return "declared payload hash does not match recomputed payload"
	}

	pub, err := resolve.SignerPublicKey(ctx, cp.SignerKeyID)
	if err != nil {
		return fmt.Sprintf("resolve signer key: %v", err)
	}
	ok, err := trust.VerifyHex(pub, payload, cp.Signature)
	if err != nil {
		return fmt.Sprintf("signature malformed: %v", err)
	}
	if !ok {
		return "signature does not verify"
	}
	return ""
}
