package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/artifacts"
	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/config"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/trust"
)

func TestVerifyValidReceipt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := signCapsule(t, buildCapsule(t, "r-1"), priv, "key-1")
	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusVerified, result.Overall)
	require.NotNil(t, result.FailureModes)
	assert.Empty(t, result.FailureModes)

	assert.True(t, result.Integrity.HashMatch)
	assert.Equal(t, 2, result.Integrity.MessageCount)
	assert.True(t, canonicalize.HashEqual(result.Integrity.ComputedHash, capsule.TranscriptHash))

	assert.Equal(t, contracts.SigValid, result.Signature.Status)
	assert.Equal(t, "key-1", result.Signature.KeyID)
	assert.True(t, result.Signature.Trusted)

	assert.True(t, result.Chain.Checked)
	assert.Equal(t, contracts.ChainGenesis, result.Chain.Status)

	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, testTime, result.VerifiedAt)
	assert.Contains(t, auditActions(t, svc), "receipt.verified")
}

func TestVerifyTamperedTranscript(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := signCapsule(t, buildCapsule(t, "r-2"), priv, "key-1")
	capsule.Transcript[1].Content = "0 degrees Celsius, or 32 degrees Fahrenheit."

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailHashMismatch}, result.FailureModes)
	assert.False(t, result.Integrity.HashMatch)
	assert.NotEmpty(t, result.Integrity.Reason)

	// The signature covers the declared hash, so it still verifies; the
	// other layers keep reporting alongside the failure.
	assert.Equal(t, contracts.SigValid, result.Signature.Status)
	assert.Equal(t, contracts.ChainGenesis, result.Chain.Status)
}

func TestVerifyTamperedDeclaredHash(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := signCapsule(t, buildCapsule(t, "r-3"), priv, "key-1")
	capsule.TranscriptHash = "sha256:" + canonicalize.HashString("forged")

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{
		contracts.FailHashMismatch,
		contracts.FailBadSignature,
	}, result.FailureModes, "tampering the declared hash breaks both layers, in table order")
}

func TestVerifyMissingSignature(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: buildCapsule(t, "r-4")})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusPartiallyVerified, result.Overall)
	assert.Empty(t, result.FailureModes)
	assert.Equal(t, contracts.SigMissing, result.Signature.Status)
	assert.True(t, result.Integrity.HashMatch)
}

func TestVerifyUnknownKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_ = pub

	capsule := signCapsule(t, buildCapsule(t, "r-5"), priv, "key-ghost")
	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusPartiallyVerified, result.Overall)
	assert.Empty(t, result.FailureModes)
	assert.Equal(t, contracts.SigUntrustedIssuer, result.Signature.Status)
	assert.Contains(t, result.Signature.Reason, "not found")
	assert.Equal(t, "key-ghost", result.Signature.KeyID)
}

func TestVerifyUntrustedIssuer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pemStr, err := trust.EncodePublicKeyPEM(pub)
	require.NoError(t, err)
	require.NoError(t, svc.AddKey(ctx, contracts.KeyEntry{
		KeyID:        "key-lone",
		PublicKeyPEM: pemStr,
		IssuerID:     "rogue.example",
		ValidFrom:    testTime.Add(-24 * time.Hour),
	}))

	capsule := signCapsule(t, buildCapsule(t, "r-6"), priv, "key-lone")
	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusPartiallyVerified, result.Overall)
	assert.Empty(t, result.FailureModes)
	assert.Equal(t, contracts.SigUntrustedIssuer, result.Signature.Status)
	assert.Contains(t, result.Signature.Reason, "issuer")
	assert.False(t, result.Signature.Trusted)
	assert.Equal(t, "rogue.example", result.Signature.IssuerID)
}

func TestVerifyBadSignatureValue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := signCapsule(t, buildCapsule(t, "r-7"), priv, "key-1")
	capsule.Signature.Value = trust.SignHex(priv, []byte("a different message"))

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailBadSignature}, result.FailureModes)
	assert.Equal(t, contracts.SigInvalid, result.Signature.Status)
}

func TestVerifyRevokedKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")
	capsule := signCapsule(t, buildCapsule(t, "r-8"), priv, "key-1")

	require.NoError(t, svc.RevokeKey(ctx, "key-1", "compromised"))

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusPartiallyVerified, result.Overall)
	assert.Equal(t, contracts.SigUntrustedIssuer, result.Signature.Status)
	assert.Equal(t, contracts.KeyStatusRevoked, result.Signature.KeyStatus)
	assert.Contains(t, result.Signature.Reason, "revoked")
}

func TestVerifyUnsupportedAlgorithm(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	capsule := buildCapsule(t, "r-9")
	capsule.Signature = &contracts.CapsuleSignature{
		Algorithm:   "rsa-pss",
		PublicKeyID: "key-1",
		Value:       "abcd",
	}

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailBadSignature}, result.FailureModes)
	assert.Equal(t, contracts.SigInvalid, result.Signature.Status)
	assert.Contains(t, result.Signature.Reason, "rsa-pss")
}

func TestVerifyChainLinked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	first, err := svc.Submit(ctx, buildCapsule(t, "r-10"))
	require.NoError(t, err)

	next := buildCapsule(t, "r-11")
	next.PrevReceiptHash = "sha256:" + first.CoreHash
	next = signCapsule(t, next, priv, "key-1")

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: next})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusVerified, result.Overall)
	assert.Equal(t, contracts.ChainLinked, result.Chain.Status)
	assert.Equal(t, "r-10", result.Chain.PrevReceiptID)
	assert.Equal(t, 1, result.Chain.DuplicateCount)
	require.NotNil(t, result.Chain.LinkMatch)
	assert.True(t, *result.Chain.LinkMatch)
}

func TestVerifyChainBroken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := buildCapsule(t, "r-12")
	capsule.PrevReceiptHash = "sha256:" + canonicalize.HashString("never stored")
	capsule = signCapsule(t, capsule, priv, "key-1")

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailChainBroken}, result.FailureModes)
	assert.Equal(t, contracts.ChainBroken, result.Chain.Status)
	require.NotNil(t, result.Chain.LinkMatch)
	assert.False(t, *result.Chain.LinkMatch)
	assert.Equal(t, contracts.SigValid, result.Signature.Status, "signature still reported on a broken chain")
}

func TestVerifyChainSkipped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := buildCapsule(t, "r-13")
	capsule.PrevReceiptHash = "sha256:" + canonicalize.HashString("never stored")
	capsule = signCapsule(t, capsule, priv, "key-1")

	skip := false
	result, err := svc.Verify(ctx, VerificationRequest{
		Capsule: capsule,
		Options: VerifyOptions{VerifyChain: &skip},
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusVerified, result.Overall)
	assert.False(t, result.Chain.Checked)
	assert.Equal(t, contracts.ChainNotChecked, result.Chain.Status)
}

func TestVerifySignatureBypassCapsVerdict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := signCapsule(t, buildCapsule(t, "r-14"), priv, "key-1")
	bypass := false
	result, err := svc.Verify(ctx, VerificationRequest{
		Capsule: capsule,
		Options: VerifyOptions{VerifySignature: &bypass},
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailSigNotVerified}, result.FailureModes)
	assert.Empty(t, result.Signature.Status, "bypassed layer reports no status")
	assert.Contains(t, result.Signature.Reason, "bypassed")
}

func TestVerifyUnknownCanonVersion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	capsule := buildCapsule(t, "r-15")
	capsule.CanonVersion = "ctv2"

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailUnknownCanon}, result.FailureModes)
	assert.Contains(t, result.Integrity.Reason, "ctv2")
	assert.Empty(t, result.Integrity.ComputedHash, "no hash is computed for an unknown version")
	assert.Empty(t, result.Signature.Status)
	assert.False(t, result.Chain.Checked)
}

func TestVerifyBadSchema(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	capsule := buildCapsule(t, "r-16")
	capsule.Platform = ""

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err, "schema failures are results, not errors")

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailBadSchema}, result.FailureModes)
	assert.NotEmpty(t, result.Integrity.Reason)
	assert.Empty(t, result.Signature.Status)
	assert.Empty(t, result.Chain.Status)
	assert.Contains(t, auditActions(t, svc), "receipt.verified")
}

func TestVerifyZeroCapturedAt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	capsule := buildCapsule(t, "r-17")
	capsule.CapturedAt = time.Time{}

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailBadSchema}, result.FailureModes)
	assert.Contains(t, result.Integrity.Reason, "captured_at")
}

func TestVerifyJSONMalformed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.VerifyJSON(ctx, []byte(`{"capsule": not json`))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailBadSchema}, result.FailureModes)
	assert.NotEmpty(t, result.RequestID)
}

func TestVerifyJSONSchemaViolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	raw := []byte(`{
		"request_id": "req-json-1",
		"capsule": {
			"schema_version": "capsule.v9",
			"receipt_id": "r-18",
			"platform": "platform.example",
			"captured_at": "2026-05-04T11:00:00Z",
			"transcript_hash": "sha256:ab",
			"canon_version": "ctv1"
		}
	}`)
	result, err := svc.VerifyJSON(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailBadSchema}, result.FailureModes)
	assert.Equal(t, "req-json-1", result.RequestID, "ids survive schema rejection")
	assert.Equal(t, "r-18", result.ReceiptID)
}

func TestVerifyJSONMatchesTypedPath(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	capsule := signCapsule(t, buildCapsule(t, "r-19"), priv, "key-1")
	raw, err := json.Marshal(VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	fromJSON, err := svc.VerifyJSON(ctx, raw)
	require.NoError(t, err)
	typed, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, typed.Overall, fromJSON.Overall)
	assert.Equal(t, typed.FailureModes, fromJSON.FailureModes)
	assert.Equal(t, typed.Integrity.ComputedHash, fromJSON.Integrity.ComputedHash)
}

func TestVerifyIdempotentPerRequestID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")
	capsule := signCapsule(t, buildCapsule(t, "r-20"), priv, "key-1")

	first, err := svc.Verify(ctx, VerificationRequest{RequestID: "req-1", Capsule: capsule})
	require.NoError(t, err)
	headAfterFirst, err := svc.AuditHead(ctx)
	require.NoError(t, err)

	second, err := svc.Verify(ctx, VerificationRequest{RequestID: "req-1", Capsule: capsule})
	require.NoError(t, err)
	headAfterSecond, err := svc.AuditHead(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "replayed request id returns the recorded result")
	assert.Equal(t, headAfterFirst.Sequence, headAfterSecond.Sequence,
		"a replay must not append a second audit event")
}

func TestVerifyFreshRequestIDsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")
	capsule := signCapsule(t, buildCapsule(t, "r-21"), priv, "key-1")

	first, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)
	second, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.NotEqual(t, first.RequestID, second.RequestID)

	events, err := svc.AuditEvents(ctx, 0, 0)
	require.NoError(t, err)
	verified := 0
	for _, ev := range events {
		if ev.Action == "receipt.verified" {
			verified++
		}
	}
	assert.Equal(t, 2, verified)
}

func TestVerifyTranscriptByReference(t *testing.T) {
	blobs := artifacts.NewMemoryStore()
	svc, _ := newTestService(t, func(cfg *config.Config, deps *Deps) {
		deps.Blobs = blobs
	})
	ctx := context.Background()
	priv := seedTrustedKey(t, svc, "key-1", "platform.example")

	msgs := testMessages()
	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	addr, err := blobs.Put(ctx, raw)
	require.NoError(t, err)

	capsule := buildCapsule(t, "r-22")
	capsule.Transcript = nil
	capsule.TranscriptRef = addr
	capsule = signCapsule(t, capsule, priv, "key-1")

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusVerified, result.Overall)
	assert.True(t, result.Integrity.HashMatch)
	assert.Equal(t, 2, result.Integrity.MessageCount)
}

func TestVerifyTranscriptRefMissing(t *testing.T) {
	blobs := artifacts.NewMemoryStore()
	svc, _ := newTestService(t, func(cfg *config.Config, deps *Deps) {
		deps.Blobs = blobs
	})
	ctx := context.Background()

	capsule := buildCapsule(t, "r-23")
	capsule.Transcript = nil
	capsule.TranscriptRef = "sha256:" + canonicalize.HashString("vanished")

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailHashMismatch}, result.FailureModes)
	assert.Contains(t, result.Integrity.Reason, "not found")
}

func TestVerifyNoTranscriptAtAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	capsule := buildCapsule(t, "r-24")
	capsule.Transcript = nil

	result, err := svc.Verify(ctx, VerificationRequest{Capsule: capsule})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnverified, result.Overall)
	assert.Equal(t, []contracts.FailureMode{contracts.FailHashMismatch}, result.FailureModes)
	assert.Contains(t, result.Integrity.Reason, "neither")
}
