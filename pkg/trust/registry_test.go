package trust

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/store"
)

func newTestKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pemStr, err := EncodePublicKeyPEM(pub)
	require.NoError(t, err)
	return pub, priv, pemStr
}

func seedRegistry(t *testing.T) (*Registry, ed25519.PrivateKey) {
	t.Helper()
	_, priv, pemStr := newTestKey(t)
	reg := NewRegistry(store.NewMemory())
	ctx := context.Background()
	require.NoError(t, reg.AddKey(ctx, contracts.KeyEntry{
		KeyID:        "key-1",
		PublicKeyPEM: pemStr,
		IssuerID:     "issuer-1",
		IssuerLabel:  "Example Platform",
	}))
	require.NoError(t, reg.TrustIssuer(ctx, "issuer-1"))
	return reg, priv
}

func TestPEMRoundTrip(t *testing.T) {
	pub, _, pemStr := newTestKey(t)
	parsed, err := ParsePublicKeyPEM(pemStr)
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("not pem at all")
	assert.Error(t, err)

	_, err = ParsePublicKeyPEM("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
	assert.Error(t, err)
}

func TestAddKeyValidation(t *testing.T) {
	reg := NewRegistry(store.NewMemory())
	ctx := context.Background()

	err := reg.AddKey(ctx, contracts.KeyEntry{PublicKeyPEM: "x", IssuerID: "i"})
	assert.ErrorContains(t, err, "key id")

	err = reg.AddKey(ctx, contracts.KeyEntry{KeyID: "k", PublicKeyPEM: "x"})
	assert.ErrorContains(t, err, "issuer id")

	err = reg.AddKey(ctx, contracts.KeyEntry{KeyID: "k", IssuerID: "i", PublicKeyPEM: "junk"})
	assert.ErrorContains(t, err, "no PEM block")
}

func TestAddKeyDefaults(t *testing.T) {
	_, _, pemStr := newTestKey(t)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry(store.NewMemory()).WithClock(func() time.Time { return fixed })
	ctx := context.Background()

	require.NoError(t, reg.AddKey(ctx, contracts.KeyEntry{
		KeyID: "k", IssuerID: "i", PublicKeyPEM: pemStr,
	}))
	entry, ok, err := reg.Resolve(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, contracts.KeyStatusActive, entry.Status)
	assert.Equal(t, fixed, entry.CreatedAt)
	assert.Equal(t, fixed, entry.ValidFrom)
}

func TestVerifyHappyPath(t *testing.T) {
	reg, priv := seedRegistry(t)
	msg := []byte("canonical payload")

	report, err := reg.Verify(context.Background(), msg, SignHex(priv, msg), "key-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigValid, report.Status)
	assert.Equal(t, "issuer-1", report.IssuerID)
	assert.Equal(t, "Example Platform", report.IssuerLabel)
	assert.Equal(t, contracts.KeyStatusActive, report.KeyStatus)
	assert.True(t, report.Trusted)
	assert.Empty(t, report.Reason)
}

func TestVerifyKeyNotFound(t *testing.T) {
	reg, priv := seedRegistry(t)
	msg := []byte("payload")

	report, err := reg.Verify(context.Background(), msg, SignHex(priv, msg), "ghost", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigUntrustedIssuer, report.Status)
	assert.Equal(t, "key not found", report.Reason)
	assert.Equal(t, "ghost", report.KeyID)
}

func TestVerifyRevokedKeyNeverValid(t *testing.T) {
	reg, priv := seedRegistry(t)
	ctx := context.Background()
	msg := []byte("payload")
	sig := SignHex(priv, msg)

	// The signature is cryptographically correct; revocation must still win.
	require.NoError(t, reg.RevokeKey(ctx, "key-1", "compromised"))

	report, err := reg.Verify(ctx, msg, sig, "key-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigUntrustedIssuer, report.Status)
	assert.Contains(t, report.Reason, "key revoked")
	assert.Contains(t, report.Reason, "compromised")
	assert.Equal(t, contracts.KeyStatusRevoked, report.KeyStatus)
}

func TestVerifyExpiredKeyNeverValid(t *testing.T) {
	reg, priv := seedRegistry(t)
	ctx := context.Background()
	msg := []byte("payload")
	sig := SignHex(priv, msg)

	require.NoError(t, reg.ExpireKey(ctx, "key-1"))

	report, err := reg.Verify(ctx, msg, sig, "key-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigUntrustedIssuer, report.Status)
	assert.Equal(t, "key expired", report.Reason)
}

func TestVerifyValidityWindow(t *testing.T) {
	_, priv, pemStr := newTestKey(t)
	reg := NewRegistry(store.NewMemory())
	ctx := context.Background()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, reg.AddKey(ctx, contracts.KeyEntry{
		KeyID: "windowed", IssuerID: "issuer-1", PublicKeyPEM: pemStr,
		ValidFrom: from, ValidTo: &to,
	}))
	require.NoError(t, reg.TrustIssuer(ctx, "issuer-1"))

	msg := []byte("payload")
	sig := SignHex(priv, msg)

	report, err := reg.Verify(ctx, msg, sig, "windowed", from.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, contracts.SigUntrustedIssuer, report.Status)
	assert.Equal(t, "key not yet valid", report.Reason)

	report, err = reg.Verify(ctx, msg, sig, "windowed", to.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, contracts.SigUntrustedIssuer, report.Status)
	assert.Equal(t, "key validity window elapsed", report.Reason)

	report, err = reg.Verify(ctx, msg, sig, "windowed", from.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, contracts.SigValid, report.Status)
}

func TestVerifyUntrustedIssuerBeatsGoodSignature(t *testing.T) {
	_, priv, pemStr := newTestKey(t)
	reg := NewRegistry(store.NewMemory())
	ctx := context.Background()
	require.NoError(t, reg.AddKey(ctx, contracts.KeyEntry{
		KeyID: "key-1", IssuerID: "unknown-issuer", PublicKeyPEM: pemStr,
	}))

	msg := []byte("payload")
	report, err := reg.Verify(ctx, msg, SignHex(priv, msg), "key-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigUntrustedIssuer, report.Status)
	assert.Equal(t, "issuer not trusted", report.Reason)
	assert.False(t, report.Trusted)
}

func TestVerifyWrongSignature(t *testing.T) {
	reg, priv := seedRegistry(t)

	sig := SignHex(priv, []byte("something else"))
	report, err := reg.Verify(context.Background(), []byte("payload"), sig, "key-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigInvalid, report.Status)
	assert.Equal(t, "signature does not verify", report.Reason)
}

func TestVerifyMalformedSignatureIsInvalidNotFatal(t *testing.T) {
	reg, _ := seedRegistry(t)
	ctx := context.Background()

	for _, sig := range []string{"zzzz", "abcd", ""} {
		report, err := reg.Verify(ctx, []byte("payload"), sig, "key-1", time.Now())
		require.NoError(t, err, "malformed input must not be a fatal error")
		assert.Equal(t, contracts.SigInvalid, report.Status)
		assert.NotEmpty(t, report.Reason)
	}
}

func TestVerifyCorruptStoredKeyIsInvalid(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.PutKey(ctx, contracts.KeyEntry{
		KeyID: "bad", IssuerID: "issuer-1", PublicKeyPEM: "garbage",
		Status: contracts.KeyStatusActive, ValidFrom: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, mem.TrustIssuer(ctx, "issuer-1"))
	reg := NewRegistry(mem)

	report, err := reg.Verify(ctx, []byte("payload"), "00", "bad", time.Now())
	require.NoError(t, err)
	assert.Equal(t, contracts.SigInvalid, report.Status)
	assert.Contains(t, report.Reason, "key material unusable")
}
