// Package checkpoint produces and verifies signed anchors over prefixes of
// the audit ledger. A checkpoint binds the covered head event, the event
// count, and a Merkle root over the covered range under an Ed25519 signature,
// so a long history can be spot-verified without replaying everything.
package checkpoint

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/trust"
)

// PayloadVersion tags the canonical checkpoint payload format.
const PayloadVersion = "chk.v1"

// Environment scopes a signing keypair. Checkpoints record the environment
// they were signed in, so an ephemeral anchor can never pass as production.
type Environment string

const (
	EnvEphemeral Environment = "ephemeral"
	EnvDev       Environment = "dev"
	EnvStaging   Environment = "staging"
	EnvProd      Environment = "prod"
)

func (e Environment) valid() bool {
	switch e {
	case EnvEphemeral, EnvDev, EnvStaging, EnvProd:
		return true
	}
	return false
}

// SignerConfig configures checkpoint signing. Exactly one key source is
// used: SeedPEM when present, otherwise a generated throwaway key, which
// requires the explicit AllowEphemeral opt-in and the ephemeral environment.
type SignerConfig struct {
	Environment    Environment
	SeedPEM        string
	AllowEphemeral bool
}

// Signer holds the environment-scoped checkpoint keypair. Construct it once
// at service startup; there is no lazy initialization on first use.
type Signer struct {
	env   Environment
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
	now   func() time.Time
}

// NewSigner initializes the signing keypair for the configured environment.
// Master seed material is never used directly: a per-environment subkey is
// derived with HKDF-SHA256, so dev and prod checkpoints can share one seed
// secret without sharing a key.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if !cfg.Environment.valid() {
		return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
	}

	var priv ed25519.PrivateKey
	switch {
	case cfg.SeedPEM != "":
		master, err := trust.ParsePrivateKeyPEM(cfg.SeedPEM)
		if err != nil {
			return nil, fmt.Errorf("checkpoint seed: %w", err)
		}
		priv, err = deriveForEnvironment(master, cfg.Environment)
		if err != nil {
			return nil, err
		}
	case cfg.AllowEphemeral:
		if cfg.Environment != EnvEphemeral {
			return nil, fmt.Errorf("generated keys are restricted to the %s environment", EnvEphemeral)
		}
		var err error
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
	default:
		return nil, fmt.Errorf("no checkpoint key material supplied and ephemeral keys are not allowed")
	}

	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{
		env:   cfg.Environment,
		priv:  priv,
		pub:   pub,
		keyID: keyIDFor(pub),
		now:   time.Now,
	}, nil
}

// WithClock overrides the clock for testing.
func (s *Signer) WithClock(clock func() time.Time) *Signer {
	s.now = clock
	return s
}

// KeyID returns the deterministic id of the active signing key.
func (s *Signer) KeyID() string { return s.keyID }

// Environment returns the environment this signer is scoped to.
func (s *Signer) Environment() Environment { return s.env }

// PublicKeyPEM returns the signing public key for registry enrollment.
func (s *Signer) PublicKeyPEM() (string, error) {
	return trust.EncodePublicKeyPEM(s.pub)
}

// SigningKey returns the private key so proof tokens can be minted under the
// checkpoint identity. Callers must not persist it outside the process.
func (s *Signer) SigningKey() ed25519.PrivateKey { return s.priv }

// PublicKey returns the raw verification key for offline token validation.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Checkpoint signs an anchor covering the ledger up to the given head.
// prev chains checkpoints together; pass nil for the first one.
func (s *Signer) Checkpoint(ctx context.Context, seq uint64, eventHash string, eventCount uint64, merkleRoot string, prev *contracts.Checkpoint) (contracts.Checkpoint, error) {
	cp := contracts.Checkpoint{
		CheckpointID: uuid.NewString(),
		Counter:      1,
		Sequence:     seq,
		EventHash:    eventHash,
		EventCount:   eventCount,
		MerkleRoot:   merkleRoot,
		PrevHash:     contracts.GenesisHash,
		SignerKeyID:  s.keyID,
		Environment:  string(s.env),
		CreatedAt:    s.now().UTC(),
	}
	if prev != nil {
		cp.Counter = prev.Counter + 1
		cp.PrevID = prev.CheckpointID
		cp.PrevHash = prev.PayloadHash
	}

	payload, err := PayloadBytes(cp)
	if err != nil {
		return contracts.Checkpoint{}, fmt.Errorf("canonicalize checkpoint: %w", err)
	}
	cp.PayloadHash = canonicalize.HashBytes(payload)
	cp.Signature = trust.SignHex(s.priv, payload)
	return cp, nil
}

// PayloadBytes builds the canonical signed payload for a checkpoint. The
// checkpoint's own id, payload hash, and signature are excluded: the id is
// bound transitively by the next checkpoint's prev link.
func PayloadBytes(cp contracts.Checkpoint) ([]byte, error) {
	subset := struct {
		Counter     uint64 `json:"counter"`
		CreatedAt   string `json:"created_at"`
		Environment string `json:"environment"`
		EventCount  uint64 `json:"event_count"`
		EventHash   string `json:"event_hash"`
		MerkleRoot  string `json:"merkle_root"`
		PrevHash    string `json:"prev_hash"`
		PrevID      string `json:"prev_id"`
		Sequence    uint64 `json:"sequence"`
		SignerKeyID string `json:"signer_key_id"`
		Version     string `json:"version"`
	}{
		Counter:     cp.Counter,
		CreatedAt:   cp.CreatedAt.UTC().Format(time.RFC3339Nano),
		Environment: cp.Environment,
		EventCount:  cp.EventCount,
		EventHash:   cp.EventHash,
		MerkleRoot:  cp.MerkleRoot,
		PrevHash:    cp.PrevHash,
		PrevID:      cp.PrevID,
		Sequence:    cp.Sequence,
		SignerKeyID: cp.SignerKeyID,
		Version:     PayloadVersion,
	}
	return canonicalize.JCS(subset)
}

func deriveForEnvironment(master ed25519.PrivateKey, env Environment) (ed25519.PrivateKey, error) {
	reader := hkdf.New(sha256.New, master.Seed(), []byte("attestry-checkpoint-kdf"), []byte(env))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", env, err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func keyIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("chk-%x", sum[:8])
}
