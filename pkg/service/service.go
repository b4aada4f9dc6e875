// Package service is the engine's long-lived context object. It owns the
// trust registry, chain linker, audit ledger, checkpoint signer, disclosure
// policy, and downstream gate, and exposes the verification operations as
// plain methods. Every governance-relevant mutation lands in the audit
// ledger before the call returns.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/attestry/attestry/pkg/artifacts"
	"github.com/attestry/attestry/pkg/canonicalize"
	"github.com/attestry/attestry/pkg/chain"
	"github.com/attestry/attestry/pkg/checkpoint"
	"github.com/attestry/attestry/pkg/config"
	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/disclosure"
	"github.com/attestry/attestry/pkg/gate"
	"github.com/attestry/attestry/pkg/ledger"
	"github.com/attestry/attestry/pkg/merkle"
	"github.com/attestry/attestry/pkg/observability"
	"github.com/attestry/attestry/pkg/store"
	"github.com/attestry/attestry/pkg/trust"
)

// Deps are the injected collaborators. Backend is required; everything else
// has a working default or is optional.
type Deps struct {
	Backend store.Backend

	// Cache is the idempotency cache for caller-supplied request ids.
	// Defaults to an in-memory cache with the configured TTL.
	Cache store.ResultCache

	// Blobs archives submitted capsules and resolves transcript references.
	Blobs artifacts.Store

	// Archive seals signed export bundles. When nil and Blobs is set, an
	// archive signing with the checkpoint key is constructed; with neither,
	// the export operations are disabled.
	Archive *artifacts.Archive

	// Observability traces and meters operations when set.
	Observability *observability.Provider
}

// Service is the verification engine. Construct one per process with New;
// tests construct independent instances freely.
type Service struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time

	backend  store.Backend
	registry *trust.Registry
	linker   *chain.Linker
	ledger   *ledger.Ledger
	signer   *checkpoint.Signer
	policy   *disclosure.Policy
	tokens   *disclosure.TokenIssuer
	gate     *gate.Gate
	cache    store.ResultCache
	blobs    artifacts.Store
	archive  *artifacts.Archive
	obs      *observability.Provider
	schema   *jsonschema.Schema

	// profileModes maps a trust profile code to its disclosure mode, keyed
	// lower-case. Consulted when a disclosure call does not name a mode.
	profileModes map[string]contracts.TranscriptMode
}

// New constructs the engine: checkpoint keys are initialized here, never
// lazily, and trust profiles (when configured) are seeded before the first
// operation can run.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Service, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("store backend is required")
	}

	seedPEM := ""
	if cfg.CheckpointSeedFile != "" {
		raw, err := os.ReadFile(cfg.CheckpointSeedFile)
		if err != nil {
			return nil, fmt.Errorf("read checkpoint seed: %w", err)
		}
		seedPEM = string(raw)
	}
	signer, err := checkpoint.NewSigner(checkpoint.SignerConfig{
		Environment:    checkpoint.Environment(cfg.Environment),
		SeedPEM:        seedPEM,
		AllowEphemeral: cfg.AllowEphemeralKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("init checkpoint signer: %w", err)
	}

	policy, err := disclosure.NewPolicy(contracts.TranscriptMode(cfg.DisclosureMode))
	if err != nil {
		return nil, fmt.Errorf("init disclosure policy: %w", err)
	}
	tokens, err := disclosure.NewTokenIssuer(signer.SigningKey(), signer.KeyID(), cfg.ProofTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init proof tokens: %w", err)
	}

	schema, err := compileRequestSchema()
	if err != nil {
		return nil, err
	}

	cache := deps.Cache
	if cache == nil {
		cache = store.NewMemoryResultCache(cfg.VerifyCacheTTL)
	}

	archive := deps.Archive
	if archive == nil && deps.Blobs != nil {
		archive = artifacts.NewArchive(deps.Blobs, signer.SigningKey(), signer.KeyID(), cfg.Environment)
	}

	s := &Service{
		cfg:          cfg,
		logger:       slog.Default().With("component", "service"),
		now:          time.Now,
		backend:      deps.Backend,
		registry:     trust.NewRegistry(deps.Backend),
		linker:       chain.NewLinker(deps.Backend),
		ledger:       ledger.New(deps.Backend),
		signer:       signer,
		policy:       policy,
		tokens:       tokens,
		gate:         gate.New(deps.Backend),
		cache:        cache,
		blobs:        deps.Blobs,
		archive:      archive,
		obs:          deps.Observability,
		schema:       schema,
		profileModes: make(map[string]contracts.TranscriptMode),
	}

	if cfg.ProfilesDir != "" {
		if err := s.seedProfiles(ctx, cfg.ProfilesDir); err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "engine ready",
		"environment", cfg.Environment,
		"signer_key", signer.KeyID(),
		"disclosure_mode", cfg.DisclosureMode,
		"checkpoint_interval", cfg.CheckpointInterval,
	)
	return s, nil
}

// WithClock overrides every internal clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	s.registry.WithClock(clock)
	s.ledger.WithClock(clock)
	s.signer.WithClock(clock)
	s.policy.WithClock(clock)
	s.tokens.WithClock(clock)
	return s
}

// seedProfiles loads every trust profile and applies it: keys registered,
// issuers trusted, unlock rules installed on the gate, disclosure modes
// remembered per profile code. Already-registered keys are left untouched,
// so reseeding against a persistent backend is safe.
func (s *Service) seedProfiles(ctx context.Context, dir string) error {
	profiles, err := config.LoadAllProfiles(dir)
	if err != nil {
		return fmt.Errorf("load trust profiles: %w", err)
	}

	var rules []string
	for _, p := range profiles {
		for _, entry := range p.KeyEntries() {
			if err := s.registry.AddKey(ctx, entry); err != nil && !errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("profile %s: %w", p.Code, err)
			}
		}
		for _, issuer := range p.TrustedIssuers {
			if err := s.registry.TrustIssuer(ctx, issuer); err != nil {
				return fmt.Errorf("profile %s: trust issuer %s: %w", p.Code, issuer, err)
			}
		}
		if p.DisclosureMode != "" {
			s.profileModes[p.Code] = contracts.TranscriptMode(p.DisclosureMode)
		}
		rules = append(rules, p.UnlockRules...)
		s.logger.InfoContext(ctx, "trust profile applied",
			"profile", p.Code, "keys", len(p.Keys), "issuers", len(p.TrustedIssuers))
	}

	if len(rules) > 0 {
		rs, err := gate.NewRuleSet(rules...)
		if err != nil {
			return fmt.Errorf("compile unlock rules: %w", err)
		}
		s.gate.WithRules(rs)
	}
	return nil
}

// CheckpointPublicKeyPEM exports the active checkpoint verification key for
// out-of-band distribution.
func (s *Service) CheckpointPublicKeyPEM() (string, error) {
	return s.signer.PublicKeyPEM()
}

// SignerKeyID returns the id of the active checkpoint signing key.
func (s *Service) SignerKeyID() string {
	return s.signer.KeyID()
}

type actorKey struct{}

// WithActor records the calling principal on the context. Audit events store
// only its hash. Without it, appends are attributed to "anonymous".
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// audit appends one event and, when the append crosses the checkpoint
// interval, synchronously anchors the ledger. An append failure is fatal to
// the calling operation: silently dropping an audit write would break
// tamper evidence.
func (s *Service) audit(ctx context.Context, action, reqContext string, payload any) (contracts.AuditEvent, error) {
	ev, err := s.ledger.Append(ctx, action, actorFrom(ctx), reqContext, payload)
	if err != nil {
		return contracts.AuditEvent{}, fmt.Errorf("audit %s: %w", action, err)
	}
	if s.cfg.CheckpointInterval > 0 && ev.Sequence%s.cfg.CheckpointInterval == 0 {
		if _, err := s.createCheckpoint(ctx); err != nil {
			return contracts.AuditEvent{}, fmt.Errorf("checkpoint at sequence %d: %w", ev.Sequence, err)
		}
	}
	return ev, nil
}

// createCheckpoint anchors the ledger head: it builds a Merkle root over the
// events since the previous checkpoint and signs the payload with the
// environment-scoped key.
func (s *Service) createCheckpoint(ctx context.Context) (contracts.Checkpoint, error) {
	head, err := s.ledger.Head(ctx)
	if err != nil {
		return contracts.Checkpoint{}, fmt.Errorf("read ledger head: %w", err)
	}
	if head.Sequence == 0 {
		return contracts.Checkpoint{}, fmt.Errorf("nothing to checkpoint: ledger is empty")
	}

	var prev *contracts.Checkpoint
	last, err := s.backend.LastCheckpoint(ctx)
	switch {
	case err == nil:
		prev = &last
	case errors.Is(err, store.ErrNotFound):
	default:
		return contracts.Checkpoint{}, fmt.Errorf("read last checkpoint: %w", err)
	}

	from := uint64(1)
	if prev != nil {
		if prev.Sequence >= head.Sequence {
			return contracts.Checkpoint{}, fmt.Errorf("nothing to checkpoint: head %d already covered", head.Sequence)
		}
		from = prev.Sequence + 1
	}
	events, err := s.ledger.Events(ctx, from, head.Sequence)
	if err != nil {
		return contracts.Checkpoint{}, fmt.Errorf("load covered events: %w", err)
	}
	leaves := make([]merkle.Leaf, len(events))
	for i, ev := range events {
		leaves[i] = merkle.Leaf{Sequence: ev.Sequence, EventHash: ev.EventHash}
	}
	root := merkle.Build(leaves).Root

	cp, err := s.signer.Checkpoint(ctx, head.Sequence, head.EventHash, uint64(len(events)), root, prev)
	if err != nil {
		return contracts.Checkpoint{}, fmt.Errorf("sign checkpoint: %w", err)
	}
	if err := s.backend.AppendCheckpoint(ctx, cp); err != nil {
		return contracts.Checkpoint{}, fmt.Errorf("store checkpoint: %w", err)
	}

	s.logger.InfoContext(ctx, "checkpoint created",
		"counter", cp.Counter, "sequence", cp.Sequence, "events", cp.EventCount)
	return cp, nil
}

// track opens an observability span for one operation when a provider is
// configured. The returned finish function is always safe to call.
func (s *Service) track(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if s.obs == nil {
		return ctx, func(error) {}
	}
	return s.obs.TrackOperation(ctx, op, attrs...)
}

// modeFor resolves the disclosure mode for a receipt: an explicit mode wins,
// then the trust profile matching the capsule's platform, then the
// service-wide default.
func (s *Service) modeFor(explicit contracts.TranscriptMode, platform string) contracts.TranscriptMode {
	if explicit != "" {
		return explicit
	}
	if mode, ok := s.profileModes[strings.ToLower(platform)]; ok {
		return mode
	}
	return s.policy.Mode()
}

// submittedRecord is the audit payload for a stored receipt.
type submittedRecord struct {
	ReceiptID string `json:"receipt_id"`
	Platform  string `json:"platform"`
	CoreHash  string `json:"core_hash"`
	ArchiveID string `json:"archive_id,omitempty"`
}

// Submit stores a capsule as a receipt at rest. The core hash is computed
// here and fixed for the receipt's lifetime. When an artifact store is
// configured the full capsule is archived content-addressed and the blob
// address travels with the receipt.
func (s *Service) Submit(ctx context.Context, capsule contracts.Capsule) (rec contracts.StoredReceipt, err error) {
	ctx, finish := s.track(ctx, "submit",
		observability.ReceiptAttrs(capsule.ReceiptID, capsule.Platform)...)
	defer func() { finish(err) }()

	if capsule.ReceiptID == "" {
		return contracts.StoredReceipt{}, fmt.Errorf("receipt id is required")
	}
	if capsule.SchemaVersion != contracts.SchemaVersionV1 {
		return contracts.StoredReceipt{}, fmt.Errorf("unsupported schema version %q", capsule.SchemaVersion)
	}

	coreHash, err := canonicalize.CoreHash(capsule.Core())
	if err != nil {
		return contracts.StoredReceipt{}, fmt.Errorf("compute core hash: %w", err)
	}

	rec = contracts.StoredReceipt{
		Capsule:  capsule,
		CoreHash: coreHash,
		StoredAt: s.now().UTC(),
	}
	if s.blobs != nil {
		raw, err := json.Marshal(capsule)
		if err != nil {
			return contracts.StoredReceipt{}, fmt.Errorf("encode capsule for archive: %w", err)
		}
		addr, err := s.blobs.Put(ctx, raw)
		if err != nil {
			return contracts.StoredReceipt{}, fmt.Errorf("archive capsule: %w", err)
		}
		rec.ArchiveID = addr
	}

	if err := s.backend.AppendReceipt(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return contracts.StoredReceipt{}, fmt.Errorf("receipt %s already submitted: %w", capsule.ReceiptID, err)
		}
		return contracts.StoredReceipt{}, fmt.Errorf("store receipt: %w", err)
	}

	if _, err := s.audit(ctx, "receipt.submitted", capsule.ReceiptID, submittedRecord{
		ReceiptID: capsule.ReceiptID,
		Platform:  capsule.Platform,
		CoreHash:  coreHash,
		ArchiveID: rec.ArchiveID,
	}); err != nil {
		return contracts.StoredReceipt{}, err
	}
	return rec, nil
}
