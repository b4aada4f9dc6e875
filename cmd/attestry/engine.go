package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/attestry/attestry/pkg/artifacts"
	"github.com/attestry/attestry/pkg/config"
	"github.com/attestry/attestry/pkg/observability"
	"github.com/attestry/attestry/pkg/service"
	"github.com/attestry/attestry/pkg/store"
)

// cmdContext is the root context for one subcommand invocation. The acting
// identity comes from ATTESTRY_ACTOR and lands (hashed) in the audit ledger.
func cmdContext() context.Context {
	ctx := context.Background()
	if actor := os.Getenv("ATTESTRY_ACTOR"); actor != "" {
		ctx = service.WithActor(ctx, actor)
	}
	return ctx
}

// buildService wires the engine from environment configuration: storage
// backend, result cache, artifact store, export archive, and telemetry.
// The returned closer releases every held resource.
func buildService(ctx context.Context) (*service.Service, func(), error) {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}

	deps := service.Deps{Backend: backend}

	if cfg.RedisAddr != "" {
		deps.Cache = store.DialRedisResultCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.VerifyCacheTTL)
	}

	blobs, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		closeBackend()
		return nil, nil, fmt.Errorf("init artifact store: %w", err)
	}
	deps.Blobs = blobs

	obs, closeObs, err := setupObservability(ctx, cfg)
	if err != nil {
		closeBackend()
		return nil, nil, err
	}
	deps.Observability = obs

	svc, err := service.New(ctx, *cfg, deps)
	if err != nil {
		closeObs()
		closeBackend()
		return nil, nil, err
	}

	closer := func() {
		closeObs()
		closeBackend()
	}
	return svc, closer, nil
}

// openBackend selects the receipt/ledger store from STORAGE_BACKEND.
func openBackend(cfg *config.Config) (store.Backend, func(), error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "memory":
		return store.NewMemory(), func() {}, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
		}
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		p, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// setupObservability enables OTLP export only when an endpoint is
// configured; otherwise the provider is a no-op and nothing dials out.
func setupObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.Environment
	obsCfg.Enabled = endpoint != ""
	if endpoint != "" {
		obsCfg.OTLPEndpoint = endpoint
	}
	obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"

	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}

	slos := observability.NewSLOTracker()
	for _, target := range observability.DefaultTargets() {
		slos.SetTarget(target)
	}
	provider.WithSLOTracker(slos)

	closer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}
	return provider, closer, nil
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
