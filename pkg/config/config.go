// Package config loads process configuration from the environment and trust
// profiles from YAML. Profiles seed the key registry, trusted issuers, and
// gate rules; the engine version gate keeps a profile written for a newer
// engine from silently degrading on an older one.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// EngineVersion is the engine's semantic version. Trust profiles declare the
// engine range they were written for and are rejected outside it.
const EngineVersion = "0.3.0"

// Config holds process configuration. Values come from environment variables
// with working defaults for local development.
type Config struct {
	LogLevel string

	// Environment scopes checkpoint signing: ephemeral, dev, staging, prod.
	Environment        string
	CheckpointSeedFile string
	AllowEphemeralKeys bool
	CheckpointInterval uint64

	DataDir        string
	StorageBackend string // memory, sqlite, postgres
	SQLitePath     string
	DatabaseURL    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	VerifyCacheTTL time.Duration

	DisclosureMode string
	ProofTokenTTL  time.Duration

	ProfilesDir string
}

// Load reads configuration from environment variables. Malformed numeric or
// duration values fall back to their defaults rather than failing startup.
//
//   - LOG_LEVEL (default "INFO")
//   - ENVIRONMENT (default "ephemeral")
//   - CHECKPOINT_SEED_FILE: path to a PKCS#8 Ed25519 seed PEM
//   - ALLOW_EPHEMERAL_KEYS: "true" permits a generated throwaway signing key
//   - CHECKPOINT_INTERVAL: events per signed checkpoint (default 100)
//   - DATA_DIR (default "data")
//   - STORAGE_BACKEND: "memory" (default), "sqlite", or "postgres"
//   - SQLITE_PATH (default DATA_DIR/attestry.db)
//   - DATABASE_URL: Postgres DSN
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: verification result cache;
//     empty REDIS_ADDR keeps the cache in process memory
//   - VERIFY_CACHE_TTL (default "24h")
//   - DISCLOSURE_MODE: "full", "redacted" (default), or "hidden"
//   - PROOF_TOKEN_TTL (default "24h")
//   - PROFILES_DIR: trust profile directory, loaded at startup when set
func Load() *Config {
	dataDir := getenv("DATA_DIR", "data")

	return &Config{
		LogLevel:           getenv("LOG_LEVEL", "INFO"),
		Environment:        getenv("ENVIRONMENT", "ephemeral"),
		CheckpointSeedFile: os.Getenv("CHECKPOINT_SEED_FILE"),
		AllowEphemeralKeys: os.Getenv("ALLOW_EPHEMERAL_KEYS") == "true",
		CheckpointInterval: getenvUint("CHECKPOINT_INTERVAL", 100),
		DataDir:            dataDir,
		StorageBackend:     getenv("STORAGE_BACKEND", "memory"),
		SQLitePath:         getenv("SQLITE_PATH", filepath.Join(dataDir, "attestry.db")),
		DatabaseURL:        getenv("DATABASE_URL", "postgres://attestry@localhost:5432/attestry?sslmode=disable"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getenvInt("REDIS_DB", 0),
		VerifyCacheTTL:     getenvDuration("VERIFY_CACHE_TTL", 24*time.Hour),
		DisclosureMode:     getenv("DISCLOSURE_MODE", "redacted"),
		ProofTokenTTL:      getenvDuration("PROOF_TOKEN_TTL", 24*time.Hour),
		ProfilesDir:        os.Getenv("PROFILES_DIR"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
