package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/attestry/attestry/pkg/config"
)

// runDoctorCmd implements `attestry doctor`, the environment health check.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"` // "ok", "warn", "fail"
		Detail string `json:"detail,omitempty"`
	}

	var results []checkResult
	allOK := true

	cfg := config.Load()

	// Check 1: Go runtime
	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	// Check 2: storage backend
	switch cfg.StorageBackend {
	case "", "memory":
		results = append(results, checkResult{
			Name:   "storage",
			Status: "warn",
			Detail: "memory backend, receipts are lost on exit",
		})
	case "sqlite":
		results = append(results, checkResult{
			Name:   "storage",
			Status: "ok",
			Detail: fmt.Sprintf("sqlite at %s", cfg.SQLitePath),
		})
	case "postgres":
		if os.Getenv("DATABASE_URL") == "" {
			results = append(results, checkResult{
				Name:   "storage",
				Status: "warn",
				Detail: "postgres backend on the default localhost DSN (set DATABASE_URL)",
			})
		} else {
			results = append(results, checkResult{
				Name:   "storage",
				Status: "ok",
				Detail: "postgres",
			})
		}
	default:
		results = append(results, checkResult{
			Name:   "storage",
			Status: "fail",
			Detail: fmt.Sprintf("unknown backend %q", cfg.StorageBackend),
		})
		allOK = false
	}

	// Check 3: checkpoint signer identity
	if cfg.CheckpointSeedFile != "" {
		if _, err := os.Stat(cfg.CheckpointSeedFile); err != nil {
			results = append(results, checkResult{
				Name:   "checkpoint_signer",
				Status: "fail",
				Detail: fmt.Sprintf("seed file %s not readable", cfg.CheckpointSeedFile),
			})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "checkpoint_signer",
				Status: "ok",
				Detail: fmt.Sprintf("seeded from %s", cfg.CheckpointSeedFile),
			})
		}
	} else {
		results = append(results, checkResult{
			Name:   "checkpoint_signer",
			Status: "warn",
			Detail: "ephemeral key, checkpoints will not survive a restart (set CHECKPOINT_SEED_FILE)",
		})
	}

	// Check 4: archive storage
	archiveType := os.Getenv("ARCHIVE_STORAGE_TYPE")
	switch archiveType {
	case "", "fs":
		results = append(results, checkResult{
			Name:   "archive",
			Status: "ok",
			Detail: fmt.Sprintf("filesystem under %s/archive", cfg.DataDir),
		})
	case "memory":
		results = append(results, checkResult{
			Name:   "archive",
			Status: "warn",
			Detail: "memory archive, exports are lost on exit",
		})
	case "s3":
		if os.Getenv("ARCHIVE_S3_BUCKET") == "" {
			results = append(results, checkResult{
				Name:   "archive",
				Status: "fail",
				Detail: "s3 archive selected but ARCHIVE_S3_BUCKET not set",
			})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "archive",
				Status: "ok",
				Detail: fmt.Sprintf("s3 bucket %s", os.Getenv("ARCHIVE_S3_BUCKET")),
			})
		}
	case "gcs":
		if os.Getenv("ARCHIVE_GCS_BUCKET") == "" {
			results = append(results, checkResult{
				Name:   "archive",
				Status: "fail",
				Detail: "gcs archive selected but ARCHIVE_GCS_BUCKET not set",
			})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "archive",
				Status: "ok",
				Detail: fmt.Sprintf("gcs bucket %s", os.Getenv("ARCHIVE_GCS_BUCKET")),
			})
		}
	default:
		results = append(results, checkResult{
			Name:   "archive",
			Status: "fail",
			Detail: fmt.Sprintf("unknown archive storage type %q", archiveType),
		})
		allOK = false
	}

	// Check 5: disclosure profiles directory
	if _, err := os.Stat(cfg.ProfilesDir); err != nil {
		results = append(results, checkResult{
			Name:   "profiles",
			Status: "warn",
			Detail: fmt.Sprintf("%s does not exist, platform defaults apply", cfg.ProfilesDir),
		})
	} else {
		results = append(results, checkResult{
			Name:   "profiles",
			Status: "ok",
			Detail: cfg.ProfilesDir,
		})
	}

	// Check 6: build the engine and probe the ledger head
	ctx := cmdContext()
	if svc, closer, err := buildService(ctx); err != nil {
		results = append(results, checkResult{
			Name:   "engine",
			Status: "fail",
			Detail: err.Error(),
		})
		allOK = false
	} else {
		head, err := svc.AuditHead(ctx)
		closer()
		if err != nil {
			results = append(results, checkResult{
				Name:   "engine",
				Status: "fail",
				Detail: fmt.Sprintf("ledger head probe: %v", err),
			})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "engine",
				Status: "ok",
				Detail: fmt.Sprintf("ledger head at sequence %d", head.Sequence),
			})
		}
	}

	// Print results
	fmt.Fprintf(stdout, "\n%sAttestry Doctor%s\n", ColorBold+ColorCyan, ColorReset)
	fmt.Fprintln(stdout, "───────────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		} else if r.Status == "fail" {
			icon = "❌"
		}
		fmt.Fprintf(stdout, "  %s  %-20s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}

	if allOK {
		fmt.Fprintf(stdout, "\n%sAll checks passed. Ready to take receipts.%s\n", ColorGreen+ColorBold, ColorReset)
		return 0
	}
	return 1
}
