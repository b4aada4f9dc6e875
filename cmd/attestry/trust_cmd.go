package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/attestry/attestry/pkg/contracts"
)

// runTrustCmd implements `attestry trust <subcommand>`: key registry and
// issuer administration. Every mutation is audited.
func runTrustCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "add-key":
		return runTrustAddKey(args[1:], stdout, stderr)
	case "revoke-key":
		return runTrustRevokeKey(args[1:], stdout, stderr)
	case "expire-key":
		return runTrustExpireKey(args[1:], stdout, stderr)
	case "trust-issuer":
		return runTrustIssuer(args[1:], stdout, stderr)
	case "list-keys":
		return runTrustListKeys(args[1:], stdout, stderr)
	case "issuers":
		return runTrustIssuers(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown trust subcommand: %s\n", args[0])
		return 2
	}
}

func runTrustAddKey(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust add-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyID       string
		pemFile     string
		issuerID    string
		issuerLabel string
		validFrom   string
		validTo     string
		jsonOutput  bool
	)
	cmd.StringVar(&keyID, "key-id", "", "Registry key id (REQUIRED)")
	cmd.StringVar(&pemFile, "pem", "", "Path to the Ed25519 public key PEM (REQUIRED)")
	cmd.StringVar(&issuerID, "issuer", "", "Issuer id the key belongs to (REQUIRED)")
	cmd.StringVar(&issuerLabel, "issuer-label", "", "Human-readable issuer label")
	cmd.StringVar(&validFrom, "valid-from", "", "RFC3339 start of the validity window (default now)")
	cmd.StringVar(&validTo, "valid-to", "", "RFC3339 end of the validity window (default open)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if keyID == "" || pemFile == "" || issuerID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key-id, --pem, and --issuer are required")
		return 2
	}

	pemData, err := os.ReadFile(pemFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read key file: %v\n", err)
		return 2
	}

	entry := contracts.KeyEntry{
		KeyID:        keyID,
		PublicKeyPEM: string(pemData),
		IssuerID:     issuerID,
		IssuerLabel:  issuerLabel,
	}
	if validFrom != "" {
		t, err := time.Parse(time.RFC3339, validFrom)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --valid-from: %v\n", err)
			return 2
		}
		entry.ValidFrom = t
	}
	if validTo != "" {
		t, err := time.Parse(time.RFC3339, validTo)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --valid-to: %v\n", err)
			return 2
		}
		entry.ValidTo = &t
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	if err := svc.AddKey(ctx, entry); err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Add key failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"action": "add-key",
			"key_id": keyID,
			"issuer": issuerID,
			"status": "added",
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Key %s added for issuer %s\n", keyID, issuerID)
	}
	return 0
}

func runTrustRevokeKey(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust revoke-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyID      string
		reason     string
		jsonOutput bool
	)
	cmd.StringVar(&keyID, "key-id", "", "Registry key id (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Revocation reason recorded on the entry")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if keyID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key-id is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	if err := svc.RevokeKey(ctx, keyID, reason); err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Revoke failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"action": "revoke-key",
			"key_id": keyID,
			"status": "revoked",
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Key %s revoked\n", keyID)
	}
	return 0
}

func runTrustExpireKey(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust expire-key", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		keyID      string
		jsonOutput bool
	)
	cmd.StringVar(&keyID, "key-id", "", "Registry key id (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if keyID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key-id is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	if err := svc.ExpireKey(ctx, keyID); err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Expire failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"action": "expire-key",
			"key_id": keyID,
			"status": "expired",
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Key %s expired\n", keyID)
	}
	return 0
}

func runTrustIssuer(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust trust-issuer", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		issuerID   string
		jsonOutput bool
	)
	cmd.StringVar(&issuerID, "issuer", "", "Issuer id to add to the trusted set (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if issuerID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --issuer is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	if err := svc.TrustIssuer(ctx, issuerID); err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Trust issuer failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"action": "trust-issuer",
			"issuer": issuerID,
			"status": "trusted",
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Issuer %s trusted\n", issuerID)
	}
	return 0
}

func runTrustListKeys(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust list-keys", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	keys, err := svc.Keys(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(keys, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(keys) == 0 {
		_, _ = fmt.Fprintln(stdout, "Registry keys: (none)")
		return 0
	}
	_, _ = fmt.Fprintln(stdout, "Registry keys:")
	for _, k := range keys {
		window := k.ValidFrom.Format(time.RFC3339) + " .. open"
		if k.ValidTo != nil {
			window = k.ValidFrom.Format(time.RFC3339) + " .. " + k.ValidTo.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(stdout, "  %-20s %-10s issuer=%s  %s\n", k.KeyID, k.Status, k.IssuerID, window)
	}
	return 0
}

func runTrustIssuers(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("trust issuers", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	issuers, err := svc.TrustedIssuers(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(issuers, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(issuers) == 0 {
		_, _ = fmt.Fprintln(stdout, "Trusted issuers: (none)")
		return 0
	}
	_, _ = fmt.Fprintln(stdout, "Trusted issuers:")
	for _, id := range issuers {
		_, _ = fmt.Fprintf(stdout, "  %s\n", id)
	}
	return 0
}
