package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

// runExportCmd implements `attestry export <proof|ledger|open|check>`:
// sealed, signed bundles for handing to external parties.
//
// Exit codes:
//
//	0 = success (check: bundle valid)
//	1 = check found a bad bundle
//	2 = usage or runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "proof":
		return runExportProof(args[1:], stdout, stderr)
	case "ledger":
		return runExportLedger(args[1:], stdout, stderr)
	case "open":
		return runExportOpen(args[1:], stdout, stderr)
	case "check":
		return runExportCheck(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown export subcommand: %s\n", args[0])
		return 2
	}
}

func runExportProof(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export proof", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptID  string
		jsonOutput bool
	)
	cmd.StringVar(&receiptID, "receipt", "", "Receipt id (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if receiptID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --receipt is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	addr, err := svc.ExportProofPack(ctx, receiptID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{
			"receipt_id": receiptID,
			"address":    addr,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Proof pack sealed: %s\n", addr)
	}
	return 0
}

func runExportLedger(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export ledger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		from       uint64
		to         uint64
		jsonOutput bool
	)
	cmd.Uint64Var(&from, "from", 0, "First sequence (0 = from the start)")
	cmd.Uint64Var(&to, "to", 0, "Last sequence (0 = to the head)")
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

	addr, err := svc.ExportLedger(ctx, from, to)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"from":    from,
			"to":      to,
			"address": addr,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Ledger range sealed: %s\n", addr)
	}
	return 0
}

func runExportOpen(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export open", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		addr string
		kind string
	)
	cmd.StringVar(&addr, "address", "", "Content address of the bundle (REQUIRED)")
	cmd.StringVar(&kind, "kind", "proof", "Bundle kind: proof or ledger")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if addr == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --address is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	var payload any
	switch kind {
	case "proof":
		payload, err = svc.OpenProofPackExport(ctx, addr)
	case "ledger":
		payload, err = svc.OpenLedgerExport(ctx, addr)
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown bundle kind %q\n", kind)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Cannot open bundle: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(payload, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func runExportCheck(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export check", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		addr       string
		jsonOutput bool
	)
	cmd.StringVar(&addr, "address", "", "Content address of the bundle (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if addr == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --address is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	ok, issues, err := svc.VerifyExport(ctx, addr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"address": addr,
			"valid":   ok,
			"issues":  issues,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if ok {
		_, _ = fmt.Fprintf(stdout, "✅ Bundle verified: %s\n", addr)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Bundle verification FAILED: %s\n", addr)
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stdout, "   - %s\n", issue)
		}
	}

	if !ok {
		return 1
	}
	return 0
}
