package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"
)

// runAuditCmd implements `attestry audit <head|events|verify|prove>`.
//
// Exit codes:
//
//	0 = success (verify: chain intact)
//	1 = verify found a broken chain, or prove could not cover the event
//	2 = usage or runtime error
func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "head":
		return runAuditHead(args[1:], stdout, stderr)
	case "events":
		return runAuditEvents(args[1:], stdout, stderr)
	case "verify":
		return runAuditVerify(args[1:], stdout, stderr)
	case "prove":
		return runAuditProve(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown audit subcommand: %s\n", args[0])
		return 2
	}
}

func runAuditHead(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit head", flag.ContinueOnError)
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

	head, err := svc.AuditHead(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(head, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Ledger head: sequence %d\n", head.Sequence)
		_, _ = fmt.Fprintf(stdout, "Event hash:  %s\n", head.EventHash)
	}
	return 0
}

func runAuditEvents(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit events", flag.ContinueOnError)
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

	events, err := svc.AuditEvents(ctx, from, to)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(events, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(events) == 0 {
		_, _ = fmt.Fprintln(stdout, "No events in range.")
		return 0
	}
	for _, ev := range events {
		_, _ = fmt.Fprintf(stdout, "%6d  %-24s %s  %s\n",
			ev.Sequence, ev.Action, ev.Timestamp.Format(time.RFC3339), ev.EventHash[:16])
	}
	return 0
}

func runAuditVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		from       uint64
		to         uint64
		strict     bool
		jsonOutput bool
	)
	cmd.Uint64Var(&from, "from", 0, "First sequence (0 = from the start)")
	cmd.Uint64Var(&to, "to", 0, "Last sequence (0 = to the head)")
	cmd.BoolVar(&strict, "strict", false, "Stop at the first broken event instead of collecting all")
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

	report, err := svc.VerifyAuditChain(ctx, from, to, strict)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.OK {
		_, _ = fmt.Fprintf(stdout, "✅ Audit chain intact: %d events checked\n", report.Checked)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Audit chain BROKEN: %s\n", report.Reason)
		if report.FirstBadSeq != 0 {
			_, _ = fmt.Fprintf(stdout, "   First bad sequence: %d\n", report.FirstBadSeq)
		}
		for _, seq := range report.BadSeqs {
			_, _ = fmt.Fprintf(stdout, "   - bad event at sequence %d\n", seq)
		}
	}

	if !report.OK {
		return 1
	}
	return 0
}

// runAuditProve prints a Merkle inclusion proof tying one audit event to
// the signed checkpoint covering it.
func runAuditProve(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit prove", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		seq        uint64
		jsonOutput bool
	)
	cmd.Uint64Var(&seq, "seq", 0, "Event sequence to prove (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if seq == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --seq is required")
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	proof, err := svc.ProveEvent(ctx, seq)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ No proof: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(proof, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Event %d is covered by checkpoint %d\n", seq, proof.Checkpoint.Counter)
		_, _ = fmt.Fprintf(stdout, "   Leaf hash:   %s\n", proof.Proof.LeafHash)
		_, _ = fmt.Fprintf(stdout, "   Merkle root: %s\n", proof.Proof.Root)
		_, _ = fmt.Fprintf(stdout, "   Path:        %d sibling(s)\n", len(proof.Proof.Path))
		_, _ = fmt.Fprintf(stdout, "   Signer:      %s\n", proof.Checkpoint.SignerKeyID)
	}
	return 0
}

// runCheckpointCmd implements `attestry checkpoint <create|list|verify|key>`.
//
// Exit codes:
//
//	0 = success (verify: checkpoint chain intact)
//	1 = a stale create or a broken checkpoint chain
//	2 = usage or runtime error
func runCheckpointCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "create":
		return runCheckpointCreate(args[1:], stdout, stderr)
	case "list":
		return runCheckpointList(args[1:], stdout, stderr)
	case "verify":
		return runCheckpointVerify(args[1:], stdout, stderr)
	case "key":
		return runCheckpointKey(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown checkpoint subcommand: %s\n", args[0])
		return 2
	}
}

func runCheckpointCreate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("checkpoint create", flag.ContinueOnError)
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

	cp, err := svc.CreateCheckpoint(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Checkpoint not created: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(cp, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Checkpoint %d created\n", cp.Counter)
		_, _ = fmt.Fprintf(stdout, "   Covers:      sequence %d (%d events)\n", cp.Sequence, cp.EventCount)
		_, _ = fmt.Fprintf(stdout, "   Merkle root: %s\n", cp.MerkleRoot)
		_, _ = fmt.Fprintf(stdout, "   Signer:      %s\n", cp.SignerKeyID)
	}
	return 0
}

func runCheckpointList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("checkpoint list", flag.ContinueOnError)
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

	cps, err := svc.Checkpoints(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(cps, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(cps) == 0 {
		_, _ = fmt.Fprintln(stdout, "No checkpoints.")
		return 0
	}
	for _, cp := range cps {
		_, _ = fmt.Fprintf(stdout, "%6d  seq=%-8d events=%-6d %s  signer=%s\n",
			cp.Counter, cp.Sequence, cp.EventCount, cp.CreatedAt.Format(time.RFC3339), cp.SignerKeyID)
	}
	return 0
}

func runCheckpointVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("checkpoint verify", flag.ContinueOnError)
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

	report, err := svc.VerifyCheckpoints(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.OK {
		_, _ = fmt.Fprintf(stdout, "✅ Checkpoint chain intact: %d checkpoints checked\n", report.Checked)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Checkpoint chain BROKEN: %s\n", report.Reason)
		if report.FirstBadCounter != 0 {
			_, _ = fmt.Fprintf(stdout, "   First bad counter: %d\n", report.FirstBadCounter)
		}
	}

	if !report.OK {
		return 1
	}
	return 0
}

// runCheckpointKey prints the checkpoint signing public key so external
// auditors can verify checkpoints and proof tokens offline.
func runCheckpointKey(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("checkpoint key", flag.ContinueOnError)
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

	pemStr, err := svc.CheckpointPublicKeyPEM()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{
			"key_id":         svc.SignerKeyID(),
			"public_key_pem": pemStr,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Key id: %s\n", svc.SignerKeyID())
		_, _ = fmt.Fprint(stdout, pemStr)
	}
	return 0
}

// runReceiptCmd implements `attestry receipt <get|list>`.
func runReceiptCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: attestry receipt <get|list>")
		return 2
	}
	switch args[0] {
	case "get":
		return runReceiptGet(args[1:], stdout, stderr)
	case "list":
		return runReceiptList(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown receipt subcommand: %s\n", args[0])
		return 2
	}
}

func runReceiptGet(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipt get", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var receiptID string
	cmd.StringVar(&receiptID, "receipt", "", "Receipt id (REQUIRED)")
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

	rec, err := svc.Receipt(ctx, receiptID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(rec, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func runReceiptList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipt list", flag.ContinueOnError)
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

	recs, err := svc.Receipts(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(recs, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(recs) == 0 {
		_, _ = fmt.Fprintln(stdout, "No receipts.")
		return 0
	}
	for _, rec := range recs {
		_, _ = fmt.Fprintf(stdout, "%-24s %-24s stored=%s  core=%s\n",
			rec.Capsule.ReceiptID, rec.Capsule.Platform,
			rec.StoredAt.Format(time.RFC3339), rec.CoreHash[:16])
	}
	return 0
}
