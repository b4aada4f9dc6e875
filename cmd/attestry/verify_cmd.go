package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/attestry/attestry/pkg/contracts"
	"github.com/attestry/attestry/pkg/service"
)

// readInput loads the given path, with "-" meaning stdin.
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// runSubmitCmd implements `attestry submit`.
//
// Stores a receipt capsule: canonicalizes the core, computes its hash, and
// appends the submission to the audit ledger.
//
// Exit codes:
//
//	0 = stored
//	1 = capsule rejected (duplicate id, unsupported schema)
//	2 = usage or runtime error
func runSubmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		capsulePath string
		jsonOutput  bool
	)
	cmd.StringVar(&capsulePath, "capsule", "", "Path to capsule JSON, or - for stdin (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if capsulePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --capsule is required")
		return 2
	}

	raw, err := readInput(capsulePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read capsule: %v\n", err)
		return 2
	}
	var capsule contracts.Capsule
	if err := json.Unmarshal(raw, &capsule); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: capsule is not valid JSON: %v\n", err)
		return 2
	}

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	rec, err := svc.Submit(ctx, capsule)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Submit rejected: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(rec, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Receipt stored: %s\n", rec.Capsule.ReceiptID)
		_, _ = fmt.Fprintf(stdout, "   Core hash: sha256:%s\n", rec.CoreHash)
		if rec.ArchiveID != "" {
			_, _ = fmt.Fprintf(stdout, "   Archived:  %s\n", rec.ArchiveID)
		}
	}
	return 0
}

// runVerifyCmd implements `attestry verify`.
//
// The input file holds either a bare capsule or a full verification request
// (a JSON object with a top-level "capsule" key). Flags apply to the bare
// form; a full request carries its own request id and options.
//
// Exit codes:
//
//	0 = overall VERIFIED
//	1 = overall PARTIALLY_VERIFIED or UNVERIFIED
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		capsulePath string
		requestID   string
		noSignature bool
		noChain     bool
		jsonOutput  bool
	)
	cmd.StringVar(&capsulePath, "capsule", "", "Path to capsule or request JSON, or - for stdin (REQUIRED)")
	cmd.StringVar(&requestID, "request-id", "", "Idempotency key; repeats return the recorded verdict")
	cmd.BoolVar(&noSignature, "no-signature", false, "Bypass signature verification (caps the verdict at UNVERIFIED)")
	cmd.BoolVar(&noChain, "no-chain", false, "Skip receipt chain verification")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if capsulePath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --capsule is required")
		return 2
	}

	raw, err := readInput(capsulePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read input: %v\n", err)
		return 2
	}
	request := buildRequest(raw, requestID, noSignature, noChain)

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	result, err := svc.VerifyJSON(ctx, request)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printResult(stdout, result)
	}

	if result.Overall != contracts.StatusVerified {
		return 1
	}
	return 0
}

// buildRequest wraps a bare capsule into a verification request. Input that
// already carries a top-level "capsule" key passes through untouched.
func buildRequest(raw []byte, requestID string, noSignature, noChain bool) []byte {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if _, ok := probe["capsule"]; ok {
			return raw
		}
	}

	req := service.VerificationRequest{RequestID: requestID}
	if noSignature {
		f := false
		req.Options.VerifySignature = &f
	}
	if noChain {
		f := false
		req.Options.VerifyChain = &f
	}
	wrapped, err := json.Marshal(req)
	if err != nil {
		return raw
	}
	var full map[string]json.RawMessage
	_ = json.Unmarshal(wrapped, &full)
	full["capsule"] = json.RawMessage(raw)
	out, err := json.Marshal(full)
	if err != nil {
		return raw
	}
	return out
}

func printResult(w io.Writer, result contracts.VerificationResult) {
	icon, color := "❌", ColorRed
	switch result.Overall {
	case contracts.StatusVerified:
		icon, color = "✅", ColorGreen
	case contracts.StatusPartiallyVerified:
		icon, color = "⚠️ ", ColorYellow
	}
	_, _ = fmt.Fprintf(w, "%s %s%s%s  receipt %s\n", icon, ColorBold+color, result.Overall, ColorReset, result.ReceiptID)

	if result.Integrity.Reason != "" {
		_, _ = fmt.Fprintf(w, "   Integrity: %s\n", result.Integrity.Reason)
	} else if result.Integrity.HashMatch {
		_, _ = fmt.Fprintf(w, "   Integrity: hash match (%s, %d messages)\n",
			result.Integrity.CanonVersion, result.Integrity.MessageCount)
	}
	if result.Signature.Status != "" {
		line := fmt.Sprintf("   Signature: %s", result.Signature.Status)
		if result.Signature.KeyID != "" {
			line += fmt.Sprintf(" (key %s)", result.Signature.KeyID)
		}
		if result.Signature.Reason != "" {
			line += " " + ColorGray + result.Signature.Reason + ColorReset
		}
		_, _ = fmt.Fprintln(w, line)
	}
	if result.Chain.Status != "" {
		line := fmt.Sprintf("   Chain:     %s", result.Chain.Status)
		if result.Chain.PrevReceiptID != "" {
			line += fmt.Sprintf(" (prev %s)", result.Chain.PrevReceiptID)
		}
		_, _ = fmt.Fprintln(w, line)
	}
	for _, mode := range result.FailureModes {
		_, _ = fmt.Fprintf(w, "   %s- %s%s\n", ColorRed, mode, ColorReset)
	}
}
