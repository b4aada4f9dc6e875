package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/attestry/attestry/pkg/contracts"
)

// runProofCmd implements `attestry proof`.
//
// Builds a content-free proof pack for a stored receipt, optionally sealed
// into a signed token a third party can verify offline. With --verify the
// command checks a previously issued token instead.
//
// Exit codes:
//
//	0 = pack built / token valid
//	1 = token invalid
//	2 = usage or runtime error
func runProofCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("proof", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptID   string
		mode        string
		issueToken  bool
		verifyToken string
		jsonOutput  bool
	)
	cmd.StringVar(&receiptID, "receipt", "", "Receipt id (REQUIRED unless --verify)")
	cmd.StringVar(&mode, "mode", "", "Disclosure mode override: full, redacted, or hidden")
	cmd.BoolVar(&issueToken, "token", false, "Also issue a signed proof token")
	cmd.StringVar(&verifyToken, "verify", "", "Verify a proof token read from file, or - for stdin")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if verifyToken != "" {
		return runProofVerifyToken(verifyToken, jsonOutput, stdout, stderr)
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

	if issueToken {
		pack, token, err := svc.ProofToken(ctx, receiptID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if jsonOutput {
			data, _ := json.MarshalIndent(map[string]any{
				"pack":  pack,
				"token": token,
			}, "", "  ")
			_, _ = fmt.Fprintln(stdout, string(data))
		} else {
			printPack(stdout, pack)
			_, _ = fmt.Fprintf(stdout, "\n%s\n", token)
		}
		return 0
	}

	pack, err := svc.ProofPack(ctx, receiptID, contracts.TranscriptMode(mode))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if jsonOutput {
		data, _ := json.MarshalIndent(pack, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printPack(stdout, pack)
	}
	return 0
}

func runProofVerifyToken(path string, jsonOutput bool, stdout, stderr io.Writer) int {
	raw, err := readInput(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read token: %v\n", err)
		return 2
	}
	token := strings.TrimSpace(string(raw))

	ctx := cmdContext()
	svc, closer, err := buildService(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closer()

	claims, err := svc.VerifyProofToken(token)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "❌ Proof token INVALID: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(claims, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "✅ Proof token valid\n")
		_, _ = fmt.Fprintf(stdout, "   Receipt: %s\n", claims.Subject)
		_, _ = fmt.Fprintf(stdout, "   Overall: %s\n", claims.Pack.Overall)
		if claims.ExpiresAt != nil {
			_, _ = fmt.Fprintf(stdout, "   Expires: %s\n", claims.ExpiresAt.Time)
		}
	}
	return 0
}

func printPack(w io.Writer, pack contracts.ProofPack) {
	icon := "❌"
	switch pack.Overall {
	case contracts.StatusVerified:
		icon = "✅"
	case contracts.StatusPartiallyVerified:
		icon = "⚠️ "
	}
	_, _ = fmt.Fprintf(w, "%s Proof pack for %s: %s\n", icon, pack.ReceiptID, pack.Overall)
	_, _ = fmt.Fprintf(w, "   Attests to:  %s\n", strings.Join(pack.ProofScope, ", "))
	_, _ = fmt.Fprintf(w, "   Never about: %s\n", strings.Join(pack.ProofScopeExcludes, ", "))
	_, _ = fmt.Fprintf(w, "   Audit head:  sequence %d\n", pack.AuditHead.Sequence)
	if pack.LatestCheckpoint != nil {
		_, _ = fmt.Fprintf(w, "   Checkpoint:  %d (seq %d, signer %s)\n",
			pack.LatestCheckpoint.Counter, pack.LatestCheckpoint.Sequence, pack.LatestCheckpoint.SignerKeyID)
	}
	for _, mode := range pack.FailureModes {
		_, _ = fmt.Fprintf(w, "   %s- %s%s\n", ColorRed, mode, ColorReset)
	}
}

// runTranscriptCmd implements `attestry transcript`: render the stored
// transcript under a disclosure mode.
func runTranscriptCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("transcript", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptID  string
		mode       string
		jsonOutput bool
	)
	cmd.StringVar(&receiptID, "receipt", "", "Receipt id (REQUIRED)")
	cmd.StringVar(&mode, "mode", "", "Disclosure mode override: full, redacted, or hidden")
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

	view, err := svc.Transcript(ctx, receiptID, contracts.TranscriptMode(mode))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(view, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "Transcript of %s (%s mode, %d messages)\n", receiptID, view.Mode, view.MessageCount)
	if len(view.Messages) == 0 {
		_, _ = fmt.Fprintf(stdout, "  roles: %s\n", strings.Join(view.Roles, " → "))
		return 0
	}
	for _, msg := range view.Messages {
		_, _ = fmt.Fprintf(stdout, "  %s%-10s%s %s\n", ColorCyan, msg.Role+":", ColorReset, msg.Content)
	}
	return 0
}

// runGateCmd implements `attestry gate <eligible|kill>`.
//
// Exit codes (eligible):
//
//	0 = receipt unlocked for downstream use
//	1 = receipt not eligible
//	2 = usage or runtime error
func runGateCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "eligible":
		return runGateEligible(args[1:], stdout, stderr)
	case "kill":
		return runGateKill(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown gate subcommand: %s\n", args[0])
		return 2
	}
}

func runGateEligible(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gate eligible", flag.ContinueOnError)
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

	elig, err := svc.Eligible(ctx, receiptID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(elig, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if elig.Eligible {
		_, _ = fmt.Fprintf(stdout, "✅ %s is unlocked for downstream use\n", receiptID)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ %s is NOT eligible: %s\n", receiptID, elig.Reason)
	}

	if !elig.Eligible {
		return 1
	}
	return 0
}

func runGateKill(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gate kill", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		receiptID  string
		reason     string
		jsonOutput bool
	)
	cmd.StringVar(&receiptID, "receipt", "", "Receipt id (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Kill switch reason recorded in the gate")
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

	fresh, err := svc.SetKillSwitch(ctx, receiptID, reason)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"receipt_id": receiptID,
			"kill":       true,
			"fresh":      fresh,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if fresh {
		_, _ = fmt.Fprintf(stdout, "✅ Kill switch set for %s\n", receiptID)
	} else {
		_, _ = fmt.Fprintf(stdout, "Kill switch already set for %s\n", receiptID)
	}
	return 0
}
