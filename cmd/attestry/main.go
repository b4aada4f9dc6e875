package main

import (
	"fmt"
	"io"
	"os"

	"github.com/attestry/attestry/pkg/config"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes follow one convention across every subcommand:
//
//	0 = success (verify: overall VERIFIED)
//	1 = a check failed (unverified receipt, broken ledger, bad bundle)
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "submit":
		return runSubmitCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "receipt":
		return runReceiptCmd(args[2:], stdout, stderr)
	case "trust":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: attestry trust <add-key|revoke-key|expire-key|trust-issuer|list-keys|issuers>")
			return 2
		}
		return runTrustCmd(args[2:], stdout, stderr)
	case "audit":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: attestry audit <head|events|verify|prove>")
			return 2
		}
		return runAuditCmd(args[2:], stdout, stderr)
	case "checkpoint":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: attestry checkpoint <create|list|verify|key>")
			return 2
		}
		return runCheckpointCmd(args[2:], stdout, stderr)
	case "proof":
		return runProofCmd(args[2:], stdout, stderr)
	case "transcript":
		return runTranscriptCmd(args[2:], stdout, stderr)
	case "gate":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: attestry gate <eligible|kill>")
			return 2
		}
		return runGateCmd(args[2:], stdout, stderr)
	case "export":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: attestry export <proof|ledger|open|check>")
			return 2
		}
		return runExportCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "attestry %s\n", config.EngineVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sattestry %s%s\n", ColorBold+ColorBlue, config.EngineVersion, ColorReset)
	fmt.Fprintf(w, "%sReceipts in, verdicts out. The ledger remembers.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  attestry <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "RECEIPTS")
	printCommand(w, "submit", "Store a receipt capsule (--capsule, --json)")
	printCommand(w, "verify", "Verify a capsule or request (--capsule, --json)")
	printCommand(w, "receipt", "Inspect stored receipts (get/list)")

	printSection(w, "AUDIT LEDGER")
	printCommand(w, "audit", "Ledger operations (head/events/verify/prove)")
	printCommand(w, "checkpoint", "Checkpoint operations (create/list/verify/key)")

	printSection(w, "TRUST & GATE")
	printCommand(w, "trust", "Manage registry keys and issuers")
	printCommand(w, "gate", "Downstream-use gate (eligible/kill)")

	printSection(w, "DISCLOSURE")
	printCommand(w, "proof", "Build a proof pack or token (--receipt)")
	printCommand(w, "transcript", "Render a transcript view (--receipt, --mode)")
	printCommand(w, "export", "Sealed bundles (proof/ledger/open/check)")

	printSection(w, "UTILITIES")
	printCommand(w, "doctor", "Check configuration and storage")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
