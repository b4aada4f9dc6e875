package verifier

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/contracts"
)

func input(hashMatch bool, sig contracts.SignatureStatus, chain contracts.ChainStatus, bypass bool) Input {
	return Input{
		Integrity:         contracts.IntegrityReport{HashMatch: hashMatch},
		Signature:         contracts.SignatureReport{Status: sig},
		Chain:             contracts.ChainReport{Status: chain, Checked: chain != contracts.ChainNotChecked},
		SignatureBypassed: bypass,
	}
}

// TestDecideTableComplete enumerates every
// (hash_match, signature_status, chain_status, bypass) combination and
// asserts the verdict the precedence rules demand for that cell.
func TestDecideTableComplete(t *testing.T) {
	sigStatuses := []contracts.SignatureStatus{
		contracts.SigValid, contracts.SigInvalid, contracts.SigUntrustedIssuer, contracts.SigMissing,
	}
	chainStatuses := []contracts.ChainStatus{
		contracts.ChainLinked, contracts.ChainBroken, contracts.ChainGenesis, contracts.ChainNotChecked,
	}

	for _, hashMatch := range []bool{true, false} {
		for _, sig := range sigStatuses {
			for _, chain := range chainStatuses {
				for _, bypass := range []bool{false, true} {
					name := fmt.Sprintf("hash=%v/sig=%s/chain=%s/bypass=%v", hashMatch, sig, chain, bypass)
					t.Run(name, func(t *testing.T) {
						var want contracts.VerificationStatus
						switch {
						case !hashMatch, sig == contracts.SigInvalid, chain == contracts.ChainBroken, bypass:
							want = contracts.StatusUnverified
						case sig == contracts.SigValid:
							want = contracts.StatusVerified
						default:
							want = contracts.StatusPartiallyVerified
						}

						var wantModes []contracts.FailureMode
						if !hashMatch {
							wantModes = append(wantModes, contracts.FailHashMismatch)
						}
						if sig == contracts.SigInvalid {
							wantModes = append(wantModes, contracts.FailBadSignature)
						}
						if chain == contracts.ChainBroken {
							wantModes = append(wantModes, contracts.FailChainBroken)
						}
						if bypass {
							wantModes = append(wantModes, contracts.FailSigNotVerified)
						}

						got, gotModes := Decide(input(hashMatch, sig, chain, bypass))
						assert.Equal(t, want, got)
						assert.Equal(t, wantModes, gotModes)
					})
				}
			}
		}
	}
}

func TestDecideVerifiedHasNoFailureModes(t *testing.T) {
	status, modes := Decide(input(true, contracts.SigValid, contracts.ChainGenesis, false))
	assert.Equal(t, contracts.StatusVerified, status)
	assert.Empty(t, modes)
}

func TestDecideHashMismatchKeepsDiagnostics(t *testing.T) {
	// A hash mismatch alone: signature and chain results stay attached for
	// diagnostics, and the only failure mode is the mismatch.
	in := input(false, contracts.SigValid, contracts.ChainGenesis, false)
	status, modes := Decide(in)
	assert.Equal(t, contracts.StatusUnverified, status)
	assert.Equal(t, []contracts.FailureMode{contracts.FailHashMismatch}, modes)
}

func TestDecideUnknownCanonShortCircuits(t *testing.T) {
	in := input(false, contracts.SigInvalid, contracts.ChainBroken, true)
	in.UnknownCanon = true

	status, modes := Decide(in)
	assert.Equal(t, contracts.StatusUnverified, status)
	assert.Equal(t, []contracts.FailureMode{contracts.FailUnknownCanon}, modes,
		"short circuit reports only the canonicalization failure")
}

func TestDecideBypassNeverPositive(t *testing.T) {
	// Everything else is perfect; the bypass still forces UNVERIFIED.
	status, modes := Decide(input(true, contracts.SigValid, contracts.ChainLinked, true))
	assert.Equal(t, contracts.StatusUnverified, status)
	assert.Equal(t, []contracts.FailureMode{contracts.FailSigNotVerified}, modes)
}

func TestDecideAccumulationOrder(t *testing.T) {
	status, modes := Decide(input(false, contracts.SigInvalid, contracts.ChainBroken, true))
	assert.Equal(t, contracts.StatusUnverified, status)
	assert.Equal(t, []contracts.FailureMode{
		contracts.FailHashMismatch,
		contracts.FailBadSignature,
		contracts.FailChainBroken,
		contracts.FailSigNotVerified,
	}, modes)
}

func TestDecidePartialKeepsEmptyModes(t *testing.T) {
	for _, sig := range []contracts.SignatureStatus{contracts.SigUntrustedIssuer, contracts.SigMissing} {
		status, modes := Decide(input(true, sig, contracts.ChainLinked, false))
		assert.Equal(t, contracts.StatusPartiallyVerified, status)
		assert.Empty(t, modes, "the signature block, not a failure mode, explains the partial state")
	}
}

func TestDecideDuplicateCoreHashIsDiagnosticOnly(t *testing.T) {
	in := input(true, contracts.SigValid, contracts.ChainLinked, false)
	in.Chain.DuplicateCount = 2

	status, modes := Decide(in)
	assert.Equal(t, contracts.StatusVerified, status, "duplicates alarm but do not block")
	assert.Equal(t, []contracts.FailureMode{contracts.FailDuplicateCoreHash}, modes)
}

func TestDecideDuplicateAppendsAfterBlockingModes(t *testing.T) {
	in := input(false, contracts.SigValid, contracts.ChainLinked, false)
	in.Chain.DuplicateCount = 3

	status, modes := Decide(in)
	require.Equal(t, contracts.StatusUnverified, status)
	assert.Equal(t, []contracts.FailureMode{
		contracts.FailHashMismatch,
		contracts.FailDuplicateCoreHash,
	}, modes)
}

func TestDecideUnknownEnumValuesFailClosed(t *testing.T) {
	in := input(true, contracts.SignatureStatus("SOMETHING_NEW"), contracts.ChainLinked, false)
	status, _ := Decide(in)
	assert.Equal(t, contracts.StatusUnverified, status)

	in = input(true, contracts.SigValid, contracts.ChainStatus("SOMETHING_NEW"), false)
	status, _ = Decide(in)
	assert.Equal(t, contracts.StatusUnverified, status)
}
