// Package verifier is the verification decision engine: it folds the
// integrity, signature, and chain layer results into one overall verdict
// plus an ordered list of failure-mode codes.
//
// The engine is pure. It performs no I/O, trusts only the reports handed to
// it, and is deterministic: the same inputs always produce the same verdict,
// so any third party can re-derive a published result.
package verifier

import "github.com/attestry/attestry/pkg/contracts"

// Input carries the layer results the decision table consumes.
type Input struct {
	Integrity contracts.IntegrityReport
	Signature contracts.SignatureReport
	Chain     contracts.ChainReport

	// UnknownCanon is set when the capsule declared a canonicalization
	// version this engine does not support. Verification failed closed
	// before any hash was computed; the other layers are meaningless.
	UnknownCanon bool

	// SignatureBypassed is set when the caller explicitly skipped the
	// signature check. A bypassed check can never produce a positive
	// verdict, no matter what the other layers report.
	SignatureBypassed bool
}

// Decide evaluates the decision table. Precedence:
//
//  1. unknown canonicalization version -> UNVERIFIED [UNKNOWN_CANONICALIZATION]
//  2. hash mismatch                    -> UNVERIFIED +HASH_MISMATCH
//  3. signature INVALID                -> UNVERIFIED +BAD_SIGNATURE
//  4. chain BROKEN                     -> UNVERIFIED +CHAIN_BROKEN
//  5. caller bypassed the signature    -> UNVERIFIED +SIGNATURE_NOT_VERIFIED
//  6. signature VALID, chain in {LINKED, GENESIS, NOT_CHECKED} -> VERIFIED
//  7. otherwise (UNTRUSTED_ISSUER or NO_SIGNATURE, chain not failed)
//     -> PARTIALLY_VERIFIED
//
// Rules 2-5 accumulate: every applicable code is appended in that fixed
// order. DUPLICATE_CORE_HASH is a trailing diagnostic, raised whenever the
// chain layer matched more than one stored receipt; it never changes the
// verdict on its own.
func Decide(in Input) (contracts.VerificationStatus, []contracts.FailureMode) {
	if in.UnknownCanon {
		return contracts.StatusUnverified, []contracts.FailureMode{contracts.FailUnknownCanon}
	}

	var modes []contracts.FailureMode
	if !in.Integrity.HashMatch {
		modes = append(modes, contracts.FailHashMismatch)
	}
	if in.Signature.Status == contracts.SigInvalid {
		modes = append(modes, contracts.FailBadSignature)
	}
	if in.Chain.Status == contracts.ChainBroken {
		modes = append(modes, contracts.FailChainBroken)
	}
	if in.SignatureBypassed {
		modes = append(modes, contracts.FailSigNotVerified)
	}
	if in.Chain.DuplicateCount > 1 {
		modes = append(modes, contracts.FailDuplicateCoreHash)
	}

	if blocking(modes) {
		return contracts.StatusUnverified, modes
	}

	// No blocking rule applied; signature INVALID, chain BROKEN, and bypass
	// are all excluded below. Unlisted enum values fail closed.
	switch in.Signature.Status {
	case contracts.SigValid:
		switch in.Chain.Status {
		case contracts.ChainLinked, contracts.ChainGenesis, contracts.ChainNotChecked:
			return contracts.StatusVerified, modes
		default:
			return contracts.StatusUnverified, modes
		}
	case contracts.SigUntrustedIssuer, contracts.SigMissing:
		switch in.Chain.Status {
		case contracts.ChainLinked, contracts.ChainGenesis, contracts.ChainNotChecked:
			return contracts.StatusPartiallyVerified, modes
		default:
			return contracts.StatusUnverified, modes
		}
	default:
		return contracts.StatusUnverified, modes
	}
}

// blocking reports whether any accumulated mode forces UNVERIFIED.
// DUPLICATE_CORE_HASH alone is diagnostic.
func blocking(modes []contracts.FailureMode) bool {
	for _, m := range modes {
		if m != contracts.FailDuplicateCoreHash {
			return true
		}
	}
	return false
}
