// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package verification implements the Verifier: given a
// Proof and the metadata/config it was produced under, it recomputes
// every step the Prover took and fails closed the moment anything
// doesn't line up.
//
// Grounded on mining/auxpow's "unpack, range-check, recompute, compare"
// shape, generalized from a single aggregate PoW check into the multi-
// stage chain this proof format requires.
package verification

import (
	"fmt"

	"github.com/shellpost/post/config"
	"github.com/shellpost/post/internal/postrs"
	"github.com/shellpost/post/internal/postrs/randomx"
	"github.com/shellpost/post/internal/postrs/scryptpow"
	"github.com/shellpost/post/proving"
	"github.com/shellpost/post/shared"
)

// Kind classifies why a proof failed verification.
type Kind int

const (
	// KindInvalidIndex covers malformed index packing: wrong count,
	// non-zero padding, out-of-range, unsorted, or duplicate indices.
	KindInvalidIndex Kind = iota
	// KindInvalidLabel covers an index whose recomputed label doesn't
	// hit the proving difficulty under the claimed nonce.
	KindInvalidLabel
	// KindTooSmallDifficulty covers a proof_cfg/init_cfg mismatch that
	// would make the proving difficulty computation meaningless (k1 too
	// large for the data set).
	KindTooSmallDifficulty
	// KindInvalidPoW covers a failing k2, k3, or RandomX proof of work.
	KindInvalidPoW
)

func (k Kind) String() string {
	switch k {
	case KindInvalidIndex:
		return "InvalidIndex"
	case KindInvalidLabel:
		return "InvalidLabel"
	case KindTooSmallDifficulty:
		return "TooSmallDifficulty"
	case KindInvalidPoW:
		return "InvalidPoW"
	default:
		return "Unknown"
	}
}

// Error reports why a proof failed verification.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("verification: %s: %s", e.Kind, e.Msg)
}

func fail(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Verify checks proof against the data set described by meta, under
// provingCfg (k1/k2/k3, PoW difficulties, scrypt params). pow supplies
// the RandomX backend used for the final seal check.
func Verify(proof *proving.Proof, meta *shared.PostMetadata, provingCfg config.Config, challenge [32]byte, pow *randomx.PoW) error {
	totalLabels := meta.LabelsPerUnit * uint64(meta.NumUnits)

	// Step 3 first: the difficulty computation itself fails closed if k1
	// doesn't fit the data set, which subsumes a broad class of
	// proof_cfg/init_cfg mismatches.
	difficulty, err := shared.ProvingDifficulty(totalLabels, uint64(provingCfg.K1))
	if err != nil {
		return &Error{Kind: KindTooSmallDifficulty, Msg: err.Error()}
	}

	// Step 1: unpack indices -- exactly k2 of them, each
	// ceil(log2(total_labels)) bits, trailing bits zero.
	minBits := shared.BinaryRepresentationMinBits(totalLabels)
	indices, err := shared.UnpackIndices(proof.Indices, minBits, uint(provingCfg.K2))
	if err != nil {
		return fail(KindInvalidIndex, "%v", err)
	}

	// Step 2: in range, strictly ascending (duplicates rejected).
	for i, idx := range indices {
		if idx >= totalLabels {
			return fail(KindInvalidIndex, "index %d (value %d) out of range [0, %d)", i, idx, totalLabels)
		}
		if i > 0 && indices[i-1] >= idx {
			return fail(KindInvalidIndex, "indices not strictly ascending at position %d: %d >= %d", i, indices[i-1], idx)
		}
	}

	// Step 4: recompute each label and its nonce value, require it below
	// difficulty.
	commitment := proving.CommitmentFor(meta.NodeId, meta.CommitmentAtxId)
	provider := postrs.NewCPUProvider()
	for _, idx := range indices {
		out, err := provider.Positions(commitment, idx, idx, provingCfg.Scrypt.N)
		if err != nil {
			return fmt.Errorf("verification: failed to recompute label %d: %w", idx, err)
		}
		label := out[:16]

		v, err := proving.NonceValue(challenge[:], proof.Nonce, label)
		if err != nil {
			return fmt.Errorf("verification: failed to set up nonce derivation: %w", err)
		}
		if v >= difficulty {
			return fail(KindInvalidLabel, "index %d: nonce value %d does not beat difficulty %d", idx, v, difficulty)
		}
	}

	// Step 5 & 6: recompute k2_pow and k3_pow.
	k2Pow, err := scryptpow.FindK2Pow(challenge[:], proof.Nonce, provingCfg.Scrypt, provingCfg.K2PowDifficulty)
	if err != nil {
		return fail(KindInvalidPoW, "k2 pow recompute failed: %v", err)
	}
	if err := scryptpow.VerifyK2Pow(challenge[:], proof.Nonce, provingCfg.Scrypt, provingCfg.K2PowDifficulty, k2Pow); err != nil {
		return fail(KindInvalidPoW, "k2 pow: %v", err)
	}

	k3Pow, err := scryptpow.FindK3Pow(challenge[:], proof.Nonce, proof.Indices, provingCfg.Scrypt, provingCfg.K3PowDifficulty, k2Pow)
	if err != nil {
		return fail(KindInvalidPoW, "k3 pow recompute failed: %v", err)
	}
	if err := scryptpow.VerifyK3Pow(challenge[:], proof.Nonce, proof.Indices, provingCfg.Scrypt, provingCfg.K3PowDifficulty, k2Pow, k3Pow); err != nil {
		return fail(KindInvalidPoW, "k3 pow: %v", err)
	}

	// Step 7: verify the RandomX seal against the same challenge chain
	// the prover sealed with.
	chain := proving.ChallengeChain(challenge[:], proof.Nonce, proof.Indices, k2Pow, k3Pow)
	nonceGroup := byte(proof.Nonce / 16)
	if err := pow.Verify(proof.Pow, nonceGroup, chain, provingCfg.PowDifficulty); err != nil {
		return fail(KindInvalidPoW, "randomx: %v", err)
	}

	return nil
}

// VerifyNonceValue is a narrow helper exposed for tests: it
// recomputes v(nonce, label) exactly as the Prover and Verifier do, for
// callers that already have the label bytes in hand.
func VerifyNonceValue(challenge []byte, nonce uint32, label []byte) (uint64, error) {
	return proving.NonceValue(challenge, nonce, label)
}
