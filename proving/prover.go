// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package proving implements the streaming proof-generation scan:
// given an already-initialized data directory and a
// challenge, it finds a proof nonce whose labels hit the proving
// difficulty at least k2 times, then seals the result behind the k2/k3
// scrypt proofs of work and a RandomX proof of work.
//
// Grounded on mining/randomx/miner.go's worker-pool/stop-channel shape,
// generalized from "mine a block" to "scan a label window," and on
// other_examples/7d81eb2f_NpoolSpacemesh-post's proving_test.go for the
// package's test vocabulary.
package proving

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shellpost/post/config"
	"github.com/shellpost/post/initialization"
	"github.com/shellpost/post/internal/postrs/randomx"
	"github.com/shellpost/post/internal/postrs/scryptpow"
	"github.com/shellpost/post/persistence"
	"github.com/shellpost/post/shared"
)

// ErrCancelled is returned when a generation run observes its stop flag
// set between label chunks.
var ErrCancelled = errors.New("proving: cancelled")

// ErrNoCandidate is returned when every nonce in [0, nonceTotal) has been
// scanned across the whole data set without sealing a proof.
var ErrNoCandidate = errors.New("proving: no nonce reached k2 hits")

// provingBatchLabels is the chunk size the label stream is read in.
const provingBatchLabels = 1 << 16

// Proof is the wire-shaped result of a successful generation: the
// winning nonce, its bit-packed hit indices, and the RandomX seal.
type Proof struct {
	Nonce   uint32
	Indices []byte
	Pow     uint64
}

// Prover scans an initialized data directory for proof nonces against a
// fixed config and a shared RandomX PoW instance. A Prover may be reused
// across many GenerateProof calls; it holds no per-call state.
type Prover struct {
	dataDir string
	cfg     config.Config
	pow     *randomx.PoW
}

// NewProver builds a Prover bound to dataDir and cfg. pow is the caller's
// shared RandomX PoW instance (expensive to build; its lifetime is the
// caller's responsibility, since RandomX VMs are not safe to share
// across concurrent callers without coordination).
func NewProver(dataDir string, cfg config.Config, pow *randomx.PoW) *Prover {
	return &Prover{dataDir: dataDir, cfg: cfg, pow: pow}
}

// GenerateProof runs the streaming scan over the full label set.
// nonceTotal must be a positive multiple of 16, no greater than 4096.
// stopFlag, if non-nil, is checked between label chunks; when it
// becomes true, GenerateProof returns ErrCancelled.
func (p *Prover) GenerateProof(ctx context.Context, challenge [32]byte, nonceTotal uint32, stopFlag *atomic.Bool) (*Proof, error) {
	if nonceTotal == 0 || nonceTotal%windowSize != 0 || nonceTotal > 4096 {
		return nil, fmt.Errorf("proving: nonceTotal %d must be a positive multiple of %d, at most 4096", nonceTotal, windowSize)
	}

	meta, err := persistence.LoadMetadata(p.dataDir)
	if err != nil {
		return nil, fmt.Errorf("proving: failed to load metadata: %w", err)
	}
	totalLabels := meta.LabelsPerUnit * uint64(meta.NumUnits)

	difficulty, err := shared.ProvingDifficulty(totalLabels, uint64(p.cfg.K1))
	if err != nil {
		return nil, fmt.Errorf("proving: failed to compute proving difficulty: %w", err)
	}

	reader, err := persistence.NewLabelsReader(p.dataDir, meta)
	if err != nil {
		return nil, fmt.Errorf("proving: failed to open label reader: %w", err)
	}

	minBits := shared.BinaryRepresentationMinBits(totalLabels)

	for windowBase := uint32(0); windowBase < nonceTotal; windowBase += windowSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		proof, err := p.scanWindow(reader, challenge, windowBase, difficulty, minBits, totalLabels, stopFlag)
		if err != nil {
			if errors.Is(err, errNoHitInWindow) {
				continue
			}
			return nil, err
		}
		return proof, nil
	}
	return nil, ErrNoCandidate
}

// errNoHitInWindow is a private sentinel distinguishing "this window
// didn't seal, try the next one" from a real failure.
var errNoHitInWindow = errors.New("proving: no nonce in window reached k2 hits")

// errSealed is used to unwind out of LabelsReader.Stream once a nonce in
// the current window has sealed.
type errSealed struct {
	proof *Proof
}

func (errSealed) Error() string { return "proving: sealed" }

// scanWindow streams the whole data set once, tracking per-nonce hit
// indices for the 16 nonces in [windowBase, windowBase+16), and seals
// the first nonce (lowest n breaks ties) to reach k2 hits.
func (p *Prover) scanWindow(reader *persistence.LabelsReader, challenge [32]byte, windowBase uint32, difficulty uint64, minBits uint, totalLabels uint64, stopFlag *atomic.Bool) (*Proof, error) {
	nw, err := newNonceWindow(challenge[:], windowBase)
	if err != nil {
		return nil, err
	}

	collected := make(map[uint32][]uint64, windowSize)

	streamErr := reader.Stream(provingBatchLabels, func(start uint64, labels []byte) error {
		if stopFlag != nil && stopFlag.Load() {
			return ErrCancelled
		}

		count := len(labels) / 16
		for li := 0; li < count; li++ {
			idx := start + uint64(li)
			label := labels[li*16 : li*16+16]
			values := nw.valuesFor(label)

			for off := 0; off < windowSize; off++ {
				if values[off] >= difficulty {
					continue
				}
				n := windowBase + uint32(off)
				collected[n] = append(collected[n], idx)
				if len(collected[n]) == int(p.cfg.K2) {
					proof, sealErr := p.seal(challenge, n, collected[n], minBits, totalLabels)
					if sealErr != nil {
						return sealErr
					}
					return errSealed{proof: proof}
				}
			}
		}
		return nil
	})

	var sealed errSealed
	if errors.As(streamErr, &sealed) {
		return sealed.proof, nil
	}
	if streamErr != nil {
		return nil, streamErr
	}
	return nil, errNoHitInWindow
}

// seal computes the k2/k3 scrypt PoWs and the RandomX seal for a nonce
// that has reached k2 hit indices.
func (p *Prover) seal(challenge [32]byte, nonce uint32, indices []uint64, minBits uint, totalLabels uint64) (*Proof, error) {
	packed := shared.PackIndices(indices, minBits)

	k2Pow, err := scryptpow.FindK2Pow(challenge[:], nonce, p.cfg.Scrypt, p.cfg.K2PowDifficulty)
	if err != nil {
		return nil, fmt.Errorf("proving: k2 pow search failed: %w", err)
	}
	k3Pow, err := scryptpow.FindK3Pow(challenge[:], nonce, packed, p.cfg.Scrypt, p.cfg.K3PowDifficulty, k2Pow)
	if err != nil {
		return nil, fmt.Errorf("proving: k3 pow search failed: %w", err)
	}

	chain := ChallengeChain(challenge[:], nonce, packed, k2Pow, k3Pow)
	nonceGroup := byte(nonce / windowSize)
	pow, err := p.pow.Prove(nonceGroup, chain, p.cfg.PowDifficulty)
	if err != nil {
		return nil, fmt.Errorf("proving: randomx pow search failed: %w", err)
	}

	return &Proof{Nonce: nonce, Indices: packed, Pow: pow}, nil
}

// ChallengeChain binds k2_pow and k3_pow into the RandomX seal's
// challenge: the RandomX challenge is the first 8 bytes of
// sha256(challenge || LE32(nonce) || packed_indices || LE64(k2Pow) || LE64(k3Pow)).
// Prover and Verifier both call this one function, so the chain is
// self-consistent regardless of the exact bytes the upstream
// implementation uses.
func ChallengeChain(challenge []byte, nonce uint32, packedIndices []byte, k2Pow, k3Pow uint64) [8]byte {
	h := sha256.New()
	h.Write(challenge)
	var nonceBuf [4]byte
	binary.LittleEndian.PutUint32(nonceBuf[:], nonce)
	h.Write(nonceBuf[:])
	h.Write(packedIndices)
	var k2Buf, k3Buf [8]byte
	binary.LittleEndian.PutUint64(k2Buf[:], k2Pow)
	binary.LittleEndian.PutUint64(k3Buf[:], k3Pow)
	h.Write(k2Buf[:])
	h.Write(k3Buf[:])

	sum := h.Sum(nil)
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// CommitmentFor is a thin re-export of initialization.CommitmentBytes so
// callers building a Proof's companion wire metadata don't need to
// import the initialization package just for this one helper.
func CommitmentFor(nodeID, commitmentAtxID []byte) []byte {
	return initialization.CommitmentBytes(nodeID, commitmentAtxID)
}
