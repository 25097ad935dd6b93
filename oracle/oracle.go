// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package oracle wraps a label-generation provider (internal/postrs)
// with the VRF-nonce bookkeeping the Initializer needs: as each batch of
// full 32-byte label values comes back from the provider, the oracle
// tracks the lowest-valued label seen so far that is strictly below the
// configured VRF difficulty.
//
// Grounded on other_examples/49e25219_fourierism-post's oracle.New /
// oracle.WithCommitment / oracle.WithVRFDifficulty / wo.Positions(start,
// end) call contract.
package oracle

import (
	"bytes"
	"errors"

	"go.uber.org/zap"

	"github.com/shellpost/post/internal/postrs"
)

// Result is the output of a single Positions call: the full 32-byte
// label outputs for the requested range, and -- if a VRF search is
// active -- the best (lowest-valued) nonce found so far across this and
// all previous calls on this WorkOracle.
type Result struct {
	// Output holds 32 bytes per requested index, in ascending order.
	Output []byte

	// Nonce is non-nil if a label below the VRF difficulty has been
	// found (on this call or a previous one).
	Nonce *uint64
}

type option struct {
	providerID    uint
	commitment    []byte
	vrfDifficulty []byte
	scrypt        scryptParams
	logger        *zap.Logger
}

type scryptParams struct {
	N uint
}

// Option configures a WorkOracle.
type Option func(*option) error

// WithProviderID selects the label-generation provider by ID.
func WithProviderID(id uint) Option {
	return func(o *option) error {
		o.providerID = id
		return nil
	}
}

// WithCommitment sets the 32-byte commitment labels are derived from.
func WithCommitment(commitment []byte) Option {
	return func(o *option) error {
		if len(commitment) != 32 {
			return errors.New("oracle: commitment must be 32 bytes")
		}
		o.commitment = commitment
		return nil
	}
}

// WithVRFDifficulty enables VRF-nonce tracking against the given 32-byte
// big-endian threshold.
func WithVRFDifficulty(difficulty []byte) Option {
	return func(o *option) error {
		o.vrfDifficulty = difficulty
		return nil
	}
}

// WithScryptParams sets the scrypt cost parameter N used by the CPU
// provider.
func WithScryptParams(n uint) Option {
	return func(o *option) error {
		o.scrypt = scryptParams{N: n}
		return nil
	}
}

// WithLogger attaches a logger for diagnostic messages.
func WithLogger(logger *zap.Logger) Option {
	return func(o *option) error {
		o.logger = logger
		return nil
	}
}

// WorkOracle drives a postrs.Provider over successive index ranges,
// maintaining the running-minimum VRF-nonce candidate across calls.
type WorkOracle struct {
	provider   postrs.Provider
	commitment []byte
	difficulty []byte
	n          uint
	logger     *zap.Logger

	bestNonce *uint64
	bestValue []byte
}

// New constructs a WorkOracle from the given options.
func New(opts ...Option) (*WorkOracle, error) {
	o := &option{
		logger: zap.NewNop(),
	}
	o.scrypt.N = 8192
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.commitment == nil {
		return nil, errors.New("oracle: commitment is required")
	}

	var provider postrs.Provider
	if o.providerID == postrs.CPUProviderID {
		provider = postrs.NewCPUProvider()
	} else {
		return nil, errors.New("oracle: unknown provider ID (only the CPU provider is built in)")
	}

	return &WorkOracle{
		provider:   provider,
		commitment: o.commitment,
		difficulty: o.vrfDifficulty,
		n:          o.scrypt.N,
		logger:     o.logger,
	}, nil
}

// Positions computes the full 32-byte label outputs for [start, end]
// (inclusive), updating the running VRF-nonce minimum if tracking is
// enabled.
func (w *WorkOracle) Positions(start, end uint64) (Result, error) {
	out, err := w.provider.Positions(w.commitment, start, end, w.n)
	if err != nil {
		return Result{}, err
	}

	if w.difficulty != nil {
		count := end - start + 1
		for i := uint64(0); i < count; i++ {
			candidate := out[i*32 : i*32+32]
			if bytes.Compare(candidate, w.difficulty) >= 0 {
				continue
			}
			if w.bestValue == nil || bytes.Compare(candidate, w.bestValue) < 0 {
				idx := start + i
				value := make([]byte, 32)
				copy(value, candidate)
				w.bestNonce = &idx
				w.bestValue = value
				w.logger.Debug("oracle: new best VRF nonce candidate",
					zap.Uint64("index", idx))
			}
		}
	}

	var nonce *uint64
	if w.bestNonce != nil {
		idx := *w.bestNonce
		nonce = &idx
	}

	return Result{Output: out, Nonce: nonce}, nil
}

// BestNonceValue returns the full 32-byte value of the best VRF-nonce
// candidate found so far, or nil if none has been found.
func (w *WorkOracle) BestNonceValue() []byte {
	if w.bestValue == nil {
		return nil
	}
	v := make([]byte, 32)
	copy(v, w.bestValue)
	return v
}

// Close releases any resources held by the underlying provider.
func (w *WorkOracle) Close() error {
	return nil
}

// CPUProviderID returns the reserved ID of the CPU provider.
func CPUProviderID() uint {
	return postrs.CPUProviderID
}
