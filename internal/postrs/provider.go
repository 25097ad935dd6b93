// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package postrs is the black-box label-generation backend: it computes
// scrypt-jane output for a contiguous range of indices over a fixed
// commitment. The contract is that any backend -- CPU,
// GPU, whatever -- produces byte-identical output for the same inputs;
// this package ships only the CPU implementation, behind an interface
// that a GPU backend could satisfy without touching callers.
package postrs

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Provider computes scrypt-jane label output for a contiguous index
// range over a commitment.
type Provider interface {
	// ID identifies the provider (0 is reserved for the CPU provider).
	ID() uint

	// Name is a human-readable identifier for the provider, suitable for
	// `initializer list-providers`.
	Name() string

	// Positions computes 32 bytes of scrypt output per index in
	// [startIndex, endIndex], password = commitment, salt = the 8-byte
	// little-endian encoding of the index, concatenated in ascending
	// index order.
	Positions(commitment []byte, startIndex, endIndex uint64, n uint) ([]byte, error)
}

// CPUProviderID is the stable ID reserved for the CPU provider.
const CPUProviderID uint = 0

// cpuProvider computes scrypt-jane output on the host CPU, parallelized
// across a worker pool sized to the number of available cores.
type cpuProvider struct {
	workers int
}

// NewCPUProvider returns a Provider that computes label output on the
// CPU, using golang.org/x/crypto/scrypt.
func NewCPUProvider() Provider {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &cpuProvider{workers: workers}
}

func (p *cpuProvider) ID() uint     { return CPUProviderID }
func (p *cpuProvider) Name() string { return "CPU" }

func (p *cpuProvider) Positions(commitment []byte, startIndex, endIndex uint64, n uint) ([]byte, error) {
	if endIndex < startIndex {
		return nil, fmt.Errorf("postrs: endIndex (%d) before startIndex (%d)", endIndex, startIndex)
	}
	count := endIndex - startIndex + 1
	out := make([]byte, count*32)

	// Partition the range into contiguous sub-ranges, one per worker.
	// Determinism (testable property 1) requires that the output for any
	// split of the range, concatenated, equal the output for the whole
	// range computed at once -- which holds trivially here since each
	// index's 32 bytes are computed independently of its neighbors.
	numWorkers := p.workers
	if uint64(numWorkers) > count {
		numWorkers = int(count)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	chunk := (count + uint64(numWorkers) - 1) / uint64(numWorkers)

	var wg sync.WaitGroup
	errs := make([]error, numWorkers)
	for w := 0; w < numWorkers; w++ {
		lo := uint64(w) * chunk
		if lo >= count {
			break
		}
		hi := lo + chunk
		if hi > count {
			hi = count
		}

		wg.Add(1)
		go func(lo, hi uint64) {
			defer wg.Done()
			errs[w] = scryptRange(commitment, startIndex+lo, startIndex+hi-1, n, out[lo*32:hi*32])
		}(lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scryptRange computes scrypt(password=commitment, salt=LE64(i), N, r=1,
// p=1, 32) for each i in [start, end], writing the results in ascending
// order into dst.
func scryptRange(commitment []byte, start, end uint64, n uint, dst []byte) error {
	var salt [8]byte
	for i := start; i <= end; i++ {
		putUint64LE(salt[:], i)
		out, err := scrypt.Key(commitment, salt[:], int(n), 1, 1, 32)
		if err != nil {
			return fmt.Errorf("postrs: scrypt failed at index %d: %w", i, err)
		}
		copy(dst[(i-start)*32:], out)
	}
	return nil
}

func putUint64LE(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}

// OpenCLProviders enumerates available GPU providers. This repository
// ships only the CPU backend; GPU enumeration is left to an external
// OpenCL collaborator and always returns empty.
func OpenCLProviders() ([]Provider, error) {
	return nil, nil
}
