// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package randomx

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btclog"
)

// log is a logger that is initialized with no output filters. This
// means the package will not perform any logging by default until the
// caller requests it, matching mining/randomx/miner.go's own
// UseLogger/DisableLog convention.
var log btclog.Logger

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

func init() {
	log = btclog.Disabled
}

// ErrNotFound is returned when the full 56-bit nonce range is exhausted
// without finding a satisfying PoW nonce.
var ErrNotFound = errors.New("randomx: pow search space exhausted")

// ErrInvalidPoW is returned by Verify when the claimed nonce does not
// satisfy the difficulty.
var ErrInvalidPoW = errors.New("randomx: invalid proof of work")

// maxPowNonce is the exclusive upper bound of the 56-bit PoW nonce
// range.
const maxPowNonce = uint64(1) << 56

// PoW owns a single Cache/Dataset pair (shared read-only across workers)
// and a lazily-populated pool of per-goroutine VMs, mirroring
// mining/randomx/miner.go's cache/dataset/VM lifecycle but generalized
// from "one VM per miner" to "one VM per worker goroutine."
type PoW struct {
	cache   *Cache
	dataset *Dataset
	fast    bool

	mu  sync.Mutex
	vms map[int]*VM // keyed by worker index
}

// New builds a PoW instance. If fast is true, a full Dataset is built
// (faster verification/search, much higher memory) in addition to the
// Cache; otherwise only the Cache is used.
func New(fast bool) (*PoW, error) {
	cache, err := NewCache(CacheKey)
	if err != nil {
		return nil, fmt.Errorf("randomx: failed to init cache: %w", err)
	}

	var dataset *Dataset
	if fast {
		dataset, err = NewDataset(cache)
		if err != nil {
			cache.Close()
			return nil, fmt.Errorf("randomx: failed to init dataset: %w", err)
		}
	}

	return &PoW{cache: cache, dataset: dataset, fast: fast, vms: make(map[int]*VM)}, nil
}

// Close releases the cache, dataset, and all pooled VMs.
func (p *PoW) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, vm := range p.vms {
		vm.Close()
	}
	p.vms = nil
	if p.dataset != nil {
		p.dataset.Close()
	}
	if p.cache != nil {
		p.cache.Close()
	}
}

// vmFor returns the VM owned by worker, creating it on first use. VMs
// are never shared across workers.
func (p *PoW) vmFor(worker int) (*VM, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vm, ok := p.vms[worker]; ok {
		return vm, nil
	}
	vm, err := NewVM(p.cache, p.dataset)
	if err != nil {
		return nil, err
	}
	p.vms[worker] = vm
	return vm, nil
}

// input lays out the RandomX preimage: 7-byte little-endian pow nonce,
// the 1-byte nonce group, then the 8-byte challenge prefix.
func input(powNonce uint64, nonceGroup byte, challenge [8]byte) []byte {
	buf := make([]byte, 16)
	for i := 0; i < 7; i++ {
		buf[i] = byte(powNonce >> (8 * i))
	}
	buf[7] = nonceGroup
	copy(buf[8:], challenge[:])
	return buf
}

// below reports whether hash is strictly below difficulty, using a
// byte-wise big-endian lexicographic compare.
func below(hash, difficulty []byte) bool {
	return bytes.Compare(hash, difficulty) < 0
}

// Prove searches for a 56-bit pow nonce such that
// randomx(LE7(nonce) || nonceGroup || challenge) < difficulty, returning
// ErrNotFound if the range is exhausted. The search is parallel and
// any-order, unlike the ordered k2/k3 scrypt PoW search.
func (p *PoW) Prove(nonceGroup byte, challenge [8]byte, difficulty [32]byte) (uint64, error) {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	var found atomic.Bool
	var result atomic.Uint64
	var workErr atomic.Pointer[error]

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			vm, err := p.vmFor(worker)
			if err != nil {
				workErr.Store(&err)
				return
			}
			for n := uint64(worker); n < maxPowNonce; n += uint64(workers) {
				if found.Load() {
					return
				}
				hash := vm.CalcHash(input(n, nonceGroup, challenge))
				if below(hash, difficulty[:]) {
					found.Store(true)
					result.Store(n)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if errp := workErr.Load(); errp != nil {
		return 0, *errp
	}
	if !found.Load() {
		return 0, ErrNotFound
	}
	return result.Load(), nil
}

// Verify recomputes the RandomX hash for the claimed pow nonce and
// checks it against difficulty.
func (p *PoW) Verify(pow uint64, nonceGroup byte, challenge [8]byte, difficulty [32]byte) error {
	if pow >= maxPowNonce {
		return fmt.Errorf("%w: nonce %d out of range", ErrInvalidPoW, pow)
	}
	vm, err := p.vmFor(0)
	if err != nil {
		return err
	}
	hash := vm.CalcHash(input(pow, nonceGroup, challenge))
	if !below(hash, difficulty[:]) {
		return ErrInvalidPoW
	}
	return nil
}
