//go:build !cgo

// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package randomx

// This is a pure-Go stand-in for the real RandomX library, used when
// built without cgo (no C toolchain, or the RandomX sources aren't
// vendored). It is NOT RandomX -- it exists so this package, and
// everything built on top of it, keeps working in CI and on
// cgo-disabled hosts. The hash isn't ASIC/GPU resistant; don't use it
// to secure anything.

import "crypto/sha256"

// Flags configures cache/dataset/VM initialization; ignored by the stub.
type Flags int

const FlagDefault Flags = 0

// GetFlags returns the default (and only) stub flag set.
func GetFlags() Flags { return FlagDefault }

// Cache holds the seed the stub hashes against.
type Cache struct{ seed []byte }

// NewCache returns a stub cache bound to seed.
func NewCache(seed []byte) (*Cache, error) {
	c := make([]byte, len(seed))
	copy(c, seed)
	return &Cache{seed: c}, nil
}

// Close is a no-op for the stub.
func (c *Cache) Close() {}

// Dataset is unused by the stub; NewDataset is provided only to satisfy
// the same call shape as the cgo build.
type Dataset struct{ cache *Cache }

// NewDataset returns a stub dataset.
func NewDataset(cache *Cache) (*Dataset, error) {
	return &Dataset{cache: cache}, nil
}

// Close is a no-op for the stub.
func (d *Dataset) Close() {}

// VM computes a stub hash keyed by its cache's seed.
type VM struct{ seed []byte }

// NewVM returns a stub VM bound to cache (dataset is ignored).
func NewVM(cache *Cache, dataset *Dataset) (*VM, error) {
	if cache == nil {
		return nil, errNilCache
	}
	return &VM{seed: cache.seed}, nil
}

// Close is a no-op for the stub.
func (vm *VM) Close() {}

// CalcHash returns sha256(seed || input) as a stand-in RandomX hash.
func (vm *VM) CalcHash(input []byte) []byte {
	h := sha256.New()
	h.Write(vm.seed)
	h.Write(input)
	return h.Sum(nil)
}

var errNilCache = stubError("randomx: cache cannot be nil")

type stubError string

func (e stubError) Error() string { return string(e) }
