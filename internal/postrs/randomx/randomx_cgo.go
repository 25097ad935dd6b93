//go:build cgo

// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package randomx

/*
#cgo CFLAGS: -I${SRCDIR}/../../../third_party/randomx/src
#cgo LDFLAGS: -L${SRCDIR}/../../../third_party/randomx/build -lrandomx -lstdc++ -lm

#include "randomx_wrapper.h"
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"runtime"
	"sync"
	"unsafe"
)

// Flags configures RandomX cache/dataset/VM initialization.
type Flags int

const (
	FlagDefault     Flags = C.RANDOMX_FLAG_DEFAULT
	FlagLargePages  Flags = C.RANDOMX_FLAG_LARGE_PAGES
	FlagHardAES     Flags = C.RANDOMX_FLAG_HARD_AES
	FlagFullMem     Flags = C.RANDOMX_FLAG_FULL_MEM
	FlagJIT         Flags = C.RANDOMX_FLAG_JIT
	FlagSecure      Flags = C.RANDOMX_FLAG_SECURE
	FlagArgon2SSSE3 Flags = C.RANDOMX_FLAG_ARGON2_SSSE3
	FlagArgon2AVX2  Flags = C.RANDOMX_FLAG_ARGON2_AVX2
)

// GetFlags returns the flags recommended for the current CPU.
func GetFlags() Flags {
	return Flags(C.randomx_get_flags())
}

type realCache struct {
	ptr *C.randomx_cache
	mu  sync.Mutex
}

// NewCache allocates and initializes a RandomX cache from seed.
func NewCache(seed []byte) (*Cache, error) {
	if len(seed) == 0 {
		return nil, errors.New("randomx: seed cannot be empty")
	}

	flags := GetFlags()
	ptr := C.randomx_alloc_cache(C.randomx_flags(flags))
	if ptr == nil {
		return nil, errors.New("randomx: failed to allocate cache")
	}

	seedPtr := C.CBytes(seed)
	defer C.free(seedPtr)
	C.randomx_init_cache(ptr, seedPtr, C.size_t(len(seed)))

	rc := &realCache{ptr: ptr}
	runtime.SetFinalizer(rc, (*realCache).release)
	return &Cache{impl: rc}, nil
}

func (c *realCache) release() {
	if c.ptr != nil {
		C.randomx_release_cache(c.ptr)
		c.ptr = nil
	}
}

type realDataset struct {
	ptr *C.randomx_dataset
}

// NewDataset builds a full RandomX dataset from a cache. Required for
// "fast" mode verification/mining.
func NewDataset(cache *Cache) (*Dataset, error) {
	if cache == nil || cache.impl == nil {
		return nil, errors.New("randomx: cache cannot be nil")
	}
	rc := cache.impl.(*realCache)

	flags := GetFlags() | FlagFullMem
	ptr := C.randomx_alloc_dataset(C.randomx_flags(flags))
	if ptr == nil {
		return nil, errors.New("randomx: failed to allocate dataset")
	}

	itemCount := C.randomx_dataset_item_count()
	C.randomx_init_dataset(ptr, rc.ptr, 0, itemCount)

	rd := &realDataset{ptr: ptr}
	runtime.SetFinalizer(rd, (*realDataset).release)
	return &Dataset{impl: rd}, nil
}

func (d *realDataset) release() {
	if d.ptr != nil {
		C.randomx_release_dataset(d.ptr)
		d.ptr = nil
	}
}

type realVM struct {
	ptr *C.randomx_vm
	mu  sync.Mutex
}

// NewVM creates a VM bound to a cache and (optionally) a dataset. A VM
// must never be shared between goroutines -- pow.go enforces this by
// lazily creating one VM per worker.
func NewVM(cache *Cache, dataset *Dataset) (*VM, error) {
	if cache == nil || cache.impl == nil {
		return nil, errors.New("randomx: cache cannot be nil")
	}
	rc := cache.impl.(*realCache)

	var datasetPtr *C.randomx_dataset
	flags := GetFlags()
	if dataset != nil && dataset.impl != nil {
		rd := dataset.impl.(*realDataset)
		datasetPtr = rd.ptr
		flags |= FlagFullMem
	}

	ptr := C.randomx_create_vm(C.randomx_flags(flags), rc.ptr, datasetPtr)
	if ptr == nil {
		return nil, errors.New("randomx: failed to create VM")
	}

	rv := &realVM{ptr: ptr}
	runtime.SetFinalizer(rv, (*realVM).release)
	return &VM{impl: rv}, nil
}

func (v *realVM) release() {
	if v.ptr != nil {
		C.randomx_destroy_vm(v.ptr)
		v.ptr = nil
	}
}

// Cache wraps a RandomX cache.
type Cache struct{ impl interface{} }

// Dataset wraps a RandomX dataset.
type Dataset struct{ impl interface{} }

// VM wraps a RandomX virtual machine. Not safe for concurrent use.
type VM struct{ impl interface{} }

// Close releases the cache's native resources.
func (c *Cache) Close() {
	if c == nil || c.impl == nil {
		return
	}
	c.impl.(*realCache).release()
}

// Close releases the dataset's native resources.
func (d *Dataset) Close() {
	if d == nil || d.impl == nil {
		return
	}
	d.impl.(*realDataset).release()
}

// Close releases the VM's native resources.
func (vm *VM) Close() {
	if vm == nil || vm.impl == nil {
		return
	}
	vm.impl.(*realVM).release()
}

// CalcHash computes the 32-byte RandomX hash of input.
func (vm *VM) CalcHash(input []byte) []byte {
	if vm == nil || vm.impl == nil || len(input) == 0 {
		return nil
	}
	rv := vm.impl.(*realVM)
	rv.mu.Lock()
	defer rv.mu.Unlock()

	output := make([]byte, 32)
	inputPtr := C.CBytes(input)
	defer C.free(inputPtr)
	C.randomx_calculate_hash(rv.ptr, inputPtr, C.size_t(len(input)), unsafe.Pointer(&output[0]))
	return output
}
