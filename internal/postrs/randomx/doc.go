// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package randomx provides the RandomX proof-of-work used to seal a PoST
// proof. It follows the cache/dataset/VM lifecycle of the
// upstream RandomX C++ library: a read-only Cache or Dataset is built
// once from a fixed seed and shared across goroutines, while each worker
// goroutine owns its own VM.
//
// Two build variants are provided, matching mining/randomx's own split:
// randomx_cgo.go (behind the "cgo" build tag) binds the real RandomX C++
// library; randomx_stub.go (behind "!cgo") provides a pure-Go stand-in
// for environments without a C toolchain or the RandomX sources
// available. Both expose byte-identical Go-level contracts so that
// Prove/Verify in pow.go never need to know which is active.
package randomx

// CacheKey is the fixed seed RandomX's cache is built from. It never
// changes across PoST data sets -- RandomX here is used purely as a PoW
// construction, not as a chain-rotated seed scheme.
var CacheKey = []byte("spacemesh-randomx-cache-key")
