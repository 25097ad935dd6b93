// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package scryptpow implements the k2/k3 scrypt-based proofs of work:
// a parallel, but strictly ordered, search for the
// smallest nonce p whose scrypt output is below a target.
//
// Grounded on mining/auxpow's "recompute and big.Int-compare against a
// target" idiom (generalized from a one-shot verify into a driven,
// block-partitioned search), and on mining/randomx/miner.go's worker-pool
// shape for dividing a search space across goroutines. The
// first-satisfier guarantee forbids any-order search, so each worker
// reports only the lowest hit within its own contiguous block, and the
// driver picks the lowest-numbered block that has a hit.
package scryptpow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/shellpost/post/config"
)

// ErrNotFound is returned when the entire search space is exhausted
// without finding a satisfying nonce.
var ErrNotFound = errors.New("scryptpow: search space exhausted")

// blockSize is the number of candidate nonces scanned per round. Each
// round splits its block into one contiguous sub-range per worker;
// workers report the lowest hit within their own sub-range, the round
// keeps the lowest of those, and the driver only accepts a hit from the
// lowest-numbered block that has one, so the result is independent of
// how many workers ran or how fast they were.
const blockSize = 1 << 16

// FindK2Pow finds the smallest non-negative p such that
// scrypt(password = challenge || LE32(nonce), salt = LE64(p))[0:8]
// interpreted as a little-endian uint64 is less than difficulty.
func FindK2Pow(challenge []byte, nonce uint32, params config.ScryptParams, difficulty uint64) (uint64, error) {
	password := make([]byte, len(challenge)+4)
	copy(password, challenge)
	binary.LittleEndian.PutUint32(password[len(challenge):], nonce)
	return search(password, params, difficulty)
}

// FindK3Pow finds the smallest non-negative p such that
// scrypt(password = challenge || LE32(nonce) || indexes || LE64(k2Pow),
// salt = LE64(p))[0:8] interpreted as a little-endian uint64 is less
// than difficulty.
func FindK3Pow(challenge []byte, nonce uint32, indexes []byte, params config.ScryptParams, difficulty uint64, k2Pow uint64) (uint64, error) {
	password := make([]byte, 0, len(challenge)+4+len(indexes)+8)
	password = append(password, challenge...)
	var nonceBuf [4]byte
	binary.LittleEndian.PutUint32(nonceBuf[:], nonce)
	password = append(password, nonceBuf[:]...)
	password = append(password, indexes...)
	var k2Buf [8]byte
	binary.LittleEndian.PutUint64(k2Buf[:], k2Pow)
	password = append(password, k2Buf[:]...)
	return search(password, params, difficulty)
}

// VerifyK2Pow recomputes and checks a claimed k2 PoW nonce.
func VerifyK2Pow(challenge []byte, nonce uint32, params config.ScryptParams, difficulty, pow uint64) error {
	password := make([]byte, len(challenge)+4)
	copy(password, challenge)
	binary.LittleEndian.PutUint32(password[len(challenge):], nonce)
	return verify(password, params, difficulty, pow)
}

// VerifyK3Pow recomputes and checks a claimed k3 PoW nonce.
func VerifyK3Pow(challenge []byte, nonce uint32, indexes []byte, params config.ScryptParams, difficulty, k2Pow, pow uint64) error {
	password := make([]byte, 0, len(challenge)+4+len(indexes)+8)
	password = append(password, challenge...)
	var nonceBuf [4]byte
	binary.LittleEndian.PutUint32(nonceBuf[:], nonce)
	password = append(password, nonceBuf[:]...)
	password = append(password, indexes...)
	var k2Buf [8]byte
	binary.LittleEndian.PutUint64(k2Buf[:], k2Pow)
	password = append(password, k2Buf[:]...)
	return verify(password, params, difficulty, pow)
}

func scryptValue(password []byte, p uint64, params config.ScryptParams) (uint64, error) {
	var salt [8]byte
	binary.LittleEndian.PutUint64(salt[:], p)
	out, err := scrypt.Key(password, salt[:], int(params.N), int(params.R), int(params.P), 8)
	if err != nil {
		return 0, fmt.Errorf("scryptpow: scrypt failed: %w", err)
	}
	return binary.LittleEndian.Uint64(out), nil
}

func verify(password []byte, params config.ScryptParams, difficulty, pow uint64) error {
	v, err := scryptValue(password, pow, params)
	if err != nil {
		return err
	}
	if v >= difficulty {
		return fmt.Errorf("scryptpow: pow %d does not satisfy difficulty (value %d >= %d)", pow, v, difficulty)
	}
	return nil
}

// search partitions [0, 2^64) into contiguous blocks and runs a bounded
// worker pool over them in increasing block order, stopping as soon as a
// block with a hit has had every worker in its cohort finish -- so the
// returned nonce is always the smallest p satisfying the predicate, never
// merely the first one found.
func search(password []byte, params config.ScryptParams, difficulty uint64) (uint64, error) {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	for blockStart := uint64(0); ; blockStart += blockSize {
		lo := blockStart
		hi := blockStart + blockSize - 1
		if hi < blockStart {
			hi = ^uint64(0) // wrapped: last block
		}

		best, found, err := searchBlock(password, params, difficulty, lo, hi, workers)
		if err != nil {
			return 0, err
		}
		if found {
			return best, nil
		}
		if hi == ^uint64(0) {
			break
		}
	}
	return 0, ErrNotFound
}

// searchBlock exhaustively scans [lo, hi] across a worker pool and
// returns the smallest satisfying p in that range, if any.
func searchBlock(password []byte, params config.ScryptParams, difficulty, lo, hi uint64, workers int) (uint64, bool, error) {
	count := hi - lo + 1
	if uint64(workers) > count {
		workers = int(count)
	}
	sub := count / uint64(workers)

	type result struct {
		best  uint64
		found bool
		err   error
	}
	results := make([]result, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		subLo := lo + uint64(w)*sub
		subHi := subLo + sub - 1
		if w == workers-1 {
			subHi = hi
		}

		wg.Add(1)
		go func(idx int, lo, hi uint64) {
			defer wg.Done()
			for p := lo; ; p++ {
				v, err := scryptValue(password, p, params)
				if err != nil {
					results[idx] = result{err: err}
					return
				}
				if v < difficulty {
					results[idx] = result{best: p, found: true}
					return
				}
				if p == hi {
					break
				}
			}
		}(w, subLo, subHi)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return 0, false, r.err
		}
	}

	best := uint64(0)
	found := false
	for _, r := range results {
		if r.found && (!found || r.best < best) {
			best = r.best
			found = true
		}
	}
	return best, found, nil
}
