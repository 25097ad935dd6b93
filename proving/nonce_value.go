// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package proving

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// windowSize is the number of candidate nonces scanned against a label
// chunk at once.
const windowSize = 16

// halfSize is the number of nonces covered by a single AES128 key within
// a window; two keys span the full window, each yielding 8 candidate
// nonces' 64-bit values.
const halfSize = windowSize / 2

// nonceWindow holds the two AES ciphers for one window of 16 candidate
// nonces, so that per-label derivation doesn't re-run key setup for
// every label.
type nonceWindow struct {
	base    uint32
	ciphers [2]cipher.Block
}

// newNonceWindow derives the per-window AES128 keys for the nonce
// window [base, base+16).
//
// This derivation's exact byte contract isn't reproduced in the
// available sources, so this is a documented, internally consistent
// choice rather than a recovered original: each half of the window gets
// its own key, derived as the first 16 bytes of
// sha256(challenge || LE32(base) || half), and a label's 64-bit value
// under nonce n is lane (n-base)%8 of the AES-CTR keystream produced by
// encrypting 64 zero bytes with that half's key and the label's own 16
// bytes as the counter/IV. Prover and verifier share this one
// implementation, so the chain is self-consistent even though it isn't
// derived from an external oracle.
func newNonceWindow(challenge []byte, base uint32) (*nonceWindow, error) {
	var nw nonceWindow
	nw.base = base
	for half := 0; half < 2; half++ {
		key := deriveHalfKey(challenge, base, byte(half))
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("proving: failed to init AES cipher: %w", err)
		}
		nw.ciphers[half] = block
	}
	return &nw, nil
}

// deriveHalfKey derives the AES128 key for one half of the nonce window.
func deriveHalfKey(challenge []byte, base uint32, half byte) [16]byte {
	h := sha256.New()
	h.Write(challenge)
	var baseBuf [4]byte
	binary.LittleEndian.PutUint32(baseBuf[:], base)
	h.Write(baseBuf[:])
	h.Write([]byte{half})
	sum := h.Sum(nil)
	var key [16]byte
	copy(key[:], sum[:16])
	return key
}

// valuesFor returns v(n, label) for every nonce n in this window, for the
// single 16-byte label given.
func (nw *nonceWindow) valuesFor(label []byte) [windowSize]uint64 {
	var out [windowSize]uint64
	var zeros [halfSize * 8]byte
	var keystream [halfSize * 8]byte

	for half := 0; half < 2; half++ {
		stream := cipher.NewCTR(nw.ciphers[half], label[:aes.BlockSize])
		stream.XORKeyStream(keystream[:], zeros[:])
		for lane := 0; lane < halfSize; lane++ {
			out[half*halfSize+lane] = binary.LittleEndian.Uint64(keystream[lane*8 : lane*8+8])
		}
	}
	return out
}

// nonceValue returns v(n, label) for a single nonce within this window.
func (nw *nonceWindow) nonceValue(n uint32, label []byte) uint64 {
	values := nw.valuesFor(label)
	return values[n-nw.base]
}

// NonceValue computes v(nonce, label) directly, without requiring the
// caller to construct a window over 16 nonces first. It's used by the
// verifier, which only ever needs one nonce's value per label.
func NonceValue(challenge []byte, nonce uint32, label []byte) (uint64, error) {
	base := (nonce / windowSize) * windowSize
	nw, err := newNonceWindow(challenge, base)
	if err != nil {
		return 0, err
	}
	return nw.nonceValue(nonce, label), nil
}
