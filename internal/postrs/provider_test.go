// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package postrs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/scrypt"
)

// scryptTestN is small enough to keep these tests fast; scrypt's N only
// needs to be a power of two, the CPU provider doesn't care how small.
const scryptTestN = 16

func TestCPUProviderMatchesDirectScrypt(t *testing.T) {
	p := NewCPUProvider()
	assert.Equal(t, CPUProviderID, p.ID())
	assert.Equal(t, "CPU", p.Name())

	commitment := []byte("a 32-byte commitment........abcd")
	out, err := p.Positions(commitment, 5, 5, scryptTestN)
	require.NoError(t, err)
	require.Len(t, out, 32)

	var salt [8]byte
	putUint64LE(salt[:], 5)
	want, err := scrypt.Key(commitment, salt[:], scryptTestN, 1, 1, 32)
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestCPUProviderDeterministicAcrossSplits(t *testing.T) {
	commitment := []byte("another 32-byte commitment.....x")[:32]
	p := NewCPUProvider()

	whole, err := p.Positions(commitment, 0, 99, scryptTestN)
	require.NoError(t, err)

	// Split the same range into two halves and confirm the concatenation
	// matches the single-shot computation -- this is the determinism
	// property the package doc promises.
	first, err := p.Positions(commitment, 0, 49, scryptTestN)
	require.NoError(t, err)
	second, err := p.Positions(commitment, 50, 99, scryptTestN)
	require.NoError(t, err)

	assert.Equal(t, whole, append(append([]byte{}, first...), second...))
}

func TestCPUProviderRejectsInvertedRange(t *testing.T) {
	p := NewCPUProvider()
	_, err := p.Positions([]byte("commitment"), 10, 5, scryptTestN)
	assert.Error(t, err)
}

func TestOpenCLProvidersEmpty(t *testing.T) {
	providers, err := OpenCLProviders()
	require.NoError(t, err)
	assert.Empty(t, providers)
}
