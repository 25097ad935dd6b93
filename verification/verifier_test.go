// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package verification

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellpost/post/config"
	"github.com/shellpost/post/initialization"
	"github.com/shellpost/post/internal/postrs"
	"github.com/shellpost/post/internal/postrs/randomx"
	"github.com/shellpost/post/persistence"
	"github.com/shellpost/post/proving"
	"github.com/shellpost/post/shared"
)

// setupDataDir writes a small, fully-initialized-looking data directory:
// real scrypt-jane label output for a real commitment, so the Verifier's
// independent recomputation actually lines up with what the Prover scans.
func setupDataDir(t *testing.T, totalLabels uint64, scryptN uint) (dir string, commitment []byte) {
	t.Helper()
	dir = t.TempDir()

	nodeID := []byte{1, 2, 3, 4}
	commitmentAtxID := []byte{5, 6, 7, 8}
	commitment = initialization.CommitmentBytes(nodeID, commitmentAtxID)

	provider := postrs.NewCPUProvider()
	out, err := provider.Positions(commitment, 0, totalLabels-1, scryptN)
	require.NoError(t, err)

	w, err := persistence.NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w.Write(out))
	require.NoError(t, w.Close())

	meta := &shared.PostMetadata{
		NodeId:          nodeID,
		CommitmentAtxId: commitmentAtxID,
		LabelsPerUnit:   totalLabels,
		NumUnits:        1,
		MaxFileSize:     1 << 30,
	}
	require.NoError(t, persistence.SaveMetadata(dir, meta))
	return dir, commitment
}

// permissiveConfig is tuned so every PoW stage accepts its very first
// candidate, keeping the test's wall-clock time small while still
// exercising every verification step.
func permissiveConfig(k1, k2 uint32, scryptN uint) config.Config {
	cfg := config.DefaultConfig()
	cfg.K1 = k1
	cfg.K2 = k2
	cfg.K3 = k2
	cfg.Scrypt = config.ScryptParams{N: scryptN, R: 1, P: 1}
	cfg.K2PowDifficulty = ^uint64(0)
	cfg.K3PowDifficulty = ^uint64(0)
	for i := range cfg.PowDifficulty {
		cfg.PowDifficulty[i] = 0xff
	}
	return cfg
}

func TestProveThenVerifySucceeds(t *testing.T) {
	const totalLabels = 32
	const scryptN = 16
	dir, _ := setupDataDir(t, totalLabels, scryptN)
	meta, err := persistence.LoadMetadata(dir)
	require.NoError(t, err)

	cfg := permissiveConfig(4, 2, scryptN)

	pow, err := randomx.New(false)
	require.NoError(t, err)
	defer pow.Close()

	prover := proving.NewProver(dir, cfg, pow)
	var challenge [32]byte
	copy(challenge[:], []byte("a-test-challenge-value-32-bytes"))

	proof, err := prover.GenerateProof(context.Background(), challenge, 16, nil)
	require.NoError(t, err)
	require.NotNil(t, proof)

	assert.NoError(t, Verify(proof, meta, cfg, challenge, pow))
}

func TestVerifyRejectsTamperedNonce(t *testing.T) {
	const totalLabels = 32
	const scryptN = 16
	dir, _ := setupDataDir(t, totalLabels, scryptN)
	meta, err := persistence.LoadMetadata(dir)
	require.NoError(t, err)

	cfg := permissiveConfig(4, 2, scryptN)

	pow, err := randomx.New(false)
	require.NoError(t, err)
	defer pow.Close()

	prover := proving.NewProver(dir, cfg, pow)
	var challenge [32]byte
	copy(challenge[:], []byte("another-test-challenge-32-bytes"))

	proof, err := prover.GenerateProof(context.Background(), challenge, 16, nil)
	require.NoError(t, err)

	tampered := *proof
	tampered.Nonce++
	err = Verify(&tampered, meta, cfg, challenge, pow)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
}

func TestVerifyRejectsWrongChallenge(t *testing.T) {
	const totalLabels = 32
	const scryptN = 16
	dir, _ := setupDataDir(t, totalLabels, scryptN)
	meta, err := persistence.LoadMetadata(dir)
	require.NoError(t, err)

	cfg := permissiveConfig(4, 2, scryptN)

	pow, err := randomx.New(false)
	require.NoError(t, err)
	defer pow.Close()

	prover := proving.NewProver(dir, cfg, pow)
	var challenge [32]byte
	copy(challenge[:], []byte("yet-another-challenge-32-bytes."))

	proof, err := prover.GenerateProof(context.Background(), challenge, 16, nil)
	require.NoError(t, err)

	var wrongChallenge [32]byte
	copy(wrongChallenge[:], []byte("a-completely-different-challeng"))
	err = Verify(proof, meta, cfg, wrongChallenge, pow)
	assert.Error(t, err)
}

func TestVerifyRejectsTooSmallDifficulty(t *testing.T) {
	const totalLabels = 32
	const scryptN = 16
	dir, _ := setupDataDir(t, totalLabels, scryptN)
	meta, err := persistence.LoadMetadata(dir)
	require.NoError(t, err)

	cfg := permissiveConfig(totalLabels, 2, scryptN) // K1 == totalLabels: invalid

	pow, err := randomx.New(false)
	require.NoError(t, err)
	defer pow.Close()

	var challenge [32]byte
	proof := &proving.Proof{Nonce: 0, Indices: []byte{0, 0}, Pow: 0}
	err = Verify(proof, meta, cfg, challenge, pow)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindTooSmallDifficulty, verr.Kind)
}

func TestGenerateProofCancelled(t *testing.T) {
	const totalLabels = 32
	const scryptN = 16
	dir, _ := setupDataDir(t, totalLabels, scryptN)

	cfg := permissiveConfig(4, 2, scryptN)
	pow, err := randomx.New(false)
	require.NoError(t, err)
	defer pow.Close()

	prover := proving.NewProver(dir, cfg, pow)
	var challenge [32]byte
	var stopFlag atomic.Bool
	stopFlag.Store(true)

	_, err = prover.GenerateProof(context.Background(), challenge, 16, &stopFlag)
	assert.ErrorIs(t, err, proving.ErrCancelled)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "InvalidIndex", KindInvalidIndex.String())
	assert.Equal(t, "InvalidLabel", KindInvalidLabel.String())
	assert.Equal(t, "TooSmallDifficulty", KindTooSmallDifficulty.String())
	assert.Equal(t, "InvalidPoW", KindInvalidPoW.String())
}

func TestVerifyNonceValueMatchesProving(t *testing.T) {
	challenge := []byte("a-test-challenge-value-32-bytes")
	label := make([]byte, 16)
	for i := range label {
		label[i] = byte(i)
	}

	got, err := VerifyNonceValue(challenge, 3, label)
	require.NoError(t, err)

	want, err := proving.NonceValue(challenge, 3, label)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
