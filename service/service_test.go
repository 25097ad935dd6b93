// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package service

import (
	"testing"
	"time"

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

func testProver(t *testing.T) (*proving.Prover, *randomx.PoW, config.Config) {
	t.Helper()
	const totalLabels = 32
	const scryptN = 16

	dir := t.TempDir()
	nodeID := []byte{1, 2, 3, 4}
	commitmentAtxID := []byte{5, 6, 7, 8}
	commitment := initialization.CommitmentBytes(nodeID, commitmentAtxID)

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

	cfg := config.DefaultConfig()
	cfg.K1 = 4
	cfg.K2 = 2
	cfg.K3 = 2
	cfg.Scrypt = config.ScryptParams{N: scryptN, R: 1, P: 1}
	cfg.K2PowDifficulty = ^uint64(0)
	cfg.K3PowDifficulty = ^uint64(0)
	for i := range cfg.PowDifficulty {
		cfg.PowDifficulty[i] = 0xff
	}

	pow, err := randomx.New(false)
	require.NoError(t, err)

	return proving.NewProver(dir, cfg, pow), pow, cfg
}

func TestGenProofIdleThenFinished(t *testing.T) {
	prover, pow, _ := testProver(t)
	defer pow.Close()

	svc := New(prover, 16, ProofMetadata{NodeId: []byte{1}}, nil)

	var challenge [32]byte
	status, proof, _, err := svc.GenProof(challenge)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)
	assert.Nil(t, proof)

	// The poll that observes completion returns the result and moves the
	// service back to Idle, so the result is captured from that poll.
	var meta ProofMetadata
	require.Eventually(t, func() bool {
		status, proof, meta, err = svc.GenProof(challenge)
		return status != StatusInProgress
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)
	require.NotNil(t, proof)
	assert.Equal(t, challenge, meta.Challenge)
}

func TestGenProofBusyDifferentChallenge(t *testing.T) {
	prover, pow, _ := testProver(t)
	defer pow.Close()

	svc := New(prover, 16, ProofMetadata{}, nil)

	var challengeA, challengeB [32]byte
	challengeB[0] = 1

	status, _, _, err := svc.GenProof(challengeA)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, status)

	status, _, _, err = svc.GenProof(challengeB)
	assert.ErrorIs(t, err, ErrBusyDifferentChallenge)
	assert.Equal(t, StatusError, status)

	svc.Shutdown()
}

func TestShutdownWhenIdleIsNoOp(t *testing.T) {
	prover, pow, _ := testProver(t)
	defer pow.Close()

	svc := New(prover, 16, ProofMetadata{}, nil)
	svc.Shutdown() // must not block or panic
}

func TestShutdownCancelsRunningWorker(t *testing.T) {
	prover, pow, _ := testProver(t)
	defer pow.Close()

	svc := New(prover, 16, ProofMetadata{}, nil)
	var challenge [32]byte
	_, _, _, err := svc.GenProof(challenge)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		svc.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Shutdown did not return")
	}

	// After shutdown, the service is idle again and a fresh GenProof call
	// starts a brand new worker rather than resuming the cancelled one.
	status, _, _, err := svc.GenProof(challenge)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, status)
	svc.Shutdown()
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "InProgress", StatusInProgress.String())
	assert.Equal(t, "Finished", StatusFinished.String())
	assert.Equal(t, "Error", StatusError.String())
}
