// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/json"
	"net"
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
	"github.com/shellpost/post/service"
	"github.com/shellpost/post/shared"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", StateDisconnected.String())
	assert.Equal(t, "Connecting", StateConnecting.String())
	assert.Equal(t, "Registered", StateRegistered.String())
	assert.Equal(t, "Serving", StateServing.String())
}

func TestHandleUnknownKind(t *testing.T) {
	c := New(Config{}, nil, nil, nil)
	resp := c.handle(NodeRequest{Kind: "NotAThing"})
	assert.Equal(t, StatusError, resp.Status)
}

func TestHandleGenProofRejectsBadChallenge(t *testing.T) {
	c := New(Config{}, nil, nil, nil)
	resp := c.handle(NodeRequest{Kind: kindGenProof, Challenge: []byte{1, 2, 3}})
	assert.Equal(t, StatusError, resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestRunExitsOnContextCancel(t *testing.T) {
	c := New(Config{Address: "127.0.0.1:0", ReconnectInterval: time.Millisecond}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRunExceedsMaxRetries(t *testing.T) {
	// Port 1 on loopback has no listener, so every dial fails
	// immediately and MaxRetries is exhausted quickly.
	c := New(Config{
		Address:           "127.0.0.1:1", // reserved, nothing listens
		ReconnectInterval: time.Millisecond,
		MaxRetries:        2,
	}, nil, nil, nil)

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func newTestService(t *testing.T) *service.ProofService {
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
		NodeId: nodeID, CommitmentAtxId: commitmentAtxID,
		LabelsPerUnit: totalLabels, NumUnits: 1, MaxFileSize: 1 << 30,
	}
	require.NoError(t, persistence.SaveMetadata(dir, meta))

	cfg := config.DefaultConfig()
	cfg.K1, cfg.K2, cfg.K3 = 4, 2, 2
	cfg.Scrypt = config.ScryptParams{N: scryptN, R: 1, P: 1}
	cfg.K2PowDifficulty = ^uint64(0)
	cfg.K3PowDifficulty = ^uint64(0)
	for i := range cfg.PowDifficulty {
		cfg.PowDifficulty[i] = 0xff
	}

	pow, err := randomx.New(false)
	require.NoError(t, err)
	t.Cleanup(pow.Close)

	prover := proving.NewProver(dir, cfg, pow)
	return service.New(prover, 16, service.ProofMetadata{NodeId: nodeID, CommitmentAtxId: commitmentAtxID}, nil)
}

func TestHandleGenProofInProgressThenOk(t *testing.T) {
	svc := newTestService(t)
	c := New(Config{}, svc, nil, nil)

	challenge := make([]byte, 32)
	challenge[0] = 42

	resp := c.handle(NodeRequest{Kind: kindGenProof, Challenge: challenge})
	assert.Equal(t, StatusInProgress, resp.Status)

	require.Eventually(t, func() bool {
		resp = c.handle(NodeRequest{Kind: kindGenProof, Challenge: challenge})
		return resp.Status != StatusInProgress
	}, 10*time.Second, 10*time.Millisecond)

	require.Equal(t, StatusOk, resp.Status)
	require.NotNil(t, resp.Proof)
	assert.Equal(t, challenge, resp.Metadata.Challenge)
}

func TestRegisterSendsExpectedMessage(t *testing.T) {
	server, clientConn := net.Pipe()
	defer server.Close()
	defer clientConn.Close()

	c := New(Config{SmesherID: []byte{9, 9}}, nil, nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.register(clientConn) }()

	raw, err := readFrame(server)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	var got struct {
		Kind      string `json:"kind"`
		SmesherID []byte `json:"smesher_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Register", got.Kind)
	assert.Equal(t, []byte{9, 9}, got.SmesherID)
}
