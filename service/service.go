// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package service implements the proof-service state machine:
// Idle/Running/Done wrapping the Prover behind a single worker
// goroutine and an idempotent GenProof poll.
//
// Grounded on mining/randomx/miner.go's Start/Stop/IsMining worker
// lifecycle (a single background goroutine, joined on shutdown via a
// stop signal) generalized from "run forever" to "run one scan, report
// its result once."
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shellpost/post/proving"
)

// Status reports the outcome of a GenProof poll.
type Status int

const (
	// StatusInProgress means a worker is scanning for challenge and
	// hasn't finished yet.
	StatusInProgress Status = iota
	// StatusFinished means the worker completed and a Proof is attached.
	StatusFinished
	// StatusError means the worker failed, or gen_proof was called for a
	// different challenge than the one currently running.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "InProgress"
	case StatusFinished:
		return "Finished"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrBusyDifferentChallenge is returned when GenProof is called with a
// challenge that differs from the one the running worker was given.
var ErrBusyDifferentChallenge = errors.New("service: already running a proof for a different challenge")

// ProofMetadata accompanies a finished proof over the wire.
type ProofMetadata struct {
	Challenge       [32]byte
	NodeId          []byte
	CommitmentAtxId []byte
	NumUnits        uint32
	LabelsPerUnit   uint64
}

type state int

const (
	stateIdle state = iota
	stateRunning
)

// ProofService owns at most one proof-generation worker at a time.
// GenProof is safe for concurrent callers. The worker goroutine observes
// the stop flag without locking and records its proof or error under the
// service's mutex.
type ProofService struct {
	mu    sync.Mutex
	state state

	challenge  [32]byte
	stopFlag   *atomic.Bool
	done       chan struct{}
	result     *proving.Proof
	workerErr  error

	prover     *proving.Prover
	nonceTotal uint32
	meta       ProofMetadata
	logger     *zap.Logger
}

// New builds a ProofService wrapping prover. nonceTotal is passed
// through to every GenerateProof call (a positive multiple of 16, at
// most 4096).
func New(prover *proving.Prover, nonceTotal uint32, meta ProofMetadata, logger *zap.Logger) *ProofService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProofService{
		state:      stateIdle,
		prover:     prover,
		nonceTotal: nonceTotal,
		meta:       meta,
		logger:     logger,
	}
}

// GenProof is the single entry point of the state machine. It is
// idempotent for a fixed challenge: repeated calls while a
// worker is running just poll its status.
func (s *ProofService) GenProof(challenge [32]byte) (Status, *proving.Proof, ProofMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateIdle:
		s.startWorker(challenge)
		return StatusInProgress, nil, ProofMetadata{}, nil

	case stateRunning:
		if challenge != s.challenge {
			return StatusError, nil, ProofMetadata{}, ErrBusyDifferentChallenge
		}
		select {
		case <-s.done:
			proof, err := s.result, s.workerErr
			meta := s.meta
			meta.Challenge = challenge
			s.state = stateIdle
			s.result = nil
			s.workerErr = nil
			if err != nil {
				return StatusError, nil, ProofMetadata{}, err
			}
			return StatusFinished, proof, meta, nil
		default:
			return StatusInProgress, nil, ProofMetadata{}, nil
		}
	}

	return StatusError, nil, ProofMetadata{}, errors.New("service: unreachable state")
}

// startWorker spawns the single background goroutine that runs the
// streaming scan for challenge. Caller must hold s.mu.
func (s *ProofService) startWorker(challenge [32]byte) {
	s.challenge = challenge
	s.state = stateRunning
	s.done = make(chan struct{})
	s.stopFlag = &atomic.Bool{}

	stopFlag := s.stopFlag
	done := s.done
	nonceTotal := s.nonceTotal
	prover := s.prover
	logger := s.logger

	go func() {
		defer close(done)
		proof, err := prover.GenerateProof(context.Background(), challenge, nonceTotal, stopFlag)

		s.mu.Lock()
		defer s.mu.Unlock()
		if stopFlag != s.stopFlag {
			// A Shutdown already tore down this run; don't clobber newer
			// state (there shouldn't be one, since Shutdown blocks until
			// this goroutine exits, but this guards the ordering anyway).
			return
		}
		s.result = proof
		s.workerErr = err
		if err != nil {
			logger.Warn("proof generation failed", zap.Error(err))
		}
	}()
}

// Shutdown sets the stop flag and blocks until the running worker (if
// any) observes it and exits. Safe to call when idle.
func (s *ProofService) Shutdown() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	stopFlag := s.stopFlag
	done := s.done
	s.mu.Unlock()

	stopFlag.Store(true)
	<-done

	s.mu.Lock()
	s.state = stateIdle
	s.mu.Unlock()
}
