// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shellpost/post/proving"
	"github.com/shellpost/post/service"
	"github.com/shellpost/post/verification"
)

// State is a Client's position in the reconnect loop.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateServing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateRegistered:
		return "Registered"
	case StateServing:
		return "Serving"
	default:
		return "Unknown"
	}
}

// Config holds the parameters of one Client run. TLS, if desired, is
// built by the caller (cmd/post-service owns certificate loading) and
// passed separately to New as a *tls.Config: all-or-nothing.
type Config struct {
	Address           string
	SmesherID         []byte
	ReconnectInterval time.Duration
	MaxRetries        int // 0 means unlimited

	// Verify, when set, is run locally against a Finished proof before it
	// is sent to the coordinator; a failing verification downgrades the
	// response to Error and discards the proof.
	Verify func(challenge [32]byte, proof *proving.Proof) error
}

// Client bridges a local ProofService to a remote coordinator over a
// reconnecting, length-prefixed JSON transport.
type Client struct {
	cfg     Config
	svc     *service.ProofService
	logger  *zap.Logger
	dialTLS *tls.Config

	mu    sync.Mutex
	state State
}

// New builds a Client wrapping svc. A non-nil dialTLSConfig makes the
// client dial with TLS; it is pre-built by the caller (cmd/post-service
// owns certificate loading so this package stays free of filesystem
// concerns). A nil dialTLSConfig dials plain TCP.
func New(cfg Config, svc *service.ProofService, dialTLSConfig *tls.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, svc: svc, logger: logger, dialTLS: dialTLSConfig, state: StateDisconnected}
}

// State reports the client's current position in the reconnect loop.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ErrMaxRetriesExceeded is returned by Run when cfg.MaxRetries is set
// and that many consecutive connection failures have occurred.
var ErrMaxRetriesExceeded = errors.New("client: max reconnect attempts exceeded")

// Run drives the reconnect loop until ctx is cancelled or MaxRetries is
// exceeded.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		default:
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			attempts++
			c.logger.Warn("connect failed", zap.Error(err), zap.Int("attempt", attempts))
			if c.cfg.MaxRetries > 0 && attempts >= c.cfg.MaxRetries {
				c.setState(StateDisconnected)
				return ErrMaxRetriesExceeded
			}
			if !sleepOrDone(ctx, c.cfg.ReconnectInterval) {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			continue
		}

		if err := c.register(conn); err != nil {
			conn.Close()
			c.logger.Warn("register failed", zap.Error(err))
			attempts++
			if c.cfg.MaxRetries > 0 && attempts >= c.cfg.MaxRetries {
				c.setState(StateDisconnected)
				return ErrMaxRetriesExceeded
			}
			if !sleepOrDone(ctx, c.cfg.ReconnectInterval) {
				c.setState(StateDisconnected)
				return ctx.Err()
			}
			continue
		}
		attempts = 0
		c.setState(StateRegistered)

		c.setState(StateServing)
		serveErr := c.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		c.logger.Info("transport lost, reconnecting", zap.Error(serveErr))
		c.setState(StateConnecting)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{}
	if c.dialTLS != nil {
		return tls.DialWithDialer(dialer, "tcp", c.cfg.Address, c.dialTLS)
	}
	return dialer.DialContext(ctx, "tcp", c.cfg.Address)
}

// register sends the one-time Register message a coordinator expects
// right after connecting.
func (c *Client) register(conn net.Conn) error {
	payload, err := json.Marshal(struct {
		Kind      string `json:"kind"`
		SmesherID []byte `json:"smesher_id"`
	}{Kind: "Register", SmesherID: c.cfg.SmesherID})
	if err != nil {
		return err
	}
	return writeFrame(conn, payload)
}

// serve runs the read-dispatch-write loop for one connection. A single
// outbound sender (this goroutine) serializes responses, preserving
// request/response ordering on the connection.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := readRequest(conn)
		if err != nil {
			return err
		}

		resp := c.handle(req)
		if err := writeResponse(conn, resp); err != nil {
			return err
		}
	}
}

// handle dispatches one NodeRequest to a ServiceResponse.
// Unknown or malformed kinds get an Error response; the connection stays
// open.
func (c *Client) handle(req NodeRequest) ServiceResponse {
	switch req.Kind {
	case kindGenProof:
		return c.handleGenProof(req)
	default:
		return errorResponse("unknown or malformed request kind: " + req.Kind)
	}
}

func (c *Client) handleGenProof(req NodeRequest) ServiceResponse {
	if len(req.Challenge) != 32 {
		return errorResponse("GenProof request missing 32-byte challenge")
	}
	var challenge [32]byte
	copy(challenge[:], req.Challenge)

	status, proof, meta, err := c.svc.GenProof(challenge)
	switch status {
	case service.StatusInProgress:
		return ServiceResponse{Kind: kindGenProof, Status: StatusInProgress}
	case service.StatusError:
		return errorResponse(err.Error())
	case service.StatusFinished:
		// Run the local Verifier before ever sending a proof out: a
		// failing verification downgrades to Error and the proof is
		// discarded, never transmitted.
		if c.cfg.Verify != nil {
			if verr := c.cfg.Verify(challenge, proof); verr != nil {
				var vErr *verification.Error
				msg := verr.Error()
				if errors.As(verr, &vErr) {
					msg = vErr.Error()
				}
				c.logger.Error("locally-generated proof failed verification; discarding", zap.Error(verr))
				return errorResponse(msg)
			}
		}
		return ServiceResponse{
			Kind:   kindGenProof,
			Status: StatusOk,
			Proof: &WireProof{
				Nonce:   proof.Nonce,
				Indices: proof.Indices,
				Pow:     proof.Pow,
			},
			Metadata: &WireMetadata{
				Challenge:       challenge[:],
				SmesherId:       meta.NodeId,
				CommitmentAtxId: meta.CommitmentAtxId,
				NumUnits:        meta.NumUnits,
				LabelsPerUnit:   meta.LabelsPerUnit,
			},
		}
	default:
		return errorResponse("service: unreachable status")
	}
}
