// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package client implements the Client state machine: a
// reconnecting bridge between a local ProofService and a remote
// coordinator, talking length-prefixed JSON over a duplex stream.
//
// Grounded on mining/mobilex/pool/stratum.go's StratumServer/StratumClient
// read-loop and method-dispatch shape, adapted from stratum's
// newline-delimited JSON-RPC framing to the length-prefixed framing this
// protocol requires (no message here is guaranteed free of literal
// newlines, since proof payloads are raw bytes over the wire).
package client

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single message so a malformed or hostile peer
// can't force an unbounded allocation via the length prefix.
const maxFrameSize = 64 << 20

// NodeRequest is a message from the coordinator to this client.
type NodeRequest struct {
	Kind      string `json:"kind"`
	Challenge []byte `json:"challenge,omitempty"`
}

const kindGenProof = "GenProof"

// ResponseStatus mirrors the wire encoding of a GenProof outcome.
type ResponseStatus string

const (
	StatusOk          ResponseStatus = "Ok"
	StatusInProgress  ResponseStatus = "InProgress"
	StatusError       ResponseStatus = "Error"
)

// WireProof is the packed proof payload.
type WireProof struct {
	Nonce   uint32 `json:"nonce"`
	Indices []byte `json:"indices"`
	Pow     uint64 `json:"pow"`
}

// WireMetadata accompanies a finished proof.
type WireMetadata struct {
	Challenge       []byte `json:"challenge"`
	SmesherId       []byte `json:"smesher_id"`
	CommitmentAtxId []byte `json:"commitment_atx_id"`
	NumUnits        uint32 `json:"num_units"`
	LabelsPerUnit   uint64 `json:"labels_per_unit"`
}

// ServiceResponse is this client's reply to a NodeRequest.
type ServiceResponse struct {
	Kind     string         `json:"kind"`
	Status   ResponseStatus `json:"status"`
	Proof    *WireProof      `json:"proof,omitempty"`
	Metadata *WireMetadata   `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// errorResponse builds a GenProof response carrying an error, used both
// for worker failures and malformed/unknown requests.
func errorResponse(msg string) ServiceResponse {
	return ServiceResponse{Kind: kindGenProof, Status: StatusError, Error: msg}
}

// readFrame reads one length-prefixed message: a 4-byte big-endian
// length followed by that many bytes of JSON.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("client: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame writes payload as one length-prefixed message.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRequest reads and decodes one NodeRequest frame.
func readRequest(r io.Reader) (NodeRequest, error) {
	raw, err := readFrame(r)
	if err != nil {
		return NodeRequest{}, err
	}
	var req NodeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NodeRequest{}, fmt.Errorf("client: malformed request: %w", err)
	}
	return req, nil
}

// writeResponse encodes and writes one ServiceResponse frame.
func writeResponse(w io.Writer, resp ServiceResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("client: failed to encode response: %w", err)
	}
	return writeFrame(w, raw)
}
