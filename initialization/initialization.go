// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package initialization implements the PoST initialization engine: it
// drives the scrypt label kernel across an index
// range, truncates each output to a 16-byte label, persists chunk files,
// and -- optionally -- searches for a VRF nonce.
//
// Grounded directly on other_examples/49e25219_fourierism-post's
// initialization.go (resumable, atomic-pointer-tracked last position
// and nonce, functional-options constructor) cross-checked against
// other_examples/af8c8098_minerdao-post's framing of the same
// algorithm.
package initialization

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shellpost/post/config"
	"github.com/shellpost/post/internal/postrs"
	"github.com/shellpost/post/internal/securemem"
	"github.com/shellpost/post/oracle"
	"github.com/shellpost/post/persistence"
	"github.com/shellpost/post/shared"
)

type (
	Config              = config.Config
	InitOpts            = config.InitOpts
	Logger              = zap.Logger
	ConfigMismatchError = shared.ConfigMismatchError
)

// Status describes how far along initialization of a data directory is.
type Status int

const (
	StatusNotStarted Status = iota
	StatusStarted
	StatusInitializing
	StatusCompleted
	StatusError
)

var (
	ErrAlreadyInitializing          = errors.New("initialization: already initializing")
	ErrCannotResetWhileInitializing = errors.New("initialization: cannot reset while initializing")
)

// OpenCLProviders returns the available compute providers (always empty
// in this repository; see internal/postrs.OpenCLProviders).
func OpenCLProviders() ([]postrs.Provider, error) {
	return postrs.OpenCLProviders()
}

// CPUProviderID returns the ID of the built-in CPU provider.
func CPUProviderID() uint {
	return postrs.CPUProviderID
}

// CommitmentBytes computes the 32-byte commitment for a (nodeId,
// commitmentAtxId) pair: sha256(nodeId || commitmentAtxId).
func CommitmentBytes(nodeId, commitmentAtxId []byte) []byte {
	h := sha256.New()
	h.Write(nodeId)
	h.Write(commitmentAtxId)
	return h.Sum(nil)
}

type option struct {
	nodeId          []byte
	commitmentAtxId []byte
	commitment      []byte

	cfg      *Config
	initOpts *config.InitOpts

	logger *Logger
}

func (o *option) validate() error {
	if o.nodeId == nil {
		return errors.New("initialization: `nodeId` is required")
	}
	if o.commitmentAtxId == nil {
		return errors.New("initialization: `commitmentAtxId` is required")
	}
	o.commitment = CommitmentBytes(o.nodeId, o.commitmentAtxId)

	if o.cfg == nil {
		return errors.New("initialization: no config provided")
	}
	if o.initOpts == nil {
		return errors.New("initialization: no init options provided")
	}
	return config.Validate(*o.cfg, *o.initOpts)
}

// OptionFunc configures an Initializer.
type OptionFunc func(*option) error

// WithNodeId sets the ID of the node.
func WithNodeId(nodeId []byte) OptionFunc {
	return func(o *option) error {
		if len(nodeId) != 32 {
			return fmt.Errorf("initialization: invalid `nodeId` length; expected 32, got %d", len(nodeId))
		}
		o.nodeId = nodeId
		return nil
	}
}

// WithCommitmentAtxId sets the ID of the commitment ATX.
func WithCommitmentAtxId(id []byte) OptionFunc {
	return func(o *option) error {
		if len(id) != 32 {
			return fmt.Errorf("initialization: invalid `commitmentAtxId` length; expected 32, got %d", len(id))
		}
		o.commitmentAtxId = id
		return nil
	}
}

// WithInitOpts sets the per-run init options.
func WithInitOpts(opts config.InitOpts) OptionFunc {
	return func(o *option) error {
		o.initOpts = &opts
		return nil
	}
}

// WithConfig sets the network-wide config.
func WithConfig(cfg Config) OptionFunc {
	return func(o *option) error {
		o.cfg = &cfg
		return nil
	}
}

// WithLogger sets the logger used for initialization progress.
func WithLogger(logger *Logger) OptionFunc {
	return func(o *option) error {
		o.logger = logger
		return nil
	}
}

// Initializer drives the label kernel over a commitment, persisting the
// resulting PoST data set and (optionally) the VRF nonce.
type Initializer struct {
	nodeId          []byte
	commitmentAtxId []byte
	commitment      []byte

	cfg  Config
	opts InitOpts

	nonceValue   []byte
	nonce        atomic.Pointer[uint64]
	lastPosition atomic.Pointer[uint64]

	numLabelsWritten atomic.Uint64
	diskState        *persistence.DiskState
	mtx              sync.RWMutex

	logger *Logger
}

// NewInitializer constructs an Initializer from options, resuming any
// prior progress found in the configured data directory.
func NewInitializer(opts ...OptionFunc) (*Initializer, error) {
	options := &option{logger: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	init := &Initializer{
		cfg:             *options.cfg,
		opts:            *options.initOpts,
		nodeId:          options.nodeId,
		commitmentAtxId: options.commitmentAtxId,
		commitment:      options.commitment,
		diskState:       persistence.NewDiskState(options.initOpts.DataDir, shared.BitsPerLabel),
		logger:          options.logger,
	}

	if err := os.MkdirAll(init.opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("initialization: failed to create data directory: %w", err)
	}

	numLabelsWritten, err := init.diskState.NumLabelsWritten()
	if err != nil {
		return nil, err
	}

	if numLabelsWritten > 0 {
		m, err := persistence.LoadMetadata(init.opts.DataDir)
		if err != nil {
			return nil, err
		}
		if err := init.verifyMetadata(m); err != nil {
			return nil, err
		}
		init.nonce.Store(m.Nonce)
		init.lastPosition.Store(m.LastPosition)
		if m.NonceValue != nil {
			init.nonceValue = append([]byte(nil), m.NonceValue...)
		}
	}

	return init, nil
}

// Initialize drives the label kernel across the full index range implied
// by opts.NumUnits, persisting labels and -- if a VRF difficulty was
// configured -- tracking the VRF nonce as labels are written. If no label
// of the data set qualifies, the search continues past the data set's
// last index until a nonce is found.
func (init *Initializer) Initialize(ctx context.Context) error {
	if !init.mtx.TryLock() {
		return ErrAlreadyInitializing
	}
	defer init.mtx.Unlock()

	layout := deriveFilesLayout(init.cfg, init.opts)
	init.logger.Info("initialization started",
		zap.String("datadir", init.opts.DataDir),
		zap.Uint32("numUnits", init.opts.NumUnits),
		zap.Uint64("maxFileSize", init.opts.MaxFileSize),
		zap.Uint64("labelsPerUnit", init.cfg.LabelsPerUnit),
	)
	init.logger.Info("initialization file layout",
		zap.Uint("numFiles", layout.NumFiles),
		zap.Uint64("labelsPerFile", layout.FileNumLabels),
		zap.Uint64("labelsLastFile", layout.LastFileNumLabels),
	)

	if err := init.removeRedundantFiles(layout); err != nil {
		return err
	}

	if err := securemem.Lock(init.commitment); err != nil {
		init.logger.Warn("failed to pin commitment bytes in memory", zap.Error(err))
	}
	defer securemem.Unlock(init.commitment)

	numLabels := uint64(init.opts.NumUnits) * init.cfg.LabelsPerUnit

	wo, err := oracle.New(
		oracle.WithProviderID(init.opts.ProviderID),
		oracle.WithCommitment(init.commitment),
		oracle.WithVRFDifficulty(init.opts.VrfDifficulty),
		oracle.WithScryptParams(init.cfg.Scrypt.N),
		oracle.WithLogger(init.logger),
	)
	if err != nil {
		return err
	}
	defer wo.Close()

	batchSize := init.opts.ComputeBatchSize
	for i := 0; i < int(layout.NumFiles); i++ {
		fileOffset := uint64(i) * layout.FileNumLabels
		fileNumLabels := layout.FileNumLabels
		if i == int(layout.NumFiles)-1 {
			fileNumLabels = layout.LastFileNumLabels
		}
		if err := init.initFile(ctx, wo, i, batchSize, fileOffset, fileNumLabels); err != nil {
			return err
		}
	}

	if init.opts.VrfDifficulty == nil || init.nonce.Load() != nil {
		return init.saveMetadata()
	}

	init.logger.Info("initialization: no nonce found while computing labels, continue searching")
	if init.lastPosition.Load() == nil || *init.lastPosition.Load() < numLabels {
		lastPos := numLabels
		init.lastPosition.Store(&lastPos)
	}
	defer init.saveMetadata()

	for i := *init.lastPosition.Load(); i < math.MaxUint64; i += batchSize {
		lastPos := i
		init.lastPosition.Store(&lastPos)

		select {
		case <-ctx.Done():
			init.logger.Info("initialization: stopped")
			return ctx.Err()
		default:
		}

		end := i + batchSize - 1
		res, err := wo.Positions(i, end)
		if err != nil {
			return err
		}
		if res.Nonce != nil {
			init.nonce.Store(res.Nonce)
			init.nonceValue = wo.BestNonceValue()[:16]
			init.logger.Info("initialization: found nonce", zap.Uint64("nonce", *res.Nonce))
			return nil
		}
	}

	return fmt.Errorf("initialization: no nonce found")
}

func (init *Initializer) removeRedundantFiles(layout filesLayout) error {
	numFiles, err := init.diskState.NumFilesWritten()
	if err != nil {
		return err
	}
	for i := int(layout.NumFiles); i < numFiles; i++ {
		name := shared.InitFileName(i)
		init.logger.Info("initialization: removing redundant file", zap.String("fileName", name))
		if err := init.RemoveFile(name); err != nil {
			return err
		}
	}
	return nil
}

// NumLabelsWritten returns how many labels have been persisted so far.
func (init *Initializer) NumLabelsWritten() uint64 {
	return init.numLabelsWritten.Load()
}

// Nonce returns the VRF-nonce index found during initialization, if any.
func (init *Initializer) Nonce() *uint64 {
	return init.nonce.Load()
}

// NonceValue returns the 16-byte label value of the VRF nonce, if any.
func (init *Initializer) NonceValue() []byte {
	return init.nonceValue
}

// Reset deletes all label and metadata files, allowing re-initialization
// from scratch.
func (init *Initializer) Reset() error {
	if !init.mtx.TryLock() {
		return ErrCannotResetWhileInitializing
	}
	defer init.mtx.Unlock()

	files, err := os.ReadDir(init.opts.DataDir)
	if err != nil {
		return err
	}
	for _, file := range files {
		info, err := file.Info()
		if err != nil {
			continue
		}
		name := file.Name()
		if shared.IsInitFile(info) || name == shared.MetadataFileName() {
			if err := init.RemoveFile(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveFile removes a single named file from the data directory.
func (init *Initializer) RemoveFile(name string) error {
	path := filepath.Join(init.opts.DataDir, name)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("initialization: failed to delete file (%v): %w", path, err)
	}
	return nil
}

// Status reports how far along initialization of this data directory is.
func (init *Initializer) Status() Status {
	if !init.mtx.TryLock() {
		return StatusInitializing
	}
	defer init.mtx.Unlock()

	numLabelsWritten, err := init.diskState.NumLabelsWritten()
	if err != nil {
		return StatusError
	}

	target := uint64(init.opts.NumUnits) * init.cfg.LabelsPerUnit
	switch {
	case numLabelsWritten == target:
		return StatusCompleted
	case numLabelsWritten > 0:
		return StatusStarted
	default:
		return StatusNotStarted
	}
}

func (init *Initializer) initFile(ctx context.Context, wo *oracle.WorkOracle, fileIndex int, batchSize, fileOffset, fileNumLabels uint64) error {
	writer, err := persistence.NewLabelsWriter(init.opts.DataDir, fileIndex, shared.BitsPerLabel)
	if err != nil {
		return err
	}
	defer writer.Close()

	numLabelsWritten, err := writer.NumLabelsWritten()
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("fileIndex", fileIndex),
		zap.Uint64("currentNumLabels", numLabelsWritten),
		zap.Uint64("targetNumLabels", fileNumLabels),
		zap.Uint64("startPosition", fileOffset),
	}

	switch {
	case numLabelsWritten == fileNumLabels:
		init.logger.Info("initialization: file already initialized", fields...)
		init.numLabelsWritten.Store(fileOffset + fileNumLabels)
		return nil

	case numLabelsWritten > fileNumLabels:
		init.logger.Info("initialization: truncating file", fields...)
		if err := writer.Truncate(fileNumLabels); err != nil {
			return err
		}
		init.numLabelsWritten.Store(fileOffset + fileNumLabels)
		return nil

	case numLabelsWritten > 0:
		init.logger.Info("initialization: continuing to write file", fields...)

	default:
		init.logger.Info("initialization: starting to write file", fields...)
	}

	for currentPosition := numLabelsWritten; currentPosition < fileNumLabels; {
		select {
		case <-ctx.Done():
			init.logger.Info("initialization: stopped")
			return ctx.Err()
		default:
		}

		remaining := fileNumLabels - currentPosition
		batch := batchSize
		if remaining < batch {
			batch = remaining
		}

		startPosition := fileOffset + currentPosition
		endPosition := startPosition + batch - 1

		res, err := wo.Positions(startPosition, endPosition)
		if err != nil {
			return err
		}

		if res.Nonce != nil && (init.nonce.Load() == nil || *res.Nonce != *init.nonce.Load()) &&
			(init.nonceValue == nil || bytes.Compare(wo.BestNonceValue()[:16], init.nonceValue) < 0) {
			nonce := *res.Nonce
			candidate := wo.BestNonceValue()
			init.nonce.Store(&nonce)
			init.nonceValue = candidate[:16]
			init.logger.Info("initialization: found new best nonce",
				zap.Uint64("nonce", nonce),
				zap.String("value", hex.EncodeToString(init.nonceValue)))
			if err := init.saveMetadata(); err != nil {
				return err
			}
		}

		if err := writer.Write(res.Output); err != nil {
			return err
		}

		currentPosition += batch
		init.numLabelsWritten.Store(fileOffset + currentPosition)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	numLabelsWritten, err = writer.NumLabelsWritten()
	if err != nil {
		return err
	}
	init.logger.Info("initialization: file completed",
		zap.Int("fileIndex", fileIndex),
		zap.Uint64("numLabelsWritten", numLabelsWritten))
	return nil
}

func (init *Initializer) verifyMetadata(m *shared.PostMetadata) error {
	if !bytes.Equal(init.nodeId, m.NodeId) {
		return ConfigMismatchError{Param: "NodeId", Expected: fmt.Sprintf("%x", init.nodeId), Found: fmt.Sprintf("%x", m.NodeId), DataDir: init.opts.DataDir}
	}
	if !bytes.Equal(init.commitmentAtxId, m.CommitmentAtxId) {
		return ConfigMismatchError{Param: "CommitmentAtxId", Expected: fmt.Sprintf("%x", init.commitmentAtxId), Found: fmt.Sprintf("%x", m.CommitmentAtxId), DataDir: init.opts.DataDir}
	}
	if init.cfg.LabelsPerUnit != m.LabelsPerUnit {
		return ConfigMismatchError{Param: "LabelsPerUnit", Expected: fmt.Sprintf("%d", init.cfg.LabelsPerUnit), Found: fmt.Sprintf("%d", m.LabelsPerUnit), DataDir: init.opts.DataDir}
	}
	if init.opts.MaxFileSize != m.MaxFileSize {
		return ConfigMismatchError{Param: "MaxFileSize", Expected: fmt.Sprintf("%d", init.opts.MaxFileSize), Found: fmt.Sprintf("%d", m.MaxFileSize), DataDir: init.opts.DataDir}
	}
	if init.opts.NumUnits > m.NumUnits {
		return ConfigMismatchError{Param: "NumUnits", Expected: fmt.Sprintf(">= %d", init.opts.NumUnits), Found: fmt.Sprintf("%d", m.NumUnits), DataDir: init.opts.DataDir}
	}
	return nil
}

func (init *Initializer) saveMetadata() error {
	v := shared.PostMetadata{
		NodeId:          init.nodeId,
		CommitmentAtxId: init.commitmentAtxId,
		LabelsPerUnit:   init.cfg.LabelsPerUnit,
		NumUnits:        init.opts.NumUnits,
		MaxFileSize:     init.opts.MaxFileSize,
		Nonce:           init.nonce.Load(),
		NonceValue:      init.nonceValue,
		LastPosition:    init.lastPosition.Load(),
	}
	return persistence.SaveMetadata(init.opts.DataDir, &v)
}
