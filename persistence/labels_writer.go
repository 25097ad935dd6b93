// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shellpost/post/shared"
)

const labelSize = shared.BitsPerLabel / 8 // 16 bytes

// LabelsWriter appends 16-byte labels to a single numbered chunk file.
// Initialization opens a new writer each time it rolls over to the next
// file.
type LabelsWriter struct {
	f    *os.File
	path string
}

// NewLabelsWriter opens (creating if necessary) the chunk file with the
// given index in dir for appending.
func NewLabelsWriter(dir string, fileIndex int, bitsPerLabel uint) (*LabelsWriter, error) {
	if bitsPerLabel != shared.BitsPerLabel {
		return nil, fmt.Errorf("persistence: unsupported label width %d bits", bitsPerLabel)
	}
	path := filepath.Join(dir, shared.InitFileName(fileIndex))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("persistence: failed to open chunk file %s: %w", path, err)
	}
	return &LabelsWriter{f: f, path: path}, nil
}

// NumLabelsWritten returns how many whole labels are currently persisted
// in this chunk file.
func (w *LabelsWriter) NumLabelsWritten() (uint64, error) {
	info, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()) / labelSize, nil
}

// Write appends a batch of 32-byte scrypt outputs, truncating each to
// its first 16 bytes before persisting it.
func (w *LabelsWriter) Write(scryptOutput []byte) error {
	if len(scryptOutput)%32 != 0 {
		return fmt.Errorf("persistence: scrypt output length %d is not a multiple of 32", len(scryptOutput))
	}
	count := len(scryptOutput) / 32
	buf := make([]byte, count*labelSize)
	for i := 0; i < count; i++ {
		copy(buf[i*labelSize:], scryptOutput[i*32:i*32+labelSize])
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("persistence: failed to write chunk file %s: %w", w.path, err)
	}
	return nil
}

// Truncate shrinks the chunk file to exactly numLabels labels.
func (w *LabelsWriter) Truncate(numLabels uint64) error {
	if err := w.f.Truncate(int64(numLabels) * labelSize); err != nil {
		return fmt.Errorf("persistence: failed to truncate chunk file %s: %w", w.path, err)
	}
	if _, err := w.f.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	return nil
}

// Flush durably persists all writes to this chunk file.
func (w *LabelsWriter) Flush() error {
	return w.f.Sync()
}

// Close releases the underlying file handle.
func (w *LabelsWriter) Close() error {
	return w.f.Close()
}
