// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persistence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/shellpost/post/shared"
)

// ErrOutOfRange is returned when a read is attempted past the end of the
// data set implied by its metadata.
var ErrOutOfRange = errors.New("persistence: read past end of data set")

// chunkFile describes one numbered label file on disk.
type chunkFile struct {
	index     int
	path      string
	numLabels uint64
}

// DiskState inspects a data directory to determine how many labels and
// files it currently holds, without assuming initialization completed.
type DiskState struct {
	dir          string
	bitsPerLabel uint
}

// NewDiskState returns a DiskState rooted at dir.
func NewDiskState(dir string, bitsPerLabel uint) *DiskState {
	return &DiskState{dir: dir, bitsPerLabel: bitsPerLabel}
}

func (d *DiskState) chunkFiles() ([]chunkFile, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []chunkFile
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !shared.IsInitFile(info) {
			continue
		}
		var index int
		fmt.Sscanf(info.Name(), "postdata_%d.bin", &index)
		files = append(files, chunkFile{
			index:     index,
			path:      filepath.Join(d.dir, info.Name()),
			numLabels: uint64(info.Size()) / labelSize,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

// NumLabelsWritten returns the total number of labels persisted across
// all chunk files in the directory.
func (d *DiskState) NumLabelsWritten() (uint64, error) {
	files, err := d.chunkFiles()
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, f := range files {
		total += f.numLabels
	}
	return total, nil
}

// NumFilesWritten returns how many chunk files currently exist.
func (d *DiskState) NumFilesWritten() (int, error) {
	files, err := d.chunkFiles()
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	return files[len(files)-1].index + 1, nil
}

// LabelsReader sequentially yields labels from the chunk files in a data
// directory, concatenated in ascending file-number order.
type LabelsReader struct {
	dir        string
	files      []chunkFile
	totalLimit uint64 // total labels implied by metadata; reads beyond this fail
}

// NewLabelsReader opens a reader over dir, bounding reads to the total
// label count implied by m.
func NewLabelsReader(dir string, m *shared.PostMetadata) (*LabelsReader, error) {
	ds := NewDiskState(dir, shared.BitsPerLabel)
	files, err := ds.chunkFiles()
	if err != nil {
		return nil, err
	}
	return &LabelsReader{
		dir:        dir,
		files:      files,
		totalLimit: m.LabelsPerUnit * uint64(m.NumUnits),
	}, nil
}

// ReadAt reads len(buf)/16 whole labels starting at the given label
// offset into buf. len(buf) must be a multiple of 16.
func (r *LabelsReader) ReadAt(labelOffset uint64, buf []byte) error {
	if len(buf)%labelSize != 0 {
		return fmt.Errorf("persistence: buffer length %d is not a multiple of %d", len(buf), labelSize)
	}
	count := uint64(len(buf)) / labelSize
	if labelOffset+count > r.totalLimit {
		return ErrOutOfRange
	}

	remainingOffset := labelOffset
	dst := buf
	for _, f := range r.files {
		if remainingOffset >= f.numLabels {
			remainingOffset -= f.numLabels
			continue
		}
		avail := f.numLabels - remainingOffset
		toRead := uint64(len(dst)) / labelSize
		if toRead > avail {
			toRead = avail
		}
		if toRead == 0 {
			break
		}

		fh, err := os.Open(f.path)
		if err != nil {
			return fmt.Errorf("persistence: failed to open chunk file %s: %w", f.path, err)
		}
		n, err := fh.ReadAt(dst[:toRead*labelSize], int64(remainingOffset)*labelSize)
		fh.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("persistence: failed to read chunk file %s: %w", f.path, err)
		}
		if uint64(n) != toRead*labelSize {
			return fmt.Errorf("persistence: short read from chunk file %s: %w", f.path, io.ErrUnexpectedEOF)
		}

		dst = dst[toRead*labelSize:]
		remainingOffset = 0
		if len(dst) == 0 {
			return nil
		}
	}

	if len(dst) != 0 {
		return ErrOutOfRange
	}
	return nil
}

// Stream calls fn with successive batches of up to batchLabels labels,
// starting at label 0, until the whole data set (per metadata) has been
// consumed or fn returns an error.
func (r *LabelsReader) Stream(batchLabels uint64, fn func(startIndex uint64, labels []byte) error) error {
	buf := make([]byte, batchLabels*labelSize)
	for offset := uint64(0); offset < r.totalLimit; offset += batchLabels {
		n := batchLabels
		if offset+n > r.totalLimit {
			n = r.totalLimit - offset
		}
		chunk := buf[:n*labelSize]
		if err := r.ReadAt(offset, chunk); err != nil {
			return err
		}
		if err := fn(offset, chunk); err != nil {
			return err
		}
	}
	return nil
}
