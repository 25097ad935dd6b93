// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellpost/post/shared"
)

// scryptOutputFor builds a 32-byte-per-label buffer whose first 16 bytes
// (the persisted label) are deterministic per index, so round-trip
// content can be checked.
func scryptOutputFor(startIndex uint64, count int) []byte {
	out := make([]byte, count*32)
	for i := 0; i < count; i++ {
		idx := startIndex + uint64(i)
		for b := 0; b < 16; b++ {
			out[i*32+b] = byte(idx + uint64(b))
		}
	}
	return out
}

func TestLabelsWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w.Write(scryptOutputFor(0, 10)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	n, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	written, err := n.NumLabelsWritten()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), written)
	require.NoError(t, n.Close())

	meta := &shared.PostMetadata{LabelsPerUnit: 10, NumUnits: 1}
	r, err := NewLabelsReader(dir, meta)
	require.NoError(t, err)

	buf := make([]byte, 10*16)
	require.NoError(t, r.ReadAt(0, buf))
	want := scryptOutputFor(0, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, want[i*32:i*32+16], buf[i*16:i*16+16], "label %d", i)
	}
}

func TestLabelsReaderSpansMultipleFiles(t *testing.T) {
	dir := t.TempDir()

	w0, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w0.Write(scryptOutputFor(0, 5)))
	require.NoError(t, w0.Close())

	w1, err := NewLabelsWriter(dir, 1, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w1.Write(scryptOutputFor(5, 5)))
	require.NoError(t, w1.Close())

	meta := &shared.PostMetadata{LabelsPerUnit: 10, NumUnits: 1}
	r, err := NewLabelsReader(dir, meta)
	require.NoError(t, err)

	buf := make([]byte, 10*16)
	require.NoError(t, r.ReadAt(0, buf))
	want := scryptOutputFor(0, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, want[i*32:i*32+16], buf[i*16:i*16+16], "label %d", i)
	}
}

func TestLabelsReaderRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w.Write(scryptOutputFor(0, 5)))
	require.NoError(t, w.Close())

	meta := &shared.PostMetadata{LabelsPerUnit: 5, NumUnits: 1}
	r, err := NewLabelsReader(dir, meta)
	require.NoError(t, err)

	buf := make([]byte, 16)
	err = r.ReadAt(5, buf)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestLabelsWriterTruncate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w.Write(scryptOutputFor(0, 10)))
	require.NoError(t, w.Truncate(4))
	require.NoError(t, w.Close())

	n, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	written, err := n.NumLabelsWritten()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), written)
	require.NoError(t, n.Close())
}

func TestStreamVisitsEveryLabelInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w.Write(scryptOutputFor(0, 25)))
	require.NoError(t, w.Close())

	meta := &shared.PostMetadata{LabelsPerUnit: 25, NumUnits: 1}
	r, err := NewLabelsReader(dir, meta)
	require.NoError(t, err)

	var seen uint64
	var lastStart uint64
	first := true
	err = r.Stream(7, func(startIndex uint64, labels []byte) error {
		if !first {
			assert.Greater(t, startIndex, lastStart)
		}
		first = false
		lastStart = startIndex
		seen += uint64(len(labels)) / 16
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(25), seen)
}

func TestDiskStateCountsFilesAndLabels(t *testing.T) {
	dir := t.TempDir()
	w0, err := NewLabelsWriter(dir, 0, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w0.Write(scryptOutputFor(0, 3)))
	require.NoError(t, w0.Close())

	w1, err := NewLabelsWriter(dir, 1, shared.BitsPerLabel)
	require.NoError(t, err)
	require.NoError(t, w1.Write(scryptOutputFor(3, 2)))
	require.NoError(t, w1.Close())

	ds := NewDiskState(dir, shared.BitsPerLabel)
	total, err := ds.NumLabelsWritten()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), total)

	files, err := ds.NumFilesWritten()
	require.NoError(t, err)
	assert.Equal(t, 2, files)
}

func TestDiskStateEmptyDir(t *testing.T) {
	ds := NewDiskState(t.TempDir(), shared.BitsPerLabel)
	total, err := ds.NumLabelsWritten()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), total)

	files, err := ds.NumFilesWritten()
	require.NoError(t, err)
	assert.Equal(t, 0, files)
}
