// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellpost/post/shared"
)

func TestSaveLoadMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	nonce := uint64(42)
	want := &shared.PostMetadata{
		NodeId:          []byte{1, 2, 3},
		CommitmentAtxId: []byte{4, 5, 6},
		LabelsPerUnit:   1 << 12,
		NumUnits:        4,
		MaxFileSize:     1 << 20,
		Nonce:           &nonce,
		NonceValue:      []byte{7, 8, 9},
	}

	require.NoError(t, SaveMetadata(dir, want))

	got, err := LoadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, want.NodeId, got.NodeId)
	assert.Equal(t, want.CommitmentAtxId, got.CommitmentAtxId)
	assert.Equal(t, want.LabelsPerUnit, got.LabelsPerUnit)
	assert.Equal(t, want.NumUnits, got.NumUnits)
	assert.Equal(t, want.MaxFileSize, got.MaxFileSize)
	require.NotNil(t, got.Nonce)
	assert.Equal(t, *want.Nonce, *got.Nonce)
	assert.Equal(t, want.NonceValue, got.NonceValue)
}

func TestLoadMetadataMissingFile(t *testing.T) {
	_, err := LoadMetadata(t.TempDir())
	assert.Error(t, err)
}

func TestLoadMetadataRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, shared.MetadataFileName())
	require.NoError(t, os.WriteFile(path, []byte(`{"NodeId":"AQ==","NotAField":1}`), 0o644))

	_, err := LoadMetadata(dir)
	assert.Error(t, err)
}

func TestSaveMetadataIsAtomic(t *testing.T) {
	dir := t.TempDir()
	m := &shared.PostMetadata{NodeId: []byte{1}, LabelsPerUnit: 1, NumUnits: 1}
	require.NoError(t, SaveMetadata(dir, m))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// No leftover temp file should remain after a successful save.
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
