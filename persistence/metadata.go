// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package persistence implements the on-disk layout of a PoST data set:
// the metadata record and the label chunk files, written and read
// sequentially.
package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shellpost/post/shared"
)

// LoadMetadata reads and validates the metadata record in dir. It fails
// if the file is missing, malformed, or contains unknown fields.
func LoadMetadata(dir string) (*shared.PostMetadata, error) {
	path := filepath.Join(dir, shared.MetadataFileName())
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("persistence: metadata file is missing: %w", err)
		}
		return nil, fmt.Errorf("persistence: failed to read metadata: %w", err)
	}

	var m shared.PostMetadata
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("persistence: malformed metadata: %w", err)
	}
	return &m, nil
}

// SaveMetadata atomically persists the metadata record to dir: it writes
// to a temp file in the same directory and renames it into place, so a
// reader never observes a partially-written record.
func SaveMetadata(dir string, m *shared.PostMetadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: failed to encode metadata: %w", err)
	}

	path := filepath.Join(dir, shared.MetadataFileName())
	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: failed to create temp metadata file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: failed to write temp metadata file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: failed to sync temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: failed to close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("persistence: failed to rename metadata file into place: %w", err)
	}
	return nil
}
