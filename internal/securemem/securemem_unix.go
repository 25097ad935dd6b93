//go:build linux || darwin || freebsd || openbsd || netbsd

// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package securemem pins key material in physical memory so it can't be
// paged to swap. The Initializer uses it for the commitment bytes for the
// duration of a run; proving does not use it.
package securemem

import "golang.org/x/sys/unix"

// Lock pins buf's backing pages in memory. Safe to call on an empty
// slice (no-op).
func Lock(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Mlock(buf)
}

// Unlock releases pages pinned by Lock.
func Unlock(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munlock(buf)
}
