// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package client

import (
	"os"
	"syscall"
	"time"
)

// pidPollInterval is how often WatchPID checks liveness. Kept short
// enough that a reaped process is noticed promptly.
const pidPollInterval = 250 * time.Millisecond

// WatchPID returns a channel that closes as soon as either the watched
// process is no longer alive, or term fires (by being closed or
// receiving a value) -- whichever happens first. It never blocks the
// caller; the polling runs on its own goroutine.
//
// There's no third-party process-liveness library anywhere in this
// module's dependency pack, so this uses the standard library directly:
// signalling 0 to a pid is the usual liveness probe on this platform.
func WatchPID(pid int, term <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pidPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-term:
				return
			case <-ticker.C:
				if !pidAlive(pid) {
					return
				}
			}
		}
	}()
	return done
}

// pidAlive reports whether pid refers to a live process.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
