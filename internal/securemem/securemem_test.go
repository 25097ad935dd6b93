// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package securemem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockUnlockEmptyBufferIsNoOp(t *testing.T) {
	assert.NoError(t, Lock(nil))
	assert.NoError(t, Unlock(nil))
	assert.NoError(t, Lock([]byte{}))
	assert.NoError(t, Unlock([]byte{}))
}

func TestLockUnlockRoundTrip(t *testing.T) {
	buf := make([]byte, 4096)
	if err := Lock(buf); err != nil {
		t.Skipf("mlock unavailable in this environment: %v", err)
	}
	assert.NoError(t, Unlock(buf))
}
