package executor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupRejectsWithinWindow(t *testing.T) {
	d := NewDedup(2 * time.Minute)

	assert.False(t, d.IsDuplicate("op-1"))
	assert.True(t, d.IsDuplicate("op-1"))
	assert.False(t, d.IsDuplicate("op-2"))
}

func TestDedupAcceptsAgainAfterExpiry(t *testing.T) {
	d := NewDedup(2 * time.Minute)
	clock := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	assert.False(t, d.IsDuplicate("op-1"))

	clock = clock.Add(time.Minute)
	assert.True(t, d.IsDuplicate("op-1"))

	clock = clock.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("op-1"))
}

func TestDedupPrunesExpiredEntries(t *testing.T) {
	d := NewDedup(2 * time.Minute)
	clock := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	for i := 0; i < 1000; i++ {
		d.IsDuplicate(fmt.Sprintf("op-%d", i))
	}

	// Past the window, a single submission triggers the prune; only the new
	// id remains tracked.
	clock = clock.Add(3 * time.Minute)
	assert.False(t, d.IsDuplicate("op-fresh"))

	d.mu.Lock()
	tracked := len(d.seen)
	d.mu.Unlock()
	assert.Equal(t, 1, tracked)
}
