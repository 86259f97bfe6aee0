package executor

import (
	"sync"
	"time"
)

// Dedup rejects an operation id resubmitted within a time-to-live window.
// It is the coordinator-side complement of the venues' per-id idempotency:
// the venue would return the recorded handshake anyway, but skipping here
// avoids the round trip and a second ledger apply. Safe for concurrent use.
type Dedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time // operation id -> last submission
	ttl       time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewDedup creates a Dedup whose window is ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether the operation id was already submitted within
// the window, recording it otherwise. Expired entries are pruned at most
// once per window, so the map stays bounded by the ids seen in the last two
// windows even on a long-lived live run.
func (d *Dedup) IsDuplicate(operationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastPrune) >= d.ttl {
		for id, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, id)
			}
		}
		d.lastPrune = now
	}

	if last, ok := d.seen[operationID]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[operationID] = now
	return false
}
