package memory

import (
	"sync"
	"time"

	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
)

// SnapshotCache is an in-memory implementation of systems.Cache holding the
// most recent snapshot.
type SnapshotCache struct {
	mu       sync.RWMutex
	snapshot systems.Snapshot
	ok       bool
}

// NewSnapshotCache creates an empty snapshot cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{}
}

// Get returns the stored snapshot when it is younger than maxAge at now.
func (c *SnapshotCache) Get(maxAge time.Duration, now time.Time) (systems.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ok {
		return systems.Snapshot{}, false
	}
	if now.Sub(c.snapshot.FetchedAt) >= maxAge {
		return systems.Snapshot{}, false
	}
	return c.snapshot, true
}

// Put replaces the stored snapshot. Older snapshots never overwrite newer ones.
func (c *SnapshotCache) Put(snapshot systems.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ok && snapshot.FetchedAt.Before(c.snapshot.FetchedAt) {
		return
	}
	c.snapshot = snapshot
	c.ok = true
}
