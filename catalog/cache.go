package catalog

import "sync"

// SnapshotCache caches catalog snapshots keyed by catalog ID. The contract
// is admin-triggered invalidation, not time-based decay: every
// administrative write to a catalog must evict its key before the write is
// considered complete. That gives the admin read-your-writes while
// in-flight calculations keep the snapshot they started with.
type SnapshotCache interface {
	// Get retrieves a cached snapshot, nil on miss
	Get(catalogID string) *Snapshot

	// Set stores a snapshot
	Set(catalogID string, snap *Snapshot)

	// Invalidate evicts one catalog's snapshot
	Invalidate(catalogID string)

	// InvalidateAll clears the cache
	InvalidateAll()
}

// InMemorySnapshotCache is a simple in-memory implementation of
// SnapshotCache. Thread-safe for concurrent access. Snapshots are immutable
// once built, so Get hands out the shared instance directly.
type InMemorySnapshotCache struct {
	snapshots map[string]*Snapshot
	mu        sync.RWMutex
}

// NewInMemorySnapshotCache creates a new in-memory snapshot cache.
func NewInMemorySnapshotCache() *InMemorySnapshotCache {
	return &InMemorySnapshotCache{
		snapshots: make(map[string]*Snapshot),
	}
}

// Get retrieves a cached snapshot, nil on miss.
func (c *InMemorySnapshotCache) Get(catalogID string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshots[catalogID]
}

// Set stores a snapshot.
func (c *InMemorySnapshotCache) Set(catalogID string, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots[catalogID] = snap
}

// Invalidate evicts one catalog's snapshot.
func (c *InMemorySnapshotCache) Invalidate(catalogID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.snapshots, catalogID)
}

// InvalidateAll clears the cache.
func (c *InMemorySnapshotCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots = make(map[string]*Snapshot)
}
