package catalog

import (
	"errors"
	"fmt"
	"time"
)

// NoCatalogError means no catalog could be resolved for a trade. This is a
// hard stop: pricing without a catalog is meaningless, so the calculation
// must not silently fall back to anything.
type NoCatalogError struct {
	Trade string
}

func (e *NoCatalogError) Error() string {
	return fmt.Sprintf("no catalog available for trade %q", e.Trade)
}

// Resolver selects the catalog for a calculation run and snapshots it.
// Resolution order, first match wins: explicit catalog ID, the
// organization's default for the trade, the global default for the trade.
type Resolver struct {
	store Store
	cache SnapshotCache
	now   func() time.Time
}

// NewResolver creates a resolver over the given store and cache.
func NewResolver(store Store, cache SnapshotCache) *Resolver {
	return &Resolver{
		store: store,
		cache: cache,
		now:   time.Now,
	}
}

// Resolve returns the snapshot for the catalog the calculation should
// price against. An explicit ID that does not exist, serves a different
// trade or is outside its validity window falls through to the defaults.
func (r *Resolver) Resolve(explicitID, organizationID, trade string) (*Snapshot, error) {
	now := r.now()

	if explicitID != "" {
		c, err := r.store.GetCatalog(explicitID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil && c.Trade == trade && c.ValidAt(now) {
			return r.snapshot(c)
		}
	}

	if organizationID != "" {
		c, err := r.store.OrganizationDefault(organizationID, trade)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil && c.ValidAt(now) {
			return r.snapshot(c)
		}
	}

	c, err := r.store.GlobalDefault(trade)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err == nil && c.ValidAt(now) {
		return r.snapshot(c)
	}

	return nil, &NoCatalogError{Trade: trade}
}

// Invalidate evicts a catalog's snapshot from the cache. Admin write paths
// must call this before acknowledging the write.
func (r *Resolver) Invalidate(catalogID string) {
	r.cache.Invalidate(catalogID)
}

func (r *Resolver) snapshot(c *Catalog) (*Snapshot, error) {
	if snap := r.cache.Get(c.ID); snap != nil {
		return snap, nil
	}

	snap := &Snapshot{
		CatalogID:      c.ID,
		Trade:          c.Trade,
		OrganizationID: c.OrganizationID,
		TakenAt:        r.now(),
		entries:        make(map[string]SnapshotEntry, len(c.Entries)),
	}

	for _, entry := range c.Entries {
		component, err := r.store.GetComponent(entry.ComponentID)
		if err != nil {
			return nil, fmt.Errorf("catalog %s references component %s: %w", c.ID, entry.ComponentID, err)
		}
		price := component.UnitPrice
		if entry.PriceOverride != nil {
			price = *entry.PriceOverride
		}
		snap.entries[component.ID] = SnapshotEntry{
			Component: *component,
			UnitPrice: price,
		}
	}

	r.cache.Set(c.ID, snap)
	return snap, nil
}
