// Package catalog models versioned price catalogs for standardized
// components and resolves the correct catalog for a calculation run.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups components for the cost line subtotals.
type Category string

const (
	CategoryFittings   Category = "fittings"
	CategoryConnectors Category = "connectors"
	CategoryEdging     Category = "edging"
	CategoryFasteners  Category = "fasteners"
	CategoryOther      Category = "other"
)

// Component is a standardized catalog line item (hinge, connector, edge
// band, ...). Components are authored by administrators and read-only
// inputs to the engine.
type Component struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  Category        `json:"category"`
	Trades    []string        `json:"trades"` // applicable trade tags, not single-valued
	Unit      string          `json:"unit"`   // "Stück", "m", "m²"
	UnitPrice decimal.Decimal `json:"unit_price"`
	Active    bool            `json:"active"`
	ValidFrom *time.Time      `json:"valid_from,omitempty"` // optional availability window
	ValidTo   *time.Time      `json:"valid_to,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AvailableAt reports whether the component is active and inside its
// availability window at the given time. Windows are half-open: ValidFrom
// is inclusive, ValidTo exclusive. Open bounds skip the respective check.
func (c *Component) AvailableAt(t time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidTo != nil && !t.Before(*c.ValidTo) {
		return false
	}
	return true
}

// ServesTrade reports whether the component applies to the given trade.
func (c *Component) ServesTrade(trade string) bool {
	for _, t := range c.Trades {
		if t == trade {
			return true
		}
	}
	return false
}

// Entry references a component from a catalog, optionally overriding its
// default unit price.
type Entry struct {
	ComponentID   string           `json:"component_id"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
}

// Catalog is a versioned, dated collection of component references with
// catalog-specific price overrides. A catalog is either scoped to one
// organization or global (empty OrganizationID). PredecessorID is a weak
// back-reference forming the version chain; rollback means repointing the
// default flag at an older version, never mutating entries.
type Catalog struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Trade          string     `json:"trade"`
	OrganizationID string     `json:"organization_id,omitempty"` // empty means global
	Default        bool       `json:"default"`
	PredecessorID  string     `json:"predecessor_id,omitempty"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidTo        *time.Time `json:"valid_to,omitempty"`
	Entries        []Entry    `json:"entries"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ValidAt reports whether the catalog's validity window covers t. Same
// half-open convention as Component.AvailableAt.
func (c *Catalog) ValidAt(t time.Time) bool {
	if c.ValidFrom != nil && t.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidTo != nil && !t.Before(*c.ValidTo) {
		return false
	}
	return true
}

// NewVersion clones the catalog into a successor version with the given ID.
// The clone carries the full entry list, links back to its predecessor and
// starts out non-default; promoting it is a separate, explicit step.
func (c *Catalog) NewVersion(id string) *Catalog {
	entries := make([]Entry, len(c.Entries))
	copy(entries, c.Entries)
	return &Catalog{
		ID:             id,
		Name:           c.Name,
		Trade:          c.Trade,
		OrganizationID: c.OrganizationID,
		PredecessorID:  c.ID,
		ValidFrom:      c.ValidFrom,
		ValidTo:        c.ValidTo,
		Entries:        entries,
	}
}

// SnapshotEntry is one priced component inside a snapshot. UnitPrice is the
// catalog override when present, the component default otherwise.
type SnapshotEntry struct {
	Component Component
	UnitPrice decimal.Decimal
}

// Snapshot is the immutable view of one resolved catalog used for the
// duration of a single calculation. Catalog edits made after the snapshot
// was taken never affect an in-flight calculation.
type Snapshot struct {
	CatalogID      string
	Trade          string
	OrganizationID string
	TakenAt        time.Time

	entries map[string]SnapshotEntry
}

// Entry looks up a component in the snapshot by ID.
func (s *Snapshot) Entry(componentID string) (SnapshotEntry, bool) {
	e, ok := s.entries[componentID]
	return e, ok
}

// Len returns the number of priced components in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}
