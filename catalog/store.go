package catalog

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned (wrapped) by store lookups that match nothing.
// The resolver relies on it to fall through the resolution chain.
var ErrNotFound = errors.New("not found")

// Store manages catalog and component persistence.
type Store interface {
	// GetCatalog retrieves a catalog by ID
	GetCatalog(id string) (*Catalog, error)

	// OrganizationDefault returns the organization's default catalog for a trade
	OrganizationDefault(organizationID, trade string) (*Catalog, error)

	// GlobalDefault returns the global default catalog for a trade
	GlobalDefault(trade string) (*Catalog, error)

	// AddCatalog inserts a new catalog
	AddCatalog(c *Catalog) error

	// UpdateCatalog replaces an existing catalog
	UpdateCatalog(c *Catalog) error

	// SetDefault marks a catalog as the default for its scope and trade,
	// demoting any sibling that currently holds the flag
	SetDefault(id string) error

	// GetComponent retrieves a standard component by ID
	GetComponent(id string) (*Component, error)

	// AddComponent inserts a new standard component
	AddComponent(c *Component) error

	// UpdateComponent replaces an existing standard component
	UpdateComponent(c *Component) error
}

// VersionChain walks the predecessor links of a catalog, newest first,
// and returns the IDs of the whole version chain. Broken links terminate
// the walk with an error; a cycle cannot occur because predecessors are
// assigned once at version creation.
func VersionChain(store Store, id string) ([]string, error) {
	var chain []string
	for id != "" {
		c, err := store.GetCatalog(id)
		if err != nil {
			return nil, fmt.Errorf("version chain broken at %s: %w", id, err)
		}
		chain = append(chain, c.ID)
		id = c.PredecessorID
	}
	return chain, nil
}

// InMemoryStore implements Store using in-memory maps. Thread-safe with
// RWMutex.
type InMemoryStore struct {
	catalogs   map[string]*Catalog
	components map[string]*Component
	mu         sync.RWMutex
}

// NewInMemoryStore creates a new in-memory catalog store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		catalogs:   make(map[string]*Catalog),
		components: make(map[string]*Component),
	}
}

// GetCatalog retrieves a catalog by ID.
func (s *InMemoryStore) GetCatalog(id string) (*Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.catalogs[id]
	if !exists {
		return nil, fmt.Errorf("catalog %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// OrganizationDefault returns the organization's default catalog for a trade.
func (s *InMemoryStore) OrganizationDefault(organizationID, trade string) (*Catalog, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("default catalog for empty organization: %w", ErrNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.catalogs {
		if c.Default && c.OrganizationID == organizationID && c.Trade == trade {
			return c, nil
		}
	}
	return nil, fmt.Errorf("default catalog for organization %s, trade %s: %w", organizationID, trade, ErrNotFound)
}

// GlobalDefault returns the global default catalog for a trade.
func (s *InMemoryStore) GlobalDefault(trade string) (*Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.catalogs {
		if c.Default && c.OrganizationID == "" && c.Trade == trade {
			return c, nil
		}
	}
	return nil, fmt.Errorf("global default catalog for trade %s: %w", trade, ErrNotFound)
}

// AddCatalog inserts a new catalog, enforcing unique IDs.
func (s *InMemoryStore) AddCatalog(c *Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.catalogs[c.ID]; exists {
		return fmt.Errorf("catalog with ID %s already exists", c.ID)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.catalogs[c.ID] = c
	return nil
}

// UpdateCatalog replaces an existing catalog, preserving CreatedAt.
func (s *InMemoryStore) UpdateCatalog(c *Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.catalogs[c.ID]
	if !exists {
		return fmt.Errorf("catalog %s: %w", c.ID, ErrNotFound)
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()
	s.catalogs[c.ID] = c
	return nil
}

// SetDefault promotes a catalog to default for its scope and trade and
// demotes the current holder. This is also the rollback mechanism: point
// the flag at an older version of the chain.
func (s *InMemoryStore) SetDefault(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, exists := s.catalogs[id]
	if !exists {
		return fmt.Errorf("catalog %s: %w", id, ErrNotFound)
	}

	for _, c := range s.catalogs {
		if c.Default && c.OrganizationID == target.OrganizationID && c.Trade == target.Trade {
			c.Default = false
			c.UpdatedAt = time.Now()
		}
	}
	target.Default = true
	target.UpdatedAt = time.Now()
	return nil
}

// GetComponent retrieves a standard component by ID.
func (s *InMemoryStore) GetComponent(id string) (*Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.components[id]
	if !exists {
		return nil, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// AddComponent inserts a new standard component.
func (s *InMemoryStore) AddComponent(c *Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.components[c.ID]; exists {
		return fmt.Errorf("component with ID %s already exists", c.ID)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.components[c.ID] = c
	return nil
}

// UpdateComponent replaces an existing standard component.
func (s *InMemoryStore) UpdateComponent(c *Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.components[c.ID]
	if !exists {
		return fmt.Errorf("component %s: %w", c.ID, ErrNotFound)
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()
	s.components[c.ID] = c
	return nil
}
