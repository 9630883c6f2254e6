package pricing

import (
	"fmt"
	"sync"
	"time"
)

// FactorStore manages factor persistence and retrieval.
type FactorStore interface {
	// Get a factor by ID
	Get(id string) (*Factor, error)

	// Find the active factor for a tier/scope/category/key combination
	Find(tier Tier, organizationID, category, key string) (*Factor, error)

	// Add a new factor
	Add(f *Factor) error

	// Update an existing factor
	Update(f *Factor) error

	// Delete a factor
	Delete(id string) error
}

// InMemoryFactorStore implements FactorStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryFactorStore struct {
	factors map[string]*Factor
	mu      sync.RWMutex
}

// NewInMemoryFactorStore creates a new in-memory factor store.
func NewInMemoryFactorStore() *InMemoryFactorStore {
	return &InMemoryFactorStore{
		factors: make(map[string]*Factor),
	}
}

// Get retrieves a factor by ID.
func (s *InMemoryFactorStore) Get(id string) (*Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, exists := s.factors[id]
	if !exists {
		return nil, fmt.Errorf("factor %s: %w", id, ErrNotFound)
	}
	return f, nil
}

// Find returns the active factor matching tier, scope, category and key.
func (s *InMemoryFactorStore) Find(tier Tier, organizationID, category, key string) (*Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.factors {
		if f.Active && f.Tier == tier && f.OrganizationID == organizationID &&
			f.Category == category && f.Key == key {
			return f, nil
		}
	}
	return nil, fmt.Errorf("factor %s/%s/%s: %w", tier, category, key, ErrNotFound)
}

// Add inserts a new factor, enforcing unique IDs.
func (s *InMemoryFactorStore) Add(f *Factor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.factors[f.ID]; exists {
		return fmt.Errorf("factor with ID %s already exists", f.ID)
	}

	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.factors[f.ID] = f
	return nil
}

// Update replaces an existing factor, preserving CreatedAt.
func (s *InMemoryFactorStore) Update(f *Factor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.factors[f.ID]
	if !exists {
		return fmt.Errorf("factor %s: %w", f.ID, ErrNotFound)
	}

	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now()
	s.factors[f.ID] = f
	return nil
}

// Delete removes a factor.
func (s *InMemoryFactorStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.factors[id]; !exists {
		return fmt.Errorf("factor %s: %w", id, ErrNotFound)
	}

	delete(s.factors, id)
	return nil
}
