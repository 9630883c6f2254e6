package expense

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned (wrapped) when an expense rule does not exist.
var ErrNotFound = errors.New("not found")

// Store manages expense rule persistence and retrieval.
type Store interface {
	// Get a rule by ID
	Get(id string) (*Rule, error)

	// ListActive returns the active rules visible to an organization:
	// its own plus the global ones (empty OrganizationID)
	ListActive(organizationID string) ([]Rule, error)

	// Add a new rule
	Add(r *Rule) error

	// Update an existing rule
	Update(r *Rule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryStore implements Store using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryStore creates a new in-memory expense rule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules: make(map[string]*Rule),
	}
}

// Get retrieves a rule by ID.
func (s *InMemoryStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("expense rule %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// ListActive returns the organization's active rules plus the global ones.
func (s *InMemoryStore) ListActive(organizationID string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rule
	for _, r := range s.rules {
		if !r.Active {
			continue
		}
		if r.OrganizationID != "" && r.OrganizationID != organizationID {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// Add inserts a new rule, enforcing unique IDs.
func (s *InMemoryStore) Add(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("expense rule with ID %s already exists", r.ID)
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = r
	return nil
}

// Update replaces an existing rule, preserving CreatedAt.
func (s *InMemoryStore) Update(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[r.ID]
	if !exists {
		return fmt.Errorf("expense rule %s: %w", r.ID, ErrNotFound)
	}

	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now()
	s.rules[r.ID] = r
	return nil
}

// Delete removes a rule.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("expense rule %s: %w", id, ErrNotFound)
	}

	delete(s.rules, id)
	return nil
}
