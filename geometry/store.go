package geometry

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned (wrapped) when a rule or overlay does not exist.
var ErrNotFound = errors.New("not found")

// RuleStore manages geometry rule persistence and retrieval.
type RuleStore interface {
	// Get a rule by ID
	Get(id string) (*Rule, error)

	// ListActive returns all active rules
	ListActive() ([]Rule, error)

	// Add a new rule
	Add(r *Rule) error

	// Update an existing rule
	Update(r *Rule) error

	// Delete a rule
	Delete(id string) error
}

// OverlayStore keeps the per-calculation visibility overlays.
type OverlayStore interface {
	// Get the overlay of a calculation; an empty overlay when none is stored
	Get(calculationID string) (Overlay, error)

	// SetOverride upserts one edge class override for a calculation
	SetOverride(calculationID, edgeClass string, o Override) error

	// Clear removes all overrides of a calculation
	Clear(calculationID string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory geometry rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("geometry rule %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// ListActive returns all active rules.
func (s *InMemoryRuleStore) ListActive() ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rule
	for _, r := range s.rules {
		if r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Add inserts a new rule, enforcing unique IDs.
func (s *InMemoryRuleStore) Add(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("geometry rule with ID %s already exists", r.ID)
	}
	s.rules[r.ID] = r
	return nil
}

// Update replaces an existing rule.
func (s *InMemoryRuleStore) Update(r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; !exists {
		return fmt.Errorf("geometry rule %s: %w", r.ID, ErrNotFound)
	}
	s.rules[r.ID] = r
	return nil
}

// Delete removes a rule.
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("geometry rule %s: %w", id, ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

// InMemoryOverlayStore implements OverlayStore using nested maps.
// Thread-safe with RWMutex.
type InMemoryOverlayStore struct {
	overlays map[string]Overlay
	mu       sync.RWMutex
}

// NewInMemoryOverlayStore creates a new in-memory overlay store.
func NewInMemoryOverlayStore() *InMemoryOverlayStore {
	return &InMemoryOverlayStore{
		overlays: make(map[string]Overlay),
	}
}

// Get returns a copy of the calculation's overlay, empty when none is
// stored.
func (s *InMemoryOverlayStore) Get(calculationID string) (Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Overlay, len(s.overlays[calculationID]))
	for edgeClass, o := range s.overlays[calculationID] {
		out[edgeClass] = o
	}
	return out, nil
}

// SetOverride upserts one edge class override.
func (s *InMemoryOverlayStore) SetOverride(calculationID, edgeClass string, o Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overlay, exists := s.overlays[calculationID]
	if !exists {
		overlay = make(Overlay)
		s.overlays[calculationID] = overlay
	}
	overlay[edgeClass] = o
	return nil
}

// Clear removes all overrides of a calculation.
func (s *InMemoryOverlayStore) Clear(calculationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.overlays, calculationID)
	return nil
}
