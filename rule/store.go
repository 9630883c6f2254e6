package rule

import (
	"fmt"
	"sync"
	"time"
)

// CostRuleStore manages cost rule persistence and retrieval.
type CostRuleStore interface {
	// Add a new rule
	Add(rule *CostRule) error

	// Get a rule by ID
	Get(id string) (*CostRule, error)

	// List all active rules
	ListActive() ([]*CostRule, error)

	// Update an existing rule
	Update(rule *CostRule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryCostRuleStore implements CostRuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryCostRuleStore struct {
	rules map[string]*CostRule
	mu    sync.RWMutex
}

// NewInMemoryCostRuleStore creates a new in-memory cost rule store.
func NewInMemoryCostRuleStore() *InMemoryCostRuleStore {
	return &InMemoryCostRuleStore{
		rules: make(map[string]*CostRule),
	}
}

// Add adds a new rule to the store, enforcing unique rule IDs.
func (s *InMemoryCostRuleStore) Add(rule *CostRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("cost rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryCostRuleStore) Get(id string) (*CostRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("cost rule with ID %s not found", id)
	}
	return rule, nil
}

// ListActive returns all active rules.
func (s *InMemoryCostRuleStore) ListActive() ([]*CostRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*CostRule
	for _, rule := range s.rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return active, nil
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryCostRuleStore) Update(rule *CostRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("cost rule with ID %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryCostRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("cost rule with ID %s not found", id)
	}

	delete(s.rules, id)
	return nil
}
