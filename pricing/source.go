package pricing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Source resolves factor values for the pipeline. Global-tier factors are
// read-mostly configuration, so they pass through a cache with
// admin-triggered invalidation; organization and dynamic lookups go to the
// store directly.
type Source struct {
	store FactorStore

	mu     sync.RWMutex
	global map[string]decimal.Decimal
}

// NewSource creates a factor source over the given store.
func NewSource(store FactorStore) *Source {
	return &Source{
		store:  store,
		global: make(map[string]decimal.Decimal),
	}
}

func globalCacheKey(category, key string) string {
	return category + "/" + key
}

// GlobalFactor returns the Tier-Global factor for a category/key pair.
// A missing factor is fatal: returns MissingFactorError.
func (s *Source) GlobalFactor(category, key string) (decimal.Decimal, error) {
	cacheKey := globalCacheKey(category, key)

	s.mu.RLock()
	v, ok := s.global[cacheKey]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	f, err := s.store.Find(TierGlobal, "", category, key)
	if errors.Is(err, ErrNotFound) {
		return decimal.Decimal{}, &MissingFactorError{Tier: TierGlobal, Category: category, Key: key}
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("global factor lookup failed: %w", err)
	}

	s.mu.Lock()
	s.global[cacheKey] = f.Value
	s.mu.Unlock()

	return f.Value, nil
}

// OrganizationMetric returns a Tier-Organization metric (hourly rate,
// overhead rate, margin rate). A missing metric is fatal.
func (s *Source) OrganizationMetric(organizationID, metric string) (decimal.Decimal, error) {
	f, err := s.store.Find(TierOrganization, organizationID, metric, "")
	if errors.Is(err, ErrNotFound) {
		return decimal.Decimal{}, &MissingFactorError{Tier: TierOrganization, Category: metric}
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("organization metric lookup failed: %w", err)
	}
	return f.Value, nil
}

// DynamicFactor returns a Tier-Dynamic factor. Dynamic adjustments are
// optional by design: a missing one reports ok=false and the caller
// defaults to neutral.
func (s *Source) DynamicFactor(category, key string) (decimal.Decimal, bool, error) {
	f, err := s.store.Find(TierDynamic, "", category, key)
	if errors.Is(err, ErrNotFound) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("dynamic factor lookup failed: %w", err)
	}
	return f.Value, true, nil
}

// Invalidate evicts a cached Tier-Global value. Admin write paths for
// global factors must call this before acknowledging the write; the other
// tiers are uncached and need no eviction.
func (s *Source) Invalidate(category, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.global, globalCacheKey(category, key))
}

// InvalidateAll clears the Tier-Global cache.
func (s *Source) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = make(map[string]decimal.Decimal)
}
