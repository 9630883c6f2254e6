// Package pricing implements the tiered factor model and the ordered
// pricing pipeline that folds factors, labor, overhead, margin and
// component costs into an auditable price breakdown.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tier classifies how often a factor changes and who owns it.
type Tier string

const (
	// TierGlobal factors rarely change and apply to every organization
	// (material, technique, finish multipliers).
	TierGlobal Tier = "global"

	// TierOrganization metrics change roughly quarterly and belong to one
	// organization (hourly rate, overhead rate, margin rate).
	TierOrganization Tier = "organization"

	// TierDynamic adjustments change daily (season, customer type, order
	// volume) and are best-effort: a missing one is neutral, not an error.
	TierDynamic Tier = "dynamic"
)

// Factor categories the pipeline resolves.
const (
	CategoryMaterial  = "material"
	CategoryTechnique = "technique"
	CategoryFinish    = "finish"

	MetricHourlyRate   = "hourly_rate"
	MetricOverheadRate = "overhead_rate"
	MetricMarginRate   = "margin_rate"
)

// Factor is one named adjustment value. Global factors leave
// OrganizationID empty; organization metrics leave Key empty (the metric
// name is the category); dynamic factors use Category/Key pairs like
// ("season", "winter").
type Factor struct {
	ID             string          `json:"id"`
	Tier           Tier            `json:"tier"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Category       string          `json:"category"`
	Key            string          `json:"key,omitempty"`
	Value          decimal.Decimal `json:"value"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ErrNotFound is returned (wrapped) by factor lookups that match nothing.
var ErrNotFound = errors.New("not found")

// MissingFactorError means a factor the pipeline needs is not configured.
// Fatal for the global and organization tiers: silently defaulting a
// material or margin factor would misprice. The dynamic tier soft-defaults
// to neutral instead and never produces this error.
type MissingFactorError struct {
	Tier     Tier
	Category string
	Key      string
}

func (e *MissingFactorError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("missing %s factor for %q", e.Tier, e.Category)
	}
	return fmt.Sprintf("missing %s factor for %q/%q", e.Tier, e.Category, e.Key)
}
