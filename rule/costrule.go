package rule

import "time"

// CostRule associates a standard component with the expression that derives
// its required quantity from extracted component data. Rules are authored
// by administrators and are read-only inputs to a calculation.
type CostRule struct {
	ID          string
	ComponentID string
	Description string
	Expression  Expression
	Priority    int // tie-break when several rules target the same component, higher wins
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
