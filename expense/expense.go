// Package expense evaluates surcharge and ancillary cost rules (delivery,
// setup, small order fees) on top of a calculated order value.
package expense

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/rule"
)

// Mode selects how a rule computes its amount.
type Mode string

const (
	// ModeFixed adds a flat amount.
	ModeFixed Mode = "fixed"

	// ModePerUnit multiplies Amount with the quantity named by QuantityKey.
	ModePerUnit Mode = "per_unit"

	// ModePercentage applies Rate to the order value.
	ModePercentage Mode = "percentage"

	// ModeConditional adds Amount when Condition evaluates true.
	ModeConditional Mode = "conditional"
)

// Rule is one configurable expense. Bounds and validity windows are
// optional; nil means unbounded.
type Rule struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Mode           Mode             `json:"mode"`
	Amount         decimal.Decimal  `json:"amount"`                 // fixed, per_unit, conditional
	Rate           decimal.Decimal  `json:"rate"`                   // percentage, as a fraction (0.05 = 5%)
	QuantityKey    string           `json:"quantity_key,omitempty"` // per_unit: context scalar holding the quantity
	Condition      rule.Expression  `json:"-"`                      // conditional only
	MinOrderValue  *decimal.Decimal `json:"min_order_value,omitempty"`
	MaxOrderValue  *decimal.Decimal `json:"max_order_value,omitempty"`
	ValidFrom      *time.Time       `json:"valid_from,omitempty"`
	ValidTo        *time.Time       `json:"valid_to,omitempty"`
	Priority       int              `json:"priority"`
	Active         bool             `json:"active"`
	OrganizationID string           `json:"organization_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Applies reports whether the rule is in force for the given order value
// and time.
func (r *Rule) Applies(orderValue decimal.Decimal, now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && !now.Before(*r.ValidTo) {
		return false
	}
	if r.MinOrderValue != nil && orderValue.LessThan(*r.MinOrderValue) {
		return false
	}
	if r.MaxOrderValue != nil && orderValue.GreaterThan(*r.MaxOrderValue) {
		return false
	}
	return true
}

// Item is one applied expense.
type Item struct {
	RuleID string          `json:"rule_id"`
	Name   string          `json:"name"`
	Mode   Mode            `json:"mode"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary lists the applied expenses and their total. Warnings are merged
// into the calculation response and not serialized here.
type Summary struct {
	Items    []Item          `json:"items"`
	Total    decimal.Decimal `json:"total"`
	Warnings []string        `json:"-"`
}

// Evaluator applies expense rules. Conditional rules are evaluated with
// the calculation's rule context extended by an order_value scalar, so
// conditions can reference both geometry attributes and the price.
type Evaluator struct {
	eval *rule.Evaluator
}

// NewEvaluator creates an expense evaluator with the given expression
// limits for conditional rules.
func NewEvaluator(limits rule.Limits) *Evaluator {
	return &Evaluator{eval: rule.NewEvaluator(limits)}
}

// Apply evaluates the rules against the order value in priority order
// (highest first). Rules outside their bounds or window are silently
// inert; a conditional rule whose expression fails is skipped with a
// warning.
func (e *Evaluator) Apply(rules []Rule, orderValue decimal.Decimal, ctx *rule.Context, now time.Time) *Summary {
	summary := &Summary{Total: decimal.Zero}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	condCtx := ctx
	if condCtx == nil {
		condCtx = rule.NewContext()
	}
	condCtx = condCtx.Extend(map[string]decimal.Decimal{"order_value": orderValue})

	for _, r := range ordered {
		if !r.Applies(orderValue, now) {
			continue
		}

		var amount decimal.Decimal
		switch r.Mode {
		case ModeFixed:
			amount = r.Amount
		case ModePerUnit:
			quantity, ok := condCtx.Scalar(r.QuantityKey)
			if !ok {
				summary.Warnings = append(summary.Warnings,
					fmt.Sprintf("expense rule %s: quantity %q not provided, skipped", r.ID, r.QuantityKey))
				continue
			}
			amount = r.Amount.Mul(quantity)
		case ModePercentage:
			amount = orderValue.Mul(r.Rate)
		case ModeConditional:
			applies, err := e.eval.EvaluateBool(r.Condition, condCtx)
			if err != nil {
				summary.Warnings = append(summary.Warnings,
					fmt.Sprintf("expense rule %s: %v, skipped", r.ID, err))
				continue
			}
			if !applies {
				continue
			}
			amount = r.Amount
		default:
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("expense rule %s: unknown mode %q, skipped", r.ID, r.Mode))
			continue
		}

		if amount.IsZero() {
			continue
		}
		summary.Items = append(summary.Items, Item{
			RuleID: r.ID,
			Name:   r.Name,
			Mode:   r.Mode,
			Amount: amount,
		})
		summary.Total = summary.Total.Add(amount)
	}

	return summary
}
