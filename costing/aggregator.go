// Package costing turns the active cost rules of a calculation into
// priced component lines against a resolved catalog snapshot. Rules that
// cannot be evaluated are skipped with a warning so one broken rule never
// blocks a quote.
package costing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/rule"
)

// Line is one priced component position.
type Line struct {
	ComponentID     string           `json:"component_id"`
	ComponentName   string           `json:"component_name"`
	Category        catalog.Category `json:"category"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Unit            string           `json:"unit"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	Amount          decimal.Decimal  `json:"amount"`
	RuleID          string           `json:"rule_id"`
	RuleDescription string           `json:"rule_description,omitempty"`
}

// Summary is the aggregation result: the priced lines, per-category
// subtotals and the component cost total that feeds the pricing pipeline.
// Warnings are merged into the calculation response and not serialized
// here.
type Summary struct {
	Lines     []Line                               `json:"lines"`
	Subtotals map[catalog.Category]decimal.Decimal `json:"subtotals"`
	Total     decimal.Decimal                      `json:"total"`
	Warnings  []string                             `json:"-"`
}

// Aggregator evaluates cost rules against a catalog snapshot.
type Aggregator struct {
	eval *rule.Evaluator
}

// NewAggregator creates an aggregator using the given expression limits.
func NewAggregator(limits rule.Limits) *Aggregator {
	return &Aggregator{eval: rule.NewEvaluator(limits)}
}

// Aggregate evaluates the rules and prices the results against the
// snapshot. Per rule: inactive rules are ignored; rules for components
// absent from the snapshot or outside their validity window are skipped
// with a warning; an evaluation error skips the rule with a warning;
// quantities of zero or less produce no line. When several rules target
// the same component, only the highest priority one is evaluated.
func (a *Aggregator) Aggregate(snapshot *catalog.Snapshot, rules []rule.CostRule, ctx *rule.Context, now time.Time) *Summary {
	summary := &Summary{
		Subtotals: make(map[catalog.Category]decimal.Decimal),
		Total:     decimal.Zero,
	}

	for _, r := range selectByPriority(rules) {
		entry, ok := snapshot.Entry(r.ComponentID)
		if !ok {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("rule %s: component %s not in catalog, skipped", r.ID, r.ComponentID))
			continue
		}
		if !entry.Component.AvailableAt(now) {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("rule %s: component %s not available, skipped", r.ID, r.ComponentID))
			continue
		}

		quantity, err := a.eval.EvaluateNumber(r.Expression, ctx)
		if err != nil {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("rule %s: %v, skipped", r.ID, err))
			continue
		}
		if quantity.Sign() <= 0 {
			continue
		}

		amount := entry.UnitPrice.Mul(quantity)
		summary.Lines = append(summary.Lines, Line{
			ComponentID:     entry.Component.ID,
			ComponentName:   entry.Component.Name,
			Category:        entry.Component.Category,
			Quantity:        quantity,
			Unit:            entry.Component.Unit,
			UnitPrice:       entry.UnitPrice,
			Amount:          amount,
			RuleID:          r.ID,
			RuleDescription: r.Description,
		})
		summary.Subtotals[entry.Component.Category] = summary.Subtotals[entry.Component.Category].Add(amount)
		summary.Total = summary.Total.Add(amount)
	}

	return summary
}

// selectByPriority keeps, per component, the rule with the highest
// priority and returns the winners in a stable order. Equal priorities
// resolve by rule ID so repeat calculations pick the same winner
// regardless of input order.
func selectByPriority(rules []rule.CostRule) []rule.CostRule {
	best := make(map[string]rule.CostRule)
	for _, r := range rules {
		if !r.Active {
			continue
		}
		current, seen := best[r.ComponentID]
		if !seen || r.Priority > current.Priority ||
			(r.Priority == current.Priority && r.ID < current.ID) {
			best[r.ComponentID] = r
		}
	}

	selected := make([]rule.CostRule, 0, len(best))
	for _, r := range best {
		selected = append(selected, r)
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority > selected[j].Priority
		}
		return selected[i].ComponentID < selected[j].ComponentID
	})
	return selected
}
