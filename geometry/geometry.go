// Package geometry derives edge quantities (lengths in meters) from
// component dimensions and applies per-calculation visibility overlays on
// top of the derived values.
package geometry

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/rule"
)

// Category separates visible outer edges from construction-side inner
// edges. Outer edges default to activated, inner ones to deactivated.
type Category string

const (
	CategoryOuter Category = "outer"
	CategoryInner Category = "inner"
)

// Rule derives one edge class for one component type, e.g. the outer
// edges of a door.
type Rule struct {
	ID             string
	EdgeClass      string // e.g. "tür_außen"
	ComponentType  string // e.g. "tür"
	Category       Category
	Formula        rule.Expression
	DefaultVisible bool
	Active         bool
}

// PerimeterFormula is 2 × (höhe + breite) × anzahl for the component
// type, the standard outer edge run.
func PerimeterFormula(componentType string) rule.Expression {
	return rule.Multiply{
		Factor: rule.Attr(componentType, "anzahl"),
		Operand: rule.Multiply{
			Factor: rule.Number(2),
			Operand: rule.Add{Terms: []rule.Expression{
				rule.Attr(componentType, "höhe"),
				rule.Attr(componentType, "breite"),
			}},
		},
	}
}

// WidthRunFormula is breite × anzahl, one horizontal edge per piece.
func WidthRunFormula(componentType string) rule.Expression {
	return rule.Multiply{
		Factor:  rule.Attr(componentType, "anzahl"),
		Operand: rule.Attr(componentType, "breite"),
	}
}

// HeightRunFormula is höhe × anzahl, one vertical edge per piece.
func HeightRunFormula(componentType string) rule.Expression {
	return rule.Multiply{
		Factor:  rule.Attr(componentType, "anzahl"),
		Operand: rule.Attr(componentType, "höhe"),
	}
}

// Override adjusts one edge class in one calculation. A nil field leaves
// the derived default untouched.
type Override struct {
	Activated *bool            `json:"activated,omitempty"`
	Manual    *decimal.Decimal `json:"manual,omitempty"`
}

// Overlay collects the overrides of one calculation, keyed by edge class.
// The derived values themselves are never mutated.
type Overlay map[string]Override

// Result is one derived edge class with its overlay applied.
type Result struct {
	EdgeClass     string           `json:"edge_class"`
	ComponentType string           `json:"component_type"`
	Category      Category         `json:"category"`
	Derived       decimal.Decimal  `json:"derived"`
	Activated     bool             `json:"activated"`
	Manual        *decimal.Decimal `json:"manual,omitempty"`
}

// Effective returns the quantity that counts: the manual value when one
// is set, the derived value otherwise.
func (r Result) Effective() decimal.Decimal {
	if r.Manual != nil {
		return *r.Manual
	}
	return r.Derived
}

// Deriver evaluates geometry rules.
type Deriver struct {
	eval *rule.Evaluator
}

// NewDeriver creates a deriver with the given expression limits.
func NewDeriver(limits rule.Limits) *Deriver {
	return &Deriver{eval: rule.NewEvaluator(limits)}
}

// Derive evaluates the active rules whose component type is present in
// the context and applies the overlay. Rules for absent components are
// skipped silently; a formula error skips the rule with a warning.
// Results keep a stable order, following the rules slice.
func (d *Deriver) Derive(rules []Rule, ctx *rule.Context, overlay Overlay) ([]Result, []string) {
	var results []Result
	var warnings []string

	for _, r := range rules {
		if !r.Active || !ctx.HasComponent(r.ComponentType) {
			continue
		}

		derived, err := d.eval.EvaluateNumber(r.Formula, ctx)
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("edge class %s: %v, skipped", r.EdgeClass, err))
			continue
		}

		result := Result{
			EdgeClass:     r.EdgeClass,
			ComponentType: r.ComponentType,
			Category:      r.Category,
			Derived:       derived,
			Activated:     r.DefaultVisible,
		}
		if o, ok := overlay[r.EdgeClass]; ok {
			if o.Activated != nil {
				result.Activated = *o.Activated
			}
			if o.Manual != nil {
				result.Manual = o.Manual
			}
		}
		results = append(results, result)
	}

	return results, warnings
}

// Total sums the effective quantities. With onlyActivated set, toggled-off
// edge classes are excluded; derived values stay available either way.
func Total(results []Result, onlyActivated bool) decimal.Decimal {
	total := decimal.Zero
	for _, r := range results {
		if onlyActivated && !r.Activated {
			continue
		}
		total = total.Add(r.Effective())
	}
	return total
}
