package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Step names in pipeline order. The component cost and material line
// entries sit between StepFinishFactor and StepLaborCost.
const (
	StepBaseAmount        = "base_amount"
	StepMaterialFactor    = "material_factor"
	StepComplexityFactor  = "complexity_factor"
	StepFinishFactor      = "finish_factor"
	StepComponentCosts    = "component_costs"
	StepMaterialLine      = "material_line"
	StepLaborCost         = "labor_cost"
	StepOverhead          = "overhead"
	StepMargin            = "margin"
	StepDynamicAdjustment = "dynamic_adjustment"
)

// MaterialLine is one additional material in multi-material mode.
type MaterialLine struct {
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Input carries everything one pipeline run needs. It is assembled by the
// calculation orchestrator from the request, the resolved factors' keys
// and the aggregated component costs.
type Input struct {
	Quantity       decimal.Decimal // quantity or area of the primary material
	UnitPrice      decimal.Decimal
	Material       string // Tier-Global factor keys
	Technique      string
	Finish         string
	OrganizationID string
	LaborHours     decimal.Decimal
	ComponentCosts decimal.Decimal
	MaterialLines  []MaterialLine
	Dynamic        map[string]string // category -> key, e.g. "season" -> "winter"
}

// Step is one audit trail entry: the amount entering the step, what was
// applied, the resulting change and the running subtotal after the step.
// Amounts are rounded to 2 decimals for presentation; the pipeline carries
// full precision between steps.
type Step struct {
	Name     string          `json:"name"`
	Applied  string          `json:"applied"`
	Input    decimal.Decimal `json:"input"`
	Delta    decimal.Decimal `json:"delta"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Breakdown is the ordered audit trail of one pipeline run. Immutable once
// produced. Warnings are merged into the calculation response and not
// serialized here.
type Breakdown struct {
	Steps    []Step          `json:"steps"`
	Total    decimal.Decimal `json:"total"`
	Warnings []string        `json:"-"`
}

// Pipeline runs the eight ordered pricing steps. Strictly sequential: each
// step's output is the next step's input, no reordering.
type Pipeline struct {
	factors *Source
}

// NewPipeline creates a pipeline over the given factor source.
func NewPipeline(factors *Source) *Pipeline {
	return &Pipeline{factors: factors}
}

// run tracks the unrounded running subtotal and the rounded audit trail.
type run struct {
	subtotal  decimal.Decimal
	breakdown *Breakdown
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func (r *run) record(name, applied string, next decimal.Decimal) {
	r.breakdown.Steps = append(r.breakdown.Steps, Step{
		Name:     name,
		Applied:  applied,
		Input:    round2(r.subtotal),
		Delta:    round2(next.Sub(r.subtotal)),
		Subtotal: round2(next),
	})
	r.subtotal = next
}

// Run executes the pipeline. A missing Tier-Global or Tier-Organization
// factor aborts with MissingFactorError; missing Tier-Dynamic factors
// default to neutral and are reported as warnings.
func (p *Pipeline) Run(in Input) (*Breakdown, error) {
	r := &run{breakdown: &Breakdown{}}

	// Step 1: base amount.
	base := in.UnitPrice.Mul(in.Quantity)
	r.record(StepBaseAmount, fmt.Sprintf("%s × %s", in.Quantity, in.UnitPrice), base)

	// Steps 2-4: global multipliers.
	globalSteps := []struct {
		name     string
		category string
		key      string
	}{
		{StepMaterialFactor, CategoryMaterial, in.Material},
		{StepComplexityFactor, CategoryTechnique, in.Technique},
		{StepFinishFactor, CategoryFinish, in.Finish},
	}
	for _, step := range globalSteps {
		factor, err := p.factors.GlobalFactor(step.category, step.key)
		if err != nil {
			return nil, err
		}
		r.record(step.name, fmt.Sprintf("× %s (%s)", factor, step.key), r.subtotal.Mul(factor))
	}

	// Component costs and additional material lines enter here, after the
	// multiplicative factors and before labor.
	if !in.ComponentCosts.IsZero() {
		r.record(StepComponentCosts, "standard components", r.subtotal.Add(in.ComponentCosts))
	}
	for _, line := range in.MaterialLines {
		amount := line.UnitPrice.Mul(line.Quantity)
		r.record(
			fmt.Sprintf("%s:%s", StepMaterialLine, line.Name),
			fmt.Sprintf("%s × %s", line.Quantity, line.UnitPrice),
			r.subtotal.Add(amount),
		)
	}

	// Step 5: labor.
	hourlyRate, err := p.factors.OrganizationMetric(in.OrganizationID, MetricHourlyRate)
	if err != nil {
		return nil, err
	}
	labor := hourlyRate.Mul(in.LaborHours)
	r.record(StepLaborCost, fmt.Sprintf("%s h × %s", in.LaborHours, hourlyRate), r.subtotal.Add(labor))

	// Step 6: overhead on the running subtotal.
	overheadRate, err := p.factors.OrganizationMetric(in.OrganizationID, MetricOverheadRate)
	if err != nil {
		return nil, err
	}
	r.record(StepOverhead, fmt.Sprintf("+ %s%%", overheadRate.Mul(decimal.NewFromInt(100))),
		r.subtotal.Add(r.subtotal.Mul(overheadRate)))

	// Step 7: margin on the running subtotal.
	marginRate, err := p.factors.OrganizationMetric(in.OrganizationID, MetricMarginRate)
	if err != nil {
		return nil, err
	}
	r.record(StepMargin, fmt.Sprintf("+ %s%%", marginRate.Mul(decimal.NewFromInt(100))),
		r.subtotal.Add(r.subtotal.Mul(marginRate)))

	// Step 8: dynamic adjustment, neutral when nothing applies.
	adjustment := decimal.NewFromInt(1)
	applied := "neutral (1.0)"

	if len(in.Dynamic) > 0 {
		categories := make([]string, 0, len(in.Dynamic))
		for category := range in.Dynamic {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		var parts []string
		for _, category := range categories {
			key := in.Dynamic[category]
			factor, ok, err := p.factors.DynamicFactor(category, key)
			if err != nil {
				return nil, err
			}
			if !ok {
				r.breakdown.Warnings = append(r.breakdown.Warnings,
					fmt.Sprintf("dynamic factor %s/%s not configured, applied neutral 1.0", category, key))
				continue
			}
			adjustment = adjustment.Mul(factor)
			parts = append(parts, fmt.Sprintf("%s=%s (%s)", category, factor, key))
		}
		if len(parts) > 0 {
			applied = "× " + joinParts(parts)
		}
	}
	r.record(StepDynamicAdjustment, applied, r.subtotal.Mul(adjustment))

	r.breakdown.Total = round2(r.subtotal)
	return r.breakdown, nil
}

func joinParts(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
