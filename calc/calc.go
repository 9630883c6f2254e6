// Package calc orchestrates one calculation: resolve the catalog, derive
// edge geometry, aggregate component costs, run the pricing pipeline and
// apply expense rules. Warnings from every stage are collected on the
// response; only missing mandatory configuration aborts.
package calc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/costing"
	"github.com/werkstatt-io/kalkwerk/expense"
	"github.com/werkstatt-io/kalkwerk/geometry"
	"github.com/werkstatt-io/kalkwerk/pricing"
	"github.com/werkstatt-io/kalkwerk/rule"
)

// ComponentInput is one extracted component with its dimensions, e.g.
// {"type": "tür", "attributes": {"anzahl": 2, "höhe": 2, "breite": 1}}.
type ComponentInput struct {
	Type       string                     `json:"type"`
	Attributes map[string]decimal.Decimal `json:"attributes"`
}

// Request is one calculation request.
type Request struct {
	CalculationID  string                     `json:"calculation_id"`
	OrganizationID string                     `json:"organization_id"`
	Trade          string                     `json:"trade"`
	CatalogID      string                     `json:"catalog_id,omitempty"`
	Components     []ComponentInput           `json:"components"`
	Context        map[string]decimal.Decimal `json:"context,omitempty"`

	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Material  string          `json:"material"`
	Technique string          `json:"technique"`
	Finish    string          `json:"finish"`

	LaborHours    decimal.Decimal        `json:"labor_hours"`
	MaterialLines []pricing.MaterialLine `json:"material_lines,omitempty"`
	Dynamic       map[string]string      `json:"dynamic,omitempty"`
}

// Response is the full calculation result with the audit trail of every
// stage.
type Response struct {
	CalculationID string             `json:"calculation_id"`
	CatalogID     string             `json:"catalog_id"`
	Geometry      []geometry.Result  `json:"geometry"`
	Components    *costing.Summary   `json:"components"`
	Pricing       *pricing.Breakdown `json:"pricing"`
	Expenses      *expense.Summary   `json:"expenses"`
	Total         decimal.Decimal    `json:"total"`
	Warnings      []string           `json:"warnings,omitempty"`
}

// Calculator wires the calculation stages together.
type Calculator struct {
	resolver      *catalog.Resolver
	geometryRules geometry.RuleStore
	overlays      geometry.OverlayStore
	costRules     rule.CostRuleStore
	expenses      expense.Store

	deriver     *geometry.Deriver
	aggregator  *costing.Aggregator
	pipeline    *pricing.Pipeline
	expenseEval *expense.Evaluator

	now func() time.Time
}

// NewCalculator creates a calculator over the given stores and factor
// source, with the expression limits shared by every rule-evaluating
// stage.
func NewCalculator(
	resolver *catalog.Resolver,
	geometryRules geometry.RuleStore,
	overlays geometry.OverlayStore,
	costRules rule.CostRuleStore,
	factors *pricing.Source,
	expenses expense.Store,
	limits rule.Limits,
) *Calculator {
	return &Calculator{
		resolver:      resolver,
		geometryRules: geometryRules,
		overlays:      overlays,
		costRules:     costRules,
		expenses:      expenses,
		deriver:       geometry.NewDeriver(limits),
		aggregator:    costing.NewAggregator(limits),
		pipeline:      pricing.NewPipeline(factors),
		expenseEval:   expense.NewEvaluator(limits),
		now:           time.Now,
	}
}

// Calculate runs the full calculation. Stage order is fixed: catalog
// resolution, geometry derivation, component cost aggregation, pricing
// pipeline, expense rules. The pipeline total is the order value the
// expense rules see; the response total is pipeline plus expenses.
func (c *Calculator) Calculate(req *Request) (*Response, error) {
	now := c.now()
	resp := &Response{CalculationID: req.CalculationID}

	snapshot, err := c.resolver.Resolve(req.CatalogID, req.OrganizationID, req.Trade)
	if err != nil {
		return nil, fmt.Errorf("catalog resolution failed: %w", err)
	}
	resp.CatalogID = snapshot.CatalogID

	ctx := rule.NewContext()
	for _, comp := range req.Components {
		for attr, value := range comp.Attributes {
			ctx.SetAttribute(comp.Type, attr, value)
		}
	}
	for name, value := range req.Context {
		ctx.SetScalar(name, value)
	}

	geometryRules, err := c.geometryRules.ListActive()
	if err != nil {
		return nil, fmt.Errorf("loading geometry rules failed: %w", err)
	}
	overlay, err := c.overlays.Get(req.CalculationID)
	if err != nil {
		return nil, fmt.Errorf("loading geometry overlay failed: %w", err)
	}
	results, warnings := c.deriver.Derive(geometryRules, ctx, overlay)
	resp.Geometry = results
	resp.Warnings = append(resp.Warnings, warnings...)

	// Derived edge quantities become context scalars so cost rules can
	// reference them by edge class. Deactivated classes count as zero.
	for _, r := range results {
		quantity := decimal.Zero
		if r.Activated {
			quantity = r.Effective()
		}
		ctx.SetScalar(r.EdgeClass, quantity)
	}

	costRules, err := c.costRules.ListActive()
	if err != nil {
		return nil, fmt.Errorf("loading cost rules failed: %w", err)
	}
	rules := make([]rule.CostRule, 0, len(costRules))
	for _, r := range costRules {
		rules = append(rules, *r)
	}
	components := c.aggregator.Aggregate(snapshot, rules, ctx, now)
	resp.Components = components
	resp.Warnings = append(resp.Warnings, components.Warnings...)

	breakdown, err := c.pipeline.Run(pricing.Input{
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		Material:       req.Material,
		Technique:      req.Technique,
		Finish:         req.Finish,
		OrganizationID: req.OrganizationID,
		LaborHours:     req.LaborHours,
		ComponentCosts: components.Total,
		MaterialLines:  req.MaterialLines,
		Dynamic:        req.Dynamic,
	})
	if err != nil {
		return nil, err
	}
	resp.Pricing = breakdown
	resp.Warnings = append(resp.Warnings, breakdown.Warnings...)

	expenseRules, err := c.expenses.ListActive(req.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("loading expense rules failed: %w", err)
	}
	expenses := c.expenseEval.Apply(expenseRules, breakdown.Total, ctx, now)
	resp.Expenses = expenses
	resp.Warnings = append(resp.Warnings, expenses.Warnings...)

	resp.Total = breakdown.Total.Add(expenses.Total).Round(2)
	return resp, nil
}
