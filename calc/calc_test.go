package calc

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/expense"
	"github.com/werkstatt-io/kalkwerk/geometry"
	"github.com/werkstatt-io/kalkwerk/pricing"
	"github.com/werkstatt-io/kalkwerk/rule"
)

type fixture struct {
	calculator *Calculator
	catalogs   *catalog.InMemoryStore
	overlays   *geometry.InMemoryOverlayStore
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalogs := catalog.NewInMemoryStore()
	if err := catalogs.AddComponent(&catalog.Component{
		ID:        "comp-edgeband",
		Name:      "Kantenband Eiche",
		Category:  catalog.CategoryEdging,
		Trades:    []string{"tischler"},
		Unit:      "m",
		UnitPrice: dec("1.20"),
		Active:    true,
	}); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if err := catalogs.AddCatalog(&catalog.Catalog{
		ID:      "cat-global",
		Name:    "Standardkatalog",
		Trade:   "tischler",
		Default: true,
		Entries: []catalog.Entry{{ComponentID: "comp-edgeband"}},
	}); err != nil {
		t.Fatalf("AddCatalog: %v", err)
	}

	geometryRules := geometry.NewInMemoryRuleStore()
	if err := geometryRules.Add(&geometry.Rule{
		ID:             "g-door-outer",
		EdgeClass:      "tür_außen",
		ComponentType:  "tür",
		Category:       geometry.CategoryOuter,
		Formula:        geometry.PerimeterFormula("tür"),
		DefaultVisible: true,
		Active:         true,
	}); err != nil {
		t.Fatalf("Add geometry rule: %v", err)
	}

	costRules := rule.NewInMemoryCostRuleStore()
	if err := costRules.Add(&rule.CostRule{
		ID:          "r-edging",
		ComponentID: "comp-edgeband",
		Description: "Umleimer für sichtbare Kanten",
		Expression:  rule.ContextRef{Name: "tür_außen"},
		Active:      true,
	}); err != nil {
		t.Fatalf("Add cost rule: %v", err)
	}

	factors := pricing.NewInMemoryFactorStore()
	addFactor := func(tier pricing.Tier, category, key, orgID, value string) {
		t.Helper()
		err := factors.Add(&pricing.Factor{
			ID:             string(tier) + ":" + category + ":" + key + ":" + orgID,
			Tier:           tier,
			Category:       category,
			Key:            key,
			OrganizationID: orgID,
			Value:          dec(value),
			Active:         true,
		})
		if err != nil {
			t.Fatalf("Add factor: %v", err)
		}
	}
	addFactor(pricing.TierGlobal, pricing.CategoryMaterial, "eiche", "", "1.3")
	addFactor(pricing.TierGlobal, pricing.CategoryTechnique, "cnc", "", "1.15")
	addFactor(pricing.TierGlobal, pricing.CategoryFinish, "lackiert", "", "1.1")
	addFactor(pricing.TierOrganization, pricing.MetricHourlyRate, "", "org-1", "85")
	addFactor(pricing.TierOrganization, pricing.MetricOverheadRate, "", "org-1", "0.25")
	addFactor(pricing.TierOrganization, pricing.MetricMarginRate, "", "org-1", "0.2")
	addFactor(pricing.TierDynamic, "season", "winter", "", "0.95")

	expenses := expense.NewInMemoryStore()
	if err := expenses.Add(&expense.Rule{
		ID:     "e-disposal",
		Name:   "Entsorgung",
		Mode:   expense.ModePercentage,
		Rate:   dec("0.05"),
		Active: true,
	}); err != nil {
		t.Fatalf("Add expense rule: %v", err)
	}

	overlays := geometry.NewInMemoryOverlayStore()
	calculator := NewCalculator(
		catalog.NewResolver(catalogs, catalog.NewInMemorySnapshotCache()),
		geometryRules,
		overlays,
		costRules,
		pricing.NewSource(factors),
		expenses,
		rule.DefaultLimits(),
	)
	return &fixture{calculator: calculator, catalogs: catalogs, overlays: overlays}
}

func standardRequest() *Request {
	return &Request{
		CalculationID:  "calc-1",
		OrganizationID: "org-1",
		Trade:          "tischler",
		Components: []ComponentInput{
			{Type: "tür", Attributes: map[string]decimal.Decimal{
				"anzahl": dec("2"),
				"höhe":   dec("2"),
				"breite": dec("1"),
			}},
		},
		Quantity:  dec("1"),
		UnitPrice: dec("100"),
		Material:  "eiche",
		Technique: "cnc",
		Finish:    "lackiert",
		Dynamic:   map[string]string{"season": "winter"},
	}
}

func TestCalculateEndToEnd(t *testing.T) {
	f := newFixture(t)

	resp, err := f.calculator.Calculate(standardRequest())
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if len(resp.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", resp.Warnings)
	}
	if resp.CatalogID != "cat-global" {
		t.Errorf("catalog = %s, want cat-global", resp.CatalogID)
	}

	// Geometry: 2 × (2+1) × 2 = 12 m of outer edges.
	if len(resp.Geometry) != 1 {
		t.Fatalf("got %d geometry results, want 1", len(resp.Geometry))
	}
	if !resp.Geometry[0].Derived.Equal(dec("12")) {
		t.Errorf("derived edges = %s, want 12", resp.Geometry[0].Derived)
	}

	// Components: 12 m × 1.20 = 14.40 edging.
	if len(resp.Components.Lines) != 1 {
		t.Fatalf("got %d component lines, want 1", len(resp.Components.Lines))
	}
	if !resp.Components.Total.Equal(dec("14.4")) {
		t.Errorf("component total = %s, want 14.4", resp.Components.Total)
	}

	// Pipeline: ((100 × 1.3 × 1.15 × 1.1) + 14.4) × 1.25 × 1.2 × 0.95
	// = 178.85 × 1.425 = 254.861…, rounded 254.86.
	if !resp.Pricing.Total.Equal(dec("254.86")) {
		t.Errorf("pipeline total = %s, want 254.86", resp.Pricing.Total)
	}

	// Expenses: 5% of the pipeline total.
	if len(resp.Expenses.Items) != 1 {
		t.Fatalf("got %d expense items, want 1", len(resp.Expenses.Items))
	}
	if !resp.Expenses.Total.Equal(dec("12.743")) {
		t.Errorf("expense total = %s, want 12.743", resp.Expenses.Total)
	}

	if !resp.Total.Equal(dec("267.60")) {
		t.Errorf("total = %s, want 267.60", resp.Total)
	}
}

func TestCalculateOverlayFlowsIntoCostRules(t *testing.T) {
	f := newFixture(t)

	// Deactivating the outer edges zeroes the edging quantity, so the
	// component line disappears.
	off := false
	if err := f.overlays.SetOverride("calc-1", "tür_außen", geometry.Override{Activated: &off}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	resp, err := f.calculator.Calculate(standardRequest())
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if len(resp.Components.Lines) != 0 {
		t.Fatalf("component lines = %+v, want none", resp.Components.Lines)
	}
	if !resp.Geometry[0].Derived.Equal(dec("12")) {
		t.Errorf("derived value lost by overlay: %s, want 12", resp.Geometry[0].Derived)
	}
}

func TestCalculateNoCatalogFails(t *testing.T) {
	f := newFixture(t)

	req := standardRequest()
	req.Trade = "metallbau"

	_, err := f.calculator.Calculate(req)
	var noCatalog *catalog.NoCatalogError
	if !errors.As(err, &noCatalog) {
		t.Fatalf("Calculate error = %v, want NoCatalogError", err)
	}
}

func TestCalculateMissingFactorFails(t *testing.T) {
	f := newFixture(t)

	req := standardRequest()
	req.Material = "teak"

	_, err := f.calculator.Calculate(req)
	var missing *pricing.MissingFactorError
	if !errors.As(err, &missing) {
		t.Fatalf("Calculate error = %v, want MissingFactorError", err)
	}
}

func TestCalculateCollectsWarnings(t *testing.T) {
	f := newFixture(t)

	req := standardRequest()
	req.Dynamic = map[string]string{"season": "sommer"}

	resp, err := f.calculator.Calculate(req)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly the dynamic factor warning", resp.Warnings)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	f := newFixture(t)

	first, err := f.calculator.Calculate(standardRequest())
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := f.calculator.Calculate(standardRequest())
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		if !again.Total.Equal(first.Total) {
			t.Fatalf("run %d total = %s, first was %s", i, again.Total, first.Total)
		}
	}
}
