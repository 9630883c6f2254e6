package geometry

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/rule"
)

func doorRules() []Rule {
	return []Rule{
		{
			ID:             "g-door-outer",
			EdgeClass:      "tür_außen",
			ComponentType:  "tür",
			Category:       CategoryOuter,
			Formula:        PerimeterFormula("tür"),
			DefaultVisible: true,
			Active:         true,
		},
		{
			ID:             "g-door-inner",
			EdgeClass:      "tür_innen",
			ComponentType:  "tür",
			Category:       CategoryInner,
			Formula:        PerimeterFormula("tür"),
			DefaultVisible: false,
			Active:         true,
		},
		{
			ID:             "g-shelf-front",
			EdgeClass:      "boden_vorne",
			ComponentType:  "boden",
			Category:       CategoryOuter,
			Formula:        WidthRunFormula("boden"),
			DefaultVisible: true,
			Active:         true,
		},
	}
}

func doorContext() *rule.Context {
	ctx := rule.NewContext()
	ctx.SetAttribute("tür", "anzahl", decimal.NewFromInt(2))
	ctx.SetAttribute("tür", "höhe", decimal.NewFromInt(2))
	ctx.SetAttribute("tür", "breite", decimal.NewFromInt(1))
	return ctx
}

func findResult(t *testing.T, results []Result, edgeClass string) Result {
	t.Helper()
	for _, r := range results {
		if r.EdgeClass == edgeClass {
			return r
		}
	}
	t.Fatalf("no result for edge class %q", edgeClass)
	return Result{}
}

func TestDerivePerimeter(t *testing.T) {
	d := NewDeriver(rule.DefaultLimits())

	results, warnings := d.Derive(doorRules(), doorContext(), nil)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	// The shelf rule is skipped: no boden component in the context.
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	outer := findResult(t, results, "tür_außen")
	if !outer.Derived.Equal(decimal.NewFromInt(12)) {
		t.Errorf("derived outer edges = %s, want 12 (2 × (2+1) × 2)", outer.Derived)
	}
	if !outer.Activated {
		t.Error("outer edges not activated by default")
	}

	inner := findResult(t, results, "tür_innen")
	if inner.Activated {
		t.Error("inner edges activated by default")
	}
}

func TestDeriveAppliesOverlay(t *testing.T) {
	d := NewDeriver(rule.DefaultLimits())
	off := false
	manual := decimal.RequireFromString("10.5")
	overlay := Overlay{
		"tür_außen": {Activated: &off, Manual: &manual},
	}

	results, _ := d.Derive(doorRules(), doorContext(), overlay)
	outer := findResult(t, results, "tür_außen")

	if outer.Activated {
		t.Error("overlay did not deactivate the edge class")
	}
	if !outer.Derived.Equal(decimal.NewFromInt(12)) {
		t.Errorf("derived value changed by overlay: %s, want 12", outer.Derived)
	}
	if !outer.Effective().Equal(manual) {
		t.Errorf("effective = %s, want manual 10.5", outer.Effective())
	}
}

func TestDeriveBrokenFormulaWarns(t *testing.T) {
	d := NewDeriver(rule.DefaultLimits())
	rules := []Rule{
		{
			ID:            "g-bad",
			EdgeClass:     "tür_außen",
			ComponentType: "tür",
			Category:      CategoryOuter,
			Formula:       rule.Attr("tür", "tiefe"), // attribute not extracted
			Active:        true,
		},
	}

	results, warnings := d.Derive(rules, doorContext(), nil)
	if len(results) != 0 {
		t.Fatalf("results = %+v, want none", results)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "tür_außen") {
		t.Fatalf("warnings = %v, want one naming tür_außen", warnings)
	}
}

func TestTotalRespectsActivation(t *testing.T) {
	d := NewDeriver(rule.DefaultLimits())

	results, _ := d.Derive(doorRules(), doorContext(), nil)

	// Outer 12 activated, inner 12 deactivated.
	if got := Total(results, true); !got.Equal(decimal.NewFromInt(12)) {
		t.Errorf("activated total = %s, want 12", got)
	}
	if got := Total(results, false); !got.Equal(decimal.NewFromInt(24)) {
		t.Errorf("full total = %s, want 24", got)
	}

	// Toggling the outer edges off removes them from the activated total
	// only; the derived value stays available.
	off := false
	results, _ = d.Derive(doorRules(), doorContext(), Overlay{"tür_außen": {Activated: &off}})
	if got := Total(results, true); !got.IsZero() {
		t.Errorf("activated total after toggle = %s, want 0", got)
	}
	if got := Total(results, false); !got.Equal(decimal.NewFromInt(24)) {
		t.Errorf("full total after toggle = %s, want 24", got)
	}
}

func TestOverlayStoreRoundTrip(t *testing.T) {
	store := NewInMemoryOverlayStore()

	overlay, err := store.Get("calc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(overlay) != 0 {
		t.Fatalf("fresh overlay = %v, want empty", overlay)
	}

	on := true
	if err := store.SetOverride("calc-1", "tür_innen", Override{Activated: &on}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	overlay, err = store.Get("calc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	o, ok := overlay["tür_innen"]
	if !ok || o.Activated == nil || !*o.Activated {
		t.Fatalf("overlay = %v, want tür_innen activated", overlay)
	}

	// Other calculations are unaffected.
	other, err := store.Get("calc-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("calc-2 overlay = %v, want empty", other)
	}

	if err := store.Clear("calc-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	overlay, _ = store.Get("calc-1")
	if len(overlay) != 0 {
		t.Errorf("overlay after clear = %v, want empty", overlay)
	}
}
