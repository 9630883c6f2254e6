package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/expense"
	"github.com/werkstatt-io/kalkwerk/geometry"
	"github.com/werkstatt-io/kalkwerk/pricing"
	"github.com/werkstatt-io/kalkwerk/rule"
)

type testEnv struct {
	server   *Server
	catalogs *catalog.InMemoryStore
	factors  *pricing.InMemoryFactorStore
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestEnv wires a server over in-memory stores, seeded with one
// catalog, one edging component, the standard factors and one geometry
// plus one cost rule.
func newTestEnv(t *testing.T) *testEnv {
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
		Expression:  rule.ContextRef{Name: "tür_außen"},
		Active:      true,
	}); err != nil {
		t.Fatalf("Add cost rule: %v", err)
	}

	factors := pricing.NewInMemoryFactorStore()
	seed := []*pricing.Factor{
		{ID: "f-eiche", Tier: pricing.TierGlobal, Category: pricing.CategoryMaterial, Key: "eiche", Value: dec("1.3"), Active: true},
		{ID: "f-cnc", Tier: pricing.TierGlobal, Category: pricing.CategoryTechnique, Key: "cnc", Value: dec("1.15"), Active: true},
		{ID: "f-lack", Tier: pricing.TierGlobal, Category: pricing.CategoryFinish, Key: "lackiert", Value: dec("1.1"), Active: true},
		{ID: "f-hourly", Tier: pricing.TierOrganization, Category: pricing.MetricHourlyRate, OrganizationID: "org-1", Value: dec("85"), Active: true},
		{ID: "f-overhead", Tier: pricing.TierOrganization, Category: pricing.MetricOverheadRate, OrganizationID: "org-1", Value: dec("0.25"), Active: true},
		{ID: "f-margin", Tier: pricing.TierOrganization, Category: pricing.MetricMarginRate, OrganizationID: "org-1", Value: dec("0.2"), Active: true},
	}
	for _, f := range seed {
		if err := factors.Add(f); err != nil {
			t.Fatalf("Add factor: %v", err)
		}
	}

	server := newServer(
		catalogs,
		costRules,
		factors,
		expense.NewInMemoryStore(),
		geometryRules,
		geometry.NewInMemoryOverlayStore(),
	)
	return &testEnv{server: server, catalogs: catalogs, factors: factors}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func calculateBody() map[string]any {
	return map[string]any{
		"calculation_id":  "calc-1",
		"organization_id": "org-1",
		"trade":           "tischler",
		"components": []map[string]any{
			{"type": "tür", "attributes": map[string]string{
				"anzahl": "2", "höhe": "2", "breite": "1",
			}},
		},
		"quantity":   "1",
		"unit_price": "100",
		"material":   "eiche",
		"technique":  "cnc",
		"finish":     "lackiert",
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestCalculateEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Total    decimal.Decimal `json:"total"`
		Warnings []string        `json:"warnings"`
		Pricing  struct {
			Steps []struct {
				Name string `json:"name"`
			} `json:"steps"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	// ((100 × 1.3 × 1.15 × 1.1) + 14.4) × 1.25 × 1.2 = 268.275 → 268.28.
	if !resp.Total.Equal(dec("268.28")) {
		t.Errorf("total = %s, want 268.28", resp.Total)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", resp.Warnings)
	}
	if len(resp.Pricing.Steps) == 0 {
		t.Error("response has no pricing steps")
	}
}

func TestCalculateWarningsOnlyAtTopLevel(t *testing.T) {
	e := newTestEnv(t)

	body := calculateBody()
	body["dynamic"] = map[string]string{"season": "sommer"}

	rec := e.do(t, http.MethodPost, "/api/v1/calculate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	var warnings []string
	if err := json.Unmarshal(resp["warnings"], &warnings); err != nil {
		t.Fatalf("decoding warnings: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly the defaulted dynamic factor", warnings)
	}

	for _, stage := range []string{"components", "pricing", "expenses"} {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(resp[stage], &fields); err != nil {
			t.Fatalf("decoding %s: %v", stage, err)
		}
		if _, ok := fields["warnings"]; ok {
			t.Errorf("%s carries its own warnings field", stage)
		}
	}
}

func TestCalculateMissingTradeRejected(t *testing.T) {
	e := newTestEnv(t)

	body := calculateBody()
	delete(body, "trade")

	rec := e.do(t, http.MethodPost, "/api/v1/calculate", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCalculateNoCatalogIs404(t *testing.T) {
	e := newTestEnv(t)

	body := calculateBody()
	body["trade"] = "metallbau"

	rec := e.do(t, http.MethodPost, "/api/v1/calculate", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCalculateMissingFactorIs422(t *testing.T) {
	e := newTestEnv(t)

	body := calculateBody()
	body["material"] = "teak"

	rec := e.do(t, http.MethodPost, "/api/v1/calculate", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestCreateCostRuleValidatesExpression(t *testing.T) {
	e := newTestEnv(t)

	valid := map[string]any{
		"component_id": "comp-edgeband",
		"expression": map[string]any{
			"operation": "FIXED",
			"value":     4,
		},
		"active": true,
	}
	rec := e.do(t, http.MethodPost, "/api/v1/cost-rules", valid)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	unknown := map[string]any{
		"component_id": "comp-edgeband",
		"expression": map[string]any{
			"operation": "EXEC",
			"value":     4,
		},
		"active": true,
	}
	rec = e.do(t, http.MethodPost, "/api/v1/cost-rules", unknown)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown operation status = %d, want 400", rec.Code)
	}
}

func TestComponentPriceChangeVisibleAfterWrite(t *testing.T) {
	e := newTestEnv(t)

	// Prime the snapshot cache.
	rec := e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("first calculate status = %d", rec.Code)
	}

	update := map[string]any{
		"name":       "Kantenband Eiche",
		"category":   "edging",
		"trades":     []string{"tischler"},
		"unit":       "m",
		"unit_price": "2.40",
		"active":     true,
	}
	rec = e.do(t, http.MethodPut, "/api/v1/components/comp-edgeband", update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body)
	}

	// The acknowledged write must be visible to the very next calculation:
	// component costs double from 14.40 to 28.80.
	rec = e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("second calculate status = %d", rec.Code)
	}
	var resp struct {
		Components struct {
			Total decimal.Decimal `json:"total"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Components.Total.Equal(dec("28.8")) {
		t.Errorf("component total = %s, want 28.8 after price update", resp.Components.Total)
	}
}

func TestFactorChangeVisibleAfterWrite(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("first calculate status = %d", rec.Code)
	}

	update := map[string]any{
		"tier":     "global",
		"category": "material",
		"key":      "eiche",
		"value":    "1.5",
		"active":   true,
	}
	rec = e.do(t, http.MethodPut, "/api/v1/factors/f-eiche", update)
	if rec.Code != http.StatusOK {
		t.Fatalf("factor update status = %d, body %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("second calculate status = %d", rec.Code)
	}
	var resp struct {
		Pricing struct {
			Steps []struct {
				Name     string          `json:"name"`
				Subtotal decimal.Decimal `json:"subtotal"`
			} `json:"steps"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	for _, step := range resp.Pricing.Steps {
		if step.Name == "material_factor" {
			if !step.Subtotal.Equal(dec("150")) {
				t.Errorf("material step subtotal = %s, want 150 after factor update", step.Subtotal)
			}
			return
		}
	}
	t.Fatal("no material_factor step in response")
}

func TestGeometryOverrideEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPut, "/api/v1/calculations/calc-1/geometry/tür_außen",
		map[string]any{"activated": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, body %s", rec.Code, rec.Body)
	}

	// With the outer edges toggled off, the edging quantity is zero and no
	// component line is produced.
	rec = e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("calculate status = %d", rec.Code)
	}
	var resp struct {
		Components struct {
			Total decimal.Decimal `json:"total"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Components.Total.IsZero() {
		t.Errorf("component total = %s, want 0 with edges deactivated", resp.Components.Total)
	}

	// Clearing the overlay restores the derived default.
	rec = e.do(t, http.MethodDelete, "/api/v1/calculations/calc-1/geometry", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/v1/calculate", calculateBody())
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Components.Total.Equal(dec("14.4")) {
		t.Errorf("component total = %s, want 14.4 after clearing overrides", resp.Components.Total)
	}
}

func TestCatalogVersionEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/catalogs/cat-global/versions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create version status = %d, body %s", rec.Code, rec.Body)
	}
	var next catalog.Catalog
	if err := json.Unmarshal(rec.Body.Bytes(), &next); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if next.PredecessorID != "cat-global" {
		t.Errorf("predecessor = %s, want cat-global", next.PredecessorID)
	}
	if next.Default {
		t.Error("new version must not be default until promoted")
	}

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/catalogs/%s/versions", next.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list versions status = %d", rec.Code)
	}
	var versions struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(versions.Versions) != 2 || versions.Versions[1] != "cat-global" {
		t.Errorf("version chain = %v, want [%s cat-global]", versions.Versions, next.ID)
	}

	rec = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/catalogs/%s/default", next.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set default status = %d", rec.Code)
	}
}
