package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/werkstatt-io/kalkwerk/calc"
	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/expense"
	"github.com/werkstatt-io/kalkwerk/geometry"
	"github.com/werkstatt-io/kalkwerk/internal/logger"
	"github.com/werkstatt-io/kalkwerk/pricing"
	"github.com/werkstatt-io/kalkwerk/rule"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Calculation handler
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.OrganizationID == "" || req.Trade == "" {
		respondError(w, http.StatusBadRequest, "organization_id and trade are required", nil)
		return
	}
	if req.CalculationID == "" {
		req.CalculationID = uuid.NewString()
	}

	resp, err := s.calculator.Calculate(&req)
	if err != nil {
		var noCatalog *catalog.NoCatalogError
		var missingFactor *pricing.MissingFactorError
		switch {
		case errors.As(err, &noCatalog):
			respondError(w, http.StatusNotFound, "no catalog available", err)
		case errors.As(err, &missingFactor):
			respondError(w, http.StatusUnprocessableEntity, "pricing configuration incomplete", err)
		default:
			logger.Error("calculation failed", "calculation_id", req.CalculationID, "error", err)
			respondError(w, http.StatusInternalServerError, "calculation failed", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Geometry override handlers

func (s *Server) handleSetGeometryOverride(w http.ResponseWriter, r *http.Request) {
	calculationID := chi.URLParam(r, "calculationId")
	edgeClass := chi.URLParam(r, "edgeClass")

	var req GeometryOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	override := geometry.Override{Activated: req.Activated, Manual: req.Manual}
	if err := s.overlays.SetOverride(calculationID, edgeClass, override); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store override", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"calculation_id": calculationID,
		"edge_class":     edgeClass,
		"override":       override,
	})
}

func (s *Server) handleClearGeometryOverrides(w http.ResponseWriter, r *http.Request) {
	calculationID := chi.URLParam(r, "calculationId")

	if err := s.overlays.Clear(calculationID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear overrides", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Component handlers

func (s *Server) handleCreateComponent(w http.ResponseWriter, r *http.Request) {
	var req ComponentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || req.Unit == "" {
		respondError(w, http.StatusBadRequest, "name and unit are required", nil)
		return
	}

	component := &catalog.Component{ID: uuid.NewString()}
	req.apply(component)

	if err := s.catalogs.AddComponent(component); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create component", err)
		return
	}

	respondJSON(w, http.StatusCreated, component)
}

func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	component, err := s.catalogs.GetComponent(chi.URLParam(r, "componentId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "component not found", err)
		return
	}
	respondJSON(w, http.StatusOK, component)
}

func (s *Server) handleUpdateComponent(w http.ResponseWriter, r *http.Request) {
	componentID := chi.URLParam(r, "componentId")

	var req ComponentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	component, err := s.catalogs.GetComponent(componentID)
	if err != nil {
		respondError(w, http.StatusNotFound, "component not found", err)
		return
	}
	req.apply(component)

	if err := s.catalogs.UpdateComponent(component); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update component", err)
		return
	}

	// A component price feeds every snapshot that contains it. Evict
	// before acknowledging so the next calculation sees the new price.
	s.snapshots.InvalidateAll()

	respondJSON(w, http.StatusOK, component)
}

// Catalog handlers

func (s *Server) handleCreateCatalog(w http.ResponseWriter, r *http.Request) {
	var req CatalogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || req.Trade == "" {
		respondError(w, http.StatusBadRequest, "name and trade are required", nil)
		return
	}

	c := &catalog.Catalog{ID: uuid.NewString()}
	req.apply(c)

	if err := s.catalogs.AddCatalog(c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create catalog", err)
		return
	}

	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalogs.GetCatalog(chi.URLParam(r, "catalogId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "catalog not found", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCatalog(w http.ResponseWriter, r *http.Request) {
	catalogID := chi.URLParam(r, "catalogId")

	var req CatalogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	c, err := s.catalogs.GetCatalog(catalogID)
	if err != nil {
		respondError(w, http.StatusNotFound, "catalog not found", err)
		return
	}
	req.apply(c)

	if err := s.catalogs.UpdateCatalog(c); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update catalog", err)
		return
	}

	// Evict the stale snapshot before acknowledging.
	s.resolver.Invalidate(catalogID)

	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleSetDefaultCatalog(w http.ResponseWriter, r *http.Request) {
	catalogID := chi.URLParam(r, "catalogId")

	if err := s.catalogs.SetDefault(catalogID); err != nil {
		respondError(w, http.StatusNotFound, "failed to set default catalog", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     catalogID,
		"status": "default",
	})
}

func (s *Server) handleCreateCatalogVersion(w http.ResponseWriter, r *http.Request) {
	catalogID := chi.URLParam(r, "catalogId")

	c, err := s.catalogs.GetCatalog(catalogID)
	if err != nil {
		respondError(w, http.StatusNotFound, "catalog not found", err)
		return
	}

	next := c.NewVersion(uuid.NewString())
	if err := s.catalogs.AddCatalog(next); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create catalog version", err)
		return
	}

	respondJSON(w, http.StatusCreated, next)
}

func (s *Server) handleListCatalogVersions(w http.ResponseWriter, r *http.Request) {
	chain, err := catalog.VersionChain(s.catalogs, chi.URLParam(r, "catalogId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "catalog not found", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"versions": chain,
	})
}

// Cost rule handlers

func (s *Server) handleCreateCostRule(w http.ResponseWriter, r *http.Request) {
	var req CostRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ComponentID == "" {
		respondError(w, http.StatusBadRequest, "component_id is required", nil)
		return
	}

	expr, err := req.decode(s.limits)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid expression", err)
		return
	}

	costRule := &rule.CostRule{
		ID:          uuid.NewString(),
		ComponentID: req.ComponentID,
		Description: req.Description,
		Expression:  expr,
		Priority:    req.Priority,
		Active:      req.Active,
	}
	if err := s.costRules.Add(costRule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create cost rule", err)
		return
	}

	resp, err := costRuleResponse(costRule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode cost rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListCostRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.costRules.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list cost rules", err)
		return
	}

	out := make([]*CostRuleResponse, 0, len(active))
	for _, cr := range active {
		resp, err := costRuleResponse(cr)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode cost rule", err)
			return
		}
		out = append(out, resp)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": out,
	})
}

func (s *Server) handleGetCostRule(w http.ResponseWriter, r *http.Request) {
	costRule, err := s.costRules.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "cost rule not found", err)
		return
	}

	resp, err := costRuleResponse(costRule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode cost rule", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateCostRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req CostRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	expr, err := req.decode(s.limits)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid expression", err)
		return
	}

	costRule := &rule.CostRule{
		ID:          ruleID,
		ComponentID: req.ComponentID,
		Description: req.Description,
		Expression:  expr,
		Priority:    req.Priority,
		Active:      req.Active,
	}
	if err := s.costRules.Update(costRule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update cost rule", err)
		return
	}

	resp, err := costRuleResponse(costRule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode cost rule", err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteCostRule(w http.ResponseWriter, r *http.Request) {
	if err := s.costRules.Delete(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "cost rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Factor handlers

func (s *Server) handleCreateFactor(w http.ResponseWriter, r *http.Request) {
	var req FactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Category == "" {
		respondError(w, http.StatusBadRequest, "category is required", nil)
		return
	}

	factor := &pricing.Factor{ID: uuid.NewString()}
	req.apply(factor)

	if err := s.factors.Add(factor); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create factor", err)
		return
	}

	// Evict before acknowledging so the next pipeline run sees the new
	// value.
	s.factorSource.Invalidate(factor.Category, factor.Key)

	respondJSON(w, http.StatusCreated, factor)
}

func (s *Server) handleGetFactor(w http.ResponseWriter, r *http.Request) {
	factor, err := s.factors.Get(chi.URLParam(r, "factorId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "factor not found", err)
		return
	}
	respondJSON(w, http.StatusOK, factor)
}

func (s *Server) handleUpdateFactor(w http.ResponseWriter, r *http.Request) {
	factorID := chi.URLParam(r, "factorId")

	var req FactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	existing, err := s.factors.Get(factorID)
	if err != nil {
		respondError(w, http.StatusNotFound, "factor not found", err)
		return
	}
	previousCategory, previousKey := existing.Category, existing.Key

	factor := &pricing.Factor{ID: factorID}
	req.apply(factor)

	if err := s.factors.Update(factor); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update factor", err)
		return
	}

	s.factorSource.Invalidate(previousCategory, previousKey)
	s.factorSource.Invalidate(factor.Category, factor.Key)

	respondJSON(w, http.StatusOK, factor)
}

func (s *Server) handleDeleteFactor(w http.ResponseWriter, r *http.Request) {
	factorID := chi.URLParam(r, "factorId")

	existing, err := s.factors.Get(factorID)
	if err != nil {
		respondError(w, http.StatusNotFound, "factor not found", err)
		return
	}

	if err := s.factors.Delete(factorID); err != nil {
		respondError(w, http.StatusNotFound, "factor not found", err)
		return
	}

	s.factorSource.Invalidate(existing.Category, existing.Key)

	w.WriteHeader(http.StatusNoContent)
}

// Expense rule handlers

func (s *Server) handleCreateExpenseRule(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Mode == "" {
		respondError(w, http.StatusBadRequest, "mode is required", nil)
		return
	}

	expenseRule := &expense.Rule{ID: uuid.NewString()}
	if err := req.apply(expenseRule, s.limits); err != nil {
		respondError(w, http.StatusBadRequest, "invalid expense rule", err)
		return
	}

	if err := s.expenses.Add(expenseRule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create expense rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, expenseRule)
}

func (s *Server) handleGetExpenseRule(w http.ResponseWriter, r *http.Request) {
	expenseRule, err := s.expenses.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "expense rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, expenseRule)
}

func (s *Server) handleUpdateExpenseRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req ExpenseRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	expenseRule := &expense.Rule{ID: ruleID}
	if err := req.apply(expenseRule, s.limits); err != nil {
		respondError(w, http.StatusBadRequest, "invalid expense rule", err)
		return
	}

	if err := s.expenses.Update(expenseRule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update expense rule", err)
		return
	}

	respondJSON(w, http.StatusOK, expenseRule)
}

func (s *Server) handleDeleteExpenseRule(w http.ResponseWriter, r *http.Request) {
	if err := s.expenses.Delete(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "expense rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Geometry rule handlers

func (s *Server) handleCreateGeometryRule(w http.ResponseWriter, r *http.Request) {
	var req GeometryRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EdgeClass == "" || req.ComponentType == "" {
		respondError(w, http.StatusBadRequest, "edge_class and component_type are required", nil)
		return
	}

	geometryRule := &geometry.Rule{ID: uuid.NewString()}
	if err := req.apply(geometryRule, s.limits); err != nil {
		respondError(w, http.StatusBadRequest, "invalid geometry rule", err)
		return
	}

	if err := s.geometryRules.Add(geometryRule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create geometry rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":         geometryRule.ID,
		"edge_class": geometryRule.EdgeClass,
	})
}

func (s *Server) handleListGeometryRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.geometryRules.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list geometry rules", err)
		return
	}

	type geometryRuleView struct {
		ID             string            `json:"id"`
		EdgeClass      string            `json:"edge_class"`
		ComponentType  string            `json:"component_type"`
		Category       geometry.Category `json:"category"`
		Formula        json.RawMessage   `json:"formula"`
		DefaultVisible bool              `json:"default_visible"`
	}

	out := make([]geometryRuleView, 0, len(active))
	for _, g := range active {
		formula, err := rule.Marshal(g.Formula)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode geometry rule", err)
			return
		}
		out = append(out, geometryRuleView{
			ID:             g.ID,
			EdgeClass:      g.EdgeClass,
			ComponentType:  g.ComponentType,
			Category:       g.Category,
			Formula:        formula,
			DefaultVisible: g.DefaultVisible,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": out,
	})
}

func (s *Server) handleUpdateGeometryRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req GeometryRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	geometryRule := &geometry.Rule{ID: ruleID}
	if err := req.apply(geometryRule, s.limits); err != nil {
		respondError(w, http.StatusBadRequest, "invalid geometry rule", err)
		return
	}

	if err := s.geometryRules.Update(geometryRule); err != nil {
		respondError(w, http.StatusNotFound, "failed to update geometry rule", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":         geometryRule.ID,
		"edge_class": geometryRule.EdgeClass,
	})
}

func (s *Server) handleDeleteGeometryRule(w http.ResponseWriter, r *http.Request) {
	if err := s.geometryRules.Delete(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "geometry rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
