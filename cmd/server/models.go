package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/werkstatt-io/kalkwerk/catalog"
	"github.com/werkstatt-io/kalkwerk/expense"
	"github.com/werkstatt-io/kalkwerk/geometry"
	"github.com/werkstatt-io/kalkwerk/pricing"
	"github.com/werkstatt-io/kalkwerk/rule"
)

// API request and response models.

// ComponentRequest is the body for creating or updating a component.
type ComponentRequest struct {
	Name      string           `json:"name"`
	Category  catalog.Category `json:"category"`
	Trades    []string         `json:"trades"`
	Unit      string           `json:"unit"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Active    bool             `json:"active"`
	ValidFrom *time.Time       `json:"valid_from,omitempty"`
	ValidTo   *time.Time       `json:"valid_to,omitempty"`
}

func (r *ComponentRequest) apply(c *catalog.Component) {
	c.Name = r.Name
	c.Category = r.Category
	c.Trades = r.Trades
	c.Unit = r.Unit
	c.UnitPrice = r.UnitPrice
	c.Active = r.Active
	c.ValidFrom = r.ValidFrom
	c.ValidTo = r.ValidTo
}

// EntryRequest is one catalog entry in a catalog body.
type EntryRequest struct {
	ComponentID   string           `json:"component_id"`
	PriceOverride *decimal.Decimal `json:"price_override,omitempty"`
}

// CatalogRequest is the body for creating or updating a catalog.
type CatalogRequest struct {
	Name           string         `json:"name"`
	Trade          string         `json:"trade"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Default        bool           `json:"default"`
	ValidFrom      *time.Time     `json:"valid_from,omitempty"`
	ValidTo        *time.Time     `json:"valid_to,omitempty"`
	Entries        []EntryRequest `json:"entries"`
}

func (r *CatalogRequest) apply(c *catalog.Catalog) {
	c.Name = r.Name
	c.Trade = r.Trade
	c.OrganizationID = r.OrganizationID
	c.Default = r.Default
	c.ValidFrom = r.ValidFrom
	c.ValidTo = r.ValidTo
	c.Entries = make([]catalog.Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		c.Entries = append(c.Entries, catalog.Entry{
			ComponentID:   e.ComponentID,
			PriceOverride: e.PriceOverride,
		})
	}
}

// CostRuleRequest is the body for creating or updating a cost rule. The
// expression arrives as its JSON envelope and is validated before the
// rule is accepted.
type CostRuleRequest struct {
	ComponentID string          `json:"component_id"`
	Description string          `json:"description,omitempty"`
	Expression  json.RawMessage `json:"expression"`
	Priority    int             `json:"priority"`
	Active      bool            `json:"active"`
}

func (r *CostRuleRequest) decode(limits rule.Limits) (rule.Expression, error) {
	if len(r.Expression) == 0 {
		return nil, fmt.Errorf("expression is required")
	}
	expr, err := rule.Unmarshal(r.Expression)
	if err != nil {
		return nil, err
	}
	if err := rule.Validate(expr, limits); err != nil {
		return nil, err
	}
	return expr, nil
}

// CostRuleResponse is a cost rule in API responses, the expression
// re-encoded as its JSON envelope.
type CostRuleResponse struct {
	ID          string          `json:"id"`
	ComponentID string          `json:"component_id"`
	Description string          `json:"description,omitempty"`
	Expression  json.RawMessage `json:"expression"`
	Priority    int             `json:"priority"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func costRuleResponse(r *rule.CostRule) (*CostRuleResponse, error) {
	expression, err := rule.Marshal(r.Expression)
	if err != nil {
		return nil, err
	}
	return &CostRuleResponse{
		ID:          r.ID,
		ComponentID: r.ComponentID,
		Description: r.Description,
		Expression:  expression,
		Priority:    r.Priority,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// FactorRequest is the body for creating or updating a pricing factor.
type FactorRequest struct {
	Tier           pricing.Tier    `json:"tier"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Category       string          `json:"category"`
	Key            string          `json:"key,omitempty"`
	Value          decimal.Decimal `json:"value"`
	Active         bool            `json:"active"`
}

func (r *FactorRequest) apply(f *pricing.Factor) {
	f.Tier = r.Tier
	f.OrganizationID = r.OrganizationID
	f.Category = r.Category
	f.Key = r.Key
	f.Value = r.Value
	f.Active = r.Active
}

// ExpenseRuleRequest is the body for creating or updating an expense rule.
type ExpenseRuleRequest struct {
	Name           string           `json:"name"`
	Mode           expense.Mode     `json:"mode"`
	Amount         decimal.Decimal  `json:"amount,omitempty"`
	Rate           decimal.Decimal  `json:"rate,omitempty"`
	QuantityKey    string           `json:"quantity_key,omitempty"`
	Condition      json.RawMessage  `json:"condition,omitempty"`
	MinOrderValue  *decimal.Decimal `json:"min_order_value,omitempty"`
	MaxOrderValue  *decimal.Decimal `json:"max_order_value,omitempty"`
	ValidFrom      *time.Time       `json:"valid_from,omitempty"`
	ValidTo        *time.Time       `json:"valid_to,omitempty"`
	Priority       int              `json:"priority"`
	Active         bool             `json:"active"`
	OrganizationID string           `json:"organization_id,omitempty"`
}

func (r *ExpenseRuleRequest) apply(e *expense.Rule, limits rule.Limits) error {
	if r.Mode == expense.ModeConditional {
		if len(r.Condition) == 0 {
			return fmt.Errorf("conditional rules require a condition")
		}
		condition, err := rule.Unmarshal(r.Condition)
		if err != nil {
			return err
		}
		if err := rule.Validate(condition, limits); err != nil {
			return err
		}
		e.Condition = condition
	}
	e.Name = r.Name
	e.Mode = r.Mode
	e.Amount = r.Amount
	e.Rate = r.Rate
	e.QuantityKey = r.QuantityKey
	e.MinOrderValue = r.MinOrderValue
	e.MaxOrderValue = r.MaxOrderValue
	e.ValidFrom = r.ValidFrom
	e.ValidTo = r.ValidTo
	e.Priority = r.Priority
	e.Active = r.Active
	e.OrganizationID = r.OrganizationID
	return nil
}

// GeometryRuleRequest is the body for creating or updating a geometry rule.
type GeometryRuleRequest struct {
	EdgeClass      string            `json:"edge_class"`
	ComponentType  string            `json:"component_type"`
	Category       geometry.Category `json:"category"`
	Formula        json.RawMessage   `json:"formula"`
	DefaultVisible bool              `json:"default_visible"`
	Active         bool              `json:"active"`
}

func (r *GeometryRuleRequest) apply(g *geometry.Rule, limits rule.Limits) error {
	if len(r.Formula) == 0 {
		return fmt.Errorf("formula is required")
	}
	formula, err := rule.Unmarshal(r.Formula)
	if err != nil {
		return err
	}
	if err := rule.Validate(formula, limits); err != nil {
		return err
	}
	g.EdgeClass = r.EdgeClass
	g.ComponentType = r.ComponentType
	g.Category = r.Category
	g.Formula = formula
	g.DefaultVisible = r.DefaultVisible
	g.Active = r.Active
	return nil
}

// GeometryOverrideRequest is the body for overriding one edge class of a
// calculation.
type GeometryOverrideRequest struct {
	Activated *bool            `json:"activated,omitempty"`
	Manual    *decimal.Decimal `json:"manual,omitempty"`
}
