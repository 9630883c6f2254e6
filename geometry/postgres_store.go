package geometry

import (
	"database/sql"
	"fmt"

	"github.com/werkstatt-io/kalkwerk/rule"
)

const ruleColumns = `id, edge_class, component_type, category, formula, default_visible, active`

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Formulas
// are persisted as their JSON envelope and re-validated on read.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed geometry rule store.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func scanGeometryRule(scan func(...any) error) (*Rule, error) {
	var r Rule
	var formula []byte
	err := scan(&r.ID, &r.EdgeClass, &r.ComponentType, &r.Category,
		&formula, &r.DefaultVisible, &r.Active)
	if err != nil {
		return nil, err
	}

	r.Formula, err = rule.Unmarshal(formula)
	if err != nil {
		return nil, fmt.Errorf("stored formula for geometry rule %s is invalid: %w", r.ID, err)
	}
	return &r, nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM geometry_rules
		WHERE id = $1
	`, id)

	r, err := scanGeometryRule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("geometry rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geometry rule: %w", err)
	}
	return r, nil
}

// ListActive returns all active rules.
func (s *PostgresRuleStore) ListActive() ([]Rule, error) {
	rows, err := s.db.Query(`
		SELECT ` + ruleColumns + `
		FROM geometry_rules
		WHERE active = true
		ORDER BY edge_class ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active geometry rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanGeometryRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan geometry rule: %w", err)
		}
		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating geometry rules: %w", err)
	}
	return out, nil
}

// Add inserts a new rule into the database.
func (s *PostgresRuleStore) Add(r *Rule) error {
	formula, err := rule.Marshal(r.Formula)
	if err != nil {
		return fmt.Errorf("failed to encode formula: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO geometry_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.EdgeClass, r.ComponentType, r.Category, formula, r.DefaultVisible, r.Active)
	if err != nil {
		return fmt.Errorf("failed to insert geometry rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(r *Rule) error {
	formula, err := rule.Marshal(r.Formula)
	if err != nil {
		return fmt.Errorf("failed to encode formula: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE geometry_rules
		SET edge_class = $1, component_type = $2, category = $3, formula = $4,
			default_visible = $5, active = $6
		WHERE id = $7
	`, r.EdgeClass, r.ComponentType, r.Category, formula, r.DefaultVisible, r.Active, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update geometry rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("geometry rule %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a rule from the database.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM geometry_rules
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete geometry rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("geometry rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// PostgresOverlayStore implements OverlayStore backed by PostgreSQL, one
// row per (calculation, edge class) override.
type PostgresOverlayStore struct {
	db *sql.DB
}

// NewPostgresOverlayStore creates a new PostgreSQL-backed overlay store.
func NewPostgresOverlayStore(db *sql.DB) *PostgresOverlayStore {
	return &PostgresOverlayStore{db: db}
}

// Get returns the calculation's overlay, empty when none is stored.
func (s *PostgresOverlayStore) Get(calculationID string) (Overlay, error) {
	rows, err := s.db.Query(`
		SELECT edge_class, activated, manual
		FROM geometry_overrides
		WHERE calculation_id = $1
	`, calculationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load overlay: %w", err)
	}
	defer rows.Close()

	overlay := make(Overlay)
	for rows.Next() {
		var edgeClass string
		var o Override
		if err := rows.Scan(&edgeClass, &o.Activated, &o.Manual); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overlay[edgeClass] = o
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", err)
	}
	return overlay, nil
}

// SetOverride upserts one edge class override.
func (s *PostgresOverlayStore) SetOverride(calculationID, edgeClass string, o Override) error {
	_, err := s.db.Exec(`
		INSERT INTO geometry_overrides (calculation_id, edge_class, activated, manual)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (calculation_id, edge_class)
		DO UPDATE SET activated = EXCLUDED.activated, manual = EXCLUDED.manual
	`, calculationID, edgeClass, o.Activated, o.Manual)
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}
	return nil
}

// Clear removes all overrides of a calculation.
func (s *PostgresOverlayStore) Clear(calculationID string) error {
	_, err := s.db.Exec(`
		DELETE FROM geometry_overrides
		WHERE calculation_id = $1
	`, calculationID)
	if err != nil {
		return fmt.Errorf("failed to clear overlay: %w", err)
	}
	return nil
}
