package rule

import (
	"database/sql"
	"fmt"
	"time"
)

// PostgresCostRuleStore implements CostRuleStore backed by PostgreSQL. The
// expression tree is persisted as its JSON envelope and re-validated on read.
type PostgresCostRuleStore struct {
	db *sql.DB
}

// NewPostgresCostRuleStore creates a new PostgreSQL-backed CostRuleStore.
func NewPostgresCostRuleStore(db *sql.DB) *PostgresCostRuleStore {
	return &PostgresCostRuleStore{db: db}
}

// Add inserts a new rule into the database.
func (s *PostgresCostRuleStore) Add(rule *CostRule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM cost_rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check cost rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("cost rule with ID %s already exists", rule.ID)
	}

	expression, err := Marshal(rule.Expression)
	if err != nil {
		return fmt.Errorf("failed to encode expression: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO cost_rules (id, component_id, description, expression, priority, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, rule.ComponentID, rule.Description, expression, rule.Priority,
		rule.Active, rule.CreatedAt, rule.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert cost rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresCostRuleStore) Get(id string) (*CostRule, error) {
	var rule CostRule
	var expression []byte
	err := s.db.QueryRow(`
		SELECT id, component_id, description, expression, priority, active, created_at, updated_at
		FROM cost_rules
		WHERE id = $1
	`, id).Scan(
		&rule.ID,
		&rule.ComponentID,
		&rule.Description,
		&expression,
		&rule.Priority,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cost rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost rule: %w", err)
	}

	rule.Expression, err = Unmarshal(expression)
	if err != nil {
		return nil, fmt.Errorf("stored expression for cost rule %s is invalid: %w", id, err)
	}

	return &rule, nil
}

// ListActive returns all active rules, oldest first.
func (s *PostgresCostRuleStore) ListActive() ([]*CostRule, error) {
	rows, err := s.db.Query(`
		SELECT id, component_id, description, expression, priority, active, created_at, updated_at
		FROM cost_rules
		WHERE active = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cost rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*CostRule
	for rows.Next() {
		var r CostRule
		var expression []byte
		if err := rows.Scan(&r.ID, &r.ComponentID, &r.Description, &expression,
			&r.Priority, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cost rule: %w", err)
		}
		r.Expression, err = Unmarshal(expression)
		if err != nil {
			return nil, fmt.Errorf("stored expression for cost rule %s is invalid: %w", r.ID, err)
		}
		rulesList = append(rulesList, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cost rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule.
func (s *PostgresCostRuleStore) Update(rule *CostRule) error {
	expression, err := Marshal(rule.Expression)
	if err != nil {
		return fmt.Errorf("failed to encode expression: %w", err)
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE cost_rules
		SET component_id = $1, description = $2, expression = $3, priority = $4, active = $5, updated_at = $6
		WHERE id = $7
	`, rule.ComponentID, rule.Description, expression, rule.Priority, rule.Active,
		rule.UpdatedAt, rule.ID)

	if err != nil {
		return fmt.Errorf("failed to update cost rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("cost rule %s not found", rule.ID)
	}

	return nil
}

// Delete removes a rule from the database.
func (s *PostgresCostRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM cost_rules
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete cost rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("cost rule %s not found", id)
	}

	return nil
}
