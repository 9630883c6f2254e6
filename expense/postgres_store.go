package expense

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/werkstatt-io/kalkwerk/rule"
)

const expenseColumns = `id, name, mode, amount, rate, quantity_key, condition,
	min_order_value, max_order_value, valid_from, valid_to, priority, active,
	organization_id, created_at, updated_at`

// PostgresStore implements Store backed by PostgreSQL. Conditional
// expressions are persisted as their JSON envelope and re-validated on
// read.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed expense rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanRule(scan func(...any) error) (*Rule, error) {
	var r Rule
	var condition []byte
	var orgID sql.NullString
	err := scan(
		&r.ID, &r.Name, &r.Mode, &r.Amount, &r.Rate, &r.QuantityKey, &condition,
		&r.MinOrderValue, &r.MaxOrderValue, &r.ValidFrom, &r.ValidTo,
		&r.Priority, &r.Active, &orgID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.OrganizationID = orgID.String

	if len(condition) > 0 {
		r.Condition, err = rule.Unmarshal(condition)
		if err != nil {
			return nil, fmt.Errorf("stored condition for expense rule %s is invalid: %w", r.ID, err)
		}
	}
	return &r, nil
}

func encodeCondition(r *Rule) ([]byte, error) {
	if r.Condition == nil {
		return nil, nil
	}
	condition, err := rule.Marshal(r.Condition)
	if err != nil {
		return nil, fmt.Errorf("failed to encode condition: %w", err)
	}
	return condition, nil
}

// Get retrieves a rule by ID.
func (s *PostgresStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+expenseColumns+`
		FROM expense_rules
		WHERE id = $1
	`, id)

	r, err := scanRule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("expense rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense rule: %w", err)
	}
	return r, nil
}

// ListActive returns the organization's active rules plus the global ones.
func (s *PostgresStore) ListActive(organizationID string) ([]Rule, error) {
	rows, err := s.db.Query(`
		SELECT `+expenseColumns+`
		FROM expense_rules
		WHERE active = true
		  AND (organization_id IS NULL OR organization_id = $1)
		ORDER BY priority DESC, created_at ASC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active expense rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense rule: %w", err)
		}
		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expense rules: %w", err)
	}
	return out, nil
}

// Add inserts a new rule into the database.
func (s *PostgresStore) Add(r *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM expense_rules WHERE id = $1)
	`, r.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check expense rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("expense rule with ID %s already exists", r.ID)
	}

	condition, err := encodeCondition(r)
	if err != nil {
		return err
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO expense_rules (`+expenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16)
	`, r.ID, r.Name, r.Mode, r.Amount, r.Rate, r.QuantityKey, condition,
		r.MinOrderValue, r.MaxOrderValue, r.ValidFrom, r.ValidTo,
		r.Priority, r.Active, r.OrganizationID, r.CreatedAt, r.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert expense rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule.
func (s *PostgresStore) Update(r *Rule) error {
	condition, err := encodeCondition(r)
	if err != nil {
		return err
	}

	r.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE expense_rules
		SET name = $1, mode = $2, amount = $3, rate = $4, quantity_key = $5,
			condition = $6, min_order_value = $7, max_order_value = $8,
			valid_from = $9, valid_to = $10, priority = $11, active = $12,
			organization_id = NULLIF($13, ''), updated_at = $14
		WHERE id = $15
	`, r.Name, r.Mode, r.Amount, r.Rate, r.QuantityKey, condition,
		r.MinOrderValue, r.MaxOrderValue, r.ValidFrom, r.ValidTo,
		r.Priority, r.Active, r.OrganizationID, r.UpdatedAt, r.ID)

	if err != nil {
		return fmt.Errorf("failed to update expense rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("expense rule %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a rule from the database.
func (s *PostgresStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM expense_rules
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete expense rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("expense rule %s: %w", id, ErrNotFound)
	}
	return nil
}
