package pricing

import (
	"database/sql"
	"fmt"
	"time"
)

// PostgresFactorStore implements FactorStore backed by PostgreSQL.
type PostgresFactorStore struct {
	db *sql.DB
}

// NewPostgresFactorStore creates a new PostgreSQL-backed FactorStore.
func NewPostgresFactorStore(db *sql.DB) *PostgresFactorStore {
	return &PostgresFactorStore{db: db}
}

const factorColumns = `id, tier, organization_id, category, key, value, active, created_at, updated_at`

func scanFactor(scan func(...any) error) (*Factor, error) {
	var f Factor
	var organizationID sql.NullString
	err := scan(&f.ID, &f.Tier, &organizationID, &f.Category, &f.Key,
		&f.Value, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.OrganizationID = organizationID.String
	return &f, nil
}

// Get retrieves a factor by ID.
func (s *PostgresFactorStore) Get(id string) (*Factor, error) {
	row := s.db.QueryRow(`
		SELECT `+factorColumns+`
		FROM pricing_factors
		WHERE id = $1
	`, id)

	f, err := scanFactor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("factor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get factor: %w", err)
	}
	return f, nil
}

// Find returns the active factor matching tier, scope, category and key.
func (s *PostgresFactorStore) Find(tier Tier, organizationID, category, key string) (*Factor, error) {
	row := s.db.QueryRow(`
		SELECT `+factorColumns+`
		FROM pricing_factors
		WHERE tier = $1 AND organization_id IS NOT DISTINCT FROM NULLIF($2, '')
		  AND category = $3 AND key = $4 AND active = true
	`, tier, organizationID, category, key)

	f, err := scanFactor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("factor %s/%s/%s: %w", tier, category, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find factor: %w", err)
	}
	return f, nil
}

// Add inserts a new factor.
func (s *PostgresFactorStore) Add(f *Factor) error {
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO pricing_factors (id, tier, organization_id, category, key, value, active, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`, f.ID, f.Tier, f.OrganizationID, f.Category, f.Key, f.Value, f.Active,
		f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert factor: %w", err)
	}
	return nil
}

// Update modifies an existing factor.
func (s *PostgresFactorStore) Update(f *Factor) error {
	f.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE pricing_factors
		SET tier = $1, organization_id = NULLIF($2, ''), category = $3, key = $4,
		    value = $5, active = $6, updated_at = $7
		WHERE id = $8
	`, f.Tier, f.OrganizationID, f.Category, f.Key, f.Value, f.Active, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update factor: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("factor %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a factor.
func (s *PostgresFactorStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM pricing_factors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete factor: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("factor %s: %w", id, ErrNotFound)
	}
	return nil
}
