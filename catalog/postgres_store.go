package catalog

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const catalogColumns = `id, name, trade, organization_id, is_default, predecessor_id, valid_from, valid_to, created_at, updated_at`

func (s *PostgresStore) scanCatalog(row *sql.Row) (*Catalog, error) {
	var c Catalog
	var organizationID, predecessorID sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.Trade, &organizationID, &c.Default,
		&predecessorID, &c.ValidFrom, &c.ValidTo, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.OrganizationID = organizationID.String
	c.PredecessorID = predecessorID.String

	if err := s.loadEntries(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) loadEntries(c *Catalog) error {
	rows, err := s.db.Query(`
		SELECT component_id, price_override
		FROM catalog_entries
		WHERE catalog_id = $1
		ORDER BY component_id ASC
	`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load entries for catalog %s: %w", c.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ComponentID, &e.PriceOverride); err != nil {
			return fmt.Errorf("failed to scan catalog entry: %w", err)
		}
		c.Entries = append(c.Entries, e)
	}
	return rows.Err()
}

// GetCatalog retrieves a catalog with its entries.
func (s *PostgresStore) GetCatalog(id string) (*Catalog, error) {
	row := s.db.QueryRow(`
		SELECT `+catalogColumns+`
		FROM catalogs
		WHERE id = $1
	`, id)

	c, err := s.scanCatalog(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	return c, nil
}

// OrganizationDefault returns the organization's default catalog for a trade.
func (s *PostgresStore) OrganizationDefault(organizationID, trade string) (*Catalog, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("default catalog for empty organization: %w", ErrNotFound)
	}

	row := s.db.QueryRow(`
		SELECT `+catalogColumns+`
		FROM catalogs
		WHERE organization_id = $1 AND trade = $2 AND is_default = true
	`, organizationID, trade)

	c, err := s.scanCatalog(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("default catalog for organization %s, trade %s: %w", organizationID, trade, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization default catalog: %w", err)
	}
	return c, nil
}

// GlobalDefault returns the global default catalog for a trade.
func (s *PostgresStore) GlobalDefault(trade string) (*Catalog, error) {
	row := s.db.QueryRow(`
		SELECT `+catalogColumns+`
		FROM catalogs
		WHERE organization_id IS NULL AND trade = $1 AND is_default = true
	`, trade)

	c, err := s.scanCatalog(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("global default catalog for trade %s: %w", trade, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global default catalog: %w", err)
	}
	return c, nil
}

// AddCatalog inserts a catalog and its entries in one transaction.
func (s *PostgresStore) AddCatalog(c *Catalog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO catalogs (id, name, trade, organization_id, is_default, predecessor_id, valid_from, valid_to, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, NOW(), NOW())
	`, c.ID, c.Name, c.Trade, c.OrganizationID, c.Default, c.PredecessorID, c.ValidFrom, c.ValidTo)
	if err != nil {
		return fmt.Errorf("failed to insert catalog: %w", err)
	}

	if err := insertEntries(tx, c); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateCatalog replaces a catalog and its entries in one transaction.
func (s *PostgresStore) UpdateCatalog(c *Catalog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE catalogs
		SET name = $1, trade = $2, organization_id = NULLIF($3, ''), is_default = $4,
		    valid_from = $5, valid_to = $6, updated_at = NOW()
		WHERE id = $7
	`, c.Name, c.Trade, c.OrganizationID, c.Default, c.ValidFrom, c.ValidTo, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update catalog: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("catalog %s: %w", c.ID, ErrNotFound)
	}

	if _, err := tx.Exec(`DELETE FROM catalog_entries WHERE catalog_id = $1`, c.ID); err != nil {
		return fmt.Errorf("failed to clear catalog entries: %w", err)
	}
	if err := insertEntries(tx, c); err != nil {
		return err
	}

	return tx.Commit()
}

func insertEntries(tx *sql.Tx, c *Catalog) error {
	for _, e := range c.Entries {
		_, err := tx.Exec(`
			INSERT INTO catalog_entries (catalog_id, component_id, price_override)
			VALUES ($1, $2, $3)
		`, c.ID, e.ComponentID, e.PriceOverride)
		if err != nil {
			return fmt.Errorf("failed to insert catalog entry %s: %w", e.ComponentID, err)
		}
	}
	return nil
}

// SetDefault promotes a catalog to default for its scope and trade,
// demoting the current holder, in one transaction.
func (s *PostgresStore) SetDefault(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var organizationID sql.NullString
	var trade string
	err = tx.QueryRow(`SELECT organization_id, trade FROM catalogs WHERE id = $1`, id).
		Scan(&organizationID, &trade)
	if err == sql.ErrNoRows {
		return fmt.Errorf("catalog %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog %s: %w", id, err)
	}

	_, err = tx.Exec(`
		UPDATE catalogs
		SET is_default = false, updated_at = NOW()
		WHERE trade = $1 AND organization_id IS NOT DISTINCT FROM $2 AND is_default = true
	`, trade, organizationID)
	if err != nil {
		return fmt.Errorf("failed to demote current default: %w", err)
	}

	_, err = tx.Exec(`UPDATE catalogs SET is_default = true, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to promote catalog %s: %w", id, err)
	}

	return tx.Commit()
}

// GetComponent retrieves a standard component by ID.
func (s *PostgresStore) GetComponent(id string) (*Component, error) {
	var c Component
	err := s.db.QueryRow(`
		SELECT id, name, category, trades, unit, unit_price, active, valid_from, valid_to, created_at, updated_at
		FROM standard_components
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Category, pq.Array(&c.Trades), &c.Unit,
		&c.UnitPrice, &c.Active, &c.ValidFrom, &c.ValidTo, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("component %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}
	return &c, nil
}

// AddComponent inserts a new standard component.
func (s *PostgresStore) AddComponent(c *Component) error {
	_, err := s.db.Exec(`
		INSERT INTO standard_components (id, name, category, trades, unit, unit_price, active, valid_from, valid_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, c.ID, c.Name, c.Category, pq.Array(c.Trades), c.Unit, c.UnitPrice, c.Active, c.ValidFrom, c.ValidTo)
	if err != nil {
		return fmt.Errorf("failed to insert component: %w", err)
	}
	return nil
}

// UpdateComponent replaces an existing standard component.
func (s *PostgresStore) UpdateComponent(c *Component) error {
	result, err := s.db.Exec(`
		UPDATE standard_components
		SET name = $1, category = $2, trades = $3, unit = $4, unit_price = $5,
		    active = $6, valid_from = $7, valid_to = $8, updated_at = NOW()
		WHERE id = $9
	`, c.Name, c.Category, pq.Array(c.Trades), c.Unit, c.UnitPrice, c.Active,
		c.ValidFrom, c.ValidTo, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update component: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("component %s: %w", c.ID, ErrNotFound)
	}
	return nil
}
