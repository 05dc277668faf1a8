package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence. Each entity is a row holding its
// JSON document plus the columns needed for lookup and ordering.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer, and every ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Export Operations
// ============================================================================

// CreateExport inserts a new export package
func (s *Store) CreateExport(ctx context.Context, e *ExportPackage) error {
	return s.insertDoc(ctx, "exports", "export", e.ID, e.TenantID, string(e.Status), e.CreatedAt, e.UpdatedAt, e)
}

// GetExport retrieves an export package by ID
func (s *Store) GetExport(ctx context.Context, id string) (*ExportPackage, error) {
	return getDoc[ExportPackage](ctx, s, "exports", "export", id)
}

// ListExports retrieves export packages for a tenant, newest first
func (s *Store) ListExports(ctx context.Context, tenantID string) ([]*ExportPackage, error) {
	return listDocs[ExportPackage](ctx, s, "exports", tenantID)
}

// UpdateExport replaces an existing export package
func (s *Store) UpdateExport(ctx context.Context, e *ExportPackage) error {
	return s.updateDoc(ctx, "exports", "export", e.ID, string(e.Status), e.UpdatedAt, e)
}

// ============================================================================
// Air-gapped Config Operations
// ============================================================================

// CreateAirGapConfig inserts a new air-gapped configuration
func (s *Store) CreateAirGapConfig(ctx context.Context, c *AirGappedConfig) error {
	return s.insertDoc(ctx, "airgap_configs", "air-gapped config", c.ID, c.TenantID, c.Status(), c.CreatedAt, c.UpdatedAt, c)
}

// GetAirGapConfig retrieves an air-gapped configuration by ID
func (s *Store) GetAirGapConfig(ctx context.Context, id string) (*AirGappedConfig, error) {
	return getDoc[AirGappedConfig](ctx, s, "airgap_configs", "air-gapped config", id)
}

// ListAirGapConfigs retrieves air-gapped configurations for a tenant, newest first
func (s *Store) ListAirGapConfigs(ctx context.Context, tenantID string) ([]*AirGappedConfig, error) {
	return listDocs[AirGappedConfig](ctx, s, "airgap_configs", tenantID)
}

// UpdateAirGapConfig replaces an existing air-gapped configuration
func (s *Store) UpdateAirGapConfig(ctx context.Context, c *AirGappedConfig) error {
	return s.updateDoc(ctx, "airgap_configs", "air-gapped config", c.ID, c.Status(), c.UpdatedAt, c)
}

// ============================================================================
// Migration Plan Operations
// ============================================================================

// CreateMigrationPlan inserts a new migration plan
func (s *Store) CreateMigrationPlan(ctx context.Context, p *MigrationPlan) error {
	return s.insertDoc(ctx, "migration_plans", "migration plan", p.ID, p.TenantID, string(p.Status), p.CreatedAt, p.UpdatedAt, p)
}

// GetMigrationPlan retrieves a migration plan by ID
func (s *Store) GetMigrationPlan(ctx context.Context, id string) (*MigrationPlan, error) {
	return getDoc[MigrationPlan](ctx, s, "migration_plans", "migration plan", id)
}

// ListMigrationPlans retrieves migration plans for a tenant, newest first
func (s *Store) ListMigrationPlans(ctx context.Context, tenantID string) ([]*MigrationPlan, error) {
	return listDocs[MigrationPlan](ctx, s, "migration_plans", tenantID)
}

// UpdateMigrationPlan replaces an existing migration plan
func (s *Store) UpdateMigrationPlan(ctx context.Context, p *MigrationPlan) error {
	return s.updateDoc(ctx, "migration_plans", "migration plan", p.ID, string(p.Status), p.UpdatedAt, p)
}

// ============================================================================
// Document helpers
// ============================================================================

func (s *Store) insertDoc(ctx context.Context, table, kind, id, tenantID, status string, createdAt, updatedAt time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, status, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, table)

	result, err := s.db.ExecContext(ctx, query, id, tenantID, status, createdAt.UnixNano(), updatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrAlreadyExists)
	}
	return nil
}

func (s *Store) updateDoc(ctx context.Context, table, kind, id, status string, updatedAt time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ?, data = ? WHERE id = ?`, table)

	result, err := s.db.ExecContext(ctx, query, status, updatedAt.UnixNano(), string(data), id)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func getDoc[T any](ctx context.Context, s *Store, table, kind, id string) (*T, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, table)

	var data string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}

	v := new(T)
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return v, nil
}

func listDocs[T any](ctx context.Context, s *Store, table, tenantID string) ([]*T, error) {
	query := fmt.Sprintf(`SELECT id, data FROM %s`, table)
	var args []interface{}

	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}

	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, fmt.Errorf("failed to decode %s row %s: %w", table, id, err)
		}
		out = append(out, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}

	return out, nil
}
