package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// ExportRepository persists export packages.
// List methods return newest first; an empty tenantID lists every tenant.
type ExportRepository interface {
	CreateExport(ctx context.Context, e *ExportPackage) error
	GetExport(ctx context.Context, id string) (*ExportPackage, error)
	ListExports(ctx context.Context, tenantID string) ([]*ExportPackage, error)
	UpdateExport(ctx context.Context, e *ExportPackage) error
}

// AirGapRepository persists air-gapped configurations.
type AirGapRepository interface {
	CreateAirGapConfig(ctx context.Context, c *AirGappedConfig) error
	GetAirGapConfig(ctx context.Context, id string) (*AirGappedConfig, error)
	ListAirGapConfigs(ctx context.Context, tenantID string) ([]*AirGappedConfig, error)
	UpdateAirGapConfig(ctx context.Context, c *AirGappedConfig) error
}

// MigrationRepository persists migration plans.
type MigrationRepository interface {
	CreateMigrationPlan(ctx context.Context, p *MigrationPlan) error
	GetMigrationPlan(ctx context.Context, id string) (*MigrationPlan, error)
	ListMigrationPlans(ctx context.Context, tenantID string) ([]*MigrationPlan, error)
	UpdateMigrationPlan(ctx context.Context, p *MigrationPlan) error
}

// Backend bundles every repository behind one handle.
type Backend interface {
	ExportRepository
	AirGapRepository
	MigrationRepository
	Close() error
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Memory)(nil)
)

// Open returns the backend selected by driver: "sqlite" or "memory".
func Open(driver, dbPath string, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return New(dbPath, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// sortNewestFirst orders by creation time descending, then ID for stability.
func sortNewestFirst[T any](items []T, key func(T) (int64, string)) {
	slices.SortStableFunc(items, func(a, b T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		switch {
		case ta > tb:
			return -1
		case ta < tb:
			return 1
		}
		return strings.Compare(ib, ia)
	})
}
