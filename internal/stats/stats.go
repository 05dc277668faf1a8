// Package stats summarizes a tenant's exports, air-gapped configurations and
// migration plans.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/store"
	"github.com/BadgerOps/portable/internal/validate"
)

// ExportStats counts a tenant's exports.
type ExportStats struct {
	Total          int                        `json:"total"`
	ByStatus       map[store.ExportStatus]int `json:"by_status"`
	CompletedBytes int64                      `json:"completed_bytes"`
}

// AirGapStats counts a tenant's air-gapped configurations.
type AirGapStats struct {
	Total      int        `json:"total"`
	Enabled    int        `json:"enabled"`
	TotalSyncs int64      `json:"total_syncs"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// MigrationStats counts a tenant's migration plans.
type MigrationStats struct {
	Total    int                           `json:"total"`
	ByStatus map[store.MigrationStatus]int `json:"by_status"`
}

// ProviderStats describes the provider catalog.
type ProviderStats struct {
	Total          int `json:"total"`
	OfflineCapable int `json:"offline_capable"`
}

// Summary is the per-tenant dashboard.
type Summary struct {
	TenantID    string         `json:"tenant_id"`
	Exports     ExportStats    `json:"exports"`
	AirGap      AirGapStats    `json:"airgap"`
	Migrations  MigrationStats `json:"migrations"`
	Providers   ProviderStats  `json:"providers"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Aggregator reads the three repositories in parallel.
type Aggregator struct {
	exports    store.ExportRepository
	airgap     store.AirGapRepository
	migrations store.MigrationRepository
	providers  *provider.Registry
	now        func() time.Time
}

// New creates an Aggregator.
func New(exports store.ExportRepository, airgap store.AirGapRepository, migrations store.MigrationRepository, providers *provider.Registry) *Aggregator {
	return &Aggregator{
		exports:    exports,
		airgap:     airgap,
		migrations: migrations,
		providers:  providers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get builds the summary for tenantID.
func (a *Aggregator) Get(ctx context.Context, tenantID string) (*Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}

	s := &Summary{
		TenantID: tenantID,
		Providers: ProviderStats{
			Total:          len(a.providers.List()),
			OfflineCapable: a.providers.OfflineCapable(),
		},
	}

	// each goroutine writes only its own section
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exports, err := a.exports.ListExports(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("listing exports: %w", err)
		}
		s.Exports = foldExports(exports)
		return nil
	})
	g.Go(func() error {
		configs, err := a.airgap.ListAirGapConfigs(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("listing air-gapped configs: %w", err)
		}
		s.AirGap = foldAirGap(configs)
		return nil
	})
	g.Go(func() error {
		plans, err := a.migrations.ListMigrationPlans(gctx, tenantID)
		if err != nil {
			return fmt.Errorf("listing migration plans: %w", err)
		}
		s.Migrations = foldMigrations(plans)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.GeneratedAt = a.now()
	return s, nil
}

func foldExports(exports []*store.ExportPackage) ExportStats {
	st := ExportStats{Total: len(exports), ByStatus: make(map[store.ExportStatus]int)}
	for _, e := range exports {
		st.ByStatus[e.Status]++
		if e.Status == store.ExportCompleted {
			st.CompletedBytes += e.Size
		}
	}
	return st
}

func foldAirGap(configs []*store.AirGappedConfig) AirGapStats {
	st := AirGapStats{Total: len(configs)}
	for _, c := range configs {
		if c.Enabled {
			st.Enabled++
		}
		st.TotalSyncs += c.SyncCount
		if c.LastSyncAt != nil && (st.LastSyncAt == nil || c.LastSyncAt.After(*st.LastSyncAt)) {
			t := *c.LastSyncAt
			st.LastSyncAt = &t
		}
	}
	return st
}

func foldMigrations(plans []*store.MigrationPlan) MigrationStats {
	st := MigrationStats{Total: len(plans), ByStatus: make(map[store.MigrationStatus]int)}
	for _, p := range plans {
		st.ByStatus[p.Status]++
	}
	return st
}
