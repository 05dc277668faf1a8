package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/provider"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every Backend implementation
func backends(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func sampleExport(id, tenant string, created time.Time) *ExportPackage {
	return &ExportPackage{
		ID:             id,
		TenantID:       tenant,
		PlatformID:     "plat-1",
		PlatformName:   "Storefront",
		Format:         catalog.FormatDocker,
		TargetProvider: provider.Hetzner,
		NetworkMode:    catalog.NetworkOnline,
		Components: []catalog.Component{
			{Type: catalog.ComponentFrontend, Name: "web", Included: true, Size: 10, Dependencies: []string{"nginx"}},
		},
		Dependencies: []catalog.Dependency{{Name: "nginx", Size: 5}},
		Status:       ExportPending,
		CreatedAt:    created,
		UpdatedAt:    created,
		History:      []StatusChange{{Status: ExportPending, At: created}},
	}
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	store, err := New(":memory:", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}
	if store.logger == nil {
		t.Error("Expected logger to default when nil")
	}
}

func TestClose(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Verify the connection is closed by trying to use it
	if _, err := store.ListExports(context.Background(), ""); err == nil {
		t.Error("Expected error when using closed store, but got nil")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "portable.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx := context.Background()
	if err := first.CreateExport(ctx, sampleExport("exp-1", "t1", time.Now())); err != nil {
		t.Fatalf("CreateExport() failed: %v", err)
	}
	first.Close()

	second, err := New(dbPath, logger)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer second.Close()

	var version int
	if err := second.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
	if _, err := second.GetExport(ctx, "exp-1"); err != nil {
		t.Errorf("export did not survive reopen: %v", err)
	}
}

func TestOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := Open("memory", "", logger)
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	if _, ok := b.(*Memory); !ok {
		t.Errorf("Open(memory) returned %T", b)
	}

	b, err = Open("sqlite", ":memory:", logger)
	if err != nil {
		t.Fatalf("Open(sqlite) failed: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*Store); !ok {
		t.Errorf("Open(sqlite) returned %T", b)
	}

	if _, err := Open("postgres", "", logger); err == nil {
		t.Error("Open(postgres) succeeded, want error")
	}
}

// ============================================================================
// Export CRUD Tests
// ============================================================================

func TestExportCRUD(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		now := time.Now().UTC()

		exp := sampleExport("exp-1", "tenant-a", now)
		if err := b.CreateExport(ctx, exp); err != nil {
			t.Fatalf("CreateExport() failed: %v", err)
		}
		if err := b.CreateExport(ctx, exp); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("duplicate CreateExport() error = %v, want ErrAlreadyExists", err)
		}

		got, err := b.GetExport(ctx, "exp-1")
		if err != nil {
			t.Fatalf("GetExport() failed: %v", err)
		}
		if got.PlatformName != "Storefront" || len(got.Components) != 1 || got.Components[0].Dependencies[0] != "nginx" {
			t.Errorf("GetExport() returned %+v", got)
		}

		completed := now.Add(time.Minute)
		got.Status = ExportCompleted
		got.Checksum = "sha256:abc"
		got.CompletedAt = &completed
		got.Artifact = &Artifact{Dir: "/tmp/x", Parts: []ArtifactPart{{Name: "a.tar.zst", Size: 3, SHA256: "abc"}}}
		got.UpdatedAt = completed
		if err := b.UpdateExport(ctx, got); err != nil {
			t.Fatalf("UpdateExport() failed: %v", err)
		}

		again, err := b.GetExport(ctx, "exp-1")
		if err != nil {
			t.Fatalf("GetExport() failed: %v", err)
		}
		if again.Status != ExportCompleted || again.Checksum != "sha256:abc" {
			t.Errorf("update not persisted: status=%s checksum=%s", again.Status, again.Checksum)
		}
		if again.CompletedAt == nil || !again.CompletedAt.Equal(completed) {
			t.Errorf("CompletedAt = %v, want %v", again.CompletedAt, completed)
		}
		if again.Artifact == nil || len(again.Artifact.Parts) != 1 {
			t.Errorf("Artifact not persisted: %+v", again.Artifact)
		}
	})
}

func TestExportNotFound(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		if _, err := b.GetExport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetExport() error = %v, want ErrNotFound", err)
		}
		if err := b.UpdateExport(ctx, sampleExport("missing", "t", time.Now())); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateExport() error = %v, want ErrNotFound", err)
		}
	})
}

func TestListExportsOrderingAndTenancy(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		base := time.Now().UTC()

		for i, tc := range []struct{ id, tenant string }{
			{"e1", "alpha"}, {"e2", "beta"}, {"e3", "alpha"}, {"e4", "alpha"},
		} {
			if err := b.CreateExport(ctx, sampleExport(tc.id, tc.tenant, base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatal(err)
			}
		}

		alpha, err := b.ListExports(ctx, "alpha")
		if err != nil {
			t.Fatalf("ListExports() failed: %v", err)
		}
		want := []string{"e4", "e3", "e1"}
		if len(alpha) != len(want) {
			t.Fatalf("ListExports(alpha) returned %d, want %d", len(alpha), len(want))
		}
		for i := range want {
			if alpha[i].ID != want[i] {
				t.Errorf("alpha[%d] = %s, want %s", i, alpha[i].ID, want[i])
			}
		}

		all, err := b.ListExports(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 4 {
			t.Errorf("ListExports(\"\") returned %d, want 4", len(all))
		}

		none, err := b.ListExports(ctx, "gamma")
		if err != nil {
			t.Fatal(err)
		}
		if len(none) != 0 {
			t.Errorf("ListExports(gamma) returned %d, want 0", len(none))
		}
	})
}

func TestMemoryIsolatesCallers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	exp := sampleExport("exp-1", "t", time.Now())
	if err := m.CreateExport(ctx, exp); err != nil {
		t.Fatal(err)
	}
	exp.Components[0].Name = "mutated"

	got, _ := m.GetExport(ctx, "exp-1")
	if got.Components[0].Name != "web" {
		t.Error("store shares component slice with caller")
	}
	got.History = append(got.History, StatusChange{Status: ExportFailed})

	again, _ := m.GetExport(ctx, "exp-1")
	if len(again.History) != 1 {
		t.Error("store shares history slice with reader")
	}
}

// ============================================================================
// Air-gapped Config Tests
// ============================================================================

func TestAirGapConfigCRUD(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		now := time.Now().UTC()
		next := now.Add(24 * time.Hour)

		cfg := &AirGappedConfig{
			ID:         "ag-1",
			TenantID:   "tenant-a",
			PlatformID: "plat-1",
			Mode:       AirGapFull,
			Services: []LocalService{
				{Name: "dns", Type: "dns", Replaces: "Route 53", Status: ServiceStopped, Port: 53},
			},
			SyncSchedule:  &SyncSchedule{Frequency: "daily", Direction: SyncPull, DataTypes: []string{"dns"}, NextSync: &next},
			DataRetention: 90,
			SecurityLevel: SecurityHigh,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := b.CreateAirGapConfig(ctx, cfg); err != nil {
			t.Fatalf("CreateAirGapConfig() failed: %v", err)
		}

		got, err := b.GetAirGapConfig(ctx, "ag-1")
		if err != nil {
			t.Fatalf("GetAirGapConfig() failed: %v", err)
		}
		if got.SyncSchedule == nil || got.SyncSchedule.NextSync == nil || !got.SyncSchedule.NextSync.Equal(next) {
			t.Errorf("SyncSchedule not persisted: %+v", got.SyncSchedule)
		}

		got.Enabled = true
		got.Services[0].Status = ServiceRunning
		if err := b.UpdateAirGapConfig(ctx, got); err != nil {
			t.Fatalf("UpdateAirGapConfig() failed: %v", err)
		}

		list, err := b.ListAirGapConfigs(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("ListAirGapConfigs() failed: %v", err)
		}
		if len(list) != 1 || !list[0].Enabled || list[0].Services[0].Status != ServiceRunning {
			t.Errorf("ListAirGapConfigs() = %+v", list)
		}

		if _, err := b.GetAirGapConfig(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetAirGapConfig(missing) error = %v, want ErrNotFound", err)
		}
	})
}

// ============================================================================
// Migration Plan Tests
// ============================================================================

func TestMigrationPlanCRUD(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		now := time.Now().UTC()

		plan := &MigrationPlan{
			ID:       "mp-1",
			TenantID: "tenant-a",
			Source:   provider.AWS,
			Target:   provider.GCP,
			Steps: []MigrationStep{
				{Order: 1, Name: "Assessment", EstimatedHours: 4, Status: StepPending},
				{Order: 2, Name: "Backup", EstimatedHours: 2, Status: StepPending},
			},
			EstimatedDuration: 6,
			RiskLevel:         RiskMedium,
			RollbackPlan:      []string{"restore"},
			Status:            MigrationDraft,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := b.CreateMigrationPlan(ctx, plan); err != nil {
			t.Fatalf("CreateMigrationPlan() failed: %v", err)
		}

		got, err := b.GetMigrationPlan(ctx, "mp-1")
		if err != nil {
			t.Fatalf("GetMigrationPlan() failed: %v", err)
		}
		got.Status = MigrationApproved
		got.ApprovedAt = &now
		if err := b.UpdateMigrationPlan(ctx, got); err != nil {
			t.Fatalf("UpdateMigrationPlan() failed: %v", err)
		}

		list, err := b.ListMigrationPlans(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("ListMigrationPlans() failed: %v", err)
		}
		if len(list) != 1 || list[0].Status != MigrationApproved || len(list[0].Steps) != 2 {
			t.Errorf("ListMigrationPlans() = %+v", list)
		}

		if err := b.UpdateMigrationPlan(ctx, &MigrationPlan{ID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateMigrationPlan(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStatusColumnTracksDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := sampleExport("exp-1", "t", time.Now())
	if err := s.CreateExport(ctx, exp); err != nil {
		t.Fatal(err)
	}
	exp.Status = ExportFailed
	exp.Error = "boom"
	if err := s.UpdateExport(ctx, exp); err != nil {
		t.Fatal(err)
	}

	var status string
	if err := s.db.QueryRow("SELECT status FROM exports WHERE id = ?", "exp-1").Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != string(ExportFailed) {
		t.Errorf("status column = %q, want failed", status)
	}
}
