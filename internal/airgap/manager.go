// Package airgap manages the local service substitutes that let a platform
// run without outbound network access.
package airgap

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/portable/internal/keylock"
	"github.com/BadgerOps/portable/internal/store"
	"github.com/BadgerOps/portable/internal/validate"
)

// DefaultDataRetention is used when neither the request nor Options set one.
const DefaultDataRetention = 90

// CreateInput describes a new air-gapped configuration.
type CreateInput struct {
	PlatformID    string              `json:"platform_id" validate:"required"`
	Mode          store.AirGapMode    `json:"mode" validate:"required,oneof=full partial hybrid"`
	SecurityLevel store.SecurityLevel `json:"security_level" validate:"omitempty,oneof=standard high maximum"`
	DataRetention int                 `json:"data_retention" validate:"gte=0"`
	SyncSchedule  *ScheduleInput      `json:"sync_schedule,omitempty"`
}

// ScheduleInput is the requested synchronization schedule.
type ScheduleInput struct {
	Frequency string              `json:"frequency" validate:"required"`
	Direction store.SyncDirection `json:"direction" validate:"required,oneof=pull push bidirectional"`
	DataTypes []string            `json:"data_types"`
}

// SyncResult reports one synchronization.
type SyncResult struct {
	ConfigID    string              `json:"config_id"`
	ItemsSynced int                 `json:"items_synced"`
	Direction   store.SyncDirection `json:"direction,omitempty"`
	SyncedAt    time.Time           `json:"synced_at"`
	NextSync    *time.Time          `json:"next_sync,omitempty"`
}

// Syncer performs the actual data exchange for a configuration and reports
// how many items it moved.
type Syncer interface {
	Sync(ctx context.Context, cfg *store.AirGappedConfig) (int, error)
}

// ServiceSyncer is the default Syncer: it counts one item per running
// service whose data type is scheduled for synchronization.
type ServiceSyncer struct{}

// Sync implements Syncer.
func (ServiceSyncer) Sync(_ context.Context, cfg *store.AirGappedConfig) (int, error) {
	n := 0
	for _, s := range cfg.Services {
		if s.Status != store.ServiceRunning {
			continue
		}
		if cfg.SyncSchedule != nil && len(cfg.SyncSchedule.DataTypes) > 0 &&
			!slices.Contains(cfg.SyncSchedule.DataTypes, s.DataType) {
			continue
		}
		n++
	}
	return n, nil
}

// Options configures the Manager.
type Options struct {
	DefaultDataRetention int
}

// Manager owns air-gapped configurations.
type Manager struct {
	repo     store.AirGapRepository
	services *ServiceCatalog
	syncer   Syncer
	locks    *keylock.Locker
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a new Manager. A nil services catalog uses the
// compiled-in one.
func NewManager(repo store.AirGapRepository, services *ServiceCatalog, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if services == nil {
		services = DefaultServices()
	}
	if opts.DefaultDataRetention <= 0 {
		opts.DefaultDataRetention = DefaultDataRetention
	}
	return &Manager{
		repo:     repo,
		services: services,
		syncer:   ServiceSyncer{},
		locks:    keylock.New(),
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetSyncer replaces the default syncer.
func (m *Manager) SetSyncer(s Syncer) {
	m.syncer = s
}

// Create stores a new, disabled configuration with every service stopped.
// A tenant may have only one configuration per platform.
func (m *Manager) Create(ctx context.Context, tenantID string, in CreateInput) (*store.AirGappedConfig, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	now := m.now()
	cfg := &store.AirGappedConfig{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		PlatformID:    in.PlatformID,
		Enabled:       false,
		Mode:          in.Mode,
		Services:      m.services.Instantiate(),
		DataRetention: in.DataRetention,
		SecurityLevel: in.SecurityLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cfg.DataRetention == 0 {
		cfg.DataRetention = m.opts.DefaultDataRetention
	}
	if cfg.SecurityLevel == "" {
		cfg.SecurityLevel = store.SecurityStandard
	}

	if in.SyncSchedule != nil {
		sched, err := m.buildSchedule(*in.SyncSchedule, now)
		if err != nil {
			return nil, err
		}
		cfg.SyncSchedule = sched
	}

	unlock := m.locks.Lock("platform/" + tenantID + "/" + in.PlatformID)
	defer unlock()

	existing, err := m.repo.ListAirGapConfigs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing air-gapped configs: %w", err)
	}
	for _, e := range existing {
		if e.PlatformID == in.PlatformID {
			return nil, fmt.Errorf("%w: platform %s already has air-gapped config %s", store.ErrAlreadyExists, in.PlatformID, e.ID)
		}
	}

	if err := m.repo.CreateAirGapConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("storing air-gapped config: %w", err)
	}
	configsCreated.Inc()
	m.logger.Info("air-gapped config created",
		"id", cfg.ID,
		"tenant", tenantID,
		"platform", in.PlatformID,
		"mode", cfg.Mode,
		"services", len(cfg.Services),
	)
	return cfg, nil
}

func (m *Manager) buildSchedule(in ScheduleInput, now time.Time) (*store.SyncSchedule, error) {
	next, err := nextSync(in.Frequency, now)
	if err != nil {
		return nil, validate.Errorf("%v", err)
	}

	known := m.services.DataTypes()
	dataTypes := slices.Clone(in.DataTypes)
	if len(dataTypes) == 0 {
		dataTypes = known
	}
	for _, dt := range dataTypes {
		if !slices.Contains(known, dt) {
			return nil, validate.Errorf("unknown data type %q (known: %s)", dt, strings.Join(known, ", "))
		}
	}

	return &store.SyncSchedule{
		Frequency: in.Frequency,
		Direction: in.Direction,
		DataTypes: dataTypes,
		NextSync:  next,
	}, nil
}

// Enable starts every local service. Enabling an enabled config is a no-op.
func (m *Manager) Enable(ctx context.Context, id string) (*store.AirGappedConfig, error) {
	return m.setEnabled(ctx, id, true)
}

// Disable stops every local service. Disabling a disabled config is a no-op.
func (m *Manager) Disable(ctx context.Context, id string) (*store.AirGappedConfig, error) {
	return m.setEnabled(ctx, id, false)
}

// setEnabled flips the config and cascades to every service in one
// repository write, so readers never see a mixed state.
func (m *Manager) setEnabled(ctx context.Context, id string, enabled bool) (*store.AirGappedConfig, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.repo.GetAirGapConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	want := store.ServiceStopped
	if enabled {
		want = store.ServiceRunning
	}
	if cfg.Enabled == enabled && allServices(cfg, want) {
		return cfg, nil
	}

	cfg.Enabled = enabled
	for i := range cfg.Services {
		cfg.Services[i].Status = want
	}
	cfg.UpdatedAt = m.later(cfg.UpdatedAt)

	if err := m.repo.UpdateAirGapConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("saving air-gapped config: %w", err)
	}
	toggles.WithLabelValues(cfg.Status()).Inc()
	m.logger.Info("air-gapped config "+cfg.Status(), "id", id, "services", len(cfg.Services))
	return cfg, nil
}

func allServices(cfg *store.AirGappedConfig, status store.ServiceStatus) bool {
	for _, s := range cfg.Services {
		if s.Status != status {
			return false
		}
	}
	return true
}

// Sync runs the syncer for a config and records the bookkeeping.
// LastSyncAt never moves backwards; Enabled is never touched.
func (m *Manager) Sync(ctx context.Context, id string) (*SyncResult, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cfg, err := m.repo.GetAirGapConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := m.syncer.Sync(ctx, cfg.Clone())
	if err != nil {
		syncs.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("syncing %s: %w", id, err)
	}

	now := m.now()
	if cfg.LastSyncAt != nil && now.Before(*cfg.LastSyncAt) {
		now = *cfg.LastSyncAt
	}
	cfg.LastSyncAt = &now
	cfg.SyncCount++
	cfg.UpdatedAt = m.later(cfg.UpdatedAt)

	result := &SyncResult{ConfigID: id, ItemsSynced: items, SyncedAt: now}
	if s := cfg.SyncSchedule; s != nil {
		last := now
		s.LastSync = &last
		next, err := nextSync(s.Frequency, now)
		if err != nil {
			return nil, err
		}
		s.NextSync = next
		result.Direction = s.Direction
		result.NextSync = next
	}

	if err := m.repo.UpdateAirGapConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("saving air-gapped config: %w", err)
	}
	syncs.WithLabelValues("ok").Inc()
	itemsSynced.Add(float64(items))
	m.logger.Info("air-gapped data synced", "id", id, "items", items, "sync_count", cfg.SyncCount)
	return result, nil
}

// Get returns a configuration by ID.
func (m *Manager) Get(ctx context.Context, id string) (*store.AirGappedConfig, error) {
	return m.repo.GetAirGapConfig(ctx, id)
}

// List returns a tenant's configurations, newest first.
func (m *Manager) List(ctx context.Context, tenantID string) ([]*store.AirGappedConfig, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, validate.Errorf("tenant_id is required")
	}
	return m.repo.ListAirGapConfigs(ctx, tenantID)
}

// Services returns the service catalog this manager builds configs from.
func (m *Manager) Services() *ServiceCatalog {
	return m.services
}

// later returns now, or prev if the clock went backwards.
func (m *Manager) later(prev time.Time) time.Time {
	now := m.now()
	if now.Before(prev) {
		return prev
	}
	return now
}
