package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Backend. Records are copied on the way in and out,
// so callers never share state with the store.
type Memory struct {
	mu         sync.RWMutex
	exports    map[string]*ExportPackage
	airgaps    map[string]*AirGappedConfig
	migrations map[string]*MigrationPlan
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		exports:    make(map[string]*ExportPackage),
		airgaps:    make(map[string]*AirGappedConfig),
		migrations: make(map[string]*MigrationPlan),
	}
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

// ============================================================================
// Export Operations
// ============================================================================

func (m *Memory) CreateExport(_ context.Context, e *ExportPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exports[e.ID]; ok {
		return fmt.Errorf("export %s: %w", e.ID, ErrAlreadyExists)
	}
	m.exports[e.ID] = e.Clone()
	return nil
}

func (m *Memory) GetExport(_ context.Context, id string) (*ExportPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exports[id]
	if !ok {
		return nil, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *Memory) ListExports(_ context.Context, tenantID string) ([]*ExportPackage, error) {
	m.mu.RLock()
	out := make([]*ExportPackage, 0, len(m.exports))
	for _, e := range m.exports {
		if tenantID == "" || e.TenantID == tenantID {
			out = append(out, e.Clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out, func(e *ExportPackage) (int64, string) { return e.CreatedAt.UnixNano(), e.ID })
	return out, nil
}

func (m *Memory) UpdateExport(_ context.Context, e *ExportPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exports[e.ID]; !ok {
		return fmt.Errorf("export %s: %w", e.ID, ErrNotFound)
	}
	m.exports[e.ID] = e.Clone()
	return nil
}

// ============================================================================
// Air-gapped Config Operations
// ============================================================================

func (m *Memory) CreateAirGapConfig(_ context.Context, c *AirGappedConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.airgaps[c.ID]; ok {
		return fmt.Errorf("air-gapped config %s: %w", c.ID, ErrAlreadyExists)
	}
	m.airgaps[c.ID] = c.Clone()
	return nil
}

func (m *Memory) GetAirGapConfig(_ context.Context, id string) (*AirGappedConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.airgaps[id]
	if !ok {
		return nil, fmt.Errorf("air-gapped config %s: %w", id, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) ListAirGapConfigs(_ context.Context, tenantID string) ([]*AirGappedConfig, error) {
	m.mu.RLock()
	out := make([]*AirGappedConfig, 0, len(m.airgaps))
	for _, c := range m.airgaps {
		if tenantID == "" || c.TenantID == tenantID {
			out = append(out, c.Clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out, func(c *AirGappedConfig) (int64, string) { return c.CreatedAt.UnixNano(), c.ID })
	return out, nil
}

func (m *Memory) UpdateAirGapConfig(_ context.Context, c *AirGappedConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.airgaps[c.ID]; !ok {
		return fmt.Errorf("air-gapped config %s: %w", c.ID, ErrNotFound)
	}
	m.airgaps[c.ID] = c.Clone()
	return nil
}

// ============================================================================
// Migration Plan Operations
// ============================================================================

func (m *Memory) CreateMigrationPlan(_ context.Context, p *MigrationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.migrations[p.ID]; ok {
		return fmt.Errorf("migration plan %s: %w", p.ID, ErrAlreadyExists)
	}
	m.migrations[p.ID] = p.Clone()
	return nil
}

func (m *Memory) GetMigrationPlan(_ context.Context, id string) (*MigrationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.migrations[id]
	if !ok {
		return nil, fmt.Errorf("migration plan %s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *Memory) ListMigrationPlans(_ context.Context, tenantID string) ([]*MigrationPlan, error) {
	m.mu.RLock()
	out := make([]*MigrationPlan, 0, len(m.migrations))
	for _, p := range m.migrations {
		if tenantID == "" || p.TenantID == tenantID {
			out = append(out, p.Clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out, func(p *MigrationPlan) (int64, string) { return p.CreatedAt.UnixNano(), p.ID })
	return out, nil
}

func (m *Memory) UpdateMigrationPlan(_ context.Context, p *MigrationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.migrations[p.ID]; !ok {
		return fmt.Errorf("migration plan %s: %w", p.ID, ErrNotFound)
	}
	m.migrations[p.ID] = p.Clone()
	return nil
}
