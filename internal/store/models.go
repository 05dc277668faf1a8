package store

import (
	"slices"
	"time"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/provider"
)

// ============================================================================
// Exports
// ============================================================================

// ExportStatus is a stage of the export pipeline
type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportPreparing  ExportStatus = "preparing"
	ExportPackaging  ExportStatus = "packaging"
	ExportEncrypting ExportStatus = "encrypting"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ExportStatus) Terminal() bool {
	return s == ExportCompleted || s == ExportFailed
}

// Compression is the archive compression codec
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionXZ   Compression = "xz"
)

// EncryptionAlgorithm is the AEAD used for artifact encryption
type EncryptionAlgorithm string

const (
	EncryptionNone     EncryptionAlgorithm = "none"
	EncryptionAESGCM   EncryptionAlgorithm = "aes-256-gcm"
	EncryptionChaCha20 EncryptionAlgorithm = "chacha20-poly1305"
)

// ExportConfiguration is the caller's packaging choice
type ExportConfiguration struct {
	IncludeData    bool                `json:"include_data"`
	IncludeSecrets bool                `json:"include_secrets"`
	IncludeLogs    bool                `json:"include_logs"`
	Compression    Compression         `json:"compression" validate:"omitempty,oneof=none gzip zstd xz"`
	Encryption     EncryptionAlgorithm `json:"encryption" validate:"omitempty,oneof=none aes-256-gcm chacha20-poly1305"`
	SplitSize      int64               `json:"split_size,omitempty" validate:"gte=0"`
}

// SecurityConfig is derived from ExportConfiguration at creation time
type SecurityConfig struct {
	EncryptionEnabled  bool                `json:"encryption_enabled"`
	Algorithm          EncryptionAlgorithm `json:"algorithm"`
	KeyID              string              `json:"key_id,omitempty"` // fingerprint, never key material
	SecretsIncluded    bool                `json:"secrets_included"`
	IntegrityAlgorithm string              `json:"integrity_algorithm"`
}

// StatusChange records one pipeline transition
type StatusChange struct {
	Status ExportStatus `json:"status"`
	At     time.Time    `json:"at"`
	Note   string       `json:"note,omitempty"`
}

// ArtifactPart is one file of a (possibly split) export artifact
type ArtifactPart struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Artifact locates the files produced for a completed export
type Artifact struct {
	Dir   string         `json:"dir"`
	Parts []ArtifactPart `json:"parts"`
}

// ExportPackage is one export request and its pipeline state
type ExportPackage struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenant_id"`
	PlatformID      string               `json:"platform_id"`
	PlatformName    string               `json:"platform_name"`
	PlatformVersion string               `json:"platform_version"`
	Format          catalog.Format       `json:"format"`
	TargetProvider  provider.Type        `json:"target_provider"`
	NetworkMode     catalog.NetworkMode  `json:"network_mode"`
	Components      []catalog.Component  `json:"components"`
	Dependencies    []catalog.Dependency `json:"dependencies"`
	Configuration   ExportConfiguration  `json:"configuration"`
	Security        SecurityConfig       `json:"security"`
	Status          ExportStatus         `json:"status"`
	Size            int64                `json:"size"`
	Checksum        string               `json:"checksum,omitempty"`
	DownloadURL     string               `json:"download_url,omitempty"`
	ExpiresAt       *time.Time           `json:"expires_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	Error           string               `json:"error,omitempty"`
	History         []StatusChange       `json:"history"`
	Artifact        *Artifact            `json:"artifact,omitempty"`
}

// Clone returns a deep copy.
func (e *ExportPackage) Clone() *ExportPackage {
	if e == nil {
		return nil
	}
	c := *e
	c.Components = make([]catalog.Component, len(e.Components))
	for i, comp := range e.Components {
		comp.Dependencies = slices.Clone(comp.Dependencies)
		comp.Formats = slices.Clone(comp.Formats)
		c.Components[i] = comp
	}
	c.Dependencies = make([]catalog.Dependency, len(e.Dependencies))
	for i, dep := range e.Dependencies {
		dep.Formats = slices.Clone(dep.Formats)
		c.Dependencies[i] = dep
	}
	c.History = slices.Clone(e.History)
	c.ExpiresAt = cloneTime(e.ExpiresAt)
	c.CompletedAt = cloneTime(e.CompletedAt)
	if e.Artifact != nil {
		a := *e.Artifact
		a.Parts = slices.Clone(e.Artifact.Parts)
		c.Artifact = &a
	}
	return &c
}

// ============================================================================
// Air-gapped configurations
// ============================================================================

// AirGapMode is how much of the platform runs disconnected
type AirGapMode string

const (
	AirGapFull    AirGapMode = "full"
	AirGapPartial AirGapMode = "partial"
	AirGapHybrid  AirGapMode = "hybrid"
)

// SecurityLevel of an air-gapped deployment
type SecurityLevel string

const (
	SecurityStandard SecurityLevel = "standard"
	SecurityHigh     SecurityLevel = "high"
	SecurityMaximum  SecurityLevel = "maximum"
)

// ServiceStatus of a local service substitute
type ServiceStatus string

const (
	ServiceRunning ServiceStatus = "running"
	ServiceStopped ServiceStatus = "stopped"
)

// SyncDirection of air-gapped data synchronization
type SyncDirection string

const (
	SyncPull          SyncDirection = "pull"
	SyncPush          SyncDirection = "push"
	SyncBidirectional SyncDirection = "bidirectional"
)

// Resources is a local service footprint
type Resources struct {
	CPU       float64 `yaml:"cpu" json:"cpu"`
	MemoryMB  int     `yaml:"memory_mb" json:"memory_mb"`
	StorageGB int     `yaml:"storage_gb" json:"storage_gb"`
}

// LocalService is a locally run substitute for a managed external service
type LocalService struct {
	Name      string        `yaml:"name" json:"name"`
	Type      string        `yaml:"type" json:"type"`
	Replaces  string        `yaml:"replaces" json:"replaces"`
	DataType  string        `yaml:"data_type" json:"data_type"`
	Status    ServiceStatus `yaml:"-" json:"status"`
	Port      int           `yaml:"port" json:"port"`
	Resources Resources     `yaml:"resources" json:"resources"`
}

// SyncSchedule controls when air-gapped data is exchanged
type SyncSchedule struct {
	Frequency string        `json:"frequency"`
	Direction SyncDirection `json:"direction"`
	DataTypes []string      `json:"data_types"`
	LastSync  *time.Time    `json:"last_sync,omitempty"`
	NextSync  *time.Time    `json:"next_sync,omitempty"`
}

// AirGappedConfig is a tenant platform's disconnected-operation setup.
// Enabled is true iff every service is running.
type AirGappedConfig struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	PlatformID    string         `json:"platform_id"`
	Enabled       bool           `json:"enabled"`
	Mode          AirGapMode     `json:"mode"`
	Services      []LocalService `json:"services"`
	SyncSchedule  *SyncSchedule  `json:"sync_schedule,omitempty"`
	DataRetention int            `json:"data_retention"`
	SecurityLevel SecurityLevel  `json:"security_level"`
	LastSyncAt    *time.Time     `json:"last_sync_at,omitempty"`
	SyncCount     int64          `json:"sync_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Status summarizes the config for listings and the status column.
func (c *AirGappedConfig) Status() string {
	if c.Enabled {
		return "enabled"
	}
	return "disabled"
}

// Clone returns a deep copy.
func (c *AirGappedConfig) Clone() *AirGappedConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Services = slices.Clone(c.Services)
	out.LastSyncAt = cloneTime(c.LastSyncAt)
	if c.SyncSchedule != nil {
		s := *c.SyncSchedule
		s.DataTypes = slices.Clone(c.SyncSchedule.DataTypes)
		s.LastSync = cloneTime(c.SyncSchedule.LastSync)
		s.NextSync = cloneTime(c.SyncSchedule.NextSync)
		out.SyncSchedule = &s
	}
	return &out
}

// ============================================================================
// Migration plans
// ============================================================================

// MigrationStatus is the plan-level lifecycle state
type MigrationStatus string

const (
	MigrationDraft      MigrationStatus = "draft"
	MigrationApproved   MigrationStatus = "approved"
	MigrationInProgress MigrationStatus = "in_progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationRolledBack MigrationStatus = "rolled_back"
)

// StepStatus is the state of a single migration step
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// RiskLevel of a migration
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// MigrationStep is one ordered unit of a migration plan
type MigrationStep struct {
	Order          int        `json:"order"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	EstimatedHours int        `json:"estimated_hours"`
	Automated      bool       `json:"automated"`
	Rollbackable   bool       `json:"rollbackable"`
	Status         StepStatus `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// MigrationPlan moves a platform from one provider to another.
// Step orders are exactly 1..len(Steps).
type MigrationPlan struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	PlatformID        string          `json:"platform_id"`
	Source            provider.Type   `json:"source"`
	Target            provider.Type   `json:"target"`
	Steps             []MigrationStep `json:"steps"`
	EstimatedDuration int             `json:"estimated_duration"`
	EstimatedCost     float64         `json:"estimated_cost"`
	Currency          string          `json:"currency"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	RollbackPlan      []string        `json:"rollback_plan"`
	Status            MigrationStatus `json:"status"`
	RollbackReason    string          `json:"rollback_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy.
func (p *MigrationPlan) Clone() *MigrationPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]MigrationStep, len(p.Steps))
	for i, s := range p.Steps {
		s.StartedAt = cloneTime(s.StartedAt)
		s.CompletedAt = cloneTime(s.CompletedAt)
		out.Steps[i] = s
	}
	out.RollbackPlan = slices.Clone(p.RollbackPlan)
	out.ApprovedAt = cloneTime(p.ApprovedAt)
	out.StartedAt = cloneTime(p.StartedAt)
	out.FinishedAt = cloneTime(p.FinishedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
