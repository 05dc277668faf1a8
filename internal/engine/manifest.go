package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/store"
)

// ExportManifest describes the contents of an export artifact. It is the
// first entry of every archive.
type ExportManifest struct {
	Version        string               `json:"version"`
	Created        time.Time            `json:"created"`
	ExportID       string               `json:"export_id"`
	TenantID       string               `json:"tenant_id"`
	Platform       ManifestPlatform     `json:"platform"`
	Format         catalog.Format       `json:"format"`
	TargetProvider string               `json:"target_provider"`
	NetworkMode    catalog.NetworkMode  `json:"network_mode"`
	Components     []catalog.Component  `json:"components"`
	Dependencies   []catalog.Dependency `json:"dependencies"`
	Include        ManifestInclude      `json:"include"`
	Security       store.SecurityConfig `json:"security"`
	TotalSize      int64                `json:"total_size"`
}

// ManifestPlatform identifies the exported platform.
type ManifestPlatform struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ManifestInclude records which optional content was requested.
type ManifestInclude struct {
	Data    bool `json:"data"`
	Secrets bool `json:"secrets"`
	Logs    bool `json:"logs"`
}

func buildManifest(exp *store.ExportPackage) *ExportManifest {
	return &ExportManifest{
		Version:  "1.0",
		Created:  exp.CreatedAt.UTC(),
		ExportID: exp.ID,
		TenantID: exp.TenantID,
		Platform: ManifestPlatform{
			ID:      exp.PlatformID,
			Name:    exp.PlatformName,
			Version: exp.PlatformVersion,
		},
		Format:         exp.Format,
		TargetProvider: string(exp.TargetProvider),
		NetworkMode:    exp.NetworkMode,
		Components:     exp.Components,
		Dependencies:   exp.Dependencies,
		Include: ManifestInclude{
			Data:    exp.Configuration.IncludeData,
			Secrets: exp.Configuration.IncludeSecrets,
			Logs:    exp.Configuration.IncludeLogs,
		},
		Security:  exp.Security,
		TotalSize: exp.Size,
	}
}

// DeployDescriptor is the provider-neutral deployment description written
// to deploy/<format>.yaml.
type DeployDescriptor struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Format     catalog.Format  `yaml:"format"`
	Entrypoint string          `yaml:"entrypoint,omitempty"`
	Target     string          `yaml:"target"`
	Network    string          `yaml:"network"`
	Services   []DeployService `yaml:"services"`
}

// DeployService is one component in the deploy descriptor.
type DeployService struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Version   string   `yaml:"version"`
	Requires  []string `yaml:"requires,omitempty"`
	LocalOnly bool     `yaml:"localOnly,omitempty"`
}

func buildDeployDescriptor(exp *store.ExportPackage, entrypoint string) *DeployDescriptor {
	d := &DeployDescriptor{
		APIVersion: "portable/v1",
		Kind:       "Deployment",
		Format:     exp.Format,
		Entrypoint: entrypoint,
		Target:     string(exp.TargetProvider),
		Network:    string(exp.NetworkMode),
	}
	for _, c := range exp.Components {
		if !c.Included {
			continue
		}
		d.Services = append(d.Services, DeployService{
			Name:      c.Name,
			Type:      string(c.Type),
			Version:   c.Version,
			Requires:  c.Dependencies,
			LocalOnly: exp.NetworkMode.Disconnected(),
		})
	}
	return d
}

// DependencyInventory is written to offline/dependencies.yaml.
type DependencyInventory struct {
	NetworkMode catalog.NetworkMode `yaml:"networkMode"`
	Bundled     []InventoryEntry    `yaml:"bundled"`
	Fetched     []InventoryEntry    `yaml:"fetched,omitempty"`
}

// InventoryEntry is one dependency in the inventory.
type InventoryEntry struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Kind    string `yaml:"kind"`
	Source  string `yaml:"source"`
	Size    int64  `yaml:"size"`
}

func buildDependencyInventory(exp *store.ExportPackage) *DependencyInventory {
	inv := &DependencyInventory{NetworkMode: exp.NetworkMode}
	for _, d := range exp.Dependencies {
		e := InventoryEntry{
			Name:    d.Name,
			Version: d.Version,
			Kind:    string(d.Kind),
			Source:  string(d.Source),
			Size:    d.Size,
		}
		if d.OfflineBundle {
			inv.Bundled = append(inv.Bundled, e)
		} else {
			inv.Fetched = append(inv.Fetched, e)
		}
	}
	return inv
}

// generateExportReadme creates the human-readable README for the artifact.
func generateExportReadme(m *ExportManifest) string {
	var b strings.Builder
	b.WriteString("PORTABLE EXPORT PACKAGE\n")
	b.WriteString("=======================\n")
	b.WriteString(fmt.Sprintf("Export: %s\n", m.ExportID))
	b.WriteString(fmt.Sprintf("Created: %s\n", m.Created.Format("2006-01-02 15:04 UTC")))
	b.WriteString(fmt.Sprintf("Platform: %s %s (%s)\n", m.Platform.Name, m.Platform.Version, m.Platform.ID))
	b.WriteString(fmt.Sprintf("Format: %s\n", m.Format))
	b.WriteString(fmt.Sprintf("Target provider: %s\n", m.TargetProvider))
	b.WriteString(fmt.Sprintf("Network mode: %s\n", m.NetworkMode))
	b.WriteString(fmt.Sprintf("Declared size: %s\n", humanize.IBytes(uint64(m.TotalSize))))
	b.WriteString("\nComponents:\n")
	for _, c := range m.Components {
		b.WriteString(fmt.Sprintf("  - %s (%s %s, %s)\n", c.Name, c.Type, c.Version, humanize.IBytes(uint64(c.Size))))
	}
	b.WriteString("\nTO DEPLOY:\n")
	b.WriteString(fmt.Sprintf("1. Review deploy/%s.yaml\n", m.Format))
	if m.NetworkMode.Disconnected() {
		b.WriteString("2. Load every bundled dependency listed in offline/dependencies.yaml\n")
	} else {
		b.WriteString("2. Make sure the target can reach the sources in offline/dependencies.yaml\n")
	}
	b.WriteString("3. Apply the descriptor with the tooling for the chosen format\n")
	if m.Security.EncryptionEnabled {
		b.WriteString(fmt.Sprintf("\nThis archive is delivered encrypted with %s (key %s).\n", m.Security.Algorithm, m.Security.KeyID))
	}
	b.WriteString("\nIntegrity: every part has a .sha256 sidecar; verify before deploying.\n")
	return b.String()
}
