// Package catalog enumerates the software components and dependencies that
// go into an export for a given format and network mode.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Format is an export packaging format
type Format string

const (
	FormatDocker     Format = "docker"
	FormatKubernetes Format = "kubernetes"
	FormatHelm       Format = "helm"
	FormatTerraform  Format = "terraform"
	FormatAnsible    Format = "ansible"
)

// ParseFormat validates a format string against the built-in formats.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatDocker, FormatKubernetes, FormatHelm, FormatTerraform, FormatAnsible:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// NetworkMode describes the connectivity of the target environment
type NetworkMode string

const (
	NetworkOnline    NetworkMode = "online"
	NetworkOffline   NetworkMode = "offline"
	NetworkAirGapped NetworkMode = "air-gapped"
)

// ParseNetworkMode validates a network mode string.
func ParseNetworkMode(s string) (NetworkMode, error) {
	switch m := NetworkMode(s); m {
	case NetworkOnline, NetworkOffline, NetworkAirGapped:
		return m, nil
	}
	return "", fmt.Errorf("unknown network mode %q", s)
}

// Disconnected reports whether the mode has no outbound network access.
func (m NetworkMode) Disconnected() bool {
	return m == NetworkOffline || m == NetworkAirGapped
}

// ComponentType is a platform subsystem
type ComponentType string

const (
	ComponentFrontend   ComponentType = "frontend"
	ComponentBackend    ComponentType = "backend"
	ComponentDatabase   ComponentType = "database"
	ComponentCache      ComponentType = "cache"
	ComponentStorage    ComponentType = "storage"
	ComponentMessaging  ComponentType = "messaging"
	ComponentMonitoring ComponentType = "monitoring"
	ComponentSecurity   ComponentType = "security"
)

// DependencyKind classifies when a dependency is needed
type DependencyKind string

const (
	KindRuntime  DependencyKind = "runtime"
	KindBuild    DependencyKind = "build"
	KindDev      DependencyKind = "dev"
	KindOptional DependencyKind = "optional"
)

// DependencySource is where a dependency is obtained from
type DependencySource string

const (
	SourcePackageManager DependencySource = "package-manager"
	SourceOSPackage      DependencySource = "os-package"
	SourceBinary         DependencySource = "binary"
	SourceContainerImage DependencySource = "container-image"
)

// Component is a subsystem bundled into an export
type Component struct {
	Type         ComponentType `yaml:"type" json:"type"`
	Name         string        `yaml:"name" json:"name"`
	Included     bool          `yaml:"-" json:"included"`
	Size         int64         `yaml:"size" json:"size"`
	Version      string        `yaml:"version" json:"version"`
	Dependencies []string      `yaml:"dependencies" json:"dependencies"`
	Formats      []Format      `yaml:"formats,omitempty" json:"-"`
}

// Dependency is a package a component needs at runtime, build or test time
type Dependency struct {
	Name          string           `yaml:"name" json:"name"`
	Version       string           `yaml:"version" json:"version"`
	Kind          DependencyKind   `yaml:"kind" json:"kind"`
	Source        DependencySource `yaml:"source" json:"source"`
	Size          int64            `yaml:"size" json:"size"`
	OfflineBundle bool             `yaml:"-" json:"offline_bundle"`
	AlwaysBundle  bool             `yaml:"always_bundle,omitempty" json:"always_bundle,omitempty"`
	Formats       []Format         `yaml:"formats,omitempty" json:"-"`
}

// FormatInfo describes an export format
type FormatInfo struct {
	Name        Format `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Descriptor  string `yaml:"descriptor" json:"descriptor"`
}

//go:embed data/catalog.yaml
var defaultCatalog []byte

// Catalog holds the format, component and dependency templates.
// It is read-only after construction.
type Catalog struct {
	Version      int          `yaml:"version"`
	FormatList   []FormatInfo `yaml:"formats"`
	Components   []Component  `yaml:"components"`
	Dependencies []Dependency `yaml:"dependencies"`
}

// Parse decodes a YAML catalog and checks its references.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if c.Version != 1 {
		return nil, fmt.Errorf("unsupported catalog version %d", c.Version)
	}
	if len(c.FormatList) == 0 {
		return nil, fmt.Errorf("catalog defines no formats")
	}

	deps := make(map[string]struct{}, len(c.Dependencies))
	for _, d := range c.Dependencies {
		if d.Size < 0 {
			return nil, fmt.Errorf("dependency %q has negative size", d.Name)
		}
		deps[d.Name] = struct{}{}
	}
	for _, comp := range c.Components {
		if comp.Size < 0 {
			return nil, fmt.Errorf("component %q has negative size", comp.Name)
		}
		for _, dn := range comp.Dependencies {
			if _, ok := deps[dn]; !ok {
				return nil, fmt.Errorf("component %q references unknown dependency %q", comp.Name, dn)
			}
		}
		for _, f := range comp.Formats {
			if !c.HasFormat(f) {
				return nil, fmt.Errorf("component %q restricted to unknown format %q", comp.Name, f)
			}
		}
	}
	return &c, nil
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog override from path, or returns the default catalog
// when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Formats returns all known formats in catalog order.
func (c *Catalog) Formats() []FormatInfo {
	return slices.Clone(c.FormatList)
}

// HasFormat reports whether f is a known format.
func (c *Catalog) HasFormat(f Format) bool {
	_, ok := c.FormatInfo(f)
	return ok
}

// FormatInfo returns the description of f.
func (c *Catalog) FormatInfo(f Format) (FormatInfo, bool) {
	for _, fi := range c.FormatList {
		if fi.Name == f {
			return fi, true
		}
	}
	return FormatInfo{}, false
}

// ComponentsFor returns the components bundled for format. Components
// restricted to other formats are left out.
func (c *Catalog) ComponentsFor(format Format) ([]Component, error) {
	if !c.HasFormat(format) {
		return nil, fmt.Errorf("unknown export format %q", format)
	}

	var out []Component
	for _, tmpl := range c.Components {
		if !appliesTo(tmpl.Formats, format) {
			continue
		}
		comp := tmpl
		comp.Included = true
		comp.Dependencies = slices.Clone(tmpl.Dependencies)
		comp.Formats = nil
		out = append(out, comp)
	}
	return out, nil
}

// DependenciesFor returns the dependencies bundled for format. Every
// dependency is marked for offline bundling in a disconnected network mode;
// always-bundled material (TLS certificates) is bundled in every mode.
func (c *Catalog) DependenciesFor(format Format, mode NetworkMode) ([]Dependency, error) {
	if !c.HasFormat(format) {
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	if _, err := ParseNetworkMode(string(mode)); err != nil {
		return nil, err
	}

	var out []Dependency
	for _, tmpl := range c.Dependencies {
		if !appliesTo(tmpl.Formats, format) {
			continue
		}
		dep := tmpl
		dep.OfflineBundle = mode.Disconnected() || tmpl.AlwaysBundle
		dep.Formats = nil
		out = append(out, dep)
	}
	return out, nil
}

func appliesTo(formats []Format, f Format) bool {
	return len(formats) == 0 || slices.Contains(formats, f)
}

// TotalSize sums the sizes of included components and all dependencies.
func TotalSize(components []Component, deps []Dependency) int64 {
	var total int64
	for _, c := range components {
		if c.Included {
			total += c.Size
		}
	}
	for _, d := range deps {
		total += d.Size
	}
	return total
}
