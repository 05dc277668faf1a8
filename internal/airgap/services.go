package airgap

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/portable/internal/store"
)

//go:embed data/services.yaml
var defaultServices []byte

// ServiceCatalog is the ordered set of local substitutes every air-gapped
// configuration is built from.
type ServiceCatalog struct {
	Version  int                  `yaml:"version"`
	Services []store.LocalService `yaml:"services"`
}

// ParseServices decodes and checks a service catalog.
func ParseServices(data []byte) (*ServiceCatalog, error) {
	var c ServiceCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing service catalog: %w", err)
	}
	if c.Version != 1 {
		return nil, fmt.Errorf("unsupported service catalog version %d", c.Version)
	}
	if len(c.Services) == 0 {
		return nil, fmt.Errorf("service catalog has no services")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		switch {
		case s.Name == "":
			return nil, fmt.Errorf("service with empty name")
		case seen[s.Name]:
			return nil, fmt.Errorf("duplicate service %q", s.Name)
		case s.Replaces == "":
			return nil, fmt.Errorf("service %q does not name the managed service it replaces", s.Name)
		case s.DataType == "":
			return nil, fmt.Errorf("service %q has no data type", s.Name)
		case s.Port <= 0 || s.Port > 65535:
			return nil, fmt.Errorf("service %q has invalid port %d", s.Name, s.Port)
		case s.Resources.CPU <= 0 || s.Resources.MemoryMB <= 0 || s.Resources.StorageGB < 0:
			return nil, fmt.Errorf("service %q has invalid resources", s.Name)
		}
		seen[s.Name] = true
	}
	return &c, nil
}

// DefaultServices returns the compiled-in service catalog.
func DefaultServices() *ServiceCatalog {
	c, err := ParseServices(defaultServices)
	if err != nil {
		panic(fmt.Sprintf("embedded service catalog: %v", err))
	}
	return c
}

// LoadServices reads a catalog override from path, or returns the default
// catalog when path is empty.
func LoadServices(path string) (*ServiceCatalog, error) {
	if path == "" {
		return DefaultServices(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service catalog: %w", err)
	}
	return ParseServices(data)
}

// Instantiate returns a fresh copy of every service, all stopped.
func (c *ServiceCatalog) Instantiate() []store.LocalService {
	out := slices.Clone(c.Services)
	for i := range out {
		out[i].Status = store.ServiceStopped
	}
	return out
}

// DataTypes returns the distinct data types in catalog order.
func (c *ServiceCatalog) DataTypes() []string {
	var out []string
	for _, s := range c.Services {
		if !slices.Contains(out, s.DataType) {
			out = append(out, s.DataType)
		}
	}
	return out
}

// Footprint sums the resources of every service.
func (c *ServiceCatalog) Footprint() store.Resources {
	var r store.Resources
	for _, s := range c.Services {
		r.CPU += s.Resources.CPU
		r.MemoryMB += s.Resources.MemoryMB
		r.StorageGB += s.Resources.StorageGB
	}
	return r
}
