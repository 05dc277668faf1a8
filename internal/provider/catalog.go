package provider

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/providers.yaml
var defaultCatalog []byte

type catalogFile struct {
	Version   int           `yaml:"version"`
	Providers []Abstraction `yaml:"providers"`
}

// ParseCatalog decodes a YAML provider catalog into a registry.
func ParseCatalog(data []byte) (*Registry, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}
	if cf.Version != 1 {
		return nil, fmt.Errorf("unsupported provider catalog version %d", cf.Version)
	}
	if len(cf.Providers) == 0 {
		return nil, fmt.Errorf("provider catalog is empty")
	}
	return NewRegistry(cf.Providers)
}

// DefaultRegistry returns the registry compiled into the binary.
func DefaultRegistry() *Registry {
	r, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded provider catalog: %v", err))
	}
	return r
}

// LoadRegistry reads a catalog override from path, or returns the default
// registry when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog: %w", err)
	}
	return ParseCatalog(data)
}
