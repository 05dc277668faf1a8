package provider

import (
	"errors"
	"fmt"
	"slices"
)

// Type identifies a hosting provider (e.g., "aws", "hetzner", "air-gapped")
type Type string

const (
	AWS          Type = "aws"
	Azure        Type = "azure"
	GCP          Type = "gcp"
	DigitalOcean Type = "digitalocean"
	Hetzner      Type = "hetzner"
	OnPremise    Type = "on-premise"
	AirGapped    Type = "air-gapped"
)

// Complexity rates how hard it is to move a platform to or from a provider
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ErrUnknownProvider is returned when a provider type is not in the catalog
var ErrUnknownProvider = errors.New("unknown provider")

// Capability describes one feature and whether the provider offers it natively
type Capability struct {
	Name        string `yaml:"name" json:"name"`
	Supported   bool   `yaml:"supported" json:"supported"`
	Alternative string `yaml:"alternative,omitempty" json:"alternative,omitempty"`
}

// CostItem is one line of a cost estimate
type CostItem struct {
	Item    string  `yaml:"item" json:"item"`
	Monthly float64 `yaml:"monthly" json:"monthly"`
}

// CostEstimate is the expected spend for a reference platform on the provider
type CostEstimate struct {
	Monthly   float64    `yaml:"monthly" json:"monthly"`
	Annual    float64    `yaml:"annual" json:"annual"`
	Currency  string     `yaml:"currency" json:"currency"`
	Breakdown []CostItem `yaml:"breakdown" json:"breakdown"`
}

// Abstraction is the normalized description of a provider
type Abstraction struct {
	Type                Type         `yaml:"type" json:"type"`
	Name                string       `yaml:"name" json:"name"`
	Capabilities        []Capability `yaml:"capabilities" json:"capabilities"`
	Limitations         []string     `yaml:"limitations" json:"limitations"`
	Cost                CostEstimate `yaml:"cost" json:"cost"`
	MigrationComplexity Complexity   `yaml:"migration_complexity" json:"migration_complexity"`
	OfflineSupport      bool         `yaml:"offline_support" json:"offline_support"`
	Certifications      []string     `yaml:"certifications" json:"certifications"`
}

// SupportedCount returns the number of natively supported capabilities.
func (a Abstraction) SupportedCount() int {
	n := 0
	for _, c := range a.Capabilities {
		if c.Supported {
			n++
		}
	}
	return n
}

// clone copies a so callers cannot reach the registry's slices.
func (a Abstraction) clone() Abstraction {
	a.Capabilities = slices.Clone(a.Capabilities)
	a.Limitations = slices.Clone(a.Limitations)
	a.Certifications = slices.Clone(a.Certifications)
	a.Cost.Breakdown = slices.Clone(a.Cost.Breakdown)
	return a
}

// Registry holds the provider catalog in catalog order. It is never
// mutated after construction and is safe for concurrent reads.
type Registry struct {
	order     []Type
	providers map[Type]Abstraction
}

// NewRegistry builds a registry from catalog entries, preserving their order.
func NewRegistry(entries []Abstraction) (*Registry, error) {
	r := &Registry{
		providers: make(map[Type]Abstraction, len(entries)),
	}
	for _, e := range entries {
		if e.Type == "" {
			return nil, fmt.Errorf("provider %q has no type", e.Name)
		}
		if _, dup := r.providers[e.Type]; dup {
			return nil, fmt.Errorf("duplicate provider type %q", e.Type)
		}
		switch e.MigrationComplexity {
		case ComplexityLow, ComplexityMedium, ComplexityHigh:
		default:
			return nil, fmt.Errorf("provider %q: invalid migration complexity %q", e.Type, e.MigrationComplexity)
		}
		// one currency per catalog
		if len(r.order) > 0 {
			if first := r.providers[r.order[0]]; e.Cost.Currency != first.Cost.Currency {
				return nil, fmt.Errorf("provider %q: currency %q differs from catalog currency %q",
					e.Type, e.Cost.Currency, first.Cost.Currency)
			}
		}
		r.order = append(r.order, e.Type)
		r.providers[e.Type] = e
	}
	return r, nil
}

// List returns all providers in catalog order
func (r *Registry) List() []Abstraction {
	out := make([]Abstraction, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.providers[t].clone())
	}
	return out
}

// Get returns a provider by type
func (r *Registry) Get(t Type) (Abstraction, bool) {
	p, ok := r.providers[t]
	return p.clone(), ok
}

// Lookup is Get with an ErrUnknownProvider error for missing types.
func (r *Registry) Lookup(t Type) (Abstraction, error) {
	p, ok := r.providers[t]
	if !ok {
		return Abstraction{}, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}
	return p.clone(), nil
}

// Types returns all provider types in catalog order
func (r *Registry) Types() []Type {
	out := make([]Type, len(r.order))
	copy(out, r.order)
	return out
}

// OfflineCapable returns the number of providers that can run disconnected.
func (r *Registry) OfflineCapable() int {
	n := 0
	for _, p := range r.providers {
		if p.OfflineSupport {
			n++
		}
	}
	return n
}
