package migration

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/portable/internal/provider"
	"github.com/BadgerOps/portable/internal/store"
)

//go:embed data/plan.yaml
var defaultTemplate []byte

// StepTemplate is one step every plan starts with.
type StepTemplate struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	EstimatedHours int    `yaml:"estimated_hours"`
	Automated      bool   `yaml:"automated"`
	Rollbackable   bool   `yaml:"rollbackable"`
}

// Template is the fixed step list and rollback plan.
type Template struct {
	Version  int            `yaml:"version"`
	Steps    []StepTemplate `yaml:"steps"`
	Rollback []string       `yaml:"rollback"`
}

// ParseTemplate decodes and checks a plan template.
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing plan template: %w", err)
	}
	if t.Version != 1 {
		return nil, fmt.Errorf("unsupported plan template version %d", t.Version)
	}
	if len(t.Steps) == 0 {
		return nil, fmt.Errorf("plan template has no steps")
	}
	if len(t.Rollback) == 0 {
		return nil, fmt.Errorf("plan template has no rollback actions")
	}
	for i, s := range t.Steps {
		if s.Name == "" {
			return nil, fmt.Errorf("step %d has no name", i+1)
		}
		if s.EstimatedHours <= 0 {
			return nil, fmt.Errorf("step %q has non-positive duration", s.Name)
		}
	}
	return &t, nil
}

// DefaultTemplate returns the compiled-in plan template.
func DefaultTemplate() *Template {
	t, err := ParseTemplate(defaultTemplate)
	if err != nil {
		panic(fmt.Sprintf("embedded plan template: %v", err))
	}
	return t
}

// render builds the steps and rollback plan for a source/target pair.
// Steps are numbered 1..N in template order.
func (t *Template) render(source, target provider.Abstraction) ([]store.MigrationStep, []string, int) {
	r := strings.NewReplacer("{source}", source.Name, "{target}", target.Name)

	steps := make([]store.MigrationStep, len(t.Steps))
	total := 0
	for i, s := range t.Steps {
		steps[i] = store.MigrationStep{
			Order:          i + 1,
			Name:           s.Name,
			Description:    r.Replace(s.Description),
			EstimatedHours: s.EstimatedHours,
			Automated:      s.Automated,
			Rollbackable:   s.Rollbackable,
			Status:         store.StepPending,
		}
		total += s.EstimatedHours
	}

	rollback := make([]string, len(t.Rollback))
	for i, a := range t.Rollback {
		rollback[i] = r.Replace(a)
	}
	return steps, rollback, total
}

// AssessRisk rates a migration: high when either side is the air-gapped
// provider, medium when either side is rated medium or high complexity,
// low otherwise.
func AssessRisk(source, target provider.Abstraction) store.RiskLevel {
	if source.Type == provider.AirGapped || target.Type == provider.AirGapped {
		return store.RiskHigh
	}
	for _, c := range []provider.Complexity{source.MigrationComplexity, target.MigrationComplexity} {
		if c == provider.ComplexityMedium || c == provider.ComplexityHigh {
			return store.RiskMedium
		}
	}
	return store.RiskLow
}
