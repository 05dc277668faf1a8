package provider

import (
	"fmt"

	"github.com/BadgerOps/portable/internal/validate"
)

// Comparison cell values for capabilities without a declared alternative
const (
	CellYes = "Yes"
	CellNo  = "No"
)

// ComparisonRow is one capability across the compared providers
type ComparisonRow struct {
	Capability string          `json:"capability"`
	Values     map[Type]string `json:"values"`
}

// Comparison is the result of Compare
type Comparison struct {
	Providers        []Abstraction   `json:"providers"`
	Matrix           []ComparisonRow `json:"comparison_matrix"`
	Recommendation   Type            `json:"recommendation"`
	RecommendationBy string          `json:"recommendation_basis"`
}

// Compare builds a capability matrix over the requested providers and
// recommends the one with the most supported capabilities per unit of
// monthly cost. Requested types are processed in catalog order, so the
// result is identical for any permutation of the same set.
func (r *Registry) Compare(types []Type) (*Comparison, error) {
	if len(types) == 0 {
		return nil, validate.Errorf("at least one provider type is required")
	}

	requested := make(map[Type]struct{}, len(types))
	for _, t := range types {
		if _, ok := r.providers[t]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
		}
		requested[t] = struct{}{}
	}

	cmp := &Comparison{RecommendationBy: "supported capabilities per monthly cost"}
	for _, t := range r.order {
		if _, ok := requested[t]; ok {
			cmp.Providers = append(cmp.Providers, r.providers[t].clone())
		}
	}

	// Union of capability names in order of first appearance
	rowIndex := make(map[string]int)
	for _, p := range cmp.Providers {
		for _, c := range p.Capabilities {
			if _, seen := rowIndex[c.Name]; seen {
				continue
			}
			rowIndex[c.Name] = len(cmp.Matrix)
			cmp.Matrix = append(cmp.Matrix, ComparisonRow{
				Capability: c.Name,
				Values:     make(map[Type]string, len(cmp.Providers)),
			})
		}
	}

	for _, p := range cmp.Providers {
		for i := range cmp.Matrix {
			cmp.Matrix[i].Values[p.Type] = CellNo
		}
		for _, c := range p.Capabilities {
			row := &cmp.Matrix[rowIndex[c.Name]]
			switch {
			case c.Supported:
				row.Values[p.Type] = CellYes
			case c.Alternative != "":
				row.Values[p.Type] = c.Alternative
			}
		}
	}

	best := -1.0
	for _, p := range cmp.Providers {
		cost := p.Cost.Monthly
		if cost < 1 {
			cost = 1
		}
		density := float64(p.SupportedCount()) / cost
		if density > best {
			best = density
			cmp.Recommendation = p.Type
		}
	}

	return cmp, nil
}
