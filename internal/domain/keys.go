// Package domain defines the typed model shared by the assessment engines:
// performance-group keys, marginal and damage/consequence parameters, and
// the tabular samples exchanged between calculation phases.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DirNondirectional is the direction code of demands and components without
// a preferred direction. Demand lookups for this code take the maximum over
// the available directions.
const DirNondirectional = "0"

// LocGlobal marks consequences that apply to the whole asset rather than a
// specific floor. Replacement overrides preserve this location.
const LocGlobal = "0"

// PGKey identifies a performance group: one component type at a specific
// location and direction.
type PGKey struct {
	Cmp string
	Loc string
	Dir string
}

func (k PGKey) String() string { return k.Cmp + "-" + k.Loc + "-" + k.Dir }

// DemandKey identifies one demand column: an engineering demand parameter
// type at a location and direction.
type DemandKey struct {
	Type string
	Loc  string
	Dir  string
}

func (k DemandKey) String() string { return k.Type + "-" + k.Loc + "-" + k.Dir }

// ParseDemandKey parses a "type-loc-dir" column label.
func ParseDemandKey(s string) (DemandKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 3 {
		return DemandKey{}, fmt.Errorf("unparseable demand column label: %q", s)
	}
	// Demand types may themselves contain dashes (e.g. subtyped EDPs), so
	// split from the right.
	return DemandKey{
		Type: strings.Join(parts[:len(parts)-2], "-"),
		Loc:  parts[len(parts)-2],
		Dir:  parts[len(parts)-1],
	}, nil
}

// DamageKey identifies one damage sample column: the damaged quantity of a
// component at a location/direction in a damage state. DS "0" is undamaged.
type DamageKey struct {
	Cmp string
	Loc string
	Dir string
	DS  string
}

func (k DamageKey) String() string {
	return k.Cmp + "-" + k.Loc + "-" + k.Dir + "-" + k.DS
}

// PG returns the performance group this damage column belongs to.
func (k DamageKey) PG() PGKey { return PGKey{Cmp: k.Cmp, Loc: k.Loc, Dir: k.Dir} }

// DVKey identifies one consequence sample column.
type DVKey struct {
	DV     string // decision variable type: Cost, Time
	Loss   string // loss component (consequence id)
	Driver string // damage component driving the loss
	DS     string
	Loc    string
	Dir    string
}

func (k DVKey) String() string {
	return strings.Join([]string{k.DV, k.Loss, k.Driver, k.DS, k.Loc, k.Dir}, "-")
}

// ParseWeights parses a pipe-delimited weight list such as "0.3 | 0.7".
func ParseWeights(s string) ([]float64, error) {
	cleaned := strings.ReplaceAll(s, " ", "")
	if cleaned == "" {
		return nil, fmt.Errorf("empty weight list")
	}
	parts := strings.Split(cleaned, "|")
	weights := make([]float64, len(parts))
	for i, p := range parts {
		w, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable weight %q in %q", p, s)
		}
		weights[i] = w
	}
	return weights, nil
}
