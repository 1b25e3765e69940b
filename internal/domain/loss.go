package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Decision-variable types produced by the repair consequence model.
const (
	DVCost = "Cost"
	DVTime = "Time"
)

// LossReplacement is the reserved consequence id whose occurrence supersedes
// all location-specific repair consequences.
const LossReplacement = "replacement"

// LossMapEntry maps a loss component to the damage component that drives it
// and the consequence description that prices it.
type LossMapEntry struct {
	LossID      string
	DriverCmp   string
	Consequence string
}

// MedianFunc computes the median consequence for a damaged quantity. It is
// either a constant or a bounded multilinear interpolation, parsed once at
// load time.
type MedianFunc struct {
	constant   float64
	medians    []float64
	quantities []float64
}

// NewConstantMedian returns a median function that ignores the quantity.
func NewConstantMedian(v float64) MedianFunc { return MedianFunc{constant: v} }

// NewMultilinearMedian returns a bounded multilinear median function with
// control points (quantities[i], medians[i]). Outside the quantity range the
// median clamps to the boundary values.
func NewMultilinearMedian(medians, quantities []float64) (MedianFunc, error) {
	if len(medians) != len(quantities) || len(medians) == 0 {
		return MedianFunc{}, fmt.Errorf("multilinear median needs matching non-empty control arrays, got %d and %d",
			len(medians), len(quantities))
	}
	if !sort.Float64sAreSorted(quantities) {
		return MedianFunc{}, fmt.Errorf("multilinear median quantities must be ascending")
	}
	return MedianFunc{medians: medians, quantities: quantities}, nil
}

// ParseMedianSpec parses a consequence Theta0 cell: either a scalar constant
// or a bounded multilinear spec "m1,m2,...|q1,q2,...".
func ParseMedianSpec(s string) (MedianFunc, error) {
	trimmed := strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return NewConstantMedian(v), nil
	}
	halves := strings.Split(trimmed, "|")
	if len(halves) != 2 {
		return MedianFunc{}, fmt.Errorf("unparseable median spec %q", s)
	}
	medians, err := parseFloatList(halves[0])
	if err != nil {
		return MedianFunc{}, fmt.Errorf("unparseable median spec %q: %w", s, err)
	}
	quantities, err := parseFloatList(halves[1])
	if err != nil {
		return MedianFunc{}, fmt.Errorf("unparseable median spec %q: %w", s, err)
	}
	return NewMultilinearMedian(medians, quantities)
}

func parseFloatList(s string) ([]float64, error) {
	parts := strings.Split(strings.ReplaceAll(s, " ", ""), ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", p)
		}
		out[i] = v
	}
	return out, nil
}

// Eval returns the median consequence for the given damaged quantity.
func (f MedianFunc) Eval(quantity float64) float64 {
	if f.medians == nil {
		return f.constant
	}
	qs, ms := f.quantities, f.medians
	if quantity <= qs[0] {
		return ms[0]
	}
	last := len(qs) - 1
	if quantity >= qs[last] {
		return ms[last]
	}
	i := sort.SearchFloat64s(qs, quantity)
	// qs[i-1] < quantity < qs[i] (SearchFloat64s returns the first index
	// with qs[i] >= quantity, and the boundary cases are handled above).
	t := (quantity - qs[i-1]) / (qs[i] - qs[i-1])
	return ms[i-1] + t*(ms[i]-ms[i-1])
}

// DSConsequence prices one damage state of a consequence description for
// one decision-variable type.
type DSConsequence struct {
	// Family of the deviation from the median; empty means deterministic.
	Family string
	Median MedianFunc
	Theta1 float64
	Unit   string
}

// ConsequenceParams holds the per-damage-state consequence functions of one
// (consequence description, decision variable) pair.
type ConsequenceParams struct {
	Consequence string
	DV          string

	// ByDS keys damage-state ids ("1", "2", ...) to their pricing.
	ByDS map[string]DSConsequence
}
