// Package assessment implements the calculation engines of the performance
// assessment: demand, asset, damage (with cascade processes) and repair
// consequence models, orchestrated by the Assessment type.
package assessment

import (
	"fmt"
	"math"

	"github.com/tmarlowe/hazloss/internal/uq"
)

// marginalRV builds a registry-ready random variable from tabular marginal
// parameters. A raw slice feeds the empirical families; the parametric
// families use theta0/theta1 with optional truncation.
func marginalRV(name, family string, theta0, theta1, truncLower, truncUpper float64, raw []float64) (*uq.RandomVariable, error) {
	fam, err := uq.ParseFamily(family)
	if err != nil {
		return nil, fmt.Errorf("random variable %s: %w", name, err)
	}

	var dist uq.Distribution
	switch fam {
	case uq.FamilyNormal:
		dist, err = uq.NewNormal(theta0, theta1)
	case uq.FamilyLognormal:
		dist, err = uq.NewLognormal(theta0, theta1)
	case uq.FamilyUniform:
		a, b := theta0, theta1
		// An unbounded uniform side consumes its truncation limit as the
		// bound; limits next to explicit bounds truncate like any other
		// family.
		if math.IsNaN(a) {
			a = truncLower
			truncLower = math.NaN()
		}
		if math.IsNaN(b) {
			b = truncUpper
			truncUpper = math.NaN()
		}
		dist, err = uq.NewUniform(a, b)
	case uq.FamilyEmpirical:
		dist, err = uq.NewEmpirical(raw)
	case uq.FamilyCoupledEmpirical:
		dist, err = uq.NewCoupledEmpirical(raw)
	default:
		return nil, fmt.Errorf("random variable %s: family %s needs explicit construction", name, fam)
	}
	if err != nil {
		return nil, fmt.Errorf("random variable %s: %w", name, err)
	}

	var opts []uq.RVOption
	if !math.IsNaN(truncLower) || !math.IsNaN(truncUpper) {
		opts = append(opts, uq.WithTruncation(truncLower, truncUpper))
	}
	return uq.NewRandomVariable(name, dist, opts...)
}

// pointRV builds a degenerate variable realizing a constant value, used for
// deterministic capacities and single-outcome damage-state assignments.
func pointRV(name string, value float64) (*uq.RandomVariable, error) {
	dist, err := uq.NewEmpirical([]float64{value})
	if err != nil {
		return nil, err
	}
	return uq.NewRandomVariable(name, dist)
}
