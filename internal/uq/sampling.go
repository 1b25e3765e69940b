package uq

import (
	"fmt"
	"math/rand"
)

// SamplingMethod selects how standard-uniform draws are stratified before
// they are mapped through the marginals.
type SamplingMethod string

const (
	// MonteCarlo draws plain pseudo-random uniforms.
	MonteCarlo SamplingMethod = "MonteCarlo"
	// LatinHypercube stratifies each column into n equal-probability bins
	// and draws uniformly within a randomly permuted bin per realization.
	LatinHypercube SamplingMethod = "LHS"
	// LatinHypercubeMidpoint places each draw at the midpoint of its bin.
	LatinHypercubeMidpoint SamplingMethod = "LHS_midpoint"
)

// ParseSamplingMethod validates a sampling method name from configuration.
func ParseSamplingMethod(s string) (SamplingMethod, error) {
	switch SamplingMethod(s) {
	case MonteCarlo, LatinHypercube, LatinHypercubeMidpoint:
		return SamplingMethod(s), nil
	}
	return "", fmt.Errorf("unrecognized sampling method: %q", s)
}

// uniformDraws produces one column of n standard-uniform draws under the
// given stratification.
func uniformDraws(n int, method SamplingMethod, rng *rand.Rand) []float64 {
	u := make([]float64, n)
	switch method {
	case LatinHypercube:
		for i, bin := range rng.Perm(n) {
			u[i] = (float64(bin) + rng.Float64()) / float64(n)
		}
	case LatinHypercubeMidpoint:
		for i, bin := range rng.Perm(n) {
			u[i] = (float64(bin) + 0.5) / float64(n)
		}
	default:
		for i := range u {
			u[i] = rng.Float64()
		}
	}
	return u
}

// normalDraws produces one column of n standard-normal draws under the given
// stratification.
func normalDraws(n int, method SamplingMethod, rng *rand.Rand) []float64 {
	z := uniformDraws(n, method, rng)
	for i, p := range z {
		z[i] = stdNormal.Quantile(clampProb(p))
	}
	return z
}
