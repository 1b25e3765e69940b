package uq

import (
	"fmt"
	"math"
)

// RandomVariable binds a uniquely named scalar variable to a marginal
// distribution, optional truncation limits, and an optional output remap
// applied to every realization (used to offset discrete damage-state codes).
type RandomVariable struct {
	Name string

	dist          Distribution
	truncateLower float64
	truncateUpper float64
	mapValue      func(float64) float64

	sample []float64
}

// RVOption configures optional RandomVariable behavior.
type RVOption func(*RandomVariable)

// WithTruncation bounds the distribution to [lower, upper]. Use NaN for an
// unbounded side.
func WithTruncation(lower, upper float64) RVOption {
	return func(rv *RandomVariable) {
		rv.truncateLower = lower
		rv.truncateUpper = upper
	}
}

// WithValueMap applies fn to every generated realization.
func WithValueMap(fn func(float64) float64) RVOption {
	return func(rv *RandomVariable) { rv.mapValue = fn }
}

// NewRandomVariable constructs a named random variable. Truncation is only
// meaningful for families with a closed-form CDF; requesting it for a
// discrete or empirical family is a configuration error.
func NewRandomVariable(name string, dist Distribution, opts ...RVOption) (*RandomVariable, error) {
	if name == "" {
		return nil, fmt.Errorf("random variable requires a non-empty name")
	}
	if dist == nil {
		return nil, fmt.Errorf("random variable %s requires a distribution", name)
	}
	rv := &RandomVariable{
		Name:          name,
		dist:          dist,
		truncateLower: math.NaN(),
		truncateUpper: math.NaN(),
	}
	for _, opt := range opts {
		opt(rv)
	}
	if rv.truncated() {
		c, ok := dist.(Continuous)
		if !ok {
			return nil, fmt.Errorf("random variable %s: truncation is not supported for %s distributions", name, dist.Family())
		}
		lo, hi := rv.probBounds(c)
		if hi <= lo {
			return nil, fmt.Errorf("random variable %s: truncation limits [%v, %v] leave no probability mass",
				name, rv.truncateLower, rv.truncateUpper)
		}
	}
	return rv, nil
}

// Distribution returns the marginal bound to this variable.
func (rv *RandomVariable) Distribution() Distribution { return rv.dist }

func (rv *RandomVariable) truncated() bool {
	return !math.IsNaN(rv.truncateLower) || !math.IsNaN(rv.truncateUpper)
}

// probBounds maps the truncation limits into probability space.
func (rv *RandomVariable) probBounds(c Continuous) (lo, hi float64) {
	lo, hi = 0.0, 1.0
	if !math.IsNaN(rv.truncateLower) {
		lo = c.CDF(rv.truncateLower)
	}
	if !math.IsNaN(rv.truncateUpper) {
		hi = c.CDF(rv.truncateUpper)
	}
	return lo, hi
}

// transform maps one uniform draw through the (possibly truncated) inverse
// CDF and the output remap. Truncation renormalizes the CDF between the
// bounds before inversion, never by resampling and discarding.
func (rv *RandomVariable) transform(p float64) float64 {
	if rv.truncated() {
		c := rv.dist.(Continuous)
		lo, hi := rv.probBounds(c)
		p = lo + p*(hi-lo)
	}
	v := rv.dist.Quantile(p)
	if rv.mapValue != nil {
		v = rv.mapValue(v)
	}
	return v
}

// fill realizes the variable for the given uniform draws. Coupled-empirical
// variables ignore the draws and replay their raw data in order.
func (rv *RandomVariable) fill(uniforms []float64) {
	out := make([]float64, len(uniforms))
	if ce, ok := rv.dist.(CoupledEmpirical); ok {
		for i := range out {
			v := ce.At(i)
			if rv.mapValue != nil {
				v = rv.mapValue(v)
			}
			out[i] = v
		}
	} else {
		for i, p := range uniforms {
			out[i] = rv.transform(p)
		}
	}
	rv.sample = out
}

// Sample returns the realized values from the last registry generation.
// The returned slice must be treated as read-only.
func (rv *RandomVariable) Sample() []float64 { return rv.sample }
