// Package uq provides the uncertainty quantification core: marginal
// distributions, random variables, correlated sample generation through a
// Gaussian copula, and distribution fitting from raw observations.
package uq

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Family identifies a marginal distribution family.
type Family string

const (
	FamilyNormal           Family = "normal"
	FamilyLognormal        Family = "lognormal"
	FamilyUniform          Family = "uniform"
	FamilyEmpirical        Family = "empirical"
	FamilyCoupledEmpirical Family = "coupled_empirical"
	FamilyMultinomial      Family = "multinomial"
)

// ParseFamily validates a family name from an input table.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyNormal, FamilyLognormal, FamilyUniform,
		FamilyEmpirical, FamilyCoupledEmpirical, FamilyMultinomial:
		return Family(s), nil
	}
	return "", fmt.Errorf("unrecognized distribution family: %q", s)
}

// Distribution is a marginal distribution that can be sampled through its
// inverse CDF. Quantile maps a probability in [0,1] to a realization.
type Distribution interface {
	Family() Family
	Quantile(p float64) float64
}

// Continuous is implemented by families with a closed-form CDF, which is
// required for rejection-free truncation.
type Continuous interface {
	Distribution
	CDF(x float64) float64
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Normal is parameterized by mean and standard deviation.
type Normal struct {
	d distuv.Normal
}

// NewNormal returns a normal distribution with mean theta0 and standard
// deviation theta1.
func NewNormal(theta0, theta1 float64) (Normal, error) {
	if !(theta1 > 0) {
		return Normal{}, fmt.Errorf("normal distribution requires positive std, got %v", theta1)
	}
	return Normal{d: distuv.Normal{Mu: theta0, Sigma: theta1}}, nil
}

func (n Normal) Family() Family           { return FamilyNormal }
func (n Normal) Quantile(p float64) float64 { return n.d.Quantile(clampProb(p)) }
func (n Normal) CDF(x float64) float64      { return n.d.CDF(x) }

// Lognormal is parameterized by median (theta0) and log standard deviation
// (theta1), the convention used throughout fragility and consequence tables.
type Lognormal struct {
	median float64
	beta   float64
}

func NewLognormal(theta0, theta1 float64) (Lognormal, error) {
	if !(theta0 > 0) {
		return Lognormal{}, fmt.Errorf("lognormal distribution requires positive median, got %v", theta0)
	}
	if !(theta1 > 0) {
		return Lognormal{}, fmt.Errorf("lognormal distribution requires positive log-std, got %v", theta1)
	}
	return Lognormal{median: theta0, beta: theta1}, nil
}

func (l Lognormal) Family() Family { return FamilyLognormal }

func (l Lognormal) Quantile(p float64) float64 {
	return l.median * math.Exp(l.beta*stdNormal.Quantile(clampProb(p)))
}

func (l Lognormal) CDF(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return stdNormal.CDF(math.Log(x/l.median) / l.beta)
}

// Uniform is parameterized by its lower and upper bounds.
type Uniform struct {
	d distuv.Uniform
}

func NewUniform(theta0, theta1 float64) (Uniform, error) {
	if math.IsNaN(theta0) || math.IsNaN(theta1) || theta1 <= theta0 {
		return Uniform{}, fmt.Errorf("uniform distribution requires finite bounds with lower < upper, got [%v, %v]", theta0, theta1)
	}
	return Uniform{d: distuv.Uniform{Min: theta0, Max: theta1}}, nil
}

func (u Uniform) Family() Family           { return FamilyUniform }
func (u Uniform) Quantile(p float64) float64 { return u.d.Quantile(clampProb(p)) }
func (u Uniform) CDF(x float64) float64      { return u.d.CDF(x) }

// Empirical resamples a raw data vector with replacement, reproducing the
// raw empirical CDF exactly.
type Empirical struct {
	raw []float64
}

func NewEmpirical(raw []float64) (Empirical, error) {
	if len(raw) == 0 {
		return Empirical{}, fmt.Errorf("empirical distribution requires a non-empty raw sample")
	}
	return Empirical{raw: raw}, nil
}

func (e Empirical) Family() Family { return FamilyEmpirical }

func (e Empirical) Quantile(p float64) float64 {
	i := int(clampProb(p) * float64(len(e.raw)))
	if i >= len(e.raw) {
		i = len(e.raw) - 1
	}
	return e.raw[i]
}

// Raw exposes the retained data vector.
func (e Empirical) Raw() []float64 { return e.raw }

// CoupledEmpirical replays a raw data vector in its original row order,
// preserving the dependency structure between coupled variables. The draw
// probability is ignored; realization i receives raw[i mod len].
type CoupledEmpirical struct {
	raw []float64
}

func NewCoupledEmpirical(raw []float64) (CoupledEmpirical, error) {
	if len(raw) == 0 {
		return CoupledEmpirical{}, fmt.Errorf("coupled_empirical distribution requires a non-empty raw sample")
	}
	return CoupledEmpirical{raw: raw}, nil
}

func (c CoupledEmpirical) Family() Family { return FamilyCoupledEmpirical }

func (c CoupledEmpirical) Quantile(float64) float64 { return c.raw[0] }

// At returns the value assigned to realization i.
func (c CoupledEmpirical) At(i int) float64 { return c.raw[i%len(c.raw)] }

func (c CoupledEmpirical) Len() int { return len(c.raw) }

// Multinomial maps a uniform draw to one of k weighted discrete outcomes,
// returned as outcome indices 0..k-1.
type Multinomial struct {
	cum []float64
}

// NewMultinomial builds a multinomial distribution from outcome weights.
// Weights that do not sum to one are normalized; the caller decides whether
// that deserves a warning.
func NewMultinomial(weights []float64) (Multinomial, error) {
	if len(weights) == 0 {
		return Multinomial{}, fmt.Errorf("multinomial distribution requires at least one outcome weight")
	}
	total := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return Multinomial{}, fmt.Errorf("multinomial weights must be non-negative, got %v", w)
		}
		total += w
	}
	if total <= 0 {
		return Multinomial{}, fmt.Errorf("multinomial weights must have a positive sum")
	}
	cum := make([]float64, len(weights))
	running := 0.0
	for i, w := range weights {
		running += w / total
		cum[i] = running
	}
	cum[len(cum)-1] = 1.0
	return Multinomial{cum: cum}, nil
}

func (m Multinomial) Family() Family { return FamilyMultinomial }

func (m Multinomial) Quantile(p float64) float64 {
	p = clampProb(p)
	i := sort.SearchFloat64s(m.cum, p)
	if i >= len(m.cum) {
		i = len(m.cum) - 1
	}
	return float64(i)
}

// Outcomes reports the number of discrete outcomes.
func (m Multinomial) Outcomes() int { return len(m.cum) }

// clampProb keeps quantile arguments strictly inside (0,1) so that
// closed-form inversions stay finite.
func clampProb(p float64) float64 {
	const eps = 1e-12
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
