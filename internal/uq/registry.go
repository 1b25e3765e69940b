package uq

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Registry owns the random variables and correlation sets for one sampling
// phase. A registry is built, generated once, its sample extracted, and then
// discarded; it holds no state across calculation phases.
type Registry struct {
	rvs   map[string]*RandomVariable
	order []string
	sets  []*Set

	// claimed maps RV name -> owning set, enforcing disjoint sets.
	claimed map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rvs:     make(map[string]*RandomVariable),
		claimed: make(map[string]string),
	}
}

// AddRV registers a uniquely named random variable. A duplicate name is a
// configuration error.
func (r *Registry) AddRV(rv *RandomVariable) error {
	if _, ok := r.rvs[rv.Name]; ok {
		return fmt.Errorf("random variable %s is already registered", rv.Name)
	}
	r.rvs[rv.Name] = rv
	r.order = append(r.order, rv.Name)
	return nil
}

// RV looks up a registered variable by name.
func (r *Registry) RV(name string) (*RandomVariable, bool) {
	rv, ok := r.rvs[name]
	return rv, ok
}

// Size returns the number of registered variables.
func (r *Registry) Size() int { return len(r.order) }

// AddSet registers a correlation group. Every member must already be
// registered and must not belong to another set.
func (r *Registry) AddSet(s *Set) error {
	for _, rv := range s.Members() {
		registered, ok := r.rvs[rv.Name]
		if !ok || registered != rv {
			return fmt.Errorf("RV set %s references unregistered random variable %s", s.Name, rv.Name)
		}
		if owner, ok := r.claimed[rv.Name]; ok {
			return fmt.Errorf("RV set %s references %s, which already belongs to set %s", s.Name, rv.Name, owner)
		}
	}
	for _, rv := range s.Members() {
		r.claimed[rv.Name] = s.Name
	}
	r.sets = append(r.sets, s)
	return nil
}

// CorrectedSets lists the sets whose correlation matrix had to be replaced
// by the nearest PSD approximation during the last generation.
func (r *Registry) CorrectedSets() []string {
	var names []string
	for _, s := range r.sets {
		if s.Corrected() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Generate produces an n-row sample for every registered variable and
// returns the combined table with columns in registration order. Set members
// receive Gaussian-copula correlated draws; free variables draw
// independently. Any previously generated sample is discarded.
func (r *Registry) Generate(n int, method SamplingMethod, rng *rand.Rand) (*Table, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", n)
	}
	if rng == nil {
		return nil, fmt.Errorf("sample generation requires a random generator")
	}

	for _, name := range r.order {
		rv := r.rvs[name]
		if ce, ok := rv.Distribution().(CoupledEmpirical); ok && n > ce.Len() {
			return nil, fmt.Errorf("random variable %s: coupled_empirical sample of length %d cannot supply %d realizations",
				name, ce.Len(), n)
		}
	}

	// Correlated groups first.
	for _, s := range r.sets {
		k := s.Size()
		z := mat.NewDense(n, k, nil)
		for j := 0; j < k; j++ {
			z.SetCol(j, normalDraws(n, method, rng))
		}
		x, err := s.correlate(z)
		if err != nil {
			return nil, err
		}
		for j, rv := range s.Members() {
			u := make([]float64, n)
			for i := range u {
				u[i] = stdNormal.CDF(x.At(i, j))
			}
			rv.fill(u)
		}
	}

	// Remaining variables draw independently.
	for _, name := range r.order {
		if _, ok := r.claimed[name]; ok {
			continue
		}
		r.rvs[name].fill(uniformDraws(n, method, rng))
	}

	table := NewTable(n)
	for _, name := range r.order {
		if err := table.AddColumn(name, r.rvs[name].Sample()); err != nil {
			return nil, err
		}
	}
	return table, nil
}
