package uq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Set groups random variables whose dependence is described by a correlation
// matrix in standard-normal (copula) space: one row and column per member,
// unit diagonal, entries in [-1, 1].
type Set struct {
	Name string

	members []*RandomVariable
	corr    *mat.SymDense

	// corrected reports that the requested matrix was not positive
	// semidefinite and was replaced by the nearest valid one.
	corrected bool
}

// NewSet validates the member list against the correlation matrix. The
// matrix is given row-major with dimension len(members).
func NewSet(name string, members []*RandomVariable, corr []float64) (*Set, error) {
	k := len(members)
	if k == 0 {
		return nil, fmt.Errorf("RV set %s has no members", name)
	}
	if len(corr) != k*k {
		return nil, fmt.Errorf("RV set %s: correlation matrix has %d entries, expected %dx%d",
			name, len(corr), k, k)
	}
	seen := make(map[string]bool, k)
	for _, rv := range members {
		if seen[rv.Name] {
			return nil, fmt.Errorf("RV set %s lists %s more than once", name, rv.Name)
		}
		seen[rv.Name] = true
	}
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := corr[i*k+j]
			if math.IsNaN(v) || v < -1 || v > 1 {
				return nil, fmt.Errorf("RV set %s: correlation entry (%d,%d)=%v outside [-1, 1]", name, i, j, v)
			}
			if i == j && v != 1 {
				return nil, fmt.Errorf("RV set %s: correlation diagonal entry %d is %v, expected 1", name, i, v)
			}
			sym.SetSym(i, j, v)
		}
	}
	return &Set{Name: name, members: members, corr: sym}, nil
}

// Members returns the member variables in set order.
func (s *Set) Members() []*RandomVariable { return s.members }

// Size returns the number of member variables.
func (s *Set) Size() int { return len(s.members) }

// Corrected reports whether the requested correlation matrix had to be
// replaced by its nearest positive semidefinite approximation.
func (s *Set) Corrected() bool { return s.corrected }

// correlate applies the Gaussian-copula transform to a matrix of independent
// standard-normal draws (rows = realizations, one column per member) and
// returns correlated standard-normal columns. A matrix that fails Cholesky
// factorization is corrected to the nearest PSD matrix first.
func (s *Set) correlate(z *mat.Dense) (*mat.Dense, error) {
	n, k := z.Dims()
	if k != len(s.members) {
		return nil, fmt.Errorf("RV set %s: draw matrix has %d columns, expected %d", s.Name, k, len(s.members))
	}

	out := mat.NewDense(n, k, nil)

	var chol mat.Cholesky
	if chol.Factorize(s.corr) {
		var lower mat.TriDense
		chol.LTo(&lower)
		out.Mul(z, lower.T())
		return out, nil
	}

	// The matrix is singular or indefinite. Fall back to an eigen-based
	// factor with negative eigenvalues clipped to zero: this is the nearest
	// PSD approximation, and it keeps perfectly correlated members exactly
	// rank-identical (an all-ones matrix reduces to a rank-one factor).
	s.corrected = true
	factor, err := clippedEigenFactor(s.corr)
	if err != nil {
		return nil, fmt.Errorf("RV set %s: %w", s.Name, err)
	}
	out.Mul(z, factor.T())
	return out, nil
}

// clippedEigenFactor returns T such that T*Tᵀ approximates the matrix with
// any negative eigenvalues clipped to zero.
func clippedEigenFactor(a *mat.SymDense) (*mat.Dense, error) {
	k := a.SymmetricDim()

	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, fmt.Errorf("correlation matrix eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	factor := mat.NewDense(k, k, nil)
	for j := 0; j < k; j++ {
		scale := 0.0
		if vals[j] > 0 {
			scale = math.Sqrt(vals[j])
		}
		for i := 0; i < k; i++ {
			factor.Set(i, j, vecs.At(i, j)*scale)
		}
	}
	return factor, nil
}
