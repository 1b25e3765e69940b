package uq

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDuplicateRV(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddRV(mustNormalRV(t, "a", 0, 1)))
	assert.Error(t, reg.AddRV(mustNormalRV(t, "a", 0, 1)))
	assert.Equal(t, 1, reg.Size())
}

func TestRegistrySetMembership(t *testing.T) {
	a := mustNormalRV(t, "a", 0, 1)
	b := mustNormalRV(t, "b", 0, 1)
	c := mustNormalRV(t, "c", 0, 1)

	reg := NewRegistry()
	require.NoError(t, reg.AddRV(a))
	require.NoError(t, reg.AddRV(b))

	// unregistered member
	s, err := NewSet("s1", []*RandomVariable{a, c}, []float64{1, 0, 0, 1})
	require.NoError(t, err)
	assert.Error(t, reg.AddSet(s))

	s1, err := NewSet("s1", []*RandomVariable{a, b}, []float64{1, 0, 0, 1})
	require.NoError(t, err)
	require.NoError(t, reg.AddSet(s1))

	// overlapping sets are rejected
	require.NoError(t, reg.AddRV(c))
	s2, err := NewSet("s2", []*RandomVariable{b, c}, []float64{1, 0, 0, 1})
	require.NoError(t, err)
	assert.Error(t, reg.AddSet(s2))
}

func TestGenerateValidation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddRV(mustNormalRV(t, "a", 0, 1)))

	_, err := reg.Generate(0, MonteCarlo, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, err = reg.Generate(10, MonteCarlo, nil)
	assert.Error(t, err)
}

func TestGenerateTableOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddRV(mustNormalRV(t, "b", 0, 1)))
	require.NoError(t, reg.AddRV(mustNormalRV(t, "a", 0, 1)))

	table, err := reg.Generate(10, MonteCarlo, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, table.Names())
	assert.Equal(t, 10, table.Rows())
	assert.Equal(t, 2, table.Cols())
}

func TestCoupledEmpiricalLengthCheck(t *testing.T) {
	ce, err := NewCoupledEmpirical([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	rv, err := NewRandomVariable("x", ce)
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.AddRV(rv))

	_, err = reg.Generate(6, MonteCarlo, rand.New(rand.NewSource(1)))
	assert.Error(t, err)

	table, err := reg.Generate(5, MonteCarlo, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	col, ok := table.Column("x")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, col)
}

func TestLatinHypercubeStratification(t *testing.T) {
	d, err := NewUniform(0, 1)
	require.NoError(t, err)
	rv, err := NewRandomVariable("u", d)
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.AddRV(rv))

	const n = 20
	table, err := reg.Generate(n, LatinHypercube, rand.New(rand.NewSource(9)))
	require.NoError(t, err)

	col, _ := table.Column("u")
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	// exactly one draw per equal-probability bin
	for i, v := range sorted {
		assert.GreaterOrEqual(t, v, float64(i)/n)
		assert.Less(t, v, float64(i+1)/n)
	}
}

func TestLatinHypercubeMidpoint(t *testing.T) {
	d, err := NewUniform(0, 1)
	require.NoError(t, err)
	rv, err := NewRandomVariable("u", d)
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.AddRV(rv))

	const n = 10
	table, err := reg.Generate(n, LatinHypercubeMidpoint, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	col, _ := table.Column("u")
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	for i, v := range sorted {
		assert.InDelta(t, (float64(i)+0.5)/n, v, 1e-12)
	}
}

func TestGenerateTruncatedBoundsHold(t *testing.T) {
	d, err := NewLognormal(1, 0.6)
	require.NoError(t, err)
	rv, err := NewRandomVariable("x", d, WithTruncation(0.5, 2.0))
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.AddRV(rv))

	table, err := reg.Generate(2000, MonteCarlo, rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	col, _ := table.Column("x")
	for _, v := range col {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.5)
		assert.LessOrEqual(t, v, 2.0)
	}
}
