package uq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRandomVariableValidation(t *testing.T) {
	normal, err := NewNormal(0, 1)
	require.NoError(t, err)

	_, err = NewRandomVariable("", normal)
	assert.Error(t, err)
	_, err = NewRandomVariable("x", nil)
	assert.Error(t, err)

	// truncation needs a closed-form CDF
	multi, err := NewMultinomial([]float64{0.5, 0.5})
	require.NoError(t, err)
	_, err = NewRandomVariable("x", multi, WithTruncation(0, 1))
	assert.Error(t, err)

	// truncation limits that leave no probability mass
	_, err = NewRandomVariable("x", normal, WithTruncation(40, 41))
	assert.Error(t, err)
}

func TestTruncationBounds(t *testing.T) {
	normal, err := NewNormal(10, 3)
	require.NoError(t, err)
	rv, err := NewRandomVariable("x", normal, WithTruncation(5, 15))
	require.NoError(t, err)

	for p := 0.0005; p < 1; p += 0.001 {
		v := rv.transform(p)
		assert.GreaterOrEqual(t, v, 5.0)
		assert.LessOrEqual(t, v, 15.0)
	}
	// the extremes map to the truncation limits, not the tails
	assert.InDelta(t, 5.0, rv.transform(0), 1e-6)
	assert.InDelta(t, 15.0, rv.transform(1), 1e-6)
}

func TestTruncationOneSided(t *testing.T) {
	normal, err := NewNormal(0, 1)
	require.NoError(t, err)
	rv, err := NewRandomVariable("x", normal, WithTruncation(0, math.NaN()))
	require.NoError(t, err)

	for p := 0.0005; p < 1; p += 0.001 {
		assert.GreaterOrEqual(t, rv.transform(p), 0.0)
	}
	// the median of the lower-truncated standard normal is the 75th
	// percentile of the untruncated one
	assert.InDelta(t, stdNormal.Quantile(0.75), rv.transform(0.5), 1e-9)
}

func TestValueMap(t *testing.T) {
	multi, err := NewMultinomial([]float64{0.5, 0.5})
	require.NoError(t, err)
	rv, err := NewRandomVariable("x", multi, WithValueMap(func(v float64) float64 { return v + 3 }))
	require.NoError(t, err)

	assert.Equal(t, 3.0, rv.transform(0.25))
	assert.Equal(t, 4.0, rv.transform(0.75))
}

func TestFillCoupledEmpirical(t *testing.T) {
	ce, err := NewCoupledEmpirical([]float64{7, 8, 9})
	require.NoError(t, err)
	rv, err := NewRandomVariable("x", ce)
	require.NoError(t, err)

	// draws are ignored; the raw order is replayed
	rv.fill([]float64{0.9, 0.1, 0.5})
	assert.Equal(t, []float64{7, 8, 9}, rv.Sample())
}
