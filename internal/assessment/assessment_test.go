package assessment

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
)

// fullConfig is a small but complete analysis definition: one prescribed
// drift demand, one fragile component, and a cost consequence.
func fullConfig(n int) *config.File {
	return &config.File{
		Demand: config.DemandSection{
			SampleSize: n,
			Marginals: []config.DemandMarginalRow{
				{Type: "PID", Loc: "1", Dir: "1", Family: "lognormal", Theta: []float64{0.03, 0.3}},
			},
		},
		Components: []config.ComponentRow{
			{Cmp: "cmp.A", Loc: "1", Dir: "1", Theta: []float64{4}},
		},
		DamageModel: []config.DamageRow{
			{
				Cmp:    "cmp.A",
				Demand: config.DemandRefRow{Type: "PID", Directional: true},
				LimitStates: []config.LimitStateRow{
					{Family: "lognormal", Theta0: "0.03", Theta1: 0.4},
				},
			},
		},
		LossModel: config.LossSection{
			Map: []config.LossMapRow{{Driver: "cmp.A", Consequence: "cmp.A"}},
			Params: []config.ConsequenceRow{
				{
					Consequence:  "cmp.A",
					DV:           domain.DVCost,
					DamageStates: map[string]config.DSConsequenceRow{"1": {Theta0: "250"}},
				},
				{
					Consequence:  "cmp.A",
					DV:           domain.DVTime,
					DamageStates: map[string]config.DSConsequenceRow{"1": {Theta0: "3"}},
				},
			},
		},
	}
}

func TestAssessmentRun(t *testing.T) {
	const n = 200
	opts := config.NewOptions(42)
	a := New(opts, io.Discard)

	agg, err := a.Run(fullConfig(n), nil)
	require.NoError(t, err)
	require.NotNil(t, agg)

	require.Len(t, agg.Cost, n)
	require.Len(t, agg.TimeSequential, n)
	require.Len(t, agg.TimeParallel, n)

	// the median demand sits on the median capacity, so damage occurs in a
	// substantial share of realizations and each damaged one costs 4 x 250
	damaged := 0
	for r := 0; r < n; r++ {
		switch agg.Cost[r] {
		case 0:
			assert.Zero(t, agg.TimeSequential[r])
		case 1000:
			damaged++
			assert.InDelta(t, 12.0, agg.TimeSequential[r], 1e-9)
			assert.Equal(t, agg.TimeSequential[r], agg.TimeParallel[r])
		default:
			t.Fatalf("unexpected cost %v in realization %d", agg.Cost[r], r)
		}
	}
	assert.Greater(t, damaged, n/5)
	assert.Less(t, damaged, 4*n/5)

	assert.NotNil(t, a.Demand.Sample())
	assert.NotNil(t, a.Damage.Sample())
	assert.NotNil(t, a.Repair.Sample())
}

func TestAssessmentRunFromRawDemand(t *testing.T) {
	f := fullConfig(6)
	f.Demand.SampleFile = "demands.csv" // signals raw-sample mode to the caller
	f.Demand.PreserveRawOrder = true

	raw := domain.NewDemandSample(6)
	require.NoError(t, raw.Add(domain.DemandKey{Type: "PID", Loc: "1", Dir: "1"},
		[]float64{0.005, 0.05, 0.01, 0.06, 0.005, 0.04}))

	a := New(config.NewOptions(1), io.Discard)
	agg, err := a.Run(f, raw)
	require.NoError(t, err)
	require.NotNil(t, agg)

	// raw order is replayed: the small drifts cannot break the component
	assert.Zero(t, agg.Cost[0])
	assert.Zero(t, agg.Cost[4])
}

func TestAssessmentRunValidation(t *testing.T) {
	a := New(config.NewOptions(1), io.Discard)

	f := fullConfig(0)
	_, err := a.Run(f, nil)
	assert.ErrorContains(t, err, "sample_size")

	f = fullConfig(10)
	f.Demand.Marginals = nil
	_, err = a.Run(f, nil)
	assert.ErrorContains(t, err, "demand model")

	f = fullConfig(10)
	f.Demand.ResidualDrift = &config.ResidualDriftRow{Method: "ATC-58", YieldDrift: 0.01}
	_, err = a.Run(f, nil)
	assert.ErrorContains(t, err, "residual drift")
}

func TestAssessmentStopsWithoutLossModel(t *testing.T) {
	buf := &bytes.Buffer{}
	f := fullConfig(20)
	f.LossModel = config.LossSection{}

	a := New(config.NewOptions(3), buf)
	agg, err := a.Run(f, nil)
	require.NoError(t, err)
	assert.Nil(t, agg)
	assert.NotNil(t, a.Damage.Sample())
	assert.Contains(t, buf.String(), "No loss model configured")
}
