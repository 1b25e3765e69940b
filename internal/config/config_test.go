package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/uq"
)

const sampleConfig = `
options:
  seed: 42
  sampling: LHS_midpoint
  repair_cost_time_correlation: 0.7
  nondirectional_multipliers:
    ALL: 1.2
    PFA: 1.0
  demand_offsets:
    PFA: -1
  economies_of_scale:
    across_floors: true
  units:
    story: 3.5

demand:
  sample_size: 100
  marginals:
    - {type: PID, loc: "1", dir: "1", family: lognormal, theta: [0.02, 0.4]}
    - {type: PFA, loc: "1", dir: "1", family: normal, theta: [5.0, 1.0], truncate_lower: 0.0}
  correlation:
    labels: [PID-1-1, PFA-1-1]
    rows:
      - [1.0, 0.5]
      - [0.5, 1.0]

components:
  - {cmp: cmp.A, loc: "1", dir: "1", family: normal, theta: [10, 1], truncate_lower: 0, blocks: 2, unit: ea}
  - {cmp: cmp.B, loc: "1", dir: "1", theta: [4], block_weights: [0.25, 0.75]}

damage_model:
  - cmp: cmp.A
    demand: {type: PID, directional: true}
    limit_states:
      - {family: lognormal, theta_0: "0.02", theta_1: 0.3}
      - {family: lognormal, theta_0: "0.04", theta_1: 0.3, damage_state_weights: "0.4 | 0.6"}
  - cmp: cmp.B
    demand: {type: PFA, offset: 1}
    limit_states:
      - {family: function, theta_0: "(0.1)*D"}

loss_model:
  map:
    - {driver: cmp.A, consequence: cmp.A}
  params:
    - consequence: cmp.A
      dv: Cost
      damage_states:
        "1": {family: lognormal, theta_0: "120", theta_1: 0.3, unit: USD}
        "2": {family: lognormal, theta_0: "300, 240 | 5, 25", theta_1: 0.3, unit: USD}

damage_process:
  - {name: collapse wipes A, source: cmp.B, event: DS1, targets: [cmp.A_NA]}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analysis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	f, opts, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, int64(42), opts.Seed)
	assert.Equal(t, uq.LatinHypercubeMidpoint, opts.SamplingMethod)
	assert.Equal(t, 0.7, opts.RhoCostTime)
	assert.True(t, opts.EcoScale.AcrossFloors)
	assert.False(t, opts.EcoScale.AcrossDamageStates)
	assert.Equal(t, 1.0, opts.NondirMultiplier("PFA"))
	assert.Equal(t, 1.2, opts.NondirMultiplier("PID"))
	assert.Equal(t, -1, opts.DemandOffset("PFA"))
	assert.Equal(t, 0, opts.DemandOffset("PID"))

	scale, err := opts.Units.Scale("story")
	require.NoError(t, err)
	assert.InDelta(t, 3.5, scale, 1e-12)

	assert.Equal(t, 100, f.Demand.SampleSize)
	assert.Len(t, f.Components, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	_, _, err := Load(writeConfig(t, "options: ["))
	assert.Error(t, err)
}

func TestBuildComponents(t *testing.T) {
	f, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	marginals, err := f.BuildComponents()
	require.NoError(t, err)
	require.Len(t, marginals, 2)

	a := marginals[0]
	assert.Equal(t, domain.PGKey{Cmp: "cmp.A", Loc: "1", Dir: "1"}, a.Key)
	assert.Equal(t, "normal", a.Family)
	assert.Equal(t, 10.0, a.Theta0)
	assert.Equal(t, 1.0, a.Theta1)
	assert.Equal(t, 0.0, a.TruncateLower)
	assert.True(t, math.IsNaN(a.TruncateUpper))
	assert.Equal(t, []float64{0.5, 0.5}, a.BlockWeights)

	b := marginals[1]
	assert.Equal(t, "", b.Family)
	assert.Equal(t, 4.0, b.Theta0)
	assert.Equal(t, []float64{0.25, 0.75}, b.BlockWeights)
}

func TestBuildComponentsValidation(t *testing.T) {
	f := &File{Components: []ComponentRow{
		{Cmp: "cmp.A", Loc: "1", Dir: "1", Theta: []float64{1}},
		{Cmp: "cmp.A", Loc: "1", Dir: "1", Theta: []float64{1}},
	}}
	_, err := f.BuildComponents()
	assert.Error(t, err) // duplicate

	f = &File{Components: []ComponentRow{{Cmp: "cmp.A", Loc: "1", Dir: "1"}}}
	_, err = f.BuildComponents()
	assert.Error(t, err) // no quantity

	f = &File{}
	_, err = f.BuildComponents()
	assert.Error(t, err) // empty
}

func TestBuildDamageParams(t *testing.T) {
	f, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	params, err := f.BuildDamageParams()
	require.NoError(t, err)
	require.Len(t, params, 2)

	a := params["cmp.A"]
	assert.Equal(t, "PID", a.DemandType)
	assert.True(t, a.Directional)
	require.Len(t, a.LimitStates, 2)
	assert.Equal(t, 0.02, a.LimitStates[0].Theta0)
	assert.Nil(t, a.LimitStates[0].DSWeights)
	assert.Equal(t, []float64{0.4, 0.6}, a.LimitStates[1].DSWeights)
	assert.False(t, a.UsesDamageFunctions())

	b := params["cmp.B"]
	assert.Equal(t, 1, b.DemandOffset)
	assert.False(t, b.Directional)
	assert.True(t, b.UsesDamageFunctions())
	require.NotNil(t, b.LimitStates[0].Function)
	assert.InDelta(t, 0.2, b.LimitStates[0].Function.Eval(2), 1e-12)
}

func TestBuildDamageParamsValidation(t *testing.T) {
	f := &File{DamageModel: []DamageRow{{
		Cmp:    "cmp.A",
		Demand: DemandRefRow{Type: "PID"},
	}}}
	_, err := f.BuildDamageParams()
	assert.Error(t, err) // no limit states

	f = &File{DamageModel: []DamageRow{{
		Cmp:         "cmp.A",
		LimitStates: []LimitStateRow{{Family: "lognormal", Theta0: "0.1", Theta1: 0.3}},
	}}}
	_, err = f.BuildDamageParams()
	assert.Error(t, err) // no demand type
}

func TestBuildLossModel(t *testing.T) {
	f, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	entries, params, err := f.BuildLossModel()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cmp.A", entries[0].DriverCmp)
	assert.Equal(t, "cmp.A", entries[0].Consequence)

	cost, ok := params["cmp.A"][domain.DVCost]
	require.True(t, ok)
	require.Len(t, cost.ByDS, 2)
	assert.Equal(t, 120.0, cost.ByDS["1"].Median.Eval(3))
	// multilinear medians drop with pooled quantity
	assert.Equal(t, 300.0, cost.ByDS["2"].Median.Eval(5))
	assert.InDelta(t, 270.0, cost.ByDS["2"].Median.Eval(15), 1e-9)
}

func TestBuildLossModelValidation(t *testing.T) {
	f := &File{LossModel: LossSection{
		Params: []ConsequenceRow{{Consequence: "x", DV: "Happiness"}},
	}}
	_, _, err := f.BuildLossModel()
	assert.Error(t, err)
}

func TestBuildDemandMarginalsAndCorrelation(t *testing.T) {
	f, _, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	marginals, err := f.BuildDemandMarginals()
	require.NoError(t, err)
	require.Len(t, marginals, 2)
	assert.Equal(t, "lognormal", marginals[0].Family)
	assert.Equal(t, 0.02, marginals[0].Theta0)

	corr, err := f.BuildCorrelation()
	require.NoError(t, err)
	require.NotNil(t, corr)
	assert.Equal(t, domain.DemandKey{Type: "PID", Loc: "1", Dir: "1"}, corr.Keys[0])
	assert.Equal(t, 0.5, corr.Values[1])
}

func TestOptionsValidate(t *testing.T) {
	f := &File{Options: OptionsSection{RhoCostTime: 1.5}}
	_, err := f.BuildOptions()
	assert.Error(t, err)

	f = &File{Options: OptionsSection{NondirMultipliers: map[string]float64{"PFA": -1}}}
	_, err = f.BuildOptions()
	assert.Error(t, err)

	f = &File{Options: OptionsSection{Sampling: "quasi"}}
	_, err = f.BuildOptions()
	assert.Error(t, err)
}
