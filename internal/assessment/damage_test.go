package assessment

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/logging"
)

// damageFixture wires a damage model around a fixed demand sample and
// deterministic component quantities.
type damageFixture struct {
	opts   *config.Options
	warn   *logging.Warnings
	logBuf *bytes.Buffer
	demand *DemandModel
	asset  *AssetModel
	model  *DamageModel
}

func newDamageFixture(t *testing.T, seed int64, marginals []domain.ComponentMarginal,
	params map[string]domain.DamageParams, demands map[domain.DemandKey][]float64, n int) *damageFixture {
	t.Helper()

	opts := config.NewOptions(seed)
	warn := logging.NewWarnings()
	buf := &bytes.Buffer{}
	log := logging.New(buf, false)

	demand := NewDemandModel(opts, log, warn)
	sample := domain.NewDemandSample(n)
	for key, col := range demands {
		require.NoError(t, sample.Add(key, col))
	}
	demand.SetSample(sample)

	asset := NewAssetModel(opts, logging.New(io.Discard, false))
	require.NoError(t, asset.LoadModel(marginals))
	require.NoError(t, asset.GenerateSample(n))

	model := NewDamageModel(opts, log, warn, asset, demand)
	require.NoError(t, model.LoadModel(params))
	return &damageFixture{opts: opts, warn: warn, logBuf: buf, demand: demand, asset: asset, model: model}
}

func constCol(v float64, n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = v
	}
	return col
}

func directionalParams(cmp string, states ...domain.LimitState) map[string]domain.DamageParams {
	return map[string]domain.DamageParams{cmp: {
		Cmp:         cmp,
		DemandType:  "PID",
		Directional: true,
		LimitStates: states,
	}}
}

func TestDamageDeterministicCapacity(t *testing.T) {
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 2)},
		directionalParams("cmp.A", domain.LimitState{Theta0: 1.0}),
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: {0.5, 1.5},
		}, 2)

	require.NoError(t, fx.model.Calculate(2, nil))
	sample := fx.model.Sample()

	ds0, ok := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "0"})
	require.True(t, ok)
	assert.Equal(t, []float64{2, 0}, ds0)

	ds1, ok := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})
	require.True(t, ok)
	assert.Equal(t, []float64{0, 2}, ds1)
}

func TestDamageConsecutiveOverwrite(t *testing.T) {
	const n = 2000
	fx := newDamageFixture(t, 7,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 2)},
		directionalParams("cmp.A",
			domain.LimitState{Family: "lognormal", Theta0: 0.02, Theta1: 0.3},
			domain.LimitState{Family: "lognormal", Theta0: 0.04, Theta1: 0.3},
		),
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: constCol(0.03, n),
		}, n)

	require.NoError(t, fx.model.Calculate(n, nil))
	sample := fx.model.Sample()

	ds0, _ := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "0"})
	ds1, _ := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})
	ds2, _ := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "2"})

	damagedQty := 0.0
	for r := 0; r < n; r++ {
		// every realization lands in exactly one state with the full quantity
		assert.InDelta(t, 2.0, ds0[r]+ds1[r]+ds2[r], 1e-9)
		damagedQty += ds1[r] + ds2[r]
	}

	// capacities within a block are perfectly correlated, so the fraction
	// exceeding LS1 matches the marginal fragility at the demand level
	pExceed := damagedQty / (2.0 * n)
	want := stdNormalCDF(math.Log(0.03/0.02) / 0.3)
	assert.InDelta(t, want, pExceed, 0.03)

	// LS2 exceedance is strictly rarer but present at this demand
	nDS2 := 0
	for r := 0; r < n; r++ {
		if ds2[r] > 0 {
			nDS2++
		}
	}
	assert.Greater(t, nDS2, 0)
	assert.Less(t, float64(nDS2)/n, pExceed)
}

func stdNormalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func TestDamageStateWeights(t *testing.T) {
	const n = 2000
	fx := newDamageFixture(t, 11,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 1)},
		directionalParams("cmp.A",
			domain.LimitState{Theta0: 0.0, DSWeights: []float64{0.3, 0.7}},
		),
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: constCol(1.0, n),
		}, n)

	require.NoError(t, fx.model.Calculate(n, nil))
	sample := fx.model.Sample()

	ds1, _ := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})
	ds2, _ := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "2"})

	n1, n2 := 0, 0
	for r := 0; r < n; r++ {
		if ds1[r] > 0 {
			n1++
		}
		if ds2[r] > 0 {
			n2++
		}
	}
	assert.Equal(t, n, n1+n2)
	assert.InDelta(t, 0.3, float64(n1)/n, 0.05)
	assert.InDelta(t, 0.7, float64(n2)/n, 0.05)
}

func TestDamageNondirectionalDemand(t *testing.T) {
	params := map[string]domain.DamageParams{"cmp.A": {
		Cmp:         "cmp.A",
		DemandType:  "PID",
		Directional: false,
		LimitStates: []domain.LimitState{{Theta0: 1.0}},
	}}
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 1)},
		params,
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: {0.5, 0.5},
			{Type: "PID", Loc: "1", Dir: "2"}: {0.9, 0.2},
		}, 2)

	require.NoError(t, fx.model.Calculate(2, nil))
	// max(0.5, 0.9) * 1.2 = 1.08 exceeds the capacity; max(0.5, 0.2) * 1.2 does not
	ds1, ok := fx.model.Sample().Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0}, ds1)
}

func TestDamageDemandOffset(t *testing.T) {
	params := map[string]domain.DamageParams{"cmp.A": {
		Cmp:          "cmp.A",
		DemandType:   "PFA",
		DemandOffset: 1,
		Directional:  true,
		LimitStates:  []domain.LimitState{{Theta0: 1.0}},
	}}
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "2", "1", 1)},
		params,
		map[domain.DemandKey][]float64{
			{Type: "PFA", Loc: "3", Dir: "1"}: {2.0},
		}, 1)

	key, err := fx.model.RequiredDemand(domain.PGKey{Cmp: "cmp.A", Loc: "2", Dir: "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.DemandKey{Type: "PFA", Loc: "3", Dir: "1"}, key)

	require.NoError(t, fx.model.Calculate(1, nil))
	ds1, ok := fx.model.Sample().Column(domain.DamageKey{Cmp: "cmp.A", Loc: "2", Dir: "1", DS: "1"})
	require.True(t, ok)
	assert.Equal(t, []float64{1}, ds1)
}

func TestDamageMissingDemandSkipsGroup(t *testing.T) {
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 1)},
		directionalParams("cmp.A", domain.LimitState{Theta0: 1.0}),
		map[domain.DemandKey][]float64{
			{Type: "PFA", Loc: "1", Dir: "1"}: {2.0},
		}, 1)

	require.NoError(t, fx.model.Calculate(1, nil))
	assert.Empty(t, fx.model.Sample().Keys())
	assert.Contains(t, fx.logBuf.String(), "cannot find demand data")
}

func TestDamageMissingParamsFatal(t *testing.T) {
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{
			detComponent("cmp.A", "1", "1", 1),
			detComponent("cmp.B", "1", "1", 1),
		},
		directionalParams("cmp.A", domain.LimitState{Theta0: 1.0}),
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: {2.0},
		}, 1)

	err := fx.model.Calculate(1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cmp.B")
}

func TestDamageFunctionMode(t *testing.T) {
	fn, err := domain.ParseDamageFunction("(0.1)*D")
	require.NoError(t, err)
	params := map[string]domain.DamageParams{"cmp.A": {
		Cmp:         "cmp.A",
		DemandType:  "PID",
		Directional: true,
		LimitStates: []domain.LimitState{{Family: domain.FamilyFunction, Function: fn}},
	}}
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 5)},
		params,
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: {2.0, 0.0, 1.0},
		}, 3)

	require.NoError(t, fx.model.Calculate(3, nil))
	sample := fx.model.Sample()

	// damaged quantity is the component quantity scaled by the rate function
	ds1, ok := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})
	require.True(t, ok)
	assert.InDelta(t, 5*0.1*2.0, ds1[0], 1e-9)
	assert.InDelta(t, 0.0, ds1[1], 1e-9)
	assert.InDelta(t, 5*0.1*1.0, ds1[2], 1e-9)

	// the undamaged column exists for downstream grouping
	_, ok = sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "0"})
	assert.True(t, ok)
}

func TestDamageFunctionStateNumbering(t *testing.T) {
	ls1, err := domain.ParseDamageFunction("(0.1)*D")
	require.NoError(t, err)
	ls2, err := domain.ParseDamageFunction("(0.2)*D")
	require.NoError(t, err)
	params := map[string]domain.DamageParams{"cmp.A": {
		Cmp:         "cmp.A",
		DemandType:  "PID",
		Directional: true,
		LimitStates: []domain.LimitState{
			{Family: domain.FamilyFunction, Function: ls1},
			{Family: domain.FamilyFunction, Function: ls2},
		},
	}}
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "1", "1", 5)},
		params,
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: {2.0},
		}, 1)

	require.NoError(t, fx.model.Calculate(1, nil))
	sample := fx.model.Sample()

	// each limit state's sub-block lands in the damage state numbered by
	// that limit state, not by its position in the sub-block expansion
	ds1, ok := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})
	require.True(t, ok)
	assert.InDelta(t, 5*0.1*2.0, ds1[0], 1e-9)

	ds2, ok := sample.Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "2"})
	require.True(t, ok, "LS2 sub-block quantity must land in DS2")
	assert.InDelta(t, 5*0.2*2.0, ds2[0], 1e-9)

	for _, key := range sample.ColumnsOf("cmp.A") {
		assert.LessOrEqual(t, key.DS, "2", "no damage states beyond the defined limit states")
	}
}

func TestDamageBlockApportionment(t *testing.T) {
	const n = 2000
	cm := domain.NewComponentMarginal(domain.PGKey{Cmp: "cmp.A", Loc: "1", Dir: "1"})
	cm.Theta0 = 2
	cm.BlockWeights = []float64{0.5, 0.5}

	fx := newDamageFixture(t, 13,
		[]domain.ComponentMarginal{cm},
		directionalParams("cmp.A",
			domain.LimitState{Family: "lognormal", Theta0: 0.02, Theta1: 0.3},
		),
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "1", Dir: "1"}: constCol(0.02, n),
		}, n)

	require.NoError(t, fx.model.Calculate(n, nil))
	ds1, _ := fx.model.Sample().Column(domain.DamageKey{Cmp: "cmp.A", Loc: "1", Dir: "1", DS: "1"})

	// blocks fail independently at the median demand: each realization sees
	// 0, 1 or 2 of the quantity damaged, averaging one half of it
	seen := map[float64]bool{}
	total := 0.0
	for _, v := range ds1 {
		seen[v] = true
		total += v
	}
	assert.InDelta(t, 1.0, total/n, 0.1)
	assert.True(t, seen[1.0], "expected realizations with exactly one damaged block")
}

func TestDamageUnparseableLocationWithOffset(t *testing.T) {
	params := map[string]domain.DamageParams{"cmp.A": {
		Cmp:          "cmp.A",
		DemandType:   "PID",
		DemandOffset: 1,
		Directional:  true,
		LimitStates:  []domain.LimitState{{Theta0: 1.0}},
	}}
	fx := newDamageFixture(t, 1,
		[]domain.ComponentMarginal{detComponent("cmp.A", "roof", "1", 1)},
		params,
		map[domain.DemandKey][]float64{
			{Type: "PID", Loc: "roof", Dir: "1"}: {2.0},
		}, 1)

	err := fx.model.Calculate(1, nil)
	assert.Error(t, err)
}
