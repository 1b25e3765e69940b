package assessment

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/logging"
	"github.com/tmarlowe/hazloss/internal/uq"
)

// DamageModel assigns damage states to component blocks and quantifies the
// damaged quantities. The calculation is decomposed per performance group:
// each PG builds its own capacity and LS→DS registries, evaluates against
// the shared demand sample, and folds its result into the damage sample.
type DamageModel struct {
	opts   *config.Options
	log    zerolog.Logger
	warn   *logging.Warnings
	asset  *AssetModel
	demand *DemandModel

	params map[string]domain.DamageParams
	sample *domain.DamageSample
}

func NewDamageModel(opts *config.Options, log zerolog.Logger, warn *logging.Warnings,
	asset *AssetModel, demand *DemandModel) *DamageModel {
	return &DamageModel{opts: opts, log: log, warn: warn, asset: asset, demand: demand}
}

// LoadModel installs the damage parameters keyed by component type.
func (m *DamageModel) LoadModel(params map[string]domain.DamageParams) error {
	if len(params) == 0 {
		return fmt.Errorf("damage model parameters have not been specified")
	}
	m.params = params
	return nil
}

// Sample returns the damage sample from the last Calculate call.
func (m *DamageModel) Sample() *domain.DamageSample { return m.sample }

// RequiredDemand resolves which demand column a performance group needs,
// applying the component's offset, the global per-type offset, and the
// non-directional convention.
func (m *DamageModel) RequiredDemand(pg domain.PGKey) (domain.DemandKey, error) {
	p, ok := m.params[pg.Cmp]
	if !ok {
		return domain.DemandKey{}, fmt.Errorf("damage model parameters missing for component %s", pg.Cmp)
	}
	offset := p.DemandOffset + m.opts.DemandOffset(p.DemandType)
	loc := pg.Loc
	if offset != 0 {
		base, err := strconv.Atoi(pg.Loc)
		if err != nil {
			return domain.DemandKey{}, fmt.Errorf("performance group %s: unparseable location %q for demand offset", pg, pg.Loc)
		}
		loc = strconv.Itoa(base + offset)
	}
	dir := pg.Dir
	if !p.Directional {
		dir = domain.DirNondirectional
	}
	return domain.DemandKey{Type: p.DemandType, Loc: loc, Dir: dir}, nil
}

// assembleDemand returns the demand vector for the resolved key, taking the
// direction maximum (scaled by the non-directional multiplier) when the
// component is non-directional. A nil return means the demand is missing.
func (m *DamageModel) assembleDemand(key domain.DemandKey) []float64 {
	sample := m.demand.Sample()
	if sample == nil {
		return nil
	}
	if key.Dir != domain.DirNondirectional {
		col, ok := sample.Column(key)
		if !ok {
			return nil
		}
		return col
	}
	maxed, ok := sample.MaxOverDirections(key.Type, key.Loc)
	if !ok {
		return nil
	}
	multi := m.opts.NondirMultiplier(key.Type)
	out := make([]float64, len(maxed))
	for i, v := range maxed {
		out[i] = v * multi
	}
	return out
}

// pgDamage is the per-PG slice of the damage sample: damaged quantity per
// damage state, in ascending DS order.
type pgDamage struct {
	pg  domain.PGKey
	ds  []string
	qty [][]float64
}

// Calculate performs the damage assessment for every performance group and
// applies the prescribed damage process. Missing damage parameters for a
// modeled component are fatal; missing demand skips the affected PG with a
// warning.
func (m *DamageModel) Calculate(n int, process *DamageProcess) error {
	if m.params == nil {
		return fmt.Errorf("damage model parameters have not been specified: load parameters before calculating damage")
	}
	pgs := m.asset.PGs()
	for _, pg := range pgs {
		if _, ok := m.params[pg.Cmp]; !ok {
			return fmt.Errorf("damage model parameters missing for component %s", pg.Cmp)
		}
	}
	m.log.Info().Int("groups", len(pgs)).Int("size", n).Msg("Calculating damage...")

	// Each PG draws from its own generator so that the fork-join below
	// cannot perturb determinism. Seeds come from the analysis generator
	// in PG order.
	seeds := make([]int64, len(pgs))
	for i := range seeds {
		seeds[i] = m.opts.RNG().Int63()
	}

	results := make([]*pgDamage, len(pgs))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, pg := range pgs {
		g.Go(func() error {
			res, err := m.calculatePG(pg, n, rand.New(rand.NewSource(seeds[i])))
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sample := domain.NewDamageSample(n)
	for _, res := range results {
		if res == nil {
			continue // PG skipped for missing demand
		}
		for j, ds := range res.ds {
			key := domain.DamageKey{Cmp: res.pg.Cmp, Loc: res.pg.Loc, Dir: res.pg.Dir, DS: ds}
			if err := sample.Add(key, res.qty[j]); err != nil {
				return err
			}
		}
	}

	if process != nil {
		if err := process.Apply(sample); err != nil {
			return err
		}
	}

	m.sample = sample
	m.log.Info().Msg("Damage calculation completed")
	m.warn.Emit(m.log)
	return nil
}

// calculatePG runs the full damage pipeline for one performance group.
func (m *DamageModel) calculatePG(pg domain.PGKey, n int, rng *rand.Rand) (*pgDamage, error) {
	p := m.params[pg.Cmp]

	demandKey, err := m.RequiredDemand(pg)
	if err != nil {
		return nil, err
	}
	demand := m.assembleDemand(demandKey)
	if demand == nil {
		m.warn.Add(fmt.Sprintf("cannot find demand data for %s; damages of %s cannot be calculated", demandKey, pg))
		return nil, nil
	}

	qty, ok := m.asset.Quantity(pg)
	if !ok {
		return nil, fmt.Errorf("no quantity sample for performance group %s", pg)
	}
	cm, _ := m.asset.Marginal(pg)

	if p.UsesDamageFunctions() {
		return m.evaluateDamageFunctions(pg, p, demand, qty, n, rng)
	}
	return m.evaluateFragilities(pg, p, cm.BlockWeights, demand, qty, n, rng)
}

// blockRVs carries the registry tags of one block's limit states.
type blockRVs struct {
	capTags  []string
	lsdsTags []string
	lsIdx    []int
}

// evaluateFragilities draws perfectly correlated limit-state capacities per
// block, resolves the damage state of each block by consecutive overwrite,
// and apportions the component quantity across blocks.
func (m *DamageModel) evaluateFragilities(pg domain.PGKey, p domain.DamageParams,
	blockWeights []float64, demand, qty []float64, n int, rng *rand.Rand) (*pgDamage, error) {

	capReg := uq.NewRegistry()
	lsdsReg := uq.NewRegistry()

	defined := p.DefinedLimitStates()
	blocks := make([]blockRVs, len(blockWeights))

	for b := range blockWeights {
		dsID := 0
		var members []*uq.RandomVariable
		for _, lsIdx := range defined {
			ls := p.LimitStates[lsIdx]
			capTag := fmt.Sprintf("FRG-%s-%d-%d", pg, b+1, lsIdx+1)
			lsdsTag := fmt.Sprintf("LSDS-%s-%d-%d", pg, b+1, lsIdx+1)

			var capRV *uq.RandomVariable
			var err error
			if ls.Family == "" {
				// Deterministic capacity.
				capRV, err = pointRV(capTag, ls.Theta0)
			} else {
				capRV, err = marginalRV(capTag, ls.Family, ls.Theta0, ls.Theta1,
					math.NaN(), math.NaN(), nil)
			}
			if err != nil {
				return nil, fmt.Errorf("performance group %s: %w", pg, err)
			}
			if err := capReg.AddRV(capRV); err != nil {
				return nil, err
			}
			members = append(members, capRV)

			dsID, err = m.addLSDS(lsdsReg, lsdsTag, ls.DSWeights, dsID)
			if err != nil {
				return nil, fmt.Errorf("performance group %s: %w", pg, err)
			}

			blocks[b].capTags = append(blocks[b].capTags, capTag)
			blocks[b].lsdsTags = append(blocks[b].lsdsTags, lsdsTag)
			blocks[b].lsIdx = append(blocks[b].lsIdx, lsIdx)
		}

		// A block weaker at a lower limit state is consistently weaker at
		// the higher ones: capacities within a block are perfectly
		// correlated.
		if len(members) > 1 {
			ones := make([]float64, len(members)*len(members))
			for i := range ones {
				ones[i] = 1
			}
			set, err := uq.NewSet(fmt.Sprintf("FRG-%s-%d", pg, b+1), members, ones)
			if err != nil {
				return nil, err
			}
			if err := capReg.AddSet(set); err != nil {
				return nil, err
			}
		}
	}

	capTable, err := capReg.Generate(n, m.opts.SamplingMethod, rng)
	if err != nil {
		return nil, err
	}
	lsdsTable, err := lsdsReg.Generate(n, m.opts.SamplingMethod, rng)
	if err != nil {
		return nil, err
	}

	return m.foldBlocks(pg, blocks, blockWeights, demand, qty, nil, capTable, lsdsTable, n)
}

// evaluateDamageFunctions handles components whose damage is a continuous
// function of demand. Every block expands to one sub-block per limit state;
// sentinel capacities force each sub-block to trigger in exactly its limit
// state, and the damaged quantity scales with the function of the demand.
func (m *DamageModel) evaluateDamageFunctions(pg domain.PGKey, p domain.DamageParams,
	demand, qty []float64, n int, rng *rand.Rand) (*pgDamage, error) {

	capReg := uq.NewRegistry()
	lsdsReg := uq.NewRegistry()

	defined := p.DefinedLimitStates()
	lsCount := len(defined)

	qntScale := 1.0
	if p.ComponentUnit != "" && p.DamageUnit != "" {
		var err error
		qntScale, err = m.opts.Units.Ratio(p.DamageUnit, p.ComponentUnit)
		if err != nil {
			return nil, fmt.Errorf("performance group %s: %w", pg, err)
		}
	}

	blocks := make([]blockRVs, lsCount)
	rates := make([]*domain.DamageFunction, lsCount)

	// Damage-state numbering depends on the limit state alone; every
	// sub-block assigns from the same base id per limit state.
	dsBase := make([]int, lsCount)
	dsID := 0
	for pos, lsIdx := range defined {
		ls := p.LimitStates[lsIdx]
		if ls.Function == nil {
			return nil, fmt.Errorf("performance group %s: LS%d mixes damage functions with fragilities", pg, lsIdx+1)
		}
		rates[pos] = ls.Function
		dsBase[pos] = dsID
		if len(ls.DSWeights) == 0 {
			dsID++
		} else {
			dsID += len(ls.DSWeights)
		}
	}

	for sub := range defined {
		// Sentinel capacities: limit states up to the sub-block's own id
		// always trigger, higher ones never do, so the consecutive
		// overwrite leaves each sub-block in its designated limit state.
		for innerPos, innerIdx := range defined {
			capTag := fmt.Sprintf("FRG-%s-%d-%d", pg, sub+1, innerIdx+1)
			lsdsTag := fmt.Sprintf("LSDS-%s-%d-%d", pg, sub+1, innerIdx+1)

			sentinel := math.MaxFloat64
			if innerPos <= sub {
				sentinel = -math.MaxFloat64
			}
			capRV, err := pointRV(capTag, sentinel)
			if err != nil {
				return nil, err
			}
			if err := capReg.AddRV(capRV); err != nil {
				return nil, err
			}

			inner := p.LimitStates[innerIdx]
			if _, err := m.addLSDS(lsdsReg, lsdsTag, inner.DSWeights, dsBase[innerPos]); err != nil {
				return nil, fmt.Errorf("performance group %s: %w", pg, err)
			}

			blocks[sub].capTags = append(blocks[sub].capTags, capTag)
			blocks[sub].lsdsTags = append(blocks[sub].lsdsTags, lsdsTag)
			blocks[sub].lsIdx = append(blocks[sub].lsIdx, innerIdx)
		}
	}

	capTable, err := capReg.Generate(n, m.opts.SamplingMethod, rng)
	if err != nil {
		return nil, err
	}
	lsdsTable, err := lsdsReg.Generate(n, m.opts.SamplingMethod, rng)
	if err != nil {
		return nil, err
	}

	// Sub-block quantity: full component quantity scaled by the damage
	// function of the demand and the quantity unit conversion.
	subQty := make([][]float64, lsCount)
	for sub := range subQty {
		col := make([]float64, n)
		for r := range col {
			col[r] = qty[r] * qntScale * rates[sub].Eval(demand[r])
		}
		subQty[sub] = col
	}

	weights := make([]float64, lsCount)
	for i := range weights {
		weights[i] = 1
	}
	return m.foldBlocks(pg, blocks, weights, demand, qty, subQty, capTable, lsdsTable, n)
}

// addLSDS registers the LS→DS assignment variable for one limit state and
// returns the advanced damage-state counter. Single-outcome limit states get
// a constant; mutually exclusive outcomes get a weighted multinomial whose
// outcome indices are offset into the running damage-state numbering.
func (m *DamageModel) addLSDS(reg *uq.Registry, tag string, weights []float64, dsID int) (int, error) {
	if len(weights) == 0 {
		next := dsID + 1
		rv, err := pointRV(tag, float64(next))
		if err != nil {
			return 0, err
		}
		return next, reg.AddRV(rv)
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total > 1.0+1e-9 {
		m.warn.Add(fmt.Sprintf("damage-state weights of %s sum to %g and were normalized", tag, total))
	}
	dist, err := uq.NewMultinomial(weights)
	if err != nil {
		return 0, err
	}
	offset := float64(dsID + 1)
	rv, err := uq.NewRandomVariable(tag, dist, uq.WithValueMap(func(v float64) float64 {
		return v + offset
	}))
	if err != nil {
		return 0, err
	}
	return dsID + len(weights), reg.AddRV(rv)
}

// foldBlocks resolves each block's damage state by consecutive limit-state
// overwrite and folds the damaged quantities into per-DS columns. When
// subQty is non-nil it provides each block's damaged quantity directly
// (damage-function mode); otherwise blocks carry weight shares of the
// component quantity.
func (m *DamageModel) foldBlocks(pg domain.PGKey, blocks []blockRVs, blockWeights []float64,
	demand, qty []float64, subQty [][]float64, capTable, lsdsTable *uq.Table, n int) (*pgDamage, error) {

	byDS := make(map[int][]float64)
	maxDS := 0

	for b, blk := range blocks {
		ds := make([]int, n)
		for s := range blk.capTags {
			capCol, ok := capTable.Column(blk.capTags[s])
			if !ok {
				return nil, fmt.Errorf("performance group %s: missing capacity sample %s", pg, blk.capTags[s])
			}
			lsdsCol, ok := lsdsTable.Column(blk.lsdsTags[s])
			if !ok {
				return nil, fmt.Errorf("performance group %s: missing LS-DS sample %s", pg, blk.lsdsTags[s])
			}
			for r := 0; r < n; r++ {
				if capCol[r] < demand[r] {
					ds[r] = int(lsdsCol[r])
				}
			}
		}

		for r := 0; r < n; r++ {
			d := ds[r]
			col := byDS[d]
			if col == nil {
				col = make([]float64, n)
				byDS[d] = col
				if d > maxDS {
					maxDS = d
				}
			}
			if subQty != nil {
				if d != 0 {
					col[r] += subQty[b][r]
				}
			} else {
				col[r] += qty[r] * blockWeights[b]
			}
		}
	}

	// Components in damage-function mode still report an (empty) undamaged
	// column so that downstream grouping sees every PG.
	if _, ok := byDS[0]; !ok {
		byDS[0] = make([]float64, n)
	}

	res := &pgDamage{pg: pg}
	for d := 0; d <= maxDS; d++ {
		col, ok := byDS[d]
		if !ok {
			col = make([]float64, n)
		}
		res.ds = append(res.ds, strconv.Itoa(d))
		res.qty = append(res.qty, col)
	}
	return res, nil
}
