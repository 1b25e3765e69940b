package assessment

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/logging"
	"github.com/tmarlowe/hazloss/internal/uq"
)

// RepairModel turns a damage sample into repair consequences. Each damaged
// quantity column drives the loss components mapped to its component type;
// each (consequence, decision variable, damage state) carries a median
// function of the pooled quantity and a random deviation about that median.
type RepairModel struct {
	opts *config.Options
	log  zerolog.Logger
	warn *logging.Warnings

	lossMap []domain.LossMapEntry
	params  map[string]map[string]domain.ConsequenceParams

	sample *domain.DVSample
}

func NewRepairModel(opts *config.Options, log zerolog.Logger, warn *logging.Warnings) *RepairModel {
	return &RepairModel{opts: opts, log: log, warn: warn}
}

// LoadModel installs the loss map and the consequence parameters, keyed by
// consequence id and decision variable. Every mapped consequence must be
// described.
func (m *RepairModel) LoadModel(lossMap []domain.LossMapEntry,
	params map[string]map[string]domain.ConsequenceParams) error {
	if len(lossMap) == 0 {
		return fmt.Errorf("loss map has not been specified")
	}
	for _, entry := range lossMap {
		if _, ok := params[entry.Consequence]; !ok {
			return fmt.Errorf("loss map references unknown consequence %s", entry.Consequence)
		}
	}
	m.lossMap = lossMap
	m.params = params
	return nil
}

// Sample returns the consequence sample from the last Calculate call.
func (m *RepairModel) Sample() *domain.DVSample { return m.sample }

// dvCase is one consequence column under construction: a damage column, the
// loss component it drives, and the pricing of the decision variable.
type dvCase struct {
	key    domain.DVKey
	dmgKey domain.DamageKey
	cons   domain.DSConsequence
	devTag string // empty when the deviation is deterministic
}

// Calculate builds the consequence sample from a damage sample.
func (m *RepairModel) Calculate(dmg *domain.DamageSample) error {
	if m.lossMap == nil {
		return fmt.Errorf("loss model parameters have not been specified: load the loss map before calculating consequences")
	}
	if dmg == nil || len(dmg.Keys()) == 0 {
		return fmt.Errorf("no damage sample to calculate consequences from")
	}
	n := dmg.Rows()
	m.log.Info().Int("size", n).Msg("Calculating repair consequences...")

	cases, reg, err := m.buildCases(dmg)
	if err != nil {
		return err
	}

	var devs *uq.Table
	if reg.Size() > 0 {
		devs, err = reg.Generate(n, m.opts.SamplingMethod, m.opts.RNG())
		if err != nil {
			return err
		}
	}

	pools := m.poolQuantities(dmg)

	sample := domain.NewDVSample(n)
	for _, c := range cases {
		qty, _ := dmg.Column(c.dmgKey)
		pool := pools[m.poolKey(c.dmgKey)]

		var dev []float64
		if c.devTag != "" {
			col, ok := devs.Column(c.devTag)
			if !ok {
				return fmt.Errorf("missing consequence deviation sample %s", c.devTag)
			}
			dev = col
		}

		col := make([]float64, n)
		for r := 0; r < n; r++ {
			q := qty[r]
			if math.IsNaN(q) || q <= 0 {
				continue
			}
			v := c.cons.Median.Eval(pool[r]) * q
			if dev != nil {
				v *= dev[r]
			}
			col[r] = v
		}
		if err := sample.Add(c.key, col); err != nil {
			return err
		}
	}

	m.applyReplacement(sample)

	m.sample = sample
	m.log.Info().Int("columns", len(sample.Keys())).Msg("Repair consequence calculation completed")
	m.warn.Emit(m.log)
	return nil
}

// buildCases enumerates the consequence columns driven by the damage sample
// and registers the random deviations, coupling each damage column's cost
// and time deviations with the configured correlation.
func (m *RepairModel) buildCases(dmg *domain.DamageSample) ([]dvCase, *uq.Registry, error) {
	reg := uq.NewRegistry()
	var cases []dvCase

	for _, dmgKey := range dmg.Keys() {
		if dmgKey.DS == "0" {
			continue
		}
		for _, entry := range m.lossMap {
			if entry.DriverCmp != dmgKey.Cmp {
				continue
			}
			byDV := m.params[entry.Consequence]

			var pair []*uq.RandomVariable
			for _, dv := range []string{domain.DVCost, domain.DVTime} {
				cp, ok := byDV[dv]
				if !ok {
					continue
				}
				cons, ok := cp.ByDS[dmgKey.DS]
				if !ok {
					// Not every damage state carries a consequence (e.g.
					// cosmetic states with no repair action).
					continue
				}
				c := dvCase{
					key: domain.DVKey{
						DV: dv, Loss: entry.LossID, Driver: dmgKey.Cmp,
						DS: dmgKey.DS, Loc: dmgKey.Loc, Dir: dmgKey.Dir,
					},
					dmgKey: dmgKey,
					cons:   cons,
				}
				if cons.Family != "" {
					c.devTag = c.key.String()
					rv, err := marginalRV(c.devTag, cons.Family, 1.0, cons.Theta1,
						math.NaN(), math.NaN(), nil)
					if err != nil {
						return nil, nil, fmt.Errorf("consequence %s: %w", c.key, err)
					}
					if err := reg.AddRV(rv); err != nil {
						return nil, nil, err
					}
					pair = append(pair, rv)
				}
				cases = append(cases, c)
			}

			// Cost and time overruns on the same repair tend to move
			// together; couple the pair when both are random.
			if len(pair) == 2 && m.opts.RhoCostTime != 0 {
				rho := m.opts.RhoCostTime
				set, err := uq.NewSet("DV-"+dmgKey.String()+"-"+entry.LossID,
					pair, []float64{1, rho, rho, 1})
				if err != nil {
					return nil, nil, err
				}
				if err := reg.AddSet(set); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return cases, reg, nil
}

// poolKey maps a damage column to its economies-of-scale pool.
func (m *RepairModel) poolKey(key domain.DamageKey) domain.DamageKey {
	pooled := domain.DamageKey{Cmp: key.Cmp, Loc: key.Loc, DS: key.DS}
	if m.opts.EcoScale.AcrossFloors {
		pooled.Loc = ""
	}
	if m.opts.EcoScale.AcrossDamageStates {
		pooled.DS = ""
	}
	return pooled
}

// poolQuantities sums the damaged quantities within each economies-of-scale
// pool per realization. Larger pooled quantities push multilinear medians
// toward their bulk rates.
func (m *RepairModel) poolQuantities(dmg *domain.DamageSample) map[domain.DamageKey][]float64 {
	pools := make(map[domain.DamageKey][]float64)
	for _, key := range dmg.Keys() {
		if key.DS == "0" {
			continue
		}
		pk := m.poolKey(key)
		sum := pools[pk]
		if sum == nil {
			sum = make([]float64, dmg.Rows())
			pools[pk] = sum
		}
		col, _ := dmg.Column(key)
		for r, v := range col {
			if !math.IsNaN(v) {
				sum[r] += v
			}
		}
	}
	return pools
}

// applyReplacement zeroes location-specific consequences in realizations
// where the asset is replaced: repairing individual floors is meaningless
// once replacement is triggered.
func (m *RepairModel) applyReplacement(sample *domain.DVSample) {
	var replaced []int
	rows := sample.Rows()
	for r := 0; r < rows; r++ {
		for _, key := range sample.Keys() {
			if key.Loss != domain.LossReplacement {
				continue
			}
			col, _ := sample.Column(key)
			if col[r] > 0 {
				replaced = append(replaced, r)
				break
			}
		}
	}
	if len(replaced) == 0 {
		return
	}
	for _, key := range sample.Keys() {
		if key.Loss == domain.LossReplacement || key.Loc == domain.LocGlobal {
			continue
		}
		col, _ := sample.Column(key)
		for _, r := range replaced {
			col[r] = 0
		}
	}
}

// AggregateResult summarizes the consequence sample per realization. Repair
// time comes in two bounds: all floors repaired in sequence, or all floors
// in parallel with sequential work within each floor.
type AggregateResult struct {
	Cost           []float64
	TimeSequential []float64
	TimeParallel   []float64
}

// Aggregate reduces the consequence sample to total cost and repair-time
// bounds.
func (m *RepairModel) Aggregate() (*AggregateResult, error) {
	if m.sample == nil {
		return nil, fmt.Errorf("no consequence sample to aggregate: run the calculation first")
	}
	return &AggregateResult{
		Cost:           m.sample.SumByDV(domain.DVCost),
		TimeSequential: m.sample.SumByDV(domain.DVTime),
		TimeParallel:   m.sample.MaxByDVPerLocation(domain.DVTime),
	}, nil
}
