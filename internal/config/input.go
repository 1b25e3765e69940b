package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/uq"
)

// File is the top-level YAML analysis definition.
type File struct {
	Options       OptionsSection   `yaml:"options"`
	Demand        DemandSection    `yaml:"demand"`
	Components    []ComponentRow   `yaml:"components"`
	DamageModel   []DamageRow      `yaml:"damage_model"`
	LossModel     LossSection      `yaml:"loss_model"`
	DamageProcess []ProcessTaskRow `yaml:"damage_process"`
}

// OptionsSection mirrors Options in YAML form.
type OptionsSection struct {
	Seed              int64              `yaml:"seed"`
	Sampling          string             `yaml:"sampling"`
	Verbose           bool               `yaml:"verbose"`
	NondirMultipliers map[string]float64 `yaml:"nondirectional_multipliers"`
	DemandOffsets     map[string]int     `yaml:"demand_offsets"`
	RhoCostTime       float64            `yaml:"repair_cost_time_correlation"`
	EcoScale          EcoScale           `yaml:"economies_of_scale"`
	Units             map[string]float64 `yaml:"units"`
}

// DemandSection configures the demand model: a raw sample to calibrate, or
// prescribed marginals, plus generation settings.
type DemandSection struct {
	SampleFile       string                    `yaml:"sample_file"`
	SampleSize       int                       `yaml:"sample_size"`
	PreserveRawOrder bool                      `yaml:"preserve_raw_order"`
	Calibration      map[string]CalibrationRow `yaml:"calibration"`
	Marginals        []DemandMarginalRow       `yaml:"marginals"`
	Correlation      *CorrelationSection       `yaml:"correlation"`
	ResidualDrift    *ResidualDriftRow         `yaml:"residual_drift"`
}

// CalibrationRow holds the fit settings for one demand type ("ALL" applies
// to every type not listed separately).
type CalibrationRow struct {
	DistributionFamily string    `yaml:"distribution_family"`
	CensorAt           []float64 `yaml:"censor_at"`   // [lower, upper]
	TruncateAt         []float64 `yaml:"truncate_at"` // [lower, upper]
	AddUncertainty     float64   `yaml:"add_uncertainty"`
	Unit               string    `yaml:"unit"`
}

// DemandMarginalRow prescribes one demand marginal directly.
type DemandMarginalRow struct {
	Type          string    `yaml:"type"`
	Loc           string    `yaml:"loc"`
	Dir           string    `yaml:"dir"`
	Family        string    `yaml:"family"`
	Theta         []float64 `yaml:"theta"`
	TruncateLower *float64  `yaml:"truncate_lower"`
	TruncateUpper *float64  `yaml:"truncate_upper"`
	Unit          string    `yaml:"unit"`
}

// CorrelationSection is a labeled square matrix over demand variables.
type CorrelationSection struct {
	Labels []string    `yaml:"labels"` // "type-loc-dir"
	Rows   [][]float64 `yaml:"rows"`
}

// ResidualDriftRow enables residual-drift estimation from story drifts.
type ResidualDriftRow struct {
	Method     string  `yaml:"method"` // currently "FEMA P-58"
	YieldDrift float64 `yaml:"yield_drift"`
}

// ComponentRow defines one performance group's quantity marginal.
type ComponentRow struct {
	Cmp           string    `yaml:"cmp"`
	Loc           string    `yaml:"loc"`
	Dir           string    `yaml:"dir"`
	Family        string    `yaml:"family"`
	Theta         []float64 `yaml:"theta"`
	TruncateLower *float64  `yaml:"truncate_lower"`
	TruncateUpper *float64  `yaml:"truncate_upper"`
	Blocks        int       `yaml:"blocks"`
	BlockWeights  []float64 `yaml:"block_weights"`
	Unit          string    `yaml:"unit"`
}

// DamageRow defines the damage model of one component type.
type DamageRow struct {
	Cmp         string          `yaml:"cmp"`
	Demand      DemandRefRow    `yaml:"demand"`
	Unit        string          `yaml:"unit"`        // component quantity unit
	DamageUnit  string          `yaml:"damage_unit"` // damaged quantity unit (damage functions)
	LimitStates []LimitStateRow `yaml:"limit_states"`
}

type DemandRefRow struct {
	Type        string `yaml:"type"`
	Offset      int    `yaml:"offset"`
	Directional bool   `yaml:"directional"`
}

// LimitStateRow defines one limit state. Theta0 is numeric for capacities
// and a function signature string in damage-function mode.
type LimitStateRow struct {
	Family             string  `yaml:"family"`
	Theta0             string  `yaml:"theta_0"`
	Theta1             float64 `yaml:"theta_1"`
	DamageStateWeights string  `yaml:"damage_state_weights"`
}

// LossSection defines the consequence model.
type LossSection struct {
	Map    []LossMapRow     `yaml:"map"`
	Params []ConsequenceRow `yaml:"params"`
}

type LossMapRow struct {
	Driver      string `yaml:"driver"`
	Consequence string `yaml:"consequence"`
}

type ConsequenceRow struct {
	Consequence  string                      `yaml:"consequence"`
	DV           string                      `yaml:"dv"`
	DamageStates map[string]DSConsequenceRow `yaml:"damage_states"`
}

type DSConsequenceRow struct {
	Family string  `yaml:"family"`
	Theta0 string  `yaml:"theta_0"`
	Theta1 float64 `yaml:"theta_1"`
	Unit   string  `yaml:"unit"`
}

// ProcessTaskRow is one ordered damage-process rule.
type ProcessTaskRow struct {
	Name    string   `yaml:"name"`
	Source  string   `yaml:"source"` // component id
	Event   string   `yaml:"event"`  // e.g. "DS1"
	Targets []string `yaml:"targets"`
}

// Load reads and validates an analysis definition from a YAML file.
func Load(path string) (*File, *Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	opts, err := f.BuildOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &f, opts, nil
}

// BuildOptions converts the options section into a validated Options value.
func (f *File) BuildOptions() (*Options, error) {
	opts := NewOptions(f.Options.Seed)
	opts.Verbose = f.Options.Verbose
	opts.RhoCostTime = f.Options.RhoCostTime
	opts.EcoScale = f.Options.EcoScale

	if f.Options.Sampling != "" {
		method, err := uq.ParseSamplingMethod(f.Options.Sampling)
		if err != nil {
			return nil, err
		}
		opts.SamplingMethod = method
	}
	for k, v := range f.Options.NondirMultipliers {
		opts.NondirMultipliers[k] = v
	}
	for k, v := range f.Options.DemandOffsets {
		opts.DemandOffsets[k] = v
	}
	for name, factor := range f.Options.Units {
		if err := opts.Units.Define(name, factor); err != nil {
			return nil, err
		}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// BuildComponents converts the component rows into domain marginals.
func (f *File) BuildComponents() ([]domain.ComponentMarginal, error) {
	if len(f.Components) == 0 {
		return nil, fmt.Errorf("no components defined")
	}
	seen := make(map[domain.PGKey]bool)
	out := make([]domain.ComponentMarginal, 0, len(f.Components))
	for _, row := range f.Components {
		key := domain.PGKey{Cmp: row.Cmp, Loc: row.Loc, Dir: row.Dir}
		if row.Cmp == "" || row.Loc == "" || row.Dir == "" {
			return nil, fmt.Errorf("component row %s is missing cmp/loc/dir", key)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate component definition for %s", key)
		}
		seen[key] = true

		m := domain.NewComponentMarginal(key)
		m.Unit = row.Unit
		if row.Family != "" {
			if _, err := uq.ParseFamily(row.Family); err != nil {
				return nil, fmt.Errorf("component %s: %w", key, err)
			}
			m.Family = row.Family
		}
		if len(row.Theta) > 0 {
			m.Theta0 = row.Theta[0]
		}
		if len(row.Theta) > 1 {
			m.Theta1 = row.Theta[1]
		}
		if row.TruncateLower != nil {
			m.TruncateLower = *row.TruncateLower
		}
		if row.TruncateUpper != nil {
			m.TruncateUpper = *row.TruncateUpper
		}
		if math.IsNaN(m.Theta0) {
			return nil, fmt.Errorf("component %s has no quantity", key)
		}
		m.BlockWeights = domain.NormalizeBlocks(row.Blocks, row.BlockWeights)
		out = append(out, m)
	}
	return out, nil
}

// BuildDamageParams converts the damage model rows.
func (f *File) BuildDamageParams() (map[string]domain.DamageParams, error) {
	out := make(map[string]domain.DamageParams, len(f.DamageModel))
	for _, row := range f.DamageModel {
		if row.Cmp == "" {
			return nil, fmt.Errorf("damage model row with empty component id")
		}
		if _, ok := out[row.Cmp]; ok {
			return nil, fmt.Errorf("duplicate damage model for component %s", row.Cmp)
		}
		if row.Demand.Type == "" {
			return nil, fmt.Errorf("damage model for %s is missing a demand type", row.Cmp)
		}
		params := domain.DamageParams{
			Cmp:           row.Cmp,
			DemandType:    row.Demand.Type,
			DemandOffset:  row.Demand.Offset,
			Directional:   row.Demand.Directional,
			ComponentUnit: row.Unit,
			DamageUnit:    row.DamageUnit,
		}
		for i, lsRow := range row.LimitStates {
			ls, err := buildLimitState(lsRow)
			if err != nil {
				return nil, fmt.Errorf("damage model for %s, LS%d: %w", row.Cmp, i+1, err)
			}
			params.LimitStates = append(params.LimitStates, ls)
		}
		if len(params.DefinedLimitStates()) == 0 {
			return nil, fmt.Errorf("damage model for %s defines no limit states", row.Cmp)
		}
		out[row.Cmp] = params
	}
	return out, nil
}

func buildLimitState(row LimitStateRow) (domain.LimitState, error) {
	ls := domain.LimitState{
		Family: row.Family,
		Theta0: math.NaN(),
		Theta1: row.Theta1,
	}
	if row.Family == domain.FamilyFunction {
		fn, err := domain.ParseDamageFunction(row.Theta0)
		if err != nil {
			return domain.LimitState{}, err
		}
		ls.Function = fn
	} else {
		if row.Family != "" {
			if _, err := uq.ParseFamily(row.Family); err != nil {
				return domain.LimitState{}, err
			}
		}
		if row.Theta0 == "" {
			return domain.LimitState{}, fmt.Errorf("missing theta_0")
		}
		var v float64
		if _, err := fmt.Sscanf(row.Theta0, "%g", &v); err != nil {
			return domain.LimitState{}, fmt.Errorf("unparseable theta_0 %q", row.Theta0)
		}
		ls.Theta0 = v
	}
	if row.DamageStateWeights != "" {
		weights, err := domain.ParseWeights(row.DamageStateWeights)
		if err != nil {
			return domain.LimitState{}, err
		}
		ls.DSWeights = weights
	}
	return ls, nil
}

// BuildLossModel converts the loss section into the loss map and the
// consequence parameter lookup keyed consequence -> decision variable.
func (f *File) BuildLossModel() ([]domain.LossMapEntry, map[string]map[string]domain.ConsequenceParams, error) {
	var entries []domain.LossMapEntry
	for i, row := range f.LossModel.Map {
		if row.Driver == "" || row.Consequence == "" {
			return nil, nil, fmt.Errorf("loss map row %d is missing driver or consequence", i)
		}
		entries = append(entries, domain.LossMapEntry{
			LossID:      row.Consequence,
			DriverCmp:   row.Driver,
			Consequence: row.Consequence,
		})
	}

	params := make(map[string]map[string]domain.ConsequenceParams)
	for _, row := range f.LossModel.Params {
		if row.DV != domain.DVCost && row.DV != domain.DVTime {
			return nil, nil, fmt.Errorf("consequence %s: unrecognized decision variable %q", row.Consequence, row.DV)
		}
		byDS := make(map[string]domain.DSConsequence, len(row.DamageStates))
		for ds, dsRow := range row.DamageStates {
			median, err := domain.ParseMedianSpec(dsRow.Theta0)
			if err != nil {
				return nil, nil, fmt.Errorf("consequence %s %s DS%s: %w", row.Consequence, row.DV, ds, err)
			}
			if dsRow.Family != "" {
				if _, err := uq.ParseFamily(dsRow.Family); err != nil {
					return nil, nil, fmt.Errorf("consequence %s %s DS%s: %w", row.Consequence, row.DV, ds, err)
				}
			}
			byDS[ds] = domain.DSConsequence{
				Family: dsRow.Family,
				Median: median,
				Theta1: dsRow.Theta1,
				Unit:   dsRow.Unit,
			}
		}
		if params[row.Consequence] == nil {
			params[row.Consequence] = make(map[string]domain.ConsequenceParams)
		}
		if _, ok := params[row.Consequence][row.DV]; ok {
			return nil, nil, fmt.Errorf("duplicate consequence definition for %s/%s", row.Consequence, row.DV)
		}
		params[row.Consequence][row.DV] = domain.ConsequenceParams{
			Consequence: row.Consequence,
			DV:          row.DV,
			ByDS:        byDS,
		}
	}
	return entries, params, nil
}

// BuildDemandMarginals converts prescribed demand marginals.
func (f *File) BuildDemandMarginals() ([]domain.DemandMarginal, error) {
	out := make([]domain.DemandMarginal, 0, len(f.Demand.Marginals))
	for _, row := range f.Demand.Marginals {
		key := domain.DemandKey{Type: row.Type, Loc: row.Loc, Dir: row.Dir}
		if row.Type == "" || row.Loc == "" || row.Dir == "" {
			return nil, fmt.Errorf("demand marginal %s is missing type/loc/dir", key)
		}
		if _, err := uq.ParseFamily(row.Family); err != nil {
			return nil, fmt.Errorf("demand marginal %s: %w", key, err)
		}
		m := domain.NewDemandMarginal(key)
		m.Family = row.Family
		m.Unit = row.Unit
		if len(row.Theta) > 0 {
			m.Theta0 = row.Theta[0]
		}
		if len(row.Theta) > 1 {
			m.Theta1 = row.Theta[1]
		}
		if row.TruncateLower != nil {
			m.TruncateLower = *row.TruncateLower
		}
		if row.TruncateUpper != nil {
			m.TruncateUpper = *row.TruncateUpper
		}
		out = append(out, m)
	}
	return out, nil
}

// BuildCorrelation converts the demand correlation section.
func (f *File) BuildCorrelation() (*domain.Correlation, error) {
	sec := f.Demand.Correlation
	if sec == nil {
		return nil, nil
	}
	k := len(sec.Labels)
	if k == 0 || len(sec.Rows) != k {
		return nil, fmt.Errorf("correlation matrix must be square with one row per label")
	}
	keys := make([]domain.DemandKey, k)
	for i, label := range sec.Labels {
		key, err := domain.ParseDemandKey(label)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	values := make([]float64, 0, k*k)
	for i, row := range sec.Rows {
		if len(row) != k {
			return nil, fmt.Errorf("correlation row %d has %d entries, expected %d", i, len(row), k)
		}
		values = append(values, row...)
	}
	return &domain.Correlation{Keys: keys, Values: values}, nil
}
