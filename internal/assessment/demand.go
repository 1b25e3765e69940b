package assessment

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/logging"
	"github.com/tmarlowe/hazloss/internal/uq"
)

// DemandModel manages the demands acting on the asset: it calibrates a
// multivariate model to raw demand data and regenerates demand samples from
// the calibrated (or prescribed) model.
type DemandModel struct {
	opts *config.Options
	log  zerolog.Logger
	warn *logging.Warnings

	sample *domain.DemandSample

	marginals   []domain.DemandMarginal
	correlation *domain.Correlation
	empirical   map[domain.DemandKey][]float64
}

func NewDemandModel(opts *config.Options, log zerolog.Logger, warn *logging.Warnings) *DemandModel {
	return &DemandModel{
		opts:      opts,
		log:       log,
		warn:      warn,
		empirical: make(map[domain.DemandKey][]float64),
	}
}

// SetSample installs a raw or externally generated demand sample.
func (m *DemandModel) SetSample(s *domain.DemandSample) { m.sample = s }

// Sample returns the current demand sample.
func (m *DemandModel) Sample() *domain.DemandSample { return m.sample }

// SetModel installs prescribed marginals and an optional correlation,
// bypassing calibration.
func (m *DemandModel) SetModel(marginals []domain.DemandMarginal, corr *domain.Correlation) {
	m.marginals = marginals
	m.correlation = corr
}

// Marginals returns the calibrated or prescribed marginal parameters.
func (m *DemandModel) Marginals() []domain.DemandMarginal { return m.marginals }

// Correlation returns the calibrated or prescribed correlation.
func (m *DemandModel) Correlation() *domain.Correlation { return m.correlation }

// calSettings is the per-column calibration plan assembled from the "ALL"
// defaults and type-specific overrides.
type calSettings struct {
	family       uq.Family
	censorLower  float64
	censorUpper  float64
	truncLower   float64
	truncUpper   float64
	sigIncrease  float64
}

// Calibrate fits the demand model to the installed raw sample. Settings are
// keyed by demand type, with "ALL" as the default for unlisted types.
func (m *DemandModel) Calibrate(settings map[string]config.CalibrationRow) error {
	if m.sample == nil || m.sample.Rows() == 0 {
		return fmt.Errorf("demand calibration requires a raw demand sample")
	}
	m.log.Info().Msg("Calibrating demand model...")

	plan := make(map[domain.DemandKey]calSettings, len(m.sample.Keys()))
	for _, key := range m.sample.Keys() {
		row, ok := settingsFor(settings, key.Type)
		if !ok {
			return fmt.Errorf("no calibration settings for demand type %s (add an ALL entry)", key.Type)
		}
		cs, err := m.buildSettings(row)
		if err != nil {
			return fmt.Errorf("calibration settings for %s: %w", key, err)
		}
		plan[key] = cs
	}

	// Censoring: a censored value in any demand removes the entire
	// realization from the population, and the count enters the likelihood.
	keep := make([]bool, m.sample.Rows())
	for i := range keep {
		keep[i] = true
	}
	for _, key := range m.sample.Keys() {
		cs := plan[key]
		col, _ := m.sample.Column(key)
		for r, v := range col {
			if (!math.IsNaN(cs.censorLower) && v < cs.censorLower) ||
				(!math.IsNaN(cs.censorUpper) && v > cs.censorUpper) {
				keep[r] = false
			}
		}
	}
	censored := 0
	for _, k := range keep {
		if !k {
			censored++
		}
	}
	if censored > 0 {
		m.log.Info().Int("count", censored).Msg("Realizations censored by detection limits")
	}

	// Values outside truncation limits suggest a configuration problem.
	// They are removed with a warning rather than aborting the analysis.
	truncated := 0
	for _, key := range m.sample.Keys() {
		cs := plan[key]
		col, _ := m.sample.Column(key)
		for r, v := range col {
			if !keep[r] {
				continue
			}
			if (!math.IsNaN(cs.truncLower) && v < cs.truncLower) ||
				(!math.IsNaN(cs.truncUpper) && v > cs.truncUpper) {
				keep[r] = false
				truncated++
			}
		}
	}
	if truncated > 0 {
		m.warn.Add(fmt.Sprintf(
			"%d realizations lie outside the truncation limits and were removed before demand calibration", truncated))
	}

	// Split empirical columns from those that get a parametric fit.
	var fitKeys []domain.DemandKey
	var fitData [][]float64
	var fitReqs []uq.FitRequest
	m.empirical = make(map[domain.DemandKey][]float64)

	for _, key := range m.sample.Keys() {
		cs := plan[key]
		col, _ := m.sample.Column(key)
		kept := make([]float64, 0, len(col))
		for r, v := range col {
			if keep[r] {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			return fmt.Errorf("demand %s: no realizations left after censoring and truncation", key)
		}
		if cs.family == uq.FamilyEmpirical {
			m.empirical[key] = kept
			continue
		}
		fitKeys = append(fitKeys, key)
		fitData = append(fitData, kept)
		fitReqs = append(fitReqs, uq.FitRequest{
			Name:          key.String(),
			Family:        cs.family,
			CensorLower:   cs.censorLower,
			CensorUpper:   cs.censorUpper,
			TruncateLower: cs.truncLower,
			TruncateUpper: cs.truncUpper,
		})
	}

	m.marginals = nil
	m.correlation = nil

	if len(fitKeys) > 0 {
		results, corr, err := uq.FitDistributionToSample(fitData, fitReqs, censored)
		if err != nil {
			return fmt.Errorf("demand calibration failed: %w", err)
		}
		for i, res := range results {
			cs := plan[fitKeys[i]]
			dm := domain.NewDemandMarginal(fitKeys[i])
			dm.Family = string(res.Family)
			dm.Theta0 = res.Theta[0]
			dm.Theta1 = res.Theta[1]
			dm.TruncateLower = cs.truncLower
			dm.TruncateUpper = cs.truncUpper
			if cs.sigIncrease > 0 {
				dm.Theta1 = math.Sqrt(dm.Theta1*dm.Theta1 + cs.sigIncrease*cs.sigIncrease)
			}
			m.marginals = append(m.marginals, dm)
		}
		k := len(fitKeys)
		values := make([]float64, 0, k*k)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				values = append(values, corr.At(i, j))
			}
		}
		m.correlation = &domain.Correlation{Keys: fitKeys, Values: values}
	}

	// Empirical columns join the model without fitted parameters. Their
	// correlation with the fitted demands is not preserved.
	for _, key := range m.sample.Keys() {
		if _, ok := m.empirical[key]; !ok {
			continue
		}
		dm := domain.NewDemandMarginal(key)
		dm.Family = string(uq.FamilyEmpirical)
		m.marginals = append(m.marginals, dm)
	}

	m.log.Info().Int("variables", len(m.marginals)).Msg("Demand model calibrated")
	m.warn.Emit(m.log)
	return nil
}

func settingsFor(settings map[string]config.CalibrationRow, demandType string) (config.CalibrationRow, bool) {
	// A subtyped demand ("PID_frame") matches its base type's settings.
	base := strings.SplitN(demandType, "_", 2)[0]
	if row, ok := settings[demandType]; ok {
		return row, true
	}
	if row, ok := settings[base]; ok {
		return row, true
	}
	row, ok := settings["ALL"]
	return row, ok
}

func (m *DemandModel) buildSettings(row config.CalibrationRow) (calSettings, error) {
	cs := calSettings{
		censorLower: math.NaN(), censorUpper: math.NaN(),
		truncLower: math.NaN(), truncUpper: math.NaN(),
	}
	fam, err := uq.ParseFamily(row.DistributionFamily)
	if err != nil {
		return calSettings{}, err
	}
	cs.family = fam

	scale := 1.0
	if row.Unit != "" {
		scale, err = m.opts.Units.Scale(row.Unit)
		if err != nil {
			return calSettings{}, err
		}
	}
	if len(row.CensorAt) == 2 {
		cs.censorLower = row.CensorAt[0] * scale
		cs.censorUpper = row.CensorAt[1] * scale
	} else if len(row.CensorAt) != 0 {
		return calSettings{}, fmt.Errorf("censor_at needs [lower, upper]")
	}
	if len(row.TruncateAt) == 2 {
		cs.truncLower = row.TruncateAt[0] * scale
		cs.truncUpper = row.TruncateAt[1] * scale
	} else if len(row.TruncateAt) != 0 {
		return calSettings{}, fmt.Errorf("truncate_at needs [lower, upper]")
	}
	if row.AddUncertainty > 0 {
		cs.sigIncrease = row.AddUncertainty
		// Normal-family uncertainty is expressed in demand units.
		if fam == uq.FamilyNormal {
			cs.sigIncrease *= scale
		}
	}
	return cs, nil
}

// GenerateSample draws a fresh demand sample of size n from the calibrated
// or prescribed model, replacing any installed raw sample. preserveOrder
// switches empirical demands to coupled-empirical reproduction of the raw
// row order.
func (m *DemandModel) GenerateSample(n int, preserveOrder bool) error {
	if len(m.marginals) == 0 {
		return fmt.Errorf("demand model parameters have not been specified: calibrate the model or prescribe marginals before sampling")
	}
	m.log.Info().Int("size", n).Msg("Generating demand sample...")

	reg := uq.NewRegistry()
	for _, dm := range m.marginals {
		family := dm.Family
		raw := m.empirical[dm.Key]
		if family == string(uq.FamilyEmpirical) && preserveOrder {
			family = string(uq.FamilyCoupledEmpirical)
		}
		rv, err := marginalRV(dm.Key.String(), family, dm.Theta0, dm.Theta1,
			dm.TruncateLower, dm.TruncateUpper, raw)
		if err != nil {
			return err
		}
		if err := reg.AddRV(rv); err != nil {
			return err
		}
	}
	if m.correlation != nil {
		members := make([]*uq.RandomVariable, len(m.correlation.Keys))
		for i, key := range m.correlation.Keys {
			rv, ok := reg.RV(key.String())
			if !ok {
				return fmt.Errorf("demand correlation references unknown demand %s", key)
			}
			members[i] = rv
		}
		set, err := uq.NewSet("demand", members, m.correlation.Values)
		if err != nil {
			return err
		}
		if err := reg.AddSet(set); err != nil {
			return err
		}
	}

	table, err := reg.Generate(n, m.opts.SamplingMethod, m.opts.RNG())
	if err != nil {
		return err
	}
	for _, name := range reg.CorrectedSets() {
		m.warn.Add(fmt.Sprintf("correlation matrix of RV set %q was not positive semidefinite and was replaced by its nearest valid approximation", name))
	}

	sample := domain.NewDemandSample(n)
	for _, dm := range m.marginals {
		col, _ := table.Column(dm.Key.String())
		if err := sample.Add(dm.Key, col); err != nil {
			return err
		}
	}
	m.sample = sample
	m.log.Info().Int("realizations", n).Msg("Demand sample generated")
	m.warn.Emit(m.log)
	return nil
}

// EstimateRID derives residual interstory drift realizations from the peak
// drifts in the current sample, following the FEMA P-58 piecewise mapping,
// and appends them as RID columns.
func (m *DemandModel) EstimateRID(yieldDrift float64) error {
	if m.sample == nil {
		return fmt.Errorf("residual drift estimation requires a demand sample")
	}
	if !(yieldDrift > 0) {
		return fmt.Errorf("residual drift estimation requires a positive yield drift, got %v", yieldDrift)
	}
	rng := m.opts.RNG()

	for _, key := range m.sample.Keys() {
		if key.Type != "PID" {
			continue
		}
		pid, _ := m.sample.Column(key)
		rid := make([]float64, len(pid))
		for r, d := range pid {
			var v float64
			switch {
			case d < yieldDrift:
				v = 0
			case d < 4*yieldDrift:
				v = 0.3 * (d - yieldDrift)
			default:
				v = d - 3*yieldDrift
			}
			if v > 0 {
				// Dispersion of the drift-to-residual mapping itself.
				v = math.Exp(math.Log(v) + rng.NormFloat64()*0.2)
			}
			if v > d {
				v = d
			}
			rid[r] = v
		}
		ridKey := domain.DemandKey{Type: "RID", Loc: key.Loc, Dir: key.Dir}
		if err := m.sample.Add(ridKey, rid); err != nil {
			return err
		}
	}
	return nil
}
