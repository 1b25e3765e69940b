package assessment

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/logging"
)

// Assessment bundles the four coupled engines of one analysis run. The
// models share one Options value and one logger; results flow demand →
// damage → consequence through the samples each model exposes.
type Assessment struct {
	Opts     *config.Options
	Log      zerolog.Logger
	Warnings *logging.Warnings

	Demand *DemandModel
	Asset  *AssetModel
	Damage *DamageModel
	Repair *RepairModel
}

// New wires up an assessment writing its log to w.
func New(opts *config.Options, w io.Writer) *Assessment {
	log := logging.New(w, opts.Verbose)
	warn := logging.NewWarnings()
	a := &Assessment{
		Opts:     opts,
		Log:      log,
		Warnings: warn,
	}
	a.Demand = NewDemandModel(opts, log, warn)
	a.Asset = NewAssetModel(opts, log)
	a.Damage = NewDamageModel(opts, log, warn, a.Asset, a.Demand)
	a.Repair = NewRepairModel(opts, log, warn)
	return a
}

// Run executes the full pipeline from a parsed analysis definition.
// rawDemand is the raw demand sample read from the configured sample file;
// nil when the demand model prescribes marginals directly. The aggregate
// result is nil when no loss model is configured.
func (a *Assessment) Run(f *config.File, rawDemand *domain.DemandSample) (*AggregateResult, error) {
	n := f.Demand.SampleSize
	if n <= 0 {
		return nil, fmt.Errorf("demand sample_size must be positive, got %d", n)
	}

	if err := a.runDemand(f, rawDemand, n); err != nil {
		return nil, err
	}

	marginals, err := f.BuildComponents()
	if err != nil {
		return nil, err
	}
	if err := a.Asset.LoadModel(marginals); err != nil {
		return nil, err
	}
	if err := a.Asset.GenerateSample(n); err != nil {
		return nil, err
	}

	damageParams, err := f.BuildDamageParams()
	if err != nil {
		return nil, err
	}
	if err := a.Damage.LoadModel(damageParams); err != nil {
		return nil, err
	}
	process, err := NewDamageProcess(f.DamageProcess)
	if err != nil {
		return nil, err
	}
	if err := a.Damage.Calculate(n, process); err != nil {
		return nil, err
	}

	if len(f.LossModel.Map) == 0 {
		a.Log.Info().Msg("No loss model configured; stopping after damage")
		return nil, nil
	}
	lossMap, consequences, err := f.BuildLossModel()
	if err != nil {
		return nil, err
	}
	if err := a.Repair.LoadModel(lossMap, consequences); err != nil {
		return nil, err
	}
	if err := a.Repair.Calculate(a.Damage.Sample()); err != nil {
		return nil, err
	}
	return a.Repair.Aggregate()
}

// runDemand builds the demand sample: calibrate against raw data when a
// sample file is configured, otherwise generate from prescribed marginals.
func (a *Assessment) runDemand(f *config.File, rawDemand *domain.DemandSample, n int) error {
	switch {
	case rawDemand != nil:
		a.Demand.SetSample(rawDemand)
		settings := f.Demand.Calibration
		if len(settings) == 0 {
			// Without fit settings the raw data speaks for itself: every
			// column is resampled empirically.
			settings = map[string]config.CalibrationRow{
				"ALL": {DistributionFamily: "empirical"},
			}
		}
		if err := a.Demand.Calibrate(settings); err != nil {
			return err
		}
		if err := a.Demand.GenerateSample(n, f.Demand.PreserveRawOrder); err != nil {
			return err
		}

	case len(f.Demand.Marginals) > 0:
		marginals, err := f.BuildDemandMarginals()
		if err != nil {
			return err
		}
		corr, err := f.BuildCorrelation()
		if err != nil {
			return err
		}
		a.Demand.SetModel(marginals, corr)
		if err := a.Demand.GenerateSample(n, false); err != nil {
			return err
		}

	default:
		return fmt.Errorf("demand model needs either a sample_file or prescribed marginals")
	}

	if rd := f.Demand.ResidualDrift; rd != nil {
		if rd.Method != "" && rd.Method != "FEMA P-58" {
			return fmt.Errorf("unrecognized residual drift method %q", rd.Method)
		}
		if err := a.Demand.EstimateRID(rd.YieldDrift); err != nil {
			return err
		}
	}
	return nil
}
