package assessment

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tmarlowe/hazloss/internal/config"
	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/uq"
)

// AssetModel manages the components of the asset and realizes their
// quantities. Component quantities are sampled independently; blocks within
// a component share the component draw.
type AssetModel struct {
	opts *config.Options
	log  zerolog.Logger

	marginals []domain.ComponentMarginal
	byKey     map[domain.PGKey]*domain.ComponentMarginal

	sample map[domain.PGKey][]float64
	order  []domain.PGKey
}

func NewAssetModel(opts *config.Options, log zerolog.Logger) *AssetModel {
	return &AssetModel{
		opts:  opts,
		log:   log,
		byKey: make(map[domain.PGKey]*domain.ComponentMarginal),
	}
}

// LoadModel installs the component marginal table. Performance-group
// definitions are read-only once loaded.
func (m *AssetModel) LoadModel(marginals []domain.ComponentMarginal) error {
	m.marginals = marginals
	m.byKey = make(map[domain.PGKey]*domain.ComponentMarginal, len(marginals))
	m.order = m.order[:0]
	for i := range marginals {
		cm := &marginals[i]
		if _, ok := m.byKey[cm.Key]; ok {
			return fmt.Errorf("duplicate component definition for %s", cm.Key)
		}
		m.byKey[cm.Key] = cm
		m.order = append(m.order, cm.Key)
	}
	return nil
}

// PGs lists the performance groups in definition order.
func (m *AssetModel) PGs() []domain.PGKey { return m.order }

// Marginal returns the definition of one performance group.
func (m *AssetModel) Marginal(pg domain.PGKey) (*domain.ComponentMarginal, bool) {
	cm, ok := m.byKey[pg]
	return cm, ok
}

// GenerateSample realizes component quantities for n realizations.
// Deterministic components bypass sampling.
func (m *AssetModel) GenerateSample(n int) error {
	if len(m.marginals) == 0 {
		return fmt.Errorf("asset model has no components: load a component model before sampling")
	}
	m.log.Info().Int("size", n).Int("components", len(m.marginals)).Msg("Generating component quantity sample...")

	reg := uq.NewRegistry()
	deterministic := make(map[domain.PGKey]float64)
	for _, cm := range m.marginals {
		if cm.Deterministic() {
			deterministic[cm.Key] = cm.Theta0
			continue
		}
		rv, err := marginalRV("CMP-"+cm.Key.String(), cm.Family,
			cm.Theta0, cm.Theta1, cm.TruncateLower, cm.TruncateUpper, nil)
		if err != nil {
			return err
		}
		if err := reg.AddRV(rv); err != nil {
			return err
		}
	}

	var table *uq.Table
	if reg.Size() > 0 {
		var err error
		table, err = reg.Generate(n, m.opts.SamplingMethod, m.opts.RNG())
		if err != nil {
			return err
		}
	}

	m.sample = make(map[domain.PGKey][]float64, len(m.marginals))
	for _, cm := range m.marginals {
		if v, ok := deterministic[cm.Key]; ok {
			col := make([]float64, n)
			for i := range col {
				col[i] = v
			}
			m.sample[cm.Key] = col
			continue
		}
		col, _ := table.Column("CMP-" + cm.Key.String())
		m.sample[cm.Key] = col
	}
	return nil
}

// Quantity returns the realized quantity of one performance group.
func (m *AssetModel) Quantity(pg domain.PGKey) ([]float64, bool) {
	col, ok := m.sample[pg]
	return col, ok
}
