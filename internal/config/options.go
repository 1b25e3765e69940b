// Package config loads and validates the analysis configuration: global
// options and the demand/asset/damage/loss model definitions.
package config

import (
	"fmt"
	"math/rand"

	"github.com/tmarlowe/hazloss/internal/units"
	"github.com/tmarlowe/hazloss/internal/uq"
)

// DefaultNondirMultiplier scales max-over-direction demand lookups for
// non-directional components.
const DefaultNondirMultiplier = 1.2

// EcoScale controls how damaged quantities are pooled before median
// consequence evaluation.
type EcoScale struct {
	AcrossFloors       bool `yaml:"across_floors"`
	AcrossDamageStates bool `yaml:"across_damage_states"`
}

// Options is the explicit analysis context threaded through every engine.
// It is constructed once per analysis; nothing reads ambient globals.
type Options struct {
	Seed           int64
	SamplingMethod uq.SamplingMethod
	Verbose        bool

	// NondirMultipliers is keyed by demand type, with "ALL" as the
	// fallback for types not listed.
	NondirMultipliers map[string]float64

	// DemandOffsets shifts the demand location looked up for a component,
	// keyed by demand type (e.g. accelerations read the floor below).
	DemandOffsets map[string]int

	RhoCostTime float64
	EcoScale    EcoScale

	Units *units.Registry

	rng *rand.Rand
}

// NewOptions returns options with the documented defaults and a seeded
// generator.
func NewOptions(seed int64) *Options {
	return &Options{
		Seed:              seed,
		SamplingMethod:    uq.MonteCarlo,
		NondirMultipliers: map[string]float64{},
		DemandOffsets:     map[string]int{},
		Units:             units.Default(),
		rng:               rand.New(rand.NewSource(seed)),
	}
}

// RNG returns the process-wide generator for sampling.
func (o *Options) RNG() *rand.Rand { return o.rng }

// SetSeed reseeds the analysis, recreating the underlying generator. It must
// not be called while a registry sample is being generated.
func (o *Options) SetSeed(seed int64) {
	o.Seed = seed
	o.rng = rand.New(rand.NewSource(seed))
}

// NondirMultiplier returns the non-directional demand multiplier for a
// demand type.
func (o *Options) NondirMultiplier(demandType string) float64 {
	if m, ok := o.NondirMultipliers[demandType]; ok {
		return m
	}
	if m, ok := o.NondirMultipliers["ALL"]; ok {
		return m
	}
	return DefaultNondirMultiplier
}

// DemandOffset returns the global location offset for a demand type.
func (o *Options) DemandOffset(demandType string) int {
	return o.DemandOffsets[demandType]
}

func (o *Options) validate() error {
	if o.RhoCostTime < -1 || o.RhoCostTime > 1 {
		return fmt.Errorf("repair cost/time correlation %v outside [-1, 1]", o.RhoCostTime)
	}
	for demandType, m := range o.NondirMultipliers {
		if !(m > 0) {
			return fmt.Errorf("non-directional multiplier for %s must be positive, got %v", demandType, m)
		}
	}
	return nil
}
