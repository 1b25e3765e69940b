package domain

import "math"

// DemandMarginal describes the calibrated (or prescribed) marginal
// distribution of one demand variable.
type DemandMarginal struct {
	Key DemandKey

	Family string
	Theta0 float64
	Theta1 float64

	TruncateLower float64
	TruncateUpper float64

	Unit string
}

// NewDemandMarginal fills the unbounded-truncation defaults.
func NewDemandMarginal(key DemandKey) DemandMarginal {
	return DemandMarginal{
		Key:           key,
		Theta0:        math.NaN(),
		Theta1:        math.NaN(),
		TruncateLower: math.NaN(),
		TruncateUpper: math.NaN(),
	}
}

// Correlation is a labeled square correlation matrix over demand variables.
type Correlation struct {
	Keys   []DemandKey
	Values []float64 // row-major, len == len(Keys)^2
}
