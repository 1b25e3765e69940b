package domain

import "math"

// ComponentMarginal describes the quantity of one performance group: its
// marginal distribution and the division of the quantity into blocks.
type ComponentMarginal struct {
	Key PGKey

	// Family is empty for deterministic quantities.
	Family string
	Theta0 float64
	Theta1 float64

	TruncateLower float64
	TruncateUpper float64

	// BlockWeights splits the component quantity across blocks. When only a
	// block count was provided, the weights are equal.
	BlockWeights []float64

	Unit string
}

// NormalizeBlocks converts a bare block count into equal weights. A zero
// count means one block.
func NormalizeBlocks(count int, weights []float64) []float64 {
	if len(weights) > 0 {
		return weights
	}
	if count <= 0 {
		count = 1
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = 1 / float64(count)
	}
	return out
}

// Deterministic reports whether the quantity has no uncertainty.
func (m ComponentMarginal) Deterministic() bool { return m.Family == "" }

// NewComponentMarginal fills the unbounded-truncation defaults.
func NewComponentMarginal(key PGKey) ComponentMarginal {
	return ComponentMarginal{
		Key:           key,
		Theta0:        math.NaN(),
		Theta1:        math.NaN(),
		TruncateLower: math.NaN(),
		TruncateUpper: math.NaN(),
	}
}
