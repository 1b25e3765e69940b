package domain

import (
	"fmt"
	"math"
)

// DemandSample holds realized demand values, one column per demand key and
// one row per realization.
type DemandSample struct {
	keys  []DemandKey
	index map[DemandKey]int
	cols  [][]float64
	rows  int
}

func NewDemandSample(rows int) *DemandSample {
	return &DemandSample{index: make(map[DemandKey]int), rows: rows}
}

func (s *DemandSample) Rows() int          { return s.rows }
func (s *DemandSample) Keys() []DemandKey  { return s.keys }

func (s *DemandSample) Add(key DemandKey, values []float64) error {
	if _, ok := s.index[key]; ok {
		return fmt.Errorf("demand sample already has a column for %s", key)
	}
	if len(values) != s.rows {
		return fmt.Errorf("demand column %s has %d rows, expected %d", key, len(values), s.rows)
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.cols = append(s.cols, values)
	return nil
}

// Column returns the demand values for an exact key.
func (s *DemandSample) Column(key DemandKey) ([]float64, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.cols[i], true
}

// MaxOverDirections returns, per realization, the maximum demand across all
// directions available for the given type and location. The second return is
// false when no direction exists.
func (s *DemandSample) MaxOverDirections(edpType, loc string) ([]float64, bool) {
	var out []float64
	for i, key := range s.keys {
		if key.Type != edpType || key.Loc != loc {
			continue
		}
		col := s.cols[i]
		if out == nil {
			out = make([]float64, len(col))
			copy(out, col)
			continue
		}
		for r, v := range col {
			if v > out[r] {
				out[r] = v
			}
		}
	}
	return out, out != nil
}

// DamageSample holds damaged quantities keyed by (component, location,
// direction, damage state). Cleared entries (damage process "NA" targets)
// are NaN.
type DamageSample struct {
	keys  []DamageKey
	index map[DamageKey]int
	cols  [][]float64
	rows  int
}

func NewDamageSample(rows int) *DamageSample {
	return &DamageSample{index: make(map[DamageKey]int), rows: rows}
}

func (s *DamageSample) Rows() int         { return s.rows }
func (s *DamageSample) Keys() []DamageKey { return s.keys }

func (s *DamageSample) Add(key DamageKey, values []float64) error {
	if _, ok := s.index[key]; ok {
		return fmt.Errorf("damage sample already has a column for %s", key)
	}
	if len(values) != s.rows {
		return fmt.Errorf("damage column %s has %d rows, expected %d", key, len(values), s.rows)
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.cols = append(s.cols, values)
	return nil
}

// Ensure returns the column for key, allocating a zero column when the
// damage state has not been realized before. Damage process rules create
// target columns on demand through this lookup.
func (s *DamageSample) Ensure(key DamageKey) []float64 {
	if i, ok := s.index[key]; ok {
		return s.cols[i]
	}
	col := make([]float64, s.rows)
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.cols = append(s.cols, col)
	return col
}

func (s *DamageSample) Column(key DamageKey) ([]float64, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.cols[i], true
}

// Components lists the distinct component ids present, in column order.
func (s *DamageSample) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range s.keys {
		if !seen[key.Cmp] {
			seen[key.Cmp] = true
			out = append(out, key.Cmp)
		}
	}
	return out
}

// ColumnsOf lists the columns belonging to one component, in column order.
func (s *DamageSample) ColumnsOf(cmp string) []DamageKey {
	var out []DamageKey
	for _, key := range s.keys {
		if key.Cmp == cmp {
			out = append(out, key)
		}
	}
	return out
}

// MaxQuantityInDS returns, per realization, the maximum damaged quantity of
// the component in the given damage state across its performance groups.
// The second return is false when the component never realized that state.
func (s *DamageSample) MaxQuantityInDS(cmp, ds string) ([]float64, bool) {
	var out []float64
	for _, key := range s.ColumnsOf(cmp) {
		if key.DS != ds {
			continue
		}
		col, _ := s.Column(key)
		if out == nil {
			out = make([]float64, len(col))
			copy(out, col)
			continue
		}
		for r, v := range col {
			if v > out[r] {
				out[r] = v
			}
		}
	}
	return out, out != nil
}

// Clear marks the component's damage as undefined in the given realizations.
func (s *DamageSample) Clear(cmp string, realizations []int) {
	for _, key := range s.ColumnsOf(cmp) {
		col, _ := s.Column(key)
		for _, r := range realizations {
			col[r] = math.NaN()
		}
	}
}

// Zero resets the component's damaged quantities in the given realizations.
func (s *DamageSample) Zero(cmp string, realizations []int) {
	for _, key := range s.ColumnsOf(cmp) {
		col, _ := s.Column(key)
		for _, r := range realizations {
			col[r] = 0
		}
	}
}

// DVSample holds consequence amounts keyed by decision variable, loss
// component, driver component, damage state, location and direction.
type DVSample struct {
	keys  []DVKey
	index map[DVKey]int
	cols  [][]float64
	rows  int
}

func NewDVSample(rows int) *DVSample {
	return &DVSample{index: make(map[DVKey]int), rows: rows}
}

func (s *DVSample) Rows() int     { return s.rows }
func (s *DVSample) Keys() []DVKey { return s.keys }

func (s *DVSample) Add(key DVKey, values []float64) error {
	if _, ok := s.index[key]; ok {
		return fmt.Errorf("consequence sample already has a column for %s", key)
	}
	if len(values) != s.rows {
		return fmt.Errorf("consequence column %s has %d rows, expected %d", key, len(values), s.rows)
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.cols = append(s.cols, values)
	return nil
}

func (s *DVSample) Column(key DVKey) ([]float64, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.cols[i], true
}

// SumByLoss sums all columns of one loss component per realization.
func (s *DVSample) SumByLoss(loss string) []float64 {
	out := make([]float64, s.rows)
	for i, key := range s.keys {
		if key.Loss != loss {
			continue
		}
		for r, v := range s.cols[i] {
			out[r] += v
		}
	}
	return out
}

// SumByDV sums all columns of one decision-variable type per realization.
func (s *DVSample) SumByDV(dv string) []float64 {
	out := make([]float64, s.rows)
	for i, key := range s.keys {
		if key.DV != dv {
			continue
		}
		for r, v := range s.cols[i] {
			out[r] += v
		}
	}
	return out
}

// MaxByDVPerLocation returns the per-realization maximum over locations of
// the per-location sums of one decision-variable type. This is the parallel
// repair-time bound: floors repaired concurrently, work within each floor
// sequential.
func (s *DVSample) MaxByDVPerLocation(dv string) []float64 {
	byLoc := make(map[string][]float64)
	for i, key := range s.keys {
		if key.DV != dv {
			continue
		}
		sum := byLoc[key.Loc]
		if sum == nil {
			sum = make([]float64, s.rows)
			byLoc[key.Loc] = sum
		}
		for r, v := range s.cols[i] {
			sum[r] += v
		}
	}
	out := make([]float64, s.rows)
	for _, sum := range byLoc {
		for r, v := range sum {
			if v > out[r] {
				out[r] = v
			}
		}
	}
	return out
}
