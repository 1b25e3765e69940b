// Package output persists analysis samples as CSV and renders the console
// summary report.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tmarlowe/hazloss/internal/domain"
	"github.com/tmarlowe/hazloss/internal/units"
)

// unitsRowLabel marks the optional second CSV row carrying per-column units.
const unitsRowLabel = "Units"

// ReadDemandSampleFile loads a raw demand sample from a CSV file. The header
// holds "type-loc-dir" column labels; an optional second row labeled "Units"
// names each column's unit, and values are converted to base units on load.
// A leading unlabeled column is treated as a realization index and dropped.
func ReadDemandSampleFile(path string, reg *units.Registry) (*domain.DemandSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read demand sample %s: %w", path, err)
	}
	defer f.Close()
	sample, err := ReadDemandSample(f, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse demand sample %s: %w", path, err)
	}
	return sample, nil
}

// ReadDemandSample parses a demand sample from CSV content.
func ReadDemandSample(r io.Reader, reg *units.Registry) (*domain.DemandSample, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("demand sample needs a header and at least one data row")
	}

	header := records[0]
	start := 0
	if header[0] == "" || strings.EqualFold(header[0], "index") {
		start = 1
	}
	keys := make([]domain.DemandKey, 0, len(header)-start)
	for _, label := range header[start:] {
		key, err := domain.ParseDemandKey(strings.TrimSpace(label))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	body := records[1:]
	scales := make([]float64, len(keys))
	for i := range scales {
		scales[i] = 1
	}
	if strings.EqualFold(strings.TrimSpace(body[0][0]), unitsRowLabel) ||
		(start == 1 && strings.EqualFold(strings.TrimSpace(body[0][start]), unitsRowLabel)) {
		unitRow := body[0]
		body = body[1:]
		for i := range keys {
			name := strings.TrimSpace(unitRow[start+i])
			if name == "" || strings.EqualFold(name, unitsRowLabel) {
				continue
			}
			scale, err := reg.Scale(name)
			if err != nil {
				return nil, err
			}
			scales[i] = scale
		}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("demand sample has no data rows")
	}

	cols := make([][]float64, len(keys))
	for i := range cols {
		cols[i] = make([]float64, len(body))
	}
	for r, row := range body {
		if len(row) != len(header) {
			return nil, fmt.Errorf("demand sample row %d has %d fields, expected %d", r+1, len(row), len(header))
		}
		for i := range keys {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[start+i]), 64)
			if err != nil {
				return nil, fmt.Errorf("demand sample row %d, column %s: %w", r+1, keys[i], err)
			}
			cols[i][r] = v * scales[i]
		}
	}

	sample := domain.NewDemandSample(len(body))
	for i, key := range keys {
		if err := sample.Add(key, cols[i]); err != nil {
			return nil, err
		}
	}
	return sample, nil
}

// WriteDemandSample writes the demand sample as CSV with a units row when
// unit names are supplied per column label. Values are converted from base
// units into the named unit, mirroring the conversion applied on read.
func WriteDemandSample(w io.Writer, s *domain.DemandSample, colUnits map[string]string, reg *units.Registry) error {
	labels := make([]string, len(s.Keys()))
	cols := make([][]float64, len(s.Keys()))
	for i, key := range s.Keys() {
		labels[i] = key.String()
		cols[i], _ = s.Column(key)
		if name := colUnits[labels[i]]; name != "" {
			scale, err := reg.Scale(name)
			if err != nil {
				return err
			}
			scaled := make([]float64, len(cols[i]))
			for r, v := range cols[i] {
				scaled[r] = v / scale
			}
			cols[i] = scaled
		}
	}
	return writeSample(w, labels, cols, s.Rows(), colUnits)
}

// WriteDamageSample writes the damaged quantities as CSV. Cleared entries
// come out as NaN.
func WriteDamageSample(w io.Writer, s *domain.DamageSample) error {
	labels := make([]string, len(s.Keys()))
	cols := make([][]float64, len(s.Keys()))
	for i, key := range s.Keys() {
		labels[i] = key.String()
		cols[i], _ = s.Column(key)
	}
	return writeSample(w, labels, cols, s.Rows(), nil)
}

// WriteDVSample writes the consequence sample as CSV.
func WriteDVSample(w io.Writer, s *domain.DVSample) error {
	labels := make([]string, len(s.Keys()))
	cols := make([][]float64, len(s.Keys()))
	for i, key := range s.Keys() {
		labels[i] = key.String()
		cols[i], _ = s.Column(key)
	}
	return writeSample(w, labels, cols, s.Rows(), nil)
}

// WriteAggregate writes the per-realization aggregate results as CSV.
func WriteAggregate(w io.Writer, cost, timeParallel, timeSequential []float64) error {
	return writeSample(w,
		[]string{"repair_cost", "repair_time_parallel", "repair_time_sequential"},
		[][]float64{cost, timeParallel, timeSequential},
		len(cost), nil)
}

func writeSample(w io.Writer, labels []string, cols [][]float64, rows int, colUnits map[string]string) error {
	cw := csv.NewWriter(w)
	header := append([]string{""}, labels...)
	if err := cw.Write(header); err != nil {
		return err
	}
	if colUnits != nil {
		unitRow := make([]string, len(header))
		unitRow[0] = unitsRowLabel
		for i, label := range labels {
			unitRow[i+1] = colUnits[label]
		}
		if err := cw.Write(unitRow); err != nil {
			return err
		}
	}
	row := make([]string, len(header))
	for r := 0; r < rows; r++ {
		row[0] = strconv.Itoa(r)
		for i, col := range cols {
			row[i+1] = strconv.FormatFloat(col[r], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
