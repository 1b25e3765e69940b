package output

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SummaryStats describes one aggregate metric across realizations.
type SummaryStats struct {
	Mean   float64
	StdDev float64
	Min    float64
	P10    float64
	Median float64
	P90    float64
	Max    float64
}

// Describe computes summary statistics over a realization vector.
func Describe(values []float64) SummaryStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return SummaryStats{
		Mean:   stat.Mean(sorted, nil),
		StdDev: stat.StdDev(sorted, nil),
		Min:    sorted[0],
		P10:    stat.Quantile(0.10, stat.Empirical, sorted, nil),
		Median: stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.90, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
}

// WriteSummary renders the aggregate consequence report to the console.
func WriteSummary(w io.Writer, cost, timeParallel, timeSequential []float64) error {
	if len(cost) == 0 {
		return fmt.Errorf("no aggregate results to summarize")
	}
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintln(w, "AGGREGATE REPAIR CONSEQUENCES")
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Realizations: %d\n\n", len(cost))

	writeMetric(w, "Repair Cost", Describe(cost))
	writeMetric(w, "Repair Time (parallel across floors)", Describe(timeParallel))
	writeMetric(w, "Repair Time (sequential)", Describe(timeSequential))
	return nil
}

func writeMetric(w io.Writer, name string, s SummaryStats) {
	fmt.Fprintln(w, name)
	fmt.Fprintln(w, "-----------------------------------------------------------------")
	fmt.Fprintf(w, "  Mean:    %14.2f    Std Dev: %14.2f\n", s.Mean, s.StdDev)
	fmt.Fprintf(w, "  Min:     %14.2f    Max:     %14.2f\n", s.Min, s.Max)
	fmt.Fprintf(w, "  10%%:     %14.2f    Median:  %14.2f    90%%: %14.2f\n", s.P10, s.Median, s.P90)
	fmt.Fprintln(w)
}
