package eval

import (
	"math"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
)

// Stats summarizes a list of values. Variance is the population variance.
// Every field but Count is rounded to 4 decimal places.
type Stats struct {
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Var    float64 `json:"var"`
	SD     float64 `json:"sd"`
	Sum    float64 `json:"sum"`
}

// Summarize computes Stats over values.
func Summarize(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	sum := floats.Sum(sorted)
	mean, variance := stat.PopMeanVariance(sorted, nil)

	// stat.Quantile picks the lower middle value; the median here averages
	// the two middle values.
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Stats{
		Count:  int64(n),
		Min:    Round4(sorted[0]),
		Max:    Round4(sorted[n-1]),
		Median: Round4(median),
		Mean:   Round4(mean),
		Var:    Round4(variance),
		SD:     Round4(math.Sqrt(variance)),
		Sum:    Round4(sum),
	}
}

// Fields renders the statistics as aggregation columns. Without values
// only @AGG.COUNT is set; the other columns are empty.
func (s Stats) Fields() map[string]string {
	fields := map[string]string{format.AggCount: formatInt(s.Count)}
	for _, name := range format.AggregateColumns {
		if name == format.AggCount {
			continue
		}
		if s.Count == 0 {
			fields[name] = ""
			continue
		}
		v, _ := s.Value(name)
		fields[name] = formatFloat(v)
	}
	return fields
}

// Value returns the statistic named by an aggregation column or by its
// lower-case function name ("mean", "sd", ...).
func (s Stats) Value(name string) (float64, bool) {
	switch name {
	case format.AggMin, "min":
		return s.Min, true
	case format.AggMax, "max":
		return s.Max, true
	case format.AggMedian, "median":
		return s.Median, true
	case format.AggMean, "mean":
		return s.Mean, true
	case format.AggVar, "var":
		return s.Var, true
	case format.AggSD, "sd":
		return s.SD, true
	case format.AggCount, "count":
		return float64(s.Count), true
	case format.AggSum, "sum":
		return s.Sum, true
	}
	return 0, false
}

// Round4 rounds half away from zero to 4 decimal places.
func Round4(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	return math.Round(v*10000) / 10000
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
