package eval

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, Stats{Count: 4, Min: 1, Max: 4, Median: 2.5, Mean: 2.5, Var: 1.25, SD: 1.118, Sum: 10}, s)

	odd := Summarize([]float64{7, 1, 3})
	assert.Equal(t, 3.0, odd.Median)
	assert.Equal(t, 3.6667, odd.Mean)

	pop := Summarize([]float64{9, 2, 4, 4, 5, 4, 7, 5})
	assert.Equal(t, 4.5, pop.Median)
	assert.Equal(t, 5.0, pop.Mean)
	assert.Equal(t, 4.0, pop.Var)
	assert.Equal(t, 2.0, pop.SD)

	one := Summarize([]float64{3.25})
	assert.Equal(t, Stats{Count: 1, Min: 3.25, Max: 3.25, Median: 3.25, Mean: 3.25, Sum: 3.25}, one)
}

func TestStatsFields(t *testing.T) {
	fields := Summarize([]float64{1.5, 2.5}).Fields()
	assert.Equal(t, "2", fields[format.AggCount])
	assert.Equal(t, "2", fields[format.AggMean])
	assert.Equal(t, "4", fields[format.AggSum])
	assert.Equal(t, "0.25", fields[format.AggVar])
	assert.Len(t, fields, len(format.AggregateColumns))

	empty := Summarize(nil).Fields()
	assert.Equal(t, "0", empty[format.AggCount])
	for _, name := range format.AggregateColumns {
		if name != format.AggCount {
			assert.Equal(t, "", empty[name], name)
		}
	}
}

func TestStatsValue(t *testing.T) {
	s := Summarize([]float64{2, 4})
	for _, fn := range MatrixFunctions {
		_, ok := s.Value(fn)
		assert.True(t, ok, fn)
	}
	v, _ := s.Value(format.AggMax)
	assert.Equal(t, 4.0, v)
	_, ok := s.Value("mode")
	assert.False(t, ok)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 2.0, Round4(2.00004))
	assert.Equal(t, -1.2346, Round4(-1.23456))
	assert.True(t, math.IsInf(Round4(math.Inf(1)), 1))
}

func TestOddsRatioAndPValue(t *testing.T) {
	assert.Equal(t, 4.0, oddsRatio(2, 1, 1, 2))
	assert.True(t, math.IsInf(oddsRatio(3, 0, 2, 1), 1))
	assert.Equal(t, 0.0, pValueLog(0, 4, 4, 2))

	// P(X >= 3) for 3 of 3 drawn from 3 marked in 6 is 1/20.
	assert.Equal(t, Round4(-math.Log10(1.0/20)), pValueLog(3, 0, 0, 3))
}
