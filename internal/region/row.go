package region

import (
	"strconv"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Row is one genomic interval. Coordinates are half-open: [Start, End).
//
// DatasetID names the dataset the row was read from and is empty for rows
// synthesized by operators (tiling, input regions, aggregates). Fields holds
// the non-base column values as text, keyed by column name.
type Row struct {
	Chrom     string
	Start     int64
	End       int64
	DatasetID string
	Fields    map[string]string
}

// Length returns End - Start.
func (r Row) Length() int64 {
	return r.End - r.Start
}

// Value returns the text value of a column, including the base columns.
func (r Row) Value(column string) (string, bool) {
	switch column {
	case ir.ColumnChromosome:
		return r.Chrom, true
	case ir.ColumnStart:
		return strconv.FormatInt(r.Start, 10), true
	case ir.ColumnEnd:
		return strconv.FormatInt(r.End, 10), true
	}
	v, ok := r.Fields[column]
	return v, ok
}

// Strand returns the row's strand, "+" when absent.
func (r Row) Strand() string {
	if s := r.Fields[ir.ColumnStrand]; s != "" {
		return s
	}
	return "+"
}

// WithCoordinates returns a copy of r with new coordinates. Fields are shared.
func (r Row) WithCoordinates(start, end int64) Row {
	r.Start = start
	r.End = end
	return r
}

// Compare orders rows by chromosome, start, then end.
func Compare(a, b Row) int {
	if c := strings.Compare(a.Chrom, b.Chrom); c != 0 {
		return c
	}
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	case a.End < b.End:
		return -1
	case a.End > b.End:
		return 1
	}
	return 0
}

// Overlaps reports whether the half-open intervals share at least one base.
// Adjacent intervals ([a, b) and [b, c)) do not overlap.
func Overlaps(a, b Row) bool {
	return a.Chrom == b.Chrom && a.Start < b.End && b.Start < a.End
}

// OverlapLength returns the number of bases shared by a and b.
func OverlapLength(a, b Row) int64 {
	if !Overlaps(a, b) {
		return 0
	}
	return min(a.End, b.End) - max(a.Start, b.Start)
}
