package eval

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// MatrixFunctions lists the aggregation functions accepted by ScoreMatrix.
var MatrixFunctions = []string{"min", "max", "median", "mean", "var", "sd", "count", "sum"}

// MatrixColumn selects the values of one dataset column.
type MatrixColumn struct {
	Dataset string `json:"dataset"`
	Column  string `json:"column"`
}

type matrixInput struct {
	dataset ir.Dataset
	column  string
	it      region.Iterator
	sweep   *region.Sweeper
}

// ScoreMatrix aggregates, for every row of regions, the values of each
// dataset column overlapping it with function. Cells without values are
// empty.
func (e *Evaluator) ScoreMatrix(ctx context.Context, columns []MatrixColumn, function string, regions *query.Node) (Table, error) {
	if !slices.Contains(MatrixFunctions, function) {
		return Table{}, ir.Errorf(ir.CodeInvalidArguments, "unknown aggregation function %q", function).WithToken(function)
	}
	if len(columns) == 0 {
		return Table{}, ir.Errorf(ir.CodeInvalidArguments, "score matrix needs at least one dataset column")
	}

	inputs := make([]*matrixInput, 0, len(columns))
	defer func() {
		for _, in := range inputs {
			in.it.Close()
		}
	}()
	header := []string{ir.ColumnChromosome, ir.ColumnStart, ir.ColumnEnd}
	for _, mc := range columns {
		d, err := e.store.ResolveDataset(ctx, mc.Dataset)
		if err != nil {
			return Table{}, err
		}
		if !slices.Contains(regions.Genomes, d.Genome) {
			return Table{}, ir.Errorf(ir.CodeIncompatibleGenome, "dataset %s belongs to genome %s, regions range over %s",
				d.Name, d.Genome, strings.Join(regions.Genomes, ", ")).WithToken(mc.Dataset)
		}
		if _, err := numericColumn(append(slices.Clone(baseColumns), d.Columns...), mc.Column); err != nil {
			return Table{}, err
		}
		it, err := e.store.ReadRows(ctx, d.ID, store.Window{})
		if err != nil {
			return Table{}, err
		}
		inputs = append(inputs, &matrixInput{dataset: d, column: mc.Column, it: it, sweep: region.NewSweeper(it)})
		header = append(header, d.Name)
	}

	t := Table{Header: header, Rows: [][]string{}}
	err := e.each(ctx, regions, func(r region.Row) error {
		rec := []string{r.Chrom, formatInt(r.Start), formatInt(r.End)}
		for _, in := range inputs {
			hits, err := in.sweep.Overlapping(r)
			if err != nil {
				return err
			}
			values := make([]float64, 0, len(hits))
			for _, h := range hits {
				v, ok := rowValue(h, in.column)
				if !ok || v == "" {
					continue
				}
				f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if err != nil {
					return ir.Errorf(ir.CodeTypeIncompatible, "value %q of column %s is not numeric", v, in.column).WithToken(v)
				}
				values = append(values, f)
			}
			cell := ""
			if len(values) > 0 {
				v, _ := Summarize(values).Value(function)
				cell = formatFloat(v)
			}
			rec = append(rec, cell)
		}
		t.Rows = append(t.Rows, rec)
		return nil
	})
	if err != nil {
		return Table{}, err
	}
	return t, nil
}

