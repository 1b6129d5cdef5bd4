package eval

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

func (e *Evaluator) findDatasets(ctx context.Context, op query.Select) ([]ir.Dataset, error) {
	f := store.DatasetFilter{
		IDs:             op.Datasets,
		Genomes:         op.Genomes,
		Kind:            op.DatasetKind,
		EpigeneticMarks: op.EpigeneticMarks,
		Biosources:      op.Biosources,
		Samples:         op.Samples,
		Techniques:      op.Techniques,
		Projects:        op.Projects,
	}
	return e.store.FindDatasets(ctx, f)
}

func (e *Evaluator) selectRows(ctx context.Context, op query.Select) (region.Iterator, error) {
	datasets, err := e.findDatasets(ctx, op)
	if err != nil {
		return nil, err
	}
	w := store.Window{Chrom: op.Chromosome, Start: op.Start, End: op.End}
	inputs := make([]region.Iterator, 0, len(datasets))
	for _, d := range datasets {
		it, err := e.store.ReadRows(ctx, d.ID, w)
		if err != nil {
			closeAll(inputs)
			return nil, err
		}
		inputs = append(inputs, region.WithContext(ctx, it))
	}
	if len(inputs) == 0 {
		return region.Empty(), nil
	}
	return region.Merge(inputs...), nil
}

func (e *Evaluator) filterRows(ctx context.Context, n *query.Node, op query.Filter) (region.Iterator, error) {
	schema, err := e.Schema(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	if _, err := column(schema, op.Column); err != nil {
		return nil, err
	}
	in, err := e.rows(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}

	var keep func(string) bool
	if op.ValueType == query.FilterNumber {
		want, err := strconv.ParseFloat(op.Value, 64)
		if err != nil {
			in.Close()
			return nil, ir.Errorf(ir.CodeInvalidArguments, "filter value %q is not a number", op.Value)
		}
		keep = func(v string) bool {
			got, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return false
			}
			return compare(op.Op, cmpFloat(got, want))
		}
	} else {
		keep = func(v string) bool { return compare(op.Op, strings.Compare(v, op.Value)) }
	}
	return region.Filter(in, func(r region.Row) (bool, error) {
		v, _ := rowValue(r, op.Column)
		return keep(v), nil
	}), nil
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compare(op string, c int) bool {
	switch op {
	case query.OpEqual:
		return c == 0
	case query.OpNotEqual:
		return c != 0
	case query.OpLess:
		return c < 0
	case query.OpLessEqual:
		return c <= 0
	case query.OpGreater:
		return c > 0
	case query.OpGreaterEqual:
		return c >= 0
	}
	return false
}

// threshold returns the overlap test of an Overlap operator.
func threshold(op query.Overlap) func(a, b region.Row) bool {
	if op.Unit == query.UnitPercent {
		return func(a, b region.Row) bool {
			return region.OverlapLength(a, b)*100 >= op.MinOverlap*a.Length()
		}
	}
	return func(a, b region.Row) bool {
		return region.OverlapLength(a, b) >= op.MinOverlap
	}
}

// overlapRows keeps the rows of the first input that overlap (keep) or do
// not overlap (!keep) a row of the second input passing test.
func (e *Evaluator) overlapRows(ctx context.Context, n *query.Node, keep bool, test func(a, b region.Row) bool) (region.Iterator, error) {
	a, err := e.rows(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	b, err := e.rows(ctx, n.Inputs[1])
	if err != nil {
		a.Close()
		return nil, err
	}
	sweep := region.NewSweeper(b)
	it := region.Filter(a, func(r region.Row) (bool, error) {
		hits, err := sweep.Overlapping(r)
		if err != nil {
			return false, err
		}
		matched := slices.ContainsFunc(hits, func(h region.Row) bool { return test(r, h) })
		return matched == keep, nil
	})
	return withClosers(it, b), nil
}

func (e *Evaluator) mergeRows(ctx context.Context, n *query.Node) (region.Iterator, error) {
	inputs := make([]region.Iterator, 0, len(n.Inputs))
	for _, in := range n.Inputs {
		it, err := e.rows(ctx, in)
		if err != nil {
			closeAll(inputs)
			return nil, err
		}
		inputs = append(inputs, it)
	}
	return region.Merge(inputs...), nil
}

func (e *Evaluator) aggregateRows(ctx context.Context, n *query.Node, op query.Aggregate) (region.Iterator, error) {
	schema, err := e.Schema(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	if _, err := numericColumn(schema, op.Column); err != nil {
		return nil, err
	}
	data, err := e.rows(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	ranges, err := e.rows(ctx, n.Inputs[1])
	if err != nil {
		data.Close()
		return nil, err
	}
	return &aggregateIterator{ranges: ranges, data: data, sweep: region.NewSweeper(data), column: op.Column}, nil
}

type aggregateIterator struct {
	ranges region.Iterator
	data   region.Iterator
	sweep  *region.Sweeper
	column string
	row    region.Row
	err    error
}

func (a *aggregateIterator) Next() bool {
	if a.err != nil || !a.ranges.Next() {
		return false
	}
	r := a.ranges.Row()
	hits, err := a.sweep.Overlapping(r)
	if err != nil {
		a.err = err
		return false
	}
	values := make([]float64, 0, len(hits))
	for _, h := range hits {
		v, ok := rowValue(h, a.column)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			a.err = ir.Errorf(ir.CodeTypeIncompatible, "value %q of column %s is not numeric", v, a.column).WithToken(v)
			return false
		}
		values = append(values, f)
	}

	fields := make(map[string]string, len(r.Fields)+len(format.AggregateColumns))
	for k, v := range r.Fields {
		fields[k] = v
	}
	for k, v := range Summarize(values).Fields() {
		fields[k] = v
	}
	r.Fields = fields
	a.row = r
	return true
}

func (a *aggregateIterator) Row() region.Row { return a.row }

func (a *aggregateIterator) Err() error {
	if a.err != nil {
		return a.err
	}
	return a.ranges.Err()
}

func (a *aggregateIterator) Close() error {
	return errors.Join(a.ranges.Close(), a.data.Close())
}

func (e *Evaluator) tilingRows(ctx context.Context, op query.Tiling) (region.Iterator, error) {
	g, err := e.store.Genome(ctx, op.Genome)
	if err != nil {
		return nil, err
	}
	var chroms []ir.Chromosome
	for _, c := range g.Chromosomes {
		if len(op.Chromosomes) == 0 || slices.Contains(op.Chromosomes, c.Name) {
			chroms = append(chroms, c)
		}
	}
	sort.Slice(chroms, func(i, j int) bool { return chroms[i].Name < chroms[j].Name })
	return region.WithContext(ctx, &tilingIterator{chroms: chroms, size: op.Size}), nil
}

// tilingIterator generates windows [i*size, min((i+1)*size, length)) per
// chromosome without materializing them.
type tilingIterator struct {
	chroms []ir.Chromosome
	size   int64
	idx    int
	next   int64
	row    region.Row
}

func (t *tilingIterator) Next() bool {
	for t.idx < len(t.chroms) {
		c := t.chroms[t.idx]
		if t.next < c.Length {
			start := t.next
			t.next = min(start+t.size, c.Length)
			t.row = region.Row{Chrom: c.Name, Start: start, End: t.next}
			return true
		}
		t.idx++
		t.next = 0
	}
	return false
}

func (t *tilingIterator) Row() region.Row { return t.row }
func (t *tilingIterator) Err() error      { return nil }
func (t *tilingIterator) Close() error    { return nil }

// resize applies a coordinate transform clamped to the chromosome lengths
// of the node's genomes. Rows that become empty are dropped.
func (e *Evaluator) resize(ctx context.Context, n *query.Node, fn func(region.Row) (int64, int64)) (region.Iterator, error) {
	lengths, err := e.genomeLengths(ctx, n.Genomes)
	if err != nil {
		return nil, err
	}
	in, err := e.rows(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	return region.Resort(in, func(r region.Row) (region.Row, bool, error) {
		start, end := fn(r)
		start = max(start, 0)
		if length, ok := lengths[r.Chrom]; ok {
			end = min(end, length)
		}
		if end <= start {
			return r, false, nil
		}
		return r.WithCoordinates(start, end), true, nil
	}), nil
}

func extendTransform(op query.Extend) func(region.Row) (int64, int64) {
	return func(r region.Row) (int64, int64) {
		dir := op.Direction
		if op.UseStrand && r.Strand() == "-" {
			switch dir {
			case query.DirectionForward:
				dir = query.DirectionBackward
			case query.DirectionBackward:
				dir = query.DirectionForward
			}
		}
		start, end := r.Start, r.End
		if dir == query.DirectionBackward || dir == query.DirectionBoth {
			start -= op.Length
		}
		if dir == query.DirectionForward || dir == query.DirectionBoth {
			end += op.Length
		}
		return start, end
	}
}

func flankTransform(op query.Flank) func(region.Row) (int64, int64) {
	return func(r region.Row) (int64, int64) {
		off, length := op.StartOffset, op.Length
		if op.UseStrand && r.Strand() == "-" {
			if off >= 0 {
				return r.Start - off - length, r.Start - off
			}
			return r.End - off - length, r.End - off
		}
		if off >= 0 {
			return r.End + off, r.End + off + length
		}
		return r.Start + off, r.Start + off + length
	}
}

func (e *Evaluator) inputRegions(ctx context.Context, op query.InputRegions) (region.Iterator, error) {
	lengths, err := e.genomeLengths(ctx, []string{op.Genome})
	if err != nil {
		return nil, err
	}
	rows, err := region.Parse(op.RawText, region.ParseOptions{Lengths: lengths})
	if err != nil {
		return nil, err
	}
	return region.FromSlice(rows), nil
}

func (e *Evaluator) cachedRows(ctx context.Context, n *query.Node) (region.Iterator, error) {
	if e.cache == nil {
		return e.rows(ctx, n.Inputs[0])
	}
	if rows, ok := e.cache.CachedRows(n.Key); ok {
		return region.FromSlice(rows), nil
	}
	in, err := e.rows(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	rows, err := region.Collect(region.WithContext(ctx, in))
	if err != nil {
		return nil, err
	}
	e.cache.StoreRows(n.Key, rows)
	return region.FromSlice(rows), nil
}

// withClosers closes extra iterators together with it.
func withClosers(it region.Iterator, extra ...region.Iterator) region.Iterator {
	return &closingIterator{Iterator: it, extra: extra}
}

type closingIterator struct {
	region.Iterator
	extra []region.Iterator
}

func (c *closingIterator) Close() error {
	errs := []error{c.Iterator.Close()}
	for _, it := range c.extra {
		errs = append(errs, it.Close())
	}
	return errors.Join(errs...)
}

func closeAll(its []region.Iterator) {
	for _, it := range its {
		it.Close()
	}
}
