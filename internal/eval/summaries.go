package eval

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
)

// each runs fn over every row of n.
func (e *Evaluator) each(ctx context.Context, n *query.Node, fn func(region.Row) error) error {
	it, err := e.Rows(ctx, n)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		if err := fn(it.Row()); err != nil {
			return err
		}
	}
	return it.Err()
}

// Count returns the number of rows of n.
func (e *Evaluator) Count(ctx context.Context, n *query.Node) (int64, error) {
	var count int64
	err := e.each(ctx, n, func(region.Row) error {
		count++
		return nil
	})
	return count, err
}

// DatasetRef names a dataset contributing rows to a query.
type DatasetRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Experiments returns the stored datasets that contribute at least one
// row to n, ordered by id.
func (e *Evaluator) Experiments(ctx context.Context, n *query.Node) ([]DatasetRef, error) {
	seen := make(map[string]bool)
	err := e.each(ctx, n, func(r region.Row) error {
		if r.DatasetID != "" {
			seen[r.DatasetID] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	refs := make([]DatasetRef, 0, len(seen))
	for id := range seen {
		d, err := e.store.Dataset(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, DatasetRef{ID: d.ID, Name: d.Name})
	}
	sort.Slice(refs, func(i, j int) bool { return compareIDs(refs[i].ID, refs[j].ID) < 0 })
	return refs, nil
}

// compareIDs orders dataset ids by prefix, then numerically.
func compareIDs(a, b string) int {
	pa, na := splitID(a)
	pb, nb := splitID(b)
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	}
	return strings.Compare(a, b)
}

func splitID(id string) (string, int64) {
	i := strings.IndexAny(id, "0123456789")
	if i < 0 {
		return id, 0
	}
	n, _ := strconv.ParseInt(id[i:], 10, 64)
	return id[:i], n
}

// Histogram is the result of Binning. Ranges holds the bar boundaries
// (one more than the number of bars); Counts the number of values per bar.
type Histogram struct {
	Ranges []float64 `json:"ranges"`
	Counts []int64   `json:"counts"`
}

// Binning distributes the values of a numeric column over bars equal-width
// bars spanning the observed range. The maximum falls into the last bar.
func (e *Evaluator) Binning(ctx context.Context, n *query.Node, name string, bars int) (Histogram, error) {
	if bars <= 0 {
		return Histogram{}, ir.Errorf(ir.CodeInvalidArguments, "binning needs at least one bar, got %d", bars)
	}
	schema, err := e.Schema(ctx, n)
	if err != nil {
		return Histogram{}, err
	}
	if _, err := numericColumn(schema, name); err != nil {
		return Histogram{}, err
	}
	var values []float64
	err = e.each(ctx, n, func(r region.Row) error {
		v, ok := rowValue(r, name)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return ir.Errorf(ir.CodeTypeIncompatible, "value %q of column %s is not numeric", v, name).WithToken(v)
		}
		values = append(values, f)
		return nil
	})
	if err != nil {
		return Histogram{}, err
	}

	h := Histogram{Ranges: []float64{}, Counts: make([]int64, bars)}
	if len(values) == 0 {
		return h, nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	width := (hi - lo) / float64(bars)
	for i := 0; i <= bars; i++ {
		h.Ranges = append(h.Ranges, Round4(lo+float64(i)*width))
	}
	for _, v := range values {
		idx := 0
		if width > 0 {
			idx = min(int((v-lo)/width), bars-1)
		}
		h.Counts[idx]++
	}
	return h, nil
}

// Distinct counts the rows per distinct value of a column.
func (e *Evaluator) Distinct(ctx context.Context, n *query.Node, name string) (map[string]int64, error) {
	schema, err := e.Schema(ctx, n)
	if err != nil {
		return nil, err
	}
	if _, err := column(schema, name); err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	err = e.each(ctx, n, func(r region.Row) error {
		v, _ := rowValue(r, name)
		counts[v]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ChromosomeCoverage reports how much of a chromosome the rows cover.
// Coverage is Covered / Size rounded to 4 decimal places.
type ChromosomeCoverage struct {
	Chromosome string  `json:"chromosome"`
	Size       int64   `json:"size"`
	Covered    int64   `json:"covered"`
	Coverage   float64 `json:"coverage"`
}

// Coverage computes, for every chromosome of genome, the number of bases
// covered by at least one row of n. Overlapping rows count once.
func (e *Evaluator) Coverage(ctx context.Context, n *query.Node, genome string) ([]ChromosomeCoverage, error) {
	g, err := e.store.Genome(ctx, genome)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]int64)
	var (
		chrom      string
		start, end int64 = 0, -1
	)
	flush := func() {
		if end > start {
			covered[chrom] += end - start
		}
	}
	err = e.each(ctx, n, func(r region.Row) error {
		if r.Chrom != chrom || r.Start > end {
			flush()
			chrom, start, end = r.Chrom, r.Start, r.End
			return nil
		}
		end = max(end, r.End)
		return nil
	})
	if err != nil {
		return nil, err
	}
	flush()

	out := make([]ChromosomeCoverage, 0, len(g.Chromosomes))
	for _, c := range g.Chromosomes {
		cov := min(covered[c.Name], c.Length)
		ratio := 0.0
		if c.Length > 0 {
			ratio = Round4(float64(cov) / float64(c.Length))
		}
		out = append(out, ChromosomeCoverage{Chromosome: c.Name, Size: c.Length, Covered: cov, Coverage: ratio})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chromosome < out[j].Chromosome })
	return out, nil
}
