package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/coltype"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// Summary reports what Apply wrote.
type Summary struct {
	Genomes  int               `json:"genomes"`
	Columns  int               `json:"columns"`
	Terms    int               `json:"terms"`
	Datasets int               `json:"datasets"`
	Regions  int64             `json:"regions"`
	IDs      map[string]string `json:"ids"` // dataset name -> id
}

// Apply writes the catalog loaded from l.Dir into st.
func (l *Loaded) Apply(ctx context.Context, st *store.Store) (*Summary, error) {
	return Apply(ctx, st, l.Catalog, l.Dir)
}

// Apply writes c into st: genomes and sequences, column types, terms, then
// datasets with their regions. Dataset files are resolved against dir.
//
// Writes are idempotent: a definition that already exists is kept and a
// dataset whose name is taken keeps its id and regions.
//
// Dataset metadata must name known terms (synonyms are resolved to the
// canonical name), every region must lie inside its chromosome, and every
// value must be valid for its column type.
func Apply(ctx context.Context, st *store.Store, c *Catalog, dir string) (*Summary, error) {
	sum := &Summary{IDs: make(map[string]string)}

	for _, g := range c.Genomes {
		if err := st.PutGenome(ctx, g.Genome); err != nil {
			return nil, err
		}
		for chrom, seq := range g.Sequences {
			if err := st.PutSequence(ctx, g.Genome.Name, chrom, seq); err != nil {
				return nil, err
			}
		}
		sum.Genomes++
	}
	for _, col := range c.Columns {
		if err := st.PutColumnType(ctx, col); err != nil {
			return nil, err
		}
		sum.Columns++
	}
	n, err := putTerms(ctx, st, c.Terms)
	if err != nil {
		return nil, err
	}
	sum.Terms = n

	types := coltype.New(st)
	for _, spec := range c.Datasets {
		id, rows, err := putDataset(ctx, st, types, spec, dir)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", spec.Dataset.Name, err)
		}
		sum.IDs[spec.Dataset.Name] = id
		sum.Datasets++
		sum.Regions += int64(rows)
	}
	slog.Info("catalog applied", "genomes", sum.Genomes, "columns", sum.Columns, "terms", sum.Terms,
		"datasets", sum.Datasets, "regions", sum.Regions)
	return sum, nil
}

// putTerms writes terms so that every biosource follows its parents,
// whatever the declaration order.
func putTerms(ctx context.Context, st *store.Store, terms []store.Term) (int, error) {
	known := make(map[string]bool)
	pending := terms
	written := 0
	for len(pending) > 0 {
		var next []store.Term
		for _, t := range pending {
			if !parentsKnown(ctx, st, known, t) {
				next = append(next, t)
				continue
			}
			if err := st.PutTerm(ctx, t); err != nil {
				return written, err
			}
			known[ir.NormalizeName(t.Name)] = true
			written++
		}
		if len(next) == len(pending) {
			t := next[0]
			return written, ir.Errorf(ir.CodeReferenceNotFound,
				"biosource %s: parent not found (or parents form a cycle)", t.Name).WithToken(t.Name)
		}
		pending = next
	}
	return written, nil
}

func parentsKnown(ctx context.Context, st *store.Store, known map[string]bool, t store.Term) bool {
	for _, p := range t.Parents {
		if known[ir.NormalizeName(p)] {
			continue
		}
		if _, err := st.ResolveTerm(ctx, ir.TermBiosource, p); err != nil {
			return false
		}
	}
	return true
}

func putDataset(ctx context.Context, st *store.Store, types *coltype.Registry, spec DatasetSpec, dir string) (string, int, error) {
	d := spec.Dataset
	d.Columns = slices.Clone(d.Columns)
	genome, err := st.Genome(ctx, d.Genome)
	if err != nil {
		return "", 0, err
	}
	d.Genome = genome.Name

	metadata := []struct {
		kind  ir.TermKind
		value *string
	}{
		{ir.TermEpigeneticMark, &d.EpigeneticMark},
		{ir.TermBiosource, &d.Biosource},
		{ir.TermSample, &d.Sample},
		{ir.TermTechnique, &d.Technique},
		{ir.TermProject, &d.Project},
	}
	for _, m := range metadata {
		if *m.value == "" {
			continue
		}
		if *m.value, err = st.ResolveTerm(ctx, m.kind, *m.value); err != nil {
			return "", 0, err
		}
	}

	extra := make([]string, 0, len(d.Columns))
	for i, c := range d.Columns {
		def, err := types.Get(ctx, c.Name)
		if err != nil {
			return "", 0, err
		}
		if def.Kind == ir.KindCalculated {
			return "", 0, ir.Errorf(ir.CodeTypeIncompatible, "calculated column %s cannot be stored", c.Name).WithToken(c.Name)
		}
		d.Columns[i] = def
		if i >= len(ir.BaseColumns) {
			extra = append(extra, c.Name)
		}
	}

	text := spec.Regions
	if spec.File != "" {
		path := spec.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", 0, fmt.Errorf("read regions: %w", err)
		}
		text = string(data)
	}

	lengths := make(map[string]int64, len(genome.Chromosomes))
	for _, c := range genome.Chromosomes {
		lengths[c.Name] = c.Length
	}
	rows, err := region.Parse(text, region.ParseOptions{Columns: extra, Lengths: lengths})
	if err != nil {
		return "", 0, err
	}
	for _, r := range rows {
		for _, c := range d.Columns[len(ir.BaseColumns):] {
			if err := coltype.ValidateValue(c, r.Fields[c.Name]); err != nil {
				return "", 0, fmt.Errorf("region %s:%d-%d: %w", r.Chrom, r.Start, r.End, err)
			}
		}
	}

	id, err := st.PutDataset(ctx, d, rows)
	if err != nil {
		return "", 0, err
	}
	slog.Debug("dataset loaded", "name", d.Name, "id", id, "regions", len(rows))
	return id, len(rows), nil
}
