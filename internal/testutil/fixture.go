package testutil

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// Fixture dataset names. Their ids are assigned in this order: e1 peaks_a,
// e2 peaks_b, e3 signal, gs4 genes, a5 cpg_islands, e6 mouse_peaks.
const (
	PeaksA     = "peaks_a"
	PeaksB     = "peaks_b"
	Signal     = "signal"
	Genes      = "genes"
	CpGIslands = "cpg_islands"
	MousePeaks = "mouse_peaks"
)

// Chr1Sequence is the loaded sequence of hg19 chr1.
var Chr1Sequence = strings.Repeat("ACGT", 250)

// Fixture is a store seeded with a small, fully known catalog.
//
// hg19 has chr1 (1000 bp, with sequence) and chr2 (500 bp); mm9 has chr1
// (2000 bp). Biosource "blood" is the parent of "K562" and "T cell".
type Fixture struct {
	Store *store.Store
	IDs   map[string]string // dataset name -> id
}

// NewFixture opens a store in t.TempDir() and seeds the catalog. The store
// is closed when the test ends.
func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err, "open fixture store")
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.PutGenome(ctx, ir.Genome{
		Name: "hg19",
		Chromosomes: []ir.Chromosome{
			{Name: "chr1", Length: 1000},
			{Name: "chr2", Length: 500},
		},
	}))
	require.NoError(t, s.PutGenome(ctx, ir.Genome{
		Name:        "mm9",
		Chromosomes: []ir.Chromosome{{Name: "chr1", Length: 2000}},
	}))
	require.NoError(t, s.PutSequence(ctx, "hg19", "chr1", Chr1Sequence))

	for _, c := range ColumnTypes() {
		require.NoError(t, s.PutColumnType(ctx, c), "column type %s", c.Name)
	}
	for _, term := range terms() {
		require.NoError(t, s.PutTerm(ctx, term), "term %s", term.Name)
	}

	f := &Fixture{Store: s, IDs: make(map[string]string)}
	for _, d := range datasets() {
		id, err := s.PutDataset(ctx, d.dataset, d.rows)
		require.NoError(t, err, "dataset %s", d.dataset.Name)
		f.IDs[d.dataset.Name] = id
	}
	return f
}

// ColumnTypes returns the column types registered by the fixture.
func ColumnTypes() []ir.ColumnType {
	return []ir.ColumnType{
		{Name: "NAME", Kind: ir.KindSimple, ValueType: ir.ValueString},
		{Name: "SCORE", Kind: ir.KindSimple, ValueType: ir.ValueDouble},
		{Name: "SIGNAL", Kind: ir.KindRange, ValueType: ir.ValueDouble, Min: 0, Max: 1000},
		{Name: "STRAND", Kind: ir.KindCategory, ValueType: ir.ValueString, Allowed: []string{"+", "-", "."}},
		{Name: "GENE_ID", Kind: ir.KindSimple, ValueType: ir.ValueString},
		{Name: "GENE_NAME", Kind: ir.KindSimple, ValueType: ir.ValueString},
		{Name: "DOUBLE_SCORE", Kind: ir.KindCalculated, Script: "return value_of('SCORE') * 2"},
	}
}

func terms() []store.Term {
	return []store.Term{
		{Kind: ir.TermEpigeneticMark, Name: "H3K4me3", Synonyms: []string{"H3K4 trimethylation"}},
		{Kind: ir.TermEpigeneticMark, Name: "H3K27ac"},
		{Kind: ir.TermBiosource, Name: "blood"},
		{Kind: ir.TermBiosource, Name: "K562", Parents: []string{"blood"}},
		{Kind: ir.TermBiosource, Name: "T cell", Synonyms: []string{"T lymphocyte"}, Parents: []string{"blood"}},
		{Kind: ir.TermBiosource, Name: "liver"},
		{Kind: ir.TermSample, Name: "s1"},
		{Kind: ir.TermTechnique, Name: "ChIP-seq"},
		{Kind: ir.TermProject, Name: "ENCODE"},
		{Kind: ir.TermProject, Name: "Blueprint"},
	}
}

type fixtureDataset struct {
	dataset ir.Dataset
	rows    []region.Row
}

func columns(names ...string) []ir.ColumnType {
	cols := []ir.ColumnType{{Name: ir.ColumnChromosome}, {Name: ir.ColumnStart}, {Name: ir.ColumnEnd}}
	for _, n := range names {
		cols = append(cols, ir.ColumnType{Name: n})
	}
	return cols
}

// Row builds a row with alternating field name/value pairs.
func Row(chrom string, start, end int64, fields ...string) region.Row {
	r := region.Row{Chrom: chrom, Start: start, End: end}
	if len(fields) > 0 {
		r.Fields = make(map[string]string, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			r.Fields[fields[i]] = fields[i+1]
		}
	}
	return r
}

func datasets() []fixtureDataset {
	return []fixtureDataset{
		{
			dataset: ir.Dataset{
				Name: PeaksA, Kind: ir.DatasetExperiment, Genome: "hg19",
				EpigeneticMark: "H3K4me3", Biosource: "K562", Sample: "s1", Technique: "ChIP-seq", Project: "ENCODE",
				Columns: columns("NAME", "SCORE", "STRAND"),
			},
			rows: []region.Row{
				Row("chr1", 100, 200, "NAME", "a1", "SCORE", "5", "STRAND", "+"),
				Row("chr1", 300, 400, "NAME", "a2", "SCORE", "10", "STRAND", "-"),
				Row("chr1", 500, 600, "NAME", "a3", "SCORE", "15", "STRAND", "+"),
				Row("chr2", 50, 150, "NAME", "a4", "SCORE", "20", "STRAND", "."),
			},
		},
		{
			dataset: ir.Dataset{
				Name: PeaksB, Kind: ir.DatasetExperiment, Genome: "hg19",
				EpigeneticMark: "H3K27ac", Biosource: "T cell", Technique: "ChIP-seq", Project: "Blueprint",
				Columns: columns("NAME", "SCORE"),
			},
			rows: []region.Row{
				Row("chr1", 150, 350, "NAME", "b1", "SCORE", "1"),
				Row("chr1", 700, 800, "NAME", "b2", "SCORE", "2"),
				Row("chr2", 400, 450, "NAME", "b3", "SCORE", "3"),
			},
		},
		{
			dataset: ir.Dataset{
				Name: Signal, Kind: ir.DatasetExperiment, Genome: "hg19",
				EpigeneticMark: "H3K4me3", Biosource: "liver", Technique: "ChIP-seq", Project: "ENCODE",
				Columns: columns("SIGNAL"),
			},
			rows: []region.Row{
				Row("chr1", 125, 150, "SIGNAL", "1"),
				Row("chr1", 150, 175, "SIGNAL", "2"),
				Row("chr1", 175, 200, "SIGNAL", "3"),
				Row("chr1", 200, 225, "SIGNAL", "4"),
				Row("chr1", 225, 250, "SIGNAL", "5"),
			},
		},
		{
			dataset: ir.Dataset{
				Name: Genes, Kind: ir.DatasetGeneModel, Genome: "hg19",
				Columns: columns("GENE_ID", "GENE_NAME", "STRAND"),
			},
			rows: []region.Row{
				Row("chr1", 90, 250, "GENE_ID", "ENSG01", "GENE_NAME", "ALPHA", "STRAND", "+"),
				Row("chr1", 480, 900, "GENE_ID", "ENSG02", "GENE_NAME", "BETA", "STRAND", "-"),
			},
		},
		{
			dataset: ir.Dataset{
				Name: CpGIslands, Kind: ir.DatasetAnnotation, Genome: "hg19",
				Columns: columns(),
			},
			rows: []region.Row{
				Row("chr1", 0, 50),
				Row("chr1", 600, 700),
			},
		},
		{
			dataset: ir.Dataset{
				Name: MousePeaks, Kind: ir.DatasetExperiment, Genome: "mm9",
				EpigeneticMark: "H3K4me3", Biosource: "liver", Technique: "ChIP-seq", Project: "ENCODE",
				Columns: columns("NAME"),
			},
			rows: []region.Row{
				Row("chr1", 10, 20, "NAME", "m1"),
			},
		},
	}
}
