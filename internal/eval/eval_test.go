package eval

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/script"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/testutil"
)

const owner = "session-1"

type env struct {
	fixture *testutil.Fixture
	graph   *query.Graph
	eval    *Evaluator
}

func newEnv(t *testing.T, cache RowCache) *env {
	t.Helper()
	f := testutil.NewFixture(t)
	sandbox, err := script.NewSandbox(8)
	require.NoError(t, err)
	return &env{
		fixture: f,
		graph:   query.NewGraph(f.Store),
		eval:    New(f.Store, sandbox, cache, script.DefaultInstructionLimit),
	}
}

func (e *env) node(t *testing.T, op query.Operator) *query.Node {
	t.Helper()
	n, err := e.graph.GetOrCreate(context.Background(), owner, op)
	require.NoError(t, err)
	return n
}

func (e *env) dataset(t *testing.T, name string) *query.Node {
	t.Helper()
	return e.node(t, query.Select{Datasets: []string{name}})
}

func (e *env) rows(t *testing.T, n *query.Node) []region.Row {
	t.Helper()
	it, err := e.eval.Rows(context.Background(), n)
	require.NoError(t, err)
	defer it.Close()
	rows, err := region.Collect(it)
	require.NoError(t, err)
	return rows
}

func (e *env) count(t *testing.T, n *query.Node) int64 {
	t.Helper()
	c, err := e.eval.Count(context.Background(), n)
	require.NoError(t, err)
	return c
}

func (e *env) rowsErr(t *testing.T, n *query.Node) error {
	t.Helper()
	it, err := e.eval.Rows(context.Background(), n)
	if err != nil {
		return err
	}
	defer it.Close()
	_, err = region.Collect(it)
	return err
}

// coords renders rows as "chrom:start-end" for compact comparisons.
func coords(rows []region.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Chrom + ":" + formatInt(r.Start) + "-" + formatInt(r.End)
	}
	return out
}

func requireCode(t *testing.T, err error, code ir.ErrorCode) *ir.Error {
	t.Helper()
	require.Error(t, err)
	e := ir.AsError(err)
	require.Equal(t, code, e.Code, "error: %v", err)
	return e
}

func TestSelect(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name string
		op   query.Select
		want int64
	}{
		{"genome", query.Select{Genomes: []string{"hg19"}}, 16},
		{"experiments", query.Select{Genomes: []string{"HG19"}, DatasetKind: ir.DatasetExperiment}, 12},
		{"mark synonym", query.Select{Genomes: []string{"hg19"}, EpigeneticMarks: []string{"h3k4 trimethylation"}}, 9},
		{"biosource", query.Select{Genomes: []string{"hg19"}, Biosources: []string{"blood"}}, 0},
		{"biosource expanded", query.Select{Genomes: []string{"hg19"}, Biosources: []string{"blood"}, ExpandBiosources: true}, 7},
		{"project and mark", query.Select{Genomes: []string{"hg19"}, Projects: []string{"encode"}, EpigeneticMarks: []string{"H3K4me3"}}, 9},
		{"window", query.Select{Datasets: []string{testutil.PeaksA}, Chromosome: "chr1", Start: 150, End: 450}, 2},
		{"open window", query.Select{Datasets: []string{testutil.PeaksA}, Chromosome: "chr1", Start: 350}, 2},
		{"other genome", query.Select{Genomes: []string{"mm9"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.count(t, e.node(t, tt.op)))
		})
	}
}

func TestSelectRowsAreSortedAcrossDatasets(t *testing.T) {
	e := newEnv(t, nil)
	n := e.node(t, query.Select{Datasets: []string{testutil.PeaksB, testutil.PeaksA}})

	rows := e.rows(t, n)
	assert.Equal(t, []string{
		"chr1:100-200", "chr1:150-350", "chr1:300-400", "chr1:500-600", "chr1:700-800",
		"chr2:50-150", "chr2:400-450",
	}, coords(rows))
	assert.Equal(t, e.fixture.IDs[testutil.PeaksA], rows[0].DatasetID)
	assert.Equal(t, e.fixture.IDs[testutil.PeaksB], rows[1].DatasetID)
	assert.Equal(t, "b1", rows[1].Fields["NAME"])
}

func TestFilter(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)

	tests := []struct {
		name string
		op   query.Filter
		want []string
	}{
		{"number", query.Filter{Column: "SCORE", Op: query.OpGreaterEqual, Value: "10", ValueType: query.FilterNumber}, []string{"a2", "a3", "a4"}},
		{"number exponent", query.Filter{Column: "SCORE", Op: query.OpLess, Value: "1e1", ValueType: query.FilterNumber}, []string{"a1"}},
		{"string", query.Filter{Column: "NAME", Op: query.OpEqual, Value: "a3", ValueType: query.FilterString}, []string{"a3"}},
		{"string not equal", query.Filter{Column: "STRAND", Op: query.OpNotEqual, Value: "+", ValueType: query.FilterString}, []string{"a2", "a4"}},
		{"base column", query.Filter{Column: "START", Op: query.OpGreater, Value: "250", ValueType: query.FilterNumber}, []string{"a2", "a3"}},
		{"length", query.Filter{Column: format.MetaLength, Op: query.OpEqual, Value: "100", ValueType: query.FilterNumber}, []string{"a1", "a2", "a3", "a4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := tt.op
			op.Input = a.ID
			var names []string
			for _, r := range e.rows(t, e.node(t, op)) {
				names = append(names, r.Fields["NAME"])
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestFilterNonNumericValuesNeverMatch(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	n := e.node(t, query.Filter{Input: a.ID, Column: "NAME", Op: query.OpNotEqual, Value: "0", ValueType: query.FilterNumber})
	assert.Zero(t, e.count(t, n))
}

func TestFilterUnknownColumn(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	n := e.node(t, query.Filter{Input: a.ID, Column: "SIGNAL", Op: query.OpEqual, Value: "1", ValueType: query.FilterNumber})

	_, err := e.eval.Rows(context.Background(), n)
	got := requireCode(t, err, ir.CodeUnknownColumn)
	assert.Equal(t, "SIGNAL", got.Token)
}

func TestIntersection(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	b := e.dataset(t, testutil.PeaksB)

	ab := e.node(t, query.Intersection{A: a.ID, B: b.ID})
	assert.Equal(t, []string{"chr1:100-200", "chr1:300-400"}, coords(e.rows(t, ab)))

	ba := e.node(t, query.Intersection{A: b.ID, B: a.ID})
	assert.Equal(t, []string{"chr1:150-350"}, coords(e.rows(t, ba)))
}

func TestOverlapPartition(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	b := e.dataset(t, testutil.PeaksB)
	total := e.count(t, a)

	tests := []struct {
		name     string
		min      int64
		unit     string
		wantKept int64
	}{
		{"any overlap", 0, query.UnitBasePairs, 2},
		{"bp at threshold", 50, query.UnitBasePairs, 2},
		{"bp above threshold", 51, query.UnitBasePairs, 0},
		{"percent at threshold", 50, query.UnitPercent, 2},
		{"percent above threshold", 60, query.UnitPercent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := e.node(t, query.Overlap{A: a.ID, B: b.ID, Keep: true, MinOverlap: tt.min, Unit: tt.unit})
			dropped := e.node(t, query.Overlap{A: a.ID, B: b.ID, Keep: false, MinOverlap: tt.min, Unit: tt.unit})

			k, d := e.count(t, kept), e.count(t, dropped)
			assert.Equal(t, tt.wantKept, k)
			assert.Equal(t, total, k+d)
		})
	}
}

func TestMerge(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	b := e.dataset(t, testutil.PeaksB)

	t.Run("self", func(t *testing.T) {
		m := e.node(t, query.Merge{Inputs: []string{a.ID, a.ID}})
		assert.Equal(t, e.rows(t, a), e.rows(t, m))
	})

	t.Run("disjoint", func(t *testing.T) {
		m := e.node(t, query.Merge{Inputs: []string{b.ID, a.ID}})
		rows := e.rows(t, m)
		assert.Len(t, rows, int(e.count(t, a)+e.count(t, b)))
		for i := 1; i < len(rows); i++ {
			assert.LessOrEqual(t, region.Compare(rows[i-1], rows[i]), 0, "rows %d and %d out of order", i-1, i)
		}
	})

	t.Run("duplicates kept", func(t *testing.T) {
		ab := e.node(t, query.Intersection{A: a.ID, B: b.ID})
		m := e.node(t, query.Merge{Inputs: []string{a.ID, ab.ID}})
		assert.Equal(t, int64(6), e.count(t, m))
	})
}

func TestAggregateCountsOverlappingRows(t *testing.T) {
	e := newEnv(t, nil)
	data := e.dataset(t, testutil.Signal)
	ranges := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr1\t150\t225"})

	n := e.node(t, query.Aggregate{Data: data.ID, Ranges: ranges.ID, Column: ir.ColumnStart})
	rows := e.rows(t, n)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "chr1:150-225", coords(rows)[0])
	assert.Equal(t, "3", r.Fields[format.AggCount])
	assert.Equal(t, "150", r.Fields[format.AggMin])
	assert.Equal(t, "200", r.Fields[format.AggMax])
	assert.Equal(t, "175", r.Fields[format.AggMean])
	assert.Equal(t, "175", r.Fields[format.AggMedian])
	assert.Equal(t, "525", r.Fields[format.AggSum])

	signal := e.node(t, query.Aggregate{Data: data.ID, Ranges: ranges.ID, Column: "SIGNAL"})
	rows = e.rows(t, signal)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0].Fields[format.AggMean])
	assert.Equal(t, "9", rows[0].Fields[format.AggSum])
}

func TestAggregateWithoutValues(t *testing.T) {
	e := newEnv(t, nil)
	data := e.dataset(t, testutil.Signal)
	ranges := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr1 0 100\nchr2 0 10"})

	rows := e.rows(t, e.node(t, query.Aggregate{Data: data.ID, Ranges: ranges.ID, Column: "SIGNAL"}))
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "0", r.Fields[format.AggCount])
		assert.Equal(t, "", r.Fields[format.AggMean])
	}
}

func TestFilterAggregateByCount(t *testing.T) {
	e := newEnv(t, nil)
	data := e.dataset(t, testutil.Signal)
	ranges := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr1 0 100\nchr1 150 225\nchr2 0 10"})
	agg := e.node(t, query.Aggregate{Data: data.ID, Ranges: ranges.ID, Column: "SIGNAL"})
	require.Len(t, e.rows(t, agg), 3)

	n := e.node(t, query.Filter{Input: agg.ID, Column: format.AggCount, Op: query.OpGreater, Value: "0", ValueType: query.FilterNumber})
	rows := e.rows(t, n)
	assert.Equal(t, []string{"chr1:150-225"}, coords(rows))
	assert.Equal(t, "3", rows[0].Fields[format.AggCount])
	assert.Equal(t, "3", rows[0].Fields[format.AggMean])

	mean := e.node(t, query.Filter{Input: agg.ID, Column: format.AggMean, Op: query.OpGreaterEqual, Value: "0", ValueType: query.FilterNumber})
	assert.Equal(t, []string{"chr1:150-225"}, coords(e.rows(t, mean)))
}

func TestAggregateNeedsNumericColumn(t *testing.T) {
	e := newEnv(t, nil)
	data := e.dataset(t, testutil.PeaksA)
	ranges := e.node(t, query.Tiling{Genome: "hg19", Size: 500})

	n := e.node(t, query.Aggregate{Data: data.ID, Ranges: ranges.ID, Column: "NAME"})
	requireCode(t, e.rowsErr(t, n), ir.CodeTypeIncompatible)
}

func TestTilingPartitionsChromosomes(t *testing.T) {
	e := newEnv(t, nil)
	lengths := map[string]int64{"chr1": 1000, "chr2": 500}

	for _, size := range []int64{1, 7, 300, 500, 1000, 5000} {
		n := e.node(t, query.Tiling{Genome: "hg19", Size: size})
		byChrom := make(map[string][]region.Row)
		for _, r := range e.rows(t, n) {
			byChrom[r.Chrom] = append(byChrom[r.Chrom], r)
		}
		for chrom, length := range lengths {
			windows := byChrom[chrom]
			require.Len(t, windows, int((length+size-1)/size), "size %d %s", size, chrom)
			var next int64
			for _, w := range windows {
				assert.Equal(t, next, w.Start, "size %d: gap or overlap on %s", size, chrom)
				next = w.End
			}
			assert.Equal(t, length, next, "size %d: %s not covered", size, chrom)
		}
	}
}

func TestTilingSelectedChromosomes(t *testing.T) {
	e := newEnv(t, nil)
	n := e.node(t, query.Tiling{Genome: "hg19", Size: 300, Chromosomes: []string{"chr2"}})
	assert.Equal(t, []string{"chr2:0-300", "chr2:300-500"}, coords(e.rows(t, n)))
}

func TestExtend(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)

	tests := []struct {
		name string
		op   query.Extend
		want []string
	}{
		{
			"both",
			query.Extend{Length: 50, Direction: query.DirectionBoth},
			[]string{"chr1:50-250", "chr1:250-450", "chr1:450-650", "chr2:0-200"},
		},
		{
			"forward with strand",
			query.Extend{Length: 50, Direction: query.DirectionForward, UseStrand: true},
			[]string{"chr1:100-250", "chr1:250-400", "chr1:500-650", "chr2:50-200"},
		},
		{
			"clamped to chromosome",
			query.Extend{Length: 1000, Direction: query.DirectionForward},
			[]string{"chr1:100-1000", "chr1:300-1000", "chr1:500-1000", "chr2:50-500"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := tt.op
			op.Input = a.ID
			rows := e.rows(t, e.node(t, op))
			assert.Equal(t, tt.want, coords(rows))
		})
	}
}

func TestFlank(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)

	tests := []struct {
		name string
		op   query.Flank
		want []string
	}{
		{
			"downstream",
			query.Flank{StartOffset: 0, Length: 20},
			[]string{"chr1:200-220", "chr1:400-420", "chr1:600-620", "chr2:150-170"},
		},
		{
			"upstream",
			query.Flank{StartOffset: -20, Length: 20},
			[]string{"chr1:80-100", "chr1:280-300", "chr1:480-500", "chr2:30-50"},
		},
		{
			"strand aware",
			query.Flank{StartOffset: 0, Length: 20, UseStrand: true},
			[]string{"chr1:200-220", "chr1:280-300", "chr1:600-620", "chr2:150-170"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := tt.op
			op.Input = a.ID
			rows := e.rows(t, e.node(t, op))
			assert.Equal(t, tt.want, coords(rows))
			for _, r := range rows {
				assert.NotEmpty(t, r.Fields["NAME"], "flanks keep the row fields")
			}
		})
	}
}

func TestInputRegionsOutOfRange(t *testing.T) {
	e := newEnv(t, nil)

	tests := []struct {
		name  string
		text  string
		line  int
		token string
	}{
		{"past chromosome end", "chr1 1 100000000000000000", 0, "100000000000000000"},
		{"overflows", "chr1 1 99999999999999999999", 0, "99999999999999999999"},
		{"end before start", "chr1 10 20\nchr1 30 5", 1, "5"},
		{"unknown chromosome", "chrX 1 2", 0, "chrX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := e.node(t, query.InputRegions{Genome: "hg19", RawText: tt.text})
			_, err := e.eval.Rows(context.Background(), n)
			got := requireCode(t, err, ir.CodeOutOfRangeRegion)
			assert.True(t, got.HasPosition)
			assert.Equal(t, tt.line, got.Line)
			assert.Equal(t, tt.token, got.Token)

			// Materializing again fails the same way.
			_, again := e.eval.Rows(context.Background(), n)
			assert.Equal(t, err.Error(), again.Error())
		})
	}
}

func TestRegionsProjection(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)

	cols, err := format.Parse("CHROMOSOME,START,NAME,@NAME,@BIOSOURCE,@PROJECT,@LENGTH,@CALCULATED(return value_of('SCORE') * 2)")
	require.NoError(t, err)
	table, err := e.eval.Regions(context.Background(), a, cols)
	require.NoError(t, err)

	assert.Equal(t, "CHROMOSOME", table.Header[0])
	assert.Equal(t, [][]string{
		{"chr1", "100", "a1", "peaks_a", "K562", "ENCODE", "100", "10"},
		{"chr1", "300", "a2", "peaks_a", "K562", "ENCODE", "100", "20"},
		{"chr1", "500", "a3", "peaks_a", "K562", "ENCODE", "100", "30"},
		{"chr2", "50", "a4", "peaks_a", "K562", "ENCODE", "100", "40"},
	}, table.Rows)
	lines := strings.SplitAfter(table.TSV(), "\n")
	assert.Equal(t, "chr1\t100\ta1\tpeaks_a\tK562\tENCODE\t100\t10\n", lines[0])
}

func TestRegionsMissingColumnsOfOtherDatasetsAreEmpty(t *testing.T) {
	e := newEnv(t, nil)
	n := e.node(t, query.Select{Datasets: []string{testutil.PeaksA, testutil.CpGIslands}, Chromosome: "chr1", End: 250})

	cols, err := format.Parse("START,NAME,@NAME")
	require.NoError(t, err)
	table, err := e.eval.Regions(context.Background(), n, cols)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"0", "", "cpg_islands"},
		{"100", "a1", "peaks_a"},
	}, table.Rows)
}

func TestRegionsGeneColumns(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)

	cols, err := format.Parse("NAME,@GENE_ID(genes),@GENE_NAME('genes')")
	require.NoError(t, err)
	table, err := e.eval.Regions(context.Background(), a, cols)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"a1", "ENSG01", "ALPHA"},
		{"a2", "", ""},
		{"a3", "ENSG02", "BETA"},
		{"a4", "", ""},
	}, table.Rows)

	cols, err = format.Parse("@GENE_NAME(peaks_b)")
	require.NoError(t, err)
	_, err = e.eval.Regions(context.Background(), a, cols)
	requireCode(t, err, ir.CodeReferenceNotFound)
}

func TestRegionsSequence(t *testing.T) {
	e := newEnv(t, nil)
	n := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr1 0 8\nchr1 2 5\nchr2 0 4"})

	cols, err := format.Parse("@SEQUENCE,@LENGTH")
	require.NoError(t, err)
	table, err := e.eval.Regions(context.Background(), n, cols)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"ACGTACGT", "8"},
		{"GTA", "3"},
		{"", "4"},
	}, table.Rows)
}

func TestRegionsErrors(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	ctx := context.Background()

	cols, err := format.Parse("CHROMOSOME,SIGNAL")
	require.NoError(t, err)
	_, err = e.eval.Regions(ctx, a, cols)
	got := requireCode(t, err, ir.CodeUnknownColumn)
	assert.Equal(t, "SIGNAL", got.Token)

	cols, err = format.Parse("@CALCULATED(return value_of('SCORE') +)")
	require.NoError(t, err)
	_, err = e.eval.Regions(ctx, a, cols)
	requireCode(t, err, ir.CodeScriptParseError)

	cols, err = format.Parse("@CALCULATED(while true do end)")
	require.NoError(t, err)
	_, err = e.eval.Regions(ctx, a, cols)
	requireCode(t, err, ir.CodeInstructionBudgetExceeded)
}

func TestBinning(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	ctx := context.Background()

	h, err := e.eval.Binning(ctx, a, "SCORE", 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10, 15, 20}, h.Ranges)
	assert.Equal(t, []int64{1, 1, 2}, h.Counts)

	_, err = e.eval.Binning(ctx, a, "NAME", 3)
	requireCode(t, err, ir.CodeTypeIncompatible)

	_, err = e.eval.Binning(ctx, a, "SCORE", 0)
	requireCode(t, err, ir.CodeInvalidArguments)
}

func TestDistinct(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)

	got, err := e.eval.Distinct(context.Background(), a, "STRAND")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"+": 2, "-": 1, ".": 1}, got)

	_, err = e.eval.Distinct(context.Background(), a, "GENE_ID")
	requireCode(t, err, ir.CodeUnknownColumn)
}

func TestCoverage(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	got, err := e.eval.Coverage(ctx, e.dataset(t, testutil.PeaksA), "hg19")
	require.NoError(t, err)
	assert.Equal(t, []ChromosomeCoverage{
		{Chromosome: "chr1", Size: 1000, Covered: 300, Coverage: 0.3},
		{Chromosome: "chr2", Size: 500, Covered: 100, Coverage: 0.2},
	}, got)

	both := e.node(t, query.Select{Datasets: []string{testutil.PeaksA, testutil.PeaksB}})
	got, err = e.eval.Coverage(ctx, both, "hg19")
	require.NoError(t, err)
	assert.Equal(t, int64(450), got[0].Covered)
	assert.Equal(t, int64(150), got[1].Covered)
	assert.Equal(t, 0.45, got[0].Coverage)
}

func TestExperiments(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	b := e.dataset(t, testutil.PeaksB)
	ctx := context.Background()

	ab := e.node(t, query.Intersection{A: a.ID, B: b.ID})
	got, err := e.eval.Experiments(ctx, ab)
	require.NoError(t, err)
	assert.Equal(t, []DatasetRef{{ID: e.fixture.IDs[testutil.PeaksA], Name: testutil.PeaksA}}, got)

	m := e.node(t, query.Merge{Inputs: []string{b.ID, a.ID}})
	got, err = e.eval.Experiments(ctx, m)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, testutil.PeaksA, got[0].Name)
	assert.Equal(t, testutil.PeaksB, got[1].Name)

	tiles := e.node(t, query.Tiling{Genome: "hg19", Size: 100})
	got, err = e.eval.Experiments(ctx, tiles)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCompareIDs(t *testing.T) {
	assert.Negative(t, compareIDs("e2", "e10"))
	assert.Negative(t, compareIDs("a5", "e1"))
	assert.Positive(t, compareIDs("gs4", "e6"))
	assert.Zero(t, compareIDs("e3", "e3"))
}

func TestScoreMatrix(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	tiles := e.node(t, query.Tiling{Genome: "hg19", Size: 500, Chromosomes: []string{"chr1"}})

	table, err := e.eval.ScoreMatrix(ctx, []MatrixColumn{
		{Dataset: testutil.Signal, Column: "SIGNAL"},
		{Dataset: testutil.PeaksA, Column: "SCORE"},
	}, "max", tiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"CHROMOSOME", "START", "END", "signal", "peaks_a"}, table.Header)
	assert.Equal(t, [][]string{
		{"chr1", "0", "500", "5", "10"},
		{"chr1", "500", "1000", "", "15"},
	}, table.Rows)

	table, err = e.eval.ScoreMatrix(ctx, []MatrixColumn{{Dataset: testutil.Signal, Column: "SIGNAL"}}, "mean", tiles)
	require.NoError(t, err)
	assert.Equal(t, "3", table.Rows[0][3])
}

func TestScoreMatrixErrors(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	tiles := e.node(t, query.Tiling{Genome: "hg19", Size: 500})

	_, err := e.eval.ScoreMatrix(ctx, []MatrixColumn{{Dataset: testutil.Signal, Column: "SIGNAL"}}, "mode", tiles)
	requireCode(t, err, ir.CodeInvalidArguments)

	_, err = e.eval.ScoreMatrix(ctx, []MatrixColumn{{Dataset: testutil.MousePeaks, Column: "NAME"}}, "max", tiles)
	requireCode(t, err, ir.CodeIncompatibleGenome)

	_, err = e.eval.ScoreMatrix(ctx, []MatrixColumn{{Dataset: testutil.PeaksA, Column: "NAME"}}, "max", tiles)
	requireCode(t, err, ir.CodeTypeIncompatible)

	_, err = e.eval.ScoreMatrix(ctx, []MatrixColumn{{Dataset: "nope", Column: "SCORE"}}, "max", tiles)
	requireCode(t, err, ir.CodeReferenceNotFound)
}

func TestEnrichmentBoundaries(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	universe := e.node(t, query.Tiling{Genome: "hg19", Size: 500, Chromosomes: []string{"chr1"}})

	t.Run("full overlap", func(t *testing.T) {
		q := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr1 0 1000"})
		got, err := e.eval.Enrichment(ctx, q, universe, "hg19", []string{testutil.PeaksA})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].Support)
		assert.Zero(t, got[0].B+got[0].C+got[0].D)
		assert.True(t, math.IsInf(float64(got[0].OddsRatio), 1))

		data, err := json.Marshal(got[0])
		require.NoError(t, err)
		assert.Contains(t, string(data), `"odds_ratio":"Infinity"`)
	})

	t.Run("no overlap", func(t *testing.T) {
		q := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr2 0 10"})
		got, err := e.eval.Enrichment(ctx, q, universe, "hg19", []string{testutil.PeaksA})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Zero(t, got[0].Support)
		assert.Equal(t, Float(0), got[0].PValueLog)
	})

	t.Run("wrong genome", func(t *testing.T) {
		q := e.node(t, query.InputRegions{Genome: "hg19", RawText: "chr1 0 10"})
		_, err := e.eval.Enrichment(ctx, q, universe, "hg19", []string{testutil.MousePeaks})
		requireCode(t, err, ir.CodeIncompatibleGenome)
	})
}

func TestEnrichmentContingencyTable(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	universe := e.node(t, query.Tiling{Genome: "hg19", Size: 100, Chromosomes: []string{"chr1"}})
	q := e.dataset(t, testutil.PeaksB)

	got, err := e.eval.Enrichment(ctx, q, universe, "hg19", []string{testutil.PeaksA, testutil.CpGIslands})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// peaks_b hits bins 1, 2, 3 and 7; peaks_a hits bins 1, 3 and 5.
	a := got[0]
	assert.Equal(t, testutil.PeaksA, a.Name)
	assert.Equal(t, []int64{2, 1, 2, 5}, []int64{a.Support, a.B, a.C, a.D})
	assert.Equal(t, Float(5), a.OddsRatio)
	assert.Positive(t, float64(a.PValueLog))

	// cpg_islands hits bins 0 and 6.
	c := got[1]
	assert.Equal(t, []int64{0, 2, 4, 4}, []int64{c.Support, c.B, c.C, c.D})
	assert.Equal(t, Float(0), c.PValueLog)
}

type countingCache struct {
	rows   map[string][]region.Row
	stores int
}

func (c *countingCache) CachedRows(key string) ([]region.Row, bool) {
	r, ok := c.rows[key]
	return r, ok
}

func (c *countingCache) StoreRows(key string, rows []region.Row) {
	c.stores++
	c.rows[key] = rows
}

func TestCacheNodeMaterializesOnce(t *testing.T) {
	cache := &countingCache{rows: make(map[string][]region.Row)}
	e := newEnv(t, cache)
	a := e.dataset(t, testutil.PeaksA)
	n := e.node(t, query.Cache{Input: a.ID})

	first := e.rows(t, n)
	second := e.rows(t, n)
	assert.Equal(t, first, second)
	assert.Equal(t, e.rows(t, a), first)
	assert.Equal(t, 1, cache.stores)
	assert.Contains(t, cache.rows, n.Key)
}

func TestCacheNodeWithoutCache(t *testing.T) {
	e := newEnv(t, nil)
	a := e.dataset(t, testutil.PeaksA)
	n := e.node(t, query.Cache{Input: a.ID})
	assert.Equal(t, e.rows(t, a), e.rows(t, n))
}

func TestRowsStopOnCanceledContext(t *testing.T) {
	e := newEnv(t, nil)
	n := e.node(t, query.Tiling{Genome: "hg19", Size: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it, err := e.eval.Rows(ctx, n)
	if err == nil {
		defer it.Close()
		_, err = region.Collect(it)
	}
	assert.ErrorIs(t, err, context.Canceled)
}
