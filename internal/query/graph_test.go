package query

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

type fakeRegistry struct {
	genomes  map[string]ir.Genome
	datasets map[string]ir.Dataset
	terms    map[ir.TermKind]map[string]string
	children map[string][]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		genomes: map[string]ir.Genome{
			"hg19": {Name: "hg19", Chromosomes: []ir.Chromosome{{Name: "chr1", Length: 1000}, {Name: "chr2", Length: 500}}},
			"mm9":  {Name: "mm9", Chromosomes: []ir.Chromosome{{Name: "chr1", Length: 800}}},
		},
		datasets: map[string]ir.Dataset{
			"e1": {ID: "e1", Name: "Peaks A", Genome: "hg19", Kind: ir.DatasetExperiment},
			"e2": {ID: "e2", Name: "Peaks B", Genome: "hg19", Kind: ir.DatasetExperiment},
			"e3": {ID: "e3", Name: "Mouse", Genome: "mm9", Kind: ir.DatasetExperiment},
		},
		terms: map[ir.TermKind]map[string]string{
			ir.TermEpigeneticMark: {"h3k4me3": "H3K4me3", "h3k27ac": "H3k27ac"},
			ir.TermBiosource:      {"blood": "blood", "tcell": "T cell", "bcell": "B cell"},
			ir.TermProject:        {"encode": "ENCODE"},
		},
		children: map[string][]string{"blood": {"B cell", "T cell"}},
	}
}

func (f *fakeRegistry) Genome(_ context.Context, name string) (ir.Genome, error) {
	g, ok := f.genomes[ir.NormalizeName(name)]
	if !ok {
		return ir.Genome{}, ir.Errorf(ir.CodeReferenceNotFound, "genome %q not found", name)
	}
	return g, nil
}

func (f *fakeRegistry) ResolveDataset(_ context.Context, ref string) (ir.Dataset, error) {
	if d, ok := f.datasets[ref]; ok {
		return d, nil
	}
	for _, d := range f.datasets {
		if ir.NormalizeName(d.Name) == ir.NormalizeName(ref) {
			return d, nil
		}
	}
	return ir.Dataset{}, ir.Errorf(ir.CodeReferenceNotFound, "dataset %q not found", ref)
}

func (f *fakeRegistry) ResolveTerm(_ context.Context, kind ir.TermKind, name string) (string, error) {
	if canonical, ok := f.terms[kind][ir.NormalizeName(name)]; ok {
		return canonical, nil
	}
	return "", ir.Errorf(ir.CodeReferenceNotFound, "%s %q not found", kind, name)
}

func (f *fakeRegistry) BiosourceScope(ctx context.Context, name string) ([]string, error) {
	canonical, err := f.ResolveTerm(ctx, ir.TermBiosource, name)
	if err != nil {
		return nil, err
	}
	return append([]string{canonical}, f.children[canonical]...), nil
}

func mustNode(t *testing.T, g *Graph, owner string, op Operator) *Node {
	t.Helper()
	n, err := g.GetOrCreate(context.Background(), owner, op)
	require.NoError(t, err)
	return n
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	g := NewGraph(newFakeRegistry())

	a := mustNode(t, g, "s1", Select{Genomes: []string{"hg19"}, Datasets: []string{"Peaks A", "e2"}})
	b := mustNode(t, g, "s1", Select{Genomes: []string{"HG19", "hg19"}, Datasets: []string{"e2", "peaks_a", "e1"}})
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "q1", a.ID)
	assert.Equal(t, []string{"e1", "e2"}, a.Op.(Select).Datasets)

	m1 := mustNode(t, g, "s1", Select{Genomes: []string{"hg19"}, EpigeneticMarks: []string{"H3K4ME3", "h3k27ac"}})
	m2 := mustNode(t, g, "s1", Select{Genomes: []string{"hg19"}, EpigeneticMarks: []string{"H3k27ac", "h3k4me3", "H3K4me3"}})
	assert.Equal(t, m1.ID, m2.ID)
	assert.NotEqual(t, a.ID, m1.ID)

	f1 := mustNode(t, g, "s1", Filter{Input: a.ID, Column: "SCORE", Op: OpGreater, Value: "1e2", ValueType: FilterNumber})
	f2 := mustNode(t, g, "s1", Filter{Input: a.ID, Column: "SCORE", Op: OpGreater, Value: "100", ValueType: FilterNumber})
	assert.Equal(t, f1.ID, f2.ID)
	assert.Equal(t, 3, g.Len())
}

func TestGetOrCreateConcurrent(t *testing.T) {
	g := NewGraph(newFakeRegistry())
	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := g.GetOrCreate(context.Background(), "s1", Tiling{Genome: "hg19", Size: 100})
			if err == nil {
				ids[i] = n.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, "q1", id)
	}
	assert.Equal(t, 1, g.Len())
}

func TestBinaryOperatorsKeepOperandOrder(t *testing.T) {
	g := NewGraph(newFakeRegistry())
	a := mustNode(t, g, "s1", Select{Datasets: []string{"e1"}})
	b := mustNode(t, g, "s1", Select{Datasets: []string{"e2"}})

	ab := mustNode(t, g, "s1", Intersection{A: a.ID, B: b.ID})
	ba := mustNode(t, g, "s1", Intersection{A: b.ID, B: a.ID})
	assert.NotEqual(t, ab.ID, ba.ID)

	keep := mustNode(t, g, "s1", Overlap{A: a.ID, B: b.ID, Keep: true, MinOverlap: 10})
	drop := mustNode(t, g, "s1", Overlap{A: a.ID, B: b.ID, Keep: false, MinOverlap: 10})
	again := mustNode(t, g, "s1", Overlap{A: a.ID, B: b.ID, Keep: true, MinOverlap: 10, Unit: UnitBasePairs})
	assert.NotEqual(t, keep.ID, drop.ID)
	assert.Equal(t, keep.ID, again.ID)
}

func TestMergeCanonicalization(t *testing.T) {
	g := NewGraph(newFakeRegistry())
	x := mustNode(t, g, "s1", Select{Datasets: []string{"e1"}})
	y := mustNode(t, g, "s1", Select{Datasets: []string{"e2"}})

	xx := mustNode(t, g, "s1", Merge{Inputs: []string{x.ID, x.ID}})
	assert.Same(t, x, xx)

	xy := mustNode(t, g, "s1", Merge{Inputs: []string{x.ID, y.ID}})
	yx := mustNode(t, g, "s1", Merge{Inputs: []string{y.ID, x.ID, y.ID}})
	assert.Equal(t, xy.ID, yx.ID)
	assert.Len(t, xy.Inputs, 2)

	z := mustNode(t, g, "s1", Tiling{Genome: "mm9", Size: 100})
	mixed := mustNode(t, g, "s1", Merge{Inputs: []string{x.ID, z.ID}})
	assert.Equal(t, []string{"hg19", "mm9"}, mixed.Genomes)
}

func TestBiosourceExpansion(t *testing.T) {
	g := NewGraph(newFakeRegistry())
	expanded := mustNode(t, g, "s1", Select{Genomes: []string{"hg19"}, Biosources: []string{"Blood"}, ExpandBiosources: true})
	explicit := mustNode(t, g, "s1", Select{Genomes: []string{"hg19"}, Biosources: []string{"blood", "T-cell", "b cell"}})
	assert.Equal(t, expanded.ID, explicit.ID)
	assert.Equal(t, []string{"B cell", "T cell", "blood"}, expanded.Op.(Select).Biosources)
}

func TestConstructionErrors(t *testing.T) {
	g := NewGraph(newFakeRegistry())
	hg := mustNode(t, g, "s1", Select{Datasets: []string{"e1"}})
	mm := mustNode(t, g, "s1", Select{Datasets: []string{"e3"}})

	tests := []struct {
		name string
		op   Operator
		code ir.ErrorCode
	}{
		{"unknown dataset", Select{Datasets: []string{"nope"}}, ir.CodeReferenceNotFound},
		{"unknown genome", Select{Genomes: []string{"hg38"}}, ir.CodeReferenceNotFound},
		{"unknown term", Select{Genomes: []string{"hg19"}, Projects: []string{"roadmap"}}, ir.CodeReferenceNotFound},
		{"unknown chromosome", Select{Genomes: []string{"hg19"}, Chromosome: "chrX"}, ir.CodeReferenceNotFound},
		{"empty select", Select{}, ir.CodeInvalidArguments},
		{"bad window", Select{Genomes: []string{"hg19"}, Chromosome: "chr1", Start: 10, End: 5}, ir.CodeInvalidArguments},
		{"dataset outside genome", Select{Genomes: []string{"hg19"}, Datasets: []string{"e3"}}, ir.CodeIncompatibleGenome},
		{"unknown node", Filter{Input: "q99", Column: "START", Op: OpEqual, Value: "1", ValueType: FilterNumber}, ir.CodeReferenceNotFound},
		{"missing input", Extend{Length: 10, Direction: DirectionBoth}, ir.CodeInvalidArguments},
		{"bad filter op", Filter{Input: hg.ID, Column: "START", Op: "=~", Value: "1", ValueType: FilterNumber}, ir.CodeInvalidArguments},
		{"non numeric value", Filter{Input: hg.ID, Column: "START", Op: OpEqual, Value: "ten", ValueType: FilterNumber}, ir.CodeInvalidArguments},
		{"empty merge", Merge{}, ir.CodeInvalidArguments},
		{"mixed genomes", Intersection{A: hg.ID, B: mm.ID}, ir.CodeIncompatibleGenome},
		{"bad unit", Overlap{A: hg.ID, B: hg.ID, Keep: true, Unit: "kb"}, ir.CodeInvalidArguments},
		{"percent above 100", Overlap{A: hg.ID, B: hg.ID, Keep: true, MinOverlap: 150, Unit: UnitPercent}, ir.CodeInvalidArguments},
		{"zero tiling", Tiling{Genome: "hg19", Size: 0}, ir.CodeInvalidArguments},
		{"tiling unknown chromosome", Tiling{Genome: "hg19", Size: 10, Chromosomes: []string{"chrM"}}, ir.CodeReferenceNotFound},
		{"bad direction", Extend{Input: hg.ID, Length: 10, Direction: "up"}, ir.CodeInvalidArguments},
		{"zero flank", Flank{Input: hg.ID, Length: 0}, ir.CodeInvalidArguments},
		{"empty input regions", InputRegions{Genome: "hg19", RawText: "  \n"}, ir.CodeInvalidArguments},
		{"aggregate without column", Aggregate{Data: hg.ID, Ranges: hg.ID}, ir.CodeInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.GetOrCreate(context.Background(), "s1", tt.op)
			require.Error(t, err)
			assert.Equal(t, tt.code, ir.CodeOf(err), err.Error())
		})
	}
	assert.Equal(t, 2, g.Len())
}

func TestSessionOwnership(t *testing.T) {
	g := NewGraph(newFakeRegistry())
	op := Tiling{Genome: "hg19", Size: 100}
	n1 := mustNode(t, g, "s1", op)

	_, err := g.Node("s2", n1.ID)
	assert.True(t, ir.IsCode(err, ir.CodeReferenceNotFound))

	n2 := mustNode(t, g, "s2", op)
	assert.Equal(t, n1.ID, n2.ID)

	ext := mustNode(t, g, "s1", Extend{Input: n1.ID, Length: 5, Direction: DirectionBoth})
	assert.Equal(t, []string{n1.ID, ext.ID}, g.IDs("s1"))

	assert.Equal(t, 1, g.Release("s1"))
	got, err := g.Node("s2", n1.ID)
	require.NoError(t, err)
	assert.Same(t, n1, got)

	assert.Equal(t, 1, g.Release("s2"))
	assert.Equal(t, 0, g.Len())

	again := mustNode(t, g, "s3", op)
	assert.Equal(t, n1.Key, again.Key)
	assert.Equal(t, fmt.Sprintf("q%d", 3), again.ID)
}
