package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
)

// createTestStore creates a new file-backed store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedGenome registers hg19 with two chromosomes and the columns used by
// the dataset helpers.
func seedGenome(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutGenome(ctx, ir.Genome{
		Name: "hg19",
		Chromosomes: []ir.Chromosome{
			{Name: "chr1", Length: 1000},
			{Name: "chr2", Length: 500},
		},
	}))
	require.NoError(t, s.PutColumnType(ctx, ir.ColumnType{Name: "NAME", Kind: ir.KindSimple, ValueType: ir.ValueString}))
	require.NoError(t, s.PutColumnType(ctx, ir.ColumnType{Name: "SCORE", Kind: ir.KindSimple, ValueType: ir.ValueDouble}))
}

func baseColumns(extra ...string) []ir.ColumnType {
	cols := []ir.ColumnType{
		{Name: ir.ColumnChromosome, Kind: ir.KindSimple, ValueType: ir.ValueString},
		{Name: ir.ColumnStart, Kind: ir.KindSimple, ValueType: ir.ValueInteger},
		{Name: ir.ColumnEnd, Kind: ir.KindSimple, ValueType: ir.ValueInteger},
	}
	for _, name := range extra {
		cols = append(cols, ir.ColumnType{Name: name})
	}
	return cols
}

func putRows(t *testing.T, s *Store, name string, rows ...region.Row) string {
	t.Helper()
	id, err := s.PutDataset(context.Background(), ir.Dataset{
		Name:           name,
		Kind:           ir.DatasetExperiment,
		Genome:         "hg19",
		EpigeneticMark: "H3K4me3",
		Biosource:      "K562",
		Columns:        baseColumns("NAME", "SCORE"),
	}, rows)
	require.NoError(t, err)
	return id
}
