package eval

import (
	"context"
	"slices"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/script"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// Store is the read side of the interval store and metadata registry.
// Implemented by *store.Store.
type Store interface {
	ReadRows(ctx context.Context, datasetID string, w store.Window) (region.Iterator, error)
	FindDatasets(ctx context.Context, f store.DatasetFilter) ([]ir.Dataset, error)
	Dataset(ctx context.Context, id string) (ir.Dataset, error)
	ResolveDataset(ctx context.Context, ref string) (ir.Dataset, error)
	Genome(ctx context.Context, name string) (ir.Genome, error)
	Sequence(ctx context.Context, genome, chrom string, start, end int64) (string, error)
}

// RowCache keeps the materialized rows of Cache nodes, keyed by node key.
// Cached slices are immutable.
type RowCache interface {
	CachedRows(nodeKey string) ([]region.Row, bool)
	StoreRows(nodeKey string, rows []region.Row)
}

// Evaluator materializes nodes against a store.
//
// Thread-safety: an Evaluator may be shared by concurrent requests; the
// per-request state lives in the iterators and projections it returns.
type Evaluator struct {
	store            Store
	scripts          script.Engine
	cache            RowCache
	instructionLimit int64
}

// New creates an Evaluator. cache may be nil, in which case Cache nodes
// are evaluated as their input.
func New(st Store, scripts script.Engine, cache RowCache, instructionLimit int64) *Evaluator {
	return &Evaluator{store: st, scripts: scripts, cache: cache, instructionLimit: instructionLimit}
}

// Rows returns the sorted row stream of n. The stream checks ctx every
// region.BatchSize rows. The caller must close it.
func (e *Evaluator) Rows(ctx context.Context, n *query.Node) (region.Iterator, error) {
	it, err := e.rows(ctx, n)
	if err != nil {
		return nil, err
	}
	return region.WithContext(ctx, it), nil
}

func (e *Evaluator) rows(ctx context.Context, n *query.Node) (region.Iterator, error) {
	switch op := n.Op.(type) {
	case query.Select:
		return e.selectRows(ctx, op)
	case query.Filter:
		return e.filterRows(ctx, n, op)
	case query.Intersection:
		return e.overlapRows(ctx, n, true, func(a, b region.Row) bool { return true })
	case query.Overlap:
		return e.overlapRows(ctx, n, op.Keep, threshold(op))
	case query.Merge:
		return e.mergeRows(ctx, n)
	case query.Aggregate:
		return e.aggregateRows(ctx, n, op)
	case query.Tiling:
		return e.tilingRows(ctx, op)
	case query.Extend:
		return e.resize(ctx, n, extendTransform(op))
	case query.Flank:
		return e.resize(ctx, n, flankTransform(op))
	case query.InputRegions:
		return e.inputRegions(ctx, op)
	case query.Cache:
		return e.cachedRows(ctx, n)
	default:
		return nil, ir.Errorf(ir.CodeInternal, "no evaluator for operator %T", n.Op)
	}
}

// baseColumns are the column types shared by every row.
var baseColumns = []ir.ColumnType{
	{Name: ir.ColumnChromosome, Kind: ir.KindSimple, ValueType: ir.ValueString},
	{Name: ir.ColumnStart, Kind: ir.KindSimple, ValueType: ir.ValueInteger},
	{Name: ir.ColumnEnd, Kind: ir.KindSimple, ValueType: ir.ValueInteger},
}

// Schema returns the columns available in the rows of n, base columns
// first.
func (e *Evaluator) Schema(ctx context.Context, n *query.Node) ([]ir.ColumnType, error) {
	switch op := n.Op.(type) {
	case query.Select:
		datasets, err := e.findDatasets(ctx, op)
		if err != nil {
			return nil, err
		}
		cols := slices.Clone(baseColumns)
		for _, d := range datasets {
			cols = unionColumns(cols, d.Columns)
		}
		return cols, nil
	case query.Filter, query.Intersection, query.Overlap, query.Extend, query.Flank, query.Cache:
		return e.Schema(ctx, n.Inputs[0])
	case query.Merge:
		cols := slices.Clone(baseColumns)
		for _, in := range n.Inputs {
			c, err := e.Schema(ctx, in)
			if err != nil {
				return nil, err
			}
			cols = unionColumns(cols, c)
		}
		return cols, nil
	case query.Aggregate:
		cols, err := e.Schema(ctx, n.Inputs[1])
		if err != nil {
			return nil, err
		}
		agg := make([]ir.ColumnType, len(format.AggregateColumns))
		for i, name := range format.AggregateColumns {
			vt := ir.ValueDouble
			if name == format.AggCount {
				vt = ir.ValueInteger
			}
			agg[i] = ir.ColumnType{Name: name, Kind: ir.KindSimple, ValueType: vt}
		}
		return unionColumns(cols, agg), nil
	case query.Tiling, query.InputRegions:
		return slices.Clone(baseColumns), nil
	default:
		return nil, ir.Errorf(ir.CodeInternal, "no schema for operator %T", n.Op)
	}
}

func unionColumns(cols, more []ir.ColumnType) []ir.ColumnType {
	for _, c := range more {
		if !slices.ContainsFunc(cols, func(x ir.ColumnType) bool { return x.Name == c.Name }) {
			cols = append(cols, c)
		}
	}
	return cols
}

// column resolves a column name against a schema. @LENGTH is always
// available.
func column(schema []ir.ColumnType, name string) (ir.ColumnType, error) {
	if name == format.MetaLength {
		return format.MetadataType(name), nil
	}
	idx := slices.IndexFunc(schema, func(c ir.ColumnType) bool { return c.Name == name })
	if idx < 0 {
		return ir.ColumnType{}, ir.Errorf(ir.CodeUnknownColumn, "column %s is not defined for the queried regions", name).
			WithToken(name)
	}
	return schema[idx], nil
}

// numericColumn is like column but also requires a numeric value type.
func numericColumn(schema []ir.ColumnType, name string) (ir.ColumnType, error) {
	c, err := column(schema, name)
	if err != nil {
		return c, err
	}
	if !c.ValueType.Numeric() {
		return c, ir.Errorf(ir.CodeTypeIncompatible, "column %s is not numeric", name).WithToken(name)
	}
	return c, nil
}

// rowValue reads a column of a row, computing @LENGTH.
func rowValue(r region.Row, name string) (string, bool) {
	if name == format.MetaLength {
		return formatInt(r.Length()), true
	}
	return r.Value(name)
}

// genomeLengths merges the chromosome lengths of the given genomes. When
// genomes disagree on a chromosome the longest length is used.
func (e *Evaluator) genomeLengths(ctx context.Context, genomes []string) (map[string]int64, error) {
	lengths := make(map[string]int64)
	for _, name := range genomes {
		g, err := e.store.Genome(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, c := range g.Chromosomes {
			lengths[c.Name] = max(lengths[c.Name], c.Length)
		}
	}
	return lengths, nil
}
