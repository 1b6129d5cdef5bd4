package query

import "github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"

// Operator is a region-producing operation of the query algebra.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in evaluators.
//
// Operator types:
//   - Select: rows of stored datasets chosen by identity or metadata
//   - Filter: rows of one input satisfying a column comparison
//   - Intersection: rows of A overlapping any row of B
//   - Overlap: rows of A that do (or do not) overlap B by a threshold
//   - Merge: sorted union of several inputs, duplicates kept
//   - Aggregate: statistics of data rows per range row
//   - Tiling: fixed-size windows over chromosomes
//   - Extend: rows grown by a length in a direction
//   - Flank: windows adjacent to each row
//   - InputRegions: regions parsed from caller-supplied text
//   - Cache: rows of one input, materialized once and replayed
//
// Input references are node ids. After construction, a node's Op holds the
// canonical form of the operator.
type Operator interface {
	operator()

	// Kind names the operator in node keys and listings.
	Kind() string
}

// Filter comparison operators.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
)

// Filter value types.
const (
	FilterString = "string"
	FilterNumber = "number"
)

// Extend directions.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
	DirectionBoth     = "both"
)

// Overlap threshold units.
const (
	UnitBasePairs = "bp"
	UnitPercent   = "%"
)

// Select reads rows from stored datasets.
//
// Datasets names datasets explicitly (by name or id). The metadata lists
// choose datasets by annotation; values within a list are alternatives and
// lists combine with AND. With ExpandBiosources, every biosource also
// matches the biosources below it in the hierarchy. Chromosome, Start and
// End restrict the genomic window (End == 0 is open).
type Select struct {
	Genomes          []string
	Datasets         []string
	DatasetKind      ir.DatasetKind
	EpigeneticMarks  []string
	Biosources       []string
	ExpandBiosources bool
	Samples          []string
	Techniques       []string
	Projects         []string
	Chromosome       string
	Start            int64
	End              int64
}

func (Select) operator() {}
func (Select) Kind() string { return "select" }

// Filter keeps the rows whose Column compares to Value with Op. With
// ValueType "number" the comparison is numeric and rows whose value is not a
// number never match.
type Filter struct {
	Input     string
	Column    string
	Op        string
	Value     string
	ValueType string
}

func (Filter) operator() {}
func (Filter) Kind() string { return "filter" }

// Intersection keeps the rows of A that overlap at least one row of B.
type Intersection struct {
	A string
	B string
}

func (Intersection) operator() {}
func (Intersection) Kind() string { return "intersection" }

// Overlap keeps the rows of A that overlap B by at least MinOverlap (in
// base pairs, or in percent of the A row's length), or with Keep false, the
// rows of A that do not.
type Overlap struct {
	A          string
	B          string
	Keep       bool
	MinOverlap int64
	Unit       string
}

func (Overlap) operator() {}
func (Overlap) Kind() string { return "overlap" }

// Merge is the sorted union of its inputs. Input order is irrelevant.
type Merge struct {
	Inputs []string
}

func (Merge) operator() {}
func (Merge) Kind() string { return "merge" }

// Aggregate computes statistics of Column over the Data rows overlapping
// each Ranges row.
type Aggregate struct {
	Data   string
	Ranges string
	Column string
}

func (Aggregate) operator() {}
func (Aggregate) Kind() string { return "aggregate" }

// Tiling produces windows of Size bases over the chromosomes of Genome
// (all of them when Chromosomes is empty). The last window of a chromosome
// is truncated at its end.
type Tiling struct {
	Genome      string
	Size        int64
	Chromosomes []string
}

func (Tiling) operator() {}
func (Tiling) Kind() string { return "tiling" }

// Extend grows each row by Length bases in Direction. With UseStrand,
// forward and backward are relative to the row's strand.
type Extend struct {
	Input     string
	Length    int64
	Direction string
	UseStrand bool
}

func (Extend) operator() {}
func (Extend) Kind() string { return "extend" }

// Flank replaces each row by a window of Length bases. A non-negative
// StartOffset places the window StartOffset bases after the row's end; a
// negative one places it StartOffset bases before the row's start. With
// UseStrand, rows on the "-" strand are mirrored.
type Flank struct {
	Input       string
	StartOffset int64
	Length      int64
	UseStrand   bool
}

func (Flank) operator() {}
func (Flank) Kind() string { return "flank" }

// InputRegions holds caller-supplied regions as raw text. The text is
// parsed when the node is materialized.
type InputRegions struct {
	Genome  string
	RawText string
}

func (InputRegions) operator() {}
func (InputRegions) Kind() string { return "input_regions" }

// Cache marks its input for materialization into the result cache. Later
// evaluations replay the cached rows.
type Cache struct {
	Input string
}

func (Cache) operator() {}
func (Cache) Kind() string { return "cache" }
