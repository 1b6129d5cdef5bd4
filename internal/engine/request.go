package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/eval"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
)

// Operation names a materialization call.
type Operation string

const (
	OpCountRegions Operation = "count_regions"
	OpGetRegions   Operation = "get_regions"
	OpExperiments  Operation = "get_experiments_by_query"
	OpBinning      Operation = "binning"
	OpDistinct     Operation = "distinct_column_values"
	OpCoverage     Operation = "coverage"
	OpScoreMatrix  Operation = "score_matrix"
	OpEnrichment   Operation = "enrich_regions_overlap"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpCountRegions, OpGetRegions, OpExperiments, OpBinning, OpDistinct,
		OpCoverage, OpScoreMatrix, OpEnrichment:
		return true
	}
	return false
}

// Params carries the operation-specific arguments of a request. Fields an
// operation does not use must be left zero; they are part of the request
// key.
type Params struct {
	Column   string              `json:"column,omitempty"`
	Bars     int                 `json:"bars,omitempty"`
	Genome   string              `json:"genome,omitempty"`
	Function string              `json:"function,omitempty"`
	Columns  []eval.MatrixColumn `json:"columns,omitempty"`
	Universe string              `json:"universe,omitempty"`
	Datasets []string            `json:"datasets,omitempty"`
}

// object renders the params for hashing. Node references are replaced by
// node keys so that the key names the computation, not the session.
func (p Params) object(universe *query.Node) ir.IRObject {
	obj := ir.IRObject{}
	if p.Column != "" {
		obj["column"] = ir.IRString(p.Column)
	}
	if p.Bars != 0 {
		obj["bars"] = ir.IRInt(p.Bars)
	}
	if p.Genome != "" {
		obj["genome"] = ir.IRString(p.Genome)
	}
	if p.Function != "" {
		obj["function"] = ir.IRString(p.Function)
	}
	if len(p.Columns) > 0 {
		cols := make(ir.IRArray, len(p.Columns))
		for i, c := range p.Columns {
			cols[i] = ir.IRObject{"dataset": ir.IRString(c.Dataset), "column": ir.IRString(c.Column)}
		}
		obj["columns"] = cols
	}
	if universe != nil {
		obj["universe"] = ir.IRString(universe.Key)
	}
	if len(p.Datasets) > 0 {
		obj["datasets"] = ir.Strings(p.Datasets)
	}
	return obj
}

// Result is the data of a done request. Exactly one field is set,
// according to the operation.
type Result struct {
	Count       *int64                    `json:"count,omitempty"`
	Regions     *eval.Table               `json:"regions,omitempty"`
	Experiments []eval.DatasetRef         `json:"experiments,omitempty"`
	Histogram   *eval.Histogram           `json:"histogram,omitempty"`
	Distinct    map[string]int64          `json:"distinct,omitempty"`
	Coverage    []eval.ChromosomeCoverage `json:"coverage,omitempty"`
	Matrix      *eval.Table               `json:"matrix,omitempty"`
	Enrichment  []eval.EnrichmentResult   `json:"enrichment,omitempty"`
}

// Info is a snapshot of a request for status polling and listings.
type Info struct {
	ID         string          `json:"id"`
	State      ir.RequestState `json:"state"`
	Owner      string          `json:"owner"`
	Operation  Operation       `json:"operation"`
	Query      string          `json:"query"`
	Format     string          `json:"format,omitempty"`
	Params     ir.IRObject     `json:"params,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      *ir.Error       `json:"error,omitempty"`
}

// request is the manager's record of one request. All fields after key are
// guarded by Manager.mu.
type request struct {
	id        string
	key       string
	owner     string
	operation Operation
	format    string
	params    Params
	paramsObj ir.IRObject
	node      *query.Node
	universe  *query.Node
	columns   []format.Column

	state      ir.RequestState
	cached     bool
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	result     *Result
	err        *ir.Error
	cancel     context.CancelFunc
}

func (r *request) info() Info {
	info := Info{
		ID:        r.id,
		State:     r.state,
		Owner:     r.owner,
		Operation: r.operation,
		Query:     r.node.ID,
		Format:    r.format,
		Params:    r.paramsObj,
		Cached:    r.cached,
		CreatedAt: r.createdAt,
		Error:     r.err,
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		info.StartedAt = &t
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		info.FinishedAt = &t
	}
	return info
}

// Submission describes a materialization call before it becomes a request.
type Submission struct {
	Operation Operation
	Node      *query.Node
	Format    string
	Params    Params
	Universe  *query.Node
}

// requestKey computes the identity of a submission and resolves its format.
// Format syntax errors are returned synchronously.
func (s Submission) requestKey() (string, ir.IRObject, []format.Column, error) {
	if err := s.validate(); err != nil {
		return "", nil, nil, err
	}
	var cols []format.Column
	formatText := ""
	if s.Operation == OpGetRegions {
		var err error
		if cols, err = format.Parse(s.Format); err != nil {
			return "", nil, nil, err
		}
		// The canonical form of the format is its token list.
		tokens := make([]string, len(cols))
		for i, c := range cols {
			tokens[i] = c.Token
		}
		formatText = strings.Join(tokens, ",")
	}
	obj := s.Params.object(s.Universe)
	key, err := ir.RequestKey(s.Node.Key, string(s.Operation), formatText, obj)
	if err != nil {
		return "", nil, nil, err
	}
	return key, obj, cols, nil
}

// validate checks the parameters each operation needs. Schema checks
// (column existence and types) happen at materialization.
func (s Submission) validate() error {
	if s.Node == nil {
		return ir.Errorf(ir.CodeInvalidArguments, "submission needs a query")
	}
	p := s.Params
	switch s.Operation {
	case OpCountRegions, OpGetRegions, OpExperiments:
	case OpBinning:
		if p.Column == "" {
			return missing("column")
		}
		if p.Bars <= 0 {
			return ir.Errorf(ir.CodeInvalidArguments, "bars must be positive, got %d", p.Bars)
		}
	case OpDistinct:
		if p.Column == "" {
			return missing("column")
		}
	case OpCoverage:
		if p.Genome == "" {
			return missing("genome")
		}
	case OpScoreMatrix:
		if len(p.Columns) == 0 {
			return missing("columns")
		}
		if !slices.Contains(eval.MatrixFunctions, p.Function) {
			return ir.Errorf(ir.CodeInvalidArguments, "unknown aggregation function %q", p.Function).WithToken(p.Function)
		}
	case OpEnrichment:
		if s.Universe == nil {
			return missing("universe")
		}
		if p.Genome == "" {
			return missing("genome")
		}
		if len(p.Datasets) == 0 {
			return missing("datasets")
		}
	default:
		return ir.Errorf(ir.CodeInvalidArguments, "unknown operation %q", s.Operation).WithToken(string(s.Operation))
	}
	return nil
}

func missing(param string) *ir.Error {
	return ir.Errorf(ir.CodeInvalidArguments, "parameter %s is required", param).WithToken(param)
}
