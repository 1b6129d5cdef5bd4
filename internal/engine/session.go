package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/eval"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
)

// Session is one client connection. Query nodes built through a session are
// owned by it and released by Close; requests are owned by the caller and
// outlive the session.
type Session struct {
	id     string
	caller ir.Caller
	engine *Engine
}

// OpenSession starts a session for caller.
func (e *Engine) OpenSession(caller ir.Caller) *Session {
	s := &Session{id: e.sessions.Generate(), caller: caller, engine: e}
	slog.Debug("session opened", "session", s.id, "user", caller.UserID)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Caller returns the session's caller.
func (s *Session) Caller() ir.Caller { return s.caller }

// Close releases the session's query nodes and returns how many nodes left
// the graph.
func (s *Session) Close() int {
	n := s.engine.graph.Release(s.id)
	slog.Debug("session closed", "session", s.id, "released", n)
	return n
}

// Build returns the id of the query node for op, creating it when no
// structurally equal node exists.
func (s *Session) Build(ctx context.Context, op query.Operator) (string, error) {
	n, err := s.engine.graph.GetOrCreate(ctx, s.id, op)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// Node returns a node owned by the session.
func (s *Session) Node(id string) (*query.Node, error) {
	return s.engine.graph.Node(s.id, id)
}

// Queries lists the ids of the session's nodes in creation order.
func (s *Session) Queries() []string {
	return s.engine.graph.IDs(s.id)
}

// Submit turns a node into a request. params.Universe, when set, names a
// node of the session.
func (s *Session) Submit(op Operation, queryID, format string, params Params) (string, error) {
	node, err := s.Node(queryID)
	if err != nil {
		return "", err
	}
	sub := Submission{Operation: op, Node: node, Format: format, Params: params}
	if params.Universe != "" {
		if sub.Universe, err = s.Node(params.Universe); err != nil {
			return "", err
		}
	}
	return s.engine.manager.Submit(s.caller, sub)
}

// Count submits count_regions.
func (s *Session) Count(queryID string) (string, error) {
	return s.Submit(OpCountRegions, queryID, "", Params{})
}

// GetRegions submits get_regions with the given format. An empty format
// selects CHROMOSOME,START,END.
func (s *Session) GetRegions(queryID, format string) (string, error) {
	return s.Submit(OpGetRegions, queryID, format, Params{})
}

// Experiments submits get_experiments_by_query.
func (s *Session) Experiments(queryID string) (string, error) {
	return s.Submit(OpExperiments, queryID, "", Params{})
}

// Binning submits a histogram of column with bars equal-width bars.
func (s *Session) Binning(queryID, column string, bars int) (string, error) {
	return s.Submit(OpBinning, queryID, "", Params{Column: column, Bars: bars})
}

// Distinct submits distinct_column_values.
func (s *Session) Distinct(queryID, column string) (string, error) {
	return s.Submit(OpDistinct, queryID, "", Params{Column: column})
}

// Coverage submits coverage against genome.
func (s *Session) Coverage(queryID, genome string) (string, error) {
	return s.Submit(OpCoverage, queryID, "", Params{Genome: genome})
}

// ScoreMatrix submits a score matrix over the regions of regionsID.
func (s *Session) ScoreMatrix(regionsID string, columns []eval.MatrixColumn, function string) (string, error) {
	return s.Submit(OpScoreMatrix, regionsID, "", Params{Columns: columns, Function: function})
}

// Enrich submits enrich_regions_overlap of queryID against the target
// datasets, using the regions of universeID as background.
func (s *Session) Enrich(queryID, universeID, genome string, datasets []string) (string, error) {
	return s.Submit(OpEnrichment, queryID, "", Params{Universe: universeID, Genome: genome, Datasets: datasets})
}

// Info returns the status of one of the caller's requests.
func (s *Session) Info(id string) (Info, error) {
	return s.engine.manager.Info(s.caller, id)
}

// List returns the caller's requests, optionally filtered by state.
func (s *Session) List(state ir.RequestState) ([]Info, error) {
	return s.engine.manager.List(s.caller, state)
}

// Cancel cancels or clears a request.
func (s *Session) Cancel(id string) (ir.RequestState, error) {
	return s.engine.manager.Cancel(s.caller, id)
}

// GetData fetches the result of a done request.
func (s *Session) GetData(id string) (*Result, error) {
	return s.engine.manager.GetData(s.caller, id)
}

// Wait polls a request until it is terminal.
func (s *Session) Wait(ctx context.Context, id string) (Info, error) {
	return s.engine.manager.Wait(ctx, s.caller, id)
}

// SetEvictionAge changes the eviction threshold.
func (s *Session) SetEvictionAge(seconds int64) error {
	return s.engine.manager.SetEvictionAge(time.Duration(seconds) * time.Second)
}
