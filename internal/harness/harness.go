package harness

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/catalog"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/engine"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/eval"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/testutil"
)

// WaitTimeout bounds how long a submit step waits for its request.
var WaitTimeout = 10 * time.Second

// Harness executes the steps of one scenario.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	clock    *testutil.FakeClock
	sessions map[string]*engine.Session // user -> open session
	aliases  map[string]string          // alias -> node or request id
	result   *Result
}

type runOptions struct {
	base  engine.Config
	store *store.Store
}

// Option configures Run.
type Option func(*runOptions)

// WithBaseConfig sets the engine settings the scenario overrides apply to.
func WithBaseConfig(cfg engine.Config) Option {
	return func(o *runOptions) { o.base = cfg }
}

// WithStore runs the scenario against st instead of a fresh in-memory
// database. The catalog is still applied; catalog writes are idempotent.
func WithStore(st *store.Store) Option {
	return func(o *runOptions) { o.store = st }
}

// Run executes a scenario and returns the result.
//
// By default each scenario runs in a fresh in-memory database. The wall
// clock is fake and session ids are sequential:
//  1. load the catalog directory and write it into the store
//  2. start an engine with the background sweep disabled
//  3. execute the steps in order, checking expect clauses
//  4. evaluate the assertions against the final engine state
//
// Failed expectations are recorded in the result; the returned error is
// reserved for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{base: engine.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	st := o.store
	if st == nil {
		var err error
		st, err = store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	loaded, err := catalog.Load(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if _, err := loaded.Apply(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to apply catalog: %w", err)
	}

	cfg, err := scenario.Config.Apply(o.base)
	if err != nil {
		return nil, err
	}
	clock := testutil.NewFakeClock()
	eng, err := engine.New(cfg, st,
		engine.WithWallClock(clock),
		engine.WithSessionIDs(testutil.NewSequentialIDs("")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	h := &Harness{
		scenario: scenario,
		engine:   eng,
		clock:    clock,
		sessions: make(map[string]*engine.Session),
		aliases:  make(map[string]string),
		result:   NewResult(),
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) session(user string) *engine.Session {
	if user == "" {
		user = h.scenario.User
	}
	s, ok := h.sessions[user]
	if !ok {
		s = h.engine.OpenSession(ir.Caller{UserID: user})
		h.sessions[user] = s
	}
	return s
}

func (h *Harness) resolve(alias string) string {
	if id, ok := h.aliases[alias]; ok {
		return id
	}
	return alias
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step) error {
	ev := TraceEvent{Step: n}
	var stepErr error
	var data *engine.Result

	switch {
	case step.Build != "":
		ev.Action = "build"
		op, err := buildOperator(step.Build, &step.Args, h.resolve)
		if err != nil {
			return err
		}
		ev.Detail = describeOperator(op)
		ev.ID, stepErr = h.session(step.User).Build(ctx, op)

	case step.Submit != "":
		ev.Action = "submit"
		ev.Detail = step.Submit + " query=" + h.resolve(step.Query)
		data, stepErr = h.submit(ctx, step, &ev)

	case step.Cancel != "":
		ev.Action = "cancel"
		ev.Detail = h.resolve(step.Cancel)
		var state ir.RequestState
		state, stepErr = h.session(step.User).Cancel(h.resolve(step.Cancel))
		ev.State = string(state)

	case step.Fetch != "":
		ev.Action = "fetch"
		ev.Detail = h.resolve(step.Fetch)
		data, stepErr = h.session(step.User).GetData(h.resolve(step.Fetch))
		if stepErr == nil {
			ev.State = string(ir.StateDone)
		}

	case step.List != "":
		ev.Action = "list"
		ev.Detail = step.List
		state := ir.RequestState(step.List)
		if step.List == "all" {
			state = ""
		}
		infos, err := h.session(step.User).List(state)
		stepErr = err
		for _, info := range infos {
			ev.Lines = append(ev.Lines, fmt.Sprintf("%s %s %s", info.ID, info.Operation, info.State))
		}

	case step.Advance != "":
		ev.Action = "advance"
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		ev.Detail = d.String()

	case step.Sweep:
		ev.Action = "sweep"
		ev.Detail = fmt.Sprintf("-> %d removed", h.engine.SweepOnce())

	case step.EvictionAge != nil:
		ev.Action = "eviction_age"
		ev.Detail = strconv.FormatInt(*step.EvictionAge, 10) + "s"
		stepErr = h.session(step.User).SetEvictionAge(*step.EvictionAge)

	case step.CloseSession:
		ev.Action = "close_session"
		user := step.User
		if user == "" {
			user = h.scenario.User
		}
		if s, ok := h.sessions[user]; ok {
			ev.Detail = fmt.Sprintf("%s -> %d released", s.ID(), s.Close())
			delete(h.sessions, user)
		}
	}

	if stepErr != nil {
		ev.Code = string(ir.CodeOf(stepErr))
		if cause := ir.Cause(stepErr); cause != nil && cause.Code != ir.CodeOf(stepErr) {
			ev.Code += " " + string(cause.Code)
		}
	}
	if data != nil {
		ev.Lines = append(ev.Lines, renderResult(data)...)
	}
	if step.As != "" && ev.ID != "" {
		h.aliases[step.As] = ev.ID
	}
	h.result.Trace = append(h.result.Trace, ev)

	if step.Expect != nil {
		for _, msg := range h.checkExpect(step, ev, stepErr, data) {
			h.result.AddError(fmt.Sprintf("step %d: %s", n, msg))
		}
	} else if stepErr != nil {
		h.result.AddError(fmt.Sprintf("step %d: unexpected error: %v", n, stepErr))
	}
	return nil
}

// submit sends the request and waits for it. A done request's data is
// returned; a failed one reports its error.
func (h *Harness) submit(ctx context.Context, step Step, ev *TraceEvent) (*engine.Result, error) {
	s := h.session(step.User)
	params := engine.Params{
		Column:   step.Params.Column,
		Bars:     step.Params.Bars,
		Genome:   step.Params.Genome,
		Function: step.Params.Function,
		Datasets: step.Params.Datasets,
	}
	if step.Params.Universe != "" {
		params.Universe = h.resolve(step.Params.Universe)
	}
	for _, c := range step.Params.Columns {
		params.Columns = append(params.Columns, eval.MatrixColumn{Dataset: c.Dataset, Column: c.Column})
	}

	id, err := s.Submit(engine.Operation(step.Submit), h.resolve(step.Query), step.Format, params)
	if err != nil {
		return nil, err
	}
	ev.ID = id

	waitCtx, cancel := context.WithTimeout(ctx, WaitTimeout)
	defer cancel()
	info, err := s.Wait(waitCtx, id)
	if err != nil {
		return nil, err
	}
	ev.State = string(info.State)
	if info.State != ir.StateDone {
		if info.Error != nil {
			return nil, info.Error
		}
		return nil, nil
	}
	return s.GetData(id)
}

func (h *Harness) checkExpect(step Step, ev TraceEvent, stepErr error, data *engine.Result) []string {
	want := step.Expect
	var errs []string
	if want.Code != "" && stepErr == nil {
		errs = append(errs, fmt.Sprintf("expected error %s, got none", want.Code))
	} else if want.Code != "" {
		got := ir.CodeOf(stepErr)
		if cause := ir.Cause(stepErr); cause != nil {
			if string(cause.Code) == want.Code {
				got = cause.Code
			}
		}
		if string(got) != want.Code {
			errs = append(errs, fmt.Sprintf("expected error %s, got %q (%v)", want.Code, got, stepErr))
		}
	} else if stepErr != nil {
		errs = append(errs, fmt.Sprintf("unexpected error: %v", stepErr))
	}
	if want.State != "" && ev.State != want.State {
		errs = append(errs, fmt.Sprintf("expected state %s, got %q", want.State, ev.State))
	}
	if want.Same != "" {
		if id, ok := h.aliases[want.Same]; !ok || id != ev.ID {
			errs = append(errs, fmt.Sprintf("expected the id of %s (%s), got %s", want.Same, id, ev.ID))
		}
	}
	if want.Count != nil {
		if data == nil || data.Count == nil {
			errs = append(errs, fmt.Sprintf("expected count %d, got no count", *want.Count))
		} else if *data.Count != *want.Count {
			errs = append(errs, fmt.Sprintf("expected count %d, got %d", *want.Count, *data.Count))
		}
	}
	table := resultTable(data)
	if want.Rows != nil {
		if table == nil {
			errs = append(errs, fmt.Sprintf("expected %d rows, got no table", *want.Rows))
		} else if len(table.Rows) != *want.Rows {
			errs = append(errs, fmt.Sprintf("expected %d rows, got %d", *want.Rows, len(table.Rows)))
		}
	}
	if want.Regions != nil {
		var got [][]string
		if table != nil {
			got = table.Rows
		}
		if diff := cmp.Diff(want.Regions, got, cmpopts.EquateEmpty()); diff != "" {
			errs = append(errs, fmt.Sprintf("regions mismatch (-want +got):\n%s", diff))
		}
	}
	return errs
}

func resultTable(data *engine.Result) *eval.Table {
	switch {
	case data == nil:
		return nil
	case data.Regions != nil:
		return data.Regions
	case data.Matrix != nil:
		return data.Matrix
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// renderResult renders result data as trace lines.
func renderResult(r *engine.Result) []string {
	var lines []string
	switch {
	case r.Count != nil:
		lines = append(lines, fmt.Sprintf("count: %d", *r.Count))
	case r.Regions != nil:
		lines = append(lines, renderTable(*r.Regions)...)
	case r.Matrix != nil:
		lines = append(lines, renderTable(*r.Matrix)...)
	case r.Experiments != nil:
		for _, d := range r.Experiments {
			lines = append(lines, "experiment: "+d.ID+" "+d.Name)
		}
	case r.Histogram != nil:
		ranges := make([]string, len(r.Histogram.Ranges))
		for i, v := range r.Histogram.Ranges {
			ranges[i] = formatFloat(v)
		}
		counts := make([]string, len(r.Histogram.Counts))
		for i, c := range r.Histogram.Counts {
			counts[i] = strconv.FormatInt(c, 10)
		}
		lines = append(lines, "ranges: "+strings.Join(ranges, " "), "counts: "+strings.Join(counts, " "))
	case r.Distinct != nil:
		values := make([]string, 0, len(r.Distinct))
		for v := range r.Distinct {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, v := range values {
			lines = append(lines, fmt.Sprintf("value: %q %d", v, r.Distinct[v]))
		}
	case r.Coverage != nil:
		for _, c := range r.Coverage {
			lines = append(lines, fmt.Sprintf("coverage: %s size=%d covered=%d", c.Chromosome, c.Size, c.Covered))
		}
	case r.Enrichment != nil:
		for _, e := range r.Enrichment {
			lines = append(lines, fmt.Sprintf("enrichment: %s %s support=%d b=%d c=%d d=%d",
				e.Dataset, e.Name, e.Support, e.B, e.C, e.D))
		}
	}
	return lines
}

func renderTable(t eval.Table) []string {
	lines := []string{"header: " + strings.Join(t.Header, ",")}
	for _, row := range t.Rows {
		lines = append(lines, strings.Join(row, " | "))
	}
	return lines
}
