package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/coltype"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/eval"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/script"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// Engine owns the query graph, the request manager and the result cache.
// It is constructed once per process and shared by every session.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	store    *store.Store
	graph    *query.Graph
	eval     *eval.Evaluator
	types    *coltype.Registry
	cache    *ResultCache
	manager  *Manager
	sessions SessionIDGenerator
}

type options struct {
	clock      WallClock
	ids        *Clock
	sessions   SessionIDGenerator
	registerer prometheus.Registerer
	scripts    script.Engine
}

// Option configures optional collaborators of an Engine.
type Option func(*options)

// WithWallClock sets the clock used for request ages and cache entries.
func WithWallClock(c WallClock) Option {
	return func(o *options) { o.clock = c }
}

// WithRequestClock sets the sequence used for request ids.
func WithRequestClock(c *Clock) Option {
	return func(o *options) { o.ids = c }
}

// WithSessionIDs sets the session id generator.
func WithSessionIDs(g SessionIDGenerator) Option {
	return func(o *options) { o.sessions = g }
}

// WithRegisterer registers the engine metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithScriptEngine replaces the Lua sandbox used for calculated columns.
func WithScriptEngine(s script.Engine) Option {
	return func(o *options) { o.scripts = s }
}

// New creates an Engine over st and starts its worker pool. The caller must
// call Close.
func New(cfg Config, st *store.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	o := options{
		clock:    SystemClock{},
		ids:      NewClock(),
		sessions: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scripts == nil {
		sandbox, err := script.NewSandbox(cfg.ScriptCacheSize)
		if err != nil {
			return nil, err
		}
		o.scripts = sandbox
	}

	metrics := NewMetrics(o.registerer)
	cache, err := NewResultCache(cfg.CacheEntries, o.clock, metrics)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		store:    st,
		graph:    query.NewGraph(st),
		eval:     eval.New(st, o.scripts, cache, cfg.ScriptInstructionLimit),
		types:    coltype.New(st),
		cache:    cache,
		sessions: o.sessions,
	}
	quota := NewQuotaEnforcer(cfg.RequestsPerSecond, cfg.Burst)
	e.manager = newManager(cfg, e.execute, cache, o.ids, o.clock, quota, metrics)
	e.manager.start(cfg.SweepInterval)

	slog.Info("engine started", "workers", cfg.Workers, "old_request_age", cfg.OldRequestAge, "sweep_interval", cfg.SweepInterval)
	return e, nil
}

// Close stops the worker pool and waits for running requests to return.
func (e *Engine) Close() error {
	err := e.manager.Close()
	slog.Info("engine stopped")
	return err
}

// Manager exposes the request manager for status and admin calls.
func (e *Engine) Manager() *Manager {
	return e.manager
}

// Cache exposes the result cache.
func (e *Engine) Cache() *ResultCache {
	return e.cache
}

// Graph exposes the query graph.
func (e *Engine) Graph() *query.Graph {
	return e.graph
}

// SweepOnce runs one eviction pass. See Manager.SweepOnce.
func (e *Engine) SweepOnce() int {
	return e.manager.SweepOnce()
}

// execute runs the evaluator for one request.
func (e *Engine) execute(ctx context.Context, r *request) (*Result, error) {
	switch r.operation {
	case OpCountRegions:
		n, err := e.eval.Count(ctx, r.node)
		if err != nil {
			return nil, err
		}
		return &Result{Count: &n}, nil
	case OpGetRegions:
		t, err := e.eval.Regions(ctx, r.node, r.columns)
		if err != nil {
			return nil, err
		}
		return &Result{Regions: &t}, nil
	case OpExperiments:
		refs, err := e.eval.Experiments(ctx, r.node)
		if err != nil {
			return nil, err
		}
		return &Result{Experiments: refs}, nil
	case OpBinning:
		h, err := e.eval.Binning(ctx, r.node, r.params.Column, r.params.Bars)
		if err != nil {
			return nil, err
		}
		return &Result{Histogram: &h}, nil
	case OpDistinct:
		d, err := e.eval.Distinct(ctx, r.node, r.params.Column)
		if err != nil {
			return nil, err
		}
		return &Result{Distinct: d}, nil
	case OpCoverage:
		c, err := e.eval.Coverage(ctx, r.node, r.params.Genome)
		if err != nil {
			return nil, err
		}
		return &Result{Coverage: c}, nil
	case OpScoreMatrix:
		t, err := e.eval.ScoreMatrix(ctx, r.params.Columns, r.params.Function, r.node)
		if err != nil {
			return nil, err
		}
		return &Result{Matrix: &t}, nil
	case OpEnrichment:
		res, err := e.eval.Enrichment(ctx, r.node, r.universe, r.params.Genome, r.params.Datasets)
		if err != nil {
			return nil, err
		}
		return &Result{Enrichment: res}, nil
	}
	return nil, ir.Errorf(ir.CodeInternal, "no evaluator for operation %q", r.operation)
}

// CloneDataset copies the regions of an existing dataset into a new one
// with different column names. Columns are given as a format string and
// are matched to the source columns by position; each target column must
// be compatible with the source column it replaces. The new dataset keeps
// the provenance of the source.
func (e *Engine) CloneDataset(ctx context.Context, source, name, columns, description string) (string, error) {
	src, err := e.store.ResolveDataset(ctx, source)
	if err != nil {
		return "", err
	}
	names, err := format.Split(columns)
	if err != nil {
		return "", err
	}
	cols, err := e.types.CheckClone(ctx, src, names)
	if err != nil {
		return "", err
	}
	target := src
	target.ID = ""
	target.Name = name
	target.Columns = cols
	if description != "" {
		target.Description = description
	}
	id, err := e.store.CloneDataset(ctx, src.ID, target)
	if err != nil {
		return "", err
	}
	slog.Info("dataset cloned", "source", src.ID, "id", id, "name", name)
	return id, nil
}
