package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// executeFunc runs one request. Only the immutable fields of the request
// (node, operation, columns, params) may be read.
type executeFunc func(ctx context.Context, r *request) (*Result, error)

// Manager is the request table and its worker pool.
//
// Thread-safety: all exported methods are safe for concurrent use. The
// request table is guarded by mu; the result cache has its own locking.
type Manager struct {
	exec    executeFunc
	cache   *ResultCache
	ids     *Clock
	clock   WallClock
	quota   *QuotaEnforcer
	metrics *Metrics

	queue *workQueue
	sem   *semaphore.Weighted
	group errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc

	mu       sync.Mutex
	requests map[string]*request
	byKey    map[string]*request // owner + request key -> live request
	maxAge   time.Duration
	running  int
	closed   bool
}

func newManager(cfg Config, exec executeFunc, cache *ResultCache, ids *Clock, clock WallClock, quota *QuotaEnforcer, metrics *Metrics) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		exec:     exec,
		cache:    cache,
		ids:      ids,
		clock:    clock,
		quota:    quota,
		metrics:  metrics,
		queue:    newWorkQueue(),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:      ctx,
		stop:     stop,
		requests: make(map[string]*request),
		byKey:    make(map[string]*request),
		maxAge:   cfg.OldRequestAge,
	}
}

// start launches the dispatcher and, when sweepInterval is positive, the
// periodic eviction sweep.
func (m *Manager) start(sweepInterval time.Duration) {
	m.group.Go(m.dispatch)
	if sweepInterval > 0 {
		m.group.Go(func() error {
			m.sweepLoop(sweepInterval)
			return nil
		})
	}
}

func ownerKey(owner, key string) string {
	return owner + "\x00" + key
}

// Submit creates or reuses the request for s on behalf of caller and
// returns its id.
//
// A live request (new, running or done) of the same caller with the same
// key is returned as is. Otherwise a new request is created; when the
// result cache already holds the output it starts in state done.
func (m *Manager) Submit(caller ir.Caller, s Submission) (string, error) {
	key, params, cols, err := s.requestKey()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ir.Errorf(ir.CodeInternal, "engine is closed")
	}
	if r, ok := m.byKey[ownerKey(caller.UserID, key)]; ok {
		m.metrics.requestDeduplicated()
		slog.Debug("request reused", "id", r.id, "state", r.state, "user", caller.UserID)
		return r.id, nil
	}
	if err := m.quota.Check(caller.UserID); err != nil {
		return "", err
	}

	now := m.clock.Now()
	r := &request{
		id:        m.ids.NextRequestID(),
		key:       key,
		owner:     caller.UserID,
		operation: s.Operation,
		format:    s.Format,
		params:    s.Params,
		paramsObj: params,
		node:      s.Node,
		universe:  s.Universe,
		columns:   cols,
		state:     ir.StateNew,
		createdAt: now,
	}
	m.requests[r.id] = r
	m.byKey[ownerKey(r.owner, key)] = r
	m.metrics.requestSubmitted(s.Operation)

	if res, ok := m.cache.Result(key); ok {
		r.state = ir.StateDone
		r.result = res
		r.cached = true
		r.finishedAt = now
		m.metrics.requestFinished(ir.StateDone, 0)
		slog.Debug("request answered from cache", "id", r.id, "operation", r.operation, "query", r.node.ID)
		return r.id, nil
	}

	m.queue.Enqueue(r.id)
	m.metrics.setQueued(m.queue.Len())
	slog.Debug("request submitted", "id", r.id, "operation", r.operation, "query", r.node.ID, "user", r.owner)
	return r.id, nil
}

// dispatch drains the work queue, starting one goroutine per request
// once a worker slot is free.
func (m *Manager) dispatch() error {
	for {
		id, ok := m.queue.TryDequeue()
		if !ok {
			select {
			case <-m.ctx.Done():
				return nil
			case _, open := <-m.queue.Wait():
				if !open {
					return nil
				}
			}
			continue
		}
		m.metrics.setQueued(m.queue.Len())
		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return nil
		}
		m.group.Go(func() error {
			defer m.sem.Release(1)
			m.run(id)
			return nil
		})
	}
}

// run executes a request if it is still new.
func (m *Manager) run(id string) {
	m.mu.Lock()
	r, ok := m.requests[id]
	if !ok || r.state != ir.StateNew {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	r.state = ir.StateRunning
	r.startedAt = m.clock.Now()
	r.cancel = cancel
	m.running++
	m.metrics.setRunning(m.running)
	m.mu.Unlock()

	slog.Debug("request running", "id", r.id, "operation", r.operation)
	result, err := m.safeExecute(ctx, r)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--
	m.metrics.setRunning(m.running)
	r.cancel = nil

	// Cancel wins unless the request is already done.
	if r.state != ir.StateRunning {
		slog.Debug("discarding result", "id", r.id, "state", r.state)
		return
	}
	r.finishedAt = m.clock.Now()
	switch {
	case err == nil:
		r.state = ir.StateDone
		r.result = result
		m.cache.PutResult(r.key, result)
		slog.Info("request done", "id", r.id, "operation", r.operation, "took", r.finishedAt.Sub(r.startedAt))
	case m.ctx.Err() != nil && errors.Is(err, context.Canceled):
		r.state = ir.StateCanceled
		m.forget(r)
	default:
		failure := *ir.AsError(err)
		failure.RequestID = r.id
		r.err = &failure
		r.state = ir.StateFailed
		m.forget(r)
		slog.Info("request failed", "id", r.id, "operation", r.operation, "code", failure.Code, "error", failure.Message)
	}
	m.metrics.requestFinished(r.state, r.finishedAt.Sub(r.startedAt))
}

// safeExecute converts a panic inside an evaluator into an internal error
// so one request cannot take the worker pool down.
func (m *Manager) safeExecute(ctx context.Context, r *request) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("request panicked", "id", r.id, "panic", p)
			err = ir.Errorf(ir.CodeInternal, "request %s: internal error: %v", r.id, p)
		}
	}()
	return m.exec(ctx, r)
}

// forget drops r from the dedup index so the next identical submission
// creates a new request. Caller must hold mu.
func (m *Manager) forget(r *request) {
	k := ownerKey(r.owner, r.key)
	if m.byKey[k] == r {
		delete(m.byKey, k)
	}
}

// lookup returns the request id of caller. Caller must hold mu.
func (m *Manager) lookup(caller ir.Caller, id string) (*request, error) {
	r, ok := m.requests[id]
	if !ok || r.owner != caller.UserID {
		return nil, NewNotFoundError(id)
	}
	return r, nil
}

// Info returns a snapshot of the request.
func (m *Manager) Info(caller ir.Caller, id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(caller, id)
	if err != nil {
		return Info{}, err
	}
	return r.info(), nil
}

// List returns the requests of caller in creation order. An empty state
// lists every state.
func (m *Manager) List(caller ir.Caller, state ir.RequestState) ([]Info, error) {
	if state != "" && !state.Valid() {
		return nil, ir.Errorf(ir.CodeInvalidArguments, "unknown request state %q", state).WithToken(string(state))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Info
	for _, r := range m.requests {
		if r.owner != caller.UserID || (state != "" && r.state != state) {
			continue
		}
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return requestSeq(out[i].ID) < requestSeq(out[j].ID) })
	return out, nil
}

func requestSeq(id string) int64 {
	var n int64
	fmt.Sscanf(id, "r%d", &n)
	return n
}

// Cancel stops a request and returns its resulting state.
//
// A new or running request becomes canceled and its evaluation context is
// canceled. A done or failed request is cleared and becomes removed.
// Canceling a canceled or removed request changes nothing.
func (m *Manager) Cancel(caller ir.Caller, id string) (ir.RequestState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(caller, id)
	if err != nil {
		return "", err
	}
	switch r.state {
	case ir.StateNew, ir.StateRunning:
		r.state = ir.StateCanceled
		r.finishedAt = m.clock.Now()
		if r.cancel != nil {
			r.cancel()
		}
		m.forget(r)
		m.metrics.requestFinished(ir.StateCanceled, 0)
		slog.Info("request canceled", "id", r.id)
	case ir.StateDone, ir.StateFailed:
		r.state = ir.StateRemoved
		r.result = nil
		m.forget(r)
		slog.Info("request cleared", "id", r.id)
	}
	return r.state, nil
}

// GetData returns the result of a done request. Other states fail with a
// state-specific lifecycle error; a failed request returns its
// materialization error wrapped in REQUEST_FAILED.
func (m *Manager) GetData(caller ir.Caller, id string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(caller, id)
	if err != nil {
		return nil, err
	}
	switch r.state {
	case ir.StateDone:
		return r.result, nil
	case ir.StateFailed:
		return nil, NewFailedError(r.id, r.err)
	case ir.StateCanceled:
		return nil, NewCanceledError(r.id)
	case ir.StateRemoved:
		return nil, NewRemovedError(r.id)
	default:
		return nil, NewNotFinishedError(r.id, r.state)
	}
}

// Wait polls the request until it reaches a terminal state or ctx ends.
// It is a client-side convenience; the manager never blocks on requests.
func (m *Manager) Wait(ctx context.Context, caller ir.Caller, id string) (Info, error) {
	const pollInterval = 5 * time.Millisecond
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		info, err := m.Info(caller, id)
		if err != nil || info.State.Terminal() {
			return info, err
		}
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-t.C:
		}
	}
}

// SetEvictionAge changes the age after which finished requests are removed.
func (m *Manager) SetEvictionAge(age time.Duration) error {
	if age < 0 {
		return ir.Errorf(ir.CodeInvalidArguments, "eviction age must not be negative, got %s", age)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = age
	slog.Info("eviction age changed", "age", age)
	return nil
}

// EvictionAge returns the current eviction age.
func (m *Manager) EvictionAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxAge
}

// Close stops the dispatcher and the sweep, cancels running requests and
// waits for every goroutine to return. Requests that never ran end up
// canceled.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.queue.Close()
	err := m.group.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.state == ir.StateNew || r.state == ir.StateRunning {
			r.state = ir.StateCanceled
			r.finishedAt = m.clock.Now()
			m.forget(r)
		}
	}
	return err
}
