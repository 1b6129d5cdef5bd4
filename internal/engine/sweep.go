package engine

import (
	"log/slog"
	"time"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// SweepOnce removes finished requests and cache entries older than the
// eviction age and returns the number of requests removed.
//
// Requests in state done, failed or canceled whose age since creation
// exceeds the threshold become removed and lose their data. Requests still
// new or running are never evicted. Removed requests stay in the table so
// that fetching them reports REQUEST_REMOVED rather than REQUEST_NOT_FOUND.
func (m *Manager) SweepOnce() int {
	now := m.clock.Now()

	m.mu.Lock()
	cutoff := now.Add(-m.maxAge)
	removed := 0
	for _, r := range m.requests {
		switch r.state {
		case ir.StateDone, ir.StateFailed, ir.StateCanceled:
		default:
			continue
		}
		if !r.createdAt.Before(cutoff) {
			continue
		}
		r.state = ir.StateRemoved
		r.result = nil
		m.forget(r)
		removed++
	}
	m.mu.Unlock()

	entries := m.cache.Sweep(cutoff)
	m.metrics.requestsEvicted(removed)
	if removed > 0 || entries > 0 {
		slog.Info("eviction sweep", "requests_removed", removed, "cache_entries_removed", entries)
	}
	return removed
}

func (m *Manager) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			m.SweepOnce()
		}
	}
}
