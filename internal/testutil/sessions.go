package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates session ids "<prefix>-1", "<prefix>-2", ...
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario always opens sessions with the same ids.
//
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	prefix string

	mu sync.Mutex
	n  int
}

// NewSequentialIDs creates a generator. An empty prefix means "session".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
