package script

import (
	"context"
	"errors"
	"time"
)

var errBudgetExceeded = errors.New("instruction budget exceeded")

// closedChan is returned by budget.Done once evaluation must stop.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// parentCheckInterval is how many instructions run between checks of the
// parent context.
const parentCheckInterval = 1024

// budget is the context installed on the Lua state. The interpreter calls
// Done once per VM instruction, so counting those calls counts
// instructions.
//
// Not safe for concurrent use; a Lua state runs on one goroutine.
type budget struct {
	parent   context.Context
	limit    int64
	used     int64
	exceeded bool
	canceled bool
}

func (b *budget) reset(parent context.Context, limit int64) {
	b.parent = parent
	b.limit = limit
	b.used = 0
	b.exceeded = false
	b.canceled = false
}

func (b *budget) Deadline() (time.Time, bool) { return b.parent.Deadline() }
func (b *budget) Value(key any) any           { return b.parent.Value(key) }

func (b *budget) Done() <-chan struct{} {
	if b.exceeded || b.canceled {
		return closedChan
	}
	b.used++
	if b.limit > 0 && b.used > b.limit {
		b.exceeded = true
		return closedChan
	}
	if b.used%parentCheckInterval == 0 && b.parent.Err() != nil {
		b.canceled = true
		return closedChan
	}
	return nil
}

func (b *budget) Err() error {
	switch {
	case b.exceeded:
		return errBudgetExceeded
	case b.canceled:
		return b.parent.Err()
	}
	return nil
}
