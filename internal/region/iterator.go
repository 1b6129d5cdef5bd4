package region

import (
	"context"
	"slices"
)

// BatchSize is the number of rows processed between cancellation checks.
const BatchSize = 1024

// Iterator is a lazy, forward-only stream of rows sorted by Compare.
//
// Usage follows database/sql.Rows:
//
//	for it.Next() {
//	    row := it.Row()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Close must be called once the caller is done, even after Next returned
// false.
type Iterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Source opens fresh iterators over the same rows. Every call restarts the
// stream from the beginning.
type Source interface {
	Open(ctx context.Context) (Iterator, error)
}

// SliceIterator iterates over an in-memory slice of rows.
type SliceIterator struct {
	rows []Row
	pos  int
}

// FromSlice returns an iterator over rows. The slice must already be sorted.
func FromSlice(rows []Row) *SliceIterator {
	return &SliceIterator{rows: rows, pos: -1}
}

// Empty returns an iterator with no rows.
func Empty() Iterator {
	return FromSlice(nil)
}

func (s *SliceIterator) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceIterator) Row() Row     { return s.rows[s.pos] }
func (s *SliceIterator) Err() error   { return nil }
func (s *SliceIterator) Close() error { return nil }

// Collect drains it into a slice and closes it.
func Collect(it Iterator) ([]Row, error) {
	defer it.Close()
	var rows []Row
	for it.Next() {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Sort orders rows in place by Compare, keeping the relative order of equal
// rows.
func Sort(rows []Row) {
	slices.SortStableFunc(rows, Compare)
}

// checked wraps an iterator and polls ctx every BatchSize rows.
type checked struct {
	ctx   context.Context
	inner Iterator
	n     int
	err   error
}

// WithContext returns an iterator that stops with ctx.Err() once ctx is
// done. Cancellation is observed at batch granularity.
func WithContext(ctx context.Context, it Iterator) Iterator {
	return &checked{ctx: ctx, inner: it}
}

func (c *checked) Next() bool {
	if c.err != nil {
		return false
	}
	if c.n%BatchSize == 0 {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
	}
	c.n++
	return c.inner.Next()
}

func (c *checked) Row() Row { return c.inner.Row() }

func (c *checked) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.inner.Err()
}

func (c *checked) Close() error { return c.inner.Close() }

// filtered yields the rows of inner accepted by keep.
type filtered struct {
	inner Iterator
	keep  func(Row) (bool, error)
	err   error
}

// Filter returns an iterator over the rows of it for which keep returns
// true. An error from keep stops the iteration and is reported by Err.
func Filter(it Iterator, keep func(Row) (bool, error)) Iterator {
	return &filtered{inner: it, keep: keep}
}

func (f *filtered) Next() bool {
	if f.err != nil {
		return false
	}
	for f.inner.Next() {
		ok, err := f.keep(f.inner.Row())
		if err != nil {
			f.err = err
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

func (f *filtered) Row() Row { return f.inner.Row() }

func (f *filtered) Err() error {
	if f.err != nil {
		return f.err
	}
	return f.inner.Err()
}

func (f *filtered) Close() error { return f.inner.Close() }
