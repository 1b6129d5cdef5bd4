package region

import (
	"container/heap"
	"errors"
)

// mergeIterator performs a k-way merge of sorted iterators. Rows comparing
// equal are emitted in input order.
type mergeIterator struct {
	inputs  []Iterator
	h       mergeHeap
	current Row
	started bool
	err     error
}

type mergeHead struct {
	row   Row
	input int
}

type mergeHeap []mergeHead

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := Compare(h[i].row, h[j].row); c != 0 {
		return c < 0
	}
	return h[i].input < h[j].input
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeHead)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Merge combines sorted iterators into one sorted iterator. Duplicates are
// kept. Closing the result closes every input.
func Merge(inputs ...Iterator) Iterator {
	if len(inputs) == 1 {
		return inputs[0]
	}
	return &mergeIterator{inputs: inputs}
}

func (m *mergeIterator) advance(i int) bool {
	if m.inputs[i].Next() {
		heap.Push(&m.h, mergeHead{row: m.inputs[i].Row(), input: i})
		return true
	}
	if err := m.inputs[i].Err(); err != nil {
		m.err = err
		return false
	}
	return true
}

func (m *mergeIterator) Next() bool {
	if m.err != nil {
		return false
	}
	if !m.started {
		m.started = true
		for i := range m.inputs {
			if !m.advance(i) {
				return false
			}
		}
	}
	if m.h.Len() == 0 {
		return false
	}
	head := heap.Pop(&m.h).(mergeHead)
	m.current = head.row
	return m.advance(head.input)
}

func (m *mergeIterator) Row() Row   { return m.current }
func (m *mergeIterator) Err() error { return m.err }

func (m *mergeIterator) Close() error {
	var errs []error
	for _, it := range m.inputs {
		if err := it.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
