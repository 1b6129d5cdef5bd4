package engine

import "sync"

// workQueue is a thread-safe FIFO queue of request ids waiting for a
// worker.
//
// The queue is unbounded: submission never blocks on execution. The worker
// semaphore bounds concurrency, not the queue.
//
// The queue uses a channel for signaling to enable context-aware waiting in
// the dispatcher loop.
type workQueue struct {
	mu     sync.Mutex
	ids    []string
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newWorkQueue() *workQueue {
	return &workQueue{
		ids:    make([]string, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a request id to the back of the queue.
// Returns false if the queue is closed.
func (q *workQueue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.ids = append(q.ids, id)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns ("", false) if the queue is empty.
func (q *workQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	if len(q.ids) == 1 {
		q.ids = q.ids[:0]
	} else {
		q.ids = q.ids[1:]
	}
	return id, true
}

// Wait returns a channel that signals when ids may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Close signals that no more ids will be enqueued and wakes any waiter.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
