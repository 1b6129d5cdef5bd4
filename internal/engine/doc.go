// Package engine owns the mutable state of the query service: the query
// node graph, the request table and the result cache.
//
// ARCHITECTURE:
//
// Sessions build query nodes synchronously through the query graph. A
// materialization call (count, get_regions, binning, ...) becomes a Request
// identified by a content hash of (node, operation, format, params).
// Identical submissions share one request; at most one execution runs per
// request key.
//
// Request lifecycle:
//
//	new -> running -> done | failed
//	new | running -> canceled        (user cancel)
//	done | failed -> removed         (user cancel of a finished request)
//	terminal -> removed              (eviction sweep, age > threshold)
//
// Execution:
// Submissions enqueue request ids to a FIFO work queue. A dispatcher
// goroutine drains the queue and starts one goroutine per request, bounded
// by a weighted semaphore. Each running request has its own context;
// canceling the request cancels the context and the evaluator stops at the
// next row batch.
//
// Cancel wins unless the request is already done: a worker that finishes
// after its request left the running state discards its result.
//
// All goroutines are joined by Engine.Close.
package engine
