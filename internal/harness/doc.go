// Package harness runs query workload scenarios against a real engine.
//
// A scenario loads a catalog into a fresh in-memory store, builds query
// nodes, submits requests and checks their outcome. Each run uses a fake
// wall clock and sequential session ids, and waits for every request before
// the next step, so the trace is deterministic and can be compared against
// a golden file.
//
// # Scenario Format
//
//	name: intersect_peaks
//	description: "Intersection keeps the overlapping peaks"
//	catalog: ../catalog
//	user: alice
//	config:
//	  old_request_age: 1h
//	steps:
//	  - build: select
//	    as: a
//	    args: { datasets: [peaks_a] }
//	  - build: intersection
//	    as: ab
//	    args: { a: a, b: b }
//	  - submit: count_regions
//	    query: ab
//	    as: count
//	    expect: { state: done, count: 2 }
//	  - advance: 2h
//	  - sweep: true
//	  - fetch: count
//	    expect: { code: REQUEST_REMOVED }
//	assertions:
//	  - type: request_count
//	    state: removed
//	    count: 1
//
// Node arguments that reference other nodes (input, a, b, data, ranges,
// inputs) use the aliases given with "as". Request steps (cancel, fetch)
// reference request aliases the same way.
package harness
