// Package query implements the query node graph: an immutable, content
// addressed DAG of region-producing operators.
//
// Building a node is synchronous and performs no region I/O. Names are
// resolved against the metadata registry, arguments are canonicalized, and
// the node's key is computed over its canonical form. Structurally equal
// nodes share one id; nodes are owned by sessions and released when the
// last owning session closes.
package query
