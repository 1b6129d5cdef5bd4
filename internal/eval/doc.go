// Package eval materializes query nodes.
//
// Every operator of the query algebra has one evaluator producing a lazy,
// sorted row stream; the dispatch in Rows is a type switch over the sealed
// operator union. Structured operations (counting, projection through a
// format, binning, distinct values, coverage, score matrices and
// enrichment) consume those streams and return summaries.
//
// Evaluation errors that depend on the data (unknown columns, type
// mismatches, script failures, malformed input regions) are returned as
// *ir.Error values; the request manager records them on the failed request.
package eval
