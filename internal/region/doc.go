// Package region provides genomic region rows and the lazy, sorted iterators
// the evaluators are built from.
//
// Every stream of rows is ordered by (chromosome, start, end) with
// chromosome names compared byte-wise. Evaluators rely on that order to
// merge and sweep streams in a single pass with bounded memory.
package region
