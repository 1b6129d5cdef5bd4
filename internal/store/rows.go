package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
)

// Window restricts ReadRows to part of the genome. The zero Window reads
// everything. End == 0 leaves the window open to the right.
type Window struct {
	Chrom string
	Start int64
	End   int64
}

// ReadRows returns a lazy iterator over the rows of a dataset in
// (chromosome, start, end) order, restricted to rows overlapping w.
// Rows are fetched one page at a time.
func (s *Store) ReadRows(ctx context.Context, datasetID string, w Window) (region.Iterator, error) {
	if _, err := s.Dataset(ctx, datasetID); err != nil {
		return nil, err
	}
	return &rowIterator{
		ctx:       ctx,
		store:     s,
		datasetID: datasetID,
		window:    w,
		pageSize:  region.BatchSize,
		lastStart: -1,
		lastEnd:   -1,
		lastRowID: -1,
	}, nil
}

type rowIterator struct {
	ctx       context.Context
	store     *Store
	datasetID string
	window    Window
	pageSize  int

	page []region.Row
	pos  int
	done bool
	err  error

	// Keyset cursor: the sort key of the last row fetched.
	lastChrom string
	lastStart int64
	lastEnd   int64
	lastRowID int64
}

func (it *rowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos+1 < len(it.page) {
		it.pos++
		return true
	}
	if it.done {
		return false
	}
	if err := it.fetch(); err != nil {
		it.err = err
		return false
	}
	if len(it.page) == 0 {
		return false
	}
	it.pos = 0
	return true
}

func (it *rowIterator) fetch() error {
	clauses := []string{
		"dataset_id = ?",
		"(chromosome, start_pos, end_pos, row_id) > (?, ?, ?, ?)",
	}
	args := []any{it.datasetID, it.lastChrom, it.lastStart, it.lastEnd, it.lastRowID}
	if it.window.Chrom != "" {
		clauses = append(clauses, "chromosome = ?")
		args = append(args, it.window.Chrom)
	}
	if it.window.Start > 0 {
		clauses = append(clauses, "end_pos > ?")
		args = append(args, it.window.Start)
	}
	if it.window.End > 0 {
		clauses = append(clauses, "start_pos < ?")
		args = append(args, it.window.End)
	}
	args = append(args, it.pageSize)

	rows, err := it.store.db.QueryContext(it.ctx, `
		SELECT row_id, chromosome, start_pos, end_pos, fields
		FROM regions
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY chromosome COLLATE BINARY ASC, start_pos ASC, end_pos ASC, row_id ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return fmt.Errorf("read rows of %s: %w", it.datasetID, err)
	}
	defer rows.Close()

	it.page = it.page[:0]
	for rows.Next() {
		var (
			row    region.Row
			rowID  int64
			fields string
		)
		if err := rows.Scan(&rowID, &row.Chrom, &row.Start, &row.End, &fields); err != nil {
			return fmt.Errorf("scan row of %s: %w", it.datasetID, err)
		}
		if row.Fields, err = unmarshalFields(fields); err != nil {
			return err
		}
		row.DatasetID = it.datasetID
		it.page = append(it.page, row)
		it.lastChrom, it.lastStart, it.lastEnd, it.lastRowID = row.Chrom, row.Start, row.End, rowID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows of %s: %w", it.datasetID, err)
	}
	if len(it.page) < it.pageSize {
		it.done = true
	}
	return nil
}

func (it *rowIterator) Row() region.Row { return it.page[it.pos] }
func (it *rowIterator) Err() error      { return it.err }

func (it *rowIterator) Close() error {
	it.page = nil
	it.done = true
	return nil
}
