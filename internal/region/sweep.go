package region

import "strings"

// Sweeper finds, for a sorted sequence of query rows, the rows of a sorted
// reference stream that overlap each query. It keeps only the reference rows
// that can still overlap a later query, so memory is bounded by the overlap
// depth of the reference.
//
// Queries passed to Overlapping must be non-decreasing by (chromosome,
// start). The Sweeper does not close the reference iterator.
type Sweeper struct {
	ref     Iterator
	pending *Row
	active  []Row
	chrom   string
	done    bool
	err     error
}

// NewSweeper returns a Sweeper reading reference rows from ref.
func NewSweeper(ref Iterator) *Sweeper {
	return &Sweeper{ref: ref}
}

func (s *Sweeper) peek() (Row, bool) {
	if s.pending != nil {
		return *s.pending, true
	}
	if s.done {
		return Row{}, false
	}
	if !s.ref.Next() {
		s.done = true
		s.err = s.ref.Err()
		return Row{}, false
	}
	row := s.ref.Row()
	s.pending = &row
	return row, true
}

// Overlapping returns the reference rows overlapping q, in reference order.
func (s *Sweeper) Overlapping(q Row) ([]Row, error) {
	if q.Chrom != s.chrom {
		s.chrom = q.Chrom
		s.active = s.active[:0]
	}

	// Rows ending at or before q.Start cannot overlap q or any later query.
	kept := s.active[:0]
	for _, r := range s.active {
		if r.End > q.Start {
			kept = append(kept, r)
		}
	}
	s.active = kept

	for {
		r, ok := s.peek()
		if !ok {
			break
		}
		c := strings.Compare(r.Chrom, q.Chrom)
		if c > 0 || (c == 0 && r.Start >= q.End) {
			break
		}
		s.pending = nil
		if c == 0 && r.End > q.Start {
			s.active = append(s.active, r)
		}
	}
	if s.err != nil {
		return nil, s.err
	}

	var out []Row
	for _, r := range s.active {
		if r.Start < q.End && r.End > q.Start {
			out = append(out, r)
		}
	}
	return out, nil
}
