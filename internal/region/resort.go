package region

// Transform rewrites a row. Returning false drops it.
type Transform func(Row) (Row, bool, error)

// resortIterator applies a coordinate-changing transform to a sorted stream
// and restores the sort order one chromosome at a time. Memory is bounded by
// the largest chromosome of the input.
type resortIterator struct {
	inner   Iterator
	fn      Transform
	buf     []Row
	pos     int
	pending *Row
	done    bool
	err     error
}

// Resort applies fn to every row of it and re-sorts the output per
// chromosome. The input must be sorted.
func Resort(it Iterator, fn Transform) Iterator {
	return &resortIterator{inner: it, fn: fn, pos: -1}
}

func (r *resortIterator) fill() bool {
	r.buf = r.buf[:0]
	r.pos = -1
	var chrom string
	if r.pending != nil {
		chrom = r.pending.Chrom
		if !r.add(*r.pending) {
			return false
		}
		r.pending = nil
	} else if !r.done {
		if !r.inner.Next() {
			r.done = true
			r.err = r.inner.Err()
			return false
		}
		row := r.inner.Row()
		chrom = row.Chrom
		if !r.add(row) {
			return false
		}
	} else {
		return false
	}
	for !r.done {
		if !r.inner.Next() {
			r.done = true
			if err := r.inner.Err(); err != nil {
				r.err = err
				return false
			}
			break
		}
		row := r.inner.Row()
		if row.Chrom != chrom {
			r.pending = &row
			break
		}
		if !r.add(row) {
			return false
		}
	}
	Sort(r.buf)
	return true
}

func (r *resortIterator) add(row Row) bool {
	out, keep, err := r.fn(row)
	if err != nil {
		r.err = err
		return false
	}
	if keep {
		r.buf = append(r.buf, out)
	}
	return true
}

func (r *resortIterator) Next() bool {
	for r.err == nil {
		if r.pos+1 < len(r.buf) {
			r.pos++
			return true
		}
		if !r.fill() {
			return false
		}
	}
	return false
}

func (r *resortIterator) Row() Row     { return r.buf[r.pos] }
func (r *resortIterator) Err() error   { return r.err }
func (r *resortIterator) Close() error { return r.inner.Close() }
