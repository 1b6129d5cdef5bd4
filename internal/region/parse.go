package region

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// ParseOptions controls how raw region text is read.
type ParseOptions struct {
	// Columns names the columns after CHROMOSOME, START and END. Extra
	// values on a line beyond len(Columns) are ignored; missing ones are
	// left empty.
	Columns []string

	// Lengths, when non-nil, restricts chromosomes to the given names and
	// rejects regions ending past the chromosome length.
	Lengths map[string]int64
}

// Parse reads BED-like text: one region per line, fields separated by tabs
// (or by runs of spaces when a line has no tab). Blank lines and lines
// starting with '#', "track" or "browser" are skipped. Line numbers in
// errors start at 0 and count every line of the input.
//
// The returned rows are sorted.
func Parse(text string, opts ParseOptions) ([]Row, error) {
	var rows []Row
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := -1
	for sc.Scan() {
		line++
		raw := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "track") || strings.HasPrefix(trimmed, "browser") {
			continue
		}
		var fields []string
		if strings.Contains(raw, "\t") {
			fields = strings.Split(raw, "\t")
		} else {
			fields = strings.Fields(raw)
		}
		row, err := parseLine(line, fields, opts)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, ir.Errorf(ir.CodeOutOfRangeRegion, "reading regions: %v", err)
	}
	Sort(rows)
	return rows, nil
}

func parseLine(line int, fields []string, opts ParseOptions) (Row, error) {
	if len(fields) < 3 {
		return Row{}, ir.Errorf(ir.CodeOutOfRangeRegion,
			"line %d: expected at least 3 fields (chromosome, start, end), found %d", line, len(fields)).
			At(line, 0)
	}
	chrom := strings.TrimSpace(fields[0])
	startText := strings.TrimSpace(fields[1])
	endText := strings.TrimSpace(fields[2])

	start, err := strconv.ParseInt(startText, 10, 64)
	if err != nil || start < 0 {
		return Row{}, ir.Errorf(ir.CodeOutOfRangeRegion, "line %d: invalid start value %q", line, startText).
			WithToken(startText).At(line, 1)
	}
	end, err := strconv.ParseInt(endText, 10, 64)
	if err != nil || end <= start {
		return Row{}, ir.Errorf(ir.CodeOutOfRangeRegion, "line %d: invalid end value %q", line, endText).
			WithToken(endText).At(line, 2)
	}
	if opts.Lengths != nil {
		length, ok := opts.Lengths[chrom]
		if !ok {
			return Row{}, ir.Errorf(ir.CodeOutOfRangeRegion, "line %d: unknown chromosome %q", line, chrom).
				WithToken(chrom).At(line, 0)
		}
		if end > length {
			return Row{}, ir.Errorf(ir.CodeOutOfRangeRegion,
				"line %d: invalid end value %q: chromosome %s has length %d", line, endText, chrom, length).
				WithToken(endText).At(line, 2)
		}
	}

	row := Row{Chrom: chrom, Start: start, End: end}
	if len(opts.Columns) > 0 {
		row.Fields = make(map[string]string, len(opts.Columns))
		for i, name := range opts.Columns {
			if 3+i < len(fields) {
				row.Fields[name] = strings.TrimSpace(fields[3+i])
			} else {
				row.Fields[name] = ""
			}
		}
	}
	return row, nil
}
