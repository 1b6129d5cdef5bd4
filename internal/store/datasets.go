package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

const datasetColumns = `d.id, d.name, d.kind, g.name, d.epigenetic_mark, d.biosource, d.sample, d.technique, d.project, d.description`

// Dataset returns a dataset by id, including its column definitions.
func (s *Store) Dataset(ctx context.Context, id string) (ir.Dataset, error) {
	return s.oneDataset(ctx, `d.id = ?`, id, id)
}

// ResolveDataset finds a dataset by id or by (normalized) name.
// Returns a REFERENCE_NOT_FOUND error when neither matches.
func (s *Store) ResolveDataset(ctx context.Context, ref string) (ir.Dataset, error) {
	return s.oneDataset(ctx, `(d.id = ? OR d.norm = ?)`, ref, ref, ir.NormalizeName(ref))
}

func (s *Store) oneDataset(ctx context.Context, where, ref string, args ...any) (ir.Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+datasetColumns+`
		FROM datasets d JOIN genomes g ON g.norm = d.genome_norm
		WHERE `+where+`
		LIMIT 1
	`, args...)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Dataset{}, ir.Errorf(ir.CodeReferenceNotFound, "dataset %q not found", ref).WithToken(ref)
	}
	if err != nil {
		return ir.Dataset{}, err
	}
	if d.Columns, err = s.datasetColumns(ctx, d.ID); err != nil {
		return ir.Dataset{}, err
	}
	return d, nil
}

// DatasetFilter selects datasets by metadata. Empty fields do not
// constrain the result; values within a field are alternatives. Term values
// must be canonical names (see ResolveTerm).
type DatasetFilter struct {
	IDs             []string
	Genomes         []string
	Kind            ir.DatasetKind
	EpigeneticMarks []string
	Biosources      []string
	Samples         []string
	Techniques      []string
	Projects        []string
}

// FindDatasets returns the datasets matching f in insertion order.
func (s *Store) FindDatasets(ctx context.Context, f DatasetFilter) ([]ir.Dataset, error) {
	var (
		clauses []string
		args    []any
	)
	in := func(column string, values []string, transform func(string) string) {
		if len(values) == 0 {
			return
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = "?"
			if transform != nil {
				v = transform(v)
			}
			args = append(args, v)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(marks, ", ")))
	}
	in("d.id", f.IDs, nil)
	in("d.genome_norm", f.Genomes, ir.NormalizeName)
	if f.Kind != "" {
		in("d.kind", []string{string(f.Kind)}, nil)
	}
	in("d.epigenetic_mark", f.EpigeneticMarks, nil)
	in("d.biosource", f.Biosources, nil)
	in("d.sample", f.Samples, nil)
	in("d.technique", f.Techniques, nil)
	in("d.project", f.Projects, nil)

	query := `SELECT ` + datasetColumns + ` FROM datasets d JOIN genomes g ON g.norm = d.genome_norm`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY d.row_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	var out []ir.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	rows.Close()

	// Columns are loaded after the cursor is released; the store runs on a
	// single connection.
	for i := range out {
		if out[i].Columns, err = s.datasetColumns(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) datasetColumns(ctx context.Context, id string) ([]ir.ColumnType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.kind, c.value_type, c.allowed, c.min_value, c.max_value, c.script
		FROM dataset_columns dc JOIN column_types c ON c.name = dc.column_name
		WHERE dc.dataset_id = ?
		ORDER BY dc.position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query dataset columns: %w", err)
	}
	defer rows.Close()
	var cols []ir.ColumnType
	for rows.Next() {
		c, err := scanColumnType(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset columns: %w", err)
	}
	return cols, nil
}

func scanDataset(sc scanner) (ir.Dataset, error) {
	var (
		d    ir.Dataset
		kind string
	)
	err := sc.Scan(&d.ID, &d.Name, &kind, &d.Genome, &d.EpigeneticMark, &d.Biosource,
		&d.Sample, &d.Technique, &d.Project, &d.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Dataset{}, err
		}
		return ir.Dataset{}, fmt.Errorf("scan dataset: %w", err)
	}
	d.Kind = ir.DatasetKind(kind)
	return d, nil
}
