package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
)

// PutGenome inserts a genome and its chromosomes.
// Uses ON CONFLICT DO NOTHING for idempotency - loading the same catalog
// twice leaves the store unchanged.
func (s *Store) PutGenome(ctx context.Context, g ir.Genome) error {
	if g.Name == "" {
		return fmt.Errorf("put genome: name is required")
	}
	norm := ir.NormalizeName(g.Name)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO genomes (norm, name, description) VALUES (?, ?, ?)
			ON CONFLICT(norm) DO NOTHING
		`, norm, g.Name, g.Description); err != nil {
			return fmt.Errorf("put genome %s: %w", g.Name, err)
		}
		for _, c := range g.Chromosomes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chromosomes (genome_norm, name, length) VALUES (?, ?, ?)
				ON CONFLICT(genome_norm, name) DO NOTHING
			`, norm, c.Name, c.Length); err != nil {
				return fmt.Errorf("put chromosome %s/%s: %w", g.Name, c.Name, err)
			}
		}
		return nil
	})
}

// PutSequence stores the nucleotide sequence of one chromosome.
func (s *Store) PutSequence(ctx context.Context, genome, chrom, sequence string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequences (genome_norm, chromosome, sequence) VALUES (?, ?, ?)
		ON CONFLICT(genome_norm, chromosome) DO NOTHING
	`, ir.NormalizeName(genome), chrom, sequence)
	if err != nil {
		return fmt.Errorf("put sequence %s/%s: %w", genome, chrom, err)
	}
	return nil
}

// PutColumnType registers a column type definition.
func (s *Store) PutColumnType(ctx context.Context, c ir.ColumnType) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("put column type: %w", err)
	}
	allowed := c.Allowed
	if allowed == nil {
		allowed = []string{}
	}
	allowedJSON, err := json.Marshal(allowed)
	if err != nil {
		return fmt.Errorf("put column type %s: %w", c.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO column_types (name, kind, value_type, allowed, min_value, max_value, script)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, c.Name, string(c.Kind), string(c.ValueType), string(allowedJSON), c.Min, c.Max, c.Script)
	if err != nil {
		return fmt.Errorf("put column type %s: %w", c.Name, err)
	}
	return nil
}

// Term is a controlled vocabulary entry.
type Term struct {
	Kind     ir.TermKind
	Name     string
	Synonyms []string
	// Parents lists broader biosources; only meaningful for biosources.
	Parents []string
}

// PutTerm registers a vocabulary term with its synonyms and parents.
// Parents must already exist.
func (s *Store) PutTerm(ctx context.Context, t Term) error {
	if t.Name == "" {
		return fmt.Errorf("put term: name is required")
	}
	norm := ir.NormalizeName(t.Name)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO terms (kind, norm, name) VALUES (?, ?, ?)
			ON CONFLICT(kind, norm) DO NOTHING
		`, string(t.Kind), norm, t.Name); err != nil {
			return fmt.Errorf("put term %s: %w", t.Name, err)
		}
		for _, syn := range t.Synonyms {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO term_synonyms (kind, norm, term_norm) VALUES (?, ?, ?)
				ON CONFLICT(kind, norm) DO NOTHING
			`, string(t.Kind), ir.NormalizeName(syn), norm); err != nil {
				return fmt.Errorf("put synonym %s of %s: %w", syn, t.Name, err)
			}
		}
		for _, parent := range t.Parents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO biosource_parents (child_norm, parent_norm) VALUES (?, ?)
				ON CONFLICT(child_norm, parent_norm) DO NOTHING
			`, norm, ir.NormalizeName(parent)); err != nil {
				return fmt.Errorf("put parent %s of %s: %w", parent, t.Name, err)
			}
		}
		return nil
	})
}

// PutDataset inserts a dataset descriptor and its regions and returns the
// assigned id. Column names must be registered column types. If a dataset
// with the same (normalized) name exists, its id is returned and nothing is
// written.
func (s *Store) PutDataset(ctx context.Context, d ir.Dataset, rows []region.Row) (string, error) {
	if !d.Kind.Valid() {
		return "", fmt.Errorf("put dataset %s: invalid kind %q", d.Name, d.Kind)
	}
	existing, err := s.datasetIDByNorm(ctx, ir.NormalizeName(d.Name))
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	var id string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertDataset(ctx, tx, d)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO regions (dataset_id, chromosome, start_pos, end_pos, fields)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare region insert: %w", err)
		}
		defer stmt.Close()
		for _, row := range rows {
			fields, err := marshalFields(row.Fields)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, id, row.Chrom, row.Start, row.End, fields); err != nil {
				return fmt.Errorf("insert region %s:%d-%d: %w", row.Chrom, row.Start, row.End, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("put dataset %s: %w", d.Name, err)
	}
	return id, nil
}

// CloneDataset creates a new dataset with the regions of sourceID under a
// new name and column list. Columns are matched by position: the value of
// the i-th source column becomes the value of the i-th target column.
// Column compatibility is the caller's concern; see the coltype package.
func (s *Store) CloneDataset(ctx context.Context, sourceID string, target ir.Dataset) (string, error) {
	source, err := s.Dataset(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if len(source.Columns) != len(target.Columns) {
		return "", ir.Errorf(ir.CodeInvalidArguments, "clone of %s needs %d columns, got %d",
			source.Name, len(source.Columns), len(target.Columns))
	}
	existing, err := s.datasetIDByNorm(ctx, ir.NormalizeName(target.Name))
	if err != nil {
		return "", err
	}
	if existing != "" {
		return "", ir.Errorf(ir.CodeInvalidArguments, "dataset %q already exists", target.Name).WithToken(target.Name)
	}
	rename := make(map[string]string)
	for i, c := range source.Columns {
		rename[c.Name] = target.Columns[i].Name
	}

	var id string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertDataset(ctx, tx, target)
		if err != nil {
			return err
		}
		rows, err := cloneRows(ctx, tx, sourceID, rename)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO regions (dataset_id, chromosome, start_pos, end_pos, fields)
				VALUES (?, ?, ?, ?, ?)
			`, id, r.chrom, r.start, r.end, r.fields); err != nil {
				return fmt.Errorf("copy region: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("clone dataset %s: %w", sourceID, err)
	}
	return id, nil
}

type clonedRow struct {
	chrom      string
	start, end int64
	fields     string
}

// cloneRows reads every region of a dataset with its field names renamed.
// The cursor is drained before any write on the same connection.
func cloneRows(ctx context.Context, tx *sql.Tx, datasetID string, rename map[string]string) ([]clonedRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT chromosome, start_pos, end_pos, fields FROM regions
		WHERE dataset_id = ? ORDER BY row_id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("read regions: %w", err)
	}
	defer rows.Close()
	var out []clonedRow
	for rows.Next() {
		var (
			r   clonedRow
			raw string
		)
		if err := rows.Scan(&r.chrom, &r.start, &r.end, &raw); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		fields, err := unmarshalFields(raw)
		if err != nil {
			return nil, err
		}
		renamed := make(map[string]string, len(fields))
		for k, v := range fields {
			if to, ok := rename[k]; ok {
				k = to
			}
			renamed[k] = v
		}
		if r.fields, err = marshalFields(renamed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}
	return out, nil
}

func insertDataset(ctx context.Context, tx *sql.Tx, d ir.Dataset) (string, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO datasets
		(norm, name, kind, genome_norm, epigenetic_mark, biosource, sample, technique, project, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ir.NormalizeName(d.Name),
		d.Name,
		string(d.Kind),
		ir.NormalizeName(d.Genome),
		d.EpigeneticMark,
		d.Biosource,
		d.Sample,
		d.Technique,
		d.Project,
		d.Description,
	)
	if err != nil {
		return "", fmt.Errorf("insert dataset: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("insert dataset: %w", err)
	}
	id := fmt.Sprintf("%s%d", d.Kind.IDPrefix(), rowID)
	if _, err := tx.ExecContext(ctx, `UPDATE datasets SET id = ? WHERE row_id = ?`, id, rowID); err != nil {
		return "", fmt.Errorf("assign dataset id: %w", err)
	}
	for i, c := range d.Columns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dataset_columns (dataset_id, position, column_name) VALUES (?, ?, ?)
		`, id, i, c.Name); err != nil {
			return "", fmt.Errorf("insert column %s: %w", c.Name, err)
		}
	}
	return id, nil
}

func (s *Store) datasetIDByNorm(ctx context.Context, norm string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM datasets WHERE norm = ?`, norm).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup dataset: %w", err)
	}
	return id, nil
}

// marshalFields stores row fields as a JSON object. encoding/json sorts map
// keys, so identical rows produce identical text.
func marshalFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

func unmarshalFields(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}
