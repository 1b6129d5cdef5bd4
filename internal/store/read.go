package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Genome returns a genome with its chromosomes ordered by name.
// Returns a REFERENCE_NOT_FOUND error for unknown genomes.
func (s *Store) Genome(ctx context.Context, name string) (ir.Genome, error) {
	norm := ir.NormalizeName(name)
	var g ir.Genome
	err := s.db.QueryRowContext(ctx, `SELECT name, description FROM genomes WHERE norm = ?`, norm).
		Scan(&g.Name, &g.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Genome{}, ir.Errorf(ir.CodeReferenceNotFound, "genome %q not found", name).WithToken(name)
	}
	if err != nil {
		return ir.Genome{}, fmt.Errorf("query genome: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, length FROM chromosomes
		WHERE genome_norm = ?
		ORDER BY name COLLATE BINARY ASC
	`, norm)
	if err != nil {
		return ir.Genome{}, fmt.Errorf("query chromosomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c ir.Chromosome
		if err := rows.Scan(&c.Name, &c.Length); err != nil {
			return ir.Genome{}, fmt.Errorf("scan chromosome: %w", err)
		}
		g.Chromosomes = append(g.Chromosomes, c)
	}
	if err := rows.Err(); err != nil {
		return ir.Genome{}, fmt.Errorf("iterate chromosomes: %w", err)
	}
	return g, nil
}

// ChromosomeLengths returns chromosome name to length for a genome.
func (s *Store) ChromosomeLengths(ctx context.Context, genome string) (map[string]int64, error) {
	g, err := s.Genome(ctx, genome)
	if err != nil {
		return nil, err
	}
	lengths := make(map[string]int64, len(g.Chromosomes))
	for _, c := range g.Chromosomes {
		lengths[c.Name] = c.Length
	}
	return lengths, nil
}

// Sequence returns the bases in [start, end) of a chromosome. It returns
// an empty string when no sequence was loaded for the chromosome.
func (s *Store) Sequence(ctx context.Context, genome, chrom string, start, end int64) (string, error) {
	if end <= start {
		return "", nil
	}
	var seq string
	err := s.db.QueryRowContext(ctx, `
		SELECT substr(sequence, ?, ?) FROM sequences
		WHERE genome_norm = ? AND chromosome = ?
	`, start+1, end-start, ir.NormalizeName(genome), chrom).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query sequence: %w", err)
	}
	return seq, nil
}

// ColumnType returns a registered column type.
// Returns an UNKNOWN_COLUMN error when the name is not registered.
func (s *Store) ColumnType(ctx context.Context, name string) (ir.ColumnType, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, kind, value_type, allowed, min_value, max_value, script
		FROM column_types WHERE name = ?
	`, name)
	c, err := scanColumnType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ColumnType{}, ir.Errorf(ir.CodeUnknownColumn, "column type %q not found", name).WithToken(name)
	}
	return c, err
}

// ColumnTypes returns every registered column type ordered by name.
func (s *Store) ColumnTypes(ctx context.Context) ([]ir.ColumnType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, value_type, allowed, min_value, max_value, script
		FROM column_types ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query column types: %w", err)
	}
	defer rows.Close()
	var out []ir.ColumnType
	for rows.Next() {
		c, err := scanColumnType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column types: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanColumnType(sc scanner) (ir.ColumnType, error) {
	var (
		c       ir.ColumnType
		kind    string
		vt      string
		allowed string
	)
	if err := sc.Scan(&c.Name, &kind, &vt, &allowed, &c.Min, &c.Max, &c.Script); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.ColumnType{}, err
		}
		return ir.ColumnType{}, fmt.Errorf("scan column type: %w", err)
	}
	c.Kind = ir.ColumnKind(kind)
	c.ValueType = ir.ValueType(vt)
	if err := json.Unmarshal([]byte(allowed), &c.Allowed); err != nil {
		return ir.ColumnType{}, fmt.Errorf("unmarshal allowed values of %s: %w", c.Name, err)
	}
	if len(c.Allowed) == 0 {
		c.Allowed = nil
	}
	return c, nil
}

// ResolveTerm returns the canonical name of a vocabulary term, following
// synonyms. Returns a REFERENCE_NOT_FOUND error for unknown terms.
func (s *Store) ResolveTerm(ctx context.Context, kind ir.TermKind, name string) (string, error) {
	norm := ir.NormalizeName(name)
	var canonical string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM terms WHERE kind = ? AND norm = ?
		UNION ALL
		SELECT t.name FROM term_synonyms s
		JOIN terms t ON t.kind = s.kind AND t.norm = s.term_norm
		WHERE s.kind = ? AND s.norm = ?
		LIMIT 1
	`, string(kind), norm, string(kind), norm).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ir.Errorf(ir.CodeReferenceNotFound, "%s %q not found", strings.ReplaceAll(string(kind), "_", " "), name).
			WithToken(name)
	}
	if err != nil {
		return "", fmt.Errorf("resolve term: %w", err)
	}
	return canonical, nil
}

// BiosourceScope returns the canonical names of a biosource and of every
// biosource below it in the hierarchy, ordered by name.
func (s *Store) BiosourceScope(ctx context.Context, name string) ([]string, error) {
	canonical, err := s.ResolveTerm(ctx, ir.TermBiosource, name)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE scope(norm) AS (
			SELECT ?
			UNION
			SELECT p.child_norm FROM biosource_parents p JOIN scope ON p.parent_norm = scope.norm
		)
		SELECT t.name FROM terms t JOIN scope ON t.norm = scope.norm
		WHERE t.kind = ?
		ORDER BY t.name COLLATE BINARY ASC
	`, ir.NormalizeName(canonical), string(ir.TermBiosource))
	if err != nil {
		return nil, fmt.Errorf("query biosource scope: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan biosource: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate biosource scope: %w", err)
	}
	return names, nil
}
