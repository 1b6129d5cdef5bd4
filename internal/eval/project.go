package eval

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/format"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/region"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/script"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// Gene model columns read by @GENE_ID and @GENE_NAME.
const (
	GeneIDColumn   = "GENE_ID"
	GeneNameColumn = "GENE_NAME"
)

// Table is a formatted region listing.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// TSV renders the rows as tab separated lines without a header.
func (t Table) TSV() string {
	var b strings.Builder
	for _, r := range t.Rows {
		b.WriteString(strings.Join(r, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Regions materializes n and projects every row through cols.
func (e *Evaluator) Regions(ctx context.Context, n *query.Node, cols []format.Column) (Table, error) {
	schema, err := e.Schema(ctx, n)
	if err != nil {
		return Table{}, err
	}
	resolved, err := format.Resolve(cols, schema)
	if err != nil {
		return Table{}, err
	}
	p, err := e.newProjector(ctx, n, schema, resolved)
	if err != nil {
		return Table{}, err
	}
	defer p.close()

	it, err := e.Rows(ctx, n)
	if err != nil {
		return Table{}, err
	}
	defer it.Close()

	t := Table{Header: format.Header(resolved), Rows: [][]string{}}
	for it.Next() {
		rec, err := p.project(ctx, it.Row())
		if err != nil {
			return Table{}, err
		}
		t.Rows = append(t.Rows, rec)
	}
	if err := it.Err(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// projector computes the output columns of one request. Not safe for
// concurrent use.
type projector struct {
	e        *Evaluator
	node     *query.Node
	schema   []ir.ColumnType
	cols     []format.Column
	datasets map[string]ir.Dataset
	programs map[int]script.Program
	genes    map[string]*geneLookup
}

type geneLookup struct {
	it    region.Iterator
	sweep *region.Sweeper
}

func (e *Evaluator) newProjector(ctx context.Context, n *query.Node, schema []ir.ColumnType, cols []format.Column) (*projector, error) {
	p := &projector{
		e:        e,
		node:     n,
		schema:   schema,
		cols:     cols,
		datasets: make(map[string]ir.Dataset),
		programs: make(map[int]script.Program),
		genes:    make(map[string]*geneLookup),
	}
	for i, c := range cols {
		var err error
		switch {
		case c.Kind == format.KindCalculated:
			if e.scripts == nil {
				err = ir.Errorf(ir.CodeInternal, "no script engine configured")
				break
			}
			p.programs[i], err = e.scripts.Compile(c.Arg)
		case c.Name == format.MetaGeneID || c.Name == format.MetaGeneName:
			err = p.openGeneModel(ctx, c.Arg)
		}
		if err != nil {
			p.close()
			return nil, err
		}
	}
	return p, nil
}

func (p *projector) openGeneModel(ctx context.Context, model string) error {
	if _, ok := p.genes[model]; ok {
		return nil
	}
	d, err := p.e.store.ResolveDataset(ctx, model)
	if err != nil || d.Kind != ir.DatasetGeneModel {
		return ir.Errorf(ir.CodeReferenceNotFound, "gene model %q not found", model).WithToken(model)
	}
	it, err := p.e.store.ReadRows(ctx, d.ID, store.Window{})
	if err != nil {
		return err
	}
	p.genes[model] = &geneLookup{it: it, sweep: region.NewSweeper(it)}
	return nil
}

func (p *projector) close() {
	for _, prog := range p.programs {
		prog.Close()
	}
	for _, g := range p.genes {
		g.it.Close()
	}
}

func (p *projector) project(ctx context.Context, r region.Row) ([]string, error) {
	rec := make([]string, len(p.cols))
	for i, c := range p.cols {
		var (
			v   string
			err error
		)
		switch c.Kind {
		case format.KindRaw:
			v, _ = r.Value(c.Name)
		case format.KindMetadata:
			v, err = p.metadata(ctx, r, c)
		case format.KindCalculated:
			v, err = p.programs[i].Evaluate(ctx, scriptRow{row: r, schema: p.schema}, p.e.instructionLimit)
		}
		if err != nil {
			return nil, err
		}
		rec[i] = v
	}
	return rec, nil
}

func (p *projector) dataset(ctx context.Context, id string) (ir.Dataset, error) {
	if id == "" {
		return ir.Dataset{}, nil
	}
	if d, ok := p.datasets[id]; ok {
		return d, nil
	}
	d, err := p.e.store.Dataset(ctx, id)
	if err != nil {
		return ir.Dataset{}, err
	}
	p.datasets[id] = d
	return d, nil
}

func (p *projector) metadata(ctx context.Context, r region.Row, c format.Column) (string, error) {
	switch c.Name {
	case format.MetaLength:
		return formatInt(r.Length()), nil
	case format.MetaSequence:
		genome := ""
		if len(p.node.Genomes) > 0 {
			genome = p.node.Genomes[0]
		}
		if r.DatasetID != "" {
			d, err := p.dataset(ctx, r.DatasetID)
			if err != nil {
				return "", err
			}
			genome = d.Genome
		}
		return p.e.store.Sequence(ctx, genome, r.Chrom, r.Start, r.End)
	case format.MetaGeneID, format.MetaGeneName:
		return p.gene(r, c)
	}

	d, err := p.dataset(ctx, r.DatasetID)
	if err != nil {
		return "", err
	}
	switch c.Name {
	case format.MetaName:
		return d.Name, nil
	case format.MetaEpigeneticMark:
		return d.EpigeneticMark, nil
	case format.MetaBiosource:
		return d.Biosource, nil
	case format.MetaSample:
		return d.Sample, nil
	case format.MetaTechnique:
		return d.Technique, nil
	case format.MetaProject:
		return d.Project, nil
	case format.MetaID:
		return d.ID, nil
	}
	return "", ir.Errorf(ir.CodeInternal, "unhandled metadata column %s", c.Name)
}

// gene returns the distinct values of the gene model column for the genes
// overlapping r, comma separated in gene order.
func (p *projector) gene(r region.Row, c format.Column) (string, error) {
	g, ok := p.genes[c.Arg]
	if !ok {
		return "", errors.New("gene model not opened: " + c.Arg)
	}
	field := GeneIDColumn
	if c.Name == format.MetaGeneName {
		field = GeneNameColumn
	}
	hits, err := g.sweep.Overlapping(r)
	if err != nil {
		return "", err
	}
	var values []string
	for _, h := range hits {
		if v := h.Fields[field]; v != "" && !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	return strings.Join(values, ","), nil
}

// scriptRow exposes a row to calculated column scripts.
type scriptRow struct {
	row    region.Row
	schema []ir.ColumnType
}

func (s scriptRow) Value(name string) (string, bool) {
	if v, ok := rowValue(s.row, name); ok {
		return v, true
	}
	// Columns of other datasets in the same result read as empty.
	_, err := column(s.schema, name)
	return "", err == nil
}

func (s scriptRow) Numeric(name string) bool {
	c, err := column(s.schema, name)
	return err == nil && c.ValueType.Numeric()
}
