// Package catalog compiles CUE catalog files into genome, column type,
// vocabulary and dataset definitions and writes them into a store.
//
// A catalog looks like:
//
//	genome: hg19: chromosomes: {chr1: 1000, chr2: 500}
//	column: SCORE: {kind: "simple", type: "double"}
//	term: biosource: "K562": parents: ["blood"]
//	dataset: peaks: {
//		kind:    "experiment"
//		genome:  "hg19"
//		columns: ["SCORE"]
//		regions: """
//			chr1	100	200	5
//			"""
//	}
//
// Files are validated against the embedded #Catalog schema before they are
// compiled.
package catalog

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Catalog is a compiled catalog. Every list keeps the declaration order of
// the source.
type Catalog struct {
	Genomes  []GenomeSpec
	Columns  []ir.ColumnType
	Terms    []store.Term
	Datasets []DatasetSpec
}

// GenomeSpec is a genome with the sequences loaded for some of its
// chromosomes.
type GenomeSpec struct {
	Genome    ir.Genome
	Sequences map[string]string
}

// DatasetSpec is a dataset descriptor plus the source of its regions.
// Dataset.Columns holds the base columns followed by the declared ones.
// Exactly one of Regions and File is set.
type DatasetSpec struct {
	Dataset ir.Dataset
	Regions string
	File    string
	Pos     token.Pos
}

// CompileError is a catalog error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// Schema returns the #Catalog definition compiled in the context of v.
func Schema(v cue.Value) cue.Value {
	schema := v.Context().CompileString(schemaSource, cue.Filename("schema.cue"))
	return schema.LookupPath(cue.ParsePath("#Catalog"))
}

// Compile validates v against the catalog schema and converts it.
func Compile(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := Schema(v)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{}
	var err error
	if c.Genomes, err = compileGenomes(v.LookupPath(cue.ParsePath("genome"))); err != nil {
		return nil, err
	}
	if c.Columns, err = compileColumns(v.LookupPath(cue.ParsePath("column"))); err != nil {
		return nil, err
	}
	if c.Terms, err = compileTerms(v.LookupPath(cue.ParsePath("term"))); err != nil {
		return nil, err
	}
	if c.Datasets, err = compileDatasets(v.LookupPath(cue.ParsePath("dataset"))); err != nil {
		return nil, err
	}
	return c, nil
}

func compileGenomes(v cue.Value) ([]GenomeSpec, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []GenomeSpec
	for iter.Next() {
		gv := iter.Value()
		spec := GenomeSpec{Genome: ir.Genome{Name: iter.Label()}}
		if spec.Genome.Description, err = optionalString(gv, "description"); err != nil {
			return nil, err
		}
		chroms, err := gv.LookupPath(cue.ParsePath("chromosomes")).Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for chroms.Next() {
			length, err := chroms.Value().Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			spec.Genome.Chromosomes = append(spec.Genome.Chromosomes, ir.Chromosome{Name: chroms.Label(), Length: length})
		}
		if len(spec.Genome.Chromosomes) == 0 {
			return nil, &CompileError{Field: "genome." + spec.Genome.Name, Message: "at least one chromosome is required", Pos: gv.Pos()}
		}

		seqs := gv.LookupPath(cue.ParsePath("sequences"))
		if seqs.Exists() {
			spec.Sequences = make(map[string]string)
			it, err := seqs.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for it.Next() {
				length, ok := spec.Genome.Length(it.Label())
				if !ok {
					return nil, &CompileError{
						Field:   "genome." + spec.Genome.Name + ".sequences",
						Message: fmt.Sprintf("sequence for unknown chromosome %q", it.Label()),
						Pos:     it.Value().Pos(),
					}
				}
				seq, err := it.Value().String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				if int64(len(seq)) != length {
					return nil, &CompileError{
						Field:   "genome." + spec.Genome.Name + ".sequences",
						Message: fmt.Sprintf("sequence of %s has %d bases, chromosome length is %d", it.Label(), len(seq), length),
						Pos:     it.Value().Pos(),
					}
				}
				spec.Sequences[it.Label()] = seq
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

func compileColumns(v cue.Value) ([]ir.ColumnType, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.ColumnType
	for iter.Next() {
		cv := iter.Value()
		c := ir.ColumnType{Name: iter.Label()}
		kind, err := cv.LookupPath(cue.ParsePath("kind")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		c.Kind = ir.ColumnKind(kind)
		valueType, err := optionalString(cv, "type")
		if err != nil {
			return nil, err
		}
		c.ValueType = ir.ValueType(valueType)
		if c.Allowed, err = optionalStrings(cv, "allowed"); err != nil {
			return nil, err
		}
		if c.Min, err = optionalFloat(cv, "min"); err != nil {
			return nil, err
		}
		if c.Max, err = optionalFloat(cv, "max"); err != nil {
			return nil, err
		}
		if c.Script, err = optionalString(cv, "script"); err != nil {
			return nil, err
		}
		if err := c.Validate(); err != nil {
			return nil, &CompileError{Field: "column." + c.Name, Message: err.Error(), Pos: cv.Pos()}
		}
		out = append(out, c)
	}
	return out, nil
}

func compileTerms(v cue.Value) ([]store.Term, error) {
	if !v.Exists() {
		return nil, nil
	}
	var out []store.Term
	for _, kind := range ir.TermKinds {
		kv := v.LookupPath(cue.ParsePath(string(kind)))
		if !kv.Exists() {
			continue
		}
		iter, err := kv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			t := store.Term{Kind: kind, Name: iter.Label()}
			if t.Synonyms, err = optionalStrings(iter.Value(), "synonyms"); err != nil {
				return nil, err
			}
			if t.Parents, err = optionalStrings(iter.Value(), "parents"); err != nil {
				return nil, err
			}
			if len(t.Parents) > 0 && kind != ir.TermBiosource {
				return nil, &CompileError{
					Field:   fmt.Sprintf("term.%s.%s.parents", kind, t.Name),
					Message: "only biosources have parents",
					Pos:     iter.Value().Pos(),
				}
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func compileDatasets(v cue.Value) ([]DatasetSpec, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []DatasetSpec
	for iter.Next() {
		dv := iter.Value()
		spec := DatasetSpec{Dataset: ir.Dataset{Name: iter.Label()}, Pos: dv.Pos()}
		d := &spec.Dataset
		kind, err := dv.LookupPath(cue.ParsePath("kind")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d.Kind = ir.DatasetKind(kind)
		if d.Genome, err = dv.LookupPath(cue.ParsePath("genome")).String(); err != nil {
			return nil, formatCUEError(err)
		}
		fields := []struct {
			name   string
			target *string
		}{
			{"epigenetic_mark", &d.EpigeneticMark},
			{"biosource", &d.Biosource},
			{"sample", &d.Sample},
			{"technique", &d.Technique},
			{"project", &d.Project},
			{"description", &d.Description},
			{"regions", &spec.Regions},
			{"file", &spec.File},
		}
		for _, f := range fields {
			if *f.target, err = optionalString(dv, f.name); err != nil {
				return nil, err
			}
		}

		names, err := optionalStrings(dv, "columns")
		if err != nil {
			return nil, err
		}
		for _, base := range ir.BaseColumns {
			d.Columns = append(d.Columns, ir.ColumnType{Name: base})
		}
		seen := make(map[string]bool)
		for _, name := range names {
			if seen[name] || isBase(name) {
				return nil, &CompileError{
					Field:   "dataset." + d.Name + ".columns",
					Message: fmt.Sprintf("column %s is a base column or listed twice", name),
					Pos:     dv.Pos(),
				}
			}
			seen[name] = true
			d.Columns = append(d.Columns, ir.ColumnType{Name: name})
		}

		if (spec.Regions == "") == (spec.File == "") {
			return nil, &CompileError{
				Field:   "dataset." + d.Name,
				Message: "exactly one of regions and file is required",
				Pos:     dv.Pos(),
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

func isBase(name string) bool {
	for _, b := range ir.BaseColumns {
		if b == name {
			return true
		}
	}
	return false
}

func optionalString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalStrings(v cue.Value, path string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalFloat(v cue.Value, path string) (float64, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return 0, nil
	}
	n, err := f.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}
