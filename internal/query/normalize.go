package query

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// normalized is the canonical form of an operator application.
type normalized struct {
	op       Operator
	args     ir.IRObject
	inputs   []*Node
	genomes  []string
	shortcut *Node // set when the application is an existing node
}

func (g *Graph) normalize(ctx context.Context, owner string, op Operator) (normalized, error) {
	switch o := op.(type) {
	case Select:
		return g.normalizeSelect(ctx, o)
	case Filter:
		return g.normalizeFilter(owner, o)
	case Intersection:
		a, b, genomes, err := g.binary(owner, "intersection", o.A, o.B)
		if err != nil {
			return normalized{}, err
		}
		return normalized{op: o, args: ir.IRObject{}, inputs: []*Node{a, b}, genomes: genomes}, nil
	case Overlap:
		return g.normalizeOverlap(owner, o)
	case Merge:
		return g.normalizeMerge(owner, o)
	case Aggregate:
		if o.Column == "" {
			return normalized{}, invalid("aggregate: column is required")
		}
		data, ranges, genomes, err := g.binary(owner, "aggregate", o.Data, o.Ranges)
		if err != nil {
			return normalized{}, err
		}
		return normalized{
			op:      o,
			args:    ir.IRObject{"column": ir.IRString(o.Column)},
			inputs:  []*Node{data, ranges},
			genomes: genomes,
		}, nil
	case Tiling:
		return g.normalizeTiling(ctx, o)
	case Extend:
		return g.normalizeExtend(owner, o)
	case Flank:
		in, err := g.input(owner, "flank", o.Input)
		if err != nil {
			return normalized{}, err
		}
		if o.Length <= 0 {
			return normalized{}, invalid("flank: length must be positive, got %d", o.Length)
		}
		return normalized{
			op: o,
			args: ir.IRObject{
				"start_offset": ir.IRInt(o.StartOffset),
				"length":       ir.IRInt(o.Length),
				"use_strand":   ir.IRBool(o.UseStrand),
			},
			inputs:  []*Node{in},
			genomes: in.Genomes,
		}, nil
	case InputRegions:
		genome, err := g.registry.Genome(ctx, o.Genome)
		if err != nil {
			return normalized{}, err
		}
		if strings.TrimSpace(o.RawText) == "" {
			return normalized{}, invalid("input_regions: no regions given")
		}
		o.Genome = genome.Name
		return normalized{
			op:      o,
			args:    ir.IRObject{"genome": ir.IRString(o.Genome), "raw_text": ir.IRString(o.RawText)},
			genomes: []string{genome.Name},
		}, nil
	case Cache:
		in, err := g.input(owner, "cache", o.Input)
		if err != nil {
			return normalized{}, err
		}
		return normalized{op: o, args: ir.IRObject{}, inputs: []*Node{in}, genomes: in.Genomes}, nil
	default:
		return normalized{}, ir.Errorf(ir.CodeInternal, "unknown operator %T", op)
	}
}

func (g *Graph) normalizeSelect(ctx context.Context, o Select) (normalized, error) {
	if len(o.Genomes) == 0 && len(o.Datasets) == 0 {
		return normalized{}, invalid("select: at least one genome or dataset is required")
	}
	if o.DatasetKind != "" && !o.DatasetKind.Valid() {
		return normalized{}, invalid("select: unknown dataset kind %q", o.DatasetKind).WithToken(string(o.DatasetKind))
	}

	genomes := make([]ir.Genome, 0, len(o.Genomes))
	var names []string
	for _, name := range o.Genomes {
		genome, err := g.registry.Genome(ctx, name)
		if err != nil {
			return normalized{}, err
		}
		if !slices.Contains(names, genome.Name) {
			genomes = append(genomes, genome)
			names = append(names, genome.Name)
		}
	}

	var ids []string
	for _, ref := range o.Datasets {
		d, err := g.registry.ResolveDataset(ctx, ref)
		if err != nil {
			return normalized{}, err
		}
		switch {
		case len(o.Genomes) == 0:
			if !slices.Contains(names, d.Genome) {
				genome, err := g.registry.Genome(ctx, d.Genome)
				if err != nil {
					return normalized{}, err
				}
				genomes = append(genomes, genome)
				names = append(names, genome.Name)
			}
		case !slices.Contains(names, d.Genome):
			return normalized{}, ir.Errorf(ir.CodeIncompatibleGenome,
				"dataset %q belongs to genome %s, not to %s", ref, d.Genome, strings.Join(names, ", ")).WithToken(ref)
		}
		ids = append(ids, d.ID)
	}

	resolve := func(kind ir.TermKind, values []string) ([]string, error) {
		out := make([]string, 0, len(values))
		for _, v := range values {
			canonical, err := g.registry.ResolveTerm(ctx, kind, v)
			if err != nil {
				return nil, err
			}
			out = append(out, canonical)
		}
		return sortedSet(out), nil
	}
	var err error
	if o.EpigeneticMarks, err = resolve(ir.TermEpigeneticMark, o.EpigeneticMarks); err != nil {
		return normalized{}, err
	}
	if o.Samples, err = resolve(ir.TermSample, o.Samples); err != nil {
		return normalized{}, err
	}
	if o.Techniques, err = resolve(ir.TermTechnique, o.Techniques); err != nil {
		return normalized{}, err
	}
	if o.Projects, err = resolve(ir.TermProject, o.Projects); err != nil {
		return normalized{}, err
	}
	if o.ExpandBiosources {
		var scoped []string
		for _, b := range o.Biosources {
			scope, err := g.registry.BiosourceScope(ctx, b)
			if err != nil {
				return normalized{}, err
			}
			scoped = append(scoped, scope...)
		}
		o.Biosources = sortedSet(scoped)
		// The expanded list is the canonical form.
		o.ExpandBiosources = false
	} else if o.Biosources, err = resolve(ir.TermBiosource, o.Biosources); err != nil {
		return normalized{}, err
	}

	if o.Start < 0 {
		return normalized{}, invalid("select: negative start %d", o.Start)
	}
	if o.End != 0 && o.End <= o.Start {
		return normalized{}, invalid("select: end %d must be greater than start %d", o.End, o.Start)
	}
	if o.Chromosome == "" && (o.Start != 0 || o.End != 0) {
		return normalized{}, invalid("select: a coordinate window needs a chromosome")
	}
	if o.Chromosome != "" {
		found := false
		for _, genome := range genomes {
			if _, ok := genome.Length(o.Chromosome); ok {
				found = true
				break
			}
		}
		if !found {
			return normalized{}, ir.Errorf(ir.CodeReferenceNotFound, "chromosome %q not found", o.Chromosome).
				WithToken(o.Chromosome)
		}
	}

	names = sortedSet(names)
	o.Genomes = names
	o.Datasets = sortedSet(ids)
	args := ir.IRObject{
		"genomes":          ir.Strings(o.Genomes),
		"datasets":         ir.Strings(o.Datasets),
		"kind":             ir.IRString(o.DatasetKind),
		"epigenetic_marks": ir.Strings(o.EpigeneticMarks),
		"biosources":       ir.Strings(o.Biosources),
		"samples":          ir.Strings(o.Samples),
		"techniques":       ir.Strings(o.Techniques),
		"projects":         ir.Strings(o.Projects),
		"chromosome":       ir.IRString(o.Chromosome),
		"start":            ir.IRInt(o.Start),
		"end":              ir.IRInt(o.End),
	}
	return normalized{op: o, args: args, genomes: names}, nil
}

func (g *Graph) normalizeFilter(owner string, o Filter) (normalized, error) {
	in, err := g.input(owner, "filter", o.Input)
	if err != nil {
		return normalized{}, err
	}
	if o.Column == "" {
		return normalized{}, invalid("filter: column is required")
	}
	switch o.Op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
	default:
		return normalized{}, invalid("filter: unknown operation %q", o.Op).WithToken(o.Op)
	}
	switch o.ValueType {
	case FilterString:
	case FilterNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
		if err != nil {
			return normalized{}, invalid("filter: value %q is not a number", o.Value).WithToken(o.Value)
		}
		o.Value = strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return normalized{}, invalid("filter: unknown value type %q", o.ValueType).WithToken(o.ValueType)
	}
	return normalized{
		op: o,
		args: ir.IRObject{
			"column":     ir.IRString(o.Column),
			"op":         ir.IRString(o.Op),
			"value":      ir.IRString(o.Value),
			"value_type": ir.IRString(o.ValueType),
		},
		inputs:  []*Node{in},
		genomes: in.Genomes,
	}, nil
}

func (g *Graph) normalizeOverlap(owner string, o Overlap) (normalized, error) {
	a, b, genomes, err := g.binary(owner, "overlap", o.A, o.B)
	if err != nil {
		return normalized{}, err
	}
	if o.Unit == "" {
		o.Unit = UnitBasePairs
	}
	switch o.Unit {
	case UnitBasePairs:
	case UnitPercent:
		if o.MinOverlap > 100 {
			return normalized{}, invalid("overlap: percentage %d above 100", o.MinOverlap)
		}
	default:
		return normalized{}, invalid("overlap: unknown unit %q", o.Unit).WithToken(o.Unit)
	}
	if o.MinOverlap < 0 {
		return normalized{}, invalid("overlap: negative minimum overlap %d", o.MinOverlap)
	}
	return normalized{
		op: o,
		args: ir.IRObject{
			"keep":        ir.IRBool(o.Keep),
			"min_overlap": ir.IRInt(o.MinOverlap),
			"unit":        ir.IRString(o.Unit),
		},
		inputs:  []*Node{a, b},
		genomes: genomes,
	}, nil
}

func (g *Graph) normalizeMerge(owner string, o Merge) (normalized, error) {
	if len(o.Inputs) == 0 {
		return normalized{}, invalid("merge: at least one input is required")
	}
	var (
		inputs  []*Node
		genomes []string
	)
	for _, id := range o.Inputs {
		n, err := g.input(owner, "merge", id)
		if err != nil {
			return normalized{}, err
		}
		if !slices.ContainsFunc(inputs, func(x *Node) bool { return x.Key == n.Key }) {
			inputs = append(inputs, n)
			genomes = append(genomes, n.Genomes...)
		}
	}
	if len(inputs) == 1 {
		return normalized{shortcut: inputs[0]}, nil
	}
	slices.SortFunc(inputs, func(x, y *Node) int { return strings.Compare(x.Key, y.Key) })
	o.Inputs = make([]string, len(inputs))
	for i, n := range inputs {
		o.Inputs[i] = n.ID
	}
	return normalized{op: o, args: ir.IRObject{}, inputs: inputs, genomes: sortedSet(genomes)}, nil
}

func (g *Graph) normalizeTiling(ctx context.Context, o Tiling) (normalized, error) {
	genome, err := g.registry.Genome(ctx, o.Genome)
	if err != nil {
		return normalized{}, err
	}
	if o.Size <= 0 {
		return normalized{}, invalid("tiling: size must be positive, got %d", o.Size)
	}
	for _, c := range o.Chromosomes {
		if _, ok := genome.Length(c); !ok {
			return normalized{}, ir.Errorf(ir.CodeReferenceNotFound, "chromosome %q not found in genome %s", c, genome.Name).
				WithToken(c)
		}
	}
	o.Genome = genome.Name
	o.Chromosomes = sortedSet(o.Chromosomes)
	return normalized{
		op: o,
		args: ir.IRObject{
			"genome":      ir.IRString(o.Genome),
			"size":        ir.IRInt(o.Size),
			"chromosomes": ir.Strings(o.Chromosomes),
		},
		genomes: []string{genome.Name},
	}, nil
}

func (g *Graph) normalizeExtend(owner string, o Extend) (normalized, error) {
	in, err := g.input(owner, "extend", o.Input)
	if err != nil {
		return normalized{}, err
	}
	if o.Length < 0 {
		return normalized{}, invalid("extend: negative length %d", o.Length)
	}
	switch o.Direction {
	case DirectionForward, DirectionBackward, DirectionBoth:
	default:
		return normalized{}, invalid("extend: unknown direction %q", o.Direction).WithToken(o.Direction)
	}
	return normalized{
		op: o,
		args: ir.IRObject{
			"length":     ir.IRInt(o.Length),
			"direction":  ir.IRString(o.Direction),
			"use_strand": ir.IRBool(o.UseStrand),
		},
		inputs:  []*Node{in},
		genomes: in.Genomes,
	}, nil
}

func (g *Graph) input(owner, kind, id string) (*Node, error) {
	if id == "" {
		return nil, invalid("%s: input query is required", kind)
	}
	return g.Node(owner, id)
}

// binary resolves the two operands of an order-sensitive binary operator.
// Their genome sets must intersect.
func (g *Graph) binary(owner, kind, a, b string) (*Node, *Node, []string, error) {
	na, err := g.input(owner, kind, a)
	if err != nil {
		return nil, nil, nil, err
	}
	nb, err := g.input(owner, kind, b)
	if err != nil {
		return nil, nil, nil, err
	}
	var shared []string
	for _, genome := range na.Genomes {
		if slices.Contains(nb.Genomes, genome) {
			shared = append(shared, genome)
		}
	}
	if len(shared) == 0 {
		return nil, nil, nil, ir.Errorf(ir.CodeIncompatibleGenome, "%s: %s ranges over %s but %s ranges over %s",
			kind, na.ID, strings.Join(na.Genomes, ", "), nb.ID, strings.Join(nb.Genomes, ", "))
	}
	return na, nb, shared, nil
}

func invalid(format string, args ...any) *ir.Error {
	return ir.Errorf(ir.CodeInvalidArguments, format, args...)
}

func sortedSet(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
