package harness

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
)

type selectArgs struct {
	Genomes          []string `yaml:"genomes"`
	Datasets         []string `yaml:"datasets"`
	Kind             string   `yaml:"kind"`
	EpigeneticMarks  []string `yaml:"epigenetic_marks"`
	Biosources       []string `yaml:"biosources"`
	ExpandBiosources bool     `yaml:"expand_biosources"`
	Samples          []string `yaml:"samples"`
	Techniques       []string `yaml:"techniques"`
	Projects         []string `yaml:"projects"`
	Chromosome       string   `yaml:"chromosome"`
	Start            int64    `yaml:"start"`
	End              int64    `yaml:"end"`
}

type filterArgs struct {
	Input  string `yaml:"input"`
	Column string `yaml:"column"`
	Op     string `yaml:"op"`
	Value  string `yaml:"value"`
	Type   string `yaml:"type"`
}

type pairArgs struct {
	A          string `yaml:"a"`
	B          string `yaml:"b"`
	Keep       *bool  `yaml:"keep"`
	MinOverlap int64  `yaml:"min_overlap"`
	Unit       string `yaml:"unit"`
}

type mergeArgs struct {
	Inputs []string `yaml:"inputs"`
}

type aggregateArgs struct {
	Data   string `yaml:"data"`
	Ranges string `yaml:"ranges"`
	Column string `yaml:"column"`
}

type tilingArgs struct {
	Genome      string   `yaml:"genome"`
	Size        int64    `yaml:"size"`
	Chromosomes []string `yaml:"chromosomes"`
}

type extendArgs struct {
	Input     string `yaml:"input"`
	Length    int64  `yaml:"length"`
	Direction string `yaml:"direction"`
	UseStrand bool   `yaml:"use_strand"`
}

type flankArgs struct {
	Input       string `yaml:"input"`
	StartOffset int64  `yaml:"start_offset"`
	Length      int64  `yaml:"length"`
	UseStrand   bool   `yaml:"use_strand"`
}

type inputRegionsArgs struct {
	Genome  string `yaml:"genome"`
	Regions string `yaml:"regions"`
}

type inputArgs struct {
	Input string `yaml:"input"`
}

// buildOperator decodes the args of a build step into the operator of the
// given kind. Node references are passed through resolve.
func buildOperator(kind string, args *yaml.Node, resolve func(string) string) (query.Operator, error) {
	decode := func(v any) error {
		if args == nil || args.Kind == 0 {
			return nil
		}
		if err := args.Decode(v); err != nil {
			return fmt.Errorf("%s args: %w", kind, err)
		}
		return nil
	}

	switch kind {
	case "select":
		var a selectArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Select{
			Genomes:          a.Genomes,
			Datasets:         a.Datasets,
			DatasetKind:      ir.DatasetKind(a.Kind),
			EpigeneticMarks:  a.EpigeneticMarks,
			Biosources:       a.Biosources,
			ExpandBiosources: a.ExpandBiosources,
			Samples:          a.Samples,
			Techniques:       a.Techniques,
			Projects:         a.Projects,
			Chromosome:       a.Chromosome,
			Start:            a.Start,
			End:              a.End,
		}, nil
	case "filter":
		var a filterArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Filter{Input: resolve(a.Input), Column: a.Column, Op: a.Op, Value: a.Value, ValueType: a.Type}, nil
	case "intersection":
		var a pairArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Intersection{A: resolve(a.A), B: resolve(a.B)}, nil
	case "overlap":
		var a pairArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		keep := a.Keep == nil || *a.Keep
		return query.Overlap{A: resolve(a.A), B: resolve(a.B), Keep: keep, MinOverlap: a.MinOverlap, Unit: a.Unit}, nil
	case "merge":
		var a mergeArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		inputs := make([]string, len(a.Inputs))
		for i, in := range a.Inputs {
			inputs[i] = resolve(in)
		}
		return query.Merge{Inputs: inputs}, nil
	case "aggregate":
		var a aggregateArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Aggregate{Data: resolve(a.Data), Ranges: resolve(a.Ranges), Column: a.Column}, nil
	case "tiling":
		var a tilingArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Tiling{Genome: a.Genome, Size: a.Size, Chromosomes: a.Chromosomes}, nil
	case "extend":
		var a extendArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Extend{Input: resolve(a.Input), Length: a.Length, Direction: a.Direction, UseStrand: a.UseStrand}, nil
	case "flank":
		var a flankArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Flank{Input: resolve(a.Input), StartOffset: a.StartOffset, Length: a.Length, UseStrand: a.UseStrand}, nil
	case "input_regions":
		var a inputRegionsArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.InputRegions{Genome: a.Genome, RawText: a.Regions}, nil
	case "cache":
		var a inputArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return query.Cache{Input: resolve(a.Input)}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", kind)
}

// describeOperator renders the node references of op for the trace.
func describeOperator(op query.Operator) string {
	var refs []string
	add := func(name, id string) {
		if id != "" {
			refs = append(refs, name+"="+id)
		}
	}
	switch o := op.(type) {
	case query.Select:
		add("datasets", strings.Join(o.Datasets, ","))
	case query.Filter:
		add("input", o.Input)
		add("where", o.Column+o.Op+o.Value)
	case query.Intersection:
		add("a", o.A)
		add("b", o.B)
	case query.Overlap:
		add("a", o.A)
		add("b", o.B)
	case query.Merge:
		add("inputs", strings.Join(o.Inputs, ","))
	case query.Aggregate:
		add("data", o.Data)
		add("ranges", o.Ranges)
	case query.Tiling:
		add("genome", o.Genome)
	case query.Extend:
		add("input", o.Input)
	case query.Flank:
		add("input", o.Input)
	case query.InputRegions:
		add("genome", o.Genome)
	case query.Cache:
		add("input", o.Input)
	}
	if len(refs) == 0 {
		return op.Kind()
	}
	return op.Kind() + " " + strings.Join(refs, " ")
}
