package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/engine"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/query"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	User       string
	Datasets   []string
	Genomes    []string
	Marks      []string
	Biosources []string
	Expand     bool // match biosources below the given ones
	Projects   []string
	Chromosome string
	Start      int64
	End        int64
	Where      []string // "COLUMN OP VALUE"
	Intersect  []string // datasets the selection must overlap
	Operation  string
	Columns    string // output format of get_regions
	Column     string
	Bars       int
	Timeout    time.Duration
}

// queryOperations are the operations reachable from flags alone.
var queryOperations = []engine.Operation{
	engine.OpCountRegions,
	engine.OpGetRegions,
	engine.OpExperiments,
	engine.OpBinning,
	engine.OpDistinct,
	engine.OpCoverage,
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Select regions and run one operation on them",
		Long: `Select regions from the loaded datasets, optionally filter them and
intersect them with other datasets, then submit one request and print
its result.

Filters are written as "COLUMN OP VALUE" with OP one of
==, !=, <, <=, >, >=. Values that parse as numbers compare numerically.

Score matrices and enrichment need several queries; run them from a
scenario file with "deepblue run".

Examples:
  deepblue query --dataset peaks_a
  deepblue query --dataset peaks_a --where "SCORE >= 5" --operation get_regions
  deepblue query --epigenetic-mark H3K4me3 --genome hg19 --chromosome chr1 --end 5000
  deepblue query --dataset peaks_a --intersect peaks_b --operation get_regions --columns CHROMOSOME,START,END,NAME
  deepblue query --dataset peaks_a --operation binning --column SCORE --bars 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.User, "user", "anonymous", "user the request is submitted as")
	flags.StringSliceVar(&opts.Datasets, "dataset", nil, "dataset name or id (repeatable)")
	flags.StringSliceVar(&opts.Genomes, "genome", nil, "genome (repeatable)")
	flags.StringSliceVar(&opts.Marks, "epigenetic-mark", nil, "epigenetic mark (repeatable)")
	flags.StringSliceVar(&opts.Biosources, "biosource", nil, "biosource (repeatable)")
	flags.BoolVar(&opts.Expand, "expand-biosources", false, "also match biosources below the given ones")
	flags.StringSliceVar(&opts.Projects, "project", nil, "project (repeatable)")
	flags.StringVar(&opts.Chromosome, "chromosome", "", "restrict to one chromosome")
	flags.Int64Var(&opts.Start, "start", 0, "window start")
	flags.Int64Var(&opts.End, "end", 0, "window end (0 is open)")
	flags.StringSliceVar(&opts.Where, "where", nil, `filter "COLUMN OP VALUE" (repeatable)`)
	flags.StringSliceVar(&opts.Intersect, "intersect", nil, "keep regions overlapping these datasets")
	flags.StringVar(&opts.Operation, "operation", string(engine.OpCountRegions), "operation to run")
	flags.StringVar(&opts.Columns, "columns", "", "output columns of get_regions")
	flags.StringVar(&opts.Column, "column", "", "column of binning and distinct_column_values")
	flags.IntVar(&opts.Bars, "bars", 10, "number of binning bars")
	flags.DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for the request")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	op := engine.Operation(opts.Operation)
	if !isQueryOperation(op) {
		return NewExitError(ExitCommandError, fmt.Sprintf("operation %q cannot run from flags (one of %v)", opts.Operation, queryOperations))
	}
	filters := make([]query.Filter, 0, len(opts.Where))
	for _, w := range opts.Where {
		f, err := parseWhere(w)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --where", err)
		}
		filters = append(filters, f)
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	eng, err := engine.New(opts.Engine, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer eng.Close()

	s := eng.OpenSession(ir.Caller{UserID: opts.User})
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := buildQuery(ctx, s, opts, filters)
	if err != nil {
		return queryFailed(formatter, err)
	}
	formatter.VerboseLog("Built query %s", id)

	reqID, err := s.Submit(op, id, opts.Columns, engine.Params{
		Column: opts.Column,
		Bars:   opts.Bars,
		Genome: firstOf(opts.Genomes),
	})
	if err != nil {
		return queryFailed(formatter, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	info, err := s.Wait(waitCtx, reqID)
	if err != nil {
		_, _ = s.Cancel(reqID)
		return queryFailed(formatter, err)
	}
	formatter.VerboseLog("Request %s %s", info.ID, info.State)

	res, err := s.GetData(reqID)
	if err != nil {
		return queryFailed(formatter, err)
	}
	if opts.Format == "json" {
		return formatter.SuccessFor(reqID, res)
	}
	writeResult(formatter, res)
	return nil
}

// buildQuery builds the selection, its filters and intersections and
// returns the id of the last node.
func buildQuery(ctx context.Context, s *engine.Session, opts *QueryOptions, filters []query.Filter) (string, error) {
	id, err := s.Build(ctx, query.Select{
		Genomes:          opts.Genomes,
		Datasets:         opts.Datasets,
		EpigeneticMarks:  opts.Marks,
		Biosources:       opts.Biosources,
		ExpandBiosources: opts.Expand,
		Projects:         opts.Projects,
		Chromosome:       opts.Chromosome,
		Start:            opts.Start,
		End:              opts.End,
	})
	if err != nil {
		return "", err
	}
	for _, f := range filters {
		f.Input = id
		if id, err = s.Build(ctx, f); err != nil {
			return "", err
		}
	}
	if len(opts.Intersect) > 0 {
		b, err := s.Build(ctx, query.Select{Datasets: opts.Intersect})
		if err != nil {
			return "", err
		}
		if id, err = s.Build(ctx, query.Intersection{A: id, B: b}); err != nil {
			return "", err
		}
	}
	return id, nil
}

func queryFailed(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(errorCode(err), err.Error(), nil)
	return WrapExitError(ExitFailure, "query failed", err)
}

// parseWhere parses "COLUMN OP VALUE". The value may contain spaces.
func parseWhere(s string) (query.Filter, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return query.Filter{}, fmt.Errorf("filter %q must be COLUMN OP VALUE", s)
	}
	switch fields[1] {
	case query.OpEqual, query.OpNotEqual, query.OpLess, query.OpLessEqual, query.OpGreater, query.OpGreaterEqual:
	default:
		return query.Filter{}, fmt.Errorf("filter %q: unknown operator %q", s, fields[1])
	}
	value := strings.Join(fields[2:], " ")
	typ := query.FilterString
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		typ = query.FilterNumber
	}
	return query.Filter{Column: fields[0], Op: fields[1], Value: value, ValueType: typ}, nil
}

func isQueryOperation(op engine.Operation) bool {
	for _, o := range queryOperations {
		if o == op {
			return true
		}
	}
	return false
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// writeResult prints request data as text.
func writeResult(f *OutputFormatter, r *engine.Result) {
	switch {
	case r.Count != nil:
		fmt.Fprintf(f.Writer, "%s region(s)\n", humanize.Comma(*r.Count))
	case r.Regions != nil:
		f.Table(r.Regions.Header, r.Regions.Rows)
		fmt.Fprintf(f.Writer, "%s region(s)\n", humanize.Comma(int64(len(r.Regions.Rows))))
	case r.Matrix != nil:
		f.Table(r.Matrix.Header, r.Matrix.Rows)
	case r.Experiments != nil:
		rows := make([][]string, len(r.Experiments))
		for i, d := range r.Experiments {
			rows[i] = []string{d.ID, d.Name}
		}
		f.Table([]string{"ID", "NAME"}, rows)
	case r.Histogram != nil:
		rows := make([][]string, len(r.Histogram.Counts))
		for i, c := range r.Histogram.Counts {
			from, to := "", ""
			if i+1 < len(r.Histogram.Ranges) {
				from = strconv.FormatFloat(r.Histogram.Ranges[i], 'g', -1, 64)
				to = strconv.FormatFloat(r.Histogram.Ranges[i+1], 'g', -1, 64)
			}
			rows[i] = []string{from, to, humanize.Comma(c)}
		}
		f.Table([]string{"FROM", "TO", "COUNT"}, rows)
	case r.Distinct != nil:
		values := make([]string, 0, len(r.Distinct))
		for v := range r.Distinct {
			values = append(values, v)
		}
		sort.Strings(values)
		rows := make([][]string, len(values))
		for i, v := range values {
			rows[i] = []string{v, humanize.Comma(r.Distinct[v])}
		}
		f.Table([]string{"VALUE", "COUNT"}, rows)
	case r.Coverage != nil:
		rows := make([][]string, len(r.Coverage))
		for i, c := range r.Coverage {
			rows[i] = []string{c.Chromosome, humanize.Comma(c.Size), humanize.Comma(c.Covered),
				strconv.FormatFloat(c.Coverage*100, 'f', 2, 64) + "%"}
		}
		f.Table([]string{"CHROMOSOME", "SIZE", "COVERED", "COVERAGE"}, rows)
	case r.Enrichment != nil:
		rows := make([][]string, len(r.Enrichment))
		for i, e := range r.Enrichment {
			rows[i] = []string{e.Dataset, e.Name, humanize.Comma(e.Support),
				strconv.FormatFloat(float64(e.OddsRatio), 'g', 4, 64),
				strconv.FormatFloat(float64(e.PValueLog), 'g', 4, 64)}
		}
		f.Table([]string{"DATASET", "NAME", "SUPPORT", "ODDS RATIO", "-LOG10 P"}, rows)
	}
}
