package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/catalog"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// LoadResult reports a catalog load.
type LoadResult struct {
	*catalog.Summary
	DB   string `json:"db"`
	Size uint64 `json:"size_bytes"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <catalog-dir>",
		Short: "Load a catalog into the database",
		Long: `Load the CUE catalog in a directory into the database given by --db.

Genomes, column types, vocabulary terms and datasets are written in that
order. Loading is idempotent: definitions that already exist are kept,
so a catalog can be extended and loaded again.

Examples:
  deepblue load ./catalog
  deepblue load ./catalog --db /data/deepblue.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runLoad(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loaded, err := catalog.Load(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	sum, err := loaded.Apply(cmd.Context(), st)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "catalog load failed", err)
	}

	res := LoadResult{Summary: sum, DB: opts.DB}
	if info, err := os.Stat(opts.DB); err == nil {
		res.Size = uint64(info.Size())
	}
	if opts.Format == "json" {
		return formatter.Success(res)
	}

	names := make([]string, 0, len(sum.IDs))
	for name := range sum.IDs {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{sum.IDs[name], name}
	}
	if len(rows) > 0 {
		formatter.Table([]string{"ID", "DATASET"}, rows)
	}
	return formatter.Success(fmt.Sprintf("Loaded %d genome(s), %d column type(s), %d term(s), %d dataset(s) with %s regions into %s (%s)",
		sum.Genomes, sum.Columns, sum.Terms, sum.Datasets, humanize.Comma(sum.Regions), opts.DB, humanize.Bytes(res.Size)))
}
