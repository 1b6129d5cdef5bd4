package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/catalog"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool `json:"valid"`
	Files    int  `json:"files"`
	Genomes  int  `json:"genomes"`
	Columns  int  `json:"columns"`
	Terms    int  `json:"terms"`
	Datasets int  `json:"datasets"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("Catalog valid: %d file(s), %d genome(s), %d column type(s), %d term(s), %d dataset(s)",
		r.Files, r.Genomes, r.Columns, r.Terms, r.Datasets)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Validate a catalog without loading it",
		Long: `Validate the CUE catalog in a directory without touching the database.

Checks syntax, the catalog schema and the definitions themselves
(chromosome lengths, column types, term parents, dataset sources).
References to existing terms and region bounds are checked by load.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)

	return formatter.Success(ValidationResult{
		Valid:    true,
		Files:    loaded.FileCount,
		Genomes:  len(loaded.Genomes),
		Columns:  len(loaded.Columns),
		Terms:    len(loaded.Terms),
		Datasets: len(loaded.Datasets),
	})
}

// outputLoadError reports a catalog load failure and returns the matching
// exit error: missing or unreadable directories are command errors, invalid
// catalogs are failures.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var le *catalog.LoadError
	if !errors.As(err, &le) {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "catalog load failed", err)
	}

	var details any
	var ce *catalog.CompileError
	if errors.As(err, &ce) && ce.Pos.IsValid() {
		details = map[string]any{
			"file":   ce.Pos.Filename(),
			"line":   ce.Pos.Line(),
			"column": ce.Pos.Column(),
			"field":  ce.Field,
		}
	}
	if err := formatter.Error(le.Code, le.Message, details); err != nil {
		return err
	}

	switch le.Code {
	case catalog.ErrCodeNotFound, catalog.ErrCodeScanError, catalog.ErrCodeNoFiles:
		return WrapExitError(ExitCommandError, "catalog not readable", err)
	}
	return WrapExitError(ExitFailure, "catalog invalid", err)
}
