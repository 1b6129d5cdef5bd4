package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/harness"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Persist bool // run against --db instead of an in-memory store
}

// RunResult is the JSON form of a scenario run.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print its trace",
		Long: `Run one scenario file and print the trace of its steps.

The scenario catalog is loaded into a fresh in-memory database unless
--persist is given, in which case it is loaded into --db and the steps
run against everything stored there. Engine flags set the base
configuration; the scenario config block overrides it.

Examples:
  deepblue run ./scenarios/intersect_peaks.yaml
  deepblue run ./scenarios/intersect_peaks.yaml --persist --db ./deepblue.db
  deepblue run ./scenarios/intersect_peaks.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "run against the --db database")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := []harness.Option{harness.WithBaseConfig(opts.Engine)}
	if opts.Persist {
		st, err := store.Open(opts.DB)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		runOpts = append(runOpts, harness.WithStore(st))
	}

	result, err := harness.Run(cmd.Context(), scenario, runOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	if opts.Format == "json" {
		out := RunResult{
			Scenario: scenario.Name,
			Pass:     result.Pass,
			Trace:    result.Trace,
			Errors:   result.Errors,
		}
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		fmt.Fprint(formatter.Writer, string(result.Render(scenario.Name)))
		for _, e := range result.Errors {
			fmt.Fprintf(formatter.Writer, "FAIL %s\n", e)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
