package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/engine"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// EnvPrefix prefixes the environment variables read for every flag, e.g.
// DEEPBLUE_OLD_REQUEST_AGE for --old-request-age.
const EnvPrefix = "DEEPBLUE"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional YAML config file
	DB      string // SQLite database path

	Engine engine.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the deepblue CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Engine: engine.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "deepblue",
		Short: "DeepBlue - genomic region query engine",
		Long: `Load genomic region datasets into a local store and query them.

Queries are composed lazily from selections, filters and set operations
and materialized asynchronously through requests.

Version ` + ir.EngineVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return opts.Engine.Validate()
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.Config, "config", "c", "", "configuration file to read from")
	flags.StringVar(&opts.DB, "db", "deepblue.db", "SQLite database path")
	addEngineFlags(flags, &opts.Engine)

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// addEngineFlags registers one flag per engine.Config field. The same
// names are the config file keys.
func addEngineFlags(flags *pflag.FlagSet, cfg *engine.Config) {
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "requests executing at once")
	flags.DurationVar(&cfg.OldRequestAge, "old-request-age", cfg.OldRequestAge, "age after which finished requests are removed")
	flags.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "period of the eviction sweep (0 disables it)")
	flags.Int64Var(&cfg.ScriptInstructionLimit, "script-instruction-limit", cfg.ScriptInstructionLimit, "instruction budget of one calculated column evaluation")
	flags.IntVar(&cfg.ScriptCacheSize, "script-cache-size", cfg.ScriptCacheSize, "compiled scripts kept in memory")
	flags.IntVar(&cfg.CacheEntries, "cache-entries", cfg.CacheEntries, "result cache size")
	flags.Float64Var(&cfg.RequestsPerSecond, "requests-per-second", cfg.RequestsPerSecond, "per-user submission rate (0 disables the quota)")
	flags.IntVar(&cfg.Burst, "burst", cfg.Burst, "per-user submission burst")
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order. Each flag holds a pointer to where its value is
// stored, so setAllConfig modifies the options directly.
//
// Environment variables are the flag names upper-cased with dashes replaced
// by underscores, prefixed with EnvPrefix and an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		value := v.GetString(f.Name)
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		}
		flagErr = f.Value.Set(value)
	})
	return flagErr
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
