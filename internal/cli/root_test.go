package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/engine"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "deepblue", cmd.Use)
	assert.Contains(t, cmd.Long, "asynchronously")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "load", "query", "run", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "deepblue.db", dbFlag.DefValue)

	for _, name := range []string{"workers", "old-request-age", "sweep-interval", "script-instruction-limit",
		"script-cache-size", "cache-entries", "requests-per-second", "burst"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "validate", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidEngineConfig(t *testing.T) {
	_, err := execute(t, "--workers", "0", "validate", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must be at least 1")
}

// newConfigFlags mirrors the root command's flag set for setAllConfig.
func newConfigFlags(cfg *engine.Config, configFile *string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVarP(configFile, "config", "c", "", "")
	addEngineFlags(flags, cfg)
	return flags
}

func TestSetAllConfigDefaults(t *testing.T) {
	cfg := engine.DefaultConfig()
	var configFile string
	flags := newConfigFlags(&cfg, &configFile)
	require.NoError(t, flags.Parse(nil))

	require.NoError(t, setAllConfig(viper.New(), flags))
	assert.Equal(t, engine.DefaultConfig(), cfg)
}

func TestSetAllConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepblue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\nold-request-age: 30m\nburst: 2\n"), 0644))
	t.Setenv("DEEPBLUE_BURST", "7")
	t.Setenv("DEEPBLUE_CACHE_ENTRIES", "64")

	cfg := engine.DefaultConfig()
	var configFile string
	flags := newConfigFlags(&cfg, &configFile)
	require.NoError(t, flags.Parse([]string{"--config", path, "--workers", "5"}))

	require.NoError(t, setAllConfig(viper.New(), flags))
	assert.Equal(t, 5, cfg.Workers, "flag beats config file")
	assert.Equal(t, 30*time.Minute, cfg.OldRequestAge, "config file beats default")
	assert.Equal(t, 7, cfg.Burst, "environment beats config file")
	assert.Equal(t, 64, cfg.CacheEntries, "environment beats default")
}

func TestSetAllConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepblue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wrokers: 3\n"), 0644))

	cfg := engine.DefaultConfig()
	var configFile string
	flags := newConfigFlags(&cfg, &configFile)
	require.NoError(t, flags.Parse([]string{"--config", path}))

	err := setAllConfig(viper.New(), flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid option in configuration file: wrokers")
}

func TestSetAllConfigMissingFile(t *testing.T) {
	cfg := engine.DefaultConfig()
	var configFile string
	flags := newConfigFlags(&cfg, &configFile)
	require.NoError(t, flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))

	err := setAllConfig(viper.New(), flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading configuration file")
}
