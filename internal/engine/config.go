package engine

import (
	"fmt"
	"time"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/script"
)

// Config holds the runtime settings of an Engine.
type Config struct {
	// Workers bounds the number of requests executing at once.
	Workers int

	// OldRequestAge is the age after which finished requests and cache
	// entries are removed by the eviction sweep.
	OldRequestAge time.Duration

	// SweepInterval is the period of the eviction sweep. Zero disables the
	// background sweep; SweepOnce still works.
	SweepInterval time.Duration

	ScriptInstructionLimit int64
	ScriptCacheSize        int

	// CacheEntries bounds the result cache (request results and cached
	// node rows).
	CacheEntries int

	// RequestsPerSecond and Burst configure the per-user submission quota.
	// Zero RequestsPerSecond disables it.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Workers:                4,
		OldRequestAge:          24 * time.Hour,
		SweepInterval:          time.Minute,
		ScriptInstructionLimit: script.DefaultInstructionLimit,
		ScriptCacheSize:        script.DefaultCacheSize,
		CacheEntries:           1024,
		RequestsPerSecond:      0,
		Burst:                  10,
	}
}

// Validate checks the settings for values the engine cannot run with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.OldRequestAge < 0 {
		return fmt.Errorf("old-request-age must not be negative, got %s", c.OldRequestAge)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep-interval must not be negative, got %s", c.SweepInterval)
	}
	if c.ScriptInstructionLimit < 1 {
		return fmt.Errorf("script-instruction-limit must be positive, got %d", c.ScriptInstructionLimit)
	}
	if c.ScriptCacheSize < 1 {
		return fmt.Errorf("script-cache-size must be positive, got %d", c.ScriptCacheSize)
	}
	if c.CacheEntries < 1 {
		return fmt.Errorf("cache-entries must be positive, got %d", c.CacheEntries)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests-per-second must not be negative, got %v", c.RequestsPerSecond)
	}
	return nil
}
