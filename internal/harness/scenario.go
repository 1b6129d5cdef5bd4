package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/engine"
	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// Scenario is a query workload with expected outcomes.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Catalog is the catalog directory loaded into the store, relative to
	// the scenario file.
	Catalog string `yaml:"catalog"`

	// User is the caller of every step that does not name its own.
	// Defaults to "anonymous".
	User string `yaml:"user,omitempty"`

	Config Config `yaml:"config,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Config overrides engine settings for a scenario.
type Config struct {
	Workers                int     `yaml:"workers,omitempty"`
	OldRequestAge          string  `yaml:"old_request_age,omitempty"`
	ScriptInstructionLimit int64   `yaml:"script_instruction_limit,omitempty"`
	RequestsPerSecond      float64 `yaml:"requests_per_second,omitempty"`
	Burst                  int     `yaml:"burst,omitempty"`
}

// EngineConfig applies the overrides to the default engine settings.
func (c Config) EngineConfig() (engine.Config, error) {
	return c.Apply(engine.DefaultConfig())
}

// Apply applies the overrides to cfg. The background sweep is always
// disabled; scenarios sweep explicitly.
func (c Config) Apply(cfg engine.Config) (engine.Config, error) {
	cfg.SweepInterval = 0
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if c.OldRequestAge != "" {
		age, err := time.ParseDuration(c.OldRequestAge)
		if err != nil {
			return cfg, fmt.Errorf("config.old_request_age: %w", err)
		}
		cfg.OldRequestAge = age
	}
	if c.ScriptInstructionLimit > 0 {
		cfg.ScriptInstructionLimit = c.ScriptInstructionLimit
	}
	if c.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = c.RequestsPerSecond
	}
	if c.Burst > 0 {
		cfg.Burst = c.Burst
	}
	return cfg, cfg.Validate()
}

// Step is one action of a scenario. Exactly one of the action fields
// (Build, Submit, Cancel, Fetch, List, Advance, Sweep, EvictionAge,
// CloseSession) is set.
type Step struct {
	// User overrides the scenario user for this step.
	User string `yaml:"user,omitempty"`

	// Build creates a query node of the named operator kind from Args.
	Build string    `yaml:"build,omitempty"`
	Args  yaml.Node `yaml:"args,omitempty"`

	// Submit requests the named operation on Query and waits for it.
	Submit string `yaml:"submit,omitempty"`
	Query  string `yaml:"query,omitempty"`
	Format string `yaml:"format,omitempty"`
	Params Params `yaml:"params,omitempty"`

	Cancel       string `yaml:"cancel,omitempty"`
	Fetch        string `yaml:"fetch,omitempty"`
	List         string `yaml:"list,omitempty"` // a request state or "all"
	Advance      string `yaml:"advance,omitempty"`
	Sweep        bool   `yaml:"sweep,omitempty"`
	EvictionAge  *int64 `yaml:"eviction_age,omitempty"`
	CloseSession bool   `yaml:"close_session,omitempty"`

	// As names the created node or request for later steps.
	As string `yaml:"as,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Params are the operation parameters of a submit step. Universe names a
// node alias.
type Params struct {
	Column   string         `yaml:"column,omitempty"`
	Bars     int            `yaml:"bars,omitempty"`
	Genome   string         `yaml:"genome,omitempty"`
	Function string         `yaml:"function,omitempty"`
	Columns  []MatrixColumn `yaml:"columns,omitempty"`
	Universe string         `yaml:"universe,omitempty"`
	Datasets []string       `yaml:"datasets,omitempty"`
}

// MatrixColumn is one score matrix column.
type MatrixColumn struct {
	Dataset string `yaml:"dataset"`
	Column  string `yaml:"column"`
}

// Expect checks the outcome of a step. Unset fields are not checked.
type Expect struct {
	// State is the expected request state.
	State string `yaml:"state,omitempty"`

	// Code is the expected error code, for a step that fails synchronously,
	// a failed request, or a fetch that is refused.
	Code string `yaml:"code,omitempty"`

	Count *int64 `yaml:"count,omitempty"`
	Rows  *int   `yaml:"rows,omitempty"`

	// Regions is the exact table of a get_regions result.
	Regions [][]string `yaml:"regions,omitempty"`

	// Same names an earlier alias whose id this step must reuse.
	Same string `yaml:"same,omitempty"`
}

// Assertion checks the engine state after the last step.
type Assertion struct {
	// Type is one of request_count, same_request, distinct_requests,
	// query_count, cached_results.
	Type string `yaml:"type"`

	User  string   `yaml:"user,omitempty"`
	State string   `yaml:"state,omitempty"`
	Count int      `yaml:"count"`
	Refs  []string `yaml:"refs,omitempty"`
}

// Assertion type constants.
const (
	AssertRequestCount     = "request_count"
	AssertSameRequest      = "same_request"
	AssertDistinctRequests = "distinct_requests"
	AssertQueryCount       = "query_count"
	AssertCachedResults    = "cached_results"
)

// catalogDir resolves the catalog path against the scenario's directory.
func (s *Scenario) catalogDir(baseDir string) string {
	if filepath.IsAbs(s.Catalog) || baseDir == "" {
		return s.Catalog
	}
	return filepath.Join(baseDir, s.Catalog)
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and the catalog path is made relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.Catalog = s.catalogDir(filepath.Dir(path))
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.User == "" {
		scenario.User = "anonymous"
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	if _, err := s.Config.EngineConfig(); err != nil {
		return err
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	actions := 0
	for _, set := range []bool{
		step.Build != "", step.Submit != "", step.Cancel != "", step.Fetch != "", step.List != "",
		step.Advance != "", step.Sweep, step.EvictionAge != nil, step.CloseSession,
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, found %d", index, actions)
	}
	switch {
	case step.Submit != "":
		if step.Query == "" {
			return fmt.Errorf("steps[%d]: query is required for submit", index)
		}
		if !engine.Operation(step.Submit).Valid() {
			return fmt.Errorf("steps[%d]: unknown operation %q", index, step.Submit)
		}
	case step.Advance != "":
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
	case step.List != "":
		if step.List != "all" && !ir.RequestState(step.List).Valid() {
			return fmt.Errorf("steps[%d]: unknown request state %q", index, step.List)
		}
	}
	if step.Expect != nil && step.Expect.State != "" && !ir.RequestState(step.Expect.State).Valid() {
		return fmt.Errorf("steps[%d]: unknown expected state %q", index, step.Expect.State)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertRequestCount:
		if a.State != "" && !ir.RequestState(a.State).Valid() {
			return fmt.Errorf("assertions[%d]: unknown request state %q", index, a.State)
		}
	case AssertSameRequest, AssertDistinctRequests:
		if len(a.Refs) < 2 {
			return fmt.Errorf("assertions[%d]: %s needs at least two refs", index, a.Type)
		}
	case AssertQueryCount, AssertCachedResults:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
