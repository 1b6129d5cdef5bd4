package harness

import (
	"fmt"
	"strings"

	"github.com/MPIIComputationalEpigenetics/DeepBlue-sub000/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // assertion type
	Expected string       // human-readable expected outcome
	Actual   string       // human-readable actual outcome
	Trace    []TraceEvent // full trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s", event.String())
		}
	}
	return buf.String()
}

// assertRequestCount counts the requests of a user, optionally in one state.
func assertRequestCount(h *Harness, a Assertion) error {
	user := a.User
	if user == "" {
		user = h.scenario.User
	}
	infos, err := h.engine.Manager().List(ir.Caller{UserID: user}, ir.RequestState(a.State))
	if err != nil {
		return err
	}
	if len(infos) != a.Count {
		state := a.State
		if state == "" {
			state = "any"
		}
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests of %s in state %s", a.Count, user, state),
			Actual:   fmt.Sprintf("%d requests", len(infos)),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// assertRequestIdentity checks that the aliased ids are all equal (same) or
// pairwise different (distinct).
func assertRequestIdentity(h *Harness, a Assertion, same bool) error {
	ids := make([]string, len(a.Refs))
	seen := make(map[string]string)
	for i, ref := range a.Refs {
		id, ok := h.aliases[ref]
		if !ok {
			return fmt.Errorf("%s: unknown alias %q", a.Type, ref)
		}
		ids[i] = id
		if prev, dup := seen[id]; dup && !same {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("distinct ids for %s", strings.Join(a.Refs, ", ")),
				Actual:   fmt.Sprintf("%s and %s are both %s", prev, ref, id),
				Trace:    h.result.Trace,
			}
		}
		seen[id] = ref
	}
	if same && len(seen) != 1 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("one id for %s", strings.Join(a.Refs, ", ")),
			Actual:   strings.Join(ids, ", "),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

func assertCount(h *Harness, a Assertion, got int, what string) error {
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
			Trace:    h.result.Trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the engine state
// after the last step. Returns a message per failed assertion.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errors []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertRequestCount:
			err = assertRequestCount(h, assertion)
		case AssertSameRequest:
			err = assertRequestIdentity(h, assertion, true)
		case AssertDistinctRequests:
			err = assertRequestIdentity(h, assertion, false)
		case AssertQueryCount:
			err = assertCount(h, assertion, h.engine.Graph().Len(), "query nodes")
		case AssertCachedResults:
			results, _ := h.engine.Cache().Len()
			err = assertCount(h, assertion, results, "cached results")
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
