package harness

import (
	"fmt"
	"strings"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int      `json:"step"`
	Action string   `json:"action"`           // build, submit, cancel, fetch, list, advance, sweep, eviction_age, close_session
	Detail string   `json:"detail,omitempty"` // operator or operation and its references
	ID     string   `json:"id,omitempty"`     // node or request id
	State  string   `json:"state,omitempty"`
	Code   string   `json:"code,omitempty"`
	Lines  []string `json:"lines,omitempty"` // rendered result
}

// String renders the event the way it appears in golden files.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d %s", e.Step, e.Action)
	if e.Detail != "" {
		b.WriteString(" " + e.Detail)
	}
	if e.ID != "" || e.State != "" || e.Code != "" {
		b.WriteString(" ->")
		for _, s := range []string{e.ID, e.State, e.Code} {
			if s != "" {
				b.WriteString(" " + s)
			}
		}
	}
	b.WriteByte('\n')
	for _, line := range e.Lines {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Render returns the golden-file form of the trace.
func (r *Result) Render(scenario string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", scenario)
	for _, e := range r.Trace {
		b.WriteString(e.String())
	}
	return []byte(b.String())
}
