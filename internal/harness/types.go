package harness

import (
	"github.com/roach88/diagrun/internal/ir"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the outcome matches and all assertions hold.
	Pass bool `json:"pass"`

	// Outcome is the run outcome Execute returned.
	Outcome ir.Outcome `json:"outcome"`

	// RunError is the text of the error Execute returned, if any.
	RunError string `json:"run_error,omitempty"`

	// Records is the run's record stream as read back from the store.
	Records []ir.Record `json:"records"`

	// Artifacts maps persisted artifact names to their content.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// StressorCalls counts invocations of the fake stressor binary.
	StressorCalls int `json:"stressor_calls"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Records:   []ir.Record{},
		Artifacts: make(map[string]string),
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
