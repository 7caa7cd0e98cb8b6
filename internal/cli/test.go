package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/roach88/diagrun/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario name substring
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Outcome string   `json:"outcome,omitempty"`
	Golden  string   `json:"golden,omitempty"` // "match", "updated", "missing" or "mismatch"
	Errors  []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run YAML conformance scenarios against the diagnostic.

Each scenario drives one run with a scripted probe and a fake stressor, then
checks the run outcome and the record assertions. When a golden trace exists
in <scenarios-dir>/golden it is compared as well.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreadable scenarios)

Examples:
  diagrun test ./scenarios
  diagrun test ./scenarios --filter stressor
  diagrun test ./scenarios --update
  diagrun test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name contains this text")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if info, err := os.Stat(scenariosDir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	scenarios, err := harness.LoadScenarios(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarios)),
		Total:     len(scenarios),
	}
	if len(scenarios) == 0 && opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, s := range scenarios {
		sr := runScenario(s, scenariosDir, opts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// runScenario executes one scenario and compares or updates its golden trace.
func runScenario(s *harness.Scenario, scenariosDir string, opts *TestOptions) ScenarioResult {
	sr := ScenarioResult{Name: s.Name, Pass: true}

	result, err := harness.Run(s)
	if err != nil {
		sr.Pass = false
		sr.Errors = []string{fmt.Sprintf("execution error: %v", err)}
		return sr
	}
	sr.Outcome = result.Outcome.String()
	if !result.Pass {
		sr.Pass = false
		sr.Errors = append(sr.Errors, result.Errors...)
	}

	snapshot, err := harness.Snapshot(s.Name, result)
	if err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("snapshot: %v", err))
		return sr
	}

	path := harness.GoldenPath(scenariosDir, s.Name)
	if opts.Update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("update golden: %v", err))
			return sr
		}
		if err := os.WriteFile(path, snapshot, 0o644); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("update golden: %v", err))
			return sr
		}
		sr.Golden = "updated"
		return sr
	}

	want, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		sr.Golden = "missing"
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("read golden: %v", err))
	case bytes.Equal(want, snapshot):
		sr.Golden = "match"
	default:
		sr.Golden = "mismatch"
		sr.Pass = false
		diff := cmp.Diff(strings.Split(string(want), "\n"), strings.Split(string(snapshot), "\n"))
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden trace mismatch (-golden +actual):\n%s", diff))
	}
	return sr
}

// outputTestJSON outputs test results as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total),
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenarios failed", result.Failed))
	}
	return nil
}

// outputTestText outputs test results as human-readable text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	for _, sr := range result.Scenarios {
		if sr.Pass {
			fmt.Fprintf(w, "✓ %s (%s)\n", sr.Name, sr.Outcome)
			if sr.Golden == "updated" {
				fmt.Fprintln(w, "  golden updated")
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenarios failed", result.Failed))
	}
	return nil
}
