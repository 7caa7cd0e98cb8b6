package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/diagrun/internal/artifact"
	"github.com/roach88/diagrun/internal/config"
	"github.com/roach88/diagrun/internal/diag"
	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/probe"
	"github.com/roach88/diagrun/internal/scope"
	"github.com/roach88/diagrun/internal/store"
	"github.com/roach88/diagrun/internal/testutil"
)

// Harness defaults applied before a scenario's config overrides.
const (
	DefaultDUT      = "test-dut"
	DefaultInterval = time.Millisecond
)

// DefaultTemperature is the constant reading used when a scenario has no
// probe script.
const DefaultTemperature = 25.0

// exitStatus stands in for a stressor that ran and exited non-zero.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitStatus) ExitCode() int { return e.code }

// errNotFound stands in for a stressor that could not be launched.
var errNotFound = errors.New("executable file not found in $PATH")

// Harness is the test execution engine.
// It runs scenarios with a fixed run id, scripted probe and fake stressor.
type Harness struct {
	store     *store.Store
	artifacts artifact.Store
	memory    *artifact.Memory
	logger    *slog.Logger
	calls     int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and artifact store
// 2. Build the diagnostic config from defaults and scenario overrides
// 3. Execute the real diagnostic engine
// 4. Read the record stream back from the store
// 5. Check the outcome and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if scenario.ArtifactFail {
		h.artifacts = artifact.Failing{}
	} else {
		h.memory = artifact.NewMemory()
		h.artifacts = h.memory
	}

	cfg, err := buildConfig(scenario)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	runIDs := testutil.NewFixedRunIDGenerator(scenario.RunID)
	eng := diag.New(cfg, st,
		diag.WithProbe(buildProbe(scenario.Readings)),
		diag.WithArtifacts(h.artifacts),
		diag.WithCommandRunner(h.stressor(scenario.Stressor)),
		diag.WithScopeOptions(scope.WithRunIDs(runIDs)),
		diag.WithLogger(h.logger),
	)

	result := NewResult()
	outcome, runErr := eng.Execute(ctx)
	result.Outcome = outcome
	if runErr != nil {
		result.RunError = runErr.Error()
	}
	result.StressorCalls = h.calls

	records, err := st.ReadRun(ctx, runIDs.Generate())
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		return nil, fmt.Errorf("read back records: %w", err)
	}
	if records != nil {
		result.Records = records
	}
	if h.memory != nil {
		for _, name := range h.memory.Names() {
			data, _ := h.memory.Get(name)
			result.Artifacts[name] = string(data)
		}
	}

	h.logger.Info("scenario executed",
		"scenario", scenario.Name,
		"outcome", outcome.String(),
		"records", len(result.Records),
	)

	if want := scenario.Expect.Outcome(); outcome != want {
		result.AddError(fmt.Sprintf("outcome: expected %s, got %s", want, outcome))
	}
	if scenario.Expect.Error && runErr == nil {
		result.AddError("expected the run to return an error, got none")
	}
	if !scenario.Expect.Error && runErr != nil {
		result.AddError(fmt.Sprintf("unexpected run error: %v", runErr))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// buildConfig layers the scenario's CUE overrides on the harness defaults.
func buildConfig(s *Scenario) (diag.Config, error) {
	cfg := diag.DefaultConfig()
	cfg.DUT = ir.DUT{ID: DefaultDUT}
	cfg.Sampling.Interval = DefaultInterval

	if s.Config != "" {
		f, err := config.Parse(s.Name+".cue", []byte(s.Config))
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := f.Apply(&cfg); err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
	}
	if s.Stressor != nil {
		cfg.StressorBin = s.Stressor.Bin
		cfg.StressorArgs = s.Stressor.Args
	}
	return cfg, nil
}

func buildProbe(readings []Reading) probe.Probe {
	if len(readings) == 0 {
		return probe.Static(DefaultTemperature)
	}
	script := make([]probe.Reading, len(readings))
	for i, r := range readings {
		script[i] = probe.Reading(r)
	}
	return probe.NewScripted(script...)
}

// stressor returns a command runner that never launches a process.
func (h *Harness) stressor(s *Stressor) diag.CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		h.calls++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case s == nil:
			return nil, errNotFound
		case s.CannotStart:
			return nil, fmt.Errorf("exec: %q: %w", name, errNotFound)
		case s.ExitCode != 0:
			return []byte("stress failed\n"), &exitStatus{code: s.ExitCode}
		}
		return []byte("stress ok\n"), nil
	}
}
