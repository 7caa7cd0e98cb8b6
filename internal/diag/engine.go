// Package diag runs the temperature stress diagnostic.
//
// A run reads the system temperature once as a pre-check, then runs two
// steps in order:
//
//   - "run binary": records the initial temperature, checks it against the
//     threshold and, when configured, runs an external stressor binary.
//   - "stress system without an external binary": samples the temperature
//     into a measurement series while an in-process workload runs, then
//     persists the workload result as an artifact.
//
// Every record goes through a scope.Manager, so the record stream is
// balanced on every exit path.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/roach88/diagrun/internal/artifact"
	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/probe"
	"github.com/roach88/diagrun/internal/sampling"
	"github.com/roach88/diagrun/internal/scope"
	"github.com/roach88/diagrun/internal/sink"
	"github.com/roach88/diagrun/internal/workload"
)

// Step names.
const (
	StepRunBinary = "run binary"
	StepStress    = "stress system without an external binary"
)

// Symptoms and verdicts.
const (
	SymptomNoTemperature   = "no-temperature"
	SymptomHighTemperature = "high-temperature"
	SymptomStressorFailed  = "stressor-failed"

	VerdictHighInitialTemperature = "high-initial-temperature"
	VerdictBinaryPass             = "binary-pass"
	VerdictBinaryFail             = "binary-fail"
	VerdictNoBinaryPass           = "no-binary-pass"
)

// Series and measurement names.
const (
	MeasurementInitialTemperature = "initial temperature"
	SeriesTemperature             = "temperature"
	UnitCelsius                   = "C"
)

// Engine runs the diagnostic against a probe and emits records to a sink.
type Engine struct {
	cfg       Config
	sink      sink.Sink
	probe     probe.Probe
	artifacts artifact.Store
	runner    CommandRunner
	observer  sampling.Observer
	scopeOpts []scope.Option
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbe sets the temperature probe. Default: probe.DefaultTemperature.
func WithProbe(p probe.Probe) Option {
	return func(e *Engine) {
		e.probe = p
	}
}

// WithArtifacts sets where the workload result is persisted.
// Default: the current directory.
func WithArtifacts(s artifact.Store) Option {
	return func(e *Engine) {
		e.artifacts = s
	}
}

// WithCommandRunner replaces os/exec for the stressor binary.
func WithCommandRunner(r CommandRunner) Option {
	return func(e *Engine) {
		e.runner = r
	}
}

// WithSamplingObserver observes the Step B sampling coordinator.
func WithSamplingObserver(o sampling.Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithScopeOptions passes options to the scope manager of every run.
func WithScopeOptions(opts ...scope.Option) Option {
	return func(e *Engine) {
		e.scopeOpts = append(e.scopeOpts, opts...)
	}
}

// WithLogger sets the operator logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine that emits records to s.
func New(cfg Config, s sink.Sink, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		sink:      s,
		probe:     probe.DefaultTemperature,
		artifacts: artifact.Dir{Path: "."},
		runner:    ExecRunner,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is what Step A reports back to the run reduction.
type runState struct {
	breached bool
}

// Execute performs one diagnostic run and returns the run outcome.
//
// Outcomes:
//   - Skip/NotApplicable when the pre-check cannot read the temperature
//   - Error/Fail, with the error returned, when any step ends in error
//   - Complete/Fail when the stressor binary failed, or when FailOnThreshold
//     is set and the threshold was breached
//   - Complete/Pass otherwise
func (e *Engine) Execute(ctx context.Context) (ir.Outcome, error) {
	if err := e.cfg.Validate(); err != nil {
		return ir.OutcomeError, fmt.Errorf("invalid config: %w", err)
	}

	opts := append([]scope.Option{scope.WithLogger(e.logger)}, e.scopeOpts...)
	mgr := scope.NewManager(e.sink, opts...)

	e.logger.Info("diagnostic starting", "name", e.cfg.Name, "version", e.cfg.Version, "dut", e.cfg.DUT.ID)
	outcome, err := mgr.Run(ctx, scope.RunInfo{Name: e.cfg.Name, Version: e.cfg.Version, DUT: e.cfg.DUT}, e.run)
	if err != nil {
		e.logger.Error("diagnostic failed", "outcome", outcome.String(), "error", err)
		return outcome, err
	}
	e.logger.Info("diagnostic finished", "outcome", outcome.String())
	return outcome, nil
}

func (e *Engine) run(ctx context.Context, run *scope.Scope) (ir.Outcome, error) {
	if _, err := e.probe.Read(ctx); err != nil {
		e.logger.Warn("pre-check failed", "error", err)
		if rerr := run.Error(ctx, SymptomNoTemperature, fmt.Sprintf("system state cannot be retrieved: %v", err)); rerr != nil {
			return ir.OutcomeError, rerr
		}
		return ir.OutcomeNotApplicable, scope.Skip("pre-check failed")
	}

	if err := run.Info(ctx, "We are starting the Hello World diagnostic"); err != nil {
		return ir.OutcomeError, err
	}

	var st runState
	steps := []struct {
		name string
		body scope.Body
	}{
		{StepRunBinary, func(ctx context.Context, step *scope.Scope) (ir.Outcome, error) {
			return e.runBinary(ctx, step, &st)
		}},
		{StepStress, e.stressWithoutBinary},
	}
	failed := false
	for _, s := range steps {
		outcome, err := run.Step(ctx, s.name, s.body)
		if err != nil {
			return ir.OutcomeError, fmt.Errorf("step %q: %w", s.name, err)
		}
		e.logger.Debug("step finished", "step", s.name, "outcome", outcome.String())
		if outcome == ir.OutcomeFail {
			failed = true
		}
	}

	if failed || (st.breached && e.cfg.FailOnThreshold) {
		return ir.OutcomeFail, nil
	}
	return ir.OutcomePass, nil
}

func (e *Engine) runBinary(ctx context.Context, step *scope.Scope, st *runState) (ir.Outcome, error) {
	temp, err := e.probe.Read(ctx)
	if err != nil {
		return ir.OutcomeError, err
	}
	if err := step.AddMeasurement(ctx, ir.Measurement{Name: MeasurementInitialTemperature, Value: temp, Unit: UnitCelsius}); err != nil {
		return ir.OutcomeError, err
	}

	if temp > e.cfg.Threshold {
		st.breached = true
		msg := fmt.Sprintf("initial temperature %g C is above %g C, too high to proceed with the test", temp, e.cfg.Threshold)
		if err := step.Error(ctx, SymptomHighTemperature, msg); err != nil {
			return ir.OutcomeError, err
		}
		if err := step.AddDiagnosis(ctx, VerdictHighInitialTemperature, ir.DiagnosisFail); err != nil {
			return ir.OutcomeError, err
		}
	} else if err := step.Info(ctx, "temperature is within limits"); err != nil {
		return ir.OutcomeError, err
	}

	if e.cfg.StressorBin == "" {
		return ir.OutcomeSkip, scope.Skip("no stressor binary configured")
	}

	out, err := e.runner(ctx, e.cfg.StressorBin, e.cfg.StressorArgs...)
	if err != nil {
		code, ran := exitCode(err)
		if !ran {
			return ir.OutcomeError, fmt.Errorf("run stressor %s: %w", e.cfg.StressorBin, err)
		}
		msg := fmt.Sprintf("stressor %s exited with code %d", e.cfg.StressorBin, code)
		if err := step.Error(ctx, SymptomStressorFailed, msg); err != nil {
			return ir.OutcomeError, err
		}
		return ir.OutcomeFail, step.AddDiagnosis(ctx, VerdictBinaryFail, ir.DiagnosisFail)
	}
	e.logger.Debug("stressor finished", "bin", e.cfg.StressorBin, "output_bytes", len(out))

	return ir.OutcomePass, step.AddDiagnosis(ctx, VerdictBinaryPass, ir.DiagnosisPass)
}

func (e *Engine) stressWithoutBinary(ctx context.Context, step *scope.Scope) (ir.Outcome, error) {
	coord := sampling.NewCoordinator[*big.Int](e.cfg.Sampling, e.samplingOptions()...)

	var report sampling.Report[*big.Int]
	detail := scope.SeriesDetail{Name: SeriesTemperature, Unit: UnitCelsius}
	err := step.Series(ctx, detail, func(ctx context.Context, se *scope.Series) error {
		var err error
		report, err = coord.Run(ctx, e.probe, workload.NewDoubler(), se)
		return err
	})
	if err != nil {
		return ir.OutcomeError, err
	}

	e.persist(ctx, step, report.Value)

	content := map[string]any{
		"type":             e.cfg.ExtensionType,
		"samples":          len(report.Samples),
		"probe_latency_us": report.Latency,
	}
	if err := step.AddExtension(ctx, e.cfg.ExtensionName, content); err != nil {
		return ir.OutcomeError, err
	}
	return ir.OutcomePass, step.AddDiagnosis(ctx, VerdictNoBinaryPass, ir.DiagnosisPass)
}

// persist writes the workload result. A failure is logged on the step and
// never fails it.
func (e *Engine) persist(ctx context.Context, step *scope.Scope, n *big.Int) {
	data := fmt.Appendf(nil, "Calculated n:\n%s\n", n.String())
	uri, err := artifact.WriteFile(e.artifacts, e.cfg.OutputFile, data)
	if err != nil {
		e.logger.Warn("artifact not persisted", "file", e.cfg.OutputFile, "error", err)
		if lerr := step.Log(ctx, ir.SeverityError, fmt.Sprintf("failed to write output file: %v", err)); lerr != nil {
			e.logger.Error("log artifact failure", "error", lerr)
		}
		return
	}
	if err := step.AddFile(ctx, e.cfg.OutputFile, uri); err != nil {
		e.logger.Error("record artifact", "file", e.cfg.OutputFile, "error", err)
	}
}

func (e *Engine) samplingOptions() []sampling.Option {
	opts := []sampling.Option{sampling.WithLogger(e.logger)}
	if e.observer != nil {
		opts = append(opts, sampling.WithObserver(e.observer))
	}
	return opts
}
