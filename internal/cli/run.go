package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/diagrun/internal/artifact"
	"github.com/roach88/diagrun/internal/config"
	"github.com/roach88/diagrun/internal/diag"
	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/logging"
	"github.com/roach88/diagrun/internal/probe"
	"github.com/roach88/diagrun/internal/sampling"
	"github.com/roach88/diagrun/internal/scope"
	"github.com/roach88/diagrun/internal/sink"
	"github.com/roach88/diagrun/internal/store"
	"github.com/roach88/diagrun/internal/trace"
)

// Probe kinds accepted by --probe.
const (
	ProbeStatic  = "static"
	ProbeThermal = "thermal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	Database    string
	Artifacts   string
	StressorBin string
	Threshold   float64
	Samples     int
	Interval    time.Duration
	Probe       string
	Temperature float64

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs scope.RunIDGenerator

	// CommandRunner allows replacing os/exec for the stressor (for testing).
	CommandRunner diag.CommandRunner

	// SamplingObserver additionally observes the stress step's sampling.
	SamplingObserver sampling.Observer
}

// RunSummary is the JSON payload of a finished run.
type RunSummary struct {
	RunID   string      `json:"run_id"`
	Outcome ir.Outcome  `json:"outcome"`
	Error   string      `json:"error,omitempty"`
	Records []ir.Record `json:"records"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the temperature stress diagnostic",
		Long: `Run the temperature stress diagnostic once.

The run reads the temperature as a pre-check, then runs the "run binary" step
(initial temperature check and optional stressor binary) and the "stress system
without an external binary" step (sampled temperature series while an
in-process workload runs). Records are printed as a scope tree, or as JSON with
--format json, and appended to a SQLite database with --db.

Flags override values from --config, which override the built-in defaults.

Exit codes:
  0 - Run passed or was skipped
  1 - Run failed or ended in error
  2 - Command error (bad config, database errors, etc.)

Examples:
  diagrun run
  diagrun run --config diag.cue --db ./diagrun.db
  diagrun run --probe thermal --samples 10 --interval 500ms
  diagrun run --stressor-bin stress-ng --threshold 45 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnostic(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a CUE run configuration")
	cmd.Flags().StringVar(&opts.Database, "db", "", "append records to this SQLite database")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", ".", "directory for persisted artifacts")
	cmd.Flags().StringVar(&opts.StressorBin, "stressor-bin", "", "external stress binary for the run binary step")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", diag.DefaultThreshold, "initial temperature limit in degrees C")
	cmd.Flags().IntVar(&opts.Samples, "samples", 0, "number of temperature samples in the stress step")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "delay before each temperature sample")
	cmd.Flags().StringVar(&opts.Probe, "probe", ProbeStatic, "temperature source: static, thermal or thermal:<path>")
	cmd.Flags().Float64Var(&opts.Temperature, "temperature", float64(probe.DefaultTemperature), "reading of the static probe")

	return cmd
}

// resolveConfig layers defaults, the config file and explicitly set flags.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (diag.Config, error) {
	cfg, err := config.Resolve(opts.Config)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("stressor-bin") {
		cfg.StressorBin = opts.StressorBin
	}
	if flags.Changed("threshold") {
		cfg.Threshold = opts.Threshold
	}
	if flags.Changed("samples") {
		cfg.Sampling.Count = opts.Samples
	}
	if flags.Changed("interval") {
		cfg.Sampling.Interval = opts.Interval
	}
	return cfg, cfg.Validate()
}

// buildProbe parses the --probe flag.
func buildProbe(kind string, temperature float64) (probe.Probe, error) {
	switch {
	case kind == ProbeStatic:
		return probe.Static(temperature), nil
	case kind == ProbeThermal:
		return probe.Thermal{Path: probe.DefaultThermalZone}, nil
	case strings.HasPrefix(kind, ProbeThermal+":"):
		path := strings.TrimPrefix(kind, ProbeThermal+":")
		if path == "" {
			return nil, fmt.Errorf("thermal probe path is empty")
		}
		return probe.Thermal{Path: path}, nil
	}
	return nil, fmt.Errorf("unknown probe %q: must be static, thermal or thermal:<path>", kind)
}

func runDiagnostic(opts *RunOptions, cmd *cobra.Command) error {
	logger := logging.New("run")

	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	p, err := buildProbe(opts.Probe, opts.Temperature)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid probe", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	recorder := sink.NewRecorder()
	sinks := sink.Multi{recorder, &sink.Log{Logger: logger, Level: slog.LevelDebug}}

	var scopeOpts []scope.Option
	if opts.RunIDs != nil {
		scopeOpts = append(scopeOpts, scope.WithRunIDs(opts.RunIDs))
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		seq, err := st.MaxSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read database", err)
		}
		scopeOpts = append(scopeOpts, scope.WithClock(scope.NewClockAt(seq)))
		sinks = append(sinks, st)
		logger.Debug("database ready", "path", opts.Database, "max_seq", seq)
	}

	engineOpts := []diag.Option{
		diag.WithProbe(p),
		diag.WithArtifacts(artifact.Dir{Path: opts.Artifacts}),
		diag.WithScopeOptions(scopeOpts...),
		diag.WithLogger(logging.New("diag")),
	}
	if opts.CommandRunner != nil {
		engineOpts = append(engineOpts, diag.WithCommandRunner(opts.CommandRunner))
	}
	var observers sampling.MultiObserver
	if opts.Verbose {
		observers = append(observers, &sampling.LogObserver{Logger: logging.New("sampling")})
	}
	if opts.SamplingObserver != nil {
		observers = append(observers, opts.SamplingObserver)
	}
	if len(observers) > 0 {
		engineOpts = append(engineOpts, diag.WithSamplingObserver(observers))
	}

	outcome, runErr := diag.New(cfg, sinks, engineOpts...).Execute(ctx)
	records := recorder.Records()

	summary := RunSummary{Outcome: outcome, Records: records}
	if len(records) > 0 {
		summary.RunID = records[0].RunID
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	if err := outputRun(opts, cmd, summary); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "diagnostic ended in error", runErr)
	}
	if outcome.Result == ir.ResultFail {
		return NewExitError(ExitFailure, fmt.Sprintf("diagnostic failed: %s", outcome))
	}
	return nil
}

func outputRun(opts *RunOptions, cmd *cobra.Command, summary RunSummary) error {
	w := cmd.OutOrStdout()

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: summary}
		if summary.Outcome.Result == ir.ResultFail {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_RUN_FAILED", Message: fmt.Sprintf("run ended %s", summary.Outcome), Details: summary.Error}
		}
		return writeJSON(w, resp)
	}

	if len(summary.Records) > 0 {
		roots, err := trace.Tree(summary.Records)
		if err != nil {
			return err
		}
		if err := trace.Render(w, roots); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Run %s: %s\n", summary.RunID, summary.Outcome)
	if summary.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", summary.Error)
	}
	return nil
}
