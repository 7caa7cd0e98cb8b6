package diag

import (
	"context"
	"errors"
	"math/big"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diagrun/internal/artifact"
	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/logging"
	"github.com/roach88/diagrun/internal/probe"
	"github.com/roach88/diagrun/internal/sampling"
	"github.com/roach88/diagrun/internal/scope"
	"github.com/roach88/diagrun/internal/sink"
	"github.com/roach88/diagrun/internal/testutil"
	"github.com/roach88/diagrun/internal/trace"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DUT = ir.DUT{ID: "dut0", Name: "host0.example.com"}
	cfg.Sampling.Interval = time.Millisecond
	return cfg
}

type fixture struct {
	rec       *sink.Recorder
	artifacts *artifact.Memory
}

func run(t *testing.T, cfg Config, p probe.Probe, opts ...Option) (ir.Outcome, []ir.Record, *fixture, error) {
	t.Helper()
	f := &fixture{rec: sink.NewRecorder(), artifacts: artifact.NewMemory()}
	base := []Option{
		WithProbe(p),
		WithArtifacts(f.artifacts),
		WithLogger(logging.Discard()),
		WithScopeOptions(scope.WithRunIDs(testutil.NewFixedRunIDGenerator("run-1"))),
	}
	e := New(cfg, f.rec, append(base, opts...)...)
	outcome, err := e.Execute(context.Background())

	records := f.rec.Records()
	require.NoError(t, trace.Verify(records), "every execution path leaves a balanced stream")
	return outcome, records, f, err
}

func TestExecute_HappyPath(t *testing.T) {
	outcome, records, f, err := run(t, testConfig(), probe.DefaultTemperature)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomePass, outcome)

	want := []string{
		"scope_start:run-1",
		"log:run-1",
		"scope_start:step_0",
		"measurement:step_0",
		"log:step_0",
		"scope_end:step_0",
		"scope_start:step_1",
		"scope_start:series_0",
		"measurement:series_0",
		"measurement:series_0",
		"measurement:series_0",
		"measurement:series_0",
		"measurement:series_0",
		"scope_end:series_0",
		"file:step_1",
		"extension:step_1",
		"diagnosis:step_1",
		"scope_end:step_1",
		"scope_end:run-1",
	}
	if diff := cmp.Diff(want, testutil.Shape(records)); diff != "" {
		t.Errorf("record stream mismatch (-want +got):\n%s", diff)
	}

	start := records[0].Start
	assert.Equal(t, DefaultName, start.Name)
	assert.Equal(t, DefaultVersion, start.Version)
	assert.Equal(t, "dut0", start.DUT.ID)

	assert.Equal(t, StepRunBinary, records[2].Start.Name)
	assert.Equal(t, MeasurementInitialTemperature, records[3].Measurement.Name)
	assert.Equal(t, 25.0, records[3].Measurement.Value)
	assert.Equal(t, "temperature is within limits", records[4].Log.Message)
	assert.Equal(t, ir.OutcomeSkip, testutil.EndOf(records, "step_0").Outcome, "no stressor binary skips step A")

	assert.Equal(t, StepStress, records[6].Start.Name)
	assert.Equal(t, 5, testutil.EndOf(records, "series_0").TotalCount)
	assert.Equal(t, ir.OutcomePass, testutil.EndOf(records, "step_1").Outcome)

	file := records[14].File
	assert.Equal(t, DefaultOutputFile, file.Name)
	assert.Equal(t, "mem://"+DefaultOutputFile, file.URI)

	ext := records[15].Extension
	assert.Equal(t, DefaultExtensionName, ext.Name)
	content, ok := ext.Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, DefaultExtensionType, content["type"])
	assert.Equal(t, 5, content["samples"])
	latency, ok := content["probe_latency_us"].(sampling.Latency)
	require.True(t, ok)
	assert.Equal(t, int64(5), latency.Count)

	assert.Equal(t, ir.Diagnosis{Verdict: VerdictNoBinaryPass, Type: ir.DiagnosisPass}, *records[16].Diagnosis)

	data, ok := f.artifacts.Get(DefaultOutputFile)
	require.True(t, ok)
	text := string(data)
	require.True(t, strings.HasPrefix(text, "Calculated n:\n"))
	require.True(t, strings.HasSuffix(text, "\n"))
	n, ok := new(big.Int).SetString(strings.TrimSuffix(strings.TrimPrefix(text, "Calculated n:\n"), "\n"), 10)
	require.True(t, ok)
	assert.Equal(t, 1, n.BitLen()-int(n.TrailingZeroBits()), "the workload result is a power of two")
}

func TestExecute_PreCheckFailureSkipsRun(t *testing.T) {
	p := probe.NewScripted(probe.Reading{Fail: true}, probe.Reading{Value: 25})
	outcome, records, _, err := run(t, testConfig(), p)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeNotApplicable, outcome)

	assert.Equal(t, []string{"scope_start:run-1", "error:run-1", "scope_end:run-1"}, testutil.Shape(records))
	assert.Equal(t, SymptomNoTemperature, records[1].Error.Symptom)
	assert.Empty(t, testutil.OfKind(records, ir.KindLog))
	assert.Equal(t, 1, p.Calls(), "no reads after the failed pre-check")
}

func TestExecute_ThresholdBreachIsNotFatal(t *testing.T) {
	outcome, records, _, err := run(t, testConfig(), probe.Values(31))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomePass, outcome)

	stepA := testutil.InScope(records, "step_0")
	assert.Equal(t, []ir.RecordKind{
		ir.KindScopeStart, ir.KindMeasurement, ir.KindError, ir.KindDiagnosis, ir.KindScopeEnd,
	}, testutil.Kinds(stepA))
	assert.Equal(t, SymptomHighTemperature, stepA[2].Error.Symptom)
	assert.Equal(t, ir.Diagnosis{Verdict: VerdictHighInitialTemperature, Type: ir.DiagnosisFail}, *stepA[3].Diagnosis)
	assert.Equal(t, ir.OutcomeSkip, stepA[4].End.Outcome)

	assert.NotNil(t, testutil.EndOf(records, "step_1"), "step B still runs")
}

func TestExecute_ThresholdIsExclusive(t *testing.T) {
	_, records, _, err := run(t, testConfig(), probe.Values(30))
	require.NoError(t, err)
	assert.Empty(t, testutil.OfKind(records, ir.KindError))
}

func TestExecute_FailOnThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.FailOnThreshold = true

	outcome, _, _, err := run(t, cfg, probe.Values(31))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeFail, outcome)
}

func TestExecute_ProbeFailureInStepAIsStepError(t *testing.T) {
	p := probe.NewScripted(probe.Reading{Value: 25}, probe.Reading{Fail: true})
	outcome, records, _, err := run(t, testConfig(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, probe.ErrUnavailable)
	assert.Equal(t, ir.OutcomeError, outcome)

	assert.Equal(t, ir.OutcomeError, testutil.EndOf(records, "step_0").Outcome)
	assert.Nil(t, testutil.EndOf(records, "step_1"), "step B never starts")
	assert.Equal(t, ir.OutcomeError, testutil.EndOf(records, "run-1").Outcome)
}

func TestExecute_SamplingAbortPropagates(t *testing.T) {
	p := probe.NewScripted(
		probe.Reading{Value: 25}, // pre-check
		probe.Reading{Value: 25}, // step A
		probe.Reading{Value: 26},
		probe.Reading{Value: 27},
		probe.Reading{Fail: true},
	)
	outcome, records, f, err := run(t, testConfig(), p)
	require.Error(t, err)
	assert.True(t, sampling.IsAbort(err))
	assert.Equal(t, ir.OutcomeError, outcome)

	series := testutil.EndOf(records, "series_0")
	require.NotNil(t, series)
	assert.Equal(t, ir.OutcomeError, series.Outcome)
	assert.Equal(t, 2, series.TotalCount, "samples before the failure are kept")
	assert.Equal(t, ir.OutcomeError, testutil.EndOf(records, "step_1").Outcome)

	assert.Empty(t, testutil.OfKind(records, ir.KindFile))
	assert.Empty(t, f.artifacts.Names())
}

func TestExecute_ArtifactFailureIsLoggedOnce(t *testing.T) {
	outcome, records, _, err := run(t, testConfig(), probe.DefaultTemperature, WithArtifacts(artifact.Failing{}))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomePass, outcome)

	stepB := testutil.InScope(records, "step_1")
	logs := testutil.OfKind(stepB, ir.KindLog)
	require.Len(t, logs, 1)
	assert.Equal(t, ir.SeverityError, logs[0].Log.Severity)
	assert.Contains(t, logs[0].Log.Message, "failed to write output file")

	assert.Empty(t, testutil.OfKind(records, ir.KindFile))
	assert.Len(t, testutil.OfKind(stepB, ir.KindExtension), 1)
	assert.Len(t, testutil.OfKind(stepB, ir.KindDiagnosis), 1)
	assert.Equal(t, ir.OutcomePass, testutil.EndOf(records, "step_1").Outcome)
}

func TestExecute_StressorBinary(t *testing.T) {
	cfg := testConfig()
	cfg.StressorBin = "/usr/bin/stress"
	cfg.StressorArgs = []string{"--cpu", "1"}

	var gotName string
	var gotArgs []string
	runner := func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte("ok"), nil
	}

	outcome, records, _, err := run(t, cfg, probe.DefaultTemperature, WithCommandRunner(runner))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomePass, outcome)
	assert.Equal(t, "/usr/bin/stress", gotName)
	assert.Equal(t, []string{"--cpu", "1"}, gotArgs)

	stepA := testutil.InScope(records, "step_0")
	diags := testutil.OfKind(stepA, ir.KindDiagnosis)
	require.Len(t, diags, 1)
	assert.Equal(t, VerdictBinaryPass, diags[0].Diagnosis.Verdict)
	assert.Equal(t, ir.OutcomePass, testutil.EndOf(records, "step_0").Outcome)
}

func TestExecute_StressorExitFailure(t *testing.T) {
	cfg := testConfig()
	cfg.StressorBin = "stress"
	runner := func(context.Context, string, ...string) ([]byte, error) {
		return nil, &exec.ExitError{}
	}

	outcome, records, _, err := run(t, cfg, probe.DefaultTemperature, WithCommandRunner(runner))
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeFail, outcome)

	stepA := testutil.InScope(records, "step_0")
	errs := testutil.OfKind(stepA, ir.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, SymptomStressorFailed, errs[0].Error.Symptom)
	assert.Equal(t, ir.OutcomeFail, testutil.EndOf(records, "step_0").Outcome)
	assert.NotNil(t, testutil.EndOf(records, "step_1"), "a failed stressor does not stop step B")
}

func TestExecute_StressorCannotStart(t *testing.T) {
	cfg := testConfig()
	cfg.StressorBin = "missing"
	notFound := errors.New("executable file not found")
	runner := func(context.Context, string, ...string) ([]byte, error) { return nil, notFound }

	outcome, records, _, err := run(t, cfg, probe.DefaultTemperature, WithCommandRunner(runner))
	require.ErrorIs(t, err, notFound)
	assert.Equal(t, ir.OutcomeError, outcome)
	assert.Equal(t, ir.OutcomeError, testutil.EndOf(records, "step_0").Outcome)
}

func TestExecute_ZeroSamples(t *testing.T) {
	cfg := testConfig()
	cfg.Sampling.Count = 0

	outcome, records, _, err := run(t, cfg, probe.DefaultTemperature)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomePass, outcome)
	assert.Len(t, testutil.InScope(records, "series_0"), 2, "only the series start and end")
	assert.Equal(t, 0, testutil.EndOf(records, "series_0").TotalCount)
}

func TestExecute_SamplingObserver(t *testing.T) {
	var states []sampling.State
	obs := sampling.ObserverFunc(func(e sampling.Event) {
		if e.Type == sampling.EventTransition {
			states = append(states, e.To)
		}
	})

	_, _, _, err := run(t, testConfig(), probe.DefaultTemperature, WithSamplingObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, []sampling.State{sampling.StateSampling, sampling.StateDraining, sampling.StateDone}, states)
}

func TestExecute_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Sampling.Count = -1

	e := New(cfg, sink.Discard, WithLogger(logging.Discard()))
	outcome, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, ir.OutcomeError, outcome)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "hello_world", cfg.Name)
	assert.Equal(t, "1.0", cfg.Version)
	assert.NotEmpty(t, cfg.DUT.ID)
	assert.Equal(t, 30.0, cfg.Threshold)
	assert.Equal(t, 5, cfg.Sampling.Count)
	assert.Equal(t, time.Second, cfg.Sampling.Interval)
	assert.Equal(t, "stressor_output.txt", cfg.OutputFile)
	assert.Equal(t, "mycompany-test_plan", cfg.ExtensionName)
	assert.NoError(t, cfg.Validate())
}
