package harness

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/diagrun/internal/ir"
)

// GoldenDir is where RunWithGolden keeps golden traces, relative to the
// package under test.
const GoldenDir = "testdata/scenarios/golden"

// GoldenPath returns the golden file of a scenario stored next to the
// scenario files in scenariosDir.
func GoldenPath(scenariosDir, scenarioName string) string {
	return filepath.Join(scenariosDir, "golden", scenarioName+".golden")
}

// Redacted replaces values that vary between otherwise identical runs.
const Redacted = "<redacted>"

// volatileExtensionKeys are extension content keys holding timing data.
var volatileExtensionKeys = []string{"probe_latency_us"}

// Snapshot renders a scenario result as a deterministic golden trace.
//
// The first line carries the scenario name and outcome; every following line
// is one record as canonical JSON. Timing data inside extensions is replaced
// by Redacted.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	var buf bytes.Buffer

	header := map[string]any{
		"scenario_name": scenarioName,
		"outcome":       map[string]any{"status": string(result.Outcome.Status), "result": string(result.Outcome.Result)},
	}
	if result.RunError != "" {
		header["run_error"] = result.RunError
	}
	line, err := ir.MarshalCanonical(header)
	if err != nil {
		return nil, err
	}
	buf.Write(line)
	buf.WriteByte('\n')

	for _, rec := range result.Records {
		payload, err := payloadMap(rec)
		if err != nil {
			return nil, fmt.Errorf("record seq=%d: %w", rec.Seq, err)
		}
		if rec.Kind == ir.KindExtension {
			redact(payload)
		}
		line, err := ir.MarshalCanonical(map[string]any{
			"seq":      rec.Seq,
			"scope_id": rec.ScopeID,
			"kind":     string(rec.Kind),
			"payload":  payload,
		})
		if err != nil {
			return nil, fmt.Errorf("record seq=%d: %w", rec.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func redact(payload map[string]any) {
	content, ok := payload["content"].(map[string]any)
	if !ok {
		return
	}
	for _, key := range volatileExtensionKeys {
		if _, ok := content[key]; ok {
			content[key] = Redacted
		}
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/scenarios/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
