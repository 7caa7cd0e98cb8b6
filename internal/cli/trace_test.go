package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/store"
	"github.com/roach88/diagrun/internal/testutil"
)

// seedDatabase records two passing runs into a new database.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "diagrun.db")
	for _, id := range []string{"run-a", "run-b"} {
		_, err := executeRun(t, &RunOptions{RunIDs: testutil.NewFixedRunIDGenerator(id)}, "--db", dbPath)
		require.NoError(t, err)
	}
	return dbPath
}

// seedInterruptedRun stores a run whose process died inside step A.
func seedInterruptedRun(t *testing.T, dbPath, runID string, firstSeq int64) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	records := []ir.Record{
		{Seq: firstSeq, RunID: runID, ScopeID: runID, Kind: ir.KindScopeStart,
			Start: &ir.ScopeStart{Scope: ir.ScopeRun, Name: "hello_world", Version: "1.0"}},
		{Seq: firstSeq + 1, RunID: runID, ScopeID: "step_0", Kind: ir.KindScopeStart,
			Start: &ir.ScopeStart{Scope: ir.ScopeStep, Name: "run binary", ParentID: runID}},
		{Seq: firstSeq + 2, RunID: runID, ScopeID: "step_0", Kind: ir.KindMeasurement,
			Measurement: &ir.Measurement{Name: "initial temperature", Value: 25, Unit: "C"}},
	}
	for _, rec := range records {
		require.NoError(t, st.Emit(ctx, rec))
	}
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceListsRuns(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "run-a  hello_world 1.0")
	assert.Contains(t, out, "run-b  hello_world 1.0")
	assert.Contains(t, out, "COMPLETE/PASS")
}

func TestTraceListsRunsJSON(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeTrace(t, "json", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   []RunListing `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "run-a", resp.Data[0].ID)
	assert.True(t, resp.Data[0].Finished)
	assert.Equal(t, ir.OutcomePass, resp.Data[1].Outcome)
}

func TestTraceEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs stored.")
}

func TestTraceRunTree(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeTrace(t, "text", "--db", dbPath, "--run", "run-a", "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, `run "hello_world" [run-a] COMPLETE/PASS`)
	assert.Contains(t, out, `series "temperature" [series_0] COMPLETE/PASS`)
	assert.Contains(t, out, "Outcome: COMPLETE/PASS")
	assert.Contains(t, out, "✓ Scopes balanced")
}

func TestTraceLatestRunJSON(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeTrace(t, "json", "--db", dbPath, "--run", LatestRun, "--kind", "measurement")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "run-b", resp.Data.Run.ID)
	assert.True(t, resp.Data.Stats.IsComplete)
	assert.Equal(t, 2, resp.Data.Stats.ByKind[ir.KindMeasurement])
	require.Len(t, resp.Data.Records, 2)
	for _, rec := range resp.Data.Records {
		assert.Equal(t, ir.KindMeasurement, rec.Kind)
	}
}

func TestTraceInterruptedRun(t *testing.T) {
	dbPath := seedDatabase(t)
	seedInterruptedRun(t, dbPath, "run-crashed", 1000)

	out, err := executeTrace(t, "text", "--db", dbPath, "--run", "run-crashed")
	require.NoError(t, err)
	assert.Contains(t, out, "[1002] step_0 measurement initial temperature = 25 C")
	assert.Contains(t, out, "Outcome: incomplete (open scopes: [run-crashed step_0])")
}

func TestTraceVerifyFailsOnOpenScopes(t *testing.T) {
	dbPath := seedDatabase(t)
	seedInterruptedRun(t, dbPath, "run-crashed", 1000)

	out, err := executeTrace(t, "json", "--db", dbPath, "--run", "run-crashed", "--verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
		Error  *CLIError   `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TRACE_INVALID", resp.Error.Code)
	require.NotNil(t, resp.Data.Stats.Verified)
	assert.False(t, *resp.Data.Stats.Verified)
}

func TestTraceUnknownRun(t *testing.T) {
	dbPath := seedDatabase(t)

	_, err := executeTrace(t, "text", "--db", dbPath, "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run nope not found")
}

func TestTraceMissingDatabase(t *testing.T) {
	_, err := executeTrace(t, "text", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}
