package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diagrun/internal/store"
)

func executeReplay(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayVerifiesAllRuns(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 2 run(s)")
	assert.Contains(t, out, "✓ Run: run-a")
	assert.Contains(t, out, "✓ Run: run-b")
	assert.Contains(t, out, "✓ All runs verified")
}

func TestReplayJSON(t *testing.T) {
	dbPath := seedDatabase(t)

	out, err := executeReplay(t, "json", "--db", dbPath, "--run", "run-b")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Runs, 1)
	run := resp.Data.Runs[0]
	assert.Equal(t, "run-b", run.RunID)
	assert.True(t, run.Deterministic)
	assert.True(t, run.Valid)
	assert.True(t, run.IsComplete)
	assert.Positive(t, run.Records)
}

func TestReplayIntoSecondDatabaseIsIdempotent(t *testing.T) {
	dbPath := seedDatabase(t)
	dst := filepath.Join(t.TempDir(), "archive.db")

	for range 2 {
		out, err := executeReplay(t, "text", "--db", dbPath, "--into", dst)
		require.NoError(t, err)
		assert.Contains(t, out, "Copied:")
	}

	src, err := store.Open(dbPath)
	require.NoError(t, err)
	defer src.Close()
	archive, err := store.Open(dst)
	require.NoError(t, err)
	defer archive.Close()

	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b"} {
		want, err := src.ReadRun(ctx, id)
		require.NoError(t, err)
		got, err := archive.ReadRun(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got, len(want), "run %s", id)

		n, err := archive.CountRecords(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, len(want), n)
	}
}

func TestReplayReportsMalformedRun(t *testing.T) {
	dbPath := seedDatabase(t)
	seedInterruptedRun(t, dbPath, "run-crashed", 1000)

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Run: run-crashed")
	assert.Contains(t, out, "Invalid:")
	assert.Contains(t, out, "✗ Replay verification failed")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found in database.")
}

func TestReplayUnknownRun(t *testing.T) {
	dbPath := seedDatabase(t)

	_, err := executeReplay(t, "text", "--db", dbPath, "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
