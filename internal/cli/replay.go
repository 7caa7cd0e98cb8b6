package cli

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/sink"
	"github.com/roach88/diagrun/internal/store"
	"github.com/roach88/diagrun/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - specific run only
	Into     string // optional - destination database
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID         string `json:"run_id"`
	Records       int    `json:"records"`
	IsComplete    bool   `json:"is_complete"`
	Deterministic bool   `json:"deterministic"`
	Valid         bool   `json:"valid"`
	Violation     string `json:"violation,omitempty"`
	Copied        int    `json:"copied,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs      []ReplayRunResult `json:"runs"`
	TotalRuns int               `json:"total_runs"`
	AllOK     bool              `json:"all_ok"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored runs and verify them",
		Long: `Replay stored record streams and verify them.

Each run is read back twice and the two streams are compared, then checked
for balanced, strictly nested scopes. With --into, the records are re-emitted
into another database; records already present there are skipped, so a
replay can be repeated safely.

Exit codes:
  0 - All runs replayed identically and are well formed
  1 - A run differed between reads or is malformed
  2 - Command error (database not found, etc.)

Examples:
  diagrun replay --db ./diagrun.db
  diagrun replay --db ./diagrun.db --run latest
  diagrun replay --db ./diagrun.db --into ./archive.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", `replay one run only, or "latest"`)
	cmd.Flags().StringVar(&opts.Into, "into", "", "copy replayed records into this database")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runIDs, err := selectRuns(ctx, st, opts.RunID)
	if err != nil {
		return err
	}

	var dst *store.Store
	if opts.Into != "" {
		dst, err = store.Open(opts.Into)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open destination database", err)
		}
		defer dst.Close()
	}

	result := ReplayResult{
		Runs:      make([]ReplayRunResult, 0, len(runIDs)),
		TotalRuns: len(runIDs),
		AllOK:     true,
	}
	for _, id := range runIDs {
		rr, err := replayAndVerifyRun(ctx, st, dst, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}
		result.Runs = append(result.Runs, rr)
		if !rr.Deterministic || !rr.Valid {
			result.AllOK = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

func selectRuns(ctx context.Context, st *store.Store, runID string) ([]string, error) {
	switch runID {
	case "":
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		ids := make([]string, 0, len(runs))
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
		return ids, nil
	case LatestRun:
		latest, err := st.LatestRun(ctx)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "no runs stored", err)
		}
		return []string{latest.ID}, nil
	default:
		if _, err := st.GetRun(ctx, runID); err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID), err)
		}
		return []string{runID}, nil
	}
}

// replayAndVerifyRun replays a single run twice, verifies the stream and
// optionally copies it into dst.
func replayAndVerifyRun(ctx context.Context, st, dst *store.Store, runID string) (ReplayRunResult, error) {
	state, err := st.GetRunState(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}

	first, second := sink.NewRecorder(), sink.NewRecorder()
	if _, err := st.Replay(ctx, runID, first); err != nil {
		return ReplayRunResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	if _, err := st.Replay(ctx, runID, second); err != nil {
		return ReplayRunResult{}, fmt.Errorf("second replay failed: %w", err)
	}

	rr := ReplayRunResult{
		RunID:         runID,
		Records:       first.Len(),
		IsComplete:    state.IsComplete,
		Deterministic: sameRecordIDs(first.Records(), second.Records()),
		Valid:         true,
	}
	if err := trace.Verify(first.Records()); err != nil {
		rr.Valid = false
		rr.Violation = err.Error()
	}

	if dst != nil {
		n, err := st.Replay(ctx, runID, dst)
		if err != nil {
			return ReplayRunResult{}, fmt.Errorf("copy replay failed: %w", err)
		}
		rr.Copied = n
	}
	return rr, nil
}

// sameRecordIDs compares two streams by content-addressed record id.
func sameRecordIDs(a, b []ir.Record) bool {
	ids := func(records []ir.Record) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			id, err := ir.RecordID(r)
			if err != nil {
				id = fmt.Sprintf("invalid seq=%d: %v", r.Seq, err)
			}
			out = append(out, id)
		}
		return out
	}
	return cmp.Equal(ids(a), ids(b))
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.AllOK {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY",
			Message: "replay verification failed",
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if !result.AllOK {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n", result.TotalRuns)
	fmt.Fprintln(w)

	for _, run := range result.Runs {
		status := "✓"
		if !run.Deterministic || !run.Valid {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Run: %s\n", status, run.RunID)
		fmt.Fprintf(w, "  Records: %d\n", run.Records)
		if verbose {
			fmt.Fprintf(w, "  Complete: %v\n", run.IsComplete)
		}
		if run.Copied > 0 {
			fmt.Fprintf(w, "  Copied: %d\n", run.Copied)
		}
		if !run.Deterministic {
			fmt.Fprintln(w, "  Warning: stream differed between reads")
		}
		if !run.Valid {
			fmt.Fprintf(w, "  Invalid: %s\n", run.Violation)
		}
		fmt.Fprintln(w)
	}

	if result.AllOK {
		fmt.Fprintln(w, "✓ All runs verified")
		return nil
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
