package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/store"
	"github.com/roach88/diagrun/internal/trace"
)

// LatestRun selects the most recently started run for --run.
const LatestRun = "latest"

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Kind     string // optional - filter to one record kind
	Verify   bool
}

// RunListing is one row of the run list.
type RunListing struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Version  string     `json:"version,omitempty"`
	DUT      string     `json:"dut,omitempty"`
	Finished bool       `json:"finished"`
	Outcome  ir.Outcome `json:"outcome"`
	StartSeq int64      `json:"start_seq"`
	EndSeq   int64      `json:"end_seq,omitempty"`
}

// TraceResult holds the complete trace output of one run.
type TraceResult struct {
	Run     RunListing  `json:"run"`
	Records []ir.Record `json:"records"`
	Stats   TraceStats  `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalRecords int                   `json:"total_records"`
	ByKind       map[ir.RecordKind]int `json:"by_kind"`
	OpenScopes   []string              `json:"open_scopes,omitempty"`
	IsComplete   bool                  `json:"is_complete"`
	Verified     *bool                 `json:"verified,omitempty"`
	Violation    string                `json:"violation,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect stored runs",
		Long: `Inspect the runs stored in a diagrun database.

Without --run, lists every stored run. With --run, prints the run's records
as a scope tree (text) or as a record list (json), with summary statistics.
--verify checks that the stream is balanced and strictly nested.

Examples:
  diagrun trace --db ./diagrun.db
  diagrun trace --db ./diagrun.db --run latest
  diagrun trace --db ./diagrun.db --run 0190c3b2-... --verify
  diagrun trace --db ./diagrun.db --run latest --kind measurement --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", `run id to print, or "latest"`)
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter records to one kind")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify scope nesting of the run")

	return cmd
}

func toListing(r store.Run) RunListing {
	return RunListing{
		ID:       r.ID,
		Name:     r.Name,
		Version:  r.Version,
		DUT:      r.DUTID,
		Finished: r.Finished,
		Outcome:  r.Outcome,
		StartSeq: r.StartSeq,
		EndSeq:   r.EndSeq,
	}
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(ctx, opts, cmd, st)
	}

	runID := opts.RunID
	if runID == LatestRun {
		latest, err := st.LatestRun(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "no runs stored", err)
		}
		runID = latest.ID
	}

	state, err := st.GetRunState(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	result := TraceResult{
		Run: toListing(state.Run),
		Stats: TraceStats{
			TotalRecords: len(state.Records),
			ByKind:       make(map[ir.RecordKind]int),
			OpenScopes:   state.OpenScopes,
			IsComplete:   state.IsComplete,
		},
	}
	for _, rec := range state.Records {
		result.Stats.ByKind[rec.Kind]++
		if opts.Kind == "" || string(rec.Kind) == opts.Kind {
			result.Records = append(result.Records, rec)
		}
	}

	var verifyErr error
	if opts.Verify {
		verifyErr = trace.Verify(state.Records)
		ok := verifyErr == nil
		result.Stats.Verified = &ok
		if verifyErr != nil {
			result.Stats.Violation = verifyErr.Error()
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if verifyErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_TRACE_INVALID", Message: verifyErr.Error()}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else if err := outputTraceText(cmd.OutOrStdout(), result, state.Records, opts); err != nil {
		return err
	}

	if verifyErr != nil {
		return WrapExitError(ExitFailure, "record stream is invalid", verifyErr)
	}
	return nil
}

// openExisting opens a database that must already exist.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func listRuns(ctx context.Context, opts *TraceOptions, cmd *cobra.Command, st *store.Store) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	listing := make([]RunListing, 0, len(runs))
	for _, r := range runs {
		listing = append(listing, toListing(r))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: listing})
	}

	w := cmd.OutOrStdout()
	if len(listing) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return nil
	}
	for _, r := range listing {
		outcome := "open"
		if r.Finished {
			outcome = r.Outcome.String()
		}
		fmt.Fprintf(w, "%s  %s %s  dut=%s  %s\n", r.ID, r.Name, r.Version, r.DUT, outcome)
	}
	return nil
}

func outputTraceText(w io.Writer, result TraceResult, all []ir.Record, opts *TraceOptions) error {
	fmt.Fprintf(w, "Run %s (%s %s)\n", result.Run.ID, result.Run.Name, result.Run.Version)

	// A complete, unfiltered stream renders as a tree; anything else as a
	// flat list in seq order.
	rendered := false
	if opts.Kind == "" && result.Stats.IsComplete {
		if roots, err := trace.Tree(all); err == nil {
			if err := trace.Render(w, roots); err != nil {
				return err
			}
			rendered = true
		}
	}
	if !rendered {
		for _, rec := range result.Records {
			fmt.Fprintf(w, "[%d] %s %s\n", rec.Seq, rec.ScopeID, trace.Describe(rec))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d\n", result.Stats.TotalRecords)
	if result.Stats.IsComplete {
		fmt.Fprintf(w, "Outcome: %s\n", result.Run.Outcome)
	} else {
		fmt.Fprintf(w, "Outcome: incomplete (open scopes: %v)\n", result.Stats.OpenScopes)
	}
	if result.Stats.Verified != nil {
		if *result.Stats.Verified {
			fmt.Fprintln(w, "✓ Scopes balanced")
		} else {
			fmt.Fprintf(w, "✗ %s\n", result.Stats.Violation)
		}
	}
	return nil
}
