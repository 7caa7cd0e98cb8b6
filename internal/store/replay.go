package store

import (
	"context"
	"fmt"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/sink"
)

// RunState represents the state of a stored run for recovery purposes.
type RunState struct {
	Run        Run
	Records    []ir.Record
	LastSeq    int64
	IsComplete bool     // True if the run scope has ended
	OpenScopes []string // Scope ids started but never ended, outermost first
}

// GetRunState retrieves a run's records and reports which scopes were left
// open, e.g. by a process that crashed mid-run.
func (s *Store) GetRunState(ctx context.Context, runID string) (RunState, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}
	records, err := s.ReadRun(ctx, runID)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	state := RunState{Run: run, Records: records, IsComplete: run.Finished}
	var open []string
	for _, rec := range records {
		if rec.Seq > state.LastSeq {
			state.LastSeq = rec.Seq
		}
		switch rec.Kind {
		case ir.KindScopeStart:
			open = append(open, rec.ScopeID)
		case ir.KindScopeEnd:
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == rec.ScopeID {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		}
	}
	state.OpenScopes = open
	return state, nil
}

// Replay re-emits every stored record of a run into dst in seq order.
// It stops at the first sink error.
func (s *Store) Replay(ctx context.Context, runID string, dst sink.Sink) (int, error) {
	records, err := s.ReadRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("replay: %w", err)
		}
		if err := dst.Emit(ctx, rec); err != nil {
			return i, fmt.Errorf("replay record seq=%d: %w", rec.Seq, err)
		}
	}
	return len(records), nil
}
