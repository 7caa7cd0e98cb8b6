package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/scope"
	"github.com/roach88/diagrun/internal/sink"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// recordRun drives a small run through a scope manager and returns the
// records it emitted. The run has one passing step holding a two-sample
// series, an extension and a file reference.
func recordRun(t *testing.T, runID string, dst sink.Sink, opts ...scope.Option) []ir.Record {
	t.Helper()
	rec := sink.NewRecorder()
	opts = append([]scope.Option{scope.WithRunIDs(scope.NewFixedGenerator(runID))}, opts...)
	m := scope.NewManager(sink.Multi{rec, dst}, opts...)

	_, err := m.Run(context.Background(), scope.RunInfo{Name: "store-test", Version: "1.0", DUT: ir.DUT{ID: "dut-1"}},
		func(ctx context.Context, run *scope.Scope) (ir.Outcome, error) {
			return run.Step(ctx, "sample", func(ctx context.Context, st *scope.Scope) (ir.Outcome, error) {
				err := st.Series(ctx, scope.SeriesDetail{Name: "temperature", Unit: "C"}, func(ctx context.Context, se *scope.Series) error {
					if err := se.AddMeasurement(ctx, 25); err != nil {
						return err
					}
					return se.AddMeasurement(ctx, 25.5)
				})
				if err != nil {
					return ir.OutcomeError, err
				}
				if err := st.AddExtension(ctx, "ext", map[string]any{"samples": 2}); err != nil {
					return ir.OutcomeError, err
				}
				return ir.OutcomePass, st.AddFile(ctx, "out.txt", "mem://out.txt")
			})
		})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return rec.Records()
}
