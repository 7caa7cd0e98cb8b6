package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/diagrun/internal/ir"
)

// Emit appends a record to the log. Store implements sink.Sink.
//
// A run scope-start record registers the run; a run scope-end record stores
// its outcome. Every record is written in its own transaction together with
// the run bookkeeping it implies.
//
// Idempotent: re-emitting an identical record is a no-op. A different record
// with the same (run_id, seq) is rejected.
func (s *Store) Emit(ctx context.Context, rec ir.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	if rec.RunID == "" {
		return fmt.Errorf("emit record seq=%d: run id is required", rec.Seq)
	}

	id, err := ir.RecordID(rec)
	if err != nil {
		return fmt.Errorf("emit record seq=%d: %w", rec.Seq, err)
	}
	payload, err := ir.CanonicalPayload(rec)
	if err != nil {
		return fmt.Errorf("emit record seq=%d: %w", rec.Seq, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.Kind == ir.KindScopeStart && rec.Start.Scope == ir.ScopeRun {
		if err := insertRun(ctx, tx, rec); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, run_id, seq, scope_id, kind, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, rec.RunID, rec.Seq, rec.ScopeID, string(rec.Kind), string(payload))
	if err != nil {
		return fmt.Errorf("insert record seq=%d: %w", rec.Seq, err)
	}

	if rec.Kind == ir.KindScopeEnd && rec.End.Scope == ir.ScopeRun {
		if err := finishRun(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record seq=%d: %w", rec.Seq, err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, rec ir.Record) error {
	dutID := ""
	if rec.Start.DUT != nil {
		dutID = rec.Start.DUT.ID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, name, version, dut_id, start_seq, engine_version, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.RunID, rec.Start.Name, rec.Start.Version, dutID, rec.Seq, ir.EngineVersion, ir.SchemaVersion)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.RunID, err)
	}
	return nil
}

func finishRun(ctx context.Context, tx *sql.Tx, rec ir.Record) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET end_seq = ?, status = ?, result = ?
		WHERE id = ?
	`, rec.Seq, string(rec.End.Outcome.Status), string(rec.End.Outcome.Result), rec.RunID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", rec.RunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", rec.RunID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", rec.RunID, ErrRunNotFound)
	}
	return nil
}
