package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/diagrun/internal/ir"
)

// ErrRunNotFound is returned when a run id has no row in the runs table.
var ErrRunNotFound = errors.New("run not found")

// Run is the summary row of a stored run.
type Run struct {
	ID            string
	Name          string
	Version       string
	DUTID         string
	StartSeq      int64
	EndSeq        int64 // zero while the run is open
	Outcome       ir.Outcome
	Finished      bool
	EngineVersion string
	SchemaVersion string
}

const runColumns = `id, name, version, dut_id, start_seq, end_seq, status, result, engine_version, schema_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r              Run
		endSeq         sql.NullInt64
		status, result sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &r.Version, &r.DUTID, &r.StartSeq, &endSeq, &status, &result, &r.EngineVersion, &r.SchemaVersion)
	if err != nil {
		return Run{}, err
	}
	if endSeq.Valid {
		r.EndSeq = endSeq.Int64
		r.Finished = true
		r.Outcome = ir.Outcome{Status: ir.Status(status.String), Result: ir.Result(result.String)}
	}
	return r, nil
}

// GetRun returns the summary of one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// ListRuns returns all runs in the order they were started.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY start_seq ASC, id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY start_seq DESC, id COLLATE BINARY DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// ReadRun returns every record of a run in seq order.
// Payloads are decoded from canonical JSON; numbers inside extension content
// come back as json.Number.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]ir.Record, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, scope_id, kind, payload
		FROM records
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records of %s: %w", runID, err)
	}
	defer rows.Close()

	var records []ir.Record
	for rows.Next() {
		var (
			rec     ir.Record
			kind    string
			payload string
		)
		if err := rows.Scan(&rec.Seq, &rec.ScopeID, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.RunID = runID
		if err := rec.UnmarshalPayload(ir.RecordKind(kind), []byte(payload)); err != nil {
			return nil, fmt.Errorf("record seq=%d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of stored records of a run.
func (s *Store) CountRecords(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records of %s: %w", runID, err)
	}
	return n, nil
}

// MaxSeq returns the highest seq stored across all runs, or 0 for an empty
// store. A writer appending to an existing database resumes its clock here.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}
