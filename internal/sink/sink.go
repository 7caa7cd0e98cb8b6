// Package sink defines the ordered, append-only destination for diagnostic
// records and the in-process implementations of it.
//
// A Sink only receives records; it never reorders them. Ordering is the
// caller's responsibility (the scope manager stamps and emits records under a
// single lock), so every implementation here preserves arrival order.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/diagrun/internal/ir"
)

// Sink receives diagnostic records in emission order.
type Sink interface {
	Emit(ctx context.Context, rec ir.Record) error
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, rec ir.Record) error

func (f Func) Emit(ctx context.Context, rec ir.Record) error { return f(ctx, rec) }

// Discard drops every record.
var Discard Sink = Func(func(context.Context, ir.Record) error { return nil })

// Multi fans records out to several sinks in order.
// Every sink sees every record even if an earlier one fails; the errors are joined.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, rec ir.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is a concurrency-safe in-memory collector.
type Recorder struct {
	mu      sync.Mutex
	records []ir.Record
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(_ context.Context, rec ir.Record) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

// Records returns a point-in-time copy of all recorded records.
func (r *Recorder) Records() []ir.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of records collected so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Log mirrors records to a structured logger.
type Log struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (l *Log) Emit(ctx context.Context, rec ir.Record) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !logger.Enabled(ctx, l.Level) {
		return nil
	}

	attrs := []slog.Attr{
		slog.Int64("seq", rec.Seq),
		slog.String("run_id", rec.RunID),
		slog.String("scope_id", rec.ScopeID),
	}
	attrs = append(attrs, payloadAttrs(rec)...)
	logger.LogAttrs(ctx, l.Level, string(rec.Kind), attrs...)
	return nil
}

func payloadAttrs(rec ir.Record) []slog.Attr {
	if _, err := rec.Payload(); err != nil {
		return []slog.Attr{slog.String("invalid", err.Error())}
	}
	switch rec.Kind {
	case ir.KindScopeStart:
		return []slog.Attr{slog.String("scope", string(rec.Start.Scope)), slog.String("name", rec.Start.Name)}
	case ir.KindScopeEnd:
		attrs := []slog.Attr{
			slog.String("scope", string(rec.End.Scope)),
			slog.String("name", rec.End.Name),
			slog.String("outcome", rec.End.Outcome.String()),
		}
		if rec.End.Failure != "" {
			attrs = append(attrs, slog.String("failure", rec.End.Failure))
		}
		return attrs
	case ir.KindLog:
		return []slog.Attr{slog.String("severity", string(rec.Log.Severity)), slog.String("message", rec.Log.Message)}
	case ir.KindError:
		return []slog.Attr{slog.String("symptom", rec.Error.Symptom), slog.String("message", rec.Error.Message)}
	case ir.KindMeasurement:
		attrs := []slog.Attr{
			slog.String("name", rec.Measurement.Name),
			slog.Float64("value", rec.Measurement.Value),
			slog.String("unit", rec.Measurement.Unit),
		}
		if rec.Measurement.SeriesID != "" {
			attrs = append(attrs, slog.String("series_id", rec.Measurement.SeriesID), slog.Int("index", rec.Measurement.Index))
		}
		return attrs
	case ir.KindDiagnosis:
		return []slog.Attr{slog.String("verdict", rec.Diagnosis.Verdict), slog.String("type", string(rec.Diagnosis.Type))}
	case ir.KindExtension:
		return []slog.Attr{slog.String("name", rec.Extension.Name), slog.Any("content", rec.Extension.Content)}
	case ir.KindFile:
		return []slog.Attr{slog.String("name", rec.File.Name), slog.String("uri", rec.File.URI)}
	}
	return nil
}
