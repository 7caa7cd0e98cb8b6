package scope

import (
	"context"
	"fmt"

	"github.com/roach88/diagrun/internal/ir"
)

// Scope is the handle a body receives for its own node of the hierarchy.
//
// Every emission goes through the owning Manager, tagged with this scope's
// id. Emitting after the scope has ended returns a ProtocolError.
type Scope struct {
	m      *Manager
	id     string
	kind   ir.ScopeKind
	name   string
	parent *Scope

	// Guarded by m.mu.
	closed       bool
	measurements int
}

// ID returns the scope id records are tagged with.
func (s *Scope) ID() string { return s.id }

// Kind returns the scope kind.
func (s *Scope) Kind() ir.ScopeKind { return s.kind }

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Parent returns the enclosing scope, or nil for a run.
func (s *Scope) Parent() *Scope { return s.parent }

// RunID returns the id of the run this scope belongs to.
func (s *Scope) RunID() string {
	for s.parent != nil {
		s = s.parent
	}
	return s.id
}

// Step opens a step scope under a run scope.
func (s *Scope) Step(ctx context.Context, name string, body Body) (ir.Outcome, error) {
	return s.m.enter(ctx, s, ir.ScopeStart{Scope: ir.ScopeStep, Name: name}, body)
}

// Log emits a log record.
func (s *Scope) Log(ctx context.Context, severity ir.Severity, message string) error {
	return s.m.emit(ctx, s, ir.Record{
		Kind: ir.KindLog,
		Log:  &ir.Log{Severity: severity, Message: message},
	})
}

// Info emits an INFO log record.
func (s *Scope) Info(ctx context.Context, message string) error {
	return s.Log(ctx, ir.SeverityInfo, message)
}

// Error emits an error record describing a symptom.
func (s *Scope) Error(ctx context.Context, symptom, message string) error {
	return s.m.emit(ctx, s, ir.Record{
		Kind:  ir.KindError,
		Error: &ir.ErrorRecord{Symptom: symptom, Message: message},
	})
}

// AddMeasurement emits a standalone measurement.
func (s *Scope) AddMeasurement(ctx context.Context, m ir.Measurement) error {
	m.SeriesID = ""
	m.Index = 0
	return s.m.emit(ctx, s, ir.Record{Kind: ir.KindMeasurement, Measurement: &m})
}

// AddDiagnosis emits a diagnosis record.
func (s *Scope) AddDiagnosis(ctx context.Context, verdict string, typ ir.DiagnosisType) error {
	return s.m.emit(ctx, s, ir.Record{
		Kind:      ir.KindDiagnosis,
		Diagnosis: &ir.Diagnosis{Verdict: verdict, Type: typ},
	})
}

// AddExtension emits structured vendor content. The content must be
// representable as canonical JSON.
func (s *Scope) AddExtension(ctx context.Context, name string, content any) error {
	if _, err := ir.MarshalCanonical(content); err != nil {
		return fmt.Errorf("extension %q: %w", name, err)
	}
	return s.m.emit(ctx, s, ir.Record{
		Kind:      ir.KindExtension,
		Extension: &ir.Extension{Name: name, Content: content},
	})
}

// AddFile emits a reference to a persisted artifact.
func (s *Scope) AddFile(ctx context.Context, name, uri string) error {
	return s.m.emit(ctx, s, ir.Record{
		Kind: ir.KindFile,
		File: &ir.File{Name: name, URI: uri},
	})
}
