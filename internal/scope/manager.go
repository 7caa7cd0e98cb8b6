package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/sink"
)

// Body is the function run inside a run or step scope.
type Body func(ctx context.Context, s *Scope) (ir.Outcome, error)

// RunInfo describes the run a Manager opens.
type RunInfo struct {
	Name    string
	Version string
	DUT     ir.DUT
}

// Manager owns the scope hierarchy of one diagnostic run and is the only
// writer of its record stream.
//
// Thread-safety model:
//   - Record stamping and emission happen under a single mutex, so seq order
//     equals emission order and records never interleave.
//   - Scope bodies run on the caller's goroutine; a scope may only be entered
//     while its parent is the innermost open scope.
type Manager struct {
	sink   sink.Sink
	clock  *Clock
	ids    RunIDGenerator
	logger *slog.Logger

	mu     sync.Mutex
	stack  []*Scope
	runID  string
	steps  int
	series int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the logical clock used to stamp records.
func WithClock(c *Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRunIDs sets the run id generator.
// Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// WithLogger sets the operator logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager that emits into s.
func NewManager(s sink.Sink, opts ...Option) *Manager {
	m := &Manager{
		sink:   s,
		clock:  NewClock(),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run opens the run scope, runs body, and always closes the run scope.
//
// The returned outcome is the one carried by the run's end record. A non-nil
// error means the body failed (the end record then carries an Error outcome)
// or the hierarchy was misused.
func (m *Manager) Run(ctx context.Context, info RunInfo, body Body) (ir.Outcome, error) {
	start := ir.ScopeStart{
		Scope:   ir.ScopeRun,
		Name:    info.Name,
		Version: info.Version,
	}
	if info.DUT.ID != "" {
		dut := info.DUT
		start.DUT = &dut
	}
	return m.enter(ctx, nil, start, body)
}

// enter is the single scope primitive behind runs, steps and series.
//
// The end record is emitted exactly once after the start record succeeded,
// whether body returns normally, returns an error, panics, or exits the
// goroutine. A panic is re-raised after the end record is written.
func (m *Manager) enter(ctx context.Context, parent *Scope, start ir.ScopeStart, body Body) (outcome ir.Outcome, err error) {
	s, err := m.open(ctx, parent, start)
	if err != nil {
		return ir.OutcomeError, err
	}

	// End records must be written even when ctx is already cancelled.
	closeCtx := context.WithoutCancel(ctx)

	returned := false
	defer func() {
		if returned {
			return
		}
		r := recover()
		failure := "scope body exited without returning"
		if r != nil {
			failure = fmt.Sprintf("panic: %v", r)
		}
		if cerr := m.close(closeCtx, s, ir.OutcomeError, failure); cerr != nil {
			m.logger.Error("closing scope after abnormal exit", "scope_id", s.id, "error", cerr)
		}
		if r != nil {
			panic(r)
		}
	}()

	outcome, err = body(ctx, s)
	returned = true

	failure := ""
	var oe *OutcomeError
	switch {
	case err == nil && outcome.IsError():
		err = fmt.Errorf("%s %q returned an error outcome without an error", s.kind, s.name)
		failure = err.Error()
	case err == nil:
		if outcome.Status == "" {
			outcome = ir.OutcomePass
		}
	case errors.As(err, &oe):
		outcome = oe.Outcome
		failure = oe.Reason
		err = nil
	default:
		outcome = ir.OutcomeError
		failure = err.Error()
	}

	if cerr := m.close(closeCtx, s, outcome, failure); cerr != nil {
		return ir.OutcomeError, errors.Join(err, cerr)
	}
	return outcome, err
}

// open validates nesting, pushes the new scope and emits its start record.
func (m *Manager) open(ctx context.Context, parent *Scope, start ir.ScopeStart) (*Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkNesting(parent, start.Scope); err != nil {
		m.logger.Error("scope protocol violation", "error", err, "scope", start.Scope, "name", start.Name)
		return nil, err
	}

	s := &Scope{m: m, kind: start.Scope, name: start.Name, parent: parent}
	switch start.Scope {
	case ir.ScopeRun:
		m.runID = m.ids.Generate()
		m.steps = 0
		m.series = 0
		s.id = m.runID
	case ir.ScopeStep:
		s.id = fmt.Sprintf("step_%d", m.steps)
		m.steps++
		start.ParentID = parent.id
	case ir.ScopeSeries:
		s.id = fmt.Sprintf("series_%d", m.series)
		m.series++
		start.ParentID = parent.id
	}

	if err := m.emitLocked(ctx, s, ir.Record{Kind: ir.KindScopeStart, Start: &start}); err != nil {
		// Sinks that accepted the start still need its end.
		startErr := fmt.Errorf("emit %s start %q: %w", start.Scope, start.Name, err)
		if endErr := m.endLocked(context.WithoutCancel(ctx), s, ir.OutcomeError, startErr.Error()); endErr != nil {
			return nil, errors.Join(startErr, endErr)
		}
		return nil, startErr
	}
	m.stack = append(m.stack, s)

	m.logger.Debug("scope opened", "scope", s.kind, "scope_id", s.id, "name", s.name)
	return s, nil
}

func (m *Manager) checkNesting(parent *Scope, kind ir.ScopeKind) error {
	if parent == nil {
		if kind != ir.ScopeRun {
			return &ProtocolError{Code: ErrCodeInvalidNesting, Message: fmt.Sprintf("%s scope requires a parent", kind)}
		}
		if len(m.stack) > 0 {
			return &ProtocolError{Code: ErrCodeRunAlreadyOpen, ScopeID: m.stack[0].id, Message: "a run is already open"}
		}
		return nil
	}

	if parent.m != m {
		return &ProtocolError{Code: ErrCodeParentNotOpen, ScopeID: parent.id, Message: "parent belongs to another manager"}
	}
	if parent.closed {
		return &ProtocolError{Code: ErrCodeParentNotOpen, ScopeID: parent.id, Message: "parent scope is closed"}
	}
	if top := m.stack[len(m.stack)-1]; top != parent {
		return &ProtocolError{Code: ErrCodeParentNotOpen, ScopeID: parent.id, Message: fmt.Sprintf("parent is not the innermost open scope (%s is open)", top.id)}
	}

	want := map[ir.ScopeKind]ir.ScopeKind{ir.ScopeStep: ir.ScopeRun, ir.ScopeSeries: ir.ScopeStep}
	if want[kind] != parent.kind {
		return &ProtocolError{Code: ErrCodeInvalidNesting, ScopeID: parent.id, Message: fmt.Sprintf("%s scope cannot be entered under a %s scope", kind, parent.kind)}
	}
	return nil
}

// close emits the end record for s. Any descendants still open are closed
// first with an Error outcome so the record stream stays strictly nested;
// that case is reported as a ProtocolError.
func (m *Manager) close(ctx context.Context, s *Scope, outcome ir.Outcome, failure string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.closed {
		return &ProtocolError{Code: ErrCodeScopeClosed, ScopeID: s.id, Message: "scope already closed"}
	}

	var errs []error
	var leaked []error
	for len(m.stack) > 0 && m.stack[len(m.stack)-1] != s {
		child := m.stack[len(m.stack)-1]
		pe := &ProtocolError{Code: ErrCodeChildOpen, ScopeID: child.id, Message: fmt.Sprintf("still open when %s ended", s.id)}
		errs = append(errs, pe)
		leaked = append(leaked, pe)
		if err := m.endLocked(ctx, child, ir.OutcomeError, "parent scope ended while child was open"); err != nil {
			errs = append(errs, err)
		}
	}
	// A leaked child fails the parent.
	if len(leaked) > 0 {
		outcome = ir.OutcomeError
		failure = errors.Join(leaked...).Error()
	}
	if err := m.endLocked(ctx, s, outcome, failure); err != nil {
		errs = append(errs, err)
	}

	m.logger.Debug("scope closed", "scope", s.kind, "scope_id", s.id, "outcome", outcome.String())
	return errors.Join(errs...)
}

func (m *Manager) endLocked(ctx context.Context, s *Scope, outcome ir.Outcome, failure string) error {
	end := &ir.ScopeEnd{
		Scope:   s.kind,
		Name:    s.name,
		Outcome: outcome,
		Failure: failure,
	}
	if s.kind == ir.ScopeSeries {
		end.TotalCount = s.measurements
	}

	err := m.emitLocked(ctx, s, ir.Record{Kind: ir.KindScopeEnd, End: end})
	s.closed = true
	if n := len(m.stack); n > 0 && m.stack[n-1] == s {
		m.stack = m.stack[:n-1]
	}
	if err != nil {
		return fmt.Errorf("emit %s end %q: %w", s.kind, s.name, err)
	}
	return nil
}

// emit stamps and emits a record on behalf of an open scope.
func (m *Manager) emit(ctx context.Context, s *Scope, rec ir.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.closed {
		return &ProtocolError{Code: ErrCodeScopeClosed, ScopeID: s.id, Message: fmt.Sprintf("cannot emit %s on a closed scope", rec.Kind)}
	}
	return m.emitLocked(ctx, s, rec)
}

// emitLocked must be called with m.mu held.
func (m *Manager) emitLocked(ctx context.Context, s *Scope, rec ir.Record) error {
	rec.Seq = m.clock.Next()
	rec.RunID = m.runID
	rec.ScopeID = s.id
	return m.sink.Emit(ctx, rec)
}
