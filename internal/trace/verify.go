// Package trace checks and reshapes recorded diagnostic streams.
package trace

import (
	"errors"
	"fmt"

	"github.com/roach88/diagrun/internal/ir"
)

// Violation is the first structural problem found in a record stream.
type Violation struct {
	Seq     int64
	ScopeID string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("trace violation at seq %d (scope=%s): %s", v.Seq, v.ScopeID, v.Message)
}

// IsViolation reports whether err is, or wraps, a Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

type openScope struct {
	id           string
	start        *ir.ScopeStart
	measurements int
}

var allowedParent = map[ir.ScopeKind]ir.ScopeKind{
	ir.ScopeStep:   ir.ScopeRun,
	ir.ScopeSeries: ir.ScopeStep,
}

// Verify checks that records form well-nested scope trees:
//   - seq strictly increases
//   - every start has exactly one end, and children end before parents
//   - a child starts under the innermost open scope of the allowed kind
//   - every other record belongs to a scope that is open
//   - series measurements are indexed from zero and the series end counts them
//
// Several runs may follow one another in the same stream.
func Verify(records []ir.Record) error {
	var stack []*openScope
	closed := make(map[string]bool)
	var lastSeq int64

	fail := func(r ir.Record, format string, args ...any) error {
		return &Violation{Seq: r.Seq, ScopeID: r.ScopeID, Message: fmt.Sprintf(format, args...)}
	}
	find := func(id string) *openScope {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].id == id {
				return stack[i]
			}
		}
		return nil
	}

	for i, r := range records {
		if i > 0 && r.Seq <= lastSeq {
			return fail(r, "seq %d does not increase after %d", r.Seq, lastSeq)
		}
		lastSeq = r.Seq
		if err := r.Validate(); err != nil {
			return fail(r, "%v", err)
		}

		switch r.Kind {
		case ir.KindScopeStart:
			kind := r.Start.Scope
			if (kind != ir.ScopeRun && closed[r.ScopeID]) || find(r.ScopeID) != nil {
				return fail(r, "scope started twice")
			}
			if kind == ir.ScopeRun {
				if len(stack) > 0 {
					return fail(r, "run started while %s is open", stack[0].id)
				}
				// Step and series ids are only unique within a run.
				clear(closed)
			} else {
				if len(stack) == 0 {
					return fail(r, "%s started outside a run", kind)
				}
				top := stack[len(stack)-1]
				if r.Start.ParentID != top.id {
					return fail(r, "%s started under %q but innermost open scope is %q", kind, r.Start.ParentID, top.id)
				}
				if allowedParent[kind] != top.start.Scope {
					return fail(r, "%s cannot nest under %s", kind, top.start.Scope)
				}
			}
			stack = append(stack, &openScope{id: r.ScopeID, start: r.Start})

		case ir.KindScopeEnd:
			if len(stack) == 0 || stack[len(stack)-1].id != r.ScopeID {
				if find(r.ScopeID) != nil {
					return fail(r, "scope ended while a child is still open")
				}
				return fail(r, "end without matching start")
			}
			top := stack[len(stack)-1]
			if top.start.Scope != r.End.Scope || top.start.Name != r.End.Name {
				return fail(r, "end %s %q does not match start %s %q", r.End.Scope, r.End.Name, top.start.Scope, top.start.Name)
			}
			if top.start.Scope == ir.ScopeSeries && r.End.TotalCount != top.measurements {
				return fail(r, "series total %d but %d measurements emitted", r.End.TotalCount, top.measurements)
			}
			stack = stack[:len(stack)-1]
			closed[r.ScopeID] = true

		default:
			s := find(r.ScopeID)
			if s == nil {
				if closed[r.ScopeID] {
					return fail(r, "%s emitted on a closed scope", r.Kind)
				}
				return fail(r, "%s emitted on an unknown scope", r.Kind)
			}
			if r.Kind == ir.KindMeasurement && r.Measurement.SeriesID != "" {
				if r.Measurement.SeriesID != r.ScopeID {
					return fail(r, "measurement for series %q emitted on scope %q", r.Measurement.SeriesID, r.ScopeID)
				}
				if r.Measurement.Index != s.measurements {
					return fail(r, "series index %d, want %d", r.Measurement.Index, s.measurements)
				}
				s.measurements++
			}
		}
	}

	if len(stack) > 0 {
		ids := make([]string, len(stack))
		for i, s := range stack {
			ids[i] = s.id
		}
		return &Violation{Seq: lastSeq, ScopeID: ids[len(ids)-1], Message: fmt.Sprintf("stream ended with open scopes %v", ids)}
	}
	return nil
}
