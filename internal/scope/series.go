package scope

import (
	"context"

	"github.com/roach88/diagrun/internal/ir"
)

// SeriesDetail describes the quantity a measurement series samples.
type SeriesDetail struct {
	Name string
	Unit string
}

// Series is the handle of an open measurement series.
type Series struct {
	*Scope
	detail SeriesDetail
}

// Series opens a measurement series under a step scope.
//
// The series ends Complete when body returns nil and Error otherwise; the
// body's error is returned unchanged after the end record is written. The end
// record carries the number of measurements the series emitted.
func (s *Scope) Series(ctx context.Context, detail SeriesDetail, body func(ctx context.Context, se *Series) error) error {
	start := ir.ScopeStart{Scope: ir.ScopeSeries, Name: detail.Name, Unit: detail.Unit}
	_, err := s.m.enter(ctx, s, start, func(ctx context.Context, sc *Scope) (ir.Outcome, error) {
		if err := body(ctx, &Series{Scope: sc, detail: detail}); err != nil {
			return ir.OutcomeError, err
		}
		return ir.OutcomePass, nil
	})
	return err
}

// Detail returns the series name and unit.
func (se *Series) Detail() SeriesDetail { return se.detail }

// AddMeasurement appends one sample to the series. Samples are indexed from
// zero in emission order.
func (se *Series) AddMeasurement(ctx context.Context, value float64) error {
	m := se.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if se.closed {
		return &ProtocolError{Code: ErrCodeScopeClosed, ScopeID: se.id, Message: "cannot add a measurement to a closed series"}
	}
	rec := ir.Record{
		Kind: ir.KindMeasurement,
		Measurement: &ir.Measurement{
			Name:     se.detail.Name,
			Value:    value,
			Unit:     se.detail.Unit,
			SeriesID: se.id,
			Index:    se.measurements,
		},
	}
	if err := m.emitLocked(ctx, se.Scope, rec); err != nil {
		return err
	}
	se.measurements++
	return nil
}

// Count returns the number of measurements emitted so far.
func (se *Series) Count() int {
	se.m.mu.Lock()
	defer se.m.mu.Unlock()
	return se.measurements
}
