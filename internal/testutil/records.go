// Package testutil holds deterministic helpers shared by package tests.
package testutil

import "github.com/roach88/diagrun/internal/ir"

// Kinds returns the kind of every record, in order.
func Kinds(records []ir.Record) []ir.RecordKind {
	out := make([]ir.RecordKind, len(records))
	for i, r := range records {
		out[i] = r.Kind
	}
	return out
}

// OfKind returns the records of one kind, in order.
func OfKind(records []ir.Record, kind ir.RecordKind) []ir.Record {
	var out []ir.Record
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// InScope returns the records tagged with scopeID, in order.
func InScope(records []ir.Record, scopeID string) []ir.Record {
	var out []ir.Record
	for _, r := range records {
		if r.ScopeID == scopeID {
			out = append(out, r)
		}
	}
	return out
}

// EndOf returns the end record of scopeID, or nil when it has none.
func EndOf(records []ir.Record, scopeID string) *ir.ScopeEnd {
	for _, r := range records {
		if r.ScopeID == scopeID && r.Kind == ir.KindScopeEnd {
			return r.End
		}
	}
	return nil
}

// Shape renders each record as "kind:scope_id" for compact ordering checks.
func Shape(records []ir.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Kind) + ":" + r.ScopeID
	}
	return out
}
