package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordKind distinguishes record payloads.
type RecordKind string

const (
	KindScopeStart  RecordKind = "scope_start"
	KindScopeEnd    RecordKind = "scope_end"
	KindLog         RecordKind = "log"
	KindError       RecordKind = "error"
	KindMeasurement RecordKind = "measurement"
	KindDiagnosis   RecordKind = "diagnosis"
	KindExtension   RecordKind = "extension"
	KindFile        RecordKind = "file"
)

// Record is one entry of the ordered diagnostic record stream.
//
// Exactly one payload pointer is non-nil and it matches Kind.
type Record struct {
	Seq     int64      `json:"seq"`
	RunID   string     `json:"run_id"`
	ScopeID string     `json:"scope_id"`
	Kind    RecordKind `json:"kind"`

	Start       *ScopeStart  `json:"start,omitempty"`
	End         *ScopeEnd    `json:"end,omitempty"`
	Log         *Log         `json:"log,omitempty"`
	Error       *ErrorRecord `json:"error,omitempty"`
	Measurement *Measurement `json:"measurement,omitempty"`
	Diagnosis   *Diagnosis   `json:"diagnosis,omitempty"`
	Extension   *Extension   `json:"extension,omitempty"`
	File        *File        `json:"file,omitempty"`
}

// ScopeStart opens a scope.
type ScopeStart struct {
	Scope    ScopeKind `json:"scope"`
	Name     string    `json:"name"`
	ParentID string    `json:"parent_id,omitempty"`

	// Run scopes only.
	Version string `json:"version,omitempty"`
	DUT     *DUT   `json:"dut,omitempty"`

	// Measurement series only.
	Unit string `json:"unit,omitempty"`
}

// ScopeEnd closes a scope and carries its outcome.
type ScopeEnd struct {
	Scope   ScopeKind `json:"scope"`
	Name    string    `json:"name"`
	Outcome Outcome   `json:"outcome"`

	// Failure is the text of the error the body terminated with, if any.
	Failure string `json:"failure,omitempty"`

	// TotalCount is the number of measurements a series emitted.
	TotalCount int `json:"total_count,omitempty"`
}

// Log is a free-form message.
type Log struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ErrorRecord reports a symptom observed by the diagnostic.
type ErrorRecord struct {
	Symptom string `json:"symptom"`
	Message string `json:"message,omitempty"`
}

// Measurement is a single numeric observation.
// SeriesID and Index are set when the measurement belongs to a series.
type Measurement struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
	SeriesID string  `json:"series_id,omitempty"`
	Index    int     `json:"index,omitempty"`
}

// Diagnosis is a named verdict.
type Diagnosis struct {
	Verdict string        `json:"verdict"`
	Type    DiagnosisType `json:"type"`
}

// Extension carries vendor-defined structured content.
type Extension struct {
	Name    string `json:"name"`
	Content any    `json:"content"`
}

// File references a persisted artifact.
type File struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Payload returns the kind-specific payload of the record.
func (r Record) Payload() (any, error) {
	var p any
	switch r.Kind {
	case KindScopeStart:
		p = r.Start
	case KindScopeEnd:
		p = r.End
	case KindLog:
		p = r.Log
	case KindError:
		p = r.Error
	case KindMeasurement:
		p = r.Measurement
	case KindDiagnosis:
		p = r.Diagnosis
	case KindExtension:
		p = r.Extension
	case KindFile:
		p = r.File
	default:
		return nil, fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if isNilPayload(p) {
		return nil, fmt.Errorf("record kind %q has no %s payload", r.Kind, r.Kind)
	}
	return p, nil
}

func isNilPayload(p any) bool {
	switch v := p.(type) {
	case *ScopeStart:
		return v == nil
	case *ScopeEnd:
		return v == nil
	case *Log:
		return v == nil
	case *ErrorRecord:
		return v == nil
	case *Measurement:
		return v == nil
	case *Diagnosis:
		return v == nil
	case *Extension:
		return v == nil
	case *File:
		return v == nil
	}
	return p == nil
}

// Validate checks that the record is well formed: known kind, scope id
// present, and exactly one payload set.
func (r Record) Validate() error {
	if r.ScopeID == "" {
		return fmt.Errorf("record seq=%d: scope id is required", r.Seq)
	}
	if _, err := r.Payload(); err != nil {
		return err
	}
	set := 0
	for _, p := range []any{r.Start, r.End, r.Log, r.Error, r.Measurement, r.Diagnosis, r.Extension, r.File} {
		if !isNilPayload(p) {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("record seq=%d: expected exactly one payload, got %d", r.Seq, set)
	}
	return nil
}

// UnmarshalPayload decodes data into the payload field selected by kind.
// Numbers inside extension content are kept as json.Number.
func (r *Record) UnmarshalPayload(kind RecordKind, data []byte) error {
	r.Kind = kind
	var target any
	switch kind {
	case KindScopeStart:
		r.Start = &ScopeStart{}
		target = r.Start
	case KindScopeEnd:
		r.End = &ScopeEnd{}
		target = r.End
	case KindLog:
		r.Log = &Log{}
		target = r.Log
	case KindError:
		r.Error = &ErrorRecord{}
		target = r.Error
	case KindMeasurement:
		r.Measurement = &Measurement{}
		target = r.Measurement
	case KindDiagnosis:
		r.Diagnosis = &Diagnosis{}
		target = r.Diagnosis
	case KindExtension:
		r.Extension = &Extension{}
		target = r.Extension
	case KindFile:
		r.File = &File{}
		target = r.File
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return nil
}
