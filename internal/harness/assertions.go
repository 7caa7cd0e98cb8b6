package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Records  []ir.Record // Full stream for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, rec := range e.Records {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", rec.Seq, rec.ScopeID, trace.Describe(rec))
		}
	}
	return buf.String()
}

// scopeNames maps scope ids to the names their start records carry.
func scopeNames(records []ir.Record) map[string]string {
	names := make(map[string]string)
	for _, rec := range records {
		if rec.Kind == ir.KindScopeStart {
			names[rec.ScopeID] = rec.Start.Name
		}
	}
	return names
}

// matches reports whether rec satisfies m. Fields use subset semantics and
// compare canonical JSON encodings, so 25 and 25.0 are equal.
func (m Matcher) matches(rec ir.Record, names map[string]string) bool {
	if m.Kind != "" && rec.Kind != m.Kind {
		return false
	}
	if m.Scope != "" && rec.ScopeID != m.Scope && names[rec.ScopeID] != m.Scope {
		return false
	}
	if len(m.Fields) == 0 {
		return true
	}

	payload, err := payloadMap(rec)
	if err != nil {
		return false
	}
	for key, want := range m.Fields {
		got, ok := payload[key]
		if !ok || !canonicalEqual(want, got) {
			return false
		}
	}
	return true
}

func (m Matcher) String() string {
	var parts []string
	if m.Kind != "" {
		parts = append(parts, "kind="+string(m.Kind))
	}
	if m.Scope != "" {
		parts = append(parts, "scope="+m.Scope)
	}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m.Fields[k]))
	}
	if len(parts) == 0 {
		return "any record"
	}
	return strings.Join(parts, " ")
}

// payloadMap decodes a record payload into a generic map.
func payloadMap(rec ir.Record) (map[string]any, error) {
	data, err := ir.CanonicalPayload(rec)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", rec.Kind, err)
	}
	return m, nil
}

func canonicalEqual(want, got any) bool {
	cw, err := ir.MarshalCanonical(want)
	if err != nil {
		return false
	}
	cg, err := ir.MarshalCanonical(got)
	if err != nil {
		return false
	}
	return bytes.Equal(cw, cg)
}

// assertRecordContains checks that some record matches.
func assertRecordContains(records []ir.Record, a Assertion) error {
	names := scopeNames(records)
	for _, rec := range records {
		if a.Matcher.matches(rec, names) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRecordContains,
		Expected: a.Matcher.String(),
		Actual:   "not found in trace",
		Records:  records,
	}
}

// assertRecordOrder checks that the matchers match records in order.
// Matches don't need to be consecutive (intervening records are allowed).
func assertRecordOrder(records []ir.Record, a Assertion) error {
	names := scopeNames(records)
	pos := 0
	for i, m := range a.Records {
		found := false
		for pos < len(records) {
			rec := records[pos]
			pos++
			if m.matches(rec, names) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertRecordOrder,
				Expected: fmt.Sprintf("records[%d] (%s) after records[%d]", i, m, i-1),
				Actual:   "no matching record in the remaining trace",
				Records:  records,
			}
		}
	}
	return nil
}

// assertRecordCount checks that exactly Count records match.
func assertRecordCount(records []ir.Record, a Assertion) error {
	names := scopeNames(records)
	count := 0
	for _, rec := range records {
		if a.Matcher.matches(rec, names) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRecordCount,
			Expected: fmt.Sprintf("%d records matching %s", a.Count, a.Matcher),
			Actual:   fmt.Sprintf("%d records", count),
			Records:  records,
		}
	}
	return nil
}

func assertScopesBalanced(records []ir.Record) error {
	if err := trace.Verify(records); err != nil {
		return &AssertionError{
			Type:     AssertScopesBalanced,
			Expected: "balanced, strictly nested scopes",
			Actual:   err.Error(),
			Records:  records,
		}
	}
	return nil
}

func assertArtifactContains(artifacts map[string]string, a Assertion) error {
	content, ok := artifacts[a.Name]
	if !ok {
		return &AssertionError{
			Type:     AssertArtifactContains,
			Expected: fmt.Sprintf("artifact %q", a.Name),
			Actual:   "not persisted",
		}
	}
	if !strings.Contains(content, a.Contains) {
		return &AssertionError{
			Type:     AssertArtifactContains,
			Expected: fmt.Sprintf("artifact %q containing %q", a.Name, a.Contains),
			Actual:   fmt.Sprintf("%q", content),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRecordContains:
			err = assertRecordContains(result.Records, assertion)
		case AssertRecordOrder:
			err = assertRecordOrder(result.Records, assertion)
		case AssertRecordCount:
			err = assertRecordCount(result.Records, assertion)
		case AssertScopesBalanced:
			err = assertScopesBalanced(result.Records)
		case AssertArtifactContains:
			err = assertArtifactContains(result.Artifacts, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
