package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"integral float", 25.0, "25"},
		{"fractional float", 25.5, "25.5"},
		{"json number int", json.Number("7"), "7"},
		{"json number float", json.Number("1.25"), "1.25"},
		{"bool true", true, "true"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array", []any{1, "a", false}, `[1,"a",false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"y": 1, "x": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 sorts after U+10000 in UTF-16 (surrogate 0xD800) but before it in UTF-8.
	obj := map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	result, err := MarshalCanonical("a<b>&\"c\"\\\n \x01")
	require.NoError(t, err)
	assert.Equal(t, "\"a<b>&\\\"c\\\"\\\\\\n \\u0001\"", string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form.
	result, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	require.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": math.Inf(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `object["x"]`)
}

func TestMarshalCanonicalStruct(t *testing.T) {
	m := Measurement{Name: "temperature", Value: 25, Unit: "C"}

	result, err := MarshalCanonical(m)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"temperature","unit":"C","value":25}`, string(result))
}

func TestCanonicalRecordIncludesEnvelope(t *testing.T) {
	rec := Record{
		Seq:     3,
		RunID:   "run-1",
		ScopeID: "step-0",
		Kind:    KindDiagnosis,
		Diagnosis: &Diagnosis{
			Verdict: "binary-pass",
			Type:    DiagnosisPass,
		},
	}

	result, err := CanonicalRecord(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"kind":"diagnosis","payload":{"type":"PASS","verdict":"binary-pass"},"run_id":"run-1","scope_id":"step-0","seq":3}`,
		string(result))
}
