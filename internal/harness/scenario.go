package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/probe"
)

// Scenario defines a diagnostic test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is CUE source overriding the harness defaults.
	Config string `yaml:"config,omitempty"`

	// Readings is the probe script. Once exhausted the last reading repeats.
	// Empty means a constant 25 C.
	Readings []Reading `yaml:"readings,omitempty"`

	// ArtifactFail makes the artifact store refuse every write.
	ArtifactFail bool `yaml:"artifact_fail,omitempty"`

	// Stressor fakes the external stress binary. Nil means none configured.
	Stressor *Stressor `yaml:"stressor,omitempty"`

	// Expect is the expected run outcome.
	Expect Expect `yaml:"expect"`

	// Assertions validate the stored record stream.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run id.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`
}

// Reading is one scripted probe result. In YAML it is either a number or a
// mapping such as {fail: true}.
type Reading probe.Reading

// UnmarshalYAML accepts a bare number or a {value, fail} mapping.
func (r *Reading) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("line %d: reading must be a number: %w", node.Line, err)
		}
		*r = Reading{Value: v}
		return nil
	}

	var raw struct {
		Value float64 `yaml:"value"`
		Fail  bool    `yaml:"fail"`
	}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*r = Reading{Value: raw.Value, Fail: raw.Fail}
	return nil
}

// Stressor describes how the fake stress binary behaves.
type Stressor struct {
	Bin  string   `yaml:"bin"`
	Args []string `yaml:"args,omitempty"`

	// ExitCode non-zero makes the binary run and fail.
	ExitCode int `yaml:"exit_code,omitempty"`

	// CannotStart makes the binary fail to launch at all.
	CannotStart bool `yaml:"cannot_start,omitempty"`
}

// Expect is the expected run outcome.
type Expect struct {
	Status ir.Status `yaml:"status"`
	Result ir.Result `yaml:"result"`

	// Error is true when Execute is expected to return an error.
	Error bool `yaml:"error,omitempty"`
}

// Outcome returns the expected outcome.
func (e Expect) Outcome() ir.Outcome {
	return ir.Outcome{Status: e.Status, Result: e.Result}
}

// Matcher selects records by kind, scope and payload fields.
type Matcher struct {
	// Kind is the record kind (scope_start, log, error, measurement, ...).
	Kind ir.RecordKind `yaml:"kind,omitempty"`

	// Scope is a scope id ("step_0") or scope name ("run binary").
	Scope string `yaml:"scope,omitempty"`

	// Fields is a subset match against the record payload.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates the record stream.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record_contains": some record matches Matcher
	// - "record_order": Records match in order
	// - "record_count": exactly Count records match Matcher
	// - "scopes_balanced": the stream passes trace.Verify
	// - "artifact_contains": artifact Name contains Contains
	Type string `yaml:"type"`

	Matcher `yaml:",inline"`

	// Count is the expected number of matches (used by record_count).
	Count int `yaml:"count,omitempty"`

	// Records is the expected order (used by record_order).
	Records []Matcher `yaml:"records,omitempty"`

	// Name and Contains are used by artifact_contains.
	Name     string `yaml:"name,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordContains   = "record_contains"
	AssertRecordOrder      = "record_order"
	AssertRecordCount      = "record_count"
	AssertScopesBalanced   = "scopes_balanced"
	AssertArtifactContains = "artifact_contains"
)

var knownKinds = []ir.RecordKind{
	ir.KindScopeStart, ir.KindScopeEnd, ir.KindLog, ir.KindError,
	ir.KindMeasurement, ir.KindDiagnosis, ir.KindExtension, ir.KindFile,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
// A non-empty filter keeps only scenarios whose name contains it.
func LoadScenarios(dir, filter string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	var scenarios []*Scenario
	seen := make(map[string]string)
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(path), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(path)
		if filter != "" && !strings.Contains(s.Name, filter) {
			continue
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Expect.Status == "" || s.Expect.Result == "" {
		return fmt.Errorf("expect.status and expect.result are required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Stressor != nil && s.Stressor.Bin == "" {
		return fmt.Errorf("stressor.bin is required")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecordContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for record_contains", index)
		}
	case AssertRecordOrder:
		if len(a.Records) == 0 {
			return fmt.Errorf("assertions[%d]: records list is required for record_order", index)
		}
		for j, m := range a.Records {
			if m.Kind != "" && !slices.Contains(knownKinds, m.Kind) {
				return fmt.Errorf("assertions[%d].records[%d]: unknown record kind %q", index, j, m.Kind)
			}
		}
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertScopesBalanced:
	case AssertArtifactContains:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for artifact_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Kind != "" && !slices.Contains(knownKinds, a.Kind) {
		return fmt.Errorf("assertions[%d]: unknown record kind %q", index, a.Kind)
	}
	return nil
}
