// Package harness runs diagnostic scenarios as executable contract tests.
//
// A scenario fixes everything the diagnostic depends on: the probe readings,
// whether the artifact store accepts writes, how the stressor binary behaves
// and any config overrides. The harness then runs the real diag.Engine,
// stores its records in an in-memory SQLite store and evaluates assertions
// against the stored stream.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config: |
//	  threshold: 30
//	  samples: 2
//	readings: [25, 26, {fail: true}]
//	artifact_fail: false
//	stressor:
//	  bin: stress-ng
//	  exit_code: 0
//	expect:
//	  status: COMPLETE
//	  result: PASS
//	assertions:
//	  - type: record_contains
//	    kind: error
//	    scope: hello_world
//	    fields: { symptom: no-temperature }
//	  - type: record_count
//	    kind: measurement
//	    count: 6
//	  - type: scopes_balanced
//
// The config block is CUE source validated by internal/config.
//
// # Assertion Types
//
//   - record_contains: some record matches kind, scope and fields
//   - record_order: the listed matchers match records in this order
//   - record_count: exactly count records match
//   - scopes_balanced: the stream passes trace.Verify
//   - artifact_contains: a persisted artifact contains the given text
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run id, a fixed DUT id, in-memory artifacts
// and a 1ms sampling interval unless the config overrides it. The probe
// latency summary is redacted from golden traces, so the same scenario always
// produces byte-identical golden output.
package harness
