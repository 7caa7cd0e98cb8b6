package testutil

// FixedRunIDGenerator returns the same run id every time.
//
// The same scenario run twice with the same FixedRunIDGenerator produces
// byte-identical record streams, which is what golden traces compare.
//
// Unlike scope.FixedGenerator, which hands out ids in sequence and panics when
// exhausted, this generator never runs out.
//
// Thread-safety: FixedRunIDGenerator is stateless and safe for concurrent use.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator creates a generator for id.
// If id is empty, Generate returns "test-run-default".
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id. Implements scope.RunIDGenerator.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
