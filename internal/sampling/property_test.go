package sampling

import (
	"context"
	"math/big"
	"testing"

	"pgregory.net/rapid"

	"github.com/roach88/diagrun/internal/probe"
	"github.com/roach88/diagrun/internal/workload"
)

// Property: for any count and any failure position, the coordinator reads
// the probe at most count times, forwards exactly the readings before the
// first failure, and always leaves the workload joined.
func TestProperty_SamplingContract(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 6).Draw(t, "count")
		failAt := rapid.IntRange(-1, count-1).Draw(t, "failAt")

		readings := make([]probe.Reading, 0, count)
		for i := 0; i < count; i++ {
			readings = append(readings, probe.Reading{Value: float64(20 + i), Fail: i == failAt})
		}
		if count == 0 {
			readings = append(readings, probe.Reading{Value: 20})
		}
		p := probe.NewScripted(readings...)
		w := workload.NewDoubler()
		rec := &sliceRecorder{}

		c := NewCoordinator[*big.Int](fastConfig(count))
		report, err := c.Run(context.Background(), p, w, rec)

		wantSamples := count
		wantCalls := count
		if failAt >= 0 {
			wantSamples = failAt
			wantCalls = failAt + 1
			if !IsAbort(err) {
				t.Fatalf("expected abort at %d, got %v", failAt, err)
			}
		} else if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(report.Samples) != wantSamples || len(rec.Values()) != wantSamples {
			t.Fatalf("samples %d forwarded %d, want %d", len(report.Samples), len(rec.Values()), wantSamples)
		}
		if p.Calls() != wantCalls {
			t.Fatalf("probe calls %d, want %d", p.Calls(), wantCalls)
		}
		if c.State() != StateDone {
			t.Fatalf("state %s, want done", c.State())
		}
		steps := w.Steps()
		if report.Value.Cmp(doubledTimes(steps)) != 0 || w.Steps() != steps {
			t.Fatalf("workload still running after Run returned")
		}
	})
}
