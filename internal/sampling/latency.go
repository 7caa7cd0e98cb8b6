package sampling

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	minLatencyUS   = 1
	maxLatencyUS   = int64(time.Minute / time.Microsecond)
	latencySigFigs = 3
)

// Latency summarizes how long probe reads took, in microseconds.
type Latency struct {
	Count  int64   `json:"count"`
	MinUS  int64   `json:"min"`
	MaxUS  int64   `json:"max"`
	MeanUS float64 `json:"mean"`
	P50US  int64   `json:"p50"`
	P99US  int64   `json:"p99"`
}

type latencyRecorder struct {
	h *hdrhistogram.Histogram
}

func newLatencyRecorder() *latencyRecorder {
	return &latencyRecorder{h: hdrhistogram.New(minLatencyUS, maxLatencyUS, latencySigFigs)}
}

func (r *latencyRecorder) record(d time.Duration) {
	us := min(max(d.Microseconds(), minLatencyUS), maxLatencyUS)
	// Values are clamped into the histogram range, so RecordValue cannot fail.
	_ = r.h.RecordValue(us)
}

func (r *latencyRecorder) summary() Latency {
	if r.h.TotalCount() == 0 {
		return Latency{}
	}
	return Latency{
		Count:  r.h.TotalCount(),
		MinUS:  r.h.Min(),
		MaxUS:  r.h.Max(),
		MeanUS: r.h.Mean(),
		P50US:  r.h.ValueAtQuantile(50),
		P99US:  r.h.ValueAtQuantile(99),
	}
}
