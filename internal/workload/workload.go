// Package workload defines the CPU-bound computation a diagnostic runs while
// it samples system state.
//
// A workload only computes. Starting, stopping and joining it is the sampling
// coordinator's job, and a workload never emits records.
package workload

import (
	"math/big"
	"sync"
)

// Workload is advanced one computation unit at a time.
type Workload[V any] interface {
	// Advance performs one unit of work.
	Advance() error
	// Value returns the current result.
	Value() V
}

// Doubler doubles a big integer on every increment, starting from 2.
//
// Thread-safety: Doubler is safe for concurrent use; Value may be called
// while another goroutine advances it.
type Doubler struct {
	mu    sync.Mutex
	n     *big.Int
	steps uint64
}

// NewDoubler creates a Doubler holding 2.
func NewDoubler() *Doubler {
	return &Doubler{n: big.NewInt(2)}
}

// Advance doubles the value.
func (d *Doubler) Advance() error {
	d.mu.Lock()
	d.n.Lsh(d.n, 1)
	d.steps++
	d.mu.Unlock()
	return nil
}

// Value returns a copy of the current value.
func (d *Doubler) Value() *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return new(big.Int).Set(d.n)
}

// Steps returns how many increments have been applied.
func (d *Doubler) Steps() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps
}

// Func adapts a step function and a value getter to Workload.
type Func[V any] struct {
	Step func() error
	Get  func() V
}

func (f Func[V]) Advance() error { return f.Step() }

func (f Func[V]) Value() V { return f.Get() }
