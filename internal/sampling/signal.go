package sampling

import "sync"

// Signal is a one-shot stop notification shared by the sampling loop and the
// workload goroutine.
//
// Firing is idempotent and, once fired, the signal stays fired. Observation
// never blocks.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire marks the signal fired. It reports whether this call did the firing.
func (s *Signal) Fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

// Fired reports whether the signal has fired.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}
