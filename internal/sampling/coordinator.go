// Package sampling runs a workload concurrently with periodic probe reads and
// guarantees the workload is stopped and joined on every exit path.
//
// Lifecycle:
//
//	Idle → Sampling → Draining → Done
//
// Sampling performs exactly Config.Count iterations of: wait Interval, read
// the probe once, forward the sample. A probe failure or a cancelled context
// ends the loop early. Whatever ends the loop, the stop signal is fired once
// and the workload goroutine is joined before Run returns.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/diagrun/internal/probe"
	"github.com/roach88/diagrun/internal/workload"
)

// Default sampling parameters.
const (
	DefaultCount    = 5
	DefaultInterval = time.Second
)

// Config controls the sampling loop.
type Config struct {
	Count    int
	Interval time.Duration
}

// DefaultConfig returns five samples one second apart.
func DefaultConfig() Config {
	return Config{Count: DefaultCount, Interval: DefaultInterval}
}

// Validate rejects negative counts and intervals.
func (c Config) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("sampling count must be >= 0, got %d", c.Count)
	}
	if c.Interval < 0 {
		return fmt.Errorf("sampling interval must be >= 0, got %s", c.Interval)
	}
	return nil
}

// Recorder receives forwarded samples. *scope.Series satisfies it.
type Recorder interface {
	AddMeasurement(ctx context.Context, value float64) error
}

// Report is what a coordinator run produced.
type Report[V any] struct {
	// Samples holds the values forwarded to the recorder, in order.
	Samples []float64
	// Value is the workload result read after the join.
	Value V
	// Latency summarizes probe read times.
	Latency Latency
}

type options struct {
	observer Observer
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*options)

// WithObserver registers an observer for state transitions and samples.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// WithLogger sets the operator logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = l
	}
}

// Coordinator owns one sampling cycle over a workload producing V.
//
// Thread-safety: State may be read from any goroutine. Run must be called at
// most once.
type Coordinator[V any] struct {
	cfg  Config
	opts options

	mu    sync.Mutex
	state State
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator[V any](cfg Config, opts ...Option) *Coordinator[V] {
	c := &Coordinator[V]{cfg: cfg}
	c.opts.logger = slog.Default()
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator[V]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator[V]) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.observe(Event{Type: EventTransition, From: from, To: to})
}

func (c *Coordinator[V]) observe(e Event) {
	if c.opts.observer != nil {
		c.opts.observer.OnEvent(e)
	}
}

// Run samples p while w advances in its own goroutine.
//
// Errors:
//   - *AbortError when a probe read fails; earlier samples stay forwarded
//   - ctx.Err() when the context is cancelled between samples
//   - *JoinError when the workload returned an error or panicked; it takes
//     precedence over, and is joined with, any sampling error
//   - a wrapped recorder error when forwarding a sample failed
//
// The returned Report is populated on every path.
func (c *Coordinator[V]) Run(ctx context.Context, p probe.Probe, w workload.Workload[V], rec Recorder) (Report[V], error) {
	if err := c.cfg.Validate(); err != nil {
		return Report[V]{}, err
	}
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return Report[V]{}, fmt.Errorf("coordinator already used (state %s)", state)
	}
	c.state = StateSampling
	c.mu.Unlock()
	c.observe(Event{Type: EventTransition, From: StateIdle, To: StateSampling})

	stop := NewSignal()
	var g errgroup.Group
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &JoinError{Err: &panicError{value: r}, Panicked: true}
			}
		}()
		for !stop.Fired() {
			if err := w.Advance(); err != nil {
				return &JoinError{Err: err}
			}
		}
		return nil
	})

	samples, latency, loopErr := c.sample(ctx, p, rec)

	c.transition(StateDraining)
	stop.Fire()
	joinErr := g.Wait()
	c.transition(StateDone)

	report := Report[V]{Samples: samples, Value: w.Value(), Latency: latency}

	if joinErr != nil {
		c.opts.logger.Error("workload join failed", "error", joinErr)
		return report, errors.Join(joinErr, loopErr)
	}
	return report, loopErr
}

func (c *Coordinator[V]) sample(ctx context.Context, p probe.Probe, rec Recorder) ([]float64, Latency, error) {
	lat := newLatencyRecorder()
	samples := make([]float64, 0, c.cfg.Count)
	if c.cfg.Count == 0 {
		return samples, lat.summary(), nil
	}

	timer := time.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	for i := 0; i < c.cfg.Count; i++ {
		if i > 0 {
			timer.Reset(c.cfg.Interval)
		}
		select {
		case <-ctx.Done():
			return samples, lat.summary(), ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		v, err := p.Read(ctx)
		elapsed := time.Since(start)
		lat.record(elapsed)
		if err != nil {
			abort := &AbortError{Sample: i, Err: err}
			c.observe(Event{Type: EventAbort, Index: i, Elapsed: elapsed, Err: err})
			c.opts.logger.Warn("probe failed, aborting sampling", "sample", i, "error", err)
			return samples, lat.summary(), abort
		}
		if err := rec.AddMeasurement(ctx, v); err != nil {
			return samples, lat.summary(), fmt.Errorf("forward sample %d: %w", i, err)
		}
		samples = append(samples, v)
		c.observe(Event{Type: EventSample, Index: i, Value: v, Elapsed: elapsed})
	}
	return samples, lat.summary(), nil
}
