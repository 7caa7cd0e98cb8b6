package sampling

import (
	"log/slog"
	"time"
)

// State is the coordinator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateSampling
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// EventType classifies coordinator events.
type EventType string

const (
	EventTransition EventType = "transition"
	EventSample     EventType = "sample"
	EventAbort      EventType = "abort"
)

// Event is a single observation from a coordinator run.
type Event struct {
	Type    EventType
	From    State
	To      State
	Index   int
	Value   float64
	Elapsed time.Duration
	Err     error
}

// Observer receives coordinator events on the sampling goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans out events to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(e Event) {
	for _, obs := range m {
		obs.OnEvent(e)
	}
}

// LogObserver writes coordinator events as debug log lines.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) OnEvent(e Event) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch e.Type {
	case EventTransition:
		logger.Debug("sampling state", "from", e.From.String(), "to", e.To.String())
	case EventSample:
		logger.Debug("sample", "index", e.Index, "value", e.Value, "probe_latency", e.Elapsed)
	case EventAbort:
		logger.Warn("sampling aborted", "index", e.Index, "error", e.Err)
	}
}
