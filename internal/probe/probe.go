// Package probe reads the system state a diagnostic reasons about.
//
// A probe reading is a single temperature in degrees Celsius. Reads may fail;
// failures are reported as *Error and match ErrUnavailable.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrUnavailable is matched by every probe failure.
var ErrUnavailable = errors.New("system state unavailable")

// Error is a failed probe read.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: cannot get system state: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("probe %s: cannot get system state", e.Source)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every probe failure match ErrUnavailable.
func (e *Error) Is(target error) bool { return target == ErrUnavailable }

// IsFailure reports whether err is, or wraps, a probe failure.
func IsFailure(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// Probe reads the current temperature.
type Probe interface {
	Read(ctx context.Context) (float64, error)
}

// Func adapts a plain function to the Probe interface.
type Func func(ctx context.Context) (float64, error)

func (f Func) Read(ctx context.Context) (float64, error) { return f(ctx) }

// Static always reads the same value.
type Static float64

// DefaultTemperature is what the built-in mock probe reports.
const DefaultTemperature Static = 25

func (s Static) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &Error{Source: "static", Err: err}
	}
	return float64(s), nil
}

// Reading is one scripted probe result.
type Reading struct {
	Value float64
	Fail  bool
}

// Scripted replays a fixed sequence of readings. Once the script is exhausted
// the last reading repeats; an empty script always fails.
//
// Thread-safety: Scripted is safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	readings []Reading
	next     int
}

// NewScripted creates a probe that returns readings in order.
func NewScripted(readings ...Reading) *Scripted {
	return &Scripted{readings: readings}
}

// Values is a shorthand for a script with no failures.
func Values(values ...float64) *Scripted {
	readings := make([]Reading, len(values))
	for i, v := range values {
		readings[i] = Reading{Value: v}
	}
	return NewScripted(readings...)
}

func (s *Scripted) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.readings) == 0 {
		return 0, &Error{Source: "scripted", Err: errors.New("empty script")}
	}
	i := min(s.next, len(s.readings)-1)
	s.next++

	r := s.readings[i]
	if r.Fail {
		return 0, &Error{Source: "scripted", Err: fmt.Errorf("scripted failure at read %d", i)}
	}
	return r.Value, nil
}

// Calls returns how many reads have been made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// DefaultThermalZone is the first Linux thermal zone.
const DefaultThermalZone = "/sys/class/thermal/thermal_zone0/temp"

// Thermal reads a Linux sysfs thermal zone, which reports millidegrees Celsius.
type Thermal struct {
	Path string
}

func (t Thermal) Read(ctx context.Context) (float64, error) {
	path := t.Path
	if path == "" {
		path = DefaultThermalZone
	}
	if err := ctx.Err(); err != nil {
		return 0, &Error{Source: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &Error{Source: path, Err: err}
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, &Error{Source: path, Err: fmt.Errorf("parse reading: %w", err)}
	}
	return float64(milli) / 1000, nil
}
