// Package logging configures the process-wide slog logger used for operator
// output. Diagnostic records never go through here; they go to a sink.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Formats accepted by Init.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Init installs the default slog logger with the given level and format.
// If w is omitted or nil, os.Stderr is used. Unknown formats fall back to text.
func Init(level slog.Level, format string, w ...io.Writer) {
	var writer io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		writer = w[0]
	}
	slog.SetDefault(slog.New(newHandler(writer, level, format)))
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ValidateFormat rejects anything but text or json.
func ValidateFormat(format string) error {
	switch format {
	case FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("invalid log format %q (want %s or %s)", format, FormatText, FormatJSON)
}

// Level maps the verbose flag to a level.
func Level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// New returns the default logger tagged with a component attribute.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
