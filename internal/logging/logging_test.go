package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_HasComponent(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(slog.LevelDebug, FormatText, &buf)

	New("diag").Info("hello")
	assert.Contains(t, buf.String(), "component=diag")
	assert.Contains(t, buf.String(), "hello")
}

func TestInit_JSONFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(slog.LevelInfo, FormatJSON, &buf)

	New("cli").Info("json check")
	assert.Contains(t, buf.String(), `"level":"INFO"`)
	assert.Contains(t, buf.String(), `"component":"cli"`)
}

func TestInit_LevelFilters(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(Level(false), FormatText, &buf)

	New("x").Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("text"))
	assert.NoError(t, ValidateFormat("json"))
	assert.Error(t, ValidateFormat("yaml"))
}

func TestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Level(true))
	assert.Equal(t, slog.LevelInfo, Level(false))
}
