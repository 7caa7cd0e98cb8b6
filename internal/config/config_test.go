package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diagrun/internal/diag"
)

func TestLoad_FullFile(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "full.cue"))
	require.NoError(t, err)

	cfg := diag.DefaultConfig()
	require.NoError(t, f.Apply(&cfg))

	assert.Equal(t, "thermal_soak", cfg.Name)
	assert.Equal(t, "2.1", cfg.Version)
	assert.Equal(t, "dut7", cfg.DUT.ID)
	assert.Equal(t, "rack7.example.com", cfg.DUT.Name)
	assert.Equal(t, 45.5, cfg.Threshold)
	assert.True(t, cfg.FailOnThreshold)
	assert.Equal(t, 3, cfg.Sampling.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Sampling.Interval)
	assert.Equal(t, "/usr/bin/stress-ng", cfg.StressorBin)
	assert.Equal(t, []string{"--cpu", "4"}, cfg.StressorArgs)
	assert.Equal(t, "soak.txt", cfg.OutputFile)
	assert.Equal(t, "acme-test_plan", cfg.ExtensionName)
	assert.Equal(t, "test_7", cfg.ExtensionType)
	assert.NoError(t, cfg.Validate())
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	f, err := Parse("partial.cue", []byte(`threshold: 35`))
	require.NoError(t, err)

	cfg := diag.DefaultConfig()
	require.NoError(t, f.Apply(&cfg))

	want := diag.DefaultConfig()
	want.Threshold = 35
	assert.Equal(t, want, cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `colour: "red"`},
		{"negative samples", `samples: -1`},
		{"samples not int", `samples: 1.5`},
		{"wrong type", `threshold: "hot"`},
		{"empty name", `name: ""`},
		{"output path", `output_file: "../out.txt"`},
		{"bad interval", `interval: "5 parsecs"`},
		{"syntax", `threshold: `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)
			var ce *Error
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestParse_ErrorNamesField(t *testing.T) {
	_, err := Parse("pos.cue", []byte("name: \"x\"\nsamples: -3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samples")
}

func TestResolve(t *testing.T) {
	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, diag.DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "run.cue")
	require.NoError(t, os.WriteFile(path, []byte(`samples: 0`), 0o644))
	cfg, err = Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Sampling.Count)

	_, err = Resolve(filepath.Join(t.TempDir(), "missing.cue"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApply_NilFile(t *testing.T) {
	cfg := diag.DefaultConfig()
	var f *File
	require.NoError(t, f.Apply(&cfg))
	assert.Equal(t, diag.DefaultConfig(), cfg)
}
