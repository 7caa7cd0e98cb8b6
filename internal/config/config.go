// Package config loads diagnostic run configuration from CUE files.
//
// A config file is unified with the embedded #Config schema, so unknown
// fields and type mismatches are rejected with their source position.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/diagrun/internal/diag"
)

//go:embed schema.cue
var schemaSource string

// File is the decoded content of a config file. Nil fields were not set.
type File struct {
	Name            *string    `json:"name"`
	Version         *string    `json:"version"`
	DUT             *DUT       `json:"dut"`
	Threshold       *float64   `json:"threshold"`
	FailOnThreshold *bool      `json:"fail_on_threshold"`
	Samples         *int       `json:"samples"`
	Interval        *string    `json:"interval"`
	Stressor        *Stressor  `json:"stressor"`
	OutputFile      *string    `json:"output_file"`
	Extension       *Extension `json:"extension"`
}

// DUT overrides the device under test.
type DUT struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

// Stressor configures the external stress binary.
type Stressor struct {
	Bin  *string  `json:"bin"`
	Args []string `json:"args"`
}

// Extension overrides the vendor extension attached to step B.
type Extension struct {
	Name *string `json:"name"`
	Type *string `json:"type"`
}

// Error is an invalid config, with the CUE source position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and validates a CUE config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates CUE source against the schema and decodes it.
func Parse(filename string, src []byte) (*File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var f File
	if err := unified.Decode(&f); err != nil {
		return nil, formatCUEError(err)
	}
	if f.Interval != nil {
		if _, err := time.ParseDuration(*f.Interval); err != nil {
			return nil, &Error{Field: "interval", Message: err.Error(), Pos: unified.LookupPath(cue.ParsePath("interval")).Pos()}
		}
	}
	return &f, nil
}

// Apply overlays the set fields of f onto cfg.
func (f *File) Apply(cfg *diag.Config) error {
	if f == nil {
		return nil
	}
	setString(&cfg.Name, f.Name)
	setString(&cfg.Version, f.Version)
	if f.DUT != nil {
		setString(&cfg.DUT.ID, f.DUT.ID)
		setString(&cfg.DUT.Name, f.DUT.Name)
	}
	if f.Threshold != nil {
		cfg.Threshold = *f.Threshold
	}
	if f.FailOnThreshold != nil {
		cfg.FailOnThreshold = *f.FailOnThreshold
	}
	if f.Samples != nil {
		cfg.Sampling.Count = *f.Samples
	}
	if f.Interval != nil {
		d, err := time.ParseDuration(*f.Interval)
		if err != nil {
			return &Error{Field: "interval", Message: err.Error()}
		}
		cfg.Sampling.Interval = d
	}
	if f.Stressor != nil {
		setString(&cfg.StressorBin, f.Stressor.Bin)
		if f.Stressor.Args != nil {
			cfg.StressorArgs = append([]string(nil), f.Stressor.Args...)
		}
	}
	setString(&cfg.OutputFile, f.OutputFile)
	if f.Extension != nil {
		setString(&cfg.ExtensionName, f.Extension.Name)
		setString(&cfg.ExtensionType, f.Extension.Type)
	}
	return nil
}

// Resolve returns the default config with path's overrides applied. An empty
// path yields the defaults.
func Resolve(path string) (diag.Config, error) {
	cfg := diag.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := f.Apply(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}
