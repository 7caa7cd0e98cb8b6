package diag

import (
	"fmt"
	"os"

	"github.com/roach88/diagrun/internal/ir"
	"github.com/roach88/diagrun/internal/sampling"
)

// Defaults used when a Config field is left zero.
const (
	DefaultName          = "hello_world"
	DefaultVersion       = "1.0"
	DefaultThreshold     = 30.0
	DefaultOutputFile    = "stressor_output.txt"
	DefaultExtensionName = "mycompany-test_plan"
	DefaultExtensionType = "test_42"
)

// Config parameterizes one diagnostic run.
type Config struct {
	Name    string
	Version string
	DUT     ir.DUT

	// Threshold is the initial temperature above which Step A records a
	// high-temperature failure.
	Threshold float64
	// FailOnThreshold makes a threshold breach turn the run result to Fail.
	// By default the breach is only recorded as a Fail diagnosis.
	FailOnThreshold bool

	Sampling sampling.Config

	// StressorBin is the external stress binary Step A runs. Empty skips it.
	StressorBin  string
	StressorArgs []string

	OutputFile    string
	ExtensionName string
	ExtensionType string
}

// DefaultConfig returns the built-in diagnostic parameters. The DUT id is
// the host name.
func DefaultConfig() Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Config{
		Name:          DefaultName,
		Version:       DefaultVersion,
		DUT:           ir.DUT{ID: host},
		Threshold:     DefaultThreshold,
		Sampling:      sampling.DefaultConfig(),
		OutputFile:    DefaultOutputFile,
		ExtensionName: DefaultExtensionName,
		ExtensionType: DefaultExtensionType,
	}
}

// Validate checks the config can drive a run.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("run name is required")
	}
	if c.DUT.ID == "" {
		return fmt.Errorf("dut id is required")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file name is required")
	}
	if err := c.Sampling.Validate(); err != nil {
		return err
	}
	return nil
}
