// Package config holds the compiler options. They come from defaults,
// an optional YAML file and command line flags, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/irgen"
	"github.com/raymyers/ralph-x64/pkg/regalloc"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// Options controls one compilation.
type Options struct {
	// OptLevel 0 skips the optimizer passes; 1 runs DefaultPasses.
	OptLevel int `yaml:"opt"`
	// Passes replaces the pass list of the optimization level.
	Passes          []string `yaml:"passes"`
	IterationBudget int      `yaml:"iteration_budget"`
	VerifyEachPass  bool     `yaml:"verify_each_pass"`

	Debug bool `yaml:"debug"`
	PIC   bool `yaml:"pic"`
	Jobs  int  `yaml:"jobs"`

	JumpTableMinCases int     `yaml:"jump_table_min_cases"`
	JumpTableMaxSpan  int64   `yaml:"jump_table_max_span"`
	JumpTableDensity  float64 `yaml:"jump_table_density"`

	MaxAllocRounds int  `yaml:"max_alloc_rounds"`
	VerifyAlloc    bool `yaml:"verify_alloc"`
}

// Default returns the options of a plain -O1 compilation.
func Default() *Options {
	jt := irgen.DefaultOptions()
	return &Options{
		OptLevel:          1,
		IterationBudget:   ssa.DefaultBudget,
		Jobs:              runtime.NumCPU(),
		JumpTableMinCases: jt.JumpTableMinCases,
		JumpTableMaxSpan:  jt.JumpTableMaxSpan,
		JumpTableDensity:  jt.JumpTableDensity,
		MaxAllocRounds:    regalloc.DefaultMaxRounds,
	}
}

// PipelinePasses returns the optimizer passes to run.
func (o *Options) PipelinePasses() []string {
	switch {
	case len(o.Passes) > 0:
		return o.Passes
	case o.OptLevel == 0:
		return nil
	}
	return ssa.DefaultPasses
}

// Validate rejects inconsistent options.
func (o *Options) Validate() error {
	var errs []error
	if o.OptLevel < 0 || o.OptLevel > 1 {
		errs = append(errs, fmt.Errorf("optimization level %d not supported", o.OptLevel))
	}
	if o.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be at least 1, got %d", o.Jobs))
	}
	if o.IterationBudget < 1 {
		errs = append(errs, fmt.Errorf("iteration budget must be at least 1, got %d", o.IterationBudget))
	}
	if o.JumpTableDensity <= 0 || o.JumpTableDensity > 1 {
		errs = append(errs, fmt.Errorf("jump table density %g outside (0, 1]", o.JumpTableDensity))
	}
	if o.JumpTableMinCases < 1 {
		errs = append(errs, fmt.Errorf("jump table minimum cases must be at least 1, got %d", o.JumpTableMinCases))
	}
	if err := ssa.CheckPasses(o.Passes); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return diag.Userf(diag.Pos{}, "invalid options: %v", errors.Join(errs...))
	}
	return nil
}

// Load reads a YAML configuration file on top of the defaults. Unknown
// keys are rejected.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, diag.Input(path, err)
	}
	o, err := Parse(data)
	if err != nil {
		return nil, diag.Input(path, err)
	}
	return o, nil
}

// Parse decodes YAML configuration text on top of the defaults.
func Parse(data []byte) (*Options, error) {
	o := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return o, nil
}
