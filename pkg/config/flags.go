package config

import (
	"github.com/spf13/pflag"
)

// Flags binds command line flags to a set of options. Only the flags the
// user sets override a configuration file.
type Flags struct {
	fs   *pflag.FlagSet
	vals *Options
}

// BindFlags registers the compiler flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs, vals: d}
	fs.IntVarP(&d.OptLevel, "opt", "O", d.OptLevel, "optimization level (0 or 1)")
	fs.StringSliceVar(&d.Passes, "passes", nil, "optimizer passes to run instead of the level's list")
	fs.IntVar(&d.IterationBudget, "budget", d.IterationBudget, "maximum rounds over the pass list")
	fs.BoolVar(&d.VerifyEachPass, "verify-passes", false, "verify the SSA form after every pass")
	fs.BoolVarP(&d.Debug, "debug", "g", false, "emit line directives and variable locations")
	fs.BoolVar(&d.PIC, "fpic", false, "generate position-independent code")
	fs.IntVarP(&d.Jobs, "jobs", "j", d.Jobs, "functions compiled in parallel")
	fs.IntVar(&d.JumpTableMinCases, "jump-table-min-cases", d.JumpTableMinCases, "case labels needed for a jump table")
	fs.Float64Var(&d.JumpTableDensity, "jump-table-density", d.JumpTableDensity, "fraction of a switch range that must have cases")
	fs.IntVar(&d.MaxAllocRounds, "max-alloc-rounds", d.MaxAllocRounds, "register allocation spill rounds")
	fs.BoolVar(&d.VerifyAlloc, "verify-alloc", false, "check the register assignment against all constraints")
	return f
}

var overrides = map[string]func(dst, src *Options){
	"opt":                  func(d, s *Options) { d.OptLevel = s.OptLevel },
	"passes":               func(d, s *Options) { d.Passes = s.Passes },
	"budget":               func(d, s *Options) { d.IterationBudget = s.IterationBudget },
	"verify-passes":        func(d, s *Options) { d.VerifyEachPass = s.VerifyEachPass },
	"debug":                func(d, s *Options) { d.Debug = s.Debug },
	"fpic":                 func(d, s *Options) { d.PIC = s.PIC },
	"jobs":                 func(d, s *Options) { d.Jobs = s.Jobs },
	"jump-table-min-cases": func(d, s *Options) { d.JumpTableMinCases = s.JumpTableMinCases },
	"jump-table-density":   func(d, s *Options) { d.JumpTableDensity = s.JumpTableDensity },
	"max-alloc-rounds":     func(d, s *Options) { d.MaxAllocRounds = s.MaxAllocRounds },
	"verify-alloc":         func(d, s *Options) { d.VerifyAlloc = s.VerifyAlloc },
}

// Resolve merges the defaults, the file at path when not empty and the
// flags set on the command line, and validates the result.
func (f *Flags) Resolve(path string) (*Options, error) {
	o := Default()
	if path != "" {
		var err error
		if o, err = Load(path); err != nil {
			return nil, err
		}
	}
	f.fs.Visit(func(fl *pflag.Flag) {
		if set, ok := overrides[fl.Name]; ok {
			set(o, f.vals)
		}
	})
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
