package ssa

import (
	"errors"
	"sort"

	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/diag"
)

// PassFunc rewrites a function in SSA form and reports whether it
// changed anything.
type PassFunc func(*Func) bool

var registry = map[string]PassFunc{
	"mem2reg":  mem2reg,
	"dce":      dce,
	"branch":   simplifyBranches,
	"licm":     licm,
	"fuse":     fuse,
	"bitext":   bitext,
	"peephole": peephole,
}

// DefaultPasses is the -O1 pass order.
var DefaultPasses = []string{"mem2reg", "peephole", "bitext", "branch", "licm", "fuse", "dce"}

// DefaultBudget bounds the number of rounds over the pass list.
const DefaultBudget = 4

// PassNames lists the registered passes in alphabetical order.
func PassNames() []string {
	names := lo.Keys(registry)
	sort.Strings(names)
	return names
}

// CheckPasses rejects unknown pass names.
func CheckPasses(names []string) error {
	for _, n := range names {
		if _, ok := registry[n]; !ok {
			return diag.Userf(diag.Pos{}, "unknown pass %q (known: %v)", n, PassNames())
		}
	}
	return nil
}

// Pipeline runs a list of passes to a fixpoint or until Budget rounds
// are spent. dce follows every pass that changed the function.
type Pipeline struct {
	Passes         []string
	Budget         int
	VerifyEachPass bool
	// Log, when set, is told about every pass application.
	Log func(fn, pass string, changed bool)
}

// Run takes a Built or SSAConstructed function to Allocatable.
func (p *Pipeline) Run(f *Func) (err error) {
	defer diag.Recover(&err)
	if err := CheckPasses(p.Passes); err != nil {
		return err
	}
	if f.State == Built {
		if err := f.Construct(lo.Contains(p.Passes, "mem2reg")); err != nil {
			return err
		}
		if err := p.verify(f, "construct"); err != nil {
			return err
		}
	}
	if f.State != SSAConstructed {
		return diag.Internalf(f.Name, -1, "optimizer run on a function in state %s", f.State)
	}
	budget := p.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	for round := 0; round < budget; round++ {
		changed := false
		for _, name := range p.Passes {
			if !p.apply(f, name) {
				continue
			}
			changed = true
			if err := p.verify(f, name); err != nil {
				return err
			}
			if name != "dce" && p.apply(f, "dce") {
				if err := p.verify(f, "dce"); err != nil {
					return err
				}
			}
		}
		if !changed {
			break
		}
	}
	if err := Verify(f); err != nil {
		return err
	}
	f.State = Allocatable
	return nil
}

func (p *Pipeline) apply(f *Func, name string) bool {
	changed := registry[name](f)
	if changed {
		f.InvalidateDom()
	}
	if p.Log != nil {
		p.Log(f.Name, name, changed)
	}
	return changed
}

func (p *Pipeline) verify(f *Func, after string) error {
	if !p.VerifyEachPass {
		return nil
	}
	err := Verify(f)
	var e *diag.Error
	if errors.As(err, &e) {
		c := *e
		c.Msg = "after " + after + ": " + c.Msg
		return &c
	}
	return err
}

// RunPass applies one named pass to a function in SSA form.
func RunPass(f *Func, name string) (changed bool, err error) {
	defer diag.Recover(&err)
	fn, ok := registry[name]
	if !ok {
		return false, CheckPasses([]string{name})
	}
	if f.State != SSAConstructed {
		return false, diag.Internalf(f.Name, -1, "pass %s run on a function in state %s", name, f.State)
	}
	changed = fn(f)
	if changed {
		f.InvalidateDom()
	}
	return changed, nil
}
