// Package compiler runs the whole backend on one translation unit: IR
// building, then per function the optimizer, instruction selection,
// register allocation and code emission, then the assembly program.
//
// After IR building the functions are independent. They are compiled
// concurrently, sharing only the read-only type registry and the ABI
// cache, and collected in source order so the output is deterministic.
package compiler

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/asmgen"
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/config"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/irgen"
	"github.com/raymyers/ralph-x64/pkg/linearize"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/regalloc"
	"github.com/raymyers/ralph-x64/pkg/selection"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// Context hands out numbers that are unique within a compilation, for
// synthesized symbols and local labels.
type Context struct {
	ids atomic.Int64
}

// NextID returns a fresh number.
func (c *Context) NextID() int64 { return c.ids.Add(1) }

// Dumps receives intermediate forms. Nil writers are skipped.
type Dumps struct {
	IR  io.Writer // generic IR of the unit
	SSA io.Writer // optimized SSA, per function
	LTL io.Writer // allocated code, per function
}

// Compiler compiles translation units.
type Compiler struct {
	Options *config.Options
	Ctx     *Context
	Dumps   Dumps
	// Logf, when set, is told about every pipeline step. It may be called
	// from several goroutines, one at a time.
	Logf func(format string, args ...any)

	logMu sync.Mutex
}

// New creates a compiler with its own Context.
func New(opts *config.Options) *Compiler {
	return &Compiler{Options: opts, Ctx: &Context{}}
}

// Unit is a compiled translation unit.
type Unit struct {
	Program *asm.Program
	// Allocations holds the allocator result of each function, in
	// source order.
	Allocations []*regalloc.Result
}

func (c *Compiler) logf(format string, args ...any) {
	if c.Logf == nil {
		return
	}
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.Logf(format, args...)
}

// CompileYAML decodes a translation unit written as YAML and compiles it.
func (c *Compiler) CompileYAML(data []byte) (*Unit, error) {
	prog, err := ast.DecodeYAML(data, ctypes.NewRegistry())
	if err != nil {
		return nil, err
	}
	return c.Compile(prog)
}

// Compile compiles a decoded translation unit. Either the whole unit
// succeeds or an error is returned; the first failing function in source
// order determines the error.
func (c *Compiler) Compile(prog *ast.Program) (*Unit, error) {
	opts := c.Options
	if opts == nil {
		opts = config.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if c.Ctx == nil {
		c.Ctx = &Context{}
	}

	mod, err := irgen.BuildProgram(prog, irgen.Options{
		IDs:               c.Ctx,
		JumpTableMinCases: opts.JumpTableMinCases,
		JumpTableMaxSpan:  opts.JumpTableMaxSpan,
		JumpTableDensity:  opts.JumpTableDensity,
	})
	if err != nil {
		return nil, err
	}
	c.logf("irgen: %d functions, %d globals", len(mod.Functions), len(mod.Globals))
	if c.Dumps.IR != nil {
		ir.NewPrinter(c.Dumps.IR).PrintModule(mod)
	}
	funcs, err := ssa.BuildModule(mod)
	if err != nil {
		return nil, err
	}

	env := &selection.Env{
		ABI:         abi.NewCache(mod.Types),
		PIC:         opts.PIC,
		Defined:     mod.IsDefined,
		ThreadLocal: mod.IsThreadLocal,
	}
	jobs := make([]*job, len(funcs))
	for i, f := range funcs {
		// IDs are assigned up front so label names do not depend on
		// scheduling
		jobs[i] = &job{f: f, id: int(c.Ctx.NextID())}
	}

	// every function runs even after a failure, so the reported error
	// does not depend on scheduling
	var g errgroup.Group
	g.SetLimit(max(opts.Jobs, 1))
	for _, j := range jobs {
		g.Go(func() error {
			j.err = c.function(j, env, mod, opts)
			return nil
		})
	}
	_ = g.Wait()

	unit := &Unit{}
	outs := make([]*asmgen.Output, 0, len(jobs))
	for _, j := range jobs {
		if j.err != nil {
			return nil, j.err
		}
		c.writeDump(c.Dumps.SSA, &j.ssaDump)
		c.writeDump(c.Dumps.LTL, &j.ltlDump)
		outs = append(outs, j.out)
		unit.Allocations = append(unit.Allocations, j.alloc)
	}
	unit.Program, err = asmgen.TransformProgram(mod, outs, opts.Debug)
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func (c *Compiler) writeDump(w io.Writer, buf *bytes.Buffer) {
	if w != nil {
		_, _ = buf.WriteTo(w)
	}
}

// job is the backend work for one function.
type job struct {
	f  *ssa.Func
	id int

	out     *asmgen.Output
	alloc   *regalloc.Result
	err     error
	ssaDump bytes.Buffer
	ltlDump bytes.Buffer
}

// function runs the per-function backend.
func (c *Compiler) function(j *job, env *selection.Env, mod *ir.Module, opts *config.Options) error {
	f := j.f
	f.Debug = opts.Debug
	pipe := &ssa.Pipeline{
		Passes:         opts.PipelinePasses(),
		Budget:         opts.IterationBudget,
		VerifyEachPass: opts.VerifyEachPass,
	}
	if c.Logf != nil {
		pipe.Log = func(fn, pass string, changed bool) {
			c.logf("ssa: %s: %s changed=%v", fn, pass, changed)
		}
	}
	if err := pipe.Run(f); err != nil {
		return diag.InFunc(err, f.Name)
	}
	if c.Dumps.SSA != nil {
		ssa.NewPrinter(&j.ssaDump).PrintFunc(f)
	}

	if err := selection.Func(f, env); err != nil {
		return diag.InFunc(err, f.Name)
	}
	info, err := env.ABI.Func(f.Type)
	if err != nil {
		return diag.InFunc(err, f.Name)
	}
	res, err := regalloc.Allocate(f, info, regalloc.Options{MaxRounds: opts.MaxAllocRounds, Verify: opts.VerifyAlloc})
	if err != nil {
		return diag.InFunc(err, f.Name)
	}
	c.logf("regalloc: %s: %d rounds, %d spilled, %d spill slots", f.Name, res.Rounds, res.Spilled, len(res.Func.Spills))
	if c.Dumps.LTL != nil {
		ltl.NewPrinter(&j.ltlDump).PrintFunction(res.Func)
	}

	lin := linearize.Function(res.Func)
	out, err := asmgen.TransformFunction(lin, asmgen.Options{
		ID:          j.id,
		PIC:         opts.PIC,
		Defined:     mod.IsDefined,
		ThreadLocal: mod.IsThreadLocal,
		Debug:       opts.Debug,
	})
	if err != nil {
		return diag.InFunc(err, f.Name)
	}
	c.logf("asmgen: %s: %d lines", f.Name, len(out.Func.Lines))
	j.out, j.alloc = out, res
	return nil
}

// WriteAssembly prints a compiled unit as assembler input.
func WriteAssembly(w io.Writer, u *Unit) error {
	var buf bytes.Buffer
	asm.NewPrinter(&buf).PrintProgram(u.Program)
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("writing assembly: %w", err)
	}
	return nil
}
