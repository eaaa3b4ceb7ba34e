package regalloc

import (
	"errors"
	"strconv"
	"testing"

	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/irgen"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/selection"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

type program struct {
	funcs map[string]*ssa.Func
	abi   *abi.Cache
}

func compile(t *testing.T, src string) program {
	t.Helper()
	return compileWith(t, src, false)
}

// compileWith selects the functions of src; debug keeps the values of
// named variables.
func compileWith(t *testing.T, src string, debug bool) program {
	t.Helper()
	prog, err := ast.DecodeYAML([]byte(src), nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, err := irgen.BuildProgram(prog, irgen.DefaultOptions())
	if err != nil {
		t.Fatalf("irgen: %v", err)
	}
	funcs, err := ssa.BuildModule(m)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := program{funcs: make(map[string]*ssa.Func), abi: abi.NewCache(m.Types)}
	env := &selection.Env{ABI: p.abi, Defined: m.IsDefined}
	for _, f := range funcs {
		f.Debug = debug
		pipe := &ssa.Pipeline{Passes: ssa.DefaultPasses}
		if err := pipe.Run(f); err != nil {
			t.Fatalf("optimize %s: %v", f.Name, err)
		}
		if err := selection.Func(f, env); err != nil {
			t.Fatalf("select %s: %v", f.Name, err)
		}
		p.funcs[f.Name] = f
	}
	return p
}

// selected returns the functions of src ready for allocation.
func selected(t *testing.T, src string) map[string]*ssa.Func {
	t.Helper()
	return compile(t, src).funcs
}

// allocate runs the allocator with verification on every function.
func allocate(t *testing.T, src string, opts Options) map[string]*Result {
	t.Helper()
	p := compile(t, src)
	opts.Verify = true
	out := make(map[string]*Result)
	for name, f := range p.funcs {
		info, err := p.abi.Func(f.Type)
		if err != nil {
			t.Fatal(err)
		}
		res, err := Allocate(f, info, opts)
		if err != nil {
			t.Fatalf("allocate %s: %v", name, err)
		}
		out[name] = res
	}
	return out
}

// ltlInstrs returns the allocated instructions with the given opcode.
func ltlInstrs(fn *ltl.Function, op ir.Opcode) []*ltl.Instr {
	var out []*ltl.Instr
	for _, b := range fn.LiveBlocks() {
		for i := range b.Instrs {
			if b.Instrs[i].Op == op {
				out = append(out, &b.Instrs[i])
			}
		}
	}
	return out
}

func TestAllocateLoops(t *testing.T) {
	res := allocate(t, loopSrc, Options{})
	for name, r := range res {
		t.Run(name, func(t *testing.T) {
			if r.Spilled != 0 || len(r.Func.Spills) != 0 {
				t.Errorf("%d values spilled in a small loop", r.Spilled)
			}
			if r.Rounds != 1 {
				t.Errorf("%d rounds, want 1", r.Rounds)
			}
			if cs := r.Func.CalleeSavedUsed(); cs != 0 {
				t.Errorf("leaf function uses callee-saved %v", cs.Regs())
			}
			for _, b := range r.Func.LiveBlocks() {
				for _, in := range b.Instrs {
					if in.Op == ir.OpPhi || in.Op == ir.OpParam || in.Op == ir.OpTemp {
						t.Errorf("b%d: %s survives allocation", b.ID, in.Op)
					}
					if in.Op == ir.OpCopy && in.Dst == in.Args[0] {
						t.Errorf("b%d: self copy of %%%s", b.ID, in.Dst)
					}
				}
			}
		})
	}
}

func TestAllocateCalls(t *testing.T) {
	res := allocate(t, `
decls:
  - {name: g, type: "long(long)"}
  - {name: dg, type: "double(double)"}
functions:
  - name: keep
    returns: long
    params: [{name: x, type: long}]
    body:
      - return: {add: [{call: g, args: [x]}, x]}
  - name: keepf
    returns: double
    params: [{name: d, type: double}]
    body:
      - return: {add: [{call: dg, args: [d]}, d]}
`, Options{})

	t.Run("integer value lives in a callee-saved register", func(t *testing.T) {
		r := res["keep"]
		if len(r.Func.Spills) != 0 {
			t.Errorf("%d spill slots, want none", len(r.Func.Spills))
		}
		if r.Func.CalleeSavedUsed() == 0 {
			t.Error("x survives the call without a callee-saved register")
		}
		call := ltlInstrs(r.Func, ir.OpCall)
		if len(call) != 1 || call[0].Dst != ltl.RAX {
			t.Fatalf("call result not in rax: %+v", call)
		}
		if len(call[0].Args) != 1 || call[0].Args[0] != ltl.RDI {
			t.Errorf("call argument in %v, want rdi", call[0].Args)
		}
	})

	t.Run("vector value is spilled", func(t *testing.T) {
		r := res["keepf"]
		if len(r.Func.Spills) != 1 || r.Func.Spills[0] != ir.F64 {
			t.Fatalf("spill slots %v, want one f64", r.Func.Spills)
		}
		if len(ltlInstrs(r.Func, ir.OpSpill)) != 1 || len(ltlInstrs(r.Func, ir.OpReload)) == 0 {
			t.Error("expected one store and at least one reload of d")
		}
	})
}

func TestAllocateUnderPressure(t *testing.T) {
	src := pressureSrc(17)
	res := allocate(t, src, Options{})
	r := res["wide"]
	if r.Spilled == 0 || len(r.Func.Spills) == 0 {
		t.Fatal("seventeen simultaneously live values fit in fourteen registers")
	}
	if r.Rounds < 2 {
		t.Errorf("%d rounds, want a rewrite round", r.Rounds)
	}

	_, err := func() (*Result, error) {
		p := compile(t, src)
		f := p.funcs["wide"]
		info, err := p.abi.Func(f.Type)
		if err != nil {
			t.Fatal(err)
		}
		return Allocate(f, info, Options{MaxRounds: 1})
	}()
	if !errors.Is(err, diag.ErrRegisterPressure) {
		t.Errorf("one round: got %v, want register pressure", err)
	}
	if diag.ClassOf(err) != diag.User {
		t.Errorf("register pressure class = %v, want user error", diag.ClassOf(err))
	}
}

// pressureSrc builds a function that reads n array elements into
// locals and only then sums them, so all n are live together.
func pressureSrc(n int) string {
	src := `
functions:
  - name: wide
    returns: long
    params: [{name: p, type: "long*"}]
    body:
`
	sum := "0"
	for i := 0; i < n; i++ {
		v := "v" + strconv.Itoa(i)
		src += "      - {decl: " + v + ", type: long, init: {index: [p, " + strconv.Itoa(i) + "]}}\n"
		sum = "{add: [" + v + ", " + sum + "]}"
	}
	return src + "      - return: " + sum + "\n"
}

func TestAllocateDivision(t *testing.T) {
	res := allocate(t, `
functions:
  - name: divmod
    returns: long
    params: [{name: a, type: long}, {name: b, type: long}]
    body:
      - return: {add: [{div: [a, b]}, {mod: [a, b]}]}
`, Options{})
	fn := res["divmod"].Func
	for _, op := range []ir.Opcode{ir.OpSDiv, ir.OpSRem} {
		ins := ltlInstrs(fn, op)
		if len(ins) != 1 {
			t.Fatalf("%d %s instructions", len(ins), op)
		}
		in := ins[0]
		if in.Args[0] != ltl.RAX {
			t.Errorf("%s dividend in %%%s, want rax", op, in.Args[0])
		}
		if in.Args[1] == ltl.RAX || in.Args[1] == ltl.RDX {
			t.Errorf("%s divisor in %%%s, which the instruction overwrites", op, in.Args[1])
		}
	}
}

func TestAllocateInlineAsm(t *testing.T) {
	res := allocate(t, `
functions:
  - name: bump
    returns: int
    params: [{name: x, type: int}]
    body:
      - {decl: r, type: int}
      - asm: "incl %0"
        outputs: [{constraint: "=a", expr: r}]
        inputs: [{constraint: "0", expr: x}]
      - return: r
  - name: pair
    returns: long
    params: [{name: x, type: long}, {name: y, type: long}]
    body:
      - {decl: a, type: long}
      - {decl: b, type: long}
      - asm: "mov %2, %0; add %3, %0; mov %3, %1"
        outputs: [{constraint: "=&r", expr: a}, {constraint: "=r", expr: b}]
        inputs: [{constraint: "r", expr: x}, {constraint: "r", expr: y}]
      - return: {sub: [a, b]}
  - name: saves
    returns: long
    params: [{name: x, type: long}]
    body:
      - asm: "xor %%ebx, %%ebx"
        clobbers: [rbx]
        volatile: true
      - return: x
`, Options{})

	t.Run("tied operand shares the output register", func(t *testing.T) {
		in := ltlInstrs(res["bump"].Func, ir.OpInlineAsm)[0]
		if len(in.Args) != 1 || in.Args[0] != ltl.RAX || len(in.Results) != 1 || in.Results[0] != ltl.RAX {
			t.Errorf("asm args %v results %v, want rax for both", in.Args, in.Results)
		}
	})

	t.Run("distinct operands get distinct registers", func(t *testing.T) {
		in := ltlInstrs(res["pair"].Func, ir.OpInlineAsm)[0]
		if len(in.Results) != 2 || len(in.Args) != 2 {
			t.Fatalf("asm args %v results %v", in.Args, in.Results)
		}
		a, b := in.Results[0], in.Results[1]
		if a == b {
			t.Errorf("both outputs in %%%s", a)
		}
		if a == in.Args[0] || a == in.Args[1] {
			t.Errorf("early-clobber output %%%s shares an input register %v", a, in.Args)
		}
		if in.Args[0] == in.Args[1] {
			t.Errorf("inputs x and y share %%%s", in.Args[0])
		}
	})

	t.Run("clobbered callee-saved register is saved", func(t *testing.T) {
		fn := res["saves"].Func
		if !fn.CalleeSavedUsed().Has(ltl.RBX) {
			t.Errorf("callee-saved %v, want rbx", fn.CalleeSavedUsed().Regs())
		}
		in := ltlInstrs(fn, ir.OpInlineAsm)[0]
		if in.Clobbers != ltl.MaskOf(ltl.RBX) {
			t.Errorf("clobbers %v", in.Clobbers.Regs())
		}
	})
}

func TestAsmConstraintConflicts(t *testing.T) {
	p := compile(t, `
functions:
  - name: clash
    params: [{name: x, type: long}]
    body:
      - asm: "nop"
        inputs: [{constraint: "a", expr: x}]
        clobbers: [rax]
`)
	f := p.funcs["clash"]
	info, err := p.abi.Func(f.Type)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Allocate(f, info, Options{})
	if err == nil || diag.ClassOf(err) != diag.User {
		t.Errorf("got %v, want a user error", err)
	}
}

func TestAllocateRequiresSelectedFunction(t *testing.T) {
	f := &ssa.Func{Name: "f", State: ssa.Allocatable}
	if _, err := Allocate(f, nil, Options{}); !errors.Is(err, diag.ErrInternal) {
		t.Errorf("got %v, want an internal error", err)
	}
}

func TestSegments(t *testing.T) {
	p := compile(t, loopSrc)
	f := p.funcs["sumsq"]
	info, err := p.abi.Func(f.Type)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Allocate(f, info, Options{Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Type == ir.Void || in.Op == ir.OpNop {
				continue
			}
			v := id
			segs := res.Locs[v]
			if len(segs) == 0 {
				t.Errorf("v%d (%s) has no location", id, in.Op)
				continue
			}
			for _, s := range segs {
				n := len(res.Func.Blocks[s.Block].Instrs)
				if s.Start < 0 || s.Start >= s.End || s.End > n {
					t.Errorf("v%d: segment [%d,%d) outside b%d of %d instructions", v, s.Start, s.End, s.Block, n)
				}
				if _, ok := s.Loc.(ltl.R); !ok {
					t.Errorf("v%d: location %s, want a register", v, s.Loc)
				}
			}
		}
	}
}

func TestIteratedCoalescing(t *testing.T) {
	gp := func(g *InterferenceGraph, vs ...int) {
		for _, v := range vs {
			g.AddNode(v, ltl.ClassGP)
		}
	}
	unit := func(int) float64 { return 1 }

	t.Run("move partners share a register", func(t *testing.T) {
		g := NewInterferenceGraph()
		gp(g, 1, 2, 3)
		g.AddPreference(1, 2)
		g.AddEdge(1, 3)
		colors, spilled := NewAllocator(g, ltl.ClassGP, unit).Allocate()
		if len(spilled) != 0 || colors[1] != colors[2] || colors[1] == colors[3] {
			t.Errorf("colors %v spilled %v", colors, spilled.Slice())
		}
	})

	t.Run("precolored partner", func(t *testing.T) {
		g := NewInterferenceGraph()
		gp(g, 1, 2)
		g.Fixed[1] = ltl.RDI
		g.AddPreference(1, 2)
		colors, _ := NewAllocator(g, ltl.ClassGP, unit).Allocate()
		if colors[2] != ltl.RDI {
			t.Errorf("v2 in %%%s, want rdi", colors[2])
		}
	})

	t.Run("forbidden registers", func(t *testing.T) {
		g := NewInterferenceGraph()
		gp(g, 1)
		g.Forbid[1] = ltl.CallerSaved
		colors, _ := NewAllocator(g, ltl.ClassGP, unit).Allocate()
		if !ltl.CalleeSaved.Has(colors[1]) {
			t.Errorf("v1 in %%%s across a call", colors[1])
		}
	})

	t.Run("clique larger than the register file", func(t *testing.T) {
		g := NewInterferenceGraph()
		n := len(AllocatableGP) + 1
		for i := 1; i <= n; i++ {
			gp(g, i)
			for j := 1; j < i; j++ {
				g.AddEdge(i, j)
			}
		}
		cost := func(v int) float64 { return float64(100 - v) }
		colors, spilled := NewAllocator(g, ltl.ClassGP, cost).Allocate()
		if len(spilled) != 1 {
			t.Fatalf("spilled %v, want exactly one", spilled.Slice())
		}
		seen := make(map[ltl.MReg]int)
		for v, r := range colors {
			if spilled.Contains(v) {
				continue
			}
			if u, dup := seen[r]; dup {
				t.Errorf("v%d and v%d both in %%%s", u, v, r)
			}
			seen[r] = v
		}
	})
}
