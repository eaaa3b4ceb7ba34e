package ssa

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

func countOps(f *Func, op ir.Opcode) int {
	n := 0
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			if f.Instrs[id].Op == op {
				n++
			}
		}
	}
	return n
}

func findFunc(t *testing.T, funcs []*Func, name string) *Func {
	t.Helper()
	for _, f := range funcs {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no function %q", name)
	return nil
}

func optimized(t *testing.T, src, name string, passes ...string) *Func {
	t.Helper()
	_, funcs := lower(t, src)
	f := findFunc(t, funcs, name)
	pipe := &Pipeline{Passes: passes, VerifyEachPass: true}
	if err := pipe.Run(f); err != nil {
		t.Fatalf("%v: %v", passes, err)
	}
	return f
}

func dump(f *Func) string {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintFunc(f)
	return buf.String()
}

// handBuilt assembles a one-parameter int function from generic IR.
func handBuilt(t *testing.T, emit func(fn *ir.Function, x ir.Ref)) *Func {
	t.Helper()
	fn := &ir.Function{Name: "h", Type: ctypes.Func(ctypes.Int(), false, ctypes.Int())}
	x := fn.Emit(ir.Instr{Op: ir.OpParam, Type: ir.I32})
	emit(fn, x)
	if err := ir.Verify(fn); err != nil {
		t.Fatalf("ir: %v", err)
	}
	f, err := Build(fn)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := f.Construct(true); err != nil {
		t.Fatalf("construct: %v", err)
	}
	return f
}

func evalOne(t *testing.T, f *Func, arg int64) int64 {
	t.Helper()
	m := machine(t, NewProgram(nil, []*Func{f}))
	r, err := m.Call(f.Name, uint64(arg))
	if err != nil {
		t.Fatal(err)
	}
	return int64(int32(r))
}

func mustRun(t *testing.T, f *Func, passes ...string) {
	t.Helper()
	for _, p := range passes {
		if _, err := RunPass(f, p); err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if err := Verify(f); err != nil {
			t.Fatalf("after %s: %v", p, err)
		}
	}
}

func TestMem2RegPromotesScalars(t *testing.T) {
	f := optimized(t, corpus[0].src, "sumsq", "mem2reg")
	if n := countOps(f, ir.OpLoad) + countOps(f, ir.OpStore); n != 0 {
		t.Errorf("%d loads and stores survived promotion:\n%s", n, dump(f))
	}
	if n := countOps(f, ir.OpPhi); n < 2 {
		t.Errorf("loop has %d phis, want one for s and one for i:\n%s", n, dump(f))
	}
	if len(f.Locals) == 0 {
		t.Fatal("slots were dropped from the frame table")
	}
}

func TestMem2RegKeepsEscapingSlots(t *testing.T) {
	src := `
decls:
  - {name: sink, type: "void(int*)"}
functions:
  - name: escape
    returns: int
    body:
      - {decl: x, type: int, init: 1}
      - expr: {call: sink, args: [{addr: x}]}
      - return: x
`
	f := optimized(t, src, "escape", "mem2reg")
	if countOps(f, ir.OpLoad) == 0 {
		t.Errorf("the load of an address-taken variable was promoted:\n%s", dump(f))
	}
}

func TestLICMHoistsInvariantProduct(t *testing.T) {
	src := `
functions:
  - name: scale
    returns: long
    params: [{name: n, type: long}, {name: a, type: long}, {name: b, type: long}]
    body:
      - {decl: s, type: long, init: 0}
      - while: {gt: [n, 0]}
        body:
          - expr: {add_assign: [s, {mul: [a, b]}]}
          - expr: {postdec: n}
      - return: s
`
	f := optimized(t, src, "scale", "mem2reg", "licm")
	depth := f.LoopDepth()
	found := false
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			if f.Instrs[id].Op != ir.OpMul {
				continue
			}
			found = true
			if depth[b.ID] != 0 {
				t.Errorf("product of invariants still in loop block b%d:\n%s", b.ID, dump(f))
			}
		}
	}
	if !found {
		t.Fatalf("no multiplication left:\n%s", dump(f))
	}
}

func TestFuseCompareAndBranch(t *testing.T) {
	f := optimized(t, corpus[5].src, "fib", "mem2reg", "fuse")
	if countOps(f, ir.OpCmpBranch) == 0 || countOps(f, ir.OpBranch) != 0 {
		t.Errorf("compare and branch were not fused:\n%s", dump(f))
	}
}

func TestBitextCollapsesExtensions(t *testing.T) {
	f := handBuilt(t, func(fn *ir.Function, x ir.Ref) {
		a := fn.Emit(ir.Instr{Op: ir.OpSExt, Type: ir.I32, Args: []ir.Ref{x}, Payload: ir.Payload{Width: 8}})
		b := fn.Emit(ir.Instr{Op: ir.OpSExt, Type: ir.I32, Args: []ir.Ref{a}, Payload: ir.Payload{Width: 8}})
		c := fn.Emit(ir.Instr{Op: ir.OpZExt, Type: ir.I32, Args: []ir.Ref{b}, Payload: ir.Payload{Width: 16}})
		fn.Emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{c}})
	})
	want := evalOne(t, f, 0x1ff)
	mustRun(t, f, "bitext", "dce")
	if n := countOps(f, ir.OpSExt); n != 1 {
		t.Errorf("sign extensions = %d, want 1:\n%s", n, dump(f))
	}
	if got := evalOne(t, f, 0x1ff); got != want || want != 0xffff {
		t.Errorf("result = %#x, want %#x", got, 0xffff)
	}
}

func TestPeepholeStrengthReduction(t *testing.T) {
	f := handBuilt(t, func(fn *ir.Function, x ir.Ref) {
		eight := fn.Emit(ir.Instr{Op: ir.OpIntConst, Type: ir.I32, Payload: ir.Payload{Imm: 8}})
		m := fn.Emit(ir.Instr{Op: ir.OpMul, Type: ir.I32, Args: []ir.Ref{eight, x}})
		z := fn.Emit(ir.Instr{Op: ir.OpSub, Type: ir.I32, Args: []ir.Ref{x, x}})
		r := fn.Emit(ir.Instr{Op: ir.OpOr, Type: ir.I32, Args: []ir.Ref{m, z}})
		fn.Emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{r}})
	})
	mustRun(t, f, "peephole", "dce")
	if countOps(f, ir.OpMul) != 0 || countOps(f, ir.OpShl) != 1 {
		t.Errorf("multiplication by 8 not turned into a shift:\n%s", dump(f))
	}
	if countOps(f, ir.OpSub) != 0 || countOps(f, ir.OpOr) != 0 {
		t.Errorf("x-x and or with zero survived:\n%s", dump(f))
	}
	if got := evalOne(t, f, 5); got != 40 {
		t.Errorf("result = %d, want 40", got)
	}
}

func TestBranchFolding(t *testing.T) {
	f := handBuilt(t, func(fn *ir.Function, x ir.Ref) {
		then, els := fn.NewLabel(), fn.NewLabel()
		one := fn.Emit(ir.Instr{Op: ir.OpIntConst, Type: ir.I32, Payload: ir.Payload{Imm: 1}})
		fn.Emit(ir.Instr{Op: ir.OpBranch, Args: []ir.Ref{one}, Targets: []ir.LabelID{then, els}})
		fn.Emit(ir.Instr{Op: ir.OpLabel, Label: then})
		fn.Emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{x}})
		fn.Emit(ir.Instr{Op: ir.OpLabel, Label: els})
		six := fn.Emit(ir.Instr{Op: ir.OpIntConst, Type: ir.I32, Payload: ir.Payload{Imm: 6}})
		fn.Emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{six}})
	})
	changed, err := RunPass(f, "branch")
	if err != nil || !changed {
		t.Fatalf("branch: changed=%v err=%v", changed, err)
	}
	if err := Verify(f); err != nil {
		t.Fatal(err)
	}
	if n := len(f.LiveBlocks()); n != 1 {
		t.Errorf("%d blocks left, want the merged entry:\n%s", n, dump(f))
	}
	if got := evalOne(t, f, 9); got != 9 {
		t.Errorf("result = %d, want 9", got)
	}
}

func TestDCEIsIdempotent(t *testing.T) {
	for _, prog := range corpus {
		t.Run(prog.name, func(t *testing.T) {
			_, funcs := lower(t, prog.src)
			for _, f := range funcs {
				if err := f.Construct(true); err != nil {
					t.Fatal(err)
				}
				if _, err := RunPass(f, "dce"); err != nil {
					t.Fatal(err)
				}
				before := dump(f)
				changed, err := RunPass(f, "dce")
				if err != nil {
					t.Fatal(err)
				}
				if changed {
					t.Errorf("%s: second dce reported a change", f.Name)
				}
				if after := dump(f); after != before {
					t.Errorf("%s: second dce changed the function:\n%s\nvs\n%s", f.Name, before, after)
				}
			}
		})
	}
}

func TestVerifyRejectsMalformedPhi(t *testing.T) {
	f := optimized(t, corpus[0].src, "sumsq", "mem2reg")
	var phi *Instr
	for _, in := range f.Instrs {
		if in.Op == ir.OpPhi {
			phi = in
			break
		}
	}
	if phi == nil {
		t.Fatal("no phi to break")
	}
	phi.Args = phi.Args[:1]
	err := Verify(f)
	if err == nil || !strings.Contains(err.Error(), "malformed phi") {
		t.Fatalf("Verify = %v, want a malformed phi error", err)
	}
	if diag.ClassOf(err) != diag.Internal {
		t.Errorf("class = %s, want internal", diag.ClassOf(err))
	}
}

func TestVerifyRejectsUseBeforeDef(t *testing.T) {
	f := optimized(t, corpus[3].src, "arith", "mem2reg")
	entry := f.Blocks[f.Entry]
	// swap the first two non-constant instructions that depend on each other
	for i, id := range entry.Instrs {
		in := f.Instrs[id]
		if len(in.Args) == 0 || in.Op == ir.OpPhi {
			continue
		}
		for j, a := range entry.Instrs[:i] {
			if a == in.Args[0] {
				entry.Instrs[i], entry.Instrs[j] = entry.Instrs[j], entry.Instrs[i]
				if err := Verify(f); err == nil {
					t.Fatal("Verify accepted a use before its definition")
				}
				return
			}
		}
	}
	t.Skip("no dependent pair in the entry block")
}

func TestPipelineRejectsUnknownPass(t *testing.T) {
	_, funcs := lower(t, corpus[0].src)
	err := (&Pipeline{Passes: []string{"mem2reg", "unroll"}}).Run(funcs[0])
	if err == nil || !strings.Contains(err.Error(), `unknown pass "unroll"`) {
		t.Fatalf("Run = %v, want an unknown pass error", err)
	}
	if diag.ClassOf(err) != diag.User {
		t.Errorf("class = %s, want a user error", diag.ClassOf(err))
	}
}

func TestPipelineLogsEveryPass(t *testing.T) {
	_, funcs := lower(t, corpus[0].src)
	var log []string
	pipe := &Pipeline{Passes: DefaultPasses, Budget: 1, Log: func(fn, pass string, changed bool) {
		log = append(log, pass)
	}}
	if err := pipe.Run(funcs[0]); err != nil {
		t.Fatal(err)
	}
	for _, p := range DefaultPasses {
		found := false
		for _, l := range log {
			if l == p {
				found = true
			}
		}
		if !found {
			t.Errorf("pass %s never logged; log = %v", p, log)
		}
	}
	if funcs[0].State != Allocatable {
		t.Errorf("state = %s, want allocatable", funcs[0].State)
	}
}

func TestPrinterShowsSSA(t *testing.T) {
	f := optimized(t, corpus[0].src, "sumsq", DefaultPasses...)
	out := dump(f)
	for _, want := range []string{"sumsq", "[allocatable]", "phi", "-> b"} {
		if !strings.Contains(out, want) {
			t.Errorf("printer output lacks %q:\n%s", want, out)
		}
	}
}

func TestIrreducibleLoopsConstruct(t *testing.T) {
	f := optimized(t, corpus[6].src, "irreducible", DefaultPasses...)
	if err := Verify(f); err != nil {
		t.Fatal(err)
	}
	if countOps(f, ir.OpPhi) == 0 {
		t.Errorf("no phi merges the two loop entries:\n%s", dump(f))
	}
}
