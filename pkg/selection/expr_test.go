package selection

import (
	"testing"

	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/irgen"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// selectAll lowers src, optimizes every function and runs selection.
func selectAll(t *testing.T, src string, pic bool) map[string]*ssa.Func {
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
	env := &Env{ABI: abi.NewCache(m.Types), PIC: pic, Defined: m.IsDefined, ThreadLocal: m.IsThreadLocal}
	out := make(map[string]*ssa.Func)
	for _, f := range funcs {
		pipe := &ssa.Pipeline{Passes: ssa.DefaultPasses, VerifyEachPass: true}
		if err := pipe.Run(f); err != nil {
			t.Fatalf("optimize %s: %v", f.Name, err)
		}
		if err := Func(f, env); err != nil {
			t.Fatalf("select %s: %v", f.Name, err)
		}
		if err := ssa.Verify(f); err != nil {
			t.Fatalf("verify %s after selection: %v", f.Name, err)
		}
		out[f.Name] = f
	}
	return out
}

// instrs returns the placed instructions with the given opcode, in
// block order.
func instrs(f *ssa.Func, op ir.Opcode) []*ssa.Instr {
	var out []*ssa.Instr
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			if in := f.Instrs[id]; in.Op == op {
				out = append(out, in)
			}
		}
	}
	return out
}

func only(t *testing.T, f *ssa.Func, op ir.Opcode) *ssa.Instr {
	t.Helper()
	got := instrs(f, op)
	if len(got) != 1 {
		t.Fatalf("%s: %d %s instructions, want 1", f.Name, len(got), op)
	}
	return got[0]
}

func TestDivisionPinsRaxAndRdx(t *testing.T) {
	fs := selectAll(t, `
functions:
  - name: qr
    returns: int
    params: [{name: a, type: int}, {name: b, type: int}]
    body:
      - return: {add: [{div: [a, b]}, {mod: [a, b]}]}
`, false)
	f := fs["qr"]

	div := only(t, f, ir.OpSDiv)
	if div.Fixed != ltl.RAX || div.Temps != 1 {
		t.Errorf("sdiv: fixed %s temps %d, want rax and 1", div.Fixed, div.Temps)
	}
	if d := f.Instrs[div.Args[0]]; d.Op != ir.OpCopy || d.Fixed != ltl.RAX {
		t.Errorf("dividend is %s @%s, want a copy pinned to rax", d.Op, d.Fixed)
	}
	if tmp := f.Instrs[div.Args[len(div.Args)-1]]; tmp.Op != ir.OpTemp || tmp.Fixed != ltl.RDX {
		t.Errorf("sdiv scratch is %s @%s, want a temp in rdx", tmp.Op, tmp.Fixed)
	}

	rem := only(t, f, ir.OpSRem)
	if rem.Fixed != ltl.RDX || !rem.Clobbers.Has(ltl.RAX) {
		t.Errorf("srem: fixed %s clobbers %v, want rdx and rax destroyed", rem.Fixed, rem.Clobbers.Regs())
	}
	if len(rem.Args) != 2 {
		t.Errorf("srem has %d operands, want 2", len(rem.Args))
	}
}

func TestImmediateOperands(t *testing.T) {
	fs := selectAll(t, `
functions:
  - name: addk
    returns: int
    params: [{name: x, type: int}]
    body:
      - return: {add: [x, 5]}
  - name: lessk
    returns: int
    params: [{name: x, type: long}]
    body:
      - return: {lt: [x, 10]}
  - name: wide
    returns: long
    params: [{name: x, type: long}]
    body:
      - return: {add: [x, 0x100000000]}
  - name: shiftv
    returns: int
    params: [{name: x, type: int}, {name: n, type: int}]
    body:
      - return: {shl: [x, n]}
  - name: shiftk
    returns: int
    params: [{name: x, type: int}]
    body:
      - return: {shl: [x, 3]}
`, false)

	tests := []struct {
		fn      string
		op      ir.Opcode
		hasImm  bool
		imm     int64
		numArgs int
	}{
		{"addk", ir.OpAdd, true, 5, 1},
		{"lessk", ir.OpCmp, true, 10, 1},
		{"wide", ir.OpAdd, false, 0, 2},
		{"shiftk", ir.OpShl, true, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			in := only(t, fs[tt.fn], tt.op)
			if in.HasImm != tt.hasImm || (tt.hasImm && in.Imm != tt.imm) {
				t.Errorf("HasImm=%v Imm=%d, want %v %d", in.HasImm, in.Imm, tt.hasImm, tt.imm)
			}
			if len(in.Args) != tt.numArgs {
				t.Errorf("%d operands, want %d", len(in.Args), tt.numArgs)
			}
		})
	}

	t.Run("shiftv", func(t *testing.T) {
		f := fs["shiftv"]
		sh := only(t, f, ir.OpShl)
		if c := f.Instrs[sh.Args[1]]; c.Op != ir.OpCopy || c.Fixed != ltl.RCX {
			t.Errorf("shift count is %s @%s, want a copy pinned to rcx", c.Op, c.Fixed)
		}
	})
}

func TestAddressingModes(t *testing.T) {
	src := `
globals:
  - {name: counter, type: int}
  - {name: shared, type: int, extern: true}
functions:
  - name: bump
    returns: int
    body:
      - return: {add: [counter, shared]}
`
	tests := []struct {
		name    string
		pic     bool
		wantReg bool // shared is reached through a register base
	}{
		{"static", false, false},
		{"pic", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := selectAll(t, src, tt.pic)["bump"]
			modes := map[string]ir.AddrMode{}
			regLoads := 0
			for _, ld := range instrs(f, ir.OpLoad) {
				if ld.Mode == ir.AddrGlobal {
					modes[ld.Sym] = ld.Mode
				} else if ld.Mode == ir.AddrReg {
					regLoads++
				}
			}
			if _, ok := modes["counter"]; !ok {
				t.Errorf("counter not loaded rip-relative")
			}
			_, direct := modes["shared"]
			if direct == tt.wantReg {
				t.Errorf("shared direct=%v, want %v", direct, !tt.wantReg)
			}
			if tt.wantReg && regLoads != 1 {
				t.Errorf("%d register-based loads, want 1", regLoads)
			}
		})
	}
}

func TestThreadLocalNotRipRelative(t *testing.T) {
	f := selectAll(t, `
globals:
  - {name: depth, type: int, thread_local: true}
functions:
  - name: get
    returns: int
    body:
      - return: depth
`, false)["get"]
	ld := only(t, f, ir.OpLoad)
	if ld.Mode != ir.AddrReg {
		t.Fatalf("load of depth uses mode %v, want a register base", ld.Mode)
	}
	if base := f.Instrs[ld.Args[0]]; base.Op != ir.OpGlobalAddr || base.Sym != "depth" {
		t.Errorf("load base is %s %q, want the address of depth", base.Op, base.Sym)
	}
}

func TestLocalAddressFolding(t *testing.T) {
	f := selectAll(t, `
decls:
  - {name: sink, type: "void(int*)"}
functions:
  - name: arr
    returns: int
    body:
      - {decl: a, type: "int[4]"}
      - expr: {call: sink, args: [a]}
      - return: {index: [a, 2]}
`, false)["arr"]
	ld := only(t, f, ir.OpLoad)
	if ld.Mode != ir.AddrLocal || ld.Off != 8 || len(ld.Args) != 0 {
		t.Errorf("load mode %d off %d args %d, want a frame slot at offset 8", ld.Mode, ld.Off, len(ld.Args))
	}
}

func TestScratchRegisters(t *testing.T) {
	fs := selectAll(t, `
functions:
  - name: u2d
    returns: double
    params: [{name: x, type: unsigned long}]
    body:
      - return: {cast: x, type: double}
  - name: d2u
    returns: unsigned long
    params: [{name: x, type: double}]
    body:
      - return: {cast: x, type: unsigned long}
  - name: feq
    returns: int
    params: [{name: a, type: double}, {name: b, type: double}]
    body:
      - return: {eq: [a, b]}
  - name: ldne
    returns: int
    params: [{name: a, type: "long double*"}, {name: b, type: "long double*"}]
    body:
      - return: {ne: [{deref: a}, {deref: b}]}
  - name: ldlt
    returns: int
    params: [{name: a, type: "long double*"}, {name: b, type: "long double*"}]
    body:
      - return: {lt: [{deref: a}, {deref: b}]}
`, false)
	tests := []struct {
		fn    string
		op    ir.Opcode
		temps int
	}{
		{"u2d", ir.OpIntToFloat, 2},
		{"d2u", ir.OpFloatToInt, 2},
		{"feq", ir.OpCmp, 1},
		{"ldne", ir.OpX87, 1},
		{"ldlt", ir.OpX87, 0},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			f := fs[tt.fn]
			in := only(t, f, tt.op)
			if in.Temps != tt.temps {
				t.Fatalf("temps = %d, want %d", in.Temps, tt.temps)
			}
			for _, a := range in.Args[len(in.Args)-in.Temps:] {
				if f.Instrs[a].Op != ir.OpTemp {
					t.Errorf("trailing operand %%%d is %s, want a temp", a, f.Instrs[a].Op)
				}
			}
		})
	}
}

func TestSelectionRequiresOptimizedFunction(t *testing.T) {
	prog, err := ast.DecodeYAML([]byte("functions: [{name: f, body: [return]}]"), nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := irgen.BuildProgram(prog, irgen.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	funcs, err := ssa.BuildModule(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := Func(funcs[0], &Env{ABI: abi.NewCache(m.Types)}); err == nil {
		t.Fatal("selection accepted a function that was never optimized")
	}
}
