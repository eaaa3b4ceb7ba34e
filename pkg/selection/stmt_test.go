package selection

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// fixedRegs lists the registers the operands of in are pinned to.
func fixedRegs(f *ssa.Func, in *ssa.Instr) []ltl.MReg {
	out := make([]ltl.MReg, 0, len(in.Args))
	for _, a := range in.Args {
		out = append(out, f.Instrs[a].Fixed)
	}
	return out
}

func TestParameters(t *testing.T) {
	f := selectAll(t, `
functions:
  - name: eight
    returns: long
    params:
      - {name: a, type: long}
      - {name: b, type: long}
      - {name: c, type: long}
      - {name: d, type: long}
      - {name: e, type: long}
      - {name: f, type: long}
      - {name: g, type: long}
      - {name: h, type: long}
    body:
      - return: {add: [a, h]}
`, false)["eight"]

	var first *ssa.Instr
	for _, p := range instrs(f, ir.OpParam) {
		if p.Imm == 0 {
			first = p
		}
	}
	if first == nil || first.Fixed != ltl.RDI {
		t.Fatalf("first parameter not read from rdi: %v", first)
	}
	if entry := f.Blocks[f.Entry]; f.Instrs[entry.Instrs[0]].Op != ir.OpParam {
		t.Errorf("entry block starts with %s, want the parameter reads", f.Instrs[entry.Instrs[0]].Op)
	}
	ld := only(t, f, ir.OpLoad)
	if ld.Mode != ir.AddrIncoming || ld.Off != 8 {
		t.Errorf("h loaded with mode %d off %d, want the incoming area at 8", ld.Mode, ld.Off)
	}
}

func TestCalls(t *testing.T) {
	fs := selectAll(t, `
decls:
  - {name: g, type: "long(long, double)"}
  - {name: vf, type: "int(int, ...)"}
functions:
  - name: callg
    returns: long
    params: [{name: x, type: long}, {name: d, type: double}]
    body:
      - return: {call: g, args: [x, d]}
  - name: callv
    returns: int
    body:
      - return: {call: vf, args: [1, 2.5]}
`, false)

	tests := []struct {
		fn   string
		want []ltl.MReg
	}{
		{"callg", []ltl.MReg{ltl.RDI, ltl.XMM0}},
		{"callv", []ltl.MReg{ltl.RDI, ltl.XMM0, ltl.RAX}},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			f := fs[tt.fn]
			call := only(t, f, ir.OpCall)
			if diff := cmp.Diff(tt.want, fixedRegs(f, call)); diff != "" {
				t.Errorf("argument registers mismatch (-want +got):\n%s", diff)
			}
			if call.Clobbers != ltl.CallerSaved {
				t.Errorf("call clobbers %v, want every caller-saved register", call.Clobbers.Regs())
			}
			if call.Fixed != ltl.RAX {
				t.Errorf("call result in %s, want rax", call.Fixed)
			}
		})
	}

	t.Run("sse count", func(t *testing.T) {
		f := fs["callv"]
		call := only(t, f, ir.OpCall)
		pin := f.Instrs[call.Args[len(call.Args)-1]]
		if k, ok := f.IntConst(pin.Args[0]); !ok || k != 1 {
			t.Errorf("al holds %v (constant %v), want 1", k, ok)
		}
	})
}

func TestAggregateReturns(t *testing.T) {
	fs := selectAll(t, `
types:
  - struct: pair
    fields: [{name: a, type: long}, {name: b, type: long}]
  - struct: triple
    fields: [{name: a, type: long}, {name: b, type: long}, {name: c, type: long}]
functions:
  - name: mk
    returns: struct pair
    params: [{name: x, type: long}]
    body:
      - {decl: p, type: struct pair}
      - expr: {assign: [{member: p, field: a}, x]}
      - expr: {assign: [{member: p, field: b}, {neg: x}]}
      - return: p
  - name: second
    returns: long
    params: [{name: x, type: long}]
    body:
      - return: {member: {call: mk, args: [x]}, field: b}
  - name: mk3
    returns: struct triple
    params: [{name: x, type: long}]
    body:
      - {decl: t, type: struct triple}
      - expr: {assign: [{member: t, field: c}, x]}
      - return: t
`, false)

	t.Run("registers", func(t *testing.T) {
		f := fs["mk"]
		ret := only(t, f, ir.OpReturn)
		if diff := cmp.Diff([]ltl.MReg{ltl.RAX, ltl.RDX}, fixedRegs(f, ret)); diff != "" {
			t.Errorf("return registers mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("caller", func(t *testing.T) {
		f := fs["second"]
		var got []ltl.MReg
		for _, p := range instrs(f, ir.OpProject) {
			got = append(got, p.Fixed)
		}
		if diff := cmp.Diff([]ltl.MReg{ltl.RAX, ltl.RDX}, got); diff != "" {
			t.Errorf("call result projections mismatch (-want +got):\n%s", diff)
		}
		if call := only(t, f, ir.OpCall); call.Type != ir.Void {
			t.Errorf("aggregate call has type %s, want void", call.Type)
		}
	})

	t.Run("memory", func(t *testing.T) {
		f := fs["mk3"]
		var hidden *ssa.Instr
		for _, p := range instrs(f, ir.OpParam) {
			if p.Imm == -1 {
				hidden = p
			}
		}
		if hidden == nil || hidden.Fixed != ltl.RDI {
			t.Fatalf("hidden return pointer not read from rdi: %v", hidden)
		}
		ret := only(t, f, ir.OpReturn)
		if diff := cmp.Diff([]ltl.MReg{ltl.RAX}, fixedRegs(f, ret)); diff != "" {
			t.Errorf("return registers mismatch (-want +got):\n%s", diff)
		}
		if len(instrs(f, ir.OpMemcpy)) == 0 {
			t.Error("result not copied to the caller's buffer")
		}
	})
}

func TestInlineAsmOperands(t *testing.T) {
	fs := selectAll(t, `
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
  - name: stamp
    body:
      - {decl: lo, type: unsigned}
      - asm: "rdtsc"
        outputs: [{constraint: "=a", expr: lo}]
        clobbers: [rdx]
        volatile: true
      - return
`, false)

	for _, name := range []string{"bump", "stamp"} {
		t.Run(name, func(t *testing.T) {
			f := fs[name]
			asm := only(t, f, ir.OpInlineAsm)
			b := f.Blocks[asm.Block]
			at := -1
			for i, id := range b.Instrs {
				if id == asm.ID {
					at = i
				}
			}
			if at+1 >= len(b.Instrs) {
				t.Fatal("nothing follows the asm")
			}
			p := f.Instrs[b.Instrs[at+1]]
			if p.Op != ir.OpProject || p.Fixed != ltl.RAX {
				t.Errorf("asm followed by %s @%s, want its output projected from rax", p.Op, p.Fixed)
			}
		})
	}

	t.Run("tied input", func(t *testing.T) {
		f := fs["bump"]
		asm := only(t, f, ir.OpInlineAsm)
		if diff := cmp.Diff([]ltl.MReg{ltl.RAX}, fixedRegs(f, asm)); diff != "" {
			t.Errorf("input registers mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("clobbers", func(t *testing.T) {
		asm := only(t, fs["stamp"], ir.OpInlineAsm)
		if asm.Clobbers != ltl.MaskOf(ltl.RDX) {
			t.Errorf("clobbers %v, want rdx", asm.Clobbers.Regs())
		}
	})
}

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		in      string
		want    AsmConstraint
		wantErr bool
	}{
		{"r", AsmConstraint{Class: ltl.ClassGP, Tied: -1}, false},
		{"a", AsmConstraint{Class: ltl.ClassGP, Reg: ltl.RAX, Tied: -1}, false},
		{"D", AsmConstraint{Class: ltl.ClassGP, Reg: ltl.RDI, Tied: -1}, false},
		{"x", AsmConstraint{Class: ltl.ClassSSE, Tied: -1}, false},
		{"1", AsmConstraint{Class: ltl.ClassGP, Tied: 1}, false},
		{"rm", AsmConstraint{Class: ltl.ClassGP, Tied: -1}, false},
		{"t", AsmConstraint{}, true},
		{"z", AsmConstraint{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConstraint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("constraint mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClobberMask(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    ltl.RegMask
		wantErr bool
	}{
		{"names of any width", []string{"eax", "%r10", "cl"}, ltl.MaskOf(ltl.RAX, ltl.R10, ltl.RCX), false},
		{"memory and flags", []string{"memory", "cc"}, 0, false},
		{"sse", []string{"xmm3"}, ltl.MaskOf(ltl.XMM3), false},
		{"unknown", []string{"r99"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClobberMask(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("mask %v, want %v", got.Regs(), tt.want.Regs())
			}
		})
	}
}

func TestVaStart(t *testing.T) {
	f := selectAll(t, `
functions:
  - name: first
    returns: int
    variadic: true
    params: [{name: n, type: int}]
    body:
      - {decl: ap, type: va_list}
      - expr: {builtin: va_start, args: [ap, n]}
      - {decl: x, type: int, init: {builtin: va_arg, args: [ap], type: int}}
      - expr: {builtin: va_end, args: [ap]}
      - return: x
`, false)["first"]

	if n := len(instrs(f, ir.OpVaStart)); n != 0 {
		t.Errorf("%d va_start instructions left", n)
	}
	if f.RegSaveSlot < 0 || f.Locals[f.RegSaveSlot].Size != abi.RegSaveSize {
		t.Fatalf("register save slot %d not reserved", f.RegSaveSlot)
	}
	offsets := map[int64]bool{}
	for _, st := range instrs(f, ir.OpStore) {
		if st.HasImm && st.Mem == ir.M32 {
			offsets[st.Imm] = true
		}
	}
	// one named int argument: gp_offset 8, fp_offset 48
	if !offsets[8] || !offsets[48] {
		t.Errorf("va_list offsets stored %v, want 8 and 48", offsets)
	}
}
