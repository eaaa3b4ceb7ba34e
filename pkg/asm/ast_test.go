package asm

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func TestFormatOperand(t *testing.T) {
	tests := []struct {
		name string
		op   Operand
		want string
	}{
		{"reg64", R64(ltl.RAX), "%rax"},
		{"reg32", R32(ltl.R9), "%r9d"},
		{"reg8", R8(ltl.RSI), "%sil"},
		{"reg16", Reg{Reg: ltl.RDX, Size: 2}, "%dx"},
		{"xmm", Reg{Reg: ltl.XMM3, Size: 8}, "%xmm3"},
		{"imm", Imm{Val: -42}, "$-42"},
		{"base", Base(ltl.RBP, -16), "-16(%rbp)"},
		{"base no disp", Base(ltl.RSP, 0), "(%rsp)"},
		{"index", Mem{Base: ltl.RAX, Index: ltl.RCX, Scale: 4}, "(%rax,%rcx,4)"},
		{"index only", Mem{Base: ltl.NoReg, Index: ltl.RDX, Scale: 8, Disp: 8}, "8(,%rdx,8)"},
		{"absolute", Mem{Base: ltl.NoReg, Index: ltl.NoReg, Disp: 64}, "64"},
		{"rip", Mem{Sym: "counter"}, "counter(%rip)"},
		{"rip plus", Mem{Sym: "arr", Disp: 12}, "arr+12(%rip)"},
		{"rip minus", Mem{Sym: "arr", Disp: -4}, "arr-4(%rip)"},
		{"got", Mem{Sym: "ext", GOT: true}, "ext@GOTPCREL(%rip)"},
		{"thread pointer", Mem{Seg: "fs"}, "%fs:0"},
		{"tpoff", Mem{Base: ltl.RAX, Sym: "tls", Reloc: "tpoff"}, "tls@tpoff(%rax)"},
		{"tpoff plus", Mem{Base: ltl.RCX, Sym: "tls", Reloc: "tpoff", Disp: 8}, "tls@tpoff+8(%rcx)"},
		{"gottpoff", Mem{Sym: "tls", Reloc: "gottpoff"}, "tls@gottpoff(%rip)"},
		{"label", LabelRef{Name: ".L1_3"}, ".L1_3"},
		{"call", SymRef{Name: "printf"}, "printf"},
		{"plt", SymRef{Name: "printf", PLT: true}, "printf@PLT"},
		{"indirect", Indirect{Reg: ltl.R11}, "*%r11"},
		{"x87 stack", ST{N: 1}, "%st(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatOperand(tt.op); got != tt.want {
				t.Errorf("FormatOperand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFunctionAppend(t *testing.T) {
	var f Function
	f.AppendLabel(".L0_1")
	f.Append(Ins("ret"), Comment{Text: "done"})
	want := []Line{
		LabelDef{Name: ".L0_1"},
		Instr{Op: "ret"},
		Comment{Text: "done"},
	}
	if diff := cmp.Diff(want, f.Lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLog2(t *testing.T) {
	for n, want := range map[int64]int{0: 0, 1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 4096: 12} {
		if got := log2(n); got != want {
			t.Errorf("log2(%d) = %d, want %d", n, got, want)
		}
	}
}
