package linear

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func TestPrintFunction(t *testing.T) {
	fn := NewFunction("f")
	fn.Spills = []ir.Type{ir.I64}
	fn.Code = []Instruction{
		Llabel{Lbl: 1},
		Lop{Instr: ltl.Instr{Op: ir.OpIntConst, Dst: ltl.RAX, Payload: ir.Payload{Imm: 7}}},
		Lcond{
			Instr:  ltl.Instr{Op: ir.OpCmpBranch, Args: []ltl.MReg{ltl.RAX}, Payload: ir.Payload{Cond: ir.CondLt, Imm: 3, HasImm: true}},
			IfSo:   2,
			Negate: true,
		},
		Ljumptable{Instr: ltl.Instr{Op: ir.OpJumpTable, Args: []ltl.MReg{ltl.RCX}}, Targets: []Label{3, 4}},
		Llabel{Lbl: 2},
		Lgoto{Target: 1},
		Lreturn{Instr: ltl.Instr{Op: ir.OpReturn, Args: []ltl.MReg{ltl.RAX}}},
	}
	var buf bytes.Buffer
	NewPrinter(&buf).PrintFunction(fn)
	want := `f() {
  ; spill slots = 1
L1:
  %rax = iconst.7
  if not cmpbranch.lt $3, %rax goto L2
  jumptable %rcx [L3, L4]
L2:
  goto L1
  return %rax
}
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
