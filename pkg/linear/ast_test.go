package linear

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func sample() *Function {
	fn := NewFunction("f")
	fn.AddrTaken = []Label{5}
	fn.Code = []Instruction{
		Llabel{Lbl: 1},
		Lcond{Instr: ltl.Instr{Op: ir.OpBranch}, IfSo: 3},
		Lop{Instr: ltl.Instr{Op: ir.OpInlineAsm}, Labels: []Label{4, 3}},
		Llabel{Lbl: 3},
		Ljumptable{Instr: ltl.Instr{Op: ir.OpJumpTable}, Targets: []Label{1, 4}},
		Llabel{Lbl: 4},
		Lgoto{Target: 1},
	}
	return fn
}

func TestLabels(t *testing.T) {
	fn := sample()
	if diff := cmp.Diff([]Label{1, 3, 4}, fn.Labels()); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Label{5, 3, 4, 1}, fn.ReferencedLabels()); diff != "" {
		t.Errorf("ReferencedLabels mismatch (-want +got):\n%s", diff)
	}
}

func TestEndsFlow(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		want bool
	}{
		{"goto", Lgoto{Target: 1}, true},
		{"return", Lreturn{}, true},
		{"jump table", Ljumptable{}, true},
		{"indirect jump", Lijump{}, true},
		{"unreachable", Lop{Instr: ltl.Instr{Op: ir.OpUnreachable}}, true},
		{"cond", Lcond{IfSo: 2}, false},
		{"op", Lop{Instr: ltl.Instr{Op: ir.OpAdd}}, false},
		{"label", Llabel{Lbl: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EndsFlow(tt.inst); got != tt.want {
				t.Errorf("EndsFlow = %v, want %v", got, tt.want)
			}
		})
	}
}
