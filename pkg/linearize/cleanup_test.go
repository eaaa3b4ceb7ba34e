package linearize

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func TestCleanupLabels(t *testing.T) {
	one := linear.Lop{Instr: konst(ltl.RAX, 1)}
	two := linear.Lop{Instr: konst(ltl.RAX, 2)}
	tests := []struct {
		name      string
		in        []linear.Instruction
		addrTaken []linear.Label
		want      []linear.Instruction
	}{
		{
			// the entry label stays even when unreferenced
			name: "keeps entry",
			in:   []linear.Instruction{linear.Llabel{Lbl: 1}, linear.Lreturn{Instr: ret}},
			want: []linear.Instruction{linear.Llabel{Lbl: 1}, linear.Lreturn{Instr: ret}},
		},
		{
			name: "unreferenced label",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lcond{Instr: branch, IfSo: 3},
				linear.Llabel{Lbl: 2},
				one,
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lcond{Instr: branch, IfSo: 3},
				one,
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			name: "jump to next",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				one,
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				one,
				linear.Lreturn{Instr: ret},
			},
		},
		{
			name: "unreachable code",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lreturn{Instr: ret},
				one,
				linear.Llabel{Lbl: 2},
				two,
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			name: "inverted condition",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lcond{Instr: branch, IfSo: 2},
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 2},
				one,
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lcond{Instr: branch, IfSo: 3, Negate: true},
				one,
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			name: "address taken",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lijump{Instr: ltl.Instr{Op: ir.OpIndirectJump, Args: []ltl.MReg{ltl.RAX}}},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
			addrTaken: []linear.Label{2},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lijump{Instr: ltl.Instr{Op: ir.OpIndirectJump, Args: []ltl.MReg{ltl.RAX}}},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			// a trap ends the flow like a jump
			name: "after unreachable",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lop{Instr: ltl.Instr{Op: ir.OpUnreachable}},
				linear.Lgoto{Target: 1},
			},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lop{Instr: ltl.Instr{Op: ir.OpUnreachable}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := code(tt.in...)
			fn.AddrTaken = tt.addrTaken
			CleanupLabels(fn)
			if diff := cmp.Diff(tt.want, fn.Code); diff != "" {
				t.Errorf("code mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReferencedLabels(t *testing.T) {
	fn := code(
		linear.Lcond{Instr: branch, IfSo: 4},
		linear.Ljumptable{Targets: []linear.Label{5, 4, 6}},
		linear.Lgoto{Target: 7},
		linear.Lop{Labels: []linear.Label{8}},
	)
	fn.AddrTaken = []linear.Label{9}
	want := []linear.Label{9, 4, 5, 6, 7, 8}
	if diff := cmp.Diff(want, fn.ReferencedLabels()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}
