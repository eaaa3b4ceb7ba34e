package linearize

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func code(insts ...linear.Instruction) *linear.Function {
	fn := linear.NewFunction("f")
	for _, inst := range insts {
		fn.Append(inst)
	}
	return fn
}

func TestTunnel(t *testing.T) {
	tests := []struct {
		name string
		in   []linear.Instruction
		want []linear.Instruction
	}{
		{
			name: "chain",
			in: []linear.Instruction{
				linear.Lgoto{Target: 1},
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 2},
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			name: "conditional",
			in: []linear.Instruction{
				linear.Lcond{Instr: branch, IfSo: 1, Negate: true},
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Lcond{Instr: branch, IfSo: 2, Negate: true},
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			// L1 and L2 name the same goto
			name: "adjacent labels",
			in: []linear.Instruction{
				linear.Ljumptable{Targets: []linear.Label{1, 2, 3}},
				linear.Llabel{Lbl: 1},
				linear.Llabel{Lbl: 2},
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Ljumptable{Targets: []linear.Label{3, 3, 3}},
				linear.Llabel{Lbl: 1},
				linear.Llabel{Lbl: 2},
				linear.Lgoto{Target: 3},
				linear.Llabel{Lbl: 3},
				linear.Lreturn{Instr: ret},
			},
		},
		{
			// an endless loop of jumps stays as it is
			name: "cycle",
			in: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lgoto{Target: 1},
			},
			want: []linear.Instruction{
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lgoto{Target: 1},
			},
		},
		{
			// label addresses keep pointing at their own block
			name: "label address",
			in: []linear.Instruction{
				linear.Lop{Instr: ltl.Instr{Dst: ltl.RAX}, Labels: []linear.Label{1}},
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
			want: []linear.Instruction{
				linear.Lop{Instr: ltl.Instr{Dst: ltl.RAX}, Labels: []linear.Label{1}},
				linear.Llabel{Lbl: 1},
				linear.Lgoto{Target: 2},
				linear.Llabel{Lbl: 2},
				linear.Lreturn{Instr: ret},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := code(tt.in...)
			Tunnel(fn)
			if diff := cmp.Diff(tt.want, fn.Code); diff != "" {
				t.Errorf("code mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTunnelEmpty(t *testing.T) {
	fn := linear.NewFunction("empty")
	Tunnel(fn)
	if len(fn.Code) != 0 {
		t.Errorf("Expected empty code")
	}
}
