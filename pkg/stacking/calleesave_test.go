package stacking

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func TestIsCalleeSaved(t *testing.T) {
	tests := []struct {
		reg  ltl.MReg
		want bool
	}{
		{ltl.RBX, true},
		{ltl.R12, true},
		{ltl.R15, true},
		{ltl.RAX, false},
		{ltl.RDI, false},
		{ltl.R11, false},
		{ltl.XMM8, false},
		{ltl.RBP, false}, // saved by the frame setup, not by a push
	}
	for _, tt := range tests {
		if got := IsCalleeSaved(tt.reg); got != tt.want {
			t.Errorf("IsCalleeSaved(%s) = %v, want %v", tt.reg, got, tt.want)
		}
	}
}

func TestCalleeSaveRegs(t *testing.T) {
	tests := []struct {
		name string
		used ltl.RegMask
		want []ltl.MReg
	}{
		{"none", ltl.MaskOf(ltl.RAX, ltl.RCX, ltl.XMM0), nil},
		{"register order", ltl.MaskOf(ltl.R14, ltl.RAX, ltl.RBX, ltl.R12), []ltl.MReg{ltl.RBX, ltl.R12, ltl.R14}},
		{"all", ltl.CalleeSaved, []ltl.MReg{ltl.RBX, ltl.R12, ltl.R13, ltl.R14, ltl.R15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := linear.NewFunction("f")
			fn.Used = tt.used
			if diff := cmp.Diff(tt.want, CalleeSaveRegs(fn)); diff != "" {
				t.Errorf("regs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
