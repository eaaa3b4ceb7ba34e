package stacking

import (
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// x86-64 callee-saved registers are rbx and r12-r15; rbp is saved by
// the frame setup itself. No SSE register survives a call.

// IsCalleeSaved returns true if the register is callee-saved
func IsCalleeSaved(reg ltl.MReg) bool {
	return ltl.CalleeSaved.Has(reg)
}

// CalleeSaveRegs returns the callee-saved registers fn writes, in
// register order.
func CalleeSaveRegs(fn *linear.Function) []ltl.MReg {
	return (fn.Used & ltl.CalleeSaved).Regs()
}
