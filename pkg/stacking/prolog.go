package stacking

import (
	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Prologue generates the function prologue instructions
// x86-64 prologue:
//  1. Save rbp and set up the frame pointer
//  2. Push callee-saved registers
//  3. Allocate the rest of the frame
//  4. For variadic functions, dump the argument registers
//
// skip names the label used to jump over the SSE saves when %al is zero.
func Prologue(f *Frame, skip string) []asm.Line {
	lines := []asm.Line{
		asm.Ins("pushq", asm.R64(ltl.RBP)),
		asm.Ins("movq", asm.R64(ltl.RSP), asm.R64(ltl.RBP)),
	}
	for _, r := range f.CalleeSaved {
		lines = append(lines, asm.Ins("pushq", asm.R64(r)))
	}
	if f.Size > 0 {
		lines = append(lines, asm.Ins("subq", asm.Imm{Val: f.Size}, asm.R64(ltl.RSP)))
	}
	if f.Variadic {
		lines = append(lines, saveArgRegs(f, skip)...)
	}
	return lines
}

// saveArgRegs stores the unnamed argument registers into the register
// save area. The caller passes an upper bound on the SSE registers used
// in %al, so the vector stores are skipped when it is zero.
func saveArgRegs(f *Frame, skip string) []asm.Line {
	var lines []asm.Line
	for i := f.UsedGP; i < len(ltl.IntArgRegs); i++ {
		dst := asm.Base(ltl.RBP, f.RegSave+int64(8*i))
		lines = append(lines, asm.Ins("movq", asm.R64(ltl.IntArgRegs[i]), dst))
	}
	if f.UsedSSE >= len(ltl.FloatArgRegs) {
		return lines
	}
	lines = append(lines,
		asm.Ins("testb", asm.R8(ltl.RAX), asm.R8(ltl.RAX)),
		asm.Ins("je", asm.LabelRef{Name: skip}),
	)
	for i := f.UsedSSE; i < len(ltl.FloatArgRegs); i++ {
		dst := asm.Base(ltl.RBP, f.RegSave+abi.RegSaveGPSize+int64(16*i))
		lines = append(lines, asm.Ins("movaps", asm.Reg{Reg: ltl.FloatArgRegs[i], Size: 16}, dst))
	}
	return append(lines, asm.LabelDef{Name: skip})
}

// Epilogue generates the function epilogue instructions
// x86-64 epilogue:
//  1. Point rsp at the callee-saved registers
//  2. Pop them in reverse order
//  3. Restore rbp and return
func Epilogue(f *Frame) []asm.Line {
	var lines []asm.Line
	n := len(f.CalleeSaved)
	if n == 0 {
		return append(lines, asm.Ins("leave"), asm.Ins("ret"))
	}
	if f.Size > 0 {
		lines = append(lines, asm.Ins("leaq", asm.Base(ltl.RBP, -int64(n)*pointerSize), asm.R64(ltl.RSP)))
	}
	for i := n - 1; i >= 0; i-- {
		lines = append(lines, asm.Ins("popq", asm.R64(f.CalleeSaved[i])))
	}
	return append(lines, asm.Ins("popq", asm.R64(ltl.RBP)), asm.Ins("ret"))
}
