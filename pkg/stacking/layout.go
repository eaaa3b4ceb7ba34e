// Package stacking lays out activation records: it assigns frame
// offsets to locals, spill slots and saved registers, and produces the
// prologue and epilogue.
package stacking

import (
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/linearize"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

const (
	stackAlignment = 16 // System V keeps rsp 16-byte aligned at calls
	pointerSize    = 8
	spillSize      = 8
)

// x86-64 frame layout (called function's view):
//
//	+---------------------------+
//	| Incoming stack arguments  |  rbp+16 and up
//	| Return address            |  rbp+8
//	| Saved rbp                 |  rbp+0
//	+---------------------------+  <- rbp
//	| Callee-saved registers    |  pushed, rbp-8 and down
//	| Locals                    |
//	| Spill slots               |
//	| Outgoing arguments        |
//	+---------------------------+  <- rsp (16-byte aligned)
//
// Locals and spill slots are addressed from rbp, the outgoing area from
// rsp and the incoming area from rbp.

// Frame describes the concrete stack frame of one function.
type Frame struct {
	// CalleeSaved lists the registers pushed after rbp, in push order.
	CalleeSaved []ltl.MReg

	// LocalOffsets and SpillOffsets hold rbp-relative offsets. Locals
	// the code never touches are left out of the frame.
	LocalOffsets []int64
	UsedLocals   []bool
	SpillOffsets []int64

	// Size is the amount subtracted from rsp after the pushes.
	Size         int64
	OutgoingSize int64
	IncomingSize int64
	HasCalls     bool

	// Variadic functions dump their argument registers at RegSave.
	Variadic        bool
	RegSave         int64
	UsedGP, UsedSSE int
}

// Layout computes the frame of a Linear function.
func Layout(fn *linear.Function) (*Frame, error) {
	info := linearize.CollectStackInfo(fn)
	f := &Frame{
		CalleeSaved:  CalleeSaveRegs(fn),
		LocalOffsets: make([]int64, len(fn.Locals)),
		UsedLocals:   info.UsedLocals,
		SpillOffsets: make([]int64, len(fn.Spills)),
		IncomingSize: info.IncomingSize,
		HasCalls:     info.HasCalls,
		UsedGP:       fn.UsedGP,
		UsedSSE:      fn.UsedSSE,
	}

	depth := int64(len(f.CalleeSaved)) * pointerSize
	for i, l := range fn.Locals {
		if !info.UsedLocals[i] {
			continue
		}
		align := max(l.Align, 1)
		if align > stackAlignment {
			return nil, diag.NotImplemented(fn.Pos, "local %q needs %d-byte alignment", l.Name, align)
		}
		// rbp is 16-byte aligned, so aligning the depth aligns the slot
		depth = alignUp(depth+max(l.Size, 1), align)
		f.LocalOffsets[i] = -depth
	}
	for i := range fn.Spills {
		if !info.UsedSpills[i] {
			continue
		}
		depth += spillSize
		f.SpillOffsets[i] = -depth
	}

	f.OutgoingSize = alignUp(max(info.OutgoingSize, fn.OutgoingSize), pointerSize)
	pushed := int64(len(f.CalleeSaved)) * pointerSize
	f.Size = alignUp(depth+f.OutgoingSize, stackAlignment) - pushed

	if fn.RegSaveSlot >= 0 {
		f.Variadic = true
		f.RegSave = f.LocalOffsets[fn.RegSaveSlot]
	}
	return f, nil
}

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
