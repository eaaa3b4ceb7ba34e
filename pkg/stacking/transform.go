package stacking

import (
	"fmt"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// incomingOffset is the distance from rbp to the first stack argument,
// past the saved rbp and the return address.
const incomingOffset = 16

// LocalMem returns the memory operand of a local plus off.
func (f *Frame) LocalMem(slot int, off int64) asm.Mem {
	return asm.Base(ltl.RBP, f.LocalOffsets[slot]+off)
}

// SpillMem returns the memory operand of a spill slot.
func (f *Frame) SpillMem(slot int) asm.Mem {
	return asm.Base(ltl.RBP, f.SpillOffsets[slot])
}

// IncomingMem addresses the caller's stack argument area.
func (f *Frame) IncomingMem(off int64) asm.Mem {
	return asm.Base(ltl.RBP, incomingOffset+off)
}

// OutgoingMem addresses this frame's stack argument area.
func (f *Frame) OutgoingMem(off int64) asm.Mem {
	return asm.Base(ltl.RSP, off)
}

// SlotMem resolves a frame addressing mode of a load or store. Register
// and global modes are not frame relative and are rejected.
func (f *Frame) SlotMem(mode ir.AddrMode, slot int, off int64) (asm.Mem, error) {
	switch mode {
	case ir.AddrLocal:
		if slot < 0 || slot >= len(f.LocalOffsets) {
			return asm.Mem{}, fmt.Errorf("local slot %d out of range", slot)
		}
		return f.LocalMem(slot, off), nil
	case ir.AddrIncoming:
		return f.IncomingMem(off), nil
	case ir.AddrOutgoing:
		return f.OutgoingMem(off), nil
	}
	return asm.Mem{}, fmt.Errorf("addressing mode %d is not frame relative", mode)
}
