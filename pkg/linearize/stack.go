// Stack slot usage of Linear code.
// This pass finds the frame areas a function really touches so the
// frame layout can leave out the rest.
package linearize

import (
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// StackInfo holds information about stack slot usage
type StackInfo struct {
	UsedLocals   []bool // by local index
	UsedSpills   []bool // by spill slot
	IncomingSize int64  // bytes of the caller's argument area read directly
	OutgoingSize int64  // bytes of this frame's argument area written
	HasCalls     bool
}

// CollectStackInfo scans a Linear function and collects stack slot information
func CollectStackInfo(fn *linear.Function) *StackInfo {
	info := &StackInfo{
		UsedLocals: make([]bool, len(fn.Locals)),
		UsedSpills: make([]bool, len(fn.Spills)),
	}
	if fn.RegSaveSlot >= 0 && fn.RegSaveSlot < len(fn.Locals) {
		info.UsedLocals[fn.RegSaveSlot] = true
	}
	for _, inst := range fn.Code {
		var in *ltl.Instr
		switch i := inst.(type) {
		case linear.Lop:
			in = &i.Instr
		case linear.Lcond:
			in = &i.Instr
		case linear.Ljumptable:
			in = &i.Instr
		case linear.Lijump:
			in = &i.Instr
		case linear.Lreturn:
			in = &i.Instr
		default:
			continue
		}
		info.collect(in, fn)
	}
	return info
}

func (s *StackInfo) collect(in *ltl.Instr, fn *linear.Function) {
	switch in.Op {
	case ir.OpLocalAddr:
		s.UsedLocals[in.Slot] = true
	case ir.OpSpill, ir.OpReload:
		s.UsedSpills[in.Slot] = true
	case ir.OpIncomingAddr:
		// the whole area from here on may be reached through the address
		s.IncomingSize = max(s.IncomingSize, in.Off+8)
	case ir.OpOutgoingAddr:
		s.OutgoingSize = max(s.OutgoingSize, fn.OutgoingSize)
	case ir.OpCall:
		s.HasCalls = true
	case ir.OpLoad, ir.OpStore:
		size := in.Mem.Size()
		switch in.Mode {
		case ir.AddrLocal:
			s.UsedLocals[in.Slot] = true
		case ir.AddrIncoming:
			s.IncomingSize = max(s.IncomingSize, in.Off+size)
		case ir.AddrOutgoing:
			s.OutgoingSize = max(s.OutgoingSize, in.Off+size)
		}
	}
}
