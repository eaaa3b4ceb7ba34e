package selection

import (
	"math"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// foldAddress selects the addressing mode of a load or store. The
// address computation is matched against the patterns below, most
// specific first; whatever is left stays a register base.
//
//	local slot (+ const)      -> off(%rbp)
//	global (+ const)          -> sym+off(%rip), when reachable directly
//	incoming/outgoing (+ c)   -> frame-relative
//	base + const              -> off(base)
func (ctx *SelectionContext) foldAddress(in *ssa.Instr) {
	if in.Mode != ir.AddrReg {
		return
	}
	base, off := ctx.stripDisplacement(in.Args[0], in.Off)
	if !fitsInt32(off) {
		return
	}
	a := ctx.f.Instrs[base]
	if ok := ctx.tryFrame(in, a, off); ok {
		return
	}
	if ok := ctx.tryGlobal(in, a, off); ok {
		return
	}
	in.Args[0] = base
	in.Off = off
}

// stripDisplacement walks through additions of constants.
func (ctx *SelectionContext) stripDisplacement(v int, off int64) (int, int64) {
	for {
		a := ctx.f.Instrs[v]
		if a.Op != ir.OpAdd || a.Type != ir.I64 || a.HasImm {
			return v, off
		}
		if k, ok := ctx.f.IntConst(a.Args[1]); ok && fitsInt32(off+k) {
			v, off = a.Args[0], off+k
			continue
		}
		if k, ok := ctx.f.IntConst(a.Args[0]); ok && fitsInt32(off+k) {
			v, off = a.Args[1], off+k
			continue
		}
		return v, off
	}
}

// tryFrame matches addresses inside the frame.
func (ctx *SelectionContext) tryFrame(in, a *ssa.Instr, off int64) bool {
	switch a.Op {
	case ir.OpLocalAddr:
		in.Mode, in.Slot = ir.AddrLocal, a.Slot
	case ir.OpIncomingAddr:
		in.Mode = ir.AddrIncoming
	case ir.OpOutgoingAddr:
		in.Mode = ir.AddrOutgoing
	default:
		return false
	}
	total := off + a.Off
	if !fitsInt32(total) {
		in.Mode = ir.AddrReg
		return false
	}
	in.Off = total
	in.Args = in.Args[1:]
	return true
}

// tryGlobal matches rip-relative symbol addresses. Under PIC, symbols
// defined elsewhere must go through the GOT and keep a register base.
func (ctx *SelectionContext) tryGlobal(in, a *ssa.Instr, off int64) bool {
	if a.Op != ir.OpGlobalAddr || !ctx.env.direct(a.Sym) || !fitsInt32(off+a.Off) {
		return false
	}
	in.Mode, in.Sym, in.Off = ir.AddrGlobal, a.Sym, off+a.Off
	in.Args = in.Args[1:]
	return true
}

func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// loadAt builds a load of kind m at base+off, already in its final
// addressing mode.
func (ctx *SelectionContext) loadAt(base int, off int64, t ir.Type, m ir.MemKind) int {
	ld := ctx.newInstr(ir.OpLoad, t, base)
	ld.Mem, ld.Off = m, off
	ctx.foldAddress(ld)
	return ctx.emit(ld).ID
}

// storeAt builds a store of v with kind m at base+off.
func (ctx *SelectionContext) storeAt(base int, off int64, m ir.MemKind, v int) {
	st := ctx.newInstr(ir.OpStore, ir.Void, base, v)
	st.Mem, st.Off = m, off
	ctx.foldAddress(st)
	ctx.immediateStore(st)
	ctx.emit(st)
}

// storeImm builds a store of a constant.
func (ctx *SelectionContext) storeImm(base int, off int64, m ir.MemKind, k int64) {
	st := ctx.newInstr(ir.OpStore, ir.Void, base)
	st.Mem, st.Off, st.Imm, st.HasImm = m, off, k, true
	ctx.foldAddress(st)
	ctx.emit(st)
}
