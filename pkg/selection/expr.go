package selection

import (
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// blockCopyLimit is the largest Memcpy or ZeroMem expanded into moves;
// larger ones use rep movsb / rep stosb.
const blockCopyLimit = 64

// selectExpr attaches operand constraints to a non-call instruction.
func (ctx *SelectionContext) selectExpr(in *ssa.Instr) {
	if in.Op.IsDivision() {
		ctx.selectDivision(in)
		return
	}
	switch in.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
		ctx.immediateOperand(in)
	case ir.OpShl, ir.OpSShr, ir.OpUShr:
		ctx.selectShift(in)
	case ir.OpCmp, ir.OpCmpBranch:
		ctx.selectCompare(in)
	case ir.OpStore:
		ctx.immediateStore(in)
	case ir.OpIntToFloat:
		if !in.Signed {
			n := 1
			if ctx.typeOf(in.Args[0]) == ir.I64 {
				n = 2
			}
			ctx.addTemps(in, n, 0)
		}
	case ir.OpFloatToInt:
		if !in.Signed && in.Type == ir.I64 {
			ctx.addTemps(in, 1, 1)
		}
	case ir.OpInsertBits:
		ctx.addTemps(in, 2, 0)
	case ir.OpX87:
		if in.X87 == ir.X87Cmp && (in.Cond == ir.CondEq || in.Cond == ir.CondNe) {
			// the parity flag goes through a second byte register
			ctx.addTemps(in, 1, 0)
		}
	case ir.OpDbgValue:
		// a constant variable is described by its value
		if len(in.Args) > 0 {
			if k, ok := ctx.f.IntConst(in.Args[0]); ok {
				in.Args, in.Imm, in.HasImm = nil, k, true
			}
		}
	case ir.OpMemcpy:
		ctx.selectMemcpy(in)
		return
	case ir.OpZeroMem:
		ctx.selectZeroMem(in)
		return
	}
	ctx.emit(in)
}

func (ctx *SelectionContext) typeOf(v int) ir.Type { return ctx.f.Instrs[v].Type }

// addTemps appends gp general-purpose and sse vector scratch registers.
func (ctx *SelectionContext) addTemps(in *ssa.Instr, gp, sse int) {
	for range gp {
		in.Args = append(in.Args, ctx.temp(ir.I64, ltl.NoReg))
	}
	for range sse {
		in.Args = append(in.Args, ctx.temp(ir.F64, ltl.NoReg))
	}
	in.Temps = gp + sse
}

// immediateOperand turns a constant second operand into an immediate.
// Commutative operations try the first operand as well.
func (ctx *SelectionContext) immediateOperand(in *ssa.Instr) {
	if in.HasImm || len(in.Args) != 2 || !in.Type.IsInt() {
		return
	}
	if k, ok := ctx.f.IntConst(in.Args[1]); ok && fitsInt32(k) {
		in.Args, in.Imm, in.HasImm = in.Args[:1], k, true
		return
	}
	if !in.Op.IsCommutative() {
		return
	}
	if k, ok := ctx.f.IntConst(in.Args[0]); ok && fitsInt32(k) {
		in.Args, in.Imm, in.HasImm = in.Args[1:2], k, true
	}
}

// selectShift uses an immediate count when constant and %cl otherwise.
func (ctx *SelectionContext) selectShift(in *ssa.Instr) {
	if k, ok := ctx.f.IntConst(in.Args[1]); ok {
		in.Args, in.Imm, in.HasImm = in.Args[:1], k&int64(in.Type.Bits()-1), true
		return
	}
	in.Args[1] = ctx.pin(in.Args[1], ltl.RCX)
}

// selectCompare puts a constant operand in the immediate slot, swapping
// the condition when it comes first. Float equality needs a scratch
// register to combine the parity flag.
func (ctx *SelectionContext) selectCompare(in *ssa.Instr) {
	if ctx.typeOf(in.Args[0]).IsFloat() {
		if in.Op == ir.OpCmp && (in.Cond == ir.CondEq || in.Cond == ir.CondNe) {
			ctx.addTemps(in, 1, 0)
		}
		return
	}
	if k, ok := ctx.f.IntConst(in.Args[1]); ok && fitsInt32(k) {
		in.Args, in.Imm, in.HasImm = in.Args[:1], k, true
		return
	}
	if k, ok := ctx.f.IntConst(in.Args[0]); ok && fitsInt32(k) {
		in.Args, in.Imm, in.HasImm = in.Args[1:2], k, true
		in.Cond = in.Cond.Swap()
	}
}

// immediateStore stores a constant directly.
func (ctx *SelectionContext) immediateStore(in *ssa.Instr) {
	if in.HasImm || in.Mem.IsFloat() {
		return
	}
	v := in.Args[len(in.Args)-1]
	if k, ok := ctx.f.IntConst(v); ok && fitsInt32(k) {
		in.Args, in.Imm, in.HasImm = in.Args[:len(in.Args)-1], k, true
	}
}

// selectDivision pins the dividend to rax. The quotient comes back in
// rax with rdx reserved for the high half; the remainder comes back in
// rdx and rax is destroyed.
func (ctx *SelectionContext) selectDivision(in *ssa.Instr) {
	x, y := in.Args[0], in.Args[1]
	raw := ctx.split(in)
	px := ctx.pin(x, ltl.RAX)
	if raw.Op == ir.OpSDiv || raw.Op == ir.OpUDiv {
		raw.Args = []int{px, y, ctx.temp(raw.Type, ltl.RDX)}
		raw.Temps = 1
		raw.Fixed = ltl.RAX
	} else {
		raw.Args = []int{px, y}
		raw.Fixed = ltl.RDX
		raw.Clobbers = ltl.MaskOf(ltl.RAX)
	}
	ctx.emit(raw)
	ctx.emit(in)
}

// memcpy emits a block copy of n bytes.
func (ctx *SelectionContext) memcpy(dst, src int, n int64) {
	mc := ctx.newInstr(ir.OpMemcpy, ir.Void, dst, src)
	mc.Imm = n
	ctx.selectMemcpy(mc)
}

// selectMemcpy expands small copies through one scratch register and
// runs large ones with rep movsb.
func (ctx *SelectionContext) selectMemcpy(in *ssa.Instr) {
	if in.Imm <= blockCopyLimit {
		ctx.addTemps(in, 1, 0)
		ctx.emit(in)
		return
	}
	in.Args = []int{ctx.pin(in.Args[0], ltl.RDI), ctx.pin(in.Args[1], ltl.RSI), ctx.temp(ir.I64, ltl.RCX)}
	in.Temps = 1
	in.Clobbers = ltl.MaskOf(ltl.RDI, ltl.RSI)
	ctx.emit(in)
}

// selectZeroMem stores immediate zeros for small areas and runs rep
// stosb for large ones.
func (ctx *SelectionContext) selectZeroMem(in *ssa.Instr) {
	if in.Imm > blockCopyLimit {
		in.Args = []int{ctx.pin(in.Args[0], ltl.RDI), ctx.temp(ir.I64, ltl.RCX), ctx.temp(ir.I64, ltl.RAX)}
		in.Temps = 2
		in.Clobbers = ltl.MaskOf(ltl.RDI)
	}
	ctx.emit(in)
}
