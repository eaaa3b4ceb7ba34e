package asmgen

import (
	"math"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

var aluOps = map[ir.Opcode]string{
	ir.OpAdd:  "add",
	ir.OpSub:  "sub",
	ir.OpMul:  "imul",
	ir.OpAnd:  "and",
	ir.OpOr:   "or",
	ir.OpXor:  "xor",
	ir.OpShl:  "shl",
	ir.OpSShr: "sar",
	ir.OpUShr: "shr",
	ir.OpFAdd: "add",
	ir.OpFSub: "sub",
	ir.OpFMul: "mul",
	ir.OpFDiv: "div",
}

// translateOp translates a straight-line instruction.
func (ctx *genContext) translateOp(in *ltl.Instr, labels []linear.Label) {
	t, d := in.Type, in.Dst
	switch in.Op {
	case ir.OpNop:
	case ir.OpDbgValue:
		ctx.dbgValue(in)
	case ir.OpIntConst:
		ctx.intConst(d, t, in.Imm)
	case ir.OpFloatConst:
		if (t == ir.F32 && math.Float32bits(float32(in.Float)) == 0) || (t == ir.F64 && math.Float64bits(in.Float) == 0) {
			ctx.ins("xorps", asm.R64(d), asm.R64(d))
			return
		}
		ctx.ins("mov"+fsuffix(t), ctx.floatConst(in.Float, t), asm.R64(d))
	case ir.OpGlobalAddr:
		ctx.globalAddr(d, in.Sym, in.Off)
	case ir.OpLocalAddr:
		ctx.ins("leaq", ctx.frame.LocalMem(in.Slot, in.Off), asm.R64(d))
	case ir.OpIncomingAddr:
		ctx.ins("leaq", ctx.frame.IncomingMem(in.Off), asm.R64(d))
	case ir.OpOutgoingAddr:
		ctx.ins("leaq", ctx.frame.OutgoingMem(in.Off), asm.R64(d))
	case ir.OpLabelAddr:
		if len(labels) != 1 {
			ctx.fail("label address without its label")
		}
		ctx.ins("leaq", asm.Mem{Sym: ctx.blockLabel(labels[0])}, asm.R64(d))
	case ir.OpCopy:
		ctx.move(d, in.Args[0], t)

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
		ctx.binary(in)
	case ir.OpShl, ir.OpSShr, ir.OpUShr:
		ctx.shift(in)
	case ir.OpNeg, ir.OpNot:
		ctx.move(d, in.Args[0], t)
		op := "neg"
		if in.Op == ir.OpNot {
			op = "not"
		}
		ctx.ins(op+suffix(t), reg(d, t))
	case ir.OpSDiv, ir.OpUDiv, ir.OpSRem, ir.OpURem:
		ctx.division(in)
	case ir.OpCmp:
		ctx.compare(in)

	case ir.OpSExt, ir.OpZExt:
		ctx.extend(in)
	case ir.OpTrunc:
		ctx.move(d, in.Args[0], ir.I32)
	case ir.OpBitcast:
		ctx.bitcast(in)
	case ir.OpIntToFloat:
		ctx.intToFloat(in)
	case ir.OpFloatToInt:
		ctx.floatToInt(in)
	case ir.OpFloatConv:
		src := in.ArgTypes[0]
		if src == t {
			ctx.move(d, in.Args[0], t)
			return
		}
		ctx.ins("cvt"+fsuffix(src)+"2"+fsuffix(t), asm.R64(in.Args[0]), asm.R64(d))

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		ctx.floatBinary(in)
	case ir.OpFNeg:
		ctx.move(d, in.Args[0], t)
		op := "xorps"
		if t == ir.F64 {
			op = "xorpd"
		}
		ctx.ins(op, ctx.signMask(t), asm.R64(d))

	case ir.OpLoad:
		ctx.load(in)
	case ir.OpStore:
		ctx.store(in)
	case ir.OpMemcpy:
		ctx.memcpy(in)
	case ir.OpZeroMem:
		ctx.zeroMem(in)
	case ir.OpX87:
		ctx.x87(in)

	case ir.OpExtractBits:
		ctx.extractBits(in)
	case ir.OpInsertBits:
		ctx.insertBits(in)
	case ir.OpPopcount:
		ctx.ins("popcnt"+suffix(t), reg(in.Args[0], t), reg(d, t))
	case ir.OpClz:
		ctx.ins("bsr"+suffix(t), reg(in.Args[0], t), reg(d, t))
		ctx.ins("xor"+suffix(t), imm(int64(t.Bits()-1)), reg(d, t))
	case ir.OpCtz:
		ctx.ins("bsf"+suffix(t), reg(in.Args[0], t), reg(d, t))
	case ir.OpBswap:
		ctx.move(d, in.Args[0], t)
		ctx.ins("bswap"+suffix(t), reg(d, t))

	case ir.OpCall:
		ctx.call(in)
	case ir.OpInlineAsm:
		ctx.inlineAsm(in, labels)
	case ir.OpTrap, ir.OpUnreachable:
		ctx.ins("ud2")
	case ir.OpSpill:
		ctx.ins(spillMove(in.ArgTypes[0]), reg(in.Args[0], in.ArgTypes[0]), ctx.frame.SpillMem(in.Slot))
	case ir.OpReload:
		ctx.ins(spillMove(t), ctx.frame.SpillMem(in.Slot), reg(d, t))
	default:
		ctx.fail("unexpected %s in straight-line code", in.Op)
	}
}

// spillMove is the move between a register and a spill slot.
func spillMove(t ir.Type) string {
	switch t {
	case ir.F32:
		return "movss"
	case ir.F64:
		return "movsd"
	}
	return "mov" + suffix(t)
}

// intConst materializes an integer constant with the shortest move.
func (ctx *genContext) intConst(d ltl.MReg, t ir.Type, v int64) {
	if t == ir.I32 {
		v = int64(int32(v))
	}
	switch {
	case v == 0:
		ctx.ins("xorl", asm.R32(d), asm.R32(d))
	case t == ir.I32:
		ctx.ins("movl", imm(v), asm.R32(d))
	case v > 0 && v <= math.MaxUint32:
		// 32-bit moves clear the upper half
		ctx.ins("movl", imm(v), asm.R32(d))
	case v < 0 && v >= math.MinInt32:
		ctx.ins("movq", imm(v), asm.R64(d))
	default:
		ctx.ins("movabsq", imm(v), asm.R64(d))
	}
}

// globalAddr loads the address of sym+off.
func (ctx *genContext) globalAddr(d ltl.MReg, sym string, off int64) {
	switch {
	case ctx.opts.threadLocal(sym):
		ctx.tlsAddr(d, sym)
	case ctx.opts.direct(sym):
		ctx.ins("leaq", asm.Mem{Sym: sym, Disp: off}, asm.R64(d))
		return
	default:
		ctx.ins("movq", asm.Mem{Sym: sym, GOT: true}, asm.R64(d))
	}
	switch {
	case off == 0:
	case off >= math.MinInt32 && off <= math.MaxInt32:
		ctx.ins("addq", imm(off), asm.R64(d))
	default:
		ctx.fail("symbol offset %d out of range", off)
	}
}

// tlsAddr loads the address of a thread-local variable. An executable
// reaches its own variables with a constant offset from the thread
// pointer (local exec); everything else reads the offset from the GOT
// (initial exec).
func (ctx *genContext) tlsAddr(d ltl.MReg, sym string) {
	tp := asm.Mem{Seg: "fs"}
	if !ctx.opts.PIC && ctx.opts.Defined != nil && ctx.opts.Defined(sym) {
		ctx.ins("movq", tp, asm.R64(d))
		ctx.ins("leaq", asm.Mem{Base: d, Sym: sym, Reloc: "tpoff"}, asm.R64(d))
		return
	}
	ctx.ins("movq", asm.Mem{Sym: sym, Reloc: "gottpoff"}, asm.R64(d))
	ctx.ins("addq", tp, asm.R64(d))
}

// secondOperand returns the right-hand operand of a two-address
// operation: the immediate or the second register.
func secondOperand(in *ltl.Instr, t ir.Type) asm.Operand {
	if in.HasImm {
		return imm(in.Imm)
	}
	return reg(in.Args[1], t)
}

// binary emits a two-address integer operation: d = a; d op= b.
func (ctx *genContext) binary(in *ltl.Instr) {
	t, d, a := in.Type, in.Dst, in.Args[0]
	op := aluOps[in.Op] + suffix(t)
	if in.Op == ir.OpMul && in.HasImm {
		ctx.ins(op, imm(in.Imm), reg(a, t), reg(d, t))
		return
	}
	if !in.HasImm && d == in.Args[1] && d != a {
		if !in.Op.IsCommutative() {
			ctx.fail("%s result overwrites its second operand", in.Op)
		}
		ctx.ins(op, reg(a, t), reg(d, t))
		return
	}
	ctx.move(d, a, t)
	ctx.ins(op, secondOperand(in, t), reg(d, t))
}

// shift emits a shift by an immediate count or by %cl.
func (ctx *genContext) shift(in *ltl.Instr) {
	t, d := in.Type, in.Dst
	ctx.move(d, in.Args[0], t)
	op := aluOps[in.Op] + suffix(t)
	if in.HasImm {
		ctx.ins(op, imm(in.Imm), reg(d, t))
		return
	}
	if in.Args[1] != ltl.RCX {
		ctx.fail("variable shift count not in rcx")
	}
	ctx.ins(op, asm.R8(ltl.RCX), reg(d, t))
}

// division emits idiv or div. The dividend is in rax; rdx receives its
// sign or zero extension first.
func (ctx *genContext) division(in *ltl.Instr) {
	t := in.Type
	if in.Args[0] != ltl.RAX {
		ctx.fail("dividend not in rax")
	}
	signed := in.Op == ir.OpSDiv || in.Op == ir.OpSRem
	switch {
	case signed && t == ir.I32:
		ctx.ins("cltd")
	case signed:
		ctx.ins("cqto")
	default:
		ctx.ins("xorl", asm.R32(ltl.RDX), asm.R32(ltl.RDX))
	}
	op := "div"
	if signed {
		op = "idiv"
	}
	ctx.ins(op+suffix(t), reg(in.Args[1], t))
}

// floatBinary emits a scalar SSE operation.
func (ctx *genContext) floatBinary(in *ltl.Instr) {
	t, d, a, b := in.Type, in.Dst, in.Args[0], in.Args[1]
	op := aluOps[in.Op] + fsuffix(t)
	if d == b && d != a {
		if !in.Op.IsCommutative() {
			ctx.fail("%s result overwrites its second operand", in.Op)
		}
		ctx.ins(op, asm.R64(a), asm.R64(d))
		return
	}
	ctx.move(d, a, t)
	ctx.ins(op, asm.R64(b), asm.R64(d))
}

// extend emits a sign or zero extension from Width bits.
func (ctx *genContext) extend(in *ltl.Instr) {
	t, d, a, w := in.Type, in.Dst, in.Args[0], in.Width
	signed := in.Op == ir.OpSExt
	switch {
	case w >= t.Bits():
		ctx.move(d, a, t)
	case w == 8 && signed:
		ctx.ins("movsb"+suffix(t), asm.R8(a), reg(d, t))
	case w == 8:
		ctx.ins("movzbl", asm.R8(a), asm.R32(d))
	case w == 16 && signed:
		ctx.ins("movsw"+suffix(t), regSized(a, 2), reg(d, t))
	case w == 16:
		ctx.ins("movzwl", regSized(a, 2), asm.R32(d))
	case w == 32 && signed:
		ctx.ins("movslq", asm.R32(a), asm.R64(d))
	case w == 32:
		ctx.ins("movl", asm.R32(a), asm.R32(d))
	case !signed && w < 32:
		ctx.move(d, a, ir.I32)
		ctx.ins("andl", imm(int64(1)<<w-1), asm.R32(d))
	default:
		s := imm(int64(t.Bits() - w))
		ctx.move(d, a, t)
		ctx.ins("shl"+suffix(t), s, reg(d, t))
		op := "shr"
		if signed {
			op = "sar"
		}
		ctx.ins(op+suffix(t), s, reg(d, t))
	}
}

// bitcast reinterprets the bits of a value in the other register class.
func (ctx *genContext) bitcast(in *ltl.Instr) {
	t, d, a := in.Type, in.Dst, in.Args[0]
	src := in.ArgTypes[0]
	switch {
	case src.IsFloat() == t.IsFloat():
		ctx.move(d, a, t)
	case t.Size() == 4 && t.IsFloat():
		ctx.ins("movd", asm.R32(a), asm.R64(d))
	case t.Size() == 4:
		ctx.ins("movd", asm.R64(a), asm.R32(d))
	default:
		ctx.ins("movq", asm.R64(a), asm.R64(d))
	}
}

// intToFloat converts an integer. Unsigned 32-bit sources are widened
// and converted as 64-bit; unsigned 64-bit sources with the top bit set
// are halved, keeping the low bit for rounding, and doubled back.
func (ctx *genContext) intToFloat(in *ltl.Instr) {
	t, d, a := in.Type, in.Dst, in.Args[0]
	src := in.ArgTypes[0]
	cvt := "cvtsi2" + fsuffix(t)
	if in.Signed {
		ctx.ins(cvt+suffix(src), reg(a, src), asm.R64(d))
		return
	}
	tmp := in.Scratch()
	if src == ir.I32 {
		ctx.ins("movl", asm.R32(a), asm.R32(tmp[0]))
		ctx.ins(cvt+"q", asm.R64(tmp[0]), asm.R64(d))
		return
	}
	neg, done := ctx.newLabel(), ctx.newLabel()
	ctx.ins("testq", asm.R64(a), asm.R64(a))
	ctx.ins("js", label(neg))
	ctx.ins(cvt+"q", asm.R64(a), asm.R64(d))
	ctx.ins("jmp", label(done))
	ctx.out.AppendLabel(neg)
	ctx.ins("movq", asm.R64(a), asm.R64(tmp[0]))
	ctx.ins("shrq", asm.R64(tmp[0]))
	ctx.ins("movl", asm.R32(a), asm.R32(tmp[1]))
	ctx.ins("andl", imm(1), asm.R32(tmp[1]))
	ctx.ins("orq", asm.R64(tmp[1]), asm.R64(tmp[0]))
	ctx.ins(cvt+"q", asm.R64(tmp[0]), asm.R64(d))
	ctx.ins("add"+fsuffix(t), asm.R64(d), asm.R64(d))
	ctx.out.AppendLabel(done)
}

// floatToInt converts with truncation. Unsigned 32-bit results use the
// 64-bit conversion; unsigned 64-bit results at or above 2^63 are
// converted after subtracting 2^63, which is added back by flipping the
// top bit.
func (ctx *genContext) floatToInt(in *ltl.Instr) {
	t, d, a := in.Type, in.Dst, in.Args[0]
	src := in.ArgTypes[0]
	cvt := "cvtt" + fsuffix(src) + "2si"
	switch {
	case in.Signed:
		ctx.ins(cvt+suffix(t), asm.R64(a), reg(d, t))
		return
	case t == ir.I32:
		ctx.ins(cvt+"q", asm.R64(a), asm.R64(d))
		return
	}
	x := in.Scratch()[1]
	limit := ctx.floatConst(1<<63, src)
	big, done := ctx.newLabel(), ctx.newLabel()
	ctx.ins("ucomi"+fsuffix(src), limit, asm.R64(a))
	ctx.ins("jae", label(big))
	ctx.ins(cvt+"q", asm.R64(a), asm.R64(d))
	ctx.ins("jmp", label(done))
	ctx.out.AppendLabel(big)
	ctx.ins("movaps", asm.R64(a), asm.R64(x))
	ctx.ins("sub"+fsuffix(src), limit, asm.R64(x))
	ctx.ins(cvt+"q", asm.R64(x), asm.R64(d))
	ctx.ins("btcq", imm(63), asm.R64(d))
	ctx.out.AppendLabel(done)
}

// load emits a load, extending narrow integers to the value type.
func (ctx *genContext) load(in *ltl.Instr) {
	t, d := in.Type, in.Dst
	base := ltl.NoReg
	if in.Mode == ir.AddrReg {
		base = in.Args[0]
	}
	m := ctx.address(in, base)
	switch in.Mem {
	case ir.M8, ir.M16:
		w := "b"
		if in.Mem == ir.M16 {
			w = "w"
		}
		if in.Signed {
			ctx.ins("movs"+w+suffix(t), m, reg(d, t))
		} else {
			ctx.ins("movz"+w+"l", m, asm.R32(d))
		}
	case ir.M32:
		if in.Signed && t == ir.I64 {
			ctx.ins("movslq", m, asm.R64(d))
		} else {
			ctx.ins("movl", m, asm.R32(d))
		}
	case ir.M64:
		ctx.ins("movq", m, asm.R64(d))
	case ir.MF32:
		ctx.ins("movss", m, asm.R64(d))
	case ir.MF64:
		ctx.ins("movsd", m, asm.R64(d))
	}
}

// store emits a store of a register or an immediate.
func (ctx *genContext) store(in *ltl.Instr) {
	args := in.Operands()
	base := ltl.NoReg
	if in.Mode == ir.AddrReg {
		base, args = args[0], args[1:]
	}
	m := ctx.address(in, base)
	size := in.Mem.Size()
	switch {
	case in.HasImm:
		ctx.ins("mov"+sizeSuffix(size), imm(truncate(in.Imm, size)), m)
	case in.Mem == ir.MF32:
		ctx.ins("movss", asm.R64(args[0]), m)
	case in.Mem == ir.MF64:
		ctx.ins("movsd", asm.R64(args[0]), m)
	default:
		ctx.ins("mov"+sizeSuffix(size), regSized(args[0], size), m)
	}
}

// truncate keeps the low size bytes of v, sign-extended, as the
// assembler expects for narrow immediates.
func truncate(v, size int64) int64 {
	switch size {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	}
	return v
}

// chunks splits n bytes into the widest moves available.
func chunks(n int64) []int64 {
	var out []int64
	for _, w := range []int64{8, 4, 2, 1} {
		for ; n >= w; n -= w {
			out = append(out, w)
		}
	}
	return out
}

// memcpy copies Imm bytes through a scratch register, or with rep movsb
// when the addresses were pinned to rdi and rsi.
func (ctx *genContext) memcpy(in *ltl.Instr) {
	args := in.Operands()
	dst, src := args[0], args[1]
	tmp := in.Scratch()[0]
	if dst == ltl.RDI && src == ltl.RSI && tmp == ltl.RCX && in.Clobbers.Has(ltl.RDI) {
		ctx.ins("movq", imm(in.Imm), asm.R64(ltl.RCX))
		ctx.ins("rep movsb")
		return
	}
	off := int64(0)
	for _, w := range chunks(in.Imm) {
		s := sizeSuffix(w)
		ctx.ins("mov"+s, asm.Base(src, off), regSized(tmp, w))
		ctx.ins("mov"+s, regSized(tmp, w), asm.Base(dst, off))
		off += w
	}
}

// zeroMem clears Imm bytes with immediate stores or with rep stosb.
func (ctx *genContext) zeroMem(in *ltl.Instr) {
	dst := in.Operands()[0]
	if in.Temps == 2 {
		ctx.ins("xorl", asm.R32(ltl.RAX), asm.R32(ltl.RAX))
		ctx.ins("movq", imm(in.Imm), asm.R64(ltl.RCX))
		ctx.ins("rep stosb")
		return
	}
	off := int64(0)
	for _, w := range chunks(in.Imm) {
		ctx.ins("mov"+sizeSuffix(w), imm(0), asm.Base(dst, off))
		off += w
	}
}

// extractBits moves the field to the top of the register and shifts it
// back down, extending as it goes.
func (ctx *genContext) extractBits(in *ltl.Instr) {
	d := in.Dst
	ctx.move(d, in.Args[0], ir.I64)
	if up := 64 - in.Offset - in.Width; up > 0 {
		ctx.ins("shlq", imm(int64(up)), asm.R64(d))
	}
	op := "shrq"
	if in.Signed {
		op = "sarq"
	}
	if down := 64 - in.Width; down > 0 {
		ctx.ins(op, imm(int64(down)), asm.R64(d))
	}
}

// insertBits replaces a field: d = x &^ mask | (v & low) << offset.
func (ctx *genContext) insertBits(in *ltl.Instr) {
	d, x, v := in.Dst, in.Args[0], in.Args[1]
	tmp := in.Scratch()
	low := ir.ZeroExtend(-1, in.Width)
	mask := int64(uint64(low) << uint(in.Offset))
	ctx.move(d, x, ir.I64)
	ctx.ins("movabsq", imm(^mask), asm.R64(tmp[0]))
	ctx.ins("andq", asm.R64(tmp[0]), asm.R64(d))
	ctx.ins("movq", asm.R64(v), asm.R64(tmp[1]))
	ctx.ins("movabsq", imm(low), asm.R64(tmp[0]))
	ctx.ins("andq", asm.R64(tmp[0]), asm.R64(tmp[1]))
	if in.Offset > 0 {
		ctx.ins("shlq", imm(int64(in.Offset)), asm.R64(tmp[1]))
	}
	ctx.ins("orq", asm.R64(tmp[1]), asm.R64(d))
}

// call emits a direct call, through the PLT for symbols defined
// elsewhere under PIC, or an indirect call through r11.
func (ctx *genContext) call(in *ltl.Instr) {
	site := in.Call
	if site == nil {
		ctx.fail("call without call site")
	}
	if site.Sym == "" {
		if len(in.Args) == 0 || in.Args[0] != ltl.R11 {
			ctx.fail("indirect callee not in r11")
		}
		ctx.ins("call", asm.Indirect{Reg: ltl.R11})
		return
	}
	ctx.ins("call", asm.SymRef{Name: site.Sym, PLT: !ctx.opts.direct(site.Sym)})
}
