package asmgen

import (
	"encoding/binary"
	"math"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Long double operations. Operands are addresses of extended values and
// the x87 register stack is empty before and after each instruction.

var x87Arith = map[ir.X87Op]string{
	ir.X87Add: "fadd",
	ir.X87Sub: "fsub",
	ir.X87Mul: "fmul",
	ir.X87Div: "fdiv",
}

var x87Loads = map[ir.MemKind]string{
	ir.M16:  "filds",
	ir.M32:  "fildl",
	ir.M64:  "fildll",
	ir.MF32: "flds",
	ir.MF64: "fldl",
}

// x87Stores convert with truncation toward zero, as C requires.
var x87Stores = map[ir.MemKind]string{
	ir.M16:  "fisttps",
	ir.M32:  "fisttpl",
	ir.M64:  "fisttpll",
	ir.MF32: "fstps",
	ir.MF64: "fstpl",
}

func (ctx *genContext) x87(in *ltl.Instr) {
	args := in.Operands()
	at := func(i int) asm.Mem { return asm.Base(args[i], 0) }
	switch in.X87 {
	case ir.X87Add, ir.X87Sub, ir.X87Mul, ir.X87Div:
		// st(0) = a, st(1) = b; the result is left in st(0)
		ctx.ins("fldt", at(2))
		ctx.ins("fldt", at(1))
		ctx.ins(x87Arith[in.X87], asm.ST{N: 1}, asm.ST{N: 0})
		ctx.ins("fstpt", at(0))
		ctx.ins("fstp", asm.ST{N: 0})
	case ir.X87Neg:
		ctx.ins("fldt", at(1))
		ctx.ins("fchs")
		ctx.ins("fstpt", at(0))
	case ir.X87Cmp:
		ctx.x87Compare(in, at(0), at(1))
	case ir.X87Load:
		op, ok := x87Loads[in.Mem]
		if !ok || (in.Mem != ir.M64 && !in.Signed && !in.Mem.IsFloat()) {
			ctx.fail("x87 load from %s", in.Mem)
		}
		ctx.ins(op, at(1))
		if in.Mem == ir.M64 && !in.Signed {
			// fild reads a signed value: add 2**64 when the top bit is set
			done := ctx.newLabel()
			ctx.ins("cmpq", imm(0), at(1))
			ctx.ins("jns", label(done))
			ctx.ins("fadds", ctx.constant(binary.LittleEndian.AppendUint32(nil, math.Float32bits(0x1p64)), 4))
			ctx.out.AppendLabel(done)
		}
		ctx.ins("fstpt", at(0))
	case ir.X87Store:
		op, ok := x87Stores[in.Mem]
		if !ok {
			ctx.fail("x87 store to %s", in.Mem)
		}
		ctx.ins("fldt", at(1))
		ctx.ins(op, at(0))
	default:
		ctx.fail("unknown x87 operation %s", in.X87)
	}
}

// x87Compare materializes a long double comparison as 0 or 1. The
// operands are pushed so that the "above" conditions test it, as for
// SSE compares.
func (ctx *genContext) x87Compare(in *ltl.Instr, a, b asm.Mem) {
	d := in.Dst
	first, second := b, a
	set := "seta"
	switch in.Cond {
	case ir.CondLt, ir.CondULt:
		first, second = a, b
	case ir.CondLe, ir.CondULe:
		first, second, set = a, b, "setae"
	case ir.CondGe, ir.CondUGe:
		set = "setae"
	}
	ctx.ins("fldt", first)
	ctx.ins("fldt", second)
	ctx.ins("fucomip", asm.ST{N: 1}, asm.ST{N: 0})
	ctx.ins("fstp", asm.ST{N: 0})
	switch in.Cond {
	case ir.CondEq:
		tmp := in.Scratch()[0]
		ctx.ins("sete", asm.R8(d))
		ctx.ins("setnp", asm.R8(tmp))
		ctx.ins("andb", asm.R8(tmp), asm.R8(d))
	case ir.CondNe:
		tmp := in.Scratch()[0]
		ctx.ins("setne", asm.R8(d))
		ctx.ins("setp", asm.R8(tmp))
		ctx.ins("orb", asm.R8(tmp), asm.R8(d))
	default:
		ctx.ins(set, asm.R8(d))
	}
	ctx.ins("movzbl", asm.R8(d), asm.R32(d))
}
