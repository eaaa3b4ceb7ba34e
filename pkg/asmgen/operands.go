package asmgen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// reg returns r accessed at the width of t.
func reg(r ltl.MReg, t ir.Type) asm.Reg {
	if t == ir.I32 {
		return asm.R32(r)
	}
	return asm.R64(r)
}

// regSized returns r accessed with size bytes.
func regSized(r ltl.MReg, size int64) asm.Reg {
	return asm.Reg{Reg: r, Size: size}
}

// suffix is the integer operand size suffix of t.
func suffix(t ir.Type) string {
	if t == ir.I32 {
		return "l"
	}
	return "q"
}

// sizeSuffix is the suffix of an access of size bytes.
func sizeSuffix(size int64) string {
	switch size {
	case 1:
		return "b"
	case 2:
		return "w"
	case 4:
		return "l"
	}
	return "q"
}

// fsuffix is the scalar SSE suffix of t.
func fsuffix(t ir.Type) string {
	if t == ir.F32 {
		return "ss"
	}
	return "sd"
}

func imm(v int64) asm.Imm { return asm.Imm{Val: v} }

func label(name string) asm.LabelRef { return asm.LabelRef{Name: name} }

// move copies src to dst for a value of type t.
func (ctx *genContext) move(dst, src ltl.MReg, t ir.Type) {
	if dst == src {
		return
	}
	switch {
	case dst.IsFloat() && src.IsFloat():
		ctx.ins("movaps", asm.R64(src), asm.R64(dst))
	case dst.IsFloat() || src.IsFloat():
		ctx.fail("copy between register classes")
	default:
		ctx.ins("mov"+suffix(t), reg(src, t), reg(dst, t))
	}
}

// address resolves the memory operand of a load or store. base is the
// register holding the address in AddrReg mode.
func (ctx *genContext) address(in *ltl.Instr, base ltl.MReg) asm.Mem {
	switch in.Mode {
	case ir.AddrReg:
		return asm.Base(base, in.Off)
	case ir.AddrGlobal:
		return asm.Mem{Sym: in.Sym, Disp: in.Off}
	}
	m, err := ctx.frame.SlotMem(in.Mode, in.Slot, in.Off)
	if err != nil {
		ctx.fail("%v", err)
	}
	return m
}

// constant returns a rip-relative reference to read-only data, shared
// by identical requests within the function.
func (ctx *genContext) constant(data []byte, align int64) asm.Mem {
	key := fmt.Sprintf("%d:%x", align, data)
	if name, ok := ctx.constIdx[key]; ok {
		return asm.Mem{Sym: name}
	}
	name := fmt.Sprintf(".LC%d_%d", ctx.opts.ID, len(ctx.consts))
	ctx.consts = append(ctx.consts, asm.Const{Name: name, Align: align, Data: data})
	ctx.constIdx[key] = name
	return asm.Mem{Sym: name}
}

// floatConst returns the memory operand of a float constant of type t.
func (ctx *genContext) floatConst(v float64, t ir.Type) asm.Mem {
	if t == ir.F32 {
		data := binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(v)))
		return ctx.constant(data, 4)
	}
	return ctx.constant(binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)), 8)
}

// signMask returns a 16-byte constant with only the sign bit of the
// low lane set, for negation with xorps.
func (ctx *genContext) signMask(t ir.Type) asm.Mem {
	data := make([]byte, 16)
	if t == ir.F32 {
		binary.LittleEndian.PutUint32(data, 1<<31)
	} else {
		binary.LittleEndian.PutUint64(data, 1<<63)
	}
	return ctx.constant(data, 16)
}

// condCodes maps integer conditions to x86 condition code suffixes.
var condCodes = map[ir.Cond]string{
	ir.CondEq:  "e",
	ir.CondNe:  "ne",
	ir.CondLt:  "l",
	ir.CondLe:  "le",
	ir.CondGt:  "g",
	ir.CondGe:  "ge",
	ir.CondULt: "b",
	ir.CondULe: "be",
	ir.CondUGt: "a",
	ir.CondUGe: "ae",
}
