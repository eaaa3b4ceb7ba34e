// Lowering of long double. Values live in 16-byte memory objects like
// other memory-resident types, and every operation is an OpX87 on
// their addresses. Results always go to fresh temporaries.

package irgen

import (
	"math"

	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

func (b *builder) x87(op ir.X87Op, t ir.Type, p ir.Payload, args ...ir.Ref) ir.Ref {
	p.X87 = op
	return b.emit(ir.Instr{Op: ir.OpX87, Type: t, Args: args, Payload: p})
}

// ldConstSym returns the read-only object holding the constant f,
// shared within the unit.
func (u *unit) ldConstSym(f float64) string {
	key := math.Float64bits(f)
	if sym, ok := u.ldConsts[key]; ok {
		return sym
	}
	sym := u.newSym("LD")
	data := make([]byte, 16)
	ir.PutFloat80(data, f)
	u.ldConsts[key] = sym
	u.mod.Globals = append(u.mod.Globals, &ir.Global{
		Name:     sym,
		Size:     16,
		Align:    16,
		Init:     data,
		ReadOnly: true,
		Static:   true,
	})
	return sym
}

func (b *builder) ldConst(f float64) value {
	return scalar(ctypes.LongDouble(), b.globalAddr(b.ldConstSym(f), 0))
}

// ldIntConst materializes an integer constant as a long double. Values
// a double cannot hold exactly go through the integer conversion.
func (b *builder) ldIntConst(v int64) value {
	if f := float64(v); f < 0x1p63 && int64(f) == v {
		return b.ldConst(f)
	}
	return b.convert(scalar(ctypes.Long(), b.iconst(ir.I64, v)), ctypes.LongDouble())
}

// ldArith applies + - * or / to two long double operands.
func (b *builder) ldArith(op ast.BinaryOp, x, y value) value {
	var xop ir.X87Op
	switch op {
	case ast.Add:
		xop = ir.X87Add
	case ast.Sub:
		xop = ir.X87Sub
	case ast.Mul:
		xop = ir.X87Mul
	case ast.Div:
		xop = ir.X87Div
	default:
		b.fail("invalid operands to %s (long double)", op)
	}
	tmp := b.temp(x.ty)
	b.x87(xop, ir.Void, ir.Payload{}, tmp, x.ref, y.ref)
	return scalar(x.ty, tmp)
}

func (b *builder) ldNeg(v value) value {
	tmp := b.temp(v.ty)
	b.x87(ir.X87Neg, ir.Void, ir.Payload{}, tmp, v.ref)
	return scalar(v.ty, tmp)
}

// ldCompare yields an I32 0/1 for x c y.
func (b *builder) ldCompare(c ir.Cond, x, y ir.Ref) ir.Ref {
	return b.x87(ir.X87Cmp, ir.I32, ir.Payload{Cond: c}, x, y)
}

// convertLongDouble converts to or from long double through memory:
// the x87 unit loads and stores integers and SSE floats directly.
func (b *builder) convertLongDouble(v value, t ctypes.Type) value {
	from := v.ty
	ld := ctypes.LongDouble()
	switch {
	case ctypes.IsComplex(t):
		el := ctypes.ComplexElem(t)
		if isLongDouble(el) {
			b.notImplemented("long double complex arithmetic")
		}
		re := b.convert(v, el)
		return value{ty: t, ref: re.ref, im: b.fconst(ir.ValueType(el), 0)}
	case ctypes.IsComplex(from):
		if v.im == ir.NoRef {
			b.notImplemented("long double complex arithmetic")
		}
		return b.convert(scalar(ctypes.ComplexElem(from), v.ref), t)
	case isLongDouble(t) && isLongDouble(from):
		return scalar(t, v.ref)
	case isLongDouble(t):
		return scalar(t, b.toLongDouble(v))
	case ctypes.IsBool(t):
		return scalar(t, b.toBool(v))
	case ctypes.IsFloat(t):
		tmp := b.temp(t)
		b.x87(ir.X87Store, ir.Void, ir.Payload{Mem: ir.MemOf(t)}, tmp, v.ref)
		return scalar(t, b.loadScalar(tmp, 0, t))
	case ctypes.IsPointer(t) || ctypes.IsWideBitInt(t) || !ctypes.IsInteger(t):
		b.notImplemented("conversion from %s to %s", ld, t)
	case !ctypes.IsSigned(t) && ctypes.BitWidth(t) == 64:
		b.notImplemented("conversion from %s to %s", ld, t)
	}
	tmp := b.temp(ctypes.Long())
	b.x87(ir.X87Store, ir.Void, ir.Payload{Mem: ir.M64}, tmp, v.ref)
	return b.convert(scalar(ctypes.Long(), b.loadScalar(tmp, 0, ctypes.Long())), t)
}

// toLongDouble converts a float or integer value to a new long double
// temporary and returns its address.
func (b *builder) toLongDouble(v value) ir.Ref {
	from := v.ty
	var src value
	p := ir.Payload{Signed: true}
	switch {
	case ctypes.IsFloat(from):
		src = v
		p.Mem = ir.MemOf(from)
	case ctypes.IsInteger(from) && !ctypes.IsWideBitInt(from):
		lt := ctypes.Long()
		if !ctypes.IsSigned(from) && ctypes.BitWidth(from) == 64 {
			lt, p.Signed = ctypes.ULong(), false
		}
		src = b.convert(v, lt)
		p.Mem = ir.M64
	default:
		b.notImplemented("conversion from %s to long double", from)
	}
	in := b.temp(src.ty)
	b.storeScalar(in, 0, src.ty, src.ref)
	out := b.temp(ctypes.LongDouble())
	b.x87(ir.X87Load, ir.Void, p, out, in)
	return out
}
