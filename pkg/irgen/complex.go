package irgen

import (
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

func (b *builder) fop(op ir.Opcode, t ir.Type, x, y ir.Ref) ir.Ref {
	return b.emit(ir.Instr{Op: op, Type: t, Args: []ir.Ref{x, y}})
}

// complexArith lowers + - * / on complex pairs. Division uses the
// textbook formula without scaling.
func (b *builder) complexArith(op ast.BinaryOp, x, y value) value {
	if x.im == ir.NoRef || y.im == ir.NoRef {
		b.notImplemented("long double complex arithmetic")
	}
	t := b.typeOf(x.ref)
	a, c := x.ref, x.im
	d, e := y.ref, y.im
	var re, im ir.Ref
	switch op {
	case ast.Add:
		re, im = b.fop(ir.OpFAdd, t, a, d), b.fop(ir.OpFAdd, t, c, e)
	case ast.Sub:
		re, im = b.fop(ir.OpFSub, t, a, d), b.fop(ir.OpFSub, t, c, e)
	case ast.Mul:
		// (a+ci)(d+ei) = (ad-ce) + (ae+cd)i
		re = b.fop(ir.OpFSub, t, b.fop(ir.OpFMul, t, a, d), b.fop(ir.OpFMul, t, c, e))
		im = b.fop(ir.OpFAdd, t, b.fop(ir.OpFMul, t, a, e), b.fop(ir.OpFMul, t, c, d))
	case ast.Div:
		den := b.fop(ir.OpFAdd, t, b.fop(ir.OpFMul, t, d, d), b.fop(ir.OpFMul, t, e, e))
		re = b.fop(ir.OpFDiv, t, b.fop(ir.OpFAdd, t, b.fop(ir.OpFMul, t, a, d), b.fop(ir.OpFMul, t, c, e)), den)
		im = b.fop(ir.OpFDiv, t, b.fop(ir.OpFSub, t, b.fop(ir.OpFMul, t, c, d), b.fop(ir.OpFMul, t, a, e)), den)
	default:
		b.fail("invalid operands to %s (%s)", op, x.ty)
	}
	return value{ty: x.ty, ref: re, im: im}
}

// complexEqual lowers == and != on complex values.
func (b *builder) complexEqual(op ast.BinaryOp, x, y value) ir.Ref {
	if x.im == ir.NoRef || y.im == ir.NoRef {
		b.notImplemented("long double complex arithmetic")
	}
	if op != ast.Eq && op != ast.Ne {
		b.fail("complex values are not ordered")
	}
	c := ir.CondEq
	join := ir.OpAnd
	if op == ast.Ne {
		c, join = ir.CondNe, ir.OpOr
	}
	re := b.emit(ir.Instr{Op: ir.OpCmp, Type: ir.I32, Args: []ir.Ref{x.ref, y.ref}, Payload: ir.Payload{Cond: c}})
	im := b.emit(ir.Instr{Op: ir.OpCmp, Type: ir.I32, Args: []ir.Ref{x.im, y.im}, Payload: ir.Payload{Cond: c}})
	return b.binop(join, ir.I32, re, im)
}

// isComplexInRegs reports whether values of t are held as pairs.
func isComplexInRegs(t ctypes.Type) bool {
	return ctypes.IsComplex(t) && !isLongDouble(ctypes.ComplexElem(t))
}
