package irgen

import (
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// value is an entry of the virtual stack. Scalars hold their IR value
// in ref. Memory-resident types (aggregates, wide _BitInt, long double)
// hold an address in ref. Complex numbers hold their real part in ref
// and their imaginary part in im.
type value struct {
	ty  ctypes.Type
	ref ir.Ref
	im  ir.Ref
}

func scalar(t ctypes.Type, r ir.Ref) value { return value{ty: t, ref: r, im: ir.NoRef} }

func (b *builder) pushValue(v value) { b.stack = append(b.stack, v) }

func (b *builder) popValue() value {
	n := len(b.stack)
	if n == 0 {
		panic(diag.Internalf(b.fn.Name, len(b.fn.Code), "value stack underflow at %s", b.pos))
	}
	v := b.stack[n-1]
	b.stack = b.stack[:n-1]
	return v
}

// eval lowers e and pops its value.
func (b *builder) eval(e ast.Expr) value {
	b.expr(e)
	return b.popValue()
}

// evalAs lowers e and converts the result to t.
func (b *builder) evalAs(e ast.Expr, t ctypes.Type) value {
	return b.convert(b.eval(e), t)
}

// discard lowers e for its side effects.
func (b *builder) discard(e ast.Expr) {
	b.eval(e)
}

func (b *builder) iconst(t ir.Type, v int64) ir.Ref {
	return b.emit(ir.Instr{Op: ir.OpIntConst, Type: t, Payload: ir.Payload{Imm: ir.Normalize(t, v)}})
}

func (b *builder) fconst(t ir.Type, v float64) ir.Ref {
	if t == ir.F32 {
		v = float64(float32(v))
	}
	return b.emit(ir.Instr{Op: ir.OpFloatConst, Type: t, Payload: ir.Payload{Float: v}})
}

// constOf reports the value of r when it is an integer constant.
func (b *builder) constOf(r ir.Ref) (int64, bool) {
	if r < 0 {
		return 0, false
	}
	in := &b.fn.Code[r]
	if in.Op == ir.OpIntConst {
		return in.Imm, true
	}
	return 0, false
}

func (b *builder) typeOf(r ir.Ref) ir.Type { return b.fn.Code[r].Type }

// binop emits an integer or float binary operation, folding constants.
func (b *builder) binop(op ir.Opcode, t ir.Type, x, y ir.Ref) ir.Ref {
	if cx, ok := b.constOf(x); ok {
		if cy, ok := b.constOf(y); ok {
			if r, ok := ir.FoldBinary(op, t, cx, cy); ok {
				return b.iconst(t, r)
			}
		}
	}
	return b.emit(ir.Instr{Op: op, Type: t, Args: []ir.Ref{x, y}})
}

// unop emits a one-operand operation, folding constants.
func (b *builder) unop(op ir.Opcode, t ir.Type, x ir.Ref, p ir.Payload) ir.Ref {
	if c, ok := b.constOf(x); ok {
		if r, ok := ir.FoldUnary(op, t, &p, c); ok {
			return b.iconst(t, r)
		}
	}
	return b.emit(ir.Instr{Op: op, Type: t, Args: []ir.Ref{x}, Payload: p})
}

func (b *builder) cmp(c ir.Cond, x, y ir.Ref) ir.Ref {
	if cx, ok := b.constOf(x); ok {
		if cy, ok := b.constOf(y); ok {
			if c.Eval(cx, cy) {
				return b.iconst(ir.I32, 1)
			}
			return b.iconst(ir.I32, 0)
		}
	}
	return b.emit(ir.Instr{Op: ir.OpCmp, Type: ir.I32, Args: []ir.Ref{x, y}, Payload: ir.Payload{Cond: c}})
}

// normalize re-establishes the canonical representation of an integer
// of type t held in an IR register: bits above the type's width copy
// the sign bit for signed types and are clear for unsigned ones.
func (b *builder) normalize(r ir.Ref, t ctypes.Type) ir.Ref {
	w := ctypes.BitWidth(t)
	it := b.typeOf(r)
	if w == 0 || w >= it.Bits() {
		return r
	}
	op := ir.OpZExt
	if ctypes.IsSigned(t) {
		op = ir.OpSExt
	}
	return b.unop(op, it, r, ir.Payload{Width: w})
}

// loadScalar reads a value of scalar type t from addr+off.
func (b *builder) loadScalar(addr ir.Ref, off int64, t ctypes.Type) ir.Ref {
	vt := ir.ValueType(t)
	mem := ir.MemOf(t)
	r := b.emit(ir.Instr{Op: ir.OpLoad, Type: vt, Args: []ir.Ref{addr},
		Payload: ir.Payload{Mem: mem, Off: off, Signed: ctypes.IsSigned(t)}})
	if _, ok := t.(ctypes.Tbitint); ok && int64(ctypes.BitWidth(t)) < mem.Size()*8 {
		// padding bits of a _BitInt object are unspecified
		r = b.normalize(r, t)
	}
	return r
}

func (b *builder) storeScalar(addr ir.Ref, off int64, t ctypes.Type, v ir.Ref) {
	b.emit(ir.Instr{Op: ir.OpStore, Args: []ir.Ref{addr, v}, Payload: ir.Payload{Mem: ir.MemOf(t), Off: off}})
}

// loadValue reads a complete value of type t stored at addr+off.
func (b *builder) loadValue(addr ir.Ref, off int64, t ctypes.Type) value {
	switch {
	case ctypes.IsComplex(t):
		el := ctypes.ComplexElem(t)
		if ir.InMemory(el) {
			b.notImplemented("long double complex arithmetic")
		}
		sz := b.sizeof(el)
		return value{ty: t, ref: b.loadScalar(addr, off, el), im: b.loadScalar(addr, off+sz, el)}
	case ir.InMemory(t):
		return scalar(t, b.offset(addr, off))
	}
	return scalar(t, b.loadScalar(addr, off, t))
}

// storeValue writes v (already of type t) to addr+off.
func (b *builder) storeValue(addr ir.Ref, off int64, t ctypes.Type, v value) {
	switch {
	case ctypes.IsComplex(t):
		el := ctypes.ComplexElem(t)
		if v.im == ir.NoRef {
			// memory-resident complex, e.g. long double _Complex
			b.memcpy(b.offset(addr, off), v.ref, b.sizeof(t))
			return
		}
		b.storeScalar(addr, off, el, v.ref)
		b.storeScalar(addr, off+b.sizeof(el), el, v.im)
	case ir.InMemory(t):
		b.memcpy(b.offset(addr, off), v.ref, b.sizeof(t))
	default:
		b.storeScalar(addr, off, t, v.ref)
	}
}

// offset returns addr+off.
func (b *builder) offset(addr ir.Ref, off int64) ir.Ref {
	if off == 0 {
		return addr
	}
	return b.binop(ir.OpAdd, ir.I64, addr, b.iconst(ir.I64, off))
}

// materialize stores a register-held complex value in a temporary and
// returns its address; other values are returned as they are.
func (b *builder) materialize(v value) ir.Ref {
	if ctypes.IsComplex(v.ty) && v.im != ir.NoRef {
		tmp := b.temp(v.ty)
		b.storeValue(tmp, 0, v.ty, v)
		return tmp
	}
	return v.ref
}

// zeroValue returns the zero of a scalar type.
func (b *builder) zeroValue(t ctypes.Type) ir.Ref {
	if isLongDouble(t) {
		return b.ldConst(0).ref
	}
	vt := ir.ValueType(t)
	if vt.IsFloat() {
		return b.fconst(vt, 0)
	}
	return b.iconst(vt, 0)
}

// toBool converts v to an I32 0 or 1.
func (b *builder) toBool(v value) ir.Ref {
	t := v.ty
	switch {
	case ctypes.IsComplex(t):
		if v.im == ir.NoRef {
			b.notImplemented("long double complex arithmetic")
		}
		el := ctypes.ComplexElem(t)
		re := b.toBool(scalar(el, v.ref))
		im := b.toBool(scalar(el, v.im))
		return b.binop(ir.OpOr, ir.I32, re, im)
	case ctypes.IsWideBitInt(t):
		return b.wideIsNonZero(v)
	case isLongDouble(t):
		return b.ldCompare(ir.CondNe, v.ref, b.ldConst(0).ref)
	case ctypes.IsBool(t):
		return v.ref
	}
	vt := b.typeOf(v.ref)
	var z ir.Ref
	if vt.IsFloat() {
		z = b.fconst(vt, 0)
	} else {
		z = b.iconst(vt, 0)
	}
	return b.cmp(ir.CondNe, v.ref, z)
}

// convert applies a C conversion to type t.
func (b *builder) convert(v value, t ctypes.Type) value {
	from := v.ty
	if ctypes.IsVoid(t) {
		return value{ty: t, ref: ir.NoRef, im: ir.NoRef}
	}
	if ctypes.Equal(from, t) {
		return v
	}
	if _, ok := t.(ctypes.Tarray); ok {
		return value{ty: t, ref: v.ref, im: ir.NoRef}
	}
	if ctypes.IsAggregate(t) {
		b.fail("cannot convert %s to %s", from, t)
	}
	if isLongDouble(t) || isLongDouble(from) {
		return b.convertLongDouble(v, t)
	}
	if ctypes.IsBool(t) {
		return scalar(t, b.toBool(v))
	}
	if ctypes.IsComplex(t) {
		el := ctypes.ComplexElem(t)
		if ctypes.IsComplex(from) {
			re := b.convert(scalar(ctypes.ComplexElem(from), v.ref), el)
			im := b.convert(scalar(ctypes.ComplexElem(from), v.im), el)
			return value{ty: t, ref: re.ref, im: im.ref}
		}
		re := b.convert(v, el)
		return value{ty: t, ref: re.ref, im: b.fconst(ir.ValueType(el), 0)}
	}
	if ctypes.IsComplex(from) {
		return b.convert(scalar(ctypes.ComplexElem(from), v.ref), t)
	}
	if ctypes.IsWideBitInt(t) || ctypes.IsWideBitInt(from) {
		return b.convertWide(v, t)
	}

	st, dt := b.typeOf(v.ref), ir.ValueType(t)
	switch {
	case st.IsFloat() && dt.IsFloat():
		return scalar(t, b.emit(ir.Instr{Op: ir.OpFloatConv, Type: dt, Args: []ir.Ref{v.ref}}))
	case st.IsFloat():
		return scalar(t, b.floatToInt(v.ref, t))
	case dt.IsFloat():
		return scalar(t, b.intToFloat(v.ref, from, dt))
	}

	r := v.ref
	signed := ctypes.IsSigned(from)
	switch {
	case st == ir.I64 && dt == ir.I32:
		r = b.unop(ir.OpTrunc, ir.I32, r, ir.Payload{})
	case st == ir.I32 && dt == ir.I64:
		op := ir.OpZExt
		if signed {
			op = ir.OpSExt
		}
		r = b.unop(op, ir.I64, r, ir.Payload{Width: 32})
	}
	if ctypes.IsPointer(t) || !fitsIn(from, t) {
		r = b.normalize(r, t)
	}
	return scalar(t, r)
}

// fitsIn reports whether every value of integer type from is
// represented unchanged in integer type to.
func fitsIn(from, to ctypes.Type) bool {
	if ctypes.IsPointer(from) || ctypes.IsPointer(to) {
		return ctypes.BitWidth(to) >= 64
	}
	fw, tw := ctypes.BitWidth(from), ctypes.BitWidth(to)
	fs, ts := ctypes.IsSigned(from), ctypes.IsSigned(to)
	switch {
	case fs == ts:
		return fw <= tw
	case !fs && ts:
		return fw < tw
	}
	return false
}

func isLongDouble(t ctypes.Type) bool {
	f, ok := t.(ctypes.Tfloat)
	return ok && f.Size == ctypes.F80
}

// intToFloat converts an integer held in r (of C type from) to dt.
// Only a full 64-bit unsigned source needs an unsigned conversion;
// narrower unsigned values are zero-extended and converted as signed.
func (b *builder) intToFloat(r ir.Ref, from ctypes.Type, dt ir.Type) ir.Ref {
	signed := true
	if !ctypes.IsSigned(from) {
		if b.typeOf(r) == ir.I32 {
			r = b.unop(ir.OpZExt, ir.I64, r, ir.Payload{Width: 32})
		} else if ctypes.BitWidth(from) == 64 {
			signed = false
		}
	}
	return b.emit(ir.Instr{Op: ir.OpIntToFloat, Type: dt, Args: []ir.Ref{r}, Payload: ir.Payload{Signed: signed}})
}

func (b *builder) floatToInt(r ir.Ref, t ctypes.Type) ir.Ref {
	dt := ir.ValueType(t)
	if ctypes.IsPointer(t) {
		b.fail("cannot convert a floating value to a pointer")
	}
	var out ir.Ref
	switch {
	case !ctypes.IsSigned(t) && ctypes.BitWidth(t) == 64:
		out = b.emit(ir.Instr{Op: ir.OpFloatToInt, Type: ir.I64, Args: []ir.Ref{r}})
	case !ctypes.IsSigned(t) && dt == ir.I32 && ctypes.BitWidth(t) == 32:
		wide := b.emit(ir.Instr{Op: ir.OpFloatToInt, Type: ir.I64, Args: []ir.Ref{r}, Payload: ir.Payload{Signed: true}})
		out = b.unop(ir.OpTrunc, ir.I32, wide, ir.Payload{})
	default:
		out = b.emit(ir.Instr{Op: ir.OpFloatToInt, Type: dt, Args: []ir.Ref{r}, Payload: ir.Payload{Signed: true}})
	}
	return b.normalize(out, t)
}
