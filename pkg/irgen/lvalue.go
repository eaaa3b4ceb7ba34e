package irgen

import (
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// lvalue designates an object: the bytes at addr+off, or a bit-field
// inside the storage unit at addr+off.
type lvalue struct {
	addr ir.Ref
	off  int64
	ty   ctypes.Type
	bf   *ctypes.FieldLayout
}

func (lv lvalue) address(b *builder) ir.Ref {
	if lv.bf != nil {
		b.fail("cannot take the address of bit-field %q", lv.bf.Name)
	}
	return b.offset(lv.addr, lv.off)
}

// lval lowers an expression designating an object.
func (b *builder) lval(e ast.Expr) lvalue {
	switch e := e.(type) {
	case ast.Ident:
		s, ok := b.lookup(e.Name)
		if !ok {
			b.fail("undeclared identifier %q", e.Name)
		}
		switch {
		case s.slot >= 0:
			return lvalue{addr: b.slotAddr(s.slot), ty: s.ty}
		case s.addr != ir.NoRef:
			return lvalue{addr: s.addr, ty: s.ty}
		}
		return lvalue{addr: b.globalAddr(s.sym, 0), ty: s.ty}
	case ast.Unary:
		if e.Op == ast.Deref {
			p := b.evalPointer(e.X)
			return lvalue{addr: p.ref, ty: e.Typ}
		}
	case ast.Index:
		addr := b.indexAddr(e)
		return lvalue{addr: addr, ty: e.Typ}
	case ast.Member:
		return b.memberLval(e)
	case ast.ComplexPart:
		inner := b.lval(e.X)
		if !ctypes.IsComplex(inner.ty) {
			if e.Imag {
				b.fail("__imag__ of a real lvalue is not assignable")
			}
			return inner
		}
		if e.Imag {
			inner.off += b.sizeof(e.Typ)
		}
		inner.ty = e.Typ
		return inner
	case ast.StringLit:
		return lvalue{addr: b.globalAddr(b.stringSym(e.Value), 0), ty: e.Typ}
	}
	// rvalues of memory-resident type, e.g. f().member
	if ir.InMemory(e.ExprType()) {
		v := b.eval(e)
		return lvalue{addr: b.materialize(v), ty: e.ExprType()}
	}
	b.fail("expression is not an lvalue")
	return lvalue{}
}

func (b *builder) globalAddr(sym string, off int64) ir.Ref {
	return b.emit(ir.Instr{Op: ir.OpGlobalAddr, Type: ir.I64, Payload: ir.Payload{Sym: sym, Off: off}})
}

// evalPointer lowers an expression of pointer or array type to an
// address.
func (b *builder) evalPointer(e ast.Expr) value {
	v := b.eval(e)
	if !ctypes.IsPointer(v.ty) {
		b.fail("operand of type %s is not a pointer", v.ty)
	}
	return v
}

func (b *builder) memberLval(e ast.Member) lvalue {
	var base lvalue
	if e.Arrow {
		p := b.evalPointer(e.X)
		base = lvalue{addr: p.ref, ty: ctypes.Elem(p.ty)}
	} else {
		base = b.lval(e.X)
	}
	l := b.layout(base.ty)
	for i := range l.Fields {
		f := &l.Fields[i]
		if f.Name != e.Name {
			continue
		}
		lv := lvalue{addr: base.addr, off: base.off + f.Offset, ty: f.Type}
		if f.BitField {
			if f.UnitSize > 8 {
				b.notImplemented("bit-field %q wider than 64 bits", f.Name)
			}
			lv.bf = f
		}
		return lv
	}
	b.fail("%s has no member %q", base.ty, e.Name)
	return lvalue{}
}

// indexAddr computes &x[i].
func (b *builder) indexAddr(e ast.Index) ir.Ref {
	x, i := b.eval(e.X), b.eval(e.Idx)
	if !ctypes.IsPointer(x.ty) {
		x, i = i, x
	}
	return b.pointerAdd(x, i, false)
}

// pointerAdd computes p ± i scaled by the pointee size.
func (b *builder) pointerAdd(p, i value, sub bool) ir.Ref {
	idx := b.convert(i, ctypes.Long()).ref
	if sub {
		idx = b.unop(ir.OpNeg, ir.I64, idx, ir.Payload{})
	}
	size := ast.PointeeSize(p.ty)
	if size != 1 {
		idx = b.binop(ir.OpMul, ir.I64, idx, b.iconst(ir.I64, size))
	}
	return b.binop(ir.OpAdd, ir.I64, p.ref, idx)
}

// load reads the current value of an lvalue. Arrays and functions
// decay to their address.
func (b *builder) load(lv lvalue) value {
	switch t := lv.ty.(type) {
	case ctypes.Tarray:
		return scalar(ctypes.Pointer(t.Elem), lv.address(b))
	case ctypes.Tfunction:
		return scalar(ctypes.Pointer(t), lv.address(b))
	}
	if lv.bf != nil {
		return scalar(lv.ty, b.loadBitField(lv))
	}
	return b.loadValue(lv.addr, lv.off, lv.ty)
}

// store assigns v (already converted to the lvalue's type) and returns
// the value the assignment expression yields.
func (b *builder) store(lv lvalue, v value) value {
	if lv.bf != nil {
		return scalar(lv.ty, b.storeBitField(lv, v.ref))
	}
	b.storeValue(lv.addr, lv.off, lv.ty, v)
	if ir.InMemory(lv.ty) {
		return scalar(lv.ty, lv.address(b))
	}
	return v
}

func unitType(size int64) ir.Type {
	if size == 8 {
		return ir.I64
	}
	return ir.I32
}

func (b *builder) loadBitField(lv lvalue) ir.Ref {
	f := lv.bf
	ut := unitType(f.UnitSize)
	unit := b.emit(ir.Instr{Op: ir.OpLoad, Type: ut, Args: []ir.Ref{lv.addr},
		Payload: ir.Payload{Mem: ir.IntMem(f.UnitSize), Off: lv.off}})
	r := b.unop(ir.OpExtractBits, ut, unit, ir.Payload{Offset: f.BitOffset, Width: f.Width, Signed: ctypes.IsSigned(f.Type)})
	if vt := ir.ValueType(f.Type); vt != ut {
		if vt == ir.I32 {
			r = b.unop(ir.OpTrunc, ir.I32, r, ir.Payload{})
		} else {
			op := ir.OpZExt
			if ctypes.IsSigned(f.Type) {
				op = ir.OpSExt
			}
			r = b.unop(op, ir.I64, r, ir.Payload{Width: 32})
		}
	}
	return r
}

// storeBitField merges v into the storage unit and returns the value
// the field now holds.
func (b *builder) storeBitField(lv lvalue, v ir.Ref) ir.Ref {
	f := lv.bf
	ut := unitType(f.UnitSize)
	mem := ir.IntMem(f.UnitSize)
	unit := b.emit(ir.Instr{Op: ir.OpLoad, Type: ut, Args: []ir.Ref{lv.addr}, Payload: ir.Payload{Mem: mem, Off: lv.off}})
	bits := v
	if vt := b.typeOf(v); vt != ut {
		if ut == ir.I64 {
			bits = b.unop(ir.OpZExt, ir.I64, v, ir.Payload{Width: 32})
		} else {
			bits = b.unop(ir.OpTrunc, ir.I32, v, ir.Payload{})
		}
	}
	merged := b.emit(ir.Instr{Op: ir.OpInsertBits, Type: ut, Args: []ir.Ref{unit, bits},
		Payload: ir.Payload{Offset: f.BitOffset, Width: f.Width}})
	b.emit(ir.Instr{Op: ir.OpStore, Args: []ir.Ref{lv.addr, merged}, Payload: ir.Payload{Mem: mem, Off: lv.off}})

	op := ir.OpZExt
	if ctypes.IsSigned(f.Type) {
		op = ir.OpSExt
	}
	if f.Width >= b.typeOf(v).Bits() {
		return v
	}
	return b.unop(op, b.typeOf(v), v, ir.Payload{Width: f.Width})
}
