// Expression lowering. Each case pushes exactly one value.

package irgen

import (
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"modernc.org/mathutil"
)

func (b *builder) expr(e ast.Expr) {
	switch e := e.(type) {
	case ast.IntConst:
		b.pushValue(b.intConst(e.Value, e.Typ))
	case ast.FloatConst:
		if isLongDouble(e.Typ) {
			b.pushValue(b.ldConst(e.Value))
			return
		}
		b.pushValue(scalar(e.Typ, b.fconst(ir.ValueType(e.Typ), e.Value)))
	case ast.StringLit:
		b.pushValue(scalar(ctypes.Pointer(ctypes.Elem(e.Typ)), b.globalAddr(b.stringSym(e.Value), 0)))
	case ast.Ident:
		b.pushValue(b.load(b.lval(e)))
	case ast.Unary:
		b.unary(e)
	case ast.Binary:
		b.binary(e)
	case ast.Assign:
		lv := b.lval(e.LHS)
		v := b.evalAs(e.RHS, lv.ty)
		b.pushValue(b.store(lv, v))
	case ast.CompoundAssign:
		b.compoundAssign(e)
	case ast.IncDec:
		b.incDec(e)
	case ast.Cast:
		b.pushValue(b.evalAs(e.X, e.Typ))
	case ast.Cond:
		b.conditional(e)
	case ast.Call:
		b.call(e)
	case ast.Member:
		b.pushValue(b.load(b.memberLval(e)))
	case ast.Index:
		b.pushValue(b.load(lvalue{addr: b.indexAddr(e), ty: e.Typ}))
	case ast.Comma:
		b.discard(e.X)
		b.expr(e.Y)
	case ast.AddrOfLabel:
		l := b.label(e.Label)
		if _, ok := b.usedLabels[e.Label]; !ok {
			b.usedLabels[e.Label] = b.pos
		}
		b.addrTaken(l)
		b.pushValue(scalar(e.Typ, b.emit(ir.Instr{Op: ir.OpLabelAddr, Type: ir.I64, Label: l})))
	case ast.Builtin:
		b.builtin(e)
	case ast.ComplexPart:
		v := b.eval(e.X)
		switch {
		case !ctypes.IsComplex(v.ty):
			if e.Imag {
				b.pushValue(scalar(e.Typ, b.zeroValue(e.Typ)))
			} else {
				b.pushValue(v)
			}
		case v.im == ir.NoRef:
			b.notImplemented("long double complex arithmetic")
		case e.Imag:
			b.pushValue(scalar(e.Typ, v.im))
		default:
			b.pushValue(scalar(e.Typ, v.ref))
		}
	default:
		b.fail("unsupported expression %T", e)
	}
}

func (b *builder) addrTaken(l ir.LabelID) {
	for _, x := range b.fn.AddrTakenLabels {
		if x == l {
			return
		}
	}
	b.fn.AddrTakenLabels = append(b.fn.AddrTakenLabels, l)
}

func (b *builder) intConst(v int64, t ctypes.Type) value {
	if ctypes.IsWideBitInt(t) {
		return b.wideConst(v, t)
	}
	if isLongDouble(t) {
		return b.ldIntConst(v)
	}
	vt := ir.ValueType(t)
	if vt.IsFloat() {
		return scalar(t, b.fconst(vt, float64(v)))
	}
	r := b.iconst(vt, v)
	return scalar(t, b.normalize(r, t))
}

func (b *builder) unary(e ast.Unary) {
	switch e.Op {
	case ast.AddrOf:
		if id, ok := e.X.(ast.Ident); ok {
			if s, ok := b.lookup(id.Name); ok {
				if ft, ok := s.ty.(ctypes.Tfunction); ok {
					b.pushValue(scalar(ctypes.Pointer(ft), b.globalAddr(s.sym, 0)))
					return
				}
			}
		}
		lv := b.lval(e.X)
		b.pushValue(scalar(e.Typ, lv.address(b)))
	case ast.Deref:
		p := b.evalPointer(e.X)
		if _, ok := e.Typ.(ctypes.Tfunction); ok {
			b.pushValue(p)
			return
		}
		b.pushValue(b.load(lvalue{addr: p.ref, ty: e.Typ}))
	case ast.Plus:
		b.pushValue(b.evalAs(e.X, e.Typ))
	case ast.Neg:
		v := b.evalAs(e.X, e.Typ)
		b.pushValue(b.negate(v))
	case ast.BitNot:
		v := b.evalAs(e.X, e.Typ)
		if ctypes.IsWideBitInt(v.ty) {
			b.pushValue(b.wideNot(v))
			return
		}
		r := b.unop(ir.OpNot, b.typeOf(v.ref), v.ref, ir.Payload{})
		b.pushValue(scalar(e.Typ, b.normalize(r, e.Typ)))
	case ast.LogNot:
		c := b.toBool(b.eval(e.X))
		b.pushValue(scalar(e.Typ, b.binop(ir.OpXor, ir.I32, c, b.iconst(ir.I32, 1))))
	default:
		b.fail("unsupported unary operator %s", e.Op)
	}
}

func (b *builder) negate(v value) value {
	switch {
	case ctypes.IsWideBitInt(v.ty):
		return b.wideArith(ast.Sub, b.wideConst(0, v.ty), v)
	case ctypes.IsComplex(v.ty):
		if v.im == ir.NoRef {
			b.notImplemented("long double complex arithmetic")
		}
		t := b.typeOf(v.ref)
		return value{ty: v.ty,
			ref: b.emit(ir.Instr{Op: ir.OpFNeg, Type: t, Args: []ir.Ref{v.ref}}),
			im:  b.emit(ir.Instr{Op: ir.OpFNeg, Type: t, Args: []ir.Ref{v.im}})}
	case isLongDouble(v.ty):
		return b.ldNeg(v)
	case ctypes.IsFloat(v.ty):
		return scalar(v.ty, b.emit(ir.Instr{Op: ir.OpFNeg, Type: b.typeOf(v.ref), Args: []ir.Ref{v.ref}}))
	}
	r := b.unop(ir.OpNeg, b.typeOf(v.ref), v.ref, ir.Payload{})
	return scalar(v.ty, b.normalize(r, v.ty))
}

func (b *builder) binary(e ast.Binary) {
	switch e.Op {
	case ast.LogAnd, ast.LogOr:
		b.logical(e)
		return
	}
	x := b.eval(e.X)
	y := b.eval(e.Y)
	b.pushValue(b.arith(e.Op, x, y, e.Typ))
}

// arith applies a binary operator to evaluated operands; t is the
// result type of the expression.
func (b *builder) arith(op ast.BinaryOp, x, y value, t ctypes.Type) value {
	x.ty, y.ty = ast.Decay(x.ty), ast.Decay(y.ty)
	px, py := ctypes.IsPointer(x.ty), ctypes.IsPointer(y.ty)

	switch {
	case op.IsComparison():
		return b.compare(op, x, y)
	case op == ast.Add && px:
		return scalar(x.ty, b.pointerAdd(x, y, false))
	case op == ast.Add && py:
		return scalar(y.ty, b.pointerAdd(y, x, false))
	case op == ast.Sub && px && py:
		diff := b.binop(ir.OpSub, ir.I64, x.ref, y.ref)
		if size := ast.PointeeSize(x.ty); size > 1 {
			if ctypes.IsPowerOfTwo(size) {
				diff = b.binop(ir.OpSShr, ir.I64, diff, b.iconst(ir.I64, log2(size)))
			} else {
				diff = b.binop(ir.OpSDiv, ir.I64, diff, b.iconst(ir.I64, size))
			}
		}
		return b.convert(scalar(ctypes.Long(), diff), t)
	case op == ast.Sub && px:
		return scalar(x.ty, b.pointerAdd(x, y, true))
	case op == ast.Shl || op == ast.Shr:
		return b.shift(op, b.convert(x, t), y)
	}

	x, y = b.convert(x, t), b.convert(y, t)
	switch {
	case ctypes.IsComplex(t):
		return b.complexArith(op, x, y)
	case ctypes.IsWideBitInt(t):
		return b.wideArith(op, x, y)
	case isLongDouble(t):
		return b.ldArith(op, x, y)
	case ctypes.IsFloat(t):
		var fop ir.Opcode
		switch op {
		case ast.Add:
			fop = ir.OpFAdd
		case ast.Sub:
			fop = ir.OpFSub
		case ast.Mul:
			fop = ir.OpFMul
		case ast.Div:
			fop = ir.OpFDiv
		default:
			b.fail("invalid operands to %s (%s)", op, t)
		}
		return scalar(t, b.emit(ir.Instr{Op: fop, Type: ir.ValueType(t), Args: []ir.Ref{x.ref, y.ref}}))
	}

	signed := ctypes.IsSigned(t)
	var iop ir.Opcode
	switch op {
	case ast.Add:
		iop = ir.OpAdd
	case ast.Sub:
		iop = ir.OpSub
	case ast.Mul:
		iop = ir.OpMul
	case ast.Div:
		iop = ir.OpUDiv
		if signed {
			iop = ir.OpSDiv
		}
	case ast.Mod:
		iop = ir.OpURem
		if signed {
			iop = ir.OpSRem
		}
	case ast.And:
		iop = ir.OpAnd
	case ast.Or:
		iop = ir.OpOr
	case ast.Xor:
		iop = ir.OpXor
	default:
		b.fail("unsupported binary operator %s", op)
	}
	r := b.binop(iop, ir.ValueType(t), x.ref, y.ref)
	switch iop {
	case ir.OpAnd, ir.OpOr, ir.OpXor:
		// closed over normalized operands
	default:
		r = b.normalize(r, t)
	}
	return scalar(t, r)
}

func log2(n int64) int64 { return int64(mathutil.Log2Uint64(uint64(n))) }

func (b *builder) shift(op ast.BinaryOp, x, y value) value {
	t := x.ty
	if ctypes.IsWideBitInt(t) {
		return b.wideShift(op, x, y)
	}
	vt := ir.ValueType(t)
	cnt := b.convert(y, ctypes.Int()).ref
	if vt == ir.I64 {
		cnt = b.unop(ir.OpSExt, ir.I64, cnt, ir.Payload{Width: 32})
	}
	var iop ir.Opcode
	switch {
	case op == ast.Shl:
		iop = ir.OpShl
	case ctypes.IsSigned(t):
		iop = ir.OpSShr
	default:
		iop = ir.OpUShr
	}
	r := b.binop(iop, vt, x.ref, cnt)
	if iop == ir.OpShl {
		r = b.normalize(r, t)
	}
	return scalar(t, r)
}

var compareConds = map[ast.BinaryOp][2]ir.Cond{
	ast.Eq: {ir.CondEq, ir.CondEq},
	ast.Ne: {ir.CondNe, ir.CondNe},
	ast.Lt: {ir.CondLt, ir.CondULt},
	ast.Le: {ir.CondLe, ir.CondULe},
	ast.Gt: {ir.CondGt, ir.CondUGt},
	ast.Ge: {ir.CondGe, ir.CondUGe},
}

// compare lowers a relational or equality operator to an int 0/1.
func (b *builder) compare(op ast.BinaryOp, x, y value) value {
	var t ctypes.Type
	switch {
	case ctypes.IsPointer(x.ty) || ctypes.IsPointer(y.ty):
		t = ctypes.ULong()
	default:
		t = ast.CommonType(x.ty, y.ty)
	}
	x, y = b.convert(x, t), b.convert(y, t)
	conds := compareConds[op]
	c := conds[0]
	if !ctypes.IsSigned(t) && !ctypes.IsFloat(t) {
		c = conds[1]
	}
	switch {
	case ctypes.IsComplex(t):
		return scalar(ctypes.Int(), b.complexEqual(op, x, y))
	case ctypes.IsWideBitInt(t):
		return scalar(ctypes.Int(), b.wideCompare(c, x, y))
	case isLongDouble(t):
		return scalar(ctypes.Int(), b.ldCompare(c, x.ref, y.ref))
	}
	return scalar(ctypes.Int(), b.cmp(c, x.ref, y.ref))
}

// logical lowers && and || with short-circuit control flow through a
// temporary that mem2reg later promotes.
func (b *builder) logical(e ast.Binary) {
	tmp := b.temp(ctypes.Int())
	rhs, done, short := b.newLabel(), b.newLabel(), b.newLabel()

	c := b.toBool(b.eval(e.X))
	if e.Op == ast.LogAnd {
		b.branch(c, rhs, short)
	} else {
		b.branch(c, short, rhs)
	}
	b.place(rhs)
	r := b.toBool(b.eval(e.Y))
	b.storeScalar(b.slotAddrOf(tmp), 0, ctypes.Int(), r)
	b.jump(done)
	b.place(short)
	sv := int64(0)
	if e.Op == ast.LogOr {
		sv = 1
	}
	b.storeScalar(b.slotAddrOf(tmp), 0, ctypes.Int(), b.iconst(ir.I32, sv))
	b.jump(done)
	b.place(done)
	b.pushValue(scalar(ctypes.Int(), b.loadScalar(b.slotAddrOf(tmp), 0, ctypes.Int())))
}

// slotAddrOf re-materializes the address of the slot a LocalAddr
// instruction designates, so that every access of a temporary uses an
// address computed in its own block.
func (b *builder) slotAddrOf(addr ir.Ref) ir.Ref {
	return b.slotAddr(b.fn.Code[addr].Slot)
}

// conditional lowers c ? a : b. Scalars meet in a temporary slot;
// memory-resident results meet as addresses.
func (b *builder) conditional(e ast.Cond) {
	then, els, done := b.newLabel(), b.newLabel(), b.newLabel()
	t := e.Typ
	void := ctypes.IsVoid(t)
	// memory-resident results meet as addresses
	byAddr := ir.InMemory(t) && !ctypes.IsComplex(t)
	slotTy := t
	if byAddr {
		slotTy = ctypes.Pointer(t)
	}
	var tmp ir.Ref
	if !void {
		tmp = b.temp(slotTy)
	}
	arm := func(x ast.Expr) {
		v := b.evalAs(x, t)
		if void {
			return
		}
		if byAddr {
			b.storeScalar(b.slotAddrOf(tmp), 0, slotTy, v.ref)
		} else {
			b.storeValue(b.slotAddrOf(tmp), 0, t, v)
		}
	}
	c := b.toBool(b.eval(e.C))
	b.branch(c, then, els)
	b.place(then)
	arm(e.Then)
	b.jump(done)
	b.place(els)
	arm(e.Else)
	b.jump(done)
	b.place(done)
	switch {
	case void:
		b.pushValue(value{ty: t, ref: ir.NoRef, im: ir.NoRef})
	case byAddr:
		b.pushValue(scalar(t, b.loadScalar(b.slotAddrOf(tmp), 0, slotTy)))
	default:
		b.pushValue(b.loadValue(b.slotAddrOf(tmp), 0, t))
	}
}

// compoundAssign lowers x op= y, evaluating the lvalue once.
func (b *builder) compoundAssign(e ast.CompoundAssign) {
	lv := b.lval(e.LHS)
	old := b.load(lv)
	rhs := b.eval(e.RHS)
	var opType ctypes.Type
	switch {
	case ctypes.IsPointer(old.ty):
		opType = old.ty
	case e.Op == ast.Shl || e.Op == ast.Shr:
		opType = ast.Promote(old.ty)
	default:
		opType = ast.CommonType(old.ty, rhs.ty)
	}
	r := b.arith(e.Op, old, rhs, opType)
	b.pushValue(b.store(lv, b.convert(r, lv.ty)))
}

func (b *builder) incDec(e ast.IncDec) {
	lv := b.lval(e.X)
	old := b.load(lv)
	if (ctypes.IsWideBitInt(old.ty) || isLongDouble(old.ty)) && !e.Prefix {
		// the loaded value is the object itself; keep a copy
		tmp := b.temp(old.ty)
		b.memcpy(tmp, old.ref, b.sizeof(old.ty))
		old = scalar(old.ty, tmp)
	}
	op := ast.Add
	if !e.Inc {
		op = ast.Sub
	}
	var nv value
	if ctypes.IsPointer(old.ty) {
		nv = scalar(old.ty, b.pointerAdd(old, b.intConst(1, ctypes.Long()), !e.Inc))
	} else {
		t := ast.CommonType(old.ty, ctypes.Int())
		nv = b.convert(b.arith(op, old, b.intConst(1, ctypes.Int()), t), lv.ty)
	}
	stored := b.store(lv, nv)
	if e.Prefix {
		b.pushValue(stored)
		return
	}
	b.pushValue(old)
}
