// Static data: globals and static locals, with initializers evaluated
// at compile time into bytes and relocations.

package irgen

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// symResolver maps a source name with static storage to its symbol.
type symResolver func(name string) (string, bool)

// The address of a thread-local variable is not a link-time constant.
func (u *unit) globalSym(name string) (string, bool) {
	_, ok := u.globals[name]
	return name, ok && !u.mod.IsThreadLocal(name)
}

// staticSym resolves names visible in the current function, including
// static locals.
func (b *builder) staticSym(name string) (string, bool) {
	s, ok := b.lookup(name)
	if !ok || s.slot >= 0 || s.addr != ir.NoRef || s.sym == "" || b.mod.IsThreadLocal(s.sym) {
		return "", false
	}
	return s.sym, true
}

func (u *unit) global(g *ast.GlobalVar) error {
	if g.Extern {
		out := &ir.Global{Name: g.Name, Extern: true, Align: 1, ThreadLocal: g.ThreadLocal}
		if l, err := ctypes.LayoutOf(g.Typ); err == nil {
			out.Size, out.Align = l.Size, max(l.Align, 1)
		}
		u.mod.Globals = append(u.mod.Globals, out)
		return nil
	}
	out, err := u.staticData(g.Name, g.Typ, g.Init, g.Static, g.Const, u.globalSym)
	if err != nil {
		var de *diag.Error
		if errors.As(err, &de) && !de.Pos.IsValid() {
			de.Pos = g.Pos
		}
		return err
	}
	out.ThreadLocal = g.ThreadLocal
	u.mod.Globals = append(u.mod.Globals, out)
	return nil
}

// staticData lays out an object with static storage duration. Objects
// without an initializer, or whose initializer is all zeros, get no
// Init bytes and go to zero-filled storage.
func (u *unit) staticData(sym string, t ctypes.Type, in *ast.Init, static, readOnly bool, resolve symResolver) (g *ir.Global, err error) {
	defer diag.Recover(&err)
	l, err := ctypes.LayoutOf(t)
	if err != nil {
		return nil, err
	}
	g = &ir.Global{Name: sym, Size: l.Size, Align: max(l.Align, 1), Static: static, ReadOnly: readOnly}
	if in == nil {
		return g, nil
	}
	w := &dataWriter{u: u, g: g, buf: make([]byte, l.Size), resolve: resolve}
	w.init(0, t, in)
	if len(g.Relocs) > 0 || !allZero(w.buf) {
		g.Init = w.buf
	}
	return g, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// constVal is a compile-time constant: an integer, a float, or the
// address sym+i.
type constVal struct {
	isFloat bool
	i       int64
	f       float64
	sym     string
}

type dataWriter struct {
	u       *unit
	g       *ir.Global
	buf     []byte
	resolve symResolver
}

func (w *dataWriter) fail(format string, args ...any) {
	panic(diag.Userf(diag.Pos{}, "initializer of %s: "+format, append([]any{w.g.Name}, args...)...))
}

func (w *dataWriter) layout(t ctypes.Type) *ctypes.Layout {
	l, err := ctypes.LayoutOf(t)
	if err != nil {
		panic(diag.Userf(diag.Pos{}, "%v", err))
	}
	return l
}

func (w *dataWriter) init(off int64, t ctypes.Type, in *ast.Init) {
	if in.List == nil {
		if s, ok := in.Expr.(ast.StringLit); ok {
			if at, ok := t.(ctypes.Tarray); ok {
				n := int64(len(s.Value))
				if at.Size >= 0 && n > at.Size {
					n = at.Size
				}
				copy(w.buf[off:off+n], s.Value)
				return
			}
		}
		w.scalar(off, t, in.Expr)
		return
	}
	switch tt := t.(type) {
	case ctypes.Tarray:
		esz := w.layout(tt.Elem).Size
		for i, el := range in.List {
			if tt.Size >= 0 && int64(i) >= tt.Size {
				w.fail("excess elements in array initializer")
			}
			w.init(off+int64(i)*esz, tt.Elem, el)
		}
	case *ctypes.Tstruct, *ctypes.Tunion:
		fields := initFields(w.layout(t), t)
		for i, el := range in.List {
			if i >= len(fields) {
				w.fail("excess elements in %s initializer", t)
			}
			f := fields[i]
			if f.BitField {
				if el.List != nil {
					w.fail("braces around bit-field initializer")
				}
				c := w.convert(w.eval(el.Expr), el.Expr.ExprType(), f.Type)
				if c.sym != "" {
					w.fail("address constant in bit-field %q", f.Name)
				}
				pos := off + f.Offset
				unit := readLE(w.buf[pos : pos+f.UnitSize])
				writeLE(w.buf[pos:pos+f.UnitSize], ir.InsertBits(unit, c.i, f.BitOffset, f.Width))
				continue
			}
			w.init(off+f.Offset, f.Type, el)
		}
	default:
		if len(in.List) != 1 {
			w.fail("scalar initializer must have one element")
		}
		w.init(off, t, in.List[0])
	}
}

func readLE(b []byte) int64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return int64(v)
}

func writeLE(b []byte, v int64) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

// scalar stores the value of e, converted to t, at off.
func (w *dataWriter) scalar(off int64, t ctypes.Type, e ast.Expr) {
	if ctypes.IsComplex(t) {
		t = ctypes.ComplexElem(t)
	}
	c := w.convert(w.eval(e), e.ExprType(), t)
	size := w.layout(t).Size
	dst := w.buf[off : off+size]
	switch {
	case c.sym != "":
		w.g.Relocs = append(w.g.Relocs, ir.Reloc{Off: off, Sym: c.sym, Addend: c.i})
	case c.isFloat:
		switch size {
		case 4:
			binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(c.f)))
		case 8:
			binary.LittleEndian.PutUint64(dst, math.Float64bits(c.f))
		default:
			ir.PutFloat80(dst, c.f)
		}
	default:
		n := min(size, 8)
		writeLE(dst[:n], c.i)
		if size > 8 && c.i < 0 && ctypes.IsSigned(t) {
			for i := int64(8); i < size; i++ {
				dst[i] = 0xff
			}
		}
	}
}

// canon reduces v to the canonical 64-bit form of integer type t.
func canon(v int64, t ctypes.Type) int64 {
	if ctypes.IsBool(t) {
		if v != 0 {
			return 1
		}
		return 0
	}
	wd := ctypes.BitWidth(t)
	if wd == 0 || wd >= 64 {
		return v
	}
	if ctypes.IsSigned(t) {
		return ir.SignExtend(v, wd)
	}
	return ir.ZeroExtend(v, wd)
}

func (c constVal) truth() bool {
	switch {
	case c.sym != "":
		return true
	case c.isFloat:
		return c.f != 0
	}
	return c.i != 0
}

func boolConst(b bool) constVal {
	if b {
		return constVal{i: 1}
	}
	return constVal{}
}

// convert applies a C conversion from type from to type to.
func (w *dataWriter) convert(c constVal, from, to ctypes.Type) constVal {
	from = ast.Decay(from)
	switch {
	case ctypes.IsBool(to):
		return boolConst(c.truth())
	case ctypes.IsFloat(to):
		if c.sym != "" {
			w.fail("address constant converted to %s", to)
		}
		f := c.f
		if !c.isFloat {
			if !ctypes.IsSigned(from) && ctypes.BitWidth(from) == 64 {
				f = float64(uint64(c.i))
			} else {
				f = float64(c.i)
			}
		}
		if ft, ok := to.(ctypes.Tfloat); ok && ft.Size == ctypes.F32 {
			f = float64(float32(f))
		}
		return constVal{isFloat: true, f: f}
	case ctypes.IsComplex(to):
		return w.convert(c, from, ctypes.ComplexElem(to))
	}
	if c.sym != "" {
		if ctypes.BitWidth(to) < 64 {
			w.fail("address constant does not fit in %s", to)
		}
		return c
	}
	i := c.i
	if c.isFloat {
		if !ctypes.IsSigned(to) && ctypes.BitWidth(to) == 64 && c.f >= math.MaxInt64 {
			i = int64(uint64(c.f))
		} else {
			i = int64(c.f)
		}
	}
	return constVal{i: canon(i, to)}
}

// eval computes the value of a constant expression.
func (w *dataWriter) eval(e ast.Expr) constVal {
	switch e := e.(type) {
	case ast.IntConst:
		if ctypes.IsFloat(e.Typ) {
			return constVal{isFloat: true, f: float64(e.Value)}
		}
		return constVal{i: canon(e.Value, e.Typ)}
	case ast.FloatConst:
		return constVal{isFloat: true, f: e.Value}
	case ast.StringLit:
		return constVal{sym: w.u.stringSym(e.Value)}
	case ast.Ident:
		switch e.Typ.(type) {
		case ctypes.Tarray, ctypes.Tfunction:
			return w.addr(e)
		}
	case ast.Cast:
		return w.convert(w.eval(e.X), e.X.ExprType(), e.Typ)
	case ast.Unary:
		return w.unary(e)
	case ast.Binary:
		return w.binary(e)
	case ast.Cond:
		if w.eval(e.C).truth() {
			return w.convert(w.eval(e.Then), e.Then.ExprType(), e.Typ)
		}
		return w.convert(w.eval(e.Else), e.Else.ExprType(), e.Typ)
	}
	w.fail("element is not a compile-time constant")
	return constVal{}
}

func (w *dataWriter) unary(e ast.Unary) constVal {
	if e.Op == ast.AddrOf {
		return w.addr(e.X)
	}
	if e.Op == ast.LogNot {
		return boolConst(!w.eval(e.X).truth())
	}
	x := w.convert(w.eval(e.X), e.X.ExprType(), e.Typ)
	if x.sym != "" {
		w.fail("invalid use of an address constant")
	}
	switch e.Op {
	case ast.Plus:
		return x
	case ast.Neg:
		if x.isFloat {
			return constVal{isFloat: true, f: -x.f}
		}
		return constVal{i: canon(-x.i, e.Typ)}
	case ast.BitNot:
		return constVal{i: canon(^x.i, e.Typ)}
	}
	w.fail("element is not a compile-time constant")
	return constVal{}
}

var floatOps = map[ast.BinaryOp]ir.Opcode{ast.Add: ir.OpFAdd, ast.Sub: ir.OpFSub, ast.Mul: ir.OpFMul, ast.Div: ir.OpFDiv}

func (w *dataWriter) binary(e ast.Binary) constVal {
	xt, yt := ast.Decay(e.X.ExprType()), ast.Decay(e.Y.ExprType())
	switch {
	case e.Op == ast.LogAnd:
		return boolConst(w.eval(e.X).truth() && w.eval(e.Y).truth())
	case e.Op == ast.LogOr:
		return boolConst(w.eval(e.X).truth() || w.eval(e.Y).truth())
	case (e.Op == ast.Add || e.Op == ast.Sub) && (ctypes.IsPointer(xt) || ctypes.IsPointer(yt)):
		return w.pointerArith(e, xt, yt)
	}

	if e.Op.IsComparison() {
		ct := ast.CommonType(xt, yt)
		if ctypes.IsPointer(xt) || ctypes.IsPointer(yt) {
			ct = ctypes.ULong()
		}
		x := w.convert(w.eval(e.X), xt, ct)
		y := w.convert(w.eval(e.Y), yt, ct)
		if x.sym != "" || y.sym != "" {
			w.fail("comparison of address constants")
		}
		conds := compareConds[e.Op]
		if x.isFloat {
			return boolConst(conds[0].EvalFloat(x.f, y.f))
		}
		c := conds[0]
		if !ctypes.IsSigned(ct) {
			c = conds[1]
		}
		return boolConst(c.Eval(x.i, y.i))
	}

	t := e.Typ
	yconv := t
	if e.Op == ast.Shl || e.Op == ast.Shr {
		yconv = ast.Promote(yt)
	}
	x := w.convert(w.eval(e.X), xt, t)
	y := w.convert(w.eval(e.Y), yt, yconv)
	if x.sym != "" || y.sym != "" {
		w.fail("invalid arithmetic on an address constant")
	}
	if x.isFloat {
		op, ok := floatOps[e.Op]
		if !ok {
			w.fail("invalid operands to %s", e.Op)
		}
		r, _ := ir.FoldFloat(op, ir.F64, x.f, y.f)
		return w.convert(constVal{isFloat: true, f: r}, ctypes.Double(), t)
	}
	signed := ctypes.IsSigned(t)
	var op ir.Opcode
	switch e.Op {
	case ast.Add:
		op = ir.OpAdd
	case ast.Sub:
		op = ir.OpSub
	case ast.Mul:
		op = ir.OpMul
	case ast.Div:
		op = pick(signed, ir.OpSDiv, ir.OpUDiv)
	case ast.Mod:
		op = pick(signed, ir.OpSRem, ir.OpURem)
	case ast.And:
		op = ir.OpAnd
	case ast.Or:
		op = ir.OpOr
	case ast.Xor:
		op = ir.OpXor
	case ast.Shl:
		op = ir.OpShl
	case ast.Shr:
		op = pick(signed, ir.OpSShr, ir.OpUShr)
	default:
		w.fail("invalid operands to %s", e.Op)
	}
	r, ok := ir.FoldBinary(op, ir.I64, x.i, y.i)
	if !ok {
		w.fail("division by zero")
	}
	return constVal{i: canon(r, t)}
}

func pick(signed bool, s, u ir.Opcode) ir.Opcode {
	if signed {
		return s
	}
	return u
}

func (w *dataWriter) pointerArith(e ast.Binary, xt, yt ctypes.Type) constVal {
	if ctypes.IsPointer(xt) && ctypes.IsPointer(yt) {
		x, y := w.eval(e.X), w.eval(e.Y)
		if e.Op != ast.Sub || x.sym != y.sym {
			w.fail("difference of unrelated address constants")
		}
		return constVal{i: canon((x.i-y.i)/ast.PointeeSize(xt), e.Typ)}
	}
	pe, ie, pt := e.X, e.Y, xt
	if !ctypes.IsPointer(xt) {
		pe, ie, pt = e.Y, e.X, yt
	}
	p := w.eval(pe)
	idx := w.convert(w.eval(ie), ie.ExprType(), ctypes.Long())
	if idx.sym != "" {
		w.fail("invalid arithmetic on an address constant")
	}
	d := idx.i * ast.PointeeSize(pt)
	if e.Op == ast.Sub {
		d = -d
	}
	p.i += d
	return p
}

// addr computes the address constant of an lvalue.
func (w *dataWriter) addr(e ast.Expr) constVal {
	switch e := e.(type) {
	case ast.Ident:
		if sym, ok := w.resolve(e.Name); ok {
			return constVal{sym: sym}
		}
		w.fail("address of %q is not constant", e.Name)
	case ast.StringLit:
		return constVal{sym: w.u.stringSym(e.Value)}
	case ast.Member:
		var base constVal
		var bt ctypes.Type
		if e.Arrow {
			base, bt = w.eval(e.X), ctypes.Elem(ast.Decay(e.X.ExprType()))
		} else {
			base, bt = w.addr(e.X), e.X.ExprType()
		}
		for _, f := range w.layout(bt).Fields {
			if f.Name == e.Name {
				if f.BitField {
					w.fail("address of bit-field %q", f.Name)
				}
				base.i += f.Offset
				return base
			}
		}
		w.fail("%s has no member %q", bt, e.Name)
	case ast.Index:
		x, i := e.X, e.Idx
		if !ctypes.IsPointer(ast.Decay(x.ExprType())) {
			x, i = i, x
		}
		var base constVal
		if _, ok := x.ExprType().(ctypes.Tarray); ok {
			base = w.addr(x)
		} else {
			base = w.eval(x)
		}
		idx := w.convert(w.eval(i), i.ExprType(), ctypes.Long())
		base.i += idx.i * ast.PointeeSize(x.ExprType())
		return base
	case ast.Unary:
		if e.Op == ast.Deref {
			return w.eval(e.X)
		}
	}
	w.fail("element is not a compile-time constant")
	return constVal{}
}
