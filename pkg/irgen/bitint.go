// Lowering of _BitInt(N) for N > 64. Values live in memory as
// little-endian 64-bit words; a value on the stack is the address of
// its first word. The top word is kept normalized: bits above N copy
// the sign bit for signed types and are zero for unsigned ones.

package irgen

import (
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

var voidPtr = ctypes.Pointer(ctypes.Void())

var wordOps = map[ast.BinaryOp]ir.Opcode{ast.And: ir.OpAnd, ast.Or: ir.OpOr, ast.Xor: ir.OpXor}

func words(t ctypes.Type) int { return ctypes.BitIntWords(ctypes.BitWidth(t)) }

func (b *builder) word(addr ir.Ref, i int) ir.Ref {
	return b.emit(ir.Instr{Op: ir.OpLoad, Type: ir.I64, Args: []ir.Ref{addr}, Payload: ir.Payload{Mem: ir.M64, Off: int64(i) * 8}})
}

func (b *builder) setWord(addr ir.Ref, i int, v ir.Ref) {
	b.emit(ir.Instr{Op: ir.OpStore, Args: []ir.Ref{addr, v}, Payload: ir.Payload{Mem: ir.M64, Off: int64(i) * 8}})
}

// normalizeTop re-extends the top word of a wide value in place.
func (b *builder) normalizeTop(addr ir.Ref, t ctypes.Type) {
	w := ctypes.BitWidth(t)
	r := w % 64
	if r == 0 {
		return
	}
	top := words(t) - 1
	op := ir.OpZExt
	if ctypes.IsSigned(t) {
		op = ir.OpSExt
	}
	v := b.unop(op, ir.I64, b.word(addr, top), ir.Payload{Width: r})
	b.setWord(addr, top, v)
}

// wideConst materializes a constant of wide type t.
func (b *builder) wideConst(v int64, t ctypes.Type) value {
	tmp := b.temp(t)
	fill := int64(0)
	if v < 0 {
		fill = -1
	}
	b.setWord(tmp, 0, b.iconst(ir.I64, v))
	for i := 1; i < words(t); i++ {
		b.setWord(tmp, i, b.iconst(ir.I64, fill))
	}
	b.normalizeTop(tmp, t)
	return scalar(t, tmp)
}

// convertWide converts to or from a wide _BitInt.
func (b *builder) convertWide(v value, t ctypes.Type) value {
	from := v.ty
	switch {
	case ctypes.IsFloat(t) || ctypes.IsFloat(from) || ctypes.IsPointer(t):
		b.notImplemented("conversion between %s and %s", from, t)
	case !ctypes.IsWideBitInt(from):
		// narrow integer or pointer to wide
		src := b.convert(v, int64Like(from))
		tmp := b.temp(t)
		b.setWord(tmp, 0, src.ref)
		fill := b.iconst(ir.I64, 0)
		if ctypes.IsSigned(from) {
			fill = b.binop(ir.OpSShr, ir.I64, src.ref, b.iconst(ir.I64, 63))
		}
		for i := 1; i < words(t); i++ {
			b.setWord(tmp, i, fill)
		}
		b.normalizeTop(tmp, t)
		return scalar(t, tmp)
	case !ctypes.IsWideBitInt(t):
		// wide to narrow: the low word, reinterpreted
		low := b.word(v.ref, 0)
		return b.convert(scalar(ctypes.ULong(), low), t)
	}
	// wide to wide
	tmp := b.temp(t)
	n, m := words(t), words(from)
	var fill ir.Ref = ir.NoRef
	for i := 0; i < n; i++ {
		if i < m {
			b.setWord(tmp, i, b.word(v.ref, i))
			continue
		}
		if fill == ir.NoRef {
			if ctypes.IsSigned(from) {
				fill = b.binop(ir.OpSShr, ir.I64, b.word(v.ref, m-1), b.iconst(ir.I64, 63))
			} else {
				fill = b.iconst(ir.I64, 0)
			}
		}
		b.setWord(tmp, i, fill)
	}
	b.normalizeTop(tmp, t)
	return scalar(t, tmp)
}

// int64Like returns the 64-bit integer type with the signedness of t.
func int64Like(t ctypes.Type) ctypes.Type {
	if ctypes.IsSigned(t) {
		return ctypes.Long()
	}
	return ctypes.ULong()
}

func (b *builder) wideIsNonZero(v value) ir.Ref {
	acc := b.word(v.ref, 0)
	for i := 1; i < words(v.ty); i++ {
		acc = b.binop(ir.OpOr, ir.I64, acc, b.word(v.ref, i))
	}
	return b.cmp(ir.CondNe, acc, b.iconst(ir.I64, 0))
}

func (b *builder) wideNot(v value) value {
	tmp := b.temp(v.ty)
	for i := 0; i < words(v.ty); i++ {
		b.setWord(tmp, i, b.unop(ir.OpNot, ir.I64, b.word(v.ref, i), ir.Payload{}))
	}
	b.normalizeTop(tmp, v.ty)
	return scalar(v.ty, tmp)
}

// carryBit widens an I32 0/1 flag to I64.
func (b *builder) carryBit(c ir.Ref) ir.Ref {
	return b.unop(ir.OpZExt, ir.I64, c, ir.Payload{Width: 32})
}

// wideArith applies an arithmetic or bitwise operator word by word.
// Addition and subtraction propagate the carry with unsigned compares;
// multiplication and division call runtime routines.
func (b *builder) wideArith(op ast.BinaryOp, x, y value) value {
	t := x.ty
	n := words(t)
	tmp := b.temp(t)
	switch op {
	case ast.Add:
		var carry ir.Ref = ir.NoRef
		for i := 0; i < n; i++ {
			a, c := b.word(x.ref, i), b.word(y.ref, i)
			s := b.binop(ir.OpAdd, ir.I64, a, c)
			out := b.cmp(ir.CondULt, s, a)
			if carry != ir.NoRef {
				s2 := b.binop(ir.OpAdd, ir.I64, s, carry)
				out = b.binop(ir.OpOr, ir.I32, out, b.cmp(ir.CondULt, s2, s))
				s = s2
			}
			b.setWord(tmp, i, s)
			carry = b.carryBit(out)
		}
	case ast.Sub:
		var borrow ir.Ref = ir.NoRef
		for i := 0; i < n; i++ {
			a, c := b.word(x.ref, i), b.word(y.ref, i)
			d := b.binop(ir.OpSub, ir.I64, a, c)
			out := b.cmp(ir.CondULt, a, c)
			if borrow != ir.NoRef {
				out = b.binop(ir.OpOr, ir.I32, out, b.cmp(ir.CondULt, d, borrow))
				d = b.binop(ir.OpSub, ir.I64, d, borrow)
			}
			b.setWord(tmp, i, d)
			borrow = b.carryBit(out)
		}
	case ast.And, ast.Or, ast.Xor:
		iop := wordOps[op]
		for i := 0; i < n; i++ {
			b.setWord(tmp, i, b.binop(iop, ir.I64, b.word(x.ref, i), b.word(y.ref, i)))
		}
		return scalar(t, tmp)
	case ast.Mul:
		b.helperCall(helperMul, tmp, x.ref, y.ref, b.bitsArg(t))
	case ast.Div, ast.Mod:
		q, r := tmp, b.temp(t)
		if op == ast.Mod {
			q, r = r, tmp
		}
		a, c := x.ref, y.ref
		sym := helperUDivMod
		if ctypes.IsSigned(t) {
			// the signed routine negates its operands in place
			sym = helperSDivMod
			a, c = b.temp(t), b.temp(t)
			b.memcpy(a, x.ref, b.sizeof(t))
			b.memcpy(c, y.ref, b.sizeof(t))
		}
		b.helperCall(sym, q, r, a, c, b.bitsArg(t))
	default:
		b.fail("invalid operands to %s (%s)", op, t)
	}
	b.normalizeTop(tmp, t)
	return scalar(t, tmp)
}

// bitsArg is the width operand passed to the runtime routines.
func (b *builder) bitsArg(t ctypes.Type) ir.Ref {
	return b.iconst(ir.I32, int64(ctypes.BitWidth(t)))
}

// wideShift shifts by a constant inline, combining word pairs, and by
// a variable count through a runtime routine.
func (b *builder) wideShift(op ast.BinaryOp, x, y value) value {
	t := x.ty
	n := words(t)
	signed := ctypes.IsSigned(t)
	cnt := b.convert(y, ctypes.Long())
	k, ok := b.constOf(cnt.ref)
	tmp := b.temp(t)
	if !ok {
		if op == ast.Shl {
			b.helperCall(helperShl, tmp, x.ref, cnt.ref, b.bitsArg(t))
		} else {
			arith := int64(0)
			if signed {
				arith = 1
			}
			b.helperCall(helperShr, tmp, x.ref, cnt.ref, b.bitsArg(t), b.iconst(ir.I32, arith))
		}
		b.normalizeTop(tmp, t)
		return scalar(t, tmp)
	}
	k = int64(uint64(k) % uint64(n*64))
	q, r := int(k/64), k%64

	var fill ir.Ref
	if op == ast.Shr && signed {
		fill = b.binop(ir.OpSShr, ir.I64, b.word(x.ref, n-1), b.iconst(ir.I64, 63))
	} else {
		fill = b.iconst(ir.I64, 0)
	}
	src := func(i int) ir.Ref {
		if i < 0 || i >= n {
			return fill
		}
		return b.word(x.ref, i)
	}
	for i := 0; i < n; i++ {
		var w ir.Ref
		if op == ast.Shl {
			w = src(i - q)
			if r != 0 {
				lo := b.binop(ir.OpShl, ir.I64, w, b.iconst(ir.I64, r))
				hi := b.binop(ir.OpUShr, ir.I64, src(i-q-1), b.iconst(ir.I64, 64-r))
				w = b.binop(ir.OpOr, ir.I64, lo, hi)
			}
		} else {
			w = src(i + q)
			if r != 0 {
				lo := b.binop(ir.OpUShr, ir.I64, w, b.iconst(ir.I64, r))
				hi := b.binop(ir.OpShl, ir.I64, src(i+q+1), b.iconst(ir.I64, 64-r))
				w = b.binop(ir.OpOr, ir.I64, lo, hi)
			}
		}
		b.setWord(tmp, i, w)
	}
	b.normalizeTop(tmp, t)
	return scalar(t, tmp)
}

// wideCompare compares two wide values. Equality ORs the word
// differences; ordering is decided from the least significant word up:
// lt_i = a_i < b_i || (a_i == b_i && lt_(i-1)), with the top word
// compared with the signedness of the type.
func (b *builder) wideCompare(c ir.Cond, x, y value) ir.Ref {
	n := words(x.ty)
	switch c {
	case ir.CondEq, ir.CondNe:
		var acc ir.Ref = ir.NoRef
		for i := 0; i < n; i++ {
			d := b.binop(ir.OpXor, ir.I64, b.word(x.ref, i), b.word(y.ref, i))
			if acc == ir.NoRef {
				acc = d
			} else {
				acc = b.binop(ir.OpOr, ir.I64, acc, d)
			}
		}
		return b.cmp(c, acc, b.iconst(ir.I64, 0))
	case ir.CondGt, ir.CondUGt, ir.CondGe, ir.CondUGe:
		return b.wideCompare(c.Swap(), y, x)
	}
	strict := c == ir.CondLt || c == ir.CondULt
	signed := c == ir.CondLt || c == ir.CondLe
	var acc ir.Ref
	for i := 0; i < n; i++ {
		a, d := b.word(x.ref, i), b.word(y.ref, i)
		lt, eq := ir.CondULt, ir.CondEq
		if i == n-1 && signed {
			lt = ir.CondLt
		}
		if i == 0 {
			base := lt
			switch {
			case strict:
			case lt == ir.CondLt:
				base = ir.CondLe
			default:
				base = ir.CondULe
			}
			acc = b.cmp(base, a, d)
			continue
		}
		less := b.cmp(lt, a, d)
		same := b.cmp(eq, a, d)
		acc = b.binop(ir.OpOr, ir.I32, less, b.binop(ir.OpAnd, ir.I32, same, acc))
	}
	return acc
}
