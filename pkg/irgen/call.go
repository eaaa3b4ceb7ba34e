// Calls and builtins.

package irgen

import (
	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

var voidValue = value{ty: ctypes.Void(), ref: ir.NoRef, im: ir.NoRef}

// calleeType returns the function type called through an expression of
// function or pointer-to-function type.
func (b *builder) calleeType(t ctypes.Type) ctypes.Tfunction {
	if p, ok := t.(ctypes.Tpointer); ok {
		t = p.Elem
	}
	ft, ok := t.(ctypes.Tfunction)
	if !ok {
		b.fail("called object of type %s is not a function", t)
	}
	return ft
}

// call lowers a function call. Memory-resident arguments are passed by
// the address of a copy the callee may not modify; a memory-resident
// result is written to a fresh temporary passed as the last operand.
func (b *builder) call(e ast.Call) {
	ft := b.calleeType(e.Func.ExprType())
	site := &ir.CallSite{Func: ft}
	var args []ir.Ref

	if id, ok := e.Func.(ast.Ident); ok {
		if s, ok := b.lookup(id.Name); ok && s.sym != "" && s.slot < 0 && s.addr == ir.NoRef {
			if _, fn := s.ty.(ctypes.Tfunction); fn {
				site.Sym = s.sym
			}
		}
	}
	if site.Sym == "" {
		args = append(args, b.eval(e.Func).ref)
	}

	if len(e.Args) < len(ft.Params) || (len(e.Args) > len(ft.Params) && !ft.VarArg) {
		b.fail("call to function of type %s with %d arguments", ft, len(e.Args))
	}
	for i, a := range e.Args {
		var pt ctypes.Type
		if i < len(ft.Params) {
			pt = ft.Params[i]
		} else {
			pt = ast.ArgPromote(ast.Decay(a.ExprType()))
		}
		v := b.evalAs(a, pt)
		r := v.ref
		if ir.InMemory(pt) {
			r = b.argCopy(v, pt)
		}
		args = append(args, r)
		site.ArgTypes = append(site.ArgTypes, pt)
	}

	rt := ft.Return
	switch {
	case ctypes.IsVoid(rt):
		b.emit(ir.Instr{Op: ir.OpCall, Args: args, Payload: ir.Payload{Call: site}})
		b.pushValue(voidValue)
	case ir.InMemory(rt):
		buf := b.temp(rt)
		site.RetBuf = true
		args = append(args, buf)
		b.emit(ir.Instr{Op: ir.OpCall, Args: args, Payload: ir.Payload{Call: site}})
		b.pushValue(b.loadValue(buf, 0, rt))
	default:
		r := b.emit(ir.Instr{Op: ir.OpCall, Type: ir.ValueType(rt), Args: args, Payload: ir.Payload{Call: site}})
		// only the low bits of narrow integer results are defined
		if ctypes.IsInteger(rt) {
			r = b.normalize(r, rt)
		}
		b.pushValue(scalar(rt, r))
	}
}

// argCopy returns the address of a private copy of a memory-resident
// argument. Values already in a temporary need no second copy.
func (b *builder) argCopy(v value, t ctypes.Type) ir.Ref {
	if v.im != ir.NoRef {
		return b.materialize(v)
	}
	if b.isTemp(v.ref) {
		return v.ref
	}
	tmp := b.temp(t)
	b.memcpy(tmp, v.ref, b.sizeof(t))
	return tmp
}

// isTemp reports whether r addresses an anonymous slot.
func (b *builder) isTemp(r ir.Ref) bool {
	in := &b.fn.Code[r]
	return in.Op == ir.OpLocalAddr && b.fn.Locals[in.Slot].Name == ""
}

// builtin lowers a compiler builtin and pushes its result.
func (b *builder) builtin(e ast.Builtin) {
	arg := func(i int) ast.Expr {
		if i >= len(e.Args) {
			b.fail("too few arguments to __builtin_%s", e.Name)
		}
		return e.Args[i]
	}
	// the l and ll variants operate on 64-bit operands
	wide := len(e.Name) > 0 && e.Name[len(e.Name)-1] == 'l'
	operand := func(signed bool) (ctypes.Type, ir.Type) {
		switch {
		case wide && signed:
			return ctypes.Long(), ir.I64
		case wide:
			return ctypes.ULong(), ir.I64
		case signed:
			return ctypes.Int(), ir.I32
		}
		return ctypes.UInt(), ir.I32
	}
	toInt := func(r ir.Ref) value {
		if b.typeOf(r) == ir.I64 {
			r = b.unop(ir.OpTrunc, ir.I32, r, ir.Payload{})
		}
		return scalar(ctypes.Int(), r)
	}

	switch e.Name {
	case "popcount", "popcountl", "popcountll":
		t, vt := operand(false)
		x := b.evalAs(arg(0), t).ref
		b.pushValue(toInt(b.unop(ir.OpPopcount, vt, x, ir.Payload{})))
	case "parity", "parityl", "parityll":
		t, vt := operand(false)
		x := b.evalAs(arg(0), t).ref
		pc := toInt(b.unop(ir.OpPopcount, vt, x, ir.Payload{})).ref
		b.pushValue(scalar(ctypes.Int(), b.binop(ir.OpAnd, ir.I32, pc, b.iconst(ir.I32, 1))))
	case "clz", "clzl", "clzll":
		t, vt := operand(false)
		x := b.evalAs(arg(0), t).ref
		b.pushValue(toInt(b.unop(ir.OpClz, vt, x, ir.Payload{})))
	case "ctz", "ctzl", "ctzll":
		t, vt := operand(false)
		x := b.evalAs(arg(0), t).ref
		b.pushValue(toInt(b.unop(ir.OpCtz, vt, x, ir.Payload{})))
	case "ffs", "ffsl", "ffsll":
		// ffs(x) = (ctz(x | topbit) + 1) * (x != 0); or-ing in the top
		// bit keeps ctz defined at zero without changing the lowest set
		// bit of a non-zero x
		t, vt := operand(true)
		x := b.evalAs(arg(0), t).ref
		top := b.iconst(vt, int64(-1)<<(vt.Bits()-1))
		tz := toInt(b.unop(ir.OpCtz, vt, b.binop(ir.OpOr, vt, x, top), ir.Payload{})).ref
		nz := b.cmp(ir.CondNe, x, b.iconst(vt, 0))
		one := b.binop(ir.OpAdd, ir.I32, tz, b.iconst(ir.I32, 1))
		b.pushValue(scalar(ctypes.Int(), b.binop(ir.OpMul, ir.I32, one, nz)))
	case "bswap16":
		x := b.evalAs(arg(0), e.Typ).ref
		lo := b.binop(ir.OpShl, ir.I32, b.binop(ir.OpAnd, ir.I32, x, b.iconst(ir.I32, 0xff)), b.iconst(ir.I32, 8))
		hi := b.binop(ir.OpUShr, ir.I32, x, b.iconst(ir.I32, 8))
		b.pushValue(scalar(e.Typ, b.binop(ir.OpOr, ir.I32, lo, hi)))
	case "bswap32", "bswap64":
		x := b.evalAs(arg(0), e.Typ).ref
		b.pushValue(scalar(e.Typ, b.unop(ir.OpBswap, ir.ValueType(e.Typ), x, ir.Payload{})))
	case "expect":
		v := b.evalAs(arg(0), ctypes.Long())
		b.discard(arg(1))
		b.pushValue(v)
	case "unreachable":
		b.emit(ir.Instr{Op: ir.OpUnreachable})
		b.place(b.newLabel())
		b.pushValue(voidValue)
	case "trap":
		b.emit(ir.Instr{Op: ir.OpTrap})
		b.pushValue(voidValue)
	case "va_start":
		if !b.fn.Type.VarArg {
			b.fail("va_start used in function with fixed arguments")
		}
		ap := b.evalPointer(arg(0)).ref
		for _, extra := range e.Args[1:] {
			b.discard(extra)
		}
		b.emit(ir.Instr{Op: ir.OpVaStart, Args: []ir.Ref{ap}})
		b.pushValue(voidValue)
	case "va_end":
		b.discard(arg(0))
		b.pushValue(voidValue)
	case "va_copy":
		dst := b.evalPointer(arg(0)).ref
		src := b.evalPointer(arg(1)).ref
		b.memcpy(dst, src, abi.VaListSize)
		b.pushValue(voidValue)
	case "va_arg":
		ap := b.evalPointer(arg(0)).ref
		b.pushValue(b.vaArg(ap, e.ArgType))
	default:
		b.fail("unknown builtin __builtin_%s", e.Name)
	}
}

// Field offsets of __va_list_tag.
const (
	vaGPOffset    = 0
	vaFPOffset    = 4
	vaOverflowArg = 8
	vaRegSaveArea = 16
)

// vaArg fetches the next variadic argument of type t. Arguments the
// caller passed in registers are read from the register save area
// while enough of it remains; everything else comes from the overflow
// area.
func (b *builder) vaArg(ap ir.Ref, t ctypes.Type) value {
	l := b.layout(t)
	dst := b.temp(t)
	if l.Size == 0 {
		return b.loadValue(dst, 0, t)
	}
	classes, err := abi.Classify(t)
	b.check(err)
	gp, sse := 0, 0
	mem := abi.InMemory(classes)
	for _, c := range classes {
		switch c {
		case abi.Integer:
			gp++
		case abi.SSE:
			sse++
		case abi.X87, abi.X87Up, abi.ComplexX87:
			mem = true
		}
	}

	done := b.newLabel()
	stack := b.newLabel()
	if !mem {
		regs := b.newLabel()
		gpOff := b.emit(ir.Instr{Op: ir.OpLoad, Type: ir.I32, Args: []ir.Ref{ap}, Payload: ir.Payload{Mem: ir.M32, Off: vaGPOffset}})
		fpOff := b.emit(ir.Instr{Op: ir.OpLoad, Type: ir.I32, Args: []ir.Ref{ap}, Payload: ir.Payload{Mem: ir.M32, Off: vaFPOffset}})
		fits := b.iconst(ir.I32, 1)
		if gp > 0 {
			fits = b.cmp(ir.CondULe, gpOff, b.iconst(ir.I32, int64(abi.RegSaveGPSize-8*gp)))
		}
		if sse > 0 {
			c := b.cmp(ir.CondULe, fpOff, b.iconst(ir.I32, int64(abi.RegSaveSize-16*sse)))
			fits = b.binop(ir.OpAnd, ir.I32, fits, c)
		}
		b.branch(fits, regs, stack)

		b.place(regs)
		save := b.emit(ir.Instr{Op: ir.OpLoad, Type: ir.I64, Args: []ir.Ref{ap}, Payload: ir.Payload{Mem: ir.M64, Off: vaRegSaveArea}})
		gpBase := b.binop(ir.OpAdd, ir.I64, save, b.unop(ir.OpZExt, ir.I64, gpOff, ir.Payload{Width: 32}))
		fpBase := b.binop(ir.OpAdd, ir.I64, save, b.unop(ir.OpZExt, ir.I64, fpOff, ir.Payload{Width: 32}))
		gi, si := 0, 0
		for i, c := range classes {
			chunk := min(8, l.Size-int64(i)*8)
			var src ir.Ref
			switch c {
			case abi.Integer:
				src = b.offset(gpBase, int64(gi)*8)
				gi++
			case abi.SSE:
				src = b.offset(fpBase, int64(si)*16)
				si++
			default:
				continue
			}
			b.memcpy(b.offset(dst, int64(i)*8), src, chunk)
		}
		if gp > 0 {
			next := b.binop(ir.OpAdd, ir.I32, gpOff, b.iconst(ir.I32, int64(8*gp)))
			b.emit(ir.Instr{Op: ir.OpStore, Args: []ir.Ref{ap, next}, Payload: ir.Payload{Mem: ir.M32, Off: vaGPOffset}})
		}
		if sse > 0 {
			next := b.binop(ir.OpAdd, ir.I32, fpOff, b.iconst(ir.I32, int64(16*sse)))
			b.emit(ir.Instr{Op: ir.OpStore, Args: []ir.Ref{ap, next}, Payload: ir.Payload{Mem: ir.M32, Off: vaFPOffset}})
		}
		b.jump(done)
	} else {
		b.jump(stack)
	}

	b.place(stack)
	p := b.emit(ir.Instr{Op: ir.OpLoad, Type: ir.I64, Args: []ir.Ref{ap}, Payload: ir.Payload{Mem: ir.M64, Off: vaOverflowArg}})
	if l.Align > 8 {
		p = b.binop(ir.OpAnd, ir.I64, b.offset(p, l.Align-1), b.iconst(ir.I64, -l.Align))
	}
	b.memcpy(dst, p, l.Size)
	next := b.offset(p, ctypes.AlignUp(l.Size, 8))
	b.emit(ir.Instr{Op: ir.OpStore, Args: []ir.Ref{ap, next}, Payload: ir.Payload{Mem: ir.M64, Off: vaOverflowArg}})
	b.jump(done)

	b.place(done)
	return b.loadValue(dst, 0, t)
}
