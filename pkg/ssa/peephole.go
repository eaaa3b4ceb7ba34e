package ssa

import (
	"math"
	"math/bits"

	"github.com/raymyers/ralph-x64/pkg/ir"
)

// rewriter walks the live instructions applying a local rule. A rule
// either rewrites the instruction in place and returns its own ID, or
// returns another value that replaces it.
func rewrite(f *Func, rule func(f *Func, in *Instr) (int, bool)) bool {
	subst := make(map[int]int)
	resolve := func(v int) int {
		for {
			r, ok := subst[v]
			if !ok {
				return v
			}
			v = r
		}
	}
	changed := false
	for _, b := range f.LiveBlocks() {
		for _, id := range append([]int(nil), b.Instrs...) {
			in := f.Instrs[id]
			if in.Op == ir.OpNop {
				continue
			}
			for i, a := range in.Args {
				in.Args[i] = resolve(a)
			}
			r, ok := rule(f, in)
			if !ok {
				continue
			}
			changed = true
			if r != id {
				subst[id] = r
				f.Remove(id)
			}
		}
	}
	if changed {
		f.Replace(subst)
		f.Compact()
	}
	return changed
}

func setConst(in *Instr, v int64) {
	in.Op, in.Args = ir.OpIntConst, nil
	in.Imm = ir.Normalize(in.Type, v)
}

func setFloat(in *Instr, v float64) {
	in.Op, in.Args = ir.OpFloatConst, nil
	if in.Type == ir.F32 {
		v = float64(float32(v))
	}
	in.Float = v
}

// peephole applies algebraic identities and folds pure integer and
// floating operations on constants.
func peephole(f *Func) bool { return rewrite(f, simplify) }

func simplify(f *Func, in *Instr) (int, bool) {
	id := in.ID
	switch in.Op {
	case ir.OpPhi:
		v := -1
		for _, a := range in.Args {
			if a == id || a == v {
				continue
			}
			if v >= 0 {
				return 0, false
			}
			v = a
		}
		if v >= 0 {
			return v, true
		}
		return 0, false
	case ir.OpCopy:
		return in.Args[0], true
	case ir.OpDbgValue:
		return 0, false
	}
	if len(in.Args) == 0 {
		return 0, false
	}

	x := in.Args[0]
	cx, okx := f.IntConst(x)
	if len(in.Args) == 1 {
		def := f.Instrs[x]
		switch {
		case okx && in.Type.IsInt() && f.Instrs[x].Type.IsInt():
			if r, ok := ir.FoldUnary(in.Op, in.Type, &in.Payload, cx); ok {
				setConst(in, r)
				return id, true
			}
		case in.Op == ir.OpNeg && def.Op == ir.OpNeg, in.Op == ir.OpNot && def.Op == ir.OpNot,
			in.Op == ir.OpFNeg && def.Op == ir.OpFNeg:
			return def.Args[0], true
		}
		return foldFloatUnary(f, in)
	}
	if len(in.Args) != 2 || in.Op == ir.OpStore || in.Op == ir.OpMemcpy || in.Op == ir.OpX87 {
		return 0, false
	}

	y := in.Args[1]
	cy, oky := f.IntConst(y)
	if isFloatArith(in.Op) {
		fx, ok1 := f.FloatConst(x)
		fy, ok2 := f.FloatConst(y)
		if ok1 && ok2 {
			if r, ok := ir.FoldFloat(in.Op, in.Type, fx, fy); ok {
				setFloat(in, r)
				return id, true
			}
		}
		return 0, false
	}
	if in.Op == ir.OpCmp || in.Op == ir.OpCmpBranch {
		if f.Instrs[x].Type.IsFloat() {
			fx, ok1 := f.FloatConst(x)
			fy, ok2 := f.FloatConst(y)
			if ok1 && ok2 && in.Op == ir.OpCmp {
				setConst(in, b2i(in.Cond.EvalFloat(fx, fy)))
				return id, true
			}
			return 0, false
		}
		switch {
		case okx && oky && in.Op == ir.OpCmp:
			setConst(in, b2i(in.Cond.Eval(cx, cy)))
			return id, true
		case okx && !oky:
			// constants go second, where they can be immediates
			in.Args[0], in.Args[1] = y, x
			in.Cond = in.Cond.Swap()
			return id, true
		}
		return 0, false
	}
	if !in.Type.IsInt() {
		return 0, false
	}
	if okx && oky {
		if in.Op == ir.OpInsertBits {
			setConst(in, ir.InsertBits(cx, cy, in.Offset, in.Width))
			return id, true
		}
		if r, ok := ir.FoldBinary(in.Op, in.Type, cx, cy); ok {
			setConst(in, r)
			return id, true
		}
		return 0, false
	}
	if okx && in.Op.IsCommutative() {
		in.Args[0], in.Args[1] = y, x
		if r, ok := simplify(f, in); ok {
			return r, true
		}
		return id, true
	}
	bitsT := int64(in.Type.Bits())
	switch in.Op {
	case ir.OpSub, ir.OpXor:
		if x == y {
			setConst(in, 0)
			return id, true
		}
	case ir.OpAnd, ir.OpOr:
		if x == y {
			return x, true
		}
	}
	if !oky {
		return 0, false
	}
	switch in.Op {
	case ir.OpAdd, ir.OpSub, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpSShr, ir.OpUShr:
		if cy == 0 {
			return x, true
		}
	case ir.OpAnd:
		if cy == 0 {
			setConst(in, 0)
			return id, true
		}
		if ir.Normalize(in.Type, cy) == ir.Normalize(in.Type, -1) {
			return x, true
		}
	case ir.OpSDiv, ir.OpUDiv:
		if cy == 1 {
			return x, true
		}
	case ir.OpMul:
		switch {
		case cy == 0:
			setConst(in, 0)
			return id, true
		case cy == 1:
			return x, true
		case cy > 0 && cy&(cy-1) == 0:
			in.Op = ir.OpShl
			in.Args[1] = f.Const(in.Type, int64(bits.TrailingZeros64(uint64(cy))))
			return id, true
		}
	}
	// shift chains by constants
	def := f.Instrs[x]
	if (in.Op == ir.OpShl || in.Op == ir.OpSShr || in.Op == ir.OpUShr) && def.Op == in.Op && def.Type == in.Type {
		c1, ok := f.IntConst(def.Args[1])
		if !ok || c1 < 0 || c1 >= bitsT || cy < 0 || cy >= bitsT {
			return 0, false
		}
		total := c1 + cy
		if total >= bitsT {
			if in.Op != ir.OpSShr {
				setConst(in, 0)
				return id, true
			}
			total = bitsT - 1
		}
		in.Args[0] = def.Args[0]
		in.Args[1] = f.Const(in.Type, total)
		return id, true
	}
	return 0, false
}

func foldFloatUnary(f *Func, in *Instr) (int, bool) {
	x := f.Instrs[in.Args[0]]
	switch in.Op {
	case ir.OpFNeg, ir.OpFloatConv:
		if v, ok := f.FloatConst(x.ID); ok {
			if in.Op == ir.OpFNeg {
				v = -v
			}
			setFloat(in, v)
			return in.ID, true
		}
	case ir.OpIntToFloat:
		c, ok := f.IntConst(x.ID)
		if !ok {
			return 0, false
		}
		var v float64
		switch {
		case in.Signed && in.Type == ir.F32:
			v = float64(float32(c))
		case in.Signed:
			v = float64(c)
		case x.Type == ir.I32 && in.Type == ir.F32:
			v = float64(float32(uint32(c)))
		case x.Type == ir.I32:
			v = float64(uint32(c))
		case in.Type == ir.F32:
			v = float64(float32(uint64(c)))
		default:
			v = float64(uint64(c))
		}
		setFloat(in, v)
		return in.ID, true
	case ir.OpBitcast:
		if c, ok := f.IntConst(x.ID); ok && in.Type.IsFloat() {
			if in.Type == ir.F32 {
				setFloat(in, float64(math.Float32frombits(uint32(c))))
			} else {
				setFloat(in, math.Float64frombits(uint64(c)))
			}
			return in.ID, true
		}
	}
	return 0, false
}

func isFloatArith(op ir.Opcode) bool {
	switch op {
	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		return true
	}
	return false
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// fuse turns a branch on the result of a compare used nowhere else into
// a compare-and-branch.
func fuse(f *Func) bool {
	uses := f.Uses()
	changed := false
	for _, b := range f.LiveBlocks() {
		t := f.Terminator(b)
		if t.Op != ir.OpBranch {
			continue
		}
		c := f.Instrs[t.Args[0]]
		if c.Op != ir.OpCmp || c.Block != b.ID || len(operandUses(f, uses[c.ID])) != 1 {
			continue
		}
		t.Op, t.Cond = ir.OpCmpBranch, c.Cond
		t.Args = append([]int(nil), c.Args...)
		f.Remove(c.ID)
		changed = true
	}
	if changed {
		f.dropStaleMarkers()
		f.Compact()
	}
	return changed
}

// operandUses filters out the dbgvalue markers among users.
func operandUses(f *Func, users []int) []int {
	var out []int
	for _, u := range users {
		if f.Instrs[u].Op != ir.OpDbgValue {
			out = append(out, u)
		}
	}
	return out
}

// bitext collapses chains of extensions and truncations to a single
// extension of the original value, and drops extensions of values whose
// upper bits are already known.
func bitext(f *Func) bool { return rewrite(f, simplifyExt) }

func simplifyExt(f *Func, in *Instr) (int, bool) {
	switch in.Op {
	case ir.OpSExt, ir.OpZExt:
		x := f.Instrs[in.Args[0]]
		if in.Width >= x.Type.Bits() && x.Type == in.Type {
			return x.ID, true
		}
		switch x.Op {
		case ir.OpSExt, ir.OpZExt:
			if in.Width <= x.Width {
				// only bits below the inner width are observed
				in.Args[0] = x.Args[0]
				return in.ID, true
			}
			if x.Op == in.Op || (in.Op == ir.OpSExt && x.Op == ir.OpZExt) {
				if x.Type == in.Type {
					return x.ID, true
				}
				in.Op, in.Width, in.Args[0] = x.Op, x.Width, x.Args[0]
				return in.ID, true
			}
		case ir.OpLoad:
			if x.Mem.IsFloat() || x.Type != in.Type {
				break
			}
			w := int(x.Mem.Size() * 8)
			if (in.Op == ir.OpZExt && !x.Signed && w <= in.Width) ||
				(in.Op == ir.OpSExt && ((x.Signed && w <= in.Width) || (!x.Signed && w < in.Width))) {
				return x.ID, true
			}
		case ir.OpCmp:
			if x.Type == in.Type && (in.Op == ir.OpZExt || in.Width >= 2) {
				return x.ID, true
			}
		}
	case ir.OpTrunc:
		x := f.Instrs[in.Args[0]]
		if (x.Op == ir.OpSExt || x.Op == ir.OpZExt) && f.Instrs[x.Args[0]].Type == ir.I32 {
			if x.Width >= 32 {
				return x.Args[0], true
			}
			in.Op, in.Width, in.Args[0] = x.Op, x.Width, x.Args[0]
			return in.ID, true
		}
	case ir.OpExtractBits:
		if in.Offset == 0 && f.Instrs[in.Args[0]].Type == in.Type {
			op := ir.OpZExt
			if in.Signed {
				op = ir.OpSExt
			}
			in.Op, in.Signed = op, false
			return in.ID, true
		}
	}
	return 0, false
}
