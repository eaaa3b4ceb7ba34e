// Statement lowering.

package irgen

import (
	"sort"

	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

func (b *builder) stmt(s ast.Stmt) {
	if s == nil {
		return
	}
	if p := ast.StmtPos(s); p.IsValid() {
		b.pos = p
	}
	switch s := s.(type) {
	case ast.ExprStmt:
		b.discard(s.X)
	case ast.Decl:
		b.decl(s)
	case ast.Block:
		b.push()
		for _, item := range s.Items {
			b.stmt(item)
		}
		b.pop()
	case ast.If:
		then, els, done := b.newLabel(), b.newLabel(), b.newLabel()
		b.cond(s.Cond, then, els)
		b.place(then)
		b.stmt(s.Then)
		b.jump(done)
		b.place(els)
		b.stmt(s.Else)
		b.jump(done)
		b.place(done)
	case ast.While:
		head, body, done := b.newLabel(), b.newLabel(), b.newLabel()
		b.jump(head)
		b.place(head)
		b.cond(s.Cond, body, done)
		b.place(body)
		b.loop(s.Body, done, head)
		b.jump(head)
		b.place(done)
	case ast.DoWhile:
		body, next, done := b.newLabel(), b.newLabel(), b.newLabel()
		b.jump(body)
		b.place(body)
		b.loop(s.Body, done, next)
		b.jump(next)
		b.place(next)
		b.cond(s.Cond, body, done)
		b.place(done)
	case ast.For:
		b.push()
		b.stmt(s.Init)
		head, body, next, done := b.newLabel(), b.newLabel(), b.newLabel(), b.newLabel()
		b.jump(head)
		b.place(head)
		if s.Cond != nil {
			b.cond(s.Cond, body, done)
		} else {
			b.jump(body)
		}
		b.place(body)
		b.loop(s.Body, done, next)
		b.jump(next)
		b.place(next)
		if s.Post != nil {
			b.discard(s.Post)
		}
		b.jump(head)
		b.place(done)
		b.pop()
	case ast.Switch:
		b.switchStmt(s)
	case ast.Case:
		b.caseLabel(s)
	case ast.Default:
		if len(b.switches) == 0 {
			b.fail("default label outside switch")
		}
		sw := b.switches[len(b.switches)-1]
		b.jump(sw.deflt)
		b.place(sw.deflt)
		sw.hasDefault = true
	case ast.Break:
		if len(b.breaks) == 0 {
			b.fail("break outside loop or switch")
		}
		b.jump(b.breaks[len(b.breaks)-1])
	case ast.Continue:
		if len(b.loops) == 0 {
			b.fail("continue outside loop")
		}
		b.jump(b.loops[len(b.loops)-1].cont)
	case ast.Return:
		b.returnStmt(s)
	case ast.Goto:
		b.usedLabels[s.Label] = s.Pos
		b.jump(b.label(s.Label))
	case ast.IndirectGoto:
		addr := b.evalAs(s.X, voidPtr).ref
		r := b.emit(ir.Instr{Op: ir.OpIndirectJump, Args: []ir.Ref{addr}})
		b.ijumps = append(b.ijumps, r)
	case ast.Label:
		if b.defLabels[s.Name] {
			b.fail("duplicate label %q", s.Name)
		}
		b.defLabels[s.Name] = true
		l := b.label(s.Name)
		b.jump(l)
		b.place(l)
	case ast.InlineAsm:
		b.inlineAsm(s)
	default:
		b.fail("unsupported statement %T", s)
	}
	if len(b.stack) != 0 {
		panic(diag.Internalf(b.fn.Name, len(b.fn.Code), "value stack holds %d values after statement at %s", len(b.stack), b.pos))
	}
}

func (b *builder) loop(body ast.Stmt, brk, cont ir.LabelID) {
	b.loops = append(b.loops, loopLabels{brk: brk, cont: cont})
	b.breaks = append(b.breaks, brk)
	b.stmt(body)
	b.breaks = b.breaks[:len(b.breaks)-1]
	b.loops = b.loops[:len(b.loops)-1]
}

// cond branches on the truth of a controlling expression.
func (b *builder) cond(e ast.Expr, then, els ir.LabelID) {
	b.branch(b.toBool(b.eval(e)), then, els)
}

func (b *builder) returnStmt(s ast.Return) {
	switch {
	case s.X == nil:
		if !ctypes.IsVoid(b.ret) {
			b.emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{b.zeroOfReturn()}})
			return
		}
		b.emit(ir.Instr{Op: ir.OpReturn})
	case ctypes.IsVoid(b.ret):
		b.discard(s.X)
		b.emit(ir.Instr{Op: ir.OpReturn})
	default:
		v := b.evalAs(s.X, b.ret)
		r := v.ref
		if ir.InMemory(b.ret) {
			r = b.materialize(v)
		}
		b.emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{r}})
	}
}

func (b *builder) zeroOfReturn() ir.Ref {
	if ir.InMemory(b.ret) {
		tmp := b.temp(b.ret)
		b.zero(tmp, b.ret)
		return tmp
	}
	return b.zeroValue(b.ret)
}

// decl allocates a local variable and runs its initializer.
func (b *builder) decl(d ast.Decl) {
	if d.Static {
		sym := b.newSym(d.Name + ".")
		b.bind(d.Name, storage{ty: d.Typ, slot: -1, addr: ir.NoRef, sym: sym})
		g, err := b.staticData(sym, d.Typ, d.Init, true, false, b.staticSym)
		b.check(err)
		b.mod.Globals = append(b.mod.Globals, g)
		return
	}
	if _, ok := d.Typ.(ctypes.Tfunction); ok {
		b.globals[d.Name] = d.Typ
		return
	}
	slot := b.local(d.Name, d.Typ, -1)
	b.bind(d.Name, storage{ty: d.Typ, slot: slot, addr: ir.NoRef})
	if d.Init != nil {
		b.initialize(b.slotAddr(slot), 0, d.Typ, d.Init, true)
	}
}

// initialize stores an initializer into the object at addr+off. Brace
// lists zero the whole object first unless zeroed is already known.
func (b *builder) initialize(addr ir.Ref, off int64, t ctypes.Type, in *ast.Init, fresh bool) {
	if in.List == nil {
		if s, ok := in.Expr.(ast.StringLit); ok {
			if at, ok := t.(ctypes.Tarray); ok {
				b.initString(addr, off, at, s.Value)
				return
			}
		}
		v := b.evalAs(in.Expr, t)
		b.storeValue(addr, off, t, v)
		return
	}
	if fresh {
		b.emit(ir.Instr{Op: ir.OpZeroMem, Args: []ir.Ref{b.offset(addr, off)}, Payload: ir.Payload{Imm: b.sizeof(t)}})
	}
	switch tt := t.(type) {
	case ctypes.Tarray:
		esz := b.sizeof(tt.Elem)
		for i, el := range in.List {
			if tt.Size >= 0 && int64(i) >= tt.Size {
				b.fail("excess elements in array initializer")
			}
			b.initialize(addr, off+int64(i)*esz, tt.Elem, el, false)
		}
	case *ctypes.Tstruct, *ctypes.Tunion:
		fields := initFields(b.layout(t), t)
		for i, el := range in.List {
			if i >= len(fields) {
				b.fail("excess elements in %s initializer", t)
			}
			f := &fields[i]
			if f.BitField {
				v := b.evalAs(el.Expr, f.Type)
				b.storeBitField(lvalue{addr: addr, off: off + f.Offset, ty: f.Type, bf: f}, v.ref)
				continue
			}
			b.initialize(addr, off+f.Offset, f.Type, el, false)
		}
	default:
		if len(in.List) != 1 {
			b.fail("scalar initializer must have one element")
		}
		b.initialize(addr, off, t, in.List[0], false)
	}
}

func (b *builder) initString(addr ir.Ref, off int64, at ctypes.Tarray, s string) {
	n := int64(len(s) + 1)
	if at.Size >= 0 && n > at.Size {
		n = at.Size
	}
	if at.Size > n {
		b.emit(ir.Instr{Op: ir.OpZeroMem, Args: []ir.Ref{b.offset(addr, off)}, Payload: ir.Payload{Imm: at.Size}})
	}
	src := b.globalAddr(b.stringSym(s), 0)
	b.memcpy(b.offset(addr, off), src, n)
}

// switchState is the dispatch information of the innermost switch.
type switchState struct {
	labels     []ir.LabelID // one per case statement, in source order
	next       int
	deflt      ir.LabelID
	hasDefault bool
}

type caseRange struct {
	lo, hi int64
	label  ir.LabelID
}

// collectCases lists the case statements belonging to a switch body,
// in source order, skipping nested switches.
func collectCases(s ast.Stmt, out *[]ast.Case, hasDefault *bool) {
	switch s := s.(type) {
	case ast.Case:
		*out = append(*out, s)
	case ast.Default:
		*hasDefault = true
	case ast.Block:
		for _, item := range s.Items {
			collectCases(item, out, hasDefault)
		}
	case ast.If:
		collectCases(s.Then, out, hasDefault)
		collectCases(s.Else, out, hasDefault)
	case ast.While:
		collectCases(s.Body, out, hasDefault)
	case ast.DoWhile:
		collectCases(s.Body, out, hasDefault)
	case ast.For:
		collectCases(s.Body, out, hasDefault)
	}
}

func (b *builder) switchStmt(s ast.Switch) {
	x := b.eval(s.X)
	t := ast.Promote(x.ty)
	if !ctypes.IsInteger(t) || ctypes.IsWideBitInt(t) {
		b.fail("switch quantity of type %s is not a supported integer", x.ty)
	}
	x = b.convert(x, t)

	var cases []ast.Case
	hasDefault := false
	collectCases(s.Body, &cases, &hasDefault)
	sw := &switchState{deflt: b.newLabel()}
	done := b.newLabel()
	var ranges []caseRange
	for _, c := range cases {
		l := b.newLabel()
		sw.labels = append(sw.labels, l)
		ranges = append(ranges, caseRange{lo: c.Lo, hi: c.Hi, label: l})
	}
	fallback := sw.deflt
	if !hasDefault {
		fallback = done
	}
	b.dispatch(x, t, ranges, fallback)

	b.switches = append(b.switches, sw)
	b.breaks = append(b.breaks, done)
	b.stmt(s.Body)
	b.breaks = b.breaks[:len(b.breaks)-1]
	b.switches = b.switches[:len(b.switches)-1]
	b.jump(done)
	if !sw.hasDefault {
		b.place(sw.deflt)
		b.jump(done)
	}
	b.place(done)
}

func (b *builder) caseLabel(c ast.Case) {
	if len(b.switches) == 0 {
		b.fail("case label outside switch")
	}
	sw := b.switches[len(b.switches)-1]
	l := sw.labels[sw.next]
	sw.next++
	b.jump(l)
	b.place(l)
}

// dispatch emits the jump to the case matching x: a jump table when
// the cases are dense enough, otherwise a chain of compares.
func (b *builder) dispatch(x value, t ctypes.Type, ranges []caseRange, fallback ir.LabelID) {
	vt := ir.ValueType(t)
	unsigned := !ctypes.IsSigned(t)
	sort.SliceStable(ranges, func(i, j int) bool {
		if unsigned {
			return uint64(ranges[i].lo) < uint64(ranges[j].lo)
		}
		return ranges[i].lo < ranges[j].lo
	})
	if len(ranges) == 0 {
		b.jump(fallback)
		return
	}
	lo, hi := ranges[0].lo, ranges[len(ranges)-1].hi
	for _, r := range ranges {
		if (!unsigned && r.hi > hi) || (unsigned && uint64(r.hi) > uint64(hi)) {
			hi = r.hi
		}
	}
	span := uint64(hi - lo)
	var covered uint64
	for _, r := range ranges {
		covered += uint64(r.hi-r.lo) + 1
	}
	opts := b.opts
	if len(ranges) >= opts.JumpTableMinCases && span < uint64(opts.JumpTableMaxSpan) &&
		float64(covered) >= opts.JumpTableDensity*float64(span+1) {
		b.jumpTable(x, vt, ranges, lo, int(span+1), fallback)
		return
	}

	for _, r := range ranges {
		next := b.newLabel()
		var c ir.Ref
		if r.lo == r.hi {
			c = b.cmp(ir.CondEq, x.ref, b.iconst(vt, r.lo))
		} else {
			// lo <= x <= hi as (x - lo) <=u (hi - lo)
			d := b.binop(ir.OpSub, vt, x.ref, b.iconst(vt, r.lo))
			c = b.cmp(ir.CondULe, d, b.iconst(vt, r.hi-r.lo))
		}
		b.branch(c, r.label, next)
		b.place(next)
	}
	b.jump(fallback)
}

func (b *builder) jumpTable(x value, vt ir.Type, ranges []caseRange, lo int64, n int, fallback ir.LabelID) {
	idx := b.binop(ir.OpSub, vt, x.ref, b.iconst(vt, lo))
	if vt == ir.I32 {
		idx = b.unop(ir.OpZExt, ir.I64, idx, ir.Payload{Width: 32})
	}
	targets := make([]ir.LabelID, n+1)
	targets[0] = fallback
	for i := 1; i <= n; i++ {
		targets[i] = fallback
	}
	for _, r := range ranges {
		for v := r.lo; ; v++ {
			targets[1+int(v-lo)] = r.label
			if v == r.hi {
				break
			}
		}
	}
	b.emit(ir.Instr{Op: ir.OpJumpTable, Args: []ir.Ref{idx}, Targets: targets})
}

// initFields lists the members an initializer list assigns in order:
// unnamed bit-fields are skipped and a union takes only its first
// member.
func initFields(l *ctypes.Layout, t ctypes.Type) []ctypes.FieldLayout {
	var out []ctypes.FieldLayout
	for _, f := range l.Fields {
		if f.BitField && f.Name == "" {
			continue
		}
		out = append(out, f)
	}
	if _, union := t.(*ctypes.Tunion); union && len(out) > 1 {
		out = out[:1]
	}
	return out
}
