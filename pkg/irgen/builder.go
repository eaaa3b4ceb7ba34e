// Package irgen lowers the typed AST to generic IR.
//
// Expressions are lowered in post-order onto a virtual value stack:
// lowering an expression pushes exactly one value, and statements pop
// what they consume. The stack must be empty between statements.
// Local variables live in stack slots accessed through loads and
// stores; the optimizer promotes them to SSA values later.
package irgen

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// IDSource hands out unique numbers for synthesized symbol names.
type IDSource interface {
	NextID() int64
}

type counter struct{ n atomic.Int64 }

func (c *counter) NextID() int64 { return c.n.Add(1) }

// Options controls lowering decisions.
type Options struct {
	IDs IDSource
	// A switch becomes a jump table when it has at least
	// JumpTableMinCases case labels, the covered range spans at most
	// JumpTableMaxSpan values and at least JumpTableDensity of them
	// have a case.
	JumpTableMinCases int
	JumpTableMaxSpan  int64
	JumpTableDensity  float64
}

// DefaultOptions returns the standard lowering options.
func DefaultOptions() Options {
	return Options{JumpTableMinCases: 4, JumpTableMaxSpan: 4096, JumpTableDensity: 0.4}
}

// BuildProgram lowers a translation unit. Functions are lowered one at
// a time; the first failing function aborts the unit.
func BuildProgram(prog *ast.Program, opts Options) (*ir.Module, error) {
	if opts.IDs == nil {
		opts.IDs = &counter{}
	}
	if opts.JumpTableMinCases == 0 {
		d := DefaultOptions()
		opts.JumpTableMinCases, opts.JumpTableMaxSpan, opts.JumpTableDensity = d.JumpTableMinCases, d.JumpTableMaxSpan, d.JumpTableDensity
	}
	reg := prog.Types
	if reg == nil {
		reg = ctypes.NewRegistry()
	}
	m := &ir.Module{Name: prog.Name, Types: reg}
	u := &unit{
		opts:     opts,
		mod:      m,
		globals:  make(map[string]ctypes.Type),
		strs:     make(map[string]string),
		ldConsts: make(map[uint64]string),
	}
	for _, d := range prog.Decls {
		u.globals[d.Name] = d.Typ
	}
	for _, f := range prog.Functions {
		u.globals[f.Name] = f.Typ
	}
	for _, g := range prog.Globals {
		u.globals[g.Name] = g.Typ
	}
	for _, g := range prog.Globals {
		if err := u.global(g); err != nil {
			return nil, err
		}
	}
	for _, f := range prog.Functions {
		fn, err := u.function(f)
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, fn)
	}
	if err := u.lowerRuntime(); err != nil {
		return nil, err
	}
	defined := make(map[string]bool)
	for _, f := range prog.Functions {
		defined[f.Name] = true
	}
	for _, d := range prog.Decls {
		if !defined[d.Name] {
			m.Externs = append(m.Externs, d.Name)
		}
	}
	return m, nil
}

// unit holds the state shared by all functions of a translation unit.
type unit struct {
	opts     Options
	mod      *ir.Module
	globals  map[string]ctypes.Type
	strs     map[string]string // string literal contents to symbol
	ldConsts map[uint64]string // long double constants by double bits
	rt       *runtimeLib       // nil until a runtime routine is needed
}

func (u *unit) newSym(prefix string) string {
	return fmt.Sprintf(".L%s%d", prefix, u.opts.IDs.NextID())
}

// stringSym returns the read-only global holding a string literal.
func (u *unit) stringSym(s string) string {
	if sym, ok := u.strs[s]; ok {
		return sym
	}
	sym := u.newSym("str")
	u.strs[s] = sym
	u.mod.Globals = append(u.mod.Globals, &ir.Global{
		Name:     sym,
		Size:     int64(len(s) + 1),
		Align:    1,
		Init:     append([]byte(s), 0),
		ReadOnly: true,
		Static:   true,
	})
	return sym
}

// storage is where a named variable lives.
type storage struct {
	ty   ctypes.Type
	slot int    // local slot, or -1
	addr ir.Ref // address of a memory-resident parameter, or NoRef
	sym  string // global symbol
}

type loopLabels struct {
	brk, cont ir.LabelID
}

// builder lowers one function.
type builder struct {
	*unit
	fn     *ir.Function
	ret    ctypes.Type
	pos    diag.Pos
	stack  []value
	scopes []map[string]storage

	labels     map[string]ir.LabelID
	usedLabels map[string]diag.Pos
	defLabels  map[string]bool
	loops      []loopLabels
	breaks     []ir.LabelID
	switches   []*switchState
	ijumps     []ir.Ref
}

func (u *unit) function(fd *ast.FuncDef) (fn *ir.Function, err error) {
	b := &builder{
		unit:       u,
		ret:        fd.Typ.Return,
		pos:        fd.Pos,
		labels:     make(map[string]ir.LabelID),
		usedLabels: make(map[string]diag.Pos),
		defLabels:  make(map[string]bool),
	}
	b.fn = &ir.Function{Name: fd.Name, Type: fd.Typ, Static: fd.Static, Pos: fd.Pos}
	defer func() {
		if err != nil {
			err = diag.InFunc(err, fd.Name)
			fn = nil
		}
	}()
	defer diag.Recover(&err)

	b.push()
	for i, p := range fd.Params {
		b.param(i, p)
	}
	b.stmt(*fd.Body)
	b.pop()
	b.finish()
	if err := ir.Verify(b.fn); err != nil {
		return nil, err
	}
	return b.fn, nil
}

// param binds parameter i. Memory-resident parameters arrive as the
// address of the callee's copy; scalars are spilled to a slot so they
// can be assigned and have their address taken.
func (b *builder) param(i int, p ast.Param) {
	if ir.InMemory(p.Typ) {
		addr := b.emit(ir.Instr{Op: ir.OpParam, Type: ir.I64, Payload: ir.Payload{Imm: int64(i)}})
		b.bind(p.Name, storage{ty: p.Typ, slot: -1, addr: addr})
		return
	}
	slot := b.local(p.Name, p.Typ, i)
	v := b.emit(ir.Instr{Op: ir.OpParam, Type: ir.ValueType(p.Typ), Payload: ir.Payload{Imm: int64(i)}})
	b.storeScalar(b.slotAddr(slot), 0, p.Typ, v)
	b.bind(p.Name, storage{ty: p.Typ, slot: slot, addr: ir.NoRef})
}

// finish closes the function body: a missing return yields zero,
// computed gotos learn every address-taken label, and every goto
// target must exist.
func (b *builder) finish() {
	if !b.terminated() {
		switch {
		case ctypes.IsVoid(b.ret):
			b.emit(ir.Instr{Op: ir.OpReturn})
		case ir.InMemory(b.ret):
			tmp := b.temp(b.ret)
			b.zero(tmp, b.ret)
			b.emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{tmp}})
		default:
			b.emit(ir.Instr{Op: ir.OpReturn, Args: []ir.Ref{b.zeroValue(b.ret)}})
		}
	}
	for name, pos := range b.usedLabels {
		if !b.defLabels[name] {
			panic(diag.Userf(pos, "label %q used but not defined", name))
		}
	}
	for _, r := range b.ijumps {
		b.fn.Code[r].Targets = append([]ir.LabelID(nil), b.fn.AddrTakenLabels...)
	}
}

// terminated reports whether control cannot fall off the end of the
// code emitted so far.
func (b *builder) terminated() bool {
	n := len(b.fn.Code)
	if n == 0 {
		return false
	}
	last := b.fn.Code[n-1]
	return last.Op.IsTerminator() || (last.Op == ir.OpInlineAsm && len(last.Targets) > 0)
}

func (b *builder) push() { b.scopes = append(b.scopes, make(map[string]storage)) }
func (b *builder) pop()  { b.scopes = b.scopes[:len(b.scopes)-1] }

func (b *builder) bind(name string, s storage) { b.scopes[len(b.scopes)-1][name] = s }

func (b *builder) lookup(name string) (storage, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if s, ok := b.scopes[i][name]; ok {
			return s, true
		}
	}
	if t, ok := b.globals[name]; ok {
		return storage{ty: t, slot: -1, addr: ir.NoRef, sym: name}, true
	}
	return storage{}, false
}

// label returns the IR label of a source label, allocating it on first
// mention.
func (b *builder) label(name string) ir.LabelID {
	if l, ok := b.labels[name]; ok {
		return l
	}
	l := b.fn.NewLabel()
	b.labels[name] = l
	return l
}

// fail aborts lowering of the current function with a user error.
func (b *builder) fail(format string, args ...any) {
	panic(diag.Userf(b.pos, format, args...))
}

func (b *builder) notImplemented(format string, args ...any) {
	panic(diag.NotImplemented(b.pos, format, args...))
}

// check turns a layout or ABI error into a positioned failure.
func (b *builder) check(err error) {
	if err == nil {
		return
	}
	var de *diag.Error
	if errors.As(err, &de) {
		c := *de
		if !c.Pos.IsValid() {
			c.Pos = b.pos
		}
		panic(&c)
	}
	panic(diag.Userf(b.pos, "%v", err))
}

func (b *builder) layout(t ctypes.Type) *ctypes.Layout {
	l, err := ctypes.LayoutOf(t)
	b.check(err)
	return l
}

func (b *builder) sizeof(t ctypes.Type) int64 { return b.layout(t).Size }

func (b *builder) emit(in ir.Instr) ir.Ref {
	in.Pos = b.pos
	return b.fn.Emit(in)
}

func (b *builder) newLabel() ir.LabelID { return b.fn.NewLabel() }

func (b *builder) place(l ir.LabelID) { b.emit(ir.Instr{Op: ir.OpLabel, Label: l}) }

func (b *builder) jump(l ir.LabelID) { b.emit(ir.Instr{Op: ir.OpJump, Targets: []ir.LabelID{l}}) }

// branch jumps to then when c is non-zero.
func (b *builder) branch(c ir.Ref, then, els ir.LabelID) {
	b.emit(ir.Instr{Op: ir.OpBranch, Args: []ir.Ref{c}, Targets: []ir.LabelID{then, els}})
}

// local allocates a stack slot for a variable of type t.
func (b *builder) local(name string, t ctypes.Type, param int) int {
	l := b.layout(t)
	return b.fn.AddLocal(ir.Local{Name: name, Size: max(l.Size, 1), Align: max(l.Align, 1), CType: t, Param: param})
}

func (b *builder) slotAddr(slot int) ir.Ref {
	return b.emit(ir.Instr{Op: ir.OpLocalAddr, Type: ir.I64, Payload: ir.Payload{Slot: slot}})
}

// temp allocates an anonymous slot of type t and returns its address.
func (b *builder) temp(t ctypes.Type) ir.Ref {
	return b.slotAddr(b.local("", t, -1))
}

func (b *builder) zero(addr ir.Ref, t ctypes.Type) {
	b.emit(ir.Instr{Op: ir.OpZeroMem, Args: []ir.Ref{addr}, Payload: ir.Payload{Imm: b.sizeof(t)}})
}

func (b *builder) memcpy(dst, src ir.Ref, size int64) {
	if size == 0 || dst == src {
		return
	}
	b.emit(ir.Instr{Op: ir.OpMemcpy, Args: []ir.Ref{dst, src}, Payload: ir.Payload{Imm: size}})
}
