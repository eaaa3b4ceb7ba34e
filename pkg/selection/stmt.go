// Package selection turns an optimized SSA function into one the
// register allocator can take: calling-convention moves become copies
// into values pinned to machine registers, loads and stores pick an
// addressing mode, small constants become immediates and instructions
// that need scratch registers or fixed operands get them.
//
// The output is still in SSA form; every pinned value is a fresh copy,
// so constraints never conflict at the SSA level.
package selection

import (
	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// Env holds the module-level facts selection depends on.
type Env struct {
	ABI *abi.Cache
	// PIC selects position-independent code: symbols not defined in the
	// module are reached through the GOT.
	PIC bool
	// Defined reports whether a symbol is defined in the module.
	Defined func(sym string) bool
	// ThreadLocal reports whether a symbol is a thread-local variable.
	// Those are never rip-relative.
	ThreadLocal func(sym string) bool
}

func (e *Env) direct(sym string) bool {
	if e.ThreadLocal != nil && e.ThreadLocal(sym) {
		return false
	}
	return !e.PIC || (e.Defined != nil && e.Defined(sym))
}

// SelectionContext carries the state of selecting one function.
type SelectionContext struct {
	f    *ssa.Func
	env  *Env
	info *abi.FuncInfo

	cur    *ssa.Block
	out    []int
	placed map[int]bool
	fresh  int // instructions with a larger ID were created by selection

	retPtr int // copy of the hidden return buffer pointer, or -1
}

// Func selects instructions for f in place. f must have been through
// the optimizer pipeline; it leaves in the Selected state.
func Func(f *ssa.Func, env *Env) (err error) {
	defer diag.Recover(&err)
	if f.State != ssa.Allocatable {
		return diag.Internalf(f.Name, -1, "selection run on a function in state %s", f.State)
	}
	info, err := env.ABI.Func(f.Type)
	if err != nil {
		return diag.InFunc(err, f.Name)
	}
	if info.RetX87 {
		return diag.InFunc(diag.NotImplemented(f.Pos, "long double return values"), f.Name)
	}
	ctx := &SelectionContext{f: f, env: env, info: info, placed: make(map[int]bool), retPtr: -1}

	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op == ir.OpLoad || in.Op == ir.OpStore {
				ctx.foldAddress(in)
			}
		}
	}
	ssa.DeadCode(f)

	ctx.fresh = len(f.Instrs)
	ctx.cur = f.Blocks[f.Entry]
	ctx.selectParams()
	prefix := ctx.out
	for _, b := range f.LiveBlocks() {
		ctx.cur = b
		ctx.out = nil
		if b.ID == f.Entry {
			ctx.out = append(ctx.out, prefix...)
		}
		for _, id := range b.Instrs {
			if ctx.placed[id] {
				continue
			}
			ctx.selectInstr(f.Instrs[id])
		}
		b.Instrs = ctx.out
	}
	f.State = ssa.Selected
	return nil
}

// newInstr creates an instruction that is already selected.
func (ctx *SelectionContext) newInstr(op ir.Opcode, t ir.Type, args ...int) *ssa.Instr {
	return ctx.f.NewInstr(op, t, args...)
}

// emit places in at the current position of the block being selected.
func (ctx *SelectionContext) emit(in *ssa.Instr) *ssa.Instr {
	in.Block = ctx.cur.ID
	ctx.out = append(ctx.out, in.ID)
	ctx.placed[in.ID] = true
	return in
}

// pin copies v into a fresh value that must live in reg.
func (ctx *SelectionContext) pin(v int, reg ltl.MReg) int {
	c := ctx.newInstr(ir.OpCopy, ctx.f.Instrs[v].Type, v)
	c.Fixed = reg
	return ctx.emit(c).ID
}

// temp reserves a scratch register of the given type for the next
// instruction.
func (ctx *SelectionContext) temp(t ir.Type, reg ltl.MReg) int {
	tmp := ctx.newInstr(ir.OpTemp, t)
	tmp.Fixed = reg
	return ctx.emit(tmp).ID
}

// split moves the operation of in to a new instruction and turns in
// into a copy of it, so that uses of in keep referring to the same
// value while the operation itself gets a pinned result.
func (ctx *SelectionContext) split(in *ssa.Instr) *ssa.Instr {
	raw := ctx.newInstr(in.Op, in.Type)
	raw.Args = in.Args
	raw.Payload = in.Payload
	raw.Target = in.Target
	in.Op, in.Args, in.Payload = ir.OpCopy, []int{raw.ID}, ir.Payload{Pos: in.Pos}
	return raw
}

func (ctx *SelectionContext) selectInstr(in *ssa.Instr) {
	if in.ID >= ctx.fresh {
		ctx.emit(in)
		return
	}
	switch in.Op {
	case ir.OpCall:
		ctx.selectCall(in)
	case ir.OpReturn:
		ctx.selectReturn(in)
	case ir.OpVaStart:
		ctx.selectVaStart(in)
	case ir.OpInlineAsm:
		ctx.selectAsm(in)
	case ir.OpProject:
		// projections of calls are created by selectCall; asm ones are
		// placed by selectAsm
		panic(diag.Internalf(ctx.f.Name, in.ID, "projection not attached to its producer"))
	case ir.OpJumpTable:
		ctx.selectJumpTable(in)
	case ir.OpParam:
		panic(diag.Internalf(ctx.f.Name, in.ID, "parameter outside the entry block"))
	default:
		ctx.selectExpr(in)
	}
}

// selectReturn moves the returned value into the return registers. A
// memory-resident value is copied to the caller's buffer, whose address
// goes back in rax.
func (ctx *SelectionContext) selectReturn(in *ssa.Instr) {
	ret := ctx.info.Return
	if len(in.Args) == 0 || ret.Ignored {
		in.Args = nil
		ctx.emit(in)
		return
	}
	v := in.Args[0]
	switch {
	case ctx.info.RetInMemory:
		ctx.memcpy(ctx.retPtr, v, ret.Size)
		in.Args = []int{ctx.pin(ctx.retPtr, ltl.RAX)}
	case ir.InMemory(ret.Type):
		var regs []int
		for k, r := range ret.Regs {
			regs = append(regs, ctx.pin(ctx.loadEightbyte(v, int64(k), ret.Size, r), r))
		}
		in.Args = regs
	default:
		in.Args = []int{ctx.pin(v, ret.Regs[0])}
	}
	ctx.emit(in)
}

// selectJumpTable reserves the two scratch registers the indexed jump
// through a relative table needs.
func (ctx *SelectionContext) selectJumpTable(in *ssa.Instr) {
	in.Args = append(in.Args[:1:1], ctx.temp(ir.I64, ltl.NoReg), ctx.temp(ir.I64, ltl.NoReg))
	in.Temps = 2
	ctx.emit(in)
}
