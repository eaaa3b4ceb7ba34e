// Package asmgen transforms Linear code to x86-64 assembly.
// This is the final compilation phase, producing AT&T assembly that a
// standard assembler (GNU as) turns into an ELF object.
package asmgen

import (
	"fmt"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/stacking"
)

// Options controls the generation of one function.
type Options struct {
	// ID is unique among the functions of a unit; local labels and
	// constants of the function are named after it.
	ID int
	// PIC reaches symbols not defined in the unit through the GOT and
	// the PLT.
	PIC     bool
	Defined func(sym string) bool
	// ThreadLocal reports whether a symbol is a thread-local variable.
	ThreadLocal func(sym string) bool
	// Debug emits .loc directives and the location ranges of promoted
	// variables.
	Debug bool
}

func (o *Options) direct(sym string) bool {
	return !o.PIC || (o.Defined != nil && o.Defined(sym))
}

func (o *Options) threadLocal(sym string) bool {
	return o.ThreadLocal != nil && o.ThreadLocal(sym)
}

// Output is the assembly of one function together with the read-only
// data it refers to.
type Output struct {
	Func       asm.Function
	Consts     []asm.Const
	JumpTables []asm.JumpTable
}

// genContext holds state during code generation
type genContext struct {
	fn    *linear.Function
	frame *stacking.Frame
	opts  Options
	out   *asm.Function

	consts   []asm.Const
	constIdx map[string]string
	tables   []asm.JumpTable

	labelCount int
	asmCount   int
	instr      int
	lastLine   int
	lastCol    int
	vars       *varTracker
}

// TransformFunction generates the assembly of a Linear function.
func TransformFunction(fn *linear.Function, opts Options) (out *Output, err error) {
	defer diag.Recover(&err)
	frame, err := stacking.Layout(fn)
	if err != nil {
		return nil, diag.InFunc(err, fn.Name)
	}
	ctx := &genContext{
		fn:       fn,
		frame:    frame,
		opts:     opts,
		out:      &asm.Function{Name: fn.Name, Static: fn.Static},
		constIdx: make(map[string]string),
	}
	ctx.vars = ctx.newVarTracker()
	ctx.out.Vars = ctx.vars.list

	if opts.Debug {
		ctx.loc(fn.Pos)
	}
	ctx.emit(stacking.Prologue(frame, ctx.localLabel("va"))...)
	body := ctx.localLabel("body")
	ctx.out.AppendLabel(body)
	for i, inst := range fn.Code {
		ctx.instr = i
		ctx.translateInstruction(inst)
	}
	end := ctx.localLabel("end")
	ctx.vars.closeAll(end)
	ctx.out.AppendLabel(end)
	ctx.out.VarLocs = append(ctx.varLocs(body, end), ctx.vars.ranges...)

	return &Output{Func: *ctx.out, Consts: ctx.consts, JumpTables: ctx.tables}, nil
}

// fail aborts generation with an internal error at the current
// instruction.
func (ctx *genContext) fail(format string, args ...any) {
	panic(diag.Internalf(ctx.fn.Name, ctx.instr, format, args...))
}

func (ctx *genContext) emit(lines ...asm.Line) {
	ctx.out.Append(lines...)
}

// ins emits one instruction. Two memory operands cannot be encoded.
func (ctx *genContext) ins(op string, args ...asm.Operand) {
	mems := 0
	for _, a := range args {
		if _, ok := a.(asm.Mem); ok {
			mems++
		}
	}
	if mems > 1 {
		ctx.fail("%s with two memory operands", op)
	}
	ctx.emit(asm.Ins(op, args...))
}

// blockLabel names the label of a block of this function.
func (ctx *genContext) blockLabel(l linear.Label) string {
	return fmt.Sprintf(".L%d_%d", ctx.opts.ID, l)
}

// localLabel names a fixed label of this function.
func (ctx *genContext) localLabel(what string) string {
	return fmt.Sprintf(".L%d_%s", ctx.opts.ID, what)
}

// newLabel generates a unique label
func (ctx *genContext) newLabel() string {
	ctx.labelCount++
	return fmt.Sprintf(".L%d_x%d", ctx.opts.ID, ctx.labelCount)
}

// loc emits a .loc directive when the position changed.
func (ctx *genContext) loc(pos diag.Pos) {
	if !pos.IsValid() || (pos.Line == ctx.lastLine && pos.Col == ctx.lastCol) {
		return
	}
	ctx.lastLine, ctx.lastCol = pos.Line, pos.Col
	ctx.emit(asm.Loc{Line: pos.Line, Col: pos.Col})
}

// translateInstruction translates a Linear instruction to assembly
func (ctx *genContext) translateInstruction(inst linear.Instruction) {
	switch i := inst.(type) {
	case linear.Llabel:
		// control may arrive from elsewhere: ranges reopen at markers
		ctx.vars.closeAll(ctx.blockLabel(i.Lbl))
		ctx.out.AppendLabel(ctx.blockLabel(i.Lbl))
	case linear.Lgoto:
		ctx.ins("jmp", asm.LabelRef{Name: ctx.blockLabel(i.Target)})
	case linear.Lop:
		ctx.debugLoc(&i.Instr)
		ctx.translateOp(&i.Instr, i.Labels)
	case linear.Lcond:
		ctx.debugLoc(&i.Instr)
		ctx.translateCond(&i.Instr, ctx.blockLabel(i.IfSo), i.Negate)
	case linear.Ljumptable:
		ctx.debugLoc(&i.Instr)
		ctx.translateJumpTable(&i.Instr, i.Targets)
	case linear.Lijump:
		ctx.debugLoc(&i.Instr)
		ctx.ins("jmp", asm.Indirect{Reg: i.Instr.Args[0]})
	case linear.Lreturn:
		ctx.debugLoc(&i.Instr)
		ctx.emit(stacking.Epilogue(ctx.frame)...)
	default:
		ctx.fail("unknown linear instruction %T", inst)
	}
}

func (ctx *genContext) debugLoc(in *ltl.Instr) {
	if ctx.opts.Debug {
		ctx.loc(in.Pos)
	}
}

// varLocs describes where named parameters and frame-resident locals
// live. Register parameters hold until the body starts; frame
// locations hold over the whole body. A stack parameter promoted to
// registers is described by its markers instead.
func (ctx *genContext) varLocs(body, end string) []asm.VarLoc {
	var out []asm.VarLoc
	for _, p := range ctx.fn.Params {
		k, ok := ctx.vars.params[p.Name]
		if !ok {
			continue
		}
		switch l := p.Loc.(type) {
		case ltl.R:
			out = append(out, asm.VarLoc{
				Name: p.Name, Loc: asm.FormatOperand(asm.R64(l.Reg)),
				StartLabel: ctx.fn.Name, EndLabel: body,
				Var: k, Expr: asm.RegExpr(l.Reg),
			})
		case ltl.S:
			if ctx.vars.marked[k] {
				continue
			}
			m := ctx.frame.IncomingMem(l.Ofs)
			out = append(out, asm.VarLoc{
				Name: p.Name, Loc: asm.FormatOperand(m),
				StartLabel: body, EndLabel: end,
				Var: k, Expr: asm.FrameExpr(m.Disp),
			})
		}
	}
	for i := range ctx.fn.Locals {
		k, ok := ctx.vars.bySlot[i]
		if !ok || !ctx.frame.UsedLocals[i] {
			continue
		}
		m := ctx.frame.LocalMem(i, 0)
		out = append(out, asm.VarLoc{
			Name: ctx.fn.Locals[i].Name, Loc: asm.FormatOperand(m),
			StartLabel: body, EndLabel: end,
			Var: k, Expr: asm.FrameExpr(m.Disp),
		})
	}
	return out
}

// TransformProgram gathers the generated functions and the module's
// data into one assembly program.
func TransformProgram(mod *ir.Module, funcs []*Output, debug bool) (*asm.Program, error) {
	prog := &asm.Program{File: mod.Name, Debug: debug}
	for _, g := range mod.Globals {
		if g.Extern {
			continue
		}
		prog.Globals = append(prog.Globals, asm.GlobVar{
			Name:     g.Name,
			Size:     g.Size,
			Align:    max(g.Align, 1),
			Init:     g.Init,
			Relocs:   g.Relocs,
			ReadOnly: g.ReadOnly,
			Static:   g.Static,

			ThreadLocal: g.ThreadLocal,
		})
	}
	for _, f := range funcs {
		prog.Functions = append(prog.Functions, f.Func)
		prog.Consts = append(prog.Consts, f.Consts...)
		prog.JumpTables = append(prog.JumpTables, f.JumpTables...)
	}
	return prog, nil
}
