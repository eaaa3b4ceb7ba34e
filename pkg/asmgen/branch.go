package asmgen

import (
	"fmt"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// intCompare sets the flags for a cond b, with b possibly immediate.
func (ctx *genContext) intCompare(in *ltl.Instr) {
	t := in.ArgTypes[0]
	ctx.ins("cmp"+suffix(t), secondOperand(in, t), reg(in.Args[0], t))
}

// floatCompare sets the flags for an ordered comparison so that the
// unsigned "above" conditions test it: lt and le swap the operands.
// It returns the condition left to test, as gt, ge, eq or ne.
func (ctx *genContext) floatCompare(in *ltl.Instr) ir.Cond {
	t := in.ArgTypes[0]
	a, b := asm.R64(in.Args[0]), asm.R64(in.Args[1])
	op := "ucomi" + fsuffix(t)
	switch in.Cond {
	case ir.CondLt, ir.CondULt:
		ctx.ins(op, a, b)
		return ir.CondGt
	case ir.CondLe, ir.CondULe:
		ctx.ins(op, a, b)
		return ir.CondGe
	case ir.CondUGt:
		ctx.ins(op, b, a)
		return ir.CondGt
	case ir.CondUGe:
		ctx.ins(op, b, a)
		return ir.CondGe
	}
	ctx.ins(op, b, a)
	return in.Cond
}

// compare materializes a condition as 0 or 1.
func (ctx *genContext) compare(in *ltl.Instr) {
	d := in.Dst
	if !in.ArgTypes[0].IsFloat() {
		ctx.intCompare(in)
		ctx.ins("set"+condCodes[in.Cond], asm.R8(d))
		ctx.ins("movzbl", asm.R8(d), asm.R32(d))
		return
	}
	switch c := ctx.floatCompare(in); c {
	case ir.CondGt:
		ctx.ins("seta", asm.R8(d))
	case ir.CondGe:
		ctx.ins("setae", asm.R8(d))
	case ir.CondEq, ir.CondNe:
		// unordered operands set PF: equal needs !PF, unequal accepts PF
		tmp := in.Scratch()[0]
		if c == ir.CondEq {
			ctx.ins("sete", asm.R8(d))
			ctx.ins("setnp", asm.R8(tmp))
			ctx.ins("andb", asm.R8(tmp), asm.R8(d))
		} else {
			ctx.ins("setne", asm.R8(d))
			ctx.ins("setp", asm.R8(tmp))
			ctx.ins("orb", asm.R8(tmp), asm.R8(d))
		}
	}
	ctx.ins("movzbl", asm.R8(d), asm.R32(d))
}

// translateCond emits a conditional branch to target, taken when the
// condition holds, or when it fails if negate is set.
func (ctx *genContext) translateCond(in *ltl.Instr, target string, negate bool) {
	switch in.Op {
	case ir.OpBranch:
		t := in.ArgTypes[0]
		ctx.ins("test"+suffix(t), reg(in.Args[0], t), reg(in.Args[0], t))
		jcc := "jne"
		if negate {
			jcc = "je"
		}
		ctx.ins(jcc, label(target))
	case ir.OpCmpBranch:
		if !in.ArgTypes[0].IsFloat() {
			ctx.intCompare(in)
			c := in.Cond
			if negate {
				c = c.Negate()
			}
			ctx.ins("j"+condCodes[c], label(target))
			return
		}
		ctx.floatBranch(ctx.floatCompare(in), target, negate)
	default:
		ctx.fail("conditional branch on %s", in.Op)
	}
}

// floatBranch jumps on flags set by floatCompare. A negated ordered
// comparison must also be taken for unordered operands.
func (ctx *genContext) floatBranch(c ir.Cond, target string, negate bool) {
	to := label(target)
	switch {
	case c == ir.CondGt && !negate:
		ctx.ins("ja", to)
	case c == ir.CondGt:
		ctx.ins("jbe", to)
	case c == ir.CondGe && !negate:
		ctx.ins("jae", to)
	case c == ir.CondGe:
		ctx.ins("jb", to)
	case (c == ir.CondEq) != negate:
		skip := ctx.newLabel()
		ctx.ins("jp", label(skip))
		ctx.ins("je", to)
		ctx.out.AppendLabel(skip)
	default:
		ctx.ins("jne", to)
		ctx.ins("jp", to)
	}
}

// translateJumpTable emits a bounds check and an indexed jump through a
// table of 32-bit offsets relative to the table.
func (ctx *genContext) translateJumpTable(in *ltl.Instr, targets []linear.Label) {
	if len(targets) < 1 || in.Temps != 2 {
		ctx.fail("malformed jump table")
	}
	idx := in.Args[0]
	tmp := in.Scratch()
	name := fmt.Sprintf(".LJT%d_%d", ctx.opts.ID, len(ctx.tables))
	cases := targets[1:]
	table := asm.JumpTable{Name: name}
	for _, l := range cases {
		table.Targets = append(table.Targets, ctx.blockLabel(l))
	}
	ctx.tables = append(ctx.tables, table)

	ctx.ins("cmpq", imm(int64(len(cases))), asm.R64(idx))
	ctx.ins("jae", label(ctx.blockLabel(targets[0])))
	ctx.ins("leaq", asm.Mem{Sym: name}, asm.R64(tmp[0]))
	ctx.ins("movslq", asm.Mem{Base: tmp[0], Index: idx, Scale: 4}, asm.R64(tmp[1]))
	ctx.ins("addq", asm.R64(tmp[0]), asm.R64(tmp[1]))
	ctx.ins("jmp", asm.Indirect{Reg: tmp[1]})
}
