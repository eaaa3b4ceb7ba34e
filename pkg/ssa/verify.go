package ssa

import (
	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// Verify checks the SSA invariants: every use is dominated by its
// definition (phi operands at the end of the matching predecessor),
// each phi has one operand per predecessor edge, phis sit at block
// heads, each block ends in its only terminator, no operand refers to
// a deleted instruction and every live block except the entry has a
// predecessor.
func Verify(f *Func) error {
	f.ComputeDom()
	pos := make([]int, len(f.Instrs))
	for _, b := range f.LiveBlocks() {
		for i, id := range b.Instrs {
			pos[id] = i
		}
	}
	fail := func(id int, format string, args ...any) error {
		return diag.Internalf(f.Name, id, format, args...)
	}
	for _, b := range f.LiveBlocks() {
		if b.ID == f.Entry && len(b.Preds) > 0 {
			return fail(-1, "entry block b%d has predecessors", b.ID)
		}
		if b.ID != f.Entry && len(b.Preds) == 0 {
			return fail(-1, "block b%d has no predecessor", b.ID)
		}
		if len(b.Instrs) == 0 {
			return fail(-1, "block b%d is empty", b.ID)
		}
		for _, s := range b.Succs {
			succ := f.Blocks[s]
			if succ.Dead {
				return fail(-1, "block b%d branches to removed block b%d", b.ID, s)
			}
			if lo.Count(b.Succs, s) != lo.Count(succ.Preds, b.ID) {
				return fail(-1, "edges b%d -> b%d disagree with predecessor list", b.ID, s)
			}
		}
		for _, p := range b.Preds {
			if f.Blocks[p].Dead || lo.Count(f.Blocks[p].Succs, b.ID) == 0 {
				return fail(-1, "block b%d lists b%d as predecessor without an edge", b.ID, p)
			}
		}

		inPhis := true
		for i, id := range b.Instrs {
			in := f.Instrs[id]
			switch {
			case in.Op == ir.OpNop:
				return fail(id, "deleted instruction left in block b%d", b.ID)
			case in.Block != b.ID:
				return fail(id, "instruction claims block b%d but sits in b%d", in.Block, b.ID)
			case in.Op == ir.OpPhi && !inPhis:
				return fail(id, "phi after a non-phi instruction")
			case IsTerminator(in) != (i == len(b.Instrs)-1):
				if i == len(b.Instrs)-1 {
					return fail(id, "block b%d does not end in a terminator", b.ID)
				}
				return fail(id, "terminator %s in the middle of block b%d", in.Op, b.ID)
			}
			if in.Op != ir.OpPhi {
				inPhis = false
			}
			if in.Op == ir.OpPhi && len(in.Args) != len(b.Preds) {
				return fail(id, "malformed phi: %d operands for %d predecessors", len(in.Args), len(b.Preds))
			}
			for j, a := range in.Args {
				if a < 0 || a >= len(f.Instrs) {
					return fail(id, "operand %d out of range", a)
				}
				def := f.Instrs[a]
				if def.Op == ir.OpNop || def.Block < 0 || f.Blocks[def.Block].Dead {
					return fail(id, "operand %%%d refers to a deleted instruction", a)
				}
				if def.Type == ir.Void && in.Op != ir.OpProject {
					return fail(id, "operand %%%d (%s) has no value", a, def.Op)
				}
				var ok bool
				switch {
				case in.Op == ir.OpPhi:
					ok = f.Dominates(def.Block, b.Preds[j])
				case def.Block == b.ID:
					ok = pos[a] < i
				default:
					ok = f.Dominates(def.Block, b.ID)
				}
				if !ok {
					return fail(id, "operand %%%d does not dominate its use", a)
				}
			}
			if in.Op == ir.OpLabelAddr && (in.Target < 0 || f.Blocks[in.Target].Dead || !f.Blocks[in.Target].AddrTaken) {
				return fail(id, "label address of a removed block")
			}
		}
		if err := checkSuccs(f, b); err != nil {
			return err
		}
	}
	return nil
}

func checkSuccs(f *Func, b *Block) error {
	t := f.Terminator(b)
	want := -1
	switch t.Op {
	case ir.OpJump:
		want = 1
	case ir.OpBranch, ir.OpCmpBranch:
		want = 2
	case ir.OpReturn, ir.OpUnreachable:
		want = 0
	case ir.OpInlineAsm:
		want = 1 + len(t.Asm.GotoLabels)
	case ir.OpJumpTable:
		if len(b.Succs) == 0 {
			return diag.Internalf(f.Name, t.ID, "jump table without a default")
		}
	}
	if want >= 0 && len(b.Succs) != want {
		return diag.Internalf(f.Name, t.ID, "%s with %d successors", t.Op, len(b.Succs))
	}
	return nil
}
