package regalloc

import (
	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// eliminatePhis replaces every phi by copies. Each predecessor writes a
// fresh variable just before its terminator and the phi becomes a copy
// of that variable at the top of its block, so phis that exchange
// values around a loop never overwrite each other's sources.
//
// The variable has one definition per predecessor; defVar maps every
// copy after the first one to the first.
func (a *allocation) eliminatePhis() error {
	f := a.f
	for _, b := range f.LiveBlocks() {
		for _, phi := range f.Phis(b) {
			if len(phi.Args) != len(b.Preds) {
				return diag.Internalf(f.Name, phi.ID, "phi has %d operands for %d predecessors", len(phi.Args), len(b.Preds))
			}
			incoming := make(map[int]int)
			for j, p := range b.Preds {
				if prev, ok := incoming[p]; ok && prev != phi.Args[j] {
					return diag.Internalf(f.Name, phi.ID, "phi takes two values on edges from b%d", p)
				}
				incoming[p] = phi.Args[j]
			}
			v := -1
			for _, p := range lo.Uniq(b.Preds) {
				c := f.NewInstr(ir.OpCopy, phi.Type, incoming[p])
				c.Pos = phi.Pos
				f.InsertAtEnd(f.Blocks[p], c)
				if v < 0 {
					v = c.ID
				} else {
					a.defVar[c.ID] = v
				}
			}
			phi.Op, phi.Args = ir.OpCopy, []int{v}
		}
	}
	return nil
}

// isolateFixedResults gives every pinned projection a short live range:
// uses read an unconstrained copy placed after the projection run, so
// that an asm output named by a register constraint can live anywhere
// afterwards.
func (a *allocation) isolateFixedResults() {
	f := a.f
	subst := make(map[int]int)
	for _, b := range f.LiveBlocks() {
		var out []int
		var pending []int
		flush := func() {
			for _, p := range pending {
				c := f.NewInstr(ir.OpCopy, f.Instrs[p].Type, p)
				c.Block, c.Pos = b.ID, f.Instrs[p].Pos
				subst[p] = c.ID
				out = append(out, c.ID)
			}
			pending = nil
		}
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op != ir.OpProject {
				flush()
			}
			out = append(out, id)
			if in.Op == ir.OpProject && in.Fixed != ltl.NoReg {
				pending = append(pending, id)
			}
		}
		flush()
		b.Instrs = out
	}
	if len(subst) == 0 {
		return
	}
	for _, in := range f.Instrs {
		if in.Op == ir.OpCopy && len(in.Args) == 1 {
			if c, ok := subst[in.Args[0]]; ok && c == in.ID {
				continue
			}
		}
		for i, v := range in.Args {
			if c, ok := subst[v]; ok {
				in.Args[i] = c
			}
		}
	}
}
