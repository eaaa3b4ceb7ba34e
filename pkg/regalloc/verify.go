package regalloc

import (
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// verify rechecks the final assignment independently of the coloring:
// pinned variables got their register, no variable sits in a register
// destroyed while it is live, and no definition writes a register that
// holds another live variable.
func (a *allocation) verify(g *InterferenceGraph, live *LivenessInfo) error {
	f := a.f
	for _, v := range g.Nodes.Slice() {
		r, ok := a.colors[v]
		if !ok {
			return diag.Internalf(f.Name, v, "v%d has no register", v)
		}
		if fixed, ok := g.Fixed[v]; ok && fixed != r {
			return diag.Internalf(f.Name, v, "v%d is pinned to %%%s but got %%%s", v, fixed, r)
		}
		if g.Forbid[v].Has(r) {
			return diag.Internalf(f.Name, v, "v%d got %%%s, which is destroyed while it is live", v, r)
		}
	}
	for _, b := range f.LiveBlocks() {
		var err error
		a.walkBlock(b, live.LiveOut[b.ID], func(_ int, in *ssa.Instr, liveOut ValueSet) {
			if err != nil || !a.defines(in) {
				return
			}
			d := a.varOf(in.ID)
			for l := range liveOut {
				if l == d || g.Class[l] != g.Class[d] || (in.Op == ir.OpCopy && l == in.Args[0]) {
					continue
				}
				if a.colors[l] == a.colors[d] {
					err = diag.Internalf(f.Name, in.ID, "v%d overwrites %%%s while v%d is live in it", d, a.colors[d], l)
					return
				}
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
