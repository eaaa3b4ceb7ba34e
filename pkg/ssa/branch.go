package ssa

import "github.com/raymyers/ralph-x64/pkg/ir"

// simplifyBranches folds conditional terminators with known outcomes,
// drops the blocks that became unreachable and merges a block into its
// only predecessor when that predecessor jumps straight to it.
func simplifyBranches(f *Func) bool {
	changed := false
	for _, b := range f.LiveBlocks() {
		t := f.Terminator(b)
		keep := -1
		switch t.Op {
		case ir.OpBranch:
			if b.Succs[0] == b.Succs[1] {
				keep = 0
			} else if c, ok := f.IntConst(t.Args[0]); ok {
				keep = 1
				if c != 0 {
					keep = 0
				}
			}
		case ir.OpCmpBranch:
			if b.Succs[0] == b.Succs[1] {
				keep = 0
				break
			}
			x, okx := f.IntConst(t.Args[0])
			y, oky := f.IntConst(t.Args[1])
			if okx && oky {
				keep = 1
				if t.Cond.Eval(x, y) {
					keep = 0
				}
			}
		case ir.OpJumpTable:
			if c, ok := f.IntConst(t.Args[0]); ok {
				idx := uint64(ir.ZeroExtend(c, f.Instrs[t.Args[0]].Type.Bits()))
				keep = 0
				if idx < uint64(len(b.Succs)-1) {
					keep = int(idx) + 1
				}
			}
		}
		if keep < 0 {
			continue
		}
		for i := len(b.Succs) - 1; i >= 0; i-- {
			if i != keep {
				f.RemoveEdge(b, i)
			}
		}
		t.Op, t.Args = ir.OpJump, nil
		changed = true
	}
	if changed {
		f.Prune()
	}
	if mergeBlocks(f) {
		changed = true
	}
	if changed {
		f.InvalidateDom()
		f.Compact()
	}
	return changed
}

// mergeBlocks appends a block to its only predecessor when the
// predecessor ends in a jump to it.
func mergeBlocks(f *Func) bool {
	changed := false
	for _, a := range f.Blocks {
		if a.Dead {
			continue
		}
		for {
			t := f.Terminator(a)
			if t.Op != ir.OpJump {
				break
			}
			c := f.Blocks[a.Succs[0]]
			if c.ID == a.ID || c.ID == f.Entry || len(c.Preds) != 1 || c.AddrTaken {
				break
			}
			subst := make(map[int]int)
			for _, phi := range f.Phis(c) {
				subst[phi.ID] = phi.Args[0]
				f.Remove(phi.ID)
			}
			f.Replace(subst)
			f.Remove(t.ID)
			for _, id := range c.Instrs {
				if f.Instrs[id].Op == ir.OpNop {
					continue
				}
				f.Instrs[id].Block = a.ID
				a.Instrs = append(a.Instrs, id)
			}
			a.Succs = c.Succs
			for _, s := range c.Succs {
				preds := f.Blocks[s].Preds
				for i, p := range preds {
					if p == c.ID {
						preds[i] = a.ID
					}
				}
			}
			c.Succs, c.Preds, c.Instrs = nil, nil, nil
			c.Dead = true
			changed = true
		}
	}
	if changed {
		f.Compact()
	}
	return changed
}

// IntConst returns the value of v when it is an integer constant.
func (f *Func) IntConst(v int) (int64, bool) {
	in := f.Instrs[v]
	if in.Op == ir.OpIntConst {
		return in.Imm, true
	}
	return 0, false
}

// FloatConst returns the value of v when it is a float constant.
func (f *Func) FloatConst(v int) (float64, bool) {
	in := f.Instrs[v]
	if in.Op == ir.OpFloatConst {
		return in.Float, true
	}
	return 0, false
}

// Const returns a new integer constant placed at the top of the entry
// block, where it dominates every use.
func (f *Func) Const(t ir.Type, v int64) int {
	c := f.NewInstr(ir.OpIntConst, t)
	c.Imm = ir.Normalize(t, v)
	f.InsertBefore(f.Blocks[f.Entry], 0, c)
	return c.ID
}
