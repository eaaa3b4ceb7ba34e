package ssa

import (
	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/ir"
)

// licm hoists loop-invariant pure instructions into the loop
// preheader. An instruction is invariant when each operand is defined
// outside the loop or was hoisted already. Loops without a block that
// is the header's only outside predecessor and jumps only to the
// header are left alone.
func licm(f *Func) bool {
	f.ComputeDom()
	changed := false
	for _, l := range f.Loops() {
		pre := preheader(f, l)
		if pre == nil {
			continue
		}
		for _, b := range f.RPO() {
			if !l.Blocks[b] {
				continue
			}
			blk := f.Blocks[b]
			var kept []int
			for _, id := range blk.Instrs {
				in := f.Instrs[id]
				if hoistable(in) && lo.EveryBy(in.Args, func(a int) bool { return !l.Blocks[f.Instrs[a].Block] }) {
					f.InsertAtEnd(pre, in)
					changed = true
					continue
				}
				kept = append(kept, id)
			}
			blk.Instrs = kept
		}
	}
	return changed
}

func preheader(f *Func, l *Loop) *Block {
	h := f.Blocks[l.Header]
	outside := lo.Uniq(lo.Filter(h.Preds, func(p int, _ int) bool { return !l.Blocks[p] }))
	if len(outside) != 1 {
		return nil
	}
	p := f.Blocks[outside[0]]
	if len(p.Succs) != 1 || lo.Count(h.Preds, p.ID) != 1 {
		return nil
	}
	return p
}

func hoistable(in *Instr) bool {
	switch in.Op {
	case ir.OpIntConst, ir.OpLocalAddr, ir.OpCopy:
		// folded into users as immediates or addressing modes
		return false
	}
	return in.Op.IsPure()
}
