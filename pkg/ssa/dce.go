package ssa

import "github.com/raymyers/ralph-x64/pkg/ir"

// dce removes instructions whose results are never used and that have
// no effect besides their result. Stores, calls, volatile loads and
// volatile asm are roots and always kept. A dbgvalue marker does not
// keep its value alive: it keeps a dead constant as an immediate and
// forgets other dead values.
func dce(f *Func) bool {
	live := make([]bool, len(f.Instrs))
	var work []int
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			if critical(f.Instrs[id]) {
				live[id] = true
				work = append(work, id)
			}
		}
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		for _, a := range f.Instrs[id].Args {
			if !live[a] {
				live[a] = true
				work = append(work, a)
			}
		}
	}
	// an asm template writes every output, read or not
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			switch {
			case in.Op == ir.OpProject && live[in.Args[0]] && f.Instrs[in.Args[0]].Op == ir.OpInlineAsm:
				live[id] = true
			case in.Op == ir.OpDbgValue:
				if len(in.Args) > 0 && !live[in.Args[0]] {
					if k, ok := f.IntConst(in.Args[0]); ok {
						in.Imm, in.HasImm = k, true
					}
					in.Args = nil
				}
				live[id] = true
			}
		}
	}
	changed := false
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			if !live[id] {
				f.Remove(id)
				changed = true
			}
		}
	}
	if changed {
		f.Compact()
	}
	return changed
}

// DeadCode runs dead code elimination on a function in any state.
func DeadCode(f *Func) bool { return dce(f) }

func critical(in *Instr) bool {
	switch in.Op {
	case ir.OpInlineAsm:
		if in.Volatile || IsTerminator(in) {
			return true
		}
		for _, o := range in.Asm.Operands {
			if o.Output && o.IsMemory() {
				return true
			}
		}
		return false
	case ir.OpLoad:
		return in.Volatile
	case ir.OpTemp:
		return true
	}
	return in.Op.HasSideEffects() || IsTerminator(in)
}
