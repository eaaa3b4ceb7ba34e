package regalloc

import (
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// LivenessInfo holds per-block liveness of allocation variables,
// indexed by block ID.
type LivenessInfo struct {
	LiveIn  []ValueSet
	LiveOut []ValueSet
	Def     []ValueSet // variables defined in the block
	Use     []ValueSet // variables read before any definition in the block
}

// varOf returns the variable an instruction defines. Copies that feed a
// phi share the variable of the first such copy.
func (a *allocation) varOf(id int) int {
	if v, ok := a.defVar[id]; ok {
		return v
	}
	return id
}

// defines reports whether in writes a register.
func (a *allocation) defines(in *ssa.Instr) bool {
	return in.Op != ir.OpNop && in.Type != ir.Void
}

// uses returns the variables in reads. The producer operand of a
// projection is not a register, and a dbgvalue marker reads nothing.
func (a *allocation) uses(in *ssa.Instr) []int {
	if in.Op == ir.OpProject || in.Op == ir.OpDbgValue {
		return nil
	}
	var out []int
	for _, v := range in.Args {
		if a.f.Instrs[v].Type != ir.Void {
			out = append(out, v)
		}
	}
	return out
}

// ComputeDefUse fills the Def and Use sets of every block.
func (a *allocation) ComputeDefUse(info *LivenessInfo) {
	for _, b := range a.f.LiveBlocks() {
		def, use := NewValueSet(), NewValueSet()
		for _, id := range b.Instrs {
			in := a.f.Instrs[id]
			for _, v := range a.uses(in) {
				if !def.Contains(v) {
					use.Add(v)
				}
			}
			if a.defines(in) {
				def.Add(a.varOf(id))
			}
		}
		info.Def[b.ID], info.Use[b.ID] = def, use
	}
}

// AnalyzeLiveness solves the backward dataflow equations
//
//	LiveOut(b) = union of LiveIn(s) over successors s
//	LiveIn(b)  = Use(b) | (LiveOut(b) - Def(b))
//
// visiting blocks in postorder until nothing changes.
func (a *allocation) AnalyzeLiveness() *LivenessInfo {
	f := a.f
	n := len(f.Blocks)
	info := &LivenessInfo{
		LiveIn:  make([]ValueSet, n),
		LiveOut: make([]ValueSet, n),
		Def:     make([]ValueSet, n),
		Use:     make([]ValueSet, n),
	}
	a.ComputeDefUse(info)
	for _, b := range f.LiveBlocks() {
		info.LiveIn[b.ID], info.LiveOut[b.ID] = NewValueSet(), NewValueSet()
	}

	f.InvalidateDom()
	rpo := f.RPO()
	for changed := true; changed; {
		changed = false
		for i := len(rpo) - 1; i >= 0; i-- {
			b := f.Blocks[rpo[i]]
			out := NewValueSet()
			for _, s := range b.Succs {
				for v := range info.LiveIn[s] {
					out.Add(v)
				}
			}
			in := info.Use[b.ID].Union(out.Minus(info.Def[b.ID]))
			if !in.Equal(info.LiveIn[b.ID]) || !out.Equal(info.LiveOut[b.ID]) {
				changed = true
			}
			info.LiveIn[b.ID], info.LiveOut[b.ID] = in, out
		}
	}
	return info
}

// walkBlock visits the instructions of b from last to first, passing the
// variables live just after each one.
func (a *allocation) walkBlock(b *ssa.Block, liveOut ValueSet, visit func(pos int, in *ssa.Instr, live ValueSet)) {
	live := liveOut.Copy()
	for pos := len(b.Instrs) - 1; pos >= 0; pos-- {
		in := a.f.Instrs[b.Instrs[pos]]
		visit(pos, in, live)
		if a.defines(in) {
			live.Remove(a.varOf(in.ID))
		}
		for _, v := range a.uses(in) {
			live.Add(v)
		}
	}
}
