package regalloc

import (
	"math"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// rematerializable reports whether v is cheaper to recompute before
// each use than to keep in a stack slot.
func (a *allocation) rematerializable(v int) bool {
	switch a.f.Instrs[v].Op {
	case ir.OpIntConst, ir.OpFloatConst, ir.OpGlobalAddr, ir.OpLocalAddr,
		ir.OpIncomingAddr, ir.OpOutgoingAddr, ir.OpLabelAddr:
		return len(a.f.Instrs[v].Args) == 0
	}
	return false
}

// computeSpillCosts weighs every definition and use of a variable by
// 10^loop depth. Variables that cannot live in memory cost +Inf:
// scratch registers, pinned values, and the short ranges created by
// earlier spilling.
func (a *allocation) computeSpillCosts(g *InterferenceGraph) {
	f := a.f
	a.cost = make(map[int]float64)
	for _, b := range f.LiveBlocks() {
		w := math.Pow(10, float64(min(a.depth[b.ID], 8)))
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if a.defines(in) {
				a.cost[a.varOf(id)] += w
			}
			for _, v := range a.uses(in) {
				a.cost[v] += w
			}
		}
	}
	for v := range g.Nodes {
		in := f.Instrs[v]
		_, fixed := g.Fixed[v]
		switch {
		case fixed || in.Op == ir.OpTemp || a.noSpill.Contains(v):
			a.cost[v] = math.Inf(1)
		case a.rematerializable(v):
			a.cost[v] /= 2
		}
	}
}

func (a *allocation) spillCost(v int) float64 { return a.cost[v] }

// slotFor returns the spill slot of v, allocating one on first use.
func (a *allocation) slotFor(v int) int {
	if s, ok := a.slotOf[v]; ok {
		return s
	}
	s := len(a.spills)
	a.slotOf[v] = s
	a.spills = append(a.spills, a.f.Instrs[v].Type)
	return s
}

// derive records that a value created by spilling stands for v.
func (a *allocation) derive(id, v int) {
	if o, ok := a.origin[v]; ok {
		v = o
	}
	a.origin[id] = v
	a.noSpill.Add(id)
}

// rewriteSpills moves the spilled variables to memory. Constants and
// addresses are recomputed before every use instead. Other variables
// get a slot: every definition is followed by a store (a copy into the
// variable becomes the store itself) and every use is preceded by a
// reload (a copy out of the variable becomes the reload itself).
// Stores of asm and call results wait until the whole projection run
// has read its registers.
func (a *allocation) rewriteSpills(spilled ValueSet, live *LivenessInfo) {
	f := a.f
	remat := make(map[int]*ssa.Instr)
	slotted := NewValueSet()
	for _, v := range spilled.Slice() {
		if a.rematerializable(v) {
			remat[v] = f.Instrs[v]
			continue
		}
		slotted.Add(v)
		a.slotFor(v)
		for _, b := range f.LiveBlocks() {
			if live.LiveIn[b.ID].Contains(v) || live.Def[b.ID].Contains(v) {
				a.spillBlocks[v] = append(a.spillBlocks[v], b.ID)
			}
		}
	}

	var dropped []int
	for _, b := range f.LiveBlocks() {
		var out, pending []int
		emit := func(in *ssa.Instr) {
			in.Block = b.ID
			out = append(out, in.ID)
		}
		store := func(v int) {
			st := f.NewInstr(ir.OpSpill, ir.Void, v)
			st.Slot, st.Pos = a.slotOf[a.varOf(v)], f.Instrs[v].Pos
			emit(st)
		}
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op != ir.OpProject {
				for _, v := range pending {
					store(v)
				}
				pending = nil
			}
			d := -1
			if a.defines(in) {
				d = a.varOf(id)
			}
			if _, ok := remat[d]; ok {
				dropped = append(dropped, id)
				continue
			}

			if in.Op == ir.OpCopy && slotted.Contains(in.Args[0]) && !slotted.Contains(d) {
				src := in.Args[0]
				in.Op, in.Args, in.Slot = ir.OpReload, nil, a.slotOf[src]
				emit(in)
				continue
			}
			if in.Op != ir.OpProject && in.Op != ir.OpDbgValue {
				fresh := make(map[int]int)
				for j, x := range in.Args {
					if r, ok := fresh[x]; ok {
						in.Args[j] = r
						continue
					}
					var r *ssa.Instr
					if orig, ok := remat[x]; ok {
						r = f.NewInstr(orig.Op, orig.Type)
						r.Payload, r.Target = orig.Payload, orig.Target
					} else if slotted.Contains(x) {
						r = f.NewInstr(ir.OpReload, f.Instrs[x].Type)
						r.Slot, r.Pos = a.slotOf[x], in.Pos
					} else {
						continue
					}
					a.derive(r.ID, x)
					emit(r)
					fresh[x] = r.ID
					in.Args[j] = r.ID
				}
			}

			switch {
			case !slotted.Contains(d):
				emit(in)
			case in.Op == ir.OpCopy:
				delete(a.defVar, id)
				in.Op, in.Type, in.Slot = ir.OpSpill, ir.Void, a.slotOf[d]
				emit(in)
			case in.Op == ir.OpProject:
				emit(in)
				pending = append(pending, id)
			default:
				emit(in)
				store(id)
			}
		}
		for _, v := range pending {
			store(v)
		}
		b.Instrs = out
	}
	for _, id := range dropped {
		f.Remove(id)
	}
}
