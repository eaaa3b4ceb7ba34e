package regalloc

import (
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// InterferenceGraph records which variables may not share a register.
// Edges only join variables of the same register class.
type InterferenceGraph struct {
	// Nodes are allocation variables
	Nodes ValueSet
	// Edges maps each variable to its interfering neighbors
	Edges map[int]ValueSet
	// Preferences maps each variable to move partners (for coalescing)
	Preferences map[int]ValueSet
	// Forbid holds registers a variable may not use: those destroyed by
	// an instruction it is live across, and asm clobbers of its operands.
	Forbid map[int]ltl.RegMask
	// Fixed holds the register of precolored variables.
	Fixed map[int]ltl.MReg
	Class map[int]ltl.RegClass
	// LiveAcrossCalls tracks variables live across a call
	LiveAcrossCalls ValueSet
}

// NewInterferenceGraph creates an empty interference graph
func NewInterferenceGraph() *InterferenceGraph {
	return &InterferenceGraph{
		Nodes:           NewValueSet(),
		Edges:           make(map[int]ValueSet),
		Preferences:     make(map[int]ValueSet),
		Forbid:          make(map[int]ltl.RegMask),
		Fixed:           make(map[int]ltl.MReg),
		Class:           make(map[int]ltl.RegClass),
		LiveAcrossCalls: NewValueSet(),
	}
}

// AddNode adds a variable of the given class to the graph
func (g *InterferenceGraph) AddNode(v int, c ltl.RegClass) {
	if g.Nodes.Contains(v) {
		return
	}
	g.Nodes.Add(v)
	g.Class[v] = c
	g.Edges[v] = NewValueSet()
	g.Preferences[v] = NewValueSet()
}

// AddEdge adds an interference edge between two variables of the same
// class. Both must already be nodes.
func (g *InterferenceGraph) AddEdge(v1, v2 int) {
	if v1 == v2 || g.Class[v1] != g.Class[v2] {
		return
	}
	g.Edges[v1].Add(v2)
	g.Edges[v2].Add(v1)
}

// AddPreference adds a preference edge (for move coalescing)
func (g *InterferenceGraph) AddPreference(v1, v2 int) {
	if v1 == v2 || g.Class[v1] != g.Class[v2] {
		return
	}
	g.Preferences[v1].Add(v2)
	g.Preferences[v2].Add(v1)
}

// HasEdge checks if two variables interfere
func (g *InterferenceGraph) HasEdge(v1, v2 int) bool {
	if e, ok := g.Edges[v1]; ok {
		return e.Contains(v2)
	}
	return false
}

// Degree returns the number of interfering neighbors
func (g *InterferenceGraph) Degree(v int) int { return len(g.Edges[v]) }

// MoveRelated reports whether v has move partners
func (g *InterferenceGraph) MoveRelated(v int) bool { return len(g.Preferences[v]) > 0 }

func classOf(t ir.Type) ltl.RegClass {
	if t.IsFloat() {
		return ltl.ClassSSE
	}
	return ltl.ClassGP
}

// BuildInterferenceGraph walks every block backwards from its live-out
// set. A definition interferes with everything live after it, except the
// source of a copy; machine constraints of selected instructions add
// the remaining edges.
func (a *allocation) BuildInterferenceGraph(live *LivenessInfo) (*InterferenceGraph, error) {
	f := a.f
	g := NewInterferenceGraph()
	node := func(v int) int {
		g.AddNode(v, classOf(f.Instrs[v].Type))
		return v
	}
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if a.defines(in) {
				d := node(a.varOf(id))
				if in.Fixed != ltl.NoReg {
					if r, ok := g.Fixed[d]; ok && r != in.Fixed {
						return nil, diag.Internalf(f.Name, id, "variable v%d pinned to both %s and %s", d, r, in.Fixed)
					}
					g.Fixed[d] = in.Fixed
				}
			}
		}
	}

	for _, b := range f.LiveBlocks() {
		a.walkBlock(b, live.LiveOut[b.ID], func(_ int, in *ssa.Instr, liveOut ValueSet) {
			d := -1
			if a.defines(in) {
				d = a.varOf(in.ID)
				for l := range liveOut {
					if l == d || (in.Op == ir.OpCopy && l == in.Args[0]) {
						continue
					}
					g.AddEdge(d, node(l))
				}
				ops := in.Args[:len(in.Args)-in.Temps]
				for _, t := range in.Args[len(in.Args)-in.Temps:] {
					g.AddEdge(d, node(t))
				}
				if (in.Op.IsTwoAddress() || in.Op.IsDivision()) && len(ops) > 1 {
					for _, x := range ops[1:] {
						g.AddEdge(d, node(x))
					}
				}
				if in.Op == ir.OpCopy {
					g.AddPreference(d, node(in.Args[0]))
				}
			}
			if in.Clobbers != 0 {
				for l := range liveOut {
					if l != d {
						g.Forbid[node(l)] |= in.Clobbers
					}
				}
				if in.Op == ir.OpCall {
					for l := range liveOut {
						if l != d {
							g.LiveAcrossCalls.Add(l)
						}
					}
				}
			}
			if in.Op == ir.OpInlineAsm {
				a.asmInterference(g, in)
			}
			for _, v := range a.uses(in) {
				node(v)
			}
		})
	}
	return g, a.checkFixed(g)
}

// asmInterference keeps the operands of an inline asm apart. Outputs
// are written while inputs may still be read unless nothing can go
// wrong: an untied output may share the register of an input that dies
// at the statement, but an early-clobber output may not, and a tied
// output may only share with its own input.
func (a *allocation) asmInterference(g *InterferenceGraph, in *ssa.Instr) {
	st := in.Asm
	projs := a.projects[in.ID]
	tied := st.TiedArgs()
	early := make(map[int]bool)
	for _, o := range st.Operands {
		if o.Output && o.Result >= 0 && o.EarlyClob {
			early[o.Result] = true
		}
	}
	for k, p := range projs {
		if p < 0 {
			continue
		}
		g.AddNode(p, classOf(a.f.Instrs[p].Type))
		g.Forbid[p] |= in.Clobbers
		for _, q := range projs[k+1:] {
			if q >= 0 {
				g.AddNode(q, classOf(a.f.Instrs[q].Type))
				g.AddEdge(p, q)
			}
		}
		arg, isTied := tied[k]
		if !isTied && !early[k] {
			continue
		}
		for j, x := range in.Args {
			if (isTied && j == arg) || a.f.Instrs[x].Type == ir.Void {
				continue
			}
			g.AddNode(x, classOf(a.f.Instrs[x].Type))
			g.AddEdge(p, x)
		}
		if isTied {
			x := in.Args[arg]
			g.AddNode(x, classOf(a.f.Instrs[x].Type))
			g.AddPreference(p, x)
		}
	}
	for _, x := range a.uses(in) {
		g.Forbid[x] |= in.Clobbers
	}
}

// checkFixed rejects constraints no coloring can meet: two interfering
// variables pinned to the same register, or a pinned variable whose
// register is destroyed while it is live. Asm operands are the only way
// user code can ask for either.
func (a *allocation) checkFixed(g *InterferenceGraph) error {
	f := a.f
	for _, u := range g.Nodes.Slice() {
		r, ok := g.Fixed[u]
		if !ok {
			continue
		}
		if g.Forbid[u].Has(r) {
			if asm := a.asmOf(u); asm >= 0 {
				return diag.Userf(f.Instrs[asm].Pos, "asm operand in %%%s conflicts with the clobber list", r)
			}
			return diag.Internalf(f.Name, u, "v%d is pinned to %%%s but the register is destroyed while it is live", u, r)
		}
		for _, v := range g.Edges[u].Slice() {
			if rv, fixed := g.Fixed[v]; v <= u || !fixed || rv != r {
				continue
			}
			asm := a.asmOf(u)
			if asm < 0 {
				asm = a.asmOf(v)
			}
			if asm >= 0 {
				return diag.Userf(f.Instrs[asm].Pos, "two asm operands need register %%%s", r)
			}
			return diag.Internalf(f.Name, u, "v%d and v%d are both pinned to %%%s while live together", u, v, r)
		}
	}
	return nil
}

// asmOf returns the inline asm statement a pinned variable is an
// operand of, or -1.
func (a *allocation) asmOf(v int) int {
	in := a.f.Instrs[v]
	if in.Op == ir.OpProject && a.f.Instrs[in.Args[0]].Op == ir.OpInlineAsm {
		return in.Args[0]
	}
	for _, u := range a.users[v] {
		if a.f.Instrs[u].Op == ir.OpInlineAsm {
			return u
		}
	}
	return -1
}
