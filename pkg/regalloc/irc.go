package regalloc

import (
	"math"
	"math/bits"

	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Allocatable registers of each class, in the order colors are tried.
// Caller-saved registers come first so that short-lived values leave
// the callee-saved ones, which cost a push and a pop, untouched.
var (
	AllocatableGP = []ltl.MReg{
		ltl.RAX, ltl.RCX, ltl.RDX, ltl.RSI, ltl.RDI, ltl.R8, ltl.R9, ltl.R10, ltl.R11,
		ltl.RBX, ltl.R12, ltl.R13, ltl.R14, ltl.R15,
	}
	AllocatableSSE = []ltl.MReg{
		ltl.XMM0, ltl.XMM1, ltl.XMM2, ltl.XMM3, ltl.XMM4, ltl.XMM5, ltl.XMM6, ltl.XMM7,
		ltl.XMM8, ltl.XMM9, ltl.XMM10, ltl.XMM11, ltl.XMM12, ltl.XMM13, ltl.XMM14, ltl.XMM15,
	}
)

// move is a coalescing candidate between two variables.
type move struct{ u, v int }

type moveState uint8

const (
	moveWorklist moveState = iota
	moveActive
	moveCoalesced
	moveConstrained
	moveFrozen
)

// Allocator colors one register class of an interference graph using
// Iterated Register Coalescing (George and Appel). Pinned variables are
// precolored: they never enter a worklist and count as having infinite
// degree.
type Allocator struct {
	graph   *InterferenceGraph
	class   ltl.RegClass
	regs    []ltl.MReg // colors, in preference order
	palette ltl.RegMask
	K       int // number of allocatable registers

	// spillCost estimates the cost of keeping v in memory; variables
	// that cannot be spilled report +Inf.
	spillCost func(v int) float64

	colors     map[int]ltl.MReg
	precolored ValueSet
	noSpill    ValueSet

	// IRC worklists
	simplifyWorklist []int       // low-degree non-move-related nodes
	freezeWorklist   []int       // low-degree move-related nodes
	spillWorklist    []int       // high-degree nodes (potential spills)
	coalescedNodes   ValueSet    // nodes merged into another
	coloredNodes     ValueSet    // successfully colored nodes
	spilledNodes     ValueSet    // nodes that must be spilled
	selectStack      []int       // nodes removed during simplify/spill
	onStack          ValueSet    // members of selectStack
	alias            map[int]int // coalesced node -> representative

	moves     []move
	moveState []moveState
	moveList  map[int][]int // node -> indices into moves
}

// NewAllocator creates an allocator for the variables of class c.
func NewAllocator(g *InterferenceGraph, c ltl.RegClass, cost func(v int) float64) *Allocator {
	regs := AllocatableGP
	if c == ltl.ClassSSE {
		regs = AllocatableSSE
	}
	a := &Allocator{
		graph:          g,
		class:          c,
		regs:           regs,
		palette:        ltl.MaskOf(regs...),
		K:              len(regs),
		spillCost:      cost,
		colors:         make(map[int]ltl.MReg),
		precolored:     NewValueSet(),
		noSpill:        NewValueSet(),
		coalescedNodes: NewValueSet(),
		coloredNodes:   NewValueSet(),
		spilledNodes:   NewValueSet(),
		onStack:        NewValueSet(),
		alias:          make(map[int]int),
		moveList:       make(map[int][]int),
	}
	return a
}

// Allocate runs the main IRC loop and returns the colors of all nodes
// of the class together with the nodes that have to be spilled.
func (a *Allocator) Allocate() (map[int]ltl.MReg, ValueSet) {
	a.buildWorklists()
	for {
		switch {
		case len(a.simplifyWorklist) > 0:
			a.simplify()
		case a.hasWorklistMove():
			a.coalesce()
		case len(a.freezeWorklist) > 0:
			a.freeze()
		case len(a.spillWorklist) > 0:
			a.selectSpill()
		default:
			a.assignColors()
			return a.colors, a.spilledNodes
		}
	}
}

// k is the number of colors v can actually take.
func (a *Allocator) k(v int) int {
	return a.K - bits.OnesCount64(uint64(a.graph.Forbid[v]&a.palette))
}

func (a *Allocator) buildWorklists() {
	g := a.graph
	nodes := g.Nodes.Slice()
	for _, v := range nodes {
		if g.Class[v] != a.class {
			continue
		}
		if r, ok := g.Fixed[v]; ok {
			a.precolored.Add(v)
			a.colors[v] = r
			a.coloredNodes.Add(v)
		}
		if math.IsInf(a.spillCost(v), 1) {
			a.noSpill.Add(v)
		}
	}
	for _, v := range nodes {
		if g.Class[v] != a.class {
			continue
		}
		for _, p := range g.Preferences[v].Slice() {
			if v < p && g.Class[p] == a.class {
				i := len(a.moves)
				a.moves = append(a.moves, move{v, p})
				a.moveState = append(a.moveState, moveWorklist)
				a.moveList[v] = append(a.moveList[v], i)
				a.moveList[p] = append(a.moveList[p], i)
			}
		}
	}
	for _, v := range nodes {
		if g.Class[v] != a.class || a.precolored.Contains(v) {
			continue
		}
		switch {
		case a.k(v) <= 0:
			// nothing is left for a value live across instructions that
			// destroy every register of its class
			a.spilledNodes.Add(v)
		case a.degree(v) >= a.k(v):
			a.spillWorklist = append(a.spillWorklist, v)
		case a.moveRelated(v):
			a.freezeWorklist = append(a.freezeWorklist, v)
		default:
			a.simplifyWorklist = append(a.simplifyWorklist, v)
		}
	}
}

// adjacent returns the current neighbors of v: neither removed to the
// select stack nor merged into another node.
func (a *Allocator) adjacent(v int) []int {
	var out []int
	for _, n := range a.graph.Edges[v].Slice() {
		if a.onStack.Contains(n) || a.coalescedNodes.Contains(n) || a.spilledNodes.Contains(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (a *Allocator) degree(v int) int {
	if a.precolored.Contains(v) {
		return math.MaxInt32
	}
	return len(a.adjacent(v))
}

func (a *Allocator) nodeMoves(v int) []int {
	var out []int
	for _, i := range a.moveList[v] {
		if s := a.moveState[i]; s == moveWorklist || s == moveActive {
			out = append(out, i)
		}
	}
	return out
}

func (a *Allocator) moveRelated(v int) bool { return len(a.nodeMoves(v)) > 0 }

func (a *Allocator) hasWorklistMove() bool {
	for _, s := range a.moveState {
		if s == moveWorklist {
			return true
		}
	}
	return false
}

// simplify removes a low-degree node from the graph
func (a *Allocator) simplify() {
	n := len(a.simplifyWorklist) - 1
	v := a.simplifyWorklist[n]
	a.simplifyWorklist = a.simplifyWorklist[:n]
	a.push(v)
}

func (a *Allocator) push(v int) {
	neighbors := a.adjacent(v)
	a.selectStack = append(a.selectStack, v)
	a.onStack.Add(v)
	for _, m := range neighbors {
		a.decrementDegree(m)
	}
}

// decrementDegree is called after a neighbor of v left the graph. When
// the degree of v just fell below its color count, v and its move
// partners become candidates again.
func (a *Allocator) decrementDegree(v int) {
	if a.precolored.Contains(v) || !lo.Contains(a.spillWorklist, v) || a.degree(v) >= a.k(v) {
		return
	}
	a.enableMoves(append(a.adjacent(v), v))
	a.removeFromWorklist(v, &a.spillWorklist)
	if a.moveRelated(v) {
		a.freezeWorklist = append(a.freezeWorklist, v)
	} else {
		a.simplifyWorklist = append(a.simplifyWorklist, v)
	}
}

func (a *Allocator) enableMoves(nodes []int) {
	for _, n := range nodes {
		for _, i := range a.nodeMoves(n) {
			if a.moveState[i] == moveActive {
				a.moveState[i] = moveWorklist
			}
		}
	}
}

// removeFromWorklist removes a node from a worklist
func (a *Allocator) removeFromWorklist(v int, list *[]int) {
	for i, x := range *list {
		if x == v {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// coalesce tries to merge the two ends of one move
func (a *Allocator) coalesce() {
	i := -1
	for j, s := range a.moveState {
		if s == moveWorklist {
			i = j
			break
		}
	}
	m := a.moves[i]
	x, y := a.getAlias(m.u), a.getAlias(m.v)
	u, v := x, y
	if a.precolored.Contains(y) {
		u, v = y, x
	}
	switch {
	case a.spilledNodes.Contains(u) || a.spilledNodes.Contains(v):
		a.moveState[i] = moveFrozen
	case u == v:
		a.moveState[i] = moveCoalesced
		a.addToWorklist(u)
	case a.precolored.Contains(v) || a.graph.HasEdge(u, v):
		a.moveState[i] = moveConstrained
		a.addToWorklist(u)
		a.addToWorklist(v)
	case a.precolored.Contains(u) && a.canJoinFixed(u, v),
		!a.precolored.Contains(u) && a.conservativeCoalesce(u, v):
		a.moveState[i] = moveCoalesced
		a.combine(u, v)
		a.addToWorklist(u)
	default:
		a.moveState[i] = moveActive
	}
}

// getAlias follows coalescing to the representative node
func (a *Allocator) getAlias(v int) int {
	for a.coalescedNodes.Contains(v) {
		v = a.alias[v]
	}
	return v
}

// canJoinFixed is George's test for merging v into the precolored node
// u: v may take the register, and every neighbor of v either already
// interferes with u or is harmless.
func (a *Allocator) canJoinFixed(u, v int) bool {
	r := a.colors[u]
	if a.graph.Forbid[v].Has(r) {
		return false
	}
	for _, t := range a.adjacent(v) {
		if a.precolored.Contains(t) {
			if a.colors[t] == r {
				return false
			}
			continue
		}
		if a.degree(t) < a.k(t) || a.graph.HasEdge(t, u) {
			continue
		}
		return false
	}
	return true
}

// conservativeCoalesce is Briggs' test: the merged node must have fewer
// significant-degree neighbors than the colors left to it.
func (a *Allocator) conservativeCoalesce(u, v int) bool {
	forbid := (a.graph.Forbid[u] | a.graph.Forbid[v]) & a.palette
	k := a.K - bits.OnesCount64(uint64(forbid))
	if k <= 0 {
		return false
	}
	seen := NewValueSet()
	significant := 0
	for _, n := range append(a.adjacent(u), a.adjacent(v)...) {
		if seen.Contains(n) {
			continue
		}
		seen.Add(n)
		if a.precolored.Contains(n) || a.degree(n) >= a.k(n) {
			significant++
		}
	}
	return significant < k
}

// combine merges v into u
func (a *Allocator) combine(u, v int) {
	if lo.Contains(a.freezeWorklist, v) {
		a.removeFromWorklist(v, &a.freezeWorklist)
	} else {
		a.removeFromWorklist(v, &a.spillWorklist)
	}
	a.coalescedNodes.Add(v)
	a.alias[v] = u
	a.moveList[u] = append(a.moveList[u], a.moveList[v]...)
	a.graph.Forbid[u] |= a.graph.Forbid[v]
	if a.noSpill.Contains(v) {
		a.noSpill.Add(u)
	}
	a.enableMoves([]int{v})
	for _, t := range a.adjacent(v) {
		a.graph.AddEdge(t, u)
		a.decrementDegree(t)
	}
	if !a.precolored.Contains(u) && a.degree(u) >= a.k(u) && lo.Contains(a.freezeWorklist, u) {
		a.removeFromWorklist(u, &a.freezeWorklist)
		a.spillWorklist = append(a.spillWorklist, u)
	}
}

// addToWorklist moves a node to simplify when it is no longer move
// related and has low degree.
func (a *Allocator) addToWorklist(v int) {
	if a.precolored.Contains(v) || a.moveRelated(v) || a.degree(v) >= a.k(v) {
		return
	}
	if lo.Contains(a.freezeWorklist, v) {
		a.removeFromWorklist(v, &a.freezeWorklist)
		a.simplifyWorklist = append(a.simplifyWorklist, v)
	}
}

// freeze gives up coalescing one low-degree node
func (a *Allocator) freeze() {
	v := a.freezeWorklist[0]
	a.freezeWorklist = a.freezeWorklist[1:]
	a.simplifyWorklist = append(a.simplifyWorklist, v)
	a.freezeMovesFor(v)
}

// freezeMovesFor freezes all moves involving a node
func (a *Allocator) freezeMovesFor(v int) {
	for _, i := range a.nodeMoves(v) {
		m := a.moves[i]
		other := a.getAlias(m.u)
		if other == a.getAlias(v) {
			other = a.getAlias(m.v)
		}
		a.moveState[i] = moveFrozen
		if !a.precolored.Contains(other) && !a.moveRelated(other) && a.degree(other) < a.k(other) &&
			lo.Contains(a.freezeWorklist, other) {
			a.removeFromWorklist(other, &a.freezeWorklist)
			a.simplifyWorklist = append(a.simplifyWorklist, other)
		}
	}
}

// selectSpill picks the cheapest potential spill per neighbor and
// pushes it optimistically: it may still get a color.
func (a *Allocator) selectSpill() {
	best, bestCost := -1, math.Inf(1)
	for _, v := range a.spillWorklist {
		if a.noSpill.Contains(v) {
			continue
		}
		c := a.spillCost(v) / float64(max(a.degree(v), 1))
		if best < 0 || c < bestCost {
			best, bestCost = v, c
		}
	}
	if best < 0 {
		// only unspillable candidates left: the one with most neighbors
		// is the most likely to find a color last
		for _, v := range a.spillWorklist {
			if best < 0 || a.degree(v) > a.degree(best) {
				best = v
			}
		}
	}
	a.removeFromWorklist(best, &a.spillWorklist)
	a.simplifyWorklist = append(a.simplifyWorklist, best)
	a.freezeMovesFor(best)
}

// assignColors pops the select stack. A node takes the color of an
// already colored move partner when it can, otherwise the first free
// register in preference order.
func (a *Allocator) assignColors() {
	for len(a.selectStack) > 0 {
		n := len(a.selectStack) - 1
		v := a.selectStack[n]
		a.selectStack = a.selectStack[:n]
		a.onStack.Remove(v)

		ok := a.palette &^ a.graph.Forbid[v]
		for w := range a.graph.Edges[v] {
			if r := a.getAlias(w); a.coloredNodes.Contains(r) {
				ok &^= ltl.MaskOf(a.colors[r])
			}
		}
		if ok == 0 {
			a.spilledNodes.Add(v)
			continue
		}
		color := ltl.NoReg
		for _, i := range a.moveList[v] {
			m := a.moves[i]
			partner := a.getAlias(m.u)
			if partner == v {
				partner = a.getAlias(m.v)
			}
			if c, colored := a.colors[partner]; colored && a.coloredNodes.Contains(partner) && ok.Has(c) {
				color = c
				break
			}
		}
		if color == ltl.NoReg {
			for _, r := range a.regs {
				if ok.Has(r) {
					color = r
					break
				}
			}
		}
		a.coloredNodes.Add(v)
		a.colors[v] = color
	}
	for v := range a.coalescedNodes {
		r := a.getAlias(v)
		if a.spilledNodes.Contains(r) {
			a.spilledNodes.Add(v)
			continue
		}
		a.colors[v] = a.colors[r]
	}
}
