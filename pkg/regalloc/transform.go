// Package regalloc assigns machine registers to the values of a
// selected SSA function using Iterated Register Coalescing, spilling to
// stack slots when registers run out, and produces the allocated
// function (package ltl).
package regalloc

import (
	"math"

	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// DefaultMaxRounds bounds the color-spill-rewrite iterations.
const DefaultMaxRounds = 8

// Options tunes the allocator.
type Options struct {
	MaxRounds int  // 0 means DefaultMaxRounds
	Verify    bool // recheck the final assignment against all constraints
}

// Segment is a piece of the lifetime of a value: instructions Start to
// End (exclusive) of an allocated block, during which the value is in
// Loc.
type Segment struct {
	Block      int
	Start, End int
	Loc        ltl.Loc
}

// Result is the outcome of allocating one function.
type Result struct {
	Func *ltl.Function
	// Locs lists the locations of every value of the selected function,
	// by value ID.
	Locs    map[int][]Segment
	Rounds  int
	Spilled int
}

// allocation is the state shared by the phases of one function.
type allocation struct {
	f    *ssa.Func
	info *abi.FuncInfo

	defVar   map[int]int   // extra definitions of phi variables
	projects map[int][]int // producer -> projection by result index
	users    [][]int
	depth    []int
	cost     map[int]float64
	colors   map[int]ltl.MReg

	spills      []ir.Type
	slotOf      map[int]int
	spillBlocks map[int][]int // blocks where a spilled value lived
	noSpill     ValueSet
	origin      map[int]int // value created by spilling -> value it replaces
	spilled     int

	// ltl position of each SSA position, filled by build
	index   [][]int
	markers []marker
}

func newAllocation(f *ssa.Func, info *abi.FuncInfo) *allocation {
	return &allocation{
		f:           f,
		info:        info,
		defVar:      make(map[int]int),
		colors:      make(map[int]ltl.MReg),
		slotOf:      make(map[int]int),
		spillBlocks: make(map[int][]int),
		noSpill:     NewValueSet(),
		origin:      make(map[int]int),
	}
}

// Allocate assigns registers to f, which must be in the Selected state.
// It rewrites f in place (phis become copies, spill code is inserted)
// and returns the allocated function.
func Allocate(f *ssa.Func, info *abi.FuncInfo, opts Options) (res *Result, err error) {
	defer diag.Recover(&err)
	if f.State != ssa.Selected {
		return nil, diag.Internalf(f.Name, -1, "allocation run on a function in state %s", f.State)
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	a := newAllocation(f, info)
	if err := a.eliminatePhis(); err != nil {
		return nil, err
	}
	a.isolateFixedResults()
	a.depth = f.LoopDepth()

	var (
		live *LivenessInfo
		g    *InterferenceGraph
	)
	rounds := 0
	for {
		rounds++
		a.refresh()
		live = a.AnalyzeLiveness()
		g, err = a.BuildInterferenceGraph(live)
		if err != nil {
			return nil, diag.InFunc(err, f.Name)
		}
		spilled, err := a.color(g)
		if err != nil {
			return nil, err
		}
		if len(spilled) == 0 {
			break
		}
		if rounds == maxRounds {
			return nil, diag.RegisterPressure(f.Name, spilled.Slice()[0])
		}
		a.rewriteSpills(spilled, live)
		a.spilled += len(spilled)
	}
	if opts.Verify {
		if err := a.verify(g, live); err != nil {
			return nil, err
		}
	}
	fn := a.build()
	locs := a.segments(live, fn)
	a.placeMarkers(fn, locs)
	return &Result{Func: fn, Locs: locs, Rounds: rounds, Spilled: a.spilled}, nil
}

// refresh recomputes the use lists and projection runs after the
// instruction stream changed.
func (a *allocation) refresh() {
	f := a.f
	a.users = f.Uses()
	a.projects = make(map[int][]int)
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op != ir.OpProject {
				continue
			}
			p, k := in.Args[0], int(in.Imm)
			list := a.projects[p]
			for len(list) <= k {
				list = append(list, -1)
			}
			list[k] = id
			a.projects[p] = list
		}
	}
}

// color runs the allocator on both register classes. A variable that
// must stay in a register but found no color makes room by sending its
// spillable neighbors to memory instead.
func (a *allocation) color(g *InterferenceGraph) (ValueSet, error) {
	a.computeSpillCosts(g)
	spilled := NewValueSet()
	for _, c := range []ltl.RegClass{ltl.ClassGP, ltl.ClassSSE} {
		colors, sp := NewAllocator(g, c, a.spillCost).Allocate()
		for v, r := range colors {
			a.colors[v] = r
		}
		for v := range sp {
			spilled.Add(v)
		}
	}
	for _, v := range spilled.Slice() {
		if !math.IsInf(a.cost[v], 1) {
			continue
		}
		spilled.Remove(v)
		victims := 0
		for n := range g.Edges[v] {
			if !math.IsInf(a.cost[n], 1) {
				spilled.Add(n)
				victims++
			}
		}
		if victims == 0 {
			return nil, diag.RegisterPressure(a.f.Name, v)
		}
	}
	return spilled, nil
}

// build produces the allocated function. Parameters, projections and
// scratch reservations only carry constraints and disappear, as do
// copies whose ends got the same register. Markers lose their operand
// and get a location from placeMarkers.
func (a *allocation) build() *ltl.Function {
	f := a.f
	fn := &ltl.Function{
		Name:         f.Name,
		Static:       f.Static,
		Pos:          f.Pos,
		Type:         f.Type,
		Locals:       f.Locals,
		Blocks:       make([]*ltl.Block, len(f.Blocks)),
		Entry:        f.Entry,
		Spills:       a.spills,
		RegSaveSlot:  f.RegSaveSlot,
		OutgoingSize: f.OutgoingSize,
	}
	if a.info != nil {
		fn.UsedGP, fn.UsedSSE = a.info.UsedGP, a.info.UsedSSE
		fn.Params = a.paramLocs()
	}
	a.index = make([][]int, len(f.Blocks))
	for _, b := range f.LiveBlocks() {
		lb := &ltl.Block{
			ID:        b.ID,
			Succs:     append([]int(nil), b.Succs...),
			AddrTaken: b.AddrTaken,
			LoopDepth: a.depth[b.ID],
		}
		idx := make([]int, len(b.Instrs))
		for pos, id := range b.Instrs {
			idx[pos] = len(lb.Instrs)
			in := f.Instrs[id]
			switch in.Op {
			case ir.OpNop, ir.OpTemp, ir.OpParam, ir.OpProject:
				continue
			case ir.OpCopy:
				if a.colors[a.varOf(id)] == a.colors[in.Args[0]] {
					continue
				}
			}
			li := ltl.Instr{
				Op:       in.Op,
				Type:     in.Type,
				Dst:      ltl.NoReg,
				Temps:    in.Temps,
				Target:   in.Target,
				Payload:  in.Payload,
				Clobbers: in.Clobbers,
			}
			if a.defines(in) {
				li.Dst = a.colors[a.varOf(id)]
				fn.Used = fn.Used.With(li.Dst)
			}
			for _, v := range a.uses(in) {
				li.Args = append(li.Args, a.colors[v])
				li.ArgTypes = append(li.ArgTypes, f.Instrs[v].Type)
			}
			if in.Op == ir.OpInlineAsm {
				for _, p := range a.projects[id] {
					r := ltl.NoReg
					if p >= 0 {
						r = a.colors[p]
						fn.Used = fn.Used.With(r)
					}
					li.Results = append(li.Results, r)
				}
			}
			for _, r := range li.Scratch() {
				fn.Used = fn.Used.With(r)
			}
			fn.Used |= li.Clobbers
			if in.Op == ir.OpDbgValue && len(in.Args) > 0 {
				a.markers = append(a.markers, marker{block: b.ID, at: len(lb.Instrs), value: in.Args[0]})
			}
			lb.Instrs = append(lb.Instrs, li)
		}
		a.index[b.ID] = idx
		fn.Blocks[b.ID] = lb
	}
	return fn
}

// paramLocs records where each named scalar parameter arrives.
func (a *allocation) paramLocs() []ltl.ParamLoc {
	var out []ltl.ParamLoc
	for _, l := range a.f.Locals {
		if l.Param < 0 || l.Param >= len(a.info.Params) || l.Name == "" {
			continue
		}
		p := a.info.Params[l.Param]
		switch {
		case p.Ignored || ir.InMemory(p.Type):
		case p.InRegs():
			out = append(out, ltl.ParamLoc{Name: l.Name, Loc: ltl.R{Reg: p.Regs[0]}})
		case p.OnStack:
			out = append(out, ltl.ParamLoc{Name: l.Name, Loc: ltl.S{Slot: ltl.SlotIncoming, Ofs: p.StackOffset}})
		}
	}
	return out
}

// segments lists, for every value of the selected function, the ranges
// of allocated instructions during which it sits in each location.
// Values created by spilling are reported under the value they stand
// for; a spilled value also occupies its slot in every block it was
// live in.
func (a *allocation) segments(live *LivenessInfo, fn *ltl.Function) map[int][]Segment {
	locs := make(map[int][]Segment)
	owner := func(v int) int {
		if o, ok := a.origin[v]; ok {
			return o
		}
		return v
	}
	for _, b := range a.f.LiveBlocks() {
		idx := a.index[b.ID]
		n := len(fn.Blocks[b.ID].Instrs)
		open := make(map[int]int)
		for v := range live.LiveOut[b.ID] {
			open[v] = n
		}
		add := func(v, start, end int) {
			start, end = min(start, n), min(end, n)
			if r, ok := a.colors[v]; ok && start < end {
				o := owner(v)
				locs[o] = append(locs[o], Segment{Block: b.ID, Start: start, End: end, Loc: ltl.R{Reg: r}})
			}
		}
		a.walkBlock(b, live.LiveOut[b.ID], func(pos int, in *ssa.Instr, _ ValueSet) {
			at := idx[pos]
			if a.defines(in) {
				d := a.varOf(in.ID)
				end, ok := open[d]
				if !ok {
					end = at + 1
				}
				add(d, at, max(end, at+1))
				delete(open, d)
			}
			for _, v := range a.uses(in) {
				if _, ok := open[v]; !ok {
					open[v] = at + 1
				}
			}
		})
		for _, v := range NewValueSet(lo.Keys(open)...).Slice() {
			add(v, 0, open[v])
		}
	}
	for id, v := range a.defVar {
		locs[id] = locs[v]
	}
	for v, blocks := range a.spillBlocks {
		for _, b := range blocks {
			locs[v] = append(locs[v], Segment{
				Block: b,
				End:   len(fn.Blocks[b].Instrs),
				Loc:   ltl.S{Slot: ltl.SlotSpill, Index: a.slotOf[v]},
			})
		}
	}
	return locs
}
