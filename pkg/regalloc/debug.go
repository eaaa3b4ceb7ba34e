package regalloc

import (
	"sort"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// marker is a dbgvalue marker of the allocated code that names a value.
type marker struct {
	block, at int
	value     int
}

// placeMarkers gives every dbgvalue marker the location of its value
// and ends the range with an unknown marker where the value leaves that
// location, so that a variable is never reported in a register that
// holds something else. The segments in locs are moved past the
// inserted markers.
func (a *allocation) placeMarkers(fn *ltl.Function, locs map[int][]Segment) {
	type end struct{ at, slot int }
	ends := make(map[int][]end)
	for _, m := range a.markers {
		lb := fn.Blocks[m.block]
		in := &lb.Instrs[m.at]
		var best *Segment
		for j, s := range locs[m.value] {
			if s.Block == m.block && s.Start <= m.at && m.at < s.End && (best == nil || s.End > best.End) {
				best = &locs[m.value][j]
			}
		}
		if best == nil {
			continue
		}
		in.Var = best.Loc
		if best.End >= len(lb.Instrs) || redefined(lb, m.at, best.End) {
			continue
		}
		ends[m.block] = append(ends[m.block], end{best.End, in.Slot})
	}
	if len(ends) == 0 {
		return
	}
	for b, list := range ends {
		sort.SliceStable(list, func(i, j int) bool { return list[i].at < list[j].at })
		lb := fn.Blocks[b]
		out := make([]ltl.Instr, 0, len(lb.Instrs)+len(list))
		k := 0
		for pos, in := range lb.Instrs {
			for ; k < len(list) && list[k].at == pos; k++ {
				out = append(out, ltl.Instr{
					Op:      ir.OpDbgValue,
					Type:    ir.Void,
					Dst:     ltl.NoReg,
					Payload: ir.Payload{Slot: list[k].slot},
				})
			}
			out = append(out, in)
		}
		lb.Instrs = out
	}
	// an instruction at p moves down by the markers inserted at or
	// before p
	shift := func(list []end, p int, inclusive bool) int {
		n := 0
		for _, e := range list {
			if e.at < p || (inclusive && e.at == p) {
				n++
			}
		}
		return p + n
	}
	// copies feeding a phi share the segments of the phi
	seen := make(map[*Segment]bool)
	for v, segs := range locs {
		for j := range segs {
			s := &locs[v][j]
			if seen[s] {
				continue
			}
			seen[s] = true
			if list, ok := ends[s.Block]; ok {
				s.Start, s.End = shift(list, s.Start, true), shift(list, s.End, false)
			}
		}
	}
}

// redefined reports whether another marker of the variable of the
// marker at position at comes before position end.
func redefined(lb *ltl.Block, at, end int) bool {
	for _, in := range lb.Instrs[at+1 : end] {
		if in.Op == ir.OpDbgValue && in.Slot == lb.Instrs[at].Slot {
			return true
		}
	}
	return false
}
