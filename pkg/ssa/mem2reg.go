package ssa

import (
	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// Construct moves a Built function into SSA form. With promote set,
// stack slots whose address never escapes become SSA values; phis are
// placed at the iterated dominance frontiers of their stores and
// renamed over the dominator tree.
func (f *Func) Construct(promote bool) (err error) {
	defer diag.Recover(&err)
	if f.State != Built {
		return diag.Internalf(f.Name, -1, "construct: function is %s", f.State)
	}
	f.ComputeDom()
	if promote {
		mem2reg(f)
	}
	f.State = SSAConstructed
	return nil
}

// slotInfo collects the accesses of one candidate slot.
type slotInfo struct {
	ok     bool
	mem    ir.MemKind
	ty     ir.Type
	addrs  []int
	loads  []int
	stores []int
	phis   map[int]*Instr // block -> phi
}

// promotable finds the slots accessed only by whole-slot, non-volatile
// loads and stores of one kind.
func promotable(f *Func) []*slotInfo {
	slots := make([]*slotInfo, len(f.Locals))
	for i := range slots {
		slots[i] = &slotInfo{ok: true, ty: ir.Void}
	}
	uses := f.Uses()
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op != ir.OpLocalAddr {
				continue
			}
			s := slots[in.Slot]
			s.addrs = append(s.addrs, id)
			for _, u := range uses[id] {
				user := f.Instrs[u]
				switch {
				case user.Op == ir.OpLoad && user.Args[0] == id && user.Off == 0 && !user.Volatile && user.Mode == ir.AddrReg:
					s.access(user.Mem, user.Type)
					s.loads = append(s.loads, u)
				case user.Op == ir.OpStore && user.Args[0] == id && user.Args[1] != id && user.Off == 0 && !user.Volatile && user.Mode == ir.AddrReg:
					s.access(user.Mem, f.Instrs[user.Args[1]].Type)
					s.stores = append(s.stores, u)
				case user.Op == ir.OpDbgValue:
				default:
					s.ok = false
				}
			}
		}
	}
	for i, s := range slots {
		if s.ok && s.ty != ir.Void && s.mem.Size() != f.Locals[i].Size {
			s.ok = false
		}
	}
	return slots
}

func (s *slotInfo) access(m ir.MemKind, t ir.Type) {
	if s.ty == ir.Void {
		s.mem, s.ty = m, t
		return
	}
	if s.mem != m || s.ty != t {
		s.ok = false
	}
}

// mem2reg promotes slots and reports whether anything changed.
func mem2reg(f *Func) bool {
	slots := promotable(f)
	df := f.Frontiers()
	changed := false
	var live []int
	for i, s := range slots {
		if !s.ok || len(s.addrs) == 0 {
			continue
		}
		changed = true
		if len(s.loads) == 0 {
			for _, id := range s.stores {
				f.retireStore(f.Instrs[id], i)
			}
			for _, id := range s.addrs {
				f.Remove(id)
			}
			continue
		}
		live = append(live, i)
		s.phis = make(map[int]*Instr)
		var work []int
		for _, id := range s.stores {
			work = append(work, f.Instrs[id].Block)
		}
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			for _, d := range df[b] {
				if s.phis[d] != nil {
					continue
				}
				blk := f.Blocks[d]
				phi := f.NewInstr(ir.OpPhi, s.ty)
				phi.Args = make([]int, len(blk.Preds))
				for j := range phi.Args {
					phi.Args[j] = -1
				}
				f.InsertBefore(blk, 0, phi)
				s.phis[d] = phi
				work = append(work, d)
			}
		}
	}
	if !changed {
		return false
	}

	// slot of each promoted access
	slotOf := make(map[int]int)
	for _, i := range live {
		for _, id := range slots[i].loads {
			slotOf[id] = i
		}
		for _, id := range slots[i].stores {
			slotOf[id] = i
		}
		for _, id := range slots[i].addrs {
			slotOf[id] = i
		}
	}
	phiSlot := make(map[int]int)
	for _, i := range live {
		for _, phi := range slots[i].phis {
			phiSlot[phi.ID] = i
		}
	}

	subst := make(map[int]int)
	resolve := func(v int) int {
		for {
			r, ok := subst[v]
			if !ok {
				return v
			}
			v = r
		}
	}
	undef := make(map[ir.Type]int)
	undefOf := func(t ir.Type) int {
		if id, ok := undef[t]; ok {
			return id
		}
		op := ir.OpIntConst
		if t.IsFloat() {
			op = ir.OpFloatConst
		}
		c := f.NewInstr(op, t)
		f.InsertBefore(f.Blocks[f.Entry], 0, c)
		undef[t] = c.ID
		return c.ID
	}

	// named locals tracked for debug information
	var named []int
	if f.Debug {
		named = lo.Filter(live, func(i, _ int) bool { return f.Locals[i].Name != "" })
	}

	cur := make([][]int, len(slots)) // definition stacks
	var rename func(b int)
	rename = func(b int) {
		var pushed []int
		blk := f.Blocks[b]
		f.markEntryValues(blk, named, func(i int) int {
			if phi := slots[i].phis[b]; phi != nil {
				return phi.ID
			}
			if n := len(cur[i]); n > 0 {
				return cur[i][n-1]
			}
			return -1
		})
		for _, id := range append([]int(nil), blk.Instrs...) {
			in := f.Instrs[id]
			if i, ok := phiSlot[id]; ok && in.Op == ir.OpPhi {
				cur[i] = append(cur[i], id)
				pushed = append(pushed, i)
				continue
			}
			i, ok := slotOf[id]
			if !ok {
				continue
			}
			switch in.Op {
			case ir.OpLoad:
				var v int
				if n := len(cur[i]); n > 0 {
					v = cur[i][n-1]
				} else {
					v = undefOf(slots[i].ty)
				}
				if ext := loadExtension(in); ext != ir.OpNop {
					*in = Instr{ID: in.ID, Op: ext, Type: in.Type, Args: []int{v}, Block: in.Block, Target: -1,
						Payload: ir.Payload{Width: int(in.Mem.Size() * 8), Pos: in.Pos}}
				} else {
					subst[id] = v
					f.Remove(id)
				}
			case ir.OpStore:
				cur[i] = append(cur[i], resolve(in.Args[1]))
				pushed = append(pushed, i)
				f.retireStore(in, i)
			case ir.OpLocalAddr:
				f.Remove(id)
			}
		}
		for _, s := range lo.Uniq(blk.Succs) {
			succ := f.Blocks[s]
			for _, phi := range f.Phis(succ) {
				i, ok := phiSlot[phi.ID]
				if !ok {
					continue
				}
				v := -1
				if n := len(cur[i]); n > 0 {
					v = cur[i][n-1]
				} else {
					v = undefOf(slots[i].ty)
				}
				for j, p := range succ.Preds {
					if p == b {
						phi.Args[j] = v
					}
				}
			}
		}
		for _, c := range f.DomChildren(b) {
			rename(c)
		}
		for _, i := range pushed {
			cur[i] = cur[i][:len(cur[i])-1]
		}
	}
	rename(f.Entry)
	f.Replace(subst)
	f.dropStaleMarkers()
	f.Compact()
	return true
}

// retireStore turns a promoted store to a named slot into a marker of
// the stored value, and removes other promoted stores.
func (f *Func) retireStore(in *Instr, slot int) {
	if !f.Debug || f.Locals[slot].Name == "" {
		f.Remove(in.ID)
		return
	}
	*in = Instr{ID: in.ID, Op: ir.OpDbgValue, Type: ir.Void, Args: []int{in.Args[1]}, Block: in.Block, Target: -1,
		Payload: ir.Payload{Slot: slot, Pos: in.Pos}}
}

// markEntryValues places a dbgvalue marker after the phis of b for each
// named slot, giving the value the slot holds on entry. Slots without a
// value are marked unknown, except in the entry block.
func (f *Func) markEntryValues(b *Block, named []int, valueOf func(slot int) int) {
	at := len(f.Phis(b))
	for _, i := range named {
		v := valueOf(i)
		if v < 0 && b.ID == f.Entry {
			continue
		}
		m := f.NewInstr(ir.OpDbgValue, ir.Void)
		m.Slot = i
		if v >= 0 {
			m.Args = []int{v}
		}
		f.InsertBefore(b, at, m)
		at++
	}
}

// dropStaleMarkers clears the value of dbgvalue markers whose value was
// removed without a replacement.
func (f *Func) dropStaleMarkers() {
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op == ir.OpDbgValue && len(in.Args) > 0 && f.Instrs[in.Args[0]].Op == ir.OpNop {
				in.Args = nil
			}
		}
	}
}

// loadExtension returns the extension a promoted narrow load still
// applies to the stored value.
func loadExtension(in *Instr) ir.Opcode {
	if in.Mem.IsFloat() || in.Mem.Size()*8 >= int64(in.Type.Bits()) {
		return ir.OpNop
	}
	if in.Signed {
		return ir.OpSExt
	}
	return ir.OpZExt
}
