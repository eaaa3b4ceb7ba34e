// Package ssa holds functions as control-flow graphs of basic blocks in
// static single assignment form, the optimizer passes that rewrite
// them, and the machine constraints attached by instruction selection.
//
// Instructions live in a per-function arena and refer to each other by
// index. Deleted instructions become OpNop and keep their index.
package ssa

import (
	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// State is the lifecycle stage of a function.
type State uint8

const (
	Built State = iota
	SSAConstructed
	Allocatable
	Selected
)

func (s State) String() string {
	switch s {
	case Built:
		return "built"
	case SSAConstructed:
		return "ssa"
	case Allocatable:
		return "allocatable"
	}
	return "selected"
}

// Instr is one instruction. Its ID is both its arena index and the
// value it defines.
type Instr struct {
	ID    int
	Op    ir.Opcode
	Type  ir.Type
	Args  []int
	Block int
	// Target is the block whose address OpLabelAddr takes.
	Target int
	ir.Payload

	// Machine constraints, set by instruction selection.
	Fixed    ltl.MReg    // the result must live in this register
	Clobbers ltl.RegMask // registers destroyed by the instruction
	Temps    int         // trailing Args that are OpTemp scratch values
}

// Block is a basic block. Succs and Preds list edges, so a block
// reached twice from the same predecessor appears twice; phi operands
// follow Preds.
type Block struct {
	ID        int
	Instrs    []int
	Preds     []int
	Succs     []int
	Label     ir.LabelID // source label, -1 when none
	AddrTaken bool       // target of a computed goto
	Dead      bool
}

// Func is a function under optimization.
type Func struct {
	Name   string
	Type   ctypes.Tfunction
	Static bool
	Pos    diag.Pos
	Locals []ir.Local
	Instrs []*Instr
	Blocks []*Block
	Entry  int
	State  State
	// Debug keeps the values of promoted named locals as dbgvalue
	// markers.
	Debug bool

	// Frame requirements recorded by instruction selection.
	RegSaveSlot  int   // local holding the variadic register save area, or -1
	OutgoingSize int64 // bytes of stack arguments of the largest call

	// dominator tree, valid after ComputeDom until the CFG changes
	idom     []int
	children [][]int
	pre      []int
	post     []int
	rpo      []int
}

// Terminator returns the last instruction of b.
func (f *Func) Terminator(b *Block) *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return f.Instrs[b.Instrs[len(b.Instrs)-1]]
}

// IsTerminator reports whether in ends its block. An asm goto is a
// terminator whose successors are the fall-through and its labels.
func IsTerminator(in *Instr) bool {
	return in.Op.IsTerminator() || (in.Op == ir.OpInlineAsm && in.Asm != nil && len(in.Asm.GotoLabels) > 0)
}

// NewInstr allocates an instruction that is not yet placed in a block.
func (f *Func) NewInstr(op ir.Opcode, t ir.Type, args ...int) *Instr {
	in := &Instr{ID: len(f.Instrs), Op: op, Type: t, Args: args, Block: -1, Target: -1}
	f.Instrs = append(f.Instrs, in)
	return in
}

// InsertBefore places in into block b before position pos.
func (f *Func) InsertBefore(b *Block, pos int, in *Instr) {
	in.Block = b.ID
	b.Instrs = append(b.Instrs, 0)
	copy(b.Instrs[pos+1:], b.Instrs[pos:])
	b.Instrs[pos] = in.ID
}

// InsertAtEnd places in before the terminator of b.
func (f *Func) InsertAtEnd(b *Block, in *Instr) {
	n := len(b.Instrs)
	if n > 0 && IsTerminator(f.Instrs[b.Instrs[n-1]]) {
		f.InsertBefore(b, n-1, in)
		return
	}
	f.InsertBefore(b, n, in)
}

// Append adds in at the end of b.
func (f *Func) Append(b *Block, in *Instr) {
	in.Block = b.ID
	b.Instrs = append(b.Instrs, in.ID)
}

// Remove turns an instruction into a no-op. Block lists are compacted
// by Compact.
func (f *Func) Remove(id int) {
	in := f.Instrs[id]
	*in = Instr{ID: id, Op: ir.OpNop, Block: in.Block, Target: -1}
}

// Compact drops no-ops from the instruction lists of live blocks.
func (f *Func) Compact() {
	for _, b := range f.Blocks {
		if b.Dead {
			b.Instrs = nil
			continue
		}
		b.Instrs = lo.Filter(b.Instrs, func(id int, _ int) bool { return f.Instrs[id].Op != ir.OpNop })
	}
}

// NewBlock appends an empty block.
func (f *Func) NewBlock() *Block {
	b := &Block{ID: len(f.Blocks), Label: -1}
	f.Blocks = append(f.Blocks, b)
	return b
}

// LiveBlocks returns the blocks that have not been removed, in ID order.
func (f *Func) LiveBlocks() []*Block {
	return lo.Filter(f.Blocks, func(b *Block, _ int) bool { return !b.Dead })
}

// Phis returns the leading phi instructions of b.
func (f *Func) Phis(b *Block) []*Instr {
	var out []*Instr
	for _, id := range b.Instrs {
		in := f.Instrs[id]
		if in.Op != ir.OpPhi {
			break
		}
		out = append(out, in)
	}
	return out
}

// AddEdge appends the edge from -> to. Phis in to get an operand slot
// holding arg.
func (f *Func) AddEdge(from, to *Block, arg func(phi *Instr) int) {
	from.Succs = append(from.Succs, to.ID)
	to.Preds = append(to.Preds, from.ID)
	for _, phi := range f.Phis(to) {
		phi.Args = append(phi.Args, arg(phi))
	}
}

// RemoveEdge deletes successor edge i of from, together with the
// matching predecessor entry and phi operands of the target.
func (f *Func) RemoveEdge(from *Block, i int) {
	to := f.Blocks[from.Succs[i]]
	from.Succs = append(from.Succs[:i:i], from.Succs[i+1:]...)
	j := lo.LastIndexOf(to.Preds, from.ID)
	if j < 0 {
		panic(diag.Internalf(f.Name, -1, "edge b%d -> b%d has no predecessor entry", from.ID, to.ID))
	}
	to.Preds = append(to.Preds[:j:j], to.Preds[j+1:]...)
	for _, phi := range f.Phis(to) {
		phi.Args = append(phi.Args[:j:j], phi.Args[j+1:]...)
	}
}

// Uses returns, for every value, the instructions that read it.
func (f *Func) Uses() [][]int {
	uses := make([][]int, len(f.Instrs))
	for _, b := range f.Blocks {
		if b.Dead {
			continue
		}
		for _, id := range b.Instrs {
			for _, a := range f.Instrs[id].Args {
				uses[a] = append(uses[a], id)
			}
		}
	}
	return uses
}

// Replace rewrites operands through a substitution map, following
// chains of replacements.
func (f *Func) Replace(subst map[int]int) {
	if len(subst) == 0 {
		return
	}
	resolve := func(v int) int {
		for n := 0; n < len(f.Instrs); n++ {
			r, ok := subst[v]
			if !ok || r == v {
				return v
			}
			v = r
		}
		panic(diag.Internalf(f.Name, v, "cyclic value replacement"))
	}
	for _, in := range f.Instrs {
		for i, a := range in.Args {
			in.Args[i] = resolve(a)
		}
	}
}

// Prune removes blocks unreachable from the entry. Addresses of removed
// labels become a non-null constant: with no computed goto left that
// can reach them, only their identity is observable. It reports
// whether any block was removed.
func (f *Func) Prune() bool {
	seen := make([]bool, len(f.Blocks))
	stack := []int{f.Entry}
	seen[f.Entry] = true
	for len(stack) > 0 {
		b := f.Blocks[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		for _, s := range b.Succs {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	changed := false
	for _, b := range f.Blocks {
		if b.Dead || seen[b.ID] {
			continue
		}
		changed = true
		for len(b.Succs) > 0 {
			f.RemoveEdge(b, len(b.Succs)-1)
		}
		b.Dead = true
	}
	if !changed {
		return false
	}
	for _, b := range f.Blocks {
		if !b.Dead {
			continue
		}
		for _, id := range b.Instrs {
			f.Remove(id)
		}
		b.Instrs, b.Preds = nil, nil
	}
	for _, in := range f.Instrs {
		if in.Op == ir.OpLabelAddr && f.Blocks[in.Target].Dead {
			in.Op, in.Imm, in.Target = ir.OpIntConst, 1, -1
		}
	}
	f.idom = nil
	return true
}

// Build splits a generic IR function into basic blocks. Blocks start at
// labels and after terminators; a block that falls off its end gets an
// explicit jump to the next one. The result has no phis and is in the
// Built state.
func Build(fn *ir.Function) (f *Func, err error) {
	defer diag.Recover(&err)
	f = &Func{
		Name:   fn.Name,
		Type:   fn.Type,
		Static: fn.Static,
		Pos:    fn.Pos,
		Locals: append([]ir.Local(nil), fn.Locals...),

		RegSaveSlot: -1,
	}
	labelBlock := make(map[ir.LabelID]int)
	vals := make([]int, len(fn.Code))
	cur := f.NewBlock()
	closed := false
	type pending struct {
		in      *Instr
		targets []ir.LabelID
	}
	var terms []pending

	for i := range fn.Code {
		src := &fn.Code[i]
		vals[i] = -1
		if src.Op == ir.OpLabel {
			if len(cur.Instrs) > 0 || cur.ID == f.Entry || closed {
				next := f.NewBlock()
				if !closed {
					j := f.NewInstr(ir.OpJump, ir.Void)
					f.Append(cur, j)
					terms = append(terms, pending{j, nil})
					cur.Succs = append(cur.Succs, next.ID)
				}
				cur, closed = next, false
			}
			if cur.Label < 0 {
				cur.Label = src.Label
			}
			labelBlock[src.Label] = cur.ID
			continue
		}
		if closed {
			cur, closed = f.NewBlock(), false
		}
		in := f.NewInstr(src.Op, src.Type)
		in.Payload = src.Payload
		if src.Op == ir.OpLabelAddr {
			in.Imm = int64(src.Label)
		}
		in.Args = make([]int, len(src.Args))
		for j, a := range src.Args {
			if vals[a] < 0 {
				panic(diag.Internalf(fn.Name, i, "operand %%%d has no value", a))
			}
			in.Args[j] = vals[a]
		}
		vals[i] = in.ID
		f.Append(cur, in)
		if IsTerminator(in) {
			targets := src.Targets
			if src.Op == ir.OpIndirectJump {
				targets = fn.AddrTakenLabels
			}
			terms = append(terms, pending{in, targets})
			closed = true
		}
	}
	if !closed {
		ret := f.NewInstr(ir.OpReturn, ir.Void)
		f.Append(cur, ret)
	}

	for _, t := range terms {
		b := f.Blocks[t.in.Block]
		for _, l := range t.targets {
			id, ok := labelBlock[l]
			if !ok {
				panic(diag.Internalf(fn.Name, t.in.ID, "branch to unplaced label L%d", l))
			}
			b.Succs = append(b.Succs, id)
		}
	}
	for _, b := range f.Blocks {
		for _, s := range b.Succs {
			f.Blocks[s].Preds = append(f.Blocks[s].Preds, b.ID)
		}
	}
	for _, in := range f.Instrs {
		if in.Op != ir.OpLabelAddr {
			continue
		}
		id, ok := labelBlock[ir.LabelID(in.Imm)]
		if !ok {
			panic(diag.Internalf(fn.Name, in.ID, "address of unplaced label L%d", in.Imm))
		}
		in.Target, in.Imm = id, 0
		f.Blocks[id].AddrTaken = true
	}
	f.Prune()
	f.Compact()
	return f, nil
}

// BuildModule splits every function of m into basic blocks.
func BuildModule(m *ir.Module) ([]*Func, error) {
	funcs := make([]*Func, 0, len(m.Functions))
	for _, fn := range m.Functions {
		f, err := Build(fn)
		if err != nil {
			return nil, diag.InFunc(err, fn.Name)
		}
		funcs = append(funcs, f)
	}
	return funcs, nil
}
