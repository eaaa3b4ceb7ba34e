// Package linearize transforms allocated functions (package ltl) to
// Linear code: blocks are ordered, labels and branches become explicit.
// Also includes branch tunneling and label cleanup optimizations.
package linearize

import (
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Function linearizes fn and runs tunneling and cleanup on the result.
func Function(fn *ltl.Function) *linear.Function {
	out := Linearize(fn)
	Tunnel(out)
	CleanupLabels(out)
	return out
}

// Linearize transforms an allocated function to Linear code.
// It orders blocks via reverse postorder and adds explicit branches where needed.
func Linearize(fn *ltl.Function) *linear.Function {
	l := &linearizer{fn: fn}
	return l.linearize()
}

// linearizer holds state during linearization
type linearizer struct {
	fn    *ltl.Function
	order []int // block ordering (reverse postorder)
}

func label(b int) linear.Label { return linear.Label(b) }

// linearize performs the transformation
func (l *linearizer) linearize() *linear.Function {
	fn := l.fn
	result := linear.NewFunction(fn.Name)
	result.Static = fn.Static
	result.Pos = fn.Pos
	result.Type = fn.Type
	result.Locals = fn.Locals
	result.Spills = fn.Spills
	result.Used = fn.Used
	result.RegSaveSlot = fn.RegSaveSlot
	result.OutgoingSize = fn.OutgoingSize
	result.UsedGP, result.UsedSSE = fn.UsedGP, fn.UsedSSE
	result.Params = fn.Params

	if len(fn.LiveBlocks()) == 0 {
		return result
	}
	for _, b := range fn.LiveBlocks() {
		if b.AddrTaken {
			result.AddrTaken = append(result.AddrTaken, label(b.ID))
		}
	}

	l.computeOrder()
	for i, id := range l.order {
		l.emitBlock(result, fn.Blocks[id], i)
	}
	return result
}

// computeOrder computes a reverse postorder of the CFG in which a
// block is followed, when possible, by the successor it should fall
// through to: the false side of a conditional, the normal exit of an
// asm goto.
func (l *linearizer) computeOrder() {
	fn := l.fn
	visited := make([]bool, len(fn.Blocks))
	var postorder []int

	var dfs func(n int)
	dfs = func(n int) {
		if visited[n] || fn.Blocks[n] == nil {
			return
		}
		visited[n] = true
		// the successor visited last is laid out right after n
		for _, s := range fallThroughLast(fn.Blocks[n]) {
			dfs(s)
		}
		postorder = append(postorder, n)
	}
	dfs(fn.Entry)
	main := len(postorder)

	// blocks reached only through computed gotos keep their ID order
	for _, b := range fn.LiveBlocks() {
		dfs(b.ID)
	}

	l.order = make([]int, 0, len(postorder))
	for i := main - 1; i >= 0; i-- {
		l.order = append(l.order, postorder[i])
	}
	l.order = append(l.order, postorder[main:]...)
}

// fallThroughLast lists the successors of b with the preferred
// fall-through successor last.
func fallThroughLast(b *ltl.Block) []int {
	t := b.Terminator()
	if t == nil || len(b.Succs) < 2 {
		return b.Succs
	}
	switch t.Op {
	case ir.OpInlineAsm:
		return append(append([]int(nil), b.Succs[1:]...), b.Succs[0])
	case ir.OpJumpTable:
		// the default target comes after the case blocks
		out := make([]int, 0, len(b.Succs))
		for i := len(b.Succs) - 1; i >= 0; i-- {
			out = append(out, b.Succs[i])
		}
		return out
	}
	return b.Succs
}

// emitBlock emits linearized code for a single block
func (l *linearizer) emitBlock(result *linear.Function, b *ltl.Block, orderIdx int) {
	result.Append(linear.Llabel{Lbl: label(b.ID)})
	n := len(b.Instrs)
	for i := 0; i < n-1; i++ {
		result.Append(l.op(b.Instrs[i]))
	}
	if n > 0 {
		l.emitTerminator(result, b, orderIdx)
	}
}

// op wraps a straight-line instruction, resolving the block it refers to.
func (l *linearizer) op(in ltl.Instr) linear.Lop {
	o := linear.Lop{Instr: in}
	if in.Op == ir.OpLabelAddr {
		o.Labels = []linear.Label{label(in.Target)}
	}
	return o
}

// emitTerminator emits code for a block terminator, optimizing fall-through
func (l *linearizer) emitTerminator(result *linear.Function, b *ltl.Block, orderIdx int) {
	next := -1
	if orderIdx+1 < len(l.order) {
		next = l.order[orderIdx+1]
	}
	jump := func(target int) {
		if target != next {
			result.Append(linear.Lgoto{Target: label(target)})
		}
	}
	term := *b.Terminator()

	switch term.Op {
	case ir.OpJump:
		jump(b.Succs[0])

	case ir.OpBranch, ir.OpCmpBranch:
		ifSo, ifNot := b.Succs[0], b.Succs[1]
		switch {
		case ifSo == ifNot:
			jump(ifSo)
		case ifNot == next:
			result.Append(linear.Lcond{Instr: term, IfSo: label(ifSo)})
		case ifSo == next:
			result.Append(linear.Lcond{Instr: term, IfSo: label(ifNot), Negate: true})
		default:
			result.Append(linear.Lcond{Instr: term, IfSo: label(ifSo)})
			result.Append(linear.Lgoto{Target: label(ifNot)})
		}

	case ir.OpJumpTable:
		targets := make([]linear.Label, len(b.Succs))
		for i, s := range b.Succs {
			targets[i] = label(s)
		}
		result.Append(linear.Ljumptable{Instr: term, Targets: targets})

	case ir.OpIndirectJump:
		result.Append(linear.Lijump{Instr: term})

	case ir.OpReturn:
		result.Append(linear.Lreturn{Instr: term})

	case ir.OpInlineAsm:
		// asm goto: the labels are the successors after the fall-through
		o := linear.Lop{Instr: term}
		for _, s := range b.Succs[1:] {
			o.Labels = append(o.Labels, label(s))
		}
		result.Append(o)
		jump(b.Succs[0])

	default:
		result.Append(l.op(term))
		if len(b.Succs) == 1 {
			jump(b.Succs[0])
		}
	}
}
