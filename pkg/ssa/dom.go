package ssa

import "github.com/samber/lo"

// ComputeDom builds the dominator tree with the iterative algorithm of
// Cooper, Harvey and Kennedy over reverse postorder. It needs no
// reducibility, so graphs with gotos into loops are handled.
func (f *Func) ComputeDom() {
	n := len(f.Blocks)
	f.rpo = f.reversePostorder()
	order := make([]int, n)
	for i := range order {
		order[i] = -1
	}
	for i, b := range f.rpo {
		order[b] = i
	}
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[f.Entry] = f.Entry
	intersect := func(a, b int) int {
		for a != b {
			for order[a] > order[b] {
				a = idom[a]
			}
			for order[b] > order[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, b := range f.rpo[1:] {
			nd := -1
			for _, p := range f.Blocks[b].Preds {
				if idom[p] < 0 {
					continue
				}
				if nd < 0 {
					nd = p
				} else {
					nd = intersect(p, nd)
				}
			}
			if nd >= 0 && idom[b] != nd {
				idom[b] = nd
				changed = true
			}
		}
	}
	idom[f.Entry] = -1
	f.idom = idom

	f.children = make([][]int, n)
	for _, b := range f.rpo[1:] {
		if idom[b] >= 0 {
			f.children[idom[b]] = append(f.children[idom[b]], b)
		}
	}
	f.pre = make([]int, n)
	f.post = make([]int, n)
	clock := 0
	var walk func(b int)
	walk = func(b int) {
		clock++
		f.pre[b] = clock
		for _, c := range f.children[b] {
			walk(c)
		}
		clock++
		f.post[b] = clock
	}
	walk(f.Entry)
}

func (f *Func) reversePostorder() []int {
	seen := make([]bool, len(f.Blocks))
	var post []int
	type frame struct{ b, next int }
	stack := []frame{{f.Entry, 0}}
	seen[f.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := f.Blocks[top.b].Succs
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if !seen[s] {
				seen[s] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// RPO returns the live blocks in reverse postorder.
func (f *Func) RPO() []int {
	if f.idom == nil {
		f.ComputeDom()
	}
	return f.rpo
}

// Idom returns the immediate dominator of b, or -1 for the entry.
func (f *Func) Idom(b int) int {
	if f.idom == nil {
		f.ComputeDom()
	}
	return f.idom[b]
}

// DomChildren returns the blocks immediately dominated by b.
func (f *Func) DomChildren(b int) []int {
	if f.idom == nil {
		f.ComputeDom()
	}
	return f.children[b]
}

// Dominates reports whether block a dominates block b.
func (f *Func) Dominates(a, b int) bool {
	if f.idom == nil {
		f.ComputeDom()
	}
	return f.pre[a] <= f.pre[b] && f.post[b] <= f.post[a] && f.pre[b] > 0
}

// InvalidateDom drops the dominator tree after a CFG change.
func (f *Func) InvalidateDom() { f.idom = nil }

// Frontiers returns the dominance frontier of every block.
func (f *Func) Frontiers() [][]int {
	if f.idom == nil {
		f.ComputeDom()
	}
	df := make([][]int, len(f.Blocks))
	for _, b := range f.rpo {
		preds := f.Blocks[b].Preds
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			for r := p; r >= 0 && r != f.idom[b]; r = f.idom[r] {
				if !lo.Contains(df[r], b) {
					df[r] = append(df[r], b)
				}
			}
		}
	}
	return df
}

// Loop is a natural loop: the blocks that reach a back edge's source
// without passing through the header.
type Loop struct {
	Header int
	Blocks map[int]bool
}

// Loops finds the natural loops, one per header, outermost first in
// reverse postorder of their headers.
func (f *Func) Loops() []*Loop {
	if f.idom == nil {
		f.ComputeDom()
	}
	byHeader := make(map[int]*Loop)
	var loops []*Loop
	for _, b := range f.rpo {
		for _, s := range f.Blocks[b].Succs {
			if !f.Dominates(s, b) {
				continue
			}
			l := byHeader[s]
			if l == nil {
				l = &Loop{Header: s, Blocks: map[int]bool{s: true}}
				byHeader[s] = l
			}
			stack := []int{b}
			for len(stack) > 0 {
				x := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if l.Blocks[x] {
					continue
				}
				l.Blocks[x] = true
				stack = append(stack, f.Blocks[x].Preds...)
			}
		}
	}
	for _, b := range f.rpo {
		if l := byHeader[b]; l != nil {
			loops = append(loops, l)
		}
	}
	return loops
}

// LoopDepth returns the loop nesting depth of every block.
func (f *Func) LoopDepth() []int {
	depth := make([]int, len(f.Blocks))
	for _, l := range f.Loops() {
		for b := range l.Blocks {
			depth[b]++
		}
	}
	return depth
}
