// Label cleanup for Linear code.
// This pass removes branches to the next instruction, code that can
// never run and labels that are not referenced by any branch.
package linearize

import "github.com/raymyers/ralph-x64/pkg/linear"

// CleanupLabels simplifies the control flow of a Linear function until
// nothing changes. The first label (entry point) and labels whose
// address is taken are always preserved.
func CleanupLabels(fn *linear.Function) {
	if len(fn.Code) == 0 {
		return
	}
	for {
		changed := invertConditions(fn)
		changed = dropBranchesToNext(fn) || changed
		changed = dropUnreachable(fn) || changed
		changed = dropUnusedLabels(fn) || changed
		if !changed {
			return
		}
	}
}

// labelsAt returns the labels defined right before position i.
func labelsAt(code []linear.Instruction, i int) map[linear.Label]bool {
	out := make(map[linear.Label]bool)
	for ; i < len(code); i++ {
		l, ok := code[i].(linear.Llabel)
		if !ok {
			break
		}
		out[l.Lbl] = true
	}
	return out
}

// invertConditions rewrites "if c goto L1; goto L2; L1:" into
// "if not c goto L2; L1:".
func invertConditions(fn *linear.Function) bool {
	changed := false
	code := fn.Code
	for i := 0; i+2 < len(code); i++ {
		c, ok := code[i].(linear.Lcond)
		if !ok {
			continue
		}
		g, ok := code[i+1].(linear.Lgoto)
		if !ok || !labelsAt(code, i+2)[c.IfSo] {
			continue
		}
		c.IfSo, c.Negate = g.Target, !c.Negate
		code[i] = c
		code = append(code[:i+1], code[i+2:]...)
		changed = true
	}
	fn.Code = code
	return changed
}

// dropBranchesToNext removes gotos to the label that follows them.
func dropBranchesToNext(fn *linear.Function) bool {
	changed := false
	out := fn.Code[:0]
	for i, inst := range fn.Code {
		if g, ok := inst.(linear.Lgoto); ok && labelsAt(fn.Code, i+1)[g.Target] {
			changed = true
			continue
		}
		out = append(out, inst)
	}
	fn.Code = out
	return changed
}

// dropUnreachable removes instructions between a jump and the next label.
func dropUnreachable(fn *linear.Function) bool {
	changed := false
	out := fn.Code[:0]
	dead := false
	for _, inst := range fn.Code {
		if _, ok := inst.(linear.Llabel); ok {
			dead = false
		}
		if dead {
			changed = true
			continue
		}
		out = append(out, inst)
		dead = linear.EndsFlow(inst)
	}
	fn.Code = out
	return changed
}

// dropUnusedLabels removes labels nothing refers to.
func dropUnusedLabels(fn *linear.Function) bool {
	used := collectUsedLabels(fn)
	for _, inst := range fn.Code {
		if lbl, ok := inst.(linear.Llabel); ok {
			used[lbl.Lbl] = true
			break
		}
	}
	changed := false
	out := fn.Code[:0]
	for _, inst := range fn.Code {
		if lbl, ok := inst.(linear.Llabel); ok && !used[lbl.Lbl] {
			changed = true
			continue
		}
		out = append(out, inst)
	}
	fn.Code = out
	return changed
}

// collectUsedLabels returns all labels that are targets of branches
// or whose address is taken
func collectUsedLabels(fn *linear.Function) map[linear.Label]bool {
	used := make(map[linear.Label]bool)
	for _, l := range fn.ReferencedLabels() {
		used[l] = true
	}
	return used
}
