// Branch tunneling optimization for Linear code.
// This pass shortcuts jumps that jump to other jumps.
// E.g., "goto L1" where L1 is "goto L2" becomes "goto L2"
package linearize

import "github.com/raymyers/ralph-x64/pkg/linear"

// Tunnel performs branch tunneling on a Linear function.
// It shortcuts chains of unconditional jumps.
func Tunnel(fn *linear.Function) {
	if len(fn.Code) == 0 {
		return
	}
	resolved := resolveChains(buildJumpTargetMap(fn))
	for i, inst := range fn.Code {
		fn.Code[i] = tunnelInstruction(inst, resolved)
	}
}

// buildJumpTargetMap finds labels whose first instruction is a goto.
// Labels directly in front of other labels share their instruction.
func buildJumpTargetMap(fn *linear.Function) map[linear.Label]linear.Label {
	result := make(map[linear.Label]linear.Label)
	var pending []linear.Label
	for _, inst := range fn.Code {
		if lbl, ok := inst.(linear.Llabel); ok {
			pending = append(pending, lbl.Lbl)
			continue
		}
		if gt, ok := inst.(linear.Lgoto); ok {
			for _, l := range pending {
				result[l] = gt.Target
			}
		}
		pending = pending[:0]
	}
	return result
}

// resolveChains follows jump chains to their ultimate target.
func resolveChains(jumpTargets map[linear.Label]linear.Label) map[linear.Label]linear.Label {
	result := make(map[linear.Label]linear.Label)
	for lbl := range jumpTargets {
		result[lbl] = resolveLabel(lbl, jumpTargets)
	}
	return result
}

// resolveLabel follows a jump chain to its ultimate target. An infinite
// loop of gotos resolves to the label where the cycle closes.
func resolveLabel(lbl linear.Label, jumpTargets map[linear.Label]linear.Label) linear.Label {
	visited := make(map[linear.Label]bool)
	current := lbl
	for {
		if visited[current] {
			return current
		}
		visited[current] = true
		target, ok := jumpTargets[current]
		if !ok {
			return current
		}
		current = target
	}
}

// tunnelInstruction applies tunneling to a single instruction. Label
// addresses are left alone so that taken addresses stay distinct.
func tunnelInstruction(inst linear.Instruction, resolved map[linear.Label]linear.Label) linear.Instruction {
	get := func(l linear.Label) linear.Label {
		if t, ok := resolved[l]; ok {
			return t
		}
		return l
	}
	switch i := inst.(type) {
	case linear.Lgoto:
		return linear.Lgoto{Target: get(i.Target)}

	case linear.Lcond:
		i.IfSo = get(i.IfSo)
		return i

	case linear.Ljumptable:
		targets := make([]linear.Label, len(i.Targets))
		for j, t := range i.Targets {
			targets[j] = get(t)
		}
		i.Targets = targets
		return i
	}
	return inst
}
