package ir

import "github.com/raymyers/ralph-x64/pkg/diag"

// Verify checks the structural invariants of a generic IR function:
// operands refer to earlier value-producing instructions, every label
// is defined exactly once, and every branch target is defined.
func Verify(fn *Function) error {
	defined := make([]bool, fn.NumLabels)
	for i := range fn.Code {
		in := &fn.Code[i]
		if in.Op == OpLabel {
			if int(in.Label) >= fn.NumLabels || in.Label < 0 {
				return diag.Internalf(fn.Name, i, "label L%d out of range", in.Label)
			}
			if defined[in.Label] {
				return diag.Internalf(fn.Name, i, "label L%d defined twice", in.Label)
			}
			defined[in.Label] = true
		}
	}
	for i := range fn.Code {
		in := &fn.Code[i]
		for _, a := range in.Args {
			if a < 0 || int(a) >= i {
				return diag.Internalf(fn.Name, i, "operand %%%d is not an earlier instruction", a)
			}
			if fn.Code[a].Type == Void && in.Op != OpProject {
				return diag.Internalf(fn.Name, i, "operand %%%d (%s) has no value", a, fn.Code[a].Op)
			}
		}
		for _, t := range in.Targets {
			if int(t) >= fn.NumLabels || t < 0 || !defined[t] {
				return diag.Internalf(fn.Name, i, "branch to undefined label L%d", t)
			}
		}
		if in.Op == OpLabelAddr && (int(in.Label) >= fn.NumLabels || !defined[in.Label]) {
			return diag.Internalf(fn.Name, i, "address of undefined label L%d", in.Label)
		}
		if (in.Op == OpLocalAddr) && (in.Slot < 0 || in.Slot >= len(fn.Locals)) {
			return diag.Internalf(fn.Name, i, "slot %d out of range", in.Slot)
		}
	}
	return nil
}
