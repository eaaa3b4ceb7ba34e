// Package linear holds allocated functions as a single instruction
// sequence with explicit labels and branches, the form the frame
// layout and the assembly generator work on.
package linear

import (
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Label names a position in the code. Blocks keep their ID as label.
type Label int

// Instruction is the interface for Linear instructions
type Instruction interface {
	implLinearInstruction()
}

// Lop is a straight-line machine instruction. Labels lists the code
// positions it refers to: the target of OpLabelAddr, or the
// destinations of an asm goto in %l order.
type Lop struct {
	ltl.Instr
	Labels []Label
}

// Llabel marks a branch target.
type Llabel struct {
	Lbl Label
}

// Lgoto jumps unconditionally.
type Lgoto struct {
	Target Label
}

// Lcond branches to IfSo when the test of Instr (OpBranch or
// OpCmpBranch) holds, or fails when Negate is set, and falls through
// otherwise.
type Lcond struct {
	Instr  ltl.Instr
	IfSo   Label
	Negate bool
}

// Ljumptable jumps to Targets[1+i] for an in-range index i and to
// Targets[0] otherwise.
type Ljumptable struct {
	Instr   ltl.Instr
	Targets []Label
}

// Lijump jumps to the address in its operand.
type Lijump struct {
	Instr ltl.Instr
}

// Lreturn leaves the function.
type Lreturn struct {
	Instr ltl.Instr
}

func (Lop) implLinearInstruction()        {}
func (Llabel) implLinearInstruction()     {}
func (Lgoto) implLinearInstruction()      {}
func (Lcond) implLinearInstruction()      {}
func (Ljumptable) implLinearInstruction() {}
func (Lijump) implLinearInstruction()     {}
func (Lreturn) implLinearInstruction()    {}

// Function is a linearized function. The frame description is carried
// over from the allocated function.
type Function struct {
	Name   string
	Static bool
	Pos    diag.Pos
	Type   ctypes.Tfunction
	Locals []ir.Local
	Spills []ir.Type
	Used   ltl.RegMask

	RegSaveSlot     int
	OutgoingSize    int64
	UsedGP, UsedSSE int
	Params          []ltl.ParamLoc

	// AddrTaken holds labels whose address escapes, which must survive
	// label cleanup.
	AddrTaken []Label
	Code      []Instruction
}

// NewFunction creates an empty function
func NewFunction(name string) *Function {
	return &Function{Name: name, RegSaveSlot: -1}
}

// Append adds an instruction to the function's code
func (f *Function) Append(inst Instruction) {
	f.Code = append(f.Code, inst)
}

// Labels returns all labels defined in the code
func (f *Function) Labels() []Label {
	seen := make(map[Label]bool)
	var labels []Label
	for _, inst := range f.Code {
		if i, ok := inst.(Llabel); ok && !seen[i.Lbl] {
			seen[i.Lbl] = true
			labels = append(labels, i.Lbl)
		}
	}
	return labels
}

// ReferencedLabels returns all labels that are targets of jumps or
// whose address is taken, in order of first reference.
func (f *Function) ReferencedLabels() []Label {
	seen := make(map[Label]bool)
	var labels []Label
	add := func(l Label) {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	for _, l := range f.AddrTaken {
		add(l)
	}
	for _, inst := range f.Code {
		for _, l := range Targets(inst) {
			add(l)
		}
	}
	return labels
}

// Targets lists the labels an instruction refers to.
func Targets(inst Instruction) []Label {
	switch i := inst.(type) {
	case Lgoto:
		return []Label{i.Target}
	case Lcond:
		return []Label{i.IfSo}
	case Ljumptable:
		return i.Targets
	case Lop:
		return i.Labels
	}
	return nil
}

// EndsFlow reports whether control never continues past inst to the
// next instruction.
func EndsFlow(inst Instruction) bool {
	switch i := inst.(type) {
	case Lgoto, Ljumptable, Lijump, Lreturn:
		return true
	case Lop:
		return i.Op == ir.OpUnreachable
	}
	return false
}
