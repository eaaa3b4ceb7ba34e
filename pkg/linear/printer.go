package linear

import (
	"fmt"
	"io"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Printer outputs linearized functions in a readable format
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new Linear printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintFunction prints a function in Linear format
func (p *Printer) PrintFunction(fn *Function) {
	fmt.Fprintf(p.w, "%s() {\n", fn.Name)
	if len(fn.Spills) > 0 {
		fmt.Fprintf(p.w, "  ; spill slots = %d\n", len(fn.Spills))
	}
	for _, inst := range fn.Code {
		p.printInstruction(inst)
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printInstruction(inst Instruction) {
	switch i := inst.(type) {
	case Llabel:
		// Labels are printed without indentation
		fmt.Fprintf(p.w, "L%d:\n", i.Lbl)
	case Lgoto:
		fmt.Fprintf(p.w, "  goto L%d\n", i.Target)
	case Lcond:
		fmt.Fprint(p.w, "  if ")
		if i.Negate {
			fmt.Fprint(p.w, "not ")
		}
		p.printInstr(&i.Instr)
		fmt.Fprintf(p.w, " goto L%d\n", i.IfSo)
	case Ljumptable:
		fmt.Fprint(p.w, "  ")
		p.printInstr(&i.Instr)
		fmt.Fprint(p.w, " [")
		for j, l := range i.Targets {
			if j > 0 {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprintf(p.w, "L%d", l)
		}
		fmt.Fprintln(p.w, "]")
	case Lijump:
		fmt.Fprint(p.w, "  ")
		p.printInstr(&i.Instr)
		fmt.Fprintln(p.w)
	case Lreturn:
		fmt.Fprint(p.w, "  ")
		p.printInstr(&i.Instr)
		fmt.Fprintln(p.w)
	case Lop:
		fmt.Fprint(p.w, "  ")
		p.printInstr(&i.Instr)
		for _, l := range i.Labels {
			fmt.Fprintf(p.w, " L%d", l)
		}
		fmt.Fprintln(p.w)
	}
}

func (p *Printer) printInstr(in *ltl.Instr) {
	if in.Dst != ltl.NoReg {
		fmt.Fprintf(p.w, "%%%s = ", in.Dst)
	}
	fmt.Fprint(p.w, in.Op.String())
	if d := ir.FormatPayload(in.Op, &in.Payload); d != "" {
		fmt.Fprintf(p.w, ".%s", d)
	}
	if in.HasImm {
		fmt.Fprintf(p.w, " $%d", in.Imm)
	}
	for j, a := range in.Args {
		if j == 0 && !in.HasImm {
			fmt.Fprint(p.w, " ")
		} else {
			fmt.Fprint(p.w, ", ")
		}
		fmt.Fprintf(p.w, "%%%s", a)
	}
	if len(in.Results) > 0 {
		fmt.Fprint(p.w, " ->")
		for _, r := range in.Results {
			fmt.Fprintf(p.w, " %%%s", r)
		}
	}
	if in.Var != nil {
		fmt.Fprintf(p.w, " @ %s", in.Var)
	}
}
