package ltl

import (
	"fmt"
	"io"

	"github.com/raymyers/ralph-x64/pkg/ir"
)

// Printer outputs allocated functions in a readable format
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new LTL printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintFunction prints a function block by block
func (p *Printer) PrintFunction(fn *Function) {
	fmt.Fprintf(p.w, "%s() {\n", fn.Name)
	if len(fn.Spills) > 0 {
		fmt.Fprintf(p.w, "  ; spill slots = %d\n", len(fn.Spills))
	}
	if cs := fn.CalleeSavedUsed(); cs != 0 {
		fmt.Fprintf(p.w, "  ; callee-saved =")
		for _, r := range cs.Regs() {
			fmt.Fprintf(p.w, " %%%s", r)
		}
		fmt.Fprintln(p.w)
	}
	for _, b := range fn.LiveBlocks() {
		fmt.Fprintf(p.w, "b%d:\n", b.ID)
		for i := range b.Instrs {
			p.printInstr(&b.Instrs[i], b)
		}
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printInstr(in *Instr, b *Block) {
	fmt.Fprint(p.w, "  ")
	if in.Dst != NoReg {
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
	if &b.Instrs[len(b.Instrs)-1] == in {
		for j, s := range b.Succs {
			if j == 0 {
				fmt.Fprint(p.w, " =>")
			}
			fmt.Fprintf(p.w, " b%d", s)
		}
	}
	fmt.Fprintln(p.w)
}
