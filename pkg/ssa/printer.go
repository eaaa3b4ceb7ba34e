package ssa

import (
	"fmt"
	"io"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Printer outputs functions in SSA form, one block per paragraph
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new SSA printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintFunc prints a function with its blocks in ID order
func (p *Printer) PrintFunc(f *Func) {
	fmt.Fprintf(p.w, "%s %s [%s] {\n", f.Name, f.Type, f.State)
	for i, l := range f.Locals {
		fmt.Fprintf(p.w, "  slot%d %q size %d align %d\n", i, l.Name, l.Size, l.Align)
	}
	for _, b := range f.LiveBlocks() {
		fmt.Fprintf(p.w, "b%d:", b.ID)
		if len(b.Preds) > 0 {
			fmt.Fprint(p.w, " ; preds")
			for _, pr := range b.Preds {
				fmt.Fprintf(p.w, " b%d", pr)
			}
		}
		if b.AddrTaken {
			fmt.Fprint(p.w, " ; address taken")
		}
		fmt.Fprintln(p.w)
		for _, id := range b.Instrs {
			p.printInstr(f, b, f.Instrs[id])
		}
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printInstr(f *Func, b *Block, in *Instr) {
	fmt.Fprint(p.w, "  ")
	if in.Type != ir.Void {
		fmt.Fprintf(p.w, "%%%d:%s = ", in.ID, in.Type)
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
		if in.Op == ir.OpPhi {
			fmt.Fprintf(p.w, "[b%d] ", b.Preds[j])
		}
		fmt.Fprintf(p.w, "%%%d", a)
	}
	if in.Op == ir.OpLabelAddr {
		fmt.Fprintf(p.w, " b%d", in.Target)
	}
	if IsTerminator(in) {
		for j, s := range b.Succs {
			if j == 0 {
				fmt.Fprint(p.w, " ->")
			}
			fmt.Fprintf(p.w, " b%d", s)
		}
	}
	if in.Fixed != ltl.NoReg {
		fmt.Fprintf(p.w, " @%s", in.Fixed)
	}
	if in.Clobbers != 0 {
		fmt.Fprintf(p.w, " clobbers %d regs", len(in.Clobbers.Regs()))
	}
	fmt.Fprintln(p.w)
}
