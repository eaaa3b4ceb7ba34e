package ir

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Printer outputs the generic IR in a readable text form
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new IR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintModule prints all globals and functions of a module
func (p *Printer) PrintModule(m *Module) {
	for _, g := range m.Globals {
		kind := "var"
		if g.ReadOnly {
			kind = "const"
		}
		if g.Extern {
			kind = "extern"
		}
		fmt.Fprintf(p.w, "%s \"%s\"[%d] align %d\n", kind, g.Name, g.Size, g.Align)
	}
	if len(m.Globals) > 0 {
		fmt.Fprintln(p.w)
	}
	for i, fn := range m.Functions {
		p.PrintFunction(fn)
		if i < len(m.Functions)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

// PrintFunction prints one function, one instruction per line
func (p *Printer) PrintFunction(fn *Function) {
	fmt.Fprintf(p.w, "%s %s {\n", fn.Name, fn.Type)
	for i, l := range fn.Locals {
		fmt.Fprintf(p.w, "  slot%d %q size %d align %d\n", i, l.Name, l.Size, l.Align)
	}
	for i := range fn.Code {
		in := &fn.Code[i]
		if in.Op == OpLabel {
			fmt.Fprintf(p.w, "L%d:\n", in.Label)
			continue
		}
		fmt.Fprintf(p.w, "  %4d: ", i)
		if in.Type != Void {
			fmt.Fprintf(p.w, "%%%d:%s = ", i, in.Type)
		}
		fmt.Fprint(p.w, in.Op.String())
		if d := FormatPayload(in.Op, &in.Payload); d != "" {
			fmt.Fprintf(p.w, ".%s", d)
		}
		for j, a := range in.Args {
			if j == 0 {
				fmt.Fprint(p.w, " ")
			} else {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprintf(p.w, "%%%d", a)
		}
		if in.Op == OpLabelAddr {
			fmt.Fprintf(p.w, " L%d", in.Label)
		}
		for j, t := range in.Targets {
			if j == 0 {
				fmt.Fprint(p.w, " ->")
			}
			fmt.Fprintf(p.w, " L%d", t)
		}
		fmt.Fprintln(p.w)
	}
	fmt.Fprintln(p.w, "}")
}

// FormatPayload renders the opcode-specific fields of an instruction.
func FormatPayload(op Opcode, p *Payload) string {
	switch op {
	case OpIntConst:
		return strconv.FormatInt(p.Imm, 10)
	case OpFloatConst:
		return strconv.FormatFloat(p.Float, 'g', -1, 64)
	case OpGlobalAddr:
		if p.Off != 0 {
			return fmt.Sprintf("%s+%d", p.Sym, p.Off)
		}
		return p.Sym
	case OpLocalAddr, OpSpill, OpReload, OpDbgValue:
		return fmt.Sprintf("slot%d", p.Slot)
	case OpParam, OpProject:
		return strconv.FormatInt(p.Imm, 10)
	case OpIncomingAddr, OpOutgoingAddr:
		return strconv.FormatInt(p.Off, 10)
	case OpCmp, OpCmpBranch:
		return p.Cond.String()
	case OpSExt, OpZExt:
		return strconv.Itoa(p.Width)
	case OpIntToFloat, OpFloatToInt:
		if p.Signed {
			return "s"
		}
		return "u"
	case OpLoad:
		s := p.Mem.String()
		if p.Signed {
			s += "s"
		}
		if p.Off != 0 {
			s += fmt.Sprintf("+%d", p.Off)
		}
		return s
	case OpStore:
		if p.Off != 0 {
			return fmt.Sprintf("%s+%d", p.Mem, p.Off)
		}
		return p.Mem.String()
	case OpMemcpy, OpZeroMem:
		return strconv.FormatInt(p.Imm, 10)
	case OpX87:
		switch p.X87 {
		case X87Cmp:
			return "cmp " + p.Cond.String()
		case X87Load, X87Store:
			s := p.X87.String() + " " + p.Mem.String()
			if p.Signed {
				s += "s"
			}
			return s
		}
		return p.X87.String()
	case OpExtractBits:
		s := fmt.Sprintf("%d:%d", p.Offset, p.Width)
		if p.Signed {
			s += "s"
		}
		return s
	case OpInsertBits:
		return fmt.Sprintf("%d:%d", p.Offset, p.Width)
	case OpCall:
		if p.Call != nil && p.Call.Sym != "" {
			return p.Call.Sym
		}
		return "indirect"
	case OpInlineAsm:
		if p.Asm != nil {
			return strconv.Quote(strings.TrimSpace(p.Asm.Template))
		}
	}
	return ""
}
