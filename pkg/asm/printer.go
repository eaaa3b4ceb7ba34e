package asm

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"modernc.org/mathutil"

	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Printer outputs x86-64 assembly in GNU as AT&T syntax
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new assembly printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram outputs an entire program
func (p *Printer) PrintProgram(prog *Program) {
	if prog.File != "" {
		fmt.Fprintf(p.w, "\t.file\t%s\n", strconv.Quote(prog.File))
		if prog.Debug {
			fmt.Fprintf(p.w, "\t.file\t1 %s\n", strconv.Quote(prog.File))
		}
	}

	// Output functions
	if len(prog.Functions) > 0 {
		fmt.Fprintf(p.w, "\t.text\n")
		if prog.Debug {
			fmt.Fprintf(p.w, ".Ltext0:\n")
		}
	}
	for i := range prog.Functions {
		p.PrintFunction(&prog.Functions[i])
		if prog.Debug {
			fmt.Fprintf(p.w, "%s:\n", funcEnd(i))
		}
	}
	if len(prog.Functions) > 0 && prog.Debug {
		fmt.Fprintf(p.w, ".Letext0:\n")
	}

	var rodata, relro, data, bss, tdata, tbss []GlobVar
	for _, g := range prog.Globals {
		switch {
		case g.ThreadLocal && g.Init == nil:
			tbss = append(tbss, g)
		case g.ThreadLocal:
			tdata = append(tdata, g)
		case g.ReadOnly && len(g.Relocs) > 0:
			relro = append(relro, g)
		case g.ReadOnly:
			rodata = append(rodata, g)
		case g.Init == nil:
			bss = append(bss, g)
		default:
			data = append(data, g)
		}
	}
	if len(rodata) > 0 || len(prog.Consts) > 0 || len(prog.JumpTables) > 0 {
		fmt.Fprintf(p.w, "\t.section\t.rodata\n")
		for _, c := range prog.Consts {
			p.printConst(c)
		}
		for _, jt := range prog.JumpTables {
			p.printJumpTable(jt)
		}
		for _, g := range rodata {
			p.printGlobal(g)
		}
	}
	if len(relro) > 0 {
		fmt.Fprintf(p.w, "\t.section\t.data.rel.ro,\"aw\"\n")
		for _, g := range relro {
			p.printGlobal(g)
		}
	}
	if len(data) > 0 {
		fmt.Fprintf(p.w, "\t.data\n")
		for _, g := range data {
			p.printGlobal(g)
		}
	}
	if len(bss) > 0 {
		fmt.Fprintf(p.w, "\t.bss\n")
		for _, g := range bss {
			p.printGlobal(g)
		}
	}
	if len(tdata) > 0 {
		fmt.Fprintf(p.w, "\t.section\t.tdata,\"awT\",@progbits\n")
		for _, g := range tdata {
			p.printGlobal(g)
		}
	}
	if len(tbss) > 0 {
		fmt.Fprintf(p.w, "\t.section\t.tbss,\"awT\",@nobits\n")
		for _, g := range tbss {
			p.printGlobal(g)
		}
	}
	if prog.Debug {
		p.printDebugSections(prog)
	}
	fmt.Fprintf(p.w, "\t.section\t.note.GNU-stack,\"\",@progbits\n")
}

// log2 returns the base-2 logarithm of a power-of-two alignment
func log2(n int64) int {
	if n <= 1 {
		return 0
	}
	return mathutil.BitLenUint64(uint64(n)) - 1
}

// isLocal reports whether a symbol is an assembler-local label.
func isLocal(name string) bool { return strings.HasPrefix(name, ".L") }

func (p *Printer) printHeader(name string, static bool, kind string, align int64) {
	if !static && !isLocal(name) {
		fmt.Fprintf(p.w, "\t.globl\t%s\n", name)
	}
	if !isLocal(name) {
		fmt.Fprintf(p.w, "\t.type\t%s, @%s\n", name, kind)
	}
	if align > 1 {
		fmt.Fprintf(p.w, "\t.p2align\t%d\n", log2(align))
	}
	fmt.Fprintf(p.w, "%s:\n", name)
}

func (p *Printer) printGlobal(g GlobVar) {
	kind := "object"
	if g.ThreadLocal {
		kind = "tls_object"
	}
	p.printHeader(g.Name, g.Static, kind, g.Align)
	if g.Init == nil {
		fmt.Fprintf(p.w, "\t.zero\t%d\n", max(g.Size, 1))
	} else {
		pos := int64(0)
		for _, r := range g.Relocs {
			p.printBytes(g.Init[pos:r.Off])
			fmt.Fprintf(p.w, "\t.quad\t%s\n", symPlus(r.Sym, r.Addend))
			pos = r.Off + 8
		}
		p.printBytes(g.Init[pos:])
		if pad := g.Size - int64(len(g.Init)); pad > 0 {
			fmt.Fprintf(p.w, "\t.zero\t%d\n", pad)
		}
	}
	if !isLocal(g.Name) {
		fmt.Fprintf(p.w, "\t.size\t%s, %d\n", g.Name, g.Size)
	}
}

// printBytes outputs data, collapsing long runs of zeros.
func (p *Printer) printBytes(data []byte) {
	for len(data) > 0 {
		zeros := 0
		for zeros < len(data) && data[zeros] == 0 {
			zeros++
		}
		if zeros >= 8 {
			fmt.Fprintf(p.w, "\t.zero\t%d\n", zeros)
			data = data[zeros:]
			continue
		}
		n := min(len(data), 16)
		parts := make([]string, n)
		for i, b := range data[:n] {
			parts[i] = strconv.Itoa(int(b))
		}
		fmt.Fprintf(p.w, "\t.byte\t%s\n", strings.Join(parts, ","))
		data = data[n:]
	}
}

func (p *Printer) printConst(c Const) {
	if c.Align > 1 {
		fmt.Fprintf(p.w, "\t.p2align\t%d\n", log2(c.Align))
	}
	fmt.Fprintf(p.w, "%s:\n", c.Name)
	p.printBytes(c.Data)
}

func (p *Printer) printJumpTable(jt JumpTable) {
	fmt.Fprintf(p.w, "\t.p2align\t2\n")
	fmt.Fprintf(p.w, "%s:\n", jt.Name)
	for _, t := range jt.Targets {
		fmt.Fprintf(p.w, "\t.long\t%s-%s\n", t, jt.Name)
	}
}

// PrintFunction outputs one function with its variable location table
func (p *Printer) PrintFunction(f *Function) {
	p.printHeader(f.Name, f.Static, "function", 16)
	for _, line := range f.Lines {
		p.printLine(line)
	}
	fmt.Fprintf(p.w, "\t.size\t%s, .-%s\n", f.Name, f.Name)
	for _, v := range f.VarLocs {
		fmt.Fprintf(p.w, "# var %s: %s [%s, %s)\n", v.Name, v.Loc, v.StartLabel, v.EndLabel)
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) printLine(line Line) {
	switch l := line.(type) {
	case LabelDef:
		fmt.Fprintf(p.w, "%s:\n", l.Name)
	case Instr:
		fmt.Fprintf(p.w, "\t%s", l.Op)
		for i, a := range l.Args {
			if i == 0 {
				fmt.Fprint(p.w, "\t")
			} else {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprint(p.w, FormatOperand(a))
		}
		fmt.Fprintln(p.w)
	case Directive:
		if l.Args == "" {
			fmt.Fprintf(p.w, "\t%s\n", l.Name)
		} else {
			fmt.Fprintf(p.w, "\t%s\t%s\n", l.Name, l.Args)
		}
	case Loc:
		fmt.Fprintf(p.w, "\t.loc\t1 %d %d\n", l.Line, l.Col)
	case Comment:
		fmt.Fprintf(p.w, "\t# %s\n", l.Text)
	case Raw:
		for _, s := range strings.Split(l.Text, "\n") {
			if s = strings.TrimSpace(s); s != "" {
				fmt.Fprintf(p.w, "\t%s\n", s)
			}
		}
	}
}

// FormatOperand renders an operand in AT&T syntax
func FormatOperand(op Operand) string {
	switch o := op.(type) {
	case Reg:
		return "%" + o.Reg.Name(o.Size)
	case Imm:
		return "$" + strconv.FormatInt(o.Val, 10)
	case LabelRef:
		return o.Name
	case SymRef:
		if o.PLT {
			return o.Name + "@PLT"
		}
		return o.Name
	case Indirect:
		return "*%" + o.Reg.Name(8)
	case ST:
		return "%st(" + strconv.Itoa(o.N) + ")"
	case Mem:
		return formatMem(o)
	}
	return "?"
}

func formatMem(m Mem) string {
	var b strings.Builder
	if m.Seg != "" {
		b.WriteString("%" + m.Seg + ":")
	}
	if m.Sym != "" {
		switch {
		case m.GOT:
			b.WriteString(m.Sym + "@GOTPCREL(%rip)")
		case m.Reloc != "" && m.Base != ltl.NoReg:
			b.WriteString(symPlus(m.Sym+"@"+m.Reloc, m.Disp) + "(%" + m.Base.Name(8) + ")")
		case m.Reloc != "":
			b.WriteString(m.Sym + "@" + m.Reloc + "(%rip)")
		default:
			b.WriteString(symPlus(m.Sym, m.Disp) + "(%rip)")
		}
		return b.String()
	}
	if m.Disp != 0 || (m.Base == ltl.NoReg && m.Index == ltl.NoReg) {
		b.WriteString(strconv.FormatInt(m.Disp, 10))
	}
	if m.Base == ltl.NoReg && m.Index == ltl.NoReg {
		return b.String()
	}
	b.WriteString("(")
	if m.Base != ltl.NoReg {
		b.WriteString("%" + m.Base.Name(8))
	}
	if m.Index != ltl.NoReg {
		fmt.Fprintf(&b, ",%%%s,%d", m.Index.Name(8), max(m.Scale, 1))
	}
	b.WriteString(")")
	return b.String()
}

func symPlus(sym string, off int64) string {
	switch {
	case off > 0:
		return fmt.Sprintf("%s+%d", sym, off)
	case off < 0:
		return fmt.Sprintf("%s%d", sym, off)
	}
	return sym
}
