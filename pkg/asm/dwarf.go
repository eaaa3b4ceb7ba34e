package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// DWARF 4 description of the named variables of a program: a compile
// unit in .debug_info with one subprogram per function, location lists
// in .debug_loc, and the line table the assembler builds from .loc.

// Base type encodings (DW_ATE_*).
const (
	EncAddress  = 0x01
	EncBoolean  = 0x02
	EncFloat    = 0x04
	EncSigned   = 0x05
	EncUnsigned = 0x07
)

// DebugType is the type of a variable as the debugger sees it. An
// Encoding of zero is a type it is told nothing about.
type DebugType struct {
	Name     string
	Size     int64
	Encoding int
}

// DebugVar is a named parameter or local of a function.
type DebugVar struct {
	Name  string
	Param bool
	Type  DebugType
}

// dwarfRegs maps registers to their DWARF numbers.
var dwarfRegs = map[ltl.MReg]int{
	ltl.RAX: 0, ltl.RDX: 1, ltl.RCX: 2, ltl.RBX: 3,
	ltl.RSI: 4, ltl.RDI: 5, ltl.RBP: 6, ltl.RSP: 7,
	ltl.R8: 8, ltl.R9: 9, ltl.R10: 10, ltl.R11: 11,
	ltl.R12: 12, ltl.R13: 13, ltl.R14: 14, ltl.R15: 15,
}

// DwarfReg returns the DWARF number of a register; the vector
// registers follow the return address column 16.
func DwarfReg(r ltl.MReg) int {
	if n, ok := dwarfRegs[r]; ok {
		return n
	}
	return 17 + int(r-ltl.XMM0)
}

// RegExpr is the location expression of a value held in r.
func RegExpr(r ltl.MReg) []byte {
	n := DwarfReg(r)
	if n < 32 {
		return []byte{0x50 + byte(n)} // DW_OP_reg<n>
	}
	return appendULEB([]byte{0x90}, uint64(n)) // DW_OP_regx
}

// FrameExpr is the location expression of memory at rbp+ofs.
func FrameExpr(ofs int64) []byte {
	return appendSLEB([]byte{0x76}, ofs) // DW_OP_breg6
}

// ConstExpr describes a variable whose value is the constant v.
func ConstExpr(v int64) []byte {
	return append(appendSLEB([]byte{0x11}, v), 0x9f) // DW_OP_consts, DW_OP_stack_value
}

func appendULEB(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

// Abbreviation codes of the entries this printer writes.
const (
	abbrevUnit = 1 + iota
	abbrevBaseType
	abbrevSubprogram
	abbrevParam
	abbrevVariable
	abbrevUnspecified
)

// abbrevs lists tag, whether the entry has children, and the
// attribute/form pairs, by code.
var abbrevs = []struct {
	tag      int
	children bool
	attrs    [][2]int
}{
	abbrevUnit:        {0x11, true, [][2]int{{0x25, 0x08}, {0x13, 0x05}, {0x03, 0x08}, {0x11, 0x01}, {0x12, 0x07}, {0x10, 0x17}}},
	abbrevBaseType:    {0x24, false, [][2]int{{0x0b, 0x0b}, {0x3e, 0x0b}, {0x03, 0x08}}},
	abbrevSubprogram:  {0x2e, true, [][2]int{{0x3f, 0x0c}, {0x03, 0x08}, {0x11, 0x01}, {0x12, 0x07}}},
	abbrevParam:       {0x05, false, [][2]int{{0x03, 0x08}, {0x49, 0x13}, {0x02, 0x17}}},
	abbrevVariable:    {0x34, false, [][2]int{{0x03, 0x08}, {0x49, 0x13}, {0x02, 0x17}}},
	abbrevUnspecified: {0x3b, false, [][2]int{{0x03, 0x08}}},
}

// Producer names the compiler in the compile unit.
const Producer = "ralph-x64"

const langC99 = 0x0c

// funcEnd labels the end of the i-th function of a program.
func funcEnd(i int) string { return fmt.Sprintf(".Lfunc_end%d", i) }

func (p *Printer) printDebugSections(prog *Program) {
	p.printAbbrevs()

	types := make(map[DebugType]string)
	var order []DebugType
	for _, f := range prog.Functions {
		for _, v := range f.Vars {
			if _, ok := types[v.Type]; !ok {
				types[v.Type] = fmt.Sprintf(".Ldebug_type%d", len(order))
				order = append(order, v.Type)
			}
		}
	}

	fmt.Fprintf(p.w, "\t.section\t.debug_info,\"\",@progbits\n")
	fmt.Fprintf(p.w, ".Ldebug_info0:\n")
	fmt.Fprintf(p.w, "\t.long\t.Ldebug_info_end0-.Ldebug_info_start0\n")
	fmt.Fprintf(p.w, ".Ldebug_info_start0:\n")
	fmt.Fprintf(p.w, "\t.value\t0x4\n")
	fmt.Fprintf(p.w, "\t.long\t.Ldebug_abbrev0\n")
	fmt.Fprintf(p.w, "\t.byte\t0x8\n")
	fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", abbrevUnit)
	fmt.Fprintf(p.w, "\t.string\t%s\n", strconv.Quote(Producer))
	fmt.Fprintf(p.w, "\t.value\t%#x\n", langC99)
	fmt.Fprintf(p.w, "\t.string\t%s\n", strconv.Quote(prog.File))
	if len(prog.Functions) > 0 {
		fmt.Fprintf(p.w, "\t.quad\t.Ltext0\n")
		fmt.Fprintf(p.w, "\t.quad\t.Letext0-.Ltext0\n")
	} else {
		fmt.Fprintf(p.w, "\t.quad\t0\n")
		fmt.Fprintf(p.w, "\t.quad\t0\n")
	}
	fmt.Fprintf(p.w, "\t.long\t.Ldebug_line0\n")
	for _, t := range order {
		fmt.Fprintf(p.w, "%s:\n", types[t])
		if t.Encoding == 0 {
			fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", abbrevUnspecified)
		} else {
			fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", abbrevBaseType)
			fmt.Fprintf(p.w, "\t.byte\t%#x\n", t.Size)
			fmt.Fprintf(p.w, "\t.byte\t%#x\n", t.Encoding)
		}
		fmt.Fprintf(p.w, "\t.string\t%s\n", strconv.Quote(t.Name))
	}
	list := 0
	for i, f := range prog.Functions {
		external := 1
		if f.Static {
			external = 0
		}
		fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", abbrevSubprogram)
		fmt.Fprintf(p.w, "\t.byte\t%#x\n", external)
		fmt.Fprintf(p.w, "\t.string\t%s\n", strconv.Quote(f.Name))
		fmt.Fprintf(p.w, "\t.quad\t%s\n", f.Name)
		fmt.Fprintf(p.w, "\t.quad\t%s-%s\n", funcEnd(i), f.Name)
		for _, v := range f.Vars {
			code := abbrevVariable
			if v.Param {
				code = abbrevParam
			}
			fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", code)
			fmt.Fprintf(p.w, "\t.string\t%s\n", strconv.Quote(v.Name))
			fmt.Fprintf(p.w, "\t.long\t%s-.Ldebug_info0\n", types[v.Type])
			fmt.Fprintf(p.w, "\t.long\t.Ldebug_loc%d\n", list)
			list++
		}
		fmt.Fprintf(p.w, "\t.byte\t0\n")
	}
	fmt.Fprintf(p.w, "\t.byte\t0\n")
	fmt.Fprintf(p.w, ".Ldebug_info_end0:\n")

	fmt.Fprintf(p.w, "\t.section\t.debug_loc,\"\",@progbits\n")
	list = 0
	for _, f := range prog.Functions {
		for k := range f.Vars {
			fmt.Fprintf(p.w, ".Ldebug_loc%d:\n", list)
			list++
			for _, l := range f.VarLocs {
				if l.Var != k || l.Expr == nil {
					continue
				}
				fmt.Fprintf(p.w, "\t.quad\t%s-.Ltext0\n", l.StartLabel)
				fmt.Fprintf(p.w, "\t.quad\t%s-.Ltext0\n", l.EndLabel)
				fmt.Fprintf(p.w, "\t.value\t%#x\n", len(l.Expr))
				fmt.Fprintf(p.w, "\t.byte\t%s\n", hexBytes(l.Expr))
			}
			fmt.Fprintf(p.w, "\t.quad\t0\n")
			fmt.Fprintf(p.w, "\t.quad\t0\n")
		}
	}

	fmt.Fprintf(p.w, "\t.section\t.debug_line,\"\",@progbits\n")
	fmt.Fprintf(p.w, ".Ldebug_line0:\n")
}

func (p *Printer) printAbbrevs() {
	fmt.Fprintf(p.w, "\t.section\t.debug_abbrev,\"\",@progbits\n")
	fmt.Fprintf(p.w, ".Ldebug_abbrev0:\n")
	for code := abbrevUnit; code < len(abbrevs); code++ {
		a := abbrevs[code]
		children := 0
		if a.children {
			children = 1
		}
		fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", code)
		fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", a.tag)
		fmt.Fprintf(p.w, "\t.byte\t%#x\n", children)
		for _, at := range a.attrs {
			fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", at[0])
			fmt.Fprintf(p.w, "\t.uleb128\t%#x\n", at[1])
		}
		fmt.Fprintf(p.w, "\t.byte\t0\n")
		fmt.Fprintf(p.w, "\t.byte\t0\n")
	}
	fmt.Fprintf(p.w, "\t.byte\t0\n")
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%#x", c)
	}
	return strings.Join(parts, ",")
}
