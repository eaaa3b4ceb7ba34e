// Package asm defines the x86-64 assembly representation.
// This is the final output of the compiler: AT&T syntax for the GNU
// assembler, targeting ELF.
package asm

import (
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// --- Operands ---

// Operand is an instruction operand
type Operand interface {
	implOperand()
}

// Reg is a register accessed with the given width in bytes.
type Reg struct {
	Reg  ltl.MReg
	Size int64
}

// Imm is an immediate value
type Imm struct {
	Val int64
}

// Mem is a memory operand: Disp(Base,Index,Scale), or a symbol
// relative to the instruction pointer when Sym is set.
type Mem struct {
	Base  ltl.MReg
	Index ltl.MReg
	Scale int64
	Disp  int64
	Sym   string
	// GOT reads the address of Sym from the global offset table.
	GOT bool
	// Reloc is a thread-local relocation of Sym: tpoff or gottpoff.
	Reloc string
	// Seg is a segment override prefix, fs for the thread pointer.
	Seg string
}

// LabelRef names a code label, as a branch target.
type LabelRef struct {
	Name string
}

// SymRef names a function, as a call target.
type SymRef struct {
	Name string
	PLT  bool
}

// Indirect is a jump or call through a register.
type Indirect struct {
	Reg ltl.MReg
}

// ST is an x87 register stack slot, %st(N).
type ST struct {
	N int
}

func (Reg) implOperand()      {}
func (Imm) implOperand()      {}
func (Mem) implOperand()      {}
func (LabelRef) implOperand() {}
func (SymRef) implOperand()   {}
func (Indirect) implOperand() {}
func (ST) implOperand()       {}

// R64 and the other helpers build register operands of one width.
func R64(r ltl.MReg) Reg { return Reg{Reg: r, Size: 8} }
func R32(r ltl.MReg) Reg { return Reg{Reg: r, Size: 4} }
func R8(r ltl.MReg) Reg  { return Reg{Reg: r, Size: 1} }

// Base returns the memory operand off(%r).
func Base(r ltl.MReg, off int64) Mem { return Mem{Base: r, Disp: off} }

// --- Lines ---

// Line is one line of a function body
type Line interface {
	implLine()
}

// Instr is a machine instruction. Op carries the size suffix; Args are
// in AT&T order, sources first.
type Instr struct {
	Op   string
	Args []Operand
}

// LabelDef defines a label
type LabelDef struct {
	Name string
}

// Directive is an assembler directive inside a function body.
type Directive struct {
	Name string
	Args string
}

// Loc is a .loc debug line directive
type Loc struct {
	Line, Col int
}

// Comment is printed after a '#'.
type Comment struct {
	Text string
}

// Raw is text passed to the assembler as is, such as the body of an
// inline asm statement.
type Raw struct {
	Text string
}

func (Instr) implLine()     {}
func (LabelDef) implLine()  {}
func (Directive) implLine() {}
func (Loc) implLine()       {}
func (Comment) implLine()   {}
func (Raw) implLine()       {}

// Ins builds an instruction line.
func Ins(op string, args ...Operand) Instr { return Instr{Op: op, Args: args} }

// --- Function and Program ---

// VarLoc says where a named variable lives between two labels. Var
// indexes the function's Vars and Expr is the DWARF location
// expression of Loc.
type VarLoc struct {
	Name       string
	Loc        string
	StartLabel string
	EndLabel   string
	Var        int
	Expr       []byte
}

// Function represents an assembly function
type Function struct {
	Name    string
	Static  bool
	Lines   []Line
	Vars    []DebugVar
	VarLocs []VarLoc
}

// Append adds lines to the function
func (f *Function) Append(lines ...Line) {
	f.Lines = append(f.Lines, lines...)
}

// AppendLabel adds a label definition
func (f *Function) AppendLabel(name string) {
	f.Lines = append(f.Lines, LabelDef{Name: name})
}

// GlobVar represents a global variable
type GlobVar struct {
	Name     string
	Size     int64
	Align    int64
	Init     []byte // nil for zero-initialized storage
	Relocs   []ir.Reloc
	ReadOnly bool
	Static   bool
	// ThreadLocal places the variable in .tdata or .tbss.
	ThreadLocal bool
}

// Const is an anonymous read-only literal, such as a float constant.
type Const struct {
	Name  string
	Align int64
	Data  []byte
}

// JumpTable lists the targets of an indexed jump as 32-bit offsets
// from the table itself.
type JumpTable struct {
	Name    string
	Targets []string
}

// Program represents a complete assembly program
type Program struct {
	// File names the source; with Debug it is also debug file 1.
	File       string
	Debug      bool
	Globals    []GlobVar
	Consts     []Const
	JumpTables []JumpTable
	Functions  []Function
}
