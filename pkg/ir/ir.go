package ir

import (
	"strconv"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
)

// Type is the machine type of an IR value.
type Type uint8

const (
	Void Type = iota
	I32
	I64
	F32
	F64
)

func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return "void"
}

func (t Type) IsFloat() bool { return t == F32 || t == F64 }
func (t Type) IsInt() bool   { return t == I32 || t == I64 }

// Size returns the size in bytes of a value of type t.
func (t Type) Size() int64 {
	switch t {
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	}
	return 0
}

// Bits returns the bit width of an integer type.
func (t Type) Bits() int { return int(t.Size() * 8) }

// MemKind is the width and kind of a memory access.
type MemKind uint8

const (
	M8 MemKind = iota
	M16
	M32
	M64
	MF32
	MF64
)

func (m MemKind) String() string {
	return [...]string{"m8", "m16", "m32", "m64", "mf32", "mf64"}[m]
}

// Size returns the access width in bytes.
func (m MemKind) Size() int64 {
	switch m {
	case M8:
		return 1
	case M16:
		return 2
	case M32, MF32:
		return 4
	}
	return 8
}

func (m MemKind) IsFloat() bool { return m == MF32 || m == MF64 }

// IntMem returns the integer access kind of the given byte size.
func IntMem(size int64) MemKind {
	switch size {
	case 1:
		return M8
	case 2:
		return M16
	case 4:
		return M32
	}
	return M64
}

// ValueType maps a C scalar type to the IR value type that holds it.
func ValueType(t ctypes.Type) Type {
	switch tt := t.(type) {
	case ctypes.Tfloat:
		if tt.Size == ctypes.F32 {
			return F32
		}
		return F64
	case ctypes.Tint:
		if tt.Size == ctypes.I64 {
			return I64
		}
		return I32
	case ctypes.Tbitint:
		if tt.Width > 32 {
			return I64
		}
		return I32
	case ctypes.Tenum:
		return I32
	case ctypes.Tvoid, nil:
		return Void
	}
	// pointers, and addresses of memory-resident values
	return I64
}

// MemOf maps a C scalar type to its memory access kind.
func MemOf(t ctypes.Type) MemKind {
	switch tt := t.(type) {
	case ctypes.Tfloat:
		if tt.Size == ctypes.F32 {
			return MF32
		}
		return MF64
	case ctypes.Tint:
		return IntMem(tt.Size.Bytes())
	case ctypes.Tbitint:
		return IntMem(ctypes.BitIntSize(tt.Width))
	case ctypes.Tenum:
		return M32
	}
	return M64
}

// InMemory reports whether values of t are handled by address in the
// IR: aggregates, complex numbers, long double and wide _BitInt.
func InMemory(t ctypes.Type) bool {
	if ctypes.IsAggregate(t) || ctypes.IsComplex(t) || ctypes.IsWideBitInt(t) {
		return true
	}
	f, ok := t.(ctypes.Tfloat)
	return ok && f.Size == ctypes.F80
}

// Ref is the index of an instruction in Function.Code.
type Ref int32

// NoRef marks an absent operand.
const NoRef Ref = -1

// LabelID identifies a label within a function.
type LabelID int32

// Payload holds the non-operand fields of an instruction. Which fields
// are meaningful depends on the opcode.
type Payload struct {
	Imm      int64
	Float    float64
	Cond     Cond
	Width    int  // extension source width, bit-field width
	Offset   int  // bit-field offset
	Signed   bool // load extension, conversions, bit extraction
	Mem      MemKind
	Off      int64 // load/store displacement, global address addend
	Sym      string
	Slot     int
	Call     *CallSite
	Asm      *AsmStmt
	X87      X87Op
	Volatile bool
	Pos      diag.Pos

	// Set by instruction selection.
	Mode   AddrMode // where a Load or Store finds its address
	HasImm bool     // the last value operand is replaced by Imm
}

// AddrMode selects the base of a memory access after instruction
// selection. AddrReg takes the address from the first operand; the
// other modes address a frame area or a symbol directly, plus Off.
type AddrMode uint8

const (
	AddrReg      AddrMode = iota
	AddrLocal             // local slot Slot
	AddrGlobal            // symbol Sym, rip-relative
	AddrIncoming          // caller's stack argument area
	AddrOutgoing          // this frame's outgoing argument area
)

// CallSite describes a call.
type CallSite struct {
	Func ctypes.Tfunction
	// Sym names a direct callee. When empty the first operand is the
	// callee address.
	Sym string
	// ArgTypes holds the C types of all passed arguments, including the
	// promoted types of variadic extras. Memory-resident arguments are
	// passed as addresses.
	ArgTypes []ctypes.Type
	// RetBuf is set when the last operand is the address receiving a
	// memory-resident return value.
	RetBuf bool
}

// ArgBase returns the operand index of the first argument.
func (c *CallSite) ArgBase() int {
	if c.Sym == "" {
		return 1
	}
	return 0
}

// AsmStmt is a GNU extended inline assembly statement. Operands are
// numbered outputs first, then inputs, as in the source.
type AsmStmt struct {
	Template string
	Operands []AsmOperand
	Clobbers []string
	// GotoLabels names the labels of asm goto, in %l order. In the IR the
	// destinations are Instr.Targets[1:]; Targets[0] is the fall-through.
	GotoLabels []string
	Volatile   bool
}

// AsmOperand is one inline assembly operand.
type AsmOperand struct {
	Name       string
	Constraint string // without the '=' / '+' / '&' modifiers
	Output     bool
	ReadWrite  bool
	EarlyClob  bool
	Type       ctypes.Type
	// Arg is the operand index carrying the input value or, for memory
	// constraints, the address; -1 for register outputs.
	Arg int
	// Result is the projection index of a register output, -1 otherwise.
	Result int
	// Imm is the value of an immediate operand.
	Imm int64
}

// IsMemory reports whether the operand uses a memory constraint.
func (o AsmOperand) IsMemory() bool {
	for _, c := range o.Constraint {
		if c == 'm' || c == 'o' || c == 'V' {
			return true
		}
	}
	return false
}

// IsImmediate reports whether the operand is an immediate constraint.
func (o AsmOperand) IsImmediate() bool {
	return o.Constraint == "i" || o.Constraint == "n"
}

// TiedArgs maps the result index of every register output that must
// hold an input value on entry to the asm to the operand index of that
// value: read-write outputs and outputs named by a matching constraint.
func (s *AsmStmt) TiedArgs() map[int]int {
	m := make(map[int]int)
	for _, o := range s.Operands {
		if o.Output && o.ReadWrite && o.Result >= 0 && o.Arg >= 0 {
			m[o.Result] = o.Arg
		}
	}
	for _, o := range s.Operands {
		if o.Output || o.Arg < 0 {
			continue
		}
		n, err := strconv.Atoi(o.Constraint)
		if err != nil || n < 0 || n >= len(s.Operands) {
			continue
		}
		if out := s.Operands[n]; out.Output && out.Result >= 0 {
			m[out.Result] = o.Arg
		}
	}
	return m
}

// TiedInput returns the output operand index an input operand is tied
// to, or -1.
func (s *AsmStmt) TiedInput(op int) int {
	o := s.Operands[op]
	if o.Output {
		return -1
	}
	n, err := strconv.Atoi(o.Constraint)
	if err != nil || n < 0 || n >= len(s.Operands) || !s.Operands[n].Output {
		return -1
	}
	return n
}

// Instr is one generic IR instruction.
type Instr struct {
	Op      Opcode
	Type    Type
	Args    []Ref
	Label   LabelID   // OpLabel, OpLabelAddr
	Targets []LabelID // branches and jump tables
	Payload
}

// Local is a stack slot of a function.
type Local struct {
	Name  string
	Size  int64
	Align int64
	CType ctypes.Type
	// Param is the parameter index whose value is stored here at entry,
	// or -1.
	Param int
}

// Function is a function in generic IR form.
type Function struct {
	Name      string
	Type      ctypes.Tfunction
	Static    bool
	Locals    []Local
	Code      []Instr
	NumLabels int
	// AddrTakenLabels lists labels whose address escapes into computed
	// gotos.
	AddrTakenLabels []LabelID
	Pos             diag.Pos
}

// NewLabel allocates a fresh label.
func (f *Function) NewLabel() LabelID {
	l := LabelID(f.NumLabels)
	f.NumLabels++
	return l
}

// Emit appends an instruction and returns its reference.
func (f *Function) Emit(in Instr) Ref {
	f.Code = append(f.Code, in)
	return Ref(len(f.Code) - 1)
}

// AddLocal creates a stack slot and returns its index.
func (f *Function) AddLocal(l Local) int {
	f.Locals = append(f.Locals, l)
	return len(f.Locals) - 1
}

// Reloc is a symbol address stored into initialized data.
type Reloc struct {
	Off    int64
	Sym    string
	Addend int64
}

// Global is a variable or constant with static storage duration.
type Global struct {
	Name     string
	Size     int64
	Align    int64
	Init     []byte // nil for zero-initialized data
	Relocs   []Reloc
	ReadOnly bool
	Static   bool
	Extern   bool // declared here, defined elsewhere
	// ThreadLocal variables have one instance per thread, addressed from
	// the thread pointer.
	ThreadLocal bool
}

// Module is a translation unit in IR form.
type Module struct {
	Name      string
	Types     *ctypes.Registry
	Globals   []*Global
	Functions []*Function
	// Externs lists undefined functions referenced by the unit.
	Externs []string
}

// IsDefined reports whether sym names a function or non-extern global
// of the module.
// IsThreadLocal reports whether sym names a thread-local variable,
// defined here or declared extern.
func (m *Module) IsThreadLocal(sym string) bool {
	for _, g := range m.Globals {
		if g.Name == sym {
			return g.ThreadLocal
		}
	}
	return false
}

func (m *Module) IsDefined(sym string) bool {
	for _, f := range m.Functions {
		if f.Name == sym {
			return true
		}
	}
	for _, g := range m.Globals {
		if g.Name == sym && !g.Extern {
			return true
		}
	}
	return false
}
