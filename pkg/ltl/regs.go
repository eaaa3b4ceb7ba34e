// Package ltl defines x86-64 machine registers and value locations,
// and the allocated function form produced by register allocation.
package ltl

import "fmt"

// MReg is a machine register. The zero value NoReg means "none".
type MReg uint8

const (
	NoReg MReg = iota
	RAX
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
	NumRegs
)

var gpNames = [...][4]string{
	RAX: {"al", "ax", "eax", "rax"},
	RCX: {"cl", "cx", "ecx", "rcx"},
	RDX: {"dl", "dx", "edx", "rdx"},
	RBX: {"bl", "bx", "ebx", "rbx"},
	RSP: {"spl", "sp", "esp", "rsp"},
	RBP: {"bpl", "bp", "ebp", "rbp"},
	RSI: {"sil", "si", "esi", "rsi"},
	RDI: {"dil", "di", "edi", "rdi"},
	R8:  {"r8b", "r8w", "r8d", "r8"},
	R9:  {"r9b", "r9w", "r9d", "r9"},
	R10: {"r10b", "r10w", "r10d", "r10"},
	R11: {"r11b", "r11w", "r11d", "r11"},
	R12: {"r12b", "r12w", "r12d", "r12"},
	R13: {"r13b", "r13w", "r13d", "r13"},
	R14: {"r14b", "r14w", "r14d", "r14"},
	R15: {"r15b", "r15w", "r15d", "r15"},
}

// IsFloat reports whether r is an SSE register.
func (r MReg) IsFloat() bool { return r >= XMM0 && r <= XMM15 }

// IsGP reports whether r is a general-purpose register.
func (r MReg) IsGP() bool { return r >= RAX && r <= R15 }

// Name returns the register name for an access of size bytes (1, 2, 4
// or 8). SSE registers ignore the size.
func (r MReg) Name(size int64) string {
	if r.IsFloat() {
		return fmt.Sprintf("xmm%d", r-XMM0)
	}
	if !r.IsGP() {
		return "?"
	}
	switch size {
	case 1:
		return gpNames[r][0]
	case 2:
		return gpNames[r][1]
	case 4:
		return gpNames[r][2]
	}
	return gpNames[r][3]
}

func (r MReg) String() string {
	if r == NoReg {
		return "noreg"
	}
	return r.Name(8)
}

// RegClass is a register class.
type RegClass uint8

const (
	ClassGP RegClass = iota
	ClassSSE
)

func (c RegClass) String() string {
	if c == ClassSSE {
		return "sse"
	}
	return "gp"
}

// Class returns the class of a register.
func (r MReg) Class() RegClass {
	if r.IsFloat() {
		return ClassSSE
	}
	return ClassGP
}

// RegMask is a set of machine registers.
type RegMask uint64

// MaskOf builds a mask from registers.
func MaskOf(regs ...MReg) RegMask {
	var m RegMask
	for _, r := range regs {
		m |= 1 << r
	}
	return m
}

func (m RegMask) Has(r MReg) bool         { return m&(1<<r) != 0 }
func (m RegMask) With(r MReg) RegMask     { return m | 1<<r }
func (m RegMask) Union(o RegMask) RegMask { return m | o }

// Regs lists the members of the mask in register order.
func (m RegMask) Regs() []MReg {
	var out []MReg
	for r := MReg(1); r < NumRegs; r++ {
		if m.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// System V register roles.
var (
	IntArgRegs   = []MReg{RDI, RSI, RDX, RCX, R8, R9}
	FloatArgRegs = []MReg{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
	IntRetRegs   = []MReg{RAX, RDX}
	FloatRetRegs = []MReg{XMM0, XMM1}

	// CallerSaved holds every register a call may destroy.
	CallerSaved = MaskOf(RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11,
		XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
		XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15)

	// CalleeSaved holds the allocatable registers a callee must preserve.
	CalleeSaved = MaskOf(RBX, R12, R13, R14, R15)
)

// Loc is the location of a value: a register or a stack slot.
type Loc interface {
	implLoc()
	String() string
}

// R is a register location.
type R struct {
	Reg MReg
}

// SlotKind distinguishes stack areas.
type SlotKind int

const (
	SlotLocal    SlotKind = iota // local variable area, addressed from the frame
	SlotSpill                    // spill slot assigned by the allocator
	SlotIncoming                 // caller's outgoing area (stack arguments)
	SlotOutgoing                 // this frame's outgoing argument area
)

func (k SlotKind) String() string {
	switch k {
	case SlotLocal:
		return "local"
	case SlotSpill:
		return "spill"
	case SlotIncoming:
		return "incoming"
	}
	return "outgoing"
}

// S is a stack slot location. Index identifies a local or spill slot;
// Ofs is a byte offset within the area.
type S struct {
	Slot  SlotKind
	Index int
	Ofs   int64
}

func (R) implLoc() {}
func (S) implLoc() {}

func (r R) String() string { return "%" + r.Reg.String() }

func (s S) String() string {
	return fmt.Sprintf("%s(%d)+%d", s.Slot, s.Index, s.Ofs)
}
