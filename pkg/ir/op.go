// Package ir defines the generic intermediate representation produced
// from the typed AST: a flat vector of instructions per function whose
// operands refer to earlier instructions by index.
//
// The opcode catalog is shared with the SSA form (package ssa), which
// adds phi nodes, fused compare-branches and the machine-level
// operations introduced by instruction selection and allocation.
package ir

// Opcode is a closed enumeration of operations.
type Opcode uint8

const (
	OpNop Opcode = iota

	// constants and addresses
	OpIntConst   // Imm
	OpFloatConst // Float
	OpGlobalAddr // Sym + Off
	OpLocalAddr  // Slot
	OpLabelAddr  // address of a label (computed goto)
	OpParam      // Imm = parameter index; aggregates yield their address
	OpCopy

	// integer arithmetic
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpSShr
	OpUShr
	OpNeg
	OpNot
	OpCmp // Cond, integer or float operands, I32 0/1 result

	// conversions
	OpSExt  // sign-extend from Width bits
	OpZExt  // zero-extend from Width bits
	OpTrunc // I64 -> I32
	OpBitcast
	OpIntToFloat // Signed
	OpFloatToInt // Signed
	OpFloatConv  // F32 <-> F64

	// floating arithmetic
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg

	// memory
	OpLoad    // Args[addr]; Mem, Signed, Off
	OpStore   // Args[addr, val]; Mem, Off
	OpMemcpy  // Args[dst, src]; Imm bytes
	OpZeroMem // Args[dst]; Imm bytes
	OpX87     // long double through the x87 unit; operands per X87

	// bit manipulation
	OpExtractBits // Args[x]; Offset, Width, Signed
	OpInsertBits  // Args[x, v]; Offset, Width
	OpPopcount
	OpClz
	OpCtz
	OpBswap

	// calls
	OpCall      // Call; Args = [callee?] args [retbuf?]
	OpProject   // Args[producer]; Imm = result index (multi-result calls and asm)
	OpVaStart   // Args[ap]
	OpInlineAsm // Asm
	OpTrap

	// control flow
	OpLabel // Label
	OpJump
	OpBranch       // Args[cond]; Targets[then, else]
	OpJumpTable    // Args[index]; Targets[default, case0, case1, ...]
	OpIndirectJump // Args[addr]; Targets = possible destinations
	OpReturn       // Args[value?]
	OpUnreachable

	// SSA form only
	OpPhi
	OpCmpBranch // Cond; Args[a, b]; Targets[then, else]
	OpDbgValue  // Args[v?]; named local Slot holds v from here, unknown without v

	// machine level, introduced after instruction selection
	OpIncomingAddr // address of the incoming stack argument area + Off
	OpOutgoingAddr // address of the outgoing argument area + Off
	OpSpill        // Args[v]; Slot
	OpReload       // Slot
	OpTemp         // scratch register reserved for one instruction

	NumOpcodes
)

var opNames = [...]string{
	OpNop:          "nop",
	OpIntConst:     "iconst",
	OpFloatConst:   "fconst",
	OpGlobalAddr:   "global",
	OpLocalAddr:    "local",
	OpLabelAddr:    "labeladdr",
	OpParam:        "param",
	OpCopy:         "copy",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpSDiv:         "sdiv",
	OpUDiv:         "udiv",
	OpSRem:         "srem",
	OpURem:         "urem",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpSShr:         "sshr",
	OpUShr:         "ushr",
	OpNeg:          "neg",
	OpNot:          "not",
	OpCmp:          "cmp",
	OpSExt:         "sext",
	OpZExt:         "zext",
	OpTrunc:        "trunc",
	OpBitcast:      "bitcast",
	OpIntToFloat:   "itof",
	OpFloatToInt:   "ftoi",
	OpFloatConv:    "fconv",
	OpFAdd:         "fadd",
	OpFSub:         "fsub",
	OpFMul:         "fmul",
	OpFDiv:         "fdiv",
	OpFNeg:         "fneg",
	OpLoad:         "load",
	OpStore:        "store",
	OpMemcpy:       "memcpy",
	OpZeroMem:      "zeromem",
	OpX87:          "x87",
	OpExtractBits:  "extractbits",
	OpInsertBits:   "insertbits",
	OpPopcount:     "popcount",
	OpClz:          "clz",
	OpCtz:          "ctz",
	OpBswap:        "bswap",
	OpCall:         "call",
	OpProject:      "project",
	OpVaStart:      "va_start",
	OpInlineAsm:    "asm",
	OpTrap:         "trap",
	OpLabel:        "label",
	OpJump:         "jump",
	OpBranch:       "branch",
	OpJumpTable:    "jumptable",
	OpIndirectJump: "ijump",
	OpReturn:       "return",
	OpUnreachable:  "unreachable",
	OpPhi:          "phi",
	OpCmpBranch:    "cmpbranch",
	OpDbgValue:     "dbgvalue",
	OpIncomingAddr: "incoming",
	OpOutgoingAddr: "outgoing",
	OpSpill:        "spill",
	OpReload:       "reload",
	OpTemp:         "temp",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "op?"
}

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpJump, OpBranch, OpJumpTable, OpIndirectJump, OpReturn, OpUnreachable, OpCmpBranch:
		return true
	}
	return false
}

// HasSideEffects reports whether an instruction must be kept even when
// its result is unused.
func (op Opcode) HasSideEffects() bool {
	switch op {
	case OpStore, OpMemcpy, OpZeroMem, OpX87, OpCall, OpVaStart, OpInlineAsm, OpTrap,
		OpLabel, OpSpill:
		return true
	}
	return op.IsTerminator()
}

// IsPure reports whether the result depends only on the operands, so
// the instruction may be moved or folded.
func (op Opcode) IsPure() bool {
	switch op {
	case OpIntConst, OpFloatConst, OpGlobalAddr, OpLocalAddr, OpLabelAddr, OpCopy,
		OpIncomingAddr, OpOutgoingAddr,
		OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpShl, OpSShr, OpUShr, OpNeg, OpNot,
		OpCmp, OpSExt, OpZExt, OpTrunc, OpBitcast, OpIntToFloat, OpFloatToInt, OpFloatConv,
		OpFAdd, OpFSub, OpFMul, OpFDiv, OpFNeg, OpExtractBits, OpInsertBits,
		OpPopcount, OpClz, OpCtz, OpBswap:
		return true
	}
	// division may trap and must stay behind its guards
	return false
}

// IsDivision reports whether op is an integer division or remainder.
func (op Opcode) IsDivision() bool {
	return op == OpSDiv || op == OpUDiv || op == OpSRem || op == OpURem
}

// IsCommutative reports whether the two operands may be swapped.
func (op Opcode) IsCommutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor, OpFAdd, OpFMul:
		return true
	}
	return false
}

// IsTwoAddress reports whether the x86 encoding overwrites the first
// operand with the result, so the result may not share a register with
// any other operand.
func (op Opcode) IsTwoAddress() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpShl, OpSShr, OpUShr,
		OpFAdd, OpFSub, OpFMul, OpFDiv, OpInsertBits:
		return true
	}
	return false
}

// X87Op is the operation of an OpX87 instruction. Long double values
// stay in memory: operands are addresses of 10-byte extended values,
// except the converted side of X87Load and X87Store, which is accessed
// with Mem.
type X87Op uint8

const (
	X87Add   X87Op = iota // Args[dst, a, b]
	X87Sub                // dst = a - b
	X87Mul                // dst = a * b
	X87Div                // dst = a / b
	X87Neg                // Args[dst, a]
	X87Cmp                // Args[a, b]; Cond; I32 0/1 result
	X87Load               // Args[dst, src]: dst = (long double)*src; Mem, Signed
	X87Store              // Args[dst, src]: *dst = src truncated or rounded to Mem
)

var x87Names = [...]string{"add", "sub", "mul", "div", "neg", "cmp", "load", "store"}

func (o X87Op) String() string {
	if int(o) < len(x87Names) {
		return x87Names[o]
	}
	return "?"
}

// Cond is a comparison condition.
type Cond uint8

const (
	CondEq Cond = iota
	CondNe
	CondLt // signed, or ordered for floats
	CondLe
	CondGt
	CondGe
	CondULt
	CondULe
	CondUGt
	CondUGe
)

var condNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge", "ult", "ule", "ugt", "uge"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "?"
}

// Negate returns the condition that holds exactly when c does not
// (for integer operands).
func (c Cond) Negate() Cond {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondLt:
		return CondGe
	case CondLe:
		return CondGt
	case CondGt:
		return CondLe
	case CondGe:
		return CondLt
	case CondULt:
		return CondUGe
	case CondULe:
		return CondUGt
	case CondUGt:
		return CondULe
	}
	return CondULt
}

// Swap returns the condition for swapped operands.
func (c Cond) Swap() Cond {
	switch c {
	case CondLt:
		return CondGt
	case CondLe:
		return CondGe
	case CondGt:
		return CondLt
	case CondGe:
		return CondLe
	case CondULt:
		return CondUGt
	case CondULe:
		return CondUGe
	case CondUGt:
		return CondULt
	case CondUGe:
		return CondULe
	}
	return c
}

// Eval applies an integer condition to two 64-bit values.
func (c Cond) Eval(a, b int64) bool {
	switch c {
	case CondEq:
		return a == b
	case CondNe:
		return a != b
	case CondLt:
		return a < b
	case CondLe:
		return a <= b
	case CondGt:
		return a > b
	case CondGe:
		return a >= b
	case CondULt:
		return uint64(a) < uint64(b)
	case CondULe:
		return uint64(a) <= uint64(b)
	case CondUGt:
		return uint64(a) > uint64(b)
	}
	return uint64(a) >= uint64(b)
}

// EvalFloat applies a condition to two floats with C semantics: every
// comparison except != is false when an operand is NaN.
func (c Cond) EvalFloat(a, b float64) bool {
	switch c {
	case CondEq:
		return a == b
	case CondNe:
		return a != b
	case CondLt, CondULt:
		return a < b
	case CondLe, CondULe:
		return a <= b
	case CondGt, CondUGt:
		return a > b
	}
	return a >= b
}
