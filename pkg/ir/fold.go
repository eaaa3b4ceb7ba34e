package ir

import "math/bits"

// Normalize reduces v to the canonical form of a value of type t: I32
// values are kept sign-extended in 64 bits.
func Normalize(t Type, v int64) int64 {
	if t == I32 {
		return int64(int32(v))
	}
	return v
}

// FoldBinary evaluates an integer binary operation on constants with
// x86-64 semantics (shift counts are masked). ok is false when the
// operation would trap.
func FoldBinary(op Opcode, t Type, a, b int64) (r int64, ok bool) {
	mask := uint(t.Bits() - 1)
	switch op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpAnd:
		r = a & b
	case OpOr:
		r = a | b
	case OpXor:
		r = a ^ b
	case OpShl:
		r = a << (uint(b) & mask)
	case OpSShr:
		if t == I32 {
			r = int64(int32(a) >> (uint(b) & mask))
		} else {
			r = a >> (uint(b) & mask)
		}
	case OpUShr:
		if t == I32 {
			r = int64(uint32(a) >> (uint(b) & mask))
		} else {
			r = int64(uint64(a) >> (uint(b) & mask))
		}
	case OpSDiv, OpSRem:
		if t == I32 {
			x, y := int32(a), int32(b)
			if y == 0 || (x == -1<<31 && y == -1) {
				return 0, false
			}
			if op == OpSDiv {
				r = int64(x / y)
			} else {
				r = int64(x % y)
			}
		} else {
			if b == 0 || (a == -1<<63 && b == -1) {
				return 0, false
			}
			if op == OpSDiv {
				r = a / b
			} else {
				r = a % b
			}
		}
	case OpUDiv, OpURem:
		if t == I32 {
			x, y := uint32(a), uint32(b)
			if y == 0 {
				return 0, false
			}
			if op == OpUDiv {
				r = int64(x / y)
			} else {
				r = int64(x % y)
			}
		} else {
			x, y := uint64(a), uint64(b)
			if y == 0 {
				return 0, false
			}
			if op == OpUDiv {
				r = int64(x / y)
			} else {
				r = int64(x % y)
			}
		}
	default:
		return 0, false
	}
	return Normalize(t, r), true
}

// FoldUnary evaluates a one-operand integer operation on a constant.
func FoldUnary(op Opcode, t Type, p *Payload, a int64) (r int64, ok bool) {
	switch op {
	case OpCopy:
		r = a
	case OpNeg:
		r = -a
	case OpNot:
		r = ^a
	case OpSExt:
		r = SignExtend(a, p.Width)
	case OpZExt:
		r = ZeroExtend(a, p.Width)
	case OpTrunc:
		r = int64(int32(a))
	case OpExtractBits:
		r = ZeroExtend(int64(uint64(a)>>uint(p.Offset)), p.Width)
		if p.Signed {
			r = SignExtend(r, p.Width)
		}
	case OpPopcount:
		if t == I32 {
			r = int64(bits.OnesCount32(uint32(a)))
		} else {
			r = int64(bits.OnesCount64(uint64(a)))
		}
	case OpClz, OpCtz:
		if a == 0 {
			return 0, false
		}
		switch {
		case op == OpClz && t == I32:
			r = int64(bits.LeadingZeros32(uint32(a)))
		case op == OpClz:
			r = int64(bits.LeadingZeros64(uint64(a)))
		default:
			r = int64(bits.TrailingZeros64(uint64(a)))
		}
	case OpBswap:
		if t == I32 {
			r = int64(bits.ReverseBytes32(uint32(a)))
		} else {
			r = int64(bits.ReverseBytes64(uint64(a)))
		}
	default:
		return 0, false
	}
	return Normalize(t, r), true
}

// InsertBits replaces width bits of x starting at offset with v.
func InsertBits(x, v int64, offset, width int) int64 {
	m := uint64(ZeroExtend(-1, width)) << uint(offset)
	return int64(uint64(x)&^m | uint64(v)<<uint(offset)&m)
}

// SignExtend sign-extends the low width bits of v.
func SignExtend(v int64, width int) int64 {
	if width >= 64 || width <= 0 {
		return v
	}
	s := uint(64 - width)
	return v << s >> s
}

// ZeroExtend clears all bits of v above width.
func ZeroExtend(v int64, width int) int64 {
	if width >= 64 || width <= 0 {
		return v
	}
	return int64(uint64(v) & (1<<uint(width) - 1))
}

// FoldFloat evaluates a floating-point binary operation, rounding to
// single precision for F32.
func FoldFloat(op Opcode, t Type, a, b float64) (r float64, ok bool) {
	switch op {
	case OpFAdd:
		r = a + b
	case OpFSub:
		r = a - b
	case OpFMul:
		r = a * b
	case OpFDiv:
		r = a / b
	default:
		return 0, false
	}
	if t == F32 {
		r = float64(float32(r))
	}
	return r, true
}
