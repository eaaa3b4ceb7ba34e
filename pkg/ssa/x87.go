package ssa

import (
	"fmt"
	"math"
	"math/big"

	"github.com/raymyers/ralph-x64/pkg/ir"
)

// readF80 reads the long double at addr.
func (m *Machine) readF80(addr uint64) (*big.Float, error) {
	b, err := m.span(addr, ir.Float80Size)
	if err != nil {
		return nil, err
	}
	f, ok := ir.DecodeFloat80(b)
	if !ok {
		return nil, fmt.Errorf("%w: long double NaN is not supported by the evaluator", ErrTrap)
	}
	return f, nil
}

func (m *Machine) writeF80(addr uint64, f *big.Float) error {
	b, err := m.span(addr, ir.Float80Size)
	if err != nil {
		return err
	}
	ir.EncodeFloat80(b, f)
	return nil
}

// x87 evaluates a long double operation with the 64-bit mantissa of the
// extended format.
func (m *Machine) x87(in *Instr, addrs []uint64) (result uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			if nan, ok := r.(big.ErrNaN); ok {
				result, err = 0, fmt.Errorf("%w: %s", ErrTrap, nan.Error())
				return
			}
			panic(r)
		}
	}()
	z := new(big.Float).SetPrec(ir.Float80Prec)
	switch in.X87 {
	case ir.X87Add, ir.X87Sub, ir.X87Mul, ir.X87Div:
		a, err := m.readF80(addrs[1])
		if err != nil {
			return 0, err
		}
		b, err := m.readF80(addrs[2])
		if err != nil {
			return 0, err
		}
		switch in.X87 {
		case ir.X87Add:
			z.Add(a, b)
		case ir.X87Sub:
			z.Sub(a, b)
		case ir.X87Mul:
			z.Mul(a, b)
		default:
			z.Quo(a, b)
		}
		return 0, m.writeF80(addrs[0], z)
	case ir.X87Neg:
		a, err := m.readF80(addrs[1])
		if err != nil {
			return 0, err
		}
		return 0, m.writeF80(addrs[0], z.Neg(a))
	case ir.X87Cmp:
		a, err := m.readF80(addrs[0])
		if err != nil {
			return 0, err
		}
		b, err := m.readF80(addrs[1])
		if err != nil {
			return 0, err
		}
		return uint64(b2i(x87Holds(in.Cond, a.Cmp(b)))), nil
	case ir.X87Load:
		v, err := m.load(addrs[1], in.Mem, in.Signed)
		if err != nil {
			return 0, err
		}
		switch {
		case in.Mem.IsFloat():
			z.SetFloat64(math.Float64frombits(v))
		case in.Signed:
			z.SetInt64(int64(v))
		default:
			z.SetUint64(v)
		}
		return 0, m.writeF80(addrs[0], z)
	case ir.X87Store:
		a, err := m.readF80(addrs[1])
		if err != nil {
			return 0, err
		}
		var v uint64
		switch in.Mem {
		case ir.MF32:
			f, _ := a.Float32()
			v = math.Float64bits(float64(f))
		case ir.MF64:
			f, _ := a.Float64()
			v = math.Float64bits(f)
		default:
			// truncation toward zero, as fisttp
			i, _ := a.Int64()
			v = uint64(i)
		}
		return 0, m.store(addrs[0], in.Mem, v)
	}
	return 0, fmt.Errorf("unknown x87 operation %s", in.X87)
}

// x87Holds applies a float condition to the result of big.Float.Cmp.
func x87Holds(c ir.Cond, cmp int) bool {
	switch c {
	case ir.CondEq:
		return cmp == 0
	case ir.CondNe:
		return cmp != 0
	case ir.CondLt, ir.CondULt:
		return cmp < 0
	case ir.CondLe, ir.CondULe:
		return cmp <= 0
	case ir.CondGt, ir.CondUGt:
		return cmp > 0
	}
	return cmp >= 0
}
