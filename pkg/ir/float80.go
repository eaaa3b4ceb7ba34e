package ir

import (
	"encoding/binary"
	"math"
	"math/big"
	"math/bits"
)

// Float80Size is the number of value bytes of an x87 extended number;
// the object occupies 16.
const Float80Size = 10

// Float80Prec is the mantissa precision of the extended format.
const Float80Prec = 64

const (
	f80Bias   = 16383
	f80MaxExp = 0x7fff
)

// PutFloat80 encodes f in the x87 80-bit extended format.
func PutFloat80(dst []byte, f float64) {
	b := math.Float64bits(f)
	sign := uint16(b>>63) << 15
	exp := int(b>>52) & 0x7ff
	frac := b & (1<<52 - 1)
	var mant uint64
	var e80 uint16
	switch {
	case exp == 0 && frac == 0:
	case exp == 0x7ff:
		e80, mant = f80MaxExp, 1<<63|frac<<11
	case exp == 0:
		lz := bits.LeadingZeros64(frac)
		e80, mant = uint16(15372-lz), frac<<lz
	default:
		e80, mant = uint16(exp-1023+f80Bias), 1<<63|frac<<11
	}
	binary.LittleEndian.PutUint64(dst[0:8], mant)
	binary.LittleEndian.PutUint16(dst[8:10], sign|e80)
}

// DecodeFloat80 reads an extended value. ok is false for NaNs, which
// big.Float cannot hold.
func DecodeFloat80(src []byte) (f *big.Float, ok bool) {
	mant := binary.LittleEndian.Uint64(src[0:8])
	se := binary.LittleEndian.Uint16(src[8:10])
	neg := se&0x8000 != 0
	e80 := int(se & 0x7fff)
	f = new(big.Float).SetPrec(Float80Prec)
	switch {
	case e80 == f80MaxExp && mant<<1 == 0:
		return f.SetInf(neg), true
	case e80 == f80MaxExp:
		return nil, false
	case mant == 0:
		if neg {
			f.Neg(f)
		}
		return f, true
	case e80 == 0:
		// denormals share the exponent of the smallest normal
		e80 = 1
	}
	f.SetMantExp(new(big.Float).SetUint64(mant), e80-f80Bias-63)
	if neg {
		f.Neg(f)
	}
	return f, true
}

// EncodeFloat80 rounds f to the extended format and writes it.
func EncodeFloat80(dst []byte, f *big.Float) {
	var sign uint16
	if f.Signbit() {
		sign = 0x8000
	}
	var mant uint64
	var e80 int
	switch {
	case f.IsInf():
		e80, mant = f80MaxExp, 1<<63
	case f.Sign() == 0:
	default:
		r := new(big.Float).SetPrec(Float80Prec).Abs(f)
		m := new(big.Float)
		exp := r.MantExp(m) // r = m * 2**exp, 0.5 <= m < 1
		mant, _ = m.SetMantExp(m, Float80Prec).Uint64()
		e80 = exp - 1 + f80Bias
		switch {
		case e80 >= f80MaxExp:
			e80, mant = f80MaxExp, 1<<63
		case e80 <= 0:
			// denormal: the explicit integer bit is clear
			shift := 1 - e80
			if shift >= 64 {
				mant = 0
			} else {
				mant >>= shift
			}
			e80 = 0
		}
	}
	binary.LittleEndian.PutUint64(dst[0:8], mant)
	binary.LittleEndian.PutUint16(dst[8:10], sign|uint16(e80))
}
