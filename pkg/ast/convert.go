package ast

import "github.com/raymyers/ralph-x64/pkg/ctypes"

// Promote applies the integer promotions: integer types narrower than
// int (other than _BitInt) and enums become int.
func Promote(t ctypes.Type) ctypes.Type {
	switch tt := t.(type) {
	case ctypes.Tint:
		if tt.Size == ctypes.IBool || tt.Size == ctypes.I8 || tt.Size == ctypes.I16 {
			return ctypes.Int()
		}
	case ctypes.Tenum:
		return ctypes.Int()
	}
	return t
}

// ArgPromote applies the default argument promotions used for variadic
// arguments: integer promotions, and float becomes double.
func ArgPromote(t ctypes.Type) ctypes.Type {
	if f, ok := t.(ctypes.Tfloat); ok && f.Size == ctypes.F32 {
		return ctypes.Double()
	}
	return Promote(t)
}

// Decay converts array and function types to the pointer types their
// values decay to.
func Decay(t ctypes.Type) ctypes.Type {
	switch tt := t.(type) {
	case ctypes.Tarray:
		return ctypes.Pointer(tt.Elem)
	case ctypes.Tfunction:
		return ctypes.Pointer(tt)
	}
	return t
}

// CommonType returns the type of the usual arithmetic conversions
// applied to operands of types a and b.
func CommonType(a, b ctypes.Type) ctypes.Type {
	ca, cb := ctypes.IsComplex(a), ctypes.IsComplex(b)
	if ca || cb {
		ra, rb := a, b
		if ca {
			ra = ctypes.ComplexElem(a)
		}
		if cb {
			rb = ctypes.ComplexElem(b)
		}
		r := CommonType(ra, rb)
		if f, ok := r.(ctypes.Tfloat); ok {
			return ctypes.Tcomplex(f)
		}
		return ctypes.Complex(ctypes.F64)
	}
	fa, aok := a.(ctypes.Tfloat)
	fb, bok := b.(ctypes.Tfloat)
	switch {
	case aok && bok:
		if fa.Size >= fb.Size {
			return fa
		}
		return fb
	case aok:
		return fa
	case bok:
		return fb
	}

	pa, pb := Promote(a), Promote(b)
	if ctypes.Equal(pa, pb) {
		return pa
	}
	wa, wb := ctypes.BitWidth(pa), ctypes.BitWidth(pb)
	switch {
	case wa > wb:
		return pa
	case wb > wa:
		return pb
	}
	// equal width: a standard type outranks a bit-precise one, then
	// unsigned wins
	_, bitA := pa.(ctypes.Tbitint)
	_, bitB := pb.(ctypes.Tbitint)
	if bitA != bitB {
		if bitA {
			return pb
		}
		return pa
	}
	if !ctypes.IsSigned(pa) {
		return pa
	}
	return pb
}

// IsArithmetic reports whether t is an integer, real or complex type.
func IsArithmetic(t ctypes.Type) bool {
	return ctypes.IsInteger(t) || ctypes.IsFloat(t) || ctypes.IsComplex(t)
}

// PointeeSize returns the size of the object a pointer points to, the
// scale factor of pointer arithmetic.
func PointeeSize(ptr ctypes.Type) int64 {
	el := ctypes.Elem(Decay(ptr))
	if el == nil {
		return 1
	}
	if _, ok := el.(ctypes.Tfunction); ok {
		return 1
	}
	n, err := ctypes.Sizeof(el)
	if err != nil || n == 0 {
		return 1
	}
	return n
}
