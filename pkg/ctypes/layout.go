package ctypes

import (
	"fmt"
	"math/bits"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"modernc.org/mathutil"
)

// maxObjectSize bounds object sizes. Struct members must end below it so
// that their bit offsets still fit in an int64.
const maxObjectSize = int64(1) << 60

// Layout is the size, alignment and member placement of a type.
type Layout struct {
	Size   int64
	Align  int64
	Fields []FieldLayout // struct/union members, in declaration order
}

// FieldLayout places one member.
//
// For an ordinary member Offset is its byte offset. For a bit-field,
// Offset is the byte offset of the storage unit the field is accessed
// through (UnitSize bytes wide) and BitOffset is the position of the
// field's lowest bit inside that unit.
type FieldLayout struct {
	Name      string
	Type      Type
	Offset    int64
	BitField  bool
	BitOffset int
	Width     int
	UnitSize  int64
}

// AbsBit returns the bit position of a field from the start of the
// enclosing object.
func (f FieldLayout) AbsBit() int64 {
	return f.Offset*8 + int64(f.BitOffset)
}

// BitIntSize returns the storage size of _BitInt(width) on x86-64:
// the smallest of 1, 2, 4, 8 bytes that holds it, and whole 8-byte
// words above 64 bits.
func BitIntSize(width int) int64 {
	if width <= 64 {
		nbytes := uint64((width + 7) / 8)
		if nbytes <= 1 {
			return 1
		}
		// round up to a power of two
		return int64(1) << mathutil.BitLenUint64(nbytes-1)
	}
	return int64(BitIntWords(width)) * 8
}

// BitIntAlign returns the alignment of _BitInt(width).
func BitIntAlign(width int) int64 {
	if width <= 64 {
		return BitIntSize(width)
	}
	return 8
}

// BitIntWords returns the number of 64-bit words holding _BitInt(width).
func BitIntWords(width int) int {
	return (width + 63) / 64
}

// Sizeof returns the size of a complete object type in bytes.
func Sizeof(t Type) (int64, error) {
	l, err := LayoutOf(t)
	if err != nil {
		return 0, err
	}
	return l.Size, nil
}

// Alignof returns the alignment of a complete object type in bytes.
func Alignof(t Type) (int64, error) {
	l, err := LayoutOf(t)
	if err != nil {
		return 0, err
	}
	return l.Align, nil
}

// MustSizeof is Sizeof for types already validated by LayoutOf.
func MustSizeof(t Type) int64 {
	n, err := Sizeof(t)
	if err != nil {
		panic(err)
	}
	return n
}

// MustAlignof is Alignof for types already validated by LayoutOf.
func MustAlignof(t Type) int64 {
	n, err := Alignof(t)
	if err != nil {
		panic(err)
	}
	return n
}

// LayoutOf computes the x86-64 System V layout of t.
func LayoutOf(t Type) (*Layout, error) {
	switch tt := t.(type) {
	case Tvoid:
		// GNU C: sizeof(void) == 1, used by pointer arithmetic
		return &Layout{Size: 1, Align: 1}, nil
	case Tint:
		n := tt.Size.Bytes()
		return &Layout{Size: n, Align: n}, nil
	case Tenum:
		return &Layout{Size: 4, Align: 4}, nil
	case Tbitint:
		if tt.Width <= 0 {
			return nil, diag.Userf(diag.Pos{}, "invalid _BitInt width %d", tt.Width)
		}
		return &Layout{Size: BitIntSize(tt.Width), Align: BitIntAlign(tt.Width)}, nil
	case Tfloat:
		switch tt.Size {
		case F32:
			return &Layout{Size: 4, Align: 4}, nil
		case F64:
			return &Layout{Size: 8, Align: 8}, nil
		}
		return &Layout{Size: 16, Align: 16}, nil
	case Tcomplex:
		switch tt.Size {
		case F32:
			return &Layout{Size: 8, Align: 4}, nil
		case F64:
			return &Layout{Size: 16, Align: 8}, nil
		}
		return &Layout{Size: 32, Align: 16}, nil
	case Tpointer:
		return &Layout{Size: 8, Align: 8}, nil
	case Tarray:
		el, err := LayoutOf(tt.Elem)
		if err != nil {
			return nil, err
		}
		n := tt.Size
		if n < 0 {
			n = 0
		}
		size, err := mulSize(el.Size, n)
		if err != nil {
			return nil, err
		}
		return &Layout{Size: size, Align: el.Align}, nil
	case *Tstruct:
		return layoutComposite(tt, false)
	case *Tunion:
		return layoutComposite((*Tstruct)(tt), true)
	case Tfunction:
		return nil, diag.Userf(diag.Pos{}, "function type %s has no size", tt)
	}
	return nil, diag.Userf(diag.Pos{}, "unknown type %v", t)
}

func layoutComposite(c *Tstruct, union bool) (*Layout, error) {
	l := &Layout{Align: 1}
	var bitOff int64 // next free bit (structs)
	var maxSize int64 // largest member (unions)

	for i, f := range c.Fields {
		fl, err := LayoutOf(f.Type)
		if err != nil {
			return nil, err
		}
		align := fl.Align
		if c.Packed {
			align = 1
		}

		if f.BitField {
			if !IsInteger(f.Type) {
				return nil, diag.Userf(diag.Pos{}, "bit-field %q has non-integer type %s", f.Name, f.Type)
			}
			if f.Width < 0 || f.Width > BitWidth(f.Type) {
				return nil, diag.Userf(diag.Pos{}, "width of bit-field %q exceeds its type", f.Name)
			}
			unitBits := fl.Size * 8
			alignBits := fl.Align * 8
			if union {
				bitOff = 0
			}
			if bitOff/8 >= maxObjectSize-2*fl.Size {
				return nil, diag.TooLarge(fmt.Sprintf("%s is too large", structName(c, union)))
			}
			if f.Width == 0 {
				bitOff = alignUp(bitOff, alignBits)
				continue
			}
			pos := bitOff
			var unitStart int64
			if c.Packed {
				unitStart = pos &^ 7
			} else {
				unitStart = pos - pos%alignBits
				if pos-unitStart+int64(f.Width) > unitBits {
					pos = alignUp(pos, alignBits)
					unitStart = pos
				}
			}
			unitSize := fl.Size
			if c.Packed {
				unitSize = accessBytes(pos-unitStart+int64(f.Width))
			}
			l.Fields = append(l.Fields, FieldLayout{
				Name:      f.Name,
				Type:      f.Type,
				Offset:    unitStart / 8,
				BitField:  true,
				BitOffset: int(pos - unitStart),
				Width:     f.Width,
				UnitSize:  unitSize,
			})
			end := pos + int64(f.Width)
			if union {
				maxSize = max(maxSize, (end+7)/8)
			} else {
				bitOff = end
			}
			// unnamed bit-fields do not affect the alignment
			if f.Name != "" {
				l.Align = max(l.Align, align)
			}
			continue
		}

		size := fl.Size
		if at, ok := f.Type.(Tarray); ok && at.Size < 0 {
			if union || i != len(c.Fields)-1 {
				return nil, diag.Userf(diag.Pos{}, "flexible array member %q not at end of struct", f.Name)
			}
			size = 0
		}
		var off int64
		if union {
			maxSize = max(maxSize, size)
		} else {
			bitOff = alignUp(bitOff, align*8)
			off = bitOff / 8
			if size >= maxObjectSize || off >= maxObjectSize-size {
				return nil, diag.TooLarge(fmt.Sprintf("%s is too large", structName(c, union)))
			}
			bitOff += size * 8
		}
		l.Fields = append(l.Fields, FieldLayout{Name: f.Name, Type: f.Type, Offset: off})
		l.Align = max(l.Align, align)
	}

	if c.Aligned > l.Align {
		l.Align = c.Aligned
	}
	if union {
		l.Size = alignUp(maxSize, l.Align)
	} else {
		l.Size = alignUp((bitOff+7)/8, l.Align)
	}
	if l.Size > maxObjectSize {
		return nil, diag.TooLarge(fmt.Sprintf("%s is too large", structName(c, union)))
	}
	return l, nil
}

func structName(c *Tstruct, union bool) string {
	if union {
		return (*Tunion)(c).String()
	}
	return c.String()
}

// accessBytes returns the smallest power-of-two access width covering nbits.
func accessBytes(nbits int64) int64 {
	n := uint64((nbits + 7) / 8)
	if n <= 1 {
		return 1
	}
	return int64(1) << mathutil.BitLenUint64(n-1)
}

// mulSize multiplies an element size by a count, failing on overflow.
func mulSize(size, count int64) (int64, error) {
	hi, lo := bits.Mul64(uint64(size), uint64(count))
	if hi != 0 || lo > uint64(maxObjectSize) {
		return 0, diag.TooLarge(fmt.Sprintf("array of %d elements of size %d is too large", count, size))
	}
	return int64(lo), nil
}

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return ((n + align - 1) / align) * align
}

// AlignUp rounds n up to a multiple of align.
func AlignUp(n, align int64) int64 { return alignUp(n, align) }

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int64) bool {
	return n > 0 && mathutil.PopCountUint64(uint64(n)) == 1
}
