// Package ctypes defines the C type system consumed by the backend:
// scalar, _BitInt, floating, complex, pointer, array, struct/union,
// enum and function types, together with their x86-64 layout.
package ctypes

import (
	"fmt"
	"strings"
)

// Type is the interface for all C types
type Type interface {
	implType()
	String() string
}

// Signedness represents signed/unsigned for integer types
type Signedness int

const (
	Signed Signedness = iota
	Unsigned
)

func (s Signedness) String() string {
	if s == Signed {
		return "signed"
	}
	return "unsigned"
}

// IntSize represents the size of integer types
type IntSize int

const (
	I8 IntSize = iota
	I16
	I32
	I64
	IBool
)

func (s IntSize) String() string {
	names := []string{"i8", "i16", "i32", "i64", "ibool"}
	if int(s) < len(names) {
		return names[s]
	}
	return "?"
}

// Bytes returns the storage size of the integer kind.
func (s IntSize) Bytes() int64 {
	switch s {
	case I8, IBool:
		return 1
	case I16:
		return 2
	case I32:
		return 4
	}
	return 8
}

// FloatSize represents the size of floating-point types
type FloatSize int

const (
	F32 FloatSize = iota
	F64
	F80 // long double, x87 extended precision
)

func (s FloatSize) String() string {
	switch s {
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return "f80"
}

// Tvoid represents the void type
type Tvoid struct{}

// Tint represents the standard integer types and _Bool.
type Tint struct {
	Size IntSize
	Sign Signedness
}

// Tbitint represents _BitInt(N) and unsigned _BitInt(N).
type Tbitint struct {
	Width int
	Sign  Signedness
}

// Tfloat represents float, double and long double.
type Tfloat struct {
	Size FloatSize
}

// Tcomplex represents the _Complex variants of Tfloat.
type Tcomplex struct {
	Size FloatSize
}

// Tpointer represents pointer types
type Tpointer struct {
	Elem Type
}

// Tarray represents array types
type Tarray struct {
	Elem Type
	Size int64 // -1 for incomplete array
}

// Tfunction represents function types
type Tfunction struct {
	Params []Type
	Return Type
	VarArg bool
}

// Tstruct represents a struct type. Struct types are nominal: two
// declarations are the same type only if they are the same *Tstruct.
type Tstruct struct {
	Name    string
	ID      int64 // assigned by a Registry, 0 if unregistered
	Fields  []Field
	Packed  bool
	Aligned int64 // explicit alignment attribute, 0 if absent
	// NonTrivial marks types the front end says cannot be copied
	// bitwise; they are always passed in memory.
	NonTrivial bool
}

// Tunion represents a union type. It has the same shape as Tstruct.
type Tunion struct {
	Name       string
	ID         int64
	Fields     []Field
	Packed     bool
	Aligned    int64
	NonTrivial bool
}

// Tenum represents an enumeration; its underlying type is int.
type Tenum struct {
	Name string
}

// Field represents a struct or union field
type Field struct {
	Name     string
	Type     Type
	BitField bool
	Width    int // bit-field width, meaningful when BitField
}

// Marker methods for Type interface
func (Tvoid) implType()     {}
func (Tint) implType()      {}
func (Tbitint) implType()   {}
func (Tfloat) implType()    {}
func (Tcomplex) implType()  {}
func (Tpointer) implType()  {}
func (Tarray) implType()    {}
func (Tfunction) implType() {}
func (*Tstruct) implType()  {}
func (*Tunion) implType()   {}
func (Tenum) implType()     {}

// String methods for types
func (Tvoid) String() string { return "void" }

func (t Tint) String() string {
	sign := ""
	if t.Sign == Unsigned {
		sign = "unsigned "
	}
	switch t.Size {
	case I8:
		return sign + "char"
	case I16:
		return sign + "short"
	case I32:
		return sign + "int"
	case I64:
		return sign + "long"
	case IBool:
		return "_Bool"
	}
	return sign + "int"
}

func (t Tbitint) String() string {
	if t.Sign == Unsigned {
		return fmt.Sprintf("unsigned _BitInt(%d)", t.Width)
	}
	return fmt.Sprintf("_BitInt(%d)", t.Width)
}

func (t Tfloat) String() string {
	switch t.Size {
	case F32:
		return "float"
	case F64:
		return "double"
	}
	return "long double"
}

func (t Tcomplex) String() string {
	return Tfloat(t).String() + " _Complex"
}

func (t Tpointer) String() string {
	if t.Elem == nil {
		return "void *"
	}
	return t.Elem.String() + " *"
}

func (t Tarray) String() string {
	if t.Elem == nil {
		return "?[]"
	}
	if t.Size < 0 {
		return t.Elem.String() + "[]"
	}
	return fmt.Sprintf("%s[%d]", t.Elem.String(), t.Size)
}

func (t Tfunction) String() string {
	var sb strings.Builder
	if t.Return == nil {
		sb.WriteString("void")
	} else {
		sb.WriteString(t.Return.String())
	}
	sb.WriteString("(")
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	if t.VarArg {
		if len(t.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteString(")")
	return sb.String()
}

func (t *Tstruct) String() string {
	if t.Name == "" {
		return "struct <anonymous>"
	}
	return "struct " + t.Name
}

func (t *Tunion) String() string {
	if t.Name == "" {
		return "union <anonymous>"
	}
	return "union " + t.Name
}

func (t Tenum) String() string {
	return "enum " + t.Name
}

// Common type constructors

// Bool returns the _Bool type
func Bool() Type { return Tint{Size: IBool, Sign: Unsigned} }

// Int returns a signed 32-bit int type
func Int() Type { return Tint{Size: I32, Sign: Signed} }

// UInt returns an unsigned 32-bit int type
func UInt() Type { return Tint{Size: I32, Sign: Unsigned} }

// Char returns a signed char type
func Char() Type { return Tint{Size: I8, Sign: Signed} }

// UChar returns an unsigned char type
func UChar() Type { return Tint{Size: I8, Sign: Unsigned} }

// Short returns a signed short type
func Short() Type { return Tint{Size: I16, Sign: Signed} }

// Long returns a signed long type
func Long() Type { return Tint{Size: I64, Sign: Signed} }

// ULong returns an unsigned long type
func ULong() Type { return Tint{Size: I64, Sign: Unsigned} }

// BitInt returns _BitInt(width) with the given signedness.
func BitInt(width int, sign Signedness) Type { return Tbitint{Width: width, Sign: sign} }

// Float returns a float (32-bit) type
func Float() Type { return Tfloat{Size: F32} }

// Double returns a double (64-bit) type
func Double() Type { return Tfloat{Size: F64} }

// LongDouble returns the 80-bit extended type.
func LongDouble() Type { return Tfloat{Size: F80} }

// Complex returns the complex type over the given floating kind.
func Complex(size FloatSize) Type { return Tcomplex{Size: size} }

// Void returns the void type
func Void() Type { return Tvoid{} }

// Pointer returns a pointer to the given type
func Pointer(elem Type) Type { return Tpointer{Elem: elem} }

// Array returns an array type
func Array(elem Type, size int64) Type { return Tarray{Elem: elem, Size: size} }

// Func returns a function type.
func Func(ret Type, varArg bool, params ...Type) Tfunction {
	return Tfunction{Params: params, Return: ret, VarArg: varArg}
}

// Struct returns an unregistered struct type.
func Struct(name string, fields ...Field) *Tstruct {
	return &Tstruct{Name: name, Fields: fields}
}

// Union returns an unregistered union type.
func Union(name string, fields ...Field) *Tunion {
	return &Tunion{Name: name, Fields: fields}
}

// F returns a plain field.
func F(name string, t Type) Field { return Field{Name: name, Type: t} }

// BF returns a bit-field.
func BF(name string, t Type, width int) Field {
	return Field{Name: name, Type: t, BitField: true, Width: width}
}

// Equal checks if two types are equal
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch ta := a.(type) {
	case Tvoid:
		_, ok := b.(Tvoid)
		return ok
	case Tint:
		tb, ok := b.(Tint)
		return ok && ta == tb
	case Tbitint:
		tb, ok := b.(Tbitint)
		return ok && ta == tb
	case Tfloat:
		tb, ok := b.(Tfloat)
		return ok && ta == tb
	case Tcomplex:
		tb, ok := b.(Tcomplex)
		return ok && ta == tb
	case Tenum:
		tb, ok := b.(Tenum)
		return ok && ta.Name == tb.Name
	case Tpointer:
		tb, ok := b.(Tpointer)
		return ok && Equal(ta.Elem, tb.Elem)
	case Tarray:
		tb, ok := b.(Tarray)
		return ok && ta.Size == tb.Size && Equal(ta.Elem, tb.Elem)
	case *Tstruct:
		tb, ok := b.(*Tstruct)
		if !ok {
			return false
		}
		if ta.ID != 0 || tb.ID != 0 {
			return ta == tb
		}
		return ta.Name == tb.Name
	case *Tunion:
		tb, ok := b.(*Tunion)
		if !ok {
			return false
		}
		if ta.ID != 0 || tb.ID != 0 {
			return ta == tb
		}
		return ta.Name == tb.Name
	case Tfunction:
		tb, ok := b.(Tfunction)
		if !ok || ta.VarArg != tb.VarArg || len(ta.Params) != len(tb.Params) {
			return false
		}
		if !Equal(ta.Return, tb.Return) {
			return false
		}
		for i, p := range ta.Params {
			if !Equal(p, tb.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// IsInteger reports whether t is an integer type (including _Bool,
// enums and _BitInt).
func IsInteger(t Type) bool {
	switch t.(type) {
	case Tint, Tbitint, Tenum:
		return true
	}
	return false
}

// IsSigned reports whether an integer type is signed.
func IsSigned(t Type) bool {
	switch tt := t.(type) {
	case Tint:
		return tt.Sign == Signed && tt.Size != IBool
	case Tbitint:
		return tt.Sign == Signed
	case Tenum:
		return true
	}
	return false
}

// IsFloat reports whether t is a real floating type.
func IsFloat(t Type) bool {
	_, ok := t.(Tfloat)
	return ok
}

// IsComplex reports whether t is a complex type.
func IsComplex(t Type) bool {
	_, ok := t.(Tcomplex)
	return ok
}

// IsPointer reports whether t is a pointer type.
func IsPointer(t Type) bool {
	_, ok := t.(Tpointer)
	return ok
}

// IsBool reports whether t is _Bool.
func IsBool(t Type) bool {
	ti, ok := t.(Tint)
	return ok && ti.Size == IBool
}

// IsVoid reports whether t is void.
func IsVoid(t Type) bool {
	_, ok := t.(Tvoid)
	return ok || t == nil
}

// IsScalar reports whether t is an arithmetic or pointer type.
func IsScalar(t Type) bool {
	return IsInteger(t) || IsFloat(t) || IsComplex(t) || IsPointer(t)
}

// IsAggregate reports whether values of t live in memory and are
// handled by address: arrays, structs and unions.
func IsAggregate(t Type) bool {
	switch t.(type) {
	case Tarray, *Tstruct, *Tunion:
		return true
	}
	return false
}

// IsWideBitInt reports whether t is a _BitInt wider than one machine
// word. Such values are handled in memory, word by word.
func IsWideBitInt(t Type) bool {
	b, ok := t.(Tbitint)
	return ok && b.Width > 64
}

// BitWidth returns the number of value bits of an integer type.
func BitWidth(t Type) int {
	switch tt := t.(type) {
	case Tint:
		if tt.Size == IBool {
			return 1
		}
		return int(tt.Size.Bytes() * 8)
	case Tbitint:
		return tt.Width
	case Tenum:
		return 32
	case Tpointer:
		return 64
	}
	return 0
}

// Composite returns the shared view of a struct or union type.
func Composite(t Type) (c *Tstruct, union bool, ok bool) {
	switch tt := t.(type) {
	case *Tstruct:
		return tt, false, true
	case *Tunion:
		return (*Tstruct)(tt), true, true
	}
	return nil, false, false
}

// FieldByName finds a member of a struct or union by name.
func FieldByName(t Type, name string) (int, Field, bool) {
	c, _, ok := Composite(t)
	if !ok {
		return -1, Field{}, false
	}
	for i, f := range c.Fields {
		if f.Name == name {
			return i, f, true
		}
	}
	return -1, Field{}, false
}

// Elem returns the element type of a pointer or array.
func Elem(t Type) Type {
	switch tt := t.(type) {
	case Tpointer:
		return tt.Elem
	case Tarray:
		return tt.Elem
	}
	return nil
}

// ComplexElem returns the real type underlying a complex type.
func ComplexElem(t Type) Type {
	if c, ok := t.(Tcomplex); ok {
		return Tfloat(c)
	}
	return nil
}
