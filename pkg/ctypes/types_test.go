package ctypes

import "testing"

func TestTypeConstructors(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		wantStr string
	}{
		{"void", Void(), "void"},
		{"bool", Bool(), "_Bool"},
		{"int", Int(), "int"},
		{"unsigned int", UInt(), "unsigned int"},
		{"char", Char(), "char"},
		{"unsigned char", UChar(), "unsigned char"},
		{"short", Short(), "short"},
		{"long", Long(), "long"},
		{"unsigned long", ULong(), "unsigned long"},
		{"bitint", BitInt(45, Signed), "_BitInt(45)"},
		{"unsigned bitint", BitInt(200, Unsigned), "unsigned _BitInt(200)"},
		{"float", Float(), "float"},
		{"double", Double(), "double"},
		{"long double", LongDouble(), "long double"},
		{"complex double", Complex(F64), "double _Complex"},
		{"pointer to int", Pointer(Int()), "int *"},
		{"pointer to void", Pointer(Void()), "void *"},
		{"array of int", Array(Int(), 10), "int[10]"},
		{"incomplete array", Array(Char(), -1), "char[]"},
		{"function", Func(Int(), true, Pointer(Char())), "int(char *, ...)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.String(); got != tt.wantStr {
				t.Errorf("String() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestTypeEquality(t *testing.T) {
	reg := NewRegistry()
	a1 := reg.NewStruct("A")
	a2 := reg.NewStruct("A")

	tests := []struct {
		name  string
		a, b  Type
		equal bool
	}{
		{"int == int", Int(), Int(), true},
		{"int != unsigned int", Int(), UInt(), false},
		{"int != long", Int(), Long(), false},
		{"int != void", Int(), Void(), false},
		{"void == void", Void(), Void(), true},
		{"bitint widths", BitInt(7, Signed), BitInt(8, Signed), false},
		{"bitint sign", BitInt(7, Signed), BitInt(7, Unsigned), false},
		{"pointer to int == pointer to int", Pointer(Int()), Pointer(Int()), true},
		{"pointer to int != pointer to char", Pointer(Int()), Pointer(Char()), false},
		{"array[10] of int == array[10] of int", Array(Int(), 10), Array(Int(), 10), true},
		{"array[10] of int != array[20] of int", Array(Int(), 10), Array(Int(), 20), false},
		{"registered struct is itself", a1, a1, true},
		{"distinct declarations with same tag", a1, a2, false},
		{"unregistered structs by tag", Struct("B"), Struct("B"), true},
		{"nil == nil", nil, nil, true},
		{"nil != int", nil, Int(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.equal {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.equal)
			}
		})
	}
}

func TestFunctionTypeEquality(t *testing.T) {
	fn1 := Tfunction{Params: []Type{Int(), Int()}, Return: Int()}
	fn2 := Tfunction{Params: []Type{Int(), Int()}, Return: Int()}
	fn3 := Tfunction{Params: []Type{Int()}, Return: Int()}
	fn4 := Tfunction{Params: []Type{Int(), Int()}, Return: Void()}
	fn5 := Tfunction{Params: []Type{Int(), Int()}, Return: Int(), VarArg: true}

	if !Equal(fn1, fn2) {
		t.Error("identical function types should be equal")
	}
	if Equal(fn1, fn3) {
		t.Error("functions with different param counts should not be equal")
	}
	if Equal(fn1, fn4) {
		t.Error("functions with different return types should not be equal")
	}
	if Equal(fn1, fn5) {
		t.Error("variadic and fixed functions should not be equal")
	}
}

func TestPredicates(t *testing.T) {
	if !IsInteger(Tenum{Name: "e"}) || !IsSigned(Tenum{Name: "e"}) {
		t.Error("enums are signed integers")
	}
	if IsSigned(Bool()) {
		t.Error("_Bool is unsigned")
	}
	if !IsWideBitInt(BitInt(65, Signed)) || IsWideBitInt(BitInt(64, Signed)) {
		t.Error("wide _BitInt threshold is 64 bits")
	}
	if BitWidth(Bool()) != 1 || BitWidth(Short()) != 16 || BitWidth(BitInt(45, Unsigned)) != 45 {
		t.Error("unexpected BitWidth")
	}
	if !IsAggregate(Struct("s")) || IsAggregate(Complex(F64)) {
		t.Error("unexpected IsAggregate")
	}
	if !Equal(ComplexElem(Complex(F32)), Float()) {
		t.Error("float _Complex element is float")
	}
}

func TestSizeStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Signed.String(), "signed"},
		{Unsigned.String(), "unsigned"},
		{I8.String(), "i8"},
		{I64.String(), "i64"},
		{IBool.String(), "ibool"},
		{F32.String(), "f32"},
		{F64.String(), "f64"},
		{F80.String(), "f80"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
