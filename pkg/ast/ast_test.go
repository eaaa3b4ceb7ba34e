package ast

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
)

func TestParseType(t *testing.T) {
	env := NewTypeEnv()
	pt := ctypes.Struct("point", ctypes.F("x", ctypes.Int()), ctypes.F("y", ctypes.Int()))
	env.Structs["point"] = pt
	env.Typedefs["size_t"] = ctypes.ULong()

	tests := []struct {
		in   string
		want ctypes.Type
	}{
		{"int", ctypes.Int()},
		{"unsigned", ctypes.UInt()},
		{"unsigned long", ctypes.ULong()},
		{"long long", ctypes.Long()},
		{"short", ctypes.Short()},
		{"unsigned char", ctypes.UChar()},
		{"_Bool", ctypes.Bool()},
		{"const char*", ctypes.Pointer(ctypes.Char())},
		{"long double", ctypes.LongDouble()},
		{"double _Complex", ctypes.Complex(ctypes.F64)},
		{"float complex", ctypes.Complex(ctypes.F32)},
		{"_BitInt(45)", ctypes.BitInt(45, ctypes.Signed)},
		{"unsigned _BitInt(200)", ctypes.BitInt(200, ctypes.Unsigned)},
		{"int[4]", ctypes.Array(ctypes.Int(), 4)},
		{"char[]", ctypes.Array(ctypes.Char(), -1)},
		{"long*[3]", ctypes.Array(ctypes.Pointer(ctypes.Long()), 3)},
		{"struct point*", ctypes.Pointer(pt)},
		{"size_t", ctypes.ULong()},
		{"int(int)*", ctypes.Pointer(ctypes.Func(ctypes.Int(), false, ctypes.Int()))},
		{"int(char*, ...)", ctypes.Func(ctypes.Int(), true, ctypes.Pointer(ctypes.Char()))},
		{"void(void)", ctypes.Func(ctypes.Void(), false)},
		{"int(int[2])", ctypes.Func(ctypes.Int(), false, ctypes.Pointer(ctypes.Int()))},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := env.ParseType(tt.in)
			if err != nil {
				t.Fatalf("ParseType(%q): %v", tt.in, err)
			}
			if !ctypes.Equal(got, tt.want) {
				t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTypeErrors(t *testing.T) {
	env := NewTypeEnv()
	for _, in := range []string{"", "struct nope", "_BitInt(0)", "int[x]", "int )", "frob"} {
		t.Run(in, func(t *testing.T) {
			if _, err := env.ParseType(in); err == nil {
				t.Errorf("ParseType(%q) succeeded", in)
			}
		})
	}
}

func TestCommonType(t *testing.T) {
	tests := []struct {
		name string
		a, b ctypes.Type
		want ctypes.Type
	}{
		{"char and short promote", ctypes.Char(), ctypes.Short(), ctypes.Int()},
		{"int and unsigned", ctypes.Int(), ctypes.UInt(), ctypes.UInt()},
		{"int and long", ctypes.Int(), ctypes.Long(), ctypes.Long()},
		{"unsigned and long", ctypes.UInt(), ctypes.Long(), ctypes.Long()},
		{"long and unsigned long", ctypes.Long(), ctypes.ULong(), ctypes.ULong()},
		{"int and double", ctypes.Int(), ctypes.Double(), ctypes.Double()},
		{"float and double", ctypes.Float(), ctypes.Double(), ctypes.Double()},
		{"float and complex double", ctypes.Float(), ctypes.Complex(ctypes.F64), ctypes.Complex(ctypes.F64)},
		{"int and complex float", ctypes.Int(), ctypes.Complex(ctypes.F32), ctypes.Complex(ctypes.F32)},
		{"bitint wider", ctypes.BitInt(45, ctypes.Signed), ctypes.Int(), ctypes.BitInt(45, ctypes.Signed)},
		{"standard beats bitint at equal width", ctypes.BitInt(32, ctypes.Signed), ctypes.Int(), ctypes.Int()},
		{"bitint keeps its width", ctypes.BitInt(7, ctypes.Signed), ctypes.BitInt(7, ctypes.Signed), ctypes.BitInt(7, ctypes.Signed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommonType(tt.a, tt.b); !ctypes.Equal(got, tt.want) {
				t.Errorf("CommonType(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

const addUnit = `
name: add.c
functions:
  - name: add
    returns: long
    params:
      - {name: a, type: long}
      - {name: b, type: long}
    body:
      - return: {add: [a, b]}
`

func TestDecodeAdd(t *testing.T) {
	prog, err := DecodeYAML([]byte(addUnit), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("got %d functions", len(prog.Functions))
	}
	fn := prog.Functions[0]
	if fn.Name != "add" || !ctypes.Equal(fn.Typ, ctypes.Func(ctypes.Long(), false, ctypes.Long(), ctypes.Long())) {
		t.Errorf("unexpected signature %s %s", fn.Name, fn.Typ)
	}
	want := []Stmt{Return{
		X: Binary{
			Op:  Add,
			X:   Ident{Name: "a", Typ: ctypes.Long()},
			Y:   Ident{Name: "b", Typ: ctypes.Long()},
			Typ: ctypes.Long(),
		},
		Pos: diag.Pos{File: "add.c", Line: 10, Col: 9},
	}}
	if diff := cmp.Diff(want, fn.Body.Items); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

const typedUnit = `
name: types.c
types:
  - struct: pair
    fields:
      - {name: lo, type: int}
      - {name: hi, type: int, bits: 3}
  - typedef: pair_t
    type: struct pair
  - enum: color
    values: [red, green, {blue: 7}]
globals:
  - {name: table, type: "int[]", init: [1, 2, 3]}
  - {name: msg, type: "char[]", init: {string: hi}}
functions:
  - name: f
    returns: int
    params: [{name: p, type: pair_t*}]
    body:
      - decl: x
        type: unsigned char
        init: 200
      - if: {lt: [x, blue]}
        then:
          - return: {arrow: p, field: hi}
      - return: {add: [x, {index: [table, 1]}]}
`

func TestDecodeTypes(t *testing.T) {
	prog, err := DecodeYAML([]byte(typedUnit), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := prog.Globals[0].Typ; !ctypes.Equal(got, ctypes.Array(ctypes.Int(), 3)) {
		t.Errorf("table type = %s, want int[3]", got)
	}
	if got := prog.Globals[1].Typ; !ctypes.Equal(got, ctypes.Array(ctypes.Char(), 3)) {
		t.Errorf("msg type = %s, want char[3]", got)
	}
	body := prog.Functions[0].Body.Items
	ifs := body[1].(If)
	cmpExpr := ifs.Cond.(Binary)
	if c, ok := cmpExpr.Y.(IntConst); !ok || c.Value != 7 {
		t.Errorf("enumerator blue = %#v, want 7", cmpExpr.Y)
	}
	ret := body[2].(Return).X.(Binary)
	if !ctypes.Equal(ret.Typ, ctypes.Int()) {
		t.Errorf("unsigned char + int has type %s, want int", ret.Typ)
	}
	then := ifs.Then.(Block).Items[0].(Return).X.(Member)
	if !then.Arrow || !ctypes.Equal(then.Typ, ctypes.Int()) {
		t.Errorf("unexpected member access %#v", then)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"undeclared", "functions: [{name: f, body: [{return: y}]}]", "undeclared identifier"},
		{"bad type", "globals: [{name: g, type: frob}]", "missing type specifier"},
		{"arity", "functions: [{name: f, returns: int, params: [{name: a, type: int}], body: [{return: {call: f}}]}]", "wrong number of arguments"},
		{"not a mapping", "- 1", "must be a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(tt.src), nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			var de *diag.Error
			if !errors.As(err, &de) || de.Class != diag.User {
				t.Errorf("want a user error, got %T", err)
			}
		})
	}
}
