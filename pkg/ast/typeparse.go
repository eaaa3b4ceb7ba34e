package ast

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
)

// TypeEnv resolves the named types a type string may mention.
type TypeEnv struct {
	Structs  map[string]*ctypes.Tstruct
	Unions   map[string]*ctypes.Tunion
	Typedefs map[string]ctypes.Type
}

// NewTypeEnv returns an environment knowing only va_list.
func NewTypeEnv() *TypeEnv {
	env := &TypeEnv{
		Structs:  make(map[string]*ctypes.Tstruct),
		Unions:   make(map[string]*ctypes.Tunion),
		Typedefs: make(map[string]ctypes.Type),
	}
	env.Typedefs["va_list"] = VaListType
	env.Typedefs["__builtin_va_list"] = VaListType
	return env
}

// VaListTag is the System V va_list element type.
var VaListTag = ctypes.Struct("__va_list_tag",
	ctypes.F("gp_offset", ctypes.UInt()),
	ctypes.F("fp_offset", ctypes.UInt()),
	ctypes.F("overflow_arg_area", ctypes.Pointer(ctypes.Void())),
	ctypes.F("reg_save_area", ctypes.Pointer(ctypes.Void())),
)

// VaListType is va_list: a one-element array, so it decays to a pointer
// when passed.
var VaListType = ctypes.Array(VaListTag, 1)

// ParseType parses a type written in C declaration-specifier order
// followed by postfix derivations read left to right:
//
//	unsigned long        _BitInt(45)          double _Complex
//	char*                int[4]               struct point*
//	int(char*, ...)      int(int)*            long*[3]
//
// A parenthesized list makes a function returning the type so far, so
// "int(int)*" is a pointer to a function taking and returning int.
func (env *TypeEnv) ParseType(s string) (ctypes.Type, error) {
	p := &typeParser{env: env, toks: tokenizeType(s), src: s}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("type %q: unexpected %q", s, p.toks[p.pos])
	}
	return t, nil
}

type typeParser struct {
	env  *TypeEnv
	toks []string
	pos  int
	src  string
}

func tokenizeType(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case strings.HasPrefix(s[i:], "..."):
			toks = append(toks, "...")
			i += 3
		case unicode.IsLetter(c) || c == '_' || unicode.IsDigit(c):
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_') {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		default:
			toks = append(toks, string(c))
			i++
		}
	}
	return toks
}

func (p *typeParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *typeParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *typeParser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("type %q: expected %q, got %q", p.src, tok, got)
	}
	return nil
}

func (p *typeParser) parse() (ctypes.Type, error) {
	t, err := p.parseBase()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek() {
		case "*":
			p.next()
			t = ctypes.Pointer(t)
		case "[":
			p.next()
			size := int64(-1)
			if p.peek() != "]" {
				n, err := strconv.ParseInt(p.next(), 0, 64)
				if err != nil {
					return nil, fmt.Errorf("type %q: bad array size", p.src)
				}
				size = n
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			t = ctypes.Array(t, size)
		case "(":
			p.next()
			fn := ctypes.Tfunction{Return: t}
			for p.peek() != ")" {
				if p.peek() == "..." {
					p.next()
					fn.VarArg = true
					continue
				}
				pt, err := p.parse()
				if err != nil {
					return nil, err
				}
				if !(ctypes.IsVoid(pt) && len(fn.Params) == 0 && p.peek() == ")") {
					fn.Params = append(fn.Params, Decay(pt))
				}
				if p.peek() == "," {
					p.next()
				}
			}
			p.next()
			t = fn
		default:
			return t, nil
		}
	}
}

func (p *typeParser) parseBase() (ctypes.Type, error) {
	var (
		longs, shorts int
		unsigned      bool
		complexT      bool
		base          string
	)
	words := 0
loop:
	for {
		tok := p.peek()
		switch tok {
		case "const", "volatile", "restrict":
			p.next()
		case "unsigned":
			p.next()
			unsigned = true
			words++
		case "signed":
			p.next()
			words++
		case "long":
			p.next()
			longs++
			words++
		case "short":
			p.next()
			shorts++
			words++
		case "_Complex", "complex":
			p.next()
			complexT = true
		case "void", "_Bool", "bool", "char", "int", "float", "double":
			p.next()
			base = tok
			words++
		case "_BitInt":
			p.next()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(p.next())
			if err != nil || n <= 0 || n > 65535 {
				return nil, fmt.Errorf("type %q: bad _BitInt width", p.src)
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			sign := ctypes.Signed
			if unsigned {
				sign = ctypes.Unsigned
			}
			return ctypes.BitInt(n, sign), nil
		case "struct", "union", "enum":
			p.next()
			name := p.next()
			switch tok {
			case "struct":
				if s, ok := p.env.Structs[name]; ok {
					return s, nil
				}
			case "union":
				if u, ok := p.env.Unions[name]; ok {
					return u, nil
				}
			default:
				return ctypes.Tenum{Name: name}, nil
			}
			return nil, fmt.Errorf("type %q: unknown %s %s", p.src, tok, name)
		default:
			if words == 0 && base == "" {
				if td, ok := p.env.Typedefs[tok]; ok {
					p.next()
					return td, nil
				}
			}
			break loop
		}
	}
	if words == 0 && !complexT {
		return nil, fmt.Errorf("type %q: missing type specifier", p.src)
	}
	sign := ctypes.Signed
	if unsigned {
		sign = ctypes.Unsigned
	}
	switch base {
	case "void":
		return ctypes.Void(), nil
	case "_Bool", "bool":
		return ctypes.Bool(), nil
	case "char":
		if unsigned {
			return ctypes.UChar(), nil
		}
		return ctypes.Char(), nil
	case "float":
		if complexT {
			return ctypes.Complex(ctypes.F32), nil
		}
		return ctypes.Float(), nil
	case "double":
		size := ctypes.F64
		if longs > 0 {
			size = ctypes.F80
		}
		if complexT {
			return ctypes.Complex(size), nil
		}
		return ctypes.Tfloat{Size: size}, nil
	}
	if complexT {
		return ctypes.Complex(ctypes.F64), nil
	}
	switch {
	case shorts > 0:
		return ctypes.Tint{Size: ctypes.I16, Sign: sign}, nil
	case longs > 0:
		return ctypes.Tint{Size: ctypes.I64, Sign: sign}, nil
	}
	return ctypes.Tint{Size: ctypes.I32, Sign: sign}, nil
}
