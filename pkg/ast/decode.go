package ast

import (
	"fmt"
	"math"
	"strconv"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"gopkg.in/yaml.v3"
)

// DecodeYAML reads a translation unit written as YAML and resolves the
// type of every expression. The document has the top-level keys name,
// types, globals, decls and functions:
//
//	name: add.c
//	functions:
//	  - name: add
//	    returns: long
//	    params: [{name: a, type: long}, {name: b, type: long}]
//	    body:
//	      - return: {add: [a, b]}
//
// Expressions are scalars (integer and float literals, identifier
// names) or single-key mappings naming the operation. Statements are
// single-key mappings (or the bare words break and continue).
func DecodeYAML(data []byte, reg *ctypes.Registry) (prog *Program, err error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, diag.Userf(diag.Pos{}, "invalid translation unit: %v", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, diag.Userf(diag.Pos{}, "translation unit must be a mapping")
	}
	if reg == nil {
		reg = ctypes.NewRegistry()
	}
	d := &decoder{
		reg:     reg,
		env:     NewTypeEnv(),
		globals: &scope{vars: make(map[string]ctypes.Type)},
		enums:   make(map[string]int64),
	}
	d.cur = d.globals
	defer diag.Recover(&err)
	return d.program(root), nil
}

type scope struct {
	vars   map[string]ctypes.Type
	parent *scope
}

func (s *scope) lookup(name string) (ctypes.Type, bool) {
	for ; s != nil; s = s.parent {
		if t, ok := s.vars[name]; ok {
			return t, true
		}
	}
	return nil, false
}

type decoder struct {
	reg     *ctypes.Registry
	env     *TypeEnv
	file    string
	globals *scope
	cur     *scope
	enums   map[string]int64
}

func (d *decoder) pos(n *yaml.Node) diag.Pos {
	return diag.Pos{File: d.file, Line: n.Line, Col: n.Column}
}

func (d *decoder) fail(n *yaml.Node, format string, args ...any) {
	panic(diag.Userf(d.pos(n), format, args...))
}

// get returns the value of key in mapping n, or nil.
func get(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func (d *decoder) str(n *yaml.Node, key string) string {
	v := get(n, key)
	if v == nil {
		return ""
	}
	return v.Value
}

func (d *decoder) flag(n *yaml.Node, key string) bool {
	v := get(n, key)
	return v != nil && v.Value == "true"
}

func (d *decoder) typ(n *yaml.Node, s string) ctypes.Type {
	t, err := d.env.ParseType(s)
	if err != nil {
		d.fail(n, "%v", err)
	}
	return t
}

func (d *decoder) program(root *yaml.Node) *Program {
	d.file = d.str(root, "name")
	prog := &Program{Name: d.file, Types: d.reg}

	if types := get(root, "types"); types != nil {
		for _, tn := range types.Content {
			d.typeDecl(tn)
		}
	}
	if decls := get(root, "decls"); decls != nil {
		for _, dn := range decls.Content {
			ft, ok := d.typ(dn, d.str(dn, "type")).(ctypes.Tfunction)
			if !ok {
				d.fail(dn, "declaration of %s is not a function type", d.str(dn, "name"))
			}
			name := d.str(dn, "name")
			prog.Decls = append(prog.Decls, &FuncDecl{Name: name, Typ: ft})
			d.globals.vars[name] = ft
		}
	}
	// declare every function first so bodies may call forward
	funcs := get(root, "functions")
	var sigs []ctypes.Tfunction
	if funcs != nil {
		for _, fn := range funcs.Content {
			ft := d.signature(fn)
			sigs = append(sigs, ft)
			d.globals.vars[d.str(fn, "name")] = ft
		}
	}
	if globals := get(root, "globals"); globals != nil {
		for _, gn := range globals.Content {
			g := &GlobalVar{
				Name:        d.str(gn, "name"),
				Typ:         d.typ(gn, d.str(gn, "type")),
				Static:      d.flag(gn, "static"),
				Extern:      d.flag(gn, "extern"),
				Const:       d.flag(gn, "const"),
				ThreadLocal: d.flag(gn, "thread_local"),
				Pos:         d.pos(gn),
			}
			d.globals.vars[g.Name] = g.Typ
			d.cur = d.globals
			if in := get(gn, "init"); in != nil {
				g.Init = d.init(in)
				g.Typ = completeArray(g.Typ, g.Init)
				d.globals.vars[g.Name] = g.Typ
			}
			prog.Globals = append(prog.Globals, g)
		}
	}
	if funcs != nil {
		for i, fn := range funcs.Content {
			prog.Functions = append(prog.Functions, d.function(fn, sigs[i]))
		}
	}
	return prog
}

func (d *decoder) typeDecl(n *yaml.Node) {
	switch {
	case get(n, "struct") != nil || get(n, "union") != nil:
		union := get(n, "union") != nil
		var c *ctypes.Tstruct
		if union {
			u := d.reg.NewUnion(d.str(n, "union"))
			d.env.Unions[u.Name] = u
			c = (*ctypes.Tstruct)(u)
		} else {
			c = d.reg.NewStruct(d.str(n, "struct"))
			d.env.Structs[c.Name] = c
		}
		if fields := get(n, "fields"); fields != nil {
			for _, fn := range fields.Content {
				f := ctypes.Field{Name: d.str(fn, "name"), Type: d.typ(fn, d.str(fn, "type"))}
				if b := get(fn, "bits"); b != nil {
					w, err := strconv.Atoi(b.Value)
					if err != nil {
						d.fail(b, "bad bit-field width %q", b.Value)
					}
					f.BitField, f.Width = true, w
				}
				c.Fields = append(c.Fields, f)
			}
		}
		c.Packed = d.flag(n, "packed")
		c.NonTrivial = d.flag(n, "nontrivial")
		if a := get(n, "aligned"); a != nil {
			v, _ := strconv.ParseInt(a.Value, 0, 64)
			c.Aligned = v
		}
	case get(n, "typedef") != nil:
		d.env.Typedefs[d.str(n, "typedef")] = d.typ(n, d.str(n, "type"))
	case get(n, "enum") != nil:
		// values is a list of names, each optionally a {name: value}
		// mapping that resets the counter
		next := int64(0)
		if vals := get(n, "values"); vals != nil {
			for _, v := range vals.Content {
				name := v.Value
				if v.Kind == yaml.MappingNode && len(v.Content) == 2 {
					name = v.Content[0].Value
					x, err := strconv.ParseInt(v.Content[1].Value, 0, 64)
					if err != nil {
						d.fail(v, "bad enumerator value %q", v.Content[1].Value)
					}
					next = x
				}
				d.enums[name] = next
				next++
			}
		}
	default:
		d.fail(n, "unknown type declaration")
	}
}

func (d *decoder) signature(n *yaml.Node) ctypes.Tfunction {
	ft := ctypes.Tfunction{Return: ctypes.Void(), VarArg: d.flag(n, "variadic")}
	if r := d.str(n, "returns"); r != "" {
		ft.Return = d.typ(n, r)
	}
	if params := get(n, "params"); params != nil {
		for _, p := range params.Content {
			ft.Params = append(ft.Params, Decay(d.typ(p, d.str(p, "type"))))
		}
	}
	return ft
}

func (d *decoder) function(n *yaml.Node, ft ctypes.Tfunction) *FuncDef {
	fd := &FuncDef{Name: d.str(n, "name"), Typ: ft, Static: d.flag(n, "static"), Pos: d.pos(n)}
	d.cur = &scope{vars: make(map[string]ctypes.Type), parent: d.globals}
	if params := get(n, "params"); params != nil {
		for i, p := range params.Content {
			prm := Param{Name: d.str(p, "name"), Typ: ft.Params[i]}
			fd.Params = append(fd.Params, prm)
			d.cur.vars[prm.Name] = prm.Typ
		}
	}
	body := Block{Pos: fd.Pos}
	if b := get(n, "body"); b != nil {
		body.Items = d.stmtList(b)
	}
	fd.Body = &body
	d.cur = d.globals
	return fd
}

func (d *decoder) stmtList(n *yaml.Node) []Stmt {
	if n.Kind != yaml.SequenceNode {
		return []Stmt{d.stmt(n)}
	}
	var out []Stmt
	for _, s := range n.Content {
		out = append(out, d.stmt(s))
	}
	return out
}

// body decodes a nested statement: a list becomes a block.
func (d *decoder) body(n *yaml.Node) Stmt {
	if n == nil {
		return nil
	}
	if n.Kind == yaml.SequenceNode {
		d.push()
		defer d.pop()
		return Block{Items: d.stmtList(n), Pos: d.pos(n)}
	}
	return d.stmt(n)
}

func (d *decoder) push() { d.cur = &scope{vars: make(map[string]ctypes.Type), parent: d.cur} }
func (d *decoder) pop()  { d.cur = d.cur.parent }

func (d *decoder) stmt(n *yaml.Node) Stmt {
	pos := d.pos(n)
	if l := get(n, "line"); l != nil {
		pos.Line, _ = strconv.Atoi(l.Value)
		pos.Col = 0
	}
	if n.Kind == yaml.ScalarNode {
		switch n.Value {
		case "break":
			return Break{Pos: pos}
		case "continue":
			return Continue{Pos: pos}
		case "return":
			return Return{Pos: pos}
		case "default":
			return Default{Pos: pos}
		}
		d.fail(n, "unknown statement %q", n.Value)
	}
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		d.fail(n, "statement must be a mapping")
	}
	key, val := n.Content[0].Value, n.Content[1]
	switch key {
	case "expr":
		return ExprStmt{X: d.expr(val), Pos: pos}
	case "decl":
		t := d.typ(n, d.str(n, "type"))
		decl := Decl{Name: val.Value, Typ: t, Static: d.flag(n, "static"), Pos: pos}
		d.cur.vars[decl.Name] = t
		if in := get(n, "init"); in != nil {
			decl.Init = d.init(in)
			decl.Typ = completeArray(t, decl.Init)
			d.cur.vars[decl.Name] = decl.Typ
		}
		return decl
	case "block":
		d.push()
		defer d.pop()
		return Block{Items: d.stmtList(val), Pos: pos}
	case "if":
		return If{Cond: d.expr(val), Then: d.body(get(n, "then")), Else: d.body(get(n, "else")), Pos: pos}
	case "while":
		return While{Cond: d.expr(val), Body: d.body(get(n, "body")), Pos: pos}
	case "do":
		return DoWhile{Body: d.body(val), Cond: d.expr(get(n, "while")), Pos: pos}
	case "for":
		d.push()
		defer d.pop()
		f := For{Pos: pos}
		if in := get(val, "init"); in != nil {
			f.Init = d.stmt(in)
		}
		if c := get(val, "cond"); c != nil {
			f.Cond = d.expr(c)
		}
		if p := get(val, "post"); p != nil {
			f.Post = d.expr(p)
		}
		f.Body = d.body(get(n, "body"))
		return f
	case "switch":
		return Switch{X: d.expr(val), Body: d.body(get(n, "body")), Pos: pos}
	case "case":
		c := Case{Pos: pos}
		if val.Kind == yaml.SequenceNode && len(val.Content) == 2 {
			c.Lo, c.Hi = d.constInt(val.Content[0]), d.constInt(val.Content[1])
		} else {
			c.Lo = d.constInt(val)
			c.Hi = c.Lo
		}
		return c
	case "default":
		return Default{Pos: pos}
	case "break":
		return Break{Pos: pos}
	case "continue":
		return Continue{Pos: pos}
	case "return":
		if val.Tag == "!!null" {
			return Return{Pos: pos}
		}
		return Return{X: d.expr(val), Pos: pos}
	case "goto":
		return Goto{Label: val.Value, Pos: pos}
	case "goto_ptr":
		return IndirectGoto{X: d.expr(val), Pos: pos}
	case "label":
		return Label{Name: val.Value, Pos: pos}
	case "asm":
		a := InlineAsm{Template: val.Value, Volatile: d.flag(n, "volatile"), Pos: pos}
		a.Outputs = d.asmOperands(get(n, "outputs"))
		a.Inputs = d.asmOperands(get(n, "inputs"))
		if c := get(n, "clobbers"); c != nil {
			for _, x := range c.Content {
				a.Clobbers = append(a.Clobbers, x.Value)
			}
		}
		if l := get(n, "labels"); l != nil {
			for _, x := range l.Content {
				a.Labels = append(a.Labels, x.Value)
			}
		}
		return a
	}
	d.fail(n, "unknown statement %q", key)
	return nil
}

func (d *decoder) asmOperands(n *yaml.Node) []AsmOperand {
	if n == nil {
		return nil
	}
	var ops []AsmOperand
	for _, o := range n.Content {
		ops = append(ops, AsmOperand{
			Name:       d.str(o, "name"),
			Constraint: d.str(o, "constraint"),
			X:          d.expr(get(o, "expr")),
		})
	}
	return ops
}

func (d *decoder) constInt(n *yaml.Node) int64 {
	switch e := d.expr(n).(type) {
	case IntConst:
		return e.Value
	case Unary:
		if c, ok := e.X.(IntConst); ok && e.Op == Neg {
			return -c.Value
		}
	}
	d.fail(n, "case label is not an integer constant")
	return 0
}

func (d *decoder) init(n *yaml.Node) *Init {
	if n.Kind == yaml.SequenceNode {
		in := &Init{}
		for _, c := range n.Content {
			in.List = append(in.List, d.init(c))
		}
		return in
	}
	return &Init{Expr: d.expr(n)}
}

// completeArray sizes an incomplete array type from its initializer.
func completeArray(t ctypes.Type, in *Init) ctypes.Type {
	at, ok := t.(ctypes.Tarray)
	if !ok || at.Size >= 0 || in == nil {
		return t
	}
	if in.List != nil {
		return ctypes.Array(at.Elem, int64(len(in.List)))
	}
	if s, ok := in.Expr.(StringLit); ok {
		return ctypes.Array(at.Elem, int64(len(s.Value)+1))
	}
	return t
}

var binaryKeys = map[string]BinaryOp{
	"add": Add, "sub": Sub, "mul": Mul, "div": Div, "mod": Mod,
	"and": And, "or": Or, "xor": Xor, "shl": Shl, "shr": Shr,
	"eq": Eq, "ne": Ne, "lt": Lt, "le": Le, "gt": Gt, "ge": Ge,
	"land": LogAnd, "lor": LogOr,
}

var unaryKeys = map[string]UnaryOp{
	"neg": Neg, "plus": Plus, "bitnot": BitNot, "not": LogNot, "deref": Deref, "addr": AddrOf,
}

func (d *decoder) pair(n *yaml.Node) (*yaml.Node, *yaml.Node) {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 2 {
		d.fail(n, "expected a two-element list")
	}
	return n.Content[0], n.Content[1]
}

func (d *decoder) expr(n *yaml.Node) Expr {
	if n == nil {
		panic(diag.Userf(diag.Pos{File: d.file}, "missing expression"))
	}
	if n.Kind == yaml.ScalarNode {
		return d.scalar(n)
	}
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		d.fail(n, "expression must be a scalar or a mapping")
	}
	key, val := n.Content[0].Value, n.Content[1]
	if op, ok := binaryKeys[key]; ok {
		x, y := d.pair(val)
		return d.binary(n, op, d.expr(x), d.expr(y))
	}
	if op, ok := unaryKeys[key]; ok {
		return d.unary(n, op, d.expr(val))
	}
	if len(key) > 7 && key[len(key)-7:] == "_assign" {
		op, ok := binaryKeys[key[:len(key)-7]]
		if !ok {
			d.fail(n, "unknown assignment operator %q", key)
		}
		l, r := d.pair(val)
		lhs := d.expr(l)
		return CompoundAssign{Op: op, LHS: lhs, RHS: d.expr(r), Typ: lhs.ExprType()}
	}
	switch key {
	case "int":
		v, err := strconv.ParseInt(val.Value, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(val.Value, 0, 64)
			if uerr != nil {
				d.fail(val, "bad integer %q", val.Value)
			}
			v = int64(u)
		}
		t := ctypes.Int()
		if ts := d.str(n, "type"); ts != "" {
			t = d.typ(n, ts)
		} else if v > math.MaxInt32 || v < math.MinInt32 {
			t = ctypes.Long()
		}
		return IntConst{Value: v, Typ: t}
	case "float":
		v, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			d.fail(val, "bad float %q", val.Value)
		}
		t := ctypes.Double()
		if ts := d.str(n, "type"); ts != "" {
			t = d.typ(n, ts)
		}
		return FloatConst{Value: v, Typ: t}
	case "string":
		return StringLit{Value: val.Value, Typ: ctypes.Array(ctypes.Char(), int64(len(val.Value)+1))}
	case "ident":
		return d.ident(val)
	case "sizeof":
		t := d.typ(val, val.Value)
		size, err := ctypes.Sizeof(t)
		if err != nil {
			d.fail(val, "sizeof: %v", err)
		}
		return IntConst{Value: size, Typ: ctypes.ULong()}
	case "assign":
		l, r := d.pair(val)
		lhs := d.expr(l)
		return Assign{LHS: lhs, RHS: d.expr(r), Typ: lhs.ExprType()}
	case "preinc", "postinc", "predec", "postdec":
		x := d.expr(val)
		return IncDec{Inc: key[len(key)-3:] == "inc", Prefix: key[:3] == "pre", X: x, Typ: x.ExprType()}
	case "cast":
		return Cast{X: d.expr(val), Typ: d.typ(n, d.str(n, "type"))}
	case "cond":
		if val.Kind != yaml.SequenceNode || len(val.Content) != 3 {
			d.fail(val, "cond takes [condition, then, else]")
		}
		c, a, b := d.expr(val.Content[0]), d.expr(val.Content[1]), d.expr(val.Content[2])
		ta, tb := Decay(a.ExprType()), Decay(b.ExprType())
		t := ta
		if IsArithmetic(ta) && IsArithmetic(tb) {
			t = CommonType(ta, tb)
		} else if ctypes.IsVoid(ta) || ctypes.IsVoid(tb) {
			t = ctypes.Void()
		}
		return Cond{C: c, Then: a, Else: b, Typ: t}
	case "call":
		fn := d.expr(val)
		ft, ok := funcType(fn.ExprType())
		if !ok {
			d.fail(n, "called object is not a function")
		}
		call := Call{Func: fn, Typ: ft.Return}
		if args := get(n, "args"); args != nil {
			for _, a := range args.Content {
				call.Args = append(call.Args, d.expr(a))
			}
		}
		if len(call.Args) < len(ft.Params) || (!ft.VarArg && len(call.Args) > len(ft.Params)) {
			d.fail(n, "wrong number of arguments")
		}
		return call
	case "member", "arrow":
		x := d.expr(val)
		st := x.ExprType()
		if key == "arrow" {
			st = ctypes.Elem(Decay(st))
		}
		name := d.str(n, "field")
		_, f, ok := ctypes.FieldByName(st, name)
		if !ok {
			d.fail(n, "%s has no member %q", st, name)
		}
		return Member{X: x, Name: name, Arrow: key == "arrow", Typ: f.Type}
	case "index":
		a, i := d.pair(val)
		x, idx := d.expr(a), d.expr(i)
		el := ctypes.Elem(Decay(x.ExprType()))
		if el == nil {
			el = ctypes.Elem(Decay(idx.ExprType()))
		}
		if el == nil {
			d.fail(n, "subscripted value is not an array or pointer")
		}
		return Index{X: x, Idx: idx, Typ: el}
	case "comma":
		a, b := d.pair(val)
		x, y := d.expr(a), d.expr(b)
		return Comma{X: x, Y: y, Typ: y.ExprType()}
	case "label_addr":
		return AddrOfLabel{Label: val.Value, Typ: ctypes.Pointer(ctypes.Void())}
	case "builtin":
		return d.builtin(n, val.Value)
	case "real", "imag":
		x := d.expr(val)
		t := x.ExprType()
		if ctypes.IsComplex(t) {
			t = ctypes.ComplexElem(t)
		}
		return ComplexPart{Imag: key == "imag", X: x, Typ: t}
	}
	d.fail(n, "unknown expression %q", key)
	return nil
}

func funcType(t ctypes.Type) (ctypes.Tfunction, bool) {
	if p, ok := t.(ctypes.Tpointer); ok {
		t = p.Elem
	}
	ft, ok := t.(ctypes.Tfunction)
	return ft, ok
}

func (d *decoder) scalar(n *yaml.Node) Expr {
	switch n.Tag {
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			d.fail(n, "bad integer %q", n.Value)
		}
		if v > math.MaxInt32 || v < math.MinInt32 {
			return IntConst{Value: v, Typ: ctypes.Long()}
		}
		return IntConst{Value: v, Typ: ctypes.Int()}
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			d.fail(n, "bad float %q", n.Value)
		}
		return FloatConst{Value: v, Typ: ctypes.Double()}
	case "!!bool":
		if n.Value == "true" {
			return IntConst{Value: 1, Typ: ctypes.Int()}
		}
		return IntConst{Value: 0, Typ: ctypes.Int()}
	}
	return d.ident(n)
}

func (d *decoder) ident(n *yaml.Node) Expr {
	if v, ok := d.enums[n.Value]; ok {
		return IntConst{Value: v, Typ: ctypes.Int()}
	}
	t, ok := d.cur.lookup(n.Value)
	if !ok {
		d.fail(n, "undeclared identifier %q", n.Value)
	}
	return Ident{Name: n.Value, Typ: t}
}

func (d *decoder) unary(n *yaml.Node, op UnaryOp, x Expr) Expr {
	t := x.ExprType()
	switch op {
	case Neg, Plus, BitNot:
		t = Promote(t)
	case LogNot:
		t = ctypes.Int()
	case Deref:
		t = ctypes.Elem(Decay(t))
		if t == nil {
			d.fail(n, "dereference of non-pointer")
		}
	case AddrOf:
		t = ctypes.Pointer(t)
	}
	return Unary{Op: op, X: x, Typ: t}
}

func (d *decoder) binary(n *yaml.Node, op BinaryOp, x, y Expr) Expr {
	tx, ty := Decay(x.ExprType()), Decay(y.ExprType())
	var t ctypes.Type
	switch {
	case op.IsComparison() || op == LogAnd || op == LogOr:
		t = ctypes.Int()
	case op == Shl || op == Shr:
		t = Promote(tx)
	case op == Add && ctypes.IsPointer(tx):
		t = tx
	case op == Add && ctypes.IsPointer(ty):
		t = ty
	case op == Sub && ctypes.IsPointer(tx) && ctypes.IsPointer(ty):
		t = ctypes.Long()
	case op == Sub && ctypes.IsPointer(tx):
		t = tx
	default:
		if !IsArithmetic(tx) || !IsArithmetic(ty) {
			d.fail(n, "invalid operands to %s (%s and %s)", op, tx, ty)
		}
		t = CommonType(tx, ty)
	}
	return Binary{Op: op, X: x, Y: y, Typ: t}
}

var builtinResults = map[string]ctypes.Type{
	"popcount": ctypes.Int(), "popcountl": ctypes.Int(), "popcountll": ctypes.Int(),
	"clz": ctypes.Int(), "clzl": ctypes.Int(), "clzll": ctypes.Int(),
	"ctz": ctypes.Int(), "ctzl": ctypes.Int(), "ctzll": ctypes.Int(),
	"ffs": ctypes.Int(), "ffsl": ctypes.Int(), "ffsll": ctypes.Int(),
	"parity": ctypes.Int(), "parityl": ctypes.Int(), "parityll": ctypes.Int(),
	"bswap16": ctypes.Tint{Size: ctypes.I16, Sign: ctypes.Unsigned},
	"bswap32": ctypes.UInt(), "bswap64": ctypes.ULong(),
	"expect": ctypes.Long(), "unreachable": ctypes.Void(), "trap": ctypes.Void(),
	"va_start": ctypes.Void(), "va_end": ctypes.Void(), "va_copy": ctypes.Void(),
}

// BuiltinName strips the __builtin_ prefix.
func BuiltinName(name string) string {
	const prefix = "__builtin_"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}

func (d *decoder) builtin(n *yaml.Node, name string) Expr {
	b := Builtin{Name: BuiltinName(name)}
	if args := get(n, "args"); args != nil {
		for _, a := range args.Content {
			b.Args = append(b.Args, d.expr(a))
		}
	}
	if b.Name == "va_arg" {
		b.ArgType = d.typ(n, d.str(n, "type"))
		b.Typ = b.ArgType
		return b
	}
	t, ok := builtinResults[b.Name]
	if !ok {
		d.fail(n, "unknown builtin %q", name)
	}
	b.Typ = t
	return b
}

// String renders a position-free summary of a program, used in tests.
func (p *Program) String() string {
	return fmt.Sprintf("%s: %d globals, %d functions", p.Name, len(p.Globals), len(p.Functions))
}
