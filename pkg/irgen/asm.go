package irgen

import (
	"strings"

	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// asmModifiers splits the '=', '+' and '&' modifiers off a constraint.
func asmModifiers(c string) (rest string, output, readWrite, early bool) {
	var sb strings.Builder
	for _, r := range c {
		switch r {
		case '=':
			output = true
		case '+':
			output, readWrite = true, true
		case '&':
			early = true
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String(), output, readWrite, early
}

// inlineAsm lowers an extended asm statement. Register outputs are
// results of the asm instruction, read back with OpProject and stored
// to their lvalues; memory operands pass the object's address.
func (b *builder) inlineAsm(s ast.InlineAsm) {
	stmt := &ir.AsmStmt{
		Template:   s.Template,
		Clobbers:   s.Clobbers,
		GotoLabels: s.Labels,
		Volatile:   s.Volatile || len(s.Outputs) == 0,
	}
	var args []ir.Ref
	var results []lvalue

	for _, o := range s.Outputs {
		c, _, rw, early := asmModifiers(o.Constraint)
		lv := b.lval(o.X)
		op := ir.AsmOperand{Name: o.Name, Constraint: c, Output: true, ReadWrite: rw, EarlyClob: early,
			Type: lv.ty, Arg: -1, Result: -1}
		if c == "" {
			b.fail("empty constraint for asm output %d", len(stmt.Operands))
		}
		if op.IsMemory() {
			op.Arg = len(args)
			args = append(args, lv.address(b))
		} else {
			if ir.InMemory(lv.ty) {
				b.fail("asm output of type %s cannot live in a register", lv.ty)
			}
			if rw {
				op.Arg = len(args)
				args = append(args, b.load(lv).ref)
			}
			op.Result = len(results)
			results = append(results, lv)
		}
		stmt.Operands = append(stmt.Operands, op)
	}
	if len(results) > 0 && len(s.Labels) > 0 {
		b.notImplemented("asm goto with register outputs")
	}

	for _, in := range s.Inputs {
		c, out, _, _ := asmModifiers(in.Constraint)
		if out {
			b.fail("input constraint %q has an output modifier", in.Constraint)
		}
		op := ir.AsmOperand{Name: in.Name, Constraint: c, Type: in.X.ExprType(), Arg: -1, Result: -1}
		switch {
		case op.IsImmediate():
			v := b.eval(in.X)
			k, ok := b.constOf(v.ref)
			if !ok {
				b.fail("impossible constraint %q: operand is not a constant", c)
			}
			op.Imm = k
		case op.IsMemory():
			op.Arg = len(args)
			args = append(args, b.asmMemOperand(in.X))
		default:
			v := b.eval(in.X)
			if ir.InMemory(v.ty) {
				b.fail("asm input of type %s cannot live in a register", v.ty)
			}
			op.Type = v.ty
			op.Arg = len(args)
			args = append(args, v.ref)
		}
		stmt.Operands = append(stmt.Operands, op)
	}

	in := ir.Instr{Op: ir.OpInlineAsm, Args: args, Payload: ir.Payload{Asm: stmt, Volatile: stmt.Volatile}}
	var fall ir.LabelID
	if len(s.Labels) > 0 {
		fall = b.newLabel()
		in.Targets = append(in.Targets, fall)
		for _, name := range s.Labels {
			if _, ok := b.usedLabels[name]; !ok {
				b.usedLabels[name] = s.Pos
			}
			in.Targets = append(in.Targets, b.label(name))
		}
	}
	r := b.emit(in)
	if len(s.Labels) > 0 {
		b.place(fall)
	}
	for i, lv := range results {
		p := b.emit(ir.Instr{Op: ir.OpProject, Type: ir.ValueType(lv.ty), Args: []ir.Ref{r}, Payload: ir.Payload{Imm: int64(i)}})
		if ctypes.IsInteger(lv.ty) {
			p = b.normalize(p, lv.ty)
		}
		b.store(lv, scalar(lv.ty, p))
	}
}

// asmMemOperand returns the address of a memory input, spilling
// rvalues to a temporary.
func (b *builder) asmMemOperand(x ast.Expr) ir.Ref {
	switch x := x.(type) {
	case ast.Ident, ast.Index, ast.Member, ast.StringLit:
		return b.lval(x).address(b)
	case ast.Unary:
		if x.Op == ast.Deref {
			return b.lval(x).address(b)
		}
	}
	v := b.eval(x)
	if ir.InMemory(v.ty) {
		return b.materialize(v)
	}
	tmp := b.temp(v.ty)
	b.storeValue(tmp, 0, v.ty, v)
	return tmp
}
