package selection

import (
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// fixedConstraint maps single-register constraint letters.
var fixedConstraint = map[byte]ltl.MReg{
	'a': ltl.RAX, 'b': ltl.RBX, 'c': ltl.RCX, 'd': ltl.RDX, 'S': ltl.RSI, 'D': ltl.RDI,
}

// AsmConstraint is the register requirement of one asm operand.
type AsmConstraint struct {
	Class ltl.RegClass
	Reg   ltl.MReg // NoReg when any register of Class will do
	Tied  int      // output operand whose register an input shares, or -1
}

// ParseConstraint decodes a register constraint. Alternatives are
// resolved by taking the first register letter.
func ParseConstraint(c string) (AsmConstraint, error) {
	for i := 0; i < len(c); i++ {
		ch := c[i]
		switch {
		case ch >= '0' && ch <= '9':
			n := 0
			for ; i < len(c) && c[i] >= '0' && c[i] <= '9'; i++ {
				n = n*10 + int(c[i]-'0')
			}
			return AsmConstraint{Class: ltl.ClassGP, Tied: n}, nil
		case fixedConstraint[ch] != ltl.NoReg:
			return AsmConstraint{Class: ltl.ClassGP, Reg: fixedConstraint[ch], Tied: -1}, nil
		case strings.IndexByte("rqRlgQ", ch) >= 0:
			return AsmConstraint{Class: ltl.ClassGP, Tied: -1}, nil
		case strings.IndexByte("xvY", ch) >= 0:
			return AsmConstraint{Class: ltl.ClassSSE, Tied: -1}, nil
		case strings.IndexByte("tufA", ch) >= 0:
			return AsmConstraint{}, diag.NotImplemented(diag.Pos{}, "asm constraint %q", c)
		}
	}
	return AsmConstraint{}, diag.Userf(diag.Pos{}, "impossible asm constraint %q", c)
}

// ClobberMask decodes the clobber list of an asm statement. "memory"
// and "cc" need nothing at this level.
func ClobberMask(clobbers []string) (ltl.RegMask, error) {
	var m ltl.RegMask
	for _, c := range clobbers {
		name := strings.TrimPrefix(c, "%")
		if name == "memory" || name == "cc" {
			continue
		}
		r, ok := RegisterByName(name)
		if !ok {
			return 0, diag.Userf(diag.Pos{}, "unknown register name %q in asm clobber list", c)
		}
		m = m.With(r)
	}
	return m, nil
}

// RegisterByName resolves any width of a register name.
func RegisterByName(name string) (ltl.MReg, bool) {
	for r := ltl.RAX; r < ltl.NumRegs; r++ {
		for _, size := range []int64{1, 2, 4, 8} {
			if r.Name(size) == name {
				return r, true
			}
		}
	}
	return ltl.NoReg, false
}

// selectAsm binds the register operands of an inline asm statement.
// Inputs with a fixed register are copied into pinned values; register
// outputs become projections placed right after the statement, one per
// output, pinned when the constraint names a register.
func (ctx *SelectionContext) selectAsm(in *ssa.Instr) {
	st := in.Asm
	fail := func(err error) {
		panic(diag.InFunc(withPos(err, in.Pos), ctx.f.Name))
	}
	clob, err := ClobberMask(st.Clobbers)
	if err != nil {
		fail(err)
	}
	in.Clobbers = clob

	outputs := lo.Filter(st.Operands, func(o ir.AsmOperand, _ int) bool { return o.Output })
	results := make([]ltl.MReg, 0, len(outputs))
	resultTypes := make(map[int]ir.Type)
	for i, o := range st.Operands {
		if o.IsImmediate() || o.IsMemory() {
			continue
		}
		c, err := ParseConstraint(o.Constraint)
		if err != nil {
			fail(err)
		}
		if c.Tied >= 0 {
			if o.Output || c.Tied >= len(outputs) || outputs[c.Tied].Result < 0 {
				fail(diag.Userf(in.Pos, "matching constraint %q does not refer to a register output", o.Constraint))
			}
			tc, err := ParseConstraint(outputs[c.Tied].Constraint)
			if err != nil {
				fail(err)
			}
			c = tc
		}
		t := ir.ValueType(o.Type)
		if (c.Class == ltl.ClassSSE) != t.IsFloat() {
			fail(diag.Userf(in.Pos, "asm operand %d of type %s cannot use constraint %q", i, o.Type, o.Constraint))
		}
		if o.Arg >= 0 && c.Reg != ltl.NoReg {
			in.Args[o.Arg] = ctx.pin(in.Args[o.Arg], c.Reg)
		}
		if o.Result >= 0 {
			for len(results) <= o.Result {
				results = append(results, ltl.NoReg)
			}
			results[o.Result] = c.Reg
			resultTypes[o.Result] = t
		}
	}
	ctx.emit(in)

	existing := make(map[int]*ssa.Instr)
	for _, id := range ctx.cur.Instrs {
		p := ctx.f.Instrs[id]
		if p.Op == ir.OpProject && len(p.Args) == 1 && p.Args[0] == in.ID {
			existing[int(p.Imm)] = p
		}
	}
	for k, reg := range results {
		p, ok := existing[k]
		if !ok {
			// the asm writes the register whether or not the value is used
			p = ctx.newInstr(ir.OpProject, resultTypes[k], in.ID)
			p.Imm = int64(k)
		}
		p.Fixed = reg
		ctx.emit(p)
	}
}

func withPos(err error, pos diag.Pos) error {
	var e *diag.Error
	if errors.As(err, &e) && !e.Pos.IsValid() {
		c := *e
		c.Pos = pos
		return &c
	}
	return err
}
