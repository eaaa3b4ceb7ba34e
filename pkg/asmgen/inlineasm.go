package asmgen

import (
	"strconv"
	"strings"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// operandSizes maps size modifiers to register widths.
var operandSizes = map[byte]int64{'b': 1, 'w': 2, 'k': 4, 'd': 4, 'q': 8}

// inlineAsm emits an asm statement with its operands substituted. Tied
// outputs receive their input value first.
func (ctx *genContext) inlineAsm(in *ltl.Instr, labels []linear.Label) {
	st := in.Asm
	if st == nil {
		ctx.fail("asm without statement")
	}
	for res, arg := range st.TiedArgs() {
		if res >= len(in.Results) || arg >= len(in.Args) {
			ctx.fail("tied asm operand out of range")
		}
		out := in.Results[res]
		if out == ltl.NoReg || out == in.Args[arg] {
			continue
		}
		t := ir.I64
		if in.ArgTypes[arg].IsFloat() {
			t = in.ArgTypes[arg]
		}
		ctx.move(out, in.Args[arg], t)
	}
	ctx.asmCount++
	s := &asmSubst{ctx: ctx, in: in, labels: labels, unique: ctx.opts.ID*1000 + ctx.asmCount}
	text, err := s.expand(st.Template)
	if err != nil {
		panic(diag.InFunc(err, ctx.fn.Name))
	}
	ctx.emit(asm.Comment{Text: "APP"}, asm.Raw{Text: text}, asm.Comment{Text: "NO_APP"})
}

// asmSubst expands the operand references of one asm template.
type asmSubst struct {
	ctx    *genContext
	in     *ltl.Instr
	labels []linear.Label
	unique int
}

func (s *asmSubst) errorf(format string, args ...any) error {
	return diag.Userf(s.in.Pos, format, args...)
}

// expand substitutes %N, %[name], %lN, %%, %= and the size modifiers.
func (s *asmSubst) expand(tmpl string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(tmpl) {
			return "", s.errorf("asm template ends with '%%'")
		}
		switch tmpl[i] {
		case '%':
			b.WriteByte('%')
			continue
		case '=':
			b.WriteString(strconv.Itoa(s.unique))
			continue
		}
		var mod byte
		if c := tmpl[i]; c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			mod = c
			i++
		}
		n, next, err := s.reference(tmpl, i, mod == 'l')
		if err != nil {
			return "", err
		}
		i = next - 1
		text, err := s.operand(n, mod)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// reference parses an operand number or [name] at tmpl[i:]. For label
// references names are looked up among the goto labels.
func (s *asmSubst) reference(tmpl string, i int, isLabel bool) (n, next int, err error) {
	st := s.in.Asm
	if i < len(tmpl) && tmpl[i] == '[' {
		end := strings.IndexByte(tmpl[i:], ']')
		if end < 0 {
			return 0, 0, s.errorf("unterminated operand name in asm template")
		}
		name := tmpl[i+1 : i+end]
		if isLabel {
			for k, l := range st.GotoLabels {
				if l == name {
					return len(st.Operands) + k, i + end + 1, nil
				}
			}
		}
		for k, o := range st.Operands {
			if o.Name == name {
				return k, i + end + 1, nil
			}
		}
		return 0, 0, s.errorf("undefined asm operand name %q", name)
	}
	j := i
	for j < len(tmpl) && tmpl[j] >= '0' && tmpl[j] <= '9' {
		j++
	}
	if j == i {
		return 0, 0, s.errorf("invalid operand reference in asm template")
	}
	n, _ = strconv.Atoi(tmpl[i:j])
	return n, j, nil
}

// operand renders operand n under a modifier.
func (s *asmSubst) operand(n int, mod byte) (string, error) {
	st := s.in.Asm
	if mod == 'l' {
		k := n - len(st.Operands)
		if k < 0 || k >= len(s.labels) {
			return "", s.errorf("asm label operand %d out of range", n)
		}
		return s.ctx.blockLabel(s.labels[k]), nil
	}
	if n < 0 || n >= len(st.Operands) {
		return "", s.errorf("asm operand %d out of range", n)
	}
	o := st.Operands[n]
	switch {
	case o.IsImmediate():
		if mod == 'c' || mod == 'P' {
			return strconv.FormatInt(o.Imm, 10), nil
		}
		return asm.FormatOperand(imm(o.Imm)), nil
	case o.IsMemory():
		if o.Arg < 0 || o.Arg >= len(s.in.Args) {
			return "", s.errorf("asm memory operand %d has no address", n)
		}
		return asm.FormatOperand(asm.Base(s.in.Args[o.Arg], 0)), nil
	}

	r := ltl.NoReg
	switch {
	case o.Output && o.Result >= 0 && o.Result < len(s.in.Results):
		r = s.in.Results[o.Result]
	case !o.Output && st.TiedInput(n) >= 0:
		out := st.Operands[st.TiedInput(n)]
		if out.Result >= 0 && out.Result < len(s.in.Results) {
			r = s.in.Results[out.Result]
		}
	case !o.Output && o.Arg >= 0 && o.Arg < len(s.in.Args):
		r = s.in.Args[o.Arg]
	}
	if r == ltl.NoReg {
		return "", diag.Internalf(s.ctx.fn.Name, s.ctx.instr, "asm operand %d has no register", n)
	}
	size := operandSize(o.Type)
	if w, ok := operandSizes[mod]; ok {
		size = w
	} else if mod != 0 {
		return "", diag.NotImplemented(s.in.Pos, "asm operand modifier %q", string(mod))
	}
	return asm.FormatOperand(regSized(r, size)), nil
}

// operandSize is the register width an operand of type t prints with.
func operandSize(t ctypes.Type) int64 {
	size, err := ctypes.Sizeof(t)
	if err != nil || size > 8 {
		return 8
	}
	switch size {
	case 1, 2, 4:
		return size
	}
	return 8
}
