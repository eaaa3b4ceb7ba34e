package asmgen

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// varTracker follows the named variables of a function through its
// dbgvalue markers and collects the address ranges where each one has
// a known location.
type varTracker struct {
	ctx    *genContext
	list   []asm.DebugVar
	bySlot map[int]int    // local slot -> variable
	params map[string]int // parameter name -> variable
	marked map[int]bool   // variables described by markers
	open   map[int]openRange
	ranges []asm.VarLoc
}

type openRange struct {
	start string
	loc   string
	expr  []byte
	lines int // output length when the range opened
}

func (ctx *genContext) newVarTracker() *varTracker {
	v := &varTracker{
		ctx:    ctx,
		bySlot: make(map[int]int),
		params: make(map[string]int),
		marked: make(map[int]bool),
		open:   make(map[int]openRange),
	}
	for i, l := range ctx.fn.Locals {
		if l.Name == "" || i == ctx.fn.RegSaveSlot {
			continue
		}
		k := len(v.list)
		v.bySlot[i] = k
		if l.Param >= 0 {
			v.params[l.Name] = k
		}
		v.list = append(v.list, asm.DebugVar{Name: l.Name, Param: l.Param >= 0, Type: debugType(l.CType)})
	}
	for _, inst := range ctx.fn.Code {
		if op, ok := inst.(linear.Lop); ok && op.Op == ir.OpDbgValue {
			if k, ok := v.bySlot[op.Slot]; ok {
				v.marked[k] = true
			}
		}
	}
	return v
}

// dbgValue ends the current range of the marker's variable and starts
// a new one when the marker gives a location or a constant.
func (ctx *genContext) dbgValue(in *ltl.Instr) {
	v := ctx.vars
	k, ok := v.bySlot[in.Slot]
	if !ok {
		return
	}
	here := ctx.newLabel()
	ctx.out.AppendLabel(here)
	v.close(k, here)
	r := openRange{start: here, lines: len(ctx.out.Lines)}
	switch {
	case in.HasImm:
		r.loc, r.expr = fmt.Sprintf("$%d", in.Imm), asm.ConstExpr(in.Imm)
	case in.Var != nil:
		r.loc, r.expr = ctx.describe(in.Var)
	default:
		return
	}
	v.open[k] = r
}

// describe renders a location for the comment table and as a DWARF
// expression.
func (ctx *genContext) describe(l ltl.Loc) (string, []byte) {
	switch l := l.(type) {
	case ltl.R:
		return asm.FormatOperand(asm.R64(l.Reg)), asm.RegExpr(l.Reg)
	case ltl.S:
		var m asm.Mem
		switch l.Slot {
		case ltl.SlotSpill:
			m = ctx.frame.SpillMem(l.Index)
		case ltl.SlotLocal:
			m = ctx.frame.LocalMem(l.Index, l.Ofs)
		case ltl.SlotIncoming:
			m = ctx.frame.IncomingMem(l.Ofs)
		default:
			ctx.fail("variable in %s", l)
		}
		return asm.FormatOperand(m), asm.FrameExpr(m.Disp)
	}
	ctx.fail("unknown location %T", l)
	return "", nil
}

// close ends the open range of variable k at label end. Ranges that
// cover no instruction are dropped.
func (v *varTracker) close(k int, end string) {
	r, ok := v.open[k]
	if !ok {
		return
	}
	delete(v.open, k)
	if !slices.ContainsFunc(v.ctx.out.Lines[r.lines:], isCode) {
		return
	}
	v.ranges = append(v.ranges, asm.VarLoc{
		Name:       v.list[k].Name,
		Loc:        r.loc,
		StartLabel: r.start,
		EndLabel:   end,
		Var:        k,
		Expr:       r.expr,
	})
}

func (v *varTracker) closeAll(end string) {
	keys := lo.Keys(v.open)
	slices.Sort(keys)
	for _, k := range keys {
		v.close(k, end)
	}
}

func isCode(l asm.Line) bool {
	switch l.(type) {
	case asm.Instr, asm.Raw:
		return true
	}
	return false
}

// debugType describes a C type to the debugger. Aggregates and wide
// integers are named but not described.
func debugType(t ctypes.Type) asm.DebugType {
	if t == nil {
		return asm.DebugType{Name: "void"}
	}
	size, _ := ctypes.Sizeof(t)
	d := asm.DebugType{Name: t.String(), Size: size}
	switch {
	case ctypes.IsBool(t):
		d.Encoding = asm.EncBoolean
	case ctypes.IsPointer(t):
		d.Encoding = asm.EncAddress
	case ctypes.IsFloat(t):
		d.Encoding = asm.EncFloat
	case !ctypes.IsInteger(t) || ctypes.IsWideBitInt(t):
	case ctypes.IsSigned(t):
		d.Encoding = asm.EncSigned
	default:
		d.Encoding = asm.EncUnsigned
	}
	return d
}
