package ssa

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// Evaluator errors.
var (
	ErrTrap      = errors.New("trap")
	ErrStepLimit = errors.New("step limit exceeded")
	ErrMemory    = errors.New("memory access out of bounds")
)

const (
	memBase    = 0x1000
	memLimit   = 64 << 20
	funcBase   = 0x1_0000_0000
	labelBase  = 0x2_0000_0000
	maxDepth   = 4096
	defaultMax = 50_000_000
)

// Extern implements an external function for the evaluator. Arguments
// arrive as raw 64-bit values: integers sign-extended, floats as the
// bits of a float64.
type Extern func(m *Machine, args []uint64) (uint64, error)

// Program is a set of functions and data the evaluator can run.
type Program struct {
	Funcs   map[string]*Func
	Globals []*ir.Global
	Externs map[string]Extern
}

// NewProgram collects functions and globals.
func NewProgram(globals []*ir.Global, funcs []*Func) *Program {
	p := &Program{Funcs: make(map[string]*Func), Globals: globals, Externs: make(map[string]Extern)}
	for _, f := range funcs {
		p.Funcs[f.Name] = f
	}
	return p
}

// Machine interprets a Program on a flat little-endian memory. It is
// the reference semantics the optimizer is checked against.
type Machine struct {
	prog     *Program
	mem      []byte
	sp       uint64
	globals  map[string]uint64
	funcAddr map[string]uint64
	funcName map[uint64]string
	depth    int
	steps    int

	// MaxSteps bounds the number of executed instructions.
	MaxSteps int
}

// NewMachine lays out the program's globals and relocations.
func NewMachine(p *Program) (*Machine, error) {
	m := &Machine{
		prog:     p,
		sp:       memBase,
		globals:  make(map[string]uint64),
		funcAddr: make(map[string]uint64),
		funcName: make(map[uint64]string),
		MaxSteps: defaultMax,
	}
	next := uint64(funcBase)
	addFunc := func(name string) {
		if _, ok := m.funcAddr[name]; ok {
			return
		}
		m.funcAddr[name] = next
		m.funcName[next] = name
		next += 16
	}
	for name := range p.Funcs {
		addFunc(name)
	}
	for name := range p.Externs {
		addFunc(name)
	}
	for _, g := range p.Globals {
		size := max(g.Size, 1)
		addr, err := m.alloc(size, max(g.Align, 1))
		if err != nil {
			return nil, err
		}
		m.globals[g.Name] = addr
		if g.Init != nil {
			if err := m.Write(addr, g.Init); err != nil {
				return nil, err
			}
		}
	}
	for _, g := range p.Globals {
		for _, r := range g.Relocs {
			target, err := m.symbol(r.Sym)
			if err != nil {
				return nil, err
			}
			if err := m.store(m.globals[g.Name]+uint64(r.Off), ir.M64, target+uint64(r.Addend)); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Global returns the address of a global.
func (m *Machine) Global(name string) (uint64, bool) {
	a, ok := m.globals[name]
	return a, ok
}

func (m *Machine) symbol(name string) (uint64, error) {
	if a, ok := m.globals[name]; ok {
		return a, nil
	}
	if a, ok := m.funcAddr[name]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("undefined symbol %s", name)
}

func (m *Machine) alloc(size, align int64) (uint64, error) {
	addr := uint64(ctypes.AlignUp(int64(m.sp), align))
	end := addr + uint64(size)
	if end-memBase > memLimit {
		return 0, fmt.Errorf("%w: out of memory", ErrMemory)
	}
	if n := int(end - memBase); n > len(m.mem) {
		m.mem = append(m.mem, make([]byte, n-len(m.mem))...)
	}
	clear(m.mem[addr-memBase : end-memBase])
	m.sp = end
	return addr, nil
}

// Alloc reserves zeroed memory that lives until the machine is dropped.
func (m *Machine) Alloc(size, align int64) (uint64, error) { return m.alloc(size, align) }

func (m *Machine) span(addr uint64, n int64) ([]byte, error) {
	if addr < memBase || addr-memBase+uint64(n) > uint64(len(m.mem)) {
		return nil, fmt.Errorf("%w: %#x+%d", ErrMemory, addr, n)
	}
	return m.mem[addr-memBase : addr-memBase+uint64(n)], nil
}

// Read returns a copy of n bytes at addr.
func (m *Machine) Read(addr uint64, n int64) ([]byte, error) {
	b, err := m.span(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write stores b at addr.
func (m *Machine) Write(addr uint64, b []byte) error {
	dst, err := m.span(addr, int64(len(b)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (m *Machine) load(addr uint64, k ir.MemKind, signed bool) (uint64, error) {
	b, err := m.span(addr, k.Size())
	if err != nil {
		return 0, err
	}
	switch k {
	case ir.M8:
		if signed {
			return uint64(int8(b[0])), nil
		}
		return uint64(b[0]), nil
	case ir.M16:
		v := binary.LittleEndian.Uint16(b)
		if signed {
			return uint64(int16(v)), nil
		}
		return uint64(v), nil
	case ir.M32:
		v := binary.LittleEndian.Uint32(b)
		if signed {
			return uint64(int32(v)), nil
		}
		return uint64(v), nil
	case ir.MF32:
		return math.Float64bits(float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Machine) store(addr uint64, k ir.MemKind, v uint64) error {
	b, err := m.span(addr, k.Size())
	if err != nil {
		return err
	}
	switch k {
	case ir.M8:
		b[0] = byte(v)
	case ir.M16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case ir.M32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case ir.MF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(math.Float64frombits(v))))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

// Call runs a function. A memory-resident result is copied into fresh
// memory whose address is returned.
func (m *Machine) Call(name string, args ...uint64) (uint64, error) {
	m.steps = 0
	f, ok := m.prog.Funcs[name]
	if !ok {
		return 0, fmt.Errorf("undefined function %s", name)
	}
	r, err := m.run(f, args)
	if err != nil || !ir.InMemory(f.Type.Return) {
		return r, err
	}
	size, err := ctypes.Sizeof(f.Type.Return)
	if err != nil {
		return 0, err
	}
	data, err := m.Read(r, size)
	if err != nil {
		return 0, err
	}
	buf, err := m.alloc(size, 16)
	if err != nil {
		return 0, err
	}
	return buf, m.Write(buf, data)
}

func (m *Machine) invoke(name string, args []uint64) (uint64, error) {
	if f, ok := m.prog.Funcs[name]; ok {
		return m.run(f, args)
	}
	if ext, ok := m.prog.Externs[name]; ok {
		return ext(m, args)
	}
	return 0, fmt.Errorf("undefined function %s", name)
}

func (m *Machine) run(f *Func, args []uint64) (result uint64, err error) {
	if m.depth >= maxDepth {
		return 0, fmt.Errorf("%s: call depth exceeds %d", f.Name, maxDepth)
	}
	m.depth++
	saved := m.sp
	defer func() {
		m.sp = saved
		m.depth--
		if err != nil {
			err = fmt.Errorf("%s: %w", f.Name, err)
		}
	}()

	slots := make([]uint64, len(f.Locals))
	for i, l := range f.Locals {
		if slots[i], err = m.alloc(max(l.Size, 1), max(l.Align, 1)); err != nil {
			return 0, err
		}
	}
	vals := make([]uint64, len(f.Instrs))
	prev, cur := -1, f.Entry
	for {
		b := f.Blocks[cur]
		if prev >= 0 {
			// phis read their operands simultaneously
			j := -1
			for k, p := range b.Preds {
				if p == prev {
					j = k
					break
				}
			}
			phis := f.Phis(b)
			in := make([]uint64, len(phis))
			for k, phi := range phis {
				in[k] = vals[phi.Args[j]]
			}
			for k, phi := range phis {
				vals[phi.ID] = in[k]
			}
		}
		next := -1
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op == ir.OpPhi {
				continue
			}
			m.steps++
			if m.steps > m.MaxSteps {
				return 0, ErrStepLimit
			}
			arg := func(i int) uint64 { return vals[in.Args[i]] }
			switch in.Op {
			case ir.OpJump:
				next = b.Succs[0]
			case ir.OpBranch:
				next = b.Succs[1]
				if arg(0) != 0 {
					next = b.Succs[0]
				}
			case ir.OpCmpBranch:
				next = b.Succs[1]
				if compare(in.Cond, f.Instrs[in.Args[0]].Type, arg(0), arg(1)) {
					next = b.Succs[0]
				}
			case ir.OpJumpTable:
				next = b.Succs[0]
				if idx := arg(0); idx < uint64(len(b.Succs)-1) {
					next = b.Succs[1+idx]
				}
			case ir.OpIndirectJump:
				t := int(arg(0) - labelBase)
				if arg(0) < labelBase || t >= len(f.Blocks) || f.Blocks[t].Dead {
					return 0, fmt.Errorf("computed goto to %#x", arg(0))
				}
				next = t
			case ir.OpReturn:
				if len(in.Args) == 0 {
					return 0, nil
				}
				return arg(0), nil
			case ir.OpUnreachable, ir.OpTrap:
				return 0, ErrTrap
			default:
				v, err := m.exec(f, in, vals, slots, args)
				if err != nil {
					return 0, fmt.Errorf("%%%d %s: %w", in.ID, in.Op, err)
				}
				vals[id] = v
			}
		}
		if next < 0 {
			return 0, fmt.Errorf("block b%d has no terminator", b.ID)
		}
		prev, cur = b.ID, next
	}
}

func (m *Machine) exec(f *Func, in *Instr, vals, slots, params []uint64) (uint64, error) {
	arg := func(i int) uint64 { return vals[in.Args[i]] }
	argType := func(i int) ir.Type { return f.Instrs[in.Args[i]].Type }
	norm := func(v int64) uint64 { return uint64(ir.Normalize(in.Type, v)) }
	switch in.Op {
	case ir.OpIntConst:
		return norm(in.Imm), nil
	case ir.OpFloatConst:
		return floatBits(in.Type, in.Float), nil
	case ir.OpGlobalAddr:
		a, err := m.symbol(in.Sym)
		return a + uint64(in.Off), err
	case ir.OpLocalAddr:
		return slots[in.Slot], nil
	case ir.OpLabelAddr:
		return labelBase + uint64(in.Target), nil
	case ir.OpParam:
		if int(in.Imm) >= len(params) {
			return 0, fmt.Errorf("parameter %d not passed", in.Imm)
		}
		v := params[in.Imm]
		if in.Type.IsInt() {
			v = norm(int64(v))
		} else if in.Type == ir.F32 {
			v = floatBits(ir.F32, math.Float64frombits(v))
		}
		return v, nil
	case ir.OpCopy:
		return arg(0), nil
	case ir.OpCmp:
		return uint64(b2i(compare(in.Cond, argType(0), arg(0), arg(1)))), nil
	case ir.OpInsertBits:
		return norm(ir.InsertBits(int64(arg(0)), int64(arg(1)), in.Offset, in.Width)), nil
	case ir.OpBitcast:
		switch {
		case in.Type == ir.F32 && argType(0).IsInt():
			return math.Float64bits(float64(math.Float32frombits(uint32(arg(0))))), nil
		case in.Type == ir.I32 && argType(0) == ir.F32:
			return norm(int64(math.Float32bits(float32(math.Float64frombits(arg(0)))))), nil
		}
		return arg(0), nil
	case ir.OpIntToFloat:
		x := int64(arg(0))
		var v float64
		switch {
		case in.Signed:
			v = float64(x)
		case argType(0) == ir.I32:
			v = float64(uint32(x))
		default:
			v = float64(uint64(x))
		}
		if in.Type == ir.F32 {
			// round once from the integer, not through float64
			switch {
			case in.Signed:
				v = float64(float32(x))
			case argType(0) == ir.I32:
				v = float64(float32(uint32(x)))
			default:
				v = float64(float32(uint64(x)))
			}
		}
		return floatBits(in.Type, v), nil
	case ir.OpFloatToInt:
		x := math.Float64frombits(arg(0))
		switch {
		case in.Signed && in.Type == ir.I32:
			return norm(int64(int32(x))), nil
		case in.Signed:
			return uint64(int64(x)), nil
		case in.Type == ir.I32:
			return norm(int64(uint32(x))), nil
		}
		return uint64(x), nil
	case ir.OpFloatConv:
		return floatBits(in.Type, math.Float64frombits(arg(0))), nil
	case ir.OpFNeg:
		return floatBits(in.Type, -math.Float64frombits(arg(0))), nil
	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		r, _ := ir.FoldFloat(in.Op, in.Type, math.Float64frombits(arg(0)), math.Float64frombits(arg(1)))
		return floatBits(in.Type, r), nil
	case ir.OpLoad:
		v, err := m.load(arg(0)+uint64(in.Off), in.Mem, in.Signed)
		if in.Type.IsInt() {
			v = norm(int64(v))
		}
		return v, err
	case ir.OpStore:
		return 0, m.store(arg(0)+uint64(in.Off), in.Mem, arg(1))
	case ir.OpMemcpy:
		src, err := m.Read(arg(1), in.Imm)
		if err != nil {
			return 0, err
		}
		return 0, m.Write(arg(0), src)
	case ir.OpZeroMem:
		return 0, m.Write(arg(0), make([]byte, in.Imm))
	case ir.OpX87:
		addrs := make([]uint64, len(in.Args))
		for i := range addrs {
			addrs[i] = arg(i)
		}
		return m.x87(in, addrs)
	case ir.OpCall:
		return m.call(in, vals)
	case ir.OpDbgValue:
		return 0, nil
	case ir.OpVaStart, ir.OpInlineAsm, ir.OpProject:
		return 0, fmt.Errorf("%s is not supported by the evaluator", in.Op)
	}
	if in.Type.IsInt() {
		switch len(in.Args) {
		case 1:
			if r, ok := ir.FoldUnary(in.Op, in.Type, &in.Payload, int64(arg(0))); ok {
				return uint64(r), nil
			}
			return 0, fmt.Errorf("%w: %s of zero", ErrTrap, in.Op)
		case 2:
			if r, ok := ir.FoldBinary(in.Op, in.Type, int64(arg(0)), int64(arg(1))); ok {
				return uint64(r), nil
			}
			if in.Op.IsDivision() {
				return 0, fmt.Errorf("%w: integer division overflow", ErrTrap)
			}
		}
	}
	return 0, fmt.Errorf("cannot evaluate %s", in.Op)
}

func (m *Machine) call(in *Instr, vals []uint64) (uint64, error) {
	site := in.Call
	args := make([]uint64, 0, len(in.Args))
	for _, a := range in.Args[site.ArgBase():] {
		args = append(args, vals[a])
	}
	var retBuf uint64
	if site.RetBuf {
		retBuf = args[len(args)-1]
		args = args[:len(args)-1]
	}
	name := site.Sym
	if name == "" {
		addr := vals[in.Args[0]]
		var ok bool
		if name, ok = m.funcName[addr]; !ok {
			return 0, fmt.Errorf("call through %#x", addr)
		}
	}
	r, err := m.invoke(name, args)
	if err != nil || !site.RetBuf {
		if in.Type.IsInt() {
			r = uint64(ir.Normalize(in.Type, int64(r)))
		}
		return r, err
	}
	size, err := ctypes.Sizeof(site.Func.Return)
	if err != nil {
		return 0, err
	}
	data, err := m.Read(r, size)
	if err != nil {
		return 0, err
	}
	return 0, m.Write(retBuf, data)
}

func compare(c ir.Cond, t ir.Type, a, b uint64) bool {
	if t.IsFloat() {
		return c.EvalFloat(math.Float64frombits(a), math.Float64frombits(b))
	}
	return c.Eval(int64(a), int64(b))
}

func floatBits(t ir.Type, v float64) uint64 {
	if t == ir.F32 {
		v = float64(float32(v))
	}
	return math.Float64bits(v)
}
