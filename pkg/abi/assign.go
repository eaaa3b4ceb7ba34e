package abi

import (
	"sync"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

// Sizes of the variadic register save area and va_list.
const (
	RegSaveGPSize  = 6 * 8
	RegSaveSSESize = 8 * 16
	RegSaveSize    = RegSaveGPSize + RegSaveSSESize // 176
	VaListSize     = 24
	VaListAlign    = 8
)

// ArgInfo describes where one argument or return value lives.
type ArgInfo struct {
	Type        ctypes.Type
	Size        int64
	Align       int64
	Classes     []Class
	Regs        []ltl.MReg // one per eightbyte when passed in registers
	OnStack     bool
	StackOffset int64 // offset within the argument area when OnStack
	Ignored     bool  // empty type, nothing is passed
}

// InRegs reports whether the value travels in registers.
func (a ArgInfo) InRegs() bool { return len(a.Regs) > 0 }

// FuncInfo is the calling convention of one function type (or one
// call site of a variadic function).
type FuncInfo struct {
	Params      []ArgInfo
	Return      ArgInfo
	RetInMemory bool // caller passes a buffer in rdi, callee returns it in rax
	RetX87      bool // long double return in st(0), unsupported by the backend
	UsedGP      int  // GP registers taken by named arguments
	UsedSSE     int  // SSE registers taken by named arguments
	StackSize   int64
	VarArg      bool
}

// Analyze computes the calling convention of a function type.
func Analyze(fn ctypes.Tfunction) (*FuncInfo, error) {
	return AnalyzeCall(fn, fn.Params)
}

// AnalyzeCall computes the convention for a call passing arguments of
// the given types. For variadic functions argTypes extends the named
// parameters with the promoted types of the extra arguments.
func AnalyzeCall(fn ctypes.Tfunction, argTypes []ctypes.Type) (*FuncInfo, error) {
	info := &FuncInfo{VarArg: fn.VarArg}
	gp, sse := 0, 0

	if !ctypes.IsVoid(fn.Return) {
		ret, err := describe(fn.Return)
		if err != nil {
			return nil, err
		}
		switch {
		case ret.Ignored:
		case InMemory(ret.Classes) || (len(ret.Classes) > 0 && ret.Classes[0] == ComplexX87):
			info.RetInMemory = true
			ret.Regs = nil
			gp = 1 // rdi carries the buffer address
		case ret.Classes[0] == X87:
			info.RetX87 = true
		default:
			ni, ns := 0, 0
			for _, c := range ret.Classes {
				switch c {
				case Integer:
					ret.Regs = append(ret.Regs, ltl.IntRetRegs[ni])
					ni++
				case SSE:
					ret.Regs = append(ret.Regs, ltl.FloatRetRegs[ns])
					ns++
				case SSEUp:
					// shares the previous SSE register
				}
			}
		}
		info.Return = ret
	} else {
		info.Return = ArgInfo{Type: fn.Return, Ignored: true}
	}

	if len(fn.Params) == 0 {
		info.UsedGP, info.UsedSSE = gp, sse
	}
	var stack int64
	for i, t := range argTypes {
		arg, err := describe(t)
		if err != nil {
			return nil, err
		}
		if !arg.Ignored {
			needGP, needSSE := 0, 0
			mem := InMemory(arg.Classes)
			for _, c := range arg.Classes {
				switch c {
				case Integer:
					needGP++
				case SSE:
					needSSE++
				case X87, X87Up, ComplexX87:
					mem = true
				}
			}
			if !mem && gp+needGP <= len(ltl.IntArgRegs) && sse+needSSE <= len(ltl.FloatArgRegs) {
				for _, c := range arg.Classes {
					switch c {
					case Integer:
						arg.Regs = append(arg.Regs, ltl.IntArgRegs[gp])
						gp++
					case SSE:
						arg.Regs = append(arg.Regs, ltl.FloatArgRegs[sse])
						sse++
					}
				}
			} else {
				align := max(arg.Align, 8)
				stack = ctypes.AlignUp(stack, align)
				arg.OnStack = true
				arg.StackOffset = stack
				stack += ctypes.AlignUp(arg.Size, 8)
			}
		}
		info.Params = append(info.Params, arg)
		if i == len(fn.Params)-1 {
			info.UsedGP, info.UsedSSE = gp, sse
		}
	}
	info.StackSize = stack
	return info, nil
}

// NamedStackSize returns the stack bytes taken by named parameters,
// where a variadic callee finds its first anonymous stack argument.
func (f *FuncInfo) NamedStackSize(named int) int64 {
	var end int64
	for _, p := range f.Params[:min(named, len(f.Params))] {
		if p.OnStack {
			end = max(end, p.StackOffset+ctypes.AlignUp(p.Size, 8))
		}
	}
	return end
}

// SSECount returns the number of SSE registers used by all arguments,
// the value a variadic call places in %al.
func (f *FuncInfo) SSECount() int {
	n := 0
	for _, p := range f.Params {
		for _, r := range p.Regs {
			if r.IsFloat() {
				n++
			}
		}
	}
	return n
}

func describe(t ctypes.Type) (ArgInfo, error) {
	l, err := ctypes.LayoutOf(t)
	if err != nil {
		return ArgInfo{}, err
	}
	classes, err := Classify(t)
	if err != nil {
		return ArgInfo{}, err
	}
	return ArgInfo{
		Type:    t,
		Size:    l.Size,
		Align:   l.Align,
		Classes: classes,
		Ignored: len(classes) == 0,
	}, nil
}

// Cache memoizes FuncInfo per function type, keyed by registry id.
// Safe for concurrent use.
type Cache struct {
	reg *ctypes.Registry
	mu  sync.RWMutex
	m   map[int64]*FuncInfo
}

// NewCache creates a cache backed by reg.
func NewCache(reg *ctypes.Registry) *Cache {
	return &Cache{reg: reg, m: make(map[int64]*FuncInfo)}
}

// Func returns the calling convention of fn.
func (c *Cache) Func(fn ctypes.Tfunction) (*FuncInfo, error) {
	id := c.reg.ID(fn)
	c.mu.RLock()
	info, ok := c.m[id]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}
	info, err := Analyze(fn)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if prev, ok := c.m[id]; ok {
		info = prev
	} else {
		c.m[id] = info
	}
	c.mu.Unlock()
	return info, nil
}

// Call returns the convention of a call with the given argument types.
// Only calls to variadic functions with extra arguments bypass the cache.
func (c *Cache) Call(fn ctypes.Tfunction, argTypes []ctypes.Type) (*FuncInfo, error) {
	if !fn.VarArg || len(argTypes) == len(fn.Params) {
		return c.Func(fn)
	}
	if len(argTypes) < len(fn.Params) {
		return nil, diag.Userf(diag.Pos{}, "too few arguments in call to %s", fn)
	}
	return AnalyzeCall(fn, argTypes)
}
