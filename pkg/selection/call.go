package selection

import (
	"github.com/raymyers/ralph-x64/pkg/abi"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
	"github.com/raymyers/ralph-x64/pkg/ssa"
)

// selectCall lowers a call to the System V convention. Stack arguments
// are stored first, then register arguments are copied into pinned
// values right before the call so that nothing clobbers them in
// between. The call itself destroys every caller-saved register.
func (ctx *SelectionContext) selectCall(in *ssa.Instr) {
	site := in.Call
	info, err := ctx.env.ABI.Call(site.Func, site.ArgTypes)
	if err != nil {
		panic(diag.InFunc(err, ctx.f.Name))
	}
	if info.RetX87 {
		panic(diag.InFunc(diag.NotImplemented(in.Pos, "calls returning long double"), ctx.f.Name))
	}
	base := site.ArgBase()
	args := in.Args[base:]
	retBuf := -1
	if site.RetBuf {
		retBuf = args[len(args)-1]
		args = args[:len(args)-1]
	}
	if len(args) != len(info.Params) {
		panic(diag.Internalf(ctx.f.Name, in.ID, "call passes %d arguments for %d parameters", len(args), len(info.Params)))
	}
	if info.StackSize > ctx.f.OutgoingSize {
		ctx.f.OutgoingSize = ctypes.AlignUp(info.StackSize, 16)
	}

	for i, a := range args {
		p := info.Params[i]
		if p.Ignored || !p.OnStack {
			continue
		}
		if ir.InMemory(p.Type) {
			dst := ctx.newInstr(ir.OpOutgoingAddr, ir.I64)
			dst.Off = p.StackOffset
			ctx.emit(dst)
			ctx.memcpy(dst.ID, a, p.Size)
			continue
		}
		st := ctx.newInstr(ir.OpStore, ir.Void, a)
		st.Mode, st.Off, st.Mem = ir.AddrOutgoing, p.StackOffset, ir.MemOf(p.Type)
		ctx.immediateStore(st)
		ctx.emit(st)
	}

	// eightbyte loads of aggregates come before any pinned copy
	var loaded [][]int
	for i, a := range args {
		p := info.Params[i]
		var vs []int
		if p.InRegs() && ir.InMemory(p.Type) {
			for k, r := range p.Regs {
				vs = append(vs, ctx.loadEightbyte(a, int64(k), p.Size, r))
			}
		}
		loaded = append(loaded, vs)
	}

	var pinned []int
	if info.RetInMemory {
		pinned = append(pinned, ctx.pin(retBuf, ltl.IntArgRegs[0]))
	}
	for i, a := range args {
		p := info.Params[i]
		switch {
		case !p.InRegs():
		case ir.InMemory(p.Type):
			for k, r := range p.Regs {
				pinned = append(pinned, ctx.pin(loaded[i][k], r))
			}
		default:
			pinned = append(pinned, ctx.pin(a, p.Regs[0]))
		}
	}
	if info.VarArg {
		n := ctx.newInstr(ir.OpIntConst, ir.I32)
		n.Imm = int64(info.SSECount())
		pinned = append(pinned, ctx.pin(ctx.emit(n).ID, ltl.RAX))
	}
	if base == 1 {
		// r11 is neither an argument register nor preserved, so the
		// callee address survives the argument setup
		pinned = append([]int{ctx.pin(in.Args[0], ltl.R11)}, pinned...)
	}

	call := in
	if in.Type != ir.Void {
		call = ctx.split(in)
		call.Fixed = info.Return.Regs[0]
	}
	call.Args = pinned
	call.Clobbers = ltl.CallerSaved
	ctx.emit(call)
	if call != in {
		ctx.emit(in)
	}

	if retBuf >= 0 && !info.RetInMemory && !info.Return.Ignored {
		// every result register is read before any code that could reuse it
		ret := info.Return
		var parts []int
		for k, r := range ret.Regs {
			pr := ctx.newInstr(ir.OpProject, eightbyteType(r, ret.Size-8*int64(k)), call.ID)
			pr.Imm, pr.Fixed = int64(k), r
			parts = append(parts, ctx.emit(pr).ID)
		}
		for k, v := range parts {
			ctx.storeEightbyte(retBuf, int64(k), ret.Size, v)
		}
	}
}

// eightbyteType is the value type carrying an eightbyte of n remaining
// bytes in register r.
func eightbyteType(r ltl.MReg, n int64) ir.Type {
	switch {
	case r.IsFloat() && n >= 8:
		return ir.F64
	case r.IsFloat():
		return ir.F32
	}
	return ir.I64
}

// loadEightbyte loads eightbyte k of the size-byte object at addr into
// a value suitable for register r. A partial trailing eightbyte is
// assembled from narrower loads so nothing past the object is read.
func (ctx *SelectionContext) loadEightbyte(addr int, k, size int64, r ltl.MReg) int {
	off := 8 * k
	n := min(size-off, 8)
	t := eightbyteType(r, n)
	switch {
	case t == ir.F64:
		return ctx.loadAt(addr, off, t, ir.MF64)
	case t == ir.F32:
		return ctx.loadAt(addr, off, t, ir.MF32)
	case n == 8:
		return ctx.loadAt(addr, off, t, ir.M64)
	}
	var acc int
	shift := int64(0)
	for _, w := range pieces(n) {
		v := ctx.loadAt(addr, off+shift, ir.I64, ir.IntMem(w))
		if shift == 0 {
			acc = v
		} else {
			sh := ctx.newInstr(ir.OpShl, ir.I64, v)
			sh.Imm, sh.HasImm = 8*shift, true
			ctx.emit(sh)
			or := ctx.newInstr(ir.OpOr, ir.I64, acc, sh.ID)
			acc = ctx.emit(or).ID
		}
		shift += w
	}
	return acc
}

// storeEightbyte writes value v, eightbyte k of a size-byte object, to
// addr without touching bytes past the object.
func (ctx *SelectionContext) storeEightbyte(addr int, k, size int64, v int) {
	off := 8 * k
	n := min(size-off, 8)
	switch t := ctx.typeOf(v); {
	case t == ir.F64:
		ctx.storeAt(addr, off, ir.MF64, v)
		return
	case t == ir.F32:
		ctx.storeAt(addr, off, ir.MF32, v)
		return
	case n == 8:
		ctx.storeAt(addr, off, ir.M64, v)
		return
	}
	shift := int64(0)
	for _, w := range pieces(n) {
		part := v
		if shift > 0 {
			sh := ctx.newInstr(ir.OpUShr, ir.I64, v)
			sh.Imm, sh.HasImm = 8*shift, true
			part = ctx.emit(sh).ID
		}
		ctx.storeAt(addr, off+shift, ir.IntMem(w), part)
		shift += w
	}
}

// pieces splits n < 8 bytes into power-of-two accesses, largest first.
func pieces(n int64) []int64 {
	var out []int64
	for _, w := range []int64{4, 2, 1} {
		if n >= w {
			out = append(out, w)
			n -= w
		}
	}
	return out
}

// selectParams binds the incoming parameters at the top of the entry
// block. Every argument register is read by a pinned OpParam before
// any other code runs; values are then moved to unconstrained copies.
func (ctx *SelectionContext) selectParams() {
	f, info := ctx.f, ctx.info
	entry := f.Blocks[f.Entry]
	params := map[int]*ssa.Instr{}
	for _, id := range entry.Instrs {
		if in := f.Instrs[id]; in.Op == ir.OpParam {
			params[int(in.Imm)] = in
		}
	}
	for _, b := range f.LiveBlocks() {
		if b.ID == f.Entry {
			continue
		}
		for _, id := range b.Instrs {
			if f.Instrs[id].Op == ir.OpParam {
				panic(diag.Internalf(f.Name, id, "parameter outside the entry block"))
			}
		}
	}

	incoming := func(idx int, r ltl.MReg, t ir.Type) int {
		p := ctx.newInstr(ir.OpParam, t)
		p.Imm, p.Fixed = int64(idx), r
		return ctx.emit(p).ID
	}
	hidden := -1
	if info.RetInMemory {
		hidden = incoming(-1, ltl.IntArgRegs[0], ir.I64)
	}
	regs := make(map[int][]int)
	for i := range info.Params {
		p := info.Params[i]
		in, used := params[i]
		if !used || !p.InRegs() {
			continue
		}
		for k, r := range p.Regs {
			t := in.Type
			if ir.InMemory(p.Type) {
				t = eightbyteType(r, p.Size-8*int64(k))
			}
			regs[i] = append(regs[i], incoming(i, r, t))
		}
	}
	if hidden >= 0 {
		ctx.retPtr = ctx.emit(ctx.newInstr(ir.OpCopy, ir.I64, hidden)).ID
	}
	if f.Type.VarArg {
		f.RegSaveSlot = len(f.Locals)
		f.Locals = append(f.Locals, ir.Local{Name: "__va_regs", Size: abi.RegSaveSize, Align: 16, Param: -1})
	}

	for i := range info.Params {
		in, used := params[i]
		if !used {
			continue
		}
		ctx.bindParam(in, info.Params[i], regs[i])
	}
}

// bindParam rewrites OpParam in into the code producing its value.
func (ctx *SelectionContext) bindParam(in *ssa.Instr, p abi.ArgInfo, regs []int) {
	pos := in.Pos
	reset := func(op ir.Opcode, args ...int) {
		in.Op, in.Args, in.Payload = op, args, ir.Payload{Pos: pos}
	}
	switch {
	case ir.InMemory(p.Type) && p.InRegs():
		slot := len(ctx.f.Locals)
		ctx.f.Locals = append(ctx.f.Locals, ir.Local{
			Size:  ctypes.AlignUp(max(p.Size, 1), 8),
			Align: max(p.Align, 8),
			CType: p.Type,
			Param: -1,
		})
		reset(ir.OpLocalAddr)
		in.Slot = slot
		for k, v := range regs {
			st := ctx.newInstr(ir.OpStore, ir.Void, v)
			st.Mode, st.Slot, st.Off = ir.AddrLocal, slot, 8*int64(k)
			st.Mem = ir.M64
			if ctx.typeOf(v).IsFloat() {
				st.Mem = ir.MF64
			}
			ctx.emit(st)
		}
		ctx.emit(in)
	case ir.InMemory(p.Type) && p.OnStack:
		reset(ir.OpIncomingAddr)
		in.Off = p.StackOffset
		ctx.emit(in)
	case ir.InMemory(p.Type):
		// empty aggregate: any distinct address will do
		slot := len(ctx.f.Locals)
		ctx.f.Locals = append(ctx.f.Locals, ir.Local{Size: 1, Align: 1, CType: p.Type, Param: -1})
		reset(ir.OpLocalAddr)
		in.Slot = slot
		ctx.emit(in)
	case p.InRegs():
		reset(ir.OpCopy, regs[0])
		ctx.emit(in)
	default:
		reset(ir.OpLoad)
		in.Mode, in.Off, in.Mem = ir.AddrIncoming, p.StackOffset, ir.MemOf(p.Type)
		in.Signed = ctypes.IsSigned(p.Type)
		ctx.emit(in)
	}
}

// selectVaStart initializes a va_list: offsets into the register save
// area past the named arguments, the first anonymous stack argument
// and the save area itself.
func (ctx *SelectionContext) selectVaStart(in *ssa.Instr) {
	if ctx.f.RegSaveSlot < 0 {
		panic(diag.Userf(in.Pos, "va_start used in a function without variable arguments"))
	}
	ap := in.Args[0]
	info := ctx.info
	ctx.storeImm(ap, 0, ir.M32, int64(8*info.UsedGP))
	ctx.storeImm(ap, 4, ir.M32, int64(abi.RegSaveGPSize+16*info.UsedSSE))
	ov := ctx.newInstr(ir.OpIncomingAddr, ir.I64)
	ov.Off = info.NamedStackSize(len(ctx.f.Type.Params))
	ctx.storeAt(ap, 8, ir.M64, ctx.emit(ov).ID)
	rs := ctx.newInstr(ir.OpLocalAddr, ir.I64)
	rs.Slot = ctx.f.RegSaveSlot
	ctx.storeAt(ap, 16, ir.M64, ctx.emit(rs).ID)
	ctx.f.Remove(in.ID)
}
