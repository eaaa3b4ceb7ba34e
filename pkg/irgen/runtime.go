// Runtime support routines. The routines are written in the compiler's
// own input form and lowered into a unit as static functions the first
// time the unit needs one, so the output links without a support
// library.

package irgen

import (
	_ "embed"

	"github.com/raymyers/ralph-x64/pkg/ast"
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

//go:embed runtime/bitint.yaml
var bitintRuntime []byte

// _BitInt helpers called by the wide lowering.
const (
	helperMul     = "__ralph_bitint_mul"
	helperUDivMod = "__ralph_bitint_udivmod"
	helperSDivMod = "__ralph_bitint_sdivmod"
	helperShl     = "__ralph_bitint_shl"
	helperShr     = "__ralph_bitint_shr"
)

// runtimeLib holds the decoded routines of one unit and which of them
// the unit uses.
type runtimeLib struct {
	defs   map[string]*ast.FuncDef
	order  []string
	needed map[string]bool
}

// runtime decodes the routines on first use.
func (u *unit) runtime() *runtimeLib {
	if u.rt != nil {
		return u.rt
	}
	prog, err := ast.DecodeYAML(bitintRuntime, u.mod.Types)
	if err != nil {
		panic(diag.Internalf("", -1, "runtime routines: %v", err))
	}
	lib := &runtimeLib{defs: make(map[string]*ast.FuncDef), needed: make(map[string]bool)}
	for _, fd := range prog.Functions {
		lib.defs[fd.Name] = fd
		lib.order = append(lib.order, fd.Name)
		u.globals[fd.Name] = fd.Typ
	}
	u.rt = lib
	return lib
}

// requireRuntime marks a routine as used and returns its type.
func (u *unit) requireRuntime(sym string) ctypes.Tfunction {
	lib := u.runtime()
	fd, ok := lib.defs[sym]
	if !ok {
		panic(diag.Internalf("", -1, "unknown runtime routine %s", sym))
	}
	lib.needed[sym] = true
	return fd.Typ
}

// helperCall calls a runtime routine.
func (b *builder) helperCall(sym string, args ...ir.Ref) {
	ft := b.requireRuntime(sym)
	b.emit(ir.Instr{Op: ir.OpCall, Args: args, Payload: ir.Payload{Call: &ir.CallSite{
		Func: ft, Sym: sym, ArgTypes: ft.Params,
	}}})
}

// lowerRuntime appends the used routines, and the routines they call,
// to the module in source order. They carry no source positions.
func (u *unit) lowerRuntime() error {
	if u.rt == nil {
		return nil
	}
	done := make(map[string]bool)
	for progress := true; progress; {
		progress = false
		for _, name := range u.rt.order {
			if !u.rt.needed[name] || done[name] {
				continue
			}
			fn, err := u.function(u.rt.defs[name])
			if err != nil {
				return err
			}
			done[name], progress = true, true
			fn.Pos = diag.Pos{}
			for i := range fn.Code {
				in := &fn.Code[i]
				in.Pos = diag.Pos{}
				if in.Op == ir.OpCall && in.Call != nil && u.rt.defs[in.Call.Sym] != nil {
					u.rt.needed[in.Call.Sym] = true
				}
			}
			u.mod.Functions = append(u.mod.Functions, fn)
		}
	}
	return nil
}
