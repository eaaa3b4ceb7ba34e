package regalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

const walkSrc = `
decls:
  - {name: use, type: "void(long)"}
functions:
  - name: walk
    params: [{name: n, type: long}]
    body:
      - {decl: a, type: long, init: {mul: [n, 3]}}
      - expr: {call: use, args: [a]}
      - {decl: b, type: long, init: 7}
      - expr: {call: use, args: [n]}
`

// varMarker is a marker reduced to what the debugger will see.
type varMarker struct {
	Name  string
	Where string // register, spill, const or unknown
}

func describe(fn *ltl.Function, in *ltl.Instr) varMarker {
	m := varMarker{Name: fn.Locals[in.Slot].Name, Where: "unknown"}
	switch l := in.Var.(type) {
	case ltl.R:
		m.Where = "register"
	case ltl.S:
		if l.Slot == ltl.SlotSpill {
			m.Where = "spill"
		} else {
			m.Where = l.Slot.String()
		}
	}
	if in.HasImm {
		m.Where = "const"
	}
	return m
}

func TestMarkerLocations(t *testing.T) {
	p := compileWith(t, walkSrc, true)
	f := p.funcs["walk"]
	info, err := p.abi.Func(f.Type)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Allocate(f, info, Options{Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	var got []varMarker
	for _, in := range ltlInstrs(res.Func, ir.OpDbgValue) {
		if len(in.Args) != 0 {
			t.Errorf("marker reads registers %v", in.Args)
		}
		got = append(got, describe(res.Func, in))
	}
	// a dies at the first call, b is a constant, n outlives the first
	// call in a register and dies at the second
	want := []varMarker{
		{"n", "register"},
		{"a", "register"},
		{"a", "unknown"},
		{"b", "const"},
		{"n", "unknown"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markers (-want +got):\n%s", diff)
	}

	for v, segs := range res.Locs {
		for _, s := range segs {
			if n := len(res.Func.Blocks[s.Block].Instrs); s.Start >= s.End || s.End > n {
				t.Errorf("v%d: segment [%d,%d) outside b%d of %d instructions", v, s.Start, s.End, s.Block, n)
			}
		}
	}
}

func TestMarkersDoNotExtendLiveness(t *testing.T) {
	plain := allocate(t, walkSrc, Options{})["walk"]
	p := compileWith(t, walkSrc, true)
	f := p.funcs["walk"]
	info, err := p.abi.Func(f.Type)
	if err != nil {
		t.Fatal(err)
	}
	debug, err := Allocate(f, info, Options{Verify: true})
	if err != nil {
		t.Fatal(err)
	}
	if debug.Spilled != plain.Spilled || len(debug.Func.Spills) != len(plain.Func.Spills) {
		t.Errorf("markers changed spilling: %d values, %d slots; want %d, %d",
			debug.Spilled, len(debug.Func.Spills), plain.Spilled, len(plain.Func.Spills))
	}
	if got, want := debug.Func.CalleeSavedUsed(), plain.Func.CalleeSavedUsed(); got != want {
		t.Errorf("callee-saved registers %v with markers, %v without", got.Regs(), want.Regs())
	}
}
