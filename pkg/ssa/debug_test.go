package ssa

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ir"
)

const pickSrc = `
functions:
  - name: pick
    returns: int
    params: [{name: a, type: int}]
    body:
      - {decl: x, type: int, init: 1}
      - {decl: t, type: int, init: {mul: [a, 3]}}
      - if: {gt: [a, 0]}
        then: [{expr: {assign: [x, a]}}]
      - return: x
`

func debugFunc(t *testing.T, src, name string, debug bool, passes ...string) *Func {
	t.Helper()
	_, funcs := lower(t, src)
	f := findFunc(t, funcs, name)
	f.Debug = debug
	pipe := &Pipeline{Passes: passes, VerifyEachPass: true}
	if err := pipe.Run(f); err != nil {
		t.Fatalf("%v: %v", passes, err)
	}
	return f
}

// markers lists the dbgvalue markers by variable name: true for a
// marker that names a value or a constant.
func markers(f *Func) map[string][]bool {
	out := make(map[string][]bool)
	for _, b := range f.LiveBlocks() {
		for _, id := range b.Instrs {
			in := f.Instrs[id]
			if in.Op == ir.OpDbgValue {
				name := f.Locals[in.Slot].Name
				out[name] = append(out[name], len(in.Args) > 0 || in.HasImm)
			}
		}
	}
	return out
}

func TestMem2RegKeepsVariableValues(t *testing.T) {
	tests := []struct {
		name   string
		debug  bool
		passes []string
		// minimum number of markers naming a value, per variable
		want map[string]int
	}{
		{name: "without debug", passes: []string{"mem2reg"}, want: map[string]int{}},
		{name: "stores", debug: true, passes: []string{"mem2reg"}, want: map[string]int{"a": 1, "x": 2, "t": 1}},
		{name: "optimized", debug: true, passes: DefaultPasses, want: map[string]int{"a": 1, "x": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := debugFunc(t, pickSrc, "pick", tt.debug, tt.passes...)
			if n := countOps(f, ir.OpLoad) + countOps(f, ir.OpStore); n != 0 {
				t.Errorf("%d loads and stores survived promotion:\n%s", n, dump(f))
			}
			got := markers(f)
			if !tt.debug && len(got) != 0 {
				t.Fatalf("markers without debug: %v\n%s", got, dump(f))
			}
			for name, least := range tt.want {
				known := 0
				for _, k := range got[name] {
					if k {
						known++
					}
				}
				if known < least {
					t.Errorf("%s has %d located markers, want at least %d:\n%s", name, known, least, dump(f))
				}
			}
		})
	}
}

func TestDeadValueLeavesMarkerUnknown(t *testing.T) {
	f := debugFunc(t, pickSrc, "pick", true, "mem2reg", "dce")
	if n := countOps(f, ir.OpMul); n != 0 {
		t.Fatalf("dead product kept alive by its marker:\n%s", dump(f))
	}
	got := markers(f)["t"]
	if len(got) == 0 {
		t.Fatalf("t lost its markers:\n%s", dump(f))
	}
	if diff := cmp.Diff(make([]bool, len(got)), got); diff != "" {
		t.Errorf("markers of t still name a value (-want +got):\n%s", diff)
	}
}

func TestMarkersDoNotChangeResults(t *testing.T) {
	plain := debugFunc(t, pickSrc, "pick", false, DefaultPasses...)
	debug := debugFunc(t, pickSrc, "pick", true, DefaultPasses...)
	for _, arg := range []int64{-4, 0, 9} {
		if got, want := evalOne(t, debug, arg), evalOne(t, plain, arg); got != want {
			t.Errorf("pick(%d) = %d with markers, %d without", arg, got, want)
		}
	}
}
