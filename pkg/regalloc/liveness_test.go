package regalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/ir"
)

func TestValueSetOperations(t *testing.T) {
	a := NewValueSet(1, 2, 3)
	b := NewValueSet(3, 4)

	tests := []struct {
		name string
		got  ValueSet
		want []int
	}{
		{"union", a.Union(b), []int{1, 2, 3, 4}},
		{"minus", a.Minus(b), []int{1, 2}},
		{"copy", a.Copy(), []int{1, 2, 3}},
		{"empty minus", NewValueSet().Minus(a), []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got.Slice()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	c := a.Copy()
	c.Add(9)
	c.Remove(1)
	if a.Contains(9) || !a.Contains(1) {
		t.Error("Copy shares storage with the original")
	}
	if !a.Equal(NewValueSet(3, 2, 1)) || a.Equal(b) {
		t.Error("Equal compares members")
	}
}

const loopSrc = `
functions:
  - name: sumsq
    returns: int
    params: [{name: n, type: int}]
    body:
      - {decl: s, type: int, init: 0}
      - for: {init: {decl: i, type: int, init: 0}, cond: {lt: [i, n]}, post: {postinc: i}}
        body:
          - expr: {add_assign: [s, {mul: [i, i]}]}
      - return: s
  - name: swap
    returns: long
    params: [{name: a, type: long}, {name: b, type: long}, {name: n, type: int}]
    body:
      - while: {gt: [n, 0]}
        body:
          - {decl: t, type: long, init: a}
          - expr: {assign: [a, b]}
          - expr: {assign: [b, t]}
          - expr: {postdec: n}
      - return: {sub: [a, b]}
`

func TestPhiElimination(t *testing.T) {
	for name, f := range selected(t, loopSrc) {
		t.Run(name, func(t *testing.T) {
			phis := 0
			for _, b := range f.LiveBlocks() {
				phis += len(f.Phis(b))
			}
			if phis == 0 {
				t.Fatal("no phis to eliminate")
			}
			a := newAllocation(f, nil)
			if err := a.eliminatePhis(); err != nil {
				t.Fatal(err)
			}
			for _, b := range f.LiveBlocks() {
				for _, id := range b.Instrs {
					if f.Instrs[id].Op == ir.OpPhi {
						t.Fatalf("phi v%d left in b%d", id, b.ID)
					}
				}
			}
			// a loop header has two predecessors, so every phi variable
			// gets exactly one extra definition
			if len(a.defVar) != phis {
				t.Errorf("%d extra definitions for %d phis", len(a.defVar), phis)
			}
		})
	}
}

func TestAnalyzeLiveness(t *testing.T) {
	for name, f := range selected(t, loopSrc) {
		t.Run(name, func(t *testing.T) {
			a := newAllocation(f, nil)
			if err := a.eliminatePhis(); err != nil {
				t.Fatal(err)
			}
			a.refresh()
			live := a.AnalyzeLiveness()

			if in := live.LiveIn[f.Entry]; len(in) != 0 {
				t.Errorf("values live into the entry block: %v", in.Slice())
			}
			loopCarried := false
			for _, b := range f.LiveBlocks() {
				want := NewValueSet()
				for _, s := range b.Succs {
					want = want.Union(live.LiveIn[s])
				}
				if !want.Equal(live.LiveOut[b.ID]) {
					t.Errorf("b%d: live-out %v, want the successors' live-in %v", b.ID, live.LiveOut[b.ID].Slice(), want.Slice())
				}
				if extra := live.LiveIn[b.ID].Minus(live.Use[b.ID].Union(live.LiveOut[b.ID])); len(extra) != 0 {
					t.Errorf("b%d: %v live in without a use or a later need", b.ID, extra.Slice())
				}
				for _, p := range b.Preds {
					if f.Dominates(b.ID, p) && len(live.LiveIn[b.ID]) > 0 {
						loopCarried = true
					}
				}
			}
			if !loopCarried {
				t.Error("nothing is live around the loop back edge")
			}
		})
	}
}
