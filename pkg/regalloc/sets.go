package regalloc

import "sort"

// ValueSet is a set of allocation variables.
type ValueSet map[int]struct{}

// NewValueSet creates a set holding vs.
func NewValueSet(vs ...int) ValueSet {
	s := make(ValueSet, len(vs))
	for _, v := range vs {
		s.Add(v)
	}
	return s
}

func (s ValueSet) Add(v int)           { s[v] = struct{}{} }
func (s ValueSet) Remove(v int)        { delete(s, v) }
func (s ValueSet) Contains(v int) bool { _, ok := s[v]; return ok }

// Copy returns an independent copy of s.
func (s ValueSet) Copy() ValueSet {
	c := make(ValueSet, len(s))
	for v := range s {
		c[v] = struct{}{}
	}
	return c
}

// Union returns the values in s or o.
func (s ValueSet) Union(o ValueSet) ValueSet {
	c := s.Copy()
	for v := range o {
		c[v] = struct{}{}
	}
	return c
}

// Minus returns the values in s but not in o.
func (s ValueSet) Minus(o ValueSet) ValueSet {
	c := make(ValueSet, len(s))
	for v := range s {
		if !o.Contains(v) {
			c[v] = struct{}{}
		}
	}
	return c
}

// Equal reports whether s and o hold the same values.
func (s ValueSet) Equal(o ValueSet) bool {
	if len(s) != len(o) {
		return false
	}
	for v := range s {
		if !o.Contains(v) {
			return false
		}
	}
	return true
}

// Slice returns the members in increasing order.
func (s ValueSet) Slice() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
