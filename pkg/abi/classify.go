// Package abi implements the x86-64 System V calling convention:
// eightbyte classification of C types and assignment of parameters and
// return values to registers and stack slots.
package abi

import (
	"fmt"

	"github.com/raymyers/ralph-x64/pkg/ctypes"
)

// Class is the psABI class of one eightbyte.
type Class int

const (
	NoClass Class = iota
	Integer
	SSE
	SSEUp
	X87
	X87Up
	ComplexX87
	Memory
)

func (c Class) String() string {
	names := []string{"NO_CLASS", "INTEGER", "SSE", "SSEUP", "X87", "X87UP", "COMPLEX_X87", "MEMORY"}
	if int(c) < len(names) {
		return names[c]
	}
	return "?"
}

// merge combines the classes of two fields sharing an eightbyte.
func merge(a, b Class) Class {
	switch {
	case a == b:
		return a
	case a == NoClass:
		return b
	case b == NoClass:
		return a
	case a == Memory || b == Memory:
		return Memory
	case a == Integer || b == Integer:
		return Integer
	case a == X87 || a == X87Up || a == ComplexX87 || b == X87 || b == X87Up || b == ComplexX87:
		return Memory
	}
	return SSE
}

// Classify returns the classes of the eightbytes of t. An aggregate
// passed in memory yields the single class Memory; an empty type
// yields no eightbytes.
func Classify(t ctypes.Type) ([]Class, error) {
	l, err := ctypes.LayoutOf(t)
	if err != nil {
		return nil, err
	}
	if l.Size == 0 {
		return nil, nil
	}
	// scalars first
	switch tt := t.(type) {
	case ctypes.Tint, ctypes.Tenum, ctypes.Tpointer:
		return []Class{Integer}, nil
	case ctypes.Tbitint:
		switch {
		case tt.Width <= 64:
			return []Class{Integer}, nil
		case tt.Width <= 128:
			return []Class{Integer, Integer}, nil
		}
		return []Class{Memory}, nil
	case ctypes.Tfloat:
		if tt.Size == ctypes.F80 {
			return []Class{X87, X87Up}, nil
		}
		return []Class{SSE}, nil
	case ctypes.Tcomplex:
		switch tt.Size {
		case ctypes.F32:
			return []Class{SSE}, nil
		case ctypes.F64:
			return []Class{SSE, SSE}, nil
		}
		return []Class{ComplexX87}, nil
	}

	if l.Size > 16 {
		return []Class{Memory}, nil
	}
	if c, _, ok := ctypes.Composite(t); ok && c.NonTrivial {
		return []Class{Memory}, nil
	}

	classes := make([]Class, (l.Size+7)/8)
	if err := classifyInto(t, 0, classes); err != nil {
		return nil, err
	}
	return postMerge(classes), nil
}

// classifyInto merges the classes of t, placed at byte offset off, into
// the eightbyte array.
func classifyInto(t ctypes.Type, off int64, classes []Class) error {
	switch tt := t.(type) {
	case ctypes.Tarray:
		el, err := ctypes.LayoutOf(tt.Elem)
		if err != nil {
			return err
		}
		for i := int64(0); i < tt.Size; i++ {
			if err := classifyInto(tt.Elem, off+i*el.Size, classes); err != nil {
				return err
			}
		}
		return nil
	case *ctypes.Tstruct, *ctypes.Tunion:
		l, err := ctypes.LayoutOf(t)
		if err != nil {
			return err
		}
		for _, f := range l.Fields {
			if f.BitField {
				first := (off*8 + f.AbsBit()) / 64
				last := (off*8 + f.AbsBit() + int64(f.Width) - 1) / 64
				for q := first; q <= last; q++ {
					setClass(classes, q, Integer)
				}
				continue
			}
			fl, err := ctypes.LayoutOf(f.Type)
			if err != nil {
				return err
			}
			if fl.Size == 0 {
				continue
			}
			if (off+f.Offset)%fl.Align != 0 {
				markMemory(classes)
				return nil
			}
			if err := classifyInto(f.Type, off+f.Offset, classes); err != nil {
				return err
			}
		}
		return nil
	}

	sub, err := Classify(t)
	if err != nil {
		return err
	}
	if off%8 != 0 {
		// a scalar starting mid-eightbyte never spans two of them
		sl, err := ctypes.LayoutOf(t)
		if err != nil {
			return err
		}
		if off%8+sl.Size > 8 {
			markMemory(classes)
			return nil
		}
	}
	for i, c := range sub {
		setClass(classes, off/8+int64(i), c)
	}
	return nil
}

func setClass(classes []Class, q int64, c Class) {
	if q < 0 || q >= int64(len(classes)) {
		return
	}
	classes[q] = merge(classes[q], c)
}

func markMemory(classes []Class) {
	for i := range classes {
		classes[i] = Memory
	}
}

// postMerge applies the psABI cleanup rules to an aggregate.
func postMerge(classes []Class) []Class {
	for i, c := range classes {
		if c == Memory {
			return []Class{Memory}
		}
		if c == X87Up && (i == 0 || classes[i-1] != X87) {
			return []Class{Memory}
		}
		if c == SSEUp && (i == 0 || (classes[i-1] != SSE && classes[i-1] != SSEUp)) {
			classes[i] = SSE
		}
	}
	return classes
}

// InMemory reports whether a classification means "pass in memory".
func InMemory(classes []Class) bool {
	return len(classes) == 1 && classes[0] == Memory
}

// classString is used by tests and dumps.
func classString(classes []Class) string {
	return fmt.Sprint(classes)
}
