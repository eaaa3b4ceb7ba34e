package ctypes

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Registry interns types by structural identity and hands out stable
// numeric ids. Struct and union types are registered nominally: each
// declaration gets its own id. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	buckets map[uint64][]regEntry
	layouts map[int64]*Layout
	next    atomic.Int64
}

type regEntry struct {
	key string
	id  int64
	typ Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[uint64][]regEntry),
		layouts: make(map[int64]*Layout),
	}
}

// NewStruct registers a fresh struct declaration.
func (r *Registry) NewStruct(name string, fields ...Field) *Tstruct {
	return &Tstruct{Name: name, ID: r.next.Add(1), Fields: fields}
}

// NewUnion registers a fresh union declaration.
func (r *Registry) NewUnion(name string, fields ...Field) *Tunion {
	return &Tunion{Name: name, ID: r.next.Add(1), Fields: fields}
}

// Intern returns the canonical instance of t and its id. Structurally
// equal types map to the same id.
func (r *Registry) Intern(t Type) (Type, int64) {
	key := Key(t)
	h := xxhash.Sum64String(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.buckets[h] {
		if e.key == key {
			return e.typ, e.id
		}
	}
	id := r.next.Add(1)
	r.buckets[h] = append(r.buckets[h], regEntry{key: key, id: id, typ: t})
	return t, id
}

// ID returns the registry id of t.
func (r *Registry) ID(t Type) int64 {
	_, id := r.Intern(t)
	return id
}

// Layout returns the layout of t, memoized per registry id.
func (r *Registry) Layout(t Type) (*Layout, error) {
	id := r.ID(t)
	r.mu.Lock()
	l, ok := r.layouts[id]
	r.mu.Unlock()
	if ok {
		return l, nil
	}
	l, err := LayoutOf(t)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.layouts[id] = l
	r.mu.Unlock()
	return l, nil
}

// Key returns a canonical encoding of t. Equal keys mean equal types.
func Key(t Type) string {
	var k keyWriter
	k.write(t)
	return k.sb.String()
}

// keyWriter encodes types. open holds the unregistered composites being
// encoded, so a member that refers back to one is written as a
// back-reference instead of recursing.
type keyWriter struct {
	sb   strings.Builder
	open []*Tstruct
}

func (k *keyWriter) write(t Type) {
	sb := &k.sb
	switch tt := t.(type) {
	case nil, Tvoid:
		sb.WriteString("v")
	case Tint:
		sb.WriteString("i")
		sb.WriteString(strconv.FormatInt(tt.Size.Bytes()*8, 10))
		if tt.Size == IBool {
			sb.WriteString("b")
		} else if tt.Sign == Unsigned {
			sb.WriteString("u")
		}
	case Tbitint:
		fmt.Fprintf(sb, "B%d", tt.Width)
		if tt.Sign == Unsigned {
			sb.WriteString("u")
		}
	case Tfloat:
		fmt.Fprintf(sb, "f%d", tt.Size)
	case Tcomplex:
		fmt.Fprintf(sb, "c%d", tt.Size)
	case Tenum:
		fmt.Fprintf(sb, "e%s;", tt.Name)
	case Tpointer:
		sb.WriteString("p")
		k.write(tt.Elem)
	case Tarray:
		fmt.Fprintf(sb, "a%d", tt.Size)
		k.write(tt.Elem)
	case Tfunction:
		sb.WriteString("F(")
		for _, p := range tt.Params {
			k.write(p)
			sb.WriteString(",")
		}
		if tt.VarArg {
			sb.WriteString("...")
		}
		sb.WriteString(")")
		k.write(tt.Return)
	case *Tstruct:
		k.composite("S", tt)
	case *Tunion:
		k.composite("U", (*Tstruct)(tt))
	default:
		fmt.Fprintf(sb, "?%T", t)
	}
}

func (k *keyWriter) composite(kind string, c *Tstruct) {
	sb := &k.sb
	if c.ID != 0 {
		fmt.Fprintf(sb, "%s#%d", kind, c.ID)
		return
	}
	for depth := len(k.open) - 1; depth >= 0; depth-- {
		if k.open[depth] == c {
			fmt.Fprintf(sb, "%s^%d", kind, len(k.open)-1-depth)
			return
		}
	}
	// unregistered: fall back to the tag plus member list
	k.open = append(k.open, c)
	defer func() { k.open = k.open[:len(k.open)-1] }()
	fmt.Fprintf(sb, "%s%s{", kind, c.Name)
	for _, f := range c.Fields {
		sb.WriteString(f.Name)
		sb.WriteString(":")
		k.write(f.Type)
		if f.BitField {
			fmt.Fprintf(sb, "/%d", f.Width)
		}
		sb.WriteString(";")
	}
	if c.Packed {
		sb.WriteString("P")
	}
	if c.Aligned > 0 {
		fmt.Fprintf(sb, "A%d", c.Aligned)
	}
	if c.NonTrivial {
		sb.WriteString("N")
	}
	sb.WriteString("}")
}
