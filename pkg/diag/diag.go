// Package diag defines the error classes reported by the compiler core.
//
// Three classes exist: user errors (a construct or limit the backend
// cannot compile, register pressure included), internal errors (a broken
// invariant inside a pass) and resource errors (memory exhaustion). Every error names the
// function and, when known, the instruction index it was raised at.
package diag

import (
	"errors"
	"fmt"
)

// Class categorizes a compiler error.
type Class int

const (
	User Class = iota
	Internal
	Resource
)

func (c Class) String() string {
	switch c {
	case User:
		return "error"
	case Internal:
		return "internal error"
	case Resource:
		return "resource error"
	}
	return "?"
}

// Sentinel errors, matched with errors.Is.
var (
	ErrNotImplemented   = errors.New("not yet implemented")
	ErrRegisterPressure = errors.New("register pressure exceeded")
	ErrTypeTooLarge     = errors.New("type size overflow")
	ErrInternal         = errors.New("internal compiler error")
	ErrOutOfMemory      = errors.New("out of memory")
)

// Pos is a source position. The zero value means unknown.
type Pos struct {
	File string
	Line int
	Col  int
}

func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	if !p.IsValid() {
		return ""
	}
	if p.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Error is a classified compiler error.
type Error struct {
	Class Class
	Pos   Pos
	Func  string
	Instr int // -1 when not tied to an instruction
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	prefix := ""
	if e.Pos.IsValid() {
		prefix = e.Pos.String() + ": "
	}
	if e.Func != "" {
		if e.Instr >= 0 {
			return fmt.Sprintf("%sin %s (instr %d): %s", prefix, e.Func, e.Instr, msg)
		}
		return fmt.Sprintf("%sin %s: %s", prefix, e.Func, msg)
	}
	return prefix + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Userf reports a construct that cannot be compiled.
func Userf(pos Pos, format string, args ...any) *Error {
	return &Error{Class: User, Pos: pos, Instr: -1, Msg: fmt.Sprintf(format, args...)}
}

// Input reports an input file that cannot be read or decoded.
func Input(path string, err error) *Error {
	return &Error{Class: User, Pos: Pos{File: path}, Instr: -1, Msg: path, Err: err}
}

// NotImplemented reports a valid construct this backend does not support.
func NotImplemented(pos Pos, format string, args ...any) *Error {
	return &Error{Class: User, Pos: pos, Instr: -1, Msg: fmt.Sprintf(format, args...), Err: ErrNotImplemented}
}

// Internalf reports a broken invariant at the given instruction.
func Internalf(fn string, instr int, format string, args ...any) *Error {
	return &Error{Class: Internal, Func: fn, Instr: instr, Msg: fmt.Sprintf(format, args...), Err: ErrInternal}
}

// RegisterPressure reports that the allocator ran out of registers for a
// value that cannot live in memory.
func RegisterPressure(fn string, instr int) *Error {
	return &Error{Class: User, Func: fn, Instr: instr, Err: ErrRegisterPressure}
}

// TooLarge reports a type whose size does not fit the target.
func TooLarge(what string) *Error {
	return &Error{Class: User, Instr: -1, Msg: what, Err: ErrTypeTooLarge}
}

// InFunc attaches a function name to err if it is a *Error without one.
func InFunc(err error, fn string) error {
	var e *Error
	if errors.As(err, &e) && e.Func == "" {
		c := *e
		c.Func = fn
		return &c
	}
	return err
}

// ClassOf returns the class of err, treating foreign errors as internal.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	if errors.Is(err, ErrOutOfMemory) {
		return Resource
	}
	return Internal
}

// Recover converts a panic carrying a *Error into a returned error.
// Passes use it at their entry point:
//
//	defer diag.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*Error); ok {
		*errp = e
		return
	}
	panic(r)
}
