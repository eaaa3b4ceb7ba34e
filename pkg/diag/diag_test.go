package diag

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "user with position",
			err:  NotImplemented(Pos{File: "a.c", Line: 3, Col: 7}, "long double arithmetic"),
			want: "a.c:3:7: long double arithmetic: not yet implemented",
		},
		{
			name: "internal with instruction",
			err:  Internalf("f", 12, "use of %%v%d not dominated", 4),
			want: "in f (instr 12): use of %v4 not dominated: internal compiler error",
		},
		{
			name: "register pressure",
			err:  RegisterPressure("g", 5),
			want: "in g (instr 5): register pressure exceeded",
		},
		{
			name: "input",
			err:  Input("opts.yaml", errors.New("bad key")),
			want: "opts.yaml: bad key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", RegisterPressure("f", 1))
	if !errors.Is(err, ErrRegisterPressure) {
		t.Error("expected errors.Is to find ErrRegisterPressure")
	}
	if ClassOf(err) != User {
		t.Errorf("ClassOf = %v, want User", ClassOf(err))
	}
	if ClassOf(fmt.Errorf("arena: %w", ErrOutOfMemory)) != Resource {
		t.Error("out of memory should be a resource error")
	}
	if ClassOf(errors.New("plain")) != Internal {
		t.Error("foreign errors should be classified internal")
	}
}

func TestInFunc(t *testing.T) {
	err := InFunc(TooLarge("array of 1<<62 longs"), "main")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.Func != "main" {
		t.Errorf("Func = %q, want main", e.Func)
	}
	if !errors.Is(err, ErrTypeTooLarge) {
		t.Error("expected ErrTypeTooLarge")
	}
}

func TestRecover(t *testing.T) {
	run := func() (err error) {
		defer Recover(&err)
		panic(Internalf("f", 0, "boom"))
	}
	err := run()
	if !errors.Is(err, ErrInternal) {
		t.Errorf("got %v, want internal error", err)
	}
}

func TestPrinterNoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, "ralph-x64")
	p.Print(Internalf("f", 2, "bad phi"))
	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Errorf("unexpected escape codes in %q", out)
	}
	if !strings.HasPrefix(out, "ralph-x64: internal error: ") {
		t.Errorf("unexpected prefix in %q", out)
	}
	if !strings.Contains(out, "note: raised while compiling f") {
		t.Errorf("missing note in %q", out)
	}
}
