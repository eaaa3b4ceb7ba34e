package diag

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const (
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorReset  = "\033[0m"
)

// Printer renders errors for a human, prefixed with the program name.
type Printer struct {
	w     io.Writer
	prog  string
	color bool
}

// NewPrinter creates a printer. Color is used only when w is a terminal.
func NewPrinter(w io.Writer, prog string) *Printer {
	p := &Printer{w: w, prog: prog}
	if f, ok := w.(*os.File); ok {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// Print writes one diagnostic line for err.
func (p *Printer) Print(err error) {
	if err == nil {
		return
	}
	class := ClassOf(err)
	label := class.String()
	if p.color {
		c := colorRed
		if class == Resource {
			c = colorYellow
		}
		label = colorBold + c + label + colorReset
	}
	fmt.Fprintf(p.w, "%s: %s: %v\n", p.prog, label, err)
	var e *Error
	if class == Internal && errors.As(err, &e) && e.Func != "" {
		fmt.Fprintf(p.w, "%s: note: raised while compiling %s\n", p.prog, e.Func)
	}
}

// Warnf writes a warning line.
func (p *Printer) Warnf(format string, args ...any) {
	label := "warning"
	if p.color {
		label = colorBold + colorYellow + label + colorReset
	}
	fmt.Fprintf(p.w, "%s: %s: %s\n", p.prog, label, fmt.Sprintf(format, args...))
}
