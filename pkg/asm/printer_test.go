package asm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func TestPrintLine(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want string
	}{
		{"no operands", Ins("ret"), "\tret\n"},
		{"one operand", Ins("pushq", R64(ltl.RBP)), "\tpushq\t%rbp\n"},
		{"two operands", Ins("movq", R64(ltl.RSP), R64(ltl.RBP)), "\tmovq\t%rsp, %rbp\n"},
		{"three operands", Ins("imulq", Imm{Val: 10}, R64(ltl.RCX), R64(ltl.RAX)), "\timulq\t$10, %rcx, %rax\n"},
		{"load", Ins("movl", Base(ltl.RBP, -4), R32(ltl.RAX)), "\tmovl\t-4(%rbp), %eax\n"},
		{"call plt", Ins("call", SymRef{Name: "puts", PLT: true}), "\tcall\tputs@PLT\n"},
		{"label", LabelDef{Name: ".L2_7"}, ".L2_7:\n"},
		{"directive", Directive{Name: ".p2align", Args: "4"}, "\t.p2align\t4\n"},
		{"bare directive", Directive{Name: ".cfi_endproc"}, "\t.cfi_endproc\n"},
		{"loc", Loc{Line: 12, Col: 5}, "\t.loc\t1 12 5\n"},
		{"comment", Comment{Text: "spill"}, "\t# spill\n"},
		{"raw", Raw{Text: "nop\n  pause\n\n"}, "\tnop\n\tpause\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf).printLine(tt.line)
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintFunction(t *testing.T) {
	tests := []struct {
		name string
		fn   Function
		want []string
		not  []string
	}{
		{
			name: "global",
			fn:   Function{Name: "main", Lines: []Line{Ins("ret")}},
			want: []string{
				"\t.globl\tmain\n",
				"\t.type\tmain, @function\n",
				"\t.p2align\t4\nmain:\n\tret\n",
				"\t.size\tmain, .-main\n",
			},
		},
		{
			name: "static",
			fn:   Function{Name: "helper", Static: true, Lines: []Line{Ins("ret")}},
			want: []string{"\t.type\thelper, @function\n", "helper:\n"},
			not:  []string{".globl"},
		},
		{
			name: "var locs",
			fn: Function{
				Name:    "f",
				Lines:   []Line{Ins("ret")},
				VarLocs: []VarLoc{{Name: "x", Loc: "%rdi", StartLabel: "f", EndLabel: ".Lend0"}},
			},
			want: []string{"# var x: %rdi [f, .Lend0)\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf).PrintFunction(&tt.fn)
			got := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(got, n) {
					t.Errorf("output should not contain %q:\n%s", n, got)
				}
			}
		})
	}
}

func TestPrintProgramSections(t *testing.T) {
	prog := &Program{
		File:  "t.c",
		Debug: true,
		Globals: []GlobVar{
			{Name: "counter", Size: 4, Align: 4, Init: []byte{7, 0, 0, 0}},
			{Name: "buf", Size: 64, Align: 16, Static: true},
			{Name: "msg", Size: 3, Align: 1, Init: []byte("hi\x00"), ReadOnly: true},
			{
				Name: "table", Size: 16, Align: 8, Init: make([]byte, 16), ReadOnly: true,
				Relocs: []ir.Reloc{{Off: 8, Sym: "counter", Addend: 4}},
			},
			{Name: "depth", Size: 4, Align: 4, ThreadLocal: true},
			{Name: "seed", Size: 8, Align: 8, Init: []byte{1, 0, 0, 0, 0, 0, 0, 0}, ThreadLocal: true},
		},
		Consts:     []Const{{Name: ".LC0", Align: 8, Data: []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}}},
		JumpTables: []JumpTable{{Name: ".LJT0", Targets: []string{".L0_1", ".L0_2"}}},
		Functions:  []Function{{Name: "main", Lines: []Line{Ins("ret")}}},
	}
	var buf bytes.Buffer
	NewPrinter(&buf).PrintProgram(prog)
	got := buf.String()

	ordered := []string{
		"\t.file\t\"t.c\"\n",
		"\t.file\t1 \"t.c\"\n",
		"\t.text\n",
		"main:\n",
		"\t.section\t.rodata\n",
		".LC0:\n\t.byte\t0,0,0,0,0,0,240,63\n",
		".LJT0:\n\t.long\t.L0_1-.LJT0\n\t.long\t.L0_2-.LJT0\n",
		"msg:\n\t.byte\t104,105,0\n",
		"\t.section\t.data.rel.ro,\"aw\"\n",
		"table:\n\t.zero\t8\n\t.quad\tcounter+4\n",
		"\t.data\n",
		"counter:\n\t.byte\t7,0,0,0\n",
		"\t.bss\n",
		"\t.p2align\t4\nbuf:\n\t.zero\t64\n",
		"\t.section\t.tdata,\"awT\",@progbits\n",
		"\t.type\tseed, @tls_object\n",
		"seed:\n\t.byte\t1,0,0,0,0,0,0,0\n",
		"\t.section\t.tbss,\"awT\",@nobits\n",
		"\t.type\tdepth, @tls_object\n",
		"depth:\n\t.zero\t4\n",
		"\t.section\t.note.GNU-stack,\"\",@progbits\n",
	}
	pos := 0
	for _, w := range ordered {
		i := strings.Index(got[pos:], w)
		if i < 0 {
			t.Fatalf("output missing %q after offset %d:\n%s", w, pos, got)
		}
		pos += i + len(w)
	}
	if strings.Contains(got, ".globl\tbuf") {
		t.Errorf("static global should not be exported:\n%s", got)
	}
	if strings.Contains(got, ".type\t.LC0") {
		t.Errorf("local constant should not get a type:\n%s", got)
	}
}

func TestPrintBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"short zeros stay bytes", []byte{1, 0, 0, 2}, "\t.byte\t1,0,0,2\n"},
		{"long zero run", append([]byte{5}, make([]byte, 10)...), "\t.byte\t5,0,0,0,0,0,0,0,0,0,0\n"},
		{"leading zero run", append(make([]byte, 9), 3), "\t.zero\t9\n\t.byte\t3\n"},
		{"wraps at sixteen", bytes.Repeat([]byte{1}, 17), "\t.byte\t" + strings.Repeat("1,", 15) + "1\n\t.byte\t1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf).printBytes(tt.data)
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
