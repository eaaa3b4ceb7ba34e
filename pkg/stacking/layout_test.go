package stacking

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-x64/pkg/asm"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
	"github.com/raymyers/ralph-x64/pkg/linear"
	"github.com/raymyers/ralph-x64/pkg/ltl"
)

func access(op ir.Opcode, mode ir.AddrMode, slot int, off int64) linear.Instruction {
	in := ltl.Instr{Op: op, Type: ir.I64, Dst: ltl.RAX}
	in.Mode, in.Slot, in.Off, in.Mem = mode, slot, off, ir.M64
	return linear.Lop{Instr: in}
}

func spill(op ir.Opcode, slot int) linear.Instruction {
	in := ltl.Instr{Op: op, Type: ir.I64, Dst: ltl.RAX}
	in.Slot = slot
	return linear.Lop{Instr: in}
}

func TestLayout(t *testing.T) {
	fn := linear.NewFunction("f")
	fn.Locals = []ir.Local{
		{Name: "a", Size: 4, Align: 4, Param: -1},
		{Name: "b", Size: 16, Align: 16, Param: -1},
		{Name: "unused", Size: 400, Align: 8, Param: -1},
	}
	fn.Spills = []ir.Type{ir.I64, ir.F64}
	fn.Used = ltl.MaskOf(ltl.RAX, ltl.R12, ltl.RBX)
	fn.Code = []linear.Instruction{
		linear.Llabel{Lbl: 0},
		access(ir.OpLoad, ir.AddrLocal, 0, 0),
		access(ir.OpStore, ir.AddrLocal, 1, 8),
		access(ir.OpStore, ir.AddrOutgoing, 0, 8),
		spill(ir.OpSpill, 0),
		spill(ir.OpReload, 1),
		linear.Lreturn{Instr: ltl.Instr{Op: ir.OpReturn}},
	}

	got, err := Layout(fn)
	if err != nil {
		t.Fatal(err)
	}
	want := &Frame{
		CalleeSaved:  []ltl.MReg{ltl.RBX, ltl.R12},
		LocalOffsets: []int64{-20, -48, 0},
		UsedLocals:   []bool{true, true, false},
		SpillOffsets: []int64{-56, -64},
		Size:         64,
		OutgoingSize: 16,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
	// rbp is 16-byte aligned; the pushes plus the allocation keep rsp so
	if total := int64(len(got.CalleeSaved))*8 + got.Size; total%16 != 0 {
		t.Errorf("frame of %d bytes breaks stack alignment", total)
	}
}

func TestLayoutAlignment(t *testing.T) {
	tests := []struct {
		name     string
		pushed   ltl.RegMask
		locals   int64
		outgoing int64
		want     int64
	}{
		{"empty", 0, 0, 0, 0},
		{"one push no locals", ltl.MaskOf(ltl.RBX), 0, 0, 8},
		{"one push one local", ltl.MaskOf(ltl.RBX), 8, 0, 8},
		{"two pushes", ltl.MaskOf(ltl.RBX, ltl.R15), 8, 0, 16},
		{"outgoing area", 0, 8, 24, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := linear.NewFunction("f")
			fn.Used = tt.pushed
			fn.OutgoingSize = tt.outgoing
			if tt.locals > 0 {
				fn.Locals = []ir.Local{{Size: tt.locals, Align: 8, Param: -1}}
				fn.Append(access(ir.OpLoad, ir.AddrLocal, 0, 0))
			}
			if tt.outgoing > 0 {
				in := ltl.Instr{Op: ir.OpOutgoingAddr, Type: ir.I64, Dst: ltl.RAX}
				fn.Append(linear.Lop{Instr: in})
			}
			got, err := Layout(fn)
			if err != nil {
				t.Fatal(err)
			}
			if got.Size != tt.want {
				t.Errorf("Size = %d, want %d", got.Size, tt.want)
			}
		})
	}
}

func TestLayoutVariadic(t *testing.T) {
	fn := linear.NewFunction("sum")
	fn.Locals = []ir.Local{{Name: "__va_regs", Size: 176, Align: 16, Param: -1}}
	fn.RegSaveSlot = 0
	fn.UsedGP = 1
	got, err := Layout(fn)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Variadic || got.RegSave != -176 || got.Size != 176 {
		t.Errorf("got variadic=%v regsave=%d size=%d, want true/-176/176", got.Variadic, got.RegSave, got.Size)
	}
	if got.UsedGP != 1 {
		t.Errorf("UsedGP = %d, want 1", got.UsedGP)
	}
}

func TestLayoutOverAligned(t *testing.T) {
	fn := linear.NewFunction("f")
	fn.Locals = []ir.Local{{Name: "v", Size: 32, Align: 32, Param: -1}}
	fn.Append(access(ir.OpLoad, ir.AddrLocal, 0, 0))
	_, err := Layout(fn)
	if !errors.Is(err, diag.ErrNotImplemented) {
		t.Errorf("got %v, want not implemented", err)
	}
}

func TestSlotMem(t *testing.T) {
	f := &Frame{LocalOffsets: []int64{-24}}
	tests := []struct {
		name string
		mode ir.AddrMode
		slot int
		off  int64
		want string
	}{
		{"local", ir.AddrLocal, 0, 4, "-20(%rbp)"},
		{"incoming", ir.AddrIncoming, 0, 8, "24(%rbp)"},
		{"outgoing", ir.AddrOutgoing, 0, 0, "(%rsp)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := f.SlotMem(tt.mode, tt.slot, tt.off)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, asm.FormatOperand(m)); diff != "" {
				t.Errorf("operand mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if _, err := f.SlotMem(ir.AddrReg, 0, 0); err == nil {
		t.Error("expected an error for a register address")
	}
	if _, err := f.SlotMem(ir.AddrLocal, 3, 0); err == nil {
		t.Error("expected an error for a missing local")
	}
}
