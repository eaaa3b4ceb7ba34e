package ltl

import (
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
	"github.com/raymyers/ralph-x64/pkg/ir"
)

// Instr is an instruction whose operands are machine registers. Frame
// accesses are explicit: spill slots through OpSpill/OpReload, locals
// and argument areas through the addressing mode of loads and stores.
type Instr struct {
	Op       ir.Opcode
	Type     ir.Type
	Dst      MReg // NoReg when the instruction defines no register
	Args     []MReg
	ArgTypes []ir.Type
	Temps    int // trailing Args reserved as scratch registers
	Target   int // block whose address OpLabelAddr takes
	ir.Payload

	Clobbers RegMask
	// Results holds the registers receiving the outputs of an inline asm
	// statement, by result index; NoReg for an output nobody reads.
	Results []MReg
	// Var is where the variable of an OpDbgValue marker lives from here
	// on; nil when it is unknown or, with HasImm, a constant.
	Var Loc
}

// Operands returns the value operands, without the scratch registers.
func (in *Instr) Operands() []MReg { return in.Args[:len(in.Args)-in.Temps] }

// Scratch returns the scratch registers reserved for the instruction.
func (in *Instr) Scratch() []MReg { return in.Args[len(in.Args)-in.Temps:] }

// Block is a basic block of an allocated function. The last
// instruction is the terminator; Succs follows the same conventions as
// the SSA form (then/else, default first for jump tables, fall-through
// first for asm goto).
type Block struct {
	ID        int
	Instrs    []Instr
	Succs     []int
	AddrTaken bool
	LoopDepth int
}

// Terminator returns the last instruction of b.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return &b.Instrs[len(b.Instrs)-1]
}

// ParamLoc records where a named parameter arrives.
type ParamLoc struct {
	Name string
	Loc  Loc
}

// Function is a function after register allocation.
type Function struct {
	Name   string
	Static bool
	Pos    diag.Pos
	Type   ctypes.Tfunction
	Locals []ir.Local
	// Blocks is indexed by block ID; removed blocks are nil.
	Blocks []*Block
	Entry  int

	// Spills holds the value type of each spill slot.
	Spills []ir.Type
	// Used holds every register the function writes.
	Used RegMask

	RegSaveSlot  int
	OutgoingSize int64
	// UsedGP and UsedSSE count the argument registers taken by named
	// parameters, for the variadic register save area.
	UsedGP, UsedSSE int

	Params []ParamLoc
}

// LiveBlocks returns the blocks of fn in ID order.
func (fn *Function) LiveBlocks() []*Block {
	var out []*Block
	for _, b := range fn.Blocks {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Preds computes the predecessor lists of every block.
func (fn *Function) Preds() [][]int {
	preds := make([][]int, len(fn.Blocks))
	for _, b := range fn.LiveBlocks() {
		for _, s := range b.Succs {
			preds[s] = append(preds[s], b.ID)
		}
	}
	return preds
}

// CalleeSavedUsed returns the callee-saved registers fn overwrites.
func (fn *Function) CalleeSavedUsed() RegMask { return fn.Used & CalleeSaved }
