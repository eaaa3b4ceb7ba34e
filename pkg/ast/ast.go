// Package ast defines the typed, validated C syntax tree consumed by the
// IR builder. Every expression carries its resolved type; identifiers are
// resolved to a declaration in an enclosing scope.
package ast

import (
	"github.com/raymyers/ralph-x64/pkg/ctypes"
	"github.com/raymyers/ralph-x64/pkg/diag"
)

// Node is the base interface for all AST nodes
type Node interface {
	implNode()
}

// Expr is an expression with its resolved type
type Expr interface {
	Node
	implExpr()
	ExprType() ctypes.Type
}

// Stmt is a statement
type Stmt interface {
	Node
	implStmt()
}

// UnaryOp is a unary operator
type UnaryOp int

const (
	Neg     UnaryOp = iota // -x
	Plus                   // +x
	BitNot                 // ~x
	LogNot                 // !x
	Deref                  // *p
	AddrOf                 // &x
)

func (op UnaryOp) String() string {
	names := []string{"-", "+", "~", "!", "*", "&"}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// BinaryOp is a binary operator
type BinaryOp int

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Mod
	And
	Or
	Xor
	Shl
	Shr
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	LogAnd
	LogOr
)

var binaryNames = []string{"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>",
	"==", "!=", "<", "<=", ">", ">=", "&&", "||"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryNames) {
		return binaryNames[op]
	}
	return "?"
}

// IsComparison reports whether op yields an int truth value from a
// comparison of its operands.
func (op BinaryOp) IsComparison() bool { return op >= Eq && op <= Ge }

// --- Expressions ---

// IntConst is an integer constant
type IntConst struct {
	Value int64
	Typ   ctypes.Type
}

// FloatConst is a floating-point constant
type FloatConst struct {
	Value float64
	Typ   ctypes.Type
}

// StringLit is a string literal; its type is a char array including
// the terminating NUL
type StringLit struct {
	Value string
	Typ   ctypes.Type
}

// Ident references a variable, parameter or function
type Ident struct {
	Name string
	Typ  ctypes.Type
}

// Unary is a unary operation
type Unary struct {
	Op  UnaryOp
	X   Expr
	Typ ctypes.Type
}

// Binary is a binary operation. Operands keep their own types; the
// builder applies the usual arithmetic conversions.
type Binary struct {
	Op  BinaryOp
	X   Expr
	Y   Expr
	Typ ctypes.Type
}

// Assign is a simple assignment
type Assign struct {
	LHS Expr
	RHS Expr
	Typ ctypes.Type
}

// CompoundAssign is an assignment operator such as += or <<=
type CompoundAssign struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
	Typ ctypes.Type
}

// IncDec is ++ or -- in prefix or postfix position
type IncDec struct {
	Inc    bool
	Prefix bool
	X      Expr
	Typ    ctypes.Type
}

// Cast converts X to Typ
type Cast struct {
	X   Expr
	Typ ctypes.Type
}

// Cond is the conditional operator c ? a : b
type Cond struct {
	C    Expr
	Then Expr
	Else Expr
	Typ  ctypes.Type
}

// Call is a function call
type Call struct {
	Func Expr
	Args []Expr
	Typ  ctypes.Type
}

// Member is s.f or p->f
type Member struct {
	X     Expr
	Name  string
	Arrow bool
	Typ   ctypes.Type
}

// Index is a[i]
type Index struct {
	X   Expr
	Idx Expr
	Typ ctypes.Type
}

// Comma evaluates X for its side effects and yields Y
type Comma struct {
	X   Expr
	Y   Expr
	Typ ctypes.Type
}

// AddrOfLabel is the GNU &&label extension
type AddrOfLabel struct {
	Label string
	Typ   ctypes.Type
}

// Builtin is a call to a compiler builtin such as __builtin_popcount.
// ArgType is the type operand of va_arg.
type Builtin struct {
	Name    string
	Args    []Expr
	ArgType ctypes.Type
	Typ     ctypes.Type
}

// ComplexPart is __real__ x or __imag__ x
type ComplexPart struct {
	Imag bool
	X    Expr
	Typ  ctypes.Type
}

// --- Statements ---

// ExprStmt evaluates an expression and discards the result
type ExprStmt struct {
	X   Expr
	Pos diag.Pos
}

// Init is an initializer: either a single expression or a brace list
// of positional initializers
type Init struct {
	Expr Expr
	List []*Init
}

// Decl declares a block-scope variable
type Decl struct {
	Name   string
	Typ    ctypes.Type
	Init   *Init
	Static bool
	Pos    diag.Pos
}

// Block is a compound statement opening a scope
type Block struct {
	Items []Stmt
	Pos   diag.Pos
}

// If is an if statement; Else may be nil
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt
	Pos  diag.Pos
}

// While is a while loop
type While struct {
	Cond Expr
	Body Stmt
	Pos  diag.Pos
}

// DoWhile is a do-while loop
type DoWhile struct {
	Body Stmt
	Cond Expr
	Pos  diag.Pos
}

// For is a for loop; Init, Cond and Post may be nil
type For struct {
	Init Stmt
	Cond Expr
	Post Expr
	Body Stmt
	Pos  diag.Pos
}

// Switch is a switch statement. Case and Default labels appear inside
// Body.
type Switch struct {
	X    Expr
	Body Stmt
	Pos  diag.Pos
}

// Case labels the following statement with the values Lo..Hi (Lo == Hi
// for a plain case)
type Case struct {
	Lo, Hi int64
	Pos    diag.Pos
}

// Default labels the default branch of the enclosing switch
type Default struct {
	Pos diag.Pos
}

// Break leaves the innermost loop or switch
type Break struct {
	Pos diag.Pos
}

// Continue jumps to the next iteration of the innermost loop
type Continue struct {
	Pos diag.Pos
}

// Return returns from the function; X is nil for void returns
type Return struct {
	X   Expr
	Pos diag.Pos
}

// Goto jumps to a named label
type Goto struct {
	Label string
	Pos   diag.Pos
}

// IndirectGoto is goto *X
type IndirectGoto struct {
	X   Expr
	Pos diag.Pos
}

// Label defines a named label at this point
type Label struct {
	Name string
	Pos  diag.Pos
}

// AsmOperand is one operand of an extended asm statement. Constraint
// keeps its modifiers ("=r", "+m", "=&r", "0").
type AsmOperand struct {
	Name       string
	Constraint string
	X          Expr
}

// InlineAsm is a GNU extended inline assembly statement
type InlineAsm struct {
	Template string
	Outputs  []AsmOperand
	Inputs   []AsmOperand
	Clobbers []string
	Labels   []string
	Volatile bool
	Pos      diag.Pos
}

// --- Top level ---

// Param is a named function parameter
type Param struct {
	Name string
	Typ  ctypes.Type
}

// FuncDef is a function definition
type FuncDef struct {
	Name   string
	Typ    ctypes.Tfunction
	Params []Param
	Body   *Block
	Static bool
	Pos    diag.Pos
}

// GlobalVar is a variable with static storage duration. Extern
// declarations have no initializer and no storage.
type GlobalVar struct {
	Name        string
	Typ         ctypes.Type
	Init        *Init
	Static      bool
	Extern      bool
	Const       bool
	ThreadLocal bool
	Pos         diag.Pos
}

// FuncDecl declares a function defined elsewhere
type FuncDecl struct {
	Name string
	Typ  ctypes.Tfunction
}

// Program is one translation unit
type Program struct {
	Name      string
	Types     *ctypes.Registry
	Globals   []*GlobalVar
	Decls     []*FuncDecl
	Functions []*FuncDef
}

// Marker methods

func (IntConst) implNode()       {}
func (FloatConst) implNode()     {}
func (StringLit) implNode()      {}
func (Ident) implNode()          {}
func (Unary) implNode()          {}
func (Binary) implNode()         {}
func (Assign) implNode()         {}
func (CompoundAssign) implNode() {}
func (IncDec) implNode()         {}
func (Cast) implNode()           {}
func (Cond) implNode()           {}
func (Call) implNode()           {}
func (Member) implNode()         {}
func (Index) implNode()          {}
func (Comma) implNode()          {}
func (AddrOfLabel) implNode()    {}
func (Builtin) implNode()        {}
func (ComplexPart) implNode()    {}

func (IntConst) implExpr()       {}
func (FloatConst) implExpr()     {}
func (StringLit) implExpr()      {}
func (Ident) implExpr()          {}
func (Unary) implExpr()          {}
func (Binary) implExpr()         {}
func (Assign) implExpr()         {}
func (CompoundAssign) implExpr() {}
func (IncDec) implExpr()         {}
func (Cast) implExpr()           {}
func (Cond) implExpr()           {}
func (Call) implExpr()           {}
func (Member) implExpr()         {}
func (Index) implExpr()          {}
func (Comma) implExpr()          {}
func (AddrOfLabel) implExpr()    {}
func (Builtin) implExpr()        {}
func (ComplexPart) implExpr()    {}

func (e IntConst) ExprType() ctypes.Type       { return e.Typ }
func (e FloatConst) ExprType() ctypes.Type     { return e.Typ }
func (e StringLit) ExprType() ctypes.Type      { return e.Typ }
func (e Ident) ExprType() ctypes.Type          { return e.Typ }
func (e Unary) ExprType() ctypes.Type          { return e.Typ }
func (e Binary) ExprType() ctypes.Type         { return e.Typ }
func (e Assign) ExprType() ctypes.Type         { return e.Typ }
func (e CompoundAssign) ExprType() ctypes.Type { return e.Typ }
func (e IncDec) ExprType() ctypes.Type         { return e.Typ }
func (e Cast) ExprType() ctypes.Type           { return e.Typ }
func (e Cond) ExprType() ctypes.Type           { return e.Typ }
func (e Call) ExprType() ctypes.Type           { return e.Typ }
func (e Member) ExprType() ctypes.Type         { return e.Typ }
func (e Index) ExprType() ctypes.Type          { return e.Typ }
func (e Comma) ExprType() ctypes.Type          { return e.Typ }
func (e AddrOfLabel) ExprType() ctypes.Type    { return e.Typ }
func (e Builtin) ExprType() ctypes.Type        { return e.Typ }
func (e ComplexPart) ExprType() ctypes.Type    { return e.Typ }

func (ExprStmt) implNode()     {}
func (Decl) implNode()         {}
func (Block) implNode()        {}
func (If) implNode()           {}
func (While) implNode()        {}
func (DoWhile) implNode()      {}
func (For) implNode()          {}
func (Switch) implNode()       {}
func (Case) implNode()         {}
func (Default) implNode()      {}
func (Break) implNode()        {}
func (Continue) implNode()     {}
func (Return) implNode()       {}
func (Goto) implNode()         {}
func (IndirectGoto) implNode() {}
func (Label) implNode()        {}
func (InlineAsm) implNode()    {}

func (ExprStmt) implStmt()     {}
func (Decl) implStmt()         {}
func (Block) implStmt()        {}
func (If) implStmt()           {}
func (While) implStmt()        {}
func (DoWhile) implStmt()      {}
func (For) implStmt()          {}
func (Switch) implStmt()       {}
func (Case) implStmt()         {}
func (Default) implStmt()      {}
func (Break) implStmt()        {}
func (Continue) implStmt()     {}
func (Return) implStmt()       {}
func (Goto) implStmt()         {}
func (IndirectGoto) implStmt() {}
func (Label) implStmt()        {}
func (InlineAsm) implStmt()    {}

// StmtPos returns the source position of a statement.
func StmtPos(s Stmt) diag.Pos {
	switch s := s.(type) {
	case ExprStmt:
		return s.Pos
	case Decl:
		return s.Pos
	case Block:
		return s.Pos
	case If:
		return s.Pos
	case While:
		return s.Pos
	case DoWhile:
		return s.Pos
	case For:
		return s.Pos
	case Switch:
		return s.Pos
	case Case:
		return s.Pos
	case Default:
		return s.Pos
	case Break:
		return s.Pos
	case Continue:
		return s.Pos
	case Return:
		return s.Pos
	case Goto:
		return s.Pos
	case IndirectGoto:
		return s.Pos
	case Label:
		return s.Pos
	case InlineAsm:
		return s.Pos
	}
	return diag.Pos{}
}
