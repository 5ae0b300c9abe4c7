// Package ast defines the syntax tree produced by the parser.
package ast

import "github.com/rill-lang/rill/pkg/token"

// Expr represents an expression node.
type Expr interface {
	exprNode()
}

// Stmt represents a statement node.
type Stmt interface {
	stmtNode()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// IntLit is an integer literal.
type IntLit struct {
	Value int64
	Tok   token.Token
}

// FloatLit is a floating-point literal.
type FloatLit struct {
	Value float64
	Tok   token.Token
}

// StringLit is a string literal.
type StringLit struct {
	Value string
	Tok   token.Token
}

// BoolLit is true or false.
type BoolLit struct {
	Value bool
	Tok   token.Token
}

// NullLit is the null literal.
type NullLit struct {
	Tok token.Token
}

// BinaryExpr is left op right, including pipe send (left <- right).
type BinaryExpr struct {
	Left  Expr
	Right Expr
	Op    token.Token
}

// LogicalExpr is a short-circuiting && or ||.
type LogicalExpr struct {
	Left  Expr
	Right Expr
	Op    token.Token
}

// UnaryExpr is a prefix operator: ! - ~ ++ -- and pipe receive (<- right).
type UnaryExpr struct {
	Right Expr
	Op    token.Token
}

// PostfixExpr is a postfix ++ or --.
type PostfixExpr struct {
	Left Expr
	Op   token.Token
}

// GroupingExpr is a parenthesized expression.
type GroupingExpr struct {
	Grouped Expr
}

// VariableExpr is a bare identifier reference.
type VariableExpr struct {
	Name token.Token
}

// AssignExpr assigns to a variable: name = value, or a compound form.
type AssignExpr struct {
	Name  token.Token
	Value Expr
	Op    token.Token // =, +=, -=, *=, /=, %=
}

// SetIndexExpr assigns through an index: target[index] = value.
type SetIndexExpr struct {
	Target Expr
	Index  Expr
	Value  Expr
	Op     token.Token
}

// SetDotExpr assigns through a field: target.key = value.
type SetDotExpr struct {
	Target Expr
	Key    token.Token
	Value  Expr
	Op     token.Token
}

// CallExpr is callee(args...).
type CallExpr struct {
	Callee Expr
	Args   []Expr
}

// ArrayExpr is an array literal.
type ArrayExpr struct {
	Elements []Expr
}

// ObjectExpr is an object literal. Keys and Values are parallel slices so
// compilation order is deterministic.
type ObjectExpr struct {
	Keys   []string
	Values []Expr
}

// IndexExpr is target[index].
type IndexExpr struct {
	Target Expr
	Index  Expr
}

// DotExpr is target.key.
type DotExpr struct {
	Target Expr
	Key    token.Token
}

// TernaryExpr is cond ? then : else.
type TernaryExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// LambdaExpr is an anonymous function: fn(p...) { body } or fn(p...) -> expr.
type LambdaExpr struct {
	Params []token.Token
	Body   []Stmt
}

// SelfExpr is the self keyword inside a method.
type SelfExpr struct {
	Keyword token.Token
}

// SpawnExpr launches green threads: spawn count? { body }. Count is nil for
// a single thread. Evaluates to a thread handle, or an array of handles when
// count is given.
type SpawnExpr struct {
	Count Expr
	Body  []Stmt
}

func (*IntLit) exprNode()       {}
func (*FloatLit) exprNode()     {}
func (*StringLit) exprNode()    {}
func (*BoolLit) exprNode()      {}
func (*NullLit) exprNode()      {}
func (*BinaryExpr) exprNode()   {}
func (*LogicalExpr) exprNode()  {}
func (*UnaryExpr) exprNode()    {}
func (*PostfixExpr) exprNode()  {}
func (*GroupingExpr) exprNode() {}
func (*VariableExpr) exprNode() {}
func (*AssignExpr) exprNode()   {}
func (*SetIndexExpr) exprNode() {}
func (*SetDotExpr) exprNode()   {}
func (*CallExpr) exprNode()     {}
func (*ArrayExpr) exprNode()    {}
func (*ObjectExpr) exprNode()   {}
func (*IndexExpr) exprNode()    {}
func (*DotExpr) exprNode()      {}
func (*TernaryExpr) exprNode()  {}
func (*LambdaExpr) exprNode()   {}
func (*SelfExpr) exprNode()     {}
func (*SpawnExpr) exprNode()    {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	Expr Expr
}

// DispStmt prints a value: disp expr;
type DispStmt struct {
	Expr Expr
}

// LetStmt declares a variable: let name = init;
type LetStmt struct {
	Name token.Token
	Init Expr // nil means null
}

// BlockStmt is { statements }.
type BlockStmt struct {
	Statements []Stmt
}

// IfStmt is if cond { } else ... .
type IfStmt struct {
	Cond Expr
	Then *BlockStmt
	Else Stmt // *BlockStmt or *IfStmt, nil if absent
}

// WhileStmt is while cond { body }. C-style for loops desugar to this.
type WhileStmt struct {
	Cond Expr
	Body Stmt
}

// ForEachStmt is for value[, index] in iterable { body }.
type ForEachStmt struct {
	Value    token.Token
	Index    token.Token // zero token when no index variable
	HasIndex bool
	Iterable Expr
	Body     *BlockStmt
}

// FunctionStmt declares a named function or a struct method.
type FunctionStmt struct {
	Name   token.Token
	Params []token.Token
	Body   []Stmt
}

// ReturnStmt is return expr?; .
type ReturnStmt struct {
	Value Expr // nil means null
	Tok   token.Token
}

// StructStmt declares a struct and its methods.
type StructStmt struct {
	Name    token.Token
	Methods []*FunctionStmt
}

// CloseStmt closes a pipe: close(expr);
type CloseStmt struct {
	Pipe Expr
}

// SelectClause is one arm of a select statement. Left is nil for the
// discard-receive form (<- pipe). When Left is a bare identifier the clause
// is receive-or-send depending on whether the name resolves at compile time;
// the compiler makes that call, not the parser.
type SelectClause struct {
	Left  Expr // nil, binding identifier, or pipe expression
	Right Expr // pipe (receive) or value (send)
	Body  *BlockStmt
}

// SelectStmt is a select over pipe operations with an optional default.
type SelectStmt struct {
	Clauses []SelectClause
	Default *BlockStmt // nil if absent
}

func (*ExprStmt) stmtNode()     {}
func (*DispStmt) stmtNode()     {}
func (*LetStmt) stmtNode()      {}
func (*BlockStmt) stmtNode()    {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*ForEachStmt) stmtNode()  {}
func (*FunctionStmt) stmtNode() {}
func (*ReturnStmt) stmtNode()   {}
func (*StructStmt) stmtNode()   {}
func (*CloseStmt) stmtNode()    {}
func (*SelectStmt) stmtNode()   {}
