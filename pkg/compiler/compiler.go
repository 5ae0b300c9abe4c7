// Package compiler lowers the syntax tree into bytecode chunks.
package compiler

import (
	"fmt"

	"github.com/rill-lang/rill/pkg/ast"
	"github.com/rill-lang/rill/pkg/bytecode"
	"github.com/rill-lang/rill/pkg/token"
)

// funcKind tells the compiler what sort of function body it is in,
// which changes implicit returns and receiver handling.
type funcKind int

const (
	funcScript funcKind = iota
	funcFunction
	funcMethod
	funcInitializer
)

// Compiler lowers one function body. Nested functions get their own
// Compiler chained through enclosing, sharing the globals set.
type Compiler struct {
	enclosing *Compiler
	fn        *bytecode.Function
	scope     *ScopeManager
	kind      funcKind

	// Global names defined so far, shared by the whole compilation.
	// Used to classify select clauses and nothing else; globals resolve
	// by name at runtime.
	globals map[string]bool

	line int
}

// Compile lowers a parsed program into its top-level function. The
// result has arity 0 and runs as the main thread's only frame.
func Compile(program []ast.Stmt) (*bytecode.Function, error) {
	c := newCompiler(nil, "$main", 0, funcScript)
	for _, stmt := range program {
		if err := c.compileStmt(stmt); err != nil {
			return nil, err
		}
	}
	c.emitImplicitReturn()
	return c.fn, nil
}

func newCompiler(enclosing *Compiler, name string, arity int, kind funcKind) *Compiler {
	var parentScope *ScopeManager
	globals := make(map[string]bool)
	line := 1
	if enclosing != nil {
		parentScope = enclosing.scope
		globals = enclosing.globals
		line = enclosing.line
	}

	c := &Compiler{
		enclosing: enclosing,
		fn:        bytecode.NewFunction(name, arity),
		scope:     NewScopeManager(parentScope, kind == funcMethod || kind == funcInitializer),
		kind:      kind,
		globals:   globals,
		line:      line,
	}
	if kind != funcScript {
		c.scope.BeginScope()
	}
	return c
}

// ---------------------------------------------------------------------------
// Emit helpers
// ---------------------------------------------------------------------------

func (c *Compiler) chunk() *bytecode.Chunk { return c.fn.Chunk }

func (c *Compiler) setLine(tok token.Token) {
	if tok.Pos.Line > 0 {
		c.line = tok.Pos.Line
	}
}

func (c *Compiler) emit(op bytecode.Opcode)                     { c.chunk().Write(op, c.line) }
func (c *Compiler) emitWithByte(op bytecode.Opcode, b byte)     { c.chunk().EmitWithByte(op, b, c.line) }
func (c *Compiler) emitWithUint16(op bytecode.Opcode, v uint16) { c.chunk().EmitWithUint16(op, v, c.line) }
func (c *Compiler) writeByte(b byte)                            { c.chunk().WriteByte(b, c.line) }

func (c *Compiler) emitConstant(constant bytecode.Constant) {
	c.emitWithUint16(bytecode.OpConst, c.chunk().AddConstant(constant))
}

// emitIntConstant picks the shortest encoding for an integer literal.
func (c *Compiler) emitIntConstant(v int64) {
	switch {
	case v >= -128 && v <= 127:
		c.emitWithByte(bytecode.OpIConst8, byte(int8(v)))
	case v >= -32768 && v <= 32767:
		c.emitWithUint16(bytecode.OpIConst16, uint16(int16(v)))
	default:
		c.emitConstant(bytecode.IntConst(v))
	}
}

func (c *Compiler) emitBool(b bool) {
	if b {
		c.emit(bytecode.OpTrue)
	} else {
		c.emit(bytecode.OpFalse)
	}
}

func (c *Compiler) emitJump(op bytecode.Opcode) int {
	return c.chunk().EmitJump(op, c.line)
}

func (c *Compiler) patchJump(at int) error {
	if err := c.chunk().PatchJump(at); err != nil {
		return c.errorf("%s", err)
	}
	return nil
}

func (c *Compiler) emitLoop(loopStart int) error {
	if err := c.chunk().EmitLoop(loopStart, c.line); err != nil {
		return c.errorf("%s", err)
	}
	return nil
}

func (c *Compiler) emitImplicitReturn() {
	if c.kind == funcInitializer {
		c.emitWithByte(bytecode.OpLoadLocal, 0)
	} else {
		c.emit(bytecode.OpNull)
	}
	c.emit(bytecode.OpReturn)
}

func (c *Compiler) identifierConstant(name string) uint16 {
	return c.chunk().AddConstant(bytecode.StringConst(name))
}

func (c *Compiler) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", c.line, fmt.Sprintf(format, args...))
}

func (c *Compiler) errorAt(tok token.Token, format string, args ...any) error {
	line := tok.Pos.Line
	if line == 0 {
		line = c.line
	}
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (c *Compiler) declareVariable(name token.Token) error {
	if err := c.scope.Declare(name.Literal); err != nil {
		return c.errorAt(name, "%s", err)
	}
	return nil
}

// defineVariable completes a declaration: globals emit DEFINE_GLOBAL
// consuming the initializer from the stack, locals simply become
// resolvable in place.
func (c *Compiler) defineVariable(name token.Token) {
	if c.scope.Depth() == 0 {
		c.emitWithUint16(bytecode.OpDefineGlobal, c.identifierConstant(name.Literal))
		c.globals[name.Literal] = true
		return
	}
	c.scope.MarkInitialized()
}

func (c *Compiler) emitLoadVar(name token.Token) error {
	slot, err := c.scope.ResolveLocal(name.Literal)
	if err != nil {
		return c.errorAt(name, "%s", err)
	}
	if slot != -1 {
		c.emitWithByte(bytecode.OpLoadLocal, byte(slot))
		return nil
	}

	upvalue, err := c.scope.ResolveUpvalue(name.Literal)
	if err != nil {
		return c.errorAt(name, "%s", err)
	}
	if upvalue != -1 {
		c.emitWithByte(bytecode.OpLoadUpvalue, byte(upvalue))
		return nil
	}

	c.emitWithUint16(bytecode.OpLoadGlobal, c.identifierConstant(name.Literal))
	return nil
}

func (c *Compiler) emitStoreVar(name token.Token) error {
	slot, err := c.scope.ResolveLocal(name.Literal)
	if err != nil {
		return c.errorAt(name, "%s", err)
	}
	if slot != -1 {
		c.emitWithByte(bytecode.OpStoreLocal, byte(slot))
		return nil
	}

	upvalue, err := c.scope.ResolveUpvalue(name.Literal)
	if err != nil {
		return c.errorAt(name, "%s", err)
	}
	if upvalue != -1 {
		c.emitWithByte(bytecode.OpStoreUpvalue, byte(upvalue))
		return nil
	}

	c.emitWithUint16(bytecode.OpStoreGlobal, c.identifierConstant(name.Literal))
	return nil
}

func (c *Compiler) beginScope() { c.scope.BeginScope() }

func (c *Compiler) endScope() {
	c.scope.EndScope(func(captured bool) {
		if captured {
			c.emit(bytecode.OpCloseUpvalue)
		} else {
			c.emit(bytecode.OpPop)
		}
	})
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(stmt ast.Stmt) error {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		if err := c.compileExpr(s.Expr); err != nil {
			return err
		}
		c.emit(bytecode.OpPop)
		return nil

	case *ast.DispStmt:
		if err := c.compileExpr(s.Expr); err != nil {
			return err
		}
		c.emit(bytecode.OpPrint)
		return nil

	case *ast.LetStmt:
		return c.compileLet(s)

	case *ast.BlockStmt:
		c.beginScope()
		for _, inner := range s.Statements {
			if err := c.compileStmt(inner); err != nil {
				return err
			}
		}
		c.endScope()
		return nil

	case *ast.IfStmt:
		return c.compileIf(s)

	case *ast.WhileStmt:
		return c.compileWhile(s)

	case *ast.ForEachStmt:
		return c.compileForEach(s)

	case *ast.FunctionStmt:
		return c.compileFunctionStmt(s)

	case *ast.ReturnStmt:
		return c.compileReturn(s)

	case *ast.StructStmt:
		return c.compileStruct(s)

	case *ast.CloseStmt:
		if err := c.compileExpr(s.Pipe); err != nil {
			return err
		}
		c.emit(bytecode.OpClosePipe)
		return nil

	case *ast.SelectStmt:
		return c.compileSelect(s)

	default:
		return fmt.Errorf("unsupported statement type: %T", stmt)
	}
}

func (c *Compiler) compileLet(s *ast.LetStmt) error {
	c.setLine(s.Name)
	if err := c.declareVariable(s.Name); err != nil {
		return err
	}
	if s.Init != nil {
		if err := c.compileExpr(s.Init); err != nil {
			return err
		}
	} else {
		c.emit(bytecode.OpNull)
	}
	c.defineVariable(s.Name)
	return nil
}

// compileIf pops the condition explicitly on both paths, since the
// conditional jumps only peek.
func (c *Compiler) compileIf(s *ast.IfStmt) error {
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)
	if err := c.compileStmt(s.Then); err != nil {
		return err
	}

	elseJump := c.emitJump(bytecode.OpJump)
	if err := c.patchJump(thenJump); err != nil {
		return err
	}
	c.emit(bytecode.OpPop)

	if s.Else != nil {
		if err := c.compileStmt(s.Else); err != nil {
			return err
		}
	}
	return c.patchJump(elseJump)
}

func (c *Compiler) compileWhile(s *ast.WhileStmt) error {
	loopStart := c.chunk().CurrentOffset()
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)
	if err := c.compileStmt(s.Body); err != nil {
		return err
	}
	if err := c.emitLoop(loopStart); err != nil {
		return err
	}

	if err := c.patchJump(exitJump); err != nil {
		return err
	}
	c.emit(bytecode.OpPop)
	return nil
}

// compileForEach pins the iterator in a hidden local and stores each
// element (and optionally its index) into the loop variables before the
// body runs. ITER_NEXT pushes the element and an ok flag; the exhausted
// iteration leaves null/false to unwind at the exit label.
func (c *Compiler) compileForEach(s *ast.ForEachStmt) error {
	c.setLine(s.Value)
	if err := c.compileExpr(s.Iterable); err != nil {
		return err
	}
	c.emit(bytecode.OpGetIter)

	c.beginScope()

	// The space in the name keeps user code from shadowing the slot.
	if err := c.scope.Declare(" iter"); err != nil {
		return c.errorAt(s.Value, "%s", err)
	}
	c.scope.MarkInitialized()
	iterSlot := len(c.scope.Locals) - 1

	c.emit(bytecode.OpNull)
	if err := c.declareVariable(s.Value); err != nil {
		return err
	}
	c.scope.MarkInitialized()
	valueSlot := len(c.scope.Locals) - 1

	indexSlot := -1
	if s.HasIndex {
		c.emit(bytecode.OpNull)
		if err := c.declareVariable(s.Index); err != nil {
			return err
		}
		c.scope.MarkInitialized()
		indexSlot = len(c.scope.Locals) - 1
	}

	loopStart := c.chunk().CurrentOffset()
	c.emitWithByte(bytecode.OpIterNext, byte(iterSlot))
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)

	c.emit(bytecode.OpPop) // ok flag
	c.emitWithByte(bytecode.OpStoreLocal, byte(valueSlot))
	c.emit(bytecode.OpPop)
	if s.HasIndex {
		c.emitWithByte(bytecode.OpLoadIterIndex, byte(iterSlot))
		c.emitWithByte(bytecode.OpStoreLocal, byte(indexSlot))
		c.emit(bytecode.OpPop)
	}

	if err := c.compileStmt(s.Body); err != nil {
		return err
	}
	if err := c.emitLoop(loopStart); err != nil {
		return err
	}

	if err := c.patchJump(exitJump); err != nil {
		return err
	}
	c.emit(bytecode.OpPop) // ok flag
	c.emit(bytecode.OpPop) // exhausted element

	c.endScope()
	return nil
}

func (c *Compiler) compileFunctionStmt(s *ast.FunctionStmt) error {
	c.setLine(s.Name)
	if err := c.declareVariable(s.Name); err != nil {
		return err
	}
	// Local functions resolve inside their own body so they can recurse.
	if c.scope.Depth() > 0 {
		c.scope.MarkInitialized()
	}
	if err := c.compileFunction(s.Name.Literal, s.Params, s.Body, funcFunction); err != nil {
		return err
	}
	c.defineVariable(s.Name)
	return nil
}

// compileFunction lowers a nested function body and emits the CLOSURE
// instruction (with its capture descriptors) in the current chunk.
func (c *Compiler) compileFunction(name string, params []token.Token, body []ast.Stmt, kind funcKind) error {
	if len(params) > 255 {
		return c.errorf("Cannot have more than 255 parameters.")
	}

	inner := newCompiler(c, name, len(params), kind)
	for _, p := range params {
		if err := inner.scope.Declare(p.Literal); err != nil {
			return inner.errorAt(p, "%s", err)
		}
		inner.scope.MarkInitialized()
	}
	for _, stmt := range body {
		if err := inner.compileStmt(stmt); err != nil {
			return err
		}
	}
	inner.emitImplicitReturn()
	inner.fn.UpvalueCount = len(inner.scope.Upvalues)
	c.line = inner.line

	idx := c.chunk().AddConstant(bytecode.FuncConst(inner.fn))
	c.emitWithUint16(bytecode.OpClosure, idx)
	for _, uv := range inner.scope.Upvalues {
		if uv.IsLocal {
			c.writeByte(1)
		} else {
			c.writeByte(0)
		}
		c.writeByte(uv.Index)
	}
	return nil
}

func (c *Compiler) compileReturn(s *ast.ReturnStmt) error {
	c.setLine(s.Tok)
	if s.Value == nil {
		c.emitImplicitReturn()
		return nil
	}
	if c.kind == funcInitializer {
		return c.errorAt(s.Tok, "Cannot return a value from an initializer.")
	}
	if err := c.compileExpr(s.Value); err != nil {
		return err
	}
	c.emit(bytecode.OpReturn)
	return nil
}

func (c *Compiler) compileStruct(s *ast.StructStmt) error {
	c.setLine(s.Name)
	if err := c.declareVariable(s.Name); err != nil {
		return err
	}
	c.emitWithUint16(bytecode.OpStruct, c.identifierConstant(s.Name.Literal))
	c.defineVariable(s.Name)

	// Reload the struct value for the method-attach loop.
	if err := c.emitLoadVar(s.Name); err != nil {
		return err
	}
	for _, m := range s.Methods {
		kind := funcMethod
		if m.Name.Literal == "init" {
			kind = funcInitializer
		}
		c.setLine(m.Name)
		if err := c.compileFunction(m.Name.Literal, m.Params, m.Body, kind); err != nil {
			return err
		}
		c.emitWithUint16(bytecode.OpMethod, c.identifierConstant(m.Name.Literal))
	}
	c.emit(bytecode.OpPop)
	return nil
}

// ---------------------------------------------------------------------------
// Select
// ---------------------------------------------------------------------------

type clauseKind int

const (
	clauseRecvDiscard clauseKind = iota
	clauseRecvBind
	clauseSend
)

// classifyClause decides receive versus send for one select arm. A bare
// identifier on the left that resolves to nothing becomes a receive
// binding; everything else with a left side is a send.
func (c *Compiler) classifyClause(cl *ast.SelectClause) clauseKind {
	if cl.Left == nil {
		return clauseRecvDiscard
	}
	if v, ok := cl.Left.(*ast.VariableExpr); ok {
		name := v.Name.Literal
		if !c.scope.CanResolve(name) && !c.globals[name] {
			return clauseRecvBind
		}
	}
	return clauseSend
}

// compileSelect lowers a select statement: one SELECT_BEGIN, one case
// instruction per arm carrying the branch offset to its body, then
// SELECT_EXEC, then the bodies. Receive bindings become locals of the
// select's own scope, materialized by the VM when the case registers.
func (c *Compiler) compileSelect(s *ast.SelectStmt) error {
	if len(s.Clauses) > 255 {
		return c.errorf("Too many select cases.")
	}

	// Classify every arm before any receive binding is declared, so a
	// name bound by an earlier arm cannot turn a later arm into a send.
	kinds := make([]clauseKind, len(s.Clauses))
	for i := range s.Clauses {
		kinds[i] = c.classifyClause(&s.Clauses[i])
	}

	c.beginScope()
	c.emitWithByte(bytecode.OpSelectBegin, byte(len(s.Clauses)))

	jumps := make([]int, 0, len(s.Clauses)+1)
	for i := range s.Clauses {
		cl := &s.Clauses[i]
		switch kinds[i] {
		case clauseRecvDiscard:
			if err := c.compileExpr(cl.Right); err != nil {
				return err
			}
			jumps = append(jumps, c.emitJump(bytecode.OpSelectRecv))
			c.writeByte(bytecode.SelectDiscard)

		case clauseRecvBind:
			if err := c.compileExpr(cl.Right); err != nil {
				return err
			}
			// Arms binding the same name share one slot.
			name := cl.Left.(*ast.VariableExpr).Name
			slot := c.scope.ResolveInScope(name.Literal)
			if slot < 0 {
				if err := c.declareVariable(name); err != nil {
					return err
				}
				c.scope.MarkInitialized()
				slot = len(c.scope.Locals) - 1
			}
			jumps = append(jumps, c.emitJump(bytecode.OpSelectRecv))
			c.writeByte(byte(slot))

		case clauseSend:
			if err := c.compileExpr(cl.Left); err != nil {
				return err
			}
			if err := c.compileExpr(cl.Right); err != nil {
				return err
			}
			jumps = append(jumps, c.emitJump(bytecode.OpSelectSend))
		}
	}
	if s.Default != nil {
		jumps = append(jumps, c.emitJump(bytecode.OpSelectDefault))
	}
	c.emit(bytecode.OpSelectExec)

	bodies := make([]*ast.BlockStmt, 0, len(jumps))
	for i := range s.Clauses {
		bodies = append(bodies, s.Clauses[i].Body)
	}
	if s.Default != nil {
		bodies = append(bodies, s.Default)
	}

	endJumps := make([]int, 0, len(bodies))
	for i, body := range bodies {
		if err := c.patchJump(jumps[i]); err != nil {
			return err
		}
		if err := c.compileStmt(body); err != nil {
			return err
		}
		if i < len(bodies)-1 {
			endJumps = append(endJumps, c.emitJump(bytecode.OpJump))
		}
	}
	for _, end := range endJumps {
		if err := c.patchJump(end); err != nil {
			return err
		}
	}

	c.endScope()
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(expr ast.Expr) error {
	switch e := expr.(type) {
	case *ast.IntLit:
		c.setLine(e.Tok)
		c.emitIntConstant(e.Value)
		return nil

	case *ast.FloatLit:
		c.setLine(e.Tok)
		c.emitConstant(bytecode.FloatConst(e.Value))
		return nil

	case *ast.StringLit:
		c.setLine(e.Tok)
		c.emitConstant(bytecode.StringConst(e.Value))
		return nil

	case *ast.BoolLit:
		c.setLine(e.Tok)
		c.emitBool(e.Value)
		return nil

	case *ast.NullLit:
		c.setLine(e.Tok)
		c.emit(bytecode.OpNull)
		return nil

	case *ast.GroupingExpr:
		return c.compileExpr(e.Grouped)

	case *ast.VariableExpr:
		c.setLine(e.Name)
		return c.emitLoadVar(e.Name)

	case *ast.SelfExpr:
		c.setLine(e.Keyword)
		return c.emitLoadVar(e.Keyword)

	case *ast.AssignExpr:
		return c.compileAssign(e)

	case *ast.SetIndexExpr:
		return c.compileSetIndex(e)

	case *ast.SetDotExpr:
		return c.compileSetDot(e)

	case *ast.BinaryExpr:
		return c.compileBinary(e)

	case *ast.LogicalExpr:
		return c.compileLogical(e)

	case *ast.UnaryExpr:
		return c.compileUnary(e)

	case *ast.PostfixExpr:
		return c.compileCrement(e.Left, e.Op, false)

	case *ast.TernaryExpr:
		return c.compileTernary(e)

	case *ast.CallExpr:
		return c.compileCall(e)

	case *ast.ArrayExpr:
		for _, el := range e.Elements {
			if err := c.compileExpr(el); err != nil {
				return err
			}
		}
		c.emitWithUint16(bytecode.OpMakeArray, uint16(len(e.Elements)))
		return nil

	case *ast.ObjectExpr:
		for i := range e.Keys {
			if err := c.compileExpr(e.Values[i]); err != nil {
				return err
			}
			c.emitConstant(bytecode.StringConst(e.Keys[i]))
		}
		c.emitWithUint16(bytecode.OpMakeObject, uint16(len(e.Keys)))
		return nil

	case *ast.IndexExpr:
		if err := c.compileExpr(e.Target); err != nil {
			return err
		}
		if err := c.compileExpr(e.Index); err != nil {
			return err
		}
		c.emit(bytecode.OpLoadIndex)
		return nil

	case *ast.DotExpr:
		if err := c.compileExpr(e.Target); err != nil {
			return err
		}
		c.setLine(e.Key)
		c.emitWithUint16(bytecode.OpLoadField, c.identifierConstant(e.Key.Literal))
		return nil

	case *ast.LambdaExpr:
		return c.compileFunction("_", e.Params, e.Body, funcFunction)

	case *ast.SpawnExpr:
		return c.compileSpawn(e)

	default:
		return fmt.Errorf("unsupported expression type: %T", expr)
	}
}

func (c *Compiler) compileAssign(e *ast.AssignExpr) error {
	c.setLine(e.Name)
	if e.Op.Type == token.Assign {
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		return c.emitStoreVar(e.Name)
	}

	op, err := compoundOp(e.Op)
	if err != nil {
		return c.errorAt(e.Op, "%s", err)
	}
	if err := c.emitLoadVar(e.Name); err != nil {
		return err
	}
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	c.emit(op)
	return c.emitStoreVar(e.Name)
}

func (c *Compiler) compileSetIndex(e *ast.SetIndexExpr) error {
	if err := c.compileExpr(e.Target); err != nil {
		return err
	}
	if err := c.compileExpr(e.Index); err != nil {
		return err
	}

	if e.Op.Type == token.Assign {
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpStoreIndex)
		return nil
	}

	op, err := compoundOp(e.Op)
	if err != nil {
		return c.errorAt(e.Op, "%s", err)
	}
	c.emit(bytecode.OpDup2)
	c.emit(bytecode.OpLoadIndex)
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	c.emit(op)
	c.emit(bytecode.OpStoreIndex)
	return nil
}

func (c *Compiler) compileSetDot(e *ast.SetDotExpr) error {
	if err := c.compileExpr(e.Target); err != nil {
		return err
	}
	c.setLine(e.Key)
	keyIdx := c.identifierConstant(e.Key.Literal)

	if e.Op.Type == token.Assign {
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emitWithUint16(bytecode.OpStoreField, keyIdx)
		return nil
	}

	op, err := compoundOp(e.Op)
	if err != nil {
		return c.errorAt(e.Op, "%s", err)
	}
	c.emit(bytecode.OpDup)
	c.emitWithUint16(bytecode.OpLoadField, keyIdx)
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	c.emit(op)
	c.emitWithUint16(bytecode.OpStoreField, keyIdx)
	return nil
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) error {
	// left <- right sends a value into a pipe.
	if e.Op.Type == token.LeftArrow {
		if err := c.compileExpr(e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		c.setLine(e.Op)
		c.emit(bytecode.OpSendPipe)
		return nil
	}

	if c.tryFoldBinary(e) {
		return nil
	}

	if err := c.compileExpr(e.Left); err != nil {
		return err
	}
	if err := c.compileExpr(e.Right); err != nil {
		return err
	}
	c.setLine(e.Op)
	op, err := binaryOp(e.Op)
	if err != nil {
		return c.errorAt(e.Op, "%s", err)
	}
	c.emit(op)
	return nil
}

func (c *Compiler) compileLogical(e *ast.LogicalExpr) error {
	if err := c.compileExpr(e.Left); err != nil {
		return err
	}
	c.setLine(e.Op)

	if e.Op.Type == token.AndAnd {
		endJump := c.emitJump(bytecode.OpJumpIfFalse)
		c.emit(bytecode.OpPop)
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		return c.patchJump(endJump)
	}

	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	if err := c.patchJump(elseJump); err != nil {
		return err
	}
	c.emit(bytecode.OpPop)
	if err := c.compileExpr(e.Right); err != nil {
		return err
	}
	return c.patchJump(endJump)
}

func (c *Compiler) compileUnary(e *ast.UnaryExpr) error {
	switch e.Op.Type {
	case token.LeftArrow:
		// <- pipe receives one value.
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		c.setLine(e.Op)
		c.emit(bytecode.OpRecvPipe)
		return nil

	case token.Increment, token.Decrement:
		return c.compileCrement(e.Right, e.Op, true)
	}

	if c.tryFoldUnary(e) {
		return nil
	}

	if err := c.compileExpr(e.Right); err != nil {
		return err
	}
	c.setLine(e.Op)
	switch e.Op.Type {
	case token.Minus:
		c.emit(bytecode.OpNeg)
	case token.Bang:
		c.emit(bytecode.OpNot)
	case token.BitNot:
		c.emit(bytecode.OpBitNot)
	default:
		return c.errorAt(e.Op, "unsupported unary operator '%s'", e.Op.Literal)
	}
	return nil
}

// compileCrement lowers ++ and --. Prefix forms leave the new value on
// the stack, postfix forms leave the old one.
func (c *Compiler) compileCrement(target ast.Expr, opTok token.Token, prefix bool) error {
	c.setLine(opTok)
	op := bytecode.OpAdd
	reverse := bytecode.OpSub
	if opTok.Type == token.Decrement {
		op, reverse = bytecode.OpSub, bytecode.OpAdd
	}

	switch t := target.(type) {
	case *ast.VariableExpr:
		if err := c.emitLoadVar(t.Name); err != nil {
			return err
		}
		if prefix {
			c.emitWithByte(bytecode.OpIConst8, 1)
			c.emit(op)
			return c.emitStoreVar(t.Name)
		}
		c.emit(bytecode.OpDup)
		c.emitWithByte(bytecode.OpIConst8, 1)
		c.emit(op)
		if err := c.emitStoreVar(t.Name); err != nil {
			return err
		}
		c.emit(bytecode.OpPop)
		return nil

	case *ast.DotExpr:
		if err := c.compileExpr(t.Target); err != nil {
			return err
		}
		keyIdx := c.identifierConstant(t.Key.Literal)
		c.emit(bytecode.OpDup)
		c.emitWithUint16(bytecode.OpLoadField, keyIdx)
		c.emitWithByte(bytecode.OpIConst8, 1)
		c.emit(op)
		c.emitWithUint16(bytecode.OpStoreField, keyIdx)
		if !prefix {
			c.emitWithByte(bytecode.OpIConst8, 1)
			c.emit(reverse)
		}
		return nil

	case *ast.IndexExpr:
		if err := c.compileExpr(t.Target); err != nil {
			return err
		}
		if err := c.compileExpr(t.Index); err != nil {
			return err
		}
		c.emit(bytecode.OpDup2)
		c.emit(bytecode.OpLoadIndex)
		c.emitWithByte(bytecode.OpIConst8, 1)
		c.emit(op)
		c.emit(bytecode.OpStoreIndex)
		if !prefix {
			c.emitWithByte(bytecode.OpIConst8, 1)
			c.emit(reverse)
		}
		return nil

	default:
		return c.errorAt(opTok, "Invalid target for '%s'.", opTok.Literal)
	}
}

func (c *Compiler) compileTernary(e *ast.TernaryExpr) error {
	if err := c.compileExpr(e.Cond); err != nil {
		return err
	}

	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop)
	if err := c.compileExpr(e.Then); err != nil {
		return err
	}

	endJump := c.emitJump(bytecode.OpJump)
	if err := c.patchJump(elseJump); err != nil {
		return err
	}
	c.emit(bytecode.OpPop)
	if err := c.compileExpr(e.Else); err != nil {
		return err
	}
	return c.patchJump(endJump)
}

func (c *Compiler) compileCall(e *ast.CallExpr) error {
	if len(e.Args) > 255 {
		return c.errorf("Cannot have more than 255 arguments.")
	}
	if err := c.compileExpr(e.Callee); err != nil {
		return err
	}
	for _, arg := range e.Args {
		if err := c.compileExpr(arg); err != nil {
			return err
		}
	}
	c.emitWithByte(bytecode.OpCall, byte(len(e.Args)))
	return nil
}

func (c *Compiler) compileSpawn(e *ast.SpawnExpr) error {
	if err := c.compileFunction("lambda_spawn", nil, e.Body, funcFunction); err != nil {
		return err
	}
	if e.Count != nil {
		if err := c.compileExpr(e.Count); err != nil {
			return err
		}
	} else {
		c.emitWithByte(bytecode.OpIConst8, 1)
	}
	c.emit(bytecode.OpSpawn)
	return nil
}

// ---------------------------------------------------------------------------
// Constant folding
// ---------------------------------------------------------------------------

func numericLiteral(e ast.Expr) (i int64, f float64, isInt, ok bool) {
	switch n := e.(type) {
	case *ast.IntLit:
		return n.Value, float64(n.Value), true, true
	case *ast.FloatLit:
		return 0, n.Value, false, true
	}
	return 0, 0, false, false
}

// tryFoldBinary folds an operator over two numeric literals. Folding
// skips anything that would fault at runtime (division or modulo by
// zero) so the error surfaces where the program runs it.
func (c *Compiler) tryFoldBinary(e *ast.BinaryExpr) bool {
	li, lf, lInt, lok := numericLiteral(e.Left)
	ri, rf, rInt, rok := numericLiteral(e.Right)
	if !lok || !rok {
		return false
	}
	c.setLine(e.Op)
	bothInt := lInt && rInt

	switch e.Op.Type {
	case token.Plus:
		if bothInt {
			c.emitIntConstant(li + ri)
		} else {
			c.emitConstant(bytecode.FloatConst(lf + rf))
		}
	case token.Minus:
		if bothInt {
			c.emitIntConstant(li - ri)
		} else {
			c.emitConstant(bytecode.FloatConst(lf - rf))
		}
	case token.Star:
		if bothInt {
			c.emitIntConstant(li * ri)
		} else {
			c.emitConstant(bytecode.FloatConst(lf * rf))
		}
	case token.Slash:
		if rf == 0 {
			return false
		}
		c.emitConstant(bytecode.FloatConst(lf / rf))
	case token.Percent:
		if !bothInt || ri == 0 {
			return false
		}
		c.emitIntConstant(li % ri)
	case token.Equal:
		if bothInt {
			c.emitBool(li == ri)
		} else {
			c.emitBool(lf == rf)
		}
	case token.NotEqual:
		if bothInt {
			c.emitBool(li != ri)
		} else {
			c.emitBool(lf != rf)
		}
	case token.Less:
		if bothInt {
			c.emitBool(li < ri)
		} else {
			c.emitBool(lf < rf)
		}
	case token.LessEq:
		if bothInt {
			c.emitBool(li <= ri)
		} else {
			c.emitBool(lf <= rf)
		}
	case token.Greater:
		if bothInt {
			c.emitBool(li > ri)
		} else {
			c.emitBool(lf > rf)
		}
	case token.GreaterEq:
		if bothInt {
			c.emitBool(li >= ri)
		} else {
			c.emitBool(lf >= rf)
		}
	default:
		return false
	}
	return true
}

func (c *Compiler) tryFoldUnary(e *ast.UnaryExpr) bool {
	switch e.Op.Type {
	case token.Minus:
		switch n := e.Right.(type) {
		case *ast.IntLit:
			c.setLine(e.Op)
			c.emitIntConstant(-n.Value)
			return true
		case *ast.FloatLit:
			c.setLine(e.Op)
			c.emitConstant(bytecode.FloatConst(-n.Value))
			return true
		}
	case token.BitNot:
		if n, ok := e.Right.(*ast.IntLit); ok {
			c.setLine(e.Op)
			c.emitIntConstant(^n.Value)
			return true
		}
	case token.Bang:
		if truthy, ok := literalTruthiness(e.Right); ok {
			c.setLine(e.Op)
			c.emitBool(!truthy)
			return true
		}
	}
	return false
}

func literalTruthiness(e ast.Expr) (truthy, ok bool) {
	switch n := e.(type) {
	case *ast.BoolLit:
		return n.Value, true
	case *ast.IntLit:
		return n.Value != 0, true
	case *ast.FloatLit:
		return n.Value != 0, true
	case *ast.StringLit:
		return n.Value != "", true
	case *ast.NullLit:
		return true, true
	}
	return false, false
}

// ---------------------------------------------------------------------------
// Operator tables
// ---------------------------------------------------------------------------

func binaryOp(tok token.Token) (bytecode.Opcode, error) {
	switch tok.Type {
	case token.Plus:
		return bytecode.OpAdd, nil
	case token.Minus:
		return bytecode.OpSub, nil
	case token.Star:
		return bytecode.OpMul, nil
	case token.Slash:
		return bytecode.OpDiv, nil
	case token.Percent:
		return bytecode.OpMod, nil
	case token.Equal:
		return bytecode.OpEq, nil
	case token.NotEqual:
		return bytecode.OpNeq, nil
	case token.Less:
		return bytecode.OpLt, nil
	case token.LessEq:
		return bytecode.OpLe, nil
	case token.Greater:
		return bytecode.OpGt, nil
	case token.GreaterEq:
		return bytecode.OpGe, nil
	case token.BitAnd:
		return bytecode.OpBitAnd, nil
	case token.BitOr:
		return bytecode.OpBitOr, nil
	case token.BitXor:
		return bytecode.OpBitXor, nil
	case token.ShiftLeft:
		return bytecode.OpShiftLeft, nil
	case token.ShiftRight:
		return bytecode.OpShiftRight, nil
	}
	return 0, fmt.Errorf("unsupported binary operator '%s'", tok.Literal)
}

func compoundOp(tok token.Token) (bytecode.Opcode, error) {
	switch tok.Type {
	case token.PlusEq:
		return bytecode.OpAdd, nil
	case token.MinusEq:
		return bytecode.OpSub, nil
	case token.StarEq:
		return bytecode.OpMul, nil
	case token.SlashEq:
		return bytecode.OpDiv, nil
	case token.PercentEq:
		return bytecode.OpMod, nil
	}
	return 0, fmt.Errorf("unsupported compound assignment '%s'", tok.Literal)
}
