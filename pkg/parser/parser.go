// Package parser builds syntax trees from token streams.
//
// The grammar is recursive descent with one statement-level quirk: a
// spawn expression used as a statement does not require a trailing
// semicolon, so `spawn { ... }` reads like a block statement.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rill-lang/rill/pkg/ast"
	"github.com/rill-lang/rill/pkg/lexer"
	"github.com/rill-lang/rill/pkg/token"
)

const maxCallArgs = 255

// Parser consumes a token stream and produces statements.
type Parser struct {
	tokens []token.Token
	pos    int
	errs   []error
}

// New returns a parser over tokens. The slice must end with an EOF token,
// which is what lexer.Tokenize produces.
func New(tokens []token.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse lexes and parses src in one step.
func Parse(src string) ([]ast.Stmt, error) {
	return New(lexer.New(src).Tokenize()).Parse()
}

// Parse consumes the whole token stream. On a parse error it records the
// error, skips to the next statement boundary, and keeps going, so one bad
// statement does not hide the rest. All errors come back joined.
func (p *Parser) Parse() ([]ast.Stmt, error) {
	stmts := []ast.Stmt{}
	for !p.atEnd() {
		stmt, err := p.declaration()
		if err != nil {
			p.errs = append(p.errs, err)
			p.synchronize()
			continue
		}
		stmts = append(stmts, stmt)
	}
	if len(p.errs) > 0 {
		return stmts, errors.Join(p.errs...)
	}
	return stmts, nil
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (p *Parser) declaration() (ast.Stmt, error) {
	if p.check(token.Error) {
		tok := p.advance()
		return nil, p.errorAt(tok, tok.Literal)
	}
	if p.match(token.Let) {
		return p.varDeclaration()
	}
	if p.match(token.Fn) {
		return p.funcDeclaration()
	}
	if p.match(token.Struct) {
		return p.structDeclaration()
	}
	return p.statement()
}

// varDeclaration parses: let name (= expr)? ;
func (p *Parser) varDeclaration() (ast.Stmt, error) {
	name, err := p.consume(token.Identifier, "expect variable name")
	if err != nil {
		return nil, err
	}

	var init ast.Expr
	if p.match(token.Assign) {
		init, err = p.expression()
		if err != nil {
			return nil, err
		}
	}

	if _, err := p.consume(token.Semicolon, "expect ';' after variable declaration"); err != nil {
		return nil, err
	}
	return &ast.LetStmt{Name: name, Init: init}, nil
}

// funcDeclaration parses: name ( params? ) { body } with the fn keyword
// already consumed. Struct methods reuse it.
func (p *Parser) funcDeclaration() (*ast.FunctionStmt, error) {
	name, err := p.consume(token.Identifier, "expect function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.LParen, "expect '(' after function name"); err != nil {
		return nil, err
	}
	params, err := p.parameters()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.RParen, "expect ')' after parameters"); err != nil {
		return nil, err
	}
	if _, err := p.consume(token.LBrace, "expect '{' before function body"); err != nil {
		return nil, err
	}
	body, err := p.blockStatements()
	if err != nil {
		return nil, err
	}
	return &ast.FunctionStmt{Name: name, Params: params, Body: body}, nil
}

// structDeclaration parses: name { (fn method)* }
func (p *Parser) structDeclaration() (ast.Stmt, error) {
	name, err := p.consume(token.Identifier, "expect struct name")
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.LBrace, "expect '{' before struct body"); err != nil {
		return nil, err
	}

	var methods []*ast.FunctionStmt
	for !p.check(token.RBrace) && !p.atEnd() {
		if _, err := p.consume(token.Fn, "expect 'fn' before method declaration"); err != nil {
			return nil, err
		}
		m, err := p.funcDeclaration()
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}

	if _, err := p.consume(token.RBrace, "expect '}' after struct body"); err != nil {
		return nil, err
	}
	return &ast.StructStmt{Name: name, Methods: methods}, nil
}

func (p *Parser) parameters() ([]token.Token, error) {
	var params []token.Token
	if p.check(token.RParen) {
		return params, nil
	}
	for {
		if len(params) >= maxCallArgs {
			return nil, p.errorAt(p.peek(), "can't have more than 255 parameters")
		}
		name, err := p.consume(token.Identifier, "expect parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, name)
		if !p.match(token.Comma) {
			return params, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) statement() (ast.Stmt, error) {
	switch {
	case p.match(token.Disp):
		return p.dispStatement()
	case p.match(token.LBrace):
		return p.block()
	case p.match(token.If):
		return p.ifStatement()
	case p.match(token.While):
		return p.whileStatement()
	case p.match(token.For):
		return p.forStatement()
	case p.match(token.Return):
		return p.returnStatement()
	case p.match(token.Select):
		return p.selectStatement()
	case p.match(token.Close):
		return p.closeStatement()
	}
	return p.exprStatement()
}

func (p *Parser) dispStatement() (ast.Stmt, error) {
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.Semicolon, "expect ';' after expression"); err != nil {
		return nil, err
	}
	return &ast.DispStmt{Expr: expr}, nil
}

func (p *Parser) block() (*ast.BlockStmt, error) {
	stmts, err := p.blockStatements()
	if err != nil {
		return nil, err
	}
	return &ast.BlockStmt{Statements: stmts}, nil
}

// blockStatements parses declarations up to the closing brace. The opening
// brace is already consumed.
func (p *Parser) blockStatements() ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for !p.check(token.RBrace) && !p.atEnd() {
		stmt, err := p.declaration()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.consume(token.RBrace, "expect '}' after block"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) ifStatement() (ast.Stmt, error) {
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.LBrace, "expect '{' after condition"); err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}

	var elseBranch ast.Stmt
	if p.match(token.Else) {
		elseBranch, err = p.statement()
		if err != nil {
			return nil, err
		}
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: elseBranch}, nil
}

func (p *Parser) whileStatement() (ast.Stmt, error) {
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.LBrace, "expect '{' after condition"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Cond: cond, Body: body}, nil
}

// forStatement handles both loop forms:
//
//	for value, index in iterable { body }
//	for init; cond; step { body }
//
// Either form may wrap its clauses in parentheses. The C-style form
// desugars to a while loop wrapped in a block holding the initializer.
func (p *Parser) forStatement() (ast.Stmt, error) {
	paren := p.match(token.LParen)

	if p.check(token.Identifier) {
		next := p.peekAhead(1).Type
		if next == token.In ||
			(next == token.Comma && p.peekAhead(2).Type == token.Identifier && p.peekAhead(3).Type == token.In) {
			return p.forEachStatement(paren)
		}
	}
	var init ast.Stmt
	var err error
	switch {
	case p.match(token.Semicolon):
		init = nil
	case p.match(token.Let):
		init, err = p.varDeclaration()
	default:
		init, err = p.exprStatement()
	}
	if err != nil {
		return nil, err
	}

	var cond ast.Expr
	if !p.match(token.Semicolon) {
		cond, err = p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(token.Semicolon, "expect ';' after loop condition"); err != nil {
			return nil, err
		}
	}

	var step ast.Expr
	stepEnd := token.LBrace
	if paren {
		stepEnd = token.RParen
	}
	if !p.check(stepEnd) {
		step, err = p.expression()
		if err != nil {
			return nil, err
		}
	}
	if paren {
		if _, err := p.consume(token.RParen, "expect ')' after for clauses"); err != nil {
			return nil, err
		}
	}
	if _, err := p.consume(token.LBrace, "expect '{' before loop body"); err != nil {
		return nil, err
	}

	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return desugarFor(init, cond, step, body), nil
}

func desugarFor(init ast.Stmt, cond ast.Expr, step ast.Expr, body ast.Stmt) ast.Stmt {
	if step != nil {
		body = &ast.BlockStmt{Statements: []ast.Stmt{body, &ast.ExprStmt{Expr: step}}}
	}
	if cond == nil {
		cond = &ast.BoolLit{Value: true}
	}
	body = &ast.WhileStmt{Cond: cond, Body: body}
	if init != nil {
		body = &ast.BlockStmt{Statements: []ast.Stmt{init, body}}
	}
	return body
}

func (p *Parser) forEachStatement(paren bool) (ast.Stmt, error) {
	value, err := p.consume(token.Identifier, "expect loop variable name")
	if err != nil {
		return nil, err
	}

	var index token.Token
	hasIndex := false
	if p.match(token.Comma) {
		index, err = p.consume(token.Identifier, "expect index variable name")
		if err != nil {
			return nil, err
		}
		hasIndex = true
	}

	if _, err := p.consume(token.In, "expect 'in' after loop variables"); err != nil {
		return nil, err
	}
	iterable, err := p.expression()
	if err != nil {
		return nil, err
	}
	if paren {
		if _, err := p.consume(token.RParen, "expect ')' after loop clause"); err != nil {
			return nil, err
		}
	}
	if _, err := p.consume(token.LBrace, "expect '{' before loop body"); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	return &ast.ForEachStmt{Value: value, Index: index, HasIndex: hasIndex, Iterable: iterable, Body: body}, nil
}

func (p *Parser) returnStatement() (ast.Stmt, error) {
	tok := p.previous()
	var value ast.Expr
	var err error
	if !p.check(token.Semicolon) {
		value, err = p.expression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.consume(token.Semicolon, "expect ';' after return value"); err != nil {
		return nil, err
	}
	return &ast.ReturnStmt{Value: value, Tok: tok}, nil
}

// closeStatement parses: close ( pipe ) ;
func (p *Parser) closeStatement() (ast.Stmt, error) {
	if _, err := p.consume(token.LParen, "expect '(' after 'close'"); err != nil {
		return nil, err
	}
	pipe, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.RParen, "expect ')' after pipe expression"); err != nil {
		return nil, err
	}
	if _, err := p.consume(token.Semicolon, "expect ';' after close"); err != nil {
		return nil, err
	}
	return &ast.CloseStmt{Pipe: pipe}, nil
}

// selectStatement parses: select { clause* } where each clause is one of
//
//	<- pipe => body
//	x <- pipe => body
//	pipe <- value => body
//	default => body
//
// and body is a block or a single statement. The two arrow forms parse
// identically; the compiler decides receive-vs-send from name resolution.
func (p *Parser) selectStatement() (ast.Stmt, error) {
	if _, err := p.consume(token.LBrace, "expect '{' after 'select'"); err != nil {
		return nil, err
	}

	sel := &ast.SelectStmt{}
	for !p.check(token.RBrace) && !p.atEnd() {
		if p.match(token.Semicolon) {
			continue
		}

		if p.match(token.Default) {
			if sel.Default != nil {
				return nil, p.errorAt(p.previous(), "duplicate default clause in select")
			}
			if _, err := p.consume(token.FatArrow, "expect '=>' after 'default'"); err != nil {
				return nil, err
			}
			body, err := p.clauseBody()
			if err != nil {
				return nil, err
			}
			sel.Default = body
			continue
		}

		if p.match(token.LeftArrow) {
			pipe, err := p.expression()
			if err != nil {
				return nil, err
			}
			body, err := p.clauseArrowBody()
			if err != nil {
				return nil, err
			}
			sel.Clauses = append(sel.Clauses, ast.SelectClause{Right: pipe, Body: body})
			continue
		}

		expr, err := p.expression()
		if err != nil {
			return nil, err
		}
		send, ok := expr.(*ast.BinaryExpr)
		if !ok || send.Op.Type != token.LeftArrow {
			return nil, p.errorAt(p.peek(), "expect pipe operation in select clause")
		}
		body, err := p.clauseArrowBody()
		if err != nil {
			return nil, err
		}
		sel.Clauses = append(sel.Clauses, ast.SelectClause{Left: send.Left, Right: send.Right, Body: body})
	}

	if _, err := p.consume(token.RBrace, "expect '}' after select clauses"); err != nil {
		return nil, err
	}
	if len(sel.Clauses) == 0 && sel.Default == nil {
		return nil, p.errorAt(p.previous(), "select needs at least one clause")
	}
	return sel, nil
}

func (p *Parser) clauseArrowBody() (*ast.BlockStmt, error) {
	if _, err := p.consume(token.FatArrow, "expect '=>' after select clause"); err != nil {
		return nil, err
	}
	return p.clauseBody()
}

func (p *Parser) clauseBody() (*ast.BlockStmt, error) {
	if p.match(token.LBrace) {
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		p.match(token.Semicolon)
		return body, nil
	}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ast.BlockStmt{Statements: []ast.Stmt{stmt}}, nil
}

// exprStatement parses an expression statement. A spawn expression in
// statement position may omit the semicolon since its block already closes
// the statement visually.
func (p *Parser) exprStatement() (ast.Stmt, error) {
	expr, err := p.expression()
	if err != nil {
		return nil, err
	}
	if !p.match(token.Semicolon) {
		if _, isSpawn := expr.(*ast.SpawnExpr); !isSpawn {
			return nil, p.errorAt(p.peek(), "expect ';' after expression")
		}
	}
	return &ast.ExprStmt{Expr: expr}, nil
}

// ---------------------------------------------------------------------------
// Expressions, loosest binding first
// ---------------------------------------------------------------------------

func (p *Parser) expression() (ast.Expr, error) {
	return p.assignment()
}

func (p *Parser) assignment() (ast.Expr, error) {
	expr, err := p.pipeSend()
	if err != nil {
		return nil, err
	}

	if p.match(token.Assign, token.PlusEq, token.MinusEq, token.StarEq, token.SlashEq, token.PercentEq) {
		op := p.previous()
		value, err := p.assignment()
		if err != nil {
			return nil, err
		}
		switch target := expr.(type) {
		case *ast.VariableExpr:
			return &ast.AssignExpr{Name: target.Name, Value: value, Op: op}, nil
		case *ast.IndexExpr:
			return &ast.SetIndexExpr{Target: target.Target, Index: target.Index, Value: value, Op: op}, nil
		case *ast.DotExpr:
			return &ast.SetDotExpr{Target: target.Target, Key: target.Key, Value: value, Op: op}, nil
		}
		return nil, p.errorAt(op, "invalid assignment target")
	}

	return expr, nil
}

// pipeSend parses: ternary (<- pipeSend)? and is right associative, so
// a <- b <- c forwards c through b into a.
func (p *Parser) pipeSend() (ast.Expr, error) {
	expr, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if p.match(token.LeftArrow) {
		op := p.previous()
		value, err := p.pipeSend()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Left: expr, Right: value, Op: op}, nil
	}
	return expr, nil
}

func (p *Parser) ternary() (ast.Expr, error) {
	expr, err := p.logicOr()
	if err != nil {
		return nil, err
	}

	for p.match(token.Question) {
		then, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(token.Colon, "expect ':' in ternary expression"); err != nil {
			return nil, err
		}
		elseExpr, err := p.ternary()
		if err != nil {
			return nil, err
		}
		expr = &ast.TernaryExpr{Cond: expr, Then: then, Else: elseExpr}
	}
	return expr, nil
}

func (p *Parser) logicOr() (ast.Expr, error) {
	return p.logicalChain(p.logicAnd, token.OrOr)
}

func (p *Parser) logicAnd() (ast.Expr, error) {
	return p.logicalChain(p.bitOr, token.AndAnd)
}

func (p *Parser) logicalChain(next func() (ast.Expr, error), opType token.Type) (ast.Expr, error) {
	expr, err := next()
	if err != nil {
		return nil, err
	}
	for p.match(opType) {
		op := p.previous()
		right, err := next()
		if err != nil {
			return nil, err
		}
		expr = &ast.LogicalExpr{Left: expr, Right: right, Op: op}
	}
	return expr, nil
}

func (p *Parser) bitOr() (ast.Expr, error) {
	return p.binaryChain(p.bitXor, token.BitOr)
}

func (p *Parser) bitXor() (ast.Expr, error) {
	return p.binaryChain(p.bitAnd, token.BitXor)
}

func (p *Parser) bitAnd() (ast.Expr, error) {
	return p.binaryChain(p.equality, token.BitAnd)
}

func (p *Parser) equality() (ast.Expr, error) {
	return p.binaryChain(p.comparison, token.Equal, token.NotEqual)
}

func (p *Parser) comparison() (ast.Expr, error) {
	return p.binaryChain(p.bitShift, token.Greater, token.GreaterEq, token.Less, token.LessEq)
}

func (p *Parser) bitShift() (ast.Expr, error) {
	return p.binaryChain(p.term, token.ShiftLeft, token.ShiftRight)
}

func (p *Parser) term() (ast.Expr, error) {
	return p.binaryChain(p.factor, token.Plus, token.Minus)
}

func (p *Parser) factor() (ast.Expr, error) {
	return p.binaryChain(p.unary, token.Star, token.Slash, token.Percent)
}

func (p *Parser) binaryChain(next func() (ast.Expr, error), ops ...token.Type) (ast.Expr, error) {
	expr, err := next()
	if err != nil {
		return nil, err
	}
	for p.match(ops...) {
		op := p.previous()
		right, err := next()
		if err != nil {
			return nil, err
		}
		expr = &ast.BinaryExpr{Left: expr, Right: right, Op: op}
	}
	return expr, nil
}

// unary parses prefix operators, including the pipe receive <- expr.
func (p *Parser) unary() (ast.Expr, error) {
	if p.match(token.Bang, token.Minus, token.BitNot, token.Increment, token.Decrement, token.LeftArrow) {
		op := p.previous()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Right: right, Op: op}, nil
	}
	return p.call()
}

// call parses postfix forms: calls, indexing, field access, and ++/--.
func (p *Parser) call() (ast.Expr, error) {
	expr, err := p.primary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.match(token.Increment, token.Decrement):
			expr = &ast.PostfixExpr{Left: expr, Op: p.previous()}
		case p.match(token.LParen):
			expr, err = p.finishCall(expr)
			if err != nil {
				return nil, err
			}
		case p.match(token.LBracket):
			index, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.consume(token.RBracket, "expect ']' after index"); err != nil {
				return nil, err
			}
			expr = &ast.IndexExpr{Target: expr, Index: index}
		case p.match(token.Dot):
			key, err := p.consume(token.Identifier, "expect property name after '.'")
			if err != nil {
				return nil, err
			}
			expr = &ast.DotExpr{Target: expr, Key: key}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) finishCall(callee ast.Expr) (ast.Expr, error) {
	var args []ast.Expr
	if !p.check(token.RParen) {
		for {
			if len(args) >= maxCallArgs {
				return nil, p.errorAt(p.peek(), "can't have more than 255 arguments")
			}
			arg, err := p.expression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(token.Comma) {
				break
			}
		}
	}
	if _, err := p.consume(token.RParen, "expect ')' after arguments"); err != nil {
		return nil, err
	}
	return &ast.CallExpr{Callee: callee, Args: args}, nil
}

func (p *Parser) primary() (ast.Expr, error) {
	switch {
	case p.match(token.Null):
		return &ast.NullLit{Tok: p.previous()}, nil
	case p.match(token.True):
		return &ast.BoolLit{Value: true, Tok: p.previous()}, nil
	case p.match(token.False):
		return &ast.BoolLit{Value: false, Tok: p.previous()}, nil
	case p.match(token.Integer):
		tok := p.previous()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, p.errorAt(tok, "integer literal out of range")
		}
		return &ast.IntLit{Value: v, Tok: tok}, nil
	case p.match(token.Float):
		tok := p.previous()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errorAt(tok, "malformed float literal")
		}
		return &ast.FloatLit{Value: v, Tok: tok}, nil
	case p.match(token.String):
		tok := p.previous()
		return &ast.StringLit{Value: tok.Literal, Tok: tok}, nil
	case p.match(token.Identifier):
		return &ast.VariableExpr{Name: p.previous()}, nil
	case p.match(token.Self):
		return &ast.SelfExpr{Keyword: p.previous()}, nil
	case p.match(token.LBracket):
		return p.arrayLiteral()
	case p.match(token.LBrace):
		return p.objectLiteral()
	case p.match(token.Fn):
		return p.lambdaExpression()
	case p.match(token.Spawn):
		return p.spawnExpression()
	case p.match(token.LParen):
		expr, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(token.RParen, "expect ')' after expression"); err != nil {
			return nil, err
		}
		return &ast.GroupingExpr{Grouped: expr}, nil
	}
	return nil, p.errorAt(p.peek(), "expect expression")
}

func (p *Parser) arrayLiteral() (ast.Expr, error) {
	var elements []ast.Expr
	if !p.check(token.RBracket) {
		for {
			el, err := p.expression()
			if err != nil {
				return nil, err
			}
			elements = append(elements, el)
			if !p.match(token.Comma) {
				break
			}
		}
	}
	if _, err := p.consume(token.RBracket, "expect ']' after array elements"); err != nil {
		return nil, err
	}
	return &ast.ArrayExpr{Elements: elements}, nil
}

// objectLiteral keeps keys and values in source order so compiled output is
// stable across runs.
func (p *Parser) objectLiteral() (ast.Expr, error) {
	obj := &ast.ObjectExpr{}
	if !p.check(token.RBrace) {
		for {
			var key string
			if p.match(token.String, token.Identifier) {
				key = p.previous().Literal
			} else {
				return nil, p.errorAt(p.peek(), "expect string or identifier as object key")
			}
			if _, err := p.consume(token.Colon, "expect ':' after object key"); err != nil {
				return nil, err
			}
			value, err := p.expression()
			if err != nil {
				return nil, err
			}
			obj.Keys = append(obj.Keys, key)
			obj.Values = append(obj.Values, value)
			if !p.match(token.Comma) {
				break
			}
		}
	}
	if _, err := p.consume(token.RBrace, "expect '}' after object literal"); err != nil {
		return nil, err
	}
	return obj, nil
}

// lambdaExpression parses: fn (params) { body } or fn (params) -> expr,
// where the arrow form wraps the expression in a return. An arrow
// followed by '{' takes the braces as a block body, not an object
// literal; returning an object from an arrow needs parens.
func (p *Parser) lambdaExpression() (ast.Expr, error) {
	if _, err := p.consume(token.LParen, "expect '(' after 'fn'"); err != nil {
		return nil, err
	}
	params, err := p.parameters()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(token.RParen, "expect ')' after parameters"); err != nil {
		return nil, err
	}

	if p.match(token.Arrow) {
		tok := p.previous()
		if p.match(token.LBrace) {
			body, err := p.blockStatements()
			if err != nil {
				return nil, err
			}
			return &ast.LambdaExpr{Params: params, Body: body}, nil
		}
		expr, err := p.expression()
		if err != nil {
			return nil, err
		}
		body := []ast.Stmt{&ast.ReturnStmt{Value: expr, Tok: tok}}
		return &ast.LambdaExpr{Params: params, Body: body}, nil
	}

	if _, err := p.consume(token.LBrace, "expect '{' before function body"); err != nil {
		return nil, err
	}
	body, err := p.blockStatements()
	if err != nil {
		return nil, err
	}
	return &ast.LambdaExpr{Params: params, Body: body}, nil
}

// spawnExpression parses: spawn count? { body }
func (p *Parser) spawnExpression() (ast.Expr, error) {
	var count ast.Expr
	var err error
	if !p.check(token.LBrace) {
		count, err = p.expression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.consume(token.LBrace, "expect '{' after 'spawn'"); err != nil {
		return nil, err
	}
	body, err := p.blockStatements()
	if err != nil {
		return nil, err
	}
	return &ast.SpawnExpr{Count: count, Body: body}, nil
}

// ---------------------------------------------------------------------------
// Token plumbing
// ---------------------------------------------------------------------------

// synchronize skips tokens until a likely statement boundary so parsing can
// resume after an error.
func (p *Parser) synchronize() {
	p.advance()
	for !p.atEnd() {
		if p.previous().Type == token.Semicolon {
			return
		}
		switch p.peek().Type {
		case token.Let, token.Fn, token.Struct, token.If, token.While,
			token.For, token.Return, token.Disp, token.Select, token.Spawn:
			return
		}
		p.advance()
	}
}

func (p *Parser) match(types ...token.Type) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) consume(t token.Type, msg string) (token.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return token.Token{}, p.errorAt(p.peek(), msg)
}

func (p *Parser) check(t token.Type) bool {
	return p.peek().Type == t
}

func (p *Parser) advance() token.Token {
	tok := p.peek()
	if !p.atEnd() {
		p.pos++
	}
	return tok
}

func (p *Parser) atEnd() bool {
	return p.peek().Type == token.EOF
}

func (p *Parser) peek() token.Token {
	if p.pos >= len(p.tokens) {
		return token.Token{Type: token.EOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAhead(n int) token.Token {
	if p.pos+n >= len(p.tokens) {
		return token.Token{Type: token.EOF}
	}
	return p.tokens[p.pos+n]
}

func (p *Parser) previous() token.Token {
	if p.pos == 0 {
		return token.Token{}
	}
	return p.tokens[p.pos-1]
}

// Error is one parse diagnostic with its source position. A failed Parse
// joins several of these; callers that need positions (the language server)
// unwrap the join and type-assert.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Pos.Line, e.Msg)
}

func (p *Parser) errorAt(tok token.Token, msg string) error {
	switch tok.Type {
	case token.EOF:
		return &Error{Pos: tok.Pos, Msg: "at end: " + msg}
	case token.Error:
		// The lexer already phrased the problem; its literal is the message.
		return &Error{Pos: tok.Pos, Msg: tok.Literal}
	default:
		return &Error{Pos: tok.Pos, Msg: fmt.Sprintf("at %q: %s", tok.Literal, msg)}
	}
}
