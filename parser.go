package vesper

import (
	"github.com/vesper-lang/vesper/ast"
	"github.com/vesper-lang/vesper/token"
)

// bs builds the embedded Base every ast.Node variant carries, from a span.
func bs(span ast.Span) ast.Base { return ast.Base{Span: span} }

// SourceKind selects which grammar subset the parser accepts: script
// allows top-level statements, module restricts to declarations,
// class/struct body admit member forms, function body admits `return`,
// and expression parses a single expression (used for string
// interpolation holes).
type SourceKind int

const (
	SourceScript SourceKind = iota
	SourceModule
	SourceClassBody
	SourceStructBody
	SourceFunctionBody
	SourceExpression
)

// parseError is panicked by the parser's primitives on a mismatch and
// recovered at statement boundaries by a recovering loop that
// accumulates each error and advances one token rather than aborting
// the whole parse.
type parseError struct{ err *Error }

// Parser is a recursive-descent, precedence-climbing parser over a
// single module's token stream.
type Parser struct {
	key    string
	toks   []token.Token
	pos    int
	kind   SourceKind
	errs   []error
	inLoop int
	inFunc int
	inCls  int
}

// NewParser creates a parser over toks (as produced by lex.Tokenize),
// identified by key for error reporting, accepting the grammar subset
// named by kind.
func NewParser(toks []token.Token, key string, kind SourceKind) *Parser {
	var filtered []token.Token
	for _, t := range toks {
		switch t.Kind {
		case token.LineComment, token.LineDocComment, token.BlockComment, token.BlockDocComment, token.EmptyLine:
			continue
		}
		filtered = append(filtered, t)
	}
	return &Parser{key: key, toks: filtered, kind: kind}
}

/* ------------------------------- plumbing ------------------------------- */

func (p *Parser) peek() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) peekAt(off int) token.Token {
	i := p.pos + off
	if i >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[i]
}

func (p *Parser) advance() token.Token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) at(text string) bool {
	t := p.peek()
	return (t.Kind == token.Punct || t.Kind == token.Keyword) && t.Text == text
}

func (p *Parser) atKind(k token.Kind) bool { return p.peek().Kind == k }

var modifierKeywords = map[string]bool{
	"external": true, "static": true, "const": true, "export": true, "top": true, "late": true, "abstract": true,
}

// atAfterModifiers reports whether text appears at the current position
// once any leading modifier keywords (static, external, export, ...)
// are skipped, used to dispatch on a declaration's leading keyword
// regardless of which modifiers precede it.
func (p *Parser) atAfterModifiers(text string) bool {
	i := p.pos
	for i < len(p.toks) && p.toks[i].Kind == token.Keyword && modifierKeywords[p.toks[i].Text] && p.toks[i].Text != text {
		i++
	}
	if i >= len(p.toks) {
		return false
	}
	return p.toks[i].Text == text
}

func (p *Parser) accept(text string) bool {
	if p.at(text) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(text string) token.Token {
	if !p.at(text) {
		p.fail(CodeUnexpectedToken, "expected %q, got %q", text, p.peek().Text)
	}
	return p.advance()
}

func (p *Parser) fail(code ErrorCode, format string, args ...interface{}) {
	t := p.peek()
	err := NewError(code, p.key, t.Line, t.Column, t.Offset, t.Length, format, args...)
	panic(parseError{err})
}

func (p *Parser) span() ast.Span { return ast.NewSpan(p.peek(), p.key) }

// recoverStmt advances one token past an erroring statement/declaration
// and records the error.
func (p *Parser) recoverStmt() {
	if r := recover(); r != nil {
		pe, ok := r.(parseError)
		if !ok {
			panic(r)
		}
		p.errs = append(p.errs, pe.err)
		if p.peek().Kind != token.EOF {
			p.advance()
		}
	}
}

/* -------------------------------- module -------------------------------- */

// Module is the parsed output of one source unit: its statement/
// declaration list, import declarations, optional library name, and
// accumulated parse errors.
type Module struct {
	Key       string
	Kind      SourceKind
	Nodes     []ast.Node
	Imports   []*ast.ImportDecl
	Library   string
	IsLibrary bool
	Errors    []error
}

// ParseModule parses toks under kind, returning the resulting Module.
// It never returns a nil Nodes slice on failure; errors are recorded on
// the Module and parsing continues past them.
func ParseModule(toks []token.Token, key string, kind SourceKind) *Module {
	p := NewParser(toks, key, kind)
	m := &Module{Key: key, Kind: kind}
	for p.peek().Kind != token.EOF {
		n := p.parseTopLevel()
		if n == nil {
			continue
		}
		if imp, ok := n.(*ast.ImportDecl); ok {
			m.Imports = append(m.Imports, imp)
		}
		if lib, ok := n.(*ast.LibraryDecl); ok {
			m.Library = lib.Name
			m.IsLibrary = true
			continue
		}
		m.Nodes = append(m.Nodes, n)
	}
	m.Errors = p.errs
	return m
}

func (p *Parser) parseTopLevel() (n ast.Node) {
	defer p.recoverStmt()
	switch {
	case p.at("import"):
		return p.parseImport()
	case p.at("library"):
		return p.parseLibrary()
	default:
		return p.parseStatement()
	}
}

func (p *Parser) parseImport() ast.Node {
	start := p.span()
	p.advance() // import
	key := p.parseStringLiteralText()
	imp := &ast.ImportDecl{Key: key}
	imp.Span = start
	if p.accept("as") {
		imp.Alias = p.expectIdent()
	}
	if p.accept("show") {
		imp.ShowNames = append(imp.ShowNames, p.expectIdent())
		for p.accept(",") {
			imp.ShowNames = append(imp.ShowNames, p.expectIdent())
		}
	}
	p.accept(";")
	return imp
}

func (p *Parser) parseLibrary() ast.Node {
	start := p.span()
	p.advance() // library
	name := p.parseStringLiteralText()
	p.accept(";")
	return &ast.LibraryDecl{bs(start), name}
}

func (p *Parser) parseStringLiteralText() string {
	t := p.peek()
	if t.Kind != token.String {
		p.fail(CodeUnexpectedToken, "expected string literal, got %q", t.Text)
	}
	p.advance()
	return t.Literal.Str
}

func (p *Parser) expectIdent() string {
	t := p.peek()
	if t.Kind != token.Identifier {
		p.fail(CodeUnexpectedToken, "expected identifier, got %q", t.Text)
	}
	p.advance()
	return t.Text
}

/* ------------------------------ statements ------------------------------ */

func (p *Parser) parseStatement() ast.Node {
	switch {
	case p.atAfterModifiers("var"), p.atAfterModifiers("final"), p.atAfterModifiers("const"):
		d := p.parseVarDecl()
		p.accept(";")
		return d
	case p.atAfterModifiers("fun"):
		return p.parseFuncDecl(ast.FuncNormal)
	case p.atAfterModifiers("class"):
		return p.parseClassDecl()
	case p.atAfterModifiers("enum"):
		return p.parseEnumDecl()
	case p.atAfterModifiers("struct"):
		return p.parseStructDecl()
	case p.at("type"):
		return p.parseTypeAliasDecl()
	case p.at("{"):
		return p.parseBlock()
	case p.at("if"):
		return p.parseIfStmt()
	case p.at("while"):
		return p.parseWhileStmt()
	case p.at("do"):
		return p.parseDoWhileStmt()
	case p.at("for"):
		return p.parseForStmt()
	case p.at("when"):
		return p.parseWhenStmt()
	case p.at("return"):
		return p.parseReturnStmt()
	case p.at("break"):
		start := p.span()
		p.advance()
		p.accept(";")
		return &ast.BreakStmt{bs(start)}
	case p.at("continue"):
		start := p.span()
		p.advance()
		p.accept(";")
		return &ast.ContinueStmt{bs(start)}
	default:
		start := p.span()
		e := p.parseExpr(0)
		p.accept(";")
		return &ast.ExprStmt{bs(start), e}
	}
}

func (p *Parser) parseBlock() *ast.BlockStmt {
	start := p.span()
	p.expect("{")
	var stmts []ast.Node
	for !p.at("}") && p.peek().Kind != token.EOF {
		func() {
			defer p.recoverStmt()
			stmts = append(stmts, p.parseStatement())
		}()
	}
	p.expect("}")
	return &ast.BlockStmt{bs(start), stmts}
}

func (p *Parser) parseIfStmt() ast.Node {
	start := p.span()
	p.advance() // if
	p.expect("(")
	cond := p.parseExpr(0)
	p.expect(")")
	then := p.parseStatement()
	var els ast.Node
	if p.accept("else") {
		els = p.parseStatement()
	}
	return &ast.IfStmt{bs(start), cond, then, els}
}

func (p *Parser) parseWhileStmt() ast.Node {
	start := p.span()
	p.advance()
	p.expect("(")
	cond := p.parseExpr(0)
	p.expect(")")
	p.inLoop++
	body := p.parseStatement()
	p.inLoop--
	return &ast.WhileStmt{bs(start), cond, body}
}

func (p *Parser) parseDoWhileStmt() ast.Node {
	start := p.span()
	p.advance() // do
	p.inLoop++
	body := p.parseStatement()
	p.inLoop--
	p.expect("while")
	p.expect("(")
	cond := p.parseExpr(0)
	p.expect(")")
	p.accept(";")
	return &ast.DoWhileStmt{bs(start), body, cond}
}

func (p *Parser) parseForStmt() ast.Node {
	start := p.span()
	p.advance() // for
	p.expect("(")
	// for-in: `for (var x in iterable)`
	if p.at("var") && p.peekAt(1).Kind == token.Identifier && p.peekAt(2).Text == "in" {
		p.advance() // var
		elem := p.expectIdent()
		p.advance() // in
		iterable := p.parseExpr(0)
		p.expect(")")
		p.inLoop++
		body := p.parseStatement()
		p.inLoop--
		return &ast.ForInStmt{bs(start), elem, iterable, body}
	}
	var init ast.Node
	if !p.at(";") {
		if p.at("var") || p.at("final") || p.at("const") {
			init = p.parseVarDecl()
		} else {
			init = p.parseExpr(0)
		}
	}
	p.expect(";")
	var cond ast.Node
	if !p.at(";") {
		cond = p.parseExpr(0)
	}
	p.expect(";")
	var step ast.Node
	if !p.at(")") {
		step = p.parseExpr(0)
	}
	p.expect(")")
	p.inLoop++
	body := p.parseStatement()
	p.inLoop--
	return &ast.ForStmt{bs(start), init, cond, step, body}
}

func (p *Parser) parseWhenStmt() ast.Node {
	start := p.span()
	p.advance() // when
	var subject ast.Node
	if p.accept("(") {
		subject = p.parseExpr(0)
		p.expect(")")
	}
	p.expect("{")
	var cases []ast.WhenCase
	for !p.at("}") && p.peek().Kind != token.EOF {
		var wc ast.WhenCase
		if p.accept("else") {
			wc.Exprs = nil
		} else {
			wc.Exprs = append(wc.Exprs, p.parseExpr(4)) // ends at a comma
			for p.accept(",") {
				wc.Exprs = append(wc.Exprs, p.parseExpr(4))
			}
		}
		p.expect("->")
		wc.Branch = p.parseStatement()
		cases = append(cases, wc)
	}
	p.expect("}")
	return &ast.WhenStmt{bs(start), subject, cases}
}

func (p *Parser) parseReturnStmt() ast.Node {
	start := p.span()
	if p.inFunc == 0 && p.kind != SourceFunctionBody {
		p.fail(CodeUnsupportedConstruct, "'return' only legal inside a function body")
	}
	p.advance() // return
	var val ast.Node
	if !p.at(";") && !p.at("}") && p.peek().Kind != token.EOF {
		val = p.parseExpr(0)
	}
	p.accept(";")
	return &ast.ReturnStmt{bs(start), val}
}

/* ----------------------------- declarations ----------------------------- */

func (p *Parser) parseModifiers() ast.Modifiers {
	var m ast.Modifiers
	for {
		switch {
		case p.accept("external"):
			m.External = true
		case p.accept("static"):
			m.Static = true
		case p.accept("const"):
			m.Const = true
		case p.accept("export"):
			m.Exported = true
		case p.accept("top"):
			m.TopLevel = true
		case p.accept("late"):
			m.LateInitialize = true
		case p.accept("abstract"):
			m.Abstract = true
		default:
			return m
		}
	}
}

func (p *Parser) parseVarDecl() *ast.VarDecl {
	start := p.span()
	mods := p.parseModifiers()
	if p.accept("var") {
		mods.Mutable = true
	} else if p.accept("final") {
		// final: immutable, already the implicit default
	} else if p.accept("const") {
		mods.Const = true
	}
	name := p.expectIdent()
	d := &ast.VarDecl{Name: name, Modifiers: mods}
	d.Span = start
	if p.accept(":") {
		d.DeclaredType = p.parseTypeExpr()
	}
	if p.accept("=") {
		d.Init = p.parseExpr(0)
	}
	return d
}

func (p *Parser) parseParamList() []*ast.ParamDecl {
	p.expect("(")
	var params []*ast.ParamDecl
	seenNamed := false
	for !p.at(")") {
		start := p.span()
		pd := &ast.ParamDecl{}
		pd.Span = start
		if p.accept("...") {
			pd.Flags.Variadic = true
		}
		if p.accept("{") {
			pd.Flags.Named = true
			seenNamed = true
			pd.Name = p.expectIdent()
			if p.accept(":") {
				pd.DeclaredType = p.parseTypeExpr()
			}
			if p.accept("=") {
				pd.Init = p.parseExpr(0)
				pd.Flags.Optional = true
			}
			p.expect("}")
		} else if p.accept("[") {
			pd.Name = p.expectIdent()
			if p.accept(":") {
				pd.DeclaredType = p.parseTypeExpr()
			}
			if p.accept("=") {
				pd.Init = p.parseExpr(0)
			}
			pd.Flags.Optional = true
			p.expect("]")
			if seenNamed {
				p.fail(CodeUnsupportedConstruct, "positional parameter cannot follow a named parameter")
			}
		} else {
			pd.Name = p.expectIdent()
			if p.accept(":") {
				pd.DeclaredType = p.parseTypeExpr()
			}
			if p.accept("=") {
				pd.Init = p.parseExpr(0)
				pd.Flags.Optional = true
			}
			if seenNamed && !pd.Flags.Named && !pd.Flags.Variadic {
				p.fail(CodeUnsupportedConstruct, "positional parameter cannot follow a named parameter")
			}
		}
		params = append(params, pd)
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return params
}

func (p *Parser) parseFuncDecl(cat ast.FuncCategory) ast.Node {
	start := p.span()
	mods := p.parseModifiers()
	p.advance() // fun/construct/factory/get/set keyword already consumed by caller in some paths
	name := ""
	if p.peek().Kind == token.Identifier {
		name = p.expectIdent()
	}
	params := p.parseParamList()
	fd := &ast.FuncDecl{Name: name, Category: cat, Modifiers: mods, Params: params}
	fd.Span = start
	if p.accept(":") {
		fd.ReturnType = p.parseTypeExpr()
	}
	if p.accept("=>") {
		p.inFunc++
		fd.Body = p.parseExpr(1)
		p.inFunc--
		p.accept(";")
	} else if p.at("{") {
		p.inFunc++
		fd.Body = p.parseBlock()
		p.inFunc--
	} else {
		p.accept(";") // external/abstract: no body
	}
	return fd
}

func (p *Parser) parseConstructorDecl() ast.Node {
	start := p.span()
	mods := p.parseModifiers()
	p.expect("construct")
	name := ""
	if p.accept(".") {
		name = p.expectIdent()
	}
	params := p.parseParamList()
	fd := &ast.FuncDecl{Category: ast.FuncConstructor, Modifiers: mods, Params: params, ConstructorName: name}
	fd.Span = start
	if p.accept(":") {
		fd.Redirect = p.parseRedirect()
	}
	if p.at("{") {
		p.inFunc++
		fd.Body = p.parseBlock()
		p.inFunc--
	} else {
		p.accept(";")
	}
	return fd
}

func (p *Parser) parseRedirect() *ast.RedirectingConstructor {
	r := &ast.RedirectingConstructor{}
	if p.accept("super") {
		r.Kind = ast.RedirectSuper
	} else if p.accept("this") {
		r.Kind = ast.RedirectThis
	} else {
		p.fail(CodeUnexpectedToken, "expected 'super' or 'this' in constructor redirect")
	}
	if p.accept(".") {
		r.Name = p.expectIdent()
	}
	p.expect("(")
	for !p.at(")") {
		if p.peek().Kind == token.Identifier && p.peekAt(1).Text == ":" {
			r.NamedNames = append(r.NamedNames, p.expectIdent())
			p.advance() // ':'
			r.NamedArgs = append(r.NamedArgs, p.parseExpr(1))
		} else {
			r.Positional = append(r.Positional, p.parseExpr(1))
		}
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return r
}

func (p *Parser) parseClassDecl() ast.Node {
	start := p.span()
	mods := p.parseModifiers()
	p.expect("class")
	name := p.expectIdent()
	cd := &ast.ClassDecl{Name: name, Modifiers: mods}
	cd.Span = start
	if p.accept("<") {
		for !p.at(">") {
			gp := &ast.GenericParamExpr{Name: p.expectIdent()}
			if p.accept("extends") {
				gp.Bound = p.parseTypeExpr()
			}
			cd.GenericParams = append(cd.GenericParams, gp)
			if !p.accept(",") {
				break
			}
		}
		p.expect(">")
	}
	if p.accept("extends") {
		cd.Superclass = p.parseTypeExpr()
	}
	if p.accept("implements") {
		cd.Implements = append(cd.Implements, p.parseTypeExpr())
		for p.accept(",") {
			cd.Implements = append(cd.Implements, p.parseTypeExpr())
		}
	}
	if p.accept("with") {
		cd.Mixes = append(cd.Mixes, p.parseTypeExpr())
		for p.accept(",") {
			cd.Mixes = append(cd.Mixes, p.parseTypeExpr())
		}
	}
	p.expect("{")
	p.inCls++
	for !p.at("}") && p.peek().Kind != token.EOF {
		func() {
			defer p.recoverStmt()
			cd.Members = append(cd.Members, p.parseClassMember())
		}()
	}
	p.inCls--
	p.expect("}")
	return cd
}

func (p *Parser) parseClassMember() ast.Node {
	switch {
	case p.at("construct"):
		return p.parseConstructorDecl()
	case p.at("factory"):
		start := p.span()
		p.advance()
		n := p.parseFuncDecl(ast.FuncFactory)
		n.(*ast.FuncDecl).Span = start
		return n
	case p.at("get"):
		start := p.span()
		p.advance()
		n := p.parseFuncDecl(ast.FuncGetter)
		n.(*ast.FuncDecl).Span = start
		return n
	case p.at("set"):
		start := p.span()
		p.advance()
		n := p.parseFuncDecl(ast.FuncSetter)
		n.(*ast.FuncDecl).Span = start
		return n
	case p.at("fun"):
		return p.parseFuncDecl(ast.FuncMethod)
	default:
		d := p.parseVarDecl()
		p.accept(";")
		return d
	}
}

func (p *Parser) parseEnumDecl() ast.Node {
	start := p.span()
	mods := p.parseModifiers()
	p.expect("enum")
	name := p.expectIdent()
	p.expect("{")
	var values []string
	for !p.at("}") {
		values = append(values, p.expectIdent())
		if !p.accept(",") {
			break
		}
	}
	p.expect("}")
	return &ast.EnumDecl{bs(start), name, mods, values}
}

func (p *Parser) parseStructDecl() ast.Node {
	start := p.span()
	mods := p.parseModifiers()
	p.expect("struct")
	name := p.expectIdent()
	sd := &ast.StructDecl{Name: name, Modifiers: mods}
	sd.Span = start
	if p.accept("extends") {
		sd.Prototype = p.parseTypeExpr()
	}
	p.expect("{")
	for !p.at("}") && p.peek().Kind != token.EOF {
		func() {
			defer p.recoverStmt()
			d := p.parseVarDecl()
			p.accept(";")
			sd.Members = append(sd.Members, d)
		}()
	}
	p.expect("}")
	return sd
}

func (p *Parser) parseTypeAliasDecl() ast.Node {
	start := p.span()
	p.advance() // type
	name := p.expectIdent()
	p.expect("=")
	t := p.parseTypeExpr()
	p.accept(";")
	return &ast.TypeAliasDecl{bs(start), name, t}
}

/* ---------------------------- type expressions --------------------------- */

func (p *Parser) parseTypeExpr() ast.Node {
	start := p.span()
	if p.at("(") {
		return p.parseFuncTypeExpr(start)
	}
	name := p.expectIdent()
	var args []ast.Node
	if p.accept("<") {
		args = append(args, p.parseTypeExpr())
		for p.accept(",") {
			args = append(args, p.parseTypeExpr())
		}
		p.expect(">")
	}
	nullable := p.accept("?")
	if len(args) == 0 {
		switch name {
		case "int", "float", "num", "string", "bool", "boolean", "any", "null", "void", "list", "struct", "function":
			return &ast.PrimitiveTypeExpr{bs(start), name, nullable}
		}
	}
	return &ast.NominalTypeExpr{bs(start), name, args, nullable}
}

func (p *Parser) parseFuncTypeExpr(start ast.Span) ast.Node {
	p.expect("(")
	var params []ast.Node
	for !p.at(")") {
		pStart := p.span()
		variadic := p.accept("...")
		named := p.accept("{")
		t := p.parseTypeExpr()
		optional := p.accept("?")
		if named {
			p.expect("}")
		}
		params = append(params, &ast.ParamTypeExpr{bs(pStart), t, optional, named, variadic})
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	p.expect("->")
	ret := p.parseTypeExpr()
	nullable := p.accept("?")
	return &ast.FuncTypeExpr{bs(start), params, ret, nullable}
}

/* ------------------------------- expressions ------------------------------ */

// compoundBase maps each compound assignment operator to the binary
// operator it applies before assigning.
var compoundBase = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "%=": "%",
}

// parseExpr is the entry point. minPrec is not consulted: every call
// parses a full assignment-level expression, which ends at the first
// token that cannot continue it, such as a comma.
func (p *Parser) parseExpr(minPrec int) ast.Node {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() ast.Node {
	left := p.parseTernary()
	t := p.peek()
	if t.Kind != token.Punct {
		return left
	}
	switch t.Text {
	case "=":
		p.checkLValue(left)
		p.advance()
		right := p.parseAssignment()
		return &ast.BinaryExpr{bs(left.Pos()), "=", left, right}
	case "+=", "-=", "*=", "/=", "%=":
		p.checkLValue(left)
		p.advance()
		right := p.parseAssignment()
		inner := &ast.BinaryExpr{bs(left.Pos()), compoundBase[t.Text], left, right}
		return &ast.BinaryExpr{bs(left.Pos()), "=", left, inner}
	case "??=":
		p.checkLValue(left)
		p.advance()
		right := p.parseAssignment()
		inner := &ast.BinaryExpr{bs(left.Pos()), "??", left, right}
		return &ast.BinaryExpr{bs(left.Pos()), "=", left, inner}
	}
	return left
}

func (p *Parser) checkLValue(n ast.Node) {
	switch n.(type) {
	case *ast.IdentifierExpr, *ast.MemberExpr, *ast.SubscriptExpr:
		return
	}
	p.fail(CodeInvalidLeftValue, "invalid assignment target")
}

func (p *Parser) parseTernary() ast.Node {
	cond := p.parseLogicalOr()
	if p.accept("?") {
		then := p.parseAssignment()
		p.expect(":")
		els := p.parseAssignment()
		return &ast.TernaryExpr{bs(cond.Pos()), cond, then, els}
	}
	return cond
}

func (p *Parser) parseLogicalOr() ast.Node {
	left := p.parseLogicalAnd()
	for p.at("||") {
		p.advance()
		right := p.parseLogicalAnd()
		left = &ast.BinaryExpr{bs(left.Pos()), "||", left, right}
	}
	return left
}

func (p *Parser) parseLogicalAnd() ast.Node {
	left := p.parseEquality()
	for p.at("&&") {
		p.advance()
		right := p.parseEquality()
		left = &ast.BinaryExpr{bs(left.Pos()), "&&", left, right}
	}
	return left
}

func (p *Parser) parseEquality() ast.Node {
	left := p.parseRelational()
	if p.at("==") || p.at("!=") {
		op := p.advance().Text
		right := p.parseRelational()
		left = &ast.BinaryExpr{bs(left.Pos()), op, left, right}
	}
	return left
}

func (p *Parser) parseRelational() ast.Node {
	left := p.parseAdditive()
	switch {
	case p.at("<"), p.at(">"), p.at("<="), p.at(">="):
		op := p.advance().Text
		right := p.parseAdditive()
		return &ast.BinaryExpr{bs(left.Pos()), op, left, right}
	case p.at("as"):
		p.advance()
		t := p.parseTypeExpr()
		return &ast.BinaryExpr{bs(left.Pos()), "as", left, t}
	case p.at("is!"):
		p.advance()
		t := p.parseTypeExpr()
		inner := &ast.BinaryExpr{bs(left.Pos()), "is", left, t}
		return &ast.UnaryExpr{bs(left.Pos()), "!", inner, false}
	case p.at("is"):
		p.advance()
		t := p.parseTypeExpr()
		return &ast.BinaryExpr{bs(left.Pos()), "is", left, t}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Node {
	left := p.parseMultiplicative()
	for p.at("+") || p.at("-") {
		op := p.advance().Text
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{bs(left.Pos()), op, left, right}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Node {
	left := p.parseUnary()
	for p.at("*") || p.at("/") || p.at("%") {
		op := p.advance().Text
		right := p.parseUnary()
		left = &ast.BinaryExpr{bs(left.Pos()), op, left, right}
	}
	return left
}

func (p *Parser) parseUnary() ast.Node {
	start := p.span()
	switch {
	case p.at("-"), p.at("!"):
		op := p.advance().Text
		operand := p.parseUnary()
		return &ast.UnaryExpr{bs(start), op, operand, false}
	case p.at("++"), p.at("--"):
		op := p.advance().Text
		operand := p.parseUnary()
		p.checkLValue(operand)
		one := &ast.LiteralExpr{bs(start), token.Integer, false, 1, 0, ""}
		inner := &ast.BinaryExpr{bs(start), map[string]string{"++": "+", "--": "-"}[op], operand, one}
		return &ast.BinaryExpr{bs(start), "=", operand, inner}
	case p.at("typeof"):
		p.advance()
		operand := p.parseUnary()
		return &ast.UnaryExpr{bs(start), "typeof", operand, false}
	default:
		return p.parsePostfix()
	}
}

func (p *Parser) parsePostfix() ast.Node {
	left := p.parsePrimary()
	for {
		switch {
		case p.at("."):
			p.advance()
			name := p.expectIdent()
			left = &ast.MemberExpr{bs(left.Pos()), left, name}
		case p.at("?."):
			p.advance()
			name := p.expectIdent()
			member := &ast.MemberExpr{bs(left.Pos()), left, name}
			left = &ast.TernaryExpr{bs(left.Pos()),
				&ast.BinaryExpr{bs(left.Pos()), "!=", left, &ast.LiteralExpr{Kind: token.Null}},
				member,
				&ast.LiteralExpr{Kind: token.Null},
			}
		case p.at("["):
			p.advance()
			idx := p.parseExpr(0)
			p.expect("]")
			left = &ast.SubscriptExpr{bs(left.Pos()), left, idx}
		case p.at("("):
			left = p.parseCall(left)
		case p.at("++"), p.at("--"):
			op := p.advance().Text
			p.checkLValue(left)
			one := &ast.LiteralExpr{bs(left.Pos()), token.Integer, false, 1, 0, ""}
			inner := &ast.BinaryExpr{bs(left.Pos()), map[string]string{"++": "+", "--": "-"}[op], left, one}
			left = &ast.BinaryExpr{bs(left.Pos()), "=", left, inner}
		default:
			return left
		}
	}
}

func (p *Parser) parseCall(callee ast.Node) ast.Node {
	start := callee.Pos()
	p.expect("(")
	call := &ast.CallExpr{Callee: callee}
	call.Span = start
	for !p.at(")") {
		if p.peek().Kind == token.Identifier && p.peekAt(1).Text == ":" {
			call.NamedNames = append(call.NamedNames, p.expectIdent())
			p.advance() // ':'
			call.NamedArgs = append(call.NamedArgs, p.parseAssignment())
		} else {
			call.Positional = append(call.Positional, p.parseAssignment())
		}
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	return call
}

func (p *Parser) parsePrimary() ast.Node {
	t := p.peek()
	start := p.span()
	switch t.Kind {
	case token.Integer:
		p.advance()
		return &ast.LiteralExpr{bs(start), token.Integer, false, t.Literal.Int, 0, ""}
	case token.Float:
		p.advance()
		return &ast.LiteralExpr{bs(start), token.Float, false, 0, t.Literal.Float, ""}
	case token.Boolean:
		p.advance()
		return &ast.LiteralExpr{bs(start), token.Boolean, t.Literal.Bool, 0, 0, ""}
	case token.Null:
		p.advance()
		return &ast.LiteralExpr{Kind: token.Null, Base: bs(start)}
	case token.String:
		p.advance()
		return &ast.LiteralExpr{bs(start), token.String, false, 0, 0, t.Literal.Str}
	case token.StringInterp:
		return p.parseStringInterp()
	case token.Identifier:
		p.advance()
		return &ast.IdentifierExpr{bs(start), t.Text}
	}
	switch {
	case p.at("this"):
		p.advance()
		return &ast.ThisExpr{bs(start)}
	case p.at("super"):
		p.advance()
		return &ast.SuperExpr{bs(start)}
	case p.at("if"):
		return p.parseIfExpr()
	case p.at("("):
		return p.parseGroupOrArrow()
	case p.at("["):
		return p.parseListLiteral()
	case p.at("{"):
		return p.parseStructLiteral()
	case p.at("fun"):
		return p.parseFuncDecl(ast.FuncLiteral)
	}
	p.fail(CodeUnexpectedToken, "unexpected token %q", t.Text)
	return nil
}

func (p *Parser) parseIfExpr() ast.Node {
	start := p.span()
	p.advance() // if
	p.expect("(")
	cond := p.parseExpr(0)
	p.expect(")")
	then := p.parseAssignment()
	p.expect("else")
	els := p.parseAssignment()
	return &ast.IfExpr{bs(start), cond, then, els}
}

// parseGroupOrArrow disambiguates `(expr)` from an arrow function
// `(params) => body` by scanning ahead for a matching `)` followed by
// `=>`.
func (p *Parser) parseGroupOrArrow() ast.Node {
	start := p.span()
	if p.looksLikeArrowParams() {
		params := p.parseParamList()
		p.expect("=>")
		fd := &ast.FuncDecl{Category: ast.FuncLiteral, Params: params}
		fd.Span = start
		fd.Body = p.parseAssignment()
		return fd
	}
	p.expect("(")
	inner := p.parseExpr(0)
	p.expect(")")
	return &ast.GroupExpr{bs(start), inner}
}

func (p *Parser) looksLikeArrowParams() bool {
	depth := 0
	i := p.pos
	for i < len(p.toks) {
		t := p.toks[i]
		if t.Kind == token.Punct && t.Text == "(" {
			depth++
		} else if t.Kind == token.Punct && t.Text == ")" {
			depth--
			if depth == 0 {
				return i+1 < len(p.toks) && p.toks[i+1].Kind == token.Punct && p.toks[i+1].Text == "=>"
			}
		}
		i++
	}
	return false
}

func (p *Parser) parseListLiteral() ast.Node {
	start := p.span()
	p.expect("[")
	var elems []ast.Node
	for !p.at("]") {
		elems = append(elems, p.parseAssignment())
		if !p.accept(",") {
			break
		}
	}
	p.expect("]")
	return &ast.ListExpr{bs(start), elems}
}

func (p *Parser) parseStructLiteral() ast.Node {
	start := p.span()
	p.expect("{")
	se := &ast.StructExpr{}
	se.Span = start
	for !p.at("}") {
		key := p.expectIdent()
		p.expect(":")
		val := p.parseAssignment()
		se.Fields = append(se.Fields, ast.StructFieldExpr{Key: key, Value: val})
		if !p.accept(",") {
			break
		}
	}
	p.expect("}")
	return se
}

// parseStringInterp re-enters the parser in expression mode for each
// interpolation hole: a fresh parser runs over the segment's token list
// in expression mode, and the segment must yield exactly one
// expression.
func (p *Parser) parseStringInterp() ast.Node {
	start := p.span()
	t := p.advance()
	se := &ast.StringInterpExpr{bs(start), t.Literal.Str, nil}
	for _, segToks := range t.Literal.Segments {
		expr := p.parseInterpolationHole(segToks, t)
		se.Holes = append(se.Holes, expr)
	}
	return se
}

// parseInterpolationHole parses one "${...}" segment's tokens as a
// single expression, converting both a content that does not parse as
// an expression at all (e.g. a statement like `var x = 1`) and a content
// that parses as an expression but leaves tokens unconsumed into the
// same CodeStringInterpolation error at the hole's position, recovered
// here rather than left to escape as whatever raw parse error the
// hole's content happened to trigger.
func (p *Parser) parseInterpolationHole(segToks []token.Token, t token.Token) (expr ast.Node) {
	sub := NewParser(segToks, p.key, SourceExpression)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(parseError); !ok {
				panic(r)
			}
			p.errs = append(p.errs, NewError(CodeStringInterpolation, p.key, t.Line, t.Column, t.Offset, t.Length,
				"interpolation hole must be exactly one expression"))
			expr = &ast.LiteralExpr{Kind: token.Null}
		}
	}()
	expr = sub.parseAssignment()
	if sub.peek().Kind != token.EOF {
		p.errs = append(p.errs, NewError(CodeStringInterpolation, p.key, t.Line, t.Column, t.Offset, t.Length,
			"interpolation hole must be exactly one expression"))
	}
	p.errs = append(p.errs, sub.errs...)
	return expr
}

// parseIntLiteral synthesizes an integer literal node at span; nothing
// in this package calls it.
func parseIntLiteral(span ast.Span, v int64) ast.Node {
	return &ast.LiteralExpr{bs(span), token.Integer, false, v, 0, ""}
}
