package vesper

import (
	"testing"

	"github.com/vesper-lang/vesper/ast"
	"github.com/vesper-lang/vesper/lex"
)

func parseOK(t *testing.T, src string) *Module {
	t.Helper()
	toks, lexErrs := lex.Tokenize(src, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	if len(m.Errors) != 0 {
		t.Fatalf("parse errors: %v", m.Errors)
	}
	return m
}

// TestParseStructLiteral exercises `{ key: value, ... }` struct literal
// parsing into ast.StructExpr.
func TestParseStructLiteral(t *testing.T) {
	m := parseOK(t, `var f = { value: 42, greeting: 'hi!' };`)
	vd, ok := m.Nodes[0].(*ast.VarDecl)
	if !ok {
		t.Fatalf("Nodes[0] = %T, want *ast.VarDecl", m.Nodes[0])
	}
	se, ok := vd.Init.(*ast.StructExpr)
	if !ok {
		t.Fatalf("VarDecl.Init = %T, want *ast.StructExpr", vd.Init)
	}
	if len(se.Fields) != 2 || se.Fields[0].Key != "value" || se.Fields[1].Key != "greeting" {
		t.Fatalf("StructExpr.Fields = %+v", se.Fields)
	}
}

// TestParseFuncDeclRequiresParens exercises the grammar's requirement
// that every func declaration names a parenthesized parameter list,
// even when empty.
func TestParseFuncDeclRequiresParens(t *testing.T) {
	m := parseOK(t, `fun greet() => 'hi';`)
	fd, ok := m.Nodes[0].(*ast.FuncDecl)
	if !ok {
		t.Fatalf("Nodes[0] = %T, want *ast.FuncDecl", m.Nodes[0])
	}
	if fd.Name != "greet" || len(fd.Params) != 0 {
		t.Fatalf("FuncDecl = %+v", fd)
	}
}

// TestParseParamListFlags exercises positional, defaulted, named, and
// variadic parameter flags in one parameter list.
func TestParseParamListFlags(t *testing.T) {
	m := parseOK(t, `fun f(a, b = 2, {c = 3}, ...rest) => a;`)
	fd := m.Nodes[0].(*ast.FuncDecl)
	if len(fd.Params) != 4 {
		t.Fatalf("len(Params) = %d, want 4", len(fd.Params))
	}
	a, b, c, rest := fd.Params[0], fd.Params[1], fd.Params[2], fd.Params[3]
	if a.Flags.Optional || a.Flags.Named || a.Flags.Variadic {
		t.Fatalf("a should be a plain required positional param: %+v", a.Flags)
	}
	if !b.Flags.Optional || b.Flags.Named {
		t.Fatalf("b should be an optional positional param with a default: %+v", b.Flags)
	}
	if !c.Flags.Named || !c.Flags.Optional {
		t.Fatalf("c should be a named optional param: %+v", c.Flags)
	}
	if !rest.Flags.Variadic {
		t.Fatalf("rest should be variadic: %+v", rest.Flags)
	}
}

// TestParsePositionalParamAfterNamedFails exercises the parser's
// "positional parameter cannot follow a named parameter" guard.
func TestParsePositionalParamAfterNamedFails(t *testing.T) {
	toks, lexErrs := lex.Tokenize(`fun f({a = 1}, b) => a;`, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	if len(m.Errors) == 0 {
		t.Fatal("expected a parse error for a positional param after a named one")
	}
}

// TestParseClassDeclWithExtendsAndGenerics exercises class header
// parsing: generic params, extends, implements.
func TestParseClassDeclWithExtendsAndGenerics(t *testing.T) {
	m := parseOK(t, `class Box<T extends Comparable> extends Container implements Sized {
		construct() { this.n = 0; }
	}`)
	cd, ok := m.Nodes[0].(*ast.ClassDecl)
	if !ok {
		t.Fatalf("Nodes[0] = %T, want *ast.ClassDecl", m.Nodes[0])
	}
	if cd.Name != "Box" || len(cd.GenericParams) != 1 || cd.GenericParams[0].Name != "T" {
		t.Fatalf("ClassDecl generics = %+v", cd.GenericParams)
	}
	if cd.Superclass == nil || len(cd.Implements) != 1 {
		t.Fatalf("ClassDecl extends/implements = %+v / %+v", cd.Superclass, cd.Implements)
	}
}

// TestParseEnumDecl exercises `enum Name { a, b }` parsing.
func TestParseEnumDecl(t *testing.T) {
	m := parseOK(t, `enum Color { red, green, blue }`)
	ed, ok := m.Nodes[0].(*ast.EnumDecl)
	if !ok {
		t.Fatalf("Nodes[0] = %T, want *ast.EnumDecl", m.Nodes[0])
	}
	if ed.Name != "Color" || len(ed.Values) != 3 {
		t.Fatalf("EnumDecl = %+v", ed)
	}
}

// TestParseConstructorRedirect exercises `construct(...) : super(...)`
// header parsing into ast.RedirectingConstructor.
func TestParseConstructorRedirect(t *testing.T) {
	m := parseOK(t, `class B extends A {
		construct(y) : super(y * 2) { this.y = y; }
	}`)
	cd := m.Nodes[0].(*ast.ClassDecl)
	var ctor *ast.FuncDecl
	for _, member := range cd.Members {
		if fd, ok := member.(*ast.FuncDecl); ok && fd.Category == ast.FuncConstructor {
			ctor = fd
		}
	}
	if ctor == nil {
		t.Fatal("no constructor found among class members")
	}
	if ctor.Redirect == nil || ctor.Redirect.Kind != ast.RedirectSuper {
		t.Fatalf("constructor redirect = %+v", ctor.Redirect)
	}
	if len(ctor.Redirect.Positional) != 1 {
		t.Fatalf("redirect positional args = %+v", ctor.Redirect.Positional)
	}
}

// TestParseForInStmt exercises `for (var x in iterable)` parsing.
func TestParseForInStmt(t *testing.T) {
	m := parseOK(t, `fun t() { for (var x in [1, 2, 3]) { x; } }`)
	fd := m.Nodes[0].(*ast.FuncDecl)
	block := fd.Body.(*ast.BlockStmt)
	if _, ok := block.Stmts[0].(*ast.ForInStmt); !ok {
		t.Fatalf("Stmts[0] = %T, want *ast.ForInStmt", block.Stmts[0])
	}
}

// TestStringInterpolationHoleRecoversErrorCode exercises parser.go's
// parseInterpolationHole: a hole whose contents don't parse as a single
// expression at all (a statement keyword) must be reported as
// CodeStringInterpolation, not whatever error the sub-parse panicked
// with internally.
func TestStringInterpolationHoleRecoversErrorCode(t *testing.T) {
	toks, lexErrs := lex.Tokenize(`fun t() { return '${var x = 1}'; }`, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	var codes []ErrorCode
	for _, err := range m.Errors {
		if ve, ok := err.(*Error); ok {
			codes = append(codes, ve.Code)
		}
	}
	found := false
	for _, c := range codes {
		if c == CodeStringInterpolation {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CodeStringInterpolation among %v", codes)
	}
}

// TestStringInterpolationHoleWithTrailingTokens exercises the
// leftover-tokens branch of parseInterpolationHole: a hole with more
// than one expression worth of tokens.
func TestStringInterpolationHoleWithTrailingTokens(t *testing.T) {
	toks, lexErrs := lex.Tokenize(`fun t() { return '${1 2}'; }`, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	found := false
	for _, err := range m.Errors {
		if ve, ok := err.(*Error); ok && ve.Code == CodeStringInterpolation {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CodeStringInterpolation, got %v", m.Errors)
	}
}

// TestParseErrorRecoveryCollectsMultipleErrors exercises recoverStmt's
// one-token-recovery: two independent malformed statements both surface
// their own error instead of the second one being swallowed.
func TestParseErrorRecoveryCollectsMultipleErrors(t *testing.T) {
	toks, lexErrs := lex.Tokenize(`fun t() { var ; var ; }`, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	if len(m.Errors) < 2 {
		t.Fatalf("expected at least 2 recovered errors, got %d: %v", len(m.Errors), m.Errors)
	}
}
