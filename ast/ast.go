// Package ast defines the abstract syntax tree produced by the parser.
// Every node variant embeds Span so positions are always available for
// error reporting. The node set is large and the payloads are
// incompatible with each other (type expressions vs. declarations vs.
// redirecting-constructor records), so each variant gets its own Go
// type behind a shared Node interface, the way go/ast itself does it.
package ast

import "github.com/vesper-lang/vesper/token"

// Span locates a node in its source unit.
type Span struct {
	Line, Column, Offset, Length int
	SourceKey                    string
}

// Node is implemented by every AST variant.
type Node interface {
	Pos() Span
}

type Base struct {
	Span Span
}

func (b Base) Pos() Span { return b.Span }

func spanOf(t token.Token, key string) Span {
	return Span{Line: t.Line, Column: t.Column, Offset: t.Offset, Length: t.Length, SourceKey: key}
}

/* ------------------------------ Expressions ------------------------------ */

// LiteralExpr is a boolean, integer, float, string, or null constant.
type LiteralExpr struct {
	Base
	Kind  token.Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

// IdentifierExpr references a declaration by name.
type IdentifierExpr struct {
	Base
	Name string
}

// UnaryExpr is a prefix or postfix unary operation.
type UnaryExpr struct {
	Base
	Op       string
	Operand  Node
	Postfix  bool
}

// BinaryExpr is a left-associative or non-associative two-operand
// expression (including the relational/type operators `is`, `is!`, `as`).
type BinaryExpr struct {
	Base
	Op          string
	Left, Right Node
}

// TernaryExpr is the `cond ? then : else` conditional expression.
type TernaryExpr struct {
	Base
	Cond, Then, Else Node
}

// MemberExpr is `object.name`.
type MemberExpr struct {
	Base
	Object Node
	Name   string
}

// SubscriptExpr is `object[index]`.
type SubscriptExpr struct {
	Base
	Object, Index Node
}

// CallExpr is a function or method invocation with positional, optional,
// and named arguments plus optional explicit type arguments.
type CallExpr struct {
	Base
	Callee     Node
	Positional []Node
	NamedNames []string
	NamedArgs  []Node
	TypeArgs   []Node
}

// GroupExpr is a parenthesized expression. An arrow-function literal
// parsed from the same `( ... )` lead-in becomes a FuncDecl instead.
type GroupExpr struct {
	Base
	Inner Node
}

// ListExpr is a `[a, b, c]` list literal.
type ListExpr struct {
	Base
	Elements []Node
}

// StructFieldExpr is one `key: value` pair of a struct-object literal.
type StructFieldExpr struct {
	Key   string
	Value Node
}

// StructExpr is a `{ ident? proto? field: value, ... }` struct literal.
type StructExpr struct {
	Base
	Name      string
	Prototype string
	Fields    []StructFieldExpr
}

// StringInterpExpr is an interpolated string: Parts holds the literal
// text with "{N}" placeholders substituted by Holes' evaluated results.
type StringInterpExpr struct {
	Base
	Parts string
	Holes []Node
}

// ThisExpr / SuperExpr reference the current instance or its superclass
// view respectively. Only legal inside a method body.
type ThisExpr struct{ Base }
type SuperExpr struct{ Base }

// IfExpr is the expression-form `if (cond) then else else`.
type IfExpr struct {
	Base
	Cond, Then, Else Node
}

/* ---------------------------- Type expressions ---------------------------- */

// PrimitiveTypeExpr names a built-in type (int, float, string, bool, any, ...).
type PrimitiveTypeExpr struct {
	Base
	Name     string
	Nullable bool
}

// NominalTypeExpr names a user type, optionally with generic arguments.
type NominalTypeExpr struct {
	Base
	Name     string
	Args     []Node
	Nullable bool
}

// FuncTypeExpr is a `(ParamType, ...) -> ReturnType` function type.
type FuncTypeExpr struct {
	Base
	Params   []Node
	Return   Node
	Nullable bool
}

// ParamTypeExpr wraps a parameter's declared type together with its
// optional/named/variadic flags, used inside FuncTypeExpr.Params.
type ParamTypeExpr struct {
	Base
	Type             Node
	Optional, Named  bool
	Variadic         bool
}

// GenericParamExpr names a class/function generic type parameter.
type GenericParamExpr struct {
	Base
	Name string
	Bound Node
}

/* ------------------------------ Statements ------------------------------ */

// ExprStmt evaluates an expression for its side effect, discarding the
// result.
type ExprStmt struct {
	Base
	Expr Node
}

// BlockStmt is a `{ ... }` sequence of statements with its own scope.
type BlockStmt struct {
	Base
	Stmts []Node
}

// ReturnStmt returns from the enclosing function, with an implicit null
// value when Value is nil.
type ReturnStmt struct {
	Base
	Value Node
}

// BreakStmt / ContinueStmt exit or restart the nearest enclosing loop.
type BreakStmt struct{ Base }
type ContinueStmt struct{ Base }

// IfStmt is the statement-form `if (cond) then else else`.
type IfStmt struct {
	Base
	Cond     Node
	Then     Node
	Else     Node
}

// WhileStmt / DoWhileStmt.
type WhileStmt struct {
	Base
	Cond Node
	Body Node
}

type DoWhileStmt struct {
	Base
	Body Node
	Cond Node
}

// ForStmt is the C-style `for (init; cond; step) body`.
type ForStmt struct {
	Base
	Init Node
	Cond Node
	Step Node
	Body Node
}

// ForInStmt is `for (var elem in iterable) body`.
type ForInStmt struct {
	Base
	ElemName string
	Iterable Node
	Body     Node
}

// WhenCase is one `case-expr, case-expr -> branch` arm of a WhenStmt. A
// nil Exprs slice denotes the `else` arm.
type WhenCase struct {
	Exprs  []Node
	Branch Node
}

// WhenStmt is the `when (subject?) { case ... }` multi-way branch.
type WhenStmt struct {
	Base
	Subject Node
	Cases   []WhenCase
}

/* ----------------------------- Declarations ----------------------------- */

// Modifiers bundles the declaration modifier flags.
type Modifiers struct {
	External       bool
	Static         bool
	Const          bool
	Mutable        bool
	Exported       bool
	TopLevel       bool
	LateInitialize bool
	Abstract       bool
}

// VarDecl declares one or more bindings (comma-separated forms lower to
// separate VarDecl nodes by the parser).
type VarDecl struct {
	Base
	Name        string
	ClassName   string
	Modifiers   Modifiers
	DeclaredType Node
	Init        Node
}

// ParamFlags distinguishes optional, named, and variadic parameters.
type ParamFlags struct {
	Optional bool
	Named    bool
	Variadic bool
}

// ParamDecl is one function parameter.
type ParamDecl struct {
	Base
	Name         string
	DeclaredType Node
	Init         Node
	Flags        ParamFlags
}

// FuncCategory distinguishes the function roles.
type FuncCategory int

const (
	FuncNormal FuncCategory = iota
	FuncLiteral
	FuncMethod
	FuncGetter
	FuncSetter
	FuncConstructor
	FuncFactory
)

// RedirectKind names the target of a redirecting constructor call.
type RedirectKind int

const (
	RedirectNone RedirectKind = iota
	RedirectSuper
	RedirectThis
)

// RedirectingConstructor records a `construct(...) : super(...)` or
// `: this.name(...)` delegation header.
type RedirectingConstructor struct {
	Kind       RedirectKind
	Name       string
	Positional []Node
	NamedNames []string
	NamedArgs  []Node
}

// FuncDecl declares a named or anonymous function, method, getter,
// setter, constructor, or factory.
type FuncDecl struct {
	Base
	Name         string
	Category     FuncCategory
	Modifiers    Modifiers
	Params       []*ParamDecl
	ReturnType   Node
	Body         Node
	Redirect     *RedirectingConstructor
	ConstructorName string
}

// ClassDecl declares a class, with a discriminating Kind; the parser
// emits enums and structs as EnumDecl and StructDecl instead.
type ClassKind int

const (
	ClassNormal ClassKind = iota
	ClassEnum
	ClassStructBody
)

type ClassDecl struct {
	Base
	Name            string
	Kind            ClassKind
	Modifiers       Modifiers
	GenericParams   []*GenericParamExpr
	Superclass      Node
	Implements      []Node
	Mixes           []Node
	Members         []Node
	EnumValues      []string
}

// EnumDecl declares an enumeration; the compiler builds a Class with
// IsEnum set directly from it (see compiler.go).
type EnumDecl struct {
	Base
	Name       string
	Modifiers  Modifiers
	Values     []string
}

// StructDecl declares a named prototype/struct type.
type StructDecl struct {
	Base
	Name      string
	Modifiers Modifiers
	Prototype Node
	Members   []Node
}

// TypeAliasDecl declares `type Name = TypeExpr`.
type TypeAliasDecl struct {
	Base
	Name string
	Type Node
}

// ImportDecl declares `import "key" [as alias] [show a, b]`. AbsoluteKey
// is filled in by the module loader once the import is resolved.
type ImportDecl struct {
	Base
	Key         string
	Alias       string
	ShowNames   []string
	AbsoluteKey string
}

// LibraryDecl declares the current module as the named library's entry
// point: `library "name";`.
type LibraryDecl struct {
	Base
	Name string
}

// NewSpan is exported for the parser to build spans from tokens.
func NewSpan(t token.Token, key string) Span { return spanOf(t, key) }
