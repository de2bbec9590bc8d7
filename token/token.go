// Package token defines the lexical vocabulary shared by the lexer and
// parser: token kinds, the keyword and punctuation tables, and the
// immutable Token value itself.
package token

// Kind tags the lexical category of a Token.
type Kind int

const (
	Invalid Kind = iota
	EOF
	EmptyLine
	Identifier
	Keyword
	Integer
	Float
	Boolean
	Null
	String
	StringInterp
	Punct
	LineComment
	LineDocComment
	BlockComment
	BlockDocComment
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "eof"
	case EmptyLine:
		return "empty-line"
	case Identifier:
		return "identifier"
	case Keyword:
		return "keyword"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Null:
		return "null"
	case String:
		return "string"
	case StringInterp:
		return "string-interpolation"
	case Punct:
		return "punctuation"
	case LineComment, LineDocComment, BlockComment, BlockDocComment:
		return "comment"
	default:
		return "invalid"
	}
}

// Keywords reserved by the language. Identifiers matching one of these
// lex as Keyword rather than Identifier.
var Keywords = map[string]bool{
	"var": true, "final": true, "const": true, "late": true,
	"fun": true, "construct": true, "factory": true, "get": true, "set": true,
	"class": true, "struct": true, "enum": true, "interface": true,
	"extends": true, "implements": true, "with": true, "abstract": true,
	"external": true, "static": true, "export": true, "top": true,
	"this": true, "super": true, "null": true, "true": true, "false": true,
	"if": true, "else": true, "while": true, "do": true, "for": true,
	"in": true, "when": true, "is": true, "as": true, "typeof": true,
	"break": true, "continue": true, "return": true,
	"import": true, "library": true, "from": true,
}

// Punctuation and operator lexemes, longest-match-first order matters to
// the lexer's greedy scan.
var Punctuation = []string{
	"...", "??=", "is!",
	"<<=", ">>=",
	"==", "!=", "<=", ">=", "&&", "||", "??", "?.", "=>", "->",
	"++", "--", "+=", "-=", "*=", "/=", "%=",
	"(", ")", "[", "]", "{", "}", ",", ".", ":", ";",
	"+", "-", "*", "/", "%", "=", "<", ">", "!", "?", "&", "|", "^", "~",
}

// Literal carries the typed payload of a token for kinds that need one.
// Exactly one field is meaningful, selected by the owning Token's Kind.
type Literal struct {
	Bool  bool
	Int   int64
	Float float64
	Str   string
	// Segments holds, for a StringInterp token, the token lists of each
	// "${ ... }" interpolation hole, in left-to-right order. A nil entry
	// within Segments never occurs; an empty Segments means no holes.
	Segments [][]Token
}

// Token is an immutable lexeme plus its source position. Span fields are
// zero-based for Offset, one-based for Line and Column, matching the
// convention used throughout this package's span-reporting APIs.
type Token struct {
	Kind    Kind
	Text    string
	Line    int
	Column  int
	Offset  int
	Length  int
	Literal *Literal
}

// IsKeyword reports whether text names a reserved keyword.
func IsKeyword(text string) bool {
	return Keywords[text]
}
