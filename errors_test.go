package vesper

import (
	"errors"
	"strings"
	"testing"
)

// TestErrorKindBucketing exercises ErrorCode.Kind's mapping to its
// severity bucket.
func TestErrorKindBucketing(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want ErrorKind
	}{
		{CodeUnexpectedToken, KindSyntacticError},
		{CodeArity, KindRuntimeError},
		{CodeDuplicateDeclaration, KindCompileTimeError},
		{CodeBytecodeVersion, KindExternalError},
	}
	for _, c := range cases {
		if got := c.code.Kind(); got != c.want {
			t.Errorf("%v.Kind() = %v, want %v", c.code, got, c.want)
		}
	}
}

// TestErrorMessageIncludesPositionAndTrace exercises Error's rendering,
// including WithTrace's accumulated call-frame trail.
func TestErrorMessageIncludesPositionAndTrace(t *testing.T) {
	e := NewError(CodeUndefinedSymbol, "mod.vsp", 3, 7, 20, 4, "undefined identifier: %s", "foo")
	if e.ModuleKey != "mod.vsp" || e.Line != 3 || e.Column != 7 {
		t.Fatalf("NewError position = %+v", e)
	}
	withTrace := e.WithTrace(Frame{InternalName: "bar", ModuleKey: "mod.vsp", Line: 3, Column: 7})
	if len(withTrace.Trace) != 1 {
		t.Fatalf("WithTrace should append one frame, got %d", len(withTrace.Trace))
	}
	if len(e.Trace) != 0 {
		t.Fatal("WithTrace must not mutate the receiver's own Trace")
	}
	msg := withTrace.Error()
	if !strings.Contains(msg, "mod.vsp:3:7") || !strings.Contains(msg, "bar (mod.vsp:3:7)") {
		t.Fatalf("Error() = %q, missing expected position/trace text", msg)
	}
}

// TestErrorUnwrapExposesCause exercises Unwrap's errors.Is/As
// compatibility via a wrapped Cause.
func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying failure")
	e := &Error{Code: CodeInternal, Cause: cause}
	if !errors.Is(e, cause) {
		t.Fatal("errors.Is should see through Error.Unwrap to its Cause")
	}
}

// TestArityErrorAndNamedArgError exercise the two error constructors,
// checked by shape rather than by exact wording.
func TestArityErrorAndNamedArgError(t *testing.T) {
	ae := ArityError("m", 1, 1, 5, 1, 3)
	if ae.Code != CodeArity {
		t.Fatalf("ArityError code = %v, want CodeArity", ae.Code)
	}
	ne := NamedArgError("m", 1, 1, "bogus")
	if ne.Code != CodeNamedArg {
		t.Fatalf("NamedArgError code = %v, want CodeNamedArg", ne.Code)
	}
}
