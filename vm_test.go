package vesper

import (
	"strings"
	"testing"

	"github.com/vesper-lang/vesper/lex"
)

// compileAndRun lexes, parses, compiles, and links src as a single
// script module, running its top-level statements. It fails the test on
// any lex/parse/link error, mirroring how an Engine.Eval caller expects
// a well-formed scenario to load cleanly.
func compileAndRun(t *testing.T, src string) *VM {
	t.Helper()
	toks, lexErrs := lex.Tokenize(src, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	if len(m.Errors) != 0 {
		t.Fatalf("parse errors: %v", m.Errors)
	}
	pool := NewConstantPool()
	cm := NewCompiler(pool).CompileModule(m)
	vm := NewVM(pool)
	vm.AddModule(cm)
	if errs := vm.Link(); len(errs) != 0 {
		t.Fatalf("link errors: %v", errs)
	}
	if _, err := vm.ExecModule(cm); err != nil {
		t.Fatalf("exec error: %v", err)
	}
	return vm
}

// TestBasicStruct exercises a struct literal, member assignment
// introducing a new key, and the implicit toString member walking the
// receiver's own keys in declaration order.
func TestBasicStruct(t *testing.T) {
	vm := compileAndRun(t, `
		fun t() {
			var f = { value: 42, greeting: 'hi!' };
			f.value = 'ha!';
			f.world = 'everything';
			return f.toString();
		}
	`)
	result, err := vm.Invoke("t", nil, nil)
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	want := "{\n  value: ha!,\n  greeting: hi!,\n  world: everything\n}"
	if result.Kind != KindString || result.Str != want {
		t.Fatalf("t() = %q, want %q", result.String(), want)
	}
}

// TestNamedAndOptionalArguments exercises a positional required
// parameter, an optional positional parameter with a default, and a
// named optional parameter with a default, with an over-arity call
// raising CodeArity.
func TestNamedAndOptionalArguments(t *testing.T) {
	vm := compileAndRun(t, `fun f(a, [b = 2], {c = 3}) => a + b + c;`)

	cases := []struct {
		pos   []Value
		named map[string]Value
		want  int64
	}{
		{[]Value{IntValue(10)}, nil, 15},
		{[]Value{IntValue(10), IntValue(20)}, nil, 25},
		{[]Value{IntValue(10), IntValue(20)}, map[string]Value{"c": IntValue(30)}, 60},
	}
	for _, c := range cases {
		result, err := vm.Invoke("f", c.pos, c.named)
		if err != nil {
			t.Fatalf("invoke f%v named=%v: unexpected error: %v", c.pos, c.named, err)
		}
		if result.Kind != KindInt || result.Int != c.want {
			t.Fatalf("f%v named=%v = %v, want %d", c.pos, c.named, result, c.want)
		}
	}

	_, err := vm.Invoke("f", []Value{IntValue(10), IntValue(20), IntValue(30), IntValue(40)}, nil)
	if err == nil {
		t.Fatal("expected an arity error for 4 positional arguments, got none")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeArity {
		t.Fatalf("expected CodeArity, got %v", err)
	}
}

// TestForInLowering exercises `for (var x in [...])` accumulating over
// a list.
func TestForInLowering(t *testing.T) {
	vm := compileAndRun(t, `
		fun t() {
			var s = 0;
			for (var x in [1, 2, 3, 4]) {
				s = s + x;
			}
			return s;
		}
	`)
	result, err := vm.Invoke("t", nil, nil)
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if result.Kind != KindInt || result.Int != 10 {
		t.Fatalf("t() = %v, want 10", result)
	}
}

// TestInheritanceAndSuperCall exercises a subclass's redirecting
// constructor forwarding a transformed argument to its superclass's
// constructor while also setting its own field.
func TestInheritanceAndSuperCall(t *testing.T) {
	vm := compileAndRun(t, `
		class A {
			construct(x) { this.x = x; }
		}
		class B extends A {
			construct(y) : super(y * 2) { this.y = y; }
		}
	`)
	b := vm.construct(vm.Classes["B"], []Value{IntValue(3)}, nil)
	if b.Kind != KindInstance {
		t.Fatalf("B(3) did not produce an instance: %v", b)
	}
	x, ok := b.Instance.GetField("x")
	if !ok || x.Kind != KindInt || x.Int != 6 {
		t.Fatalf("B(3).x = %v, want 6", x)
	}
	y, ok := b.Instance.GetField("y")
	if !ok || y.Kind != KindInt || y.Int != 3 {
		t.Fatalf("B(3).y = %v, want 3", y)
	}
}

// TestEnumLowering exercises an enum-as-class's static `values` list
// and an enumerator's `toString` rendering "Enum.member".
func TestEnumLowering(t *testing.T) {
	vm := compileAndRun(t, `enum E { a, b }`)

	ev, err := vm.memberGet(ClassValue(vm.Classes["E"]), "values")
	if err != nil {
		t.Fatalf("E.values: %v", err)
	}
	if ev.Kind != KindList || len(ev.List) != 2 {
		t.Fatalf("E.values = %v, want a 2-element list", ev)
	}

	a, err := vm.memberGet(ClassValue(vm.Classes["E"]), "a")
	if err != nil {
		t.Fatalf("E.a: %v", err)
	}
	str, err := vm.memberGet(a, "toString")
	if err != nil {
		t.Fatalf("E.a.toString member: %v", err)
	}
	result, err := vm.CallFunctionSafe(str.Func, str.BoundThis, nil, nil)
	if err != nil {
		t.Fatalf("E.a.toString(): %v", err)
	}
	if result.Kind != KindString || result.Str != "E.a" {
		t.Fatalf("E.a.toString() = %q, want %q", result.String(), "E.a")
	}
}

// TestStringInterpolationError exercises that a statement inside an
// interpolation hole is not a single expression and must raise
// CodeStringInterpolation at parse time.
func TestStringInterpolationError(t *testing.T) {
	toks, lexErrs := lex.Tokenize(`fun t() { return '${var x = 1}'; }`, "<test>")
	if len(lexErrs) != 0 {
		t.Fatalf("lex errors: %v", lexErrs)
	}
	m := ParseModule(toks, "<test>", SourceScript)
	if len(m.Errors) == 0 {
		t.Fatal("expected a stringInterpolation parse error, got none")
	}
	found := false
	for _, err := range m.Errors {
		if ve, ok := err.(*Error); ok && ve.Code == CodeStringInterpolation {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CodeStringInterpolation among parse errors, got %v", m.Errors)
	}
}

// TestStructPrototypeChainRead exercises the "struct read walks the
// prototype chain until a match or the root" invariant directly
// against StructObject, independent of the parser/compiler.
func TestStructPrototypeChainRead(t *testing.T) {
	root := NewStructObject("", nil)
	root.Set("shared", IntValue(1))
	child := NewStructObject("", root)
	child.Set("own", IntValue(2))

	if v, ok := child.Get("own"); !ok || v.Int != 2 {
		t.Fatalf("child.Get(own) = %v, %v", v, ok)
	}
	if v, ok := child.Get("shared"); !ok || v.Int != 1 {
		t.Fatalf("child.Get(shared) = %v, %v, want fall-through to prototype", v, ok)
	}
	if _, ok := child.Get("missing"); ok {
		t.Fatal("child.Get(missing) should report no match")
	}

	child.Set("shared", IntValue(99))
	if len(root.Keys()) != 1 {
		t.Fatalf("writing through child must not mutate the prototype's own keys: %v", root.Keys())
	}
	if v, _ := child.Get("shared"); v.Int != 99 {
		t.Fatal("struct write must create the key on the receiver, shadowing the prototype")
	}
}

func TestMemberGetOnNullReceiverFails(t *testing.T) {
	vm := NewVM(NewConstantPool())
	_, err := vm.memberGet(Null, "anything")
	if err == nil {
		t.Fatal("expected an error reading a member off null")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeNullReceiver {
		t.Fatalf("expected CodeNullReceiver, got %v", err)
	}
}

func TestCallOnNonCallableRaisesUnsupportedConstruct(t *testing.T) {
	vm := compileAndRun(t, `fun t() { var n = 5; return n(); }`)
	_, err := vm.Invoke("t", nil, nil)
	if err == nil {
		t.Fatal("expected an error calling an int value")
	}
	if !strings.Contains(err.Error(), "not callable") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestUnknownNamedArgumentRejected exercises bindParams' rejection of a
// named argument that does not match any of the function's declared
// named parameters.
func TestUnknownNamedArgumentRejected(t *testing.T) {
	vm := compileAndRun(t, `fun f({c = 3}) => c;`)
	_, err := vm.Invoke("f", nil, map[string]Value{"bogus": IntValue(1)})
	if err == nil {
		t.Fatal("expected an error calling f with an unrecognised named argument")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeNamedArg {
		t.Fatalf("expected CodeNamedArg, got %v", err)
	}
}

// TestConstReassignmentRejected exercises the immutable-assignment check
// on a `const`-declared binding.
func TestConstReassignmentRejected(t *testing.T) {
	vm := compileAndRun(t, `fun t() { const x = 1; x = 2; return x; }`)
	_, err := vm.Invoke("t", nil, nil)
	if err == nil {
		t.Fatal("expected an error reassigning a const binding")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeImmutableAssignment {
		t.Fatalf("expected CodeImmutableAssignment, got %v", err)
	}
}

// TestMutableVarReassignmentStillWorks exercises that the const check
// does not reject an ordinary `var` binding.
func TestMutableVarReassignmentStillWorks(t *testing.T) {
	vm := compileAndRun(t, `fun t() { var x = 1; x = 2; return x; }`)
	result, err := vm.Invoke("t", nil, nil)
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if result.Kind != KindInt || result.Int != 2 {
		t.Fatalf("t() = %v, want 2", result)
	}
}

// TestFailedTypeCastRaisesTypeCastFailure exercises `as`'s failure path:
// a string value cannot satisfy the `int` primitive type.
func TestFailedTypeCastRaisesTypeCastFailure(t *testing.T) {
	vm := compileAndRun(t, `fun t() { var x = 'hello'; return x as int; }`)
	_, err := vm.Invoke("t", nil, nil)
	if err == nil {
		t.Fatal("expected an error casting a string to int")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeTypeCastFailure {
		t.Fatalf("expected CodeTypeCastFailure, got %v", err)
	}
}

// TestCallDepthExceededRaisesError exercises callFunction's recursion
// guard: unbounded script recursion raises CodeCallDepthExceeded instead
// of overflowing the host's Go stack.
func TestCallDepthExceededRaisesError(t *testing.T) {
	vm := compileAndRun(t, `fun loop() => loop();`)
	vm.MaxCallDepth = 16
	_, err := vm.Invoke("loop", nil, nil)
	if err == nil {
		t.Fatal("expected an error from unbounded recursion")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeCallDepthExceeded {
		t.Fatalf("expected CodeCallDepthExceeded, got %v", err)
	}
}
