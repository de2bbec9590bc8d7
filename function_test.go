package vesper

import "testing"

// TestNewFunctionArityPlainParams exercises NewFunction's arity
// derivation for an all-required positional parameter list.
func TestNewFunctionArityPlainParams(t *testing.T) {
	fn := NewFunction("f", CategoryFunction, []ParamDecl{{Name: "a"}, {Name: "b"}})
	if fn.MinArity != 2 || fn.MaxArity != 2 {
		t.Fatalf("MinArity=%d MaxArity=%d, want 2/2", fn.MinArity, fn.MaxArity)
	}
	if !fn.AcceptsArity(2) || fn.AcceptsArity(1) || fn.AcceptsArity(3) {
		t.Fatalf("AcceptsArity disagrees with a fixed two-parameter function")
	}
}

// TestNewFunctionArityOptionalAndNamed exercises mixed required/
// optional-positional/named parameters: named parameters never count
// toward positional MinArity/MaxArity.
func TestNewFunctionArityOptionalAndNamed(t *testing.T) {
	fn := NewFunction("f", CategoryFunction, []ParamDecl{
		{Name: "a"},
		{Name: "b", Optional: true},
		{Name: "c", Named: true, Optional: true},
	})
	if fn.MinArity != 1 {
		t.Fatalf("MinArity = %d, want 1 (only 'a' is required positional)", fn.MinArity)
	}
	if fn.MaxArity != 2 {
		t.Fatalf("MaxArity = %d, want 2 (named param excluded from positional arity)", fn.MaxArity)
	}
	if !fn.AcceptsArity(1) || !fn.AcceptsArity(2) || fn.AcceptsArity(3) {
		t.Fatalf("AcceptsArity(1/2/3) = %v/%v/%v, want true/true/false",
			fn.AcceptsArity(1), fn.AcceptsArity(2), fn.AcceptsArity(3))
	}
}

// TestNewFunctionArityVariadic exercises an unbounded MaxArity for a
// trailing variadic parameter.
func TestNewFunctionArityVariadic(t *testing.T) {
	fn := NewFunction("f", CategoryFunction, []ParamDecl{
		{Name: "a"},
		{Name: "rest", Variadic: true},
	})
	if fn.MaxArity != -1 {
		t.Fatalf("MaxArity = %d, want -1 for a variadic function", fn.MaxArity)
	}
	if !fn.AcceptsArity(1) || !fn.AcceptsArity(50) {
		t.Fatal("a variadic function should accept any arity at or above MinArity")
	}
	if fn.AcceptsArity(0) {
		t.Fatal("a variadic function should still enforce its required leading params")
	}
}

// TestFunctionNamedParamLookup exercises NamedParam, used by the VM's
// bindParams to resolve a caller's named argument against its
// declaration.
func TestFunctionNamedParamLookup(t *testing.T) {
	fn := NewFunction("f", CategoryFunction, []ParamDecl{
		{Name: "a"},
		{Name: "c", Named: true, Optional: true},
	})
	if _, ok := fn.NamedParam("a"); ok {
		t.Fatal("NamedParam should not match a positional parameter")
	}
	p, ok := fn.NamedParam("c")
	if !ok || p.Name != "c" {
		t.Fatalf("NamedParam(c) = %+v, %v", p, ok)
	}
}
