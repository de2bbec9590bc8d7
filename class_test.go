package vesper

import "testing"

// TestClassLookupMethodPrefersMostDerived exercises LookupMethod's
// "method resolution prefers the most derived override" invariant.
func TestClassLookupMethodPrefersMostDerived(t *testing.T) {
	base := NewClass("Base", nil)
	base.AddMethod(&Function{Name: "greet", InternalName: "greet"})
	derived := NewClass("Derived", base)
	overridden := &Function{Name: "greet", InternalName: "greet"}
	derived.AddMethod(overridden)

	fn, owner := derived.LookupMethod("greet")
	if fn != overridden || owner != derived {
		t.Fatalf("LookupMethod(greet) resolved to %v on %v, want the derived override", fn, owner)
	}

	onlyBase := NewClass("OnlyBase", base)
	fn2, owner2 := onlyBase.LookupMethod("greet")
	if fn2 == overridden || owner2 != base {
		t.Fatalf("LookupMethod(greet) on a sibling without its own override should resolve to Base's, got %v on %v", fn2, owner2)
	}
}

// TestClassIsSubclassOfAndDepth exercises IsSubclassOf's ancestry walk
// and Depth's "instance namespace chain length equals inheritance
// depth" invariant.
func TestClassIsSubclassOfAndDepth(t *testing.T) {
	a := NewClass("A", nil)
	b := NewClass("B", a)
	c := NewClass("C", b)

	if !c.IsSubclassOf(a) || !c.IsSubclassOf(b) || !c.IsSubclassOf(c) {
		t.Fatal("C should be considered a subclass of A, B, and itself")
	}
	if a.IsSubclassOf(c) {
		t.Fatal("A should not be considered a subclass of its own descendant C")
	}
	if c.Depth() != 2 {
		t.Fatalf("C.Depth() = %d, want 2", c.Depth())
	}
	if a.Depth() != 0 {
		t.Fatalf("A.Depth() = %d, want 0", a.Depth())
	}
}

// TestNewInstanceSeedsFieldsAndChain exercises NewInstance's per-
// ancestor namespace chain: each level's declared fields start at Null,
// and the chain is linked via SuperInst one level per ancestor.
func TestNewInstanceSeedsFieldsAndChain(t *testing.T) {
	base := NewClass("Base", nil)
	base.AddField("x", nil)
	derived := NewClass("Derived", base)
	derived.AddField("y", nil)

	inst := NewInstance(derived)
	x, ok := inst.GetField("x")
	if !ok || x.Kind != KindNull {
		t.Fatalf("inst.GetField(x) = %v, %v, want Null/true", x, ok)
	}
	y, ok := inst.GetField("y")
	if !ok || y.Kind != KindNull {
		t.Fatalf("inst.GetField(y) = %v, %v, want Null/true", y, ok)
	}

	inst.SetField("x", IntValue(5))
	x2, _ := inst.GetField("x")
	if x2.Int != 5 {
		t.Fatalf("after SetField(x, 5), GetField(x) = %v", x2)
	}

	if inst.NS.SuperInst == nil {
		t.Fatal("Derived instance's namespace should chain to Base's via SuperInst")
	}
	if inst.NS.SuperInst.LookupOwn("x") == nil {
		t.Fatal("Base's instance-chain level should own field x directly")
	}
}

// TestInstanceSetFieldOnUndeclaredNameDefinesAtReceiver exercises
// SetField's fallback: a name no ancestor declares is created fresh at
// the receiver's own instance-namespace level.
func TestInstanceSetFieldOnUndeclaredNameDefinesAtReceiver(t *testing.T) {
	cls := NewClass("Bare", nil)
	inst := NewInstance(cls)
	inst.SetField("dynamic", StringValue("hi"))
	v, ok := inst.GetField("dynamic")
	if !ok || v.Str != "hi" {
		t.Fatalf("GetField(dynamic) = %v, %v", v, ok)
	}
}
