package vesper

import "testing"

// TestStructObjectKeysOwnOnly exercises Keys' "receiver's own keys only,
// not the prototype's" contract.
func TestStructObjectKeysOwnOnly(t *testing.T) {
	proto := NewStructObject("", nil)
	proto.Set("inherited", IntValue(1))
	child := NewStructObject("", proto)
	child.Set("own", IntValue(2))

	keys := child.Keys()
	if len(keys) != 1 || keys[0] != "own" {
		t.Fatalf("Keys() = %v, want [own]", keys)
	}
}

// TestStructObjectStringEmpty exercises the empty-struct rendering
// shortcut.
func TestStructObjectStringEmpty(t *testing.T) {
	if got := NewStructObject("", nil).String(); got != "{}" {
		t.Fatalf("String() = %q, want {}", got)
	}
}

// TestStructObjectStringOrdersFieldsByInsertion exercises the
// multi-line rendering, confirming field order follows insertion order
// rather than key sort order.
func TestStructObjectStringOrdersFieldsByInsertion(t *testing.T) {
	s := NewStructObject("", nil)
	s.Set("b", IntValue(2))
	s.Set("a", IntValue(1))
	want := "{\n  b: 2,\n  a: 1\n}"
	if got := s.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
