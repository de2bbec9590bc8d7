package ast

import "testing"

// TestBasePosReturnsOwnSpan exercises the one piece of shared behavior
// every node variant gets for free: Base.Pos returning the span it was
// constructed with, satisfying the Node interface.
func TestBasePosReturnsOwnSpan(t *testing.T) {
	want := Span{Line: 3, Column: 7, Offset: 20, Length: 4, SourceKey: "mod.vsp"}
	var n Node = &IdentifierExpr{Base: Base{Span: want}, Name: "x"}
	if got := n.Pos(); got != want {
		t.Fatalf("Pos() = %+v, want %+v", got, want)
	}
}

// TestDistinctVariantsShareNodeInterface exercises that an expression
// and a declaration variant both satisfy Node despite incompatible
// payloads, which is the whole point of the per-variant-struct design.
func TestDistinctVariantsShareNodeInterface(t *testing.T) {
	nodes := []Node{
		&LiteralExpr{Base: Base{Span: Span{Line: 1}}, Kind: 0, Int: 5},
		&IdentifierExpr{Base: Base{Span: Span{Line: 2}}, Name: "y"},
	}
	for i, n := range nodes {
		if n.Pos().Line != i+1 {
			t.Errorf("nodes[%d].Pos().Line = %d, want %d", i, n.Pos().Line, i+1)
		}
	}
}
