package vesper

import "strings"

// TypeKind distinguishes the declared-type-expression shapes: primitive,
// nominal, function, generic parameter, or advisory "any".
type TypeKind int

const (
	TypePrimitive TypeKind = iota
	TypeNominal
	TypeFunc
	TypeGenericParam
	TypeAny
)

// TypeValue is the runtime representation of a declared type. Declared
// types are advisory metadata: the VM never refuses an assignment
// because of a mismatch, it only exposes them to the explicit
// `typeIs`/`typeAs`/`typeof` opcodes.
type TypeValue struct {
	Kind     TypeKind
	Name     string
	Args     []*TypeValue
	Params   []*TypeValue
	Return   *TypeValue
	Nullable bool
	Class    *Class // resolved once the owning module links, nil until then
}

func (t *TypeValue) String() string {
	if t == nil {
		return "any"
	}
	var s string
	switch t.Kind {
	case TypePrimitive, TypeGenericParam, TypeAny:
		s = t.Name
	case TypeNominal:
		s = t.Name
		if len(t.Args) > 0 {
			parts := make([]string, len(t.Args))
			for i, a := range t.Args {
				parts[i] = a.String()
			}
			s += "<" + strings.Join(parts, ", ") + ">"
		}
	case TypeFunc:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		ret := "any"
		if t.Return != nil {
			ret = t.Return.String()
		}
		s = "(" + strings.Join(parts, ", ") + ") -> " + ret
	}
	if t.Nullable {
		s += "?"
	}
	return s
}

// IsInstanceOf reports whether v satisfies t at the (advisory) level the
// `typeIs` opcode checks: scalar kinds by name, nominal types by walking
// the instance's class ancestry.
func (t *TypeValue) IsInstanceOf(v Value) bool {
	if t == nil || t.Kind == TypeAny {
		return true
	}
	switch t.Kind {
	case TypePrimitive:
		switch t.Name {
		case "any":
			return true
		case "null":
			return v.Kind == KindNull
		case "bool", "boolean":
			return v.Kind == KindBool
		case "int":
			return v.Kind == KindInt
		case "float", "num", "number":
			return v.Kind == KindFloat || v.Kind == KindInt
		case "string":
			return v.Kind == KindString
		case "list":
			return v.Kind == KindList
		case "struct":
			return v.Kind == KindStruct
		case "function":
			return v.Kind == KindFunction
		}
		return false
	case TypeNominal:
		if v.Kind != KindInstance || t.Class == nil {
			return false
		}
		for c := v.Instance.Class; c != nil; c = c.Super {
			if c == t.Class {
				return true
			}
		}
		return false
	case TypeFunc:
		return v.Kind == KindFunction
	default:
		return false
	}
}
