package vesper

import "fmt"

// ValueKind tags the sum variant: null, bool, int, float, string, list,
// struct, function, class, instance, type, or external object.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindStruct
	KindFunction
	KindClass
	KindInstance
	KindType
	KindExternal
)

func (k ValueKind) String() string {
	names := [...]string{
		"null", "bool", "int", "float", "string", "list", "struct",
		"function", "class", "instance", "type", "external",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Value is the uniform runtime value type threaded through the compiler's
// constant table, the VM's register file and stack, and the external
// binding surface.
type Value struct {
	Kind     ValueKind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	List     []Value
	Struct   *StructObject
	Func     *Function
	Class    *Class
	Instance *Instance
	Type     *TypeValue
	External interface{}

	// BoundThis is set when this KindFunction value is a method read off
	// an instance via member access (`obj.method`): the receiver the
	// call protocol binds `this` to, rather than the free function
	// Func alone would be. Wraps the raw method in a closure capturing
	// the receiver.
	BoundThis *Instance

	// DispatchClass overrides which class's Methods table a KindInstance
	// value's member lookups start walking from; nil means "the
	// instance's own runtime class" (ordinary dynamic dispatch). `super`
	// binds this to the enclosing method's owner class's Super, so a
	// super-prefixed call resolves the overridden method one level up
	// the chain while `this` inside it still refers to the same
	// instance.
	DispatchClass *Class
}

// Null, True and False are the canonical singleton values for their kinds.
var (
	Null  = Value{Kind: KindNull}
	True  = Value{Kind: KindBool, Bool: true}
	False = Value{Kind: KindBool, Bool: false}
)

func IntValue(i int64) Value       { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value   { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value   { return Value{Kind: KindString, Str: s} }
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}
func ListValue(xs []Value) Value       { return Value{Kind: KindList, List: xs} }
func StructValue(s *StructObject) Value { return Value{Kind: KindStruct, Struct: s} }
func FunctionValue(f *Function) Value   { return Value{Kind: KindFunction, Func: f} }
func BoundMethodValue(f *Function, this *Instance) Value {
	return Value{Kind: KindFunction, Func: f, BoundThis: this}
}
func ClassValue(c *Class) Value         { return Value{Kind: KindClass, Class: c} }
func InstanceValue(i *Instance) Value   { return Value{Kind: KindInstance, Instance: i} }
func TypeValueOf(t *TypeValue) Value    { return Value{Kind: KindType, Type: t} }
func ExternalValue(x interface{}) Value { return Value{Kind: KindExternal, External: x} }

// Truthy implements the language's notion of truthiness: every value is
// truthy except null and boolean false.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	default:
		return true
	}
}

// Equal implements value equality for the `==`/`!=` opcodes. Instances,
// functions, classes, structs, and externals compare by identity; the
// scalar kinds compare by value; lists compare element-wise.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		return v.Struct == o.Struct
	case KindFunction:
		return v.Func == o.Func
	case KindClass:
		return v.Class == o.Class
	case KindInstance:
		return v.Instance == o.Instance
	case KindExternal:
		return v.External == o.External
	default:
		return false
	}
}

// String renders the value the way the VM's implicit toString would,
// used by the host-facing String() and by struct printing (delegated
// to StructObject.String, called from here).
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindList:
		s := "["
		for i, x := range v.List {
			if i > 0 {
				s += ", "
			}
			s += x.String()
		}
		return s + "]"
	case KindStruct:
		return v.Struct.String()
	case KindFunction:
		return fmt.Sprintf("<function %s>", v.Func.Name)
	case KindClass:
		return fmt.Sprintf("<class %s>", v.Class.Name)
	case KindInstance:
		return fmt.Sprintf("<instance of %s>", v.Instance.Class.Name)
	case KindType:
		return v.Type.String()
	case KindExternal:
		return fmt.Sprintf("%v", v.External)
	default:
		return "<?>"
	}
}
