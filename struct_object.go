package vesper

import "strings"

// StructObject is the prototype-based "struct" value: an ordered
// string-keyed map with an optional prototype for reads. Writes always
// target the receiver and may introduce new keys.
type StructObject struct {
	Name      string
	keys      []string
	values    map[string]Value
	Prototype *StructObject
}

// NewStructObject creates an empty struct object, optionally chained to
// prototype.
func NewStructObject(name string, prototype *StructObject) *StructObject {
	return &StructObject{Name: name, values: map[string]Value{}, Prototype: prototype}
}

// Get walks the prototype chain, returning the first matching value and
// whether a match was found at all.
func (s *StructObject) Get(key string) (Value, bool) {
	for cur := s; cur != nil; cur = cur.Prototype {
		if v, ok := cur.values[key]; ok {
			return v, true
		}
	}
	return Null, false
}

// Set always writes to the receiver, creating the key if it is not
// already present on the receiver.
func (s *StructObject) Set(key string, v Value) {
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = v
}

// Keys returns the receiver's own keys (not the prototype's) in
// insertion order.
func (s *StructObject) Keys() []string {
	return append([]string{}, s.keys...)
}

// String renders a struct as a multi-line `{ key: value, ... }` block
// covering the receiver's own fields only, in declaration order.
func (s *StructObject) String() string {
	if len(s.keys) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{\n")
	for i, k := range s.keys {
		b.WriteString("  ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(s.values[k].String())
		if i != len(s.keys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}
