package vesper

// ConstantPool holds a module's deduplicated int64/float64/string
// constant table, built up during compilation and addressed by index
// from `local` instructions.
//
// Each typed pool looks up an already-equal value in its index map
// before appending a new one, keeping the table deduplicated; three separate
// pools because the wire format (bytecode.ConstTable) keeps ints,
// floats, and strings in separate u16-counted sections rather than one
// boxed-value pool.
type ConstantPool struct {
	ints    []int64
	intIdx  map[int64]int
	floats  []float64
	fltIdx  map[float64]int
	strings []string
	strIdx  map[string]int
}

// NewConstantPool returns an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{
		intIdx: map[int64]int{},
		fltIdx: map[float64]int{},
		strIdx: map[string]int{},
	}
}

// Int interns x, returning its index in the int pool.
func (p *ConstantPool) Int(x int64) int {
	if i, ok := p.intIdx[x]; ok {
		return i
	}
	i := len(p.ints)
	p.ints = append(p.ints, x)
	p.intIdx[x] = i
	return i
}

// Float interns x, returning its index in the float pool.
func (p *ConstantPool) Float(x float64) int {
	if i, ok := p.fltIdx[x]; ok {
		return i
	}
	i := len(p.floats)
	p.floats = append(p.floats, x)
	p.fltIdx[x] = i
	return i
}

// String interns s, returning its index in the string pool.
func (p *ConstantPool) String(s string) int {
	if i, ok := p.strIdx[s]; ok {
		return i
	}
	i := len(p.strings)
	p.strings = append(p.strings, s)
	p.strIdx[s] = i
	return i
}

// Ints, Floats, Strings expose the pools in insertion (and therefore
// index) order, for image writing.
func (p *ConstantPool) Ints() []int64      { return append([]int64{}, p.ints...) }
func (p *ConstantPool) Floats() []float64  { return append([]float64{}, p.floats...) }
func (p *ConstantPool) Strings() []string  { return append([]string{}, p.strings...) }

// IntAt, FloatAt, StringAt resolve a constant-table index back to its
// value, used by the VM when executing `local int`/`local float`/
// `local string` instructions.
func (p *ConstantPool) IntAt(i int) int64      { return p.ints[i] }
func (p *ConstantPool) FloatAt(i int) float64  { return p.floats[i] }
func (p *ConstantPool) StringAt(i int) string  { return p.strings[i] }

// LoadPool rebuilds a ConstantPool from a decoded bytecode.ConstTable,
// used when loading a precompiled image (Engine.LoadBytecode).
func LoadPool(ints []int64, floats []float64, strings []string) *ConstantPool {
	p := NewConstantPool()
	for _, x := range ints {
		p.Int(x)
	}
	for _, x := range floats {
		p.Float(x)
	}
	for _, s := range strings {
		p.String(s)
	}
	return p
}
