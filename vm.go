package vesper

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vesper-lang/vesper/bytecode"
)

// declFlagConst marks an OpVarDecl instruction's binding as const, the
// only VarDecl modifier the runtime needs to enforce; the rest
// (export, static, lateInit, ...) are resolved at compile time or carry
// no runtime behavior of their own.
const declFlagConst = 1 << 0

// callFrame is one activation of a module's top-level stream or a
// function/constructor body: the module it executes against (for
// resolving Functions/Classes by index), an instruction pointer into
// that module's code, and the namespace bindings resolve against.
// Calling a Vesper function recurses through Go's own call stack
// (vm.callFunction calling itself), so there is no separate push/
// popFrame bookkeeping beyond what plain Go `return` values give for
// free.
type callFrame struct {
	mod  *CompiledModule
	code []byte
	ip   int
	ns   *Namespace
	fn   *Function
}

// VM executes one or more linked CompiledModules against a shared global
// namespace, value stack, and 16-slot register file. It separates two
// concerns: a link-time class/function table (Classes/Funcs) and a
// run-time execution engine (the stack, registers, and dispatch loop
// below).
type VM struct {
	Pool         *ConstantPool
	Modules      map[string]*CompiledModule
	Classes      map[string]*Class
	Funcs        map[string]*Function
	Globals      *Namespace
	StructProtos map[string]*StructObject
	Types        map[string]*TypeValue

	// MaxCallDepth bounds callFunction's Go-stack recursion; 0 means
	// unlimited. NewVM leaves it at the host-configurable
	// RuntimeConfig.MaxCallDepth default so unbounded script recursion
	// raises CodeCallDepthExceeded instead of crashing the process.
	MaxCallDepth int
	callDepth    int

	// LateInitFatal controls whether a lateInitialize global's failing
	// initializer aborts the read that triggered it (the default) or is
	// logged and treated as null.
	LateInitFatal bool

	stack []Value
	regs  [bytecode.RegisterCount]Value

	// ExternalMemberGet/ExternalCall dispatch member access and calls on
	// KindExternal values to binding.go's host registration tables; left
	// nil, member access/calls on an external value fail with
	// CodeUndefinedSymbol/CodeExternalOnlyMisuse.
	ExternalMemberGet func(ext interface{}, name string) (Value, error)
	ExternalCall      func(ext interface{}, args []Value, named map[string]Value) (Value, error)
}

// NewVM creates a VM sharing pool with the compiler(s) that produced the
// modules it will execute (constant-table indices must agree).
func NewVM(pool *ConstantPool) *VM {
	return &VM{
		Pool:          pool,
		Modules:       map[string]*CompiledModule{},
		Classes:       map[string]*Class{},
		Funcs:         map[string]*Function{},
		Globals:       NewNamespace(nil),
		StructProtos:  map[string]*StructObject{},
		Types:         map[string]*TypeValue{},
		MaxCallDepth:  DefaultEngineConfig().Runtime.MaxCallDepth,
		LateInitFatal: DefaultEngineConfig().Runtime.LateInitFatal,
	}
}

// AddModule registers mod's classes into the VM's class table, making
// them visible to Link's superclass/enum resolution pass regardless of
// whether the module's top-level classDecl instruction has executed yet.
func (vm *VM) AddModule(mod *CompiledModule) {
	vm.Modules[mod.Key] = mod
	for _, cls := range mod.Classes {
		vm.Classes[cls.Name] = cls
	}
}

// Link resolves every class's unresolved `extends` target and constructs
// enum enumerator instances, across every module AddModule has
// registered so far. It must run after all modules participating in one
// program have been added, and before any of their top-level code runs.
func (vm *VM) Link() []error {
	var errs []error
	for _, cls := range vm.Classes {
		if cls.SuperName == "" || cls.Super != nil {
			continue
		}
		super, ok := vm.Classes[cls.SuperName]
		if !ok {
			errs = append(errs, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0,
				"unresolved superclass %q for class %q", cls.SuperName, cls.Name))
			continue
		}
		cls.Super = super
	}
	for _, cls := range vm.Classes {
		if !cls.IsEnum || len(cls.EnumValueNames) == 0 || len(cls.EnumValues) != 0 {
			continue
		}
		for _, name := range cls.EnumValueNames {
			inst := NewInstance(cls)
			inst.SetField("$name", StringValue(cls.Name+"."+name))
			v := InstanceValue(inst)
			cls.EnumValues = append(cls.EnumValues, v)
			cls.Statics.Define(name, &Declaration{Name: name, Value: v, Initialized: true})
		}
		cls.Statics.Define("values", &Declaration{
			Name: "values", Value: ListValue(append([]Value{}, cls.EnumValues...)), Initialized: true,
		})
	}
	return errs
}

/* ------------------------------ execution --------------------------------- */

// ExecModule runs mod's top-level statement stream once, against the
// VM's Globals namespace — the way a freshly loaded script or library
// runs the first time it is imported. The result is the value of the
// last expression statement the module ran, or null when it ran none.
func (vm *VM) ExecModule(mod *CompiledModule) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = vm.recoverError(r, mod.Key, 0, 0)
		}
	}()
	fr := &callFrame{mod: mod, code: mod.Code, ns: vm.Globals}
	result = Null
	for fr.ip < len(fr.code) {
		op := bytecode.Op(fr.code[fr.ip])
		fr.ip++
		switch op {
		case bytecode.OpEndOfModule, bytecode.OpEndOfFunc, bytecode.OpEndOfExec:
			return
		case bytecode.OpEndOfStmt:
			result = vm.pop()
		default:
			vm.step(fr, op)
		}
	}
	return
}

// Invoke calls a named top-level function or constructor already bound
// in vm.Globals, matching the embedding API's Engine.Invoke.
func (vm *VM) Invoke(name string, args []Value, named map[string]Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = vm.recoverError(r, "", 0, 0)
		}
	}()
	decl, _ := vm.Globals.Lookup(name)
	if decl == nil {
		return Null, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0, "no such top-level binding: %s", name)
	}
	if decl.Value.Kind != KindFunction {
		return Null, NewError(CodeUnsupportedConstruct, "", 0, 0, 0, 0, "%s is not callable", name)
	}
	result = vm.callFunction(decl.Value.Func, decl.Value.BoundThis, args, named)
	return
}

// CallFunctionSafe invokes fn the way Invoke does, recovering any panic
// into an error return instead of propagating it — used by
// UnwrapExternalFunctionType to hand the host a plain Go callable that
// wraps a script function without exposing the VM's internal panic-based
// unwinding.
func (vm *VM) CallFunctionSafe(fn *Function, this *Instance, pos []Value, named map[string]Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = vm.recoverError(r, "", 0, 0)
		}
	}()
	result = vm.callFunction(fn, this, pos, named)
	return
}

func (vm *VM) recoverError(r interface{}, moduleKey string, line, col int) error {
	if e, ok := r.(*Error); ok {
		return e
	}
	if e, ok := r.(error); ok {
		return NewError(CodeInternal, moduleKey, line, col, 0, 0, "%s", e.Error())
	}
	return NewError(CodeInternal, moduleKey, line, col, 0, 0, "%v", r)
}

// runToTerminator drives fr's dispatch loop until it hits one of the
// three frame-terminating opcodes, interpreting the result the way that
// terminator's caller expects: endOfModule leaves nothing (a module has
// no return value), endOfFunc/endOfExec each leave exactly one value the
// compiler guaranteed is on the stack by that point (compileFuncDecl
// pushes an implicit `null` on fall-through; every endOfExec-bounded
// sub-program the compiler emits pushes exactly one value of its own).
func (vm *VM) runToTerminator(fr *callFrame) Value {
	term := vm.exec(fr)
	if term == bytecode.OpEndOfModule {
		return Null
	}
	return vm.pop()
}

// exec runs fr starting at its current ip until a frame-terminating
// opcode is reached, consuming that opcode and returning which one
// fired. It never pops a return value itself — callers decide how many
// stack values the sub-program they just ran is supposed to have left,
// since endOfExec's convention varies by what compiled it (one value for
// a parameter/field initializer, a whole argument list for a
// redirecting constructor's captured arguments).
func (vm *VM) exec(fr *callFrame) bytecode.Op {
	for fr.ip < len(fr.code) {
		op := bytecode.Op(fr.code[fr.ip])
		fr.ip++
		switch op {
		case bytecode.OpEndOfModule, bytecode.OpEndOfFunc, bytecode.OpEndOfExec:
			return op
		default:
			vm.step(fr, op)
		}
	}
	return bytecode.OpEndOfModule
}

/* -------------------------------- stack ------------------------------------ */

func (vm *VM) push(v Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) popN(n int) []Value {
	start := len(vm.stack) - n
	out := append([]Value{}, vm.stack[start:]...)
	vm.stack = vm.stack[:start]
	return out
}

/* ------------------------------- decoding ----------------------------------- */

func (fr *callFrame) u8() byte {
	b := fr.code[fr.ip]
	fr.ip++
	return b
}

func (fr *callFrame) u16() int {
	n := int(fr.code[fr.ip])<<8 | int(fr.code[fr.ip+1])
	fr.ip += 2
	return n
}

func (fr *callFrame) u32() int {
	n := int(fr.code[fr.ip])<<24 | int(fr.code[fr.ip+1])<<16 | int(fr.code[fr.ip+2])<<8 | int(fr.code[fr.ip+3])
	fr.ip += 4
	return n
}

func internalf(format string, args ...interface{}) *Error {
	return NewError(CodeInternal, "", 0, 0, 0, 0, format, args...)
}

/* -------------------------------- dispatch ---------------------------------- */

func (vm *VM) step(fr *callFrame, op bytecode.Op) {
	switch op {
	case bytecode.OpLocal:
		vm.stepLocal(fr)
	case bytecode.OpRegister:
		mode := bytecode.RegisterMode(fr.u8())
		reg := bytecode.Register(fr.u8())
		if mode == bytecode.RegisterStore {
			vm.regs[reg] = vm.pop()
		} else {
			vm.push(vm.regs[reg])
		}
	case bytecode.OpAssign:
		name := vm.Pool.StringAt(fr.u16())
		val := vm.pop()
		if decl, _ := fr.ns.Lookup(name); decl != nil {
			if decl.Modifiers.Const {
				panic(NewError(CodeImmutableAssignment, "", 0, 0, 0, 0, "cannot assign to const %s", name))
			}
			decl.Value = val
			decl.Initialized = true
		} else {
			fr.ns.Define(name, &Declaration{Name: name, Value: val, Initialized: true})
		}
		vm.push(val)
	case bytecode.OpMemberGet:
		name := vm.Pool.StringAt(fr.u16())
		obj := vm.pop()
		v, err := vm.memberGet(obj, name)
		if err != nil {
			panic(err)
		}
		vm.push(v)
	case bytecode.OpMemberSet:
		name := vm.Pool.StringAt(fr.u16())
		val := vm.pop()
		obj := vm.regs[bytecode.RegPostfixObject]
		if err := vm.memberSet(obj, name, val); err != nil {
			panic(err)
		}
		vm.push(val)
	case bytecode.OpSubGet:
		idx := vm.pop()
		obj := vm.regs[bytecode.RegPostfixObject]
		v, err := vm.subGet(obj, idx)
		if err != nil {
			panic(err)
		}
		vm.push(v)
	case bytecode.OpSubSet:
		val := vm.pop()
		key := vm.regs[bytecode.RegPostfixKey]
		obj := vm.regs[bytecode.RegPostfixObject]
		if err := vm.subSet(obj, key, val); err != nil {
			panic(err)
		}
		vm.push(val)
	case bytecode.OpCall:
		vm.stepCall(fr)
	case bytecode.OpEndOfStmt:
		vm.pop()
	case bytecode.OpBlock:
		fr.ns = fr.ns.Child()
	case bytecode.OpEndOfBlock:
		fr.ns = fr.ns.Parent
	case bytecode.OpLoopPoint:
		// Purely a disassembly landmark; every loop's branch targets are
		// already concrete byte offsets baked in by the compiler.
	case bytecode.OpWhileStmt, bytecode.OpWhenStmt:
		target := fr.u32()
		if !vm.pop().Truthy() {
			fr.ip = target
		}
	case bytecode.OpDoStmt:
		target := fr.u32()
		if vm.pop().Truthy() {
			fr.ip = target
		}
	case bytecode.OpIfStmt:
		target := fr.u32()
		if !vm.pop().Truthy() {
			fr.ip = target
		}
	case bytecode.OpSkip, bytecode.OpGoto, bytecode.OpBreakLoop, bytecode.OpContinueLoop:
		fr.ip = fr.u32()
	case bytecode.OpAnchor:
		vm.push(IntValue(int64(fr.ip)))
	case bytecode.OpVarDecl:
		name := vm.Pool.StringAt(fr.u16())
		val := vm.pop()
		flags := fr.u8()
		mods := DeclModifiers{Const: flags&declFlagConst != 0}
		fr.ns.Define(name, &Declaration{Name: name, Modifiers: mods, Value: val, Initialized: true})
	case bytecode.OpFuncDecl:
		name := vm.Pool.StringAt(fr.u16())
		idx := fr.u16()
		tmpl := fr.mod.Functions[idx]
		cloned := closeOver(tmpl, fr.ns)
		fr.ns.Define(name, &Declaration{Name: name, Value: FunctionValue(cloned), Initialized: true})
	case bytecode.OpClassDecl:
		fr.u16() // name, kept for disassembly only
		idx := fr.u16()
		cls := fr.mod.Classes[idx]
		fr.ns.Define(cls.Name, &Declaration{Name: cls.Name, Value: ClassValue(cls), Initialized: true})
	case bytecode.OpStructDecl:
		vm.stepStructDecl(fr)
	case bytecode.OpTypeAliasDecl:
		name := vm.Pool.StringAt(fr.u16())
		vm.Types[name] = &TypeValue{Kind: TypeAny, Name: name}
	case bytecode.OpImportDecl:
		fr.u16() // resolved and executed by the module loader, not the VM
	case bytecode.OpLogicalOr:
		right := vm.pop()
		left := vm.regs[bytecode.RegOrLeft]
		if left.Truthy() {
			vm.push(left)
		} else {
			vm.push(right)
		}
	case bytecode.OpLogicalAnd:
		right := vm.pop()
		left := vm.regs[bytecode.RegAndLeft]
		if !left.Truthy() {
			vm.push(left)
		} else {
			vm.push(right)
		}
	case bytecode.OpEqual:
		right := vm.pop()
		vm.push(BoolValue(vm.regs[bytecode.RegEqualLeft].Equal(right)))
	case bytecode.OpNotEqual:
		right := vm.pop()
		vm.push(BoolValue(!vm.regs[bytecode.RegEqualLeft].Equal(right)))
	case bytecode.OpLesser, bytecode.OpGreater, bytecode.OpLesserOrEqual, bytecode.OpGreaterOrEqual:
		right := vm.pop()
		left := vm.regs[bytecode.RegRelationLeft]
		cmp, err := compareValues(left, right)
		if err != nil {
			panic(err)
		}
		var result bool
		switch op {
		case bytecode.OpLesser:
			result = cmp < 0
		case bytecode.OpGreater:
			result = cmp > 0
		case bytecode.OpLesserOrEqual:
			result = cmp <= 0
		case bytecode.OpGreaterOrEqual:
			result = cmp >= 0
		}
		vm.push(BoolValue(result))
	case bytecode.OpAdd:
		right := vm.pop()
		v, err := addValues(vm.regs[bytecode.RegAddLeft], right)
		if err != nil {
			panic(err)
		}
		vm.push(v)
	case bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDevide, bytecode.OpModulo:
		right := vm.pop()
		reg := bytecode.RegAddLeft
		if op != bytecode.OpSubtract {
			reg = bytecode.RegMultiplyLeft
		}
		v, err := arithValues(op, vm.regs[reg], right)
		if err != nil {
			panic(err)
		}
		vm.push(v)
	case bytecode.OpNegative:
		v := vm.pop()
		switch v.Kind {
		case KindInt:
			vm.push(IntValue(-v.Int))
		case KindFloat:
			vm.push(FloatValue(-v.Float))
		default:
			panic(internalf("cannot negate a %s", v.Kind))
		}
	case bytecode.OpLogicalNot:
		vm.push(BoolValue(!vm.pop().Truthy()))
	case bytecode.OpTypeAs:
		t := vm.pop()
		v := vm.pop()
		if t.Kind != KindType || !t.Type.IsInstanceOf(v) {
			panic(NewError(CodeTypeCastFailure, "", 0, 0, 0, 0, "cannot cast %s as %s", v.Kind, t.Type))
		}
		vm.push(v)
	case bytecode.OpTypeIs, bytecode.OpTypeIsNot:
		t := vm.pop()
		v := vm.pop()
		ok := t.Kind == KindType && t.Type.IsInstanceOf(v)
		if op == bytecode.OpTypeIsNot {
			ok = !ok
		}
		vm.push(BoolValue(ok))
	case bytecode.OpTypeOf:
		v := vm.pop()
		vm.push(vm.typeOf(v))
	default:
		panic(internalf("unimplemented opcode %s", op))
	}
}

func (vm *VM) stepLocal(fr *callFrame) {
	kind := bytecode.LocalKind(fr.u8())
	switch kind {
	case bytecode.LocalNull:
		vm.push(Null)
	case bytecode.LocalBoolean:
		vm.push(BoolValue(fr.u8() != 0))
	case bytecode.LocalConstInt:
		vm.push(IntValue(vm.Pool.IntAt(fr.u16())))
	case bytecode.LocalConstFloat:
		vm.push(FloatValue(vm.Pool.FloatAt(fr.u16())))
	case bytecode.LocalConstString:
		vm.push(StringValue(vm.Pool.StringAt(fr.u16())))
	case bytecode.LocalStringInterpolation:
		vm.stepStringInterp(fr)
	case bytecode.LocalIdentifier:
		vm.stepIdentifierGet(fr)
	case bytecode.LocalList:
		n := fr.u16()
		vm.push(ListValue(vm.popN(n)))
	case bytecode.LocalStruct:
		vm.stepStructLiteral(fr)
	case bytecode.LocalFunction:
		idx := fr.u16()
		tmpl := fr.mod.Functions[idx]
		vm.push(FunctionValue(closeOver(tmpl, fr.ns)))
	case bytecode.LocalType:
		name := vm.Pool.StringAt(fr.u16())
		vm.push(TypeValueOf(vm.resolveType(name)))
	default:
		panic(internalf("unsupported local kind %d", kind))
	}
}

func (vm *VM) stepIdentifierGet(fr *callFrame) {
	name := vm.Pool.StringAt(fr.u16())
	decl, _ := fr.ns.Lookup(name)
	if decl == nil {
		panic(NewError(CodeUndefinedSymbol, fr.mod.Key, 0, 0, 0, 0, "undefined identifier: %s", name))
	}
	if decl.Modifiers.LateInitialize && decl.LateInit != nil && !decl.LateInit.Fired {
		vm.runLateInit(decl)
	}
	vm.push(decl.Value)
}

// runLateInit evaluates a lazily-initialized global's sub-program once,
// the first time it is read. With LateInitFatal false, an initializer
// that panics is logged and the declaration settles to null rather than
// aborting the read that triggered it.
func (vm *VM) runLateInit(decl *Declaration) {
	li := decl.LateInit
	mod, ok := vm.Modules[li.ModuleKey]
	if !ok {
		panic(internalf("late initializer references unknown module %q", li.ModuleKey))
	}
	fr := &callFrame{mod: mod, code: mod.Code, ip: li.Offset, ns: li.Namespace}

	if !vm.LateInitFatal {
		defer func() {
			if r := recover(); r != nil {
				logWarning("late initializer for %s failed, treating as null: %v", decl.Name, r)
				decl.Value = Null
				decl.Initialized = true
				li.Fired = true
			}
		}()
	}

	decl.Value = vm.runToTerminator(fr)
	decl.Initialized = true
	li.Fired = true
}

func (vm *VM) stepStringInterp(fr *callFrame) {
	n := fr.u16()
	holes := vm.popN(n)
	template := vm.pop().Str
	var b strings.Builder
	i := 0
	for i < len(template) {
		if template[i] == '{' {
			if j := strings.IndexByte(template[i:], '}'); j > 0 {
				if idx, ok := parseHoleIndex(template[i+1 : i+j]); ok && idx < len(holes) {
					b.WriteString(holes[idx].String())
					i += j + 1
					continue
				}
			}
		}
		b.WriteByte(template[i])
		i++
	}
	vm.push(StringValue(b.String()))
}

func parseHoleIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func (vm *VM) stepStructLiteral(fr *callFrame) {
	fieldCount := fr.u16()
	protoIdx := fr.u16()
	pairs := vm.popN(fieldCount * 2)
	var proto *StructObject
	if protoName := vm.Pool.StringAt(protoIdx); protoName != "" {
		proto = vm.StructProtos[protoName]
	}
	obj := NewStructObject(vm.Pool.StringAt(protoIdx), proto)
	for i := 0; i < len(pairs); i += 2 {
		obj.Set(pairs[i].Str, pairs[i+1])
	}
	vm.push(StructValue(obj))
}

func (vm *VM) stepStructDecl(fr *callFrame) {
	nameIdx := fr.u16()
	fieldCount := fr.u16()
	protoIdx := fr.u16()
	pairs := vm.popN(fieldCount * 2)
	var proto *StructObject
	if protoName := vm.Pool.StringAt(protoIdx); protoName != "" {
		proto = vm.StructProtos[protoName]
	}
	name := vm.Pool.StringAt(nameIdx)
	obj := NewStructObject(name, proto)
	for i := 0; i < len(pairs); i += 2 {
		obj.Set(pairs[i].Str, pairs[i+1])
	}
	vm.StructProtos[name] = obj
	fr.ns.Define(name, &Declaration{Name: name, Value: StructValue(obj), Initialized: true})
}

func (vm *VM) resolveType(name string) *TypeValue {
	if t, ok := vm.Types[name]; ok {
		return t
	}
	var t *TypeValue
	if cls, ok := vm.Classes[name]; ok {
		t = &TypeValue{Kind: TypeNominal, Name: name, Class: cls}
	} else {
		t = &TypeValue{Kind: TypePrimitive, Name: name}
	}
	vm.Types[name] = t
	return t
}

func (vm *VM) typeOf(v Value) Value {
	var name string
	switch v.Kind {
	case KindInstance:
		name = v.Instance.Class.Name
	case KindClass:
		return TypeValueOf(&TypeValue{Kind: TypeNominal, Name: v.Class.Name, Class: v.Class})
	default:
		name = v.Kind.String()
	}
	return TypeValueOf(vm.resolveType(name))
}

// closeOver returns a fresh clone of tmpl capturing ns as its closure
// environment — one clone per evaluation, never mutating the shared
// Function the compiler built, so a function literal evaluated more
// than once (e.g. inside a loop) produces independent closures.
func closeOver(tmpl *Function, ns *Namespace) *Function {
	clone := *tmpl
	clone.Closure = ns
	return &clone
}

/* ---------------------------- member resolution ----------------------------- */

// builtinToStringMethod returns an ad hoc Function, called with no
// arguments, that always yields rendered. Backs the implicit `toString`
// member memberGet grants struct/list/string values even though they
// carry no Methods table of their own: it is built fresh at member
// lookup time rather than shared from a table entry, since this
// engine's list/string/struct values are plain Go slices/strings/
// StructObjects with no class of their own to hang a shared method off
// of.
func builtinToStringMethod(rendered string) *Function {
	return &Function{
		Name: "toString", InternalName: "toString", Category: CategoryMethod,
		External: func(Value, []Value, map[string]Value) (Value, error) {
			return StringValue(rendered), nil
		},
	}
}

func (vm *VM) memberGet(obj Value, name string) (Value, error) {
	switch obj.Kind {
	case KindInstance:
		if v, ok := obj.Instance.GetField(name); ok {
			return v, nil
		}
		dispatch := obj.DispatchClass
		if dispatch == nil {
			dispatch = obj.Instance.Class
		}
		if fn, _ := dispatch.LookupMethod(name); fn != nil {
			return BoundMethodValue(fn, obj.Instance), nil
		}
		for c := dispatch; c != nil; c = c.Super {
			if c.External && c.ExternalBinding != nil {
				return c.ExternalBinding.InstanceMemberGet(obj.Instance, name)
			}
		}
		return Null, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0, "no such member: %s", name)
	case KindStruct:
		if v, ok := obj.Struct.Get(name); ok {
			return v, nil
		}
		if name == "toString" {
			return FunctionValue(builtinToStringMethod(obj.Struct.String())), nil
		}
		return Null, nil
	case KindList:
		if name == "length" {
			return IntValue(int64(len(obj.List))), nil
		}
		if name == "toString" {
			return FunctionValue(builtinToStringMethod(obj.String())), nil
		}
		return Null, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0, "no such list member: %s", name)
	case KindString:
		if name == "length" {
			return IntValue(int64(utf8.RuneCountInString(obj.Str))), nil
		}
		if name == "toString" {
			return FunctionValue(builtinToStringMethod(obj.Str)), nil
		}
		return Null, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0, "no such string member: %s", name)
	case KindClass:
		for c := obj.Class; c != nil; c = c.Super {
			if d := c.Statics.LookupOwn(name); d != nil {
				return d.Value, nil
			}
		}
		if fn, _ := obj.Class.LookupMethod(name); fn != nil {
			return FunctionValue(fn), nil
		}
		for c := obj.Class; c != nil; c = c.Super {
			if c.External && c.ExternalBinding != nil {
				return c.ExternalBinding.MemberGet(name)
			}
		}
		return Null, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0, "no such static member: %s", name)
	case KindExternal:
		if vm.ExternalMemberGet != nil {
			return vm.ExternalMemberGet(obj.External, name)
		}
		return Null, NewError(CodeExternalOnlyMisuse, "", 0, 0, 0, 0, "no external member resolver installed")
	case KindNull:
		return Null, NewError(CodeNullReceiver, "", 0, 0, 0, 0, "member access on null: %s", name)
	default:
		return Null, NewError(CodeUndefinedSymbol, "", 0, 0, 0, 0, "no such member: %s", name)
	}
}

func (vm *VM) memberSet(obj Value, name string, val Value) error {
	switch obj.Kind {
	case KindInstance:
		dispatch := obj.DispatchClass
		if dispatch == nil && obj.Instance != nil {
			dispatch = obj.Instance.Class
		}
		for c := dispatch; c != nil; c = c.Super {
			if c.External && c.ExternalBinding != nil {
				if setter, ok := c.ExternalBinding.(ExternalClassInstanceSetter); ok {
					if _, owns := obj.Instance.GetField(name); !owns {
						return setter.InstanceMemberSet(obj.Instance, name, val)
					}
				}
			}
		}
		obj.Instance.SetField(name, val)
		return nil
	case KindStruct:
		obj.Struct.Set(name, val)
		return nil
	case KindClass:
		for c := obj.Class; c != nil; c = c.Super {
			if d := c.Statics.LookupOwn(name); d != nil {
				d.Value = val
				d.Initialized = true
				return nil
			}
		}
		for c := obj.Class; c != nil; c = c.Super {
			if c.External && c.ExternalBinding != nil {
				if setter, ok := c.ExternalBinding.(ExternalClassMemberSetter); ok {
					return setter.MemberSet(name, val)
				}
			}
		}
		obj.Class.Statics.Define(name, &Declaration{Name: name, Value: val, Initialized: true})
		return nil
	case KindNull:
		return NewError(CodeNullReceiver, "", 0, 0, 0, 0, "member assignment on null: %s", name)
	default:
		return NewError(CodeInvalidLeftValue, "", 0, 0, 0, 0, "cannot assign member %s on a %s", name, obj.Kind)
	}
}

func (vm *VM) subGet(obj, idx Value) (Value, error) {
	switch obj.Kind {
	case KindList:
		i, ok := asIndex(idx)
		if !ok || i < 0 || i >= len(obj.List) {
			return Null, internalf("list index out of range")
		}
		return obj.List[i], nil
	case KindString:
		runes := []rune(obj.Str)
		i, ok := asIndex(idx)
		if !ok || i < 0 || i >= len(runes) {
			return Null, internalf("string index out of range")
		}
		return StringValue(string(runes[i])), nil
	case KindStruct:
		if idx.Kind != KindString {
			return Null, internalf("struct subscript key must be a string")
		}
		v, _ := obj.Struct.Get(idx.Str)
		return v, nil
	default:
		return Null, internalf("cannot index a %s", obj.Kind)
	}
}

func (vm *VM) subSet(obj, idx, val Value) error {
	switch obj.Kind {
	case KindList:
		i, ok := asIndex(idx)
		if !ok || i < 0 || i >= len(obj.List) {
			return internalf("list index out of range")
		}
		obj.List[i] = val
		return nil
	case KindStruct:
		if idx.Kind != KindString {
			return internalf("struct subscript key must be a string")
		}
		obj.Struct.Set(idx.Str, val)
		return nil
	default:
		return internalf("cannot index-assign a %s", obj.Kind)
	}
}

func asIndex(v Value) (int, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return int(v.Int), true
}

/* -------------------------------- arithmetic -------------------------------- */

func compareValues(a, b Value) (int, error) {
	switch {
	case a.Kind == KindString && b.Kind == KindString:
		return strings.Compare(a.Str, b.Str), nil
	case isNumeric(a) && isNumeric(b):
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, internalf("cannot compare %s and %s", a.Kind, b.Kind)
	}
}

func addValues(a, b Value) (Value, error) {
	switch {
	case a.Kind == KindString || b.Kind == KindString:
		return StringValue(a.String() + b.String()), nil
	case a.Kind == KindList && b.Kind == KindList:
		out := make([]Value, 0, len(a.List)+len(b.List))
		out = append(out, a.List...)
		out = append(out, b.List...)
		return ListValue(out), nil
	case a.Kind == KindInt && b.Kind == KindInt:
		return IntValue(a.Int + b.Int), nil
	case isNumeric(a) && isNumeric(b):
		return FloatValue(asFloat(a) + asFloat(b)), nil
	default:
		return Null, internalf("cannot add %s and %s", a.Kind, b.Kind)
	}
}

func arithValues(op bytecode.Op, a, b Value) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return Null, internalf("cannot apply %s to %s and %s", op, a.Kind, b.Kind)
	}
	switch op {
	case bytecode.OpSubtract:
		if a.Kind == KindInt && b.Kind == KindInt {
			return IntValue(a.Int - b.Int), nil
		}
		return FloatValue(asFloat(a) - asFloat(b)), nil
	case bytecode.OpMultiply:
		if a.Kind == KindInt && b.Kind == KindInt {
			return IntValue(a.Int * b.Int), nil
		}
		return FloatValue(asFloat(a) * asFloat(b)), nil
	case bytecode.OpDevide:
		return FloatValue(asFloat(a) / asFloat(b)), nil
	case bytecode.OpModulo:
		if a.Kind != KindInt || b.Kind != KindInt {
			return Null, internalf("modulo requires two ints")
		}
		if b.Int == 0 {
			return Null, internalf("modulo by zero")
		}
		return IntValue(a.Int % b.Int), nil
	default:
		return Null, internalf("not an arithmetic opcode: %s", op)
	}
}

func isNumeric(v Value) bool { return v.Kind == KindInt || v.Kind == KindFloat }

func asFloat(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

/* ---------------------------------- calls ------------------------------------ */

func (vm *VM) stepCall(fr *callFrame) {
	posCount := int(fr.u8())
	namedCount := int(fr.u8())
	named := map[string]Value{}
	for i := 0; i < namedCount; i++ {
		val := vm.pop()
		name := vm.pop()
		named[name.Str] = val
	}
	pos := vm.popN(posCount)
	callee := vm.pop()

	var result Value
	switch callee.Kind {
	case KindFunction:
		result = vm.callFunction(callee.Func, callee.BoundThis, pos, named)
	case KindClass:
		result = vm.construct(callee.Class, pos, named)
	case KindExternal:
		if vm.ExternalCall == nil {
			panic(NewError(CodeExternalOnlyMisuse, fr.mod.Key, 0, 0, 0, 0, "no external call resolver installed"))
		}
		v, err := vm.ExternalCall(callee.External, pos, named)
		if err != nil {
			panic(err)
		}
		result = v
	default:
		panic(NewError(CodeUnsupportedConstruct, fr.mod.Key, 0, 0, 0, 0, "value of kind %s is not callable", callee.Kind))
	}
	vm.push(result)
}

// callFunction invokes fn with the given receiver (nil for a free
// function) and arguments, running its body to completion and returning
// its result. External functions delegate straight to their Go
// implementation; redirecting constructors first invoke their delegate
// before running their own body; ordinary functions get a fresh
// namespace (child of the function's captured closure) with parameters
// bound per its positional/named/variadic/optional rules.
func (vm *VM) callFunction(fn *Function, this *Instance, pos []Value, named map[string]Value) Value {
	if vm.MaxCallDepth > 0 && vm.callDepth >= vm.MaxCallDepth {
		panic(NewError(CodeCallDepthExceeded, "", 0, 0, 0, 0, "call depth exceeded %d", vm.MaxCallDepth))
	}
	vm.callDepth++
	defer func() { vm.callDepth-- }()

	if fn.External != nil {
		thisVal := Null
		if this != nil {
			thisVal = InstanceValue(this)
		}
		v, err := fn.External(thisVal, pos, named)
		if err != nil {
			panic(err)
		}
		return v
	}
	if !fn.AcceptsArity(len(pos)) {
		panic(ArityError("", 0, 0, len(pos), fn.MinArity, fn.MaxArity))
	}

	ns := NewNamespace(fn.Closure)
	if this != nil {
		ns.Define("this", &Declaration{Name: "this", Value: InstanceValue(this), Initialized: true})
		if fn.Owner != nil && fn.Owner.Super != nil {
			ns.Define("super", &Declaration{Name: "super", Value: Value{
				Kind: KindInstance, Instance: this, DispatchClass: fn.Owner.Super,
			}, Initialized: true})
		}
	}

	vm.bindParams(fn, ns, pos, named)

	if fn.Redirect != nil {
		vm.invokeRedirect(fn, this, ns)
	}

	if fn.Entry == nil {
		return Null
	}
	mod, ok := vm.Modules[fn.Entry.ModuleKey]
	if !ok {
		panic(internalf("function %q references unknown module %q", fn.Name, fn.Entry.ModuleKey))
	}
	callFr := &callFrame{mod: mod, code: mod.Code, ip: fn.Entry.Offset, ns: ns, fn: fn}
	return vm.runToTerminator(callFr)
}

// invokeRedirect evaluates a redirecting constructor's captured argument
// sub-program in ns (so the arguments can reference the constructor's
// own parameters) and invokes the delegate constructor on the same
// instance before fn's own body runs.
func (vm *VM) invokeRedirect(fn *Function, this *Instance, ns *Namespace) {
	r := fn.Redirect
	mod, ok := vm.Modules[r.Args.ModuleKey]
	if !ok {
		panic(internalf("redirecting constructor references unknown module %q", r.Args.ModuleKey))
	}
	argFr := &callFrame{mod: mod, code: mod.Code, ip: r.Args.Offset, ns: ns}
	vm.exec(argFr)
	total := len(vm.stack)
	_ = total
	pairs := vm.popN(r.NamedCount * 2)
	named := map[string]Value{}
	for i := 0; i < len(pairs); i += 2 {
		named[pairs[i].Str] = pairs[i+1]
	}
	pos := vm.popN(r.PositionalCount)

	target := r.Target
	if target == nil && fn.Owner != nil {
		if r.IsSuper {
			target = fn.Owner.Super
		} else {
			target = fn.Owner
		}
	}
	if target == nil {
		return
	}
	ctor, _ := target.LookupMethod(fn.InternalName)
	if fn.InternalName != "" {
		if c2, _ := target.LookupMethod(""); ctor == nil {
			ctor = c2
		}
	}
	if ctor == nil {
		ctor, _ = target.LookupMethod("")
	}
	if ctor == nil {
		return
	}
	vm.callFunction(ctor, this, pos, named)
}

// bindParams binds fn's declared parameters against the caller's
// positional and named arguments into ns, running each optional
// parameter's default-value sub-program when the caller omitted it and
// collecting trailing positional arguments into a list for a variadic
// parameter.
func (vm *VM) bindParams(fn *Function, ns *Namespace, pos []Value, named map[string]Value) {
	for name := range named {
		if _, ok := fn.NamedParam(name); !ok {
			panic(NamedArgError("", 0, 0, name))
		}
	}

	posIdx := 0
	for i := range fn.Params {
		p := &fn.Params[i]
		switch {
		case p.Variadic:
			rest := append([]Value{}, pos[posIdx:]...)
			ns.Define(p.Name, &Declaration{Name: p.Name, Value: ListValue(rest), Initialized: true})
			posIdx = len(pos)
		case p.Named:
			if v, ok := named[p.Name]; ok {
				ns.Define(p.Name, &Declaration{Name: p.Name, Value: v, Initialized: true})
			} else if p.Initializer != nil {
				ns.Define(p.Name, &Declaration{Name: p.Name, Value: vm.runInitializer(p.Initializer, ns), Initialized: true})
			} else {
				ns.Define(p.Name, &Declaration{Name: p.Name, Value: Null, Initialized: true})
			}
		case posIdx < len(pos):
			ns.Define(p.Name, &Declaration{Name: p.Name, Value: pos[posIdx], Initialized: true})
			posIdx++
		case p.Initializer != nil:
			ns.Define(p.Name, &Declaration{Name: p.Name, Value: vm.runInitializer(p.Initializer, ns), Initialized: true})
		default:
			ns.Define(p.Name, &Declaration{Name: p.Name, Value: Null, Initialized: true})
		}
	}
}

// runInitializer evaluates a parameter or instance field's default-value
// sub-program, entered directly at its recorded offset (never by falling
// through normal body flow, since compileFuncDecl/compileClassDecl guard
// it behind its own `skip`).
func (vm *VM) runInitializer(entry *BytecodeEntry, ns *Namespace) Value {
	mod, ok := vm.Modules[entry.ModuleKey]
	if !ok {
		panic(internalf("initializer references unknown module %q", entry.ModuleKey))
	}
	fr := &callFrame{mod: mod, code: mod.Code, ip: entry.Offset, ns: ns}
	return vm.runToTerminator(fr)
}

// construct allocates a fresh Instance of class, runs every ancestor
// level's declared field initializers outermost-first, then invokes the
// most-derived user constructor if one exists.
func (vm *VM) construct(class *Class, pos []Value, named map[string]Value) Value {
	if class.Abstract {
		panic(NewError(CodeUnsupportedConstruct, "", 0, 0, 0, 0, "cannot instantiate abstract class %s", class.Name))
	}
	inst := NewInstance(class)
	var ancestors []*Class
	for c := class; c != nil; c = c.Super {
		ancestors = append(ancestors, c)
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		c := ancestors[i]
		for name, entry := range c.InstanceFieldInit {
			fieldNS := NewNamespace(nil)
			fieldNS.Define("this", &Declaration{Name: "this", Value: InstanceValue(inst), Initialized: true})
			inst.SetField(name, vm.runInitializer(entry, fieldNS))
		}
	}
	if class.HasUserConstructor {
		ctor, _ := class.LookupMethod("")
		if ctor != nil {
			vm.callFunction(ctor, inst, pos, named)
		}
	}
	return InstanceValue(inst)
}

var _ = fmt.Sprintf
