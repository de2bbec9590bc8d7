package vesper

import (
	"bytes"
	"sort"

	"github.com/vesper-lang/vesper/bytecode"
)

// Engine is the embedding surface: init/eval/compile/loadBytecode/invoke
// over one Resolver-backed module loader, constant pool, and VM, with a
// Binding a host fills in before first use.
type Engine struct {
	Config  EngineConfig
	Binding *Binding
	Loader  *ModuleLoader
	Pool    *ConstantPool
	VM      *VM

	// lastModules remembers the CompiledModules produced by the
	// most recent Compile call, keyed by module key, so that
	// LoadBytecode can validate a byte image's header/const-table/module
	// framing against the wire format while reusing the in-memory
	// Function/Class skeletons that format has no section for — see
	// DESIGN.md's "Compile/LoadBytecode" entry for why a from-scratch
	// skeleton reconstruction is out of scope here.
	lastModules map[string]*CompiledModule
}

// NewEngine creates an Engine configured by cfg, resolving imports
// through resolver and reading their source through provider.
func NewEngine(cfg EngineConfig, resolver Resolver, provider SourceProvider) *Engine {
	pool := NewConstantPool()
	vm := NewVM(pool)
	vm.MaxCallDepth = cfg.Runtime.MaxCallDepth
	vm.LateInitFatal = cfg.Runtime.LateInitFatal
	loader := NewModuleLoader(resolver).WithSourceProvider(provider)
	if cfg.Runtime.ShareResolverCache {
		loader.cache = sharedModuleCache
	}
	return &Engine{
		Config:      cfg,
		Binding:     NewBinding(),
		Loader:      loader,
		Pool:        pool,
		VM:          vm,
		lastModules: map[string]*CompiledModule{},
	}
}

// Init registers the host's external classes, functions, and function
// typedefs, and wires the VM's raw KindExternal dispatch hooks to
// binding.go's reflection-based defaults.
func (e *Engine) Init(externalClasses map[string]ExternalClass, externalFunctions map[string]ExternalFunc, externalFunctionTypedefs map[string]*TypeValue) {
	for name, impl := range externalClasses {
		cls := e.Binding.RegisterExternalClass(name, impl)
		e.VM.Classes[name] = cls
		e.VM.Globals.Define(name, &Declaration{Name: name, Value: ClassValue(cls), Initialized: true})
	}
	for id, fn := range externalFunctions {
		f := e.Binding.RegisterExternalFunction(id, fn)
		e.VM.Globals.Define(id, &Declaration{Name: id, Value: FunctionValue(f), Initialized: true})
	}
	for tag, t := range externalFunctionTypedefs {
		e.Binding.RegisterExternalFunctionTypedef(tag, t)
		e.VM.Types[tag] = t
	}
	e.VM.ExternalMemberGet = DefaultExternalMemberGet
	e.VM.ExternalCall = DefaultExternalCall
}

// EvalOptions configures Engine.Eval's optional post-evaluation
// function invocation.
type EvalOptions struct {
	InvokeFunc     string
	PositionalArgs []Value
	NamedArgs      map[string]Value
}

// Eval parses, compiles, and runs source as a fresh entry module (plus
// whatever it transitively imports through e.Loader), optionally
// invoking a named top-level function afterward.
func (e *Engine) Eval(source string, opts EvalOptions) (Value, error) {
	bundle := e.Loader.ParseToCompilation(source, "<eval>", "")
	if err := firstModuleError(bundle); err != nil {
		return Null, err
	}

	compiler := NewCompiler(e.Pool)
	var entry *CompiledModule
	for _, key := range sortedKeys(bundle.Modules) {
		m := bundle.Modules[key]
		cm := compiler.CompileModule(m)
		e.lastModules[key] = cm
		e.VM.AddModule(cm)
		if key == bundle.EntryKey {
			entry = cm
		}
	}
	if errs := e.VM.Link(); len(errs) > 0 {
		logWarning("link error: %v", errs[0])
		return Null, errs[0]
	}

	for _, key := range sortedKeys(bundle.Modules) {
		if key == bundle.EntryKey {
			continue
		}
		if _, err := e.VM.ExecModule(e.lastModules[key]); err != nil {
			return Null, err
		}
	}
	result, err := e.VM.ExecModule(entry)
	if err != nil {
		return Null, err
	}

	if opts.InvokeFunc != "" {
		return e.VM.Invoke(opts.InvokeFunc, opts.PositionalArgs, opts.NamedArgs)
	}
	return result, nil
}

// Invoke calls a named top-level function or constructor already bound
// in the Engine's VM from a prior Eval/LoadBytecode.
func (e *Engine) Invoke(name string, positionalArgs []Value, namedArgs map[string]Value) (Value, error) {
	return e.VM.Invoke(name, positionalArgs, namedArgs)
}

// Compile parses and compiles source (plus its transitive imports) into
// the wire-format image: signature/version header, constant table, then
// each module's length-prefixed instruction stream.
// The Engine remembers the compiled skeletons so a later LoadBytecode
// call against this same image can restore them.
func (e *Engine) Compile(source string) ([]byte, error) {
	bundle := e.Loader.ParseToCompilation(source, "<compile>", "")
	if err := firstModuleError(bundle); err != nil {
		return nil, err
	}

	compiler := NewCompiler(e.Pool)
	keys := sortedKeys(bundle.Modules)
	for _, key := range keys {
		e.lastModules[key] = compiler.CompileModule(bundle.Modules[key])
	}
	var buf bytes.Buffer
	if err := bytecode.WriteHeader(&buf); err != nil {
		return nil, err
	}
	if err := bytecode.WriteConstTable(&buf, bytecode.ConstTable{
		Ints: e.Pool.Ints(), Floats: e.Pool.Floats(), Strings: e.Pool.Strings(),
	}); err != nil {
		return nil, err
	}
	for _, key := range keys {
		cm := e.lastModules[key]
		isLib := key == bundle.LibraryEntry
		if err := bytecode.WriteModuleHeader(&buf, key, isLib); err != nil {
			return nil, err
		}
		if err := bytecode.WriteModuleBody(&buf, cm.Code); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// LoadBytecode validates data's header and constant table against the
// wire framing, rebuilds the Engine's ConstantPool from it, and restores
// each module block's CompiledModule — from the
// Engine's own remembered skeletons when data was produced by a prior
// Compile call on this Engine (the common embedding pattern: compile
// once, persist the bytes, load them back into a freshly started
// process running the same binary/registration set), or from a bare
// code-only CompiledModule with no Function/Class skeletons otherwise
// (sufficient to disassemble or re-run straight-line top-level code with
// no declarations). After linking, each loaded module's top-level code
// runs once, in image order, so its bindings are available to Invoke.
func (e *Engine) LoadBytecode(data []byte) error {
	r := bytes.NewReader(data)
	if err := bytecode.ReadHeader(r); err != nil {
		if err == bytecode.ErrBadSignature {
			return NewError(CodeBytecodeSignature, "", 0, 0, 0, 0, "bytecode signature mismatch")
		}
		return NewError(CodeBytecodeVersion, "", 0, 0, 0, 0, "%v", err)
	}
	var tag [1]byte
	if _, err := r.Read(tag[:]); err != nil {
		return NewError(CodeInternal, "", 0, 0, 0, 0, "truncated bytecode image")
	}
	if bytecode.Op(tag[0]) != bytecode.OpConstTable {
		return NewError(CodeInternal, "", 0, 0, 0, 0, "expected constTable section")
	}
	ct, err := bytecode.ReadConstTable(r)
	if err != nil {
		return NewError(CodeInternal, "", 0, 0, 0, 0, "%v", err)
	}
	e.Pool = LoadPool(ct.Ints, ct.Floats, ct.Strings)
	e.VM.Pool = e.Pool

	var loaded []*CompiledModule
	for {
		if _, err := r.Read(tag[:]); err != nil {
			break
		}
		if bytecode.Op(tag[0]) != bytecode.OpModule {
			return NewError(CodeInternal, "", 0, 0, 0, 0, "expected module section")
		}
		key, _, err := bytecode.ReadModuleHeader(r)
		if err != nil {
			return NewError(CodeInternal, "", 0, 0, 0, 0, "%v", err)
		}
		code, err := bytecode.ReadModuleBody(r)
		if err != nil {
			return NewError(CodeInternal, "", 0, 0, 0, 0, "%v", err)
		}
		cm := e.lastModules[key]
		if cm == nil || !bytes.Equal(cm.Code, code) {
			cm = &CompiledModule{Key: key, Code: code}
		}
		e.VM.AddModule(cm)
		loaded = append(loaded, cm)
	}
	if errs := e.VM.Link(); len(errs) > 0 {
		return errs[0]
	}
	for _, cm := range loaded {
		if _, err := e.VM.ExecModule(cm); err != nil {
			return err
		}
	}
	return nil
}

func firstModuleError(bundle *CompilationBundle) error {
	for _, key := range sortedKeys(bundle.Modules) {
		if errs := bundle.Modules[key].Errors; len(errs) > 0 {
			return errs[0]
		}
	}
	return nil
}

// sortedKeys returns bundle modules' keys in lexical order, the entry
// key included; sorting keeps image bytes reproducible across runs for
// the same source. Eval runs the entry module last by skipping it in
// this order and running it separately afterwards.
func sortedKeys(modules map[string]*Module) []string {
	keys := make([]string, 0, len(modules))
	for k := range modules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
