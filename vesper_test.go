package vesper

import "testing"

type noImportResolver struct{}

func (noImportResolver) Resolve(key, currentDir string) (string, error) {
	return "", internalf("imports are not supported in this test")
}

func newTestEngine() *Engine {
	return NewEngine(DefaultEngineConfig(), noImportResolver{}, nil)
}

// TestEngineEvalInvokesNamedFunction exercises Engine.Eval's
// EvalOptions.InvokeFunc path: the entry module's top-level declarations
// run first, then the named function is invoked against the live VM.
func TestEngineEvalInvokesNamedFunction(t *testing.T) {
	e := newTestEngine()
	result, err := e.Eval(`fun double(x) => x * 2;`, EvalOptions{
		InvokeFunc:     "double",
		PositionalArgs: []Value{IntValue(21)},
	})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.Kind != KindInt || result.Int != 42 {
		t.Fatalf("double(21) = %v, want 42", result)
	}
}

// TestEngineEvalReturnsEntryModuleResult exercises Eval with no
// InvokeFunc: the result is whatever the entry module's own top-level
// code evaluates to.
func TestEngineEvalReturnsEntryModuleResult(t *testing.T) {
	e := newTestEngine()
	result, err := e.Eval(`1 + 2;`, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.Kind != KindInt || result.Int != 3 {
		t.Fatalf("Eval(1 + 2) = %v, want 3", result)
	}
}

// TestEngineEvalPropagatesParseError exercises firstModuleError:
// malformed source fails Eval with the underlying parse error rather
// than panicking or silently returning null.
func TestEngineEvalPropagatesParseError(t *testing.T) {
	e := newTestEngine()
	_, err := e.Eval(`fun f( { }`, EvalOptions{})
	if err == nil {
		t.Fatal("expected Eval to surface a parse error")
	}
}

// TestEngineInitRegistersExternalFunction exercises Init's wiring of an
// externalFunctions entry into VM.Globals.
func TestEngineInitRegistersExternalFunction(t *testing.T) {
	e := newTestEngine()
	e.Init(nil, map[string]ExternalFunc{
		"nativeAdd": func(this Value, args []Value, named map[string]Value) (Value, error) {
			return IntValue(args[0].Int + args[1].Int), nil
		},
	}, nil)

	result, err := e.Eval(`nativeAdd(4, 5);`, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.Kind != KindInt || result.Int != 9 {
		t.Fatalf("nativeAdd(4, 5) = %v, want 9", result)
	}
}

// TestEngineInitRegistersExternalClass exercises Init's wiring of an
// externalClasses entry into VM.Classes and VM.Globals, with static
// member reads dispatched through the ExternalClass binding.
type counterExternalClass struct{}

func (counterExternalClass) MemberGet(name string) (Value, error) {
	if name == "start" {
		return IntValue(100), nil
	}
	return Null, nil
}
func (counterExternalClass) InstanceMemberGet(obj *Instance, name string) (Value, error) {
	return Null, nil
}

func TestEngineInitRegistersExternalClass(t *testing.T) {
	e := newTestEngine()
	e.Init(map[string]ExternalClass{"Counter": counterExternalClass{}}, nil, nil)

	result, err := e.Eval(`Counter.start;`, EvalOptions{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if result.Kind != KindInt || result.Int != 100 {
		t.Fatalf("Counter.start = %v, want 100", result)
	}
}

// TestEngineCompileAndLoadBytecodeRoundTrip exercises Compile producing
// a wire image and LoadBytecode restoring it against the same Engine's
// remembered CompiledModule skeletons, then invoking a function from
// the reloaded image.
func TestEngineCompileAndLoadBytecodeRoundTrip(t *testing.T) {
	e := newTestEngine()
	image, err := e.Compile(`fun square(x) => x * x;`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(image) == 0 {
		t.Fatal("Compile produced an empty image")
	}

	e2 := newTestEngine()
	e2.lastModules = e.lastModules
	if err := e2.LoadBytecode(image); err != nil {
		t.Fatalf("LoadBytecode: %v", err)
	}
	result, err := e2.Invoke("square", []Value{IntValue(6)}, nil)
	if err != nil {
		t.Fatalf("Invoke(square, 6): %v", err)
	}
	if result.Kind != KindInt || result.Int != 36 {
		t.Fatalf("square(6) = %v, want 36", result)
	}
}

// TestEngineLoadBytecodeRejectsBadSignature exercises LoadBytecode's
// header validation of the signature/version framing.
func TestEngineLoadBytecodeRejectsBadSignature(t *testing.T) {
	e := newTestEngine()
	err := e.LoadBytecode([]byte{0x00, 0x01, 0x02, 0x03})
	if err == nil {
		t.Fatal("expected an error loading a malformed bytecode image")
	}
	ve, ok := err.(*Error)
	if !ok || (ve.Code != CodeBytecodeSignature && ve.Code != CodeBytecodeVersion) {
		t.Fatalf("expected a bytecode signature/version error, got %v", err)
	}
}

// TestNewEngineWiresRuntimeConfigIntoVM exercises NewEngine copying
// RuntimeConfig's MaxCallDepth and LateInitFatal onto the VM it builds.
func TestNewEngineWiresRuntimeConfigIntoVM(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Runtime.MaxCallDepth = 8
	cfg.Runtime.LateInitFatal = false
	e := NewEngine(cfg, noImportResolver{}, nil)
	if e.VM.MaxCallDepth != 8 {
		t.Fatalf("VM.MaxCallDepth = %d, want 8", e.VM.MaxCallDepth)
	}
	if e.VM.LateInitFatal {
		t.Fatal("VM.LateInitFatal should be false when the config disables it")
	}

	_, err := e.Eval(`fun loop() => loop();`, EvalOptions{InvokeFunc: "loop"})
	if err == nil {
		t.Fatal("expected an error from recursion exceeding the configured MaxCallDepth")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Code != CodeCallDepthExceeded {
		t.Fatalf("expected CodeCallDepthExceeded, got %v", err)
	}
}

// TestNewEngineShareResolverCacheUsesSharedMap exercises
// RuntimeConfig.ShareResolverCache wiring: enabling it points the new
// Engine's ModuleLoader at the package-level sharedModuleCache instead
// of a private one, so two such Engines observe each other's cached
// modules.
func TestNewEngineShareResolverCacheUsesSharedMap(t *testing.T) {
	for k := range sharedModuleCache {
		delete(sharedModuleCache, k)
	}
	cfg := DefaultEngineConfig()
	cfg.Runtime.ShareResolverCache = true

	e1 := NewEngine(cfg, noImportResolver{}, nil)
	sentinel := &Module{Key: "shared.vs"}
	e1.Loader.cache["shared.vs"] = sentinel

	e2 := NewEngine(cfg, noImportResolver{}, nil)
	if e2.Loader.cache["shared.vs"] != sentinel {
		t.Fatal("second Engine with ShareResolverCache should see the first Engine's cached module")
	}
}
