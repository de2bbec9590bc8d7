package vesper

import (
	"github.com/vesper-lang/vesper/ast"
	"github.com/vesper-lang/vesper/bytecode"
	"github.com/vesper-lang/vesper/token"
)

// CompiledModule is the lowering of one parsed Module into a single,
// contiguous instruction stream plus the Function/Class skeletons the
// stream's funcDecl/classDecl instructions point into.
//
// Function and class bodies are compiled inline, at the position they
// are declared, guarded by an unconditional `skip` over the body: the
// body is declared in place, jumped over, and entered only via a call.
type CompiledModule struct {
	Key       string
	Code      []byte
	Functions []*Function
	Classes   []*Class
}

// Compiler lowers a parsed Module's AST into a CompiledModule: statements
// and expressions into a flat register-indexed instruction stream, with
// class and enum declarations sharing a two-phase skeleton-then-finish
// emission.
type Compiler struct {
	pool *ConstantPool
	mod  *CompiledModule
	errs []error

	loops   []*loopCtx
	funcs   []*funcCtx
	classes []*Class // enclosing-class stack, for `this`/`super`/implicit-member resolution cues
}

type loopCtx struct {
	breakPatches    []int
	continueTarget  int
	continuePatches []int
}

// funcCtx tracks the current function body's pending `return` jumps,
// all patched to the same target once the body is fully compiled: its
// `endOfFunc`, just after the implicit `null` return value that is
// pushed for bodies that fall off the end without an explicit return.
type funcCtx struct {
	returnPatches []int
}

// NewCompiler creates a compiler that interns constants into pool.
func NewCompiler(pool *ConstantPool) *Compiler {
	return &Compiler{pool: pool}
}

// CompileModule lowers m into a CompiledModule.
func (c *Compiler) CompileModule(m *Module) *CompiledModule {
	c.mod = &CompiledModule{Key: m.Key}
	for _, n := range m.Nodes {
		c.compileStmt(n)
	}
	c.emit(bytecode.OpEndOfModule)
	return c.mod
}

func (c *Compiler) fail(code ErrorCode, span ast.Span, format string, args ...interface{}) {
	c.errs = append(c.errs, NewError(code, c.mod.Key, span.Line, span.Column, span.Offset, span.Length, format, args...))
}

/* ------------------------------- encoding -------------------------------- */

func (c *Compiler) emit(op bytecode.Op) int {
	pos := len(c.mod.Code)
	c.mod.Code = append(c.mod.Code, byte(op))
	return pos
}

func (c *Compiler) emitByte(b byte) { c.mod.Code = append(c.mod.Code, b) }

func (c *Compiler) emitU16(n int) {
	c.mod.Code = append(c.mod.Code, byte(n>>8), byte(n))
}

func (c *Compiler) emitU32(n int) {
	c.mod.Code = append(c.mod.Code, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func (c *Compiler) here() int { return len(c.mod.Code) }

// placeholderU32 reserves four zero bytes for a jump target patched in
// later, returning its position.
func (c *Compiler) placeholderU32() int {
	pos := c.here()
	c.emitU32(0)
	return pos
}

func (c *Compiler) patchU32(pos, target int) {
	c.mod.Code[pos] = byte(target >> 24)
	c.mod.Code[pos+1] = byte(target >> 16)
	c.mod.Code[pos+2] = byte(target >> 8)
	c.mod.Code[pos+3] = byte(target)
}

func (c *Compiler) emitRegister(mode bytecode.RegisterMode, reg bytecode.Register) {
	c.emit(bytecode.OpRegister)
	c.emitByte(byte(mode))
	c.emitByte(byte(reg))
}

func (c *Compiler) emitLocalString(kind bytecode.LocalKind, s string) {
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(kind))
	c.emitU16(c.pool.String(s))
}

/* ------------------------------ statements ------------------------------- */

func (c *Compiler) compileStmt(n ast.Node) {
	switch s := n.(type) {
	case *ast.VarDecl:
		c.compileVarDecl(s, nil)
	case *ast.FuncDecl:
		c.compileFuncDecl(s, nil)
	case *ast.ClassDecl:
		c.compileClassDecl(s)
	case *ast.EnumDecl:
		c.compileEnumDecl(s)
	case *ast.StructDecl:
		c.compileStructDecl(s)
	case *ast.TypeAliasDecl:
		c.compileTypeAliasDecl(s)
	case *ast.ImportDecl:
		c.emit(bytecode.OpImportDecl)
		c.emitU16(c.pool.String(s.Key))
	case *ast.ExprStmt:
		c.compileExpr(s.Expr)
		c.emit(bytecode.OpEndOfStmt)
	case *ast.BlockStmt:
		c.compileBlock(s)
	case *ast.ReturnStmt:
		c.compileReturn(s)
	case *ast.BreakStmt:
		c.compileBreak()
	case *ast.ContinueStmt:
		c.compileContinue()
	case *ast.IfStmt:
		c.compileIfStmt(s)
	case *ast.WhileStmt:
		c.compileWhileStmt(s)
	case *ast.DoWhileStmt:
		c.compileDoWhileStmt(s)
	case *ast.ForStmt:
		c.compileForStmt(s)
	case *ast.ForInStmt:
		c.compileForInStmt(s)
	case *ast.WhenStmt:
		c.compileWhenStmt(s)
	default:
		if n != nil {
			c.compileExpr(n)
			c.emit(bytecode.OpEndOfStmt)
		}
	}
}

func (c *Compiler) compileBlock(b *ast.BlockStmt) {
	c.emit(bytecode.OpBlock)
	for _, s := range b.Stmts {
		c.compileStmt(s)
	}
	c.emit(bytecode.OpEndOfBlock)
}

// compileReturn pushes the return value (or `null`, for a bare `return`
// or implicit fall-off-the-end) and jumps unconditionally to the
// enclosing function's exit point, patched once compileFuncDecl finishes
// the body — an explicit `goto` leaves the pushed value sitting on the
// stack across the jump, so no register is needed to carry it.
func (c *Compiler) compileReturn(s *ast.ReturnStmt) {
	if s.Value != nil {
		c.compileExpr(s.Value)
	} else {
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalNull))
	}
	c.emit(bytecode.OpGoto)
	pos := c.placeholderU32()
	if len(c.funcs) > 0 {
		fc := c.funcs[len(c.funcs)-1]
		fc.returnPatches = append(fc.returnPatches, pos)
	}
}

func (c *Compiler) compileBreak() {
	c.emit(bytecode.OpBreakLoop)
	pos := c.placeholderU32()
	if len(c.loops) > 0 {
		lc := c.loops[len(c.loops)-1]
		lc.breakPatches = append(lc.breakPatches, pos)
	}
}

func (c *Compiler) compileContinue() {
	c.emit(bytecode.OpContinueLoop)
	pos := c.placeholderU32()
	if len(c.loops) > 0 {
		lc := c.loops[len(c.loops)-1]
		lc.continuePatches = append(lc.continuePatches, pos)
	}
}

func (c *Compiler) compileIfStmt(s *ast.IfStmt) {
	c.compileExpr(s.Cond)
	c.emit(bytecode.OpIfStmt)
	elsePatch := c.placeholderU32()
	c.compileStmt(s.Then)
	if s.Else != nil {
		c.emit(bytecode.OpSkip)
		endPatch := c.placeholderU32()
		c.patchU32(elsePatch, c.here())
		c.compileStmt(s.Else)
		c.patchU32(endPatch, c.here())
	} else {
		c.patchU32(elsePatch, c.here())
	}
}

func (c *Compiler) compileWhileStmt(s *ast.WhileStmt) {
	condTarget := c.here()
	c.emit(bytecode.OpLoopPoint)
	c.compileExpr(s.Cond)
	c.emit(bytecode.OpWhileStmt)
	endPatch := c.placeholderU32()

	lc := &loopCtx{continueTarget: condTarget}
	c.loops = append(c.loops, lc)
	c.compileStmt(s.Body)
	c.loops = c.loops[:len(c.loops)-1]

	for _, p := range lc.continuePatches {
		c.patchU32(p, condTarget)
	}
	c.emit(bytecode.OpGoto)
	c.emitU32(condTarget)
	end := c.here()
	c.patchU32(endPatch, end)
	for _, p := range lc.breakPatches {
		c.patchU32(p, end)
	}
}

func (c *Compiler) compileDoWhileStmt(s *ast.DoWhileStmt) {
	bodyStart := c.here()
	c.emit(bytecode.OpLoopPoint)

	lc := &loopCtx{}
	c.loops = append(c.loops, lc)
	c.compileStmt(s.Body)
	condTarget := c.here()
	lc.continueTarget = condTarget
	c.loops = c.loops[:len(c.loops)-1]
	for _, p := range lc.continuePatches {
		c.patchU32(p, condTarget)
	}

	c.compileExpr(s.Cond)
	c.emit(bytecode.OpDoStmt)
	c.emitU32(bodyStart)
	end := c.here()
	for _, p := range lc.breakPatches {
		c.patchU32(p, end)
	}
}

func (c *Compiler) compileForStmt(s *ast.ForStmt) {
	c.emit(bytecode.OpBlock)
	if s.Init != nil {
		c.compileStmt(s.Init)
	}
	condTarget := c.here()
	c.emit(bytecode.OpLoopPoint)
	var endPatch int
	if s.Cond != nil {
		c.compileExpr(s.Cond)
		c.emit(bytecode.OpWhileStmt)
		endPatch = c.placeholderU32()
	}

	lc := &loopCtx{}
	c.loops = append(c.loops, lc)
	c.compileStmt(s.Body)

	stepTarget := c.here()
	lc.continueTarget = stepTarget
	c.loops = c.loops[:len(c.loops)-1]
	for _, p := range lc.continuePatches {
		c.patchU32(p, stepTarget)
	}
	if s.Step != nil {
		c.compileExpr(s.Step)
		c.emit(bytecode.OpEndOfStmt)
	}
	c.emit(bytecode.OpGoto)
	c.emitU32(condTarget)
	end := c.here()
	if s.Cond != nil {
		c.patchU32(endPatch, end)
	}
	for _, p := range lc.breakPatches {
		c.patchU32(p, end)
	}
	c.emit(bytecode.OpEndOfBlock)
}

// compileForInStmt lowers `for (var elem in iterable) body` into an
// equivalent index-driven while loop: RegValue holds the iterable,
// RegLoopCount the running index, and the element variable is read out
// with `subGet` each pass before the body runs. The loop condition
// compares the index against the iterable's virtual `length` property
// (vm.go's memberGet special-cases `length` on lists and strings, since
// there is no dedicated length/size opcode).
func (c *Compiler) compileForInStmt(s *ast.ForInStmt) {
	c.emit(bytecode.OpBlock)
	c.compileExpr(s.Iterable)
	c.emitRegister(bytecode.RegisterStore, bytecode.RegValue) // iterable -> RegValue
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalConstInt))
	c.emitU16(c.pool.Int(0))
	c.emitRegister(bytecode.RegisterStore, bytecode.RegLoopCount) // index -> RegLoopCount

	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalNull))
	c.emit(bytecode.OpVarDecl)
	c.emitU16(c.pool.String(s.ElemName))
	c.emitByte(0)

	condTarget := c.here()
	c.emit(bytecode.OpLoopPoint)
	c.emitRegister(bytecode.RegisterLoad, bytecode.RegLoopCount)
	c.emitRegister(bytecode.RegisterStore, bytecode.RegRelationLeft)
	c.emitRegister(bytecode.RegisterLoad, bytecode.RegValue)
	c.emit(bytecode.OpMemberGet)
	c.emitU16(c.pool.String("length"))
	c.emit(bytecode.OpLesser)
	c.emit(bytecode.OpWhileStmt)
	endPatch := c.placeholderU32()

	// elem = iterable[index]
	c.emitRegister(bytecode.RegisterLoad, bytecode.RegValue)
	c.emitRegister(bytecode.RegisterStore, bytecode.RegPostfixObject)
	c.emitRegister(bytecode.RegisterLoad, bytecode.RegLoopCount)
	c.emit(bytecode.OpSubGet)
	c.emit(bytecode.OpAssign)
	c.emitU16(c.pool.String(s.ElemName))
	c.emit(bytecode.OpEndOfStmt)

	lc := &loopCtx{}
	c.loops = append(c.loops, lc)
	c.compileStmt(s.Body)

	stepTarget := c.here()
	lc.continueTarget = stepTarget
	c.loops = c.loops[:len(c.loops)-1]
	for _, p := range lc.continuePatches {
		c.patchU32(p, stepTarget)
	}

	// index = index + 1
	c.emitRegister(bytecode.RegisterLoad, bytecode.RegLoopCount)
	c.emitRegister(bytecode.RegisterStore, bytecode.RegAddLeft)
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalConstInt))
	c.emitU16(c.pool.Int(1))
	c.emit(bytecode.OpAdd)
	c.emitRegister(bytecode.RegisterStore, bytecode.RegLoopCount)

	c.emit(bytecode.OpGoto)
	c.emitU32(condTarget)
	end := c.here()
	c.patchU32(endPatch, end)
	for _, p := range lc.breakPatches {
		c.patchU32(p, end)
	}
	c.emit(bytecode.OpEndOfBlock)
}

// compileWhenStmt lowers `when (subject?) { case -> branch ... else -> branch }`
// into a linear chain of equality (or bare truthy, when there is no
// subject) comparisons: the first matching arm wins, and a non-matching
// subject falls through to the `else` arm or past the statement.
func (c *Compiler) compileWhenStmt(s *ast.WhenStmt) {
	var endPatches []int
	var elseCase *ast.WhenCase
	hasSubject := s.Subject != nil
	if hasSubject {
		c.compileExpr(s.Subject)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegValue)
	}
	for i := range s.Cases {
		wc := &s.Cases[i]
		if wc.Exprs == nil {
			elseCase = wc
			continue
		}
		c.compileWhenCaseCond(wc.Exprs, hasSubject)
		c.emit(bytecode.OpIfStmt)
		skipBranch := c.placeholderU32()
		c.compileStmt(wc.Branch)
		c.emit(bytecode.OpSkip)
		endPatches = append(endPatches, c.placeholderU32())
		c.patchU32(skipBranch, c.here())
	}
	if elseCase != nil {
		c.compileStmt(elseCase.Branch)
	}
	for _, p := range endPatches {
		c.patchU32(p, c.here())
	}
}

// compileWhenCaseCond evaluates one arm's comma-separated case
// expressions and combines them with `||`, following the same
// register-stash pattern compileBinary uses for the operator itself:
// with a subject, each expression is compared for equality against the
// subject (reloaded from RegValue); without one, each expression is
// used bare as a boolean condition.
func (c *Compiler) compileWhenCaseCond(exprs []ast.Node, hasSubject bool) {
	compileOne := func(expr ast.Node) {
		if hasSubject {
			c.emitRegister(bytecode.RegisterLoad, bytecode.RegValue)
			c.emitRegister(bytecode.RegisterStore, bytecode.RegEqualLeft)
			c.compileExpr(expr)
			c.emit(bytecode.OpEqual)
		} else {
			c.compileExpr(expr)
		}
	}
	compileOne(exprs[0])
	for _, expr := range exprs[1:] {
		c.emitRegister(bytecode.RegisterStore, bytecode.RegOrLeft)
		compileOne(expr)
		c.emit(bytecode.OpLogicalOr)
	}
}

/* ----------------------------- declarations ------------------------------ */

func (c *Compiler) compileVarDecl(d *ast.VarDecl, owner *Class) {
	if d.Init != nil {
		c.compileExpr(d.Init)
	} else {
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalNull))
	}
	c.emit(bytecode.OpVarDecl)
	c.emitU16(c.pool.String(d.Name))
	var flags byte
	if d.Modifiers.Const {
		flags |= declFlagConst
	}
	c.emitByte(flags)
}

// compileFuncDecl lowers fd in place: a funcDecl header naming the
// function, an unconditional skip over the compiled body, the body
// itself (entered only via `call`, never by falling through), and a
// closing endOfFunc. The Function object (arity, entry point) is
// appended to the module's function table and also returned so callers
// (compileClassDecl) can register it as a method.
func (c *Compiler) compileFuncDecl(fd *ast.FuncDecl, owner *Class) *Function {
	params := make([]ParamDecl, len(fd.Params))
	for i, p := range fd.Params {
		params[i] = ParamDecl{
			Name:     p.Name,
			Optional: p.Flags.Optional,
			Named:    p.Flags.Named,
			Variadic: p.Flags.Variadic,
		}
	}
	category := funcCategoryOf(fd.Category)
	name := fd.Name
	if fd.Category == ast.FuncConstructor {
		name = fd.ConstructorName
		category = CategoryConstructor
	}
	fn := NewFunction(name, category, params)
	fn.Owner = owner

	// fn is appended now, before its body (and any nested function
	// literals within it) compiles, so its index into mod.Functions is
	// fixed at this point — the runtime funcDecl instruction below
	// carries that index so the VM can bind the exact same *Function*
	// the compiler built, not merely its name.
	funcIdx := len(c.mod.Functions)
	c.mod.Functions = append(c.mod.Functions, fn)

	c.emit(bytecode.OpFuncDecl)
	c.emitU16(c.pool.String(name))
	c.emitU16(funcIdx)

	c.emit(bytecode.OpSkip)
	skipPatch := c.placeholderU32()

	// The redirect's argument-capture sub-program (if any) is entered
	// only via fn.Redirect.Args, never by falling into it; fn.Entry marks
	// where the call protocol resumes once the delegated call returns.
	if fd.Category == ast.FuncConstructor && fd.Redirect != nil {
		c.compileRedirect(fd.Redirect, fn, owner)
	}

	entryOffset := c.here()
	fn.Entry = &BytecodeEntry{ModuleKey: c.mod.Key, Offset: entryOffset}

	for i, p := range fd.Params {
		if p.Init != nil {
			c.emit(bytecode.OpSkip)
			initSkip := c.placeholderU32()
			initOffset := c.here()
			c.compileExpr(p.Init)
			c.emit(bytecode.OpEndOfExec)
			c.patchU32(initSkip, c.here())
			params[i].Initializer = &BytecodeEntry{ModuleKey: c.mod.Key, Offset: initOffset}
		}
	}
	fn.Params = params

	fc := &funcCtx{}
	c.funcs = append(c.funcs, fc)
	producedValue := false
	if fd.Body != nil {
		if blk, ok := fd.Body.(*ast.BlockStmt); ok {
			for _, s := range blk.Stmts {
				c.compileStmt(s)
			}
		} else {
			// Arrow-function / getter-shorthand body: a bare expression is
			// the implicit return value, left on the stack rather than
			// discarded the way an ordinary statement's result would be.
			c.compileExpr(fd.Body)
			producedValue = true
		}
	}
	c.funcs = c.funcs[:len(c.funcs)-1]

	if !producedValue {
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalNull))
	}
	retTarget := c.here()
	for _, p := range fc.returnPatches {
		c.patchU32(p, retTarget)
	}
	c.emit(bytecode.OpEndOfFunc)
	c.patchU32(skipPatch, c.here())

	return fn
}

// compileRedirect lowers a `: super(...)` / `: this.name(...)` redirecting
// constructor header into a captured argument sub-program (bounded by
// endOfExec, per BytecodeEntry's framing) referenced from fn.Redirect;
// the VM evaluates that sub-program and invokes the target constructor
// before running fn's own body.
func (c *Compiler) compileRedirect(r *ast.RedirectingConstructor, fn *Function, owner *Class) {
	argsOffset := c.here()
	for _, a := range r.Positional {
		c.compileExpr(a)
	}
	for i, name := range r.NamedNames {
		c.emitLocalString(bytecode.LocalConstString, name)
		c.compileExpr(r.NamedArgs[i])
	}
	c.emit(bytecode.OpEndOfExec)
	fn.Category = CategoryRedirectingConstructor
	fn.Redirect = &RedirectInfo{
		IsSuper:         r.Kind == ast.RedirectSuper,
		Args:            &BytecodeEntry{ModuleKey: c.mod.Key, Offset: argsOffset},
		PositionalCount: len(r.Positional),
		NamedCount:      len(r.NamedNames),
	}
	if owner != nil {
		if r.Kind == ast.RedirectSuper {
			fn.Redirect.Target = owner.Super
		} else {
			fn.Redirect.Target = owner
		}
	}
}

func funcCategoryOf(k ast.FuncCategory) FuncCategory {
	switch k {
	case ast.FuncGetter:
		return CategoryGetter
	case ast.FuncSetter:
		return CategorySetter
	case ast.FuncConstructor:
		return CategoryConstructor
	default:
		return CategoryFunction
	}
}

// compileClassDecl lowers a class declaration: a classDecl header, an
// unconditional skip over the member bodies (mirroring compileFuncDecl's
// guard), then each method compiled via compileFuncDecl (registered on
// the skeleton Class as it goes), non-static field VarDecls collected as
// declaration order/types on the Class, and static field/method
// VarDecls/FuncDecls routed into the Class's static Namespace instead of
// the module's.
func (c *Compiler) compileClassDecl(cd *ast.ClassDecl) *Class {
	class := NewClass(cd.Name, nil) // Super resolved by the VM's link pass, which has the full class table
	class.Abstract = cd.Modifiers.Abstract
	class.External = cd.Modifiers.External
	for _, g := range cd.GenericParams {
		class.Generics = append(class.Generics, g.Name)
	}
	if cd.Superclass != nil {
		if nt, ok := cd.Superclass.(*ast.NominalTypeExpr); ok {
			class.SuperName = nt.Name
		}
	}
	for _, it := range cd.Implements {
		if nt, ok := it.(*ast.NominalTypeExpr); ok {
			class.Interfaces = append(class.Interfaces, nt.Name)
		}
	}
	for _, m := range cd.Mixes {
		if nt, ok := m.(*ast.NominalTypeExpr); ok {
			class.Mixins = append(class.Mixins, nt.Name)
		}
	}

	classIdx := len(c.mod.Classes)
	c.mod.Classes = append(c.mod.Classes, class)

	c.emit(bytecode.OpClassDecl)
	c.emitU16(c.pool.String(cd.Name))
	c.emitU16(classIdx)
	c.emit(bytecode.OpSkip)
	skipPatch := c.placeholderU32()

	c.classes = append(c.classes, class)
	for _, member := range cd.Members {
		switch m := member.(type) {
		case *ast.FuncDecl:
			fn := c.compileFuncDecl(m, class)
			if m.Category == ast.FuncConstructor {
				class.HasUserConstructor = true
				class.AddMethod(fn)
				continue
			}
			if m.Modifiers.Static {
				class.Statics.Define(fn.Name, &Declaration{Name: fn.Name, Value: FunctionValue(fn), Initialized: true})
				continue
			}
			class.AddMethod(fn)
		case *ast.VarDecl:
			if m.Modifiers.Static {
				c.compileVarDecl(m, class)
				class.Statics.Define(m.Name, &Declaration{Name: m.Name, Initialized: false})
				continue
			}
			class.AddField(m.Name, nil)
			if m.Init != nil {
				initOffset := c.here()
				c.compileExpr(m.Init)
				c.emit(bytecode.OpEndOfExec)
				class.InstanceFieldInit[m.Name] = &BytecodeEntry{ModuleKey: c.mod.Key, Offset: initOffset}
			}
		}
	}
	c.classes = c.classes[:len(c.classes)-1]

	c.emit(bytecode.OpEndOfFunc)
	c.patchU32(skipPatch, c.here())

	return class
}

// compileEnumDecl lowers an enum declaration into a class carrying a
// private `$name` field, a private constructor that sets it, a
// `toString` method returning it, and a static `values` list plus one
// static field per enumerator — all created once at link time by the VM.
// The compiler emits the classDecl skeleton opcode and records the
// metadata the VM's link pass needs;
// the enumerator instances themselves are constructed by the VM, not the
// compiler, since instance construction requires the heap allocator the
// compiler does not have.
func (c *Compiler) compileEnumDecl(ed *ast.EnumDecl) *Class {
	class := NewClass(ed.Name, nil)
	class.IsEnum = true
	class.AddField("$name", nil)
	class.HasUserConstructor = true

	ctor := NewFunction("", CategoryConstructor, []ParamDecl{{Name: "$name"}})
	ctor.Owner = class
	class.AddMethod(ctor)

	toStr := NewFunction("toString", CategoryMethod, nil)
	toStr.Owner = class
	class.AddMethod(toStr)

	classIdx := len(c.mod.Classes)
	c.mod.Classes = append(c.mod.Classes, class)
	ctorIdx := len(c.mod.Functions)
	c.mod.Functions = append(c.mod.Functions, ctor)
	toStrIdx := len(c.mod.Functions)
	c.mod.Functions = append(c.mod.Functions, toStr)

	c.emit(bytecode.OpClassDecl)
	c.emitU16(c.pool.String(ed.Name))
	c.emitU16(classIdx)
	c.emit(bytecode.OpSkip)
	skipPatch := c.placeholderU32()

	// $name -> this.$name
	c.emit(bytecode.OpFuncDecl)
	c.emitU16(c.pool.String(""))
	c.emitU16(ctorIdx)
	c.emit(bytecode.OpSkip)
	ctorSkip := c.placeholderU32()
	ctor.Entry = &BytecodeEntry{ModuleKey: c.mod.Key, Offset: c.here()}
	c.emitIdentifierGet("this")
	c.emitRegister(bytecode.RegisterStore, bytecode.RegPostfixObject)
	c.emitIdentifierGet("$name")
	c.emitAssignField("$name")
	c.emit(bytecode.OpEndOfStmt)
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalNull))
	c.emit(bytecode.OpEndOfFunc)
	c.patchU32(ctorSkip, c.here())

	// toString -> $name
	c.emit(bytecode.OpFuncDecl)
	c.emitU16(c.pool.String("toString"))
	c.emitU16(toStrIdx)
	c.emit(bytecode.OpSkip)
	toStrSkip := c.placeholderU32()
	toStr.Entry = &BytecodeEntry{ModuleKey: c.mod.Key, Offset: c.here()}
	c.emitIdentifierGet("this")
	c.emit(bytecode.OpMemberGet)
	c.emitU16(c.pool.String("$name"))
	c.emit(bytecode.OpEndOfFunc)
	c.patchU32(toStrSkip, c.here())

	c.emit(bytecode.OpEndOfFunc)
	c.patchU32(skipPatch, c.here())

	class.EnumValueNames = append([]string{}, ed.Values...)
	for _, v := range ed.Values {
		c.pool.String(v)
	}
	return class
}

func (c *Compiler) emitIdentifierGet(name string) {
	c.emitLocalString(bytecode.LocalIdentifier, name)
}

func (c *Compiler) emitAssignField(name string) {
	c.emit(bytecode.OpMemberSet)
	c.emitU16(c.pool.String(name))
}

// compileStructDecl registers a named prototype template; the VM builds
// the actual StructObject from this declaration's field list when the
// structDecl instruction executes.
func (c *Compiler) compileStructDecl(sd *ast.StructDecl) {
	for _, member := range sd.Members {
		vd := member.(*ast.VarDecl)
		c.emitLocalString(bytecode.LocalConstString, vd.Name)
		if vd.Init != nil {
			c.compileExpr(vd.Init)
		} else {
			c.emit(bytecode.OpLocal)
			c.emitByte(byte(bytecode.LocalNull))
		}
	}
	c.emit(bytecode.OpStructDecl)
	c.emitU16(c.pool.String(sd.Name))
	c.emitU16(len(sd.Members))
	if sd.Prototype != nil {
		c.emitU16(c.pool.String(typeExprName(sd.Prototype)))
	} else {
		c.emitU16(c.pool.String(""))
	}
}

func (c *Compiler) compileTypeAliasDecl(ta *ast.TypeAliasDecl) {
	c.emit(bytecode.OpTypeAliasDecl)
	c.emitU16(c.pool.String(ta.Name))
}

/* ------------------------------ expressions ------------------------------- */

func (c *Compiler) compileExpr(n ast.Node) {
	switch e := n.(type) {
	case *ast.LiteralExpr:
		c.compileLiteral(e)
	case *ast.IdentifierExpr:
		c.emitIdentifierGet(e.Name)
	case *ast.ThisExpr:
		c.emitLocalString(bytecode.LocalIdentifier, "this")
	case *ast.SuperExpr:
		c.emitLocalString(bytecode.LocalIdentifier, "super")
	case *ast.GroupExpr:
		c.compileExpr(e.Inner)
	case *ast.UnaryExpr:
		c.compileUnary(e)
	case *ast.BinaryExpr:
		c.compileBinary(e)
	case *ast.TernaryExpr:
		c.compileTernary(e)
	case *ast.IfExpr:
		c.compileIfExpr(e)
	case *ast.MemberExpr:
		c.compileExpr(e.Object)
		c.emit(bytecode.OpMemberGet)
		c.emitU16(c.pool.String(e.Name))
	case *ast.SubscriptExpr:
		c.compileExpr(e.Object)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegPostfixObject)
		c.compileExpr(e.Index)
		c.emit(bytecode.OpSubGet)
	case *ast.CallExpr:
		c.compileCall(e)
	case *ast.ListExpr:
		for _, el := range e.Elements {
			c.compileExpr(el)
		}
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalList))
		c.emitU16(len(e.Elements))
	case *ast.StructExpr:
		c.compileStructExpr(e)
	case *ast.StringInterpExpr:
		c.compileStringInterp(e)
	case *ast.FuncDecl:
		funcIdx := len(c.mod.Functions)
		c.compileFuncDecl(e, c.currentClass())
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalFunction))
		c.emitU16(funcIdx)
	default:
		c.fail(CodeUnsupportedConstruct, spanOfNode(n), "unsupported expression node %T", n)
	}
}

func spanOfNode(n ast.Node) ast.Span {
	if n == nil {
		return ast.Span{}
	}
	return n.Pos()
}

func (c *Compiler) currentClass() *Class {
	if len(c.classes) == 0 {
		return nil
	}
	return c.classes[len(c.classes)-1]
}

func (c *Compiler) compileLiteral(e *ast.LiteralExpr) {
	switch e.Kind {
	case token.Null:
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalNull))
	case token.Boolean:
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalBoolean))
		if e.Bool {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
	case token.Integer:
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalConstInt))
		c.emitU16(c.pool.Int(e.Int))
	case token.Float:
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalConstFloat))
		c.emitU16(c.pool.Float(e.Float))
	case token.String:
		c.emitLocalString(bytecode.LocalConstString, e.Str)
	default:
		c.fail(CodeUnsupportedConstruct, e.Pos(), "unsupported literal kind %v", e.Kind)
	}
}

func (c *Compiler) compileUnary(e *ast.UnaryExpr) {
	c.compileExpr(e.Operand)
	switch e.Op {
	case "-":
		c.emit(bytecode.OpNegative)
	case "!":
		c.emit(bytecode.OpLogicalNot)
	case "typeof":
		c.emit(bytecode.OpTypeOf)
	default:
		c.fail(CodeUnsupportedConstruct, e.Pos(), "unsupported unary operator %q", e.Op)
	}
}

// binaryOpReg maps an operator to the register it stashes its left
// operand in while the right operand is evaluated, one named register
// per precedence level.
var binaryOpReg = map[string]bytecode.Register{
	"||": bytecode.RegOrLeft,
	"&&": bytecode.RegAndLeft,
	"==": bytecode.RegEqualLeft, "!=": bytecode.RegEqualLeft,
	"<": bytecode.RegRelationLeft, ">": bytecode.RegRelationLeft,
	"<=": bytecode.RegRelationLeft, ">=": bytecode.RegRelationLeft,
	"+": bytecode.RegAddLeft, "-": bytecode.RegAddLeft,
	"*": bytecode.RegMultiplyLeft, "/": bytecode.RegMultiplyLeft, "%": bytecode.RegMultiplyLeft,
}

var binaryOpCode = map[string]bytecode.Op{
	"||": bytecode.OpLogicalOr, "&&": bytecode.OpLogicalAnd,
	"==": bytecode.OpEqual, "!=": bytecode.OpNotEqual,
	"<": bytecode.OpLesser, ">": bytecode.OpGreater,
	"<=": bytecode.OpLesserOrEqual, ">=": bytecode.OpGreaterOrEqual,
	"+": bytecode.OpAdd, "-": bytecode.OpSubtract,
	"*": bytecode.OpMultiply, "/": bytecode.OpDevide, "%": bytecode.OpModulo,
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) {
	switch e.Op {
	case "=":
		c.compileAssign(e)
		return
	case "as":
		c.compileExpr(e.Left)
		c.compileTypeOperand(e.Right)
		c.emit(bytecode.OpTypeAs)
		return
	case "is":
		c.compileExpr(e.Left)
		c.compileTypeOperand(e.Right)
		c.emit(bytecode.OpTypeIs)
		return
	case "??":
		c.compileExpr(e.Left)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegValue)
		c.emitRegister(bytecode.RegisterLoad, bytecode.RegValue)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegEqualLeft)
		c.emit(bytecode.OpLocal)
		c.emitByte(byte(bytecode.LocalNull))
		c.emit(bytecode.OpNotEqual)
		c.emit(bytecode.OpIfStmt)
		elsePatch := c.placeholderU32()
		c.emitRegister(bytecode.RegisterLoad, bytecode.RegValue)
		c.emit(bytecode.OpSkip)
		endPatch := c.placeholderU32()
		c.patchU32(elsePatch, c.here())
		c.compileExpr(e.Right)
		c.patchU32(endPatch, c.here())
		return
	}
	reg, ok := binaryOpReg[e.Op]
	op, ok2 := binaryOpCode[e.Op]
	if !ok || !ok2 {
		c.fail(CodeUnsupportedConstruct, e.Pos(), "unsupported binary operator %q", e.Op)
		return
	}
	c.compileExpr(e.Left)
	c.emitRegister(bytecode.RegisterStore, reg)
	c.compileExpr(e.Right)
	c.emit(op)
}

// compileTypeOperand lowers a type-expression operand of `as`/`is` into
// a `local type` instruction that the VM resolves against its class
// table, against the advisory-only type model in types.go.
func (c *Compiler) compileTypeOperand(t ast.Node) {
	name := typeExprName(t)
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalType))
	c.emitU16(c.pool.String(name))
}

func typeExprName(t ast.Node) string {
	switch e := t.(type) {
	case *ast.PrimitiveTypeExpr:
		return e.Name
	case *ast.NominalTypeExpr:
		return e.Name
	default:
		return "any"
	}
}

// compileAssign lowers `lvalue = rvalue`: evaluate rvalue, then dispatch
// on the lvalue's shape (identifier, member, subscript) to the matching
// store opcode. Compound assignment and pre/post-increment were already
// lowered by the parser into this same `=` shape wrapping a nested
// BinaryExpr, so this is the only assignment lowering the compiler needs.
func (c *Compiler) compileAssign(e *ast.BinaryExpr) {
	switch lv := e.Left.(type) {
	case *ast.IdentifierExpr:
		c.compileExpr(e.Right)
		c.emit(bytecode.OpAssign)
		c.emitU16(c.pool.String(lv.Name))
	case *ast.MemberExpr:
		c.compileExpr(lv.Object)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegPostfixObject)
		c.compileExpr(e.Right)
		c.emit(bytecode.OpMemberSet)
		c.emitU16(c.pool.String(lv.Name))
	case *ast.SubscriptExpr:
		c.compileExpr(lv.Object)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegPostfixObject)
		c.compileExpr(lv.Index)
		c.emitRegister(bytecode.RegisterStore, bytecode.RegPostfixKey)
		c.compileExpr(e.Right)
		c.emit(bytecode.OpSubSet)
	default:
		c.fail(CodeInvalidLeftValue, e.Pos(), "invalid assignment target")
	}
}

func (c *Compiler) compileTernary(e *ast.TernaryExpr) {
	c.compileExpr(e.Cond)
	c.emit(bytecode.OpIfStmt)
	elsePatch := c.placeholderU32()
	c.compileExpr(e.Then)
	c.emit(bytecode.OpSkip)
	endPatch := c.placeholderU32()
	c.patchU32(elsePatch, c.here())
	c.compileExpr(e.Else)
	c.patchU32(endPatch, c.here())
}

func (c *Compiler) compileIfExpr(e *ast.IfExpr) {
	c.compileExpr(e.Cond)
	c.emit(bytecode.OpIfStmt)
	elsePatch := c.placeholderU32()
	c.compileExpr(e.Then)
	c.emit(bytecode.OpSkip)
	endPatch := c.placeholderU32()
	c.patchU32(elsePatch, c.here())
	c.compileExpr(e.Else)
	c.patchU32(endPatch, c.here())
}

func (c *Compiler) compileCall(e *ast.CallExpr) {
	c.compileExpr(e.Callee)
	for _, a := range e.Positional {
		c.compileExpr(a)
	}
	for i, name := range e.NamedNames {
		c.emitLocalString(bytecode.LocalConstString, name)
		c.compileExpr(e.NamedArgs[i])
	}
	c.emit(bytecode.OpCall)
	c.emitByte(byte(len(e.Positional)))
	c.emitByte(byte(len(e.NamedNames)))
}

func (c *Compiler) compileStructExpr(e *ast.StructExpr) {
	for _, f := range e.Fields {
		c.emitLocalString(bytecode.LocalConstString, f.Key)
		c.compileExpr(f.Value)
	}
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalStruct))
	c.emitU16(len(e.Fields))
	c.emitU16(c.pool.String(e.Prototype))
}

// compileStringInterp emits the literal template string followed by one
// pushed value per hole, closing with a `local stringInterpolation`
// instruction carrying the hole count — the VM concatenates by
// substituting each hole's rendered value into the "{N}" placeholders of
// the template string.
func (c *Compiler) compileStringInterp(e *ast.StringInterpExpr) {
	c.emitLocalString(bytecode.LocalConstString, e.Parts)
	for _, h := range e.Holes {
		c.compileExpr(h)
	}
	c.emit(bytecode.OpLocal)
	c.emitByte(byte(bytecode.LocalStringInterpolation))
	c.emitU16(len(e.Holes))
}
