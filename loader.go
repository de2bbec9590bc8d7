package vesper

import (
	"github.com/vesper-lang/vesper/lex"
)

// Resolver maps an import key and the importing module's directory to
// an absolute module key: `(key, currentDir) → absoluteKey`. The
// concrete path resolution strategy (filesystem, embedded FS, network)
// is an out-of-scope collaborator; hosts supply their own.
type Resolver interface {
	Resolve(key, currentDir string) (string, error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(key, currentDir string) (string, error)

func (f ResolverFunc) Resolve(key, currentDir string) (string, error) { return f(key, currentDir) }

// CompilationBundle is the result of loading one entry source and
// everything it transitively imports: every reached module keyed by
// its absolute key, plus which one (if any) is the library entry.
type CompilationBundle struct {
	Modules      map[string]*Module
	EntryKey     string
	LibraryEntry string
}

// ModuleLoader resolves and caches parsed modules, keyed by the
// resolver-assigned path, with import resolution pluggable via Resolver.
type ModuleLoader struct {
	Resolver Resolver
	provider SourceProvider
	cache    map[string]*Module
}

// sharedModuleCache backs every ModuleLoader an Engine constructs with
// RuntimeConfig.ShareResolverCache set, so repeatedly importing the same
// absolute key across separate Engine instances in one process parses it
// only once.
var sharedModuleCache = map[string]*Module{}

// ErrNoSourceProvider is returned when an import resolves to an
// absolute key but the loader has no SourceProvider installed to read
// its content.
var ErrNoSourceProvider = &Error{Code: CodeSourceProviderError, Message: "no source provider installed"}

// NewModuleLoader creates a loader that resolves import keys with r.
func NewModuleLoader(r Resolver) *ModuleLoader {
	return &ModuleLoader{Resolver: r, cache: map[string]*Module{}}
}

// ParseToCompilation parses entrySource as the bundle's entry module,
// then recursively resolves and parses every import it (transitively)
// declares, producing a CompilationBundle. If libraryName is non-empty
// the entry module is recorded as that library's entry point.
func (l *ModuleLoader) ParseToCompilation(entrySource, entryKey string, libraryName string) *CompilationBundle {
	bundle := &CompilationBundle{Modules: map[string]*Module{}, EntryKey: entryKey}
	entry := l.parseAndCache(entrySource, entryKey, SourceScript)
	if libraryName != "" {
		entry.Library = libraryName
		entry.IsLibrary = true
		bundle.LibraryEntry = entryKey
	}
	bundle.Modules[entryKey] = entry
	l.resolveImports(entry, bundle)
	return bundle
}

func (l *ModuleLoader) parseAndCache(source, key string, kind SourceKind) *Module {
	if m, ok := l.cache[key]; ok {
		return m
	}
	toks, lexErrs := lex.Tokenize(source, key)
	m := ParseModule(toks, key, kind)
	for _, e := range lexErrs {
		m.Errors = append(m.Errors, e)
	}
	l.cache[key] = m
	return m
}

// resolveImports walks m's import declarations, resolving each to an
// absolute key, loading it (from cache or fresh), attaching the
// resolved key back onto the ast.ImportDecl, and recursing — the cache
// guarantees termination even for cyclic imports, since a key already
// seen in this bundle is never re-parsed.
func (l *ModuleLoader) resolveImports(m *Module, bundle *CompilationBundle) {
	for _, imp := range m.Imports {
		abs, err := l.Resolver.Resolve(imp.Key, m.Key)
		if err != nil {
			m.Errors = append(m.Errors, NewError(CodeSourceProviderError, m.Key, imp.Pos().Line, imp.Pos().Column,
				imp.Pos().Offset, imp.Pos().Length, "failed to resolve import %q: %v", imp.Key, err))
			continue
		}
		imp.AbsoluteKey = abs
		if _, seen := bundle.Modules[abs]; seen {
			continue
		}
		source, provErr := l.readSource(abs)
		if provErr != nil {
			m.Errors = append(m.Errors, NewError(CodeSourceProviderError, m.Key, imp.Pos().Line, imp.Pos().Column,
				imp.Pos().Offset, imp.Pos().Length, "failed to read %q: %v", abs, provErr))
			continue
		}
		imported := l.parseAndCache(source, abs, SourceModule)
		bundle.Modules[abs] = imported
		l.resolveImports(imported, bundle)
	}
}

// SourceProvider supplies source text for an absolute module key, the
// other half (alongside Resolver) of the pluggable loading surface;
// hosts typically back this with a filesystem or embedded asset reader.
type SourceProvider interface {
	Read(absoluteKey string) (string, error)
}

// WithSourceProvider installs the SourceProvider the loader uses to
// read an import's content once its key is resolved.
func (l *ModuleLoader) WithSourceProvider(sp SourceProvider) *ModuleLoader {
	l.provider = sp
	return l
}

func (l *ModuleLoader) readSource(absoluteKey string) (string, error) {
	if l.provider == nil {
		return "", ErrNoSourceProvider
	}
	return l.provider.Read(absoluteKey)
}
