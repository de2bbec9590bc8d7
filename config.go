package vesper

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// EngineConfig is the ambient configuration an embedding host may load
// from a TOML file and pass to NewEngine: just the handful of knobs this
// engine actually has, since there is no project model here, only a
// runtime.
type EngineConfig struct {
	Runtime RuntimeConfig `toml:"runtime"`
}

// RuntimeConfig controls VM behavior left to the host: call-stack depth
// (a recommended, not prescribed, cancellation/safety knob), whether a
// lateInitialize failure aborts the whole evaluation or is logged and
// treated as null, and whether the module loader's parse cache is
// shared across Engine instances constructed from the same process
// (the cache is otherwise private to one ModuleLoader).
type RuntimeConfig struct {
	MaxCallDepth       int  `toml:"max-call-depth"`
	LateInitFatal      bool `toml:"late-init-fatal"`
	ShareResolverCache bool `toml:"share-resolver-cache"`
}

// DefaultEngineConfig is used by NewEngine when the host supplies no
// configuration of its own.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Runtime: RuntimeConfig{
		MaxCallDepth:       2048,
		LateInitFatal:       true,
		ShareResolverCache: false,
	}}
}

// LoadEngineConfig reads and parses a TOML configuration file at path,
// filling in DefaultEngineConfig's values for anything the file omits.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return cfg, nil
}
