// Package manifest handles rill.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/rill-lang/rill/pkg/vm"
)

// Manifest represents a rill.toml configuration. Every field has a
// default, so a missing or partial file is never an error at this
// level; CLI flags override whatever is loaded here.
type Manifest struct {
	VM    VMConfig    `toml:"vm"`
	Cache CacheConfig `toml:"cache"`
	Log   LogConfig   `toml:"log"`

	// Dir is the directory containing the rill.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig configures execution.
type VMConfig struct {
	// Trace enables per-instruction trace output, same as -trace.
	Trace bool `toml:"trace"`

	// Seed fixes the select RNG for reproducible runs. Nil means
	// unseeded; zero is a valid seed.
	Seed *int64 `toml:"seed"`

	// StackSize and MaxFrames are fixed at build time and recorded
	// here so tooling can read the limits. Setting them has no effect.
	StackSize int `toml:"stack-size"`
	MaxFrames int `toml:"max-frames"`
}

// CacheConfig configures the compile cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Verbosity maps to commonlog levels: 0 quiet, 1 info, 2 debug.
	Verbosity int `toml:"verbosity"`
}

// Default returns a manifest with every field at its default value.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			StackSize: vm.StackMax,
			MaxFrames: vm.FramesMax,
		},
		Cache: CacheConfig{Enabled: true},
	}
}

// Load parses a rill.toml file from the given directory. Fields absent
// from the file keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "rill.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return m, nil
}

// Locate loads the manifest for a script: first the script's own
// directory, then the working directory. When neither has a rill.toml
// it returns Default(), so the result is never nil.
func Locate(scriptDir string) (*Manifest, error) {
	var dirs []string
	if scriptDir != "" {
		dirs = append(dirs, scriptDir)
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}

	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, "rill.toml")); err == nil {
			return Load(dir)
		}
	}
	return Default(), nil
}

// CachePath returns the configured cache path resolved against the
// manifest directory, or "" when the default location should be used.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Cache.Path) || m.Dir == "" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}
