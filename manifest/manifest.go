// Package manifest handles abcvm.toml project configuration.
package manifest

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/abcvm/vm"
	"github.com/pkg/errors"
)

// FileName is the manifest file looked up in project directories.
const FileName = "abcvm.toml"

// Manifest represents an abcvm.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Run          Run                   `toml:"run"`
	Limits       Limits                `toml:"limits"`
	Log          Log                   `toml:"log"`
	Metrics      Metrics               `toml:"metrics"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the abcvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Run selects what to execute. Units are library units loaded before the
// entry unit; Script picks the entry script, the last one when unset.
type Run struct {
	Entry  string   `toml:"entry"`
	Units  []string `toml:"units"`
	Script *int     `toml:"script"`
}

// Limits overrides vm.DefaultLimits. Unset fields keep the default; zero
// means unlimited.
type Limits struct {
	MaxInstructions *uint64 `toml:"max-instructions"`
	Timeout         string  `toml:"timeout"`
	MaxCallDepth    *int    `toml:"max-call-depth"`
	MaxStackDepth   *int    `toml:"max-stack-depth"`
	MaxScopeDepth   *int    `toml:"max-scope-depth"`
	MaxFrameSize    *int    `toml:"max-frame-size"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
	TraceOps  bool   `toml:"trace-ops"`
}

// Metrics configures the interpreter's prometheus registry.
type Metrics struct {
	Enabled bool `toml:"enabled"`
	Dump    bool `toml:"dump"`
}

// Dependency is a unit file or a project directory with its own
// abcvm.toml, loaded before this project's units.
type Dependency struct {
	Path string `toml:"path"`
}

// Load parses an abcvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}
	return Parse(dir, data)
}

// Parse parses manifest text as if it were read from dir.
func Parse(dir string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", filepath.Join(dir, FileName))
	}

	var err error
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", dir)
	}

	if m.Limits.Timeout != "" {
		if _, err := time.ParseDuration(m.Limits.Timeout); err != nil {
			return nil, errors.Wrapf(err, "[limits] timeout in %s", filepath.Join(dir, FileName))
		}
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an abcvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// VMLimits applies the [limits] overrides to vm.DefaultLimits.
func (m *Manifest) VMLimits() vm.Limits {
	l := vm.DefaultLimits
	if m.Limits.MaxInstructions != nil {
		l.MaxInstructions = *m.Limits.MaxInstructions
	}
	if m.Limits.Timeout != "" {
		// Validated by Parse.
		l.Timeout, _ = time.ParseDuration(m.Limits.Timeout)
	}
	if m.Limits.MaxCallDepth != nil {
		l.MaxCallDepth = *m.Limits.MaxCallDepth
	}
	if m.Limits.MaxStackDepth != nil {
		l.MaxStackDepth = *m.Limits.MaxStackDepth
	}
	if m.Limits.MaxScopeDepth != nil {
		l.MaxScopeDepth = *m.Limits.MaxScopeDepth
	}
	if m.Limits.MaxFrameSize != nil {
		l.MaxFrameSize = *m.Limits.MaxFrameSize
	}
	return l
}

// EntryPath returns the absolute path of the entry unit, or "" if none is
// configured.
func (m *Manifest) EntryPath() string {
	if m.Run.Entry == "" {
		return ""
	}
	return m.path(m.Run.Entry)
}

// UnitPaths returns absolute paths for the configured library units.
func (m *Manifest) UnitPaths() []string {
	paths := make([]string, 0, len(m.Run.Units))
	for _, u := range m.Run.Units {
		paths = append(paths, m.path(u))
	}
	return paths
}

// LogPath returns the absolute log file path, or nil for stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.path(m.Log.File)
	return &p
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
