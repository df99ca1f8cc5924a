package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/abcvm/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "0.1.0"

[run]
entry = "main.yaml"
units = ["lib/util.yaml"]
script = 0

[limits]
max-instructions = 1000
timeout = "250ms"
max-call-depth = 16

[log]
verbosity = 2
file = "avm.log"
trace-ops = true

[metrics]
enabled = true
dump = true

[dependencies]
helper = { path = "../helper" }
`)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "demo", m.Project.Name)
	assert.Equal(t, "0.1.0", m.Project.Version)
	assert.Equal(t, filepath.Join(m.Dir, "main.yaml"), m.EntryPath())
	assert.Equal(t, []string{filepath.Join(m.Dir, "lib", "util.yaml")}, m.UnitPaths())
	require.NotNil(t, m.Run.Script)
	assert.Equal(t, 0, *m.Run.Script)

	assert.Equal(t, 2, m.Log.Verbosity)
	assert.True(t, m.Log.TraceOps)
	require.NotNil(t, m.LogPath())
	assert.Equal(t, filepath.Join(m.Dir, "avm.log"), *m.LogPath())

	assert.True(t, m.Metrics.Enabled)
	assert.True(t, m.Metrics.Dump)
	assert.Equal(t, Dependency{Path: "../helper"}, m.Dependencies["helper"])
}

func TestVMLimits(t *testing.T) {
	m, err := Parse(t.TempDir(), []byte(`
[limits]
max-instructions = 0
timeout = "2s"
max-stack-depth = 64
max-frame-size = 256
`))
	require.NoError(t, err)

	l := m.VMLimits()
	assert.Zero(t, l.MaxInstructions, "explicit zero means unlimited")
	assert.Equal(t, 2*time.Second, l.Timeout)
	assert.Equal(t, 64, l.MaxStackDepth)
	assert.Equal(t, vm.DefaultLimits.MaxCallDepth, l.MaxCallDepth, "unset keeps the default")
	assert.Equal(t, vm.DefaultLimits.MaxScopeDepth, l.MaxScopeDepth)
	assert.Equal(t, 256, l.MaxFrameSize)
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"minimal\"\n")

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, m.EntryPath())
	assert.Empty(t, m.UnitPaths())
	assert.Nil(t, m.Run.Script)
	assert.Nil(t, m.LogPath())
	assert.Equal(t, vm.DefaultLimits, m.VMLimits())
}

func TestLoadManifestErrors(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)

	_, err = Parse(t.TempDir(), []byte("[limits\n"))
	assert.ErrorContains(t, err, "parse error")

	_, err = Parse(t.TempDir(), []byte("[limits]\ntimeout = \"soon\"\n"))
	assert.ErrorContains(t, err, "timeout")
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	writeManifest(t, dir, "[project]\nname = \"found-project\"\n")

	m, err := FindAndLoad(subDir)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "found-project", m.Project.Name)
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestAbsolutePathsAreKept(t *testing.T) {
	m := &Manifest{Dir: "/app", Run: Run{Entry: "/srv/main.abcu", Units: []string{"lib.yaml"}}}
	assert.Equal(t, "/srv/main.abcu", m.EntryPath())
	assert.Equal(t, []string{"/app/lib.yaml"}, m.UnitPaths())
}
