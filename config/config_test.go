package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/graphvm/vm"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(""))
	require.NoError(t, err)
	require.Equal(t, vm.DefaultMaxCallDepth, c.Interpreter.MaxCallDepth)
	require.Equal(t, vm.DefaultArenaSize, c.Interpreter.ArenaSize)
	require.Nil(t, c.LogPath())
}

func TestParse_Sections(t *testing.T) {
	c, err := Parse([]byte(`
[interpreter]
max-call-depth = 64
debug = true
profiling = true

[log]
verbosity = 2
file = "/tmp/graphvm.log"
`))
	require.NoError(t, err)

	opts := c.VMOptions()
	require.Equal(t, 64, opts.MaxCallDepth)
	require.True(t, opts.Debug)
	require.True(t, opts.Profile)
	require.Equal(t, vm.DefaultArenaSize, opts.ArenaSize)
	require.Equal(t, 2, c.Log.Verbosity)
	require.Equal(t, "/tmp/graphvm.log", *c.LogPath())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("[interpreter\nmax-call-depth = "))
	require.Error(t, err)
}

func TestLoad_RelativeLogFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[log]\nfile = \"vm.log\"\n"), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	require.Equal(t, abs, c.Dir)
	require.Equal(t, filepath.Join(abs, "vm.log"), *c.LogPath())
}

func TestFindAndLoad_WalksUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("[interpreter]\nmax-call-depth = 7\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	require.Equal(t, 7, c.Interpreter.MaxCallDepth)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
