// Package config handles graphvm.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/graphvm/vm"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// FileName is the name of the configuration file.
const FileName = "graphvm.toml"

// Config represents a graphvm.toml file.
type Config struct {
	Interpreter Interpreter `toml:"interpreter"`
	Log         Log         `toml:"log"`

	// Dir is the directory containing the graphvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Interpreter configures the VM.
type Interpreter struct {
	MaxCallDepth int  `toml:"max-call-depth"`
	ArenaSize    int  `toml:"arena-size"`
	Debug        bool `toml:"debug"`
	Profiling    bool `toml:"profiling"`
}

// Log configures diagnostics.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Interpreter.MaxCallDepth <= 0 {
		c.Interpreter.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if c.Interpreter.ArenaSize <= 0 {
		c.Interpreter.ArenaSize = vm.DefaultArenaSize
	}
}

// Parse decodes configuration text.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// Load parses the graphvm.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a graphvm.toml file and loads
// it. It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
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
			return Default(), nil
		}
		dir = parent
	}
}

// VMOptions converts the interpreter section to VM options.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		MaxCallDepth: c.Interpreter.MaxCallDepth,
		ArenaSize:    c.Interpreter.ArenaSize,
		Debug:        c.Interpreter.Debug,
		Profile:      c.Interpreter.Profiling,
	}
}

// LogPath returns the log file path, relative paths resolved against Dir,
// or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}

// Apply configures logging.
func (c *Config) Apply() {
	commonlog.Configure(c.Log.Verbosity, c.LogPath())
}
