// Package config loads the server's JSON configuration file and parses its
// command-line flags, mirroring the reference implementation's clipp-based
// CLI and default-config-on-missing-file behavior.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

// EngineConfig carries the opaque engine-specific configuration block,
// passed through to engine.Open without interpretation by this package.
type EngineConfig struct {
	ConfigURL      string          `json:"config_url"`
	ConfigFilePath string          `json:"config_file_path"`
	Config         json.RawMessage `json:"config"`
}

// Config is the server's top-level JSON configuration document.
type Config struct {
	Version         string       `json:"version"`
	Directory       string       `json:"directory"`
	DataDirectories []string     `json:"data_directories"`
	Engine          EngineConfig `json:"engine"`
}

// DefaultDirectory and DefaultConfigPath mirror the reference
// implementation's literal defaults.
const (
	DefaultDirectory  = "./tmp/ustore/"
	DefaultConfigPath = "/var/lib/ustore/config.json"
	DefaultPort       = 38709
)

// Default returns the configuration synthesized when no config file is
// present on disk, matching flight_server.cpp's inline JSON literal.
func Default() Config {
	return Config{
		Version:         "1.0",
		Directory:       DefaultDirectory,
		DataDirectories: []string{},
		Engine:          EngineConfig{Config: json.RawMessage("{}")},
	}
}

// Load reads and parses the config file at path. A missing file is not an
// error: it yields Default() instead, mirroring the reference
// implementation's not-found fallback. Load itself creates no directory;
// the server binary creates the configured directory when the file is
// absent.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds the parsed command-line flags, mirroring the reference
// implementation's clipp option set.
type Flags struct {
	ConfigPath string
	Port       int
	Quiet      bool
}

// ParseFlags parses args (excluding the program name) against the standard
// --config/--port/--quiet/--help flag set. On --help it prints usage to w
// and returns ErrHelp; callers should treat that as a clean exit(0).
func ParseFlags(fs *flag.FlagSet, args []string, w io.Writer) (Flags, error) {
	var f Flags
	fs.StringVar(&f.ConfigPath, "config", DefaultConfigPath, "configuration file path")
	fs.IntVar(&f.Port, "port", DefaultPort, "port to use for connection")
	fs.BoolVar(&f.Quiet, "quiet", false, "silence outputs")
	fs.SetOutput(w)
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}
