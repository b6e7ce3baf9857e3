package config

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Version != want.Version || cfg.Directory != want.Directory {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"version":"2.0","directory":"/data/ustore","data_directories":["/extra"],` +
		`"engine":{"config_url":"mem://","config_file_path":"","config":{"k":"v"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != "2.0" || cfg.Directory != "/data/ustore" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.DataDirectories) != 1 || cfg.DataDirectories[0] != "/extra" {
		t.Fatalf("unexpected data_directories: %v", cfg.DataDirectories)
	}
	if cfg.Engine.ConfigURL != "mem://" {
		t.Fatalf("unexpected engine config_url: %q", cfg.Engine.ConfigURL)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var buf bytes.Buffer
	f, err := ParseFlags(fs, []string{}, &buf)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if f.ConfigPath != DefaultConfigPath || f.Port != DefaultPort || f.Quiet {
		t.Fatalf("unexpected defaults: %+v", f)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var buf bytes.Buffer
	f, err := ParseFlags(fs, []string{"--config", "/tmp/x.json", "--port", "9999", "--quiet"}, &buf)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if f.ConfigPath != "/tmp/x.json" || f.Port != 9999 || !f.Quiet {
		t.Fatalf("unexpected flags: %+v", f)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var buf bytes.Buffer
	if _, err := ParseFlags(fs, []string{"--help"}, &buf); err != flag.ErrHelp {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected usage text written to output")
	}
}
