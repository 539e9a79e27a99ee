package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Model string `yaml:"model"`
}

func (s *sample) Validate() error {
	if s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "memo")
	path := writeFile(t, "name: ${SAMPLE_NAME}\nmodel: ${SAMPLE_MODEL:-flash}\n")

	cfg := sample{Port: 8080}
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "memo" {
		t.Errorf("name = %q, want memo", cfg.Name)
	}
	if cfg.Model != "flash" {
		t.Errorf("model = %q, want fallback flash", cfg.Model)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, default should survive", cfg.Port)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	path := writeFile(t, "port: 0\n")
	cfg := sample{}
	if err := Load(path, &cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := sample{Port: 1}
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOptional_MissingFileUsesDefaults(t *testing.T) {
	cfg := sample{Port: 9000}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &cfg)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if found {
		t.Error("found should be false")
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d", cfg.Port)
	}
}

func TestExpand_SetValueWinsOverFallback(t *testing.T) {
	t.Setenv("SAMPLE_KEY", "set")
	if got := Expand("${SAMPLE_KEY:-other} $SAMPLE_KEY"); got != "set set" {
		t.Errorf("expand = %q", got)
	}
}
