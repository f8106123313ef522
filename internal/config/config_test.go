package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxUsernameLength != 15 || cfg.MinUsernameLength != 3 {
		t.Fatalf("unexpected username bounds: %+v", cfg)
	}
	if time.Duration(cfg.TurnLength) != 10*time.Second {
		t.Fatalf("unexpected turn length: %v", time.Duration(cfg.TurnLength))
	}
	if cfg.MaxMessageSize != 100 {
		t.Fatalf("unexpected max message size: %d", cfg.MaxMessageSize)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("Load() of missing file = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	doc := `{"turnLength": 30, "coreConfig": {"gba": {"bios": "/roms/bios.bin"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if time.Duration(cfg.TurnLength) != 30*time.Second {
		t.Fatalf("turnLength = %v, want 30s", time.Duration(cfg.TurnLength))
	}
	if cfg.MaxUsernameLength != 15 {
		t.Fatalf("maxUsernameLength overridden unexpectedly: %d", cfg.MaxUsernameLength)
	}
	if v, ok := cfg.CoreSetting("gba", "bios"); !ok || v != "/roms/bios.bin" {
		t.Fatalf("CoreSetting(gba,bios) = %q,%v", v, ok)
	}
	if _, ok := cfg.CoreSetting("gba", "missing"); ok {
		t.Fatalf("CoreSetting(gba,missing) unexpectedly present")
	}
}
