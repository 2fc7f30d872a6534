package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Fatalf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.Tasks.SearchDebounce != 300*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.Tasks.SearchDebounce)
	}
	if cfg.Tasks.PageSize != 100 {
		t.Fatalf("page size = %d", cfg.Tasks.PageSize)
	}
}

func TestFromYAML_OverridesKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("api:\n  base_url: https://tasks.example.com/api\ntasks:\n  timezone: America/Sao_Paulo\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.API.BaseURL != "https://tasks.example.com/api" {
		t.Fatalf("base url = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Fatalf("timeout default lost: %v", cfg.API.Timeout)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "America/Sao_Paulo" {
		t.Fatalf("location = %v err=%v", loc, err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"scheme":   "api:\n  base_url: localhost:5000\n",
		"pagesize": "tasks:\n  page_size: 0\n",
		"timezone": "tasks:\n  timezone: Nowhere/Atlantis\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults, cfg=%v err=%v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load on missing file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "taskmate.yml"), []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("level = %q", cfg.Log.Level)
	}
}
