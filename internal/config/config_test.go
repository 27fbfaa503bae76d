package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Mail.List != "dev" {
		t.Errorf("expected list 'dev', got %q", cfg.Mail.List)
	}
	if cfg.Mail.Domain != "kafka.apache.org" {
		t.Errorf("expected domain 'kafka.apache.org', got %q", cfg.Mail.Domain)
	}
	if cfg.Wiki.SpaceKey != "KAFKA" {
		t.Errorf("expected space key 'KAFKA', got %q", cfg.Wiki.SpaceKey)
	}
	if cfg.Wiki.Chunk != 100 {
		t.Errorf("expected chunk 100, got %d", cfg.Wiki.Chunk)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
mail:
  list: user
  days_back: 30
wiki:
  space_key: FLINK
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Mail.List != "user" {
		t.Errorf("expected list 'user', got %q", cfg.Mail.List)
	}
	if cfg.Mail.DaysBack != 30 {
		t.Errorf("expected days_back 30, got %d", cfg.Mail.DaysBack)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Mail.BaseURL != "https://lists.apache.org/api/mbox.lua" {
		t.Errorf("expected default base_url, got %q", cfg.Mail.BaseURL)
	}
	if cfg.Wiki.SpaceKey != "FLINK" {
		t.Errorf("expected space key 'FLINK', got %q", cfg.Wiki.SpaceKey)
	}
	if cfg.Wiki.MainPage != "Kafka Improvement Proposals" {
		t.Errorf("expected default main page, got %q", cfg.Wiki.MainPage)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Mail.List != "dev" {
		t.Errorf("expected list 'dev' from file, got %q", cfg.Mail.List)
	}
}

func TestGetCacheFile(t *testing.T) {
	cfg := &Config{}
	def := cfg.GetCacheFile()
	if filepath.Base(def) != "kip_mentions.csv" {
		t.Errorf("expected default cache file name, got %q", def)
	}

	cfg.Output.CacheFile = "/custom/mentions.csv"
	if cfg.GetCacheFile() != "/custom/mentions.csv" {
		t.Errorf("expected '/custom/mentions.csv', got %q", cfg.GetCacheFile())
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	if cfg.GetDataDir() == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}
