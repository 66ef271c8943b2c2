package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.Home = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.Model.MaxIterations = 0 }},
		{"zero agent pool", func(c *Config) { c.Pools.Agent = 0 }},
		{"zero approval ttl", func(c *Config) { c.Approval.TTLMinutes = 0 }},
		{"brokers without topic", func(c *Config) { c.Kafka.Brokers = []string{"localhost:9092"} }},
		{"empty incident route", func(c *Config) {
			c.Incidents = map[string]IncidentRoute{"disk_full": {}}
		}},
		{"no profiles", func(c *Config) { c.Policy.Profiles = nil }},
		{"unknown default profile", func(c *Config) { c.Policy.DefaultProfile = "ghost" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("REMEDIAN_HOME", t.TempDir())
	t.Setenv("REMEDIAN_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.MaxIterations != DefaultConfig().Model.MaxIterations {
		t.Fatal("expected default model settings")
	}
	if cfg.Policy.DefaultProfile != "ops" {
		t.Fatalf("expected default profile ops, got %q", cfg.Policy.DefaultProfile)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	doc := map[string]any{
		"model": map[string]any{"name": "file-model", "maxIterations": 7},
	}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("REMEDIAN_CONFIG", path)
	t.Setenv("REMEDIAN_HOME", dir)
	t.Setenv("REMEDIAN_MODEL_MAX_ITERATIONS", "11")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.Name != "file-model" {
		t.Fatalf("file value lost: %q", cfg.Model.Name)
	}
	if cfg.Model.MaxIterations != 11 {
		t.Fatalf("env must override file, got %d", cfg.Model.MaxIterations)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REMEDIAN_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.Home = "/var/lib/remedian"
	if cfg.DatabasePath() != filepath.Join("/var/lib/remedian", "remedian.db") {
		t.Fatalf("unexpected db path: %s", cfg.DatabasePath())
	}
	cfg.Paths.DatabasePath = "/tmp/other.db"
	if cfg.DatabasePath() != "/tmp/other.db" {
		t.Fatal("explicit db path must win")
	}
	if cfg.PlaybookDir() != filepath.Join("/var/lib/remedian", "playbooks") {
		t.Fatalf("unexpected playbook dir: %s", cfg.PlaybookDir())
	}
}
