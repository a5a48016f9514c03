package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cache.TTL != 120*time.Second {
		t.Errorf("expected default cache TTL 120s, got %v", cfg.Cache.TTL)
	}
	if cfg.Recommend.ForYou.Experiment != "foryou_v1" {
		t.Errorf("unexpected experiment %q", cfg.Recommend.ForYou.Experiment)
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  port: 9000
cache:
  backend: redis
  ttl: 45s
recommend:
  continueWatching:
    eventWindow: 50
    finishedThreshold: 0.9
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("WZ_SERVER_PORT", "9100")
	t.Setenv("WZ_FORYOU_VARIANTS", "a,b,c")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env override not applied, port = %d", cfg.Server.Port)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 45*time.Second {
		t.Errorf("cache section not loaded: %+v", cfg.Cache)
	}
	if cfg.Recommend.ContinueWatching.EventWindow != 50 {
		t.Errorf("event window = %d", cfg.Recommend.ContinueWatching.EventWindow)
	}
	if cfg.Recommend.ContinueWatching.FinishedThreshold != 0.9 {
		t.Errorf("finished threshold = %v", cfg.Recommend.ContinueWatching.FinishedThreshold)
	}
	if got := cfg.Recommend.ForYou.Variants; len(got) != 3 || got[2] != "c" {
		t.Errorf("variants = %v", got)
	}
	// untouched sections keep defaults
	if cfg.Recommend.BecauseYouWatched.ResultLimit != 30 {
		t.Errorf("result limit = %d", cfg.Recommend.BecauseYouWatched.ResultLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"no variants", func(c *Config) { c.Recommend.ForYou.Variants = nil }},
		{"empty variant", func(c *Config) { c.Recommend.ForYou.Variants = []string{"control", ""} }},
		{"threshold above one", func(c *Config) { c.Recommend.ContinueWatching.FinishedThreshold = 1.5 }},
		{"unknown sink", func(c *Config) { c.Telemetry.Sink = "stdout" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
