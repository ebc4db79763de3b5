package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"llm": {"api_key": "k", "model": "gpt-test"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadConfig(path)
	if cfg.General.MaxSteps != 10 {
		t.Fatalf("expected default max_steps 10, got %d", cfg.General.MaxSteps)
	}
	if cfg.LLM.ContextWindow != 128000 {
		t.Fatalf("expected default context_window 128000, got %d", cfg.LLM.ContextWindow)
	}
	if cfg.Retrieval.DefaultHistory != 12 {
		t.Fatalf("expected default history 12, got %d", cfg.Retrieval.DefaultHistory)
	}
	if cfg.Cache.Dir == "" {
		t.Fatalf("cache dir should default to a tmp path")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config with key and model should validate: %v", err)
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.Model = "gpt-test"
	cfg.LLM.ContextWindow = 128000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error without api key")
	}
	cfg.LLM.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@db:5432/x?sslmode=disable"}
	dsn, err := p.DSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if dsn != p.URL {
		t.Fatalf("url should pass through, got %q", dsn)
	}

	p = PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "agent"}
	dsn, err = p.DSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	want := "postgres://u:p@db:5432/agent?sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}

	p = PostgresConfig{}
	if _, err := p.DSN(); err == nil {
		t.Fatalf("expected error for unconfigured postgres")
	}
}
