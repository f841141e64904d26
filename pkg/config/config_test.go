package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory store, got %s", cfg.Store.Driver)
	}
	if cfg.Dispatch.Timeout != 60*time.Second {
		t.Errorf("expected 60s timeout, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Dispatch.DefaultMaxTokens != 300 || cfg.Dispatch.DefaultTemperature != 0.7 {
		t.Errorf("unexpected sampling defaults %+v", cfg.Dispatch)
	}
	if cfg.Compose.TokenBudget != 2000 {
		t.Errorf("expected budget 2000, got %d", cfg.Compose.TokenBudget)
	}
	for _, id := range []string{"anthropic", "openai", "google", "ollama"} {
		if _, ok := cfg.Backends[id]; !ok {
			t.Errorf("expected default backend %s", id)
		}
	}
	if cfg.Backends["google"].Provider != "gemini" {
		t.Errorf("expected google backed by gemini, got %s", cfg.Backends["google"].Provider)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CONCLAVE_DISPATCH_MAX_CONCURRENCY", "4")
	t.Setenv("CONCLAVE_BACKENDS_OPENAI_API_KEY", "sk-test")
	t.Setenv("CONCLAVE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dispatch.MaxConcurrency != 4 {
		t.Errorf("expected max concurrency 4, got %d", cfg.Dispatch.MaxConcurrency)
	}
	if cfg.Backends["openai"].APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.Backends["openai"].APIKey)
	}
	if cfg.Backends["openai"].Model != "gpt-4o-mini" {
		t.Errorf("env must not clobber sibling keys, got model %q", cfg.Backends["openai"].Model)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Log.Level)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CONCLAVE_LOG_LEVEL":                   "log.level",
		"CONCLAVE_DISPATCH_DEFAULT_MAX_TOKENS": "dispatch.default_max_tokens",
		"CONCLAVE_BACKENDS_OLLAMA_BASE_URL":    "backends.ollama.base_url",
		"CONCLAVE_STANDALONE":                  "standalone",
	}
	for in, want := range tests {
		if got := EnvKey(in); got != want {
			t.Errorf("EnvKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadWithProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, `
dispatch:
  timeout: "30s"
  default_backend: "anthropic"
log:
  level: "info"
`)
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), `
dispatch:
  default_backend: "ollama"
log:
  level: "debug"
`)
	writeFile(t, filepath.Join(tmpDir, "config.prod.yaml"), `
dispatch:
  default_backend: "openai"
log:
  level: "warn"
`)

	tests := []struct {
		name        string
		profile     string
		wantBackend string
		wantLevel   string
	}{
		{"no profile - base only", "", "anthropic", "info"},
		{"dev profile", "dev", "ollama", "debug"},
		{"prod profile", "prod", "openai", "warn"},
		{"nonexistent profile - falls back to base", "staging", "anthropic", "info"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithProfile(basePath, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.Dispatch.DefaultBackend != tc.wantBackend {
				t.Errorf("backend: got %s, want %s", cfg.Dispatch.DefaultBackend, tc.wantBackend)
			}
			if cfg.Log.Level != tc.wantLevel {
				t.Errorf("log level: got %s, want %s", cfg.Log.Level, tc.wantLevel)
			}
			if cfg.Dispatch.Timeout != 30*time.Second {
				t.Errorf("timeout should be inherited from base, got %s", cfg.Dispatch.Timeout)
			}
		})
	}
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWithOverrides("", "", []string{"store.driver=sqlite", "compose.token_budget=500"})
	if err != nil {
		t.Fatalf("LoadWithOverrides failed: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Compose.TokenBudget != 500 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Store, cfg.Compose)
	}

	if _, err := LoadWithOverrides("", "", []string{"novalue"}); !cerrors.IsCode(err, cerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for malformed override, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
backends:
  mistral:
    provider: "mistral"
`)
	if _, err := Load(path); !cerrors.IsCode(err, cerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for unknown provider, got %v", err)
	}

	if _, err := LoadWithOverrides("", "", []string{"store.driver=postgres"}); !cerrors.IsCode(err, cerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for unknown driver, got %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSubagentToolServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
subagent:
  tools:
    socratic: [vault_search, skill_resource]
  tool_servers:
    vault:
      command: vault-mcp
      args: ["--root", "/notes"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Subagent.Tools["socratic"]; len(got) != 2 || got[0] != "vault_search" {
		t.Errorf("unexpected tools %v", got)
	}
	vault, ok := cfg.Subagent.ToolServers["vault"]
	if !ok || vault.Command != "vault-mcp" || len(vault.Args) != 2 {
		t.Errorf("unexpected tool server %+v", vault)
	}

	writeFile(t, path, `
subagent:
  tool_servers:
    broken:
      args: ["x"]
`)
	if _, err := Load(path); !cerrors.IsCode(err, cerrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for missing command, got %v", err)
	}
}
