// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads engine configuration with koanf: built-in defaults,
// then an optional YAML file (plus profile overlay), then CONCLAVE_*
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONCLAVE_"

type Config struct {
	Log       LogConfig                `koanf:"log"`
	Telemetry TelemetryConfig          `koanf:"telemetry"`
	Store     StoreConfig              `koanf:"store"`
	Skills    SkillsConfig             `koanf:"skills"`
	Compose   ComposeConfig            `koanf:"compose"`
	Dispatch  DispatchConfig           `koanf:"dispatch"`
	Subagent  SubagentConfig           `koanf:"subagent"`
	Backends  map[string]BackendConfig `koanf:"backends"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled            bool   `koanf:"enabled"`
	Exporter           string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
	// PersonasFile seeds personas from YAML.
	PersonasFile string `koanf:"personas_file"`
}

type SkillsConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

type ComposeConfig struct {
	TokenBudget int    `koanf:"token_budget"`
	BasePrompt  string `koanf:"base_prompt"`
}

type DispatchConfig struct {
	Timeout            time.Duration `koanf:"timeout"`
	MaxConcurrency     int           `koanf:"max_concurrency"`
	DefaultBackend     string        `koanf:"default_backend"`
	DefaultMaxTokens   int           `koanf:"default_max_tokens"`
	DefaultTemperature float64       `koanf:"default_temperature"`
}

type SubagentConfig struct {
	Backend     string `koanf:"backend"`
	Model       string `koanf:"model"`
	TokenBudget int    `koanf:"token_budget"`
	MaxTurns    int    `koanf:"max_turns"`
	MaxTokens   int    `koanf:"max_tokens"`
	// Tools is the per-persona allow-list, keyed by persona id or name.
	Tools       map[string][]string         `koanf:"tools"`
	ToolServers map[string]ToolServerConfig `koanf:"tool_servers"`
}

// ToolServerConfig launches an external MCP server whose tools sub-agents
// may be allowed to call.
type ToolServerConfig struct {
	Command        string   `koanf:"command"`
	Args           []string `koanf:"args"`
	TimeoutSeconds int      `koanf:"timeout_seconds"`
	Retries        int      `koanf:"retries"`
}

// BackendConfig describes one backend id.
type BackendConfig struct {
	Provider string `koanf:"provider"` // anthropic, openai, gemini, ollama
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.enabled":              false,
	"telemetry.exporter":             "none",
	"telemetry.otlp_endpoint":        "localhost:4317",
	"telemetry.otlp_insecure":        true,
	"telemetry.otlp_timeout_seconds": 10,

	"store.driver": "memory",
	"store.dsn":    "conclave.db",

	"skills.dir":   "skills",
	"skills.watch": false,

	"compose.token_budget": 2000,

	"dispatch.timeout":             "60s",
	"dispatch.max_concurrency":     0,
	"dispatch.default_max_tokens":  300,
	"dispatch.default_temperature": 0.7,

	"subagent.backend":   "anthropic",
	"subagent.max_turns": 8,

	"backends.anthropic.provider": "anthropic",
	"backends.anthropic.model":    "claude-haiku-4-5-20251001",
	"backends.openai.provider":    "openai",
	"backends.openai.model":       "gpt-4o-mini",
	"backends.google.provider":    "gemini",
	"backends.google.model":       "gemini-2.0-flash",
	"backends.ollama.provider":    "ollama",
	"backends.ollama.model":       "llama3.1",
	"backends.ollama.base_url":    "http://localhost:11434",
}

// Load reads defaults, the YAML file at path (if any) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus an overlay file named config.<profile>.yaml
// next to path. A missing overlay is ignored.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOverrides(path, profile, nil)
}

// LoadWithOverrides applies key=value overrides after the environment.
func LoadWithOverrides(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, cerrors.New(cerrors.CodeInternal, "set default", err).WithContext("key", key)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, cerrors.New(cerrors.CodeInvalidInput, "load config file", err).WithContext("path", path)
		}
		if profile != "" {
			overlay := profilePath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, cerrors.New(cerrors.CodeInvalidInput, "load profile config", err).WithContext("path", overlay)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil); err != nil {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "load environment", err)
	}

	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, cerrors.InvalidInput("override must be key=value").WithContext("override", set)
		}
		if err := k.Set(key, strings.TrimSpace(value)); err != nil {
			return nil, cerrors.New(cerrors.CodeInvalidInput, "apply override", err).WithContext("override", set)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, cerrors.New(cerrors.CodeInvalidInput, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnvKey maps an environment variable to a config key. The first
// underscore separates the section, so CONCLAVE_DISPATCH_MAX_CONCURRENCY is
// dispatch.max_concurrency. Under backends the next segment is the backend
// id: CONCLAVE_BACKENDS_OPENAI_API_KEY is backends.openai.api_key.
func EnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	if section == "backends" {
		if id, field, ok := strings.Cut(rest, "_"); ok {
			return section + "." + id + "." + field
		}
	}
	return section + "." + rest
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return cerrors.InvalidInput("unknown store driver").WithContext("driver", c.Store.Driver)
	}
	if c.Dispatch.Timeout <= 0 {
		return cerrors.InvalidInput("dispatch timeout must be positive")
	}
	if c.Compose.TokenBudget < 0 {
		return cerrors.InvalidInput("compose token budget must not be negative")
	}
	for id, b := range c.Backends {
		switch b.Provider {
		case "anthropic", "openai", "gemini", "ollama":
		default:
			return cerrors.InvalidInput("unknown backend provider").
				WithContext("backend", id).
				WithContext("provider", b.Provider)
		}
	}
	for name, ts := range c.Subagent.ToolServers {
		if strings.TrimSpace(ts.Command) == "" {
			return cerrors.InvalidInput("tool server command is required").WithContext("server", name)
		}
	}
	return nil
}

func profilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}
