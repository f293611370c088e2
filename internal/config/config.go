// Package config provides the configuration schema, loader, and provider
// registry for the Parlance tool router.
package config

import (
	"log/slog"

	"github.com/avockley/parlance/internal/tool/legacy"
)

// LogLevel controls log verbosity for the Parlance server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the corresponding slog level. Unrecognised or empty
// values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for Parlance.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Legacy    LegacyConfig    `yaml:"legacy"`
	Flags     FlagsConfig     `yaml:"flags"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Tools     []ToolConfig    `yaml:"tools"`
}

// ServerConfig holds network and logging settings for the Parlance server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// external dependency. Each field selects a named provider registered in
// the [Registry].
type ProvidersConfig struct {
	// LLM is the reasoning backend used by the ambiguity classifier and
	// the answer synthesizer.
	LLM ProviderEntry `yaml:"llm"`

	// Places is the structured place-search backend.
	Places ProviderEntry `yaml:"places"`

	// WebSearch is the general local-search backend fused with Places.
	WebSearch ProviderEntry `yaml:"websearch"`

	// LLMFallback is an optional secondary reasoning backend. When set, it
	// is tried whenever LLM fails or its circuit breaker is open.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "places").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// LegacyConfig describes how to reach the pre-migration monolith over MCP.
type LegacyConfig struct {
	// Transport specifies the connection mechanism.
	Transport legacy.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "streamable-http"
	// (e.g., "https://legacy.example.com/mcp"). Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// FlagsConfig selects where feature flag snapshots are persisted. When both
// fields are empty, flags live only in process memory and reset on restart.
type FlagsConfig struct {
	// Path is the YAML snapshot file. Used when PostgresDSN is empty.
	Path string `yaml:"path"`

	// PostgresDSN is the PostgreSQL connection string for shared flag
	// storage across operator tools. Takes precedence over Path.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// FusionConfig tunes the provider fan-out and the modular pipeline.
// Zero values fall back to built-in defaults.
type FusionConfig struct {
	// ProviderTimeoutMs bounds each search provider call.
	ProviderTimeoutMs int `yaml:"provider_timeout_ms"`

	// StageTimeoutMs bounds each pipeline stage (fusion rung, LLM call).
	StageTimeoutMs int `yaml:"stage_timeout_ms"`

	// MinReliable is the minimum count of reliable candidates before the
	// search radius stops widening.
	MinReliable int `yaml:"min_reliable"`

	// MinReviews is the review threshold for a phone-less candidate to
	// count as reliable.
	MinReviews int `yaml:"min_reviews"`

	// RadiusLadderM is the widening radius sequence in meters.
	RadiusLadderM []int `yaml:"radius_ladder_m"`

	// MaxResults caps the candidate count requested from each provider.
	MaxResults int `yaml:"max_results"`
}

// ToolConfig declares one tool exposed by the router.
type ToolConfig struct {
	// Name uniquely identifies the tool.
	Name string `yaml:"name"`

	// Description is shown to the upstream model that picks tools.
	Description string `yaml:"description"`

	// Category selects the migration rollout group
	// (location, travel, search, safety).
	Category string `yaml:"category"`
}
