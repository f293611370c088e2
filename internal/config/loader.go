package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/avockley/parlance/internal/tool"
	"github.com/avockley/parlance/internal/tool/legacy"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"places":    {"places"},
	"websearch": {"websearch"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("places", cfg.Providers.Places.Name)
	validateProviderName("websearch", cfg.Providers.WebSearch.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; ambiguity detection and answer synthesis will be unavailable on the modular path")
	}
	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm to be set"))
	}
	if cfg.Providers.Places.Name == "" && cfg.Providers.WebSearch.Name == "" {
		slog.Warn("no search provider configured; the modular path cannot produce candidates")
	}

	// Legacy monolith connection
	if cfg.Legacy.Transport != "" && !cfg.Legacy.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("legacy.transport %q is invalid; valid values: stdio, streamable-http", cfg.Legacy.Transport))
	}
	if cfg.Legacy.Transport == legacy.TransportStdio && cfg.Legacy.Command == "" {
		errs = append(errs, errors.New("legacy.command is required when transport is stdio"))
	}
	if cfg.Legacy.Transport == legacy.TransportStreamableHTTP && cfg.Legacy.URL == "" {
		errs = append(errs, errors.New("legacy.url is required when transport is streamable-http"))
	}

	// Flag persistence
	if cfg.Flags.Path != "" && cfg.Flags.PostgresDSN != "" {
		slog.Warn("both flags.path and flags.postgres_dsn are set; postgres takes precedence")
	}
	if cfg.Flags.Path == "" && cfg.Flags.PostgresDSN == "" {
		slog.Warn("no flag persistence configured; migration state resets on restart")
	}

	// Fusion tuning
	if cfg.Fusion.ProviderTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("fusion.provider_timeout_ms %d must not be negative", cfg.Fusion.ProviderTimeoutMs))
	}
	if cfg.Fusion.StageTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("fusion.stage_timeout_ms %d must not be negative", cfg.Fusion.StageTimeoutMs))
	}
	if cfg.Fusion.MinReliable < 0 {
		errs = append(errs, fmt.Errorf("fusion.min_reliable %d must not be negative", cfg.Fusion.MinReliable))
	}
	if cfg.Fusion.MinReviews < 0 {
		errs = append(errs, fmt.Errorf("fusion.min_reviews %d must not be negative", cfg.Fusion.MinReviews))
	}
	if cfg.Fusion.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("fusion.max_results %d must not be negative", cfg.Fusion.MaxResults))
	}
	for i, r := range cfg.Fusion.RadiusLadderM {
		if r <= 0 {
			errs = append(errs, fmt.Errorf("fusion.radius_ladder_m[%d] %d must be positive", i, r))
		}
		if i > 0 && r <= cfg.Fusion.RadiusLadderM[i-1] {
			errs = append(errs, fmt.Errorf("fusion.radius_ladder_m[%d] %d must be wider than the previous rung %d", i, r, cfg.Fusion.RadiusLadderM[i-1]))
		}
	}

	// Tool duplicate name detection
	toolNamesSeen := make(map[string]int, len(cfg.Tools))

	// Tools
	for i, t := range cfg.Tools {
		prefix := fmt.Sprintf("tools[%d]", i)
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := toolNamesSeen[t.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools[%d]", prefix, t.Name, prev))
			}
			toolNamesSeen[t.Name] = i
		}
		if t.Category == "" {
			errs = append(errs, fmt.Errorf("%s.category is required", prefix))
		} else if !tool.Category(t.Category).IsValid() {
			errs = append(errs, fmt.Errorf("%s.category %q is invalid; valid values: location, travel, search, safety", prefix, t.Category))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
