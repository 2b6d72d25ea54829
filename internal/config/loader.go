package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/sarathi-ai/voicecore/internal/agent"
	"gopkg.in/yaml.v3"
)

// ValidVendorNames lists known speech vendor names. Used by [Validate] to
// warn about unrecognised names that may be typos.
var ValidVendorNames = []string{"openai", "mock"}

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

// LoadFromReader decodes a YAML config from r, validates the result, and
// fills in defaults for unset fields. Useful in tests where configs are
// constructed from string literals.
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
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = BackendMemory
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(24 * time.Hour)
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 256
	}
	if cfg.Cache.CompressMin == 0 {
		cfg.Cache.CompressMin = 4096
	}
	if cfg.Limiter.MaxConcurrent == 0 {
		cfg.Limiter.MaxConcurrent = 10
	}
	if cfg.Limiter.QueueTimeout == 0 {
		cfg.Limiter.QueueTimeout = Duration(30 * time.Second)
	}
	if cfg.Limiter.TTSPerHour == 0 {
		cfg.Limiter.TTSPerHour = 100
	}
	if cfg.Limiter.STTPerHour == 0 {
		cfg.Limiter.STTPerHour = 200
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = Duration(10 * time.Minute)
	}
	if cfg.Session.DefaultAgent == "" {
		cfg.Session.DefaultAgent = "mitra"
	}
	if cfg.Session.DefaultLanguage == "" {
		cfg.Session.DefaultLanguage = "hi-IN"
	}
	if cfg.Command.ConfidenceThreshold == 0 {
		cfg.Command.ConfidenceThreshold = 0.3
	}
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
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Providers
	if cfg.Providers.Primary.Name == "" {
		errs = append(errs, errors.New("providers.primary.name is required"))
	}
	validateVendorName("primary", cfg.Providers.Primary.Name)
	validateVendorName("backup", cfg.Providers.Backup.Name)
	if cfg.Providers.Backup.Name != "" && cfg.Providers.Backup.Name == cfg.Providers.Primary.Name &&
		cfg.Providers.Backup.BaseURL == cfg.Providers.Primary.BaseURL {
		slog.Warn("backup provider is identical to primary; failover will not add availability",
			"name", cfg.Providers.Primary.Name)
	}

	// Cache
	if cfg.Cache.Backend != "" && !cfg.Cache.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: memory, redis", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == BackendRedis && cfg.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("cache.redis.addr is required when cache.backend is redis"))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if cfg.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity must not be negative"))
	}

	// Limiter
	if cfg.Limiter.MaxConcurrent < 0 {
		errs = append(errs, errors.New("limiter.max_concurrent must not be negative"))
	}
	if cfg.Limiter.QueueTimeout < 0 {
		errs = append(errs, errors.New("limiter.queue_timeout must not be negative"))
	}
	if cfg.Limiter.TTSPerHour < 0 || cfg.Limiter.STTPerHour < 0 {
		errs = append(errs, errors.New("limiter rate caps must not be negative"))
	}

	// Session
	if cfg.Session.IdleTimeout < 0 {
		errs = append(errs, errors.New("session.idle_timeout must not be negative"))
	}
	if cfg.Session.DefaultAgent != "" && !agent.IsKnown(cfg.Session.DefaultAgent) {
		errs = append(errs, fmt.Errorf("session.default_agent %q is not a known persona", cfg.Session.DefaultAgent))
	}

	// Command
	if cfg.Command.ConfidenceThreshold < 0 || cfg.Command.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("command.confidence_threshold %.2f is out of range [0, 1]", cfg.Command.ConfidenceThreshold))
	}

	return errors.Join(errs...)
}

// validateVendorName logs a warning if name is non-empty and not found in
// [ValidVendorNames].
func validateVendorName(role, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidVendorNames, name) {
		return
	}
	slog.Warn("unknown vendor name, may be a typo or third-party adapter",
		"role", role,
		"name", name,
		"known", ValidVendorNames,
	)
}
