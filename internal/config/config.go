// Package config provides the configuration schema, loader, and provider
// registry for the VoiceCore server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the VoiceCore server.
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

// Level converts l to the corresponding [slog.Level]. Unknown or empty
// levels map to info.
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

// CacheBackend selects the storage layer behind the response cache.
type CacheBackend string

const (
	// BackendMemory keeps entries in an in-process LRU map.
	BackendMemory CacheBackend = "memory"

	// BackendRedis stores entries in Redis hashes so multiple instances
	// share one cache.
	BackendRedis CacheBackend = "redis"
)

// IsValid reports whether b is a recognised cache backend.
func (b CacheBackend) IsValid() bool {
	return b == BackendMemory || b == BackendRedis
}

// Duration wraps [time.Duration] with YAML decoding from strings like
// "30s" or "24h".
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML encodes the duration in Go string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for VoiceCore.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Session   SessionConfig   `yaml:"session"`
	Command   CommandConfig   `yaml:"command"`
}

// ServerConfig holds network and logging settings for the VoiceCore server.
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

// ProvidersConfig declares the primary speech vendor and an optional backup
// used for failover. A backup with an empty name means no failover target.
type ProvidersConfig struct {
	Primary ProviderEntry `yaml:"primary"`
	Backup  ProviderEntry `yaml:"backup"`
}

// ProviderEntry is the configuration block shared by all speech vendors.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered vendor adapter (e.g., "openai", "mock").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the vendor's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the vendor's default API endpoint.
	// Leave empty to use the vendor's built-in default.
	BaseURL string `yaml:"base_url"`

	// TTSModel selects the synthesis model (e.g., "gpt-4o-mini-tts").
	TTSModel string `yaml:"tts_model"`

	// STTModel selects the transcription model (e.g., "whisper-1").
	STTModel string `yaml:"stt_model"`

	// Voices maps persona names to vendor voice identifiers, overriding the
	// adapter's defaults (e.g., mitra: nova).
	Voices map[string]string `yaml:"voices"`

	// Options holds vendor-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// CacheConfig holds settings for the synthesized-response cache.
type CacheConfig struct {
	// Backend selects where entries are stored. Default: memory.
	Backend CacheBackend `yaml:"backend"`

	// TTL is how long an entry stays valid. Default: 24h.
	TTL Duration `yaml:"ttl"`

	// Capacity bounds the in-memory backend's stored payload size in MiB.
	// Ignored for Redis, which relies on maxmemory eviction. Default: 256.
	Capacity int `yaml:"capacity"`

	// CompressMin is the payload size in bytes above which entries are
	// stored gzip-compressed. Negative disables compression. Default: 4096.
	CompressMin int `yaml:"compress_min"`

	// Redis configures the connection when Backend is "redis".
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the cache backend.
type RedisConfig struct {
	// Addr is the host:port of the Redis server (e.g., "localhost:6379").
	Addr string `yaml:"addr"`

	// Password authenticates the connection. Empty means no auth.
	Password string `yaml:"password"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`
}

// LimiterConfig bounds concurrent and hourly vendor calls.
type LimiterConfig struct {
	// MaxConcurrent is the number of simultaneous vendor calls allowed.
	// Default: 10.
	MaxConcurrent int `yaml:"max_concurrent"`

	// QueueTimeout is how long a caller may wait for a slot before being
	// rejected with backpressure. Default: 30s.
	QueueTimeout Duration `yaml:"queue_timeout"`

	// TTSPerHour caps synthesis calls per identity per hour. Default: 100.
	TTSPerHour int `yaml:"tts_per_hour"`

	// STTPerHour caps recognition calls per identity per hour. Default: 200.
	STTPerHour int `yaml:"stt_per_hour"`
}

// SessionConfig holds per-session lifecycle settings.
type SessionConfig struct {
	// IdleTimeout is how long a session may go without inbound events
	// before being evicted. Default: 10m.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// DefaultAgent is the persona new sessions start with. Default: mitra.
	DefaultAgent string `yaml:"default_agent"`

	// DefaultLanguage is the BCP-47 tag new sessions start with.
	// Default: hi-IN.
	DefaultLanguage string `yaml:"default_language"`
}

// CommandConfig tunes voice command classification.
type CommandConfig struct {
	// ConfidenceThreshold is the minimum combined confidence for a
	// classified intent; lower scores degrade to unknown. Default: 0.3.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}
