package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"charityledger/native/donation"
)

// Duration wraps time.Duration so it can be written as "30s" in TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// StorageConfig selects the key-value backend.
type StorageConfig struct {
	// Backend is one of leveldb, bolt or memory.
	Backend string `toml:"Backend" yaml:"backend"`
	Path    string `toml:"Path" yaml:"path"`
}

// GenesisAccount funds an address on first start.
type GenesisAccount struct {
	Address string `toml:"Address" yaml:"address"`
	Native  uint64 `toml:"Native" yaml:"native"`
	Loyalty uint64 `toml:"Loyalty" yaml:"loyalty"`
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	Secret    string `toml:"Secret" yaml:"secret"`
	SecretEnv string `toml:"SecretEnv" yaml:"secret_env"`
	Issuer    string `toml:"Issuer" yaml:"issuer"`
	Audience  string `toml:"Audience" yaml:"audience"`
}

// RateLimitConfig bounds per-caller request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// IdempotencyConfig configures the replay cache for mutating requests.
type IdempotencyConfig struct {
	Path string   `toml:"Path" yaml:"path"`
	TTL  Duration `toml:"TTL" yaml:"ttl"`
}

// IndexerConfig configures the event archive.
type IndexerConfig struct {
	// Driver is sqlite, postgres, or empty to disable archiving.
	Driver    string `toml:"Driver" yaml:"driver"`
	DSN       string `toml:"DSN" yaml:"dsn"`
	ExportDir string `toml:"ExportDir" yaml:"export_dir"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	Format     string `toml:"Format" yaml:"format"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	// AllowKeys are logged verbatim in addition to the built-in allowlist.
	AllowKeys []string `toml:"AllowKeys" yaml:"allow_keys"`
	// SecretKeys are masked in every log line in addition to the built-in list.
	SecretKeys []string `toml:"SecretKeys" yaml:"secret_keys"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	// ResourceAttributes uses the OTEL_RESOURCE_ATTRIBUTES syntax (k=v,k2=v2).
	ResourceAttributes string `toml:"ResourceAttributes" yaml:"resource_attributes"`
	// SampleRatio is the fraction of root traces kept; 0 keeps all.
	SampleRatio    float64  `toml:"SampleRatio" yaml:"sample_ratio"`
	MetricInterval Duration `toml:"MetricInterval" yaml:"metric_interval"`
}

// Config captures the runtime configuration for donationd.
type Config struct {
	Environment       string            `toml:"Environment" yaml:"environment"`
	ListenAddress     string            `toml:"ListenAddress" yaml:"listen"`
	DataDir           string            `toml:"DataDir" yaml:"data_dir"`
	ReadHeaderTimeout Duration          `toml:"ReadHeaderTimeout" yaml:"read_header_timeout"`
	WriteTimeout      Duration          `toml:"WriteTimeout" yaml:"write_timeout"`
	ShutdownTimeout   Duration          `toml:"ShutdownTimeout" yaml:"shutdown_timeout"`
	Owner             string            `toml:"Owner" yaml:"owner"`
	Service           donation.Params   `toml:"service" yaml:"service"`
	Genesis           []GenesisAccount  `toml:"genesis" yaml:"genesis"`
	Storage           StorageConfig     `toml:"storage" yaml:"storage"`
	Auth              AuthConfig        `toml:"auth" yaml:"auth"`
	RateLimit         RateLimitConfig   `toml:"rate_limit" yaml:"rate_limit"`
	Idempotency       IdempotencyConfig `toml:"idempotency" yaml:"idempotency"`
	Indexer           IndexerConfig     `toml:"indexer" yaml:"indexer"`
	Logging           LoggingConfig     `toml:"logging" yaml:"logging"`
	Telemetry         TelemetryConfig   `toml:"telemetry" yaml:"telemetry"`
}
