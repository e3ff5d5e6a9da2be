package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"charityledger/native/donation"
)

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		Environment:       "local",
		ListenAddress:     ":8080",
		DataDir:           "./charity-data",
		ReadHeaderTimeout: Duration{5 * time.Second},
		WriteTimeout:      Duration{15 * time.Second},
		ShutdownTimeout:   Duration{10 * time.Second},
		Service:           donation.DefaultParams(),
		Genesis:           []GenesisAccount{},
		Storage:           StorageConfig{Backend: "leveldb"},
		Auth:              AuthConfig{SecretEnv: "CHARITY_JWT_SECRET", Issuer: "charityledger"},
		RateLimit:         RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Idempotency:       IdempotencyConfig{TTL: Duration{24 * time.Hour}},
		Logging:           LoggingConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

// Load reads the configuration at path. TOML is the default format; files
// ending in .yaml or .yml are decoded as YAML. A missing file is created with
// the defaults in TOML form.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}

	applyDefaults(cfg)
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// createDefault creates and saves a default configuration file. The JWT
// secret is left to the environment.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = defaults.Environment
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaults.ListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.ReadHeaderTimeout.Duration <= 0 {
		cfg.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if cfg.WriteTimeout.Duration <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		switch cfg.Storage.Backend {
		case "bolt":
			cfg.Storage.Path = filepath.Join(cfg.DataDir, "ledger.db")
		default:
			cfg.Storage.Path = filepath.Join(cfg.DataDir, "ledger")
		}
	}
	if strings.TrimSpace(cfg.Idempotency.Path) == "" {
		cfg.Idempotency.Path = filepath.Join(cfg.DataDir, "idempotency.sqlite")
	}
	if cfg.Idempotency.TTL.Duration <= 0 {
		cfg.Idempotency.TTL = defaults.Idempotency.TTL
	}
	if cfg.RateLimit.RequestsPerSecond == 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	if cfg.Indexer.Driver == "sqlite" && strings.TrimSpace(cfg.Indexer.DSN) == "" {
		cfg.Indexer.DSN = filepath.Join(cfg.DataDir, "events.sqlite")
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = defaults.Auth.Issuer
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if strings.TrimSpace(cfg.Logging.Format) == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []GenesisAccount{}
	}
}

// resolveSecrets reads the JWT secret from the environment when the file
// names a variable instead of the value.
func (c *Config) resolveSecrets() error {
	if strings.TrimSpace(c.Auth.Secret) != "" {
		return nil
	}
	env := strings.TrimSpace(c.Auth.SecretEnv)
	if env == "" {
		return nil
	}
	c.Auth.Secret = strings.TrimSpace(os.Getenv(env))
	return nil
}
