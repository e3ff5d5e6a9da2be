package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"charityledger/crypto"
)

const testSecret = "0123456789abcdef0123"

func testAddress(last byte) string {
	var raw [20]byte
	raw[19] = last
	return crypto.FormatAddress(raw)
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `ListenAddress = "127.0.0.1:9090"
DataDir = "/var/lib/charity"
WriteTimeout = "20s"
Owner = "`+testAddress(0xEE)+`"

[service]
FeePercent = 5
FeeExemptionThreshold = 10
CancellationThreshold = 500
RewardPeriod = 3600
RewardAmount = 42

[[genesis]]
Address = "`+testAddress(1)+`"
Native = 1000
Loyalty = 20

[storage]
Backend = "bolt"

[auth]
Secret = "`+testSecret+`"

[indexer]
Driver = "sqlite"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9090" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.WriteTimeout.Duration != 20*time.Second {
		t.Fatalf("write timeout = %s", cfg.WriteTimeout)
	}
	if cfg.ReadHeaderTimeout.Duration != 5*time.Second {
		t.Fatalf("read header timeout default not applied: %s", cfg.ReadHeaderTimeout)
	}
	if cfg.Service.FeePercent != 5 || cfg.Service.RewardAmount != 42 {
		t.Fatalf("unexpected service params %+v", cfg.Service)
	}
	if cfg.Storage.Path != filepath.Join("/var/lib/charity", "ledger.db") {
		t.Fatalf("bolt path default = %q", cfg.Storage.Path)
	}
	if cfg.Indexer.DSN != filepath.Join("/var/lib/charity", "events.sqlite") {
		t.Fatalf("indexer dsn default = %q", cfg.Indexer.DSN)
	}
	balances, err := cfg.GenesisBalances()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if len(balances) != 1 || balances[0].Address[19] != 1 || balances[0].Native != 1000 {
		t.Fatalf("unexpected genesis %+v", balances)
	}
	owner, err := cfg.OwnerAddress()
	if err != nil || owner[19] != 0xEE {
		t.Fatalf("owner = %x, %v", owner, err)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `listen: ":7070"
owner: "`+testAddress(0xEE)+`"
shutdown_timeout: 3s
service:
  fee_percent: 2
  fee_exemption_threshold: 1
  cancellation_threshold: 1000
  reward_period: 60
  reward_amount: 7
auth:
  secret: "`+testSecret+`"
rate_limit:
  requests_per_second: 5
  burst: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7070" || cfg.ShutdownTimeout.Duration != 3*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Storage.Backend != "leveldb" {
		t.Fatalf("default backend = %q", cfg.Storage.Backend)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "config.toml", `ListenAddres = ":1"`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service != Default().Service {
		t.Fatalf("unexpected default params %+v", cfg.Service)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv("CHARITY_TEST_SECRET", testSecret)
	path := writeFile(t, "config.toml", `Owner = "`+testAddress(0xEE)+`"

[auth]
SecretEnv = "CHARITY_TEST_SECRET"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Secret != testSecret {
		t.Fatalf("secret not resolved from env")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Owner = testAddress(0xEE)
		cfg.Auth.Secret = testSecret
		applyDefaults(cfg)
		return cfg
	}
	if err := ValidateConfig(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"missing owner":   func(c *Config) { c.Owner = "" },
		"custody owner":   func(c *Config) { c.Owner = crypto.NewAddress(crypto.CustodyPrefix, make([]byte, 20)).String() },
		"fee over 100":    func(c *Config) { c.Service.FeePercent = 101 },
		"short secret":    func(c *Config) { c.Auth.Secret = "short" },
		"unknown backend": func(c *Config) { c.Storage.Backend = "redis" },
		"bad indexer":     func(c *Config) { c.Indexer.Driver = "mysql" },
		"postgres no dsn": func(c *Config) { c.Indexer.Driver = "postgres" },
		"negative rate":   func(c *Config) { c.RateLimit.RequestsPerSecond = -1 },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"duplicate genesis": func(c *Config) {
			c.Genesis = []GenesisAccount{{Address: testAddress(1)}, {Address: testAddress(1)}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
