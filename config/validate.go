package config

import (
	"fmt"
	"strings"

	"charityledger/crypto"
)

// MinSecretLength is the shortest HMAC secret accepted for bearer tokens.
var MinSecretLength = 16

// ValidateConfig rejects configurations the daemon cannot run with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: listen address required")
	}
	switch cfg.Storage.Backend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", cfg.Storage.Backend)
	}
	if _, err := cfg.OwnerAddress(); err != nil {
		return err
	}
	if err := cfg.Service.Validate(); err != nil {
		return fmt.Errorf("config: service: %w", err)
	}
	if _, err := cfg.GenesisBalances(); err != nil {
		return err
	}
	if len(cfg.Auth.Secret) < MinSecretLength {
		return fmt.Errorf("config: auth secret must be at least %d bytes (set %s)", MinSecretLength, cfg.Auth.SecretEnv)
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("config: telemetry.sample_ratio must be within [0, 1]")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("config: rate_limit.requests_per_second must not be negative")
	}
	switch cfg.Indexer.Driver {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Indexer.DSN) == "" {
			return fmt.Errorf("config: indexer dsn required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown indexer driver %q", cfg.Indexer.Driver)
	}
	return nil
}

// OwnerAddress decodes the service owner.
func (c *Config) OwnerAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Owner) == "" {
		return [20]byte{}, fmt.Errorf("config: owner address required")
	}
	owner, err := crypto.ParseAddress(strings.TrimSpace(c.Owner))
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: owner: %w", err)
	}
	return owner, nil
}

// Balance is a decoded genesis allocation.
type Balance struct {
	Address [20]byte
	Native  uint64
	Loyalty uint64
}

// GenesisBalances decodes the genesis allocations, rejecting duplicates.
func (c *Config) GenesisBalances() ([]Balance, error) {
	out := make([]Balance, 0, len(c.Genesis))
	seen := make(map[[20]byte]struct{}, len(c.Genesis))
	for i, acct := range c.Genesis {
		addr, err := crypto.ParseAddress(strings.TrimSpace(acct.Address))
		if err != nil {
			return nil, fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("config: genesis[%d]: duplicate address %s", i, acct.Address)
		}
		seen[addr] = struct{}{}
		out = append(out, Balance{Address: addr, Native: acct.Native, Loyalty: acct.Loyalty})
	}
	return out, nil
}
