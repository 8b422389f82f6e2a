// Package config loads the wallet layer configuration from YAML with
// sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mintmesh/wallet_layer/internal/settlement"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full wallet layer configuration.
type Config struct {
	Listen    string `yaml:"listen"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	Network   NetworkConfig  `yaml:"network"`
	Fees      FeesConfig     `yaml:"fees"`
	Session   SessionConfig  `yaml:"session"`
	Handoff   HandoffConfig  `yaml:"handoff"`
	Rewards   EndpointConfig `yaml:"rewards"`
	Ownership EndpointConfig `yaml:"ownership"`
	History   HistoryConfig  `yaml:"history"`
}

// NetworkConfig points the chain client at an RPC node.
type NetworkConfig struct {
	RPCURL  string   `yaml:"rpc_url"`
	Timeout Duration `yaml:"timeout"`
	// Reserve is the network-fee buffer kept on top of the price, in major
	// units ("0.01").
	Reserve  string `yaml:"reserve"`
	Decimals int    `yaml:"decimals"`
}

// ReserveMinorUnits parses the reserve into minor units.
func (n NetworkConfig) ReserveMinorUnits() (int64, error) {
	if n.Reserve == "" {
		return 0, nil
	}
	return settlement.ParseAmount(n.Reserve, n.Decimals)
}

// FeesConfig sets the settlement fee split.
type FeesConfig struct {
	PlatformBps     int    `yaml:"platform_bps"`
	RoyaltyBps      int    `yaml:"royalty_bps"`
	PlatformAccount string `yaml:"platform_account"`
}

// Rates converts the config into settlement rates.
func (f FeesConfig) Rates() settlement.Rates {
	return settlement.Rates{PlatformBps: int64(f.PlatformBps), RoyaltyBps: int64(f.RoyaltyBps)}
}

// SessionConfig tunes the connection state machine.
type SessionConfig struct {
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	SigningTimeout   Duration `yaml:"signing_timeout"`
	DeepLinkCallback string   `yaml:"deep_link_callback"`
}

// HandoffConfig selects where pending mobile handoffs are persisted.
type HandoffConfig struct {
	// Backend is "memory" or "redis".
	Backend       string   `yaml:"backend"`
	TTL           Duration `yaml:"ttl"`
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
}

// EndpointConfig points at one bookkeeping collaborator service.
type EndpointConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// HistoryConfig enables the Postgres settlement trail.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8090",
		LogLevel: "info",
		Network: NetworkConfig{
			RPCURL:   "http://127.0.0.1:20332",
			Timeout:  Duration(30 * time.Second),
			Reserve:  "0.01",
			Decimals: settlement.DefaultDecimals,
		},
		Fees: FeesConfig{
			PlatformBps: 200,
			RoyaltyBps:  250,
		},
		Session: SessionConfig{
			ConnectTimeout:   Duration(30 * time.Second),
			SigningTimeout:   Duration(30 * time.Second),
			DeepLinkCallback: "https://app.mintmesh.io/wallet/return",
		},
		Handoff: HandoffConfig{
			Backend: "memory",
			TTL:     Duration(5 * time.Minute),
		},
	}
}

// Load reads the configuration file at path over the defaults. A missing
// file is an error; use Default for config-less runs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Network.RPCURL == "" {
		return fmt.Errorf("network.rpc_url is required")
	}
	if c.Network.Decimals < 0 || c.Network.Decimals > 18 {
		return fmt.Errorf("network.decimals out of range: %d", c.Network.Decimals)
	}
	if _, err := c.Network.ReserveMinorUnits(); err != nil {
		return fmt.Errorf("network.reserve: %w", err)
	}
	if err := c.Fees.Rates().Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if c.Fees.PlatformAccount == "" {
		return fmt.Errorf("fees.platform_account is required")
	}

	switch c.Handoff.Backend {
	case "memory":
	case "redis":
		if c.Handoff.RedisAddr == "" {
			return fmt.Errorf("handoff.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("handoff.backend must be memory or redis, got %q", c.Handoff.Backend)
	}

	if c.History.Enabled && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required when history is enabled")
	}
	return nil
}
