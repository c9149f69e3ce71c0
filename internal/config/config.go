package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Chain      ChainConfig      `yaml:"chain"`
	GiftCard   GiftCardConfig   `yaml:"giftcard"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"` // default: [] (same-origin only when empty; ["*"] for dev)
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds the Postgres connection settings. An empty URL runs
// the service on in-memory stores, which is what the tests and local demos
// use.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ChainConfig configures the on-chain balance oracle and crypto rail. An
// empty RPC URL disables both.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	TokenContract string `yaml:"token_contract"`
}

// GiftCardConfig configures the gift card reseller rail. Empty credentials
// disable the rail.
type GiftCardConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AuthURL      string        `yaml:"auth_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ReconcilerConfig controls the background sweep over pending transactions.
type ReconcilerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	PendingTimeout time.Duration `yaml:"pending_timeout"`
}

type RateLimitConfig struct {
	Default int           `yaml:"default"`
	Window  time.Duration `yaml:"window"`
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		GiftCard: GiftCardConfig{
			BaseURL: "https://giftcards.reloadly.com",
			Timeout: 30 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			Interval:       15 * time.Second,
			PendingTimeout: 15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Default: 60,
			Window:  time.Minute,
		},
	}
}

func expandEnvVars(s string) string {
	return os.ExpandEnv(s)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTPAY_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("AGENTPAY_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AGENTPAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AGENTPAY_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("AGENTPAY_GIFTCARD_CLIENT_ID"); v != "" {
		cfg.GiftCard.ClientID = v
	}
	if v := os.Getenv("AGENTPAY_GIFTCARD_CLIENT_SECRET"); v != "" {
		cfg.GiftCard.ClientSecret = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.Chain.RPCURL != "" && c.Chain.TokenContract == "" {
		return fmt.Errorf("chain token_contract is required when rpc_url is set")
	}
	if c.GiftCard.ClientID != "" && c.GiftCard.ClientSecret == "" {
		return fmt.Errorf("giftcard client_secret is required when client_id is set")
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler interval must be positive")
	}
	if c.Reconciler.PendingTimeout < 0 {
		return fmt.Errorf("reconciler pending timeout must not be negative")
	}
	if c.RateLimit.Default < 0 {
		return fmt.Errorf("rate limit default must not be negative")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) MigrationsSource() string {
	return "file://migrations"
}

func (c *Config) DatabaseURLForMigrate() string {
	url := c.Database.URL
	if !strings.Contains(url, "sslmode=") {
		if strings.Contains(url, "?") {
			url += "&sslmode=disable"
		} else {
			url += "?sslmode=disable"
		}
	}
	return url
}
