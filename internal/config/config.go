package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minSecretLength = 32

// TierConfig holds the window and cap for one rate-limit tier.
type TierConfig struct {
	Window time.Duration `mapstructure:"window"`
	Limit  int           `mapstructure:"limit"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	EdgeRPS      int    `mapstructure:"edge_rps"`
	EdgeBurst    int    `mapstructure:"edge_burst"`
	TrustedProxy bool   `mapstructure:"trusted_proxy"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	General     TierConfig `mapstructure:"general"`
	CrossTenant TierConfig `mapstructure:"cross_tenant"`
	Issuance    TierConfig `mapstructure:"issuance"`
}

type AuthConfig struct {
	Secret          string        `mapstructure:"secret"`
	BootstrapSecret string        `mapstructure:"bootstrap_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
}

type QueryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuditConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// Config is the full gateway configuration, loaded from gateway.yaml with
// FEDGW_* environment overrides.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Auth        AuthConfig      `mapstructure:"auth"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Query       QueryConfig     `mapstructure:"query"`
	Audit       AuditConfig     `mapstructure:"audit"`
}

// Production reports whether raw database errors must be suppressed in
// responses.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("gateway")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/federation-gateway")

	v.SetEnvPrefix("FEDGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("environment", "development")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.bootstrap_secret", "")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.edge_rps", 50)
	v.SetDefault("server.edge_burst", 100)
	v.SetDefault("server.trusted_proxy", false)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("rate_limit.general.window", 15*time.Minute)
	v.SetDefault("rate_limit.general.limit", 100)
	v.SetDefault("rate_limit.cross_tenant.window", time.Hour)
	v.SetDefault("rate_limit.cross_tenant.limit", 10)
	v.SetDefault("rate_limit.issuance.window", 15*time.Minute)
	v.SetDefault("rate_limit.issuance.limit", 5)
	v.SetDefault("query.timeout", 30*time.Second)
	v.SetDefault("audit.buffer_size", 256)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional; env vars and defaults carry a bare deploy.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants the rest of the service assumes.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	if len(strings.TrimSpace(c.Auth.Secret)) < minSecretLength {
		return fmt.Errorf("config: auth.secret must be at least %d characters", minSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if c.Query.Timeout <= 0 {
		return errors.New("config: query.timeout must be positive")
	}
	for _, tier := range []struct {
		name string
		t    TierConfig
	}{
		{"general", c.RateLimit.General},
		{"cross_tenant", c.RateLimit.CrossTenant},
		{"issuance", c.RateLimit.Issuance},
	} {
		if tier.t.Window <= 0 || tier.t.Limit <= 0 {
			return fmt.Errorf("config: rate_limit.%s window and limit must be positive", tier.name)
		}
	}
	return nil
}
