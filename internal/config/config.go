package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader. Secrets are taken
// from the environment in preference to the config file.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvBotToken      = "BOT_TOKEN"
	EnvWebhookSecret = "WEBHOOK_SECRET"
	EnvDBConnection  = "DB_CONNECTION"
	EnvRedisAddr     = "REDIS_ADDR"
)

// ErrMissingBotToken indicates no bot token is configured.
var ErrMissingBotToken = errors.New("missing bot token (set `bot-token` in config file or BOT_TOKEN)")

// ErrMissingDatabaseDSN indicates no database DSN is configured.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database.dsn` in config file or DB_CONNECTION)")

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	Path   string `yaml:"path"`   // Webhook route path.
	Secret string `yaml:"secret"` // Shared secret token, empty disables validation.
}

// RedisConfig holds shared counter store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // host:port, empty selects the in-process store.
	Password string `yaml:"password"` // Optional auth password.
	DB       int    `yaml:"db"`       // Logical database index.
	Prefix   string `yaml:"prefix"`   // Key namespace prefix.
}

// RateLimitConfig holds per-sender admission budget settings.
type RateLimitConfig struct {
	Capacity     int     `yaml:"capacity"`       // Token bucket capacity.
	RefillPerSec float64 `yaml:"refill-per-sec"` // Tokens refilled per second.
}

// ReferralConfig holds referral program settings.
type ReferralConfig struct {
	BonusAmount int    `yaml:"bonus"`     // Default referrer bonus.
	DailyCap    int    `yaml:"daily-cap"` // Max settled referrals per referrer per day.
	BotName     string `yaml:"bot-name"`  // Bot username used in deep links.
}

// Config is the resolved application configuration.
type Config struct {
	BotToken        string          `yaml:"bot-token"`
	Webhook         WebhookConfig   `yaml:"webhook"`
	DatabaseDSN     string          `yaml:"-"`
	Redis           RedisConfig     `yaml:"redis"`
	RateLimit       RateLimitConfig `yaml:"rate-limit"`
	Referral        ReferralConfig  `yaml:"referral"`
	DefaultLanguage string          `yaml:"default-language"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file, applies environment overrides and
// defaults, and validates the result. Invalid rate limit parameters are a
// startup failure, never a request-time one.
func Load(configPath string) (Config, error) {
	// fileConfig maps the YAML document, including legacy flat DSN keys.
	type fileConfig struct {
		Config   `yaml:",inline"`
		Database struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
		DatabaseDSN string `yaml:"database-dsn"`
	}

	var fc fileConfig
	data, errRead := os.ReadFile(ResolveConfigPath(configPath))
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &fc); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case os.IsNotExist(errRead):
		// Fully env-driven deployments run without a config file.
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	cfg := fc.Config
	cfg.DatabaseDSN = strings.TrimSpace(fc.Database.DSN)
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = strings.TrimSpace(fc.DatabaseDSN)
	}

	if token := strings.TrimSpace(os.Getenv(EnvBotToken)); token != "" {
		cfg.BotToken = token
	}
	if secret := strings.TrimSpace(os.Getenv(EnvWebhookSecret)); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}

	applyDefaults(&cfg)

	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Webhook.Path) == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = "factorybot"
	}
	if cfg.RateLimit.Capacity == 0 {
		cfg.RateLimit.Capacity = 30
	}
	if cfg.RateLimit.RefillPerSec == 0 {
		cfg.RateLimit.RefillPerSec = 30
	}
	if cfg.Referral.BonusAmount == 0 {
		cfg.Referral.BonusAmount = 50
	}
	if cfg.Referral.DailyCap == 0 {
		cfg.Referral.DailyCap = 100
	}
	if strings.TrimSpace(cfg.DefaultLanguage) == "" {
		cfg.DefaultLanguage = "ru"
	}
}

// Validate checks the configuration for startup-fatal errors.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return ErrMissingBotToken
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return ErrMissingDatabaseDSN
	}
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("invalid rate limit capacity: %d", c.RateLimit.Capacity)
	}
	if c.Referral.DailyCap < 0 {
		return fmt.Errorf("invalid referral daily cap: %d", c.Referral.DailyCap)
	}
	if c.Referral.BonusAmount < 0 {
		return fmt.Errorf("invalid referral bonus: %d", c.Referral.BonusAmount)
	}
	return nil
}
