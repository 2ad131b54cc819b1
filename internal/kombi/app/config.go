package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/goccy/go-yaml"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	APIURL         string        // Backend base URL (default: http://localhost:8080/api)
	Store          string        // Session store, sqlite, redis or memory (default: sqlite)
	DatabaseFile   string        // SQLite file for the sqlite store (default: ./kombipay.db)
	RedisAddr      string        // Redis address for the redis store (default: localhost:6379)
	RedisKey       string        // Hash holding the session in redis (default: kombipay:session)
	HTTPTimeout    time.Duration // Per request timeout (default: 30s)
	RefreshTimeout time.Duration // Bound on a single token refresh (default: 15s)
	RefreshSkew    time.Duration // Proactive refresh window, 0 disables (default: 30s)
	Env            string        // Environment (dev, staging, prod) (default: dev)
	LogLevel       string        // Log level (debug, info, warn, error) (default: warn)
	LogFormat      string        // Log format (json, text) (default: text)
}

// fileConfig mirrors Config in the optional YAML file. Durations are strings
// so they accept the same forms as the environment.
type fileConfig struct {
	APIURL         string `yaml:"api_url"`
	Store          string `yaml:"store"`
	DatabaseFile   string `yaml:"database_file"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisKey       string `yaml:"redis_key"`
	HTTPTimeout    string `yaml:"http_timeout"`
	RefreshTimeout string `yaml:"refresh_timeout"`
	RefreshSkew    string `yaml:"refresh_skew"`
	Env            string `yaml:"env"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
}

func DefaultConfig() Config {
	return Config{
		APIURL:         "http://localhost:8080/api",
		Store:          StoreSQLite,
		DatabaseFile:   "kombipay.db",
		RedisAddr:      "localhost:6379",
		RedisKey:       "kombipay:session",
		HTTPTimeout:    30 * time.Second,
		RefreshTimeout: session.DefaultRefreshTimeout,
		RefreshSkew:    session.DefaultRefreshSkew,
		Env:            "dev",
		LogLevel:       "warn",
		LogFormat:      "text",
	}
}

// LoadConfig starts from the defaults, applies the YAML file named by
// KOMBIPAY_CONFIG when set, then the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("KOMBIPAY_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.APIURL = getEnvOrDefault("KOMBIPAY_API_URL", cfg.APIURL)
	cfg.Store = getEnvOrDefault("KOMBIPAY_STORE", cfg.Store)
	cfg.DatabaseFile = getEnvOrDefault("KOMBIPAY_DATABASE_FILE", cfg.DatabaseFile)
	cfg.RedisAddr = getEnvOrDefault("KOMBIPAY_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisKey = getEnvOrDefault("KOMBIPAY_REDIS_KEY", cfg.RedisKey)
	cfg.HTTPTimeout = getEnvDurationOrDefault("KOMBIPAY_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.RefreshTimeout = getEnvDurationOrDefault("KOMBIPAY_REFRESH_TIMEOUT", cfg.RefreshTimeout)
	cfg.RefreshSkew = getEnvDurationOrDefault("KOMBIPAY_REFRESH_SKEW", cfg.RefreshSkew)
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	setString(&c.APIURL, fc.APIURL)
	setString(&c.Store, fc.Store)
	setString(&c.DatabaseFile, fc.DatabaseFile)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisKey, fc.RedisKey)
	setString(&c.Env, fc.Env)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http_timeout", fc.HTTPTimeout, &c.HTTPTimeout},
		{"refresh_timeout", fc.RefreshTimeout, &c.RefreshTimeout},
		{"refresh_skew", fc.RefreshSkew, &c.RefreshSkew},
	} {
		if d.raw == "" {
			continue
		}
		v, ok := parseDuration(d.raw)
		if !ok {
			return fmt.Errorf("config: %s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = v
	}
	return nil
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("config: api url is required")
	}
	switch c.Store {
	case StoreSQLite:
		if c.DatabaseFile == "" {
			return fmt.Errorf("config: database file is required for the sqlite store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: redis address is required for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.RefreshSkew < 0 {
		return fmt.Errorf("config: refresh skew must not be negative")
	}
	return nil
}

// MockConfig configures the standalone mock backend.
type MockConfig struct {
	Port      int           // HTTP port (default: 8080)
	AccessTTL time.Duration // Access token lifetime (default: 15m)
	Secret    string        // HS256 secret, at least 32 bytes (default: random)
	Env       string
	LogLevel  string
	LogFormat string

	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadMockConfig() MockConfig {
	return MockConfig{
		Port:                getEnvIntOrDefault("MOCK_PORT", 8080),
		AccessTTL:           getEnvDurationOrDefault("MOCK_ACCESS_TTL", 15*time.Minute),
		Secret:              os.Getenv("MOCK_SECRET"),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, ok := parseDuration(value); ok {
		return d
	}
	return defaultValue
}

// parseDuration accepts Go durations ("90s", "1h") or whole seconds.
func parseDuration(value string) (time.Duration, bool) {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration, true
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, true
	}

	return 0, false
}
