package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	API      APIConfig
	Reads    ReadConfig
	Identity IdentityConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if _, err := c.API.ParsedBaseURL(); err != nil {
		return err
	}
	switch c.Identity.Backend {
	case IdentityBackendFile, IdentityBackendMemory:
	case IdentityBackendRedis:
		if c.Redis.URL == "" && c.Redis.Address == "" {
			return fmt.Errorf("either %s or %s is required for the redis identity backend", EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unknown identity backend %q", c.Identity.Backend)
	}
	if c.Reads.Retries < 0 {
		return fmt.Errorf("%s must not be negative", EnvReadRetries)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type APIConfig struct {
	BaseURL     string        `envconfig:"STOREFRONT_API_BASE_URL" default:"http://localhost:8000"`
	Timeout     time.Duration `envconfig:"STOREFRONT_API_TIMEOUT" default:"15s"`
	AuthTimeout time.Duration `envconfig:"STOREFRONT_AUTH_TIMEOUT" default:"8s"`
}

// ParsedBaseURL returns the API base URL, falling back to the local default when unset.
func (a APIConfig) ParsedBaseURL() (*url.URL, error) {
	raw := strings.TrimSpace(a.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvAPIBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s must be an http(s) url, got %q", EnvAPIBaseURL, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s is missing a host", EnvAPIBaseURL)
	}
	return u, nil
}

type ReadConfig struct {
	DedupWindow time.Duration `envconfig:"STOREFRONT_READ_DEDUP_WINDOW" default:"2s"`
	Retries     int           `envconfig:"STOREFRONT_READ_RETRIES" default:"3"`
	RetryDelay  time.Duration `envconfig:"STOREFRONT_READ_RETRY_DELAY" default:"500ms"`
}

type IdentityConfig struct {
	Backend       string `envconfig:"STOREFRONT_IDENTITY_BACKEND" default:"file"`
	File          string `envconfig:"STOREFRONT_IDENTITY_FILE"`
	Profile       string `envconfig:"STOREFRONT_IDENTITY_PROFILE" default:"default"`
	SessionPrefix string `envconfig:"STOREFRONT_SESSION_PREFIX" default:"guest"`
}

// FilePath returns the profile file, defaulting to ~/.storefront/<profile>.json.
func (i IdentityConfig) FilePath() string {
	if strings.TrimSpace(i.File) != "" {
		return i.File
	}
	profile := strings.TrimSpace(i.Profile)
	if profile == "" {
		profile = "default"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".storefront", profile+".json")
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"STOREFRONT_METRICS_ENABLED" default:"false"`
}
