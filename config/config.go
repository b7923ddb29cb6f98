// Package config loads coachauth client configuration from YAML and the environment
// with a predictable precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/panyam/coachauth"
)

// DefaultFile is read from the working directory when no path is given
const DefaultFile = "coachauth.yaml"

// Config is the root client configuration.
// Source precedence:
//  1. the path passed to Load / MustLoad;
//  2. the CONFIG_PATH environment variable;
//  3. ./coachauth.yaml in the working directory;
//  4. environment variables only.
//
// Environment variables override values read from a file.
type Config struct {
	Env     string        `yaml:"env" env:"COACH_ENV" env-default:"local"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// APIConfig locates the coaching backend
type APIConfig struct {
	BaseURL string        `yaml:"base_url" env:"COACH_API_BASE_URL" env-required:"true"`
	Prefix  string        `yaml:"prefix"   env:"COACH_API_PREFIX"   env-default:"/api/v1"`
	Timeout time.Duration `yaml:"timeout"  env:"COACH_API_TIMEOUT"  env-default:"30s"`
}

// SessionConfig tunes the token refresh policy
type SessionConfig struct {
	RefreshThreshold     time.Duration `yaml:"refresh_threshold"      env:"COACH_REFRESH_THRESHOLD"      env-default:"5m"`
	WatchdogInterval     time.Duration `yaml:"watchdog_interval"      env:"COACH_WATCHDOG_INTERVAL"      env-default:"30s"`
	RefreshTimeout       time.Duration `yaml:"refresh_timeout"        env:"COACH_REFRESH_TIMEOUT"        env-default:"15s"`
	SignInPath           string        `yaml:"signin_path"            env:"COACH_SIGNIN_PATH"            env-default:"/login"`
	StaleWhileRefreshing bool          `yaml:"stale_while_refreshing" env:"COACH_STALE_WHILE_REFRESHING" env-default:"false"`
}

// Storage drivers
const (
	DriverMemory    = "memory"
	DriverFile      = "file"
	DriverSQLite    = "sqlite"
	DriverRedis     = "redis"
	DriverDatastore = "datastore"
)

// StorageConfig selects where the session is persisted
type StorageConfig struct {
	Driver    string          `yaml:"driver"    env:"COACH_STORAGE_DRIVER"    env-default:"file"`
	Path      string          `yaml:"path"      env:"COACH_STORAGE_PATH"`
	DSN       string          `yaml:"dsn"       env:"COACH_STORAGE_DSN"`
	Namespace string          `yaml:"namespace" env:"COACH_STORAGE_NAMESPACE"`
	Redis     RedisConfig     `yaml:"redis"`
	Datastore DatastoreConfig `yaml:"datastore"`
}

// RedisConfig is used by the redis driver
type RedisConfig struct {
	Addr     string        `yaml:"addr"     env:"COACH_REDIS_ADDR"`
	Username string        `yaml:"username" env:"COACH_REDIS_USERNAME"`
	Password string        `yaml:"password" env:"COACH_REDIS_PASSWORD"`
	DB       int           `yaml:"db"       env:"COACH_REDIS_DB"     env-default:"0"`
	Prefix   string        `yaml:"prefix"   env:"COACH_REDIS_PREFIX" env-default:"coachauth:storage:"`
	TTL      time.Duration `yaml:"ttl"      env:"COACH_REDIS_TTL"`
}

// DatastoreConfig is used by the datastore driver
type DatastoreConfig struct {
	Project string `yaml:"project" env:"COACH_DATASTORE_PROJECT"`
	Scope   string `yaml:"scope"   env:"COACH_DATASTORE_SCOPE" env-default:"default"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level"  env:"COACH_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"COACH_LOG_FORMAT" env-default:"text"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"COACH_METRICS_ADDR"`
}

// MustLoad wraps Load and panics on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration in order of precedence:
// 1) explicit path; 2) CONFIG_PATH; 3) ./coachauth.yaml; 4) env.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", p)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}

	var (
		c   *Config
		err error
	)
	switch {
	case path != "":
		c, err = tryRead(path)
	case os.Getenv("CONFIG_PATH") != "":
		c, err = tryRead(os.Getenv("CONFIG_PATH"))
	default:
		if _, statErr := os.Stat(DefaultFile); statErr == nil {
			c, err = tryRead(DefaultFile)
		} else {
			if err := cleanenv.ReadEnv(&cfg); err != nil {
				return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, %s or env vars: %w", DefaultFile, err)
			}
			c = &cfg
		}
	}
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values cleanenv cannot
func (c *Config) Validate() error {
	if _, err := coachauth.ParseBaseURL(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must be >= 0")
	}
	if c.Session.RefreshThreshold <= 0 {
		return fmt.Errorf("session.refresh_threshold must be > 0")
	}
	if c.Session.WatchdogInterval <= 0 {
		return fmt.Errorf("session.watchdog_interval must be > 0")
	}
	if c.Session.RefreshTimeout <= 0 {
		return fmt.Errorf("session.refresh_timeout must be > 0")
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverFile:
	case DriverSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	case DriverDatastore:
		if c.Storage.Datastore.Project == "" {
			return fmt.Errorf("storage.datastore.project is required for the datastore driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// SessionConfig converts the session section into a coachauth.SessionConfig
func (c *Config) SessionConfig() *coachauth.SessionConfig {
	return &coachauth.SessionConfig{
		RefreshThreshold:     c.Session.RefreshThreshold,
		WatchdogInterval:     c.Session.WatchdogInterval,
		RefreshTimeout:       c.Session.RefreshTimeout,
		SignInPath:           c.Session.SignInPath,
		StaleWhileRefreshing: c.Session.StaleWhileRefreshing,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}

// NewLogger builds a slog.Logger writing to stderr
func (l LogConfig) NewLogger() *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
