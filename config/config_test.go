package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/panyam/coachauth"
)

// writeFile writes a temporary config file
func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

// chdir changes the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

const sampleYAML = `
env: "prod"
api:
  base_url: "https://api.coach.example"
  prefix: "/api/v2"
  timeout: "10s"
session:
  refresh_threshold: "2m"
  watchdog_interval: "15s"
  refresh_timeout: "5s"
  signin_path: "/signin"
  stale_while_refreshing: true
storage:
  driver: "redis"
  redis:
    addr: "localhost:6379"
    db: 2
log:
  level: "debug"
  format: "json"
`

const minimalYAML = `
api:
  base_url: "http://localhost:8080"
`

const brokenYAML = `
api:
  base_url: ["http://localhost:8080"
`

func TestLoad_WithExplicitPath_OK(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "https://api.coach.example", cfg.API.BaseURL)
	require.Equal(t, "/api/v2", cfg.API.Prefix)
	require.Equal(t, 10*time.Second, cfg.API.Timeout)
	require.Equal(t, 2*time.Minute, cfg.Session.RefreshThreshold)
	require.Equal(t, 15*time.Second, cfg.Session.WatchdogInterval)
	require.Equal(t, 5*time.Second, cfg.Session.RefreshTimeout)
	require.Equal(t, "/signin", cfg.Session.SignInPath)
	require.True(t, cfg.Session.StaleWhileRefreshing)
	require.Equal(t, DriverRedis, cfg.Storage.Driver)
	require.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	require.Equal(t, 2, cfg.Storage.Redis.DB)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, "local", cfg.Env)
	require.Equal(t, "/api/v1", cfg.API.Prefix)
	require.Equal(t, 5*time.Minute, cfg.Session.RefreshThreshold)
	require.Equal(t, 30*time.Second, cfg.Session.WatchdogInterval)
	require.Equal(t, 15*time.Second, cfg.Session.RefreshTimeout)
	require.Equal(t, "/login", cfg.Session.SignInPath)
	require.False(t, cfg.Session.StaleWhileRefreshing)
	require.Equal(t, DriverFile, cfg.Storage.Driver)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_WithExplicitPath_FileDoesNotExist(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Load(missing)
	require.Error(t, err)
	require.Contains(t, err.Error(), "config file does not exist")
}

func TestLoad_WithExplicitPath_BrokenYAML(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "broken.yaml", brokenYAML)

	_, err := Load(cfgPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_WithCONFIG_PATH_OK(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "from_env_path.yaml", minimalYAML)
	t.Setenv("CONFIG_PATH", cfgPath)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefaultFile, minimalYAML)
	chdir(t, dir)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
}

func TestLoad_EnvOnly(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("COACH_API_BASE_URL", "https://env.coach.example")
	t.Setenv("COACH_REFRESH_THRESHOLD", "1m")
	t.Setenv("COACH_STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://env.coach.example", cfg.API.BaseURL)
	require.Equal(t, time.Minute, cfg.Session.RefreshThreshold)
	require.Equal(t, DriverMemory, cfg.Storage.Driver)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", minimalYAML)
	t.Setenv("COACH_API_BASE_URL", "https://override.example")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "https://override.example", cfg.API.BaseURL)
}

func TestLoad_EnvOnly_MissingBaseURL(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("COACH_API_BASE_URL", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			API:     APIConfig{BaseURL: "https://api.example.com", Timeout: time.Second},
			Session: SessionConfig{RefreshThreshold: time.Minute, WatchdogInterval: time.Second, RefreshTimeout: time.Second},
			Storage: StorageConfig{Driver: DriverMemory},
			Log:     LogConfig{Level: "info", Format: "text"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }},
		{"ftp base url", func(c *Config) { c.API.BaseURL = "ftp://example.com" }},
		{"zero threshold", func(c *Config) { c.Session.RefreshThreshold = 0 }},
		{"zero interval", func(c *Config) { c.Session.WatchdogInterval = 0 }},
		{"zero refresh timeout", func(c *Config) { c.Session.RefreshTimeout = 0 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "floppy" }},
		{"sqlite without dsn", func(c *Config) { c.Storage.Driver = DriverSQLite }},
		{"redis without addr", func(c *Config) { c.Storage.Driver = DriverRedis }},
		{"datastore without project", func(c *Config) { c.Storage.Driver = DriverDatastore }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestValidate_BaseURLError(t *testing.T) {
	c := &Config{API: APIConfig{BaseURL: "not a url"}}
	err := c.Validate()
	require.True(t, errors.Is(err, coachauth.ErrInvalidBaseURL))
}

func TestSessionConfig(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	sc := cfg.SessionConfig()
	require.Equal(t, 2*time.Minute, sc.RefreshThreshold)
	require.Equal(t, 15*time.Second, sc.WatchdogInterval)
	require.Equal(t, 5*time.Second, sc.RefreshTimeout)
	require.Equal(t, "/signin", sc.SignInPath)
	require.True(t, sc.StaleWhileRefreshing)
}

func TestLogConfig_NewLogger(t *testing.T) {
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger()
	require.NotNil(t, logger)
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
