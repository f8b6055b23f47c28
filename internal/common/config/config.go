package config

import (
	"os"
	"regexp"
	"time"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration for the realtime client layer
	Config struct {
		Logger   LoggerConfig   `yaml:"logger"`
		Realtime RealtimeConfig `yaml:"realtime"`
		Cache    CacheConfig    `yaml:"cache"`
		Metrics  MetricsConfig  `yaml:"metrics"`
	}

	// RealtimeConfig describes the push/REST endpoints and per-session policy
	RealtimeConfig struct {
		// BaseURL is the shared origin for both the websocket and REST endpoints,
		// e.g. "https://portal.example.com"
		BaseURL string `yaml:"base_url"`
		// Namespaces lists the logical channels to open, one session each
		Namespaces []string      `yaml:"namespaces"`
		PageLimit  int           `yaml:"page_limit"`
		Session    SessionConfig `yaml:"session"`
	}

	// SessionConfig bounds the connect and reconnect behaviour of one session
	SessionConfig struct {
		ConnectTimeout       time.Duration `yaml:"connect_timeout"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		BackoffInterval      time.Duration `yaml:"backoff_interval"`
		MaxBackoffInterval   time.Duration `yaml:"max_backoff_interval"`
	}

	// CacheConfig configures the signed-URL resolver
	CacheConfig struct {
		TTL time.Duration `yaml:"ttl"`
		// RefreshMargin is the fraction of the TTL after which a background
		// refresh is scheduled, e.g. 0.9 refreshes at 90% of the TTL
		RefreshMargin float64 `yaml:"refresh_margin"`
	}

	// MetricsConfig configures the prometheus instruments
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// MockPushConfig is the root configuration for the mock push server
	MockPushConfig struct {
		Port      int           `yaml:"port"`
		JWTSecret string        `yaml:"jwt_secret"`
		Logger    LoggerConfig  `yaml:"logger"`
		Metrics   MetricsConfig `yaml:"metrics"`
		Redis     RedisConfig   `yaml:"redis"`
	}

	// RedisConfig configures the optional cross-instance fanout stream
	RedisConfig struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
	}
)

type Type interface {
	Config | MockPushConfig
}

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig[T Type](filename string) (*T, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	if clientCfg, ok := any(&cfg).(*Config); ok {
		clientCfg.Realtime.SetDefaults()
		clientCfg.Cache.SetDefaults()
	}

	return &cfg, cfgPath, nil
}

// SetDefaults fills in zero values with the documented defaults
func (c *RealtimeConfig) SetDefaults() {
	if c.PageLimit <= 0 {
		c.PageLimit = cnst.DefaultPageLimit
	}
	c.Session.SetDefaults()
}

// SetDefaults fills in zero values with the documented defaults
func (c *SessionConfig) SetDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = 2 * time.Second
	}
	if c.MaxBackoffInterval <= 0 {
		c.MaxBackoffInterval = 30 * time.Second
	}
}

// SetDefaults fills in zero values with the documented defaults
func (c *CacheConfig) SetDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.RefreshMargin <= 0 || c.RefreshMargin >= 1 {
		c.RefreshMargin = 0.9
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
