package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime parameters for the server and client binaries.
type Config struct {
	HTTPAddress string          `mapstructure:"http_address"`
	DatabaseDSN string          `mapstructure:"database_dsn"`
	RedisAddr   string          `mapstructure:"redis_addr"`
	JWTSecret   string          `mapstructure:"jwt_secret"`
	LogLevel    string          `mapstructure:"log_level"`
	Reconnect   ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig is the client-side reconnect policy. The transport layer
// owns all retry timing; nothing above it imposes an extra timeout.
type ReconnectConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

const (
	defaultHTTPAddress = ":8080"
	defaultRedisAddr   = "localhost:6379"
	defaultLogLevel    = "info"

	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultMultiplier     = 2.0
	defaultJitterFraction = 0.2
	defaultMaxAttempts    = 10
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with SMARTNOTE_ and
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SMARTNOTE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("database_dsn", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("redis_addr", defaultRedisAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("reconnect.initial_backoff", defaultInitialBackoff.String())
	v.SetDefault("reconnect.max_backoff", defaultMaxBackoff.String())
	v.SetDefault("reconnect.multiplier", defaultMultiplier)
	v.SetDefault("reconnect.jitter_fraction", defaultJitterFraction)
	v.SetDefault("reconnect.max_attempts", defaultMaxAttempts)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for key, dst := range map[string]*time.Duration{
		"reconnect.initial_backoff": &cfg.Reconnect.InitialBackoff,
		"reconnect.max_backoff":     &cfg.Reconnect.MaxBackoff,
	} {
		dur, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = dur
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = defaultRedisAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Reconnect.Multiplier < 1 {
		cfg.Reconnect.Multiplier = defaultMultiplier
	}
	if cfg.Reconnect.JitterFraction < 0 || cfg.Reconnect.JitterFraction > 1 {
		cfg.Reconnect.JitterFraction = defaultJitterFraction
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect.MaxAttempts = defaultMaxAttempts
	}

	return cfg, nil
}
