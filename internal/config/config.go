package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the station analysis server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Station   StationConfig
	History   HistoryConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// DatabaseConfig is optional. An empty URL disables the analysis audit log.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

type RedisConfig struct {
	URL string
}

// NATSConfig is optional. An empty URL disables event publishing to NATS.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type StationConfig struct {
	BaseURL        string
	Username       string
	Password       string
	Timeout        time.Duration
	MaxWaitSeconds int
}

type HistoryConfig struct {
	Namespace string
}

type RateLimitConfig struct {
	PerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("BETELGEUS_PORT", 8080),
			Env:  envString("BETELGEUS_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: envString("NATS_SUBJECT_PREFIX", "station.events"),
		},
		Station: StationConfig{
			BaseURL:        strings.TrimRight(os.Getenv("STATION_API_BASE_URL"), "/"),
			Username:       os.Getenv("STATION_USERNAME"),
			Password:       os.Getenv("STATION_PASSWORD"),
			Timeout:        envDuration("STATION_TIMEOUT", 120*time.Second),
			MaxWaitSeconds: envInt("STATION_MAX_WAIT_SECS", 360),
		},
		History: HistoryConfig{
			Namespace: envString("HISTORY_NAMESPACE", "default"),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Station.BaseURL == "" {
		return fmt.Errorf("STATION_API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Station.BaseURL, "http://") && !strings.HasPrefix(c.Station.BaseURL, "https://") {
		return fmt.Errorf("STATION_API_BASE_URL must start with http:// or https://, got %q", c.Station.BaseURL)
	}
	if c.Station.Username == "" {
		return fmt.Errorf("STATION_USERNAME is required")
	}
	if c.Station.Password == "" {
		return fmt.Errorf("STATION_PASSWORD is required")
	}
	if c.Station.Timeout <= 0 {
		return fmt.Errorf("STATION_TIMEOUT must be positive, got %s", c.Station.Timeout)
	}
	if c.Station.MaxWaitSeconds <= 0 {
		return fmt.Errorf("STATION_MAX_WAIT_SECS must be positive, got %d", c.Station.MaxWaitSeconds)
	}

	if c.NATS.URL != "" && !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.NATS.URL)
	}

	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.PerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
