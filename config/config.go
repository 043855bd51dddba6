// Package config loads server settings from LEDGER_* environment variables
// and an optional config file, via viper. Environment variables win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env       string // development -> console logs; anything else -> JSON
	LogLevel  string
	HTTP      HTTPConfig
	Store     StoreConfig
	Ingest    IngestConfig
	Cache     CacheConfig
	Integrity IntegrityConfig
}

type HTTPConfig struct {
	Port           int
	AllowedOrigins []string
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	MaxConns    int
}

type IngestConfig struct {
	MaxFutureSkew time.Duration
	AppendTimeout time.Duration
}

type CacheConfig struct {
	SnapshotSize int
}

type IntegrityConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads configuration. path may be empty; a missing default file is
// not an error, a missing explicit one is. The result is not validated:
// callers apply their overrides first, then call Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ledger")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Env:      v.GetString("env"),
		LogLevel: v.GetString("log_level"),
		HTTP: HTTPConfig{
			Port:           v.GetInt("http.port"),
			AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins")),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			SQLitePath:  v.GetString("store.sqlite_path"),
			DatabaseURL: v.GetString("store.database_url"),
			MaxConns:    v.GetInt("store.max_conns"),
		},
		Ingest: IngestConfig{
			MaxFutureSkew: v.GetDuration("ingest.max_future_skew"),
			AppendTimeout: v.GetDuration("ingest.append_timeout"),
		},
		Cache: CacheConfig{
			SnapshotSize: v.GetInt("cache.snapshot_size"),
		},
		Integrity: IntegrityConfig{
			Enabled:  v.GetBool("integrity.enabled"),
			Interval: v.GetDuration("integrity.interval"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("http.port", 8080)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/ledger.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 25)
	v.SetDefault("ingest.max_future_skew", 24*time.Hour)
	v.SetDefault("ingest.append_timeout", 5*time.Second)
	v.SetDefault("cache.snapshot_size", 1024)
	v.SetDefault("integrity.enabled", true)
	v.SetDefault("integrity.interval", time.Hour)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for driver %q", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want memory, sqlite or postgres)", c.Store.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Ingest.AppendTimeout <= 0 {
		return fmt.Errorf("ingest.append_timeout must be positive")
	}
	if c.Ingest.MaxFutureSkew < 0 {
		return fmt.Errorf("ingest.max_future_skew must not be negative")
	}
	if c.Integrity.Enabled && c.Integrity.Interval <= 0 {
		return fmt.Errorf("integrity.interval must be positive when integrity checks are enabled")
	}
	return nil
}

// splitList accepts both list values and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
