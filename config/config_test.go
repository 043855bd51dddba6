package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/config"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, ":8080", cfg.HTTP.Addr())
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Ingest.MaxFutureSkew)
	assert.Equal(t, 5*time.Second, cfg.Ingest.AppendTimeout)
	assert.Equal(t, 1024, cfg.Cache.SnapshotSize)
	assert.True(t, cfg.Integrity.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LEDGER_HTTP_PORT", "9090")
	t.Setenv("LEDGER_STORE_DRIVER", "Postgres")
	t.Setenv("LEDGER_STORE_DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_INGEST_APPEND_TIMEOUT", "250ms")
	t.Setenv("LEDGER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://ledger@localhost/ledger", cfg.Store.DatabaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.AppendTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoad_ConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
integrity:
  interval: 15m
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Integrity.Interval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_OverridesApplyBeforeValidate(t *testing.T) {
	// GIVEN: env settings the server could not start with
	chdir(t, t.TempDir())
	t.Setenv("LEDGER_HTTP_PORT", "0")
	t.Setenv("LEDGER_STORE_DRIVER", "postgres")

	// WHEN: the config is loaded
	cfg, err := config.Load("")

	// THEN: loading succeeds, and flag-style overrides make it valid
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	cfg.HTTP.Port = 3000
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLitePath = ":memory:"
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			HTTP:      config.HTTPConfig{Port: 8080},
			Store:     config.StoreConfig{Driver: config.DriverMemory},
			Ingest:    config.IngestConfig{AppendTimeout: time.Second},
			Integrity: config.IntegrityConfig{Enabled: true, Interval: time.Minute},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mongo" }},
		{"sqlite without path", func(c *config.Config) { c.Store.Driver = config.DriverSQLite }},
		{"postgres without url", func(c *config.Config) { c.Store.Driver = config.DriverPostgres }},
		{"bad port", func(c *config.Config) { c.HTTP.Port = 0 }},
		{"zero timeout", func(c *config.Config) { c.Ingest.AppendTimeout = 0 }},
		{"zero interval", func(c *config.Config) { c.Integrity.Interval = 0 }},
	}

	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(old)) })
}
