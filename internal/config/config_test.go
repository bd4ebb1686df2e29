package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, BackendEtcd, cfg.StoreBackend)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, 5*time.Second, cfg.EtcdTimeout)
	assert.Equal(t, 25, cfg.PageSize)
	assert.True(t, cfg.CatalogPrecheck)
	assert.Equal(t, "*/30 * * * * *", cfg.AuditSchedule)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryBaseDelay)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
store_backend: postgres
postgres_dsn: postgres://localhost/library
page_size: 10
catalog_precheck: false
`), 0o600))
	t.Setenv("LIBRARY_POSTGRES_DRIVER", "sqlx")
	t.Setenv("LIBRARY_STORE_TIMEOUT", "750ms")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "postgres://localhost/library", cfg.PostgresDSN)
	assert.Equal(t, DriverSQLX, cfg.PostgresDriver)
	assert.Equal(t, 10, cfg.PageSize)
	assert.False(t, cfg.CatalogPrecheck)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
}

func TestLoadRejectsZeroHealthProbeInterval(t *testing.T) {
	t.Setenv("LIBRARY_HEALTH_PROBE_INTERVAL", "0s")

	_, err := LoadFrom(t.TempDir())
	assert.ErrorContains(t, err, "health_probe_interval")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreBackend:     BackendMemory,
			PageSize:         25,
			RetryMaxAttempts: 1,
			StoreTimeout:     time.Second,

			HealthProbeInterval: 5 * time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "cassandra" }},
		{"etcd without endpoints", func(c *Config) { c.StoreBackend = BackendEtcd }},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = BackendPostgres; c.PostgresDriver = DriverPGX }},
		{"postgres with unknown driver", func(c *Config) {
			c.StoreBackend, c.PostgresDSN, c.PostgresDriver = BackendPostgres, "postgres://x", "odbc"
		}},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"zero retry attempts", func(c *Config) { c.RetryMaxAttempts = 0 }},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }},
		{"zero health probe interval", func(c *Config) { c.HealthProbeInterval = 0 }},
		{"negative health probe interval", func(c *Config) { c.HealthProbeInterval = -time.Second }},
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
