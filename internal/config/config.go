// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LIBRARY_STORE_BACKEND.
const EnvPrefix = "LIBRARY"

const (
	BackendEtcd     = "etcd"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	DriverPGX  = "pgx"
	DriverSQLX = "sqlx"
)

// Config holds all configuration for our application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	NodeID       string `mapstructure:"node_id"`
	LogLevel     string `mapstructure:"log_level"`
	TraceExport  bool   `mapstructure:"trace_export"`
	StoreBackend string `mapstructure:"store_backend"`

	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout   time.Duration `mapstructure:"etcd_timeout"`
	EtcdPrefix    string        `mapstructure:"etcd_prefix"`
	EtcdBookDir   string        `mapstructure:"etcd_book_dir"`

	// MemoryBookIDs seeds the in-memory catalog.
	MemoryBookIDs []string `mapstructure:"memory_book_ids"`

	PostgresDSN    string `mapstructure:"postgres_dsn"`
	PostgresDriver string `mapstructure:"postgres_driver"`

	HttpListenAddr     string   `mapstructure:"http_listen_addr"`
	GrpcListenAddr     string   `mapstructure:"grpc_listen_addr"`
	CorsAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	StoreTimeout        time.Duration `mapstructure:"store_timeout"`
	PageSize            int           `mapstructure:"page_size"`
	CatalogPrecheck     bool          `mapstructure:"catalog_precheck"`
	HealthProbeInterval time.Duration `mapstructure:"health_probe_interval"`

	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl"`
	AuditSchedule     string        `mapstructure:"audit_schedule"`
	AuditTimeout      time.Duration `mapstructure:"audit_timeout"`

	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("trace_export", true)
	v.SetDefault("store_backend", BackendEtcd)

	v.SetDefault("etcd_endpoints", []string{"127.0.0.1:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("etcd_prefix", "/library/reservations/")
	v.SetDefault("etcd_book_dir", "/library/books/")

	v.SetDefault("memory_book_ids", []string{})

	v.SetDefault("postgres_dsn", "")
	v.SetDefault("postgres_driver", DriverPGX)

	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("grpc_listen_addr", ":9090")
	v.SetDefault("cors_allowed_origins", []string{"http://localhost:3000", "http://localhost:8000"})

	v.SetDefault("store_timeout", "3s")
	v.SetDefault("page_size", 25)
	v.SetDefault("catalog_precheck", true)
	v.SetDefault("health_probe_interval", "10s")

	v.SetDefault("leader_election_ttl", "10s")
	v.SetDefault("audit_schedule", "*/30 * * * * *")
	v.SetDefault("audit_timeout", "25s")

	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay", "50ms")
}

// Load loads configuration from ./configs/config.yaml or ./config.yaml and environment variables.
func Load() (*Config, error) {
	return LoadFrom("./configs", ".")
}

// LoadFrom is Load with explicit search paths for the config file.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and env vars are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return errors.New("etcd_endpoints must not be empty for the etcd backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres_dsn is required for the postgres backend")
		}
		if c.PostgresDriver != DriverPGX && c.PostgresDriver != DriverSQLX {
			return fmt.Errorf("postgres_driver must be %q or %q, got %q", DriverPGX, DriverSQLX, c.PostgresDriver)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store_backend must be one of etcd, postgres, memory, got %q", c.StoreBackend)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry_max_attempts must be positive, got %d", c.RetryMaxAttempts)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store_timeout must be positive, got %s", c.StoreTimeout)
	}
	if c.HealthProbeInterval <= 0 {
		return fmt.Errorf("health_probe_interval must be positive, got %s", c.HealthProbeInterval)
	}
	return nil
}
