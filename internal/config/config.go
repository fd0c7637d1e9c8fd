package config

import (
	"net"
	"strconv"
	"time"

	"github.com/docrewrite/docrewrite/internal/ailink"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Rewrite   RewriteConfig   `mapstructure:"rewrite"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Store     StoreConfig     `mapstructure:"store"`
	AILink    ailink.Config   `mapstructure:"ailink"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadBytes caps multipart document uploads.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig controls caller authentication.
//
// When disabled, callers are identified by client IP only.
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKeys   []string      `mapstructure:"api_keys"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// AdmissionConfig controls the per-caller sliding window.
type AdmissionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Limit         int           `mapstructure:"limit"`
	Window        time.Duration `mapstructure:"window"`
	Margin        float64       `mapstructure:"margin"`
	Backend       string        `mapstructure:"backend"` // memory|redis
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig is used when the admission backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RewriteConfig controls the two-pass pipeline.
type RewriteConfig struct {
	DefaultStyle       string              `mapstructure:"default_style"`
	BatchSize          int                 `mapstructure:"batch_size"`
	Temperature        float64             `mapstructure:"temperature"`
	CleanupTemperature float64             `mapstructure:"cleanup_temperature"`
	Retry              rewrite.RetryPolicy `mapstructure:"retry"`
}

// JobsConfig controls background job execution and retention.
type JobsConfig struct {
	Backend       string        `mapstructure:"backend"` // memory|libsql
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StoreConfig contains storage configuration for the libsql job backend.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
