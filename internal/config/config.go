// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	CRM      CRMConfig
	Import   ImportConfig
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// CRMConfig holds settings for the CRM REST endpoint.
type CRMConfig struct {
	// WebhookURL is the inbound webhook base URL, including the user id
	// and token segments (required)
	WebhookURL string `env:"BITRIX_WEBHOOK_URL" envAlt:"B24_WEBHOOK_URL" required:"true"`

	// RequestDelay is the pause inserted after each API call to stay
	// under the portal's rate limit (default: 1.5s)
	RequestDelay time.Duration `env:"CRM_REQUEST_DELAY" default:"1500ms"`

	// Timeout is the per-request HTTP timeout (default: 30s)
	Timeout time.Duration `env:"CRM_TIMEOUT" default:"30s"`
}

// ImportConfig holds settings for import runs.
type ImportConfig struct {
	// PrimaryEntity is the entity each row resolves to first (default: contact)
	PrimaryEntity string `env:"IMPORT_PRIMARY_ENTITY" default:"contact"`

	// DependentEntity is the entity created against the primary (default: deal)
	DependentEntity string `env:"IMPORT_DEPENDENT_ENTITY" default:"deal"`

	// LedgerDir is where run ledger CSV files are written (default: .)
	LedgerDir string `env:"IMPORT_LEDGER_DIR" default:"."`

	// MaxFileSize is the maximum accepted upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0,
	// unlimited, since a run can outlive any fixed window)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds settings for the optional Postgres ledger mirror.
// When URL is empty the mirror is disabled and runs write CSV only.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// MirrorEnabled reports whether a Postgres ledger mirror is configured.
func (c *DatabaseConfig) MirrorEnabled() bool {
	return c.URL != ""
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
