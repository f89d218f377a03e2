// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the whole service configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Log            LogConfig            `yaml:"log"`
	CORS           CORSConfig           `yaml:"cors"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
}

type ServerConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	ReadTimeout        time.Duration `yaml:"-"`
	WriteTimeout       time.Duration `yaml:"-"`
	IdleTimeout        time.Duration `yaml:"-"`
	ShutdownTimeout    time.Duration `yaml:"-"`
	ReadTimeoutRaw     string        `yaml:"read_timeout"`
	WriteTimeoutRaw    string        `yaml:"write_timeout"`
	IdleTimeoutRaw     string        `yaml:"idle_timeout"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the store. Path is used by sqlite,
// the connection fields by postgres.
type DatabaseConfig struct {
	Driver             string        `yaml:"driver"`
	Path               string        `yaml:"path"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ReconciliationConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`
}

// Default returns a configuration that runs against a local SQLite file.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:         ":8080",
			ReadTimeoutRaw:     "15s",
			WriteTimeoutRaw:    "15s",
			IdleTimeoutRaw:     "60s",
			ShutdownTimeoutRaw: "30s",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "leave.db",
		},
		Log: LogConfig{Level: "info"},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Reconciliation: ReconciliationConfig{
			Enabled:     true,
			IntervalRaw: "1h",
		},
	}
	// Defaults always parse.
	_ = cfg.validateAndNormalize()
	return cfg
}

// Load reads the file at path on top of Default().
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate re-checks the configuration after flag overrides.
func (c *Config) Validate() error {
	return c.validateAndNormalize()
}

func (c *Config) validateAndNormalize() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}
	if err := c.Server.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Database.validateAndNormalize(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Level) {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		return fmt.Errorf("config: log.level %q must be debug, info, warn or error", c.Log.Level)
	}

	interval, err := parseDurationAllowEmpty(c.Reconciliation.IntervalRaw)
	if err != nil {
		return fmt.Errorf("config: reconciliation.interval: %w", err)
	}
	if c.Reconciliation.Enabled && interval <= 0 {
		return fmt.Errorf("config: reconciliation.interval must be positive when enabled")
	}
	c.Reconciliation.Interval = interval

	return nil
}

func (s *ServerConfig) validateAndNormalize() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", s.ReadTimeoutRaw, &s.ReadTimeout},
		{"server.write_timeout", s.WriteTimeoutRaw, &s.WriteTimeout},
		{"server.idle_timeout", s.IdleTimeoutRaw, &s.IdleTimeout},
		{"server.shutdown_timeout", s.ShutdownTimeoutRaw, &s.ShutdownTimeout},
	}
	for _, f := range fields {
		d, err := parseDurationAllowEmpty(f.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	d.Driver = strings.ToLower(d.Driver)
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}

	switch d.Driver {
	case DriverSQLite:
		if d.Path == "" {
			return fmt.Errorf("config: database.path must be set for sqlite")
		}
	case DriverPostgres:
		if d.Host == "" {
			return fmt.Errorf("config: database.host must be set")
		}
		if d.Port == 0 {
			return fmt.Errorf("config: database.port must be set")
		}
		if d.User == "" {
			return fmt.Errorf("config: database.user must be set")
		}
		if d.Name == "" {
			return fmt.Errorf("config: database.name must be set")
		}
		if d.SSLMode == "" {
			d.SSLMode = "disable"
		}
	default:
		return fmt.Errorf("config: database.driver %q must be sqlite or postgres", d.Driver)
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

// DSN returns the pgx connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}
