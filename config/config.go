package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Intake   IntakeConfig   `yaml:"intake"`
	Notify   NotifyConfig   `yaml:"notify"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type IntakeConfig struct {
	ClaimLease   time.Duration `yaml:"claim_lease"`
	SearchLimit  int           `yaml:"search_limit"`
	ImportMaxRow int           `yaml:"import_max_rows"`
}

type NotifyConfig struct {
	Recipient string `yaml:"recipient"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Log:    LogConfig{Mode: "development", Level: "info"},
		Auth:   AuthConfig{TokenExpireHours: 12},
		Intake: IntakeConfig{ClaimLease: 8 * time.Hour, SearchLimit: 20, ImportMaxRow: 5000},
		Notify: NotifyConfig{Recipient: "contracts@localhost"},
		Tracing: TracingConfig{
			ServiceName: "contractflow",
		},
	}
}

// Load reads the YAML file at path (optional) over Default and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("LOG_MODE"); ok && v != "" {
		c.Log.Mode = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("NOTIFY_RECIPIENT"); ok && v != "" {
		c.Notify.Recipient = v
	}
	if v, ok := lookup("CLAIM_LEASE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CLAIM_LEASE: %w", err)
		}
		c.Intake.ClaimLease = d
	}
	if v, ok := lookup("OTEL_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: OTEL_ENABLED: %w", err)
		}
		c.Tracing.Enabled = enabled
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = def.Server.MaxUploadBytes
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = def.Auth.TokenExpireHours
	}
	if c.Intake.ClaimLease <= 0 {
		c.Intake.ClaimLease = def.Intake.ClaimLease
	}
	if c.Intake.SearchLimit <= 0 {
		c.Intake.SearchLimit = def.Intake.SearchLimit
	}
	if c.Intake.ImportMaxRow <= 0 {
		c.Intake.ImportMaxRow = def.Intake.ImportMaxRow
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

// Validate reports missing settings needed to serve requests.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("config: database.url (or DATABASE_URL) is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("config: auth.jwt_secret (or JWT_SECRET) is required"))
	}
	if c.Notify.Recipient == "" {
		errs = append(errs, errors.New("config: notify.recipient is required"))
	}
	return errors.Join(errs...)
}
