// Package config loads the bridge configuration from config.toml, a
// local .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"go.uber.org/zap/zapcore"
)

// Defaults.
const (
	DefaultSession         = "main"
	DefaultPort            = 8001
	DefaultSessionTimeout  = 30 * time.Second
	DefaultMessageLimit    = 50
	DefaultMaxMessageLimit = 500
	DefaultLogLevel        = "info"
	DefaultDeviceName      = "wabridge"
	DefaultPairingRetry    = 5 * time.Second
)

// Environment variables read by ApplyEnv.
const (
	EnvPort           = "PORT"
	EnvHome           = "WABRIDGE_HOME"
	EnvSession        = "WABRIDGE_SESSION"
	EnvSessionTimeout = "WABRIDGE_SESSION_TIMEOUT"
	EnvLogLevel       = "WABRIDGE_LOG_LEVEL"
	EnvQRFile         = "WABRIDGE_QR_FILE"
)

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents <base>/config.toml.
type Config struct {
	DefaultSession  string   `toml:"default_session"`
	Port            int      `toml:"port"`
	SessionTimeout  Duration `toml:"session_timeout"`
	MessageLimit    int      `toml:"message_limit"`
	MaxMessageLimit int      `toml:"max_message_limit"`
	LogLevel        string   `toml:"log_level"`
	QRFile          string   `toml:"qr_file,omitempty"`
	DeviceName      string   `toml:"device_name"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	PairingRetry    Duration `toml:"pairing_retry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession:  DefaultSession,
		Port:            DefaultPort,
		SessionTimeout:  Duration{DefaultSessionTimeout},
		MessageLimit:    DefaultMessageLimit,
		MaxMessageLimit: DefaultMaxMessageLimit,
		LogLevel:        DefaultLogLevel,
		DeviceName:      DefaultDeviceName,
		AllowedOrigins:  []string{"*"},
		PairingRetry:    Duration{DefaultPairingRetry},
	}
}

// Load reads config from the given path on top of the defaults. Returns an
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadDotEnv loads environment variables from path. Missing files are
// ignored and variables already set are kept.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides fields from environment variables found by lookup,
// typically os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvSession); ok && v != "" {
		c.DefaultSession = v
	}
	if v, ok := lookup(EnvSessionTimeout); ok && v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSessionTimeout, err)
		}
		c.SessionTimeout = Duration{d}
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(EnvQRFile); ok && v != "" {
		c.QRFile = v
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SessionTimeout.Duration <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if c.MessageLimit <= 0 || c.MaxMessageLimit <= 0 {
		return fmt.Errorf("message limits must be positive")
	}
	if c.MessageLimit > c.MaxMessageLimit {
		return fmt.Errorf("message_limit %d exceeds max_message_limit %d", c.MessageLimit, c.MaxMessageLimit)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
