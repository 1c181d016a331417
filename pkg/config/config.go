package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/decoder"
	"gopkg.in/yaml.v3"
)

// Output formats supported by the monitor command.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel         string        `yaml:"log_level" json:"log_level" default:"info"`
	DialTimeout      time.Duration `yaml:"dial_timeout" json:"dial_timeout" default:"30s"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout" default:"0s"`
	DecodeFormat     string        `yaml:"decode_format" json:"decode_format" default:"ieee754"`
	EventBuffer      int           `yaml:"event_buffer" json:"event_buffer" default:"64"`
	OutputFormat     string        `yaml:"output_format" json:"output_format" default:"text"`
	Indicator        bool          `yaml:"indicator" json:"indicator" default:"true"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that every field holds a supported value.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive, got %s", c.DialTimeout)
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake_timeout must not be negative, got %s", c.HandshakeTimeout)
	}
	if _, err := decoder.ParseFormat(c.DecodeFormat); err != nil {
		return fmt.Errorf("decode_format: %w", err)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	switch strings.ToLower(c.OutputFormat) {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("output_format must be %q or %q, got %q", OutputText, OutputJSON, c.OutputFormat)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Format returns the configured notification decoding format.
func (c *Config) Format() decoder.Format {
	f, _ := decoder.ParseFormat(c.DecodeFormat)
	return f
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
