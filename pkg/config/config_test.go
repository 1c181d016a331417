package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/thermolink/internal/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thermolink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.DialTimeout)
	assert.Equal(t, time.Duration(0), cfg.HandshakeTimeout, "handshake timeout MUST be disabled by default")
	assert.Equal(t, "ieee754", cfg.DecodeFormat)
	assert.Equal(t, 64, cfg.EventBuffer)
	assert.Equal(t, OutputText, cfg.OutputFormat)
	assert.True(t, cfg.Indicator)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	// GOAL: Verify a YAML file overrides only the keys it sets
	//
	// TEST SCENARIO: file with log level, handshake timeout, format and indicator off → merged with defaults

	path := writeConfig(t, `
log_level: debug
handshake_timeout: 15s
decode_format: ieee11073
indicator: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, 15*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, decoder.FormatIEEE11073, cfg.Format())
	assert.False(t, cfg.Indicator, "explicit false MUST NOT be replaced by the default")
	assert.Equal(t, 30*time.Second, cfg.DialTimeout, "unset keys MUST keep defaults")
	assert.Equal(t, 64, cfg.EventBuffer)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "scan_timeout: 10s\n"},
		{"bad level", "log_level: loud\n"},
		{"bad duration", "dial_timeout: soon\n"},
		{"bad format", "decode_format: bcd\n"},
		{"bad output", "output_format: csv\n"},
		{"zero buffer", "event_buffer: 0\n"},
		{"negative handshake", "handshake_timeout: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with info level", "info", logrus.InfoLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"creates logger with error level", "error", logrus.ErrorLevel},
		{"falls back to info on garbage", "loud", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
