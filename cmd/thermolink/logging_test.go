package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/thermolink/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	_ = cmd.Flags().Parse(args)
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		cfgLevel string
		want     logrus.Level
	}{
		{"config level", nil, "warn", logrus.WarnLevel},
		{"verbose overrides config", []string{"--verbose"}, "warn", logrus.DebugLevel},
		{"log-level overrides verbose", []string{"--verbose", "--log-level", "error"}, "info", logrus.ErrorLevel},
		{"trace", []string{"--log-level", "trace"}, "info", logrus.TraceLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.cfgLevel

			logger, err := configureLogger(newLoggingCmd(tt.args...), cfg, "verbose")
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestConfigureLoggerRejectsLevels(t *testing.T) {
	for _, level := range []string{"loud", "panic", "fatal"} {
		_, err := configureLogger(newLoggingCmd("--log-level", level), config.DefaultConfig(), "verbose")
		assert.Error(t, err, "level %q MUST be rejected", level)
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
