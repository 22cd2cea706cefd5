package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubejarvis/easee-status/internal/config"
)

func subcommand(t *testing.T, name string, args ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := newRootCmd().Find([]string{name})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "easee-status dev")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, _, err := loadConfig(subcommand(t, "run"))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigEnvironmentOverridesDefault(t *testing.T) {
	t.Setenv("INTERVAL", "5")
	t.Setenv("ROCKET_PORT", "9000")

	cfg, _, err := loadConfig(subcommand(t, "serve"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfigFlagOverridesEnvironment(t *testing.T) {
	t.Setenv("INTERVAL", "5")
	t.Setenv("ROCKET_ADDRESS", "10.0.0.1")

	cfg, _, err := loadConfig(subcommand(t, "run", "--interval", "10"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Interval)

	cfg, _, err = loadConfig(subcommand(t, "serve", "--address", "127.0.0.1", "--port", "8080"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigRejectsMalformedValues(t *testing.T) {
	t.Setenv("INTERVAL", "often")

	_, _, err := loadConfig(subcommand(t, "run"))
	require.Error(t, err)

	var validationErr *config.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Len(t, validationErr.Errors, 1)
}

func TestRunPipelineRequiresInfluxSettings(t *testing.T) {
	t.Setenv("INFLUXDB_ADDR", "")
	t.Setenv("INFLUXDB_DB_NAME", "")

	err := runPipeline(subcommand(t, "run"), nil)
	assert.Error(t, err)
}
