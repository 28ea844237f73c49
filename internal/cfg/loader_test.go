package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	assert.NotEmpty(t, GetVersion())

	old := Version
	t.Cleanup(func() { Version = old })
	Version = ""
	assert.Equal(t, "unknown", GetVersion())
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, "./broadcast.yml", c.ConfigPath)
	assert.Equal(t, "Broadcast/1.0", c.UserAgent)
	assert.Empty(t, c.StatePath)
	assert.False(t, c.DryRun)
	assert.False(t, c.FailOnDeliveryError)
	assert.Equal(t, GetVersion(), c.Version)
}

func TestLoad_FlagsAndEnv(t *testing.T) {
	t.Setenv("BROADCAST_STATE_PATH", "/var/lib/broadcast/state.db")
	t.Setenv("DRY_RUN", "true")

	c, err := Load([]string{"-c", "custom.yml", "--state-driver", "sqlite", "--log-level", "debug", "--fail-on-delivery-error", "--show-state"})
	require.NoError(t, err)

	assert.Equal(t, "custom.yml", c.ConfigPath)
	assert.Equal(t, "sqlite", c.StateDriver)
	assert.Equal(t, "/var/lib/broadcast/state.db", c.StatePath)
	assert.Equal(t, "debug", c.LogLevel)
	assert.True(t, c.DryRun)
	assert.True(t, c.FailOnDeliveryError)
	assert.True(t, c.ShowState)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	_, err := Load([]string{"--state-driver", "postgres"})
	assert.Error(t, err)
}

func TestLoad_Help(t *testing.T) {
	c, err := Load([]string{"--help"})
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BROADCAST_TEST_WEBHOOK=https://example.com/hook\nLOG_LEVEL=warn\n"), 0o644))

	t.Setenv("LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("BROADCAST_TEST_WEBHOOK") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "https://example.com/hook", os.Getenv("BROADCAST_TEST_WEBHOOK"))
	assert.Equal(t, "error", os.Getenv("LOG_LEVEL"), "existing variables win")

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestEnvFileFromArgs(t *testing.T) {
	assert.Equal(t, ".env", EnvFileFromArgs(nil, ".env"))
	assert.Equal(t, "prod.env", EnvFileFromArgs([]string{"--dry-run", "--env-file", "prod.env"}, ".env"))
	assert.Equal(t, "x.env", EnvFileFromArgs([]string{"--env-file=x.env"}, ".env"))

	t.Setenv("BROADCAST_ENV_FILE", "from-env.env")
	assert.Equal(t, "from-env.env", EnvFileFromArgs(nil, ".env"))
}
