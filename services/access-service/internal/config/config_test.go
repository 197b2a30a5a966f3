package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SERVICE_JWT_SECRET", "test-secret")
	t.Setenv("CONTROLLER_URL", "https://10.5.50.1")
	t.Setenv("CONTROLLER_USERNAME", "api")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, "all", cfg.Controller.Server)
	assert.Equal(t, 10*time.Second, cfg.Controller.Timeout)
	assert.Equal(t, "https://10.5.50.1", cfg.Controller.URL)
	assert.False(t, cfg.Controller.AllowPlaceholder)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("CONTROLLER_PROFILE", "paid")

	path := filepath.Join(t.TempDir(), "access.yaml")
	content := []byte(`
port: 9000
lock_ttl: 45s
controller:
  url: https://router.local
  profile: from-file
  server: hotspot1
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.LockTTL)
	assert.Equal(t, "hotspot1", cfg.Controller.Server, "file value kept")
	assert.Equal(t, "paid", cfg.Controller.Profile, "env overrides file")
	assert.Equal(t, "https://10.5.50.1", cfg.Controller.URL, "env overrides file")
}

func TestLoadConfig_Required(t *testing.T) {
	t.Setenv("CONTROLLER_URL", "https://10.5.50.1")
	t.Setenv("CONTROLLER_USERNAME", "api")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVICE_JWT_SECRET")
}
