package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "module.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `user: "alice:secret"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice:secret", cfg.User)
	assert.Equal(t, Default().MaxIdleTime, cfg.MaxIdleTime)
	assert.Equal(t, 256, cfg.MaxSPSize)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "user: \"alice:secret\"\nmax_sp_size: 10\nmax_idle_time: 1m\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxSPSize)
}

func TestValidateRejectsOutOfRangeSPSize(t *testing.T) {
	cfg := Default()
	cfg.MaxSPSize = 0
	assert.Error(t, cfg.Validate())

	cfg.MaxSPSize = 300
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizedUser(t *testing.T) {
	cfg := Default()
	big := make([]byte, 4096)
	cfg.User = string(big)
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
