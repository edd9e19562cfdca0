package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	body := `
coordinator:
  workers: 4
  max_concurrent: 20
scan:
  default_interval: 10s
circuit:
  max_failures: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Coordinator.Workers)
	assert.EqualValues(t, 20, cfg.Coordinator.MaxConcurrent)
	assert.Equal(t, 10*time.Second, cfg.Scan.DefaultInterval)
	assert.EqualValues(t, 3, cfg.Circuit.MaxFailures)
	// untouched fields keep their reference default
	assert.Equal(t, Default().Cache.Size, cfg.Cache.Size)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_field: true\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("SCANNER_GATEWAY_URL", "http://gateway.internal:9090")
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  base_url: ${SCANNER_GATEWAY_URL}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.internal:9090", cfg.Gateway.BaseURL)
}
