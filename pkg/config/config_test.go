package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "")
	os.Unsetenv("MAX_UPLOAD_MB")
	cfg := LoadAPIConfig()
	assert.Equal(t, 100, cfg.MaxUploadMB)
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 10*time.Second, cfg.DeploySimulation)
	assert.Equal(t, "disk", cfg.ArtifactBackend)
}

func TestGetIntFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("WS_SEND_BUFFER", "lots")
	assert.Equal(t, 32, GetInt("WS_SEND_BUFFER", 32))
}

func TestApplyFileOverridesPresentKeysOnly(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storeDriver: memory\ndeploySimulation: 2s\n"), 0o600))

	cfg := LoadAPIConfig()
	require.NoError(t, ApplyFile(&cfg, path))
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.DeploySimulation)
	assert.Equal(t, ":9999", cfg.Addr)
}

func TestApplyFileMissing(t *testing.T) {
	cfg := LoadAPIConfig()
	require.Error(t, ApplyFile(&cfg, filepath.Join(t.TempDir(), "nope.yaml")))
	require.NoError(t, ApplyFile(&cfg, ""))
}
