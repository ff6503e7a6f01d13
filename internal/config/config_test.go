package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadConfig_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
name: test-verifier
listen_addr: ":9090"
verifier:
  url: http://verifier:8000
  probe: true
player:
  seek_threshold: 1.5
result_cache:
  enabled: true
  in_memory: true
cors:
  allowed_origins: ["https://player.example.com"]
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "test-verifier", cfg.Name)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "http://verifier:8000", cfg.Verifier.URL)
	assert.True(t, cfg.Verifier.Probe)
	assert.Equal(t, 1.5, cfg.Player.SeekThreshold)
	assert.Equal(t, 1e-3, cfg.Player.Epsilon, "unset fields keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Verifier.Timeout)
	assert.True(t, cfg.ResultCache.InMemory)
	assert.Equal(t, []string{"https://player.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvVerifierURL: "http://env-verifier",
		EnvListenAddr:  ":7000",
		EnvLogLevel:    "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	path := writeConfig(t, "verifier:\n  url: http://file-verifier\n")
	cfg, err := load(path, lookup)
	require.NoError(t, err)
	assert.Equal(t, "http://env-verifier", cfg.Verifier.URL)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "verifer:\n  url: http://typo\n")
	_, err := load(path, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadConfig_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "name: a\n---\nname: b\n")
	_, err := load(path, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), noEnv)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Verifier.URL = ""
	cfg.Player.Epsilon = 0
	cfg.ResultCache.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verifier.url is required")
	assert.Contains(t, err.Error(), "player.epsilon must be positive")
	assert.Contains(t, err.Error(), "result_cache.path is required")
}

func TestValidate_FrameInterval(t *testing.T) {
	for _, v := range []float64{0, -0.1} {
		cfg := Default()
		cfg.Player.FrameInterval = v
		err := cfg.Validate()
		require.Error(t, err, "frame_interval %g", v)
		assert.Contains(t, err.Error(), "player.frame_interval must be positive")
	}

	cfg := Default()
	cfg.Player.FrameInterval = 1.0 / 60
	assert.NoError(t, cfg.Validate())
}
