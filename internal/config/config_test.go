package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the test, restoring it on
// cleanup. Stand-in for t.Chdir, which requires Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://api1-pp.klokapp.ai/v1", cfg.API.BaseURL)
	assert.Equal(t, "https://klokapp.ai", cfg.API.Origin)
	assert.Equal(t, "session-token.key", cfg.Files.SessionTokens)
	assert.Equal(t, "proxies.txt", cfg.Files.Proxies)
	assert.Equal(t, 20, cfg.Automation.VerifyThreads)
	assert.Equal(t, 600*time.Second, cfg.Automation.SwitchInterval)
	assert.Equal(t, 3*time.Second, cfg.Automation.MinTurnDelay)
	assert.Equal(t, uint64(5), cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.Equal(t, "klokpilot.log", cfg.Log.File)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	raw := `
[api]
base_url = "https://staging.example.com/v1"

[automation]
verify_threads = 5
switch_interval = "120s"

[log]
debug = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "klokpilot.toml"), []byte(raw), 0o600))
	chdir(t, dir)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 5, cfg.Automation.VerifyThreads)
	assert.Equal(t, 120*time.Second, cfg.Automation.SwitchInterval)
	assert.True(t, cfg.Log.Debug)
	// Untouched sections keep their defaults.
	assert.Equal(t, "GVJRESB4", cfg.API.ReferralCode)
}

func TestLoadRejectsEmptyBaseURL(t *testing.T) {
	dir := t.TempDir()
	raw := "[api]\nbase_url = \"\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "klokpilot.toml"), []byte(raw), 0o600))
	chdir(t, dir)

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is empty")
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KLOKPILOT_API_BASE_URL", "https://env.example.com/v1")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/v1", cfg.API.BaseURL)
}
