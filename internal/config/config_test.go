package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv points HOME at an empty directory and clears every VOXLINK
// variable so a developer's real setup cannot leak into the test.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"VOXLINK_BASE_URL", "VOXLINK_REALTIME_PATH", "VOXLINK_AUTH_TOKEN",
		"VOXLINK_PRACTICE_ID", "VOXLINK_TIMEZONE", "VOXLINK_TRANSPORT",
		"VOXLINK_FALLBACK", "VOXLINK_MAX_MESSAGES",
		"VOXLINK_RECONNECT_INITIAL_DELAY_MS", "VOXLINK_RECONNECT_MAX_DELAY_MS",
		"VOXLINK_RECONNECT_MAX_ATTEMPTS",
	} {
		t.Setenv(k, "")
	}
	return home
}

func writeConfigFile(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".voxlink")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
}

func TestLoadRequiresBaseURL(t *testing.T) {
	isolateEnv(t)

	_, err := Load("", "", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")
}

func TestLoadAppliesDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("https://api.example.com", "", "", 0)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, DefaultRealtimePath, cfg.RealtimePath)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, DefaultTransport, cfg.Transport)
	assert.Equal(t, DefaultMaxMessages, cfg.MaxMessages)
	assert.Equal(t, DefaultMaxAttempts, cfg.ReconnectMaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialDelay())
	assert.Equal(t, 30*time.Second, cfg.MaxDelay())
	assert.True(t, cfg.FallbackEnabled())
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := isolateEnv(t)
	writeConfigFile(t, home, `
base_url: https://file.example.com
auth_token: file-token
practice_id: 7
transport: sse
fallback: false
reconnect_initial_delay_ms: 250
reconnect_max_delay_ms: 5000
reconnect_max_attempts: 4
`)

	cfg, err := Load("", "", "", 0)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.BaseURL)
	assert.Equal(t, "file-token", cfg.AuthToken)
	assert.Equal(t, 7, cfg.PracticeID)
	assert.Equal(t, "sse", cfg.Transport)
	assert.False(t, cfg.FallbackEnabled())
	assert.Equal(t, 250*time.Millisecond, cfg.InitialDelay())
	assert.Equal(t, 5*time.Second, cfg.MaxDelay())
	assert.Equal(t, 4, cfg.ReconnectMaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := isolateEnv(t)
	writeConfigFile(t, home, `
base_url: https://file.example.com
transport: sse
`)
	t.Setenv("VOXLINK_BASE_URL", "https://env.example.com")
	t.Setenv("VOXLINK_TRANSPORT", "polling")
	t.Setenv("VOXLINK_PRACTICE_ID", "42")
	t.Setenv("VOXLINK_FALLBACK", "false")

	cfg, err := Load("", "", "", 0)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.BaseURL)
	assert.Equal(t, "polling", cfg.Transport)
	assert.Equal(t, 42, cfg.PracticeID)
	assert.False(t, cfg.FallbackEnabled())
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	home := isolateEnv(t)
	writeConfigFile(t, home, `base_url: https://file.example.com`)
	t.Setenv("VOXLINK_BASE_URL", "https://env.example.com")
	t.Setenv("VOXLINK_AUTH_TOKEN", "env-token")
	t.Setenv("VOXLINK_TRANSPORT", "sse")

	cfg, err := Load("https://flag.example.com", "flag-token", "polling", 9)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example.com", cfg.BaseURL)
	assert.Equal(t, "flag-token", cfg.AuthToken)
	assert.Equal(t, "polling", cfg.Transport)
	assert.Equal(t, 9, cfg.PracticeID)
}

func TestLoadEnvTuningKnobs(t *testing.T) {
	home := isolateEnv(t)
	writeConfigFile(t, home, `
base_url: https://file.example.com
max_messages: 100
reconnect_max_attempts: 3
`)
	t.Setenv("VOXLINK_MAX_MESSAGES", "250")
	t.Setenv("VOXLINK_RECONNECT_INITIAL_DELAY_MS", "500")
	t.Setenv("VOXLINK_RECONNECT_MAX_DELAY_MS", "8000")
	t.Setenv("VOXLINK_RECONNECT_MAX_ATTEMPTS", "6")

	cfg, err := Load("", "", "", 0)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.MaxMessages)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay())
	assert.Equal(t, 8*time.Second, cfg.MaxDelay())
	assert.Equal(t, 6, cfg.ReconnectMaxAttempts)
}

func TestLoadIgnoresMalformedEnvNumbers(t *testing.T) {
	isolateEnv(t)
	t.Setenv("VOXLINK_PRACTICE_ID", "not-a-number")

	cfg, err := Load("https://api.example.com", "", "", 0)
	require.NoError(t, err)
	assert.Zero(t, cfg.PracticeID)
}
