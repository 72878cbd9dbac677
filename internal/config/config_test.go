package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:7000", cfg.APIURL)
	require.Equal(t, "ws://localhost:7000/ws", cfg.WebsocketURL())
	require.Equal(t, 2*time.Second, cfg.TypingDebounce)
	require.Equal(t, GuardPolicySession, cfg.GuardPolicy)
	require.False(t, cfg.Reconnect.Enabled())
	require.False(t, cfg.OptimisticLikes)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "dmsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://chat.example.com/api
guard_policy: never
typing_debounce: 3s
reconnect:
  max_retries: 4
  base_delay: 500ms
  max_delay: 4s
`), 0o600))

	t.Setenv("DMSYNC_TYPING_DEBOUNCE", "1500ms")
	t.Setenv("DMSYNC_OPTIMISTIC_LIKES", "true")
	t.Setenv("DMSYNC_RECONNECT_MAX_RETRIES", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com/api", cfg.APIURL)
	require.Equal(t, "wss://chat.example.com/api/ws", cfg.WebsocketURL())
	require.Equal(t, GuardPolicyNever, cfg.GuardPolicy)
	require.Equal(t, 1500*time.Millisecond, cfg.TypingDebounce)
	require.True(t, cfg.OptimisticLikes)
	require.Equal(t, 4, cfg.Reconnect.MaxRetries)
}

func TestLoadRejectsUnknownGuardPolicy(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DMSYNC_GUARD_POLICY", "sometimes")

	_, err := Load("")
	require.Error(t, err)
}

func TestReconnectDelayBacksOff(t *testing.T) {
	p := ReconnectPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	require.Equal(t, 100*time.Millisecond, p.Delay(1))
	require.Equal(t, 200*time.Millisecond, p.Delay(2))
	require.Equal(t, 800*time.Millisecond, p.Delay(4))
	require.Equal(t, time.Second, p.Delay(5))
	require.Equal(t, time.Second, p.Delay(12))
}

func TestLoadServer(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("DEVSERVER_TOKEN_IDLE_TIMEOUT", "30m")
	t.Setenv("DEVSERVER_CLEANUP_INTERVAL", "bogus")

	cfg := LoadServer()
	require.Equal(t, "9100", cfg.ServerPort)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	require.Equal(t, 30*time.Minute, cfg.TokenIdleTimeout)
	require.Equal(t, time.Minute, cfg.CleanupInterval)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
