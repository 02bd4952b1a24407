package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8000/ws", cfg.WSURL)
	require.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	require.Equal(t, filepath.Join("data", "journal.db"), cfg.JournalPath)
	require.True(t, cfg.JournalEnabled)
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	require.False(t, cfg.Trace.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENTLAB_WS_URL", "wss://lab.example/ws")
	t.Setenv("AGENTLAB_RECONNECT_DELAY", "750ms")
	t.Setenv("AGENTLAB_DATA_DIR", "/var/lib/agentlab")
	t.Setenv("AGENTLAB_TRACE_ENABLED", "true")
	t.Setenv("AGENTLAB_LOG_LEVEL", "debug")

	cfg, err := Load(LoadOptions{EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	require.Equal(t, "wss://lab.example/ws", cfg.WSURL)
	require.Equal(t, 750*time.Millisecond, cfg.ReconnectDelay)
	require.Equal(t, "/var/lib/agentlab/journal.db", cfg.JournalPath)
	require.True(t, cfg.Trace.Enabled)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
journal_enabled: false
trace:
  enabled: true
  exporter: file
`), 0o644))

	cfg, err := Load(LoadOptions{ConfigFile: path, EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.False(t, cfg.JournalEnabled)
	require.Equal(t, filepath.Join("data", "traces.jsonl"), cfg.Trace.FilePath)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENTLAB_HTTP_ADDR=:7070\nAGENTLAB_API_URL=http://backend:8000\n"), 0o644))
	t.Setenv("AGENTLAB_API_URL", "http://override:8000")
	// Setenv registers cleanup for the variable loadDotEnv will export.
	t.Setenv("AGENTLAB_HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("AGENTLAB_HTTP_ADDR"))

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTPAddr)
	require.Equal(t, "http://override:8000", cfg.APIURL)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.WSURL = "http://localhost:8000/ws"
	require.ErrorContains(t, bad.Validate(), "ws_url")

	bad = cfg
	bad.ReconnectDelay = 0
	require.ErrorContains(t, bad.Validate(), "reconnect_delay")

	bad = cfg
	bad.LogLevel = "loud"
	require.ErrorContains(t, bad.Validate(), "log_level")
}
