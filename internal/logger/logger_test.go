package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsoleRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log, err := Setup(Config{Level: slog.LevelDebug, Output: &buf})
	require.NoError(t, err)

	log.With("client_secret", "shh").Info("Token refreshed", "access_token", "abc123", "login", "snifo")

	out := buf.String()
	require.Contains(t, out, "Token refreshed")
	require.Contains(t, out, "login=snifo")
	require.Contains(t, out, "access_token="+redacted)
	require.Contains(t, out, "client_secret="+redacted)
	require.NotContains(t, out, "abc123")
	require.NotContains(t, out, "shh")
}

func TestFileRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	log, err := Setup(Config{Level: slog.LevelError, FileLevel: slog.LevelDebug, Output: &bytes.Buffer{}, LogDir: dir})
	require.NoError(t, err)

	log.Debug("Refreshing", "refresh_token", "r-1")

	data, err := os.ReadFile(filepath.Join(dir, "twitchify.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "refresh_token="+redacted)
	require.NotContains(t, string(data), "r-1")
}

func TestEventNotifies(t *testing.T) {
	var buf bytes.Buffer
	log, err := Setup(Config{Level: slog.LevelInfo, Output: &buf})
	require.NoError(t, err)

	var gotMsg, gotEvent string
	log.SetNotifyFunc(func(_ context.Context, message, event string) {
		gotMsg, gotEvent = message, event
	})

	log.Event(context.Background(), "refresh_token", "Token refreshed", "access_token", "abc123", "login", "snifo")

	require.Equal(t, "refresh_token", gotEvent)
	require.Equal(t, "🔄 Token refreshed\naccess_token: "+redacted+"\nlogin: snifo", gotMsg)
	require.Contains(t, buf.String(), "event=refresh_token")

	child := log.WithAccount("snifo")
	child.Event(context.Background(), "ready", "Ready")
	require.Equal(t, "ready", gotEvent)
	require.Equal(t, "✅ Ready", gotMsg)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
