package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitchify-go/internal/helix"
)

const sampleConfig = `
client_id: from-file
scopes: [user:read:chat, moderator:read:followers]
subscriptions:
  - name: channel.follow
    version: "2"
  - name: stream.online
chat:
  enabled: true
  channels: [snifo]
notifications:
  telegram:
    enabled: true
    chat_id: "1234"
    events: [code, ready]
  webhook:
    enabled: true
    endpoint: https://example.com/hook
    events: [auth]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twitchify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "secret")
	t.Setenv(EnvRefreshToken, "refresh-1")
	t.Setenv("TELEGRAM_TOKEN", "bot-token")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "from-file", cfg.ClientID)
	require.Equal(t, "secret", cfg.ClientSecret)
	require.Equal(t, "refresh-1", cfg.RefreshToken)
	require.Equal(t, []string{"user:read:chat", "moderator:read:followers"}, cfg.Scopes)
	require.Equal(t, []helix.Subscription{
		{Name: "channel.follow", Version: "2"},
		{Name: "stream.online"},
	}, cfg.Subscriptions)
	require.Equal(t, 1, cfg.SubscribeWorkers)
	require.Equal(t, DefaultTokenFile, cfg.TokenFile)
	require.Equal(t, "INFO", cfg.Log.Level)
	require.Equal(t, "bot-token", cfg.Notifications.Telegram.Token)
	require.Equal(t, "POST", cfg.Notifications.Webhook.Method)

	require.NoError(t, Validate(cfg))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvClientID, "from-env")
	t.Setenv(EnvAccessToken, "access-1")
	t.Setenv(EnvRefreshToken, "")

	cfg, err := Load(writeConfig(t, "client_id: from-file\n"))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.ClientID)
	require.Equal(t, "access-1", cfg.AccessToken)
	require.Empty(t, cfg.RefreshToken)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvClientID, "")
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := Load(missing)
	require.Error(t, err)

	t.Setenv(EnvClientID, "from-env")
	cfg, err := Load(missing)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.ClientID)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "client_id: [unterminated\n"))
	require.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{ClientID: "cid"}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing client id", mutate: func(c *Config) { c.ClientID = "" }, wantErr: "client_id is required"},
		{
			name:    "unnamed subscription",
			mutate:  func(c *Config) { c.Subscriptions = []helix.Subscription{{Version: "1"}} },
			wantErr: "empty name",
		},
		{
			name:    "chat without channels",
			mutate:  func(c *Config) { c.Chat.Enabled = true },
			wantErr: "no channels",
		},
		{
			name: "telegram without token",
			mutate: func(c *Config) {
				c.Notifications.Telegram = &TelegramConfig{Enabled: true, ChatID: "1"}
			},
			wantErr: "telegram enabled",
		},
		{
			name:    "discord without webhook",
			mutate:  func(c *Config) { c.Notifications.Discord = &DiscordConfig{Enabled: true} },
			wantErr: "discord enabled",
		},
		{
			name: "webhook with bad method",
			mutate: func(c *Config) {
				c.Notifications.Webhook = &WebhookConfig{Enabled: true, Endpoint: "https://x", Method: "PUT"}
			},
			wantErr: "not supported",
		},
		{
			name: "disabled provider is not checked",
			mutate: func(c *Config) {
				c.Notifications.Discord = &DiscordConfig{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
