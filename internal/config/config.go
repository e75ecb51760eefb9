// Package config loads the YAML client configuration, overlays secrets from
// the environment and validates the result.
package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Guliveer/twitchify-go/internal/constants"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "configs/twitchify.yaml"

// DefaultTokenFile is used when token_file is not set.
const DefaultTokenFile = "tokens.json"

// Environment variables read by applyEnvOverrides.
const (
	EnvClientID     = "TWITCH_CLIENT_ID"
	EnvClientSecret = "TWITCH_CLIENT_SECRET"
	EnvAccessToken  = "TWITCH_ACCESS_TOKEN"
	EnvRefreshToken = "TWITCH_REFRESH_TOKEN"
)

// Load reads the configuration at path, then overlays environment variables
// for secrets. A missing file is not an error when the environment provides
// the client id.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && os.Getenv(EnvClientID) != "":
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SubscribeWorkers <= 0 {
		cfg.SubscribeWorkers = constants.DefaultSubscribeWorkers
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = DefaultTokenFile
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
	if cfg.Notifications.Webhook != nil && cfg.Notifications.Webhook.Method == "" {
		cfg.Notifications.Webhook.Method = http.MethodPost
	}
}

// applyEnvOverrides overlays environment variables for secrets.
func applyEnvOverrides(cfg *Config) {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overlay(&cfg.ClientID, EnvClientID)
	overlay(&cfg.ClientSecret, EnvClientSecret)
	overlay(&cfg.AccessToken, EnvAccessToken)
	overlay(&cfg.RefreshToken, EnvRefreshToken)
	overlay(&cfg.Log.Level, "LOG_LEVEL")

	if cfg.Notifications.Telegram != nil {
		overlay(&cfg.Notifications.Telegram.Token, "TELEGRAM_TOKEN")
		overlay(&cfg.Notifications.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	}
	if cfg.Notifications.Discord != nil {
		overlay(&cfg.Notifications.Discord.WebhookURL, "DISCORD_WEBHOOK")
	}
	if cfg.Notifications.Webhook != nil {
		overlay(&cfg.Notifications.Webhook.Endpoint, "WEBHOOK_URL")
	}
}

// Validate checks the configuration for common errors.
func Validate(cfg *Config) error {
	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required (or set %s)", EnvClientID)
	}

	for i, sub := range cfg.Subscriptions {
		if sub.Name == "" {
			return fmt.Errorf("subscription at index %d has empty name", i)
		}
	}

	if cfg.Chat.Enabled && len(cfg.Chat.Channels) == 0 {
		return fmt.Errorf("chat enabled but no channels configured")
	}

	if t := cfg.Notifications.Telegram; t != nil && t.Enabled {
		if t.Token == "" || t.ChatID == "" {
			return fmt.Errorf("telegram enabled but token or chat_id not set (use env vars TELEGRAM_TOKEN and TELEGRAM_CHAT_ID)")
		}
	}

	if d := cfg.Notifications.Discord; d != nil && d.Enabled && d.WebhookURL == "" {
		return fmt.Errorf("discord enabled but webhook_url not set (use env var DISCORD_WEBHOOK)")
	}

	if w := cfg.Notifications.Webhook; w != nil && w.Enabled {
		if w.Endpoint == "" {
			return fmt.Errorf("webhook enabled but endpoint not set (use env var WEBHOOK_URL)")
		}
		if m := strings.ToUpper(w.Method); m != http.MethodGet && m != http.MethodPost {
			return fmt.Errorf("webhook method %q is not supported (use GET or POST)", w.Method)
		}
	}

	return nil
}
