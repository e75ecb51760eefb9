package config

import "github.com/Guliveer/twitchify-go/internal/helix"

// Config is the full client configuration. Secrets may be left out of the
// YAML file and supplied through the environment instead.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// AccessToken and RefreshToken only ever come from the environment or
	// the token file.
	AccessToken  string `yaml:"-"`
	RefreshToken string `yaml:"-"`

	Scopes           []string             `yaml:"scopes"`
	Subscriptions    []helix.Subscription `yaml:"subscriptions"`
	SubscribeWorkers int                  `yaml:"subscribe_workers"`

	// TokenFile persists rotated tokens across restarts. Empty disables it.
	TokenFile string `yaml:"token_file"`

	Log           LogConfig           `yaml:"log"`
	Chat          ChatConfig          `yaml:"chat"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
}

// ChatConfig enables the optional IRC presence.
type ChatConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"`
}

// NotificationsConfig holds all notification provider configurations.
type NotificationsConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Discord  *DiscordConfig  `yaml:"discord,omitempty"`
	Webhook  *WebhookConfig  `yaml:"webhook,omitempty"`
}

// TelegramConfig holds Telegram notification settings.
type TelegramConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Token               string   `yaml:"token,omitempty"`
	ChatID              string   `yaml:"chat_id,omitempty"`
	Events              []string `yaml:"events"`
	DisableNotification bool     `yaml:"disable_notification"`
}

// DiscordConfig holds Discord notification settings.
type DiscordConfig struct {
	Enabled    bool     `yaml:"enabled"`
	WebhookURL string   `yaml:"webhook_url,omitempty"`
	Events     []string `yaml:"events"`
}

// WebhookConfig holds generic webhook notification settings.
type WebhookConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint,omitempty"`
	Method   string   `yaml:"method"`
	Events   []string `yaml:"events"`
}
