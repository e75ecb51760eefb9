// Package constants defines the Twitch Helix and identity endpoints, the
// library identity sent to Twitch, and the default timeout/interval values
// used by the token lifecycle and the EventSub transport.
package constants

import "time"

// Version is the library version reported in the User-Agent header.
const Version = "0.4.0"

// Repository is the project home reported in the User-Agent header.
const Repository = "https://github.com/Guliveer/twitchify-go"

// UserAgent identifies the library on streaming connections.
const UserAgent = "twitchify-go/" + Version + " (GitHub: " + Repository + ")"

const (
	// HelixURL is the base of the Twitch Helix REST API. Paths are appended to it.
	HelixURL = "https://api.twitch.tv/helix/"
	// IdentityURL is the base of the Twitch identity provider.
	IdentityURL = "https://id.twitch.tv/oauth2/"
	// EventSubURL is the Twitch EventSub WebSocket endpoint.
	EventSubURL = "wss://eventsub.wss.twitch.tv/ws"
	// ActivateURL is where users enter the device code.
	ActivateURL = "https://www.twitch.tv/activate"
	// IRCURL is the Twitch IRC chat server hostname.
	IRCURL = "irc.chat.twitch.tv"
)

// Identity provider paths, relative to IdentityURL.
const (
	ValidatePath   = "validate"
	TokenPath      = "token"
	DeviceCodePath = "device"
	RevokePath     = "revoke"
)

// Grant types accepted by the token endpoint.
const (
	GrantRefreshToken = "refresh_token"
	GrantDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"
)

const (
	// MaxRequestAttempts is how many times a request is sent when the
	// transport itself fails (connection refused, reset, timeout).
	MaxRequestAttempts = 3
	// RetryBackoffStep is multiplied by the attempt number between transport retries.
	RetryBackoffStep = 5 * time.Second
	// WebsocketHandshakeTimeout bounds the EventSub opening handshake.
	WebsocketHandshakeTimeout = 30 * time.Second
)

const (
	// RefreshMargin is how long before expiry the access token is refreshed.
	RefreshMargin = 300
	// MaxRefreshWait caps the refresher's sleep, in seconds (59 minutes).
	MaxRefreshWait = 3540
	// DefaultTokenLifetime is assumed for tokens that cannot be refreshed,
	// giving a fixed MaxRefreshWait re-validation cadence.
	DefaultTokenLifetime = MaxRefreshWait + RefreshMargin
	// MinRefreshWait keeps the refresher from spinning on tiny lifetimes.
	MinRefreshWait = 10 * time.Second
)

const (
	// DefaultPollInterval is used when the device endpoint omits an interval, in seconds.
	DefaultPollInterval = 5
	// SlowDownStep is added to the poll interval on a slow_down answer, in seconds.
	SlowDownStep = 5
)

const (
	// DefaultIdentityHTTPTimeout bounds each device flow request.
	DefaultIdentityHTTPTimeout = 15 * time.Second
	// DefaultKeepaliveTimeout is used until the EventSub welcome announces its own.
	DefaultKeepaliveTimeout = 10 * time.Second
	// KeepaliveGrace is added to the announced keepalive timeout before the
	// EventSub connection is considered dead.
	KeepaliveGrace = 5 * time.Second
	// ReconnectDelay is the pause before redialing a dropped EventSub connection.
	ReconnectDelay = 5 * time.Second
	// MaxReconnectDelay caps the doubling reconnect backoff.
	MaxReconnectDelay = 60 * time.Second
	// MaxEventSubMessageSize is the websocket read limit.
	MaxEventSubMessageSize = 512 << 10
	// DefaultSubscribeWorkers keeps subscription submissions in order.
	DefaultSubscribeWorkers = 1
	// DefaultGracefulShutdownTimeout bounds CLI shutdown.
	DefaultGracefulShutdownTimeout = 30 * time.Second
	// DefaultEventHistory is how many notifications the status server keeps.
	DefaultEventHistory = 100
)

// Events dispatched to the owning client.
const (
	EventCode         = "code"
	EventAuth         = "auth"
	EventRefreshToken = "refresh_token"
	EventReady        = "ready"
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventChatMessage  = "chat_message"
	EventChatMention  = "chat_mention"
)
