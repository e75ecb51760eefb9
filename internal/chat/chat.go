// Package chat keeps an optional IRC presence in Twitch chat channels for
// the authenticated user. Its credentials follow the access token as it is
// refreshed.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/Guliveer/twitchify-go/internal/helix"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// Manager manages one IRC connection joined to any number of channels.
// go-twitch-irc handles PING/PONG keepalive and reconnection internally.
type Manager struct {
	mu sync.Mutex

	client  *twitch.Client
	handler *Handler

	username  string
	authToken string

	channels map[string]bool
	running  bool

	log *logger.Logger
}

// NewManager creates a Manager for username authenticated by authToken.
// Chat messages are dispatched to dispatch.
func NewManager(username, authToken string, dispatch helix.Dispatcher, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	handler := NewHandler(username, dispatch, log)

	client := twitch.NewClient(username, ircToken(authToken))

	manager := &Manager{
		client:    client,
		handler:   handler,
		username:  strings.ToLower(username),
		authToken: authToken,
		channels:  make(map[string]bool),
		log:       log,
	}

	client.OnPrivateMessage(handler.OnPrivateMessage)
	client.OnConnect(handler.OnConnect)
	client.OnReconnectMessage(func(twitch.ReconnectMessage) {
		handler.OnReconnect()
	})
	client.OnSelfJoinMessage(handler.OnSelfJoinMessage)
	client.OnSelfPartMessage(handler.OnSelfPartMessage)

	return manager
}

// SetToken replaces the IRC password. It takes effect on the next
// (re)connect; an established connection stays authenticated.
func (m *Manager) SetToken(authToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if authToken == "" || authToken == m.authToken {
		return
	}
	m.authToken = authToken
	m.client.SetIRCToken(ircToken(authToken))
	m.log.Debug("IRC credentials updated")
}

// Join joins a channel for chat presence. The channel name is the
// broadcaster's login, without the # prefix.
func (m *Manager) Join(channelName string) error {
	channel := strings.ToLower(strings.TrimPrefix(channelName, "#"))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channels[channel] {
		m.log.Debug("Already in IRC", "channel", channel)
		return nil
	}

	m.channels[channel] = true
	m.client.Join(channel)
	m.log.Info("Join IRC Chat", "channel", channel)

	return nil
}

// Run connects to Twitch IRC and maintains presence. It blocks until the
// context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		err := m.client.Connect()
		if err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		m.Close()
		return ctx.Err()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			m.log.Error("IRC connection error", "error", err)
			return err
		}
		return ctx.Err()
	}
}

// Close departs every channel and disconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	for channel := range m.channels {
		m.client.Depart(channel)
	}
	m.channels = make(map[string]bool)

	if err := m.client.Disconnect(); err != nil {
		m.log.Debug("IRC disconnect", "error", err)
	}

	m.log.Info("IRC chat manager closed")
}

// JoinedChannels returns the joined channels in no particular order.
func (m *Manager) JoinedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := make([]string, 0, len(m.channels))
	for channelName := range m.channels {
		channels = append(channels, channelName)
	}
	return channels
}

func ircToken(authToken string) string {
	if strings.HasPrefix(authToken, "oauth:") {
		return authToken
	}
	return "oauth:" + authToken
}
