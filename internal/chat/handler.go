package chat

import (
	"context"
	"strings"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/helix"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// Message is a chat line as dispatched with the chat_message event.
type Message struct {
	ID      string
	Channel string
	User    string
	Text    string
	Mention bool
}

// Handler turns IRC callbacks into dispatched events and log lines.
type Handler struct {
	username string
	dispatch helix.Dispatcher
	log      *logger.Logger
}

// NewHandler creates a Handler for the given user.
func NewHandler(username string, dispatch helix.Dispatcher, log *logger.Logger) *Handler {
	if dispatch == nil {
		dispatch = helix.DispatchFunc(func(string, ...any) {})
	}
	return &Handler{
		username: strings.ToLower(username),
		dispatch: dispatch,
		log:      log,
	}
}

// OnPrivateMessage dispatches every chat line; lines mentioning the user
// are also logged as a chat_mention event.
func (h *Handler) OnPrivateMessage(msg twitch.PrivateMessage) {
	mention := h.username != "" && strings.Contains(strings.ToLower(msg.Message), "@"+h.username)

	h.dispatch.Dispatch(constants.EventChatMessage, &Message{
		ID:      msg.ID,
		Channel: msg.Channel,
		User:    msg.User.DisplayName,
		Text:    msg.Message,
		Mention: mention,
	})

	if mention {
		h.log.Event(
			context.Background(),
			constants.EventChatMention,
			"Chat mention detected",
			"nick", msg.User.DisplayName,
			"channel", msg.Channel,
			"message", msg.Message,
		)
	}
}

// OnConnect is called when the IRC client connects to the server.
func (h *Handler) OnConnect() {
	h.log.Info("💬 Connected to Twitch IRC")
}

// OnReconnect is called when the server asks the client to reconnect.
func (h *Handler) OnReconnect() {
	h.log.Info("💬 Reconnected to Twitch IRC")
}

// OnSelfJoinMessage is called when the user joins a channel.
func (h *Handler) OnSelfJoinMessage(msg twitch.UserJoinMessage) {
	h.log.Info("💬 Joined IRC chat", "channel", msg.Channel)
}

// OnSelfPartMessage is called when the user leaves a channel.
func (h *Handler) OnSelfPartMessage(msg twitch.UserPartMessage) {
	h.log.Info("💬 Left IRC chat", "channel", msg.Channel)
}
