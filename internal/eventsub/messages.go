// Package eventsub consumes the Twitch EventSub WebSocket transport: it keeps
// one session alive, registers subscriptions once the session is welcomed,
// follows server-requested reconnects, and dispatches notifications.
package eventsub

import (
	"encoding/json"
	"time"
)

// EventSub message types sent by the server.
const (
	// TypeWelcome carries the session id subscriptions must be bound to.
	TypeWelcome = "session_welcome"
	// TypeKeepalive is sent when no event arrived within the keepalive window.
	TypeKeepalive = "session_keepalive"
	// TypeNotification carries one event.
	TypeNotification = "notification"
	// TypeReconnect asks the client to move to a new URL.
	TypeReconnect = "session_reconnect"
	// TypeRevocation reports a subscription Twitch cancelled.
	TypeRevocation = "revocation"
)

// Message is the envelope of every frame read from the socket.
type Message struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Metadata identifies a message. The subscription fields are only set on
// notification and revocation messages.
type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// SessionInfo describes the websocket session.
type SessionInfo struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	ConnectedAt             time.Time `json:"connected_at"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
	ReconnectURL            string    `json:"reconnect_url"`
}

type sessionPayload struct {
	Session SessionInfo `json:"session"`
}

// SubscriptionInfo is the subscription a notification or revocation is for.
type SubscriptionInfo struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	CreatedAt time.Time         `json:"created_at"`
}

type notificationPayload struct {
	Subscription SubscriptionInfo `json:"subscription"`
	Event        json.RawMessage  `json:"event"`
}

// Notification is one delivered event. Event is left raw so callers can
// decode it into the type matching Subscription.Type.
type Notification struct {
	MessageID    string
	Timestamp    time.Time
	Subscription SubscriptionInfo
	Event        json.RawMessage
}

// Decode unmarshals the event body into v.
func (n *Notification) Decode(v any) error {
	return json.Unmarshal(n.Event, v)
}
