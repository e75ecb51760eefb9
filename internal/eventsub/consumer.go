package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/helix"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// Backend is the part of helix.Client the consumer relies on.
type Backend interface {
	ConnectWebsocket(ctx context.Context, url string) (*websocket.Conn, error)
	Subscribe(ctx context.Context, userID, sessionID string, subscriptions []helix.Subscription) error
}

// Options configures a Consumer.
type Options struct {
	// URL defaults to the public EventSub endpoint.
	URL           string
	UserID        string
	Subscriptions []helix.Subscription
	Dispatcher    helix.Dispatcher
	Logger        *logger.Logger
}

// Consumer keeps a single EventSub websocket session alive. Notifications
// are dispatched under their subscription type with a *Notification
// argument; connect and disconnect are dispatched as the session changes.
type Consumer struct {
	backend  Backend
	url      string
	userID   string
	subs     []helix.Subscription
	dispatch helix.Dispatcher
	log      *logger.Logger

	mu            sync.Mutex
	sessionID     string
	lastMessageID string

	subscribing sync.WaitGroup

	unit              time.Duration
	grace             time.Duration
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	sleep             func(ctx context.Context, d time.Duration) error
}

// NewConsumer creates a Consumer. Nothing is dialed until Run.
func NewConsumer(backend Backend, opts Options) *Consumer {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	dispatch := opts.Dispatcher
	if dispatch == nil {
		dispatch = helix.DispatchFunc(func(string, ...any) {})
	}
	url := opts.URL
	if url == "" {
		url = constants.EventSubURL
	}

	return &Consumer{
		backend:           backend,
		url:               url,
		userID:            opts.UserID,
		subs:              opts.Subscriptions,
		dispatch:          dispatch,
		log:               log,
		unit:              time.Second,
		grace:             constants.KeepaliveGrace,
		reconnectDelay:    constants.ReconnectDelay,
		maxReconnectDelay: constants.MaxReconnectDelay,
		sleep:             sleepContext,
	}
}

// SessionID returns the id of the current session, empty while disconnected.
func (c *Consumer) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Run connects and keeps the session alive until ctx is cancelled. A dropped
// connection is redialed with a doubling backoff and its subscriptions are
// registered again; a server-requested reconnect keeps them.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.subscribing.Wait()

	target := c.url
	fresh := true
	backoff := c.reconnectDelay

	for {
		next, welcomed, err := c.runSession(ctx, target, fresh)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if welcomed {
			backoff = c.reconnectDelay
		}

		if next != "" {
			c.log.Info("EventSub reconnect requested by server")
			target, fresh = next, false
			continue
		}

		c.setSessionID("")
		c.dispatch.Dispatch(constants.EventDisconnect)
		c.log.Warn("EventSub connection lost, reconnecting",
			"error", err, "backoff", backoff.Round(time.Second))

		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, c.maxReconnectDelay)
		target, fresh = c.url, true
	}
}

// runSession reads one connection until it fails or the server sends it
// elsewhere, in which case the new URL is returned.
func (c *Consumer) runSession(ctx context.Context, url string, fresh bool) (next string, welcomed bool, err error) {
	conn, err := c.backend.ConnectWebsocket(ctx, url)
	if err != nil {
		return "", false, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(constants.MaxEventSubMessageSize)

	keepalive := constants.DefaultKeepaliveTimeout
	for {
		var msg Message
		readCtx, cancel := context.WithTimeout(ctx, keepalive+c.grace)
		err := wsjson.Read(readCtx, conn, &msg)
		timedOut := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return "", welcomed, ctx.Err()
			}
			if timedOut {
				return "", welcomed, fmt.Errorf("no message within keepalive window of %s", keepalive)
			}
			return "", welcomed, fmt.Errorf("reading eventsub message: %w", err)
		}

		switch msg.Metadata.MessageType {
		case TypeWelcome:
			var payload sessionPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return "", welcomed, fmt.Errorf("parsing welcome: %w", err)
			}
			if secs := payload.Session.KeepaliveTimeoutSeconds; secs > 0 {
				keepalive = time.Duration(secs) * c.unit
			}
			welcomed = true
			c.setSessionID(payload.Session.ID)
			c.log.Info("EventSub session established", "session", payload.Session.ID)
			c.dispatch.Dispatch(constants.EventConnect, payload.Session.ID)
			if fresh {
				c.subscribe(ctx, payload.Session.ID)
			}

		case TypeKeepalive:
			c.log.Debug("EventSub keepalive")

		case TypeNotification:
			c.handleNotification(&msg)

		case TypeReconnect:
			var payload sessionPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return "", welcomed, fmt.Errorf("parsing reconnect: %w", err)
			}
			if payload.Session.ReconnectURL == "" {
				return "", welcomed, fmt.Errorf("reconnect message without a url")
			}
			return payload.Session.ReconnectURL, welcomed, nil

		case TypeRevocation:
			var payload notificationPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				c.log.Error("Failed to parse revocation", "error", err)
				continue
			}
			c.log.Warn("Subscription revoked by Twitch",
				"subscription", payload.Subscription.Type, "status", payload.Subscription.Status)

		default:
			c.log.Debug("Ignoring unknown EventSub message", "type", msg.Metadata.MessageType)
		}
	}
}

// subscribe registers the subscriptions without blocking the read loop,
// which has to keep up with keepalives meanwhile.
func (c *Consumer) subscribe(ctx context.Context, sessionID string) {
	if len(c.subs) == 0 {
		return
	}
	c.subscribing.Add(1)
	go func() {
		defer c.subscribing.Done()
		if err := c.backend.Subscribe(ctx, c.userID, sessionID, c.subs); err != nil && ctx.Err() == nil {
			c.log.Warn("Some EventSub subscriptions failed", "error", err)
		}
	}()
}

func (c *Consumer) handleNotification(msg *Message) {
	var payload notificationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.log.Error("Failed to parse notification", "error", err)
		return
	}

	c.mu.Lock()
	if msg.Metadata.MessageID != "" && msg.Metadata.MessageID == c.lastMessageID {
		c.mu.Unlock()
		return
	}
	c.lastMessageID = msg.Metadata.MessageID
	c.mu.Unlock()

	c.log.Debug("EventSub notification", "subscription", payload.Subscription.Type)
	c.dispatch.Dispatch(payload.Subscription.Type, &Notification{
		MessageID:    msg.Metadata.MessageID,
		Timestamp:    msg.Metadata.MessageTimestamp,
		Subscription: payload.Subscription,
		Event:        payload.Event,
	})
}

func (c *Consumer) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
