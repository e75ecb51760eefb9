package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/workerpool"
)

// User is a Twitch account as returned by GET /users.
type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	Type            string    `json:"type"`
	BroadcasterType string    `json:"broadcaster_type"`
	Description     string    `json:"description"`
	ProfileImageURL string    `json:"profile_image_url"`
	OfflineImageURL string    `json:"offline_image_url"`
	Email           string    `json:"email,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Channel is a broadcaster's channel information.
type Channel struct {
	BroadcasterID        string   `json:"broadcaster_id"`
	BroadcasterLogin     string   `json:"broadcaster_login"`
	BroadcasterName      string   `json:"broadcaster_name"`
	BroadcasterLanguage  string   `json:"broadcaster_language"`
	GameID               string   `json:"game_id"`
	GameName             string   `json:"game_name"`
	Title                string   `json:"title"`
	Delay                int      `json:"delay"`
	Tags                 []string `json:"tags"`
	ClassificationLabels []string `json:"content_classification_labels"`
	IsBrandedContent     bool     `json:"is_branded_content"`
}

// Stream is a live broadcast.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	Language     string    `json:"language"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Tags         []string  `json:"tags"`
	IsMature     bool      `json:"is_mature"`
}

// Subscription names one EventSub subscription type and version.
type Subscription struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

type subscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport subscriptionTransport `json:"transport"`
}

type subscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// GetUser returns the user the access token belongs to.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	route := c.helixRoute(http.MethodGet, "users")
	return first[User](c.Request(ctx, route, nil))
}

// GetChannel returns the channel information of broadcasterID.
func (c *Client) GetChannel(ctx context.Context, broadcasterID string) (*Channel, error) {
	route := c.helixRoute(http.MethodGet, "channels")
	opts := &RequestOptions{Query: url.Values{"broadcaster_id": {broadcasterID}}}
	return first[Channel](c.Request(ctx, route, opts))
}

// GetStream returns the live stream of userID, or nil when the user is not
// streaming. Twitch answers that case either with an empty list or with
// Not Found, and both map to nil.
func (c *Client) GetStream(ctx context.Context, userID string) (*Stream, error) {
	route := c.helixRoute(http.MethodGet, "streams")
	opts := &RequestOptions{Query: url.Values{"user_id": {userID}}}

	stream, err := first[Stream](c.Request(ctx, route, opts))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return stream, err
}

// Subscribe registers every subscription for userID on the EventSub
// websocket session sessionID. Each one is submitted on its own: a refused
// subscription is reported without stopping the others. The ready event is
// dispatched once all of them have been attempted.
func (c *Client) Subscribe(ctx context.Context, userID, sessionID string, subscriptions []Subscription) error {
	err := workerpool.Run(ctx, subscriptions, c.workers, func(ctx context.Context, sub Subscription) error {
		return c.subscribe(ctx, userID, sessionID, sub)
	})
	c.dispatch.Dispatch(constants.EventReady)
	return err
}

func (c *Client) subscribe(ctx context.Context, userID, sessionID string, sub Subscription) error {
	body := subscriptionRequest{
		Type:    sub.Name,
		Version: sub.Version,
		Condition: map[string]string{
			"user_id":                userID,
			"broadcaster_user_id":    userID,
			"moderator_user_id":      userID,
			"to_broadcaster_user_id": userID,
		},
		Transport: subscriptionTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	}

	c.log.Debug("Subscribing to event", "subscription", sub.Name, "version", sub.Version)
	route := c.helixRoute(http.MethodPost, "eventsub/subscriptions")
	_, err := c.Request(ctx, route, &RequestOptions{JSON: body})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrForbidden):
		return fmt.Errorf("subscription %q is missing proper authorization: %w", sub.Name, err)
	case errors.Is(err, ErrBadRequest):
		return &SubscriptionError{Name: sub.Name, Version: sub.Version, Err: err}
	}
	return fmt.Errorf("subscribing to %q version %s: %w", sub.Name, sub.Version, err)
}

// first unwraps data[0] of a Helix list envelope. An empty list is reported
// as ErrNotFound.
func first[T any](data json.RawMessage, err error) (*T, error) {
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope[T]
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrNotFound)
	}
	return &envelope.Data[0], nil
}
