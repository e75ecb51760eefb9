// Package helix is the HTTP and token-lifecycle core of the library. It owns
// the shared authenticated session, sends requests through a retrying
// pipeline, keeps the access token fresh, and exposes the handful of Helix
// endpoints the client needs.
package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// Dispatcher receives fire-and-forget notifications (code, auth,
// refresh_token, ready). Implementations must not block.
type Dispatcher interface {
	Dispatch(event string, args ...any)
}

// DispatchFunc adapts a plain function to Dispatcher.
type DispatchFunc func(event string, args ...any)

// Dispatch calls f.
func (f DispatchFunc) Dispatch(event string, args ...any) { f(event, args...) }

// Options configures a Client. ClientID is required.
type Options struct {
	ClientID     string
	ClientSecret string
	Dispatcher   Dispatcher
	Logger       *logger.Logger

	// BaseURL and IdentityURL default to the public Twitch endpoints.
	BaseURL     string
	IdentityURL string

	// SubscribeWorkers bounds concurrent subscription submissions.
	SubscribeWorkers int
}

// Client owns the single shared session and the credentials behind it.
// It is safe for concurrent use.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	identityURL  string
	workers      int

	dispatch Dispatcher
	log      *logger.Logger
	pipeline *Pipeline

	// sessionMu serializes open and close.
	sessionMu sync.Mutex
	session   atomic.Pointer[Session]

	// refreshMu is only ever try-locked: a busy refresh is skipped, not awaited.
	refreshMu sync.Mutex

	credMu       sync.RWMutex
	refreshToken string
	inflight     chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. No session is opened until Open or OpenSession.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	dispatch := opts.Dispatcher
	if dispatch == nil {
		dispatch = DispatchFunc(func(string, ...any) {})
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = constants.HelixURL
	}
	identityURL := opts.IdentityURL
	if identityURL == "" {
		identityURL = constants.IdentityURL
	}
	workers := opts.SubscribeWorkers
	if workers <= 0 {
		workers = constants.DefaultSubscribeWorkers
	}

	return &Client{
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		baseURL:      baseURL,
		identityURL:  identityURL,
		workers:      workers,
		dispatch:     dispatch,
		log:          log,
		pipeline:     NewPipeline(log),
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// IsOpen reports whether a live session exists.
func (c *Client) IsOpen() bool {
	s := c.session.Load()
	return s != nil && !s.Closed()
}

// Session returns the current session, or nil when none is open.
func (c *Client) Session() *Session {
	return c.session.Load()
}

// Open creates the shared session for accessToken. It does nothing when a
// session is already open.
func (c *Client) Open(accessToken string) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.IsOpen() {
		return
	}

	header := http.Header{}
	header.Set("Client-ID", c.clientID)
	header.Set("Authorization", "Bearer "+accessToken)
	header.Set("Content-Type", "application/json")

	c.session.Store(NewSession(header, 0))
	c.log.Debug("New HTTP session has been created")
}

// Close closes and discards the session. It reports whether the client is
// now closed and may be called any number of times.
func (c *Client) Close() bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if s := c.session.Load(); s != nil && !s.Closed() {
		s.Close()
		c.session.Store(nil)
		c.log.Debug("HTTP session has been closed")
	}
	return !c.IsOpen()
}

// OpenSession opens the session, remembers refreshToken, and validates the
// access token, refreshing it first if it is already expired. A token that
// reports no expiry keeps working forever and its refresh token is dropped.
func (c *Client) OpenSession(ctx context.Context, accessToken, refreshToken string) (*Validation, error) {
	c.Open(accessToken)
	c.setRefreshToken(refreshToken)

	validation, err := c.Validate(ctx, true)
	if err != nil {
		return nil, err
	}

	if validation.ExpiresIn == 0 {
		c.log.Debug("Legacy application detected, access token is exempt from expiration")
		if c.RefreshToken() != "" {
			c.log.Warn("Refresh token removed because the access token reports an expiry of 0")
			c.setRefreshToken("")
		}
	}

	return validation, nil
}

// AccessToken returns the bearer token currently sent by the session.
func (c *Client) AccessToken() string {
	s := c.session.Load()
	if s == nil {
		return ""
	}
	const prefix = "Bearer "
	auth := s.Header().Get("Authorization")
	if len(auth) > len(prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// ConnectWebsocket dials url over the session's connection pool with the
// session's credentials. The handshake is bounded by a fixed timeout; once
// connected, closing and reconnecting is up to the caller.
func (c *Client) ConnectWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	s := c.session.Load()
	if s == nil || s.Closed() {
		return nil, ErrSessionClosed
	}

	header := s.Header()
	header.Set("User-Agent", constants.UserAgent)

	dialCtx, cancel := context.WithTimeout(ctx, constants.WebsocketHandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPClient: s.HTTPClient(),
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return conn, nil
}

// Request sends route through the pipeline. An Unauthorized answer triggers
// one validate-and-refresh; if that works the request is sent once more,
// otherwise the first Unauthorized error is returned.
func (c *Client) Request(ctx context.Context, route Route, opts *RequestOptions) (json.RawMessage, error) {
	c.log.Debug("Sending request", "route", route)

	data, err := c.pipeline.Execute(ctx, c.session.Load(), route, opts)
	if !errors.Is(err, ErrUnauthorized) {
		return data, err
	}

	c.log.Error("Unauthorized request, validating access token", "route", route)
	if _, verr := c.Validate(ctx, true); verr != nil {
		if errors.Is(verr, ErrUnauthorized) || errors.Is(verr, ErrBadRequest) {
			return nil, err
		}
		return nil, verr
	}

	return c.pipeline.Execute(ctx, c.session.Load(), route, opts)
}

// RefreshToken returns the refresh token in use, if any.
func (c *Client) RefreshToken() string {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.refreshToken
}

// CanRefresh reports whether both a refresh token and a client secret are set.
func (c *Client) CanRefresh() bool {
	return c.RefreshToken() != "" && c.clientSecret != ""
}

func (c *Client) setRefreshToken(token string) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	c.refreshToken = token
}

func (c *Client) helixRoute(method, path string) Route {
	return NewRoute(method, c.baseURL, path)
}

func (c *Client) identityRoute(method, path string) Route {
	return NewRoute(method, c.identityURL, path)
}
