// Package client wires the library together for one Twitch user: it opens
// the Helix session, keeps the token fresh, consumes EventSub, optionally
// sits in chat, persists rotated tokens and forwards events to handlers and
// push notifications.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/twitchify-go/internal/chat"
	"github.com/Guliveer/twitchify-go/internal/config"
	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/eventsub"
	"github.com/Guliveer/twitchify-go/internal/helix"
	"github.com/Guliveer/twitchify-go/internal/logger"
	"github.com/Guliveer/twitchify-go/internal/notify"
	"github.com/Guliveer/twitchify-go/internal/oauth"
	"github.com/Guliveer/twitchify-go/internal/tokenstore"
)

var (
	// ErrNotStarted is returned when an operation needs a running client.
	ErrNotStarted = errors.New("client not started")
	// ErrAlreadyStarted is returned by Start while the client is running.
	ErrAlreadyStarted = errors.New("client already started")
)

// endpoints overrides the public Twitch URLs.
type endpoints struct {
	helix    string
	identity string
	eventsub string
}

// Client is the owning client for one authenticated user.
type Client struct {
	cfg      *config.Config
	log      *logger.Logger
	urls     endpoints
	events   *Dispatcher
	helix    *helix.Client
	store    *tokenstore.Store
	notifier *notify.Dispatcher
	subs     []helix.Subscription

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	user     *helix.User
	chat     *chat.Manager
	consumer *eventsub.Consumer
	since    time.Time
}

// Status is a snapshot of the client state.
type Status struct {
	Running        bool
	User           *helix.User
	SessionID      string
	Subscriptions  []string
	ChatChannels   []string
	RefreshEnabled bool
	StartedAt      time.Time
}

// New creates a Client from a validated configuration.
func New(cfg *config.Config, log *logger.Logger) (*Client, error) {
	return newClient(cfg, log, endpoints{})
}

func newClient(cfg *config.Config, log *logger.Logger, urls endpoints) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	subs, err := eventsub.Resolve(cfg.Subscriptions)
	if err != nil {
		return nil, fmt.Errorf("resolving subscriptions: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{
		cfg:    cfg,
		log:    log,
		urls:   urls,
		events: newDispatcher(log),
		subs:   subs,
	}
	if cfg.TokenFile != "" {
		c.store = tokenstore.New(cfg.TokenFile)
	}

	c.notifier = notify.NewDispatcher(cfg.Notifications, log)
	if c.notifier.HasNotifiers() {
		log.SetNotifyFunc(c.notifier.NotifyFunc())
	}

	c.helix = helix.NewClient(helix.Options{
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		Dispatcher:       c.events,
		Logger:           log,
		BaseURL:          urls.helix,
		IdentityURL:      urls.identity,
		SubscribeWorkers: cfg.SubscribeWorkers,
	})

	c.events.hook(constants.EventCode, c.onCode)
	c.events.hook(constants.EventAuth, c.onTokens)
	c.events.hook(constants.EventRefreshToken, c.onTokens)
	c.events.hook(constants.EventReady, c.onReady)

	return c, nil
}

// On registers a handler for event. See Handler for the event arguments.
func (c *Client) On(event string, h Handler) {
	c.events.On(event, h)
}

// Helix returns the underlying Helix client for direct API calls.
func (c *Client) Helix() *helix.Client {
	return c.helix
}

// User returns the authenticated user once Start has validated the token.
func (c *Client) User() (*helix.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil, ErrNotStarted
	}
	return c.user, nil
}

// Status reports whether the client is running, who it is signed in as and
// which EventSub session it is attached to.
func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		Running:   c.cancel != nil && c.user != nil,
		User:      c.user,
		StartedAt: c.since,
	}
	consumer, chatManager := c.consumer, c.chat
	c.mu.Unlock()

	if consumer != nil {
		st.SessionID = consumer.SessionID()
	}
	if chatManager != nil {
		st.ChatChannels = chatManager.JoinedChannels()
		sort.Strings(st.ChatChannels)
	}
	st.RefreshEnabled = st.Running && c.helix.CanRefresh()
	st.Subscriptions = make([]string, 0, len(c.subs))
	for _, sub := range c.subs {
		st.Subscriptions = append(st.Subscriptions, sub.Name)
	}
	return st
}

// Login runs the device authorization flow and returns the new tokens.
// They are persisted through the auth event.
func (c *Client) Login(ctx context.Context) (*helix.TokenPair, error) {
	flow := oauth.NewDeviceFlow(oauth.Options{
		ClientID:    c.cfg.ClientID,
		Scopes:      c.cfg.Scopes,
		Dispatcher:  c.events,
		Logger:      c.log,
		IdentityURL: c.urls.identity,
	})
	flow.Open()
	defer flow.Close()

	return flow.Login(ctx)
}

// Run starts the client with the best tokens available: the configuration,
// then the token file, then a fresh device login. Saved tokens that no
// longer work are discarded in favour of a new login. It blocks like Start.
func (c *Client) Run(ctx context.Context) error {
	access, refresh := c.cfg.AccessToken, c.cfg.RefreshToken
	fromStore := false

	if access == "" && c.store != nil {
		tokens, err := c.store.Load()
		switch {
		case err == nil:
			access, refresh, fromStore = tokens.AccessToken, tokens.RefreshToken, true
			c.log.Debug("Using saved tokens", "file", c.store.Path(), "login", tokens.Login)
		case !errors.Is(err, tokenstore.ErrNoTokens):
			c.log.Warn("Failed to load saved tokens", "error", err)
		}
	}

	if access == "" {
		pair, err := c.Login(ctx)
		if err != nil {
			return fmt.Errorf("device login: %w", err)
		}
		access, refresh = pair.AccessToken, pair.RefreshToken
	}

	err := c.Start(ctx, access, refresh)
	if fromStore && errors.Is(err, helix.ErrUnauthorized) {
		c.log.Warn("Saved tokens were rejected, starting a new device login")
		if err := c.store.Clear(); err != nil {
			c.log.Warn("Failed to clear saved tokens", "error", err)
		}
		pair, err := c.Login(ctx)
		if err != nil {
			return fmt.Errorf("device login: %w", err)
		}
		return c.Start(ctx, pair.AccessToken, pair.RefreshToken)
	}
	return err
}

// Start opens the session with the given tokens, subscribes to EventSub and
// blocks until ctx is cancelled or Close is called. Background failures
// that cannot be recovered are returned; a normal shutdown returns nil.
func (c *Client) Start(ctx context.Context, accessToken, refreshToken string) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.started, c.cancel, c.done = true, cancel, done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.helix.Close()
		c.events.wait()

		c.mu.Lock()
		c.cancel, c.user, c.chat, c.consumer = nil, nil, nil, nil
		c.mu.Unlock()
		close(done)
	}()

	c.events.setContext(ctx)
	startTime := time.Now()

	validation, err := c.helix.OpenSession(ctx, accessToken, refreshToken)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	user, err := c.helix.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("fetching user: %w", err)
	}
	log := c.log.WithAccount(user.Login)
	log.Info("🔑 Logged in successfully", "login", user.Login)
	c.saveSession(user)

	consumer := eventsub.NewConsumer(c.helix, eventsub.Options{
		URL:           c.urls.eventsub,
		UserID:        user.ID,
		Subscriptions: c.subs,
		Dispatcher:    c.events,
		Logger:        log,
	})

	var chatManager *chat.Manager
	if c.cfg.Chat.Enabled {
		chatManager = chat.NewManager(user.Login, c.helix.AccessToken(), c.events, log)
		for _, channel := range c.cfg.Chat.Channels {
			if err := chatManager.Join(channel); err != nil {
				log.Warn("Failed to join chat", "channel", channel, "error", err)
			}
		}
	}

	c.mu.Lock()
	c.user, c.chat, c.consumer, c.since = user, chatManager, consumer, startTime
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.helix.RunRefresher(gctx, validation.ExpiresIn)
	})

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	if chatManager != nil {
		g.Go(func() error {
			return chatManager.Run(gctx)
		})
	}

	log.Info("🚀 Client started",
		"login", user.Login,
		"subscriptions", len(c.subs),
		"startup_duration", time.Since(startTime).Round(time.Millisecond),
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops a running client and waits for Start to return. It returns
// ErrNotStarted when Start was never called.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done, started := c.cancel, c.done, c.started
	c.mu.Unlock()

	if !started {
		return ErrNotStarted
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (c *Client) onCode(args ...any) {
	code, _ := argString(args, 0)
	c.log.Event(context.Background(), constants.EventCode, "Enter the code to authorize",
		"user_code", code, "url", constants.ActivateURL+"?device-code="+code)
}

func (c *Client) onTokens(args ...any) {
	access, _ := argString(args, 0)
	refresh, _ := argString(args, 1)

	c.mu.Lock()
	chatManager := c.chat
	c.mu.Unlock()
	if chatManager != nil {
		chatManager.SetToken(access)
	}

	if c.store == nil {
		return
	}
	err := c.store.Update(func(t *tokenstore.Tokens) {
		t.AccessToken = access
		t.RefreshToken = refresh
	})
	if err != nil {
		c.log.Warn("Failed to save tokens", "file", c.store.Path(), "error", err)
		return
	}
	c.log.Debug("Tokens saved", "file", c.store.Path())
}

// saveSession records the validated tokens and who they belong to.
func (c *Client) saveSession(user *helix.User) {
	if c.store == nil {
		return
	}
	err := c.store.Update(func(t *tokenstore.Tokens) {
		t.AccessToken = c.helix.AccessToken()
		t.RefreshToken = c.helix.RefreshToken()
		t.Login = user.Login
		t.UserID = user.ID
	})
	if err != nil {
		c.log.Warn("Failed to save tokens", "file", c.store.Path(), "error", err)
	}
}

func (c *Client) onReady(...any) {
	c.log.Event(context.Background(), constants.EventReady, "EventSub subscriptions registered",
		"subscriptions", len(c.subs))
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}
