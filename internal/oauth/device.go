// Package oauth implements Twitch's device authorization grant: request a
// user code, wait for the user to approve it on another device, and collect
// the resulting token pair.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/helix"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

var (
	// ErrExpired means the device code ran out before the user approved it.
	// A new code must be requested.
	ErrExpired = errors.New("device code expired")
	// ErrDenied means the user refused the authorization request.
	ErrDenied = errors.New("authorization denied by user")
)

// DeviceCode is a pending authorization. It is used for one poll and then
// discarded.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// Options configures a DeviceFlow.
type Options struct {
	ClientID    string
	Scopes      []string
	Dispatcher  helix.Dispatcher
	Logger      *logger.Logger
	IdentityURL string
}

// DeviceFlow talks to the identity provider on a session of its own, since
// it runs before any access token exists.
type DeviceFlow struct {
	clientID    string
	scopes      []string
	identityURL string

	dispatch helix.Dispatcher
	log      *logger.Logger
	pipeline *helix.Pipeline

	mu      sync.Mutex
	session atomic.Pointer[helix.Session]

	// unit is the length of one "second" in provider answers.
	unit  time.Duration
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeviceFlow creates a DeviceFlow. Call Open before using it.
func NewDeviceFlow(opts Options) *DeviceFlow {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	dispatch := opts.Dispatcher
	if dispatch == nil {
		dispatch = helix.DispatchFunc(func(string, ...any) {})
	}
	identityURL := opts.IdentityURL
	if identityURL == "" {
		identityURL = constants.IdentityURL
	}

	return &DeviceFlow{
		clientID:    opts.ClientID,
		scopes:      opts.Scopes,
		identityURL: identityURL,
		dispatch:    dispatch,
		log:         log,
		pipeline:    helix.NewPipeline(log),
		unit:        time.Second,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Open creates the flow's session. It does nothing when already open.
func (f *DeviceFlow) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s := f.session.Load(); s != nil && !s.Closed() {
		return
	}
	header := http.Header{}
	header.Set("User-Agent", constants.UserAgent)
	f.session.Store(helix.NewSession(header, constants.DefaultIdentityHTTPTimeout))
}

// Close releases the flow's session. It is safe to call repeatedly.
func (f *DeviceFlow) Close() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s := f.session.Load(); s != nil {
		s.Close()
		f.session.Store(nil)
	}
	return true
}

// DeviceCode starts an authorization and dispatches the code event with the
// user code to show.
func (f *DeviceFlow) DeviceCode(ctx context.Context) (*DeviceCode, error) {
	form := url.Values{
		"client_id": {f.clientID},
		"scopes":    {strings.Join(f.scopes, " ")},
	}

	data, err := f.post(ctx, constants.DeviceCodePath, form)
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}

	var code DeviceCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}
	if code.DeviceCode == "" || code.UserCode == "" {
		return nil, fmt.Errorf("device code response missing required fields")
	}
	if code.VerificationURI == "" {
		code.VerificationURI = constants.ActivateURL + "?device-code=" + code.UserCode
	}

	f.log.Info("Device code issued",
		"verification_uri", code.VerificationURI, "user_code", code.UserCode, "expires_in", code.ExpiresIn)
	f.dispatch.Dispatch(constants.EventCode, code.UserCode)
	return &code, nil
}

// PollForAuthorization asks the token endpoint every interval seconds
// whether the user has approved deviceCode. It gives up with ErrExpired once
// expiresIn seconds have passed; neither its own waits nor a slow or failing
// token request run past that point. Transport failures and 5xx answers are
// treated like a pending authorization. On success the auth event is
// dispatched with the new tokens.
func (f *DeviceFlow) PollForAuthorization(ctx context.Context, deviceCode string, expiresIn, interval int) (*helix.TokenPair, error) {
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	deadline := f.now().Add(time.Duration(expiresIn) * f.unit)

	for {
		remaining := deadline.Sub(f.now())
		if remaining <= 0 {
			return nil, ErrExpired
		}
		if err := f.sleep(ctx, min(time.Duration(interval)*f.unit, remaining)); err != nil {
			return nil, fmt.Errorf("device code login cancelled: %w", err)
		}

		remaining = deadline.Sub(f.now())
		if remaining <= 0 {
			return nil, ErrExpired
		}
		pollCtx, cancel := context.WithTimeout(ctx, remaining)
		pair, err := f.exchange(pollCtx, deviceCode)
		expired := pollCtx.Err() != nil
		cancel()

		if err == nil {
			f.log.Info("Device authorized")
			f.dispatch.Dispatch(constants.EventAuth, pair.AccessToken, pair.RefreshToken)
			return pair, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("device code login cancelled: %w", ctx.Err())
		}
		if expired {
			return nil, ErrExpired
		}
		if errors.Is(err, helix.ErrHTTP) || errors.Is(err, helix.ErrServer) {
			f.log.Warn("Token endpoint unavailable, still polling", "error", err)
			continue
		}
		if !errors.Is(err, helix.ErrBadRequest) {
			return nil, err
		}

		switch msg := helix.ErrorMessage(err); msg {
		case "authorization_pending":
		case "slow_down":
			interval += constants.SlowDownStep
			f.log.Debug("Token endpoint requested slow down", "interval", interval)
		case "expired_token", "invalid device code":
			return nil, ErrExpired
		case "access_denied":
			return nil, ErrDenied
		default:
			return nil, fmt.Errorf("polling for token: %w", err)
		}
	}
}

// RevokeToken invalidates an access or refresh token.
func (f *DeviceFlow) RevokeToken(ctx context.Context, token string) error {
	form := url.Values{
		"client_id": {f.clientID},
		"token":     {token},
	}
	if _, err := f.post(ctx, constants.RevokePath, form); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	f.log.Debug("Token revoked")
	return nil
}

// Login runs a whole authorization: request a code, then wait for it.
func (f *DeviceFlow) Login(ctx context.Context) (*helix.TokenPair, error) {
	code, err := f.DeviceCode(ctx)
	if err != nil {
		return nil, err
	}
	return f.PollForAuthorization(ctx, code.DeviceCode, code.ExpiresIn, code.Interval)
}

func (f *DeviceFlow) exchange(ctx context.Context, deviceCode string) (*helix.TokenPair, error) {
	form := url.Values{
		"client_id":   {f.clientID},
		"scopes":      {strings.Join(f.scopes, " ")},
		"device_code": {deviceCode},
		"grant_type":  {constants.GrantDeviceCode},
	}

	data, err := f.post(ctx, constants.TokenPath, form)
	if err != nil {
		return nil, err
	}

	var pair helix.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &pair, nil
}

func (f *DeviceFlow) post(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	route := helix.NewRoute(http.MethodPost, f.identityURL, path)
	return f.pipeline.Execute(ctx, f.session.Load(), route, &helix.RequestOptions{Form: form})
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
