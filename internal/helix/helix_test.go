package helix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// fakeTwitch serves the identity and Helix endpoints the client talks to.
// Only the bearer token in token is accepted.
type fakeTwitch struct {
	mu sync.Mutex

	token        string
	expiresIn    int
	newToken     string
	newRefresh   string
	refreshCode  int
	refreshGate  chan struct{}
	refreshEnter chan struct{}

	subscribeCode map[string]int
	subscribed    []string
	streamCode    int
	streamBody    string

	hits map[string]int
}

func newFakeTwitch() *fakeTwitch {
	return &fakeTwitch{
		token:      "access-1",
		expiresIn:  14400,
		newToken:   "access-2",
		newRefresh: "refresh-2",
		hits:       make(map[string]int),
	}
}

func (f *fakeTwitch) hit(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeTwitch) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.token
}

func (f *fakeTwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	switch r.URL.Path {
	case "/oauth2/validate":
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, `{"status":401,"message":"invalid access token"}`)
			return
		}
		f.mu.Lock()
		body := fmt.Sprintf(`{"client_id":"cid","login":"snifo","user_id":"42","scopes":[],"expires_in":%d}`, f.expiresIn)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, body)

	case "/oauth2/token":
		if f.refreshEnter != nil {
			f.refreshEnter <- struct{}{}
		}
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
			writeJSON(w, http.StatusBadRequest, `{"status":400,"message":"missing grant"}`)
			return
		}
		if f.refreshCode != 0 {
			writeJSON(w, f.refreshCode, `{"status":400,"message":"Invalid refresh token"}`)
			return
		}
		f.mu.Lock()
		f.token = f.newToken
		body := fmt.Sprintf(`{"access_token":%q,"refresh_token":%q,"expires_in":14400,"scope":[],"token_type":"bearer"}`,
			f.newToken, f.newRefresh)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, body)

	case "/helix/users":
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, `{"status":401,"message":"invalid oauth token"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":[{"id":"42","login":"snifo","display_name":"Snifo"}]}`)

	case "/helix/channels":
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"data":[{"broadcaster_id":%q,"title":"hello"}]}`,
			r.URL.Query().Get("broadcaster_id")))

	case "/helix/streams":
		if f.streamCode != 0 {
			writeJSON(w, f.streamCode, `{"status":404,"message":"not found"}`)
			return
		}
		writeJSON(w, http.StatusOK, f.streamBody)

	case "/helix/eventsub/subscriptions":
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, `{}`)
			return
		}
		f.mu.Lock()
		f.subscribed = append(f.subscribed, req.Type)
		code := f.subscribeCode[req.Type]
		f.mu.Unlock()
		if code != 0 {
			writeJSON(w, code, `{"status":400,"message":"invalid subscription"}`)
			return
		}
		writeJSON(w, http.StatusAccepted, `{"data":[{"id":"sub","status":"enabled"}]}`)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type recorder struct {
	mu     sync.Mutex
	events []string
	args   [][]any
}

func (r *recorder) Dispatch(event string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.args = append(r.args, args)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestClient(t *testing.T, h http.Handler, secret string) (*Client, *recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	rec := &recorder{}
	c := NewClient(Options{
		ClientID:     "cid",
		ClientSecret: secret,
		Dispatcher:   rec,
		BaseURL:      srv.URL + "/helix/",
		IdentityURL:  srv.URL + "/oauth2/",
	})
	c.pipeline.sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { c.Close() })
	return c, rec
}

func TestNewRoute(t *testing.T) {
	require.Equal(t, "https://api.twitch.tv/helix/users",
		NewRoute(http.MethodGet, "https://api.twitch.tv/helix/", "/users").URL)
	require.Equal(t, "https://api.twitch.tv/helix/users",
		NewRoute(http.MethodGet, "https://api.twitch.tv/helix", "users").URL)
	require.Equal(t, "POST https://id.twitch.tv/oauth2/token",
		AbsoluteRoute(http.MethodPost, "https://id.twitch.tv/oauth2/token").String())
}

func TestPipelineClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var status int
		_, _ = fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/"), "%d", &status)
		writeJSON(w, status, `{"status":0,"message":"boom"}`)
	}))
	defer srv.Close()

	p := NewPipeline(logger.Nop())
	session := NewSession(http.Header{}, 0)
	defer session.Close()

	for _, status := range []int{200, 202} {
		data, err := p.Execute(context.Background(), session, NewRoute(http.MethodGet, srv.URL, fmt.Sprint(status)), nil)
		require.NoError(t, err)
		require.JSONEq(t, `{"status":0,"message":"boom"}`, string(data))
	}

	cases := map[int]error{
		400: ErrBadRequest,
		401: ErrUnauthorized,
		403: ErrForbidden,
		404: ErrNotFound,
		500: ErrServer,
		503: ErrServer,
		599: ErrServer,
		204: ErrUnknown,
		418: ErrUnknown,
		429: ErrUnknown,
	}
	for status, kind := range cases {
		_, err := p.Execute(context.Background(), session, NewRoute(http.MethodGet, srv.URL, fmt.Sprint(status)), nil)
		require.ErrorIs(t, err, kind, "status %d", status)

		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, status, se.Status)
		if status != 204 {
			require.Equal(t, "boom", se.Message)
		}
	}
}

func TestPipelineRetriesTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	var waits []time.Duration
	p := NewPipeline(logger.Nop())
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	session := NewSession(http.Header{}, 0)
	_, err := p.Execute(context.Background(), session, NewRoute(http.MethodGet, addr, "users"), nil)

	require.ErrorIs(t, err, ErrHTTP)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, waits)
}

func TestPipelineDoesNotRetryMalformedRequests(t *testing.T) {
	var waits []time.Duration
	p := NewPipeline(logger.Nop())
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	session := NewSession(http.Header{}, 0)
	defer session.Close()

	_, err := p.Execute(context.Background(), session, NewRoute("BAD METHOD", "http://127.0.0.1:1", "users"), nil)
	require.ErrorContains(t, err, "creating request for")
	require.NotErrorIs(t, err, ErrHTTP)

	_, err = p.Execute(context.Background(), session, Route{Method: http.MethodGet, URL: "http://[::1"},
		&RequestOptions{Query: url.Values{"id": {"42"}}})
	require.ErrorContains(t, err, "parsing url")
	require.NotErrorIs(t, err, ErrHTTP)

	require.Empty(t, waits)
}

func TestPipelineDoesNotRetryStatusFailures(t *testing.T) {
	fake := newFakeTwitch()
	fake.streamCode = http.StatusInternalServerError
	c, _ := newTestClient(t, fake, "")
	c.Open("access-1")

	_, err := c.GetStream(context.Background(), "42")
	require.ErrorIs(t, err, ErrServer)
	require.Equal(t, 1, fake.hit("/helix/streams"))
}

func TestPipelineRequiresOpenSession(t *testing.T) {
	c, _ := newTestClient(t, newFakeTwitch(), "")

	_, err := c.GetUser(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestOpenAndCloseAreIdempotent(t *testing.T) {
	c, _ := newTestClient(t, newFakeTwitch(), "")

	c.Open("access-1")
	first := c.Session()
	require.True(t, c.IsOpen())

	c.Open("something-else")
	require.Same(t, first, c.Session())
	require.Same(t, first.HTTPClient(), c.Session().HTTPClient())
	require.Equal(t, "access-1", c.AccessToken())

	require.True(t, c.Close())
	require.True(t, c.Close())
	require.False(t, c.IsOpen())
	require.True(t, first.Closed())

	c.Open("access-1")
	require.NotSame(t, first, c.Session())
}

func TestOpenSessionSetsHeaders(t *testing.T) {
	c, _ := newTestClient(t, newFakeTwitch(), "secret")

	validation, err := c.OpenSession(context.Background(), "access-1", "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "42", validation.UserID)
	require.Equal(t, 14400, validation.ExpiresIn)
	require.Equal(t, "refresh-1", c.RefreshToken())

	header := c.Session().Header()
	require.Equal(t, "cid", header.Get("Client-ID"))
	require.Equal(t, "Bearer access-1", header.Get("Authorization"))
	require.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestOpenSessionDropsRefreshTokenForLegacyTokens(t *testing.T) {
	fake := newFakeTwitch()
	fake.expiresIn = 0
	c, _ := newTestClient(t, fake, "secret")

	validation, err := c.OpenSession(context.Background(), "access-1", "refresh-1")
	require.NoError(t, err)
	require.Zero(t, validation.ExpiresIn)
	require.Empty(t, c.RefreshToken())
	require.False(t, c.CanRefresh())

	pair, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Nil(t, pair)
	require.Zero(t, fake.hit("/oauth2/token"))
}

func TestOpenSessionRefreshesExpiredToken(t *testing.T) {
	fake := newFakeTwitch()
	c, rec := newTestClient(t, fake, "secret")

	_, err := c.OpenSession(context.Background(), "stale", "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", c.AccessToken())
	require.Equal(t, "refresh-2", c.RefreshToken())
	require.Equal(t, []string{"refresh_token"}, rec.names())
	require.Equal(t, 2, fake.hit("/oauth2/validate"))
}

func TestValidateWithoutGenerateDoesNotRefresh(t *testing.T) {
	fake := newFakeTwitch()
	c, _ := newTestClient(t, fake, "secret")
	c.Open("stale")
	c.setRefreshToken("refresh-1")

	_, err := c.Validate(context.Background(), false)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, fake.hit("/oauth2/token"))
}

func TestRequestRecoversFromUnauthorized(t *testing.T) {
	fake := newFakeTwitch()
	c, rec := newTestClient(t, fake, "secret")
	c.Open("stale")
	c.setRefreshToken("refresh-1")

	user, err := c.GetUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "snifo", user.Login)
	require.Equal(t, 2, fake.hit("/helix/users"))
	require.Equal(t, 1, fake.hit("/oauth2/token"))
	require.Equal(t, []string{"refresh_token"}, rec.names())
	require.Equal(t, []any{"access-2", "refresh-2"}, rec.args[0])
}

func TestRequestReturnsUnauthorizedWhenRefreshFails(t *testing.T) {
	fake := newFakeTwitch()
	fake.refreshCode = http.StatusBadRequest
	c, rec := newTestClient(t, fake, "secret")
	c.Open("stale")
	c.setRefreshToken("refresh-1")

	_, err := c.GetUser(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Contains(t, se.Route.URL, "/helix/users")
	require.Equal(t, 1, fake.hit("/helix/users"))
	require.Empty(t, rec.names())

	_, err = c.Validate(context.Background(), true)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, "invalid refresh token or client secret", ErrorMessage(err))
}

func TestRequestWithoutRefreshCredentials(t *testing.T) {
	fake := newFakeTwitch()
	c, _ := newTestClient(t, fake, "")
	c.Open("stale")
	c.setRefreshToken("refresh-1")

	_, err := c.GetUser(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, fake.hit("/oauth2/token"))
}

func TestConcurrentRefreshExchangesOnce(t *testing.T) {
	fake := newFakeTwitch()
	fake.refreshGate = make(chan struct{})
	fake.refreshEnter = make(chan struct{}, 2)
	c, _ := newTestClient(t, fake, "secret")
	c.Open("stale")
	c.setRefreshToken("refresh-1")

	background := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		background <- err
	}()
	<-fake.refreshEnter

	inline := make(chan error, 1)
	go func() {
		_, err := c.GetUser(context.Background())
		inline <- err
	}()

	require.Eventually(t, func() bool {
		return fake.hit("/oauth2/validate") >= 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fake.refreshGate)

	require.NoError(t, <-background)
	require.NoError(t, <-inline)
	require.Equal(t, 1, fake.hit("/oauth2/token"))
	require.Equal(t, "access-2", c.AccessToken())
}

func TestGetChannel(t *testing.T) {
	c, _ := newTestClient(t, newFakeTwitch(), "")
	c.Open("access-1")

	channel, err := c.GetChannel(context.Background(), "1234")
	require.NoError(t, err)
	require.Equal(t, "1234", channel.BroadcasterID)
	require.Equal(t, "hello", channel.Title)
}

func TestGetStream(t *testing.T) {
	t.Run("live", func(t *testing.T) {
		fake := newFakeTwitch()
		fake.streamBody = `{"data":[{"id":"9","user_id":"42","type":"live","viewer_count":7}]}`
		c, _ := newTestClient(t, fake, "")
		c.Open("access-1")

		stream, err := c.GetStream(context.Background(), "42")
		require.NoError(t, err)
		require.Equal(t, 7, stream.ViewerCount)
	})

	t.Run("offline", func(t *testing.T) {
		fake := newFakeTwitch()
		fake.streamBody = `{"data":[]}`
		c, _ := newTestClient(t, fake, "")
		c.Open("access-1")

		stream, err := c.GetStream(context.Background(), "42")
		require.NoError(t, err)
		require.Nil(t, stream)
	})

	t.Run("not found", func(t *testing.T) {
		fake := newFakeTwitch()
		fake.streamCode = http.StatusNotFound
		c, _ := newTestClient(t, fake, "")
		c.Open("access-1")

		stream, err := c.GetStream(context.Background(), "42")
		require.NoError(t, err)
		require.Nil(t, stream)
	})
}

func TestSubscribeKeepsGoingAfterRejection(t *testing.T) {
	fake := newFakeTwitch()
	fake.subscribeCode = map[string]int{"channel.update": http.StatusBadRequest}
	c, rec := newTestClient(t, fake, "")
	c.Open("access-1")

	err := c.Subscribe(context.Background(), "42", "session-1", []Subscription{
		{Name: "channel.follow", Version: "2"},
		{Name: "channel.update", Version: "2"},
		{Name: "stream.online", Version: "1"},
	})

	require.Equal(t, []string{"channel.follow", "channel.update", "stream.online"}, fake.subscribed)

	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	require.Len(t, joined.Unwrap(), 1)

	var subErr *SubscriptionError
	require.ErrorAs(t, err, &subErr)
	require.Equal(t, "channel.update", subErr.Name)
	require.Equal(t, "2", subErr.Version)
	require.ErrorIs(t, err, ErrBadRequest)

	require.Equal(t, []string{"ready"}, rec.names())
}

func TestSubscribeForbidden(t *testing.T) {
	fake := newFakeTwitch()
	fake.subscribeCode = map[string]int{"channel.follow": http.StatusForbidden}
	c, rec := newTestClient(t, fake, "")
	c.Open("access-1")

	err := c.Subscribe(context.Background(), "42", "session-1", []Subscription{
		{Name: "channel.follow", Version: "2"},
		{Name: "stream.online", Version: "1"},
	})

	require.ErrorIs(t, err, ErrForbidden)
	require.Contains(t, err.Error(), `subscription "channel.follow" is missing proper authorization`)
	require.Len(t, fake.subscribed, 2)
	require.Equal(t, []string{"ready"}, rec.names())
}

func TestConnectWebsocket(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"hello":true}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, newFakeTwitch(), "")
	_, err := c.ConnectWebsocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.ErrorIs(t, err, ErrSessionClosed)

	c.Open("access-1")
	conn, err := c.ConnectWebsocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer conn.CloseNow()

	got := <-headers
	require.Equal(t, constants.UserAgent, got.Get("User-Agent"))
	require.Equal(t, "cid", got.Get("Client-ID"))
	require.Equal(t, "Bearer access-1", got.Get("Authorization"))
	_, data, err := conn.Read(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":true}`, string(data))
}
