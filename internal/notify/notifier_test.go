package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitchify-go/internal/config"
	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

type captured struct {
	method string
	path   string
	query  string
	agent  string
	body   map[string]any
}

func captureServer(t *testing.T) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, agent: r.UserAgent()}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &c.body)
		}
		got <- c
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestDiscordSend(t *testing.T) {
	srv, got := captureServer(t)
	d := &Discord{filter: filter{name: "Discord"}, webhookURL: srv.URL + "/hook", httpClient: srv.Client()}

	require.NoError(t, d.Send(context.Background(), "code", "twitchify", "Enter ABCD"))

	c := <-got
	require.Equal(t, http.MethodPost, c.method)
	embed := c.body["embeds"].([]any)[0].(map[string]any)
	require.Equal(t, "Enter ABCD", embed["description"])
	require.Equal(t, "code", embed["footer"].(map[string]any)["text"])
}

func TestTelegramSendEscapesHTML(t *testing.T) {
	srv, got := captureServer(t)
	tg := &Telegram{filter: filter{name: "Telegram"}, apiURL: srv.URL, token: "tok", chatID: "99", httpClient: srv.Client()}

	require.NoError(t, tg.Send(context.Background(), "auth", "twitchify", "a <b> & c"))

	c := <-got
	require.Equal(t, "/bottok/sendMessage", c.path)
	require.Equal(t, "99", c.body["chat_id"])
	require.Equal(t, "<b>twitchify</b>\na &lt;b&gt; &amp; c", c.body["text"])
}

func TestWebhookSend(t *testing.T) {
	srv, got := captureServer(t)

	post := &Webhook{url: srv.URL, method: "POST", httpClient: srv.Client()}
	require.NoError(t, post.Send(context.Background(), "ready", "twitchify", "subscribed"))
	c := <-got
	require.Equal(t, "ready", c.body["event"])
	require.NotEmpty(t, c.body["timestamp"])
	require.Equal(t, constants.UserAgent, c.agent)

	get := &Webhook{url: srv.URL + "/get", method: "get", httpClient: srv.Client()}
	require.NoError(t, get.Send(context.Background(), "ready", "twitchify", "subscribed"))
	c = <-got
	require.Equal(t, http.MethodGet, c.method)
	require.Contains(t, c.query, "event_name=ready")

	bad := &Webhook{url: srv.URL, method: "PUT", httpClient: srv.Client()}
	require.ErrorContains(t, bad.Send(context.Background(), "ready", "", ""), "unsupported method")
}

func TestDispatcherFiltersEvents(t *testing.T) {
	srv, got := captureServer(t)

	d := NewDispatcher(config.NotificationsConfig{
		Webhook: &config.WebhookConfig{Enabled: true, Endpoint: srv.URL, Events: []string{" Code ", "auth"}},
		Discord: &config.DiscordConfig{Enabled: false, WebhookURL: srv.URL},
	}, logger.Nop())
	require.True(t, d.HasNotifiers())

	notify := d.NotifyFunc()
	notify(context.Background(), "ignored", "refresh_token")
	notify(context.Background(), "Enter ABCD", "code")

	select {
	case c := <-got:
		require.Equal(t, "code", c.body["event"])
		require.Equal(t, "Enter ABCD", c.body["message"])
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}

	select {
	case c := <-got:
		t.Fatalf("unexpected notification %v", c.body)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherWithoutProviders(t *testing.T) {
	d := NewDispatcher(config.NotificationsConfig{}, nil)
	require.False(t, d.HasNotifiers())
	d.Dispatch(context.Background(), "code", "t", "m")
}
