// Package notify pushes selected client events (device code, authorization,
// token rotation, readiness, chat mentions) to Telegram, Discord or a
// generic webhook.
package notify

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Guliveer/twitchify-go/internal/config"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// defaultHTTPTimeout is the timeout for notification HTTP requests.
const defaultHTTPTimeout = 5 * time.Second

// defaultTitle heads every notification.
const defaultTitle = "twitchify"

// Notifier is the interface that all notification providers must implement.
type Notifier interface {
	Send(ctx context.Context, event, title, message string) error
	Name() string
	ShouldNotify(event string) bool
}

// filter holds the name and event selection shared by every provider.
type filter struct {
	name   string
	events []string
}

// Name returns the human-readable name of the notifier.
func (f *filter) Name() string { return f.name }

// ShouldNotify reports whether this notifier should fire for the given event.
func (f *filter) ShouldNotify(event string) bool {
	return slices.Contains(f.events, event)
}

// Dispatcher fans a notification out to every provider subscribed to its
// event.
type Dispatcher struct {
	notifiers []Notifier
	log       *logger.Logger
}

// NewDispatcher creates a Dispatcher with every enabled provider from cfg.
func NewDispatcher(cfg config.NotificationsConfig, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	d := &Dispatcher{log: log}

	httpClient := &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		d.notifiers = append(d.notifiers, &Telegram{
			filter:              filter{name: "Telegram", events: parseEvents(cfg.Telegram.Events)},
			apiURL:              telegramAPIURL,
			token:               cfg.Telegram.Token,
			chatID:              cfg.Telegram.ChatID,
			disableNotification: cfg.Telegram.DisableNotification,
			httpClient:          httpClient,
		})
	}

	if cfg.Discord != nil && cfg.Discord.Enabled {
		d.notifiers = append(d.notifiers, &Discord{
			filter:     filter{name: "Discord", events: parseEvents(cfg.Discord.Events)},
			webhookURL: cfg.Discord.WebhookURL,
			httpClient: httpClient,
		})
	}

	if cfg.Webhook != nil && cfg.Webhook.Enabled {
		method := cfg.Webhook.Method
		if method == "" {
			method = http.MethodPost
		}
		d.notifiers = append(d.notifiers, &Webhook{
			filter:     filter{name: "Webhook", events: parseEvents(cfg.Webhook.Events)},
			url:        cfg.Webhook.Endpoint,
			method:     method,
			httpClient: httpClient,
		})
	}

	return d
}

// Dispatch sends a notification to every matching provider, each in its own
// goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, event, title, message string) {
	for _, n := range d.notifiers {
		if !n.ShouldNotify(event) {
			continue
		}
		go func(notifier Notifier) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultHTTPTimeout)
			defer cancel()
			if err := notifier.Send(sendCtx, event, title, message); err != nil {
				d.log.Warn("notification send failed",
					"provider", notifier.Name(),
					"event", event,
					"error", err,
				)
			}
		}(n)
	}
}

// NotifyFunc returns a logger.NotifyFunc that dispatches notifications via this Dispatcher.
func (d *Dispatcher) NotifyFunc() logger.NotifyFunc {
	return func(ctx context.Context, message string, event string) {
		d.Dispatch(ctx, event, defaultTitle, message)
	}
}

// HasNotifiers reports whether any notifiers are configured.
func (d *Dispatcher) HasNotifiers() bool {
	return len(d.notifiers) > 0
}

func parseEvents(names []string) []string {
	events := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			events = append(events, name)
		}
	}
	return events
}
