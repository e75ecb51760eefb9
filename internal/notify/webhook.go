package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
)

// Webhook sends notifications via a generic HTTP webhook.
type Webhook struct {
	filter
	url        string
	method     string
	httpClient *http.Client
}

// webhookPayload is the POST body.
type webhookPayload struct {
	Event     string    `json:"event"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Send delivers a notification via the configured webhook endpoint.
// POST sends a JSON webhookPayload; GET carries the same fields as query
// parameters.
func (w *Webhook) Send(ctx context.Context, event string, title, message string) error {
	method := strings.ToUpper(w.method)

	var req *http.Request
	var err error

	switch method {
	case http.MethodGet:
		u, parseErr := url.Parse(w.url)
		if parseErr != nil {
			return fmt.Errorf("webhook: parse url: %w", parseErr)
		}
		q := u.Query()
		q.Set("event_name", event)
		q.Set("title", title)
		q.Set("message", message)
		q.Set("timestamp", time.Now().UTC().Format(time.RFC3339))
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)

	case http.MethodPost:
		body, marshalErr := json.Marshal(webhookPayload{
			Event:     event,
			Title:     title,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
		if marshalErr != nil {
			return fmt.Errorf("webhook: marshal payload: %w", marshalErr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}

	default:
		return fmt.Errorf("webhook: unsupported method %q (use GET or POST)", method)
	}

	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}

	req.Header.Set("User-Agent", constants.UserAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	return nil
}
