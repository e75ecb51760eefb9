package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/logger"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// RequestOptions carries the optional parts of a request. At most one of
// JSON and Form is used; JSON wins when both are set.
type RequestOptions struct {
	Query url.Values
	JSON  any
	Form  url.Values
}

// Pipeline sends a single request, classifies the response, and retries
// when the transport itself fails. It holds no credentials: headers and the
// connection pool come from the Session passed to Execute.
type Pipeline struct {
	log      *logger.Logger
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a Pipeline with the default retry policy.
func NewPipeline(log *logger.Logger) *Pipeline {
	return &Pipeline{
		log:      log,
		attempts: constants.MaxRequestAttempts,
		backoff:  constants.RetryBackoffStep,
		sleep:    sleepContext,
	}
}

type rawResponse struct {
	status int
	body   []byte
}

// Execute sends route on session and returns the JSON body of a 200 or 202
// response (nil when the body is empty). Other statuses come back as a
// *StatusError. Transport failures are retried with a linear backoff and,
// once attempts run out, reported as ErrHTTP.
func (p *Pipeline) Execute(ctx context.Context, session *Session, route Route, opts *RequestOptions) (json.RawMessage, error) {
	if session == nil || session.Closed() {
		return nil, ErrSessionClosed
	}

	body, contentType, err := opts.encode()
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", route, err)
	}

	target, err := opts.resolve(route.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %s: %w", route.URL, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		req, err := newRequest(ctx, session, route.Method, target, body, contentType)
		if err != nil {
			return nil, fmt.Errorf("creating request for %s: %w", route, err)
		}

		resp, err := p.roundTrip(session, req)
		if err == nil {
			return p.classify(route, resp)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == p.attempts {
			break
		}

		wait := p.backoff * time.Duration(attempt)
		p.log.Info("Request failed, retrying",
			"route", route,
			"attempt", fmt.Sprintf("%d/%d", attempt, p.attempts),
			"backoff", wait,
			"error", err)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	p.log.Warn("Request failed after all attempts",
		"route", route, "attempts", p.attempts, "error", lastErr)
	return nil, fmt.Errorf("%w: %s: %w", ErrHTTP, route, lastErr)
}

// newRequest builds one attempt. The body reader is fresh each time so a
// retry resends the whole payload.
func newRequest(ctx context.Context, session *Session, method, target string, body []byte, contentType string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}

	req.Header = session.Header()
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (p *Pipeline) roundTrip(session *Session, req *http.Request) (*rawResponse, error) {
	resp, err := session.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &rawResponse{status: resp.StatusCode, body: data}, nil
}

func (p *Pipeline) classify(route Route, resp *rawResponse) (json.RawMessage, error) {
	var kind error
	switch {
	case resp.status == http.StatusOK || resp.status == http.StatusAccepted:
		if len(bytes.TrimSpace(resp.body)) == 0 {
			return nil, nil
		}
		if !json.Valid(resp.body) {
			return nil, fmt.Errorf("decoding response from %s: invalid JSON", route)
		}
		return resp.body, nil
	case resp.status == http.StatusBadRequest:
		kind = ErrBadRequest
		p.log.Debug("Bad request", "route", route, "body", strings.TrimSpace(string(resp.body)))
	case resp.status == http.StatusUnauthorized:
		kind = ErrUnauthorized
	case resp.status == http.StatusForbidden:
		kind = ErrForbidden
	case resp.status == http.StatusNotFound:
		kind = ErrNotFound
	case resp.status >= 500 && resp.status < 600:
		kind = ErrServer
	default:
		kind = ErrUnknown
	}
	return nil, newStatusError(kind, route, resp.status, resp.body)
}

func (o *RequestOptions) encode() ([]byte, string, error) {
	switch {
	case o == nil:
		return nil, "", nil
	case o.JSON != nil:
		data, err := json.Marshal(o.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	case o.Form != nil:
		return []byte(o.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

func (o *RequestOptions) resolve(raw string) (string, error) {
	if o == nil || len(o.Query) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, values := range o.Query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
