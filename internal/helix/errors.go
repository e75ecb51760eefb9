package helix

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response classes. Every error returned by the pipeline wraps exactly one
// of these, so callers can match with errors.Is.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrServer        = errors.New("twitch server error")
	ErrUnknown       = errors.New("unknown response status")
	ErrHTTP          = errors.New("http request failed")
	ErrSessionClosed = errors.New("http session is not open")
)

// StatusError is a non-success response from Twitch.
type StatusError struct {
	Kind    error
	Route   Route
	Status  int
	Message string
	Body    []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Kind, e.Route, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Route, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// SubscriptionError reports an EventSub subscription Twitch refused as
// malformed. Name and Version identify the subscription.
type SubscriptionError struct {
	Name    string
	Version string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %q version %s was rejected: %v", e.Name, e.Version, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// errorBody is the error envelope used by both Helix and the identity provider.
type errorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func newStatusError(kind error, route Route, status int, body []byte) *StatusError {
	se := &StatusError{Kind: kind, Route: route, Status: status, Body: body}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		se.Message = eb.Message
	}
	return se
}

// ErrorMessage returns the "message" field Twitch put in a failed response,
// or an empty string when err carries none.
func ErrorMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}
