package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Guliveer/twitchify-go/internal/constants"
)

// Validation is the identity provider's view of an access token.
// ExpiresIn is in seconds; zero means the token never expires.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// TokenPair is a token endpoint answer, from either the refresh-token or
// the device-code grant.
type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// Validate checks the session's access token. With generate set, an
// Unauthorized answer leads to one refresh and a second validation when
// refresh credentials are available; a refresh rejected by the provider
// is reported as Unauthorized.
func (c *Client) Validate(ctx context.Context, generate bool) (*Validation, error) {
	route := c.identityRoute(http.MethodGet, constants.ValidatePath)
	refreshed := false

	for {
		data, err := c.pipeline.Execute(ctx, c.session.Load(), route, nil)
		if err == nil {
			var validation Validation
			if err := json.Unmarshal(data, &validation); err != nil {
				return nil, fmt.Errorf("decoding validation response: %w", err)
			}
			c.log.Debug("Access token successfully validated",
				"login", validation.Login, "expires_in", validation.ExpiresIn)
			return &validation, nil
		}

		if !errors.Is(err, ErrUnauthorized) || !generate || refreshed || !c.CanRefresh() {
			return nil, err
		}
		refreshed = true

		pair, err := c.Refresh(ctx)
		if err != nil {
			if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrForbidden) {
				return nil, &StatusError{
					Kind:    ErrUnauthorized,
					Route:   route,
					Status:  http.StatusUnauthorized,
					Message: "invalid refresh token or client secret",
				}
			}
			return nil, err
		}
		if pair == nil {
			if err := c.waitRefresh(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// Refresh exchanges the refresh token for a new access token and installs
// it on the session. It returns (nil, nil) without any request when refresh
// credentials are missing or another refresh is already in flight.
func (c *Client) Refresh(ctx context.Context) (*TokenPair, error) {
	if !c.CanRefresh() {
		return nil, nil
	}
	if !c.refreshMu.TryLock() {
		c.log.Debug("Token refresh already in progress, skipping")
		return nil, nil
	}
	done := c.beginRefresh()
	defer func() {
		c.endRefresh(done)
		c.refreshMu.Unlock()
	}()

	session := c.session.Load()
	form := url.Values{
		"grant_type":    {constants.GrantRefreshToken},
		"refresh_token": {c.RefreshToken()},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	c.log.Debug("Generating a new access token to replace the existing one")
	route := c.identityRoute(http.MethodPost, constants.TokenPath)
	data, err := c.pipeline.Execute(ctx, session, route, &RequestOptions{Form: form})
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	var pair TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}

	session.SetHeader("Authorization", "Bearer "+pair.AccessToken)
	if pair.RefreshToken != "" {
		c.setRefreshToken(pair.RefreshToken)
	}
	c.log.Debug("Session headers updated with the new access token")

	c.dispatch.Dispatch(constants.EventRefreshToken, pair.AccessToken, c.RefreshToken())
	return &pair, nil
}

func (c *Client) beginRefresh() chan struct{} {
	done := make(chan struct{})
	c.credMu.Lock()
	c.inflight = done
	c.credMu.Unlock()
	return done
}

func (c *Client) endRefresh(done chan struct{}) {
	c.credMu.Lock()
	c.inflight = nil
	c.credMu.Unlock()
	close(done)
}

// waitRefresh blocks until the refresh in flight, if any, has finished.
func (c *Client) waitRefresh(ctx context.Context) error {
	c.credMu.RLock()
	done := c.inflight
	c.credMu.RUnlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
