package helix

import (
	"context"
	"errors"
	"time"

	"github.com/Guliveer/twitchify-go/internal/constants"
	"github.com/Guliveer/twitchify-go/internal/utils"
)

// RunRefresher keeps the access token alive until ctx is cancelled. It wakes
// at most every 59 minutes and at least five minutes before the reported
// expiry, refreshes when due, then re-validates to learn the new lifetime.
//
// Failures never stop the loop. A refresh token the provider rejects is
// dropped and the loop falls back to plain re-validation every 59 minutes.
// It returns ctx.Err().
func (c *Client) RunRefresher(ctx context.Context, expiresIn int) error {
	start := c.now()

	if c.CanRefresh() {
		c.log.Debug("Access token refresh scheduled",
			"in", utils.FormatSeconds(expiresIn-constants.RefreshMargin))
	} else {
		expiresIn = constants.DefaultTokenLifetime
		c.log.Debug("Access token generation disabled, missing refresh token or client secret")
	}

	for {
		if err := c.sleep(ctx, refreshWait(expiresIn)); err != nil {
			return err
		}

		elapsed := int(c.now().Sub(start) / time.Second)
		if elapsed >= expiresIn-constants.RefreshMargin && c.CanRefresh() {
			start = c.now()
			if _, err := c.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, ErrBadRequest) {
					c.disableRefresh()
					expiresIn = constants.DefaultTokenLifetime
					continue
				}
				c.log.Warn("Scheduled token refresh failed", "error", err)
			} else {
				c.log.Debug("Next access token refresh scheduled",
					"in", utils.FormatSeconds(expiresIn-constants.RefreshMargin))
			}
		}

		validation, err := c.Validate(ctx, false)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrBadRequest) {
				c.disableRefresh()
				expiresIn = constants.DefaultTokenLifetime
				continue
			}
			c.log.Warn("Scheduled token validation failed", "error", err)
			continue
		}

		if c.CanRefresh() {
			expiresIn = validation.ExpiresIn
		} else {
			expiresIn = constants.DefaultTokenLifetime
		}
	}
}

func (c *Client) disableRefresh() {
	c.log.Warn("Invalid refresh token, automatic token generation has been disabled")
	c.setRefreshToken("")
}

// refreshWait is min(expiresIn-300, 3540) seconds, floored so a tiny
// lifetime cannot spin the loop.
func refreshWait(expiresIn int) time.Duration {
	wait := min(expiresIn-constants.RefreshMargin, constants.MaxRefreshWait)
	d := time.Duration(wait) * time.Second
	if d < constants.MinRefreshWait {
		d = constants.MinRefreshWait
	}
	return d
}
