package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/classroom-sync/internal/models"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
)

// runCredentials hands out the access token for one sync run. Expiry is
// checked before every provider batch and the token is refreshed at most once
// per run; course workers share whatever token that refresh produced.
type runCredentials struct {
	mu          sync.Mutex
	tokens      tokenSource
	integration *models.Integration
	now         func() time.Time
	refreshed   bool
}

func newRunCredentials(tokens tokenSource, integration *models.Integration, now func() time.Time) *runCredentials {
	return &runCredentials{tokens: tokens, integration: integration, now: now}
}

// AccessToken returns a token that has not expired at the current clock. A
// token that expires again after this run's refresh is rejected with
// ErrProviderAuth.
func (c *runCredentials) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.refreshed {
		if c.integration.TokenExpired(now) {
			return "", appErrors.Clone(appErrors.ErrProviderAuth, "classroom access token expired again during sync")
		}
		return c.integration.AccessToken, nil
	}
	refreshed, err := c.tokens.EnsureFresh(ctx, c.integration, now)
	if err != nil {
		return "", err
	}
	c.refreshed = refreshed
	return c.integration.AccessToken, nil
}

// ForceRefresh refreshes after the provider rejected a token, unless this run
// already refreshed once. ok is false when no refresh was attempted.
func (c *runCredentials) ForceRefresh(ctx context.Context) (token string, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshed {
		return c.integration.AccessToken, false, nil
	}
	if err := c.tokens.ForceRefresh(ctx, c.integration, c.now()); err != nil {
		return "", true, err
	}
	c.refreshed = true
	return c.integration.AccessToken, true, nil
}
