package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/noah-isme/classroom-sync/internal/models"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
)

const (
	defaultRefreshTimeout = 20 * time.Second
	// fallbackTokenLifetime applies when the token endpoint omits expires_in.
	fallbackTokenLifetime = time.Hour
)

type tokenStore interface {
	UpdateTokens(ctx context.Context, accountID string, update models.TokenUpdate) error
}

// TokenRefresherConfig configures the OAuth client used for refresh-token grants.
type TokenRefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// TokenRefresher exchanges stored refresh tokens for new access tokens.
type TokenRefresher struct {
	oauth      *oauth2.Config
	store      tokenStore
	httpClient *http.Client
	timeout    time.Duration
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewTokenRefresher constructs a TokenRefresher.
func NewTokenRefresher(cfg TokenRefresherConfig, store tokenStore, httpClient *http.Client, metrics *MetricsService, logger *zap.Logger) *TokenRefresher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRefreshTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenRefresher{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      store,
		httpClient: httpClient,
		timeout:    cfg.Timeout,
		metrics:    metrics,
		logger:     logger,
	}
}

// EnsureFresh refreshes the integration's access token when it has expired
// at now. It reports whether a refresh happened.
func (r *TokenRefresher) EnsureFresh(ctx context.Context, integration *models.Integration, now time.Time) (bool, error) {
	if !integration.TokenExpired(now) {
		return false, nil
	}
	if err := r.ForceRefresh(ctx, integration, now); err != nil {
		return false, err
	}
	return true, nil
}

// ForceRefresh exchanges the refresh token regardless of expiry, persists the
// result and updates integration in place.
func (r *TokenRefresher) ForceRefresh(ctx context.Context, integration *models.Integration, now time.Time) error {
	update, err := r.Refresh(ctx, integration.RefreshToken, now)
	if err != nil {
		return err
	}
	if err := r.store.UpdateTokens(ctx, integration.AccountID, *update); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refreshed token")
	}
	integration.AccessToken = update.AccessToken
	if update.RefreshToken != "" {
		integration.RefreshToken = update.RefreshToken
	}
	expiresAt := update.ExpiresAt
	integration.TokenExpiresAt = &expiresAt
	r.logger.Info("classroom token refreshed", zap.String("account_id", integration.AccountID), zap.Time("expires_at", expiresAt))
	return nil
}

// Refresh performs the refresh-token grant. A rejected refresh token yields
// ErrAuthExpired; transport failures yield ErrProviderUnavailable.
func (r *TokenRefresher) Refresh(ctx context.Context, refreshToken string, now time.Time) (*models.TokenUpdate, error) {
	if refreshToken == "" {
		r.metrics.RecordTokenRefresh("rejected")
		return nil, appErrors.Clone(appErrors.ErrAuthExpired, "no refresh token stored, reconnect required")
	}

	ctx, cancel := context.WithTimeout(context.WithValue(ctx, oauth2.HTTPClient, r.httpClient), r.timeout)
	defer cancel()

	token, err := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		mapped := classifyRefreshError(err)
		if errors.Is(mapped, appErrors.ErrAuthExpired) {
			r.metrics.RecordTokenRefresh("rejected")
		} else {
			r.metrics.RecordTokenRefresh("unavailable")
		}
		return nil, mapped
	}
	if token.AccessToken == "" {
		r.metrics.RecordTokenRefresh("unavailable")
		return nil, appErrors.Clone(appErrors.ErrProviderUnavailable, "token endpoint returned no access token")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(fallbackTokenLifetime)
	}
	r.metrics.RecordTokenRefresh("success")
	return &models.TokenUpdate{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt.UTC(),
	}, nil
}

func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return appErrors.WrapAs(appErrors.ErrAuthExpired, err)
		}
	}
	return appErrors.WrapAs(appErrors.ErrProviderUnavailable, err)
}
