package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync/internal/models"
)

// IntegrationRepository stores classroom credentials and sync status.
type IntegrationRepository struct {
	db sqlx.ExtContext
}

// NewIntegrationRepository constructs the repository.
func NewIntegrationRepository(db sqlx.ExtContext) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// FindByAccountID returns the integration for an account.
func (r *IntegrationRepository) FindByAccountID(ctx context.Context, accountID string) (*models.Integration, error) {
	const query = `SELECT id, account_id, provider, external_user_id, external_email, access_token, refresh_token,
        token_expires_at, sync_status, last_sync_at, last_error, created_at, updated_at
        FROM integrations WHERE account_id = $1`
	var integration models.Integration
	if err := sqlx.GetContext(ctx, r.db, &integration, query, accountID); err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	return &integration, nil
}

// UpdateTokens persists refreshed credentials. An empty refresh token keeps
// the stored one.
func (r *IntegrationRepository) UpdateTokens(ctx context.Context, accountID string, update models.TokenUpdate) error {
	const query = `UPDATE integrations SET access_token = $2,
        refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
        token_expires_at = $4, updated_at = $5
        WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID, update.AccessToken, update.RefreshToken, update.ExpiresAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update integration tokens: %w", err)
	}
	return nil
}

// MarkSyncing moves the integration into the syncing state.
func (r *IntegrationRepository) MarkSyncing(ctx context.Context, accountID string, at time.Time) error {
	const query = `UPDATE integrations SET sync_status = $2, last_error = NULL, updated_at = $3 WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID, models.SyncStatusSyncing, at); err != nil {
		return fmt.Errorf("mark integration syncing: %w", err)
	}
	return nil
}

// FinishSync records the terminal status of a run. A nil lastSyncAt keeps
// the previous stamp.
func (r *IntegrationRepository) FinishSync(ctx context.Context, accountID string, status models.SyncStatus, lastSyncAt *time.Time, lastError *string) error {
	const query = `UPDATE integrations SET sync_status = $2,
        last_sync_at = COALESCE($3, last_sync_at),
        last_error = $4, updated_at = $5
        WHERE account_id = $1`
	if _, err := r.db.ExecContext(ctx, query, accountID, status, lastSyncAt, lastError, time.Now().UTC()); err != nil {
		return fmt.Errorf("finish integration sync: %w", err)
	}
	return nil
}

// IdentityClaimedElsewhere reports whether another account holds a live
// integration for the same external identity.
func (r *IntegrationRepository) IdentityClaimedElsewhere(ctx context.Context, accountID, provider, externalUserID string) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM integrations
        WHERE provider = $1 AND external_user_id = $2 AND account_id <> $3 AND sync_status <> $4)`
	var claimed bool
	if err := sqlx.GetContext(ctx, r.db, &claimed, query, provider, externalUserID, accountID, models.SyncStatusExpired); err != nil {
		return false, fmt.Errorf("check integration identity: %w", err)
	}
	return claimed, nil
}
