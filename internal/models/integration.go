package models

import "time"

// ProviderGoogleClassroom identifies the only supported classroom provider.
const ProviderGoogleClassroom = "google_classroom"

// SyncStatus is the lifecycle of an integration's sync state.
type SyncStatus string

// Possible sync statuses.
const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
	SyncStatusExpired SyncStatus = "expired"
)

// Integration links a local account to its classroom credentials.
type Integration struct {
	ID             string     `db:"id" json:"id"`
	AccountID      string     `db:"account_id" json:"account_id"`
	Provider       string     `db:"provider" json:"provider"`
	ExternalUserID *string    `db:"external_user_id" json:"external_user_id,omitempty"`
	ExternalEmail  *string    `db:"external_email" json:"external_email,omitempty"`
	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   string     `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time `db:"token_expires_at" json:"token_expires_at,omitempty"`
	SyncStatus     SyncStatus `db:"sync_status" json:"sync_status"`
	LastSyncAt     *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TokenExpired reports whether the access token must be refreshed before use.
// An unknown expiry is trusted until the provider rejects the token.
func (i *Integration) TokenExpired(now time.Time) bool {
	if i.AccessToken == "" {
		return true
	}
	return i.TokenExpiresAt != nil && !i.TokenExpiresAt.After(now)
}

// TokenUpdate carries refreshed credentials.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
