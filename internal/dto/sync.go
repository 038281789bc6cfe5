package dto

import (
	"time"

	"github.com/noah-isme/classroom-sync/internal/models"
)

// SyncQueuedResponse is returned when a sync run is accepted for background processing.
type SyncQueuedResponse struct {
	AccountID string `json:"accountId"`
	Status    string `json:"status"`
}

// IntegrationStatusResponse summarises an account's classroom connection.
type IntegrationStatusResponse struct {
	Provider       string            `json:"provider"`
	Connected      bool              `json:"connected"`
	ExternalEmail  *string           `json:"externalEmail,omitempty"`
	SyncStatus     models.SyncStatus `json:"syncStatus"`
	LastSyncAt     *time.Time        `json:"lastSyncAt,omitempty"`
	LastError      *string           `json:"lastError,omitempty"`
	TokenExpiresAt *time.Time        `json:"tokenExpiresAt,omitempty"`
	NeedsReconnect bool              `json:"needsReconnect"`
}

// NewIntegrationStatusResponse maps an integration row to its public summary.
func NewIntegrationStatusResponse(integration *models.Integration) IntegrationStatusResponse {
	return IntegrationStatusResponse{
		Provider:       integration.Provider,
		Connected:      true,
		ExternalEmail:  integration.ExternalEmail,
		SyncStatus:     integration.SyncStatus,
		LastSyncAt:     integration.LastSyncAt,
		LastError:      integration.LastError,
		TokenExpiresAt: integration.TokenExpiresAt,
		NeedsReconnect: integration.SyncStatus == models.SyncStatusExpired,
	}
}

// DisconnectResponse reports what a disconnect removed.
type DisconnectResponse struct {
	Courses     int64 `json:"courses"`
	Enrollments int64 `json:"enrollments"`
	Assignments int64 `json:"assignments"`
}
