// Package models defines the domain types shared across the service:
// messages, contacts, credentials, sync state, and their enums.
package models

import "time"

// User is an account holder. PasswordHash is bcrypt and never serialized.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Contact is one row per (user, platform, contact identifier), upserted on
// every ingested message and never deleted while the user exists.
type Contact struct {
	ID                string       `db:"id" json:"id"`
	UserID            string       `db:"user_id" json:"user_id"`
	Platform          Platform     `db:"platform" json:"platform"`
	ContactIdentifier string       `db:"contact_identifier" json:"contact_identifier"`
	DisplayName       string       `db:"display_name" json:"display_name"`
	Relationship      Relationship `db:"relationship" json:"relationship"`
	IsVIP             bool         `db:"is_vip" json:"is_vip"`
	ReplyRate         float64      `db:"reply_rate" json:"reply_rate"`
	MessageCount      int          `db:"message_count" json:"message_count"`
	LastInteraction   *time.Time   `db:"last_interaction" json:"last_interaction,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// PlatformCredential holds one user's tokens for one platform. Token fields
// contain AES-256-GCM ciphertext (base64); plaintext is never persisted.
type PlatformCredential struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Platform       Platform   `db:"platform" json:"platform"`
	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   *string    `db:"refresh_token" json:"-"`
	TokenExpiry    *time.Time `db:"token_expiry" json:"token_expiry,omitempty"`
	Scopes         *string    `db:"scopes" json:"scopes,omitempty"`
	PlatformUserID *string    `db:"platform_user_id" json:"platform_user_id,omitempty"`
	WebhookID      *string    `db:"webhook_id" json:"webhook_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// SyncStatus is the lifecycle of a sync state row.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// SyncState is one row per (user, platform). status=syncing acts as a lease:
// it is held by at most one worker at a time, claimed under FOR UPDATE SKIP
// LOCKED.
type SyncState struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Platform      Platform   `db:"platform" json:"platform"`
	LastSyncAt    *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	LastHistoryID *string    `db:"last_history_id" json:"last_history_id,omitempty"`
	Status        SyncStatus `db:"status" json:"status"`
	ErrorMessage  *string    `db:"error_message" json:"error_message,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
