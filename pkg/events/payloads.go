package events

import (
	"time"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

// previewLength bounds the content snippet carried in new_message payloads.
const previewLength = 140

// NewMessagePayload announces a message that just landed in the feed, or a
// snoozed message resurfacing (Unsnooze true).
type NewMessagePayload struct {
	Type          string  `json:"type"` // EventTypeNewMessage
	MessageID     string  `json:"id"`
	UserID        string  `json:"user_id"`
	Platform      string  `json:"platform"`
	ThreadID      string  `json:"thread_id,omitempty"`
	SenderName    string  `json:"sender_name,omitempty"`
	Preview       string  `json:"preview,omitempty"`
	PriorityScore float64 `json:"priority_score"`
	PriorityLabel string  `json:"priority_label"`
	Unsnooze      bool    `json:"unsnooze,omitempty"`
}

// NewMessageFrom builds the announce payload for a freshly enriched message.
func NewMessageFrom(msg *models.Message) NewMessagePayload {
	preview := msg.Content
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	return NewMessagePayload{
		Type:          EventTypeNewMessage,
		MessageID:     msg.ID,
		UserID:        msg.UserID,
		Platform:      string(msg.Platform),
		ThreadID:      msg.ThreadID,
		SenderName:    msg.SenderName,
		Preview:       preview,
		PriorityScore: msg.PriorityScore,
		PriorityLabel: string(msg.PriorityLabel),
	}
}

// UnsnoozeFrom builds the resurface payload the snooze reaper publishes.
func UnsnoozeFrom(msg *models.Message) NewMessagePayload {
	return NewMessagePayload{
		Type:          EventTypeNewMessage,
		MessageID:     msg.ID,
		UserID:        msg.UserID,
		Platform:      string(msg.Platform),
		PriorityScore: msg.PriorityScore,
		PriorityLabel: string(msg.PriorityLabel),
		Unsnooze:      true,
	}
}

// PriorityUpdatedPayload announces a reclassification or score change.
type PriorityUpdatedPayload struct {
	Type          string  `json:"type"` // EventTypePriorityUpdated
	MessageID     string  `json:"id"`
	UserID        string  `json:"user_id"`
	PriorityScore float64 `json:"priority_score"`
	PriorityLabel string  `json:"priority_label"`
	PreviousLabel string  `json:"previous_label,omitempty"`
}

// MessageUpdatedPayload announces a read/done/snooze state change. Only the
// fields that changed are set.
type MessageUpdatedPayload struct {
	Type         string     `json:"type"` // EventTypeMessageUpdated
	MessageID    string     `json:"id"`
	UserID       string     `json:"user_id"`
	IsRead       *bool      `json:"is_read,omitempty"`
	IsDone       *bool      `json:"is_done,omitempty"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
}

// SyncStatusPayload reports sync progress for one platform.
type SyncStatusPayload struct {
	Type        string `json:"type"` // EventTypeSyncStatus
	UserID      string `json:"user_id"`
	Platform    string `json:"platform"`
	Status      string `json:"status"` // mirrors models.SyncStatus
	NewMessages int    `json:"new_messages,omitempty"`
	Error       string `json:"error,omitempty"`
}
